// Package policy scrubs student text before it leaves the service.
package policy

import "regexp"

type redactionRule struct {
	kind    string
	pattern *regexp.Regexp
	marker  string
}

// Credentials run before email so the userinfo of a URL is not mistaken for
// an address; card runs before phone so long digit runs are not classified
// as phone numbers.
var rules = []redactionRule{
	{"url_credentials", regexp.MustCompile(`(?i)\b([a-z][a-z0-9+.\-]*://)[^/\s:@]+:[^/\s@]+@`), "${1}[REDACTED_CREDENTIALS]@"},
	{"email", regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[REDACTED_EMAIL]"},
	{"card", regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[REDACTED_CARD]"},
	{"phone", regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), "[REDACTED_PHONE]"},
}

// Redact masks common high-risk PII patterns and reports which kinds were
// found, in rule order.
func Redact(input string) (string, []string) {
	out := input
	var kinds []string
	for _, r := range rules {
		next := r.pattern.ReplaceAllString(out, r.marker)
		if next != out {
			kinds = append(kinds, r.kind)
		}
		out = next
	}
	return out, kinds
}
