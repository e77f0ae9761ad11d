// Package health classifies database connectivity for operators.
package health

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/learnaware/tutor/internal/database"
)

// Status is the externally reported health of the database.
type Status string

const (
	StatusHealthy      Status = "healthy"
	StatusPartial      Status = "partial"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

// Report is the result of one health check.
type Report struct {
	Status             Status    `json:"status"`
	Message            string    `json:"message"`
	Error              string    `json:"error,omitempty"`
	Recoverable        *bool     `json:"recoverable,omitempty"`
	ActionNeeded       string    `json:"action_needed,omitempty"`
	Server             bool      `json:"server"`
	DatabaseAccessible bool      `json:"db_accessible"`
	LatencyMS          int64     `json:"latency_ms,omitempty"`
	CheckedAt          time.Time `json:"checked_at"`
}

// Healthy reports whether the database can serve requests.
func (r Report) Healthy() bool {
	return r.Status == StatusHealthy
}

// StatusSource supplies connection snapshots. database.Manager implements it.
type StatusSource interface {
	Status(ctx context.Context) database.Status
}

// Reporter turns connection snapshots into health reports.
type Reporter struct {
	source StatusSource
	logger zerolog.Logger
	now    func() time.Time
}

// NewReporter returns a reporter reading from source.
func NewReporter(source StatusSource, logger zerolog.Logger) *Reporter {
	return &Reporter{
		source: source,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CheckDatabase classifies the current connection. The order of the checks
// is significant: an unreachable server is reported before a refused
// database, and both before the probe result.
func (r *Reporter) CheckDatabase(ctx context.Context) Report {
	st := r.source.Status(ctx)
	report := classify(st)
	report.CheckedAt = r.now()

	ev := r.logger.Debug()
	if !report.Healthy() {
		ev = r.logger.Warn()
	}
	ev.Str("status", string(report.Status)).Str("state", string(st.State)).Msg("database health checked")
	return report
}

func classify(st database.Status) Report {
	if !st.Connected {
		return Report{
			Status:       StatusDisconnected,
			Message:      "Database connection is not established",
			Error:        st.LastError,
			ActionNeeded: "Application restart may be required",
		}
	}

	if st.AuthFailed {
		return Report{
			Status:  StatusPartial,
			Message: "Connected to database server but authentication failed",
			Error:   st.LastError,
			Server:  probeOK(st.Probe),
		}
	}
	if !st.DatabaseInitialized {
		return Report{
			Status:  StatusPartial,
			Message: "Connected to database server but the database is not accessible",
			Error:   st.LastError,
			Server:  probeOK(st.Probe),
		}
	}

	p := st.Probe
	if p == nil {
		return Report{
			Status:      StatusError,
			Message:     "Database client is not available",
			Recoverable: boolPtr(true),
		}
	}
	if p.OK {
		return Report{
			Status:             StatusHealthy,
			Message:            "Database connection is healthy",
			Server:             true,
			DatabaseAccessible: st.DatabaseInitialized,
			LatencyMS:          p.LatencyMS,
		}
	}

	switch p.Failure {
	case database.ProbeTransient:
		return Report{
			Status:      StatusError,
			Message:     fmt.Sprintf("Failed to ping database server: %s", p.Error),
			Recoverable: boolPtr(true),
		}
	case database.ProbeAuth:
		return Report{
			Status:  StatusPartial,
			Message: "Connected to database server but authentication failed",
			Error:   p.Error,
		}
	default:
		return Report{
			Status:      StatusError,
			Message:     fmt.Sprintf("Unexpected error checking database health: %s", p.Error),
			Recoverable: boolPtr(false),
		}
	}
}

func probeOK(p *database.Probe) bool {
	return p != nil && p.OK
}

func boolPtr(v bool) *bool { return &v }
