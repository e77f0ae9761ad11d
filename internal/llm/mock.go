package llm

import (
	"context"
	"fmt"
	"strings"
)

// MockAdapter provides deterministic local replies when no provider is
// configured.
type MockAdapter struct{}

func NewMockAdapter() *MockAdapter { return &MockAdapter{} }

func (a *MockAdapter) StreamResponse(ctx context.Context, req Request, onDelta DeltaHandler) (Response, error) {
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	default:
	}

	text := buildMockReply(req)
	if onDelta != nil {
		if err := onDelta(text); err != nil {
			return Response{}, err
		}
	}
	return Response{Text: text, Provider: "mock"}, nil
}

func buildMockReply(req Request) string {
	base := strings.TrimSpace(req.LastUserText())
	if base == "" {
		return "What would you like to work on today?"
	}
	return fmt.Sprintf("I heard you: %s\nWhat do you think the first step is?", base)
}
