package llm

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/llms"

	"github.com/learnaware/tutor/internal/reliability"
)

var (
	retryBase = 500 * time.Millisecond
	retryCap  = 4 * time.Second
)

// RetryAdapter retries transient provider failures. Once a delta has been
// delivered the call is never retried, so clients never see text twice.
type RetryAdapter struct {
	inner      Adapter
	maxRetries int
	logger     zerolog.Logger
}

func NewRetryAdapter(inner Adapter, maxRetries int, logger zerolog.Logger) *RetryAdapter {
	return &RetryAdapter{inner: inner, maxRetries: maxRetries, logger: logger}
}

func (a *RetryAdapter) StreamResponse(ctx context.Context, req Request, onDelta DeltaHandler) (Response, error) {
	var (
		resp     Response
		streamed bool
		attempt  int
	)
	handler := onDelta
	if onDelta != nil {
		handler = func(delta string) error {
			streamed = true
			return onDelta(delta)
		}
	}

	err := reliability.Retry(ctx, a.maxRetries, retryBase, retryCap,
		func(err error) bool { return !streamed && isRetryable(err) },
		func(ctx context.Context) error {
			attempt++
			var err error
			resp, err = a.inner.StreamResponse(ctx, req, handler)
			if err != nil {
				a.logger.Warn().Err(err).Int("attempt", attempt).Str("session_id", req.SessionID).
					Msg("llm call failed")
			}
			return err
		})
	if err != nil {
		return Response{}, err
	}
	return resp, nil
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if llms.IsAuthenticationError(err) || llms.IsInvalidRequestError(err) ||
		llms.IsContentFilterError(err) || llms.IsTokenLimitError(err) {
		return false
	}
	if llms.IsRateLimitError(err) || llms.IsProviderUnavailableError(err) || llms.IsTimeoutError(err) {
		return true
	}
	return reliability.IsTransient(err)
}
