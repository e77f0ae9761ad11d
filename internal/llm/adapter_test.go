package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/fake"
)

func init() {
	retryBase = time.Millisecond
	retryCap = 2 * time.Millisecond
}

type scriptedAdapter struct {
	errs    []error
	deltaOn int
	calls   int
}

func (a *scriptedAdapter) StreamResponse(_ context.Context, _ Request, onDelta DeltaHandler) (Response, error) {
	a.calls++
	if a.calls == a.deltaOn && onDelta != nil {
		_ = onDelta("partial")
	}
	if a.calls <= len(a.errs) {
		return Response{}, a.errs[a.calls-1]
	}
	return Response{Text: "ok", Provider: "scripted"}, nil
}

type failingModel struct{ err error }

func (m failingModel) GenerateContent(context.Context, []llms.MessageContent, ...llms.CallOption) (*llms.ContentResponse, error) {
	return nil, m.err
}

func (m failingModel) Call(context.Context, string, ...llms.CallOption) (string, error) {
	return "", m.err
}

func TestNewAdapterAutoFallsBackToMockWithoutKey(t *testing.T) {
	a, err := NewAdapter(Config{Provider: "auto", Logger: zerolog.Nop()})
	require.NoError(t, err)

	resp, err := a.StreamResponse(context.Background(), Request{Messages: []Message{
		{Role: RoleSystem, Content: "be kind"},
		{Role: RoleUser, Content: "what is 2+2?"},
	}}, nil)
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "I heard you: what is 2+2?")
	assert.Equal(t, "mock", resp.Provider)
}

func TestNewAdapterRejectsUnknownProvider(t *testing.T) {
	_, err := NewAdapter(Config{Provider: "carrier-pigeon"})
	assert.Error(t, err)

	_, err = NewAdapter(Config{Provider: "openai"})
	assert.Error(t, err, "openai without a key must fail")
}

func TestNewAdapterOpenAIWithKey(t *testing.T) {
	a, err := NewAdapter(Config{Provider: "openai", APIKey: "k", Model: "mistral-large-latest", BaseURL: "http://127.0.0.1:1/v1"})
	require.NoError(t, err)
	_, ok := a.(*RetryAdapter)
	assert.True(t, ok)
}

func TestOpenAIAdapterEmitsWholeReplyWhenProviderDoesNotStream(t *testing.T) {
	a := newModelAdapter(fake.NewFakeLLM([]string{"  Try drawing it.  "}), Config{Model: "m"})

	var deltas []string
	resp, err := a.StreamResponse(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "help"}}},
		func(d string) error {
			deltas = append(deltas, d)
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, "Try drawing it.", resp.Text)
	assert.Equal(t, []string{"Try drawing it."}, deltas)
}

func TestOpenAIAdapterWrapsProviderErrors(t *testing.T) {
	a := newModelAdapter(failingModel{err: errors.New("429 rate limit exceeded")}, Config{Model: "m"})

	_, err := a.StreamResponse(context.Background(), Request{}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstream)
	assert.True(t, llms.IsRateLimitError(err))
}

func TestRetryAdapterRetriesTransientFailures(t *testing.T) {
	inner := &scriptedAdapter{errs: []error{errors.New("connection reset by peer")}}
	a := NewRetryAdapter(inner, 2, zerolog.Nop())

	resp, err := a.StreamResponse(context.Background(), Request{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, 2, inner.calls)
}

func TestRetryAdapterDoesNotRetryAfterDelta(t *testing.T) {
	inner := &scriptedAdapter{errs: []error{errors.New("connection reset by peer")}, deltaOn: 1}
	a := NewRetryAdapter(inner, 2, zerolog.Nop())

	_, err := a.StreamResponse(context.Background(), Request{}, func(string) error { return nil })
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}

func TestRetryAdapterDoesNotRetryPermanentFailures(t *testing.T) {
	inner := &scriptedAdapter{errs: []error{errors.New("invalid model")}}
	a := NewRetryAdapter(inner, 3, zerolog.Nop())

	_, err := a.StreamResponse(context.Background(), Request{}, nil)
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}

func TestToMessageContentMapsRoles(t *testing.T) {
	got := toMessageContent([]Message{
		{Role: RoleSystem, Content: "s"},
		{Role: RoleUser, Content: "u"},
		{Role: RoleAssistant, Content: "a"},
	})
	require.Len(t, got, 3)
	assert.Equal(t, llms.ChatMessageTypeSystem, got[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, got[1].Role)
	assert.Equal(t, llms.ChatMessageTypeAI, got[2].Role)
}

func TestMockAdapterHonorsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMockAdapter().StreamResponse(ctx, Request{}, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, strings.HasPrefix(buildMockReply(Request{}), "What would you like"))
}
