package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	providerOpenAI = "openai"
	tracerName     = "github.com/learnaware/tutor/internal/llm"
)

// OpenAIAdapter talks to any OpenAI-compatible chat completions endpoint.
type OpenAIAdapter struct {
	model       llms.Model
	modelName   string
	temperature float64
	timeout     time.Duration
	observer    Observer
}

// NewOpenAIAdapter creates a client for cfg.BaseURL (the OpenAI default when
// empty).
func NewOpenAIAdapter(cfg Config) (*OpenAIAdapter, error) {
	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithModel(cfg.Model),
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}
	return newModelAdapter(client, cfg), nil
}

func newModelAdapter(model llms.Model, cfg Config) *OpenAIAdapter {
	return &OpenAIAdapter{
		model:       model,
		modelName:   cfg.Model,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
		observer:    cfg.Observer,
	}
}

func (a *OpenAIAdapter) StreamResponse(ctx context.Context, req Request, onDelta DeltaHandler) (Response, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "llm.generate", trace.WithAttributes(
		attribute.String("llm.provider", providerOpenAI),
		attribute.String("llm.model", a.modelName),
		attribute.Int("llm.messages", len(req.Messages)),
	))
	defer span.End()

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	streamed := false
	callOpts := []llms.CallOption{llms.WithTemperature(a.temperature)}
	if onDelta != nil {
		callOpts = append(callOpts, llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			streamed = true
			return onDelta(string(chunk))
		}))
	}

	start := time.Now()
	resp, err := a.model.GenerateContent(ctx, toMessageContent(req.Messages), callOpts...)
	if err == nil && (resp == nil || len(resp.Choices) == 0) {
		err = errors.New("empty response from model")
	}
	if err != nil {
		a.observe("error", start)
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate failed")
		if errors.Is(err, context.Canceled) {
			return Response{}, err
		}
		return Response{}, fmt.Errorf("%w: %w", ErrUpstream, openai.MapError(err))
	}
	a.observe("ok", start)

	text := strings.TrimSpace(resp.Choices[0].Content)
	if onDelta != nil && !streamed && text != "" {
		if err := onDelta(text); err != nil {
			return Response{}, err
		}
	}
	return Response{Text: text, Provider: providerOpenAI}, nil
}

func (a *OpenAIAdapter) observe(outcome string, start time.Time) {
	if a.observer != nil {
		a.observer.ObserveLLMCall(providerOpenAI, outcome, time.Since(start))
	}
}

func toMessageContent(msgs []Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(msgs))
	for _, m := range msgs {
		role := llms.ChatMessageTypeHuman
		switch m.Role {
		case RoleSystem:
			role = llms.ChatMessageTypeSystem
		case RoleAssistant:
			role = llms.ChatMessageTypeAI
		}
		out = append(out, llms.MessageContent{
			Role:  role,
			Parts: []llms.ContentPart{llms.TextPart(m.Content)},
		})
	}
	return out
}
