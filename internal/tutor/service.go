// Package tutor runs one chat exchange: it loads the session history, asks
// the completion provider for the next tutoring reply and persists both
// sides of the exchange.
package tutor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/learnaware/tutor/internal/conversations"
	"github.com/learnaware/tutor/internal/llm"
	"github.com/learnaware/tutor/internal/policy"
	"github.com/learnaware/tutor/internal/store"
	"github.com/learnaware/tutor/internal/users"
)

// ErrEmptyMessage is returned when a chat request carries neither text nor
// an image reference.
var ErrEmptyMessage = errors.New("message text or image reference is required")

// UserDirectory reports whether a user is registered.
type UserDirectory interface {
	Exists(ctx context.Context, email string) (bool, error)
}

// History loads and saves session transcripts.
type History interface {
	Lookup(ctx context.Context, email, sessionID string) (conversations.Conversation, bool, error)
	Save(ctx context.Context, email string, sessions []conversations.Session) (conversations.SaveResult, error)
}

// Observer receives the outcome of every chat turn.
type Observer interface {
	ObserveChatTurn(outcome string, d time.Duration)
}

// ChatRequest is one student message.
type ChatRequest struct {
	UserEmail string `json:"user_email" validate:"required,email"`
	SessionID string `json:"session_id,omitempty" validate:"max=128"`
	Message   string `json:"message" validate:"required_without=ImageRef,max=20000"`
	ImageRef  string `json:"image_ref,omitempty" validate:"max=2048"`
}

// ChatResult is the persisted outcome of a chat turn.
type ChatResult struct {
	SessionID      string                `json:"session_id"`
	ConversationID string                `json:"conversation_id"`
	TurnID         string                `json:"turn_id"`
	NewSession     bool                  `json:"new_session"`
	Provider       string                `json:"provider"`
	Reply          conversations.Message `json:"reply"`
}

// Config tunes the prompt sent to the provider.
type Config struct {
	SystemPrompt string
	HistoryLimit int
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger used for turn events.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithObserver reports every turn outcome to o.
func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

// WithClock replaces the clock used for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service runs chat turns.
type Service struct {
	users    UserDirectory
	history  History
	adapter  llm.Adapter
	cfg      Config
	logger   zerolog.Logger
	observer Observer
	now      func() time.Time
	turns    *turnTracker
}

// NewService returns a chat service. A non-positive history limit defaults
// to 20 messages.
func NewService(dir UserDirectory, history History, adapter llm.Adapter, cfg Config, opts ...Option) *Service {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}
	s := &Service{
		users:   dir,
		history: history,
		adapter: adapter,
		cfg:     cfg,
		logger:  zerolog.Nop(),
		now:     func() time.Time { return time.Now().UTC() },
		turns:   newTurnTracker(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ActiveTurns returns the turns currently waiting on the provider.
func (s *Service) ActiveTurns() []Turn {
	return s.turns.active()
}

// Chat appends the student message to the session, streams the reply through
// onDelta and persists the exchange. A blank session id starts a new session.
func (s *Service) Chat(ctx context.Context, req ChatRequest, onDelta llm.DeltaHandler) (res ChatResult, err error) {
	start := time.Now()
	defer func() { s.observe(err, time.Since(start)) }()

	email := strings.TrimSpace(req.UserEmail)
	text := strings.TrimSpace(req.Message)
	if text == "" && strings.TrimSpace(req.ImageRef) == "" {
		return ChatResult{}, ErrEmptyMessage
	}

	exists, err := s.users.Exists(ctx, email)
	if err != nil {
		return ChatResult{}, err
	}
	if !exists {
		return ChatResult{}, store.NewError(store.KindNotFound, "chat", users.CollectionName,
			"user not found with the provided email", nil)
	}

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	turn, end, err := s.turns.begin(ctx, email, sessionID)
	if err != nil {
		return ChatResult{}, err
	}
	defer end()

	logger := s.logger.With().Str("session_id", sessionID).Str("turn_id", turn.ID).Logger()

	conv, found, err := s.history.Lookup(ctx, email, sessionID)
	if err != nil {
		return ChatResult{}, err
	}
	transcript := append([]conversations.Message(nil), conv.Messages...)
	transcript = append(transcript, conversations.NewMessage(conversations.SenderUser, text, req.ImageRef, s.now()))

	resp, err := s.adapter.StreamResponse(ctx, s.buildRequest(email, sessionID, transcript, logger), onDelta)
	if err != nil {
		// The question is kept even when no reply could be produced.
		if _, saveErr := s.save(context.WithoutCancel(ctx), email, sessionID, transcript); saveErr != nil {
			logger.Warn().Err(saveErr).Msg("persist unanswered message failed")
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ChatResult{}, ctxErr
		}
		if !errors.Is(err, llm.ErrUpstream) {
			err = fmt.Errorf("%w: %w", llm.ErrUpstream, err)
		}
		return ChatResult{}, err
	}

	reply := conversations.NewMessage(conversations.SenderAssistant, strings.TrimSpace(resp.Text), "", s.now())
	transcript = append(transcript, reply)

	saved, err := s.save(ctx, email, sessionID, transcript)
	if err != nil {
		return ChatResult{}, err
	}

	logger.Debug().Str("provider", resp.Provider).Int("messages", len(transcript)).Bool("new_session", !found).
		Msg("chat turn completed")

	res = ChatResult{
		SessionID:  sessionID,
		TurnID:     turn.ID,
		NewSession: !found,
		Provider:   resp.Provider,
		Reply:      reply,
	}
	if len(saved.IDs) > 0 {
		res.ConversationID = saved.IDs[0]
	}
	return res, nil
}

func (s *Service) save(ctx context.Context, email, sessionID string, transcript []conversations.Message) (conversations.SaveResult, error) {
	return s.history.Save(ctx, email, []conversations.Session{{SessionID: sessionID, Messages: transcript}})
}

// buildRequest sends the system prompt and the most recent messages. Student
// text is scrubbed of personal data before it leaves the service.
func (s *Service) buildRequest(email, sessionID string, transcript []conversations.Message, logger zerolog.Logger) llm.Request {
	window := transcript
	if len(window) > s.cfg.HistoryLimit {
		window = window[len(window)-s.cfg.HistoryLimit:]
	}

	msgs := make([]llm.Message, 0, len(window)+1)
	if prompt := strings.TrimSpace(s.cfg.SystemPrompt); prompt != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: prompt})
	}
	for _, m := range window {
		role := llm.RoleUser
		content := m.Text
		if m.Sender == conversations.SenderAssistant {
			role = llm.RoleAssistant
		} else {
			var kinds []string
			content, kinds = policy.Redact(content)
			if len(kinds) > 0 {
				logger.Info().Strs("kinds", kinds).Str("message_id", m.ID).Msg("redacted personal data from student message")
			}
		}
		if m.ImageRef != "" {
			content = strings.TrimSpace(content + "\n[attached image: " + m.ImageRef + "]")
		}
		msgs = append(msgs, llm.Message{Role: role, Content: content})
	}
	return llm.Request{UserEmail: email, SessionID: sessionID, Messages: msgs}
}

func (s *Service) observe(err error, d time.Duration) {
	if s.observer == nil {
		return
	}
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, llm.ErrUpstream):
		outcome = "upstream_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		outcome = "canceled"
	default:
		var se *store.Error
		if errors.As(err, &se) {
			outcome = string(se.Kind)
		} else {
			outcome = "error"
		}
	}
	s.observer.ObserveChatTurn(outcome, d)
}
