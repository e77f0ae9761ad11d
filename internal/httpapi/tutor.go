package httpapi

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/learnaware/tutor/internal/protocol"
	"github.com/learnaware/tutor/internal/reliability"
	"github.com/learnaware/tutor/internal/tutor"
)

const (
	wsReadTimeout  = 120 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsReadLimit    = 1 << 20
	wsQueueDepth   = 8
)

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req tutor.ChatRequest
	if err := s.decodeValid(r, &req); err != nil {
		s.respondFailure(w, r, err)
		return
	}
	res, err := s.deps.Tutor.Chat(r.Context(), req, nil)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, dataResponse{Data: res})
}

func (s *Server) handleActiveTurns(w http.ResponseWriter, _ *http.Request) {
	turns := s.deps.Tutor.ActiveTurns()
	if turns == nil {
		turns = []tutor.Turn{}
	}
	respondJSON(w, http.StatusOK, dataResponse{Data: turns})
}

// handleChatWS streams replies over a websocket. Turns on one connection run
// one after another; a cancel frame stops the turn currently streaming and a
// chat frame beyond the queue depth is rejected with a busy error.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan protocol.ClientChat, wsQueueDepth)
	outbound := make(chan any, 64)

	var (
		turnMu     sync.Mutex
		cancelTurn context.CancelFunc
	)
	send := func(v any) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case outbound <- v:
			return nil
		}
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					s.logger.Debug().Err(err).Msg("websocket write failed")
					cancel()
					return
				}
				s.observeWS("outbound", messageTypeOf(msg))
			}
		}
	}()

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		for msg := range inbound {
			turnCtx, stop := context.WithCancel(ctx)
			turnMu.Lock()
			cancelTurn = stop
			turnMu.Unlock()

			s.runWSTurn(turnCtx, msg, send)

			turnMu.Lock()
			cancelTurn = nil
			turnMu.Unlock()
			stop()
		}
	}()

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			if send(protocol.NewError("", "invalid_client_message", err.Error(), false)) != nil {
				break
			}
			continue
		}
		s.observeWS("inbound", messageTypeOf(parsed))

		switch m := parsed.(type) {
		case protocol.ClientChat:
			// The read loop never blocks on a full queue so cancel frames
			// still reach the running turn.
			select {
			case <-ctx.Done():
				break readLoop
			case inbound <- m:
			default:
				if send(protocol.NewError(m.SessionID, "busy", "too many queued messages, wait for the current reply", true)) != nil {
					break readLoop
				}
			}
		case protocol.ClientCancel:
			turnMu.Lock()
			if cancelTurn != nil {
				cancelTurn()
			}
			turnMu.Unlock()
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
}

func (s *Server) runWSTurn(ctx context.Context, msg protocol.ClientChat, send func(any) error) {
	req := tutor.ChatRequest{
		UserEmail: msg.UserEmail,
		SessionID: strings.TrimSpace(msg.SessionID),
		Message:   msg.Message,
		ImageRef:  msg.ImageRef,
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	if err := s.validate.Struct(req); err != nil {
		_, code, detail := classifyError(err)
		_ = send(protocol.NewError(req.SessionID, code, detail, false))
		return
	}

	seq := 0
	res, err := s.deps.Tutor.Chat(ctx, req, func(delta string) error {
		seq++
		return send(protocol.NewDelta(req.SessionID, seq, delta))
	})
	if err != nil {
		status, code, detail := classifyError(err)
		if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable && status != http.StatusBadGateway {
			s.logger.Error().Err(err).Str("session_id", req.SessionID).Msg("websocket chat turn failed")
		}
		_ = send(protocol.NewError(req.SessionID, code, detail, reliability.IsRetryableHTTPStatus(status)))
		return
	}
	_ = send(protocol.Done{
		Type:           protocol.TypeDone,
		SessionID:      res.SessionID,
		ConversationID: res.ConversationID,
		TurnID:         res.TurnID,
		Provider:       res.Provider,
		NewSession:     res.NewSession,
		Reply:          res.Reply,
	})
}

func (s *Server) observeWS(direction string, t protocol.MessageType) {
	if s.deps.Metrics != nil && t != "" {
		s.deps.Metrics.ObserveWSMessage(direction, string(t))
	}
}

func messageTypeOf(v any) protocol.MessageType {
	switch m := v.(type) {
	case protocol.ClientChat:
		return m.Type
	case protocol.ClientCancel:
		return m.Type
	case protocol.Delta:
		return m.Type
	case protocol.Done:
		return m.Type
	case protocol.ErrorEvent:
		return m.Type
	default:
		return ""
	}
}
