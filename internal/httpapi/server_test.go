package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/learnaware/tutor/internal/config"
	"github.com/learnaware/tutor/internal/conversations"
	"github.com/learnaware/tutor/internal/database"
	"github.com/learnaware/tutor/internal/health"
	"github.com/learnaware/tutor/internal/llm"
	"github.com/learnaware/tutor/internal/observability"
	"github.com/learnaware/tutor/internal/protocol"
	"github.com/learnaware/tutor/internal/store"
	"github.com/learnaware/tutor/internal/store/storetest"
	"github.com/learnaware/tutor/internal/tutor"
	"github.com/learnaware/tutor/internal/users"
)

type staticStatus struct{ st database.Status }

func (s staticStatus) Status(context.Context) database.Status { return s.st }

type failingAdapter struct{}

func (failingAdapter) StreamResponse(context.Context, llm.Request, llm.DeltaHandler) (llm.Response, error) {
	return llm.Response{}, errors.New("provider exploded")
}

// stallingAdapter streams one delta and then holds the turn open until its
// context ends.
type stallingAdapter struct{}

func (stallingAdapter) StreamResponse(ctx context.Context, _ llm.Request, onDelta llm.DeltaHandler) (llm.Response, error) {
	if onDelta != nil {
		if err := onDelta("thinking"); err != nil {
			return llm.Response{}, err
		}
	}
	<-ctx.Done()
	return llm.Response{}, ctx.Err()
}

type harness struct {
	ts      *httptest.Server
	conn    *storetest.Connection
	metrics *observability.Metrics
}

type harnessOptions struct {
	cfg     config.Config
	adapter llm.Adapter
	status  database.Status
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()
	conn := storetest.NewConnection()
	metrics := observability.NewMetrics("test_httpapi")

	userStore := users.NewStore(store.New(conn, users.CollectionName, store.WithObserver(metrics)),
		users.WithPasswordCost(bcrypt.MinCost))
	convStore := conversations.NewStore(store.New(conn, conversations.CollectionName, store.WithObserver(metrics)))

	adapter := opts.adapter
	if adapter == nil {
		adapter = llm.NewMockAdapter()
	}
	svc := tutor.NewService(userStore, convStore, adapter, tutor.Config{SystemPrompt: "be socratic"},
		tutor.WithObserver(metrics))

	srv := New(opts.cfg, Deps{
		Users:         userStore,
		Conversations: convStore,
		Tutor:         svc,
		Health:        health.NewReporter(staticStatus{opts.status}, zerolog.Nop()),
		Readiness:     conn,
		Metrics:       metrics,
		Logger:        zerolog.Nop(),
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &harness{ts: ts, conn: conn, metrics: metrics}
}

func (h *harness) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, h.ts.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, path, err)
	}
	defer res.Body.Close()

	out := map[string]any{}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil && !errors.Is(err, io.EOF) {
		t.Fatalf("decode %s %s response: %v", method, path, err)
	}
	return res.StatusCode, out
}

func (h *harness) register(t *testing.T, email string) {
	t.Helper()
	status, body := h.do(t, http.MethodPost, "/api/v1/auth/register", map[string]any{
		"full_name": "Ada Student",
		"email":     email,
		"password":  "password123",
		"grade":     9,
	})
	if status != http.StatusCreated {
		t.Fatalf("register status = %d, body = %v", status, body)
	}
}

func TestRootAndLiveness(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	status, body := h.do(t, http.MethodGet, "/", nil)
	if status != http.StatusOK || !strings.Contains(body["message"].(string), "Welcome") {
		t.Fatalf("GET / = %d %v", status, body)
	}
	status, body = h.do(t, http.MethodGet, "/healthz", nil)
	if status != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("GET /healthz = %d %v", status, body)
	}
}

func TestReadyzReflectsDatabase(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	status, _ := h.do(t, http.MethodGet, "/readyz", nil)
	if status != http.StatusOK {
		t.Fatalf("ready status = %d, want 200", status)
	}

	h.conn.SetReady(true, false)
	status, body := h.do(t, http.MethodGet, "/readyz", nil)
	if status != http.StatusServiceUnavailable {
		t.Fatalf("ready status = %d, want 503", status)
	}
	if body["db_initialized"] != false || body["is_connected"] != true {
		t.Fatalf("unexpected readiness body: %v", body)
	}
}

func TestDatabaseHealthAlwaysOK(t *testing.T) {
	h := newHarness(t, harnessOptions{status: database.Status{State: database.StateDisconnected, LastError: "no reachable servers"}})

	status, body := h.do(t, http.MethodGet, "/api/v1/health/database", nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if body["status"] != string(health.StatusDisconnected) {
		t.Fatalf("health status = %v, want disconnected", body["status"])
	}
	if body["action_needed"] != "Application restart may be required" {
		t.Fatalf("action_needed = %v", body["action_needed"])
	}

	h = newHarness(t, harnessOptions{status: database.Status{
		State:               database.StateConnected,
		Connected:           true,
		DatabaseInitialized: true,
		Probe:               &database.Probe{OK: true, LatencyMS: 3},
	}})
	_, body = h.do(t, http.MethodGet, "/api/v1/health/database", nil)
	if body["status"] != string(health.StatusHealthy) {
		t.Fatalf("health status = %v, want healthy", body["status"])
	}
}

func TestUserLifecycle(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.register(t, "ada@x.com")

	status, body := h.do(t, http.MethodPost, "/api/v1/auth/register", map[string]any{
		"full_name": "Ada Again",
		"email":     "ada@x.com",
	})
	if status != http.StatusBadRequest || body["code"] != string(store.KindDuplicateKey) {
		t.Fatalf("duplicate register = %d %v", status, body)
	}
	if !strings.Contains(body["error"].(string), "already registered") {
		t.Fatalf("duplicate message = %v", body["error"])
	}

	status, body = h.do(t, http.MethodGet, "/api/v1/auth/users/"+url.PathEscape("ada@x.com"), nil)
	if status != http.StatusOK {
		t.Fatalf("get user = %d %v", status, body)
	}
	data := body["data"].(map[string]any)
	if data["role"] != "student" || data["preferred_language"] != "English" {
		t.Fatalf("defaults not applied: %v", data)
	}
	if _, leaked := data["password_hash"]; leaked {
		t.Fatalf("password hash exposed: %v", data)
	}

	status, body = h.do(t, http.MethodPatch, "/api/v1/auth/users/ada@x.com", map[string]any{"grade": 10})
	if status != http.StatusOK || body["message"] != "User updated successfully." {
		t.Fatalf("update = %d %v", status, body)
	}
	status, body = h.do(t, http.MethodPatch, "/api/v1/auth/users/ada@x.com", map[string]any{"grade": 10})
	if status != http.StatusOK || body["message"] != "No changes were made to the user." {
		t.Fatalf("unchanged update = %d %v", status, body)
	}
	status, body = h.do(t, http.MethodPatch, "/api/v1/auth/users/ada@x.com", map[string]any{})
	if status != http.StatusBadRequest {
		t.Fatalf("empty update = %d %v", status, body)
	}
	status, body = h.do(t, http.MethodPatch, "/api/v1/auth/users/nobody@x.com", map[string]any{"grade": 3})
	if status != http.StatusNotFound || body["code"] != string(store.KindNotFound) {
		t.Fatalf("update missing = %d %v", status, body)
	}

	status, body = h.do(t, http.MethodGet, "/api/v1/auth/users", nil)
	if status != http.StatusOK || len(body["data"].([]any)) != 1 {
		t.Fatalf("list = %d %v", status, body)
	}

	status, _ = h.do(t, http.MethodDelete, "/api/v1/auth/users/ada@x.com", nil)
	if status != http.StatusOK {
		t.Fatalf("delete status = %d", status)
	}
	status, _ = h.do(t, http.MethodDelete, "/api/v1/auth/users/ada@x.com", nil)
	if status != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", status)
	}

	status, body = h.do(t, http.MethodDelete, "/api/v1/auth/users", nil)
	if status != http.StatusOK || body["data"] != "Deleted 0 users successfully." {
		t.Fatalf("delete all = %d %v", status, body)
	}
}

func TestRegisterValidation(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	status, body := h.do(t, http.MethodPost, "/api/v1/auth/register", map[string]any{"full_name": "No Email"})
	if status != http.StatusBadRequest || body["code"] != "validation_error" {
		t.Fatalf("register without email = %d %v", status, body)
	}

	res, err := http.Post(h.ts.URL+"/api/v1/auth/register", "application/json", strings.NewReader(`{"full_name":`))
	if err != nil {
		t.Fatalf("post error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed body status = %d, want 400", res.StatusCode)
	}
}

func TestConversationRoutes(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	save := map[string]any{
		"user_email": "ada@x.com",
		"conversations": []map[string]any{
			{"session_id": "s1", "messages": []map[string]any{{"sender": "user", "text": "hi"}}},
			{"session_id": "s2", "messages": []map[string]any{{"sender": "user", "text": "hello"}}},
		},
	}
	status, body := h.do(t, http.MethodPost, "/api/v1/conversations", save)
	if status != http.StatusCreated {
		t.Fatalf("save = %d %v", status, body)
	}
	if body["data"].(map[string]any)["inserted_count"].(float64) != 2 {
		t.Fatalf("unexpected save result: %v", body)
	}

	status, body = h.do(t, http.MethodGet, "/api/v1/conversations", nil)
	if status != http.StatusOK || len(body["data"].([]any)) != 2 {
		t.Fatalf("list conversations = %d %v", status, body)
	}

	status, body = h.do(t, http.MethodGet, "/api/v1/conversations/ada@x.com", nil)
	if status != http.StatusOK || len(body["data"].([]any)) != 2 {
		t.Fatalf("session ids = %d %v", status, body)
	}

	status, body = h.do(t, http.MethodGet, "/api/v1/conversations/ada@x.com/s1", nil)
	if status != http.StatusOK {
		t.Fatalf("get conversation = %d %v", status, body)
	}
	msgs := body["data"].(map[string]any)["messages"].([]any)
	if len(msgs) != 1 || msgs[0].(map[string]any)["text"] != "hi" {
		t.Fatalf("unexpected messages: %v", msgs)
	}

	status, _ = h.do(t, http.MethodGet, "/api/v1/sessions/s2", nil)
	if status != http.StatusOK {
		t.Fatalf("find by session status = %d", status)
	}
	status, _ = h.do(t, http.MethodDelete, "/api/v1/sessions/s2", nil)
	if status != http.StatusOK {
		t.Fatalf("delete by session status = %d", status)
	}
	status, _ = h.do(t, http.MethodDelete, "/api/v1/sessions/s2", nil)
	if status != http.StatusNotFound {
		t.Fatalf("second delete by session status = %d, want 404", status)
	}

	status, _ = h.do(t, http.MethodDelete, "/api/v1/conversations/ada@x.com/s1", nil)
	if status != http.StatusOK {
		t.Fatalf("delete conversation status = %d", status)
	}
	status, _ = h.do(t, http.MethodGet, "/api/v1/conversations/ada@x.com/s1", nil)
	if status != http.StatusNotFound {
		t.Fatalf("get deleted conversation status = %d, want 404", status)
	}

	status, body = h.do(t, http.MethodPost, "/api/v1/conversations", map[string]any{"user_email": "ada@x.com", "conversations": []any{}})
	if status != http.StatusBadRequest {
		t.Fatalf("empty save = %d %v", status, body)
	}
}

func TestStoreUnavailableMapsTo503(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.conn.SetReady(false, false)

	status, body := h.do(t, http.MethodGet, "/api/v1/auth/users", nil)
	if status != http.StatusServiceUnavailable || body["code"] != string(store.KindServiceUnavailable) {
		t.Fatalf("list users with database down = %d %v", status, body)
	}
}

func TestChatOverHTTP(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.register(t, "ada@x.com")

	status, body := h.do(t, http.MethodPost, "/api/v1/tutor/chat", map[string]any{
		"user_email": "ada@x.com",
		"session_id": "s1",
		"message":    "how do I solve 2x = 8?",
	})
	if status != http.StatusOK {
		t.Fatalf("chat = %d %v", status, body)
	}
	data := body["data"].(map[string]any)
	if data["session_id"] != "s1" || data["provider"] != "mock" {
		t.Fatalf("unexpected chat result: %v", data)
	}
	reply := data["reply"].(map[string]any)
	if !strings.Contains(reply["text"].(string), "I heard you: how do I solve 2x = 8?") {
		t.Fatalf("unexpected reply: %v", reply)
	}

	status, body = h.do(t, http.MethodGet, "/api/v1/conversations/ada@x.com/s1", nil)
	if status != http.StatusOK || len(body["data"].(map[string]any)["messages"].([]any)) != 2 {
		t.Fatalf("stored conversation = %d %v", status, body)
	}

	status, body = h.do(t, http.MethodPost, "/api/v1/tutor/chat", map[string]any{"user_email": "nobody@x.com", "message": "hi"})
	if status != http.StatusNotFound {
		t.Fatalf("chat for unknown user = %d %v", status, body)
	}
}

func TestChatUpstreamFailureIs502(t *testing.T) {
	h := newHarness(t, harnessOptions{adapter: failingAdapter{}})
	h.register(t, "ada@x.com")

	status, body := h.do(t, http.MethodPost, "/api/v1/tutor/chat", map[string]any{"user_email": "ada@x.com", "message": "hi"})
	if status != http.StatusBadGateway || body["code"] != "llm_error" {
		t.Fatalf("chat with failing provider = %d %v", status, body)
	}
	if strings.Contains(body["error"].(string), "exploded") {
		t.Fatalf("provider detail leaked: %v", body["error"])
	}
}

func TestChatWebsocketStreamsDeltasThenDone(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.register(t, "ada@x.com")

	wsURL := "ws" + strings.TrimPrefix(h.ts.URL, "http") + "/api/v1/tutor/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`not json`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	var errEvent protocol.ErrorEvent
	readFrame(t, conn, &errEvent)
	if errEvent.Type != protocol.TypeError || errEvent.Code != "invalid_client_message" {
		t.Fatalf("unexpected error frame: %+v", errEvent)
	}

	if err := conn.WriteJSON(map[string]string{"user_email": "ada@x.com", "session_id": "ws1", "message": "what is a prime?"}); err != nil {
		t.Fatalf("write chat: %v", err)
	}

	var deltas strings.Builder
	for {
		var frame map[string]any
		readFrame(t, conn, &frame)
		switch protocol.MessageType(frame["type"].(string)) {
		case protocol.TypeDelta:
			if frame["session_id"] != "ws1" {
				t.Fatalf("delta for wrong session: %v", frame)
			}
			deltas.WriteString(frame["text"].(string))
			continue
		case protocol.TypeDone:
			reply := frame["reply"].(map[string]any)
			if reply["text"] != deltas.String() {
				t.Fatalf("done reply %q != streamed %q", reply["text"], deltas.String())
			}
			if frame["new_session"] != true {
				t.Fatalf("expected new session: %v", frame)
			}
		default:
			t.Fatalf("unexpected frame: %v", frame)
		}
		break
	}

	if err := conn.WriteJSON(map[string]string{"user_email": "nobody@x.com", "message": "hi"}); err != nil {
		t.Fatalf("write chat: %v", err)
	}
	readFrame(t, conn, &errEvent)
	if errEvent.Code != string(store.KindNotFound) || errEvent.Retryable {
		t.Fatalf("unexpected error frame: %+v", errEvent)
	}
}

func dialChat(t *testing.T, h *harness) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(h.ts.URL, "http") + "/api/v1/tutor/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil skips frames until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, want protocol.MessageType) map[string]any {
	t.Helper()
	for i := 0; i < 32; i++ {
		var frame map[string]any
		readFrame(t, conn, &frame)
		if protocol.MessageType(frame["type"].(string)) == want {
			return frame
		}
	}
	t.Fatalf("no %s frame received", want)
	return nil
}

func TestChatWebsocketCancelStopsRunningTurn(t *testing.T) {
	h := newHarness(t, harnessOptions{adapter: stallingAdapter{}})
	h.register(t, "ada@x.com")
	conn := dialChat(t, h)

	if err := conn.WriteJSON(map[string]string{"type": "chat", "user_email": "ada@x.com", "session_id": "c1", "message": "is 91 prime?"}); err != nil {
		t.Fatalf("write chat: %v", err)
	}
	if delta := readUntil(t, conn, protocol.TypeDelta); delta["session_id"] != "c1" {
		t.Fatalf("unexpected delta: %v", delta)
	}

	if err := conn.WriteJSON(map[string]string{"type": "cancel"}); err != nil {
		t.Fatalf("write cancel: %v", err)
	}
	frame := readUntil(t, conn, protocol.TypeError)
	if frame["code"] != "canceled" || frame["session_id"] != "c1" {
		t.Fatalf("unexpected error frame: %v", frame)
	}

	status, body := h.do(t, http.MethodGet, "/api/v1/conversations/ada@x.com/c1", nil)
	if status != http.StatusOK {
		t.Fatalf("get conversation = %d %v", status, body)
	}
	msgs := body["data"].(map[string]any)["messages"].([]any)
	if len(msgs) != 1 || msgs[0].(map[string]any)["text"] != "is 91 prime?" {
		t.Fatalf("question not kept after cancel: %v", msgs)
	}

	status, body = h.do(t, http.MethodGet, "/api/v1/tutor/turns", nil)
	if status != http.StatusOK || len(body["data"].([]any)) != 0 {
		t.Fatalf("turns after cancel = %d %v", status, body)
	}
}

func TestChatWebsocketRejectsOverflowAndStillCancels(t *testing.T) {
	h := newHarness(t, harnessOptions{adapter: stallingAdapter{}})
	h.register(t, "ada@x.com")
	conn := dialChat(t, h)

	chat := map[string]string{"type": "chat", "user_email": "ada@x.com", "session_id": "q1", "message": "next"}
	if err := conn.WriteJSON(chat); err != nil {
		t.Fatalf("write chat: %v", err)
	}
	readUntil(t, conn, protocol.TypeDelta)

	for i := 0; i <= wsQueueDepth; i++ {
		if err := conn.WriteJSON(chat); err != nil {
			t.Fatalf("write queued chat %d: %v", i, err)
		}
	}
	frame := readUntil(t, conn, protocol.TypeError)
	if frame["code"] != "busy" || frame["retryable"] != true {
		t.Fatalf("unexpected overflow frame: %v", frame)
	}

	if err := conn.WriteJSON(map[string]string{"type": "cancel"}); err != nil {
		t.Fatalf("write cancel: %v", err)
	}
	frame = readUntil(t, conn, protocol.TypeError)
	if frame["code"] != "canceled" {
		t.Fatalf("cancel not honored with a full queue: %v", frame)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn, out any) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(out); err != nil {
		t.Fatalf("read frame: %v", err)
	}
}

func TestCORSPreflight(t *testing.T) {
	h := newHarness(t, harnessOptions{cfg: config.Config{AllowAnyOrigin: true}})

	req, _ := http.NewRequest(http.MethodOptions, h.ts.URL+"/api/v1/auth/users", nil)
	req.Header.Set("Origin", "https://app.example.com")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want 204", res.StatusCode)
	}
	if res.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing allow-origin header")
	}
}

func TestMetricsAndLatencyRoutes(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.register(t, "ada@x.com")

	res, err := http.Get(h.ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	raw, _ := io.ReadAll(res.Body)
	res.Body.Close()
	if !strings.Contains(string(raw), "test_httpapi_store_operations_total") {
		t.Fatalf("metrics output missing store counter")
	}

	status, body := h.do(t, http.MethodGet, "/api/v1/perf/latency", nil)
	if status != http.StatusOK || len(body["operations"].([]any)) == 0 {
		t.Fatalf("latency = %d %v", status, body)
	}

	status, body = h.do(t, http.MethodGet, "/api/v1/tutor/turns", nil)
	if status != http.StatusOK {
		t.Fatalf("turns status = %d", status)
	}
	if turns, ok := body["data"].([]any); !ok || len(turns) != 0 {
		t.Fatalf("turns = %v, want empty list", body["data"])
	}
}

func TestClassifyError(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{errEmptyBody, http.StatusBadRequest, "invalid_request"},
		{users.ErrNoChanges, http.StatusBadRequest, "invalid_request"},
		{conversations.ErrNoConversations, http.StatusBadRequest, "invalid_request"},
		{store.NewError(store.KindNotFound, "get", "users", "user not found", nil), http.StatusNotFound, "not_found"},
		{store.NewError(store.KindServiceUnavailable, "get", "users", "down", nil), http.StatusServiceUnavailable, "service_unavailable"},
		{store.NewError(store.KindUnexpected, "get", "users", "boom", nil), http.StatusInternalServerError, "unexpected"},
		{llm.ErrUpstream, http.StatusBadGateway, "llm_error"},
		{errors.New("mystery"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		status, code, msg := classifyError(tc.err)
		if status != tc.status || code != tc.code {
			t.Fatalf("classifyError(%v) = %d %q, want %d %q", tc.err, status, code, tc.status, tc.code)
		}
		if msg == "" {
			t.Fatalf("classifyError(%v) returned empty message", tc.err)
		}
	}

	_, _, msg := classifyError(store.NewError(store.KindUnexpected, "get", "users", "driver said boom", nil))
	if strings.Contains(msg, "boom") {
		t.Fatalf("unexpected error detail leaked: %q", msg)
	}
}
