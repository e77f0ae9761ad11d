package tutor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Turn is one in-flight exchange of a session.
type Turn struct {
	ID        string    `json:"turn_id"`
	UserEmail string    `json:"user_email"`
	SessionID string    `json:"session_id"`
	StartedAt time.Time `json:"started_at"`
}

type turnSlot struct {
	lock    chan struct{}
	waiters int
	active  *Turn
}

// turnTracker runs at most one turn per user session at a time. A second
// message for the same session waits until the first reply is persisted.
type turnTracker struct {
	mu    sync.Mutex
	slots map[string]*turnSlot
}

func newTurnTracker() *turnTracker {
	return &turnTracker{slots: make(map[string]*turnSlot)}
}

// begin blocks until the session is free or ctx is done. The returned func
// ends the turn and must be called exactly once.
func (t *turnTracker) begin(ctx context.Context, email, sessionID string) (Turn, func(), error) {
	key := email + "\x00" + sessionID

	t.mu.Lock()
	slot, ok := t.slots[key]
	if !ok {
		slot = &turnSlot{lock: make(chan struct{}, 1)}
		t.slots[key] = slot
	}
	slot.waiters++
	t.mu.Unlock()

	select {
	case slot.lock <- struct{}{}:
	case <-ctx.Done():
		t.leave(key, slot)
		return Turn{}, nil, ctx.Err()
	}

	turn := Turn{
		ID:        uuid.NewString(),
		UserEmail: email,
		SessionID: sessionID,
		StartedAt: time.Now().UTC(),
	}
	t.mu.Lock()
	slot.active = &turn
	t.mu.Unlock()

	var once sync.Once
	end := func() {
		once.Do(func() {
			t.mu.Lock()
			slot.active = nil
			t.mu.Unlock()
			<-slot.lock
			t.leave(key, slot)
		})
	}
	return turn, end, nil
}

func (t *turnTracker) leave(key string, slot *turnSlot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	slot.waiters--
	if slot.waiters == 0 {
		delete(t.slots, key)
	}
}

// active returns a snapshot of the turns currently running.
func (t *turnTracker) active() []Turn {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Turn, 0, len(t.slots))
	for _, slot := range t.slots {
		if slot.active != nil {
			out = append(out, *slot.active)
		}
	}
	return out
}
