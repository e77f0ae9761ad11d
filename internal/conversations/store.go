// Package conversations stores per-session message histories.
package conversations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/learnaware/tutor/internal/store"
)

// CollectionName is the collection conversations are stored in.
const CollectionName = "conversations"

// ErrNoConversations is returned by Save when given nothing to save.
var ErrNoConversations = errors.New("no conversations provided")

var indexes = []store.IndexSpec{
	{Keys: bson.D{{Key: "user_email", Value: 1}}, Name: "user_email_1"},
	{Keys: bson.D{{Key: "session_id", Value: 1}}, Name: "session_id_1"},
	{Keys: bson.D{{Key: "user_email", Value: 1}, {Key: "session_id", Value: 1}}, Unique: true, Name: "user_session_unique"},
}

// Store is the conversation collection.
type Store struct {
	records *store.Store
	now     func() time.Time
}

// NewStore returns a conversation store over records, which must be bound
// to CollectionName.
func NewStore(records *store.Store) *Store {
	return &Store{
		records: records,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// EnsureIndexes declares the lookup indexes and the unique (user, session)
// index.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	for _, spec := range indexes {
		if _, err := s.records.CreateIndex(ctx, spec); err != nil {
			return err
		}
	}
	return nil
}

// List returns every stored conversation.
func (s *Store) List(ctx context.Context) ([]Conversation, error) {
	docs, err := s.records.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	return store.DecodeAll[Conversation](docs)
}

// SessionIDs returns the distinct session identifiers of a user in the order
// they were first stored. A user without conversations has none.
func (s *Store) SessionIDs(ctx context.Context, email string) ([]string, error) {
	docs, err := s.records.FindFiltered(ctx, store.Filter{"user_email": strings.TrimSpace(email)}, "session_id")
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(docs))
	out := make([]string, 0, len(docs))
	for _, doc := range docs {
		id, ok := doc["session_id"].(string)
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

// FindBySession returns every conversation stored under sessionID and fails
// with KindNotFound when there is none.
func (s *Store) FindBySession(ctx context.Context, sessionID string) ([]Conversation, error) {
	docs, err := s.records.FindFiltered(ctx, store.Filter{"session_id": sessionID})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, store.NewError(store.KindNotFound, "find_by_session_id", CollectionName,
			fmt.Sprintf("no conversations found for session ID: %s", sessionID), nil)
	}
	return store.DecodeAll[Conversation](docs)
}

// Get returns the conversation of one user session.
func (s *Store) Get(ctx context.Context, email, sessionID string) (Conversation, error) {
	c, found, err := s.find(ctx, email, sessionID)
	if err != nil {
		return Conversation{}, err
	}
	if !found {
		return Conversation{}, notFound("get", sessionID)
	}
	return c, nil
}

// Lookup is Get with absence reported by the boolean.
func (s *Store) Lookup(ctx context.Context, email, sessionID string) (Conversation, bool, error) {
	return s.find(ctx, email, sessionID)
}

func (s *Store) find(ctx context.Context, email, sessionID string) (Conversation, bool, error) {
	doc, found, err := s.records.FindOne(ctx, sessionFilter(email, sessionID))
	if err != nil || !found {
		return Conversation{}, false, err
	}
	c, err := store.Decode[Conversation](doc)
	if err != nil {
		return Conversation{}, false, err
	}
	return c, true, nil
}

// Create inserts a new conversation. A second conversation for the same
// user session fails with KindDuplicateKey.
func (s *Store) Create(ctx context.Context, c Conversation) (Conversation, error) {
	if err := s.EnsureIndexes(ctx); err != nil {
		return Conversation{}, err
	}
	return s.insert(ctx, c)
}

func (s *Store) insert(ctx context.Context, c Conversation) (Conversation, error) {
	now := s.now()
	c.ID = ""
	c.UserEmail = strings.TrimSpace(c.UserEmail)
	c.Messages = normalizeMessages(c.Messages, now)
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	doc, err := store.Encode(c)
	if err != nil {
		return Conversation{}, err
	}
	inserted, err := s.records.InsertOne(ctx, doc)
	if err != nil {
		return Conversation{}, err
	}
	return store.Decode[Conversation](inserted)
}

// Save stores each session for the user. A session that already exists has
// its message list replaced; otherwise a new conversation is inserted. The
// unique (user, session) index turns a lost insert race into an update.
func (s *Store) Save(ctx context.Context, email string, sessions []Session) (SaveResult, error) {
	if len(sessions) == 0 {
		return SaveResult{}, ErrNoConversations
	}
	if err := s.EnsureIndexes(ctx); err != nil {
		return SaveResult{}, err
	}

	res := SaveResult{IDs: make([]string, 0, len(sessions))}
	for _, sess := range sessions {
		id, inserted, err := s.saveOne(ctx, email, sess)
		if err != nil {
			return res, fmt.Errorf("save session %q: %w", sess.SessionID, err)
		}
		if inserted {
			res.Inserted++
		} else {
			res.Updated++
		}
		res.IDs = append(res.IDs, id)
	}
	return res, nil
}

func (s *Store) saveOne(ctx context.Context, email string, sess Session) (string, bool, error) {
	existing, found, err := s.find(ctx, email, sess.SessionID)
	if err != nil {
		return "", false, err
	}
	if found {
		return existing.ID, false, s.replaceMessages(ctx, email, sess)
	}

	created, err := s.insert(ctx, Conversation{UserEmail: email, SessionID: sess.SessionID, Messages: sess.Messages})
	if errors.Is(err, store.ErrDuplicateKey) {
		if err := s.replaceMessages(ctx, email, sess); err != nil {
			return "", false, err
		}
		existing, err := s.Get(ctx, email, sess.SessionID)
		return existing.ID, false, err
	}
	if err != nil {
		return "", false, err
	}
	return created.ID, true, nil
}

func (s *Store) replaceMessages(ctx context.Context, email string, sess Session) error {
	now := s.now()
	msgs, err := encodeMessages(normalizeMessages(sess.Messages, now))
	if err != nil {
		return err
	}
	_, err = s.records.UpdateOne(ctx, sessionFilter(email, sess.SessionID), store.Document{
		"messages":   msgs,
		"updated_at": now,
	})
	return err
}

// Delete removes one user session and fails with KindNotFound when it does
// not exist.
func (s *Store) Delete(ctx context.Context, email, sessionID string) error {
	_, err := s.records.DeleteOne(ctx, sessionFilter(email, sessionID))
	if errors.Is(err, store.ErrNotFound) {
		return notFound("delete", sessionID)
	}
	return err
}

// DeleteBySession removes every conversation stored under sessionID. Zero
// matches is a KindNotFound error because the caller named a target.
func (s *Store) DeleteBySession(ctx context.Context, sessionID string) (int64, error) {
	res, err := s.records.DeleteMany(ctx, store.Filter{"session_id": sessionID})
	if err != nil {
		return 0, err
	}
	if res.Count == 0 {
		return 0, store.NewError(store.KindNotFound, "delete_by_session_id", CollectionName,
			fmt.Sprintf("no conversations found for session ID: %s", sessionID), nil)
	}
	return res.Count, nil
}

func sessionFilter(email, sessionID string) store.Filter {
	return store.Filter{"user_email": strings.TrimSpace(email), "session_id": sessionID}
}

func notFound(op, sessionID string) error {
	return store.NewError(store.KindNotFound, op, CollectionName,
		fmt.Sprintf("conversation with session_id %s not found", sessionID), nil)
}

func encodeMessages(msgs []Message) (bson.A, error) {
	out := make(bson.A, 0, len(msgs))
	for _, m := range msgs {
		doc, err := store.Encode(m)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}
