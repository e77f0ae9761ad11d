// Package users stores student accounts keyed by a unique email address.
package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"golang.org/x/crypto/bcrypt"

	"github.com/learnaware/tutor/internal/store"
)

// CollectionName is the collection users are stored in.
const CollectionName = "users"

// ErrNoChanges is returned by Update when the update sets no fields.
var ErrNoChanges = errors.New("no fields to update")

var emailIndex = store.IndexSpec{Keys: bson.D{{Key: "email", Value: 1}}, Unique: true, Name: "email_unique"}

// Option configures a Store.
type Option func(*Store)

// WithPasswordCost sets the bcrypt cost used for new passwords.
func WithPasswordCost(cost int) Option {
	return func(s *Store) {
		s.passwordCost = cost
	}
}

// WithClock replaces the time source for created_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Store is the user collection.
type Store struct {
	records      *store.Store
	passwordCost int
	now          func() time.Time
}

// NewStore returns a user store over records, which must be bound to
// CollectionName.
func NewStore(records *store.Store, opts ...Option) *Store {
	s := &Store{
		records:      records,
		passwordCost: bcrypt.DefaultCost,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureIndexes declares the unique email index.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.records.CreateIndex(ctx, emailIndex)
	return err
}

// List returns every user.
func (s *Store) List(ctx context.Context) ([]User, error) {
	docs, err := s.records.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	return store.DecodeAll[User](docs)
}

// FindByEmail returns the user with email. Absence is a KindNotFound error.
func (s *Store) FindByEmail(ctx context.Context, email string) (User, error) {
	doc, found, err := s.records.FindOne(ctx, store.Filter{"email": strings.TrimSpace(email)})
	if err != nil {
		return User{}, err
	}
	if !found {
		return User{}, store.NewError(store.KindNotFound, "find_by_email", CollectionName,
			"user not found with the provided email", nil)
	}
	return store.Decode[User](doc)
}

// Exists reports whether a user with email is registered.
func (s *Store) Exists(ctx context.Context, email string) (bool, error) {
	_, found, err := s.records.FindOne(ctx, store.Filter{"email": strings.TrimSpace(email)})
	return found, err
}

// Create registers a new user. A second registration with the same email
// fails with KindDuplicateKey.
func (s *Store) Create(ctx context.Context, reg Registration) (User, error) {
	if err := s.EnsureIndexes(ctx); err != nil {
		return User{}, err
	}

	u := reg.user(s.now())
	if reg.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(reg.Password), s.passwordCost)
		if err != nil {
			return User{}, fmt.Errorf("hash password: %w", err)
		}
		u.PasswordHash = string(hash)
	}

	doc, err := store.Encode(u)
	if err != nil {
		return User{}, err
	}
	inserted, err := s.records.InsertOne(ctx, doc)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return User{}, store.NewError(store.KindDuplicateKey, "create", CollectionName,
				"this email is already registered, please use a different email", err)
		}
		return User{}, err
	}
	return store.Decode[User](inserted)
}

// Update applies a partial change to the user with email. The boolean
// reports whether any stored field changed.
func (s *Store) Update(ctx context.Context, email string, upd Update) (User, bool, error) {
	patch := upd.patch()
	if len(patch) == 0 {
		return User{}, false, ErrNoChanges
	}
	if err := s.EnsureIndexes(ctx); err != nil {
		return User{}, false, err
	}

	res, err := s.records.UpdateOne(ctx, store.Filter{"email": strings.TrimSpace(email)}, patch)
	if err != nil {
		return User{}, false, err
	}
	if res.Document == nil {
		u, err := s.FindByEmail(ctx, email)
		return u, res.Modified, err
	}
	u, err := store.Decode[User](res.Document)
	return u, res.Modified, err
}

// Delete removes the user with email and fails with KindNotFound when there
// is none.
func (s *Store) Delete(ctx context.Context, email string) error {
	_, err := s.records.DeleteOne(ctx, store.Filter{"email": strings.TrimSpace(email)})
	return err
}

// DeleteAll removes every user and returns how many were removed.
func (s *Store) DeleteAll(ctx context.Context) (int64, error) {
	res, err := s.records.DeleteMany(ctx, store.Filter{})
	if err != nil {
		return 0, err
	}
	return res.Count, nil
}
