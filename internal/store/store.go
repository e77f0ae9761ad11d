package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/learnaware/tutor/internal/store"

// Observer receives the outcome of every store operation. Outcome is "ok"
// or the failure Kind.
type Observer interface {
	ObserveStoreOperation(collection, op, outcome string, d time.Duration)
}

// UpdateResult reports the outcome of UpdateOne. Document is set only when
// the update modified the record.
type UpdateResult struct {
	Matched  bool     `json:"matched"`
	Modified bool     `json:"modified"`
	Document Document `json:"document,omitempty"`
}

// DeleteResult reports how many records were removed.
type DeleteResult struct {
	Deleted bool  `json:"deleted"`
	Count   int64 `json:"count"`
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for translated failures.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = logger.With().Str("collection", s.name).Logger()
	}
}

// WithObserver reports every operation outcome to o.
func WithObserver(o Observer) Option {
	return func(s *Store) {
		s.observer = o
	}
}

// Store provides uniform CRUD over one named collection. Every operation
// checks connection readiness first and returns only *Error failures.
type Store struct {
	name     string
	conn     Connection
	logger   zerolog.Logger
	observer Observer

	mu   sync.Mutex
	coll Collection
}

// New returns a store for the named collection. The collection handle is
// resolved on first use and cached for the store's lifetime.
func New(conn Connection, name string, opts ...Option) *Store {
	s := &Store{
		name:   name,
		conn:   conn,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the collection name.
func (s *Store) Name() string { return s.name }

func (s *Store) collection(op string) (Collection, error) {
	if s.conn == nil || !s.conn.IsConnected() {
		return nil, NewError(KindServiceUnavailable, op, s.name,
			"database connection is not available, please try again later", nil)
	}
	if !s.conn.DatabaseInitialized() {
		return nil, NewError(KindServiceUnavailable, op, s.name,
			"database is not properly initialized, please try again later", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.coll != nil {
		return s.coll, nil
	}
	coll, err := s.conn.Collection(s.name)
	if err != nil {
		return nil, NewError(KindUnexpected, op, s.name, fmt.Sprintf("database reference is not available: %v", err), err)
	}
	if coll == nil {
		return nil, NewError(KindUnexpected, op, s.name, "database reference is not available", nil)
	}
	s.coll = coll
	return coll, nil
}

func (s *Store) run(ctx context.Context, op string, fn func(context.Context, Collection) error) error {
	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "store."+op,
		trace.WithAttributes(attribute.String("db.collection", s.name)))
	defer span.End()

	coll, err := s.collection(op)
	if err == nil {
		err = translate(op, s.name, fn(ctx, coll))
	}

	outcome := "ok"
	if err != nil {
		kind := KindOf(err)
		outcome = string(kind)
		switch kind {
		case KindNotFound, KindDuplicateKey:
			s.logger.Debug().Str("op", op).Str("kind", outcome).Msg(err.Error())
		case KindServiceUnavailable, KindOperationFailed:
			s.logger.Warn().Str("op", op).Str("kind", outcome).Err(err).Msg("store operation failed")
		default:
			s.logger.Error().Str("op", op).Str("kind", outcome).Err(err).Msg("store operation failed")
		}
		if kind != KindNotFound {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
	}
	if s.observer != nil {
		s.observer.ObserveStoreOperation(s.name, op, outcome, time.Since(start))
	}
	return err
}

// FindAll returns every record in the collection.
func (s *Store) FindAll(ctx context.Context) ([]Document, error) {
	return s.find(ctx, "find_all", Filter{}, nil)
}

// FindFiltered returns the records matching filter. When fields are given
// only those fields (and the identifier) are returned.
func (s *Store) FindFiltered(ctx context.Context, filter Filter, fields ...string) ([]Document, error) {
	return s.find(ctx, "find_filtered", filter, fields)
}

func (s *Store) find(ctx context.Context, op string, filter Filter, fields []string) ([]Document, error) {
	var projection any
	if len(fields) > 0 {
		p := bson.M{}
		for _, f := range fields {
			p[f] = 1
		}
		projection = p
	}

	var out []Document
	err := s.run(ctx, op, func(ctx context.Context, coll Collection) error {
		raws, err := coll.Find(ctx, storageFilter(filter), projection)
		if err != nil {
			return err
		}
		out = make([]Document, 0, len(raws))
		for _, raw := range raws {
			doc, err := decodeRaw(raw)
			if err != nil {
				return NewError(KindUnexpected, op, s.name, fmt.Sprintf("decode document: %v", err), err)
			}
			out = append(out, doc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FindOne returns the first record matching filter. Absence is reported by
// the boolean, not as an error.
func (s *Store) FindOne(ctx context.Context, filter Filter) (Document, bool, error) {
	var doc Document
	err := s.run(ctx, "find_one", func(ctx context.Context, coll Collection) error {
		var err error
		doc, err = s.findOne(ctx, coll, "find_one", filter)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return doc, doc != nil, nil
}

func (s *Store) findOne(ctx context.Context, coll Collection, op string, filter Filter) (Document, error) {
	raw, err := coll.FindOne(ctx, storageFilter(filter))
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	doc, err := decodeRaw(raw)
	if err != nil {
		return nil, NewError(KindUnexpected, op, s.name, fmt.Sprintf("decode document: %v", err), err)
	}
	return doc, nil
}

// InsertOne assigns a new identifier to doc and persists it. The returned
// document carries the identifier in canonical string form; doc itself is
// not modified.
func (s *Store) InsertOne(ctx context.Context, doc Document) (Document, error) {
	stored := make(Document, len(doc)+1)
	for k, v := range doc {
		if k == IDField {
			continue
		}
		stored[k] = v
	}
	stored[IDField] = bson.NewObjectID()

	var out Document
	err := s.run(ctx, "insert_one", func(ctx context.Context, coll Collection) error {
		id, err := coll.InsertOne(ctx, stored)
		if err != nil {
			return err
		}
		out = make(Document, len(stored))
		for k, v := range stored {
			out[k] = v
		}
		out[IDField] = IDString(id)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateOne applies patch to the first record matching filter. It fails with
// KindNotFound when nothing matches; a match that changes nothing is a
// successful result with Modified=false.
func (s *Store) UpdateOne(ctx context.Context, filter Filter, patch Document) (UpdateResult, error) {
	set := make(Document, len(patch))
	for k, v := range patch {
		if k == IDField {
			continue
		}
		set[k] = v
	}

	var result UpdateResult
	err := s.run(ctx, "update_one", func(ctx context.Context, coll Collection) error {
		if len(set) == 0 {
			return NewError(KindOperationFailed, "update_one", s.name, "update patch is empty", nil)
		}
		f := storageFilter(filter)
		res, err := coll.UpdateOne(ctx, f, bson.M{"$set": set})
		if err != nil {
			return err
		}
		if res.MatchedCount == 0 {
			return NewError(KindNotFound, "update_one", s.name, "document not found", nil)
		}
		result.Matched = true
		if res.ModifiedCount == 0 {
			return nil
		}
		result.Modified = true
		// The patch may have rewritten a filtered field; the document is then
		// simply omitted from the result.
		result.Document, err = s.findOne(ctx, coll, "update_one", filter)
		return err
	})
	if err != nil {
		return UpdateResult{}, err
	}
	return result, nil
}

// DeleteOne removes the first record matching filter and fails with
// KindNotFound when nothing matches.
func (s *Store) DeleteOne(ctx context.Context, filter Filter) (DeleteResult, error) {
	var result DeleteResult
	err := s.run(ctx, "delete_one", func(ctx context.Context, coll Collection) error {
		res, err := coll.DeleteOne(ctx, storageFilter(filter))
		if err != nil {
			return err
		}
		if res.DeletedCount == 0 {
			return NewError(KindNotFound, "delete_one", s.name, "document not found", nil)
		}
		result = DeleteResult{Deleted: true, Count: res.DeletedCount}
		return nil
	})
	return result, err
}

// DeleteMany removes every record matching filter. Zero matches is a
// successful result with Count 0.
func (s *Store) DeleteMany(ctx context.Context, filter Filter) (DeleteResult, error) {
	var result DeleteResult
	err := s.run(ctx, "delete_many", func(ctx context.Context, coll Collection) error {
		res, err := coll.DeleteMany(ctx, storageFilter(filter))
		if err != nil {
			return err
		}
		result = DeleteResult{Deleted: res.DeletedCount > 0, Count: res.DeletedCount}
		return nil
	})
	return result, err
}

// CreateIndex declares an index. The call is idempotent on the server side.
func (s *Store) CreateIndex(ctx context.Context, spec IndexSpec) (string, error) {
	var name string
	err := s.run(ctx, "create_index", func(ctx context.Context, coll Collection) error {
		if len(spec.Keys) == 0 {
			return NewError(KindOperationFailed, "create_index", s.name, "index spec has no keys", nil)
		}
		var err error
		name, err = coll.CreateIndex(ctx, spec)
		return err
	})
	return name, err
}
