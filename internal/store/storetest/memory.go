// Package storetest provides in-memory doubles for the store package's
// driver-facing interfaces. Filters support field equality only.
package storetest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/learnaware/tutor/internal/store"
)

const duplicateKeyCode = 11000

// Operation names accepted by FailNext.
const (
	OpFind        = "find"
	OpFindOne     = "find_one"
	OpInsertOne   = "insert_one"
	OpUpdateOne   = "update_one"
	OpDeleteOne   = "delete_one"
	OpDeleteMany  = "delete_many"
	OpCreateIndex = "create_index"
)

// MemoryCollection is an in-memory store.Collection. Unique indexes declared
// through CreateIndex are enforced with the same server error a real
// deployment returns.
type MemoryCollection struct {
	mu       sync.Mutex
	docs     []bson.Raw
	indexes  []store.IndexSpec
	failures map[string]error
}

// NewMemoryCollection returns an empty collection.
func NewMemoryCollection() *MemoryCollection {
	return &MemoryCollection{failures: make(map[string]error)}
}

// FailNext makes the next call of op return err.
func (c *MemoryCollection) FailNext(op string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[op] = err
}

// Len returns the number of stored documents.
func (c *MemoryCollection) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.docs)
}

// Indexes returns the declared indexes.
func (c *MemoryCollection) Indexes() []store.IndexSpec {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]store.IndexSpec(nil), c.indexes...)
}

func (c *MemoryCollection) takeFailure(op string) error {
	err, ok := c.failures[op]
	if !ok {
		return nil
	}
	delete(c.failures, op)
	return err
}

func (c *MemoryCollection) Find(_ context.Context, filter any, projection any) ([]bson.Raw, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.takeFailure(OpFind); err != nil {
		return nil, err
	}
	f, err := toRaw(filter)
	if err != nil {
		return nil, err
	}
	fields, err := projectionFields(projection)
	if err != nil {
		return nil, err
	}

	out := make([]bson.Raw, 0)
	for _, doc := range c.docs {
		ok, err := matches(doc, f)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		projected, err := project(doc, fields)
		if err != nil {
			return nil, err
		}
		out = append(out, projected)
	}
	return out, nil
}

func (c *MemoryCollection) FindOne(_ context.Context, filter any) (bson.Raw, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.takeFailure(OpFindOne); err != nil {
		return nil, err
	}
	idx, err := c.first(filter)
	if err != nil {
		return nil, err
	}
	if idx < 0 {
		return nil, mongo.ErrNoDocuments
	}
	return clone(c.docs[idx]), nil
}

func (c *MemoryCollection) InsertOne(_ context.Context, doc any) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.takeFailure(OpInsertOne); err != nil {
		return nil, err
	}
	raw, err := toRaw(doc)
	if err != nil {
		return nil, err
	}
	idVal, err := raw.LookupErr(store.IDField)
	if err != nil {
		d := bson.D{{Key: store.IDField, Value: bson.NewObjectID()}}
		elems, err := raw.Elements()
		if err != nil {
			return nil, err
		}
		for _, e := range elems {
			d = append(d, bson.E{Key: e.Key(), Value: e.Value()})
		}
		if raw, err = bson.Marshal(d); err != nil {
			return nil, err
		}
		idVal = raw.Lookup(store.IDField)
	}
	if err := c.checkUnique(raw, -1); err != nil {
		return nil, err
	}
	c.docs = append(c.docs, raw)

	if oid, ok := idVal.ObjectIDOK(); ok {
		return oid, nil
	}
	var id any
	if err := idVal.Unmarshal(&id); err != nil {
		return nil, err
	}
	return id, nil
}

func (c *MemoryCollection) UpdateOne(_ context.Context, filter any, update any) (*mongo.UpdateResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.takeFailure(OpUpdateOne); err != nil {
		return nil, err
	}
	idx, err := c.first(filter)
	if err != nil {
		return nil, err
	}
	if idx < 0 {
		return &mongo.UpdateResult{}, nil
	}

	u, err := toRaw(update)
	if err != nil {
		return nil, err
	}
	setVal, err := u.LookupErr("$set")
	if err != nil {
		return nil, fmt.Errorf("storetest: only $set updates are supported")
	}
	set, ok := setVal.DocumentOK()
	if !ok {
		return nil, fmt.Errorf("storetest: $set must be a document")
	}

	updated, err := applySet(c.docs[idx], set)
	if err != nil {
		return nil, err
	}
	if bytes.Equal(updated, c.docs[idx]) {
		return &mongo.UpdateResult{MatchedCount: 1}, nil
	}
	if err := c.checkUnique(updated, idx); err != nil {
		return nil, err
	}
	c.docs[idx] = updated
	return &mongo.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil
}

func (c *MemoryCollection) DeleteOne(_ context.Context, filter any) (*mongo.DeleteResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.takeFailure(OpDeleteOne); err != nil {
		return nil, err
	}
	idx, err := c.first(filter)
	if err != nil {
		return nil, err
	}
	if idx < 0 {
		return &mongo.DeleteResult{}, nil
	}
	c.docs = append(c.docs[:idx], c.docs[idx+1:]...)
	return &mongo.DeleteResult{DeletedCount: 1}, nil
}

func (c *MemoryCollection) DeleteMany(_ context.Context, filter any) (*mongo.DeleteResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.takeFailure(OpDeleteMany); err != nil {
		return nil, err
	}
	f, err := toRaw(filter)
	if err != nil {
		return nil, err
	}
	kept := c.docs[:0]
	var deleted int64
	for _, doc := range c.docs {
		ok, err := matches(doc, f)
		if err != nil {
			return nil, err
		}
		if ok {
			deleted++
			continue
		}
		kept = append(kept, doc)
	}
	c.docs = kept
	return &mongo.DeleteResult{DeletedCount: deleted}, nil
}

func (c *MemoryCollection) CreateIndex(_ context.Context, spec store.IndexSpec) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.takeFailure(OpCreateIndex); err != nil {
		return "", err
	}
	name := spec.Name
	if name == "" {
		parts := make([]string, 0, len(spec.Keys))
		for _, k := range spec.Keys {
			parts = append(parts, fmt.Sprintf("%s_%v", k.Key, k.Value))
		}
		name = strings.Join(parts, "_")
		spec.Name = name
	}
	for _, existing := range c.indexes {
		if existing.Name == name {
			return name, nil
		}
	}
	c.indexes = append(c.indexes, spec)
	return name, nil
}

func (c *MemoryCollection) first(filter any) (int, error) {
	f, err := toRaw(filter)
	if err != nil {
		return -1, err
	}
	for i, doc := range c.docs {
		ok, err := matches(doc, f)
		if err != nil {
			return -1, err
		}
		if ok {
			return i, nil
		}
	}
	return -1, nil
}

// checkUnique rejects doc when it collides with any document other than the
// one at skip on _id or a unique index.
func (c *MemoryCollection) checkUnique(doc bson.Raw, skip int) error {
	keySets := [][]string{{store.IDField}}
	for _, idx := range c.indexes {
		if !idx.Unique {
			continue
		}
		keys := make([]string, 0, len(idx.Keys))
		for _, k := range idx.Keys {
			keys = append(keys, k.Key)
		}
		keySets = append(keySets, keys)
	}

	for _, keys := range keySets {
		want := indexKey(doc, keys)
		for i, other := range c.docs {
			if i == skip {
				continue
			}
			if bytes.Equal(indexKey(other, keys), want) {
				return mongo.WriteException{
					WriteErrors: mongo.WriteErrors{{
						Code:    duplicateKeyCode,
						Message: fmt.Sprintf("E11000 duplicate key error dup key: %s", strings.Join(keys, ", ")),
					}},
				}
			}
		}
	}
	return nil
}

// indexKey concatenates the typed values of keys; missing fields index as
// null, as they do on the server.
func indexKey(doc bson.Raw, keys []string) []byte {
	var buf bytes.Buffer
	for _, k := range keys {
		v, err := doc.LookupErr(k)
		if err != nil {
			buf.WriteByte(byte(bson.TypeNull))
			continue
		}
		buf.WriteByte(byte(v.Type))
		buf.Write(v.Value)
	}
	return buf.Bytes()
}

func matches(doc, filter bson.Raw) (bool, error) {
	elems, err := filter.Elements()
	if err != nil {
		return false, err
	}
	for _, e := range elems {
		want := e.Value()
		got, err := doc.LookupErr(e.Key())
		if err != nil {
			return false, nil
		}
		if got.Type != want.Type || !bytes.Equal(got.Value, want.Value) {
			return false, nil
		}
	}
	return true, nil
}

func applySet(doc, set bson.Raw) (bson.Raw, error) {
	setElems, err := set.Elements()
	if err != nil {
		return nil, err
	}
	docElems, err := doc.Elements()
	if err != nil {
		return nil, err
	}

	replaced := make(map[string]bool, len(setElems))
	out := make(bson.D, 0, len(docElems)+len(setElems))
	for _, e := range docElems {
		v := e.Value()
		for _, s := range setElems {
			if s.Key() == e.Key() {
				v = s.Value()
				replaced[s.Key()] = true
				break
			}
		}
		out = append(out, bson.E{Key: e.Key(), Value: v})
	}
	for _, s := range setElems {
		if !replaced[s.Key()] {
			out = append(out, bson.E{Key: s.Key(), Value: s.Value()})
		}
	}
	return bson.Marshal(out)
}

func projectionFields(projection any) (map[string]bool, error) {
	if projection == nil {
		return nil, nil
	}
	raw, err := toRaw(projection)
	if err != nil {
		return nil, err
	}
	elems, err := raw.Elements()
	if err != nil {
		return nil, err
	}
	fields := make(map[string]bool, len(elems)+1)
	for _, e := range elems {
		fields[e.Key()] = true
	}
	fields[store.IDField] = true
	return fields, nil
}

func project(doc bson.Raw, fields map[string]bool) (bson.Raw, error) {
	if fields == nil {
		return clone(doc), nil
	}
	elems, err := doc.Elements()
	if err != nil {
		return nil, err
	}
	out := bson.D{}
	for _, e := range elems {
		if fields[e.Key()] {
			out = append(out, bson.E{Key: e.Key(), Value: e.Value()})
		}
	}
	return bson.Marshal(out)
}

func toRaw(v any) (bson.Raw, error) {
	if v == nil {
		return bson.Marshal(bson.D{})
	}
	if raw, ok := v.(bson.Raw); ok {
		return clone(raw), nil
	}
	return bson.Marshal(v)
}

func clone(raw bson.Raw) bson.Raw {
	return append(bson.Raw(nil), raw...)
}

// Connection is a controllable store.Connection backed by MemoryCollections.
type Connection struct {
	mu            sync.Mutex
	connected     bool
	initialized   bool
	collectionErr error
	collections   map[string]*MemoryCollection
}

// NewConnection returns a connected, initialized connection.
func NewConnection() *Connection {
	return &Connection{
		connected:   true,
		initialized: true,
		collections: make(map[string]*MemoryCollection),
	}
}

// SetReady changes the readiness flags reported to stores.
func (c *Connection) SetReady(connected, initialized bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = connected
	c.initialized = initialized
}

// FailCollection makes every Collection call return err until reset with nil.
func (c *Connection) FailCollection(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.collectionErr = err
}

func (c *Connection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Connection) DatabaseInitialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

func (c *Connection) Collection(name string) (store.Collection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.collectionErr != nil {
		return nil, c.collectionErr
	}
	return c.memory(name), nil
}

// Memory returns the backing collection for name, creating it if needed.
func (c *Connection) Memory(name string) *MemoryCollection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.memory(name)
}

func (c *Connection) memory(name string) *MemoryCollection {
	coll, ok := c.collections[name]
	if !ok {
		coll = NewMemoryCollection()
		c.collections[name] = coll
	}
	return coll
}

// ErrInjected is a convenience failure for FailNext.
var ErrInjected = errors.New("storetest: injected failure")
