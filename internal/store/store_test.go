package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/learnaware/tutor/internal/store"
	"github.com/learnaware/tutor/internal/store/storetest"
)

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *recordingObserver) ObserveStoreOperation(_, op, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, op+":"+outcome)
}

func newStore(t *testing.T, opts ...store.Option) (*store.Store, *storetest.Connection) {
	t.Helper()
	conn := storetest.NewConnection()
	return store.New(conn, "items", opts...), conn
}

func TestInsertOneAssignsIdentifier(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	in := store.Document{"name": "a", store.IDField: "caller-supplied"}
	out, err := s.InsertOne(ctx, in)
	require.NoError(t, err)

	id, ok := out[store.IDField].(string)
	require.True(t, ok, "identifier should be a string, got %T", out[store.IDField])
	_, valid := store.ObjectID(id)
	assert.True(t, valid)
	assert.Equal(t, "a", out["name"])
	assert.Equal(t, "caller-supplied", in[store.IDField], "input document must not be modified")

	doc, found, err := s.FindOne(ctx, store.ByID(id))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, id, doc[store.IDField])
}

func TestUniqueIndexRejectsDuplicate(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	_, err := s.CreateIndex(ctx, store.IndexSpec{Keys: bson.D{{Key: "email", Value: 1}}, Unique: true})
	require.NoError(t, err)

	_, err = s.InsertOne(ctx, store.Document{"email": "a@x.io"})
	require.NoError(t, err)
	_, err = s.InsertOne(ctx, store.Document{"email": "a@x.io"})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrDuplicateKey)
	assert.Equal(t, store.KindDuplicateKey, store.KindOf(err))

	docs, err := s.FindFiltered(ctx, store.Filter{"email": "a@x.io"})
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestUpdateOneOutcomes(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	_, err := s.InsertOne(ctx, store.Document{"key": "k", "name": "a"})
	require.NoError(t, err)

	_, err = s.UpdateOne(ctx, store.Filter{"key": "missing"}, store.Document{"name": "b"})
	assert.ErrorIs(t, err, store.ErrNotFound)

	res, err := s.UpdateOne(ctx, store.Filter{"key": "k"}, store.Document{"name": "a"})
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.False(t, res.Modified)
	assert.Nil(t, res.Document)

	res, err = s.UpdateOne(ctx, store.Filter{"key": "k"}, store.Document{"name": "b", store.IDField: "ignored"})
	require.NoError(t, err)
	assert.True(t, res.Modified)
	require.NotNil(t, res.Document)
	assert.Equal(t, "b", res.Document["name"])
}

func TestUpdateOneRejectsEmptyPatch(t *testing.T) {
	s, _ := newStore(t)

	_, err := s.UpdateOne(context.Background(), store.Filter{"key": "k"}, store.Document{store.IDField: "x"})
	assert.ErrorIs(t, err, store.ErrOperationFailed)
}

func TestUpdateOneOmitsDocumentWhenFilterNoLongerMatches(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	_, err := s.InsertOne(ctx, store.Document{"key": "k"})
	require.NoError(t, err)

	res, err := s.UpdateOne(ctx, store.Filter{"key": "k"}, store.Document{"key": "renamed"})
	require.NoError(t, err)
	assert.True(t, res.Modified)
	assert.Nil(t, res.Document)
}

func TestDeleteSemantics(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	res, err := s.DeleteMany(ctx, store.Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Count)
	assert.False(t, res.Deleted)

	_, err = s.DeleteOne(ctx, store.Filter{"key": "missing"})
	assert.ErrorIs(t, err, store.ErrNotFound)

	for _, k := range []string{"a", "b", "b"} {
		_, err := s.InsertOne(ctx, store.Document{"key": k})
		require.NoError(t, err)
	}
	res, err = s.DeleteOne(ctx, store.Filter{"key": "a"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Count)

	res, err = s.DeleteMany(ctx, store.Filter{"key": "b"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Count)
	assert.True(t, res.Deleted)
}

func TestFindFilteredProjectsFields(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	_, err := s.InsertOne(ctx, store.Document{"key": "k", "name": "a", "secret": "s"})
	require.NoError(t, err)

	docs, err := s.FindFiltered(ctx, store.Filter{"key": "k"}, "name")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "a", docs[0]["name"])
	assert.NotContains(t, docs[0], "secret")
	assert.Contains(t, docs[0], store.IDField)
}

func TestFindOneReportsAbsence(t *testing.T) {
	s, _ := newStore(t)

	doc, found, err := s.FindOne(context.Background(), store.Filter{"key": "none"})
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, doc)
}

func TestOperationsRequireReadyConnection(t *testing.T) {
	s, conn := newStore(t)
	ctx := context.Background()

	conn.SetReady(false, false)
	_, err := s.FindAll(ctx)
	assert.ErrorIs(t, err, store.ErrServiceUnavailable)
	assert.Contains(t, err.Error(), "connection is not available")

	conn.SetReady(true, false)
	_, err = s.InsertOne(ctx, store.Document{"key": "k"})
	assert.ErrorIs(t, err, store.ErrServiceUnavailable)
	assert.Contains(t, err.Error(), "not properly initialized")
	assert.Equal(t, 0, conn.Memory("items").Len())
}

func TestCollectionResolutionFailureIsUnexpected(t *testing.T) {
	s, conn := newStore(t)
	conn.FailCollection(errors.New("no handle"))

	_, err := s.FindAll(context.Background())
	assert.ErrorIs(t, err, store.ErrUnexpected)
}

func TestDriverFailuresAreTranslated(t *testing.T) {
	s, conn := newStore(t)
	ctx := context.Background()
	coll := conn.Memory("items")

	coll.FailNext(storetest.OpFind, mongo.CommandError{Code: 13, Message: "not authorized"})
	_, err := s.FindAll(ctx)
	assert.ErrorIs(t, err, store.ErrOperationFailed)

	coll.FailNext(storetest.OpInsertOne, storetest.ErrInjected)
	_, err = s.InsertOne(ctx, store.Document{"key": "k"})
	assert.ErrorIs(t, err, store.ErrUnexpected)
	assert.ErrorIs(t, err, storetest.ErrInjected)

	coll.FailNext(storetest.OpDeleteMany, context.Canceled)
	_, err = s.DeleteMany(ctx, store.Filter{})
	assert.ErrorIs(t, err, store.ErrOperationFailed)
}

func TestObserverSeesOutcomes(t *testing.T) {
	obs := &recordingObserver{}
	s, _ := newStore(t, store.WithObserver(obs))
	ctx := context.Background()

	_, err := s.InsertOne(ctx, store.Document{"key": "k"})
	require.NoError(t, err)
	_, _ = s.DeleteOne(ctx, store.Filter{"key": "none"})

	assert.Equal(t, []string{"insert_one:ok", "delete_one:not_found"}, obs.outcomes)
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[store.Kind]int{
		store.KindServiceUnavailable: 503,
		store.KindDuplicateKey:       400,
		store.KindNotFound:           404,
		store.KindOperationFailed:    500,
		store.KindUnexpected:         500,
	}
	for kind, want := range cases {
		assert.Equal(t, want, store.HTTPStatus(kind), string(kind))
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	type item struct {
		ID   string `bson:"_id,omitempty"`
		Name string `bson:"name"`
	}
	doc, err := store.Encode(item{Name: "a"})
	require.NoError(t, err)
	assert.NotContains(t, doc, store.IDField)

	doc[store.IDField] = "abc"
	got, err := store.Decode[item](doc)
	require.NoError(t, err)
	assert.Equal(t, item{ID: "abc", Name: "a"}, got)
}
