package store

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// IndexSpec declares an index on a collection.
type IndexSpec struct {
	Keys   bson.D
	Unique bool
	Name   string
}

// Collection is the set of driver operations a Store issues against one
// named collection. FindOne reports absence with mongo.ErrNoDocuments.
type Collection interface {
	Find(ctx context.Context, filter any, projection any) ([]bson.Raw, error)
	FindOne(ctx context.Context, filter any) (bson.Raw, error)
	InsertOne(ctx context.Context, doc any) (any, error)
	UpdateOne(ctx context.Context, filter any, update any) (*mongo.UpdateResult, error)
	DeleteOne(ctx context.Context, filter any) (*mongo.DeleteResult, error)
	DeleteMany(ctx context.Context, filter any) (*mongo.DeleteResult, error)
	CreateIndex(ctx context.Context, spec IndexSpec) (string, error)
}

// Connection is the readiness and handle source a Store depends on. The
// database.Manager implements it; stores never mutate it.
type Connection interface {
	IsConnected() bool
	DatabaseInitialized() bool
	Collection(name string) (Collection, error)
}
