package database

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/learnaware/tutor/internal/store"
)

// Dial creates a pooled MongoDB client. The driver connects lazily, so
// reachability is established by the first Ping.
func Dial(_ context.Context, opts Options) (Client, error) {
	clientOpts := options.Client().ApplyURI(opts.URI)
	if opts.MaxPoolSize > 0 {
		clientOpts.SetMaxPoolSize(uint64(opts.MaxPoolSize))
	}
	if opts.MinPoolSize > 0 {
		clientOpts.SetMinPoolSize(uint64(opts.MinPoolSize))
	}
	if opts.MaxIdleTime > 0 {
		clientOpts.SetMaxConnIdleTime(opts.MaxIdleTime)
	}
	if opts.ConnectTimeout > 0 {
		clientOpts.SetConnectTimeout(opts.ConnectTimeout)
	}
	if opts.ServerSelectionTimeout > 0 {
		clientOpts.SetServerSelectionTimeout(opts.ServerSelectionTimeout)
	}

	client, err := mongo.Connect(clientOpts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	return &mongoClient{client: client}, nil
}

type mongoClient struct {
	client *mongo.Client
}

func (c *mongoClient) Ping(ctx context.Context) error {
	return c.client.Ping(ctx, readpref.Primary())
}

func (c *mongoClient) ListCollectionNames(ctx context.Context, database string) ([]string, error) {
	return c.client.Database(database).ListCollectionNames(ctx, bson.D{})
}

func (c *mongoClient) Collection(database, name string) store.Collection {
	return &mongoCollection{coll: c.client.Database(database).Collection(name)}
}

func (c *mongoClient) Disconnect(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

type mongoCollection struct {
	coll *mongo.Collection
}

func (c *mongoCollection) Find(ctx context.Context, filter any, projection any) ([]bson.Raw, error) {
	opts := options.Find()
	if projection != nil {
		opts.SetProjection(projection)
	}
	cur, err := c.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := make([]bson.Raw, 0)
	for cur.Next(ctx) {
		out = append(out, append(bson.Raw(nil), cur.Current...))
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *mongoCollection) FindOne(ctx context.Context, filter any) (bson.Raw, error) {
	return c.coll.FindOne(ctx, filter).Raw()
}

func (c *mongoCollection) InsertOne(ctx context.Context, doc any) (any, error) {
	res, err := c.coll.InsertOne(ctx, doc)
	if err != nil {
		return nil, err
	}
	return res.InsertedID, nil
}

func (c *mongoCollection) UpdateOne(ctx context.Context, filter any, update any) (*mongo.UpdateResult, error) {
	return c.coll.UpdateOne(ctx, filter, update)
}

func (c *mongoCollection) DeleteOne(ctx context.Context, filter any) (*mongo.DeleteResult, error) {
	return c.coll.DeleteOne(ctx, filter)
}

func (c *mongoCollection) DeleteMany(ctx context.Context, filter any) (*mongo.DeleteResult, error) {
	return c.coll.DeleteMany(ctx, filter)
}

func (c *mongoCollection) CreateIndex(ctx context.Context, spec store.IndexSpec) (string, error) {
	opts := options.Index()
	if spec.Unique {
		opts.SetUnique(true)
	}
	if spec.Name != "" {
		opts.SetName(spec.Name)
	}
	return c.coll.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: spec.Keys, Options: opts})
}
