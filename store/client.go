// store/client.go
package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/event"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Dialer opens a client for cfg. It must not probe the server; the Handle
// does that itself so every backend gets the same liveness check.
type Dialer func(ctx context.Context, cfg Config) (Client, error)

// Client is the part of a driver client a Handle owns.
type Client interface {
	// Ping runs the admin "ping" command.
	Ping(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Database(name string) Database
	StartSession(ctx context.Context) (Session, error)
}

// Database is a named database on a Client.
type Database interface {
	Name() string
	Collection(name string) Collection
}

// Collection is the method set Operation forwards to. *mongo.Collection
// satisfies everything except CreateIndex, which the mongo adapter adds.
type Collection interface {
	Name() string
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
	InsertMany(ctx context.Context, documents []interface{}, opts ...*options.InsertManyOptions) (*mongo.InsertManyResult, error)
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	UpdateMany(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
	DeleteMany(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
	Aggregate(ctx context.Context, pipeline interface{}, opts ...*options.AggregateOptions) (*mongo.Cursor, error)
	CreateIndex(ctx context.Context, model mongo.IndexModel) (string, error)
}

// Session is a driver session scoped by Handle.WithSession.
type Session interface {
	// Bind returns a context that carries the session, so operations run
	// with it participate in the session.
	Bind(ctx context.Context) context.Context
	End(ctx context.Context)
}

// MongoDialer returns a Dialer backed by the official driver. monitor may
// be nil; when set it receives connection pool events.
func MongoDialer(monitor *event.PoolMonitor) Dialer {
	return func(ctx context.Context, cfg Config) (Client, error) {
		opts := cfg.ClientOptions()
		if monitor != nil {
			opts.SetPoolMonitor(monitor)
		}
		c, err := mongo.Connect(ctx, opts)
		if err != nil {
			return nil, err
		}
		return &mongoClient{c: c}, nil
	}
}

type mongoClient struct {
	c *mongo.Client
}

func (m *mongoClient) Ping(ctx context.Context) error {
	return m.c.Database("admin").RunCommand(ctx, bson.D{{Key: "ping", Value: 1}}).Err()
}

func (m *mongoClient) Disconnect(ctx context.Context) error {
	return m.c.Disconnect(ctx)
}

func (m *mongoClient) Database(name string) Database {
	return mongoDatabase{db: m.c.Database(name)}
}

func (m *mongoClient) StartSession(_ context.Context) (Session, error) {
	s, err := m.c.StartSession()
	if err != nil {
		return nil, err
	}
	return mongoSession{s: s}, nil
}

type mongoDatabase struct {
	db *mongo.Database
}

func (d mongoDatabase) Name() string { return d.db.Name() }

func (d mongoDatabase) Collection(name string) Collection {
	return mongoCollection{Collection: d.db.Collection(name)}
}

type mongoCollection struct {
	*mongo.Collection
}

func (c mongoCollection) CreateIndex(ctx context.Context, model mongo.IndexModel) (string, error) {
	return c.Indexes().CreateOne(ctx, model)
}

type mongoSession struct {
	s mongo.Session
}

func (s mongoSession) Bind(ctx context.Context) context.Context {
	return mongo.NewSessionContext(ctx, s.s)
}

func (s mongoSession) End(ctx context.Context) {
	s.s.EndSession(ctx)
}
