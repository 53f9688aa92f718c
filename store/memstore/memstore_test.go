package memstore

import (
	"context"
	"testing"

	"github.com/dalemusser/docstore/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func dial(t *testing.T, s *Server) store.Client {
	t.Helper()
	c, err := s.Dialer()(context.Background(), store.Config{})
	require.NoError(t, err)
	return c
}

func TestInsertFindUpdateDelete(t *testing.T) {
	ctx := context.Background()
	s := New()
	coll := dial(t, s).Database("app").Collection("users")

	res, err := coll.InsertOne(ctx, bson.M{"name": "Ada", "age": 36})
	require.NoError(t, err)
	oid, ok := res.InsertedID.(primitive.ObjectID)
	require.True(t, ok)

	var got bson.M
	require.NoError(t, coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&got))
	assert.Equal(t, "Ada", got["name"])

	err = coll.FindOne(ctx, bson.M{"name": "nobody"}).Decode(&got)
	assert.ErrorIs(t, err, mongo.ErrNoDocuments)

	up, err := coll.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": bson.M{"age": 37}})
	require.NoError(t, err)
	assert.EqualValues(t, 1, up.MatchedCount)
	assert.EqualValues(t, 1, up.ModifiedCount)

	// Setting the same value matches but modifies nothing.
	up, err = coll.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": bson.M{"age": 37}})
	require.NoError(t, err)
	assert.EqualValues(t, 1, up.MatchedCount)
	assert.EqualValues(t, 0, up.ModifiedCount)

	_, err = coll.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": bson.M{"_id": primitive.NewObjectID()}})
	assert.Error(t, err)

	n, err := coll.CountDocuments(ctx, bson.M{"age": bson.M{"$gte": 30}})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	del, err := coll.DeleteOne(ctx, bson.M{"_id": oid})
	require.NoError(t, err)
	assert.EqualValues(t, 1, del.DeletedCount)

	cur, err := coll.Find(ctx, bson.M{})
	require.NoError(t, err)
	var all []bson.M
	require.NoError(t, cur.All(ctx, &all))
	assert.Empty(t, all)
}

func TestUniqueIndex(t *testing.T) {
	ctx := context.Background()
	coll := dial(t, New()).Database("app").Collection("users")

	name, err := coll.CreateIndex(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	require.NoError(t, err)
	assert.Equal(t, "email_1", name)

	_, err = coll.InsertOne(ctx, bson.M{"email": "a@example.com"})
	require.NoError(t, err)

	_, err = coll.InsertOne(ctx, bson.M{"email": "a@example.com"})
	require.Error(t, err)
	assert.True(t, mongo.IsDuplicateKeyError(err))
	assert.True(t, store.IsDuplicate(err))

	res, err := coll.InsertOne(ctx, bson.M{"email": "b@example.com"})
	require.NoError(t, err)
	_, err = coll.UpdateOne(ctx, bson.M{"_id": res.InsertedID}, bson.M{"$set": bson.M{"email": "a@example.com"}})
	assert.True(t, store.IsDuplicate(err))

	_, err = coll.InsertMany(ctx, []interface{}{bson.M{"email": "c@example.com"}, bson.M{"email": "c@example.com"}})
	assert.True(t, store.IsDuplicate(err))
}

func TestAggregateBucket(t *testing.T) {
	ctx := context.Background()
	coll := dial(t, New()).Database("app").Collection("users")

	docs := []interface{}{
		bson.M{"age": 10}, bson.M{"age": 20}, bson.M{"age": 25},
		bson.M{"age": 60}, bson.M{"name": "no age"},
	}
	_, err := coll.InsertMany(ctx, docs)
	require.NoError(t, err)

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{}}},
		{{Key: "$bucket", Value: bson.D{
			{Key: "groupBy", Value: "$age"},
			{Key: "boundaries", Value: bson.A{0, 18, 30, 50, 100}},
			{Key: "default", Value: "unknown"},
			{Key: "output", Value: bson.D{{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}}}},
		}}},
	}
	cur, err := coll.Aggregate(ctx, pipeline)
	require.NoError(t, err)
	var out []bson.M
	require.NoError(t, cur.All(ctx, &out))

	require.Len(t, out, 4)
	assert.EqualValues(t, 0, out[0]["_id"])
	assert.EqualValues(t, 1, out[0]["count"])
	assert.EqualValues(t, 18, out[1]["_id"])
	assert.EqualValues(t, 2, out[1]["count"])
	assert.EqualValues(t, 50, out[2]["_id"])
	assert.Equal(t, "unknown", out[3]["_id"])
	assert.EqualValues(t, 1, out[3]["count"])
}

func TestAggregateBucketPush(t *testing.T) {
	ctx := context.Background()
	coll := dial(t, New()).Database("app").Collection("users")

	_, err := coll.InsertMany(ctx, []interface{}{
		bson.M{"name": "Ada", "email": "ada@example.com", "age": 36},
		bson.M{"name": "Grace", "email": "grace@example.com", "age": 45},
	})
	require.NoError(t, err)

	cur, err := coll.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$bucket", Value: bson.D{
			{Key: "groupBy", Value: "$age"},
			{Key: "boundaries", Value: bson.A{0, 30, 50}},
			{Key: "output", Value: bson.D{
				{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
				{Key: "users", Value: bson.D{{Key: "$push", Value: bson.D{
					{Key: "name", Value: "$name"},
					{Key: "email", Value: "$email"},
				}}}},
			}},
		}}},
	})
	require.NoError(t, err)
	var out []bson.D
	require.NoError(t, cur.All(ctx, &out))

	require.Len(t, out, 1)
	assert.Equal(t, bson.D{
		{Key: "_id", Value: int32(30)},
		{Key: "count", Value: int32(2)},
		{Key: "users", Value: bson.A{
			bson.D{{Key: "name", Value: "Ada"}, {Key: "email", Value: "ada@example.com"}},
			bson.D{{Key: "name", Value: "Grace"}, {Key: "email", Value: "grace@example.com"}},
		}},
	}, out[0])
}

func TestServerDownAndClosedClient(t *testing.T) {
	ctx := context.Background()
	s := New()
	c := dial(t, s)
	assert.Equal(t, 1, s.OpenClients())

	s.SetDown(true)
	err := c.Ping(ctx)
	require.Error(t, err)
	assert.True(t, store.IsUnavailable(err))

	s.SetDown(false)
	require.NoError(t, c.Ping(ctx))

	require.NoError(t, c.Disconnect(ctx))
	assert.Equal(t, 0, s.OpenClients())
	assert.ErrorIs(t, c.Ping(ctx), mongo.ErrClientDisconnected)

	_, err = c.Database("app").Collection("users").InsertOne(ctx, bson.M{"x": 1})
	assert.ErrorIs(t, err, mongo.ErrClientDisconnected)
}

func TestSharedDataAcrossClients(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := dial(t, s).Database("app").Collection("c").InsertOne(ctx, bson.M{"k": "v"})
	require.NoError(t, err)

	n, err := dial(t, s).Database("app").Collection("c").CountDocuments(ctx, bson.M{"k": "v"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, 2, s.Dials())
}

func TestSessions(t *testing.T) {
	ctx := context.Background()
	s := New()
	sess, err := dial(t, s).StartSession(ctx)
	require.NoError(t, err)

	bound := sess.Bind(ctx)
	assert.True(t, InSession(bound))
	assert.False(t, InSession(ctx))

	sess.End(ctx)
	sess.End(ctx)
	assert.False(t, InSession(bound))
	begun, ended := s.Sessions()
	assert.Equal(t, 1, begun)
	assert.Equal(t, 1, ended)
}
