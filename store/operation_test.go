package store_test

import (
	"context"
	"testing"

	"github.com/dalemusser/docstore/store"
	"github.com/dalemusser/docstore/store/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestOperation_CRUD(t *testing.T) {
	ctx := context.Background()
	h := connected(t, memstore.New())
	op := store.NewOperation(h, "widgets")
	assert.Equal(t, "widgets", op.CollectionName())

	id, err := op.InsertOne(ctx, bson.M{"name": "bolt", "size": 3})
	require.NoError(t, err)
	assert.Len(t, id, 24)

	ids, err := op.InsertMany(ctx, []interface{}{
		bson.M{"name": "nut", "size": 3},
		bson.M{"_id": "custom", "name": "washer", "size": 5},
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Len(t, ids[0], 24)
	assert.Equal(t, "custom", ids[1])

	doc, err := op.FindOne(ctx, bson.M{"name": "bolt"})
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "bolt", doc["name"])

	doc, err = op.FindOne(ctx, bson.M{"name": "gear"})
	require.NoError(t, err)
	assert.Nil(t, doc)

	docs, err := op.Find(ctx, bson.M{"size": 3})
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	docs, err = op.Find(ctx, bson.M{"size": 99})
	require.NoError(t, err)
	assert.NotNil(t, docs)
	assert.Empty(t, docs)

	n, err := op.UpdateMany(ctx, bson.M{"size": 3}, bson.M{"$set": bson.M{"size": 4}})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = op.UpdateOne(ctx, bson.M{"name": "missing"}, bson.M{"$set": bson.M{"size": 1}})
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	count, err := op.Count(ctx, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)

	agg, err := op.Aggregate(ctx, mongo.Pipeline{{{Key: "$match", Value: bson.D{{Key: "size", Value: 4}}}}})
	require.NoError(t, err)
	assert.Len(t, agg, 2)

	n, err = op.DeleteOne(ctx, bson.M{"_id": "custom"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = op.DeleteMany(ctx, bson.M{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestOperation_EnsureIndex(t *testing.T) {
	ctx := context.Background()
	op := store.NewOperation(connected(t, memstore.New()), "users")

	name, err := op.EnsureIndex(ctx, bson.D{{Key: "email", Value: 1}}, true)
	require.NoError(t, err)
	assert.Equal(t, "email_1", name)

	_, err = op.InsertOne(ctx, bson.M{"email": "a@example.com"})
	require.NoError(t, err)
	_, err = op.InsertOne(ctx, bson.M{"email": "a@example.com"})
	assert.True(t, store.IsDuplicate(err))
}

func TestOperation_NotConnected(t *testing.T) {
	ctx := context.Background()
	op := store.NewOperation(newHandle(t, memstore.New()), "users")

	_, err := op.FindOne(ctx, bson.M{})
	assert.ErrorIs(t, err, store.ErrNotInitialized)
	_, err = op.InsertOne(ctx, bson.M{"x": 1})
	assert.ErrorIs(t, err, store.ErrNotInitialized)
	assert.True(t, store.IsUnavailable(err))
}

func TestOperation_SurvivesRefresh(t *testing.T) {
	ctx := context.Background()
	h := connected(t, memstore.New())
	op := store.NewOperation(h, "users")

	_, err := op.InsertOne(ctx, bson.M{"name": "before"})
	require.NoError(t, err)

	require.NoError(t, h.Refresh(ctx))

	_, err = op.InsertOne(ctx, bson.M{"name": "after"})
	require.NoError(t, err)
	n, err := op.Count(ctx, bson.M{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestOperation_InDatabase(t *testing.T) {
	ctx := context.Background()
	h := connected(t, memstore.New())
	def := store.NewOperation(h, "users")
	other := store.NewOperation(h, "users", store.InDatabase("archive"))

	_, err := other.InsertOne(ctx, bson.M{"name": "old"})
	require.NoError(t, err)

	n, err := def.Count(ctx, bson.M{})
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
	n, err = other.Count(ctx, bson.M{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestOperation_ReportsToObserver(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	h := connected(t, memstore.New(), store.WithObserver(rec))
	op := store.NewOperation(h, "users")

	_, err := op.InsertOne(ctx, bson.M{"name": "x"})
	require.NoError(t, err)
	_, err = op.Find(ctx, bson.M{"$where": "1"})
	require.Error(t, err)

	assert.Equal(t, []string{"users.insert_one:ok", "users.find:error"}, rec.snapshot().ops)

	other := &recorder{}
	op = store.NewOperation(h, "users", store.ObservedBy(other))
	_, err = op.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"users.count:ok"}, other.snapshot().ops)
}

func TestIDString(t *testing.T) {
	oid, err := store.ParseID("64b7f0c2a1b2c3d4e5f60718")
	require.NoError(t, err)
	assert.Equal(t, "64b7f0c2a1b2c3d4e5f60718", store.IDString(oid))
	assert.Equal(t, "abc", store.IDString("abc"))
	assert.Equal(t, "42", store.IDString(int32(42)))
	assert.Equal(t, "", store.IDString(nil))

	_, err = store.ParseID("not-an-id")
	assert.ErrorIs(t, err, store.ErrInvalidIdentifier)
}
