// store/operation.go
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Operation runs driver calls against one named collection. It holds no
// collection object: every call resolves the collection again, so an
// Operation keeps working across a Handle refresh.
type Operation struct {
	resolver   CollectionResolver
	collection string
	database   string
	observer   Observer
}

// OperationOption configures an Operation.
type OperationOption func(*Operation)

// InDatabase targets database instead of the handle's default.
func InDatabase(name string) OperationOption {
	return func(o *Operation) { o.database = name }
}

// ObservedBy reports call timings to obs instead of the resolver's observer.
func ObservedBy(obs Observer) OperationOption {
	return func(o *Operation) {
		if obs != nil {
			o.observer = obs
		}
	}
}

type observed interface {
	observer() Observer
}

func (h *Handle) observer() Observer { return h.opts.observer }

// NewOperation returns an Operation for collection on r.
func NewOperation(r CollectionResolver, collection string, opts ...OperationOption) *Operation {
	o := &Operation{resolver: r, collection: collection, observer: nopObserver{}}
	if ob, ok := r.(observed); ok {
		o.observer = ob.observer()
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// CollectionName is the collection this Operation targets.
func (o *Operation) CollectionName() string { return o.collection }

func (o *Operation) coll() (Collection, error) {
	return o.resolver.Collection(o.collection, o.database)
}

func (o *Operation) observe(op string, start time.Time, err *error) {
	o.observer.OperationDone(o.collection, op, time.Since(start), *err)
}

// FindOne returns the first matching document, or nil when nothing matches.
func (o *Operation) FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) (doc bson.M, err error) {
	defer o.observe("find_one", time.Now(), &err)
	c, err := o.coll()
	if err != nil {
		return nil, err
	}
	if err = c.FindOne(ctx, orEmpty(filter), opts...).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			err = nil
		}
		return nil, err
	}
	return doc, nil
}

// Find returns every matching document. The result is never nil.
func (o *Operation) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (docs []bson.M, err error) {
	defer o.observe("find", time.Now(), &err)
	c, err := o.coll()
	if err != nil {
		return nil, err
	}
	cur, err := c.Find(ctx, orEmpty(filter), opts...)
	if err != nil {
		return nil, err
	}
	docs = []bson.M{}
	if err = cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// InsertOne inserts document and returns its id as a string.
func (o *Operation) InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (id string, err error) {
	defer o.observe("insert_one", time.Now(), &err)
	c, err := o.coll()
	if err != nil {
		return "", err
	}
	res, err := c.InsertOne(ctx, document, opts...)
	if err != nil {
		return "", err
	}
	return IDString(res.InsertedID), nil
}

// InsertMany inserts documents and returns their ids in insertion order.
func (o *Operation) InsertMany(ctx context.Context, documents []interface{}, opts ...*options.InsertManyOptions) (ids []string, err error) {
	defer o.observe("insert_many", time.Now(), &err)
	c, err := o.coll()
	if err != nil {
		return nil, err
	}
	res, err := c.InsertMany(ctx, documents, opts...)
	if err != nil {
		return nil, err
	}
	ids = make([]string, 0, len(res.InsertedIDs))
	for _, v := range res.InsertedIDs {
		ids = append(ids, IDString(v))
	}
	return ids, nil
}

// UpdateOne applies update to the first match and returns the modified count.
func (o *Operation) UpdateOne(ctx context.Context, filter, update interface{}, opts ...*options.UpdateOptions) (modified int64, err error) {
	defer o.observe("update_one", time.Now(), &err)
	c, err := o.coll()
	if err != nil {
		return 0, err
	}
	res, err := c.UpdateOne(ctx, orEmpty(filter), update, opts...)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// UpdateMany applies update to every match and returns the modified count.
func (o *Operation) UpdateMany(ctx context.Context, filter, update interface{}, opts ...*options.UpdateOptions) (modified int64, err error) {
	defer o.observe("update_many", time.Now(), &err)
	c, err := o.coll()
	if err != nil {
		return 0, err
	}
	res, err := c.UpdateMany(ctx, orEmpty(filter), update, opts...)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// DeleteOne removes the first match and returns the deleted count.
func (o *Operation) DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (deleted int64, err error) {
	defer o.observe("delete_one", time.Now(), &err)
	c, err := o.coll()
	if err != nil {
		return 0, err
	}
	res, err := c.DeleteOne(ctx, orEmpty(filter), opts...)
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// DeleteMany removes every match and returns the deleted count.
func (o *Operation) DeleteMany(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (deleted int64, err error) {
	defer o.observe("delete_many", time.Now(), &err)
	c, err := o.coll()
	if err != nil {
		return 0, err
	}
	res, err := c.DeleteMany(ctx, orEmpty(filter), opts...)
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// Count returns the number of matching documents.
func (o *Operation) Count(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (n int64, err error) {
	defer o.observe("count", time.Now(), &err)
	c, err := o.coll()
	if err != nil {
		return 0, err
	}
	return c.CountDocuments(ctx, orEmpty(filter), opts...)
}

// Aggregate runs pipeline and returns every result document.
func (o *Operation) Aggregate(ctx context.Context, pipeline interface{}, opts ...*options.AggregateOptions) (docs []bson.M, err error) {
	defer o.observe("aggregate", time.Now(), &err)
	c, err := o.coll()
	if err != nil {
		return nil, err
	}
	cur, err := c.Aggregate(ctx, pipeline, opts...)
	if err != nil {
		return nil, err
	}
	docs = []bson.M{}
	if err = cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// EnsureIndex creates an index on keys if it does not exist and returns its name.
func (o *Operation) EnsureIndex(ctx context.Context, keys bson.D, unique bool) (name string, err error) {
	defer o.observe("create_index", time.Now(), &err)
	c, err := o.coll()
	if err != nil {
		return "", err
	}
	model := mongo.IndexModel{Keys: keys, Options: options.Index().SetUnique(unique)}
	return c.CreateIndex(ctx, model)
}

// IDString renders a document id as text. ObjectIDs become 24-char hex.
func IDString(v interface{}) string {
	switch id := v.(type) {
	case primitive.ObjectID:
		return id.Hex()
	case string:
		return id
	case nil:
		return ""
	default:
		return fmt.Sprint(id)
	}
}

// ParseID parses a 24-char hex ObjectID.
func ParseID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%w: %q", ErrInvalidIdentifier, id)
	}
	return oid, nil
}

func orEmpty(filter interface{}) interface{} {
	if filter == nil {
		return bson.D{}
	}
	return filter
}
