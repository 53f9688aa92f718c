// store/memstore/collection.go
package memstore

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const duplicateKeyCode = 11000

type collHandle struct {
	c    *client
	db   string
	name string
}

func (h *collHandle) Name() string { return h.name }

// with runs fn on the underlying collection under the server lock.
func (h *collHandle) with(ctx context.Context, fn func(*collection) error) error {
	if err := h.c.check(ctx); err != nil {
		return err
	}
	h.c.srv.mu.Lock()
	defer h.c.srv.mu.Unlock()
	return fn(h.c.srv.coll(h.db, h.name))
}

func (h *collHandle) FindOne(ctx context.Context, filter interface{}, _ ...*options.FindOneOptions) *mongo.SingleResult {
	var found bson.D
	err := h.with(ctx, func(c *collection) error {
		f, err := normalize(filter)
		if err != nil {
			return err
		}
		for _, d := range c.docs {
			ok, err := matches(d, f)
			if err != nil {
				return err
			}
			if ok {
				found = clone(d)
				return nil
			}
		}
		return mongo.ErrNoDocuments
	})
	if err != nil {
		return mongo.NewSingleResultFromDocument(bson.D{}, err, nil)
	}
	return mongo.NewSingleResultFromDocument(found, nil, nil)
}

func (h *collHandle) Find(ctx context.Context, filter interface{}, _ ...*options.FindOptions) (*mongo.Cursor, error) {
	var out []interface{}
	err := h.with(ctx, func(c *collection) error {
		docs, err := c.filter(filter)
		out = docs
		return err
	})
	if err != nil {
		return nil, err
	}
	return mongo.NewCursorFromDocuments(out, nil, nil)
}

func (h *collHandle) InsertOne(ctx context.Context, document interface{}, _ ...*options.InsertOneOptions) (*mongo.InsertOneResult, error) {
	var id interface{}
	err := h.with(ctx, func(c *collection) error {
		var err error
		id, err = c.insert(document)
		if err != nil {
			return mongo.WriteException{WriteErrors: mongo.WriteErrors{toWriteError(0, err)}}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &mongo.InsertOneResult{InsertedID: id}, nil
}

func (h *collHandle) InsertMany(ctx context.Context, documents []interface{}, _ ...*options.InsertManyOptions) (*mongo.InsertManyResult, error) {
	res := &mongo.InsertManyResult{}
	err := h.with(ctx, func(c *collection) error {
		for i, doc := range documents {
			id, err := c.insert(doc)
			if err != nil {
				return mongo.BulkWriteException{
					WriteErrors: []mongo.BulkWriteError{{WriteError: toWriteError(i, err)}},
				}
			}
			res.InsertedIDs = append(res.InsertedIDs, id)
		}
		return nil
	})
	if err != nil {
		return res, err
	}
	return res, nil
}

func (h *collHandle) UpdateOne(ctx context.Context, filter, update interface{}, _ ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	return h.update(ctx, filter, update, false)
}

func (h *collHandle) UpdateMany(ctx context.Context, filter, update interface{}, _ ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	return h.update(ctx, filter, update, true)
}

func (h *collHandle) update(ctx context.Context, filter, update interface{}, many bool) (*mongo.UpdateResult, error) {
	res := &mongo.UpdateResult{}
	err := h.with(ctx, func(c *collection) error {
		f, err := normalize(filter)
		if err != nil {
			return err
		}
		u, err := normalize(update)
		if err != nil {
			return err
		}
		for i, d := range c.docs {
			ok, err := matches(d, f)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			res.MatchedCount++
			next, err := applyUpdate(d, u)
			if err != nil {
				return err
			}
			if !equal(d, next) {
				if err := c.checkUnique(next, i); err != nil {
					return mongo.WriteException{WriteErrors: mongo.WriteErrors{toWriteError(0, err)}}
				}
				c.docs[i] = next
				res.ModifiedCount++
			}
			if !many {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (h *collHandle) DeleteOne(ctx context.Context, filter interface{}, _ ...*options.DeleteOptions) (*mongo.DeleteResult, error) {
	return h.delete(ctx, filter, false)
}

func (h *collHandle) DeleteMany(ctx context.Context, filter interface{}, _ ...*options.DeleteOptions) (*mongo.DeleteResult, error) {
	return h.delete(ctx, filter, true)
}

func (h *collHandle) delete(ctx context.Context, filter interface{}, many bool) (*mongo.DeleteResult, error) {
	res := &mongo.DeleteResult{}
	err := h.with(ctx, func(c *collection) error {
		f, err := normalize(filter)
		if err != nil {
			return err
		}
		kept := c.docs[:0:0]
		for _, d := range c.docs {
			if many || res.DeletedCount == 0 {
				ok, err := matches(d, f)
				if err != nil {
					return err
				}
				if ok {
					res.DeletedCount++
					continue
				}
			}
			kept = append(kept, d)
		}
		c.docs = kept
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (h *collHandle) CountDocuments(ctx context.Context, filter interface{}, _ ...*options.CountOptions) (int64, error) {
	var n int64
	err := h.with(ctx, func(c *collection) error {
		docs, err := c.filter(filter)
		n = int64(len(docs))
		return err
	})
	return n, err
}

func (h *collHandle) Aggregate(ctx context.Context, pipeline interface{}, _ ...*options.AggregateOptions) (*mongo.Cursor, error) {
	var out []interface{}
	err := h.with(ctx, func(c *collection) error {
		stages, err := normalizePipeline(pipeline)
		if err != nil {
			return err
		}
		docs := make([]bson.D, len(c.docs))
		for i, d := range c.docs {
			docs[i] = clone(d)
		}
		for _, st := range stages {
			if docs, err = runStage(docs, st); err != nil {
				return err
			}
		}
		out = make([]interface{}, len(docs))
		for i, d := range docs {
			out[i] = d
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return mongo.NewCursorFromDocuments(out, nil, nil)
}

func (h *collHandle) CreateIndex(ctx context.Context, model mongo.IndexModel) (string, error) {
	keys, err := normalize(model.Keys)
	if err != nil {
		return "", err
	}
	if len(keys) == 0 {
		return "", fmt.Errorf("memstore: index keys required")
	}
	paths := make([]string, len(keys))
	parts := make([]string, len(keys))
	for i, k := range keys {
		paths[i] = k.Key
		parts[i] = fmt.Sprintf("%s_%v", k.Key, k.Value)
	}
	name := strings.Join(parts, "_")
	unique := model.Options != nil && model.Options.Unique != nil && *model.Options.Unique

	err = h.with(ctx, func(c *collection) error {
		if !unique {
			return nil
		}
		for _, u := range c.unique {
			if strings.Join(u, ",") == strings.Join(paths, ",") {
				return nil
			}
		}
		for i, d := range c.docs {
			if err := c.checkUniqueOn(d, i, paths); err != nil {
				return err
			}
		}
		c.unique = append(c.unique, paths)
		return nil
	})
	if err != nil {
		return "", err
	}
	return name, nil
}

// filter returns clones of every document matching filter.
func (c *collection) filter(filter interface{}) ([]interface{}, error) {
	f, err := normalize(filter)
	if err != nil {
		return nil, err
	}
	out := []interface{}{}
	for _, d := range c.docs {
		ok, err := matches(d, f)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, clone(d))
		}
	}
	return out, nil
}

// insert normalizes document, assigns an ObjectID when it has no _id,
// and appends it.
func (c *collection) insert(document interface{}) (interface{}, error) {
	d, err := normalize(document)
	if err != nil {
		return nil, err
	}
	id, ok := lookup(d, "_id")
	if !ok {
		id = primitive.NewObjectID()
		d = append(bson.D{{Key: "_id", Value: id}}, d...)
	}
	if err := c.checkUnique(d, -1); err != nil {
		return nil, err
	}
	c.docs = append(c.docs, d)
	return id, nil
}

// checkUnique fails when d collides on _id or on any unique index with a
// stored document other than the one at index self.
func (c *collection) checkUnique(d bson.D, self int) error {
	if err := c.checkUniqueOn(d, self, []string{"_id"}); err != nil {
		return err
	}
	for _, paths := range c.unique {
		if err := c.checkUniqueOn(d, self, paths); err != nil {
			return err
		}
	}
	return nil
}

func (c *collection) checkUniqueOn(d bson.D, self int, paths []string) error {
	for i, other := range c.docs {
		if i == self {
			continue
		}
		same := true
		for _, p := range paths {
			a, _ := lookup(d, p)
			b, _ := lookup(other, p)
			if !equal(a, b) {
				same = false
				break
			}
		}
		if same {
			return dupError{paths: paths, doc: d}
		}
	}
	return nil
}

type dupError struct {
	paths []string
	doc   bson.D
}

func (e dupError) Error() string {
	parts := make([]string, len(e.paths))
	for i, p := range e.paths {
		v, _ := lookup(e.doc, p)
		parts[i] = fmt.Sprintf("%s: %v", p, v)
	}
	return fmt.Sprintf("E11000 duplicate key error dup key: { %s }", strings.Join(parts, ", "))
}

func toWriteError(index int, err error) mongo.WriteError {
	we := mongo.WriteError{Index: index, Code: 2, Message: err.Error()}
	if _, ok := err.(dupError); ok {
		we.Code = duplicateKeyCode
	}
	return we
}
