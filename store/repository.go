// store/repository.go
package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
)

// Repo is entity-level access by opaque string id.
type Repo interface {
	FindByID(ctx context.Context, id string) (bson.M, error)
	FindAll(ctx context.Context) ([]bson.M, error)
	Save(ctx context.Context, entity bson.M) (string, error)
	Update(ctx context.Context, id string, entity bson.M) (bool, error)
	Delete(ctx context.Context, id string) (bool, error)
}

var _ Repo = (*Repository)(nil)

// Repository implements Repo on top of one Operation.
type Repository struct {
	op *Operation
}

func NewRepository(op *Operation) *Repository {
	return &Repository{op: op}
}

// Operation exposes the underlying Operation for queries Repo does not cover.
func (r *Repository) Operation() *Operation { return r.op }

// FindByID returns the entity with id, or nil when there is none.
func (r *Repository) FindByID(ctx context.Context, id string) (bson.M, error) {
	oid, err := ParseID(id)
	if err != nil {
		return nil, err
	}
	return r.op.FindOne(ctx, bson.M{"_id": oid})
}

// FindAll returns every entity in the collection.
func (r *Repository) FindAll(ctx context.Context) ([]bson.M, error) {
	return r.op.Find(ctx, bson.M{})
}

// Save inserts entity and returns the new id.
func (r *Repository) Save(ctx context.Context, entity bson.M) (string, error) {
	return r.op.InsertOne(ctx, entity)
}

// Update $sets the fields of entity on the document with id. The "_id" key
// is ignored and entity itself is left untouched. It reports whether a
// document was modified: a well-formed id that matches nothing gives
// false, nil, while an id that is not 24 hex characters returns
// ErrInvalidIdentifier without touching the store.
func (r *Repository) Update(ctx context.Context, id string, entity bson.M) (bool, error) {
	oid, err := ParseID(id)
	if err != nil {
		return false, err
	}
	fields := make(bson.M, len(entity))
	for k, v := range entity {
		if k != "_id" {
			fields[k] = v
		}
	}
	if len(fields) == 0 {
		return false, ErrEmptyUpdate
	}
	n, err := r.op.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": fields})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Delete removes the document with id and reports whether one was removed.
func (r *Repository) Delete(ctx context.Context, id string) (bool, error) {
	oid, err := ParseID(id)
	if err != nil {
		return false, err
	}
	n, err := r.op.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
