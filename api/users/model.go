// api/users/model.go
package users

import (
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// User is the stored user document as returned to clients.
type User struct {
	ID        primitive.ObjectID `bson:"_id" json:"_id"`
	Name      string             `bson:"name" json:"name"`
	Email     string             `bson:"email" json:"email"`
	Age       *int               `bson:"age" json:"age"`
	CreatedAt *time.Time         `bson:"created_at" json:"created_at"`
}

// CreateRequest is the POST /users body.
type CreateRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Age   *int   `json:"age"`
}

func (c CreateRequest) validate() error {
	var missing []string
	if strings.TrimSpace(c.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(c.Email) == "" {
		missing = append(missing, "email")
	}
	if len(missing) > 0 {
		return errors.New("missing required field(s): " + strings.Join(missing, ", "))
	}
	if !validEmail(c.Email) {
		return errInvalidEmail
	}
	return nil
}

var errInvalidEmail = errors.New("email is not a valid address")

// validEmail is a guardrail, not an RFC validator: it wants a non-empty
// local part, an '@' and a dot in the domain.
func validEmail(s string) bool {
	s = strings.TrimSpace(s)
	at := strings.IndexByte(s, '@')
	if at <= 0 || at == len(s)-1 {
		return false
	}
	return strings.Contains(s[at+1:], ".")
}

func (c CreateRequest) document(now time.Time) bson.M {
	return bson.M{
		"name":       c.Name,
		"email":      c.Email,
		"age":        c.Age,
		"created_at": now,
	}
}

// UpdateRequest is the PUT /users/{id} body. Absent (or null) fields are
// left unchanged.
type UpdateRequest struct {
	Name  *string `json:"name"`
	Email *string `json:"email"`
	Age   *int    `json:"age"`
}

func (u UpdateRequest) validate() error {
	if u.Name != nil && strings.TrimSpace(*u.Name) == "" {
		return errors.New("name must not be empty")
	}
	if u.Email != nil && !validEmail(*u.Email) {
		return errInvalidEmail
	}
	return nil
}

func (u UpdateRequest) fields() bson.M {
	f := bson.M{}
	if u.Name != nil {
		f["name"] = *u.Name
	}
	if u.Email != nil {
		f["email"] = *u.Email
	}
	if u.Age != nil {
		f["age"] = *u.Age
	}
	return f
}

// UserSummary is one member of an age group.
type UserSummary struct {
	Name  string `bson:"name" json:"name"`
	Email string `bson:"email" json:"email"`
}

// AgeGroup is one $bucket result. ID is the bucket's lower bound, or
// "unknown" for users without an age in range.
type AgeGroup struct {
	ID    interface{}   `bson:"_id" json:"_id"`
	Count int64         `bson:"count" json:"count"`
	Users []UserSummary `bson:"users" json:"users"`
}

// ageBoundaries are the lower bounds of the age groups; 100 closes the last.
var ageBoundaries = bson.A{0, 18, 30, 50, 100}

func ageGroupPipeline() bson.A {
	return bson.A{
		bson.D{{Key: "$bucket", Value: bson.D{
			{Key: "groupBy", Value: "$age"},
			{Key: "boundaries", Value: ageBoundaries},
			{Key: "default", Value: "unknown"},
			{Key: "output", Value: bson.D{
				{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
				{Key: "users", Value: bson.D{{Key: "$push", Value: bson.D{
					{Key: "name", Value: "$name"},
					{Key: "email", Value: "$email"},
				}}}},
			}},
		}}},
	}
}

// decode converts a generic document into a typed value.
func decode(doc bson.M, v interface{}) error {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return err
	}
	return bson.Unmarshal(raw, v)
}
