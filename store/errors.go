// store/errors.go
package store

import (
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/mongo"
)

var (
	// ErrConfigNotFound is returned by Registry.Client for a name that was never registered.
	ErrConfigNotFound = errors.New("store: config not found")

	// ErrNotInitialized is returned by lookups on a handle that has no live client.
	ErrNotInitialized = errors.New("store: client not initialized")

	// ErrConnectFailure wraps the driver error when Connect or Refresh cannot
	// open or probe a connection.
	ErrConnectFailure = errors.New("store: connect failed")

	// ErrInvalidIdentifier is returned when an opaque id is not a valid ObjectID.
	ErrInvalidIdentifier = errors.New("store: invalid identifier")

	// ErrEmptyUpdate is returned by Repository.Update when nothing is left to $set
	// after the identifier field is stripped.
	ErrEmptyUpdate = errors.New("store: update has no fields")
)

const duplicateKeyCode = 11000

// IsDuplicate reports whether err is a duplicate-key (E11000) error.
// It looks through WriteException, BulkWriteException and CommandError and
// falls back to the message text, which some hosted deployments use instead.
func IsDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if mongo.IsDuplicateKeyError(err) {
		return true
	}

	var bwe mongo.BulkWriteException
	if errors.As(err, &bwe) {
		for _, we := range bwe.WriteErrors {
			if we.Code == duplicateKeyCode {
				return true
			}
		}
		if bwe.WriteConcernError != nil && bwe.WriteConcernError.Code == duplicateKeyCode {
			return true
		}
	}

	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == duplicateKeyCode {
				return true
			}
		}
		if we.WriteConcernError != nil && we.WriteConcernError.Code == duplicateKeyCode {
			return true
		}
	}

	var ce mongo.CommandError
	if errors.As(err, &ce) && ce.Code == duplicateKeyCode {
		return true
	}

	s := strings.ToLower(err.Error())
	return strings.Contains(s, "e11000") || strings.Contains(s, "duplicate key")
}

// IsUnavailable reports whether err means the store could not be reached,
// as opposed to the request itself being wrong.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotInitialized) || errors.Is(err, ErrConnectFailure) {
		return true
	}
	if errors.Is(err, mongo.ErrClientDisconnected) {
		return true
	}
	return mongo.IsNetworkError(err) || mongo.IsTimeout(err)
}
