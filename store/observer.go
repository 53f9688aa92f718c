// store/observer.go
package store

import "time"

// Observer receives lifecycle and operation events from handles and
// operations. Implementations must be safe for concurrent use and must not
// block; they are called inline.
type Observer interface {
	StateChanged(store string, state State)
	Refreshed(store string, err error)
	ProbeFailed(store string, err error)
	OperationDone(collection, op string, took time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) StateChanged(string, State)                         {}
func (nopObserver) Refreshed(string, error)                            {}
func (nopObserver) ProbeFailed(string, error)                          {}
func (nopObserver) OperationDone(string, string, time.Duration, error) {}
