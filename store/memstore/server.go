// store/memstore/server.go

// Package memstore is an in-process document store that implements the
// store driver boundary. It backs the "memory" store backend and the tests.
//
// Filters support top-level and dotted-path equality plus $eq, $ne, $in,
// $gt, $gte, $lt and $lte. Updates support $set and $unset. Aggregation
// supports $match and $bucket. Find and update options are ignored.
package memstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/dalemusser/docstore/store"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// ErrUnavailable is returned by every call while the server is down. It
// carries the driver's NetworkError label, so store.IsUnavailable reports it.
var ErrUnavailable = mongo.CommandError{
	Code:    6,
	Name:    "HostUnreachable",
	Message: "memstore: server unavailable",
	Labels:  []string{"NetworkError"},
}

// Server holds the data shared by every client dialed from it.
type Server struct {
	mu      sync.Mutex
	dbs     map[string]map[string]*collection
	down    bool
	dialErr error

	dials         atomic.Int64
	open          atomic.Int64
	sessionsBegun atomic.Int64
	sessionsEnded atomic.Int64
}

type collection struct {
	docs   []bson.D
	unique [][]string // key paths of unique indexes
}

func New() *Server {
	return &Server{dbs: make(map[string]map[string]*collection)}
}

// Dialer returns a store.Dialer that opens clients on s.
func (s *Server) Dialer() store.Dialer {
	return func(ctx context.Context, _ store.Config) (store.Client, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s.dials.Add(1)
		s.mu.Lock()
		err := s.dialErr
		s.mu.Unlock()
		if err != nil {
			return nil, err
		}
		s.open.Add(1)
		return &client{srv: s}, nil
	}
}

// SetDown makes every call on every client fail with ErrUnavailable until
// SetDown(false). Dialing still succeeds, as it does with the real driver.
func (s *Server) SetDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

// FailDials makes Dialer return err. A nil err restores normal dialing.
func (s *Server) FailDials(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dialErr = err
}

// Dials is the number of dial attempts so far.
func (s *Server) Dials() int { return int(s.dials.Load()) }

// OpenClients is the number of dialed clients not yet disconnected.
func (s *Server) OpenClients() int { return int(s.open.Load()) }

// Sessions returns how many sessions were started and ended.
func (s *Server) Sessions() (begun, ended int) {
	return int(s.sessionsBegun.Load()), int(s.sessionsEnded.Load())
}

// coll returns the named collection, creating it. The caller holds s.mu.
func (s *Server) coll(db, name string) *collection {
	d, ok := s.dbs[db]
	if !ok {
		d = make(map[string]*collection)
		s.dbs[db] = d
	}
	c, ok := d[name]
	if !ok {
		c = &collection{}
		d[name] = c
	}
	return c
}

type client struct {
	srv    *Server
	closed atomic.Bool
}

func (c *client) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.closed.Load() {
		return mongo.ErrClientDisconnected
	}
	c.srv.mu.Lock()
	down := c.srv.down
	c.srv.mu.Unlock()
	if down {
		return ErrUnavailable
	}
	return nil
}

func (c *client) Ping(ctx context.Context) error {
	return c.check(ctx)
}

func (c *client) Disconnect(context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return mongo.ErrClientDisconnected
	}
	c.srv.open.Add(-1)
	return nil
}

func (c *client) Database(name string) store.Database {
	return database{c: c, name: name}
}

func (c *client) StartSession(ctx context.Context) (store.Session, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	c.srv.sessionsBegun.Add(1)
	return &session{srv: c.srv}, nil
}

type database struct {
	c    *client
	name string
}

func (d database) Name() string { return d.name }

func (d database) Collection(name string) store.Collection {
	return &collHandle{c: d.c, db: d.name, name: name}
}

type sessionKey struct{}

type session struct {
	srv   *Server
	ended atomic.Bool
}

func (s *session) Bind(ctx context.Context) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

func (s *session) End(context.Context) {
	if s.ended.CompareAndSwap(false, true) {
		s.srv.sessionsEnded.Add(1)
	}
}

// InSession reports whether ctx was bound to a memstore session.
func InSession(ctx context.Context) bool {
	s, ok := ctx.Value(sessionKey{}).(*session)
	return ok && !s.ended.Load()
}

var errNotSupported = errors.New("memstore: not supported")
