// api/users/handler.go
package users

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dalemusser/docstore/httputil"
	"github.com/dalemusser/docstore/middleware"
	"github.com/dalemusser/docstore/store"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

// Handler serves the /users resource. CRUD goes through repo; the email
// lookup and the age statistics query op directly.
type Handler struct {
	repo   store.Repo
	op     *store.Operation
	logger *zap.Logger
	now    func() time.Time
}

// NewHandler builds a Handler. repo may be a cached wrapper around a
// Repository on op.
func NewHandler(repo store.Repo, op *store.Operation, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, op: op, logger: logger, now: time.Now}
}

// EnsureIndexes creates the unique index on email.
func EnsureIndexes(ctx context.Context, op *store.Operation) error {
	_, err := op.EnsureIndex(ctx, bson.D{{Key: "email", Value: 1}}, true)
	return err
}

// Routes returns the /users subrouter. Every route first checks conn
// through middleware.RequireStore.
func (h *Handler) Routes(conn store.Connection) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequireStore(conn, h.logger))

	r.Get("/", h.list)
	r.With(middleware.RequireJSON).Post("/", h.create)
	r.Get("/search/by-email/{email}", h.byEmail)
	r.Get("/stats/age-groups", h.ageGroups)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.get)
		r.With(middleware.RequireJSON).Put("/", h.update)
		r.Delete("/", h.delete)
	})
	return r
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := httputil.BindJSON(r, &req); err != nil {
		httputil.JSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := req.validate(); err != nil {
		httputil.JSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	ctx := r.Context()
	id, err := h.repo.Save(ctx, req.document(h.now().UTC()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	u, err := h.load(ctx, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if u == nil {
		h.fail(w, r, errors.New("created user not found"))
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, u)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	docs, err := h.repo.FindAll(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]User, 0, len(docs))
	for _, d := range docs {
		var u User
		if err := decode(d, &u); err != nil {
			h.fail(w, r, err)
			return
		}
		out = append(out, u)
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	u, err := h.load(r.Context(), id)
	switch {
	case err != nil:
		h.fail(w, r, err)
	case u == nil:
		notFound(w, id)
	default:
		httputil.WriteJSON(w, http.StatusOK, u)
	}
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	existing, err := h.load(ctx, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if existing == nil {
		notFound(w, id)
		return
	}

	var req UpdateRequest
	if err := httputil.BindJSON(r, &req); err != nil {
		httputil.JSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := req.validate(); err != nil {
		httputil.JSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	fields := req.fields()
	if len(fields) == 0 {
		httputil.WriteJSON(w, http.StatusOK, existing)
		return
	}

	// A false result only means the values were already current.
	if _, err := h.repo.Update(ctx, id, fields); err != nil {
		h.fail(w, r, err)
		return
	}
	u, err := h.load(ctx, id)
	switch {
	case err != nil:
		h.fail(w, r, err)
	case u == nil:
		notFound(w, id)
	default:
		httputil.WriteJSON(w, http.StatusOK, u)
	}
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ok, err := h.repo.Delete(r.Context(), id)
	switch {
	case err != nil:
		h.fail(w, r, err)
	case !ok:
		notFound(w, id)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) byEmail(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")
	doc, err := h.op.FindOne(r.Context(), bson.M{"email": email})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if doc == nil {
		httputil.JSONError(w, http.StatusNotFound, "not_found", "no user with email "+email)
		return
	}
	var u User
	if err := decode(doc, &u); err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, u)
}

func (h *Handler) ageGroups(w http.ResponseWriter, r *http.Request) {
	docs, err := h.op.Aggregate(r.Context(), ageGroupPipeline())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	groups := make([]AgeGroup, 0, len(docs))
	for _, d := range docs {
		var g AgeGroup
		if err := decode(d, &g); err != nil {
			h.fail(w, r, err)
			return
		}
		groups = append(groups, g)
	}
	httputil.WriteJSON(w, http.StatusOK, map[string][]AgeGroup{"age_groups": groups})
}

// load fetches and decodes one user; (nil, nil) means not found.
func (h *Handler) load(ctx context.Context, id string) (*User, error) {
	doc, err := h.repo.FindByID(ctx, id)
	if err != nil || doc == nil {
		return nil, err
	}
	var u User
	if err := decode(doc, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func notFound(w http.ResponseWriter, id string) {
	httputil.JSONError(w, http.StatusNotFound, "not_found", "user "+id+" does not exist")
}

// fail maps store errors onto HTTP statuses.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrInvalidIdentifier):
		httputil.JSONError(w, http.StatusBadRequest, "invalid_id", "invalid user id")
	case store.IsDuplicate(err):
		httputil.JSONError(w, http.StatusConflict, "duplicate", "a user with this email already exists")
	case store.IsUnavailable(err):
		h.logger.Warn("store unavailable", zap.String("path", r.URL.Path), zap.Error(err))
		httputil.JSONError(w, http.StatusServiceUnavailable, "store_unavailable", "document store is unavailable")
	default:
		h.logger.Error("users request failed", zap.String("path", r.URL.Path), zap.Error(err))
		httputil.JSONError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
