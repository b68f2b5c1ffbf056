package httpx

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fieldstock/fieldstock/internal/shared"
)

// Actor returns the authenticated caller or ErrUnauthorized.
func Actor(r *http.Request) (shared.Actor, error) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok || actor.UserID == uuid.Nil {
		return shared.Actor{}, ErrUnauthorized
	}
	return actor, nil
}

// RequireRole rejects requests whose actor lacks role.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, err := Actor(r)
			if err != nil {
				RespondError(w, err)
				return
			}
			if actor.Role != role {
				RespondError(w, ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UUIDParam parses a chi URL parameter as a UUID.
func UUIDParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, shared.Invalid(name, "must be a valid id")
	}
	return id, nil
}

// UUIDQuery parses an optional query parameter as a UUID. Empty yields uuid.Nil.
func UUIDQuery(r *http.Request, name string) (uuid.UUID, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, shared.Invalid(name, "must be a valid id")
	}
	return id, nil
}

// Int64Query parses an optional integer query parameter, returning def when empty.
func Int64Query(r *http.Request, name string, def int64) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, shared.Invalid(name, "must be an integer")
	}
	return v, nil
}

// DateQuery parses an optional YYYY-MM-DD query parameter. Empty yields the zero time.
func DateQuery(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, shared.Invalid(name, "must be a date (YYYY-MM-DD)")
	}
	return t, nil
}
