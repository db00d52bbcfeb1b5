package rbac

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ops/internal/shared"
)

type staticSource map[string][]string

func (s staticSource) PermissionsFor(_ context.Context, actorID string) ([]string, error) {
	if actorID == "broken" {
		return nil, errors.New("db down")
	}
	return s[actorID], nil
}

func newMiddleware() Middleware {
	return Middleware{Service: NewService(staticSource{
		"alice": {"Sales.Order.Create", shared.PermBatchView},
		"bob":   {shared.PermBatchView},
	})}
}

func serve(mw func(http.Handler) http.Handler, actor string) (*httptest.ResponseRecorder, string) {
	var seen string
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = shared.ActorFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	if actor != "" {
		req.Header.Set(ActorHeader, actor)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, seen
}

func TestRequireAllGrantsAndPropagatesActor(t *testing.T) {
	m := newMiddleware()
	rec, actor := serve(m.RequireAll(shared.PermOrderCreate, shared.PermBatchView), "alice")
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "alice", actor)
}

func TestRequireAllDenies(t *testing.T) {
	m := newMiddleware()
	rec, _ := serve(m.RequireAll(shared.PermOrderCreate), "bob")
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireAnyAcceptsOneMatch(t *testing.T) {
	m := newMiddleware()
	rec, _ := serve(m.RequireAny(shared.PermOrderCreate, shared.PermBatchView), "bob")
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestMissingActorIsUnauthorized(t *testing.T) {
	m := newMiddleware()
	rec, _ := serve(m.RequireAll(shared.PermBatchView), "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLookupFailureIsInternalError(t *testing.T) {
	m := newMiddleware()
	rec, _ := serve(m.RequireAll(shared.PermBatchView), "broken")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
