package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskshare/internal/logx"
	"taskshare/internal/model"
	"taskshare/internal/store"
)

func newAuthServiceForTests(t *testing.T) (*Service, model.User) {
	t.Helper()
	st := store.NewMemoryStore()
	u, err := st.CreateUser(context.Background(), model.User{Email: "tester@example.com", DisplayName: "Tester"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return NewService(st, HeaderResolver{}, logx.Discard()), u
}

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := UserFromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		_ = json.NewEncoder(w).Encode(u)
	})
}

func TestHeaderResolver(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := HeaderResolver{}.Subject(r)
	assert.False(t, ok)

	r.Header.Set("X-Auth-Subject", "  abc ")
	id, ok := HeaderResolver{}.Subject(r)
	assert.True(t, ok)
	assert.Equal(t, model.UserID("abc"), id)

	r.Header.Set("X-User", "xyz")
	id, ok = HeaderResolver{Header: "X-User"}.Subject(r)
	assert.True(t, ok)
	assert.Equal(t, model.UserID("xyz"), id)
}

func TestRequireAPI_MissingSubjectIsUnauthorized(t *testing.T) {
	svc, _ := newAuthServiceForTests(t)
	rr := httptest.NewRecorder()
	svc.RequireAPI(echoUser()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/me", nil))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	assert.JSONEq(t, `{"error":"unauthorized"}`, rr.Body.String())
}

func TestRequireAPI_UnknownSubjectIsUnauthorized(t *testing.T) {
	svc, _ := newAuthServiceForTests(t)
	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("X-Auth-Subject", string(model.NewUserID()))
	rr := httptest.NewRecorder()
	svc.RequireAPI(echoUser()).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestRequireAPI_MalformedSubjectIsUnauthorized(t *testing.T) {
	svc, _ := newAuthServiceForTests(t)
	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("X-Auth-Subject", "not-a-uuid")
	rr := httptest.NewRecorder()
	svc.RequireAPI(echoUser()).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestRequireAPI_KnownSubjectReachesHandler(t *testing.T) {
	svc, u := newAuthServiceForTests(t)
	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("X-Auth-Subject", string(u.ID))
	rr := httptest.NewRecorder()
	svc.RequireAPI(echoUser()).ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var got model.User
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, u, got)
}

func TestCurrentUser(t *testing.T) {
	svc, u := newAuthServiceForTests(t)
	got, ok, err := svc.CurrentUser(context.Background(), u.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "tester@example.com", got.Email)

	_, ok, err = svc.CurrentUser(context.Background(), model.NewUserID())
	require.NoError(t, err)
	assert.False(t, ok)
}
