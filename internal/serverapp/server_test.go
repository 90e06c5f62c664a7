package serverapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskshare/internal/config"
	"taskshare/internal/logx"
	"taskshare/internal/model"
	"taskshare/internal/store"
)

type testApp struct {
	handler http.Handler
	store   store.Store
	logs    *syncBuffer
	users   map[string]model.User
}

// syncBuffer lets concurrent handlers share one log sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	cfg.SeedUsers = []config.SeedUser{
		{Email: "owner@example.com", DisplayName: "Owner"},
		{Email: "editor@example.com", DisplayName: "Editor"},
		{Email: "viewer@example.com", DisplayName: "Viewer"},
		{Email: "stranger@example.com", DisplayName: "Stranger"},
	}
	st := store.NewMemoryStore()
	return newTestAppWithStore(t, cfg, st)
}

func newTestAppWithStore(t *testing.T, cfg *config.Config, st store.Store) *testApp {
	t.Helper()
	logs := &syncBuffer{}
	logger := logx.New(logs)

	ctx := context.Background()
	if err := SeedUsers(ctx, st, cfg.SeedUsers, logger); err != nil {
		t.Fatalf("seed users: %v", err)
	}
	h, err := NewHandler(Options{Config: cfg, Store: st, Logger: logger})
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	users := map[string]model.User{}
	all, err := st.ListUsers(ctx)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	for _, u := range all {
		users[strings.Split(u.Email, "@")[0]] = u
	}
	return &testApp{handler: h, store: st, logs: logs, users: users}
}

func (a *testApp) do(as, method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != nil {
		if s, ok := body.(string); ok {
			r = strings.NewReader(s)
		} else {
			b, _ := json.Marshal(body)
			r = bytes.NewReader(b)
		}
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if as != "" {
		req.Header.Set("X-Auth-Subject", string(a.users[as].ID))
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decodeTask(t *testing.T, rec *httptest.ResponseRecorder) model.Task {
	t.Helper()
	var out model.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode task: %v body=%s", err, rec.Body.String())
	}
	return out
}

func (a *testApp) createTask(t *testing.T, as string, body map[string]any) model.Task {
	t.Helper()
	res := a.do(as, http.MethodPost, "/api/tasks", body, nil)
	if res.Code != http.StatusCreated {
		t.Fatalf("create expected 201, got %d body=%s", res.Code, res.Body.String())
	}
	return decodeTask(t, res)
}

func (a *testApp) share(t *testing.T, as string, id model.TaskID, email, role string) {
	t.Helper()
	res := a.do(as, http.MethodPost, "/api/tasks/"+string(id)+"/share", map[string]any{
		"userEmail": email,
		"role":      role,
	}, nil)
	if res.Code != http.StatusNoContent {
		t.Fatalf("share expected 204, got %d body=%s", res.Code, res.Body.String())
	}
}

func TestServer_ProtectedRoutesRequireAuth(t *testing.T) {
	app := newTestApp(t)
	for _, path := range []string{"/api/tasks", "/api/me", "/api/tasks/" + string(model.NewTaskID())} {
		res := app.do("", http.MethodGet, path, nil, nil)
		if res.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401 for %s, got %d", path, res.Code)
		}
	}
}

func TestServer_HealthAndReadinessExposeRequestID(t *testing.T) {
	app := newTestApp(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		res := app.do("", http.MethodGet, path, nil, nil)
		if res.Code != http.StatusOK {
			t.Fatalf("%s expected 200, got %d body=%s", path, res.Code, res.Body.String())
		}
		if rid := strings.TrimSpace(res.Header().Get("X-Request-Id")); rid == "" {
			t.Fatalf("%s missing X-Request-Id header", path)
		}
	}
}

type downStore struct {
	store.Store
}

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }

func TestServer_ReadinessReportsStoreFailure(t *testing.T) {
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	app := newTestAppWithStore(t, cfg, downStore{Store: store.NewMemoryStore()})

	res := app.do("", http.MethodGet, "/readyz", nil, nil)
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz expected 503, got %d", res.Code)
	}
	assert.Contains(t, app.logs.String(), "readiness_failed")
}

func TestServer_Me(t *testing.T) {
	app := newTestApp(t)
	res := app.do("viewer", http.MethodGet, "/api/me", nil, nil)
	require.Equal(t, http.StatusOK, res.Code)
	var u model.User
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &u))
	assert.Equal(t, app.users["viewer"].ID, u.ID)
	assert.Equal(t, "viewer@example.com", u.Email)
}

func TestServer_CreateReturnsETagAndLocation(t *testing.T) {
	app := newTestApp(t)
	res := app.do("owner", http.MethodPost, "/api/tasks", map[string]any{
		"title":    "  Write report ",
		"priority": "high",
		"tags":     []string{"work"},
	}, nil)
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())

	created := decodeTask(t, res)
	assert.Equal(t, `W/"0"`, res.Header().Get("ETag"))
	assert.Equal(t, "/api/tasks/"+string(created.ID), res.Header().Get("Location"))
	assert.Equal(t, "Write report", created.Title)
	assert.Equal(t, model.StatusTodo, created.Status)
	assert.Equal(t, model.PriorityHigh, created.Priority)
	assert.Equal(t, app.users["owner"].ID, created.OwnerID)

	get := app.do("owner", http.MethodGet, "/api/tasks/"+string(created.ID), nil, nil)
	require.Equal(t, http.StatusOK, get.Code)
	assert.Equal(t, `W/"0"`, get.Header().Get("ETag"))
}

func TestServer_CreateRejectsBadInput(t *testing.T) {
	app := newTestApp(t)

	res := app.do("owner", http.MethodPost, "/api/tasks", "{not json", nil)
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res = app.do("owner", http.MethodPost, "/api/tasks", map[string]any{"title": " ", "status": "later"}, nil)
	require.Equal(t, http.StatusBadRequest, res.Code)
	var body struct {
		Error  string            `json:"error"`
		Fields map[string]string `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	assert.Contains(t, body.Fields, "title")
	assert.Contains(t, body.Fields, "status")
}

func TestServer_EditorPatchFlow(t *testing.T) {
	app := newTestApp(t)
	created := app.createTask(t, "owner", map[string]any{"title": "Draft"})
	app.share(t, "owner", created.ID, "editor@example.com", "editor")
	path := "/api/tasks/" + string(created.ID)

	res := app.do("editor", http.MethodPatch, path, map[string]any{"title": "Final", "completed": true}, map[string]string{"If-Match": `W/"0"`})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	assert.Equal(t, `W/"1"`, res.Header().Get("ETag"))
	patched := decodeTask(t, res)
	assert.Equal(t, "Final", patched.Title)
	assert.Equal(t, model.StatusDone, patched.Status)
	assert.Equal(t, int64(1), patched.Version)

	stale := app.do("owner", http.MethodPatch, path, map[string]any{"title": "Mine"}, map[string]string{"If-Match": `W/"0"`})
	assert.Equal(t, http.StatusPreconditionFailed, stale.Code)

	missing := app.do("owner", http.MethodPatch, path, map[string]any{"title": "Mine"}, nil)
	assert.Equal(t, http.StatusPreconditionRequired, missing.Code)

	malformed := app.do("owner", http.MethodPatch, path, map[string]any{"title": "Mine"}, map[string]string{"If-Match": `"1"`})
	assert.Equal(t, http.StatusBadRequest, malformed.Code)

	get := app.do("owner", http.MethodGet, path, nil, nil)
	require.Equal(t, http.StatusOK, get.Code)
	assert.Equal(t, "Final", decodeTask(t, get).Title)
	assert.Equal(t, `W/"1"`, get.Header().Get("ETag"))
}

func TestServer_RoleLimits(t *testing.T) {
	app := newTestApp(t)
	created := app.createTask(t, "owner", map[string]any{"title": "Secret"})
	app.share(t, "owner", created.ID, "viewer@example.com", "viewer")
	app.share(t, "owner", created.ID, "editor@example.com", "editor")
	path := "/api/tasks/" + string(created.ID)
	ifMatch := map[string]string{"If-Match": `W/"0"`}

	assert.Equal(t, http.StatusOK, app.do("viewer", http.MethodGet, path, nil, nil).Code)
	assert.Equal(t, http.StatusForbidden, app.do("viewer", http.MethodPatch, path, map[string]any{"title": "x"}, ifMatch).Code)
	assert.Equal(t, http.StatusForbidden, app.do("viewer", http.MethodGet, path+"/share", nil, nil).Code)
	assert.Equal(t, http.StatusForbidden, app.do("editor", http.MethodDelete, path, nil, nil).Code)
	assert.Equal(t, http.StatusForbidden, app.do("editor", http.MethodPost, path+"/share", map[string]any{
		"userEmail": "stranger@example.com", "role": "viewer",
	}, nil).Code)
	assert.Equal(t, http.StatusOK, app.do("editor", http.MethodGet, path+"/share", nil, nil).Code)

	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		assert.Equal(t, http.StatusNotFound, app.do("stranger", method, path, nil, nil).Code, method)
	}
	assert.Equal(t, http.StatusNotFound, app.do("stranger", http.MethodPatch, path, map[string]any{"title": "x"}, ifMatch).Code)
	assert.Equal(t, http.StatusNotFound, app.do("owner", http.MethodGet, "/api/tasks/not-a-uuid", nil, nil).Code)

	list := app.do("stranger", http.MethodGet, "/api/tasks", nil, nil)
	require.Equal(t, http.StatusOK, list.Code)
	assert.JSONEq(t, `[]`, list.Body.String())
}

func TestServer_ShareLifecycle(t *testing.T) {
	app := newTestApp(t)
	created := app.createTask(t, "owner", map[string]any{"title": "Plan trip", "category": "Travel"})
	path := "/api/tasks/" + string(created.ID) + "/share"

	app.share(t, "owner", created.ID, "Viewer@Example.com", "viewer")
	app.share(t, "owner", created.ID, "viewer@example.com", "editor")

	res := app.do("owner", http.MethodGet, path, nil, nil)
	require.Equal(t, http.StatusOK, res.Code)
	var shares []model.SharedUser
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &shares))
	require.Len(t, shares, 1)
	assert.Equal(t, model.ShareEditor, shares[0].Role)
	assert.Equal(t, "viewer@example.com", shares[0].Email)

	list := app.do("viewer", http.MethodGet, "/api/tasks?q=TRAVEL", nil, nil)
	require.Equal(t, http.StatusOK, list.Code)
	assert.Contains(t, list.Body.String(), string(created.ID))

	unknown := app.do("owner", http.MethodPost, path, map[string]any{"userEmail": "ghost@example.com", "role": "viewer"}, nil)
	assert.Equal(t, http.StatusNotFound, unknown.Code)

	badRole := app.do("owner", http.MethodPost, path, map[string]any{"userEmail": "viewer@example.com", "role": "owner"}, nil)
	assert.Equal(t, http.StatusBadRequest, badRole.Code)

	self := app.do("owner", http.MethodPost, path, map[string]any{"userEmail": "owner@example.com", "role": "viewer"}, nil)
	assert.Equal(t, http.StatusBadRequest, self.Code)

	for i := 0; i < 2; i++ {
		rev := app.do("owner", http.MethodDelete, path+"?userEmail=viewer@example.com", nil, nil)
		require.Equal(t, http.StatusNoContent, rev.Code)
	}
	assert.Equal(t, http.StatusNotFound, app.do("viewer", http.MethodGet, "/api/tasks/"+string(created.ID), nil, nil).Code)
	assert.Contains(t, app.logs.String(), "task_share_revoked")
}

func TestServer_DeleteRemovesTask(t *testing.T) {
	app := newTestApp(t)
	created := app.createTask(t, "owner", map[string]any{"title": "Temp"})
	app.share(t, "owner", created.ID, "viewer@example.com", "viewer")
	path := "/api/tasks/" + string(created.ID)

	require.Equal(t, http.StatusNoContent, app.do("owner", http.MethodDelete, path, nil, nil).Code)
	assert.Equal(t, http.StatusNotFound, app.do("owner", http.MethodGet, path, nil, nil).Code)
	assert.Equal(t, http.StatusNotFound, app.do("viewer", http.MethodGet, path, nil, nil).Code)

	_, found, err := app.store.GetShare(context.Background(), created.ID, app.users["viewer"].ID)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestServer_MethodNotAllowed(t *testing.T) {
	app := newTestApp(t)
	created := app.createTask(t, "owner", map[string]any{"title": "x"})

	assert.Equal(t, http.StatusMethodNotAllowed, app.do("owner", http.MethodPut, "/api/tasks", nil, nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, app.do("owner", http.MethodPut, "/api/tasks/"+string(created.ID), nil, nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, app.do("owner", http.MethodPatch, "/api/tasks/"+string(created.ID)+"/share", nil, nil).Code)
	assert.Equal(t, http.StatusNotFound, app.do("owner", http.MethodGet, "/api/tasks/"+string(created.ID)+"/other", nil, nil).Code)
}

func TestSeedUsers_IsIdempotent(t *testing.T) {
	st := store.NewMemoryStore()
	seeds := []config.SeedUser{
		{ID: "6f1c2a6e-4d9b-4a57-9a7e-0c2c1d3b5e11", Email: "a@example.com", DisplayName: "A"},
		{Email: "b@example.com"},
	}
	ctx := context.Background()
	require.NoError(t, SeedUsers(ctx, st, seeds, logx.Discard()))
	require.NoError(t, SeedUsers(ctx, st, seeds, logx.Discard()))

	users, err := st.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 2)

	u, found, err := st.GetUserByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, model.UserID("6f1c2a6e-4d9b-4a57-9a7e-0c2c1d3b5e11"), u.ID)

	err = SeedUsers(ctx, st, []config.SeedUser{{ID: "nope", Email: "c@example.com"}}, logx.Discard())
	assert.Error(t, err)
}

func TestOpenStore(t *testing.T) {
	cfg := &config.Config{Store: config.Store{Driver: config.DriverFile, DataDir: t.TempDir()}}
	st, err := OpenStore(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	assert.NoError(t, st.Ping(context.Background()))

	_, err = OpenStore(context.Background(), &config.Config{Store: config.Store{Driver: "mongo"}})
	assert.Error(t, err)
}
