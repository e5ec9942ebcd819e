package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iolipix/JuriNapse-sub001/internal/domain"
	"github.com/iolipix/JuriNapse-sub001/internal/service"
	"github.com/iolipix/JuriNapse-sub001/internal/store"
	"github.com/iolipix/JuriNapse-sub001/pkg/database"
	"github.com/iolipix/JuriNapse-sub001/pkg/jwt"
	"github.com/iolipix/JuriNapse-sub001/pkg/middleware"
	"github.com/iolipix/JuriNapse-sub001/pkg/response"
)

type envelope struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Meta    *response.Meta      `json:"meta"`
	Error   *response.ErrorInfo `json:"error"`
}

type server struct {
	router *gin.Engine
	tokens *jwt.Manager
}

func newServer(t *testing.T, svc service.SocialGraphService) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mgr, err := jwt.NewManager("handler-secret", "", time.Minute)
	require.NoError(t, err)

	r := gin.New()
	NewHandler(svc, middleware.NewAuthMiddleware(mgr)).RegisterRoutes(r)
	return &server{router: r, tokens: mgr}
}

// newGraphServer backs the handler with the real service over sqlite.
func newGraphServer(t *testing.T, usernames ...string) *server {
	t.Helper()
	db, err := database.New(&database.Config{
		Driver:       "sqlite",
		FilePath:     fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
		MaxOpenConns: 1,
		LogLevel:     "silent",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	st := store.NewGormUserStore(db)
	require.NoError(t, st.Migrate(context.Background()))
	for _, name := range usernames {
		require.NoError(t, st.Create(context.Background(), &domain.UserRecord{
			ID:       "id-" + name,
			Username: name,
		}))
	}

	return newServer(t, service.NewSocialGraphService(st, nil, nil, service.Options{}))
}

func (s *server) token(t *testing.T, username string, roles ...string) string {
	t.Helper()
	tok, err := s.tokens.GenerateAccessToken("id-"+username, username, roles)
	require.NoError(t, err)
	return tok
}

func (s *server) do(t *testing.T, method, path, token string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(middleware.AuthHeaderKey, middleware.BearerPrefix+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") != "" {
		_ = json.Unmarshal(w.Body.Bytes(), &env)
	}
	return w, env
}

func TestHealth(t *testing.T) {
	s := newGraphServer(t)
	w, _ := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestFollowFlow(t *testing.T) {
	s := newGraphServer(t, "alice", "bob")
	alice := s.token(t, "alice")

	w, _ := s.do(t, http.MethodPost, "/api/v1/users/bob/follow", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, env := s.do(t, http.MethodPost, "/api/v1/users/bob/follow", alice, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var profile domain.Profile
	require.NoError(t, json.Unmarshal(env.Data, &profile))
	assert.Equal(t, "id-bob", profile.ID)
	assert.Equal(t, "bob", profile.Username)

	w, env = s.do(t, http.MethodPost, "/api/v1/users/id-bob/follow", alice, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "CONFLICT", env.Error.Code)

	w, env = s.do(t, http.MethodGet, "/api/v1/users/bob/follow", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"following":true}`, string(env.Data))

	w, env = s.do(t, http.MethodGet, "/api/v1/users/bob/followers/count", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"count":1}`, string(env.Data))

	w, _ = s.do(t, http.MethodDelete, "/api/v1/users/bob/follow", alice, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w, _ = s.do(t, http.MethodDelete, "/api/v1/users/bob/follow", alice, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestFollowErrorKinds(t *testing.T) {
	s := newGraphServer(t, "alice", "bob")
	alice := s.token(t, "alice")
	bob := s.token(t, "bob")

	w, _ := s.do(t, http.MethodPost, "/api/v1/users/alice/follow", alice, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/v1/users/nobody/follow", alice, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/v1/users/bob/block", alice, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/v1/users/bob/block", alice, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/v1/users/bob/follow", alice, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/v1/users/alice/follow", bob, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, env := s.do(t, http.MethodGet, "/api/v1/users/bob/block", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"blocked":true}`, string(env.Data))

	w, _ = s.do(t, http.MethodDelete, "/api/v1/users/bob/block", alice, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w, _ = s.do(t, http.MethodDelete, "/api/v1/users/bob/block", alice, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestListPagination(t *testing.T) {
	s := newGraphServer(t, "alice", "bob", "carol", "dave")
	for _, name := range []string{"alice", "carol", "dave"} {
		w, _ := s.do(t, http.MethodPost, "/api/v1/users/bob/follow", s.token(t, name), nil)
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w, env := s.do(t, http.MethodGet, "/api/v1/users/bob/followers?offset=1&limit=1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, env.Meta)
	assert.Equal(t, response.Meta{Total: 3, Offset: 1, Limit: 1}, *env.Meta)

	var page []domain.Profile
	require.NoError(t, json.Unmarshal(env.Data, &page))
	require.Len(t, page, 1)
	assert.Equal(t, "id-carol", page[0].ID)

	w, env = s.do(t, http.MethodGet, "/api/v1/users/bob/followers?offset=10", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, string(env.Data))

	w, _ = s.do(t, http.MethodGet, "/api/v1/users/bob/followers?limit=abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = s.do(t, http.MethodGet, "/api/v1/users/alice/following", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, env.Meta.Total)

	w, env = s.do(t, http.MethodGet, "/api/v1/users/alice/connections", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, env.Meta.Total)
}

func TestBatchIsFollowing(t *testing.T) {
	s := newGraphServer(t, "alice", "bob", "carol")
	w, _ := s.do(t, http.MethodPost, "/api/v1/users/carol/follow", s.token(t, "alice"), nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w, env := s.do(t, http.MethodPost, "/api/v1/users/alice/following/status", "",
		map[string][]string{"target_ids": {"id-bob", "id-carol"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"results":{"id-bob":false,"id-carol":true}}`, string(env.Data))

	w, _ = s.do(t, http.MethodPost, "/api/v1/users/alice/following/status", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminRepairRequiresRole(t *testing.T) {
	s := newGraphServer(t, "alice", "root")

	w, _ := s.do(t, http.MethodPost, "/api/v1/admin/graph/repair", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/v1/admin/graph/repair", s.token(t, "alice"), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	admin := s.token(t, "root", middleware.RoleAdmin)
	w, env := s.do(t, http.MethodPost, "/api/v1/admin/graph/repair", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var report domain.RepairReport
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.Equal(t, domain.RepairModeFull, report.Mode)
	assert.Equal(t, 2, report.UsersScanned)

	w, env = s.do(t, http.MethodPost, "/api/v1/admin/graph/recount", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.Equal(t, domain.RepairModeRecount, report.Mode)
}

// stubService answers every count query with a fixed error.
type stubService struct {
	service.SocialGraphService
	err error
}

func (s *stubService) GetFollowersCount(context.Context, string) (int64, error) {
	return 0, s.err
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{service.ErrNotFound, http.StatusNotFound},
		{service.ErrSelfReference, http.StatusBadRequest},
		{service.ErrAlreadyExists, http.StatusConflict},
		{service.ErrNotFollowing, http.StatusConflict},
		{service.ErrAlreadyBlocked, http.StatusConflict},
		{service.ErrNotBlocked, http.StatusConflict},
		{service.ErrBlocked, http.StatusForbidden},
		{fmt.Errorf("%w: load: %w", service.ErrStoreFailure, assert.AnError), http.StatusServiceUnavailable},
		{assert.AnError, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			s := newServer(t, &stubService{err: tc.err})
			w, env := s.do(t, http.MethodGet, "/api/v1/users/x/followers/count", "", nil)
			assert.Equal(t, tc.code, w.Code)
			assert.False(t, env.Success)
		})
	}
}
