package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"animevault/api/internal/config"
	"animevault/api/internal/handlers"
	"animevault/api/internal/middleware"
	"animevault/api/internal/models"
	"animevault/api/internal/repository"
	"animevault/api/internal/security"
	"animevault/api/internal/service"
	"animevault/api/internal/session"
)

type memUserStore struct {
	mu     sync.Mutex
	nextID int64
	byName map[string]models.User
}

func newMemUserStore() *memUserStore {
	return &memUserStore{nextID: 1, byName: map[string]models.User{}}
}

func (s *memUserStore) Create(_ context.Context, username string, passwordHash string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byName[username]; exists {
		return models.User{}, repository.ErrUsernameTaken
	}
	user := models.User{ID: s.nextID, Username: username, PasswordHash: passwordHash, CreatedAt: time.Now().UTC()}
	s.nextID++
	s.byName[username] = user
	return user, nil
}

func (s *memUserStore) FindByUsername(_ context.Context, username string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.byName[username]
	if !ok {
		return models.User{}, repository.ErrUserNotFound
	}
	return user, nil
}

func (s *memUserStore) GetByID(_ context.Context, id int64) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.byName {
		if user.ID == id {
			return user, nil
		}
	}
	return models.User{}, repository.ErrUserNotFound
}

func (s *memUserStore) List(_ context.Context) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := make([]models.User, 0, len(s.byName))
	for _, user := range s.byName {
		users = append(users, user)
	}
	return users, nil
}

// testAPI is the whole stack on fakes: in-memory users, miniredis
// sessions, an issuer with a movable clock.
type testAPI struct {
	router *gin.Engine
	mini   *miniredis.Miniredis
	now    time.Time
	users  *memUserStore
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mini, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mini.Close)

	client := goredis.NewClient(&goredis.Options{Addr: mini.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	api := &testAPI{mini: mini, now: time.Now(), users: newMemUserStore()}

	cfg := &config.AppConfig{
		Environment: "test",
		Session: config.SessionConfig{
			DefaultTTL:      12 * time.Hour,
			RememberTTL:     744 * time.Hour,
			RefreshOnAccess: true,
		},
	}

	sessions := session.NewManager(session.NewRedisStore(client), cfg.Session.DefaultTTL, cfg.Session.RememberTTL, cfg.Session.RefreshOnAccess)
	issuer := security.NewTokenIssuer("test-secret", time.Hour, 720*time.Hour).
		WithClock(func() time.Time { return api.now })
	auth := service.NewAuthService(api.users, issuer, zerolog.Nop())

	handlerSet := handlers.NewHandlerSet(zerolog.Nop(), cfg, auth, sessions, issuer, api.users, nil, nil)

	router := gin.New()
	handlerSet.Routes(router.Group("/api"))
	api.router = router
	return api
}

type request struct {
	method string
	path   string
	body   any
	cookie *http.Cookie
	bearer string
}

func (a *testAPI) do(t *testing.T, req request) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if req.body != nil {
		if err := json.NewEncoder(&buf).Encode(req.body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	httpReq := httptest.NewRequest(req.method, req.path, &buf)
	httpReq.Header.Set("Content-Type", "application/json")
	if req.cookie != nil {
		httpReq.AddCookie(req.cookie)
	}
	if req.bearer != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.bearer)
	}

	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, httpReq)
	return rec
}

func (a *testAPI) decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return payload
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == middleware.SessionCookie && c.Value != "" {
			return c
		}
	}
	t.Fatalf("no session cookie in response")
	return nil
}

// TestAuthLifecycle walks the full register → login → issue → use →
// expire → refresh → logout path.
func TestAuthLifecycle(t *testing.T) {
	api := newTestAPI(t)

	// Register alice.
	rec := api.do(t, request{method: http.MethodPost, path: "/api/v1/users/register",
		body: gin.H{"username": "alice", "password": "Secreta123!"}})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: got %d body %s", rec.Code, rec.Body.String())
	}
	created := api.decode(t, rec)
	if created["id"].(float64) != 1 || created["username"] != "alice" {
		t.Fatalf("unexpected register payload %v", created)
	}

	// Wrong password is rejected.
	rec = api.do(t, request{method: http.MethodPost, path: "/api/v1/users/login",
		body: gin.H{"username": "alice", "password": "wrong"}})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad login: got %d", rec.Code)
	}

	// Correct login establishes a session.
	rec = api.do(t, request{method: http.MethodPost, path: "/api/v1/users/login",
		body: gin.H{"username": "alice", "password": "Secreta123!"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: got %d body %s", rec.Code, rec.Body.String())
	}
	cookie := sessionCookie(t, rec)

	// Token issuance requires the session.
	rec = api.do(t, request{method: http.MethodPost, path: "/api/v1/users/token"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("token without session: got %d", rec.Code)
	}

	rec = api.do(t, request{method: http.MethodPost, path: "/api/v1/users/token", cookie: cookie})
	if rec.Code != http.StatusOK {
		t.Fatalf("issue token: got %d body %s", rec.Code, rec.Body.String())
	}
	issued := api.decode(t, rec)
	if issued["expires_in"].(float64) != 3600 {
		t.Fatalf("expected expires_in=3600, got %v", issued["expires_in"])
	}
	accessToken := issued["access_token"].(string)
	refreshToken := issued["refresh_token"].(string)

	// Access token reads the profile.
	rec = api.do(t, request{method: http.MethodGet, path: "/api/v1/users/profile", bearer: accessToken})
	if rec.Code != http.StatusOK {
		t.Fatalf("profile: got %d body %s", rec.Code, rec.Body.String())
	}
	profile := api.decode(t, rec)
	if profile["id"].(float64) != 1 || profile["username"] != "alice" {
		t.Fatalf("unexpected profile %v", profile)
	}

	// A refresh token is not an access token.
	rec = api.do(t, request{method: http.MethodGet, path: "/api/v1/users/profile", bearer: refreshToken})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("refresh-as-access: got %d", rec.Code)
	}

	// Clock past the access TTL: the token stops working.
	api.now = api.now.Add(time.Hour + time.Second)
	rec = api.do(t, request{method: http.MethodGet, path: "/api/v1/users/profile", bearer: accessToken})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expired access token: got %d", rec.Code)
	}

	// The refresh token still mints a new access token.
	rec = api.do(t, request{method: http.MethodPost, path: "/api/v1/users/refresh",
		body: gin.H{"refresh_token": refreshToken}})
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh: got %d body %s", rec.Code, rec.Body.String())
	}
	refreshed := api.decode(t, rec)
	newAccess := refreshed["access_token"].(string)

	rec = api.do(t, request{method: http.MethodGet, path: "/api/v1/users/protected", bearer: newAccess})
	if rec.Code != http.StatusOK {
		t.Fatalf("protected with refreshed token: got %d", rec.Code)
	}

	// Logout kills the session immediately...
	rec = api.do(t, request{method: http.MethodPost, path: "/api/v1/users/logout", cookie: cookie})
	if rec.Code != http.StatusOK {
		t.Fatalf("logout: got %d", rec.Code)
	}
	rec = api.do(t, request{method: http.MethodPost, path: "/api/v1/users/token", cookie: cookie})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("token after logout: got %d", rec.Code)
	}

	// ...but the unexpired access token remains valid. Stateless
	// tokens cannot be revoked early; this is the documented contract,
	// not a bug.
	rec = api.do(t, request{method: http.MethodGet, path: "/api/v1/users/protected", bearer: newAccess})
	if rec.Code != http.StatusOK {
		t.Fatalf("issued token after logout: got %d body %s", rec.Code, rec.Body.String())
	}
}

func TestRegisterConflictAndValidation(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, request{method: http.MethodPost, path: "/api/v1/users/register",
		body: gin.H{"username": "alice", "password": "Secreta123!"}})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: got %d", rec.Code)
	}

	rec = api.do(t, request{method: http.MethodPost, path: "/api/v1/users/register",
		body: gin.H{"username": "alice", "password": "OtraClave456!"}})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate register: got %d", rec.Code)
	}

	rec = api.do(t, request{method: http.MethodPost, path: "/api/v1/users/register",
		body: gin.H{"username": "al", "password": "Secreta123!"}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("short username: got %d", rec.Code)
	}

	rec = api.do(t, request{method: http.MethodPost, path: "/api/v1/users/register",
		body: gin.H{"username": "alice2", "password": "123"}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("short password: got %d", rec.Code)
	}
}

func TestGuardIsUniform(t *testing.T) {
	api := newTestAPI(t)

	paths := []string{
		"/api/v1/users",
		"/api/v1/users/profile",
		"/api/v1/users/token-status",
		"/api/v1/users/protected",
	}

	for _, path := range paths {
		for _, bearer := range []string{"", "garbage", "a.b.c"} {
			rec := api.do(t, request{method: http.MethodGet, path: path, bearer: bearer})
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("%s with token %q: got %d", path, bearer, rec.Code)
			}
			payload := api.decode(t, rec)
			if payload["error"] != "unauthorized" {
				t.Fatalf("%s: non-uniform guard payload %v", path, payload)
			}
		}
	}
}

func TestTokenForDeletedUserIsRejected(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, request{method: http.MethodPost, path: "/api/v1/users/register",
		body: gin.H{"username": "alice", "password": "Secreta123!"}})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: got %d", rec.Code)
	}
	rec = api.do(t, request{method: http.MethodPost, path: "/api/v1/users/login",
		body: gin.H{"username": "alice", "password": "Secreta123!"}})
	cookie := sessionCookie(t, rec)

	rec = api.do(t, request{method: http.MethodPost, path: "/api/v1/users/token", cookie: cookie})
	issued := api.decode(t, rec)
	accessToken := issued["access_token"].(string)

	// Remove the subject behind the token's back.
	api.users.mu.Lock()
	delete(api.users.byName, "alice")
	api.users.mu.Unlock()

	rec = api.do(t, request{method: http.MethodGet, path: "/api/v1/users/protected", bearer: accessToken})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("token for deleted user: got %d", rec.Code)
	}
}

func TestSessionExpiryRequiresRelogin(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, request{method: http.MethodPost, path: "/api/v1/users/register",
		body: gin.H{"username": "alice", "password": "Secreta123!"}})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: got %d", rec.Code)
	}
	rec = api.do(t, request{method: http.MethodPost, path: "/api/v1/users/login",
		body: gin.H{"username": "alice", "password": "Secreta123!"}})
	cookie := sessionCookie(t, rec)

	api.mini.FastForward(12*time.Hour + time.Minute)

	rec = api.do(t, request{method: http.MethodPost, path: "/api/v1/users/token", cookie: cookie})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("token on expired session: got %d", rec.Code)
	}
}

func TestAutoLogout(t *testing.T) {
	api := newTestAPI(t)

	// Without a session it still succeeds.
	rec := api.do(t, request{method: http.MethodPost, path: "/api/v1/users/auto-logout"})
	if rec.Code != http.StatusOK {
		t.Fatalf("auto-logout without session: got %d", rec.Code)
	}
	payload := api.decode(t, rec)
	if payload["logged_out"] != false {
		t.Fatalf("expected logged_out=false, got %v", payload)
	}

	rec = api.do(t, request{method: http.MethodPost, path: "/api/v1/users/register",
		body: gin.H{"username": "alice", "password": "Secreta123!"}})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: got %d", rec.Code)
	}
	rec = api.do(t, request{method: http.MethodPost, path: "/api/v1/users/login",
		body: gin.H{"username": "alice", "password": "Secreta123!"}})
	cookie := sessionCookie(t, rec)

	rec = api.do(t, request{method: http.MethodPost, path: "/api/v1/users/auto-logout", cookie: cookie})
	if rec.Code != http.StatusOK {
		t.Fatalf("auto-logout: got %d", rec.Code)
	}
	payload = api.decode(t, rec)
	if payload["logged_out"] != true {
		t.Fatalf("expected logged_out=true, got %v", payload)
	}

	rec = api.do(t, request{method: http.MethodPost, path: "/api/v1/users/token", cookie: cookie})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("token after auto-logout: got %d", rec.Code)
	}
}

func TestTokenStatusAndListUsers(t *testing.T) {
	api := newTestAPI(t)

	for _, u := range []string{"alice", "bob"} {
		rec := api.do(t, request{method: http.MethodPost, path: "/api/v1/users/register",
			body: gin.H{"username": u, "password": "Secreta123!"}})
		if rec.Code != http.StatusCreated {
			t.Fatalf("register %s: got %d", u, rec.Code)
		}
	}

	rec := api.do(t, request{method: http.MethodPost, path: "/api/v1/users/login",
		body: gin.H{"username": "alice", "password": "Secreta123!"}})
	cookie := sessionCookie(t, rec)
	rec = api.do(t, request{method: http.MethodPost, path: "/api/v1/users/token", cookie: cookie})
	issued := api.decode(t, rec)
	accessToken := issued["access_token"].(string)

	rec = api.do(t, request{method: http.MethodGet, path: "/api/v1/users/token-status", bearer: accessToken})
	if rec.Code != http.StatusOK {
		t.Fatalf("token-status: got %d", rec.Code)
	}
	status := api.decode(t, rec)
	if status["token_valid"] != true || status["user_id"].(float64) != 1 {
		t.Fatalf("unexpected token status %v", status)
	}

	rec = api.do(t, request{method: http.MethodGet, path: "/api/v1/users", bearer: accessToken})
	if rec.Code != http.StatusOK {
		t.Fatalf("list users: got %d", rec.Code)
	}
	var list []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 users, got %v", list)
	}
}
