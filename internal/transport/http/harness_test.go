package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/opentrusty/hubtrust/internal/audit"
	"github.com/opentrusty/hubtrust/internal/identity"
	"github.com/opentrusty/hubtrust/internal/idp"
	"github.com/opentrusty/hubtrust/internal/keystore"
	"github.com/opentrusty/hubtrust/internal/session"
	"github.com/opentrusty/hubtrust/internal/tunnel"
	"github.com/stretchr/testify/require"
)

const (
	testIssuer   = "https://hub.test"
	testPassword = "correct-horse-battery"
	cookieName   = "hubtrust_session"
)

// memUsers is an in-memory identity.UserRepository.
type memUsers struct {
	mu    sync.Mutex
	users map[string]*identity.User
	creds map[string]*identity.Credentials
	down  bool
}

func newMemUsers() *memUsers {
	return &memUsers{users: map[string]*identity.User{}, creds: map[string]*identity.Credentials{}}
}

func (m *memUsers) Create(_ context.Context, u *identity.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memUsers) AddCredentials(_ context.Context, c *identity.Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.creds[c.UserID] = &cp
	return nil
}

func (m *memUsers) GetByID(_ context.Context, id string) (*identity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) byUsername(username string) *identity.User {
	for _, u := range m.users {
		if u.Username == username {
			return u
		}
	}
	return nil
}

func (m *memUsers) GetByUsername(_ context.Context, username string) (*identity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.byUsername(username)
	if u == nil {
		return nil, identity.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) ActiveUserExists(_ context.Context, username string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return false, context.DeadlineExceeded
	}
	u := m.byUsername(username)
	return u != nil && u.IsActive, nil
}

func (m *memUsers) UpdateLockout(_ context.Context, userID string, attempts int, until *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		u.FailedLoginAttempts = attempts
		u.LockedUntil = until
	}
	return nil
}

func (m *memUsers) SetActive(_ context.Context, userID string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return identity.ErrUserNotFound
	}
	u.IsActive = active
	return nil
}

func (m *memUsers) GetCredentials(_ context.Context, userID string) (*identity.Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[userID]
	if !ok {
		return nil, identity.ErrInvalidCredentials
	}
	cp := *c
	return &cp, nil
}

func (m *memUsers) UpdatePassword(_ context.Context, userID, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[userID]
	if !ok {
		return identity.ErrUserNotFound
	}
	c.PasswordHash = hash
	return nil
}

func (m *memUsers) SetEncryptionKey(_ context.Context, userID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return identity.ErrUserNotFound
	}
	u.EncryptionPublicKey = &key
	return nil
}

func (m *memUsers) GetEncryptionKey(_ context.Context, username string) (*string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.byUsername(username)
	if u == nil || !u.IsActive {
		return nil, identity.ErrUserNotFound
	}
	return u.EncryptionPublicKey, nil
}

// memSessions is an in-memory session.Repository.
type memSessions struct {
	mu       sync.Mutex
	sessions map[string]*session.Session
}

func (m *memSessions) Create(_ context.Context, s *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *memSessions) Get(_ context.Context, id string) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memSessions) Touch(_ context.Context, id string, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.LastSeenAt = t
		return nil
	}
	return session.ErrSessionNotFound
}

func (m *memSessions) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *memSessions) DeleteByUserID(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if s.UserID == userID {
			delete(m.sessions, id)
		}
	}
	return nil
}

func (m *memSessions) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	return 0, nil
}

var (
	sharedKeysOnce sync.Once
	sharedKeys     *keystore.Store
)

// testKeys returns a fresh store holding one 2048-bit key. Generation is
// shared across tests; rotation tests generate their own keys on top.
func testKeys(t *testing.T) *keystore.Store {
	t.Helper()
	sharedKeysOnce.Do(func() {
		sharedKeys = keystore.New()
		require.NoError(t, sharedKeys.Generate("hub-key-1"))
	})
	ks := keystore.New()
	kid, privB64, pubB64, err := sharedKeys.ExportCurrent()
	require.NoError(t, err)
	require.NoError(t, ks.LoadFromEncodedPEM(privB64, pubB64, kid))
	return ks
}

type harness struct {
	t        *testing.T
	users    *memUsers
	keys     *keystore.Store
	audit    *audit.Recorder
	identity *identity.Service
	pending  *tunnel.PendingExchanges
	router   http.Handler
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	keys     *keystore.Store
	fallback []string
	health   HealthChecker
}

func withKeys(ks *keystore.Store) harnessOption {
	return func(c *harnessConfig) { c.keys = ks }
}

func withFallback(auds ...string) harnessOption {
	return func(c *harnessConfig) { c.fallback = auds }
}

func withHealth(h HealthChecker) harnessOption {
	return func(c *harnessConfig) { c.health = h }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	cfg := harnessConfig{}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.keys == nil {
		cfg.keys = testKeys(t)
	}

	users := newMemUsers()
	rec := &audit.Recorder{}
	hasher := identity.NewPasswordHasher(1024, 1, 1, 16, 32)
	ids := identity.NewService(users, hasher, rec, 3, time.Minute)
	sessions := session.NewService(&memSessions{sessions: map[string]*session.Session{}}, time.Hour, 0)

	pending := tunnel.NewPendingExchanges(time.Minute, nil)
	t.Cleanup(pending.Close)

	audiences := idp.NewAudienceValidator(ids, cfg.fallback)
	h := NewHandler(Dependencies{
		Identity:  ids,
		Sessions:  sessions,
		Keys:      cfg.keys,
		Audiences: audiences,
		Issuer:    idp.NewIssuer(cfg.keys, audiences, testIssuer, time.Minute, idp.WithAuditLogger(rec)),
		Verifier:  idp.NewVerifier(cfg.keys, testIssuer),
		Audit:     rec,
		Health:    cfg.health,
		Session: SessionConfig{
			CookieName:     cookieName,
			CookiePath:     "/",
			CookieHTTPOnly: true,
			CookieSameSite: http.SameSiteLaxMode,
		},
		Tunnel:    tunnel.NewRequester(pending, nil),
		TunnelTTL: time.Minute,
	})

	return &harness{
		t:        t,
		users:    users,
		keys:     cfg.keys,
		audit:    rec,
		identity: ids,
		pending:  pending,
		router:   NewRouter(h, NewRateLimiter(1000, 1000), time.Minute),
	}
}

// register creates a user and returns a bearer session for it.
func (h *harness) register(username, role string) (userID, sessionID string) {
	h.t.Helper()
	u, err := h.identity.Register(context.Background(), username, username+"@example.com", testPassword, role)
	require.NoError(h.t, err)
	return u.ID, h.login(username)
}

func (h *harness) login(username string) string {
	h.t.Helper()
	w := h.do(http.MethodPost, "/auth/login", "", LoginRequest{Username: username, Password: testPassword})
	require.Equal(h.t, http.StatusOK, w.Code, w.Body.String())
	for _, c := range w.Result().Cookies() {
		if c.Name == cookieName {
			return c.Value
		}
	}
	h.t.Fatal("login did not set a session cookie")
	return ""
}

// do sends a request authenticated with a bearer session when sid is set.
func (h *harness) do(method, path, sid string, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if sid != "" {
		req.Header.Set("Authorization", "Bearer "+sid)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}
