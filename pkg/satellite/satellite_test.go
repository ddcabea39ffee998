package satellite

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opentrusty/hubtrust/internal/idp"
	"github.com/opentrusty/hubtrust/internal/keystore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type allowAll struct{}

func (allowAll) ActiveUserExists(context.Context, string) (bool, error) { return true, nil }

// fakeHub serves the JWKS of a keystore and counts fetches.
type fakeHub struct {
	keys    *keystore.Store
	server  *httptest.Server
	fetches atomic.Int32
	issuer  *idp.Issuer
}

var (
	hubKeysOnce sync.Once
	hubKeys     *keystore.Store
)

func newFakeHub(t *testing.T) *fakeHub {
	t.Helper()
	hubKeysOnce.Do(func() {
		hubKeys = keystore.New()
		require.NoError(t, hubKeys.Generate("sat-kid-1"))
	})
	kid, privB64, pubB64, err := hubKeys.ExportCurrent()
	require.NoError(t, err)
	ks := keystore.New()
	require.NoError(t, ks.LoadFromEncodedPEM(privB64, pubB64, kid))

	h := &fakeHub{keys: ks}
	h.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.fetches.Add(1)
		set, err := h.keys.JWKS()
		if err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(h.server.Close)

	h.issuer = idp.NewIssuer(ks, idp.NewAudienceValidator(allowAll{}, nil), h.server.URL, time.Minute)
	return h
}

func (h *fakeHub) mint(t *testing.T, aud string) string {
	t.Helper()
	tok, err := h.issuer.Mint(context.Background(), idp.Principal{ID: "user-1", Username: "alice"}, aud)
	require.NoError(t, err)
	return tok.Value
}

// TestPurpose: Validates offline verification of hub tokens inside a Space.
// Scope: Unit Test
// Security: Audience binding (RFC 7519 Section 4.1.3)
// Expected: Own-audience token is valid; a token for another Space is audience_mismatch.
// Test Case ID: SAT-01
func TestVerifier_Verify(t *testing.T) {
	hub := newFakeHub(t)
	v, err := NewVerifier(Config{HubURL: hub.server.URL, JWKSURL: hub.server.URL, Audience: "SyftAI-Space"})
	require.NoError(t, err)

	res := v.Verify(context.Background(), hub.mint(t, "syftai-space"))
	require.True(t, res.Valid, res.Message)
	assert.Equal(t, "user-1", res.Claims.Subject)

	res = v.Verify(context.Background(), hub.mint(t, "other-space"))
	assert.False(t, res.Valid)
	assert.Equal(t, idp.FailureAudienceMismatch, res.Error)

	assert.Equal(t, int32(1), hub.fetches.Load(), "keys are cached after the first fetch")
}

// TestPurpose: Validates that a hub key rotation is picked up on an unknown kid.
// Scope: Unit Test
// Security: Key rotation continuity
// Expected: Token signed by the new key verifies after one refresh.
func TestVerifier_RefreshOnUnknownKid(t *testing.T) {
	hub := newFakeHub(t)
	v, err := NewVerifier(Config{
		HubURL:             hub.server.URL,
		JWKSURL:            hub.server.URL,
		Audience:           "syftai-space",
		MinRefreshInterval: time.Nanosecond,
	})
	require.NoError(t, err)

	require.True(t, v.Verify(context.Background(), hub.mint(t, "syftai-space")).Valid)

	_, err = hub.keys.Rotate("sat-kid-2")
	require.NoError(t, err)

	res := v.Verify(context.Background(), hub.mint(t, "syftai-space"))
	require.True(t, res.Valid, res.Message)
	assert.Equal(t, int32(2), hub.fetches.Load())
	assert.ElementsMatch(t, []string{"sat-kid-1", "sat-kid-2"}, v.Keys().KeyIDs())
}

func TestKeySet_ThrottlesUnknownKid(t *testing.T) {
	hub := newFakeHub(t)
	ks := NewKeySet(hub.server.URL, nil, time.Hour)

	assert.True(t, ks.Ensure(context.Background(), "sat-kid-1"))
	assert.False(t, ks.Ensure(context.Background(), "forged-kid"))
	assert.False(t, ks.Ensure(context.Background(), "forged-kid"))
	assert.Equal(t, int32(1), hub.fetches.Load())
}

// TestPurpose: Validates that failed JWKS fetches are throttled like successful ones.
// Scope: Unit Test
// Security: A hub outage must not turn into a request storm from every Space
// Expected: Twenty unknown-kid lookups against a failing hub cause one fetch; a second fetch happens only after the interval.
func TestKeySet_ThrottlesFailingHub(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ks := NewKeySet(srv.URL, nil, time.Minute)
	ks.now = func() time.Time { return now }

	for i := 0; i < 20; i++ {
		assert.False(t, ks.Ensure(context.Background(), "unknown"))
	}
	assert.Equal(t, int32(1), hits.Load())

	now = now.Add(time.Minute + time.Second)
	assert.False(t, ks.Ensure(context.Background(), "unknown"))
	assert.Equal(t, int32(2), hits.Load())
}

// TestPurpose: Validates that a shared JWKS fetch outlives the request that started it.
// Scope: Unit Test
// Security: Availability of verification under client cancellation
// Expected: The cancelled caller gets ErrJWKSFetch while the fetch still completes and fills the cache.
func TestKeySet_RefreshSurvivesCallerCancel(t *testing.T) {
	hub := newFakeHub(t)
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() { close(started) })
		<-release
		hub.server.Config.Handler.ServeHTTP(w, r)
	}))
	defer srv.Close()

	ks := NewKeySet(srv.URL, nil, 0)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- ks.Refresh(ctx) }()

	<-started
	cancel()
	assert.ErrorIs(t, <-errc, ErrJWKSFetch)

	close(release)
	require.Eventually(t, func() bool {
		_, ok := ks.PublicKey("sat-kid-1")
		return ok
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), hub.fetches.Load())
}

func TestKeySet_FetchErrors(t *testing.T) {
	hub := newFakeHub(t)
	empty := keystore.New()
	hub.keys = empty

	ks := NewKeySet(hub.server.URL, nil, 0)
	assert.ErrorIs(t, ks.Refresh(context.Background()), ErrJWKSFetch)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"keys":[{"kty":"oct","kid":"x","k":"AAAA"}]}`))
	}))
	defer srv.Close()
	assert.ErrorIs(t, NewKeySet(srv.URL, nil, 0).Refresh(context.Background()), ErrNoKeysFound)
}

func TestMiddleware(t *testing.T) {
	hub := newFakeHub(t)
	v, err := NewVerifier(Config{HubURL: hub.server.URL, JWKSURL: hub.server.URL, Audience: "syftai-space"})
	require.NoError(t, err)

	var sub string
	h := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, ok := ClaimsFromContext(r.Context())
		require.True(t, ok)
		sub = c.Subject
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+hub.mint(t, "syftai-space"))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "user-1", sub)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotEmpty(t, w.Header().Get("WWW-Authenticate"))
}

func TestNewVerifier_Validation(t *testing.T) {
	_, err := NewVerifier(Config{Audience: "a"})
	assert.Error(t, err)
	_, err = NewVerifier(Config{HubURL: "https://hub"})
	assert.Error(t, err)
}
