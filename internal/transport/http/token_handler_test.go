package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/opentrusty/hubtrust/internal/audit"
	"github.com/opentrusty/hubtrust/internal/idp"
	"github.com/opentrusty/hubtrust/internal/keystore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPurpose: Validates the end-to-end satellite token flow across two services.
// Scope: Unit Test
// Security: Audience binding (RFC 7519 Section 4.1.3)
// Expected: The target Space verifies the token; any other service gets audience_mismatch.
// Test Case ID: IDP-01
func TestToken_MintAndVerifyForService(t *testing.T) {
	h := newHarness(t)
	aliceID, alice := h.register("alice", "")
	_, space := h.register("syftai-space", "")
	_, other := h.register("other-service", "")

	w := h.do(http.MethodGet, "/token?aud=SyftAI-Space", alice, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	tok := decode[TokenResponse](t, w)
	assert.Equal(t, 60, tok.ExpiresIn)
	assert.Contains(t, h.audit.Types(), audit.TypeTokenIssued)

	parsed, _, err := jwt.NewParser().ParseUnverified(tok.TargetToken, jwt.MapClaims{})
	require.NoError(t, err)
	assert.Equal(t, "hub-key-1", parsed.Header["kid"])

	ok := h.do(http.MethodPost, "/token/verify", space, VerifyRequest{Token: tok.TargetToken})
	require.Equal(t, http.StatusOK, ok.Code, ok.Body.String())
	res := decode[idp.VerificationResult](t, ok)
	assert.True(t, res.Valid)
	require.NotNil(t, res.Claims)
	assert.Equal(t, aliceID, res.Claims.Subject)
	assert.Equal(t, "syftai-space", res.Claims.Audience)
	assert.Equal(t, testIssuer, res.Claims.Issuer)

	bad := h.do(http.MethodPost, "/token/verify", other, VerifyRequest{Token: tok.TargetToken})
	require.Equal(t, http.StatusUnauthorized, bad.Code)
	res = decode[idp.VerificationResult](t, bad)
	assert.False(t, res.Valid)
	assert.Equal(t, idp.FailureAudienceMismatch, res.Error)
	assert.Contains(t, res.Message, "syftai-space")
	assert.Nil(t, res.Claims)

	assert.Contains(t, h.audit.Types(), audit.TypeTokenVerified)
	assert.Contains(t, h.audit.Types(), audit.TypeTokenVerificationFailed)
}

// TestPurpose: Validates audience errors on the mint endpoint.
// Scope: Unit Test
// Security: Audience allowlist enforcement
// Expected: 400 missing_audience / invalid_audience.
// Test Case ID: IDP-02
func TestToken_AudienceErrors(t *testing.T) {
	h := newHarness(t)
	_, alice := h.register("alice", "")

	w := h.do(http.MethodGet, "/token", alice, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "missing_audience", decode[map[string]string](t, w)["error"])

	w = h.do(http.MethodGet, "/token?aud=nobody", alice, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decode[map[string]string](t, w)
	assert.Equal(t, "invalid_audience", body["error"])
	assert.Contains(t, body["message"], "nobody")
	assert.Contains(t, h.audit.Types(), audit.TypeTokenDenied)
}

func TestToken_RequiresSession(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/token?aud=alice", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/token?aud=alice", "forged-session", nil).Code)
}

// TestPurpose: Validates behaviour when no signing key is provisioned.
// Scope: Unit Test
// Security: Fail closed without key material
// Expected: 503 idp_not_configured for mint and JWKS; audiences reports idp_configured=false.
// Test Case ID: IDP-03
func TestToken_KeyNotConfigured(t *testing.T) {
	h := newHarness(t, withKeys(keystore.New()))
	_, alice := h.register("alice", "")
	h.register("syftai-space", "")

	w := h.do(http.MethodGet, "/token?aud=syftai-space", alice, nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "idp_not_configured", decode[map[string]string](t, w)["error"])

	assert.Equal(t, http.StatusServiceUnavailable, h.do(http.MethodGet, "/.well-known/jwks.json", "", nil).Code)

	aud := decode[AudiencesResponse](t, h.do(http.MethodGet, "/token/audiences", "", nil))
	assert.False(t, aud.IdPConfigured)
}

func TestToken_StaticFallbackWhenLookupFails(t *testing.T) {
	h := newHarness(t, withFallback("Legacy-Space"))
	_, alice := h.register("alice", "")
	h.users.down = true

	w := h.do(http.MethodGet, "/token?aud=legacy-space", alice, nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	aud := decode[AudiencesResponse](t, h.do(http.MethodGet, "/token/audiences", "", nil))
	assert.Equal(t, []string{"legacy-space"}, aud.AllowedAudiences)
	assert.True(t, aud.IdPConfigured)
}

func TestVerify_GarbageToken(t *testing.T) {
	h := newHarness(t)
	_, space := h.register("syftai-space", "")

	w := h.do(http.MethodPost, "/token/verify", space, VerifyRequest{Token: "not.a.jwt"})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, idp.FailureInvalidTokenFormat, decode[idp.VerificationResult](t, w).Error)

	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, "/token/verify", space, VerifyRequest{}).Code)
}

// TestPurpose: Validates the published JWKS shape.
// Scope: Unit Test
// Security: No private key parameters are published (RFC 7517 Section 9.3)
// Expected: One RS256 key with e=AQAB and no d/p/q members.
func TestJWKS(t *testing.T) {
	h := newHarness(t)
	w := h.do(http.MethodGet, "/.well-known/jwks.json", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Cache-Control"), "max-age")

	raw := decode[map[string][]map[string]any](t, w)
	require.Len(t, raw["keys"], 1)
	k := raw["keys"][0]
	assert.Equal(t, "hub-key-1", k["kid"])
	assert.Equal(t, "RS256", k["alg"])
	assert.Equal(t, "AQAB", k["e"])
	for _, private := range []string{"d", "p", "q", "dp", "dq", "qi"} {
		assert.NotContains(t, k, private)
	}

	alias := h.do(http.MethodGet, "/jwks.json", "", nil)
	assert.Equal(t, w.Body.String(), alias.Body.String())

	etag := w.Header().Get("ETag")
	require.NotEmpty(t, etag)
	req := httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil)
	req.Header.Set("If-None-Match", etag)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotModified, rec.Code)
}
