package http

import (
	"context"
	"net/http"
	"testing"

	"github.com/opentrusty/hubtrust/internal/audit"
	"github.com/opentrusty/hubtrust/internal/identity"
	"github.com/opentrusty/hubtrust/internal/idp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPurpose: Validates signing key rotation keeps earlier tokens verifiable.
// Scope: Unit Test
// Security: Key rotation without token invalidation (NIST SP 800-57)
// Expected: New kid is current; JWKS lists both keys; an old token still verifies.
// Test Case ID: ADM-01
func TestAdmin_RotateSigningKey(t *testing.T) {
	h := newHarness(t)
	_, admin := h.register("root", identity.RoleAdmin)
	_, alice := h.register("alice", "")
	_, space := h.register("syftai-space", "")

	before := decode[TokenResponse](t, h.do(http.MethodGet, "/token?aud=syftai-space", alice, nil))

	w := h.do(http.MethodPost, "/admin/keys/rotate", admin, RotateKeyRequest{KeyID: "hub-key-2"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode[map[string]any](t, w)
	assert.Equal(t, "hub-key-2", body["kid"])
	assert.EqualValues(t, 2, body["retained"])
	assert.Contains(t, h.audit.Types(), audit.TypeSigningKeyRotated)

	kid, err := h.keys.CurrentKeyID()
	require.NoError(t, err)
	assert.Equal(t, "hub-key-2", kid)

	jwks := decode[map[string][]map[string]any](t, h.do(http.MethodGet, "/.well-known/jwks.json", "", nil))
	assert.Len(t, jwks["keys"], 2)

	res := decode[idp.VerificationResult](t, h.do(http.MethodPost, "/token/verify", space, VerifyRequest{Token: before.TargetToken}))
	assert.True(t, res.Valid)
}

// TestPurpose: Validates that deactivating a Space owner removes it from every hub surface.
// Scope: Unit Test
// Security: Account revocation; a disabled Space must not receive tokens or tunnel traffic
// Expected: Sessions end, the username stops being an audience, and its encryption key is no longer served.
// Test Case ID: ADM-02
func TestAdmin_DeactivateUser(t *testing.T) {
	h := newHarness(t)
	adminID, admin := h.register("root", identity.RoleAdmin)
	_, alice := h.register("alice", "")
	spaceWithKey(t, h, "syftai-space")
	space := h.login("syftai-space")

	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/nats/encryption-key/syftai-space", "", nil).Code)
	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/token?aud=syftai-space", alice, nil).Code)

	w := h.do(http.MethodPost, "/admin/users/SyftAI-Space/deactivate", admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, false, decode[map[string]any](t, w)["active"])
	assert.Contains(t, h.audit.Types(), audit.TypeUserDeactivated)

	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/auth/me", space, nil).Code)
	tok := h.do(http.MethodGet, "/token?aud=syftai-space", alice, nil)
	assert.Equal(t, http.StatusBadRequest, tok.Code)
	assert.Equal(t, "invalid_audience", decode[map[string]string](t, tok)["error"])
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/nats/encryption-key/syftai-space", "", nil).Code)

	assert.Equal(t, http.StatusNotFound, h.do(http.MethodPost, "/admin/users/nobody/deactivate", admin, nil).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, "/admin/users/root/deactivate", admin, nil).Code)
	u, err := h.identity.GetUser(context.Background(), adminID)
	require.NoError(t, err)
	assert.True(t, u.IsActive)
}

func TestAdmin_RequiresAdminRole(t *testing.T) {
	h := newHarness(t)
	_, alice := h.register("alice", "")

	assert.Equal(t, http.StatusForbidden, h.do(http.MethodPost, "/admin/keys/rotate", alice, nil).Code)
	assert.Equal(t, http.StatusForbidden, h.do(http.MethodPost, "/admin/users/alice/deactivate", alice, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodPost, "/admin/keys/rotate", "", nil).Code)
}
