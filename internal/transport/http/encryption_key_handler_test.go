package http

import (
	"net/http"
	"strings"
	"testing"

	"github.com/opentrusty/hubtrust/internal/audit"
	"github.com/opentrusty/hubtrust/internal/tunnel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPurpose: Validates registration and public lookup of a Space's tunnel key.
// Scope: Unit Test
// Security: Key directory integrity
// Expected: Padded input is stored unpadded; lookup returns it; unknown users are 404.
// Test Case ID: TUN-01
func TestEncryptionKey_RegisterAndLookup(t *testing.T) {
	h := newHarness(t)
	_, space := h.register("syftai-space", "")

	priv, pub, err := tunnel.GenerateEphemeralKeypair()
	require.NoError(t, err)
	defer priv.Destroy()
	want := tunnel.EncodeB64(pub)

	w := h.do(http.MethodGet, "/nats/encryption-key/syftai-space", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"encryption_public_key":null}`, w.Body.String())

	w = h.do(http.MethodPut, "/nats/encryption-key", space, EncryptionKeyRequest{EncryptionPublicKey: want + "="})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.Contains(t, h.audit.Types(), audit.TypeEncryptionKeyRegistered)

	got := decode[EncryptionKeyResponse](t, h.do(http.MethodGet, "/nats/encryption-key/SyftAI-Space", "", nil))
	require.NotNil(t, got.EncryptionPublicKey)
	assert.Equal(t, want, *got.EncryptionPublicKey)

	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/nats/encryption-key/nobody", "", nil).Code)
}

func TestEncryptionKey_RejectsMalformed(t *testing.T) {
	h := newHarness(t)
	_, space := h.register("syftai-space", "")

	for _, key := range []string{"", "short", strings.Repeat("A", 60), "!!!not-base64!!!"} {
		w := h.do(http.MethodPut, "/nats/encryption-key", space, EncryptionKeyRequest{EncryptionPublicKey: key})
		assert.Equal(t, http.StatusBadRequest, w.Code, "key %q", key)
	}
	assert.Equal(t, http.StatusUnauthorized,
		h.do(http.MethodPut, "/nats/encryption-key", "", EncryptionKeyRequest{EncryptionPublicKey: "x"}).Code)
}
