package tunnel

import (
	"bytes"
	"crypto/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSpaceKey(t *testing.T) *PrivateKey {
	t.Helper()
	k, _, err := GenerateEphemeralKeypair()
	require.NoError(t, err)
	t.Cleanup(func() { _ = k.Destroy() })
	return k
}

func randomPayload(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

// TestPurpose: Verifies a full request/response exchange returns the original bytes on both legs.
// Scope: Unit Test
// Security: End-to-end confidentiality across an untrusted relay
// Expected: Space recovers the request, requester recovers the response, for empty and large payloads.
func TestTunnel_RoundTrip(t *testing.T) {
	for _, size := range []int{0, 1, 31, 1024, 64 * 1024} {
		space := newSpaceKey(t)
		request := randomPayload(t, size)
		response := randomPayload(t, size+7)
		cid := "corr-" + strings.Repeat("x", size%5)

		info, eph, err := EncryptTunnelRequest(request, space.PublicKeyB64(), cid)
		require.NoError(t, err)
		assert.Equal(t, Algorithm, info.Algorithm)

		got, requesterPub, err := DecryptTunnelRequest(info, space, cid)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(request, got))
		assert.Equal(t, eph.PublicKey(), requesterPub)

		respInfo, err := EncryptTunnelResponse(response, requesterPub, cid)
		require.NoError(t, err)

		out, err := DecryptTunnelResponse(respInfo.EncryptedPayload, respInfo, eph, cid)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(response, out))
		require.NoError(t, eph.Destroy())
	}
}

// TestPurpose: Verifies identical inputs never produce identical envelopes.
// Scope: Unit Test
// Security: Forward secrecy and nonce uniqueness
// Expected: distinct ephemeral keys, nonces and ciphertexts.
func TestEncryptTunnelRequest_NonDeterministic(t *testing.T) {
	space := newSpaceKey(t)
	payload := []byte("same plaintext")

	a, ea, err := EncryptTunnelRequest(payload, space.PublicKeyB64(), "cid")
	require.NoError(t, err)
	defer ea.Destroy()
	b, eb, err := EncryptTunnelRequest(payload, space.PublicKeyB64(), "cid")
	require.NoError(t, err)
	defer eb.Destroy()

	assert.NotEqual(t, a.EphemeralPublicKey, b.EphemeralPublicKey)
	assert.NotEqual(t, a.Nonce, b.Nonce)
	assert.NotEqual(t, a.EncryptedPayload, b.EncryptedPayload)
}

// TestPurpose: Verifies the wrong recipient key or wrong correlation id always fails with the single AEAD error.
// Scope: Unit Test
// Security: Misdelivery and cross-exchange replay (anti-oracle)
// Expected: ErrAuthenticationFailed in every case.
func TestDecrypt_WrongKeyOrCorrelation(t *testing.T) {
	space := newSpaceKey(t)
	other := newSpaceKey(t)

	info, eph, err := EncryptTunnelRequest([]byte("hello"), space.PublicKeyB64(), "cid-1")
	require.NoError(t, err)
	defer eph.Destroy()

	_, _, err = DecryptTunnelRequest(info, other, "cid-1")
	assert.ErrorIs(t, err, ErrAuthenticationFailed)

	_, _, err = DecryptTunnelRequest(info, space, "cid-2")
	assert.ErrorIs(t, err, ErrAuthenticationFailed)

	_, requesterPub, err := DecryptTunnelRequest(info, space, "cid-1")
	require.NoError(t, err)
	resp, err := EncryptTunnelResponse([]byte("reply"), requesterPub, "cid-1")
	require.NoError(t, err)

	_, err = DecryptTunnelResponse("", resp, other, "cid-1")
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
	_, err = DecryptTunnelResponse("", resp, eph, "cid-other")
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

// TestPurpose: Verifies a request ciphertext cannot be reflected back as a response.
// Scope: Unit Test
// Security: Domain separation between request and response keys
// Expected: ErrAuthenticationFailed when a request envelope is opened as a response.
func TestDecrypt_ReflectedRequestRejected(t *testing.T) {
	space := newSpaceKey(t)
	info, eph, err := EncryptTunnelRequest([]byte("hello"), space.PublicKeyB64(), "cid")
	require.NoError(t, err)
	defer eph.Destroy()

	// Same ECDH pair as the request, but opened under the response label.
	reflected := *info
	reflected.EphemeralPublicKey = space.PublicKeyB64()
	_, err = DecryptTunnelResponse("", &reflected, eph, "cid")
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestDecrypt_TamperedCiphertext(t *testing.T) {
	space := newSpaceKey(t)
	info, eph, err := EncryptTunnelRequest([]byte("hello world"), space.PublicKeyB64(), "cid")
	require.NoError(t, err)
	defer eph.Destroy()

	ct, err := DecodeB64(info.EncryptedPayload)
	require.NoError(t, err)
	ct[0] ^= 0x01
	tampered := *info
	tampered.EncryptedPayload = EncodeB64(ct)

	_, _, err = DecryptTunnelRequest(&tampered, space, "cid")
	assert.ErrorIs(t, err, ErrAuthenticationFailed)

	nonce, err := DecodeB64(info.Nonce)
	require.NoError(t, err)
	nonce[3] ^= 0x80
	tampered = *info
	tampered.Nonce = EncodeB64(nonce)
	_, _, err = DecryptTunnelRequest(&tampered, space, "cid")
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

// TestPurpose: Verifies that altered envelope fields fail the same way as an altered ciphertext.
// Scope: Unit Test
// Security: Decryption must not act as an oracle for which field was tampered
// Expected: low-order ephemeral key, truncated nonce, and truncated payload all return ErrAuthenticationFailed.
func TestDecrypt_TamperedFieldsCollapse(t *testing.T) {
	space := newSpaceKey(t)
	info, eph, err := EncryptTunnelRequest([]byte("hello world"), space.PublicKeyB64(), "cid")
	require.NoError(t, err)
	defer eph.Destroy()

	nonce, err := DecodeB64(info.Nonce)
	require.NoError(t, err)

	cases := map[string]func(i *EncryptionInfo){
		"low order ephemeral key": func(i *EncryptionInfo) { i.EphemeralPublicKey = EncodeB64(make([]byte, KeySize)) },
		"short ephemeral key":     func(i *EncryptionInfo) { i.EphemeralPublicKey = EncodeB64([]byte{9}) },
		"truncated nonce":         func(i *EncryptionInfo) { i.Nonce = EncodeB64(nonce[:NonceSize-1]) },
		"truncated payload":       func(i *EncryptionInfo) { i.EncryptedPayload = EncodeB64([]byte{1, 2}) },
		"garbled base64":          func(i *EncryptionInfo) { i.Nonce = "***" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			tampered := *info
			mutate(&tampered)

			_, _, err := DecryptTunnelRequest(&tampered, space, "cid")
			assert.ErrorIs(t, err, ErrAuthenticationFailed)

			_, err = DecryptTunnelResponse("", &tampered, eph, "cid")
			assert.ErrorIs(t, err, ErrAuthenticationFailed)
		})
	}
}

func TestDeriveKey_DomainSeparation(t *testing.T) {
	a := newSpaceKey(t)
	b := newSpaceKey(t)

	req, err := DeriveKey(a, b.PublicKey(), PurposeRequest)
	require.NoError(t, err)
	resp, err := DeriveKey(a, b.PublicKey(), PurposeResponse)
	require.NoError(t, err)
	assert.Len(t, req, SymmetricKeySize)
	assert.NotEqual(t, req, resp)

	// ECDH is symmetric
	peer, err := DeriveKey(b, a.PublicKey(), PurposeRequest)
	require.NoError(t, err)
	assert.Equal(t, req, peer)
}

func TestDeriveKey_RejectsLowOrderPoint(t *testing.T) {
	k := newSpaceKey(t)
	_, err := DeriveKey(k, make([]byte, KeySize), PurposeRequest)
	assert.ErrorIs(t, err, ErrInvalidPublicKey)

	_, err = DeriveKey(k, []byte{1, 2, 3}, PurposeRequest)
	assert.ErrorIs(t, err, ErrInvalidPublicKey)
}

func TestEncryptDecrypt_Primitives(t *testing.T) {
	key := randomPayload(t, SymmetricKeySize)
	nonce, ct, err := Encrypt([]byte("msg"), key, []byte("aad"))
	require.NoError(t, err)
	assert.Len(t, nonce, NonceSize)
	assert.Len(t, ct, 3+TagSize)

	pt, err := Decrypt(ct, key, nonce, []byte("aad"))
	require.NoError(t, err)
	assert.Equal(t, []byte("msg"), pt)

	_, err = Decrypt(ct, key, nonce[:8], []byte("aad"))
	assert.ErrorIs(t, err, ErrAuthenticationFailed)

	_, _, err = Encrypt([]byte("msg"), key[:16], nil)
	assert.ErrorIs(t, err, ErrInvalidKeyLength)
}

func TestEncryptTunnelRequest_InputValidation(t *testing.T) {
	space := newSpaceKey(t)

	_, _, err := EncryptTunnelRequest([]byte("x"), space.PublicKeyB64(), "")
	assert.ErrorIs(t, err, ErrMissingCorrelationID)

	_, _, err = EncryptTunnelRequest([]byte("x"), "not base64 !!", "cid")
	assert.ErrorIs(t, err, ErrInvalidPublicKey)

	_, _, err = EncryptTunnelRequest([]byte("x"), EncodeB64([]byte("short")), "cid")
	assert.ErrorIs(t, err, ErrInvalidPublicKey)

	_, err = EncryptTunnelResponse([]byte("x"), []byte("short"), "cid")
	assert.ErrorIs(t, err, ErrInvalidPublicKey)
}

func TestDestroyedKeyUnusable(t *testing.T) {
	space := newSpaceKey(t)
	info, eph, err := EncryptTunnelRequest([]byte("x"), space.PublicKeyB64(), "cid")
	require.NoError(t, err)
	require.NoError(t, eph.Destroy())
	assert.True(t, eph.Destroyed())

	_, err = DecryptTunnelResponse("", info, eph, "cid")
	assert.ErrorIs(t, err, ErrKeyDestroyed)
	_, err = eph.ExportB64()
	assert.ErrorIs(t, err, ErrKeyDestroyed)
}

func TestParsePrivateKey_RoundTrip(t *testing.T) {
	k := newSpaceKey(t)
	exported, err := k.ExportB64()
	require.NoError(t, err)

	parsed, err := ParsePrivateKey(exported)
	require.NoError(t, err)
	defer parsed.Destroy()
	assert.Equal(t, k.PublicKeyB64(), parsed.PublicKeyB64())

	_, err = ParsePrivateKey(EncodeB64([]byte("short")))
	assert.ErrorIs(t, err, ErrInvalidPrivateKey)
}

func TestNewPrivateKey_WipesInput(t *testing.T) {
	scalar := randomPayload(t, KeySize)
	k, err := NewPrivateKey(scalar)
	require.NoError(t, err)
	defer k.Destroy()
	assert.Equal(t, make([]byte, KeySize), scalar)
}
