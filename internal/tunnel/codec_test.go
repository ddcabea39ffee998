package tunnel

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestB64_PaddedAndUnpadded(t *testing.T) {
	for _, n := range []int{0, 1, 2, 3, 12, 32, 33} {
		raw := make([]byte, n)
		for i := range raw {
			raw[i] = byte(0xF0 + i)
		}
		enc := EncodeB64(raw)
		assert.NotContains(t, enc, "=")

		got, err := DecodeB64(enc)
		require.NoError(t, err)
		assert.Equal(t, raw, got)

		padded := base64.URLEncoding.EncodeToString(raw)
		got, err = DecodeB64(padded)
		require.NoError(t, err)
		assert.Equal(t, raw, got)
	}

	_, err := DecodeB64("+/+/")
	assert.Error(t, err, "standard alphabet is rejected")
}

func TestEnvelope_JSONShape(t *testing.T) {
	space := newSpaceKey(t)
	info, eph, err := EncryptTunnelRequest([]byte("payload"), space.PublicKeyB64(), "cid-7")
	require.NoError(t, err)
	defer eph.Destroy()

	data, err := MarshalEnvelope(&Envelope{CorrelationID: "cid-7", EncryptionInfo: *info})
	require.NoError(t, err)

	var fields map[string]string
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Equal(t, "X25519-ECDH-AES-256-GCM", fields["algorithm"])
	assert.Equal(t, "cid-7", fields["correlation_id"])
	for _, k := range []string{"ephemeral_public_key", "nonce", "encrypted_payload"} {
		assert.NotEmpty(t, fields[k])
		assert.NotContains(t, fields[k], "=")
	}

	env, err := UnmarshalEnvelope(data)
	require.NoError(t, err)
	payload, _, err := DecryptTunnelRequest(&env.EncryptionInfo, space, env.CorrelationID)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), payload)
}

func TestEnvelope_Validation(t *testing.T) {
	space := newSpaceKey(t)
	info, eph, err := EncryptTunnelRequest([]byte("p"), space.PublicKeyB64(), "cid")
	require.NoError(t, err)
	defer eph.Destroy()

	cases := map[string]func(e *Envelope){
		"missing correlation": func(e *Envelope) { e.CorrelationID = "" },
		"algorithm":           func(e *Envelope) { e.Algorithm = "RSA-OAEP" },
		"short key":           func(e *Envelope) { e.EphemeralPublicKey = EncodeB64([]byte{1, 2}) },
		"short nonce":         func(e *Envelope) { e.Nonce = EncodeB64([]byte{1, 2, 3}) },
		"short payload":       func(e *Envelope) { e.EncryptedPayload = EncodeB64([]byte{1}) },
		"not base64":          func(e *Envelope) { e.Nonce = "***" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			env := &Envelope{CorrelationID: "cid", EncryptionInfo: *info}
			mutate(env)
			assert.Error(t, env.Validate())
			_, err := MarshalEnvelope(env)
			assert.Error(t, err)
		})
	}

	_, err = UnmarshalEnvelope([]byte("{not json"))
	assert.ErrorIs(t, err, ErrMalformedEnvelope)

	bad := *info
	bad.Algorithm = "other"
	_, _, err = DecryptTunnelRequest(&bad, space, "cid")
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)
}
