package tunnel

import (
	"context"
	"crypto/rand"
	"testing"
	"time"
)

func BenchmarkExchange(b *testing.B) {
	spaceKey, _, err := GenerateEphemeralKeypair()
	if err != nil {
		b.Fatal(err)
	}
	defer spaceKey.Destroy()

	pending := NewPendingExchanges(time.Minute, nil)
	defer pending.Close()
	requester := NewRequester(pending, nil)
	space := NewResponder(spaceKey, nil)

	payload := make([]byte, 4096)
	if _, err := rand.Read(payload); err != nil {
		b.Fatal(err)
	}
	ctx := context.Background()

	b.SetBytes(int64(len(payload)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		env, err := requester.Seal(ctx, payload, space.PublicKeyB64())
		if err != nil {
			b.Fatal(err)
		}
		req, err := space.Open(ctx, env)
		if err != nil {
			b.Fatal(err)
		}
		resp, err := space.Seal(ctx, req, req.Payload)
		if err != nil {
			b.Fatal(err)
		}
		if _, err := requester.Open(ctx, resp); err != nil {
			b.Fatal(err)
		}
	}
}
