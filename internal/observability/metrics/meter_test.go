package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPurpose: Verifies hub instruments are exported through the Prometheus handler.
// Scope: Unit Test
// Expected: scrape output contains the minted counter with its status label.
func TestRecorder_ExportsPrometheus(t *testing.T) {
	m, err := New(Config{Enabled: true, Namespace: "hubtrust"})
	require.NoError(t, err)
	defer m.Shutdown(context.Background())

	rec, err := NewRecorder(m)
	require.NoError(t, err)

	ctx := context.Background()
	rec.TokenMinted(ctx, StatusSuccess)
	rec.TokenVerified(ctx, "audience_mismatch")
	rec.TunnelOperation(ctx, "encrypt_request", StatusSuccess)
	rec.PendingExchanges(ctx, 1)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)

	body, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "hubtrust_tokens_minted_total")
	assert.Contains(t, string(body), `status="success"`)
	assert.Contains(t, string(body), `result="audience_mismatch"`)
	assert.Contains(t, string(body), "hubtrust_pending_exchanges")
}

func TestMeter_Disabled(t *testing.T) {
	m, err := New(Config{})
	require.NoError(t, err)

	rec, err := NewRecorder(m)
	require.NoError(t, err)
	rec.TokenMinted(context.Background(), StatusSuccess)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.NoError(t, m.Shutdown(context.Background()))
}
