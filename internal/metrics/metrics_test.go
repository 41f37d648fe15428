package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesMetrics(t *testing.T) {
	CacheLookupsTotal.WithLabelValues(ResultHit).Inc()
	FramesDecodedTotal.Add(3)

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `flickerscope_cache_lookups_total{result="hit"}`)
	assert.Contains(t, string(body), "flickerscope_frames_decoded_total")
}

func TestHealthz(t *testing.T) {
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(VideosProcessedTotal.WithLabelValues(StatusFailed))
	VideosProcessedTotal.WithLabelValues(StatusFailed).Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(VideosProcessedTotal.WithLabelValues(StatusFailed)))
}
