package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/recallbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Counters(t *testing.T) {
	r := New()
	r.RunFinished("US-FDA", domain.RunComplete)
	r.RunFinished("US-FDA", domain.RunComplete)
	r.RunFinished("", domain.RunFailed)
	r.StageFailed(domain.StagePublish)
	r.RecallsInserted("US-FDA", 3)
	r.Published("bluesky", "ok")

	assert.Equal(t, 2.0, testutil.ToFloat64(r.runs.WithLabelValues("US-FDA", "complete")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues("none", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.stageFailures.WithLabelValues("publish")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.inserted.WithLabelValues("US-FDA")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.published.WithLabelValues("bluesky", "ok")))
}

func TestRecorder_Handler(t *testing.T) {
	r := New()
	r.StageDuration(domain.StageFetch, 250*time.Millisecond)

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `recallbot_stage_duration_seconds_count{stage="fetch"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
