package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.ObserveResolve("youtube", "playlist", 120*time.Millisecond)
	m.ObserveResolve("youtube", "playlist", 80*time.Millisecond)
	m.ObserveResolve("none", "failed", time.Millisecond)
	m.ObservePlaybackEvent("track_started")
	m.ObserveSyncMessage("skip", nil)
	m.ObserveSyncMessage("loop", errors.New("invalid loop mode"))
	m.SetSessions(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.resolves.WithLabelValues("youtube", "playlist")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.resolves.WithLabelValues("none", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.playbackEvents.WithLabelValues("track_started")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.syncMessages.WithLabelValues("loop", "error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.sessions))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObservePlaybackEvent("queue_empty")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, string(body), `guildplay_playback_events_total{type="queue_empty"} 1`)
}
