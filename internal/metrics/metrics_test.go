package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	r := Room{Domain: 0, ID: 1}
	m.ObserveCycle(r, "LOW", time.Millisecond)
	m.ScanPushed(r, 0)
	m.ScanFailed(r, 0)
	m.FallDetected(r)
	m.SetRoomState(r, 2)
	m.EventPublished("redis", nil)
	m.EventDropped("redis")
	m.CommandHandled("pause", nil)

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	assert.NotNil(t, m.Middleware("/x", h))
}

func TestCounters(t *testing.T) {
	m := New()
	m.ObserveCycle(Room{ID: 1}, "LOW", time.Millisecond)
	m.ObserveCycle(Room{ID: 1}, "LOW", time.Millisecond)
	m.ObserveCycle(Room{ID: 1}, "HIGH", time.Millisecond)
	m.FallDetected(Room{ID: 2})
	m.EventPublished("kafka", nil)
	m.EventPublished("kafka", errors.New("down"))
	m.EventDropped("kafka")
	m.SetRoomState(Room{ID: 1}, 3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.cycles.WithLabelValues("0", "1", "LOW")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cycles.WithLabelValues("0", "1", "HIGH")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.falls.WithLabelValues("0", "2")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("kafka", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("kafka", "dropped")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.roomState.WithLabelValues("0", "1")))
}

func TestRoomSeriesAreKeyedByDomain(t *testing.T) {
	m := New()
	m.SetRoomState(Room{Domain: 0, ID: 1}, 2)
	m.SetRoomState(Room{Domain: 7, ID: 1}, 1)
	m.FallDetected(Room{Domain: 7, ID: 1})
	m.ScanPushed(Room{Domain: 0, ID: 1}, 3)
	m.ScanPushed(Room{Domain: 7, ID: 1}, 3)
	m.ScanPushed(Room{Domain: 7, ID: 1}, 3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.roomState.WithLabelValues("0", "1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.roomState.WithLabelValues("7", "1")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.falls.WithLabelValues("0", "1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.falls.WithLabelValues("7", "1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.scans.WithLabelValues("0", "1", "3")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.scans.WithLabelValues("7", "1", "3")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.roomState))
}

func TestHandlerAndMiddleware(t *testing.T) {
	m := New()
	h := m.Middleware("/api/rooms", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/rooms", nil))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("/api/rooms", "GET", "418")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "fds_http_requests_total"))
}
