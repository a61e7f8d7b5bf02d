package stats

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStatsUpdater(t *testing.T) {
	mux := http.NewServeMux()
	su := NewStatsUpdater(mux)
	assert.NotNil(t, su, "expected StatsUpdater to be non-nil")
	assert.NotNil(t, su.updateChan, "expected updateChan to be initialized")
	handler, pattern := mux.Handler(&http.Request{URL: &url.URL{Path: "/debug/vars"}, Method: http.MethodGet})
	assert.NotNil(t, handler, "expected handler for /debug/vars to be set")
	assert.Equal(t, "GET /debug/vars", pattern, "expected handler to be registered for GET method on /debug/vars")
}

func TestStatsUpdaterCounters(t *testing.T) {
	mux := http.NewServeMux()
	su := NewStatsUpdater(mux)
	for _, m := range AllMetrics {
		su.RegisterMetric(m)
	}
	su.Run()
	t.Cleanup(su.Stop)

	su.Incr(Connections)
	su.Incr(Connections)
	su.Decr(Connections)
	su.Add(WarningsSent, 3)
	su.Incr("unregistered")

	assert.Eventually(t, func() bool {
		return su.Value(Connections) == 1 && su.Value(WarningsSent) == 3
	}, time.Second, 10*time.Millisecond)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/debug/vars", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.EqualValues(t, 1, body[Connections])
	assert.Contains(t, body, "Uptime")
	assert.NotContains(t, body, "unregistered")
}

func TestRegisterMetricIdempotent(t *testing.T) {
	su := NewStatsUpdater(nil)
	su.RegisterMetric(GroupsExpired)
	su.vars.Get(GroupsExpired).(interface{ Add(int64) }).Add(2)
	su.RegisterMetric(GroupsExpired)

	assert.EqualValues(t, 2, su.Value(GroupsExpired))
}
