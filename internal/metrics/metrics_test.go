package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()
	m.Login("redirect")
	m.Login("redirect")
	m.Launch("invalid_state")
	m.KeyFetch(20*time.Millisecond, nil)
	m.KeyFetch(time.Second, errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.logins.WithLabelValues("redirect")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.launches.WithLabelValues("invalid_state")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.keyFetch))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `lti_login_total{outcome="redirect"} 2`))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Login("x")
	m.Launch("x")
	m.KeyFetch(time.Second, nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rec.Code)
}
