package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRegistration()
	c.RecordLogin(ResultSuccess)
	c.RecordLogin(ResultFailure)
	c.RecordLogin(ResultFailure)
	c.RecordTokenRefresh(ResultSuccess)
	c.RecordUpload("avatar", ResultSuccess)
	c.RecordUpload("cover_image", ResultFailure)
	c.RecordEventPublishFailure()
	c.RecordHTTPRequest(http.StatusCreated, 20*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.registrations))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.logins.WithLabelValues(ResultSuccess)))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.logins.WithLabelValues(ResultFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.tokenRefreshes.WithLabelValues(ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.uploads.WithLabelValues("avatar", ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.uploads.WithLabelValues("cover_image", ResultFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.eventPublishFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequests.WithLabelValues("201")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.httpDuration))
}

func TestHandler_ExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordRegistration()

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "accounts_registrations_total 1"))
}

func TestNop_SatisfiesRecorder(t *testing.T) {
	var r Recorder = Nop{}
	r.RecordLogin(ResultSuccess)
	r.RecordHTTPRequest(http.StatusOK, time.Second)
}
