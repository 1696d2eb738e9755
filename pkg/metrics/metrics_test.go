package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/Swiss-Library-Service-Platform/almapiwrapper/pkg/backup"
	"github.com/Swiss-Library-Service-Platform/almapiwrapper/pkg/quota"
	"github.com/Swiss-Library-Service-Platform/almapiwrapper/pkg/request"
)

// The collector must plug into every component that accepts metrics.
var (
	_ quota.Metrics   = (*Collector)(nil)
	_ request.Metrics = (*Collector)(nil)
	_ backup.Metrics  = (*Collector)(nil)
)

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollectorWithRegistry(reg)

	c.RequestObserved("GET", 200, 42*time.Millisecond)
	c.RequestObserved("GET", 200, 10*time.Millisecond)
	c.RequestObserved("PUT", 400, time.Millisecond)
	c.RetryAttempted("GET", "network")
	c.ThrottleEngaged()
	c.ThrottleEngaged()
	c.QuotaRemaining(123456)
	c.BackupWritten("bib")

	assert.Equal(t, float64(2),
		testutil.ToFloat64(c.requestsTotal.WithLabelValues("GET", "200")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(c.requestsTotal.WithLabelValues("PUT", "400")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(c.retriesTotal.WithLabelValues("GET", "network")))
	assert.Equal(t, float64(2), testutil.ToFloat64(c.throttleEngagedTotal))
	assert.Equal(t, float64(123456), testutil.ToFloat64(c.quotaRemaining))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(c.backupsTotal.WithLabelValues("bib")))
}
