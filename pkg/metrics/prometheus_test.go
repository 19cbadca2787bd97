package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorderCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewWith(reg)

	r.RecordAlert("entry", "accepted")
	r.RecordAlert("entry", "accepted")
	r.RecordAlert("entry", "duplicate")
	r.SetOpenTrades(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.alerts.WithLabelValues("entry", "accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.alerts.WithLabelValues("entry", "duplicate")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.openTrades))
}

func TestRecorderSeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewWith(prometheus.NewRegistry())
		NewWith(prometheus.NewRegistry())
	})
}
