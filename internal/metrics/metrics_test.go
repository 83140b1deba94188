package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/payment-authgate/internal/metrics"
)

func TestRegisterDoesNotPanicOnFreshRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	assert.NotPanics(t, func() { metrics.Register(reg) })
}

func TestAuthAttemptsTotalIncrements(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.Register(reg)

	metrics.AuthAttemptsTotal.WithLabelValues("acme*****p", "success").Inc()

	families, err := reg.Gather()
	require.NoError(t, err)

	var found *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == "authgate_auth_attempts_total" {
			found = f
		}
	}
	require.NotNil(t, found)
	require.Len(t, found.Metric, 1)
	assert.Equal(t, float64(1), found.Metric[0].GetCounter().GetValue())
}
