package routes

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marketplace-ledger/api/controllers"
	"github.com/angelmondragon/marketplace-ledger/pkg/config"
	"github.com/angelmondragon/marketplace-ledger/pkg/logger"
	"github.com/angelmondragon/marketplace-ledger/pkg/metrics"
)

func newTestRouter(t *testing.T, reg *prometheus.Registry, checks ...controllers.ReadinessCheck) http.Handler {
	t.Helper()
	cfg := &config.Config{App: config.AppConfig{Env: "test"}}
	logg := logger.New(logger.Options{ServiceName: "ops-test", Output: io.Discard})
	return NewOpsRouter(cfg, logg, reg, checks...)
}

func serve(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthzAlwaysLive(t *testing.T) {
	rec := serve(newTestRouter(t, prometheus.NewRegistry()), "/healthz")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"live"`)
	assert.Equal(t, "test", rec.Header().Get("X-Ledger-Env"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestReadyzReportsFailingDependency(t *testing.T) {
	healthy := controllers.ReadinessCheck{Name: "database", Ping: func(context.Context) error { return nil }}
	broken := controllers.ReadinessCheck{Name: "redis", Ping: func(context.Context) error { return errors.New("connection refused") }}

	rec := serve(newTestRouter(t, prometheus.NewRegistry(), healthy), "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(newTestRouter(t, prometheus.NewRegistry(), healthy, broken), "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "redis")
	assert.NotContains(t, rec.Body.String(), "database")
}

func TestMetricsExposesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.NewSettlementMetrics(reg).IncCredit("applied")

	rec := serve(newTestRouter(t, reg), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "ledger_settlement_credits_total"))
}
