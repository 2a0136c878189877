package monitor

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/udprelay/internal/config"
	"github.com/skypro1111/udprelay/internal/metrics"
	"github.com/skypro1111/udprelay/internal/registry"
)

func newTestMonitor(t *testing.T) (*Server, *registry.Registry) {
	reg := registry.New(registry.Limits{DefaultCap: 128, MaxGroupsPerClient: 3})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg2 := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg2)

	cfg := &config.Config{
		Server:  config.ServerConfig{Host: "0.0.0.0", Port: 5000},
		Group:   config.GroupConfig{EmptyTTL: 300 * time.Second, SweepInterval: 30 * time.Second, HeartbeatInterval: 60 * time.Second, DefaultCap: 128, MaxGroupsPerClient: 3},
		Logging: config.LoggingConfig{Level: "info", Format: "text"},
		Metrics: config.MetricsConfig{Addr: ":9090"},
	}

	srv := New(":0", logger, cfg, reg, m, reg2)
	return srv, reg
}

func TestMonitorHealth(t *testing.T) {
	srv, _ := newTestMonitor(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
}

func TestMonitorGroupsReflectsRegistry(t *testing.T) {
	srv, reg := newTestMonitor(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	id, err := reg.CreateGroup("10.0.0.1:1234", time.Now())
	require.NoError(t, err)
	require.NoError(t, reg.Join("10.0.0.2:5678", id, time.Now()))

	resp, err := http.Get(ts.URL + "/groups")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		TotalGroups int                      `json:"total_groups"`
		Groups      []registry.GroupSnapshot `json:"groups"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 1, body.TotalGroups)
	require.Len(t, body.Groups, 1)
	assert.Equal(t, id, body.Groups[0].ID)
	assert.Len(t, body.Groups[0].Members, 1)
}

func TestMonitorGroupDetailNotFound(t *testing.T) {
	srv, _ := newTestMonitor(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/groups/NOSUCHID")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMonitorConfigSanitized(t *testing.T) {
	srv, _ := newTestMonitor(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/config")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	server, ok := body["server"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(5000), server["port"])
}

func TestMonitorStatsIncludesCounters(t *testing.T) {
	srv, reg := newTestMonitor(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	_, err := reg.CreateGroup("10.0.0.1:1234", time.Now())
	require.NoError(t, err)

	resp, err := http.Get(ts.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	registryStats, ok := body["registry"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(1), registryStats["groups"])
}

func TestMonitorMetricsEndpointExposesPrometheusFormat(t *testing.T) {
	srv, _ := newTestMonitor(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
