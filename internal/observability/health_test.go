package observability_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briefloop/ingestcore/internal/observability"
)

func TestNewHealthChecker(t *testing.T) {
	hc := observability.NewHealthChecker("v1.0.0")
	require.NotNil(t, hc)
	assert.Equal(t, "v1.0.0", hc.Version)
	assert.Equal(t, 5*time.Second, hc.Timeout)
	assert.NotNil(t, hc.HealthChecks)
	assert.NotNil(t, hc.ReadinessChecks)
}

func TestRegisterHealthCheck(t *testing.T) {
	hc := observability.NewHealthChecker("v1.0.0")

	hc.RegisterHealthCheck("scheduler", func(ctx context.Context) error {
		return nil
	})

	assert.Len(t, hc.HealthChecks, 1)
	assert.Contains(t, hc.HealthChecks, "scheduler")
}

func TestRegisterReadinessCheck(t *testing.T) {
	hc := observability.NewHealthChecker("v1.0.0")

	hc.RegisterReadinessCheck("database", func(ctx context.Context) error {
		return nil
	})

	assert.Len(t, hc.ReadinessChecks, 1)
	assert.Contains(t, hc.ReadinessChecks, "database")
}

func TestSetTimeout(t *testing.T) {
	hc := observability.NewHealthChecker("v1.0.0")
	assert.Equal(t, 5*time.Second, hc.Timeout)

	hc.SetTimeout(10 * time.Second)
	assert.Equal(t, 10*time.Second, hc.Timeout)
}

func TestCheckHealthAllHealthy(t *testing.T) {
	hc := observability.NewHealthChecker("v1.0.0")

	hc.RegisterHealthCheck("database", func(ctx context.Context) error { return nil })
	hc.RegisterHealthCheck("kv", func(ctx context.Context) error { return nil })

	response := hc.CheckHealth(context.Background())

	require.NotNil(t, response)
	assert.Equal(t, observability.StatusHealthy, response.Status)
	assert.Equal(t, "v1.0.0", response.Version)
	assert.Len(t, response.Components, 2)

	for _, comp := range response.Components {
		assert.Equal(t, observability.StatusHealthy, comp.Status)
		assert.Empty(t, comp.Error)
	}
}

func TestCheckHealthWithUnhealthyComponent(t *testing.T) {
	hc := observability.NewHealthChecker("v1.0.0")

	hc.RegisterHealthCheck("database", func(ctx context.Context) error { return nil })
	hc.RegisterHealthCheck("kv", func(ctx context.Context) error {
		return errors.New("connection refused")
	})

	response := hc.CheckHealth(context.Background())

	require.NotNil(t, response)
	assert.Equal(t, observability.StatusUnhealthy, response.Status)

	dbComp := response.Components["database"]
	assert.Equal(t, observability.StatusHealthy, dbComp.Status)

	kvComp := response.Components["kv"]
	assert.Equal(t, observability.StatusUnhealthy, kvComp.Status)
	assert.Contains(t, kvComp.Error, "connection refused")
}

func TestCheckHealthTimeout(t *testing.T) {
	hc := observability.NewHealthChecker("v1.0.0")
	hc.SetTimeout(100 * time.Millisecond)

	hc.RegisterHealthCheck("slow", func(ctx context.Context) error {
		select {
		case <-time.After(1 * time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	response := hc.CheckHealth(context.Background())

	require.NotNil(t, response)
	assert.Equal(t, observability.StatusUnhealthy, response.Status)

	slowComp := response.Components["slow"]
	assert.Equal(t, observability.StatusUnhealthy, slowComp.Status)
	assert.Equal(t, "check timed out", slowComp.Error)
}

func TestCheckReadinessAllReady(t *testing.T) {
	hc := observability.NewHealthChecker("v1.0.0")

	hc.RegisterReadinessCheck("database", func(ctx context.Context) error { return nil })
	hc.RegisterReadinessCheck("kv", func(ctx context.Context) error { return nil })

	response := hc.CheckReadiness(context.Background())

	require.NotNil(t, response)
	assert.True(t, response.Ready)
	assert.Len(t, response.Components, 2)
}

func TestCheckReadinessWithNotReadyComponent(t *testing.T) {
	hc := observability.NewHealthChecker("v1.0.0")

	hc.RegisterReadinessCheck("database", func(ctx context.Context) error { return nil })
	hc.RegisterReadinessCheck("kv", func(ctx context.Context) error {
		return errors.New("kv not reachable")
	})

	response := hc.CheckReadiness(context.Background())

	require.NotNil(t, response)
	assert.False(t, response.Ready)

	kvComp := response.Components["kv"]
	assert.Equal(t, observability.StatusUnhealthy, kvComp.Status)
	assert.Contains(t, kvComp.Error, "kv not reachable")
}

func TestExecuteChecksEmpty(t *testing.T) {
	hc := observability.NewHealthChecker("v1.0.0")
	components := hc.ExecuteChecks(context.Background(), map[string]observability.HealthCheck{})
	assert.NotNil(t, components)
	assert.Len(t, components, 0)
}

func TestExecuteChecksConcurrent(t *testing.T) {
	hc := observability.NewHealthChecker("v1.0.0")

	checks := map[string]observability.HealthCheck{
		"check1": func(ctx context.Context) error { time.Sleep(50 * time.Millisecond); return nil },
		"check2": func(ctx context.Context) error { time.Sleep(50 * time.Millisecond); return nil },
		"check3": func(ctx context.Context) error { time.Sleep(50 * time.Millisecond); return nil },
	}

	start := time.Now()
	components := hc.ExecuteChecks(context.Background(), checks)
	duration := time.Since(start)

	assert.Less(t, duration, 150*time.Millisecond)
	assert.Len(t, components, 3)
}

func TestHealthHandler(t *testing.T) {
	hc := observability.NewHealthChecker("v1.0.0")
	hc.RegisterHealthCheck("test", func(ctx context.Context) error { return nil })

	handler := hc.HealthHandler()
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	handler(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var response observability.HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, observability.StatusHealthy, response.Status)
}

func TestHealthHandlerUnhealthy(t *testing.T) {
	hc := observability.NewHealthChecker("v1.0.0")
	hc.RegisterHealthCheck("test", func(ctx context.Context) error {
		return errors.New("component failed")
	})

	handler := hc.HealthHandler()
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	handler(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestReadinessHandler(t *testing.T) {
	hc := observability.NewHealthChecker("v1.0.0")
	hc.RegisterReadinessCheck("test", func(ctx context.Context) error { return nil })

	handler := hc.ReadinessHandler()
	req := httptest.NewRequest("GET", "/ready", nil)
	w := httptest.NewRecorder()

	handler(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response observability.ReadinessResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.True(t, response.Ready)
}

func TestReadinessHandlerNotReady(t *testing.T) {
	hc := observability.NewHealthChecker("v1.0.0")
	hc.RegisterReadinessCheck("test", func(ctx context.Context) error {
		return errors.New("not ready")
	})

	handler := hc.ReadinessHandler()
	req := httptest.NewRequest("GET", "/ready", nil)
	w := httptest.NewRecorder()

	handler(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestLivenessHandler(t *testing.T) {
	handler := observability.LivenessHandler()
	req := httptest.NewRequest("GET", "/live", nil)
	w := httptest.NewRecorder()

	handler(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	alive, ok := response["alive"].(bool)
	require.True(t, ok)
	assert.True(t, alive)
}

func TestKVHealthCheck(t *testing.T) {
	check := observability.KVHealthCheck(func(ctx context.Context) error { return nil })
	assert.NoError(t, check(context.Background()))

	checkErr := observability.KVHealthCheck(func(ctx context.Context) error {
		return errors.New("kv connection failed")
	})
	err := checkErr(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "kv connection failed")

	checkNil := observability.KVHealthCheck(nil)
	err = checkNil(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "kv ping function not provided")
}

func TestDatabaseHealthCheck(t *testing.T) {
	check := observability.DatabaseHealthCheck(func(ctx context.Context) error { return nil })
	assert.NoError(t, check(context.Background()))

	checkErr := observability.DatabaseHealthCheck(func(ctx context.Context) error {
		return errors.New("postgres unreachable")
	})
	err := checkErr(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "postgres unreachable")

	checkNil := observability.DatabaseHealthCheck(nil)
	err = checkNil(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "database ping function not provided")
}

func TestAdapterHealthCheck(t *testing.T) {
	check := observability.AdapterHealthCheck("video", func(ctx context.Context) error { return nil })
	assert.NoError(t, check(context.Background()))

	checkErr := observability.AdapterHealthCheck("podcast", func(ctx context.Context) error {
		return errors.New("adapter error")
	})
	assert.Error(t, checkErr(context.Background()))

	checkNil := observability.AdapterHealthCheck("newsletter", nil)
	err := checkNil(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "adapter newsletter check function not provided")
}

func TestGenericHealthCheck(t *testing.T) {
	check := observability.GenericHealthCheck(func(ctx context.Context) error { return nil })
	assert.NoError(t, check(context.Background()))

	checkErr := observability.GenericHealthCheck(func(ctx context.Context) error {
		return errors.New("generic error")
	})
	assert.Error(t, checkErr(context.Background()))
}

func TestHealthStatusConstants(t *testing.T) {
	assert.Equal(t, observability.HealthStatus("healthy"), observability.StatusHealthy)
	assert.Equal(t, observability.HealthStatus("unhealthy"), observability.StatusUnhealthy)
	assert.Equal(t, observability.HealthStatus("degraded"), observability.StatusDegraded)
}

func BenchmarkHealthCheckExecution(b *testing.B) {
	hc := observability.NewHealthChecker("v1.0.0")
	hc.RegisterHealthCheck("test", func(ctx context.Context) error { return nil })

	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = hc.CheckHealth(ctx)
	}
}
