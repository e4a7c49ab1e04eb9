package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/npfkit/internal/clock"
	"grimm.is/npfkit/internal/ctlplane"
	"grimm.is/npfkit/internal/dict"
	"grimm.is/npfkit/internal/npf"
	"grimm.is/npfkit/internal/state"
)

type backendFunc func(ctx context.Context, cmd ctlplane.Command, req *dict.Map) (*dict.Map, error)

func (f backendFunc) Handle(ctx context.Context, cmd ctlplane.Command, req *dict.Map) (*dict.Map, error) {
	return f(ctx, cmd, req)
}

func staticCheck(s Status) CheckFunc {
	return func(context.Context) Check { return Check{Status: s} }
}

func TestChecker_Aggregate(t *testing.T) {
	c := NewChecker(clock.NewMockClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))
	c.Register("a", staticCheck(StatusHealthy))
	assert.Equal(t, StatusHealthy, c.Check(context.Background()).Status)

	c.Register("b", staticCheck(StatusDegraded))
	report := c.Check(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Equal(t, "b", report.Checks["b"].Name)

	c.Register("c", staticCheck(StatusUnhealthy))
	assert.Equal(t, StatusUnhealthy, c.Check(context.Background()).Status)
}

func TestChecker_Cache(t *testing.T) {
	mc := clock.NewMockClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	c := NewChecker(mc)
	var runs atomic.Int32
	c.Register("count", func(context.Context) Check {
		runs.Add(1)
		return Check{Status: StatusHealthy}
	})

	c.Check(context.Background())
	c.Check(context.Background())
	assert.Equal(t, int32(1), runs.Load())

	mc.Advance(6 * time.Second)
	c.Check(context.Background())
	assert.Equal(t, int32(2), runs.Load())
}

func TestHandlers(t *testing.T) {
	c := NewChecker(nil)
	c.Register("engine", staticCheck(StatusUnhealthy))

	rec := httptest.NewRecorder()
	c.Handler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var report Report
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.Equal(t, StatusUnhealthy, report.Status)

	rec = httptest.NewRecorder()
	c.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "NOT READY", rec.Body.String())

	rec = httptest.NewRecorder()
	LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBackendCheck(t *testing.T) {
	cfg := npf.NewConfig()
	require.NoError(t, cfg.InsertRule(nil, npf.NewRule("r", npf.RulePass, "")))
	doc, err := cfg.Build()
	require.NoError(t, err)

	ok := BackendCheck(backendFunc(func(_ context.Context, cmd ctlplane.Command, _ *dict.Map) (*dict.Map, error) {
		assert.Equal(t, ctlplane.CmdSave, cmd)
		return doc, nil
	}))
	check := ok(context.Background())
	assert.Equal(t, StatusHealthy, check.Status)
	assert.Equal(t, "1 rules active", check.Message)

	failing := BackendCheck(backendFunc(func(context.Context, ctlplane.Command, *dict.Map) (*dict.Map, error) {
		return nil, errors.New("boom")
	}))
	assert.Equal(t, StatusUnhealthy, failing(context.Background()).Status)
}

func TestStoreCheck(t *testing.T) {
	store, err := state.NewSQLiteStore(state.Options{Path: ":memory:"})
	require.NoError(t, err)
	defer store.Close()

	check := StoreCheck(store)
	assert.Equal(t, "no snapshots", check(context.Background()).Message)

	_, err = store.Save(context.Background(), "load", 0, []byte{0})
	require.NoError(t, err)
	assert.Equal(t, "snapshot version 1", check(context.Background()).Message)

	require.NoError(t, store.Close())
	assert.Equal(t, StatusDegraded, check(context.Background()).Status)
}
