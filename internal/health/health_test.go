package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePinger struct{ err error }

func (f *fakePinger) Ping(ctx context.Context) error { return f.err }

type fakeHeartbeat struct{ last time.Time }

func (f *fakeHeartbeat) LastHeartbeat() time.Time { return f.last }

func TestAggregationCriticalFailure(t *testing.T) {
	m := NewManager(time.Second)
	m.Register(NewPingChecker("redis", &fakePinger{}, false))
	m.Register(NewPingChecker("postgres", &fakePinger{err: errors.New("down")}, true))

	overall := m.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, overall.Status)
	assert.False(t, overall.Ready)
	assert.Equal(t, StatusHealthy, overall.Checks["redis"].Status)
	assert.Equal(t, StatusUnhealthy, overall.Checks["postgres"].Status)
}

func TestAggregationNonCriticalDegrades(t *testing.T) {
	m := NewManager(time.Second)
	m.Register(NewPingChecker("redis", &fakePinger{err: errors.New("down")}, false))

	overall := m.Check(context.Background())
	assert.Equal(t, StatusDegraded, overall.Status)
	assert.True(t, overall.Ready)
}

func TestHeartbeatStaleness(t *testing.T) {
	fresh := &fakeHeartbeat{last: time.Now()}
	stale := &fakeHeartbeat{last: time.Now().Add(-time.Minute)}

	c := NewHeartbeatChecker("coordinator", fresh, 10*time.Second)
	assert.Equal(t, StatusHealthy, c.Check(context.Background()).Status)

	c = NewHeartbeatChecker("coordinator", stale, 10*time.Second)
	assert.Equal(t, StatusUnhealthy, c.Check(context.Background()).Status)

	c = NewHeartbeatChecker("coordinator", &fakeHeartbeat{}, 10*time.Second)
	assert.Equal(t, StatusDegraded, c.Check(context.Background()).Status)
}

func TestHTTPEndpoints(t *testing.T) {
	m := NewManager(time.Second)
	m.Register(NewPingChecker("postgres", &fakePinger{err: errors.New("down")}, true))

	mux := http.NewServeMux()
	NewHandler(m).Register(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health/live")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/health/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
