package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/hyperai/phoenix/go/orchestrator/internal/council"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 8080, cfg.Server.APIPort)
	assert.Equal(t, 1.0, cfg.Scheduler.ServiceCost)
	assert.Equal(t, 0.8, cfg.Dispatcher.AlignmentThreshold)
	assert.Equal(t, 0.8, cfg.Agents.AnalyzerWeight)
	assert.Equal(t, time.Second, cfg.CoordinatorDefaults().IdleTimeout)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
environment: production
server:
  api_port: 9090
scheduler:
  service_cost: 2.5
coordinator:
  execution_timeout: 30s
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, 9090, cfg.Server.APIPort)
	assert.Equal(t, 2.5, cfg.Scheduler.ServiceCost)
	assert.Equal(t, 30*time.Second, cfg.Coordinator.ExecutionTimeout)
	// Untouched sections keep defaults.
	assert.Equal(t, 8081, cfg.Server.AdminPort)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestCouncilWatcherReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "council.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
version: "1"
members:
  guardian:
    weight: 1.0
    bias: 0.0
    keywords: ["safety"]
`), 0o644))

	logger := zaptest.NewLogger(t)
	initial, err := council.LoadConfig(path)
	require.NoError(t, err)
	engine := council.NewEngine(initial, logger)

	w, err := NewCouncilWatcher(path, engine, logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(`
version: "2"
members:
  guardian:
    weight: 2.0
    bias: 0.0
    keywords: ["safety"]
  strategist:
    weight: 1.0
    bias: 0.1
    keywords: ["plan"]
`), 0o644))

	require.Eventually(t, func() bool {
		return len(engine.Config().Members) == 2
	}, 3*time.Second, 50*time.Millisecond, "watcher should pick up the new member set")
}
