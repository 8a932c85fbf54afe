package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/hyperai/phoenix/go/orchestrator/internal/metrics"
)

const snapshotVersion = 1

// RollingMetrics are the coordinator's lifetime counters, carried across
// restarts.
type RollingMetrics struct {
	DirectivesProcessed int64   `json:"directives_processed"`
	DirectivesFailed    int64   `json:"directives_failed"`
	Escalations         int64   `json:"escalations"`
	TotalDuration       float64 `json:"total_duration_seconds"`
}

// Snapshot is the persisted coordinator state.
type Snapshot struct {
	Version             int            `json:"version"`
	CurrentState        string         `json:"current_state"`
	SessionID           string         `json:"session_id"`
	LastHeartbeat       time.Time      `json:"last_heartbeat"`
	RollingMetrics      RollingMetrics `json:"rolling_metrics"`
	LastMaintenanceTime time.Time      `json:"last_maintenance_time"`
}

// Store persists snapshots to disk. Before each write the current file is
// renamed to a .backup, so a crash mid-write never destroys the last good
// snapshot.
type Store struct {
	path   string
	logger *zap.Logger
}

// NewStore creates a snapshot store at path, creating parent directories.
func NewStore(path string, logger *zap.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("snapshot path not configured")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	return &Store{path: path, logger: logger}, nil
}

func (s *Store) backupPath() string { return s.path + ".backup" }

// Save writes the snapshot, preserving the previous copy as .backup first.
func (s *Store) Save(snap Snapshot) error {
	snap.Version = snapshotVersion

	if _, err := os.Stat(s.path); err == nil {
		if err := os.Rename(s.path, s.backupPath()); err != nil {
			metrics.SnapshotSaves.WithLabelValues("failure").Inc()
			return fmt.Errorf("rotate snapshot backup: %w", err)
		}
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		metrics.SnapshotSaves.WithLabelValues("failure").Inc()
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		metrics.SnapshotSaves.WithLabelValues("failure").Inc()
		return fmt.Errorf("write snapshot: %w", err)
	}

	metrics.SnapshotSaves.WithLabelValues("success").Inc()
	return nil
}

// Load reads the newest valid snapshot, falling back to the .backup when the
// primary is missing or corrupt. When neither exists, defaults are returned.
func (s *Store) Load() (Snapshot, error) {
	snap, err := s.loadFile(s.path)
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("Primary snapshot unreadable, trying backup", zap.Error(err))
	}

	if snap, err := s.loadFile(s.backupPath()); err == nil {
		s.logger.Info("Recovered coordinator state from backup snapshot")
		return snap, nil
	}

	return Snapshot{Version: snapshotVersion}, nil
}

func (s *Store) loadFile(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	if snap.Version == 0 {
		snap.Version = snapshotVersion
	}
	return snap, nil
}
