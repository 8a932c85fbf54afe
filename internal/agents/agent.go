package agents

import (
	"context"
	"sync"
	"time"

	"github.com/hyperai/phoenix/go/orchestrator/internal/models"
)

// Agent is a worker that fulfils one family of task types. Implementations
// are interchangeable from the dispatcher's point of view and must be safe
// for concurrent Execute calls.
type Agent interface {
	Name() string
	Capabilities() []string
	Execute(ctx context.Context, task *models.AgentTask) (*models.TaskResult, error)
}

// Metrics tracks an agent's rolling execution counters. Owned by the agent,
// read via snapshots.
type Metrics struct {
	mu              sync.Mutex
	totalTasks      int64
	successfulTasks int64
	totalDuration   time.Duration
}

// MetricsSnapshot is a point-in-time copy of an agent's counters.
type MetricsSnapshot struct {
	TotalTasks      int64         `json:"total_tasks"`
	SuccessfulTasks int64         `json:"successful_tasks"`
	TotalDuration   time.Duration `json:"total_duration"`
	AvgDuration     time.Duration `json:"avg_duration"`
	SuccessRate     float64       `json:"success_rate"`
}

// Record adds one completed execution.
func (m *Metrics) Record(success bool, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalTasks++
	if success {
		m.successfulTasks++
	}
	m.totalDuration += duration
}

// Snapshot returns a copy of the counters with derived rates.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := MetricsSnapshot{
		TotalTasks:      m.totalTasks,
		SuccessfulTasks: m.successfulTasks,
		TotalDuration:   m.totalDuration,
	}
	if m.totalTasks > 0 {
		s.AvgDuration = m.totalDuration / time.Duration(m.totalTasks)
		s.SuccessRate = float64(m.successfulTasks) / float64(m.totalTasks)
	}
	return s
}

func newResult(task *models.AgentTask, agent string, payload map[string]interface{}, start time.Time) *models.TaskResult {
	return &models.TaskResult{
		TaskID:      task.ID,
		AgentName:   agent,
		Success:     true,
		Payload:     payload,
		Duration:    time.Since(start),
		CompletedAt: time.Now(),
	}
}

func failedResult(task *models.AgentTask, agent string, errMsg string, start time.Time) *models.TaskResult {
	return &models.TaskResult{
		TaskID:      task.ID,
		AgentName:   agent,
		Success:     false,
		Error:       errMsg,
		Duration:    time.Since(start),
		CompletedAt: time.Now(),
	}
}
