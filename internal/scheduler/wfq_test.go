package scheduler

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/hyperai/phoenix/go/orchestrator/internal/models"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Adaptation.Enabled = false
	return New(cfg, zaptest.NewLogger(t))
}

func task(id string) *models.AgentTask {
	return &models.AgentTask{ID: id, Type: "test"}
}

func TestRegisterAgentValidation(t *testing.T) {
	s := newTestScheduler(t)

	require.NoError(t, s.RegisterAgent("a", 1.0))
	assert.ErrorIs(t, s.RegisterAgent("a", 1.0), ErrAgentExists)
	assert.ErrorIs(t, s.RegisterAgent("b", 0), ErrInvalidWeight)
	assert.ErrorIs(t, s.RegisterAgent("c", -0.5), ErrInvalidWeight)
}

func TestEnqueueUnknownAgent(t *testing.T) {
	s := newTestScheduler(t)
	assert.ErrorIs(t, s.Enqueue("ghost", task("t1")), ErrUnknownAgent)
}

func TestEnqueueQueueFull(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxQueueDepth = 2
	s := New(cfg, zaptest.NewLogger(t))
	require.NoError(t, s.RegisterAgent("a", 1.0))

	require.NoError(t, s.Enqueue("a", task("t1")))
	require.NoError(t, s.Enqueue("a", task("t2")))
	assert.ErrorIs(t, s.Enqueue("a", task("t3")), ErrQueueFull)
}

func TestDequeueEmpty(t *testing.T) {
	s := newTestScheduler(t)
	require.NoError(t, s.RegisterAgent("a", 1.0))

	_, _, ok := s.DequeueNext()
	assert.False(t, ok)
}

// Weighted fairness with the canonical three-agent setup: one task each, all
// virtual times zero, so the first round drains in registration order and
// virtual times land at cost/weight.
func TestWeightedFairness(t *testing.T) {
	s := newTestScheduler(t)
	require.NoError(t, s.RegisterAgent("analyzer", 0.8))
	require.NoError(t, s.RegisterAgent("proposer", 0.6))
	require.NoError(t, s.RegisterAgent("dialogue", 0.4))

	for _, name := range []string{"analyzer", "proposer", "dialogue"} {
		require.NoError(t, s.Enqueue(name, task(name+"-1")))
	}

	var got []string
	for i := 0; i < 3; i++ {
		name, _, ok := s.DequeueNext()
		require.True(t, ok)
		got = append(got, name)
	}
	assert.Equal(t, []string{"analyzer", "proposer", "dialogue"}, got)

	st := s.Stats()
	assert.InDelta(t, 1.25, st.Agents["analyzer"].VirtualTime, 1e-3)
	assert.InDelta(t, 1.667, st.Agents["proposer"].VirtualTime, 1e-3)
	assert.InDelta(t, 2.5, st.Agents["dialogue"].VirtualTime, 1e-3)

	// A second round starts with the heaviest agent again: its virtual time
	// is now the smallest.
	for _, name := range []string{"analyzer", "proposer", "dialogue"} {
		require.NoError(t, s.Enqueue(name, task(name+"-2")))
	}
	name, _, ok := s.DequeueNext()
	require.True(t, ok)
	assert.Equal(t, "analyzer", name)
}

func TestProportionalService(t *testing.T) {
	s := newTestScheduler(t)
	require.NoError(t, s.RegisterAgent("heavy", 2.0))
	require.NoError(t, s.RegisterAgent("light", 1.0))

	for i := 0; i < 300; i++ {
		require.NoError(t, s.Enqueue("heavy", task(fmt.Sprintf("h%d", i))))
		require.NoError(t, s.Enqueue("light", task(fmt.Sprintf("l%d", i))))
	}

	served := map[string]int{}
	for i := 0; i < 300; i++ {
		name, _, ok := s.DequeueNext()
		require.True(t, ok)
		served[name]++
	}

	// Double weight should yield roughly double service.
	ratio := float64(served["heavy"]) / float64(served["light"])
	assert.InDelta(t, 2.0, ratio, 0.15)
}

func TestStarvationFreedom(t *testing.T) {
	s := newTestScheduler(t)
	require.NoError(t, s.RegisterAgent("busy", 5.0))
	require.NoError(t, s.RegisterAgent("quiet", 0.1))

	// Build a deep backlog for the heavy agent and drain some of it so its
	// virtual time moves forward.
	for i := 0; i < 50; i++ {
		require.NoError(t, s.Enqueue("busy", task(fmt.Sprintf("b%d", i))))
	}
	for i := 0; i < 10; i++ {
		_, _, ok := s.DequeueNext()
		require.True(t, ok)
	}

	// The idle agent still sits at virtual time zero, so its first task is
	// served in the very next scheduling step.
	require.NoError(t, s.Enqueue("quiet", task("q1")))
	name, tk, ok := s.DequeueNext()
	require.True(t, ok)
	assert.Equal(t, "quiet", name)
	assert.Equal(t, "q1", tk.ID)
}

func TestVirtualTimeMonotonic(t *testing.T) {
	s := newTestScheduler(t)
	require.NoError(t, s.RegisterAgent("a", 1.0))

	last := 0.0
	for i := 0; i < 20; i++ {
		require.NoError(t, s.Enqueue("a", task(fmt.Sprintf("t%d", i))))
		_, _, ok := s.DequeueNext()
		require.True(t, ok)
		vt := s.Stats().Agents["a"].VirtualTime
		assert.GreaterOrEqual(t, vt, last)
		last = vt
	}
}

func TestCallerSuppliedServiceCost(t *testing.T) {
	s := newTestScheduler(t)
	require.NoError(t, s.RegisterAgent("a", 2.0))
	require.NoError(t, s.Enqueue("a", task("t1")))

	_, _, ok := s.DequeueNextWithCost(4.0)
	require.True(t, ok)
	assert.InDelta(t, 2.0, s.Stats().Agents["a"].VirtualTime, 1e-9)
}

func TestGlobalVirtualTimeTracksMinimum(t *testing.T) {
	s := newTestScheduler(t)
	require.NoError(t, s.RegisterAgent("a", 1.0))
	require.NoError(t, s.RegisterAgent("b", 1.0))

	require.NoError(t, s.Enqueue("a", task("a1")))
	require.NoError(t, s.Enqueue("a", task("a2")))
	require.NoError(t, s.Enqueue("b", task("b1")))

	_, _, ok := s.DequeueNext() // serves a, vt(a)=1
	require.True(t, ok)
	// b still has backlog at vt 0, so the global floor is 0.
	assert.InDelta(t, 0.0, s.GlobalVirtualTime(), 1e-9)

	_, _, ok = s.DequeueNext() // serves b, vt(b)=1; only a has backlog
	require.True(t, ok)
	assert.InDelta(t, 1.0, s.GlobalVirtualTime(), 1e-9)
}

func TestEfficiencyAdaptation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Adaptation = AdaptationConfig{
		Enabled:      true,
		LearningRate: 0.3,
		Floor:        0.5,
		Ceiling:      2.0,
		WindowSize:   10,
		MinSamples:   5,
		HighWater:    0.8,
		LowWater:     0.6,
	}
	s := New(cfg, zaptest.NewLogger(t))
	require.NoError(t, s.RegisterAgent("strong", 1.0))
	require.NoError(t, s.RegisterAgent("weak", 1.0))

	for i := 0; i < 30; i++ {
		s.RecordOutcome("strong", true)
		s.RecordOutcome("weak", false)
	}

	st := s.Stats()
	assert.InDelta(t, 2.0, st.Agents["strong"].Efficiency, 1e-9, "ceiling caps growth")
	assert.InDelta(t, 0.5, st.Agents["weak"].Efficiency, 1e-9, "floor prevents starvation")
	assert.Greater(t, st.Agents["weak"].Efficiency, 0.0)
}

func TestEfficiencyScalesServiceRate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Adaptation.MinSamples = 1
	cfg.Adaptation.WindowSize = 4
	s := New(cfg, zaptest.NewLogger(t))
	require.NoError(t, s.RegisterAgent("a", 1.0))

	for i := 0; i < 10; i++ {
		s.RecordOutcome("a", true)
	}
	require.NoError(t, s.Enqueue("a", task("t1")))
	_, _, ok := s.DequeueNext()
	require.True(t, ok)

	// Efficiency is at the ceiling, so one unit of service advances virtual
	// time by 1/(weight*ceiling) instead of 1/weight.
	assert.InDelta(t, 0.5, s.Stats().Agents["a"].VirtualTime, 1e-9)
}
