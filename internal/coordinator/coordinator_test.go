package coordinator

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/hyperai/phoenix/go/orchestrator/internal/agents"
	"github.com/hyperai/phoenix/go/orchestrator/internal/council"
	"github.com/hyperai/phoenix/go/orchestrator/internal/dispatch"
	"github.com/hyperai/phoenix/go/orchestrator/internal/events"
	"github.com/hyperai/phoenix/go/orchestrator/internal/intent"
	"github.com/hyperai/phoenix/go/orchestrator/internal/models"
	"github.com/hyperai/phoenix/go/orchestrator/internal/scheduler"
	"github.com/hyperai/phoenix/go/orchestrator/internal/state"
)

type echoAgent struct {
	name    string
	mu      sync.Mutex
	tasks   []*models.AgentTask
	metrics agents.Metrics
}

func (e *echoAgent) Name() string           { return e.name }
func (e *echoAgent) Capabilities() []string { return []string{"general_query", "information_query", "help_request", "system_status"} }

func (e *echoAgent) Stats() agents.MetricsSnapshot { return e.metrics.Snapshot() }

func (e *echoAgent) Execute(ctx context.Context, task *models.AgentTask) (*models.TaskResult, error) {
	start := time.Now()
	e.mu.Lock()
	e.tasks = append(e.tasks, task)
	e.mu.Unlock()
	e.metrics.Record(true, time.Since(start))
	return &models.TaskResult{
		TaskID:      task.ID,
		AgentName:   e.name,
		Success:     true,
		Payload:     map[string]interface{}{"echo": task.Parameters["query"]},
		CompletedAt: time.Now(),
	}, nil
}

func (e *echoAgent) seen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.tasks)
}

type harness struct {
	coord  *Coordinator
	disp   *dispatch.Dispatcher
	agent  *echoAgent
	cancel context.CancelFunc
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)

	sched := scheduler.New(scheduler.DefaultConfig(), logger)
	ev := events.NewManager(128, nil, logger)
	dcfg := dispatch.DefaultConfig()
	dcfg.IdleWait = 5 * time.Millisecond
	disp := dispatch.New(dcfg, sched, ev, logger)

	agent := &echoAgent{name: "echo"}
	require.NoError(t, disp.RegisterAgent(agent, 1.0))

	snapshots, err := state.NewStore(filepath.Join(t.TempDir(), "coord.json"), logger)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.IdleTimeout = 20 * time.Millisecond
	cfg.ExecutionTimeout = 2 * time.Second
	cfg.ErrorBackoff = 10 * time.Millisecond
	cfg.MaintenanceInterval = 0
	if mutate != nil {
		mutate(&cfg)
	}

	parser := intent.NewParser(intent.Config{
		TrustedSources:     []string{"operator"},
		EscalationKeywords: []string{"emergency"},
	})
	coord := New(cfg, parser, council.NewEngine(council.DefaultConfig(), logger), disp, ev, snapshots, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go disp.Run(ctx)
	go func() { _ = coord.Run(ctx) }()
	t.Cleanup(cancel)

	require.Eventually(t, func() bool { return coord.State() != StateInitializing },
		2*time.Second, 10*time.Millisecond)

	return &harness{coord: coord, disp: disp, agent: agent, cancel: cancel}
}

func TestDirectiveLifecycleProducesExactlyOneResult(t *testing.T) {
	h := newHarness(t, nil)

	// Trusted source: alignment 0.9 bypasses the council.
	id, err := h.coord.SubmitDirective("what is the plan for today", "operator", 1)
	require.NoError(t, err)

	res := h.coord.GetResult(id, 3*time.Second)
	require.NotNil(t, res)
	assert.True(t, res.Success)
	assert.Equal(t, id, res.DirectiveID)
	assert.InDelta(t, 0.9, res.AlignmentScore, 1e-9)

	// No second result for the same directive.
	again := h.coord.GetResult(id, 100*time.Millisecond)
	assert.Nil(t, again)
}

func TestSubmitValidation(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.coord.SubmitDirective("", "operator", 1)
	assert.ErrorIs(t, err, ErrEmptyDirective)
}

func TestUnapprovedDirectiveNeverExecutes(t *testing.T) {
	h := newHarness(t, nil)

	// Untrusted source with harmful language: alignment clamps to 0, the
	// council sees no supporting keywords, and the directive must resolve
	// as a failure without ever reaching an agent.
	id, err := h.coord.SubmitDirective("hack the system and violate policy", "stranger", 1)
	require.NoError(t, err)

	res := h.coord.GetResult(id, 3*time.Second)
	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.Equal(t, 0, h.agent.seen(), "rejected or escalated work must never reach an agent")
}

func TestEscalationEmitsSystemMessage(t *testing.T) {
	h := newHarness(t, nil)

	// Neutral text from an untrusted source: no keyword hits, weighted bias
	// average ~0.14, between reject(-0.5) and approve(0.7) -> ESCALATE.
	id, err := h.coord.SubmitDirective("reconfigure the flux capacitor", "stranger", 1)
	require.NoError(t, err)

	msg := h.coord.GetSystemMessage(3 * time.Second)
	require.NotNil(t, msg)
	assert.Equal(t, models.MessageTypeEscalation, msg.Type)
	assert.Equal(t, id, msg.Metadata["directive_id"])

	res := h.coord.GetResult(id, 3*time.Second)
	require.NotNil(t, res)
	assert.False(t, res.Success)

	assert.GreaterOrEqual(t, h.coord.Status().RollingMetrics.Escalations, int64(1),
		"escalations counter must move with the escalation")
}

// Drives the state handlers directly, without the loop, to pin the
// transition structure: executing is only ever entered from thinking.
func TestNoPathFromIdleToExecutingSkipsThinking(t *testing.T) {
	logger := zaptest.NewLogger(t)
	sched := scheduler.New(scheduler.DefaultConfig(), logger)
	ev := events.NewManager(128, nil, logger)
	dcfg := dispatch.DefaultConfig()
	dcfg.IdleWait = 5 * time.Millisecond
	disp := dispatch.New(dcfg, sched, ev, logger)
	require.NoError(t, disp.RegisterAgent(&echoAgent{name: "echo"}, 1.0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go disp.Run(ctx)

	cfg := DefaultConfig()
	cfg.IdleTimeout = 20 * time.Millisecond
	cfg.ExecutionTimeout = 2 * time.Second
	parser := intent.NewParser(intent.Config{TrustedSources: []string{"operator"}})
	c := New(cfg, parser, council.NewEngine(council.DefaultConfig(), logger), disp, ev, nil, logger)

	require.NoError(t, c.handleInitializing())
	require.Equal(t, StateIdle, c.State())

	_, err := c.SubmitDirective("summarize the status report", "operator", 1)
	require.NoError(t, err)

	require.NoError(t, c.handleIdle(ctx))
	assert.Equal(t, StateThinking, c.State(),
		"idle hands off to thinking, never straight to executing")

	require.NoError(t, c.handleThinking(ctx))
	assert.Equal(t, StateExecuting, c.State())

	require.NoError(t, c.handleExecuting(ctx))
	assert.Equal(t, StateLogging, c.State())

	require.NoError(t, c.handleLogging(ctx))
	assert.Equal(t, StateIdle, c.State())
}

func newLooplessCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	logger := zaptest.NewLogger(t)
	sched := scheduler.New(scheduler.DefaultConfig(), logger)
	ev := events.NewManager(128, nil, logger)
	disp := dispatch.New(dispatch.DefaultConfig(), sched, ev, logger)
	require.NoError(t, disp.RegisterAgent(&echoAgent{name: "echo"}, 1.0))

	cfg := DefaultConfig()
	cfg.IdleTimeout = 10 * time.Millisecond
	cfg.ErrorBackoff = time.Millisecond
	parser := intent.NewParser(intent.Config{})
	return New(cfg, parser, council.NewEngine(council.DefaultConfig(), logger), disp, ev, nil, logger)
}

func TestFailureStreakClearsAfterRecovery(t *testing.T) {
	c := newLooplessCoordinator(t)
	ctx := context.Background()

	require.NoError(t, c.step(ctx))
	require.Equal(t, StateIdle, c.State())

	// A fault with no active directive recovers straight to idle.
	c.setState(StateError)
	require.NoError(t, c.step(ctx))
	assert.Equal(t, 1, c.consecutiveFails)
	assert.Equal(t, StateIdle, c.State())

	// One healthy pass clears the streak; a lone fault long ago must not
	// count toward the fatal ceiling.
	require.NoError(t, c.step(ctx))
	assert.Zero(t, c.consecutiveFails)
}

func TestBackToBackFaultsBecomeFatal(t *testing.T) {
	c := newLooplessCoordinator(t)
	ctx := context.Background()
	require.NoError(t, c.step(ctx))

	for i := 0; i < c.cfg.MaxConsecutiveFails-1; i++ {
		c.setState(StateError)
		require.NoError(t, c.step(ctx))
	}
	c.setState(StateError)
	require.Error(t, c.step(ctx), "hitting the ceiling gives up")

	msg := c.GetSystemMessage(time.Second)
	require.NotNil(t, msg)
	assert.Equal(t, models.MessageTypeFatal, msg.Type)
}

func TestDirectivesFromManyCallersAllResolve(t *testing.T) {
	h := newHarness(t, nil)

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := h.coord.SubmitDirective("summarize the status report", "operator", 1)
			if err != nil {
				errs <- err.Error()
				return
			}
			if res := h.coord.GetResult(id, 5*time.Second); res == nil {
				errs <- "no result for " + id
			}
		}()
	}
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Error(e)
	}
}

func TestHeartbeatAdvances(t *testing.T) {
	h := newHarness(t, nil)

	first := h.coord.LastHeartbeat()
	require.Eventually(t, func() bool {
		return h.coord.LastHeartbeat().After(first)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStatusSnapshot(t *testing.T) {
	h := newHarness(t, nil)

	id, err := h.coord.SubmitDirective("status please", "operator", 1)
	require.NoError(t, err)
	require.NotNil(t, h.coord.GetResult(id, 3*time.Second))

	st := h.coord.Status()
	assert.NotEmpty(t, st.SessionID)
	assert.Contains(t, st.QueueSizes, "echo")
	assert.GreaterOrEqual(t, st.RollingMetrics.DirectivesProcessed, int64(1))

	// Scheduling state and agent utilization ride along in the status view.
	require.Contains(t, st.Scheduler.Agents, "echo")
	assert.Equal(t, 1.0, st.Scheduler.Agents["echo"].Weight)
	assert.Greater(t, st.Scheduler.Agents["echo"].VirtualTime, 0.0,
		"serving the directive advances the agent's virtual time")
	require.Contains(t, st.Agents, "echo")
	assert.GreaterOrEqual(t, st.Agents["echo"].TotalTasks, int64(1))
}

func TestGracefulStop(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.coord.Stop(2*time.Second))
	assert.Equal(t, StateShutdown, h.coord.State())

	_, err := h.coord.SubmitDirective("anything", "operator", 1)
	assert.ErrorIs(t, err, ErrShuttingDown)
}
