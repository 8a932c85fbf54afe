package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperai/phoenix/go/orchestrator/internal/agents"
	"github.com/hyperai/phoenix/go/orchestrator/internal/events"
	"github.com/hyperai/phoenix/go/orchestrator/internal/metrics"
	"github.com/hyperai/phoenix/go/orchestrator/internal/models"
	"github.com/hyperai/phoenix/go/orchestrator/internal/scheduler"
)

var (
	ErrNoAgentForType = errors.New("no agent routes this task type")
	ErrAgentExists    = errors.New("agent already registered with dispatcher")
)

// Config holds dispatcher tuning knobs.
type Config struct {
	// AlignmentThreshold gates CoordinateTask; below it the task is refused
	// before touching any queue.
	AlignmentThreshold float64 `mapstructure:"alignment_threshold"`
	// ResultBuffer bounds the completed-task channel.
	ResultBuffer int `mapstructure:"result_buffer"`
	// IdleWait is how long the dispatch loop sleeps when every queue is empty.
	IdleWait time.Duration `mapstructure:"idle_wait"`
	// RiskyTaskTypes take an alignment penalty before dispatch.
	RiskyTaskTypes []string `mapstructure:"risky_task_types"`
}

// DefaultConfig returns the dispatcher defaults.
func DefaultConfig() Config {
	return Config{
		AlignmentThreshold: 0.8,
		ResultBuffer:       128,
		IdleWait:           100 * time.Millisecond,
		RiskyTaskTypes:     []string{"system_modification", "delete_data", "execute_code"},
	}
}

// Dispatcher owns the agent registry and routing table, feeds the WFQ
// scheduler, and runs the dispatch loop that hands tasks to agents. Tasks
// reference agents by name only, so an agent can be swapped without touching
// queued work.
type Dispatcher struct {
	cfg    Config
	sched  *scheduler.Scheduler
	events *events.Manager
	logger *zap.Logger

	mu            sync.RWMutex
	agents        map[string]agents.Agent
	routes        map[string]string // task_type -> agent name
	defaultAgent  string
	risky         map[string]struct{}
	lastHeartbeat time.Time

	results chan *models.TaskResult
}

// New creates a dispatcher around the given scheduler.
func New(cfg Config, sched *scheduler.Scheduler, ev *events.Manager, logger *zap.Logger) *Dispatcher {
	if cfg.AlignmentThreshold <= 0 {
		cfg.AlignmentThreshold = DefaultConfig().AlignmentThreshold
	}
	if cfg.ResultBuffer <= 0 {
		cfg.ResultBuffer = DefaultConfig().ResultBuffer
	}
	if cfg.IdleWait <= 0 {
		cfg.IdleWait = DefaultConfig().IdleWait
	}
	risky := make(map[string]struct{}, len(cfg.RiskyTaskTypes))
	for _, t := range cfg.RiskyTaskTypes {
		risky[t] = struct{}{}
	}
	return &Dispatcher{
		cfg:     cfg,
		sched:   sched,
		events:  ev,
		logger:  logger,
		agents:  make(map[string]agents.Agent),
		routes:  make(map[string]string),
		risky:   risky,
		results: make(chan *models.TaskResult, cfg.ResultBuffer),
	}
}

// RegisterAgent adds the agent to the registry and the scheduler, and routes
// each of its capabilities to it. The first registered agent becomes the
// default route.
func (d *Dispatcher) RegisterAgent(agent agents.Agent, weight float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	name := agent.Name()
	if _, exists := d.agents[name]; exists {
		return ErrAgentExists
	}
	if err := d.sched.RegisterAgent(name, weight); err != nil {
		return err
	}
	d.agents[name] = agent
	for _, cap := range agent.Capabilities() {
		d.routes[cap] = name
	}
	if d.defaultAgent == "" {
		d.defaultAgent = name
	}
	return nil
}

// SetDefaultAgent overrides the fallback route for unmapped task types.
func (d *Dispatcher) SetDefaultAgent(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.agents[name]; !ok {
		return scheduler.ErrUnknownAgent
	}
	d.defaultAgent = name
	return nil
}

// Route returns the agent name for a task type, falling back to the default.
func (d *Dispatcher) Route(taskType string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if name, ok := d.routes[taskType]; ok {
		return name, nil
	}
	if d.defaultAgent != "" {
		return d.defaultAgent, nil
	}
	return "", ErrNoAgentForType
}

// CoordinateTask scores the task for alignment and, if it passes, enqueues it
// under the routed agent. Returns the task ID, or "" and false when the gate
// refuses it; a refused task changes no queue.
func (d *Dispatcher) CoordinateTask(taskType string, params map[string]interface{}, priority int) (string, bool) {
	score := d.taskAlignment(taskType, params)
	if score < d.cfg.AlignmentThreshold {
		metrics.AlignmentRejections.Inc()
		d.logger.Warn("Task refused by alignment gate",
			zap.String("task_type", taskType),
			zap.Float64("score", score),
		)
		return "", false
	}

	agentName, err := d.Route(taskType)
	if err != nil {
		d.logger.Warn("No route for task type", zap.String("task_type", taskType))
		return "", false
	}

	task := &models.AgentTask{
		ID:         uuid.New().String(),
		AgentName:  agentName,
		Type:       taskType,
		Parameters: params,
		Priority:   priority,
		CreatedAt:  time.Now(),
	}
	if err := d.sched.Enqueue(agentName, task); err != nil {
		d.logger.Warn("Enqueue failed",
			zap.String("agent", agentName),
			zap.String("task_type", taskType),
			zap.Error(err),
		)
		return "", false
	}
	return task.ID, true
}

// Enqueue places a pre-built task on its agent's queue, bypassing the
// alignment gate. Used by the coordinator for work the council already
// approved.
func (d *Dispatcher) Enqueue(task *models.AgentTask) error {
	if task.AgentName == "" {
		name, err := d.Route(task.Type)
		if err != nil {
			return err
		}
		task.AgentName = name
	}
	return d.sched.Enqueue(task.AgentName, task)
}

// GetTaskResult waits up to timeout for the result of the given task.
// Non-matching results are returned to the channel so concurrent waiters
// still see them.
func (d *Dispatcher) GetTaskResult(taskID string, timeout time.Duration) *models.TaskResult {
	deadline := time.After(timeout)
	for {
		select {
		case res := <-d.results:
			if res.TaskID == taskID {
				return res
			}
			select {
			case d.results <- res:
			default:
				d.logger.Warn("Result channel full, dropping unclaimed result",
					zap.String("task_id", res.TaskID))
			}
			// Yield so a tight loop over one requeued result cannot spin hot.
			time.Sleep(time.Millisecond)
		case <-deadline:
			return nil
		}
	}
}

// Run is the dispatch loop: pop the fairest task, execute it synchronously,
// publish the result. Worker faults become failed results, never crashes.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("Dispatch loop started")
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Dispatch loop stopped")
			return
		default:
		}

		d.heartbeat()

		agentName, task, ok := d.sched.DequeueNext()
		if !ok {
			select {
			case <-ctx.Done():
				d.logger.Info("Dispatch loop stopped")
				return
			case <-time.After(d.cfg.IdleWait):
			}
			continue
		}

		res := d.execute(ctx, agentName, task)
		d.heartbeat()
		task.CompletedAt = res.CompletedAt
		task.Result = res
		d.sched.RecordOutcome(agentName, res.Success)

		status := "success"
		if !res.Success {
			status = "failure"
		}
		metrics.AgentExecutions.WithLabelValues(agentName, status).Inc()
		metrics.AgentExecutionDuration.WithLabelValues(agentName).Observe(float64(res.Duration.Milliseconds()))

		d.events.Log(ctx, events.Event{
			Type:     events.TypeTaskCompleted,
			Source:   agentName,
			Details:  task.Type,
			Duration: res.Duration.Seconds(),
			Success:  res.Success,
		})

		select {
		case d.results <- res:
		default:
			d.logger.Warn("Result channel full, dropping result", zap.String("task_id", res.TaskID))
		}
	}
}

// QueueSizes proxies the scheduler backlog for status reporting.
func (d *Dispatcher) QueueSizes() map[string]int { return d.sched.QueueSizes() }

// Stats proxies the scheduler snapshot.
func (d *Dispatcher) Stats() scheduler.Stats { return d.sched.Stats() }

// statsSource is satisfied by agents that keep rolling execution counters.
type statsSource interface {
	Stats() agents.MetricsSnapshot
}

// AgentStats collects per-agent utilization counters for status reporting.
// Agents without counters are omitted.
func (d *Dispatcher) AgentStats() map[string]agents.MetricsSnapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]agents.MetricsSnapshot, len(d.agents))
	for name, a := range d.agents {
		if src, ok := a.(statsSource); ok {
			out[name] = src.Stats()
		}
	}
	return out
}

// LastHeartbeat reports dispatch loop liveness, refreshed each pass and after
// every agent execution. Feeds the health checker.
func (d *Dispatcher) LastHeartbeat() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastHeartbeat
}

func (d *Dispatcher) heartbeat() {
	d.mu.Lock()
	d.lastHeartbeat = time.Now()
	d.mu.Unlock()
}

func (d *Dispatcher) execute(ctx context.Context, agentName string, task *models.AgentTask) (res *models.TaskResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Agent panicked during execution",
				zap.String("agent", agentName),
				zap.String("task_id", task.ID),
				zap.Any("panic", r),
			)
			res = &models.TaskResult{
				TaskID:      task.ID,
				AgentName:   agentName,
				Success:     false,
				Error:       fmt.Sprintf("agent panic: %v", r),
				Duration:    time.Since(start),
				CompletedAt: time.Now(),
			}
		}
	}()

	d.mu.RLock()
	agent, ok := d.agents[agentName]
	d.mu.RUnlock()
	if !ok {
		return &models.TaskResult{
			TaskID:      task.ID,
			AgentName:   agentName,
			Success:     false,
			Error:       "agent no longer registered",
			Duration:    time.Since(start),
			CompletedAt: time.Now(),
		}
	}

	out, err := agent.Execute(ctx, task)
	if err != nil {
		return &models.TaskResult{
			TaskID:      task.ID,
			AgentName:   agentName,
			Success:     false,
			Error:       err.Error(),
			Duration:    time.Since(start),
			CompletedAt: time.Now(),
		}
	}
	if out.TaskID == "" {
		out.TaskID = task.ID
	}
	return out
}

var safetyKeywords = []string{"verify", "validate", "review", "backup"}

// taskAlignment estimates policy conformance for an internally coordinated
// task: risky types lose ground, explicit safety language recovers a little.
func (d *Dispatcher) taskAlignment(taskType string, params map[string]interface{}) float64 {
	score := 0.9
	if _, risky := d.risky[taskType]; risky {
		score -= 0.2
	}

	var text strings.Builder
	for _, v := range params {
		if s, ok := v.(string); ok {
			text.WriteString(strings.ToLower(s))
			text.WriteByte(' ')
		}
	}
	bonus := 0.0
	for _, kw := range safetyKeywords {
		if strings.Contains(text.String(), kw) {
			bonus += 0.05
		}
	}
	if bonus > 0.1 {
		bonus = 0.1
	}
	score += bonus

	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}
