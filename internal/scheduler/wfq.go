package scheduler

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperai/phoenix/go/orchestrator/internal/metrics"
	"github.com/hyperai/phoenix/go/orchestrator/internal/models"
)

var (
	ErrUnknownAgent  = errors.New("agent not registered with scheduler")
	ErrAgentExists   = errors.New("agent already registered")
	ErrInvalidWeight = errors.New("agent weight must be positive")
	ErrQueueFull     = errors.New("agent queue is full")
)

// Config holds scheduler tuning knobs.
type Config struct {
	// ServiceCost is the default virtual-time charge per dequeue. Uniform
	// cost is a known simplification for heterogeneous tasks; callers with
	// a better estimate can pass one to DequeueNextWithCost.
	ServiceCost float64
	// MaxQueueDepth bounds each agent queue. Zero means unbounded.
	MaxQueueDepth int
	Adaptation    AdaptationConfig
}

// DefaultConfig returns the scheduler defaults.
func DefaultConfig() Config {
	return Config{
		ServiceCost:   1.0,
		MaxQueueDepth: 256,
		Adaptation:    DefaultAdaptationConfig(),
	}
}

// agentQueue is the per-agent scheduling state: a FIFO plus the virtual-time
// counter and the weights that shape how fast it accrues.
type agentQueue struct {
	name        string
	tasks       []*models.AgentTask
	weight      float64
	efficiency  float64
	virtualTime float64
	order       int // registration order, used for deterministic tie-breaks

	window  []bool // recent execution outcomes for weight adaptation
	windowN int
}

// Scheduler multiplexes task dispatch across registered agents with classical
// weighted fair queuing: the non-empty queue with the lowest virtual time is
// served next, and serving it advances its virtual time by cost/weight.
type Scheduler struct {
	mu            sync.Mutex
	agents        map[string]*agentQueue
	order         []*agentQueue
	globalVirtual float64
	cfg           Config
	logger        *zap.Logger
}

// AgentStats is a read-only view of one agent's scheduling state.
type AgentStats struct {
	QueueSize   int     `json:"queue_size"`
	Weight      float64 `json:"weight"`
	Efficiency  float64 `json:"efficiency_factor"`
	VirtualTime float64 `json:"virtual_time"`
}

// Stats is a snapshot of the whole scheduler.
type Stats struct {
	Agents            map[string]AgentStats `json:"agents"`
	GlobalVirtualTime float64               `json:"global_virtual_time"`
}

// New creates a WFQ scheduler.
func New(cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.ServiceCost <= 0 {
		cfg.ServiceCost = 1.0
	}
	return &Scheduler{
		agents: make(map[string]*agentQueue),
		cfg:    cfg,
		logger: logger,
	}
}

// RegisterAgent adds a queue for the named agent with the given weight.
func (s *Scheduler) RegisterAgent(name string, weight float64) error {
	if weight <= 0 {
		return ErrInvalidWeight
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.agents[name]; exists {
		return ErrAgentExists
	}
	q := &agentQueue{
		name:       name,
		weight:     weight,
		efficiency: 1.0,
		order:      len(s.order),
	}
	s.agents[name] = q
	s.order = append(s.order, q)

	s.logger.Info("Agent registered with scheduler",
		zap.String("agent", name),
		zap.Float64("weight", weight),
	)
	return nil
}

// Enqueue appends a task to the named agent's FIFO.
func (s *Scheduler) Enqueue(name string, task *models.AgentTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.agents[name]
	if !ok {
		return ErrUnknownAgent
	}
	if s.cfg.MaxQueueDepth > 0 && len(q.tasks) >= s.cfg.MaxQueueDepth {
		return ErrQueueFull
	}
	task.AssignedAt = time.Now()
	q.tasks = append(q.tasks, task)

	metrics.TasksEnqueued.WithLabelValues(name).Inc()
	metrics.AgentQueueDepth.WithLabelValues(name).Set(float64(len(q.tasks)))
	return nil
}

// DequeueNext pops the head task of the eligible agent with the minimum
// virtual time, charging the default service cost.
func (s *Scheduler) DequeueNext() (string, *models.AgentTask, bool) {
	return s.DequeueNextWithCost(s.cfg.ServiceCost)
}

// DequeueNextWithCost is DequeueNext with a caller-supplied cost estimate.
// Ties on virtual time break by registration order so scheduling stays
// deterministic.
func (s *Scheduler) DequeueNextWithCost(cost float64) (string, *models.AgentTask, bool) {
	if cost <= 0 {
		cost = s.cfg.ServiceCost
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var selected *agentQueue
	for _, q := range s.order {
		if len(q.tasks) == 0 {
			continue
		}
		if selected == nil || q.virtualTime < selected.virtualTime {
			selected = q
		}
	}
	if selected == nil {
		return "", nil, false
	}

	task := selected.tasks[0]
	selected.tasks = selected.tasks[1:]
	selected.virtualTime += cost / selected.effectiveWeight()
	s.recomputeGlobalLocked()

	metrics.TasksDequeued.WithLabelValues(selected.name).Inc()
	metrics.AgentQueueDepth.WithLabelValues(selected.name).Set(float64(len(selected.tasks)))
	return selected.name, task, true
}

// QueueSizes returns the backlog per agent.
func (s *Scheduler) QueueSizes() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	sizes := make(map[string]int, len(s.agents))
	for name, q := range s.agents {
		sizes[name] = len(q.tasks)
	}
	return sizes
}

// Pending reports whether any agent has queued work.
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, q := range s.order {
		if len(q.tasks) > 0 {
			return true
		}
	}
	return false
}

// Stats returns a consistent snapshot of scheduler state.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Agents:            make(map[string]AgentStats, len(s.agents)),
		GlobalVirtualTime: s.globalVirtual,
	}
	for name, q := range s.agents {
		st.Agents[name] = AgentStats{
			QueueSize:   len(q.tasks),
			Weight:      q.weight,
			Efficiency:  q.efficiency,
			VirtualTime: q.virtualTime,
		}
	}
	return st
}

// GlobalVirtualTime returns min virtual time over agents with queued work.
func (s *Scheduler) GlobalVirtualTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.globalVirtual
}

func (s *Scheduler) recomputeGlobalLocked() {
	first := true
	for _, q := range s.order {
		if len(q.tasks) == 0 {
			continue
		}
		if first || q.virtualTime < s.globalVirtual {
			s.globalVirtual = q.virtualTime
			first = false
		}
	}
	if first {
		// No backlog anywhere; keep the last value (virtual time never rewinds).
		return
	}
}

func (q *agentQueue) effectiveWeight() float64 {
	return q.weight * q.efficiency
}
