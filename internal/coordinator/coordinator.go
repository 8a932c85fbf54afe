package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperai/phoenix/go/orchestrator/internal/agents"
	"github.com/hyperai/phoenix/go/orchestrator/internal/council"
	"github.com/hyperai/phoenix/go/orchestrator/internal/dispatch"
	"github.com/hyperai/phoenix/go/orchestrator/internal/events"
	"github.com/hyperai/phoenix/go/orchestrator/internal/intent"
	"github.com/hyperai/phoenix/go/orchestrator/internal/metrics"
	"github.com/hyperai/phoenix/go/orchestrator/internal/models"
	"github.com/hyperai/phoenix/go/orchestrator/internal/scheduler"
	"github.com/hyperai/phoenix/go/orchestrator/internal/state"
	"github.com/hyperai/phoenix/go/orchestrator/internal/tracing"
)

// State is the coordinator's lifecycle state.
type State int32

const (
	StateInitializing State = iota
	StateIdle
	StateThinking
	StateExecuting
	StateLogging
	StateError
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateIdle:
		return "idle"
	case StateThinking:
		return "thinking"
	case StateExecuting:
		return "executing"
	case StateLogging:
		return "logging"
	case StateError:
		return "error"
	case StateShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

var (
	ErrEmptyDirective = errors.New("directive content is empty")
	ErrInboundFull    = errors.New("inbound directive queue is full")
	ErrShuttingDown   = errors.New("coordinator is shutting down")
)

// Config holds the coordinator's tunables.
type Config struct {
	IdleTimeout         time.Duration
	ExecutionTimeout    time.Duration
	ErrorBackoff        time.Duration
	MaxConsecutiveFails int
	// AlignmentBypass lets high-trust directives skip the council vote.
	AlignmentBypass     float64
	MaintenanceInterval time.Duration
	DirectiveBuffer     int
	ResultBuffer        int
	MessageBuffer       int
}

// DefaultConfig returns the coordinator defaults.
func DefaultConfig() Config {
	return Config{
		IdleTimeout:         time.Second,
		ExecutionTimeout:    60 * time.Second,
		ErrorBackoff:        2 * time.Second,
		MaxConsecutiveFails: 5,
		AlignmentBypass:     0.8,
		MaintenanceInterval: 10 * time.Minute,
		DirectiveBuffer:     256,
		ResultBuffer:        128,
		MessageBuffer:       64,
	}
}

// Status is a point-in-time view of the coordinator for external callers.
type Status struct {
	State          string                            `json:"state"`
	SessionID      string                            `json:"session_id"`
	Uptime         time.Duration                     `json:"uptime"`
	LastHeartbeat  time.Time                         `json:"last_heartbeat"`
	QueueSizes     map[string]int                    `json:"queue_sizes"`
	InboundPending int                               `json:"inbound_pending"`
	RollingMetrics state.RollingMetrics              `json:"rolling_metrics"`
	Scheduler      scheduler.Stats                   `json:"scheduler"`
	Agents         map[string]agents.MetricsSnapshot `json:"agents"`
}

// Coordinator owns the directive lifecycle: ingest, evaluate, dispatch,
// record. One state-machine loop processes one directive at a time; the
// dispatcher's loop runs agent work independently.
type Coordinator struct {
	cfg        Config
	parser     *intent.Parser
	councilEng *council.Engine
	dispatcher *dispatch.Dispatcher
	eventsMgr  *events.Manager
	snapshots  *state.Store
	logger     *zap.Logger

	inbound  chan *models.Directive
	results  chan *models.ExecutionResult
	messages chan *models.SystemMessage

	mu              sync.RWMutex
	current         State
	sessionID       string
	startedAt       time.Time
	lastHeartbeat   time.Time
	lastMaintenance time.Time
	rolling         state.RollingMetrics

	// per-directive scratch, cleared in the logging state
	active          *models.Directive
	activeParsed    intent.Parsed
	activeAlignment float64
	pendingResult   *models.ExecutionResult

	consecutiveFails int
	shutdown         chan struct{}
	done             chan struct{}
	shutdownOnce     sync.Once

	recorder ResultRecorder
}

// ResultRecorder receives every completed directive for durable persistence.
type ResultRecorder interface {
	Record(d *models.Directive, res *models.ExecutionResult)
}

// New creates a coordinator. snapshots may be nil to disable persistence.
func New(
	cfg Config,
	parser *intent.Parser,
	councilEng *council.Engine,
	dispatcher *dispatch.Dispatcher,
	eventsMgr *events.Manager,
	snapshots *state.Store,
	logger *zap.Logger,
) *Coordinator {
	def := DefaultConfig()
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.ExecutionTimeout <= 0 {
		cfg.ExecutionTimeout = def.ExecutionTimeout
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = def.ErrorBackoff
	}
	if cfg.MaxConsecutiveFails <= 0 {
		cfg.MaxConsecutiveFails = def.MaxConsecutiveFails
	}
	if cfg.AlignmentBypass <= 0 {
		cfg.AlignmentBypass = def.AlignmentBypass
	}
	if cfg.DirectiveBuffer <= 0 {
		cfg.DirectiveBuffer = def.DirectiveBuffer
	}
	if cfg.ResultBuffer <= 0 {
		cfg.ResultBuffer = def.ResultBuffer
	}
	if cfg.MessageBuffer <= 0 {
		cfg.MessageBuffer = def.MessageBuffer
	}
	return &Coordinator{
		cfg:        cfg,
		parser:     parser,
		councilEng: councilEng,
		dispatcher: dispatcher,
		eventsMgr:  eventsMgr,
		snapshots:  snapshots,
		logger:     logger,
		inbound:    make(chan *models.Directive, cfg.DirectiveBuffer),
		results:    make(chan *models.ExecutionResult, cfg.ResultBuffer),
		messages:   make(chan *models.SystemMessage, cfg.MessageBuffer),
		current:    StateInitializing,
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// SetResultRecorder attaches an optional persistence sink for completed
// directives. Must be called before Run.
func (c *Coordinator) SetResultRecorder(r ResultRecorder) {
	c.recorder = r
}

// SubmitDirective validates and enqueues a directive without blocking.
func (c *Coordinator) SubmitDirective(content, source string, priority int) (string, error) {
	if content == "" {
		return "", ErrEmptyDirective
	}
	select {
	case <-c.shutdown:
		return "", ErrShuttingDown
	default:
	}

	d := &models.Directive{
		ID:          uuid.New().String(),
		Content:     content,
		Source:      source,
		SubmittedAt: time.Now(),
		Priority:    priority,
		SessionID:   c.SessionID(),
	}
	select {
	case c.inbound <- d:
		metrics.DirectivesSubmitted.Inc()
		return d.ID, nil
	default:
		return "", ErrInboundFull
	}
}

// GetResult waits up to timeout for the result of the given directive,
// returning non-matching results to the queue for other waiters.
func (c *Coordinator) GetResult(directiveID string, timeout time.Duration) *models.ExecutionResult {
	deadline := time.After(timeout)
	for {
		select {
		case res := <-c.results:
			if res.DirectiveID == directiveID {
				return res
			}
			select {
			case c.results <- res:
			default:
				c.logger.Warn("Result queue full, dropping unclaimed result",
					zap.String("directive_id", res.DirectiveID))
			}
			time.Sleep(time.Millisecond)
		case <-deadline:
			return nil
		}
	}
}

// GetSystemMessage waits up to timeout for an escalation or system message.
func (c *Coordinator) GetSystemMessage(timeout time.Duration) *models.SystemMessage {
	select {
	case msg := <-c.messages:
		return msg
	case <-time.After(timeout):
		return nil
	}
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// SessionID returns the current session identifier.
func (c *Coordinator) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// LastHeartbeat returns the liveness timestamp, updated every loop iteration.
func (c *Coordinator) LastHeartbeat() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastHeartbeat
}

// Status assembles the external status view.
func (c *Coordinator) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Status{
		State:          c.current.String(),
		SessionID:      c.sessionID,
		Uptime:         time.Since(c.startedAt),
		LastHeartbeat:  c.lastHeartbeat,
		QueueSizes:     c.dispatcher.QueueSizes(),
		InboundPending: len(c.inbound),
		RollingMetrics: c.rolling,
		Scheduler:      c.dispatcher.Stats(),
		Agents:         c.dispatcher.AgentStats(),
	}
}

// Run drives the state machine until ctx is cancelled or Stop is called.
func (c *Coordinator) Run(ctx context.Context) error {
	defer close(c.done)
	defer c.setState(StateShutdown)

	for {
		select {
		case <-ctx.Done():
			c.persist()
			return nil
		case <-c.shutdown:
			c.persist()
			return nil
		default:
		}

		c.heartbeat()
		if fatal := c.step(ctx); fatal != nil {
			return fatal
		}
	}
}

// step runs one handler pass. Every successful pass through a working state
// clears the failure streak, so the fatal ceiling only counts back-to-back
// faults; only the error state's give-up verdict propagates out.
func (c *Coordinator) step(ctx context.Context) error {
	var err error
	switch c.State() {
	case StateInitializing:
		err = c.guard(c.handleInitializing)
	case StateIdle:
		err = c.guard(func() error { return c.handleIdle(ctx) })
	case StateThinking:
		err = c.guard(func() error { return c.handleThinking(ctx) })
	case StateExecuting:
		err = c.guard(func() error { return c.handleExecuting(ctx) })
	case StateLogging:
		err = c.guard(func() error { return c.handleLogging(ctx) })
	case StateError:
		return c.handleError(ctx)
	default:
		err = fmt.Errorf("unexpected coordinator state %s", c.State())
	}

	if err != nil {
		c.logger.Error("State handler failed",
			zap.String("state", c.State().String()),
			zap.Error(err),
		)
		metrics.CoordinatorErrors.Inc()
		c.setState(StateError)
		return nil
	}
	c.consecutiveFails = 0
	return nil
}

// Stop requests shutdown and waits for the loop to exit, up to timeout.
func (c *Coordinator) Stop(timeout time.Duration) error {
	c.shutdownOnce.Do(func() { close(c.shutdown) })
	select {
	case <-c.done:
		return nil
	case <-time.After(timeout):
		return errors.New("coordinator did not stop in time")
	}
}

// guard converts handler panics into errors so a single bad directive can
// only route through the error state, never kill the loop.
func (c *Coordinator) guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("state handler panic: %v", r)
		}
	}()
	return fn()
}

func (c *Coordinator) handleInitializing() error {
	snap := state.Snapshot{Version: 1}
	if c.snapshots != nil {
		loaded, err := c.snapshots.Load()
		if err != nil {
			return fmt.Errorf("load snapshot: %w", err)
		}
		snap = loaded
	}

	c.mu.Lock()
	c.sessionID = uuid.New().String()
	c.startedAt = time.Now()
	c.rolling = snap.RollingMetrics
	c.lastMaintenance = snap.LastMaintenanceTime
	if c.lastMaintenance.IsZero() {
		c.lastMaintenance = time.Now()
	}
	c.mu.Unlock()

	c.logger.Info("Coordinator initialized",
		zap.String("session_id", c.SessionID()),
		zap.Int64("directives_processed", snap.RollingMetrics.DirectivesProcessed),
	)
	c.setState(StateIdle)
	return nil
}

func (c *Coordinator) handleIdle(ctx context.Context) error {
	select {
	case d := <-c.inbound:
		c.mu.Lock()
		c.active = d
		c.mu.Unlock()
		c.eventsMgr.Log(ctx, events.Event{
			Type:      events.TypeDirectiveReceived,
			Source:    d.Source,
			Details:   d.Content,
			SessionID: d.SessionID,
		})
		c.setState(StateThinking)
	case <-time.After(c.cfg.IdleTimeout):
		c.maybeMaintain(ctx)
	case <-ctx.Done():
	case <-c.shutdown:
	}
	return nil
}

func (c *Coordinator) handleThinking(ctx context.Context) error {
	d := c.activeDirective()
	if d == nil {
		c.setState(StateIdle)
		return errors.New("thinking state entered with no active directive")
	}

	ctx, span := tracing.StartSpan(ctx, "coordinator.evaluate", tracing.DirectiveAttrs(d.ID, d.Source)...)
	defer span.End()

	parsed := c.parser.Parse(d.Content)
	alignment := c.parser.Alignment(d.Content, d.Source)
	c.mu.Lock()
	c.activeParsed = parsed
	c.activeAlignment = alignment
	c.mu.Unlock()

	if alignment > c.cfg.AlignmentBypass {
		c.logger.Debug("High-trust directive bypasses council",
			zap.String("directive_id", d.ID),
			zap.Float64("alignment", alignment),
		)
		c.setState(StateExecuting)
		return nil
	}

	decision := c.councilEng.Evaluate(d.Content)
	metrics.CouncilDecisions.WithLabelValues(string(decision.Outcome)).Inc()
	metrics.CouncilScore.Observe(decision.Score)
	c.logger.Info("Council evaluated directive",
		zap.String("directive_id", d.ID),
		zap.String("outcome", string(decision.Outcome)),
		zap.Float64("score", decision.Score),
	)

	switch decision.Outcome {
	case council.OutcomeApprove:
		c.setState(StateExecuting)
	case council.OutcomeReject:
		c.finishDirective(&models.ExecutionResult{
			DirectiveID:    d.ID,
			Success:        false,
			Error:          "rejected by council: " + decision.Reasoning,
			AlignmentScore: alignment,
			CompletedAt:    time.Now(),
			Duration:       time.Since(d.SubmittedAt),
		})
		c.setState(StateLogging)
	default:
		metrics.Escalations.Inc()
		c.mu.Lock()
		c.rolling.Escalations++
		c.mu.Unlock()
		c.pushMessage(&models.SystemMessage{
			Type:    models.MessageTypeEscalation,
			Content: decision.Reasoning,
			Metadata: map[string]interface{}{
				"directive_id": d.ID,
				"score":        decision.Score,
				"content":      d.Content,
			},
			Timestamp: time.Now(),
		})
		c.eventsMgr.Log(ctx, events.Event{
			Type:      events.TypeEscalation,
			Source:    d.Source,
			Details:   decision.Reasoning,
			SessionID: d.SessionID,
		})
		c.finishDirective(&models.ExecutionResult{
			DirectiveID:    d.ID,
			Success:        false,
			Error:          "escalated for human review",
			AlignmentScore: alignment,
			CompletedAt:    time.Now(),
			Duration:       time.Since(d.SubmittedAt),
		})
		c.setState(StateLogging)
	}
	return nil
}

func (c *Coordinator) handleExecuting(ctx context.Context) error {
	d := c.activeDirective()
	if d == nil {
		c.setState(StateIdle)
		return errors.New("executing state entered with no active directive")
	}

	_, span := tracing.StartSpan(ctx, "coordinator.execute", tracing.DirectiveAttrs(d.ID, d.Source)...)
	defer span.End()

	c.mu.RLock()
	parsed := c.activeParsed
	alignment := c.activeAlignment
	c.mu.RUnlock()

	params := map[string]interface{}{
		"query":        d.Content,
		"intent":       parsed.Intent,
		"directive_id": d.ID,
		"urgency":      parsed.Urgency,
	}
	for k, v := range parsed.Entities {
		params[k] = v
	}

	task := &models.AgentTask{
		ID:         uuid.New().String(),
		Type:       parsed.Intent,
		Parameters: params,
		Priority:   d.Priority,
		CreatedAt:  time.Now(),
	}

	// Council already approved (or alignment bypassed it); enqueue directly.
	result := &models.ExecutionResult{
		DirectiveID:    d.ID,
		AlignmentScore: alignment,
	}
	if err := c.dispatcher.Enqueue(task); err != nil {
		result.Success = false
		result.Error = fmt.Sprintf("dispatch failed: %v", err)
	} else if taskRes := c.dispatcher.GetTaskResult(task.ID, c.cfg.ExecutionTimeout); taskRes == nil {
		result.Success = false
		result.Error = "execution timed out"
	} else {
		result.Success = taskRes.Success
		result.Payload = taskRes.Payload
		result.Error = taskRes.Error
	}
	result.Duration = time.Since(d.SubmittedAt)
	result.CompletedAt = time.Now()

	c.finishDirective(result)
	c.setState(StateLogging)
	return nil
}

func (c *Coordinator) handleLogging(ctx context.Context) error {
	c.mu.Lock()
	res := c.pendingResult
	d := c.active
	c.pendingResult = nil
	c.active = nil
	c.activeParsed = intent.Parsed{}
	c.activeAlignment = 0
	c.mu.Unlock()

	if res != nil {
		status := "success"
		if !res.Success {
			status = "failure"
		}
		metrics.DirectivesCompleted.WithLabelValues(status).Inc()
		metrics.DirectiveDuration.Observe(res.Duration.Seconds())

		c.mu.Lock()
		c.rolling.DirectivesProcessed++
		if !res.Success {
			c.rolling.DirectivesFailed++
		}
		c.rolling.TotalDuration += res.Duration.Seconds()
		c.mu.Unlock()

		source := ""
		sessionID := ""
		if d != nil {
			source = d.Source
			sessionID = d.SessionID
		}
		c.eventsMgr.Log(ctx, events.Event{
			Type:           events.TypeDirectiveCompleted,
			Source:         source,
			Duration:       res.Duration.Seconds(),
			Success:        res.Success,
			AlignmentScore: res.AlignmentScore,
			SessionID:      sessionID,
		})

		if c.recorder != nil {
			c.recorder.Record(d, res)
		}

		select {
		case c.results <- res:
		default:
			c.logger.Warn("Result queue full, dropping result",
				zap.String("directive_id", res.DirectiveID))
		}
	}

	c.persist()
	c.setState(StateIdle)
	return nil
}

// handleError backs off and retries; repeated failures are fatal and
// surfaced to the supervisor via a system message and an error return.
func (c *Coordinator) handleError(ctx context.Context) error {
	c.consecutiveFails++
	if c.consecutiveFails >= c.cfg.MaxConsecutiveFails {
		msg := fmt.Sprintf("coordinator failed %d consecutive times, giving up", c.consecutiveFails)
		c.logger.Error(msg)
		c.pushMessage(&models.SystemMessage{
			Type:      models.MessageTypeFatal,
			Content:   msg,
			Timestamp: time.Now(),
		})
		return errors.New(msg)
	}

	// Resolve the active directive before recovering so its caller is not
	// left waiting for a result that will never come.
	if d := c.activeDirective(); d != nil {
		c.finishDirective(&models.ExecutionResult{
			DirectiveID: d.ID,
			Success:     false,
			Error:       "internal coordinator fault",
			Duration:    time.Since(d.SubmittedAt),
			CompletedAt: time.Now(),
		})
		c.setState(StateLogging)
	} else {
		c.setState(StateIdle)
	}

	select {
	case <-time.After(c.cfg.ErrorBackoff):
	case <-ctx.Done():
	case <-c.shutdown:
	}
	return nil
}

func (c *Coordinator) maybeMaintain(ctx context.Context) {
	if c.cfg.MaintenanceInterval <= 0 {
		return
	}
	c.mu.Lock()
	due := time.Since(c.lastMaintenance) >= c.cfg.MaintenanceInterval
	if due {
		c.lastMaintenance = time.Now()
	}
	c.mu.Unlock()
	if !due {
		return
	}

	c.logger.Debug("Running idle maintenance")
	if err := c.eventsMgr.Trim(ctx, 10000); err != nil {
		c.logger.Warn("Event trim failed", zap.Error(err))
	}
	c.eventsMgr.Log(ctx, events.Event{
		Type:    events.TypeMaintenance,
		Source:  "coordinator",
		Success: true,
	})
	c.persist()
}

func (c *Coordinator) activeDirective() *models.Directive {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

func (c *Coordinator) finishDirective(res *models.ExecutionResult) {
	c.mu.Lock()
	c.pendingResult = res
	c.mu.Unlock()
}

func (c *Coordinator) pushMessage(msg *models.SystemMessage) {
	select {
	case c.messages <- msg:
	default:
		c.logger.Warn("System message queue full, dropping message",
			zap.String("type", msg.Type))
	}
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.current = s
	c.mu.Unlock()
	metrics.CoordinatorState.Set(float64(s))
}

func (c *Coordinator) heartbeat() {
	c.mu.Lock()
	c.lastHeartbeat = time.Now()
	c.mu.Unlock()
}

func (c *Coordinator) persist() {
	if c.snapshots == nil {
		return
	}
	c.mu.RLock()
	snap := state.Snapshot{
		CurrentState:        c.current.String(),
		SessionID:           c.sessionID,
		LastHeartbeat:       c.lastHeartbeat,
		RollingMetrics:      c.rolling,
		LastMaintenanceTime: c.lastMaintenance,
	}
	c.mu.RUnlock()
	if err := c.snapshots.Save(snap); err != nil {
		c.logger.Warn("Snapshot save failed", zap.Error(err))
	}
}
