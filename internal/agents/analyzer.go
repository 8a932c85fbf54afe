package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperai/phoenix/go/orchestrator/internal/events"
	"github.com/hyperai/phoenix/go/orchestrator/internal/models"
	"github.com/hyperai/phoenix/go/orchestrator/internal/search"
)

// AnalyzerThresholds define when recent activity counts as a problem.
type AnalyzerThresholds struct {
	MaxAvgDuration time.Duration `mapstructure:"max_avg_duration"`
	MaxErrorRate   float64       `mapstructure:"max_error_rate"`
	MinAlignment   float64       `mapstructure:"min_alignment"`
}

// DefaultAnalyzerThresholds returns the stock diagnostic thresholds.
func DefaultAnalyzerThresholds() AnalyzerThresholds {
	return AnalyzerThresholds{
		MaxAvgDuration: 20 * time.Second,
		MaxErrorRate:   0.05,
		MinAlignment:   0.8,
	}
}

// MetricsAnalyzer inspects the recent event window for slow executions, high
// error rates, and low alignment scores. When a semantic search collaborator
// is configured it attaches related context to each finding.
type MetricsAnalyzer struct {
	name       string
	thresholds AnalyzerThresholds
	events     *events.Manager
	searcher   *search.Client
	metrics    *Metrics
	logger     *zap.Logger
}

// NewMetricsAnalyzer creates the analyzer. searcher may be nil.
func NewMetricsAnalyzer(thresholds AnalyzerThresholds, ev *events.Manager, searcher *search.Client, logger *zap.Logger) *MetricsAnalyzer {
	return &MetricsAnalyzer{
		name:       "metrics_analyzer",
		thresholds: thresholds,
		events:     ev,
		searcher:   searcher,
		metrics:    &Metrics{},
		logger:     logger,
	}
}

func (a *MetricsAnalyzer) Name() string { return a.name }

func (a *MetricsAnalyzer) Capabilities() []string {
	return []string{"analyze_metrics", "diagnose_problem"}
}

// Stats exposes the rolling counters.
func (a *MetricsAnalyzer) Stats() MetricsSnapshot { return a.metrics.Snapshot() }

// Execute analyzes the recent window and returns findings. The window can be
// overridden with a "window_minutes" parameter.
func (a *MetricsAnalyzer) Execute(ctx context.Context, task *models.AgentTask) (*models.TaskResult, error) {
	start := time.Now()

	window := time.Hour
	if v, ok := task.Parameters["window_minutes"].(float64); ok && v > 0 {
		window = time.Duration(v) * time.Minute
	}

	findings := a.analyze(a.events.Recent(window))
	for i := range findings {
		a.attachContext(ctx, &findings[i])
	}

	payload := map[string]interface{}{
		"findings":       findings,
		"window_minutes": window.Minutes(),
		"healthy":        len(findings) == 0,
	}

	a.metrics.Record(true, time.Since(start))
	return newResult(task, a.name, payload, start), nil
}

// Finding is one diagnosed anomaly in the recent activity window.
type Finding struct {
	Kind     string          `json:"kind"`
	Detail   string          `json:"detail"`
	Severity string          `json:"severity"`
	Context  []search.Result `json:"context,omitempty"`
}

func (a *MetricsAnalyzer) analyze(recent []events.Event) []Finding {
	var (
		executions int
		failures   int
		totalDur   float64
		lowAlign   int
		alignSeen  int
	)
	for _, e := range recent {
		switch e.Type {
		case events.TypeTaskCompleted, events.TypeDirectiveCompleted:
			executions++
			totalDur += e.Duration
			if !e.Success {
				failures++
			}
		case events.TypeSystemError:
			failures++
			executions++
		}
		if e.AlignmentScore > 0 {
			alignSeen++
			if e.AlignmentScore < a.thresholds.MinAlignment {
				lowAlign++
			}
		}
	}

	var findings []Finding
	if executions == 0 {
		return findings
	}

	avg := time.Duration(totalDur / float64(executions) * float64(time.Second))
	if avg > a.thresholds.MaxAvgDuration {
		findings = append(findings, Finding{
			Kind:     "slow_execution",
			Detail:   fmt.Sprintf("average execution time %.1fs exceeds %.1fs", avg.Seconds(), a.thresholds.MaxAvgDuration.Seconds()),
			Severity: "warning",
		})
	}

	errorRate := float64(failures) / float64(executions)
	if errorRate > a.thresholds.MaxErrorRate {
		findings = append(findings, Finding{
			Kind:     "high_error_rate",
			Detail:   fmt.Sprintf("error rate %.1f%% exceeds %.1f%%", errorRate*100, a.thresholds.MaxErrorRate*100),
			Severity: "critical",
		})
	}

	if alignSeen > 0 && lowAlign > 0 {
		findings = append(findings, Finding{
			Kind:     "low_alignment",
			Detail:   fmt.Sprintf("%d of %d scored events below alignment %.2f", lowAlign, alignSeen, a.thresholds.MinAlignment),
			Severity: "warning",
		})
	}
	return findings
}

func (a *MetricsAnalyzer) attachContext(ctx context.Context, f *Finding) {
	if a.searcher == nil {
		return
	}
	query := strings.ReplaceAll(f.Kind, "_", " ")
	hits, err := a.searcher.Search(ctx, query, 3)
	if err != nil {
		a.logger.Debug("Context search failed", zap.String("kind", f.Kind), zap.Error(err))
		return
	}
	f.Context = hits
}
