package agents

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperai/phoenix/go/orchestrator/internal/llm"
	"github.com/hyperai/phoenix/go/orchestrator/internal/models"
)

// ProposalGenerator drafts improvement proposals for diagnosed problems.
// With a completion backend configured it asks the model; without one it
// falls back to a deterministic template so the pipeline still resolves.
type ProposalGenerator struct {
	name    string
	client  llm.Client
	metrics *Metrics
	logger  *zap.Logger
}

// NewProposalGenerator creates the generator. client may be nil.
func NewProposalGenerator(client llm.Client, logger *zap.Logger) *ProposalGenerator {
	return &ProposalGenerator{
		name:    "proposal_generator",
		client:  client,
		metrics: &Metrics{},
		logger:  logger,
	}
}

func (g *ProposalGenerator) Name() string { return g.name }

func (g *ProposalGenerator) Capabilities() []string {
	return []string{"generate_proposal", "draft_improvement"}
}

// Stats exposes the rolling counters.
func (g *ProposalGenerator) Stats() MetricsSnapshot { return g.metrics.Snapshot() }

// Execute drafts a proposal for the problem described in the task parameters.
func (g *ProposalGenerator) Execute(ctx context.Context, task *models.AgentTask) (*models.TaskResult, error) {
	start := time.Now()

	problem, _ := task.Parameters["problem"].(string)
	if problem == "" {
		res := failedResult(task, g.name, "missing required parameter: problem", start)
		g.metrics.Record(false, time.Since(start))
		return res, nil
	}

	proposal, generated := g.draft(ctx, problem)
	payload := map[string]interface{}{
		"proposal":  proposal,
		"problem":   problem,
		"generated": generated,
	}

	g.metrics.Record(true, time.Since(start))
	return newResult(task, g.name, payload, start), nil
}

func (g *ProposalGenerator) draft(ctx context.Context, problem string) (string, bool) {
	if g.client != nil {
		prompt := fmt.Sprintf(
			"A system diagnostic reported the following problem:\n%s\n\nDraft a short, concrete improvement proposal with a title, rationale, and implementation steps.",
			problem)
		out, err := g.client.Complete(ctx, prompt)
		if err == nil && out != "" {
			return out, true
		}
		g.logger.Warn("Completion backend unavailable, using template proposal", zap.Error(err))
	}
	return fmt.Sprintf(
		"Proposal: address %q.\nRationale: flagged by metrics analysis.\nSteps: (1) reproduce and measure; (2) identify the dominant contributor; (3) apply a bounded fix and re-measure.",
		problem), false
}
