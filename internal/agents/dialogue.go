package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperai/phoenix/go/orchestrator/internal/models"
)

// DialogueHandler formats user-facing responses for general queries and
// status requests. Purely template driven; no external calls.
type DialogueHandler struct {
	name    string
	metrics *Metrics
	logger  *zap.Logger
}

// NewDialogueHandler creates the handler.
func NewDialogueHandler(logger *zap.Logger) *DialogueHandler {
	return &DialogueHandler{name: "dialogue_handler", metrics: &Metrics{}, logger: logger}
}

func (d *DialogueHandler) Name() string { return d.name }

func (d *DialogueHandler) Capabilities() []string {
	return []string{"format_response", "general_query", "help"}
}

// Stats exposes the rolling counters.
func (d *DialogueHandler) Stats() MetricsSnapshot { return d.metrics.Snapshot() }

// Execute renders a response for the query in the task parameters.
func (d *DialogueHandler) Execute(ctx context.Context, task *models.AgentTask) (*models.TaskResult, error) {
	start := time.Now()

	query, _ := task.Parameters["query"].(string)
	intent, _ := task.Parameters["intent"].(string)

	var response string
	switch {
	case intent == "help" || strings.Contains(strings.ToLower(query), "help"):
		response = "I coordinate directives through evaluation, approval, and dispatch to worker agents. " +
			"Submit a directive and I will return its result, or ask for system status."
	case intent == "system_status":
		response = "Status request acknowledged; see the status payload for state, uptime, and queue depths."
	case query != "":
		response = fmt.Sprintf("Acknowledged: %s", query)
	default:
		res := failedResult(task, d.name, "missing required parameter: query", start)
		d.metrics.Record(false, time.Since(start))
		return res, nil
	}

	payload := map[string]interface{}{
		"response": response,
		"intent":   intent,
	}

	d.metrics.Record(true, time.Since(start))
	return newResult(task, d.name, payload, start), nil
}
