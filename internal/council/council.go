package council

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Outcome is the council's verdict on a directive.
type Outcome string

const (
	OutcomeApprove  Outcome = "APPROVE"
	OutcomeReject   Outcome = "REJECT"
	OutcomeEscalate Outcome = "ESCALATE"
)

// Member is one voting seat: a weight, a keyword set, and a signed bias.
type Member struct {
	Weight   float64  `yaml:"weight"`
	Keywords []string `yaml:"keywords"`
	Bias     float64  `yaml:"bias"`
}

// Thresholds split the normalized score into the three outcomes.
type Thresholds struct {
	Approve float64 `yaml:"approve"`
	Reject  float64 `yaml:"reject"`
}

// Config is a versioned, immutable council configuration.
type Config struct {
	Version    string            `yaml:"version"`
	Members    map[string]Member `yaml:"members"`
	Thresholds Thresholds        `yaml:"thresholds"`
}

// Decision is the aggregate result of a council vote. Reasoning is
// presentation only and never feeds back into the outcome.
type Decision struct {
	Outcome   Outcome            `json:"decision"`
	Score     float64            `json:"score"`
	Votes     map[string]float64 `json:"votes"`
	Reasoning string             `json:"reasoning"`
}

// Engine evaluates directives against the current council configuration.
// Evaluate is a pure function of (text, config); the only mutation point is
// a configuration swap via UpdateConfig.
type Engine struct {
	mu     sync.RWMutex
	cfg    Config
	logger *zap.Logger
}

// NewEngine creates a council engine with the given configuration.
func NewEngine(cfg Config, logger *zap.Logger) *Engine {
	return &Engine{cfg: cfg, logger: logger}
}

// UpdateConfig swaps in a new council configuration (hot reload).
func (e *Engine) UpdateConfig(cfg Config) {
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
	e.logger.Info("Council configuration updated",
		zap.String("version", cfg.Version),
		zap.Int("members", len(cfg.Members)),
	)
}

// Config returns the active configuration.
func (e *Engine) Config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// Evaluate runs a weighted vote over the directive text. Per member:
// keyword_score = min(0.2 * matches, 1.0); vote = (keyword_score + bias) * weight.
// The normalized score is the weight-averaged vote, 0 when total weight is 0.
func (e *Engine) Evaluate(text string) Decision {
	e.mu.RLock()
	cfg := e.cfg
	e.mu.RUnlock()

	lower := strings.ToLower(text)
	votes := make(map[string]float64, len(cfg.Members))
	var totalScore, totalWeight float64

	for name, m := range cfg.Members {
		matches := 0
		for _, kw := range m.Keywords {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				matches++
			}
		}
		keywordScore := float64(matches) * 0.2
		if keywordScore > 1.0 {
			keywordScore = 1.0
		}
		vote := (keywordScore + m.Bias) * m.Weight
		votes[name] = vote
		totalScore += vote
		totalWeight += m.Weight
	}

	var score float64
	if totalWeight > 0 {
		score = totalScore / totalWeight
	}

	var outcome Outcome
	switch {
	case score >= cfg.Thresholds.Approve:
		outcome = OutcomeApprove
	case score <= cfg.Thresholds.Reject:
		outcome = OutcomeReject
	default:
		outcome = OutcomeEscalate
	}

	return Decision{
		Outcome:   outcome,
		Score:     score,
		Votes:     votes,
		Reasoning: reasoning(votes, score, outcome),
	}
}

// reasoning builds the human-readable summary: composite score, strongest
// supporter and opponent, and the decision phrase.
func reasoning(votes map[string]float64, score float64, outcome Outcome) string {
	parts := []string{fmt.Sprintf("composite score %.3f", score)}

	names := make([]string, 0, len(votes))
	for name := range votes {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if votes[names[i]] != votes[names[j]] {
			return votes[names[i]] > votes[names[j]]
		}
		return names[i] < names[j]
	})

	if len(names) > 0 {
		top, bottom := names[0], names[len(names)-1]
		if votes[top] > 0 {
			parts = append(parts, fmt.Sprintf("strongest supporter %s (%.2f)", top, votes[top]))
		}
		if votes[bottom] < 0 {
			parts = append(parts, fmt.Sprintf("strongest opponent %s (%.2f)", bottom, votes[bottom]))
		}
	}

	switch outcome {
	case OutcomeApprove:
		parts = append(parts, "council approves")
	case OutcomeReject:
		parts = append(parts, "council rejects")
	default:
		parts = append(parts, "no consensus, escalating for human review")
	}

	return strings.Join(parts, "; ")
}
