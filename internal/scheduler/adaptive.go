package scheduler

import (
	"go.uber.org/zap"

	"github.com/hyperai/phoenix/go/orchestrator/internal/metrics"
)

// AdaptationConfig bounds the per-agent efficiency feedback loop. The factor
// scales an agent's effective weight so consistently successful agents absorb
// more load, but it is clamped on both sides: Floor keeps a struggling agent
// schedulable (never starved permanently), Ceiling keeps a hot agent from
// starving its peers.
type AdaptationConfig struct {
	Enabled      bool
	LearningRate float64
	Floor        float64
	Ceiling      float64
	WindowSize   int
	MinSamples   int
	HighWater    float64 // success rate above which efficiency grows
	LowWater     float64 // success rate below which efficiency shrinks
}

// DefaultAdaptationConfig returns the adaptation defaults.
func DefaultAdaptationConfig() AdaptationConfig {
	return AdaptationConfig{
		Enabled:      true,
		LearningRate: 0.3,
		Floor:        0.5,
		Ceiling:      2.0,
		WindowSize:   20,
		MinSamples:   5,
		HighWater:    0.8,
		LowWater:     0.6,
	}
}

// RecordOutcome feeds one execution outcome into the named agent's adaptation
// window and re-derives its efficiency factor. Unknown agents are ignored;
// the dispatch loop only reports agents it dequeued from this scheduler.
func (s *Scheduler) RecordOutcome(name string, success bool) {
	if !s.cfg.Adaptation.Enabled {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.agents[name]
	if !ok {
		return
	}

	cfg := s.cfg.Adaptation
	if len(q.window) < cfg.WindowSize {
		q.window = append(q.window, success)
	} else {
		q.window[q.windowN%cfg.WindowSize] = success
	}
	q.windowN++

	if len(q.window) < cfg.MinSamples {
		return
	}

	successes := 0
	for _, ok := range q.window {
		if ok {
			successes++
		}
	}
	rate := float64(successes) / float64(len(q.window))

	before := q.efficiency
	switch {
	case rate > cfg.HighWater:
		q.efficiency *= 1 + cfg.LearningRate
		if q.efficiency > cfg.Ceiling {
			q.efficiency = cfg.Ceiling
		}
	case rate < cfg.LowWater:
		q.efficiency *= 1 - cfg.LearningRate/2
		if q.efficiency < cfg.Floor {
			q.efficiency = cfg.Floor
		}
	}

	if q.efficiency != before {
		metrics.AgentEfficiency.WithLabelValues(name).Set(q.efficiency)
		s.logger.Debug("Agent efficiency adapted",
			zap.String("agent", name),
			zap.Float64("success_rate", rate),
			zap.Float64("efficiency", q.efficiency),
		)
	}
}
