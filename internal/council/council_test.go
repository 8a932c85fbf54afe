package council

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testConfig() Config {
	return Config{
		Version: "test",
		Members: map[string]Member{
			"optimist":  {Weight: 1.0, Keywords: []string{"improve", "help"}, Bias: 0.4},
			"pessimist": {Weight: 1.0, Keywords: []string{"risk"}, Bias: -0.8},
		},
		Thresholds: Thresholds{Approve: 0.7, Reject: -0.5},
	}
}

func TestEvaluateWeightedMath(t *testing.T) {
	e := NewEngine(testConfig(), zaptest.NewLogger(t))

	d := e.Evaluate("please improve and help the team")
	// optimist: min(0.2*2, 1.0)+0.4 = 0.8; pessimist: 0-0.8 = -0.8
	assert.InDelta(t, 0.8, d.Votes["optimist"], 1e-9)
	assert.InDelta(t, -0.8, d.Votes["pessimist"], 1e-9)
	assert.InDelta(t, 0.0, d.Score, 1e-9)
	assert.Equal(t, OutcomeEscalate, d.Outcome)
}

func TestEvaluateKeywordScoreCap(t *testing.T) {
	cfg := Config{
		Members: map[string]Member{
			"m": {Weight: 1.0, Keywords: []string{"a1", "b2", "c3", "d4", "e5", "f6"}, Bias: 0},
		},
		Thresholds: Thresholds{Approve: 0.7, Reject: -0.5},
	}
	e := NewEngine(cfg, zaptest.NewLogger(t))

	d := e.Evaluate("a1 b2 c3 d4 e5 f6")
	// Six matches would be 1.2 uncapped; the cap holds it at 1.0.
	assert.InDelta(t, 1.0, d.Score, 1e-9)
	assert.Equal(t, OutcomeApprove, d.Outcome)
}

func TestEvaluateOutcomes(t *testing.T) {
	cfg := Config{
		Members: map[string]Member{
			"solo": {Weight: 2.0, Keywords: []string{"good"}, Bias: 0},
		},
		Thresholds: Thresholds{Approve: 0.2, Reject: -0.1},
	}
	e := NewEngine(cfg, zaptest.NewLogger(t))

	assert.Equal(t, OutcomeApprove, e.Evaluate("good").Outcome)
	assert.Equal(t, OutcomeEscalate, e.Evaluate("neutral text").Outcome)

	cfg.Members = map[string]Member{"solo": {Weight: 2.0, Bias: -0.2}}
	e.UpdateConfig(cfg)
	assert.Equal(t, OutcomeReject, e.Evaluate("anything").Outcome)
}

func TestEvaluateDeterministic(t *testing.T) {
	e := NewEngine(testConfig(), zaptest.NewLogger(t))
	text := "help me assess the risk here"

	first := e.Evaluate(text)
	for i := 0; i < 10; i++ {
		again := e.Evaluate(text)
		assert.Equal(t, first.Score, again.Score)
		assert.Equal(t, first.Outcome, again.Outcome)
		assert.Equal(t, first.Votes, again.Votes)
	}
}

func TestEvaluateZeroWeight(t *testing.T) {
	e := NewEngine(Config{Thresholds: Thresholds{Approve: 0.7, Reject: -0.5}}, zaptest.NewLogger(t))
	d := e.Evaluate("anything")
	assert.Zero(t, d.Score)
	assert.Equal(t, OutcomeEscalate, d.Outcome)
}

func TestReasoningNamesExtremes(t *testing.T) {
	e := NewEngine(testConfig(), zaptest.NewLogger(t))
	d := e.Evaluate("improve the risk report")
	assert.Contains(t, d.Reasoning, "optimist")
	assert.Contains(t, d.Reasoning, "pessimist")
}

func TestLoadConfigMissingFileDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Thresholds, cfg.Thresholds)
	assert.NotEmpty(t, cfg.Members)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "council.yaml")
	body := `
version: "2"
members:
  reviewer:
    weight: 1.5
    keywords: ["audit"]
    bias: 0.1
thresholds:
  approve: 0.6
  reject: -0.4
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "2", cfg.Version)
	assert.InDelta(t, 1.5, cfg.Members["reviewer"].Weight, 1e-9)
	assert.InDelta(t, 0.6, cfg.Thresholds.Approve, 1e-9)
}

func TestLoadConfigRejectsEmptyMembers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "council.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`version: "3"`), 0o644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}
