package council

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultConfig mirrors the shipped council_weights file: three seats tuned
// for a helpfulness-leaning gate with a safety counterweight.
func DefaultConfig() Config {
	return Config{
		Version: "1",
		Members: map[string]Member{
			"guardian": {
				Weight:   1.2,
				Keywords: []string{"safe", "verify", "validate", "review"},
				Bias:     -0.1,
			},
			"strategist": {
				Weight:   1.0,
				Keywords: []string{"plan", "analyze", "report", "status", "summarize"},
				Bias:     0.2,
			},
			"advocate": {
				Weight:   0.8,
				Keywords: []string{"help", "assist", "improve", "optimize"},
				Bias:     0.3,
			},
		},
		Thresholds: Thresholds{Approve: 0.7, Reject: -0.5},
	}
}

// LoadConfig reads a council configuration from a YAML file. A missing path
// returns the defaults; a malformed file is an error so a bad edit cannot
// silently neuter the gate.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return Config{}, fmt.Errorf("read council config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse council config %s: %w", path, err)
	}
	if len(cfg.Members) == 0 {
		return Config{}, fmt.Errorf("council config %s has no members", path)
	}
	if cfg.Thresholds.Approve == 0 && cfg.Thresholds.Reject == 0 {
		cfg.Thresholds = DefaultConfig().Thresholds
	}
	return cfg, nil
}
