package intent

import (
	"regexp"
	"strings"
)

// Parsed is the structured form of a raw directive: a coarse intent label,
// extracted entities, and heuristic urgency/confidence scores.
type Parsed struct {
	Intent     string            `json:"intent"`
	Entities   map[string]string `json:"entities,omitempty"`
	Urgency    float64           `json:"urgency"`
	Confidence float64           `json:"confidence"`
}

// Config tunes source trust and keyword sets for alignment scoring.
type Config struct {
	TrustedSources     []string `yaml:"trusted_sources" mapstructure:"trusted_sources"`
	EscalationKeywords []string `yaml:"escalation_keywords" mapstructure:"escalation_keywords"`
}

// Parser turns directive text into a Parsed intent and computes the
// pre-council alignment score. Rule-based and deterministic.
type Parser struct {
	cfg Config
}

var (
	filenameRe = regexp.MustCompile(`[\w\-.]+\.[a-z]{1,5}\b`)
	readRe     = regexp.MustCompile(`\b(read|open|show|cat)\b`)
	writeRe    = regexp.MustCompile(`\b(write|create|save)\b`)
	fileRe     = regexp.MustCompile(`\bfile\b`)
	queryRe    = regexp.MustCompile(`\b(what|how|why|when|where|which)\b`)
	shutdownRe = regexp.MustCompile(`\b(shutdown|halt|stop)\b`)
	statusRe   = regexp.MustCompile(`\b(status|health|uptime)\b`)
	improveRe  = regexp.MustCompile(`\b(learn|improve|optimi[sz]e|tune)\b`)
	helpRe     = regexp.MustCompile(`\b(help|assist|support)\b`)
)

// Intent labels produced by Parse.
const (
	IntentReadFile     = "read_file"
	IntentWriteFile    = "write_file"
	IntentQuery        = "information_query"
	IntentShutdown     = "system_shutdown"
	IntentStatus       = "system_status"
	IntentImprovement  = "self_improvement"
	IntentHelp         = "help_request"
	IntentGeneralQuery = "general_query"
)

// NewParser creates a parser with the given trust configuration.
func NewParser(cfg Config) *Parser {
	return &Parser{cfg: cfg}
}

// Parse extracts intent, entities and urgency from directive text.
func (p *Parser) Parse(text string) Parsed {
	lower := strings.ToLower(text)
	entities := map[string]string{}
	var label string

	switch {
	case readRe.MatchString(lower) && fileRe.MatchString(lower):
		label = IntentReadFile
	case writeRe.MatchString(lower) && fileRe.MatchString(lower):
		label = IntentWriteFile
	case shutdownRe.MatchString(lower):
		label = IntentShutdown
	case statusRe.MatchString(lower):
		label = IntentStatus
	case improveRe.MatchString(lower):
		label = IntentImprovement
	case helpRe.MatchString(lower):
		label = IntentHelp
	case queryRe.MatchString(lower):
		label = IntentQuery
	default:
		label = IntentGeneralQuery
	}

	if label == IntentReadFile || label == IntentWriteFile {
		if m := filenameRe.FindString(text); m != "" {
			entities["filename"] = m
		}
	}
	if len(entities) == 0 {
		entities = nil
	}

	return Parsed{
		Intent:     label,
		Entities:   entities,
		Urgency:    urgency(lower, text),
		Confidence: 0.6, // rule-based parsing carries fixed confidence
	}
}

// Alignment scores how well a directive conforms to policy before the council
// sees it. Base 0.5; trusted sources add 0.4; an escalation keyword forces 1.0;
// harmful indicators subtract 0.3. Clamped to [0, 1].
func (p *Parser) Alignment(text, source string) float64 {
	score := 0.5
	lowerText := strings.ToLower(text)
	lowerSource := strings.ToLower(source)

	for _, s := range p.cfg.TrustedSources {
		if s != "" && strings.Contains(lowerSource, strings.ToLower(s)) {
			score += 0.4
			break
		}
	}

	for _, kw := range p.cfg.EscalationKeywords {
		if kw != "" && strings.Contains(lowerText, strings.ToLower(kw)) {
			return 1.0
		}
	}

	for _, ind := range harmfulIndicators {
		if strings.Contains(lowerText, ind) {
			score -= 0.3
		}
	}

	return clamp01(score)
}

var harmfulIndicators = []string{"hack", "break", "violate", "ignore directive", "override"}

var (
	highUrgency   = []string{"urgent", "immediately", "critical", "error", "asap"}
	mediumUrgency = []string{"soon", "need", "should"}
)

func urgency(lower, raw string) float64 {
	u := 0.2
	for _, kw := range highUrgency {
		if strings.Contains(lower, kw) {
			u += 0.6
			break
		}
	}
	for _, kw := range mediumUrgency {
		if strings.Contains(lower, kw) {
			u += 0.3
			break
		}
	}
	if strings.Contains(raw, "!") {
		u += 0.2
	}
	return clamp01(u)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
