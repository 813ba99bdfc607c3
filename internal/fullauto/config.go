package fullauto

import "strings"

const (
	defaultMinConfidence       = 0.55
	defaultMaxTurns            = 200
	defaultNoProgressThreshold = 3
)

// DefaultContinuePrompt is fed to the agent when the model asks to
// continue without supplying its own next input.
const DefaultContinuePrompt = "Continue immediately. Do not ask for confirmation or pause. If errors occur, recover and keep going."

// LoopConfig bounds a single run. MaxTokens <= 0 means the token budget
// rule is disabled.
type LoopConfig struct {
	MinConfidence       float64 `json:"min_confidence" toml:"min_confidence"`
	MaxTurns            int64   `json:"max_turns" toml:"max_turns"`
	MaxTokens           int64   `json:"max_tokens" toml:"max_tokens"`
	NoProgressThreshold int     `json:"no_progress_threshold" toml:"no_progress_threshold"`
	ContinuePrompt      string  `json:"continue_prompt,omitempty" toml:"continue_prompt"`
}

func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		MinConfidence:       defaultMinConfidence,
		MaxTurns:            defaultMaxTurns,
		MaxTokens:           0,
		NoProgressThreshold: defaultNoProgressThreshold,
		ContinuePrompt:      DefaultContinuePrompt,
	}
}

// NormalizeLoopConfig replaces out-of-range values with defaults so every
// run operates under a total, well-formed budget.
func NormalizeLoopConfig(cfg LoopConfig) LoopConfig {
	out := cfg
	if out.MinConfidence <= 0 || out.MinConfidence > 1 {
		out.MinConfidence = defaultMinConfidence
	}
	if out.MaxTurns <= 0 {
		out.MaxTurns = defaultMaxTurns
	}
	if out.MaxTokens < 0 {
		out.MaxTokens = 0
	}
	if out.NoProgressThreshold <= 0 {
		out.NoProgressThreshold = defaultNoProgressThreshold
	}
	if strings.TrimSpace(out.ContinuePrompt) == "" {
		out.ContinuePrompt = DefaultContinuePrompt
	}
	return out
}

// LoopConfigOverride carries optional per-run overrides on top of the
// configured defaults.
type LoopConfigOverride struct {
	MinConfidence       *float64 `json:"min_confidence,omitempty"`
	MaxTurns            *int64   `json:"max_turns,omitempty"`
	MaxTokens           *int64   `json:"max_tokens,omitempty"`
	NoProgressThreshold *int     `json:"no_progress_threshold,omitempty"`
	ContinuePrompt      *string  `json:"continue_prompt,omitempty"`
}

func MergeLoopConfig(base LoopConfig, override *LoopConfigOverride) LoopConfig {
	merged := NormalizeLoopConfig(base)
	if override == nil {
		return merged
	}
	if override.MinConfidence != nil {
		merged.MinConfidence = *override.MinConfidence
	}
	if override.MaxTurns != nil {
		merged.MaxTurns = *override.MaxTurns
	}
	if override.MaxTokens != nil {
		merged.MaxTokens = *override.MaxTokens
	}
	if override.NoProgressThreshold != nil {
		merged.NoProgressThreshold = *override.NoProgressThreshold
	}
	if override.ContinuePrompt != nil {
		merged.ContinuePrompt = *override.ContinuePrompt
	}
	return NormalizeLoopConfig(merged)
}
