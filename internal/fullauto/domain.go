package fullauto

import (
	"context"
	"encoding/json"
	"time"
)

// Action is what the decision model asked the loop to do next.
type Action string

const (
	ActionContinue Action = "continue"
	ActionPause    Action = "pause"
	ActionStop     Action = "stop"
)

// GuardrailRule identifies which fail-safe check overrode the model.
type GuardrailRule string

const (
	RuleInterrupted   GuardrailRule = "interrupted"
	RuleFailed        GuardrailRule = "failed"
	RuleMaxTurns      GuardrailRule = "max_turns"
	RuleMaxTokens     GuardrailRule = "max_tokens"
	RuleNoProgress    GuardrailRule = "no_progress"
	RuleLowConfidence GuardrailRule = "low_confidence"
)

type RunStatus string

const (
	RunStatusIdle    RunStatus = "idle"
	RunStatusRunning RunStatus = "running"
	RunStatusPaused  RunStatus = "paused"
	RunStatusStopped RunStatus = "stopped"
)

// Termination reasons that are not guardrail rule tags.
const (
	TerminationUserCancelled     = "user_cancelled"
	TerminationCompletedNormally = "completed_normally"
	TerminationLogFailure        = "log_write_failed"
)

// Decision is the typed outcome of one model consultation. It is immutable
// once parsed; only the enforced decision may differ from it.
type Decision struct {
	Action     Action  `json:"action"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
	NextInput  string  `json:"next_input,omitempty"`
}

// EnforcedDecision is the decision actually acted upon after guardrail
// evaluation. GuardrailRule is set iff GuardrailTriggered.
type EnforcedDecision struct {
	Decision           Decision      `json:"decision"`
	FinalAction        Action        `json:"final_action"`
	GuardrailTriggered bool          `json:"guardrail_triggered"`
	GuardrailRule      GuardrailRule `json:"guardrail_rule,omitempty"`
}

// ParseDiagnostics records every field of a raw decision payload that
// required a fallback or clamp. Parsing never fails; diagnostics are the
// only signal that a payload was malformed.
type ParseDiagnostics struct {
	RawPayload         json.RawMessage `json:"raw_payload,omitempty"`
	ActionRaw          string          `json:"action_raw,omitempty"`
	ActionFallback     bool            `json:"action_fallback,omitempty"`
	ConfidenceRaw      string          `json:"confidence_raw,omitempty"`
	ConfidenceFallback bool            `json:"confidence_fallback,omitempty"`
	ConfidenceClamped  bool            `json:"confidence_clamped,omitempty"`
	ParseErrors        []string        `json:"parse_errors,omitempty"`
}

// Clean reports whether no field needed a fallback or clamp.
func (d ParseDiagnostics) Clean() bool {
	return !d.ActionFallback && !d.ConfidenceFallback && !d.ConfidenceClamped && len(d.ParseErrors) == 0
}

// ProgressReport is what the external agent returns after executing one
// turn of work. MadeProgress is an opaque judgement owned by the agent;
// the loop never recomputes it.
type ProgressReport struct {
	MadeProgress   bool  `json:"made_progress"`
	TokensConsumed int64 `json:"tokens_consumed"`
}

// RunContext is handed to the decision model on every consultation.
type RunContext struct {
	RunID             string    `json:"run_id"`
	Goal              string    `json:"goal,omitempty"`
	TurnCount         int64     `json:"turn_count"`
	TokenUsage        int64     `json:"token_usage"`
	NoProgressCount   int       `json:"no_progress_count"`
	LastDecision      *Decision `json:"last_decision,omitempty"`
	LastAgentProgress bool      `json:"last_agent_progress"`
}

// DecisionRequester is the untrusted model collaborator. The returned
// payload carries no schema guarantee; every field must go through
// ParseDecision before use.
type DecisionRequester interface {
	RequestDecision(ctx context.Context, rc RunContext) (json.RawMessage, error)
}

// AgentExecutor is the external agent collaborator, invoked only when the
// enforced action is continue.
type AgentExecutor interface {
	Execute(ctx context.Context, nextInput string) (ProgressReport, error)
}

// RunMetadata is the per-run summary record. ConfigSnapshot is taken when
// the run is enabled so later config changes never reinterpret history.
type RunMetadata struct {
	RunID             string     `json:"run_id"`
	Goal              string     `json:"goal,omitempty"`
	StartedAt         time.Time  `json:"started_at"`
	StoppedAt         *time.Time `json:"stopped_at,omitempty"`
	ConfigSnapshot    LoopConfig `json:"config_snapshot"`
	Status            RunStatus  `json:"status"`
	TerminationReason string     `json:"termination_reason,omitempty"`
	TurnCount         int64      `json:"turn_count"`
	TokenUsage        int64      `json:"token_usage"`
	LastGuardrailRule string     `json:"last_guardrail_rule,omitempty"`
	LastReason        string     `json:"last_reason,omitempty"`
}

// RunMetricsSnapshot aggregates loop outcomes across runs.
type RunMetricsSnapshot struct {
	CapturedAt      time.Time      `json:"captured_at"`
	RunsStarted     int            `json:"runs_started"`
	RunsStopped     int            `json:"runs_stopped"`
	RunsFailed      int            `json:"runs_failed"`
	PauseCount      int            `json:"pause_count"`
	GuardrailCauses map[string]int `json:"guardrail_causes,omitempty"`
}
