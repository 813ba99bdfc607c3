package fullauto

import (
	"context"
	"encoding/json"
	"time"
)

// DecisionLogEntry is the canonical record of one turn: the raw payload,
// what it parsed to, what was enforced, and why. Entries are append-only
// and never rewritten; the log is the sole source of truth for run
// history, independent of any completion signal.
type DecisionLogEntry struct {
	RunID       string           `json:"run_id"`
	Seq         uint64           `json:"seq"`
	Turn        int64            `json:"turn"`
	Timestamp   time.Time        `json:"timestamp"`
	RawPayload  json.RawMessage  `json:"raw_payload,omitempty"`
	Decision    Decision         `json:"decision"`
	Enforced    EnforcedDecision `json:"enforced"`
	Diagnostics ParseDiagnostics `json:"diagnostics"`
}

// DecisionLog persists entries durably before Append returns. A failed
// append is fatal to the run: an unlogged decision breaks the durability
// contract, so the loop halts rather than continue silently.
type DecisionLog interface {
	Append(ctx context.Context, entry DecisionLogEntry) error
}

// NopDecisionLog discards entries. Used in tests that exercise loop
// control flow without a durable log.
type NopDecisionLog struct{}

func (NopDecisionLog) Append(context.Context, DecisionLogEntry) error { return nil }
