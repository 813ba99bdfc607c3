package fullauto

// GuardrailInput is the run-state snapshot the guardrail engine evaluates
// against. It is a plain value so enforcement stays a pure function.
type GuardrailInput struct {
	TurnCount             int64
	TokenUsage            int64
	ConsecutiveNoProgress int
	CancellationRequested bool
	FailureSignal         bool
}

// EnforceGuardrails applies the fail-safe override rules to a parsed
// decision. It is pure, total and deterministic; the first matching rule
// wins. Guardrails only ever restrict: the final action is never more
// permissive than what the model requested.
//
// Rule order: administrative and safety stops dominate, objective budget
// exhaustion comes next, and the soft recoverable signals (stagnation, low
// confidence) are evaluated last and pause rather than stop.
func EnforceGuardrails(decision Decision, in GuardrailInput, cfg LoopConfig) EnforcedDecision {
	cfg = NormalizeLoopConfig(cfg)

	triggered := func(action Action, rule GuardrailRule) EnforcedDecision {
		return EnforcedDecision{
			Decision:           decision,
			FinalAction:        action,
			GuardrailTriggered: true,
			GuardrailRule:      rule,
		}
	}

	if in.CancellationRequested {
		return triggered(ActionStop, RuleInterrupted)
	}
	if in.FailureSignal {
		return triggered(ActionStop, RuleFailed)
	}
	if in.TurnCount >= cfg.MaxTurns {
		return triggered(ActionStop, RuleMaxTurns)
	}
	if cfg.MaxTokens > 0 && in.TokenUsage >= cfg.MaxTokens {
		return triggered(ActionStop, RuleMaxTokens)
	}
	if in.ConsecutiveNoProgress >= cfg.NoProgressThreshold {
		return triggered(ActionPause, RuleNoProgress)
	}
	if decision.Confidence < cfg.MinConfidence {
		return triggered(ActionPause, RuleLowConfidence)
	}

	return EnforcedDecision{
		Decision:    decision,
		FinalAction: decision.Action,
	}
}
