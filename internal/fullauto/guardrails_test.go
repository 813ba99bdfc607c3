package fullauto

import "testing"

func confidentContinue() Decision {
	return Decision{Action: ActionContinue, Confidence: 0.9}
}

func TestEnforceGuardrailsPassThrough(t *testing.T) {
	cfg := DefaultLoopConfig()
	for _, action := range []Action{ActionContinue, ActionPause, ActionStop} {
		decision := Decision{Action: action, Confidence: 0.9}
		enforced := EnforceGuardrails(decision, GuardrailInput{}, cfg)
		if enforced.GuardrailTriggered {
			t.Fatalf("%s: unexpected guardrail %s", action, enforced.GuardrailRule)
		}
		if enforced.FinalAction != action {
			t.Fatalf("%s: final action %s", action, enforced.FinalAction)
		}
	}
}

func TestEnforceGuardrailsRules(t *testing.T) {
	cfg := DefaultLoopConfig()
	cfg.MaxTurns = 10
	cfg.MaxTokens = 1000
	cfg.NoProgressThreshold = 3
	cfg.MinConfidence = 0.55

	tests := []struct {
		name       string
		in         GuardrailInput
		decision   Decision
		wantAction Action
		wantRule   GuardrailRule
	}{
		{
			name:       "cancellation stops",
			in:         GuardrailInput{CancellationRequested: true},
			decision:   confidentContinue(),
			wantAction: ActionStop,
			wantRule:   RuleInterrupted,
		},
		{
			name:       "failure stops",
			in:         GuardrailInput{FailureSignal: true},
			decision:   confidentContinue(),
			wantAction: ActionStop,
			wantRule:   RuleFailed,
		},
		{
			name:       "turn budget exhausted",
			in:         GuardrailInput{TurnCount: 10},
			decision:   confidentContinue(),
			wantAction: ActionStop,
			wantRule:   RuleMaxTurns,
		},
		{
			name:       "token budget exhausted",
			in:         GuardrailInput{TokenUsage: 1000},
			decision:   confidentContinue(),
			wantAction: ActionStop,
			wantRule:   RuleMaxTokens,
		},
		{
			name:       "stagnation pauses",
			in:         GuardrailInput{ConsecutiveNoProgress: 3},
			decision:   confidentContinue(),
			wantAction: ActionPause,
			wantRule:   RuleNoProgress,
		},
		{
			name:       "low confidence pauses",
			in:         GuardrailInput{},
			decision:   Decision{Action: ActionContinue, Confidence: 0.54},
			wantAction: ActionPause,
			wantRule:   RuleLowConfidence,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enforced := EnforceGuardrails(tt.decision, tt.in, cfg)
			if !enforced.GuardrailTriggered {
				t.Fatalf("guardrail did not trigger: %+v", enforced)
			}
			if enforced.FinalAction != tt.wantAction {
				t.Fatalf("final action = %s, want %s", enforced.FinalAction, tt.wantAction)
			}
			if enforced.GuardrailRule != tt.wantRule {
				t.Fatalf("rule = %s, want %s", enforced.GuardrailRule, tt.wantRule)
			}
			if enforced.Decision != tt.decision {
				t.Fatalf("original decision mutated: %+v", enforced.Decision)
			}
		})
	}
}

// Multiple rules tripped at once must resolve in the fixed priority order.
func TestEnforceGuardrailsPriority(t *testing.T) {
	cfg := DefaultLoopConfig()
	cfg.MaxTurns = 5
	cfg.MaxTokens = 100
	cfg.NoProgressThreshold = 2

	in := GuardrailInput{
		TurnCount:             5,
		TokenUsage:            100,
		ConsecutiveNoProgress: 2,
		CancellationRequested: true,
		FailureSignal:         true,
	}
	enforced := EnforceGuardrails(confidentContinue(), in, cfg)
	if enforced.GuardrailRule != RuleInterrupted {
		t.Fatalf("rule = %s, want interrupted", enforced.GuardrailRule)
	}

	in.CancellationRequested = false
	if got := EnforceGuardrails(confidentContinue(), in, cfg).GuardrailRule; got != RuleFailed {
		t.Fatalf("rule = %s, want failed", got)
	}

	in.FailureSignal = false
	if got := EnforceGuardrails(confidentContinue(), in, cfg).GuardrailRule; got != RuleMaxTurns {
		t.Fatalf("rule = %s, want max_turns", got)
	}

	in.TurnCount = 0
	if got := EnforceGuardrails(confidentContinue(), in, cfg).GuardrailRule; got != RuleMaxTokens {
		t.Fatalf("rule = %s, want max_tokens", got)
	}

	in.TokenUsage = 0
	if got := EnforceGuardrails(confidentContinue(), in, cfg).GuardrailRule; got != RuleNoProgress {
		t.Fatalf("rule = %s, want no_progress", got)
	}
}

// A triggered guardrail may only restrict, never hand back continue.
func TestEnforceGuardrailsNeverUpgrade(t *testing.T) {
	cfg := DefaultLoopConfig()
	cfg.MaxTurns = 1
	inputs := []GuardrailInput{
		{CancellationRequested: true},
		{FailureSignal: true},
		{TurnCount: 1},
		{ConsecutiveNoProgress: defaultNoProgressThreshold},
	}
	decisions := []Decision{
		{Action: ActionContinue, Confidence: 0.99},
		{Action: ActionPause, Confidence: 0.99},
		{Action: ActionStop, Confidence: 0.99},
		{Action: ActionContinue, Confidence: 0.1},
	}
	for _, in := range inputs {
		for _, decision := range decisions {
			enforced := EnforceGuardrails(decision, in, cfg)
			if !enforced.GuardrailTriggered {
				t.Fatalf("input %+v decision %+v: guardrail did not trigger", in, decision)
			}
			if enforced.FinalAction == ActionContinue {
				t.Fatalf("input %+v decision %+v: guardrail produced continue", in, decision)
			}
		}
	}
}

func TestEnforceGuardrailsBoundaries(t *testing.T) {
	cfg := DefaultLoopConfig()
	cfg.MaxTurns = 10
	cfg.MaxTokens = 1000
	cfg.NoProgressThreshold = 3
	cfg.MinConfidence = 0.55

	// One below every threshold: no trigger.
	in := GuardrailInput{TurnCount: 9, TokenUsage: 999, ConsecutiveNoProgress: 2}
	decision := Decision{Action: ActionContinue, Confidence: 0.55}
	if enforced := EnforceGuardrails(decision, in, cfg); enforced.GuardrailTriggered {
		t.Fatalf("unexpected trigger at boundary-1: %+v", enforced)
	}

	// Confidence exactly at the minimum passes; just below pauses.
	decision.Confidence = 0.5499
	if got := EnforceGuardrails(decision, GuardrailInput{}, cfg).GuardrailRule; got != RuleLowConfidence {
		t.Fatalf("rule = %s, want low_confidence", got)
	}
}

func TestEnforceGuardrailsTokenRuleDisabledByDefault(t *testing.T) {
	cfg := DefaultLoopConfig()
	in := GuardrailInput{TokenUsage: 1 << 40}
	if enforced := EnforceGuardrails(confidentContinue(), in, cfg); enforced.GuardrailTriggered {
		t.Fatalf("token rule fired with no budget configured: %+v", enforced)
	}
}

func TestEnforceGuardrailsDeterministic(t *testing.T) {
	cfg := DefaultLoopConfig()
	in := GuardrailInput{ConsecutiveNoProgress: 5}
	decision := Decision{Action: ActionContinue, Confidence: 0.3}
	first := EnforceGuardrails(decision, in, cfg)
	second := EnforceGuardrails(decision, in, cfg)
	if first != second {
		t.Fatalf("enforcement not deterministic: %+v vs %+v", first, second)
	}
}
