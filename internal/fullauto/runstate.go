package fullauto

import "sync"

// RunState is the mutable per-run record. The run loop owns it and mutates
// the counters only between turns; external actors may touch nothing but
// the cancellation and enabled flags, and only through the synchronized
// setters below.
type RunState struct {
	mu sync.Mutex

	turnCount             int64
	tokenUsage            int64
	consecutiveNoProgress int
	lastDecision          *Decision
	enabled               bool
	cancellationRequested bool
	failureSignal         bool
}

func NewRunState() *RunState {
	return &RunState{enabled: true}
}

// Snapshot returns the guardrail view of the state. Taken once at the top
// of each enforcement so a mid-turn cancel cannot split a single
// evaluation across two observations.
func (s *RunState) Snapshot() GuardrailInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	return GuardrailInput{
		TurnCount:             s.turnCount,
		TokenUsage:            s.tokenUsage,
		ConsecutiveNoProgress: s.consecutiveNoProgress,
		CancellationRequested: s.cancellationRequested,
		FailureSignal:         s.failureSignal,
	}
}

func (s *RunState) TurnCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turnCount
}

func (s *RunState) TokenUsage() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokenUsage
}

func (s *RunState) ConsecutiveNoProgress() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consecutiveNoProgress
}

func (s *RunState) LastDecision() *Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastDecision == nil {
		return nil
	}
	out := *s.lastDecision
	return &out
}

func (s *RunState) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

func (s *RunState) CancellationRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancellationRequested
}

// RequestCancel flags the run for cooperative cancellation. The loop
// observes the flag at the top of the next turn; work already in flight is
// allowed to finish.
func (s *RunState) RequestCancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancellationRequested = true
}

// SetEnabled is the only other externally legal mutation. Clearing it makes
// the run terminal until an external actor re-enables it.
func (s *RunState) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = enabled
}

func (s *RunState) setFailureSignal(failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failureSignal = failed
}

func (s *RunState) beginTurn(decision Decision) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turnCount++
	d := decision
	s.lastDecision = &d
}

func (s *RunState) applyReport(report ProgressReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if report.TokensConsumed > 0 {
		s.tokenUsage += report.TokensConsumed
	}
	if report.MadeProgress {
		s.consecutiveNoProgress = 0
	} else {
		s.consecutiveNoProgress++
	}
}

// resetNoProgress clears the stagnation counter. Called on resume so an
// inspected, explicitly resumed run does not immediately re-trip the same
// pause.
func (s *RunState) resetNoProgress() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveNoProgress = 0
}

// StateView is an immutable copy of the counters for API responses.
type StateView struct {
	TurnCount             int64     `json:"turn_count"`
	TokenUsage            int64     `json:"token_usage"`
	ConsecutiveNoProgress int       `json:"consecutive_no_progress"`
	Enabled               bool      `json:"enabled"`
	CancellationRequested bool      `json:"cancellation_requested"`
	LastDecision          *Decision `json:"last_decision,omitempty"`
}

func (s *RunState) View() StateView {
	s.mu.Lock()
	defer s.mu.Unlock()
	view := StateView{
		TurnCount:             s.turnCount,
		TokenUsage:            s.tokenUsage,
		ConsecutiveNoProgress: s.consecutiveNoProgress,
		Enabled:               s.enabled,
		CancellationRequested: s.cancellationRequested,
	}
	if s.lastDecision != nil {
		d := *s.lastDecision
		view.LastDecision = &d
	}
	return view
}
