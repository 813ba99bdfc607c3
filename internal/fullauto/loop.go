package fullauto

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"autopilot/internal/logging"
)

var (
	ErrRunNotFound       = errors.New("run not found")
	ErrRunDisabled       = errors.New("run is disabled")
	ErrInvalidTransition = errors.New("invalid run transition")
	ErrLogAppend         = errors.New("decision log append failed")
)

// LoopObserver receives lifecycle notifications from a run loop. All
// callbacks are invoked from the loop goroutine, after the decision has
// been durably logged.
type LoopObserver interface {
	TurnLogged(ctx context.Context, entry DecisionLogEntry)
	RunPaused(ctx context.Context, runID string, enforced EnforcedDecision)
	RunStopped(ctx context.Context, runID string, reason string, enforced *EnforcedDecision)
}

type nopLoopObserver struct{}

func (nopLoopObserver) TurnLogged(context.Context, DecisionLogEntry)                  {}
func (nopLoopObserver) RunPaused(context.Context, string, EnforcedDecision)           {}
func (nopLoopObserver) RunStopped(context.Context, string, string, *EnforcedDecision) {}

// RunLoop drives one supervised run. It is single-threaded and
// cooperative: at most one decision is produced or enforced at a time, and
// the only suspension points are the model call and, on continue, the
// agent call.
type RunLoop struct {
	runID    string
	goal     string
	cfg      LoopConfig
	state    *RunState
	model    DecisionRequester
	agent    AgentExecutor
	log      DecisionLog
	observer LoopObserver
	logger   logging.Logger
	now      func() time.Time

	mu     sync.Mutex
	status RunStatus
	seq    uint64
}

type LoopOption func(*RunLoop)

func WithObserver(observer LoopObserver) LoopOption {
	return func(l *RunLoop) {
		if observer != nil {
			l.observer = observer
		}
	}
}

func WithLogger(logger logging.Logger) LoopOption {
	return func(l *RunLoop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func WithClock(now func() time.Time) LoopOption {
	return func(l *RunLoop) {
		if now != nil {
			l.now = now
		}
	}
}

func NewRunLoop(runID, goal string, cfg LoopConfig, model DecisionRequester, agent AgentExecutor, log DecisionLog, opts ...LoopOption) *RunLoop {
	if log == nil {
		log = NopDecisionLog{}
	}
	l := &RunLoop{
		runID:    strings.TrimSpace(runID),
		goal:     goal,
		cfg:      NormalizeLoopConfig(cfg),
		state:    NewRunState(),
		model:    model,
		agent:    agent,
		log:      log,
		observer: nopLoopObserver{},
		logger:   logging.Nop(),
		now:      func() time.Time { return time.Now().UTC() },
		status:   RunStatusIdle,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	l.logger = l.logger.With(logging.F("run_id", l.runID))
	return l
}

func (l *RunLoop) RunID() string      { return l.runID }
func (l *RunLoop) Goal() string       { return l.goal }
func (l *RunLoop) Config() LoopConfig { return l.cfg }
func (l *RunLoop) State() *RunState   { return l.state }

func (l *RunLoop) Status() RunStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

func (l *RunLoop) setStatus(status RunStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.status = status
}

// transition moves the loop into Running from a legal predecessor state.
func (l *RunLoop) transition(from []RunStatus, to RunStatus) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, status := range from {
		if l.status == status {
			l.status = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, l.status, to)
}

// Start begins driving turns. It blocks until the run pauses or stops, so
// callers normally run it on its own goroutine. Restarting a paused loop
// goes through Resume instead.
func (l *RunLoop) Start(ctx context.Context) error {
	if err := l.transition([]RunStatus{RunStatusIdle}, RunStatusRunning); err != nil {
		return err
	}
	return l.run(ctx)
}

// Resume re-enters the loop from Paused. Only an explicit external resume
// may do this; the loop never resumes itself.
func (l *RunLoop) Resume(ctx context.Context) error {
	if err := l.transition([]RunStatus{RunStatusPaused}, RunStatusRunning); err != nil {
		return err
	}
	l.state.resetNoProgress()
	return l.run(ctx)
}

func (l *RunLoop) run(ctx context.Context) error {
	for {
		if l.Status() != RunStatusRunning {
			return nil
		}
		if !l.state.Enabled() {
			l.stop(ctx, TerminationUserCancelled, nil)
			return nil
		}

		halted, err := l.turn(ctx)
		if err != nil {
			return err
		}
		if halted {
			return nil
		}
	}
}

// turn executes one iteration: obtain a decision, parse, enforce, log
// write-through, update state, branch. Returns halted=true when the run
// left the Running state.
func (l *RunLoop) turn(ctx context.Context) (halted bool, err error) {
	snapshot := l.state.Snapshot()

	var (
		decision Decision
		diags    ParseDiagnostics
	)
	switch {
	case snapshot.CancellationRequested:
		// No model round-trip: the interrupted guardrail wins regardless
		// of what the model would have said.
		decision = Decision{Action: ActionStop, Reason: "cancellation requested"}
	case snapshot.FailureSignal:
		decision = Decision{Action: ActionStop, Reason: "external collaborator failed"}
	default:
		raw, reqErr := l.model.RequestDecision(ctx, l.runContext())
		if reqErr != nil {
			l.logger.Warn("decision request failed", logging.F("error", reqErr))
			l.state.setFailureSignal(true)
			return false, nil
		}
		decision, diags = ParseDecision(raw)
	}

	enforced := EnforceGuardrails(decision, snapshot, l.cfg)

	entry := DecisionLogEntry{
		RunID:       l.runID,
		Seq:         l.nextSeq(),
		Turn:        snapshot.TurnCount + 1,
		Timestamp:   l.now(),
		RawPayload:  diags.RawPayload,
		Decision:    decision,
		Enforced:    enforced,
		Diagnostics: diags,
	}
	if appendErr := l.log.Append(ctx, entry); appendErr != nil {
		// An unlogged decision breaks the durability contract; halt in an
		// error state instead of continuing silently.
		l.logger.Error("decision log append failed", logging.F("error", appendErr))
		l.stop(ctx, TerminationLogFailure, &enforced)
		return true, fmt.Errorf("%w: %v", ErrLogAppend, appendErr)
	}
	l.observer.TurnLogged(ctx, entry)
	l.state.beginTurn(decision)

	l.logger.Debug("decision enforced",
		logging.F("turn", entry.Turn),
		logging.F("action", string(decision.Action)),
		logging.F("final_action", string(enforced.FinalAction)),
		logging.F("guardrail", string(enforced.GuardrailRule)),
		logging.F("confidence", decision.Confidence),
	)

	switch enforced.FinalAction {
	case ActionContinue:
		input := strings.TrimSpace(decision.NextInput)
		if input == "" {
			input = l.cfg.ContinuePrompt
		}
		report, execErr := l.agent.Execute(ctx, input)
		if execErr != nil {
			l.logger.Warn("agent execution failed", logging.F("error", execErr))
			l.state.setFailureSignal(true)
			return false, nil
		}
		l.state.applyReport(report)
		return false, nil
	case ActionPause:
		l.setStatus(RunStatusPaused)
		l.observer.RunPaused(ctx, l.runID, enforced)
		return true, nil
	default:
		l.stop(ctx, terminationReason(enforced), &enforced)
		return true, nil
	}
}

func (l *RunLoop) stop(ctx context.Context, reason string, enforced *EnforcedDecision) {
	l.setStatus(RunStatusStopped)
	l.state.SetEnabled(false)
	l.observer.RunStopped(ctx, l.runID, reason, enforced)
	l.logger.Info("run stopped", logging.F("reason", reason))
}

func (l *RunLoop) nextSeq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	return l.seq
}

func (l *RunLoop) runContext() RunContext {
	view := l.state.View()
	return RunContext{
		RunID:             l.runID,
		Goal:              l.goal,
		TurnCount:         view.TurnCount,
		TokenUsage:        view.TokenUsage,
		NoProgressCount:   view.ConsecutiveNoProgress,
		LastDecision:      view.LastDecision,
		LastAgentProgress: view.ConsecutiveNoProgress == 0 && view.TurnCount > 0,
	}
}

// terminationReason maps an enforced stop onto the run metadata reason. A
// cooperative cancel is recorded as user_cancelled rather than the raw
// rule tag; a stop the model chose itself is a normal completion.
func terminationReason(enforced EnforcedDecision) string {
	if !enforced.GuardrailTriggered {
		return TerminationCompletedNormally
	}
	if enforced.GuardrailRule == RuleInterrupted {
		return TerminationUserCancelled
	}
	return string(enforced.GuardrailRule)
}
