package fullauto

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"autopilot/internal/logging"
)

// RunMetadataStore persists the per-run summary record.
type RunMetadataStore interface {
	UpsertRunMetadata(ctx context.Context, meta RunMetadata) error
	GetRunMetadata(ctx context.Context, runID string) (*RunMetadata, bool, error)
	ListRunMetadata(ctx context.Context) ([]*RunMetadata, error)
}

// DecisionLogOpener hands the service a durable per-run decision log.
type DecisionLogOpener interface {
	OpenRunLog(runID string) (DecisionLog, error)
}

// DecisionLogReader reads a run's log back for inspection. The log is the
// canonical history: consumers must not need any other event to
// reconstruct a turn.
type DecisionLogReader interface {
	ReadRunLog(ctx context.Context, runID string) ([]DecisionLogEntry, error)
}

// StartRunRequest enables a new supervised run.
type StartRunRequest struct {
	Goal           string              `json:"goal"`
	ContinuePrompt string              `json:"continue_prompt,omitempty"`
	Overrides      *LoopConfigOverride `json:"overrides,omitempty"`
}

// RunSummary is the external view of one run: durable metadata plus the
// live state when the loop is still registered.
type RunSummary struct {
	Metadata RunMetadata `json:"metadata"`
	State    *StateView  `json:"state,omitempty"`
	Status   RunStatus   `json:"status"`
}

// Service owns the run registry and is the only legal mutator of run
// state on behalf of external actors.
type Service struct {
	cfg      LoopConfig
	model    DecisionRequester
	agent    AgentExecutor
	logs     DecisionLogOpener
	metadata RunMetadataStore
	registry *Registry
	logger   logging.Logger
	now      func() time.Time

	mu      sync.Mutex
	metrics RunMetricsSnapshot
	wg      sync.WaitGroup
}

type ServiceOption func(*Service)

func WithServiceLogger(logger logging.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(cfg LoopConfig, model DecisionRequester, agent AgentExecutor, logs DecisionLogOpener, metadata RunMetadataStore, opts ...ServiceOption) *Service {
	s := &Service{
		cfg:      NormalizeLoopConfig(cfg),
		model:    model,
		agent:    agent,
		logs:     logs,
		metadata: metadata,
		registry: NewRegistry(),
		logger:   logging.Nop(),
		now:      func() time.Time { return time.Now().UTC() },
		metrics:  RunMetricsSnapshot{GuardrailCauses: map[string]int{}},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// StartRun creates the run metadata record atomically, registers the run
// and begins driving turns on a dedicated goroutine.
func (s *Service) StartRun(ctx context.Context, req StartRunRequest) (*RunMetadata, error) {
	cfg := MergeLoopConfig(s.cfg, req.Overrides)
	if prompt := strings.TrimSpace(req.ContinuePrompt); prompt != "" {
		cfg.ContinuePrompt = prompt
	}

	runID := newRunID()
	log, err := s.logs.OpenRunLog(runID)
	if err != nil {
		return nil, fmt.Errorf("open decision log: %w", err)
	}

	meta := RunMetadata{
		RunID:          runID,
		Goal:           strings.TrimSpace(req.Goal),
		StartedAt:      s.now(),
		ConfigSnapshot: cfg,
		Status:         RunStatusRunning,
	}
	if err := s.metadata.UpsertRunMetadata(ctx, meta); err != nil {
		return nil, fmt.Errorf("create run metadata: %w", err)
	}

	loop := NewRunLoop(runID, meta.Goal, cfg, s.model, s.agent, log,
		WithObserver(&serviceObserver{service: s}),
		WithLogger(s.logger),
		WithClock(s.now),
	)
	s.registry.Add(loop)
	s.recordRunStarted()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// Run lifetime is governed by guardrails and admin flags, not by
		// the request context that started it.
		if err := loop.Start(context.Background()); err != nil {
			s.logger.Error("run loop exited with error",
				logging.F("run_id", runID), logging.F("error", err))
		}
	}()

	out := meta
	return &out, nil
}

// RequestCancel flags a run for cooperative cancellation. The loop
// observes the flag at the next turn boundary.
func (s *Service) RequestCancel(ctx context.Context, runID string) error {
	unlock := s.registry.Lock(runID)
	defer unlock()

	loop, ok := s.registry.Get(runID)
	if !ok {
		return ErrRunNotFound
	}
	if loop.Status() == RunStatusStopped {
		return fmt.Errorf("%w: run already stopped", ErrInvalidTransition)
	}
	loop.State().RequestCancel()
	// A paused loop has no turn boundary coming up; finalize it here so a
	// cancel on a paused run does not hang until someone resumes it.
	if loop.Status() == RunStatusPaused {
		if err := loop.transition([]RunStatus{RunStatusPaused}, RunStatusRunning); err == nil {
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				_ = loop.run(context.Background())
			}()
		}
	}
	return nil
}

// Resume re-enters a paused run. Stopped runs are terminal.
func (s *Service) Resume(ctx context.Context, runID string) error {
	unlock := s.registry.Lock(runID)
	defer unlock()

	loop, ok := s.registry.Get(runID)
	if !ok {
		return ErrRunNotFound
	}
	if !loop.State().Enabled() {
		return ErrRunDisabled
	}
	switch loop.Status() {
	case RunStatusPaused:
	case RunStatusStopped:
		return fmt.Errorf("%w: run is stopped", ErrInvalidTransition)
	default:
		return fmt.Errorf("%w: run is not paused", ErrInvalidTransition)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := loop.Resume(context.Background()); err != nil && !errors.Is(err, ErrInvalidTransition) {
			s.logger.Error("run resume exited with error",
				logging.F("run_id", runID), logging.F("error", err))
		}
	}()
	return nil
}

// Disable clears the enabled flag. The run becomes terminal until an
// external actor starts a new run; a disabled run never self-resumes.
func (s *Service) Disable(ctx context.Context, runID string) error {
	unlock := s.registry.Lock(runID)
	defer unlock()

	loop, ok := s.registry.Get(runID)
	if !ok {
		return ErrRunNotFound
	}
	loop.State().SetEnabled(false)
	if loop.Status() == RunStatusPaused {
		// Nothing will drive the loop again; record the terminal state now.
		loop.stop(ctx, TerminationUserCancelled, nil)
	}
	return nil
}

// GetRun returns the merged durable + live view of a run.
func (s *Service) GetRun(ctx context.Context, runID string) (*RunSummary, error) {
	meta, ok, err := s.metadata.GetRunMetadata(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrRunNotFound
	}
	summary := RunSummary{Metadata: *meta, Status: meta.Status}
	if loop, live := s.registry.Get(runID); live {
		view := loop.State().View()
		summary.State = &view
		summary.Status = loop.Status()
	}
	return &summary, nil
}

// ListRuns returns summaries for every known run, newest first.
func (s *Service) ListRuns(ctx context.Context) ([]RunSummary, error) {
	metas, err := s.metadata.ListRunMetadata(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]RunSummary, 0, len(metas))
	for _, meta := range metas {
		if meta == nil {
			continue
		}
		summary := RunSummary{Metadata: *meta, Status: meta.Status}
		if loop, live := s.registry.Get(meta.RunID); live {
			view := loop.State().View()
			summary.State = &view
			summary.Status = loop.Status()
		}
		out = append(out, summary)
	}
	return out, nil
}

// Metrics returns the aggregate loop outcome counters.
func (s *Service) Metrics(ctx context.Context) (RunMetricsSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.metrics
	out.CapturedAt = s.now()
	out.GuardrailCauses = make(map[string]int, len(s.metrics.GuardrailCauses))
	for cause, count := range s.metrics.GuardrailCauses {
		out.GuardrailCauses[cause] = count
	}
	return out, nil
}

// Shutdown cancels every live run cooperatively and waits for the loops
// to drain.
func (s *Service) Shutdown(ctx context.Context) {
	for _, loop := range s.registry.List() {
		if loop.Status() == RunStatusStopped {
			continue
		}
		_ = s.RequestCancel(ctx, loop.RunID())
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (s *Service) recordRunStarted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.RunsStarted++
}

func (s *Service) recordPause(rule GuardrailRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.PauseCount++
	if rule != "" {
		s.metrics.GuardrailCauses[string(rule)]++
	}
}

func (s *Service) recordStop(reason string, enforced *EnforcedDecision) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.RunsStopped++
	if reason == TerminationLogFailure || reason == string(RuleFailed) {
		s.metrics.RunsFailed++
	}
	if enforced != nil && enforced.GuardrailTriggered {
		s.metrics.GuardrailCauses[string(enforced.GuardrailRule)]++
	}
}

// serviceObserver keeps the durable metadata record in step with the
// loop's transitions. Metadata writes are best-effort for intermediate
// turns (the decision log is the source of truth) and synchronous at the
// terminal transition.
type serviceObserver struct {
	service *Service
}

func (o *serviceObserver) TurnLogged(ctx context.Context, entry DecisionLogEntry) {
	s := o.service
	meta, ok, err := s.metadata.GetRunMetadata(ctx, entry.RunID)
	if err != nil || !ok {
		return
	}
	meta.TurnCount = entry.Turn
	if entry.Enforced.GuardrailTriggered {
		meta.LastGuardrailRule = string(entry.Enforced.GuardrailRule)
	}
	if reason := strings.TrimSpace(entry.Decision.Reason); reason != "" {
		meta.LastReason = reason
	}
	if loop, live := s.registry.Get(entry.RunID); live {
		meta.TokenUsage = loop.State().TokenUsage()
	}
	_ = s.metadata.UpsertRunMetadata(ctx, *meta)
}

func (o *serviceObserver) RunPaused(ctx context.Context, runID string, enforced EnforcedDecision) {
	s := o.service
	s.recordPause(enforced.GuardrailRule)
	meta, ok, err := s.metadata.GetRunMetadata(ctx, runID)
	if err != nil || !ok {
		return
	}
	meta.Status = RunStatusPaused
	if enforced.GuardrailTriggered {
		meta.LastGuardrailRule = string(enforced.GuardrailRule)
	}
	if reason := strings.TrimSpace(enforced.Decision.Reason); reason != "" {
		meta.LastReason = reason
	}
	_ = s.metadata.UpsertRunMetadata(ctx, *meta)
}

func (o *serviceObserver) RunStopped(ctx context.Context, runID string, reason string, enforced *EnforcedDecision) {
	s := o.service
	s.recordStop(reason, enforced)
	meta, ok, err := s.metadata.GetRunMetadata(ctx, runID)
	if err != nil || !ok {
		return
	}
	now := s.now()
	meta.Status = RunStatusStopped
	meta.StoppedAt = &now
	if meta.TerminationReason == "" {
		// Set exactly once, at the transition into Stopped.
		meta.TerminationReason = reason
	}
	if enforced != nil {
		if enforced.GuardrailTriggered {
			meta.LastGuardrailRule = string(enforced.GuardrailRule)
		}
		if r := strings.TrimSpace(enforced.Decision.Reason); r != "" {
			meta.LastReason = r
		}
	}
	if loop, live := s.registry.Get(runID); live {
		meta.TurnCount = loop.State().TurnCount()
		meta.TokenUsage = loop.State().TokenUsage()
	}
	_ = s.metadata.UpsertRunMetadata(ctx, *meta)
}

func newRunID() string {
	var buf [6]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "run-" + strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return "run-" + hex.EncodeToString(buf[:])
}
