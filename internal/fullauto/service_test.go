package fullauto

import (
	"context"
	"sync"
	"testing"
	"time"
)

type memoryMetadataStore struct {
	mu   sync.Mutex
	runs map[string]RunMetadata
}

func newMemoryMetadataStore() *memoryMetadataStore {
	return &memoryMetadataStore{runs: make(map[string]RunMetadata)}
}

func (s *memoryMetadataStore) UpsertRunMetadata(_ context.Context, meta RunMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[meta.RunID] = meta
	return nil
}

func (s *memoryMetadataStore) GetRunMetadata(_ context.Context, runID string) (*RunMetadata, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.runs[runID]
	if !ok {
		return nil, false, nil
	}
	out := meta
	return &out, true, nil
}

func (s *memoryMetadataStore) ListRunMetadata(_ context.Context) ([]*RunMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*RunMetadata, 0, len(s.runs))
	for _, meta := range s.runs {
		m := meta
		out = append(out, &m)
	}
	return out, nil
}

type memoryLogOpener struct {
	mu   sync.Mutex
	logs map[string]*memoryLog
}

func newMemoryLogOpener() *memoryLogOpener {
	return &memoryLogOpener{logs: make(map[string]*memoryLog)}
}

func (o *memoryLogOpener) OpenRunLog(runID string) (DecisionLog, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.logs[runID] == nil {
		o.logs[runID] = &memoryLog{}
	}
	return o.logs[runID], nil
}

func waitForStatus(t *testing.T, svc *Service, runID string, want RunStatus) *RunSummary {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		summary, err := svc.GetRun(context.Background(), runID)
		if err == nil && summary.Status == want {
			return summary
		}
		time.Sleep(5 * time.Millisecond)
	}
	summary, err := svc.GetRun(context.Background(), runID)
	t.Fatalf("run %s never reached %s (last: %+v, err: %v)", runID, want, summary, err)
	return nil
}

func TestServiceStartRunToCompletion(t *testing.T) {
	model := &scriptedModel{payloads: []string{
		`{"action":"continue","confidence":0.9,"next_input":"step"}`,
		`{"action":"stop","confidence":0.95,"reason":"done"}`,
	}}
	store := newMemoryMetadataStore()
	svc := NewService(DefaultLoopConfig(), model, &scriptedAgent{}, newMemoryLogOpener(), store)

	meta, err := svc.StartRun(context.Background(), StartRunRequest{Goal: "ship the feature"})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if meta.RunID == "" || meta.Status != RunStatusRunning {
		t.Fatalf("initial metadata = %+v", meta)
	}
	if meta.ConfigSnapshot != DefaultLoopConfig() {
		t.Fatalf("config snapshot = %+v", meta.ConfigSnapshot)
	}

	summary := waitForStatus(t, svc, meta.RunID, RunStatusStopped)
	if summary.Metadata.TerminationReason != TerminationCompletedNormally {
		t.Fatalf("termination reason = %q", summary.Metadata.TerminationReason)
	}
	if summary.Metadata.StoppedAt == nil {
		t.Fatalf("stopped_at not set: %+v", summary.Metadata)
	}
	if summary.Metadata.TurnCount != 2 {
		t.Fatalf("turn count = %d, want 2", summary.Metadata.TurnCount)
	}

	metrics, err := svc.Metrics(context.Background())
	if err != nil {
		t.Fatalf("Metrics: %v", err)
	}
	if metrics.RunsStarted != 1 || metrics.RunsStopped != 1 || metrics.RunsFailed != 0 {
		t.Fatalf("metrics = %+v", metrics)
	}
}

func TestServiceStartRunAppliesOverrides(t *testing.T) {
	model := &scriptedModel{payloads: []string{`{"action":"stop","confidence":0.9}`}}
	svc := NewService(DefaultLoopConfig(), model, &scriptedAgent{}, newMemoryLogOpener(), newMemoryMetadataStore())

	maxTurns := int64(7)
	meta, err := svc.StartRun(context.Background(), StartRunRequest{
		Goal:      "bounded run",
		Overrides: &LoopConfigOverride{MaxTurns: &maxTurns},
	})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if meta.ConfigSnapshot.MaxTurns != 7 {
		t.Fatalf("snapshot max turns = %d", meta.ConfigSnapshot.MaxTurns)
	}
	waitForStatus(t, svc, meta.RunID, RunStatusStopped)
}

func TestServiceCancelRunningRun(t *testing.T) {
	// The model always asks to continue; only the cancel ends it.
	model := &scriptedModel{payloads: []string{
		`{"action":"continue","confidence":0.9,"next_input":"go"}`,
	}}
	svc := NewService(DefaultLoopConfig(), model, &scriptedAgent{}, newMemoryLogOpener(), newMemoryMetadataStore())

	meta, err := svc.StartRun(context.Background(), StartRunRequest{Goal: "endless"})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if err := svc.RequestCancel(context.Background(), meta.RunID); err != nil {
		t.Fatalf("RequestCancel: %v", err)
	}
	summary := waitForStatus(t, svc, meta.RunID, RunStatusStopped)
	if summary.Metadata.TerminationReason != TerminationUserCancelled {
		t.Fatalf("termination reason = %q", summary.Metadata.TerminationReason)
	}
}

func TestServicePauseResumeCycle(t *testing.T) {
	model := &scriptedModel{payloads: []string{
		`{"action":"continue","confidence":0.1,"reason":"not sure"}`,
		`{"action":"stop","confidence":0.9}`,
	}}
	svc := NewService(DefaultLoopConfig(), model, &scriptedAgent{}, newMemoryLogOpener(), newMemoryMetadataStore())

	meta, err := svc.StartRun(context.Background(), StartRunRequest{Goal: "hesitant"})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	summary := waitForStatus(t, svc, meta.RunID, RunStatusPaused)
	if summary.Metadata.LastGuardrailRule != string(RuleLowConfidence) {
		t.Fatalf("last guardrail = %q", summary.Metadata.LastGuardrailRule)
	}

	if err := svc.Resume(context.Background(), meta.RunID); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	waitForStatus(t, svc, meta.RunID, RunStatusStopped)

	metrics, _ := svc.Metrics(context.Background())
	if metrics.PauseCount != 1 {
		t.Fatalf("pause count = %d", metrics.PauseCount)
	}
	if metrics.GuardrailCauses[string(RuleLowConfidence)] != 1 {
		t.Fatalf("guardrail causes = %+v", metrics.GuardrailCauses)
	}
}

func TestServiceResumeErrors(t *testing.T) {
	model := &scriptedModel{payloads: []string{`{"action":"stop","confidence":0.9}`}}
	svc := NewService(DefaultLoopConfig(), model, &scriptedAgent{}, newMemoryLogOpener(), newMemoryMetadataStore())

	if err := svc.Resume(context.Background(), "missing"); err != ErrRunNotFound {
		t.Fatalf("Resume missing = %v", err)
	}

	meta, err := svc.StartRun(context.Background(), StartRunRequest{Goal: "short"})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	waitForStatus(t, svc, meta.RunID, RunStatusStopped)
	if err := svc.Resume(context.Background(), meta.RunID); err == nil {
		t.Fatalf("Resume on stopped run succeeded")
	}
}

func TestServiceDisablePausedRun(t *testing.T) {
	model := &scriptedModel{payloads: []string{
		`{"action":"pause","confidence":0.9,"reason":"awaiting review"}`,
	}}
	svc := NewService(DefaultLoopConfig(), model, &scriptedAgent{}, newMemoryLogOpener(), newMemoryMetadataStore())

	meta, err := svc.StartRun(context.Background(), StartRunRequest{Goal: "reviewable"})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	waitForStatus(t, svc, meta.RunID, RunStatusPaused)

	if err := svc.Disable(context.Background(), meta.RunID); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	waitForStatus(t, svc, meta.RunID, RunStatusStopped)

	if err := svc.Resume(context.Background(), meta.RunID); err == nil {
		t.Fatalf("Resume on disabled run succeeded")
	}
}

func TestServiceListRuns(t *testing.T) {
	model := &scriptedModel{payloads: []string{`{"action":"stop","confidence":0.9}`}}
	svc := NewService(DefaultLoopConfig(), model, &scriptedAgent{}, newMemoryLogOpener(), newMemoryMetadataStore())

	first, err := svc.StartRun(context.Background(), StartRunRequest{Goal: "one"})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	second, err := svc.StartRun(context.Background(), StartRunRequest{Goal: "two"})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	waitForStatus(t, svc, first.RunID, RunStatusStopped)
	waitForStatus(t, svc, second.RunID, RunStatusStopped)

	runs, err := svc.ListRuns(context.Background())
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("listed %d runs, want 2", len(runs))
	}
}

func TestServiceShutdownDrainsRuns(t *testing.T) {
	model := &scriptedModel{payloads: []string{
		`{"action":"continue","confidence":0.9,"next_input":"go"}`,
	}}
	svc := NewService(DefaultLoopConfig(), model, &scriptedAgent{}, newMemoryLogOpener(), newMemoryMetadataStore())

	meta, err := svc.StartRun(context.Background(), StartRunRequest{Goal: "drain me"})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	svc.Shutdown(ctx)

	summary, err := svc.GetRun(context.Background(), meta.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if summary.Status != RunStatusStopped {
		t.Fatalf("status after shutdown = %s", summary.Status)
	}
}
