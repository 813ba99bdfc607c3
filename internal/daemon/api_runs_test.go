package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"autopilot/internal/fullauto"
)

type stubModel struct {
	mu       sync.Mutex
	payloads []string
	calls    int
}

func (m *stubModel) RequestDecision(_ context.Context, _ fullauto.RunContext) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.calls
	m.calls++
	if idx >= len(m.payloads) {
		idx = len(m.payloads) - 1
	}
	return json.RawMessage(m.payloads[idx]), nil
}

type stubAgent struct{}

func (stubAgent) Execute(_ context.Context, _ string) (fullauto.ProgressReport, error) {
	return fullauto.ProgressReport{MadeProgress: true, TokensConsumed: 10}, nil
}

type stubMetadataStore struct {
	mu   sync.Mutex
	runs map[string]fullauto.RunMetadata
}

func newStubMetadataStore() *stubMetadataStore {
	return &stubMetadataStore{runs: make(map[string]fullauto.RunMetadata)}
}

func (s *stubMetadataStore) UpsertRunMetadata(_ context.Context, meta fullauto.RunMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[meta.RunID] = meta
	return nil
}

func (s *stubMetadataStore) GetRunMetadata(_ context.Context, runID string) (*fullauto.RunMetadata, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.runs[runID]
	if !ok {
		return nil, false, nil
	}
	out := meta
	return &out, true, nil
}

func (s *stubMetadataStore) ListRunMetadata(_ context.Context) ([]*fullauto.RunMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*fullauto.RunMetadata, 0, len(s.runs))
	for _, meta := range s.runs {
		m := meta
		out = append(out, &m)
	}
	return out, nil
}

type stubLogStore struct {
	mu      sync.Mutex
	entries map[string][]fullauto.DecisionLogEntry
}

func newStubLogStore() *stubLogStore {
	return &stubLogStore{entries: make(map[string][]fullauto.DecisionLogEntry)}
}

func (s *stubLogStore) OpenRunLog(runID string) (fullauto.DecisionLog, error) {
	return &stubRunLog{store: s, runID: runID}, nil
}

func (s *stubLogStore) ReadRunLog(_ context.Context, runID string) ([]fullauto.DecisionLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, ok := s.entries[runID]
	if !ok {
		return nil, fullauto.ErrRunNotFound
	}
	return append([]fullauto.DecisionLogEntry(nil), entries...), nil
}

type stubRunLog struct {
	store *stubLogStore
	runID string
}

func (l *stubRunLog) Append(_ context.Context, entry fullauto.DecisionLogEntry) error {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	l.store.entries[l.runID] = append(l.store.entries[l.runID], entry)
	return nil
}

func newTestServer(t *testing.T, model *stubModel) (*httptest.Server, *fullauto.Service) {
	t.Helper()
	logs := newStubLogStore()
	svc := fullauto.NewService(fullauto.DefaultLoopConfig(), model, stubAgent{}, logs, newStubMetadataStore())
	api := &API{Version: "test-version", Service: svc, Logs: logs}
	mux := http.NewServeMux()
	api.RegisterRoutes(mux)
	server := httptest.NewServer(TokenAuthMiddleware("token", mux))
	t.Cleanup(server.Close)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		svc.Shutdown(ctx)
	})
	return server, svc
}

func doRequest(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer token")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

func waitForRunStatus(t *testing.T, server *httptest.Server, runID string, want fullauto.RunStatus) fullauto.RunSummary {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	var last fullauto.RunSummary
	for time.Now().Before(deadline) {
		resp := doRequest(t, http.MethodGet, server.URL+"/v1/runs/"+runID, nil)
		if resp.StatusCode == http.StatusOK {
			if err := json.NewDecoder(resp.Body).Decode(&last); err != nil {
				resp.Body.Close()
				t.Fatalf("decode summary: %v", err)
			}
			resp.Body.Close()
			if last.Status == want {
				return last
			}
		} else {
			resp.Body.Close()
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("run %s never reached %s (last %+v)", runID, want, last)
	return last
}

func TestHealthRequiresNoToken(t *testing.T) {
	server, _ := newTestServer(t, &stubModel{payloads: []string{`{"action":"stop","confidence":0.9}`}})
	resp, err := http.Get(server.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["version"] != "test-version" {
		t.Fatalf("payload = %v", payload)
	}
}

func TestRunsEndpointsRequireToken(t *testing.T) {
	server, _ := newTestServer(t, &stubModel{payloads: []string{`{"action":"stop","confidence":0.9}`}})
	resp, err := http.Get(server.URL + "/v1/runs")
	if err != nil {
		t.Fatalf("GET /v1/runs: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status without token = %d", resp.StatusCode)
	}
}

func TestStartAndGetRun(t *testing.T) {
	server, _ := newTestServer(t, &stubModel{payloads: []string{
		`{"action":"continue","confidence":0.9,"next_input":"work"}`,
		`{"action":"stop","confidence":0.95,"reason":"all done"}`,
	}})

	resp := doRequest(t, http.MethodPost, server.URL+"/v1/runs", map[string]any{"goal": "refactor the parser"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("start status = %d", resp.StatusCode)
	}
	var started StartRunResponse
	if err := json.NewDecoder(resp.Body).Decode(&started); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if started.Run.RunID == "" || started.Run.Goal != "refactor the parser" {
		t.Fatalf("started = %+v", started.Run)
	}

	summary := waitForRunStatus(t, server, started.Run.RunID, fullauto.RunStatusStopped)
	if summary.Metadata.TerminationReason != fullauto.TerminationCompletedNormally {
		t.Fatalf("termination = %q", summary.Metadata.TerminationReason)
	}

	// The decision log is replayable over the API.
	resp = doRequest(t, http.MethodGet, server.URL+"/v1/runs/"+started.Run.RunID+"/log", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("log status = %d", resp.StatusCode)
	}
	var log RunLogResponse
	if err := json.NewDecoder(resp.Body).Decode(&log); err != nil {
		t.Fatalf("decode log: %v", err)
	}
	resp.Body.Close()
	if len(log.Entries) != 2 {
		t.Fatalf("log entries = %d", len(log.Entries))
	}
	if log.Entries[0].Seq != 1 || log.Entries[1].Seq != 2 {
		t.Fatalf("log seqs = %d, %d", log.Entries[0].Seq, log.Entries[1].Seq)
	}

	// lines=N keeps only the newest entries.
	resp = doRequest(t, http.MethodGet, server.URL+"/v1/runs/"+started.Run.RunID+"/log?lines=1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("tail status = %d", resp.StatusCode)
	}
	var tail RunLogResponse
	if err := json.NewDecoder(resp.Body).Decode(&tail); err != nil {
		t.Fatalf("decode tail: %v", err)
	}
	resp.Body.Close()
	if len(tail.Entries) != 1 || tail.Entries[0].Seq != 2 {
		t.Fatalf("tail entries = %+v", tail.Entries)
	}

	resp = doRequest(t, http.MethodGet, server.URL+"/v1/runs/"+started.Run.RunID+"/log?lines=bogus", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad lines status = %d", resp.StatusCode)
	}
}

func TestStartRunRequiresGoal(t *testing.T) {
	server, _ := newTestServer(t, &stubModel{payloads: []string{`{"action":"stop","confidence":0.9}`}})
	resp := doRequest(t, http.MethodPost, server.URL+"/v1/runs", map[string]any{})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestCancelRun(t *testing.T) {
	server, _ := newTestServer(t, &stubModel{payloads: []string{
		`{"action":"continue","confidence":0.9,"next_input":"loop"}`,
	}})

	resp := doRequest(t, http.MethodPost, server.URL+"/v1/runs", map[string]any{"goal": "endless"})
	var started StartRunResponse
	if err := json.NewDecoder(resp.Body).Decode(&started); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()

	resp = doRequest(t, http.MethodPost, server.URL+"/v1/runs/"+started.Run.RunID+"/cancel", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	summary := waitForRunStatus(t, server, started.Run.RunID, fullauto.RunStatusStopped)
	if summary.Metadata.TerminationReason != fullauto.TerminationUserCancelled {
		t.Fatalf("termination = %q", summary.Metadata.TerminationReason)
	}
}

func TestResumePausedRun(t *testing.T) {
	server, _ := newTestServer(t, &stubModel{payloads: []string{
		`{"action":"continue","confidence":0.2}`,
		`{"action":"stop","confidence":0.9}`,
	}})

	resp := doRequest(t, http.MethodPost, server.URL+"/v1/runs", map[string]any{"goal": "hesitant"})
	var started StartRunResponse
	if err := json.NewDecoder(resp.Body).Decode(&started); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()

	waitForRunStatus(t, server, started.Run.RunID, fullauto.RunStatusPaused)

	resp = doRequest(t, http.MethodPost, server.URL+"/v1/runs/"+started.Run.RunID+"/resume", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resume status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	waitForRunStatus(t, server, started.Run.RunID, fullauto.RunStatusStopped)
}

func TestRunActionsOnMissingRun(t *testing.T) {
	server, _ := newTestServer(t, &stubModel{payloads: []string{`{"action":"stop","confidence":0.9}`}})
	for _, action := range []string{"cancel", "resume", "disable"} {
		resp := doRequest(t, http.MethodPost, server.URL+"/v1/runs/run-ghost/"+action, nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("%s status = %d", action, resp.StatusCode)
		}
		resp.Body.Close()
	}
	resp := doRequest(t, http.MethodGet, server.URL+"/v1/runs/run-ghost", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	server, _ := newTestServer(t, &stubModel{payloads: []string{`{"action":"stop","confidence":0.9}`}})

	resp := doRequest(t, http.MethodPost, server.URL+"/v1/runs", map[string]any{"goal": "count me"})
	var started StartRunResponse
	if err := json.NewDecoder(resp.Body).Decode(&started); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	waitForRunStatus(t, server, started.Run.RunID, fullauto.RunStatusStopped)

	resp = doRequest(t, http.MethodGet, server.URL+"/v1/metrics", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", resp.StatusCode)
	}
	var metrics fullauto.RunMetricsSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&metrics); err != nil {
		t.Fatalf("decode metrics: %v", err)
	}
	if metrics.RunsStarted != 1 || metrics.RunsStopped != 1 {
		t.Fatalf("metrics = %+v", metrics)
	}
}
