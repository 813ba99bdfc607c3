package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"autopilot/internal/fullauto"
	"autopilot/internal/logging"
)

func (a *API) Runs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listRuns(w, r)
	case http.MethodPost:
		a.startRun(w, r)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

func (a *API) listRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := a.Service.ListRuns(r.Context())
	if err != nil {
		writeServiceError(w, unavailableError("failed to list runs", err))
		return
	}
	writeJSON(w, http.StatusOK, RunListResponse{Runs: runs})
}

func (a *API) startRun(w http.ResponseWriter, r *http.Request) {
	var req fullauto.StartRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeServiceError(w, invalidError("invalid request body", err))
		return
	}
	if strings.TrimSpace(req.Goal) == "" {
		writeServiceError(w, invalidError("goal is required", nil))
		return
	}
	meta, err := a.Service.StartRun(r.Context(), req)
	if err != nil {
		writeServiceError(w, unavailableError("failed to start run", err))
		return
	}
	a.log().Info("run started",
		logging.F("run_id", meta.RunID),
		logging.F("goal", meta.Goal),
	)
	writeJSON(w, http.StatusCreated, StartRunResponse{Run: *meta})
}

// RunByID dispatches /v1/runs/{id} and its subresources.
func (a *API) RunByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/runs/")
	runID, action, _ := strings.Cut(rest, "/")
	runID = strings.TrimSpace(runID)
	if runID == "" {
		writeServiceError(w, invalidError("run id is required", nil))
		return
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
			return
		}
		a.getRun(w, r, runID)
	case "cancel":
		a.runAction(w, r, runID, a.Service.RequestCancel)
	case "resume":
		a.runAction(w, r, runID, a.Service.Resume)
	case "disable":
		a.runAction(w, r, runID, a.Service.Disable)
	case "log":
		if r.Method != http.MethodGet {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
			return
		}
		a.runLog(w, r, runID)
	default:
		writeServiceError(w, notFoundError("unknown run resource", nil))
	}
}

func (a *API) getRun(w http.ResponseWriter, r *http.Request, runID string) {
	summary, err := a.Service.GetRun(r.Context(), runID)
	if err != nil {
		writeServiceError(w, mapRunError(err))
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) runAction(w http.ResponseWriter, r *http.Request, runID string, action func(ctx context.Context, runID string) error) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if err := action(r.Context(), runID); err != nil {
		writeServiceError(w, mapRunError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) runLog(w http.ResponseWriter, r *http.Request, runID string) {
	if a.Logs == nil {
		writeServiceError(w, unavailableError("decision log unavailable", nil))
		return
	}
	entries, err := a.Logs.ReadRunLog(r.Context(), runID)
	if err != nil {
		writeServiceError(w, mapRunError(err))
		return
	}
	if raw := r.URL.Query().Get("lines"); raw != "" {
		lines, err := strconv.Atoi(raw)
		if err != nil || lines < 0 {
			writeServiceError(w, invalidError("lines must be a non-negative integer", err))
			return
		}
		if lines < len(entries) {
			entries = entries[len(entries)-lines:]
		}
	}
	writeJSON(w, http.StatusOK, RunLogResponse{RunID: runID, Entries: entries})
}

func mapRunError(err error) error {
	switch {
	case errors.Is(err, fullauto.ErrRunNotFound):
		return notFoundError("run not found", err)
	case errors.Is(err, fullauto.ErrRunDisabled):
		return conflictError("run is disabled", err)
	case errors.Is(err, fullauto.ErrInvalidTransition):
		return conflictError(err.Error(), err)
	default:
		return unavailableError("run operation failed", err)
	}
}
