package client

import "autopilot/internal/fullauto"

type HealthResponse struct {
	OK      bool   `json:"ok"`
	Version string `json:"version"`
	PID     int    `json:"pid"`
}

type StartRunResponse struct {
	Run fullauto.RunMetadata `json:"run"`
}

type RunListResponse struct {
	Runs []fullauto.RunSummary `json:"runs"`
}

type RunLogResponse struct {
	RunID   string                      `json:"run_id"`
	Entries []fullauto.DecisionLogEntry `json:"entries"`
}
