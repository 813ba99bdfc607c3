package daemon

import (
	"context"

	"autopilot/internal/fullauto"
	"autopilot/internal/logging"
)

type API struct {
	Version  string
	Service  *fullauto.Service
	Logs     fullauto.DecisionLogReader
	Shutdown func(context.Context) error
	Logger   logging.Logger
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

func (a *API) log() logging.Logger {
	if a.Logger == nil {
		return logging.Nop()
	}
	return a.Logger
}
