package main

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"autopilot/internal/app"
	pilotclient "autopilot/internal/client"
	"autopilot/internal/fullauto"
)

type clientFactory func() (commandClient, error)

type commandClient interface {
	Health(ctx context.Context) (*pilotclient.HealthResponse, error)
	ListRuns(ctx context.Context) ([]fullauto.RunSummary, error)
	GetRun(ctx context.Context, runID string) (*fullauto.RunSummary, error)
	StartRun(ctx context.Context, req fullauto.StartRunRequest) (*fullauto.RunMetadata, error)
	CancelRun(ctx context.Context, runID string) error
	ResumeRun(ctx context.Context, runID string) error
	DisableRun(ctx context.Context, runID string) error
	RunLog(ctx context.Context, runID string, lines int) ([]fullauto.DecisionLogEntry, error)
	Metrics(ctx context.Context) (*fullauto.RunMetricsSnapshot, error)
	ShutdownDaemon(ctx context.Context) error
	RunWatch() error
}

type pilotClientAdapter struct {
	client *pilotclient.Client
}

func newPilotClient() (commandClient, error) {
	client, err := pilotclient.New()
	if err != nil {
		return nil, err
	}
	return &pilotClientAdapter{client: client}, nil
}

func (c *pilotClientAdapter) Health(ctx context.Context) (*pilotclient.HealthResponse, error) {
	return c.client.Health(ctx)
}

func (c *pilotClientAdapter) ListRuns(ctx context.Context) ([]fullauto.RunSummary, error) {
	return c.client.ListRuns(ctx)
}

func (c *pilotClientAdapter) GetRun(ctx context.Context, runID string) (*fullauto.RunSummary, error) {
	return c.client.GetRun(ctx, runID)
}

func (c *pilotClientAdapter) StartRun(ctx context.Context, req fullauto.StartRunRequest) (*fullauto.RunMetadata, error) {
	return c.client.StartRun(ctx, req)
}

func (c *pilotClientAdapter) CancelRun(ctx context.Context, runID string) error {
	return c.client.CancelRun(ctx, runID)
}

func (c *pilotClientAdapter) ResumeRun(ctx context.Context, runID string) error {
	return c.client.ResumeRun(ctx, runID)
}

func (c *pilotClientAdapter) DisableRun(ctx context.Context, runID string) error {
	return c.client.DisableRun(ctx, runID)
}

func (c *pilotClientAdapter) RunLog(ctx context.Context, runID string, lines int) ([]fullauto.DecisionLogEntry, error) {
	return c.client.RunLog(ctx, runID, lines)
}

func (c *pilotClientAdapter) Metrics(ctx context.Context) (*fullauto.RunMetricsSnapshot, error) {
	return c.client.Metrics(ctx)
}

func (c *pilotClientAdapter) ShutdownDaemon(ctx context.Context) error {
	return c.client.ShutdownDaemon(ctx)
}

func (c *pilotClientAdapter) RunWatch() error {
	program := tea.NewProgram(app.NewWatchModel(c.client), tea.WithAltScreen())
	_, err := program.Run()
	return err
}
