package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"autopilot/internal/app"
)

type ReportCommand struct {
	stdout    io.Writer
	stderr    io.Writer
	newClient clientFactory
}

func NewReportCommand(stdout, stderr io.Writer, newClient clientFactory) *ReportCommand {
	return &ReportCommand{
		stdout:    stdout,
		stderr:    stderr,
		newClient: newClient,
	}
}

func (c *ReportCommand) Run(args []string) error {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	width := fs.Int("width", 100, "render width")
	raw := fs.Bool("raw", false, "print raw markdown without terminal rendering")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return errors.New("report requires a run id")
	}
	runID := fs.Arg(0)

	ctx := context.Background()
	client, err := c.newClient()
	if err != nil {
		return err
	}
	summary, err := client.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	entries, err := client.RunLog(ctx, runID, 0)
	if err != nil {
		return err
	}

	markdown := app.BuildRunReport(*summary, entries)
	if *raw {
		fmt.Fprint(c.stdout, markdown)
		return nil
	}
	fmt.Fprintln(c.stdout, app.RenderRunReport(markdown, *width))
	return nil
}
