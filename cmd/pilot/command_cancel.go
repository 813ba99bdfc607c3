package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
)

// runActionCommand covers cancel, resume, and disable: one run id
// argument, one client call.
type runActionCommand struct {
	name      string
	stdout    io.Writer
	stderr    io.Writer
	newClient clientFactory
	action    func(commandClient, context.Context, string) error
}

func NewCancelCommand(stdout, stderr io.Writer, newClient clientFactory) *runActionCommand {
	return &runActionCommand{
		name:      "cancel",
		stdout:    stdout,
		stderr:    stderr,
		newClient: newClient,
		action: func(client commandClient, ctx context.Context, runID string) error {
			return client.CancelRun(ctx, runID)
		},
	}
}

func NewResumeCommand(stdout, stderr io.Writer, newClient clientFactory) *runActionCommand {
	return &runActionCommand{
		name:      "resume",
		stdout:    stdout,
		stderr:    stderr,
		newClient: newClient,
		action: func(client commandClient, ctx context.Context, runID string) error {
			return client.ResumeRun(ctx, runID)
		},
	}
}

func NewDisableCommand(stdout, stderr io.Writer, newClient clientFactory) *runActionCommand {
	return &runActionCommand{
		name:      "disable",
		stdout:    stdout,
		stderr:    stderr,
		newClient: newClient,
		action: func(client commandClient, ctx context.Context, runID string) error {
			return client.DisableRun(ctx, runID)
		},
	}
}

func (c *runActionCommand) Run(args []string) error {
	fs := flag.NewFlagSet(c.name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return errors.New(c.name + " requires a run id")
	}
	runID := fs.Arg(0)

	ctx := context.Background()
	client, err := c.newClient()
	if err != nil {
		return err
	}
	if err := c.action(client, ctx, runID); err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, "ok")
	return nil
}
