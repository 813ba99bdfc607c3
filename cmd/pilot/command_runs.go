package main

import (
	"context"
	"flag"
	"io"
)

type RunsCommand struct {
	stdout    io.Writer
	stderr    io.Writer
	newClient clientFactory
}

func NewRunsCommand(stdout, stderr io.Writer, newClient clientFactory) *RunsCommand {
	return &RunsCommand{
		stdout:    stdout,
		stderr:    stderr,
		newClient: newClient,
	}
}

func (c *RunsCommand) Run(args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	client, err := c.newClient()
	if err != nil {
		return err
	}
	runs, err := client.ListRuns(ctx)
	if err != nil {
		return err
	}

	printRuns(c.stdout, runs)
	return nil
}
