package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"io"
)

type LogCommand struct {
	stdout    io.Writer
	stderr    io.Writer
	newClient clientFactory
}

func NewLogCommand(stdout, stderr io.Writer, newClient clientFactory) *LogCommand {
	return &LogCommand{
		stdout:    stdout,
		stderr:    stderr,
		newClient: newClient,
	}
}

func (c *LogCommand) Run(args []string) error {
	fs := flag.NewFlagSet("log", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	lines := fs.Int("lines", 0, "number of newest entries to fetch (0 = all)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return errors.New("log requires a run id")
	}
	runID := fs.Arg(0)

	ctx := context.Background()
	client, err := c.newClient()
	if err != nil {
		return err
	}
	entries, err := client.RunLog(ctx, runID, *lines)
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(c.stdout)
	for _, entry := range entries {
		if err := encoder.Encode(entry); err != nil {
			return err
		}
	}
	return nil
}
