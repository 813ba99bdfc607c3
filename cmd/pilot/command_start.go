package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"autopilot/internal/fullauto"
)

type StartCommand struct {
	stdout    io.Writer
	stderr    io.Writer
	newClient clientFactory
}

func NewStartCommand(stdout, stderr io.Writer, newClient clientFactory) *StartCommand {
	return &StartCommand{
		stdout:    stdout,
		stderr:    stderr,
		newClient: newClient,
	}
}

func (c *StartCommand) Run(args []string) error {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	continuePrompt := fs.String("continue-prompt", "", "prompt used when the model omits next input")
	minConfidence := fs.Float64("min-confidence", 0, "confidence floor before the loop pauses")
	maxTurns := fs.Int64("max-turns", 0, "turn budget before the loop stops")
	maxTokens := fs.Int64("max-tokens", 0, "token budget before the loop stops (0 = unlimited)")
	noProgress := fs.Int("no-progress", 0, "consecutive no-progress turns before the loop pauses")
	if err := fs.Parse(args); err != nil {
		return err
	}
	goal := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if goal == "" {
		return errors.New("start requires a goal")
	}

	// Only flags the user actually set become overrides; everything
	// else inherits the daemon's configuration.
	overrides := &fullauto.LoopConfigOverride{}
	overridden := false
	fs.Visit(func(f *flag.Flag) {
		overridden = true
		switch f.Name {
		case "continue-prompt":
			overrides.ContinuePrompt = continuePrompt
		case "min-confidence":
			overrides.MinConfidence = minConfidence
		case "max-turns":
			overrides.MaxTurns = maxTurns
		case "max-tokens":
			overrides.MaxTokens = maxTokens
		case "no-progress":
			overrides.NoProgressThreshold = noProgress
		}
	})
	req := fullauto.StartRunRequest{Goal: goal}
	if overridden {
		req.Overrides = overrides
	}

	ctx := context.Background()
	client, err := c.newClient()
	if err != nil {
		return err
	}
	meta, err := client.StartRun(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, meta.RunID)
	return nil
}
