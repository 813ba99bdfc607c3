// Package providers adapts external executables into the loop's model
// and agent collaborator interfaces. Each consultation spawns the
// configured command, writes a JSON request to stdin and reads a JSON
// response from stdout.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"autopilot/internal/fullauto"
	"autopilot/internal/logging"
)

// maxResponseSize bounds a collaborator response so a runaway command
// cannot exhaust memory.
const maxResponseSize = 4 << 20

// CommandDecisionRequester shells out to a decision command. The command
// receives the run context on stdin and must print a single JSON object;
// whatever it prints goes through the fail-safe parser unvalidated.
type CommandDecisionRequester struct {
	command string
	args    []string
	logger  logging.Logger
}

func NewCommandDecisionRequester(command string, args []string, logger logging.Logger) (*CommandDecisionRequester, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, errors.New("decision command is required")
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &CommandDecisionRequester{
		command: command,
		args:    append([]string(nil), args...),
		logger:  logger,
	}, nil
}

func (r *CommandDecisionRequester) RequestDecision(ctx context.Context, rc fullauto.RunContext) (json.RawMessage, error) {
	input, err := json.Marshal(rc)
	if err != nil {
		return nil, fmt.Errorf("encode run context: %w", err)
	}
	output, err := runCommand(ctx, r.command, r.args, input)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("decision command responded",
		logging.F("run_id", rc.RunID),
		logging.F("bytes", len(output)),
	)
	return json.RawMessage(output), nil
}

// CommandAgentExecutor shells out to the working agent. The command
// receives the next input on stdin and reports progress as JSON on
// stdout.
type CommandAgentExecutor struct {
	command string
	args    []string
	logger  logging.Logger
}

type agentRequest struct {
	Input string `json:"input"`
}

func NewCommandAgentExecutor(command string, args []string, logger logging.Logger) (*CommandAgentExecutor, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, errors.New("agent command is required")
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &CommandAgentExecutor{
		command: command,
		args:    append([]string(nil), args...),
		logger:  logger,
	}, nil
}

func (e *CommandAgentExecutor) Execute(ctx context.Context, nextInput string) (fullauto.ProgressReport, error) {
	input, err := json.Marshal(agentRequest{Input: nextInput})
	if err != nil {
		return fullauto.ProgressReport{}, fmt.Errorf("encode agent request: %w", err)
	}
	output, err := runCommand(ctx, e.command, e.args, input)
	if err != nil {
		return fullauto.ProgressReport{}, err
	}
	var report fullauto.ProgressReport
	if err := json.Unmarshal(output, &report); err != nil {
		return fullauto.ProgressReport{}, fmt.Errorf("decode progress report: %w", err)
	}
	e.logger.Debug("agent command finished",
		logging.F("made_progress", report.MadeProgress),
		logging.F("tokens_consumed", report.TokensConsumed),
	)
	return report, nil
}

func runCommand(ctx context.Context, command string, args []string, input []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Stdin = bytes.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitedWriter{buf: &stdout, limit: maxResponseSize}
	cmd.Stderr = &limitedWriter{buf: &stderr, limit: 64 << 10}

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return nil, fmt.Errorf("%s: %w: %s", command, err, detail)
		}
		return nil, fmt.Errorf("%s: %w", command, err)
	}
	output := bytes.TrimSpace(stdout.Bytes())
	if len(output) == 0 {
		return nil, fmt.Errorf("%s: empty response", command)
	}
	return output, nil
}

// limitedWriter keeps the first limit bytes and drops the rest.
type limitedWriter struct {
	buf   *bytes.Buffer
	limit int
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	remaining := w.limit - w.buf.Len()
	if remaining > 0 {
		if len(p) > remaining {
			w.buf.Write(p[:remaining])
		} else {
			w.buf.Write(p)
		}
	}
	return len(p), nil
}
