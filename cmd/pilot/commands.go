package main

import (
	"io"
	"os"
)

type commandRunner interface {
	Run(args []string) error
}

type commandWiring struct {
	stdout     io.Writer
	stderr     io.Writer
	newClient  clientFactory
	runDaemon  func(background bool) error
	killDaemon func() error
	version    string
}

func defaultCommandWiring(stdout, stderr io.Writer) commandWiring {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return commandWiring{
		stdout:    stdout,
		stderr:    stderr,
		newClient: newPilotClient,
		runDaemon: runDaemonProcess,
		killDaemon: func() error {
			return killDaemonWithFactory(newPilotClient)
		},
		version: buildVersion(),
	}
}

func buildCommands(wiring commandWiring) map[string]commandRunner {
	return map[string]commandRunner{
		"daemon":  NewDaemonCommand(wiring.stderr, wiring.runDaemon, wiring.killDaemon),
		"config":  NewConfigCommand(wiring.stdout, wiring.stderr),
		"runs":    NewRunsCommand(wiring.stdout, wiring.stderr, wiring.newClient),
		"start":   NewStartCommand(wiring.stdout, wiring.stderr, wiring.newClient),
		"cancel":  NewCancelCommand(wiring.stdout, wiring.stderr, wiring.newClient),
		"resume":  NewResumeCommand(wiring.stdout, wiring.stderr, wiring.newClient),
		"disable": NewDisableCommand(wiring.stdout, wiring.stderr, wiring.newClient),
		"log":     NewLogCommand(wiring.stdout, wiring.stderr, wiring.newClient),
		"report":  NewReportCommand(wiring.stdout, wiring.stderr, wiring.newClient),
		"watch":   NewWatchCommand(wiring.stderr, wiring.newClient),
		"status":  NewStatusCommand(wiring.stdout, wiring.stderr, wiring.newClient),
		"metrics": NewMetricsCommand(wiring.stdout, wiring.stderr, wiring.newClient),
	}
}
