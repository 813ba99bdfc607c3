package main

import (
	"fmt"
	"os"
)

const usageText = `pilot drives autonomous runs with enforced guardrails.

Usage:
  pilot <command> [flags]

Commands:
  daemon    run background daemon
  config    print configuration (effective or defaults)
  runs      list runs
  start     start a run
  cancel    request cooperative cancellation of a run
  resume    resume a paused run
  disable   disable a run (terminal)
  log       show a run's decision log
  report    render a markdown run report
  watch     live run view (TUI)
  status    show daemon health
  metrics   show run metrics
  help      show help

Flags:
  -h, --help   show help

Daemon flags:
  --background    run in background (logs to file)
  --force         stop any running daemon before starting
  --kill          stop any running daemon and exit

Examples:
  pilot start --max-turns 50 "upgrade the dependency tree"
  pilot runs
  pilot log run-a1b2c3 --lines 20
  pilot report run-a1b2c3
  pilot watch
`

func printUsage() {
	fmt.Fprint(os.Stderr, usageText)
}

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		return
	}

	wiring := defaultCommandWiring(os.Stdout, os.Stderr)
	commands := buildCommands(wiring)

	switch args[0] {
	case "-h", "--help", "help":
		printUsage()
		return
	}

	runner, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		os.Exit(2)
	}
	exitOnErr(args[0], runner.Run(args[1:]), wiring.stderr)
}
