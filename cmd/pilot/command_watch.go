package main

import (
	"flag"
	"io"
)

type WatchCommand struct {
	stderr    io.Writer
	newClient clientFactory
}

func NewWatchCommand(stderr io.Writer, newClient clientFactory) *WatchCommand {
	return &WatchCommand{
		stderr:    stderr,
		newClient: newClient,
	}
}

func (c *WatchCommand) Run(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := c.newClient()
	if err != nil {
		return err
	}
	return client.RunWatch()
}
