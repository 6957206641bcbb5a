// Package main is the entry point for batchctl, which previews and submits
// workload manifests from the command line.
package main

import (
	"batchkit/cmd/batchctl/commands"
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
)

// Exit codes
const (
	exitOK      = 0
	exitError   = 1
	exitPartial = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cli := commands.New()
	cli.SetArgs(args)

	if err := cli.Execute(ctx); err != nil {
		_, _ = os.Stderr.WriteString("Error: " + err.Error() + "\n")
		if errors.Is(err, commands.ErrPartialSubmission) {
			return exitPartial
		}
		return exitError
	}
	return exitOK
}
