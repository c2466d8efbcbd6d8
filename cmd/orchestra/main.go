package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"orchestra/internal/config"
	"orchestra/internal/ledger"
	"orchestra/internal/orchestrator"
	"orchestra/internal/runner/tmuxsession"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, in io.Reader, out, errOut io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := newApp(in, out, errOut)
	defer app.close()

	root := app.rootCommand()
	root.SetArgs(args)
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(errOut, "Error: %s\n", singleLine(err.Error()))
		return exitCodeFor(err)
	}
	return exitCodeSuccess
}

// notFoundError marks lookups of runs or sessions that do not exist.
type notFoundError struct {
	message string
}

func (e *notFoundError) Error() string {
	return e.message
}

// configError marks failures to load the agent configuration.
type configError struct {
	err error
}

func (e *configError) Error() string {
	return e.err.Error()
}

func (e *configError) Unwrap() error {
	return e.err
}

func exitCodeFor(err error) int {
	var driverErr *tmuxsession.DriverError
	var notFound *notFoundError
	var cfgErr *configError
	switch {
	case err == nil:
		return exitCodeSuccess
	case errors.Is(err, orchestrator.ErrValidation):
		return exitCodeValidation
	case errors.Is(err, orchestrator.ErrConflict):
		return exitCodeConflict
	case errors.Is(err, orchestrator.ErrUnknownAgent):
		return exitCodeUnknownAgent
	case errors.Is(err, orchestrator.ErrSummarize):
		return exitCodeSummarize
	case errors.As(err, &notFound), errors.Is(err, ledger.ErrRunNotFound):
		return exitCodeNotFound
	case errors.As(err, &cfgErr), errors.Is(err, config.ErrConfigNotFound):
		return exitCodeConfig
	case errors.As(err, &driverErr):
		return exitCodeDriver
	default:
		return exitCodeUsage
	}
}

func singleLine(message string) string {
	return strings.Join(strings.Fields(message), " ")
}
