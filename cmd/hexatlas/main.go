// Command hexatlas runs the accessibility pipeline stages: anchor building,
// T_hex precompute, D_anchor shards, artifact validation, and one-off
// custom-origin queries. Each subcommand is a separate, idempotent
// invocation.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes: 0 success, 1 invalid input, 2 fatal runtime error.
const (
	exitOK      = 0
	exitInput   = 1
	exitRuntime = 2
)

// inputError marks a failure caused by bad arguments or unreadable inputs.
type inputError struct{ err error }

func (e inputError) Error() string { return e.err.Error() }
func (e inputError) Unwrap() error { return e.err }

func inputErrf(format string, args ...any) error {
	return inputError{err: fmt.Errorf(format, args...)}
}

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	root := &cobra.Command{
		Use:           "hexatlas",
		Short:         "travel-time accessibility pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newBuildAnchorsCmd(),
		newTHexCmd(),
		newDAnchorCategoryCmd(),
		newDAnchorBrandCmd(),
		newCustomCmd(),
		newValidateTHexCmd(),
		newValidateDAnchorCmd(),
	)

	if err := root.Execute(); err != nil {
		slog.Error("stage failed", "err", err)
		var in inputError
		if errors.As(err, &in) {
			os.Exit(exitInput)
		}
		os.Exit(exitRuntime)
	}
	os.Exit(exitOK)
}

// envDefault returns the env var's value or a fallback.
func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
