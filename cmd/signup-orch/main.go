package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "signup-orch",
		Short: "Signup Orchestrator - batch account registration runner",
		Long: `Signup Orchestrator drives batches of account registrations through
the signup workflow with bounded concurrency, retries and pause/resume/stop
control. Task state is persisted so results survive restarts.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			fmt.Fprintln(os.Stderr, exit.msg)
			os.Exit(exit.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// exitError ends the process with a specific code
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }
