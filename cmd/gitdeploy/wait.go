package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gitdeploy/internal/readiness"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	waitTimeout  time.Duration
	waitInterval time.Duration
)

var waitCmd = &cobra.Command{
	Use:   "wait URL EXPECTED",
	Short: "Wait until a URL serves the expected text",
	Long: `Poll URL until a 2xx response body contains EXPECTED.

Failed requests, error statuses and non-matching bodies are retried until the
timeout elapses. The match is case-sensitive.`,
	Example: `  gitdeploy wait https://nodeapp.azurewebsites.net "Hello NodeJS!" --timeout 5m`,
	Args:    cobra.ExactArgs(2),
	RunE:    runWait,
}

func init() {
	waitCmd.Flags().DurationVar(&waitTimeout, "timeout", readiness.DefaultTimeout, "Give up after this long")
	waitCmd.Flags().DurationVar(&waitInterval, "interval", readiness.DefaultInterval, "Delay between requests")
}

func runWait(cmd *cobra.Command, args []string) error {
	logger, closeLog, err := setupLogging(os.Stderr, logFile)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	url, expected := args[0], args[1]
	poller := readiness.NewPoller(logger)
	poller.Interval = waitInterval

	start := time.Now()
	if err := poller.WaitForReady(ctx, url, expected, waitTimeout); err != nil {
		return &deployFailure{err: err}
	}

	color.Green("✓ %s is serving %q (after %s)", url, expected, time.Since(start).Round(time.Second))
	return nil
}
