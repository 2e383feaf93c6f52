package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"gitdeploy/internal/history"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	historyDBPath string
	historyLimit  int
)

var historyCmd = &cobra.Command{
	Use:   "history [PROJECT]",
	Short: "Show recent deployments",
	Long: `Show the recent deployments of PROJECT, or the latest deployment of every
project, from the history database.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyDBPath, "db", getEnvOrDefault("GITDEPLOY_DB_PATH", "./deployments.db"), "Path to SQLite database")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "Number of deployments to show")
}

func runHistory(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(historyDBPath); err != nil {
		return fmt.Errorf("history database not available: %w", err)
	}

	hist, err := history.NewHistory(historyDBPath)
	if err != nil {
		return err
	}
	defer hist.Close()

	var records []history.DeploymentRecord
	if len(args) == 1 {
		records, err = hist.GetDeploymentHistory(cmd.Context(), args[0], historyLimit)
		if err != nil {
			return err
		}
	} else {
		latest, err := hist.GetAllProjectsStatus(cmd.Context())
		if err != nil {
			return err
		}
		for _, r := range latest {
			records = append(records, *r)
		}
	}

	if len(records) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No deployments recorded")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tPROJECT\tBUILD\tSTATUS\tFILES\tDURATION\tCOMMIT\tERROR")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			r.StartedAt.Local().Format(time.DateTime),
			r.Project,
			valueOrNone(r.BuildTag),
			statusColor(r.Status),
			r.FileCount,
			formatDuration(r.DurationSeconds),
			shortHash(r.CommitHash),
			deref(r.ErrorMessage))
	}
	return w.Flush()
}

func statusColor(status string) string {
	switch status {
	case history.StatusSuccess:
		return color.GreenString(status)
	case history.StatusFailed:
		return color.RedString(status)
	case history.StatusRejected, history.StatusInProgress:
		return color.YellowString(status)
	}
	return status
}

func formatDuration(seconds *float64) string {
	if seconds == nil {
		return "-"
	}
	return (time.Duration(*seconds * float64(time.Second))).Round(100 * time.Millisecond).String()
}

func shortHash(hash *string) string {
	if hash == nil {
		return "-"
	}
	if len(*hash) > 7 {
		return (*hash)[:7]
	}
	return *hash
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
