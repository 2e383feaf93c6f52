package main

import (
	"fmt"

	"gitdeploy/internal/profile"

	"github.com/spf13/cobra"
)

var profileCmd = &cobra.Command{
	Use:   "profile FILE",
	Short: "Show the Git target of a publishing profile",
	Long: `Parse an Azure .PublishSettings file and print the Git deployment target it
describes. The password is never printed.`,
	Args: cobra.ExactArgs(1),
	RunE: runProfile,
}

func runProfile(cmd *cobra.Command, args []string) error {
	pp, err := profile.LoadFile(args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "App URL:  %s\n", valueOrNone(pp.DestinationAppURL))
	if pp.FTPURL != "" {
		fmt.Fprintf(out, "FTP:      %s (user %s)\n", pp.FTPURL, pp.FTPUsername)
	}

	target, err := profile.FromPublishingProfile(pp)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Git:      %s\n", target)
	return nil
}

func valueOrNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
