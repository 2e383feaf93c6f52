package main

import (
	"fmt"

	"gitdeploy/internal/security"

	"github.com/spf13/cobra"
)

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Generate a trigger secret",
	Long:  `Print a random secret suitable for the 'secret' field of a project.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, err := security.GenerateSecret()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), secret)
		return nil
	},
}
