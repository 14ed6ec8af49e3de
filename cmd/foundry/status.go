package main

import (
	"github.com/aretw0/foundry/internal/cli"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <session-id>",
	Short: "Show one session",
	Long:  `Prints the latest snapshot cached in redis, or asks the backend when redis is not configured or has no entry.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		jsonMode, _ := cmd.Flags().GetBool("json")
		return cli.RunStatus(cfg, args[0], jsonMode)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch [session-id]",
	Short: "Follow the snapshots published by other foundry processes",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		var sessionID string
		if len(args) > 0 {
			sessionID = args[0]
		}
		return cli.RunWatch(cfg, sessionID)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd, watchCmd)
	statusCmd.Flags().Bool("json", false, "Print the snapshot as JSON")
}
