package main

import (
	"strings"

	"github.com/aretw0/foundry/internal/cli"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run <goal>",
	Short: "Draft a protocol and review it in the terminal",
	Long: `Starts a drafting session for the goal and prints the agents' progress.
Whenever a draft awaits review you are prompted to approve, revise or edit it.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		headless, _ := cmd.Flags().GetBool("headless")
		jsonMode, _ := cmd.Flags().GetBool("json")
		autoApprove, _ := cmd.Flags().GetBool("auto-approve")
		if cmd.Flags().Changed("fail-on-command-error") {
			cfg.FailOnCommandError, _ = cmd.Flags().GetBool("fail-on-command-error")
		}

		return cli.RunSession(cfg, cli.RunOptions{
			Goal:        strings.Join(args, " "),
			Headless:    headless,
			JSON:        jsonMode,
			AutoApprove: autoApprove,
		})
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().Bool("headless", false, "Plain output: no banner, colors or markdown rendering")
	runCmd.Flags().Bool("json", false, "Print the final session snapshot as JSON on stdout")
	runCmd.Flags().Bool("auto-approve", false, "Approve the first draft under review without prompting")
	runCmd.Flags().Bool("fail-on-command-error", false, "Mark the session FAILED when approve or revise fails")
}
