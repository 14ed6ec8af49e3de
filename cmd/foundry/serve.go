package main

import (
	"github.com/aretw0/foundry/internal/cli"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the review dashboard API",
	Long: `Starts the dashboard HTTP server. Browsers start sessions, follow them over
Server-Sent Events (GET /events) and post review decisions.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("listen") {
			cfg.Listen, _ = cmd.Flags().GetString("listen")
		}
		if cmd.Flags().Changed("metrics") {
			cfg.Metrics, _ = cmd.Flags().GetBool("metrics")
		}
		return cli.RunServe(cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("listen", "l", ":8080", "Address to listen on")
	serveCmd.Flags().Bool("metrics", false, "Expose prometheus metrics on /metrics")
}
