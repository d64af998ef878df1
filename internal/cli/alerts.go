package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"vitalwatch/internal/app"
)

var (
	alertsLimit     int
	alertsOlderThan time.Duration
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Inspect the alert journal",
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recently raised alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if alertsLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}
		return getApp().Alerts(cmd.Context(), app.AlertsOptions{Limit: alertsLimit})
	},
}

var alertsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete journaled alerts older than a retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().PruneAlerts(cmd.Context(), alertsOlderThan)
	},
}

func init() {
	alertsListCmd.Flags().IntVar(&alertsLimit, "limit", 20, "Number of alerts to display")
	alertsPruneCmd.Flags().DurationVar(&alertsOlderThan, "older-than", 30*24*time.Hour, "Retention window")

	alertsCmd.AddCommand(alertsListCmd)
	alertsCmd.AddCommand(alertsPruneCmd)
}
