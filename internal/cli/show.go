package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"vitalwatch/internal/app"
)

var (
	showJSON     bool
	showCached   bool
	historyHours int
	historyLimit int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Fetch and display the current snapshot with its alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ShowOptions{
			JSON:   showJSON,
			Cached: showCached,
		}
		return getApp().Show(cmd.Context(), opts)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Fetch and display the vital-sign history window",
	RunE: func(cmd *cobra.Command, args []string) error {
		if historyLimit < 0 {
			return fmt.Errorf("--limit cannot be negative")
		}
		opts := app.HistoryOptions{
			Hours: historyHours,
			Limit: historyLimit,
		}
		return getApp().History(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().BoolVar(&showJSON, "json", false, "Print the snapshot and alerts as JSON")
	showCmd.Flags().BoolVar(&showCached, "cached", false, "Print the last state published to Redis instead of fetching")

	historyCmd.Flags().IntVar(&historyHours, "hours", 0, "History window in hours (defaults to config)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of most recent points to display, 0 for all")
}
