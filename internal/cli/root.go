package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"vitalwatch/internal/app"
	"vitalwatch/internal/config"
	"vitalwatch/internal/logging"
)

var (
	cfgFile   string
	logLevel  string
	subjectID string
	baseURL   string
	appHandle *app.App
)

var rootCmd = &cobra.Command{
	Use:   "vitalwatch",
	Short: "Watch a subject's vital signs and raise health alerts",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if appHandle != nil {
			return nil
		}

		if cmd.Name() == versionCmd.Name() {
			return nil
		}

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		if subjectID != "" {
			cfg.Service.SubjectID = subjectID
		}
		if baseURL != "" {
			cfg.Service.BaseURL = baseURL
		}

		logger := logging.NewLogger(cfg.Logging)
		appHandle = app.NewApp(cfg, logger)
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level defined in config")

	rootCmd.PersistentFlags().StringVar(&subjectID, "subject", "", "Override the monitored subject id")
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "Override the health service base URL")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(alertsCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd)
}

func getApp() *app.App {
	if appHandle == nil {
		panic("application not initialized; PersistentPreRunE not executed")
	}
	return appHandle
}
