package main

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "tasklane",
	Short: "Personal task service with deadline reminders",
	Long: `tasklane serves the task HTTP API and runs the reminder scheduler that
notifies owners shortly before their tasks fall due.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("TASKLANE_CONFIG"), "optional YAML config file; environment variables override it")
	rootCmd.AddCommand(serveCmd, remindCmd, initStorageCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Error("tasklane failed")
		os.Exit(1)
	}
}
