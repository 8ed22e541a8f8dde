package ingest

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/citydata/tripline/internal/config"
)

func newCleanupCommand() *cobra.Command {
	var configPath string
	var olderThanDays int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Removes download debris and stale staged objects",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger, _ := zap.NewDevelopment()
			defer logger.Sync()
			l := logger.Named("ingest.cleanup")

			c, err := config.NewTriplineFromFile(configPath)
			if err != nil {
				return err
			}

			components, err := config.InitializeOrchestrator(ctx, c, l)
			if err != nil {
				return err
			}
			defer components.Close()

			report := components.Orchestrator.Cleanup(ctx, olderThanDays)
			json.NewEncoder(os.Stdout).Encode(report)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.MarkFlagRequired("config")
	cmd.Flags().IntVar(&olderThanDays, "older-than-days", 7, "Staged object age threshold in days")

	return cmd
}
