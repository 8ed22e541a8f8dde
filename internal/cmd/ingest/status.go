package ingest

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/citydata/tripline/internal/config"
)

func newStatusCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Probes the pipeline's dependencies and prints a health snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger, _ := zap.NewDevelopment()
			defer logger.Sync()
			l := logger.Named("ingest.status")

			c, err := config.NewTriplineFromFile(configPath)
			if err != nil {
				return err
			}

			components, err := config.InitializeOrchestrator(ctx, c, l)
			if err != nil {
				return err
			}
			defer components.Close()

			health := components.Orchestrator.Status(ctx)
			json.NewEncoder(os.Stdout).Encode(health)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.MarkFlagRequired("config")

	return cmd
}
