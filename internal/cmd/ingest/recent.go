package ingest

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/citydata/tripline/internal/config"
	"github.com/citydata/tripline/internal/orchestrator"
)

func newRecentCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "recent",
		Short: "Ingests the most recent published months for a category",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger, _ := zap.NewDevelopment()
			defer logger.Sync()
			l := logger.Named("ingest.recent")

			c, err := config.NewTriplineFromFile(configPath)
			if err != nil {
				return err
			}

			components, err := config.InitializeOrchestrator(ctx, c, l)
			if err != nil {
				return err
			}
			defer components.Close()

			result, err := components.Orchestrator.Run(ctx, orchestrator.Request{
				Category:        viper.GetString("category"),
				MonthsBack:      viper.GetInt("months"),
				UseStaging:      c.Staging.Enabled,
				ForceRefetch:    viper.GetBool("force"),
				RemoveArtifacts: viper.GetBool("remove-local"),
			})
			if err != nil {
				return err
			}

			json.NewEncoder(os.Stdout).Encode(result)
			if result.Status == orchestrator.RunFailed {
				return fmt.Errorf("run %s failed", result.RunID)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.MarkFlagRequired("config")
	cmd.Flags().String("category", "yellow_tripdata", "Trip category to ingest")
	cmd.Flags().Int("months", 3, "How many recent months to ingest")
	cmd.Flags().Bool("force", false, "Re-download files even when a valid local copy exists")
	cmd.Flags().Bool("remove-local", false, "Delete local files after a successful load")
	viper.BindPFlag("category", cmd.Flags().Lookup("category"))
	viper.BindPFlag("months", cmd.Flags().Lookup("months"))
	viper.BindPFlag("force", cmd.Flags().Lookup("force"))
	viper.BindPFlag("remove-local", cmd.Flags().Lookup("remove-local"))
	viper.AutomaticEnv()
	viper.SetEnvPrefix("TRIPLINE")

	return cmd
}
