package ingest

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/citydata/tripline/internal/catalog"
	"github.com/citydata/tripline/internal/config"
	"github.com/citydata/tripline/internal/orchestrator"
)

func newBackfillCommand() *cobra.Command {
	var configPath string
	var category string
	var startStr string
	var endStr string
	var force bool
	var removeLocal bool

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Ingests an explicit month range for a category",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger, _ := zap.NewDevelopment()
			defer logger.Sync()
			l := logger.Named("ingest.backfill")

			start, err := catalog.ParseYearMonth(startStr)
			if err != nil {
				return err
			}
			end, err := catalog.ParseYearMonth(endStr)
			if err != nil {
				return err
			}

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
				Category:        category,
				Start:           &start,
				End:             &end,
				UseStaging:      c.Staging.Enabled,
				ForceRefetch:    force,
				RemoveArtifacts: removeLocal,
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
	cmd.Flags().StringVar(&category, "category", "yellow_tripdata", "Trip category to ingest")
	cmd.Flags().StringVar(&startStr, "start", "", "First month to ingest (YYYY-MM)")
	cmd.Flags().StringVar(&endStr, "end", "", "Last month to ingest (YYYY-MM)")
	cmd.Flags().BoolVar(&force, "force", false, "Re-download files even when a valid local copy exists")
	cmd.Flags().BoolVar(&removeLocal, "remove-local", false, "Delete local files after a successful load")
	cmd.MarkFlagsRequiredTogether("start", "end")

	return cmd
}
