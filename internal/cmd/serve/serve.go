package serve

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/citydata/tripline/internal/config"
	"github.com/citydata/tripline/internal/server"
)

func NewCommand() *cobra.Command {
	var configPath string
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serves pipeline status and on-demand runs over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger, _ := zap.NewDevelopment()
			defer logger.Sync()
			l := logger.Named("tripline.server")

			c, err := config.NewTriplineFromFile(configPath)
			if err != nil {
				return err
			}

			components, err := config.InitializeOrchestrator(ctx, c, l)
			if err != nil {
				return err
			}
			defer components.Close()

			s := server.New(components.Orchestrator, l)
			return s.Start(ctx, addr)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.MarkFlagRequired("config")
	cmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address")

	return cmd
}
