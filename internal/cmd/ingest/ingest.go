package ingest

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewCommand() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "ingest",
		Short: "Manages ingestion runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("welcome to tripline ingest!")
			return nil
		},
	}
	cmd.AddCommand(newRecentCommand())
	cmd.AddCommand(newBackfillCommand())
	cmd.AddCommand(newStatusCommand())
	cmd.AddCommand(newCleanupCommand())
	return cmd
}
