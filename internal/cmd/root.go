package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/citydata/tripline/internal/cmd/ingest"
	"github.com/citydata/tripline/internal/cmd/serve"
)

func NewRootCommand() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "tripline",
		Short: "Moves monthly trip extracts from the public catalog into the warehouse",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	cmd.AddCommand(ingest.NewCommand())
	cmd.AddCommand(serve.NewCommand())

	return cmd
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	cmd := NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
