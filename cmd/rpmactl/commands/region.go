package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func regionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "region",
		Short: "Inspect registered memory regions",
	}
	cmd.AddCommand(regionListCmd())
	return cmd
}

func regionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List live memory regions",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			regions, err := fetchRegions()
			if err != nil {
				return fmt.Errorf("list regions: %w", err)
			}

			out, err := formatRegions(regions, outputFormat)
			if err != nil {
				return fmt.Errorf("format regions: %w", err)
			}

			fmt.Print(out)
			return nil
		},
	}
}
