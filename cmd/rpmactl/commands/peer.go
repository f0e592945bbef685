package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func peerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "peer",
		Short: "Inspect rpma peers",
	}
	cmd.AddCommand(peerListCmd())
	return cmd
}

func peerListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List live peers",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			peers, err := fetchPeers()
			if err != nil {
				return fmt.Errorf("list peers: %w", err)
			}

			out, err := formatPeers(peers, outputFormat)
			if err != nil {
				return fmt.Errorf("format peers: %w", err)
			}

			fmt.Print(out)
			return nil
		},
	}
}
