package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/openrdma/gorpma/internal/server"
)

func connectionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connection",
		Short: "Inspect live connections",
	}
	cmd.AddCommand(connectionListCmd())
	cmd.AddCommand(connectionWatchCmd())
	return cmd
}

func connectionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List live connections",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			conns, err := fetchConnections()
			if err != nil {
				return fmt.Errorf("list connections: %w", err)
			}

			out, err := formatConnections(conns, outputFormat)
			if err != nil {
				return fmt.Errorf("format connections: %w", err)
			}

			fmt.Print(out)
			return nil
		},
	}
}

func connectionWatchCmd() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll and print connection lifecycle transitions",
		Long:  "Polls the admin server's connection list and prints added/removed/state-changed lines until interrupted (Ctrl+C).",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return watchConnections(ctx, interval)
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", time.Second, "poll interval")

	return cmd
}

// watchConnections polls the admin server at interval, diffing each
// snapshot against the last to print added, removed, and state-changed
// connections. Blocks until ctx is cancelled.
func watchConnections(ctx context.Context, interval time.Duration) error {
	prev := map[string]server.ConnectionInfo{}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		conns, err := fetchConnections()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("poll connections: %w", err)
		}

		next := make(map[string]server.ConnectionInfo, len(conns))
		for _, c := range conns {
			next[c.ID] = c
			if old, ok := prev[c.ID]; !ok {
				fmt.Printf("[%s] ADDED     id=%s peer=%s state=%s\n", time.Now().Format(time.RFC3339), c.ID, c.PeerID, c.State)
			} else if old.State != c.State {
				fmt.Printf("[%s] STATE     id=%s peer=%s %s -> %s\n", time.Now().Format(time.RFC3339), c.ID, c.PeerID, old.State, c.State)
			}
		}
		for id, old := range prev {
			if _, ok := next[id]; !ok {
				fmt.Printf("[%s] REMOVED   id=%s peer=%s\n", time.Now().Format(time.RFC3339), id, old.PeerID)
			}
		}
		prev = next

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
