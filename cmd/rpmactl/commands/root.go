// Package commands implements the rpmactl CLI commands.
package commands

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// httpClient is the client used for every admin-server request, initialized
// in PersistentPreRunE.
var httpClient *http.Client

var (
	// outputFormat controls the output format for all commands (table or json).
	outputFormat string

	// serverAddr is the daemon's admin HTTP address (host:port).
	serverAddr string
)

// requestTimeout bounds a single admin-server request.
const requestTimeout = 5 * time.Second

// rootCmd is the top-level cobra command for rpmactl.
var rootCmd = &cobra.Command{
	Use:   "rpmactl",
	Short: "CLI client for the rpma daemon",
	Long:  "rpmactl communicates with the rpmad daemon's admin HTTP surface to inspect peers, memory regions, and connections.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		httpClient = &http.Client{Timeout: requestTimeout}
		return nil
	},
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "localhost:9400",
		"rpmad admin server address (host:port)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json")

	rootCmd.AddCommand(peerCmd())
	rootCmd.AddCommand(regionCmd())
	rootCmd.AddCommand(connectionCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(shellCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// adminURL builds the base URL for the configured admin server.
func adminURL() string {
	return "http://" + serverAddr
}
