package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/openrdma/gorpma/internal/server"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

func formatPeers(peers []server.PeerInfo, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalIndented(peers)
	case formatTable:
		return formatPeersTable(peers)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatRegions(regions []server.RegionInfo, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalIndented(regions)
	case formatTable:
		return formatRegionsTable(regions)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatConnections(conns []server.ConnectionInfo, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalIndented(conns)
	case formatTable:
		return formatConnectionsTable(conns)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func marshalIndented(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal to JSON: %w", err)
	}
	return string(data), nil
}

func formatPeersTable(peers []server.PeerInfo) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDEVICE\tPORT")
	for _, p := range peers {
		fmt.Fprintf(w, "%s\t%s\t%d\n", p.ID, p.Device, p.Port)
	}
	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}
	return buf.String(), nil
}

func formatRegionsTable(regions []server.RegionInfo) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPEER\tUSAGE\tLENGTH")
	for _, r := range regions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", r.ID, r.PeerID, r.Usage, r.Length)
	}
	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}
	return buf.String(), nil
}

func formatConnectionsTable(conns []server.ConnectionInfo) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPEER\tSTATE\tPRIVATE-DATA-LEN")
	for _, c := range conns {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", c.ID, c.PeerID, c.State, c.PrivateDataLen)
	}
	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}
	return buf.String(), nil
}
