package sensorhub

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/edgeflare/sensorhub/pkg/client"
	"github.com/edgeflare/sensorhub/pkg/ingest"
	"github.com/spf13/cobra"
)

var probeURL string

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Send one sample of every known envelope format over WebSocket",
	Long: `Send each sample envelope on a fresh WebSocket connection and print the
gateway's response, showing which formats a running gateway accepts.`,
	Args: cobra.NoArgs,
	RunE: runProbe,
}

func init() {
	probeCmd.Flags().StringVarP(&probeURL, "url", "u", "", "WebSocket URL (default ws://localhost:9926/Sensors/)")
}

func runProbe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	url := probeURL
	if url == "" {
		url = client.JoinURL(baseURL("", "ws"), cfg.Server.DefaultTable+"/")
	}

	out := cmd.OutOrStdout()
	failed := 0
	err := client.Probe(ctx, url, ingest.Probes, func(r client.ProbeResult) {
		fmt.Fprintf(out, "=== %s ===\n", r.Name)
		fmt.Fprintf(out, "Sending: %s\n", r.Envelope)
		if r.Err != nil {
			failed++
			fmt.Fprintf(out, "Error: %v\n\n", r.Err)
			return
		}
		fmt.Fprintf(out, "Response: %s\n\n", strings.TrimSpace(string(r.Response)))
	})
	if err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d probes failed", failed, len(ingest.Probes))
	}
	return nil
}
