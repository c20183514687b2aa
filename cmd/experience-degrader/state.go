package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sweeney/experience-degrader/internal/status"
)

const stateTimeout = 5 * time.Second

var stateAddr string

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Print the phase and level of a running daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), stateTimeout)
		defer cancel()
		return printState(ctx, cmd.OutOrStdout(), stateAddr)
	},
}

func init() {
	stateCmd.Flags().StringVar(&stateAddr, "addr", "http://localhost:8080", "Base URL of the daemon")
}

// printState fetches /index.json from addr and prints a one-line summary.
func printState(ctx context.Context, w io.Writer, addr string) error {
	url := strings.TrimRight(addr, "/") + "/index.json"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: unexpected status %s", url, resp.Status)
	}

	var body status.StatusJSON
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}

	s := body.Status
	_, err = fmt.Fprintf(w, "phase=%s level=%.3f percent=%d loops=%d time=%ds active=%t session=%s\n",
		s.Phase, s.Level, s.Percent, s.Scroll.Loops, s.TimeSpent, s.Active, s.Session)
	return err
}
