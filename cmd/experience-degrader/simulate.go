package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sweeney/experience-degrader/internal/clock"
	"github.com/sweeney/experience-degrader/internal/engine"
	"github.com/sweeney/experience-degrader/internal/mqtt"
	"github.com/sweeney/experience-degrader/internal/status"
)

// simulateEpoch anchors the fake clock so output is reproducible.
var simulateEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type scenario struct {
	Loops        int
	Seconds      int
	Interactions int
	Cycles       int
	Scroll       []float64
	Seed         uint64
	Events       bool
}

var simulateFlags struct {
	loops        int
	seconds      int
	interactions int
	cycles       int
	scroll       string
	events       bool
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a scripted scenario on a fake clock and print the resulting state",
	Long: `simulate drives a private engine through a scenario without any network:
scroll samples are applied in order, then damage loops, interactions and
cycles, then the clock is advanced while time tracking runs.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		scroll, err := parseScroll(simulateFlags.scroll)
		if err != nil {
			return err
		}
		sc := scenario{
			Loops:        simulateFlags.loops,
			Seconds:      simulateFlags.seconds,
			Interactions: simulateFlags.interactions,
			Cycles:       simulateFlags.cycles,
			Scroll:       scroll,
			Seed:         cfg.Seed,
			Events:       simulateFlags.events,
		}
		return simulate(cmd.OutOrStdout(), sc)
	},
}

func init() {
	f := simulateCmd.Flags()
	f.IntVar(&simulateFlags.loops, "loops", 0, "Scroll loops to inject as damage")
	f.IntVar(&simulateFlags.seconds, "seconds", 0, "Seconds of tracked time to simulate")
	f.IntVar(&simulateFlags.interactions, "interactions", 0, "Interactions to record")
	f.IntVar(&simulateFlags.cycles, "cycles", 0, "Cycles to complete")
	f.StringVar(&simulateFlags.scroll, "scroll", "", "Comma-separated scroll progress samples in [0,1]")
	f.BoolVar(&simulateFlags.events, "events", false, "Print each event as a JSON line before the final state")
}

// parseScroll parses "0.1,0.5,0.2". An empty string yields no samples.
func parseScroll(s string) ([]float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid scroll sample %q: %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// simulate runs sc and writes the final status JSON to w. Without a seed
// the engine is seeded with 1 so runs are repeatable.
func simulate(w io.Writer, sc scenario) error {
	if sc.Seconds < 0 {
		return fmt.Errorf("seconds must not be negative, got %d", sc.Seconds)
	}

	fc := clock.NewFake(simulateEpoch)
	var lines [][]byte
	var formatErr error
	seed := sc.Seed
	if seed == 0 {
		seed = 1
	}
	opts := []engine.Option{engine.WithClock(fc), engine.WithSeed(seed)}
	if sc.Events {
		opts = append(opts, engine.WithObserver(engine.ObserverFunc(func(u engine.Update) {
			for _, ev := range u.Events {
				b, err := mqtt.FormatPayload(u.Session, ev)
				if err != nil {
					formatErr = err
					continue
				}
				lines = append(lines, b)
			}
		})))
	}
	eng := engine.New(opts...)

	eng.StartTimeTracking()
	for _, p := range sc.Scroll {
		eng.UpdateScroll(p)
	}
	eng.AddDamage(sc.Loops)
	eng.AddInteraction(sc.Interactions)
	for range sc.Cycles {
		eng.CompleteCycle()
	}
	fc.Advance(time.Duration(sc.Seconds) * time.Second)
	eng.StopTimeTracking()

	if formatErr != nil {
		return fmt.Errorf("format event: %w", formatErr)
	}
	for _, l := range lines {
		if _, err := fmt.Fprintf(w, "%s\n", l); err != nil {
			return err
		}
	}

	snap := status.Snapshot{
		State:     eng.Snapshot(),
		Session:   eng.Session(),
		StartTime: simulateEpoch,
		Now:       fc.Now(),
	}
	_, err := fmt.Fprintf(w, "%s\n", status.FormatJSON(snap))
	return err
}
