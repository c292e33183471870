// Command avsafe is the AV-SAFE toolbox: simulate or capture per-minute
// audio/light descriptor sessions, verify their hash chains, evaluate them
// against WHO/IEEE-1789 rule profiles, and serve or render reports.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/avsafe-data/avsafe.report/internal/config"
	"github.com/avsafe-data/avsafe.report/internal/minute"
	"github.com/avsafe-data/avsafe.report/internal/rules"
)

var rootCmd = &cobra.Command{
	Use:   "avsafe",
	Short: "Privacy-preserving audio and light monitoring toolbox",
	Long: `avsafe works with per-minute descriptor records: A-weighted noise
levels and temporal light modulation metrics, sealed into a SHA-256 hash
chain. Raw audio and luminance samples never leave the capture stage.

Records travel as JSON Lines files or over MQTT; sessions are stored in
sqlite and evaluated against WHO night-noise and IEEE 1789 flicker rules.`,
	SilenceUsage: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// loadConfig wraps config.Load with a uniform error prefix.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("load configuration: %w", err)
	}
	return cfg, nil
}

// loadProfile returns the profile at path, or the embedded default when path
// is empty.
func loadProfile(path string) (*rules.Profile, error) {
	if path == "" {
		return rules.DefaultProfile(), nil
	}
	return rules.LoadProfile(path)
}

// readRecordsFile reads a JSONL record file, with "-" meaning stdin.
func readRecordsFile(path string) ([]minute.Record, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	records, err := minute.ReadRecords(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return records, nil
}

// openOutput opens path for writing, with "-" meaning stdout. The caller
// must close the returned closer.
func openOutput(path string) (io.Writer, io.Closer, error) {
	if path == "-" {
		return os.Stdout, nopCloser{}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func toPayloads(records []minute.Record) []minute.Payload {
	out := make([]minute.Payload, len(records))
	for i, rec := range records {
		out[i] = rec.Payload
	}
	return out
}
