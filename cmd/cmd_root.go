// Copyright 2025 The GeoProof Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/geoproof/geoproof/config"
	"github.com/geoproof/geoproof/telemetry"
	"github.com/spf13/cobra"
)

type logWriter struct {
	writer io.Writer
}

func (w *logWriter) Write(bytes []byte) (int, error) {
	return fmt.Fprintf(w.writer, "%s %s", time.Now().Format("2006-01-02 15:04:05"), string(bytes))
}

func init() {
	log.SetFlags(0)
	log.SetOutput(&logWriter{writer: os.Stderr})
}

var rootCmd = &cobra.Command{
	Use:   "geoproof",
	Short: "geo-tagged photo evidence for field work",
	Long: `
geoproof captions photos with the place and time they were taken, compresses
them and submits them as attendance or task evidence. It also runs the backend
that stores submissions and serves the history views.
`,
}

var (
	Version    = "dev"
	configPath string
	trace      bool
)

func Execute(version string) {
	Version = version

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "geoproof.yaml", "Configuration file")
	rootCmd.PersistentFlags().BoolVar(&trace, "trace", false, "Dump HTTP exchanges to stderr")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	return cfg, nil
}

func userAgent() string {
	return fmt.Sprintf("geoproof/%s (+https://github.com/geoproof/geoproof)", Version)
}

func traceWriter() io.Writer {
	if trace {
		return os.Stderr
	}

	return nil
}

// newRecorder logs every event and forwards it to PostHog when a key is configured.
// The returned func flushes pending events.
func newRecorder(cfg *config.Config) (telemetry.Recorder, func()) {
	recorders := telemetry.Multi{telemetry.LogRecorder{}}

	if cfg.Telemetry.PostHogKey == "" {
		return recorders, func() {}
	}

	ph, err := telemetry.NewPostHogRecorder(cfg.Telemetry.PostHogKey, cfg.Telemetry.PostHogHost, cfg.Telemetry.DistinctID)
	if err != nil {
		log.Printf("Telemetry disabled: %v", err)

		return recorders, func() {}
	}

	return append(recorders, ph), func() {
		if err := ph.Close(); err != nil {
			log.Printf("Flushing telemetry: %v", err)
		}
	}
}
