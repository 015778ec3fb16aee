// Copyright 2025 The GeoProof Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"log"
	"strconv"

	"github.com/geoproof/geoproof/config"
	"github.com/geoproof/geoproof/geocode"
	"github.com/geoproof/geoproof/spatial"
	"github.com/geoproof/geoproof/telemetry"
	"github.com/geoproof/geoproof/utils/httputils"
	"github.com/spf13/cobra"
)

var geocodeCmd = &cobra.Command{
	Use:   "geocode <lat> <lng>",
	Short: "Resolve the caption address for a coordinate",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		lat, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("latitude: %w", err)
		}

		lng, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("longitude: %w", err)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		recorder, flush := newRecorder(cfg)
		defer flush()

		resolver := newResolver(cmd.Context(), cfg, recorder)
		res := resolver.Resolve(cmd.Context(), spatial.Point{Lat: lat, Lng: lng})

		fmt.Printf("%s\t(%s)\n", res.Address, res.Outcome)

		return nil
	},
}

// newResolver wires the Google geocoder behind the TTL cache. Without an API key the
// resolver runs offline and always falls back to coordinates.
func newResolver(ctx context.Context, cfg *config.Config, recorder telemetry.Recorder) *geocode.Resolver {
	g := cfg.Geocoding

	key := geocodingKey(ctx, g)

	opts := geocode.ResolverOptions{Timeout: g.Timeout, Recorder: recorder}

	if key == "" {
		log.Printf("No geocoding key configured (%s), captions will show coordinates", config.EnvMapsAPIKey)

		opts.Online = func(context.Context) bool { return false }
	}

	client := httputils.NewClient(&httputils.ClientOptions{UserAgent: userAgent(), Trace: traceWriter()})
	provider := geocode.NewGoogleMapsGeocoder(key, g.BaseURL, g.Language, client)

	return geocode.NewResolver(provider, geocode.NewCache(g.CacheTTL, g.CacheSize), opts)
}

var lookupAPIKey = geocode.LookupAPIKey

// geocodingKey returns the configured key, or looks it up by display name. An
// empty project id means the project of the default credentials.
func geocodingKey(ctx context.Context, g config.Geocoding) string {
	if g.APIKey != "" {
		return g.APIKey
	}

	key, err := lookupAPIKey(ctx, g.ProjectID, g.KeyDisplayName)
	if err != nil {
		log.Printf("Looking up geocoding key: %v", err)

		return ""
	}

	return key
}

func init() {
	rootCmd.AddCommand(geocodeCmd)
}
