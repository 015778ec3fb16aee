// Copyright 2025 The GeoProof Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the geoproof configuration: built-in defaults, then an optional
// .env file, then an optional YAML file, then environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata" // caption time zones must resolve on hosts without zoneinfo

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override the file.
const (
	EnvMapsAPIKey  = "GOOGLE_MAPS_API_KEY"
	EnvToken       = "GEOPROOF_TOKEN"
	EnvBackendURL  = "GEOPROOF_BACKEND_URL"
	EnvPostHogKey  = "POSTHOG_KEY"
	EnvPostHogHost = "POSTHOG_HOST"
)

type Config struct {
	Backend     Backend     `yaml:"backend"`
	Geocoding   Geocoding   `yaml:"geocoding"`
	Capture     Capture     `yaml:"capture"`
	Compression Compression `yaml:"compression"`
	Upload      Upload      `yaml:"upload"`
	Server      Server      `yaml:"server"`
	Telemetry   Telemetry   `yaml:"telemetry"`
}

// Backend identifies the upload service and the worker submitting evidence.
type Backend struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	SiteID string `yaml:"site_id"`
	UserID string `yaml:"user_id"`
}

type Geocoding struct {
	APIKey   string        `yaml:"api_key"`
	BaseURL  string        `yaml:"base_url"`
	Language string        `yaml:"language"`
	Timeout  time.Duration `yaml:"timeout"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
	// CacheSize is the entry count above which expired entries are purged
	CacheSize int `yaml:"cache_size"`
	// ProjectID and KeyDisplayName locate the API key through ADC when APIKey is empty
	ProjectID      string `yaml:"project_id"`
	KeyDisplayName string `yaml:"key_display_name"`
}

type Capture struct {
	CanvasWidth    int     `yaml:"canvas_width"`
	FontSize       float64 `yaml:"font_size"`
	TimeZone       string  `yaml:"time_zone"`
	DateLayout     string  `yaml:"date_layout"`
	ProbeCacheSize int     `yaml:"probe_cache_size"`
	Workers        int     `yaml:"workers"`
}

type Compression struct {
	Quality   float64 `yaml:"quality"`
	MaxWidth  int     `yaml:"max_width"`
	MaxHeight int     `yaml:"max_height"`
}

type Upload struct {
	Timeout time.Duration `yaml:"timeout"`
	// PerImage is added to Timeout for every image after the first
	PerImage time.Duration `yaml:"per_image"`
}

// Server configures the reference upload/history backend.
type Server struct {
	Addr     string   `yaml:"addr"`
	DBPath   string   `yaml:"db_path"`
	Tokens   []string `yaml:"tokens"`
	MaxBytes int64    `yaml:"max_bytes"`
}

type Telemetry struct {
	PostHogKey  string `yaml:"posthog_key"`
	PostHogHost string `yaml:"posthog_host"`
	DistinctID  string `yaml:"distinct_id"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Backend: Backend{
			URL: "http://localhost:8080",
		},
		Geocoding: Geocoding{
			BaseURL:        "https://maps.googleapis.com/maps/api/geocode/json",
			Language:       "en",
			Timeout:        5 * time.Second,
			CacheTTL:       10 * time.Minute,
			CacheSize:      100,
			KeyDisplayName: "GeoProof Geocoding Key",
		},
		Capture: Capture{
			CanvasWidth:    1080,
			FontSize:       28,
			TimeZone:       "Local",
			DateLayout:     "02 Jan 2006, 03:04 PM MST",
			ProbeCacheSize: 64,
			Workers:        4,
		},
		Compression: Compression{
			Quality:   0.7,
			MaxWidth:  1280,
			MaxHeight: 1280,
		},
		Upload: Upload{
			Timeout:  30 * time.Second,
			PerImage: 10 * time.Second,
		},
		Server: Server{
			Addr:     "localhost:8080",
			DBPath:   "db",
			MaxBytes: 50 << 20,
		},
	}
}

// Load builds the configuration. A missing file at path is not an error, the defaults
// (plus environment) are used instead.
func Load(path string) (*Config, error) {
	// .env only fills variables that are not already set
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 - path is provided by the operator
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvMapsAPIKey); v != "" {
		c.Geocoding.APIKey = v
	}

	if v := os.Getenv(EnvToken); v != "" {
		c.Backend.Token = v
	}

	if v := os.Getenv(EnvBackendURL); v != "" {
		c.Backend.URL = v
	}

	if v := os.Getenv(EnvPostHogKey); v != "" {
		c.Telemetry.PostHogKey = v
	}

	if v := os.Getenv(EnvPostHogHost); v != "" {
		c.Telemetry.PostHogHost = v
	}
}

// Validate checks ranges that would otherwise fail deep inside the pipeline.
func (c *Config) Validate() error {
	var problems []string

	if q := c.Compression.Quality; q <= 0 || q > 1 {
		problems = append(problems, fmt.Sprintf("compression.quality must be in (0,1], got %v", q))
	}

	if c.Compression.MaxWidth <= 0 || c.Compression.MaxHeight <= 0 {
		problems = append(problems, "compression.max_width and max_height must be positive")
	}

	if c.Capture.CanvasWidth <= 0 {
		problems = append(problems, "capture.canvas_width must be positive")
	}

	if _, err := c.Capture.Location(); err != nil {
		problems = append(problems, err.Error())
	}

	if c.Geocoding.Timeout <= 0 || c.Upload.Timeout <= 0 {
		problems = append(problems, "timeouts must be positive")
	}

	if problems == nil {
		return nil
	}

	return errors.New("invalid configuration: " + strings.Join(problems, "; "))
}

// Location resolves the caption time zone.
func (c Capture) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("capture.time_zone: %w", err)
	}

	return loc, nil
}

// UploadTimeout returns the timeout for a batch of n images.
func (u Upload) UploadTimeout(n int) time.Duration {
	if n <= 1 {
		return u.Timeout
	}

	return u.Timeout + time.Duration(n-1)*u.PerImage
}
