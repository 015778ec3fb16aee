// Copyright 2025 The GeoProof Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/duckdb/duckdb-go/v2" // register duckdb driver
	"github.com/geoproof/geoproof/config"
	"github.com/geoproof/geoproof/history"
	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the submission and history backend",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		repo, db, err := openHistory(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		loc, err := cfg.Capture.Location()
		if err != nil {
			return err
		}

		srv := history.NewServer(repo, history.ServerOptions{
			Tokens:   cfg.Server.Tokens,
			MaxBytes: cfg.Server.MaxBytes,
			Location: loc,
		})

		addr := cfg.Server.Addr
		if serveAddr != "" {
			addr = serveAddr
		}

		return srv.Run(addr)
	},
}

func openHistory(cfg *config.Config) (history.Repository, *sql.DB, error) {
	if err := os.MkdirAll(cfg.Server.DBPath, 0o750); err != nil {
		return nil, nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("duckdb", filepath.Join(cfg.Server.DBPath, "geoproof.duckdb"))
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}

	repo := history.NewRepository(db)
	if err := repo.CreateSchema(); err != nil {
		db.Close()

		return nil, nil, fmt.Errorf("creating tables: %w", err)
	}

	return repo, db, nil
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address, defaults to server.addr")
}
