// Copyright 2025 The GeoProof Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/geoproof/geoproof/daterange"
	"github.com/geoproof/geoproof/history"
	"github.com/spf13/cobra"
)

type historyOptions struct {
	UserID   string
	Range    string
	Month    string
	Page     int
	PageSize int
}

var historyOpts = &historyOptions{}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List stored submissions from the local database",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		loc, err := cfg.Capture.Location()
		if err != nil {
			return err
		}

		var year, month string
		if historyOpts.Month != "" {
			t, err := time.Parse("2006-01", historyOpts.Month)
			if err != nil {
				return fmt.Errorf("--month: %w", err)
			}

			year, month = strconv.Itoa(t.Year()), strconv.Itoa(int(t.Month()))
			historyOpts.Range = history.RangeMonth
		}

		cursor := daterange.NewCursor(time.Now().In(loc))

		w, err := history.RangeWindow(cursor, historyOpts.Range, year, month, historyOpts.Page, historyOpts.PageSize)
		if err != nil {
			return err
		}

		fmt.Printf("%s to %s\n", w.StartDate.Format(daterange.ISODate), w.EndDate.Format(daterange.ISODate))

		if w.Empty {
			fmt.Println("  nothing before the first day of the month")

			return nil
		}

		repo, db, err := openHistory(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		userID := firstNonEmpty(historyOpts.UserID, cfg.Backend.UserID)

		items, err := repo.ListItems(userID, w.StartDate, w.Until())
		if err != nil {
			return err
		}

		for _, it := range items {
			fmt.Printf("  %s  %s\n", it.Time().In(loc).Format("02 Jan 15:04"), it.Summary())
		}

		if len(items) == 0 {
			fmt.Println("  no submissions")
		}

		if w.HasMore {
			fmt.Printf("more: --page %d\n", max(historyOpts.Page, 1)+1)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)

	f := historyCmd.Flags()
	f.StringVar(&historyOpts.UserID, "user", "", "User id, defaults to backend.user_id")
	f.StringVar(&historyOpts.Range, "range", history.RangeThisMonth, "One of "+strings.Join([]string{
		history.RangeToday, history.RangeThisMonth, history.RangeLastMonth,
	}, ", "))
	f.StringVar(&historyOpts.Month, "month", "", "Calendar month as YYYY-MM, overrides --range")
	f.IntVar(&historyOpts.Page, "page", 1, "Page within the month, 1 is the most recent")
	f.IntVar(&historyOpts.PageSize, "page-size", daterange.DefaultPageSize, "Days per page")
}
