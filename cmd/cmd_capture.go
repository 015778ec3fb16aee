// Copyright 2025 The GeoProof Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"log"
	"os"
	"slices"
	"time"

	"github.com/geoproof/geoproof/config"
	"github.com/geoproof/geoproof/imaging"
	"github.com/geoproof/geoproof/spatial"
	"github.com/geoproof/geoproof/submission"
	"github.com/geoproof/geoproof/telemetry"
	"github.com/geoproof/geoproof/utils/httputils"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

type captureOptions struct {
	Slot    string
	Lat     float64
	Lng     float64
	At      string
	SiteID  string
	UserID  string
	TaskID  string
	Remarks string
	Skip    []int
	DryRun  bool
	Out     string
}

var captureOpts = &captureOptions{}

var captureCmd = &cobra.Command{
	Use:   "capture <image>...",
	Short: "Caption, compress and submit a batch of photos",
	Long: `
capture stamps every image with the resolved address, the coordinates and the
capture time, compresses the results and submits them as one batch. With
--dry-run the batch is only reviewed; with --out it is written to a directory
instead of being uploaded.
`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		slot, err := submission.ParseSlot(captureOpts.Slot)
		if err != nil {
			return err
		}

		if slot == submission.SlotTask && captureOpts.TaskID == "" {
			log.Print("Task submission without --task, it will be listed on its own")
		}

		fix, err := spatial.ParseLocationFix(captureOpts.Lat, captureOpts.Lng, captureOpts.At)
		if err != nil {
			return err
		}

		recorder, flush := newRecorder(cfg)
		defer flush()

		ctrl, err := newController(cmd, cfg, slot, recorder)
		if err != nil {
			return err
		}

		handles := make([]imaging.ImageHandle, len(args))
		for i, a := range args {
			handles[i] = imaging.ImageHandle(a)
		}

		ctx := cmd.Context()

		if err := ctrl.Start(ctx, fix, handles...); err != nil {
			return fmt.Errorf("starting batch: %w", err)
		}

		// highest index first so earlier indexes stay valid
		skip := slices.Clone(captureOpts.Skip)
		slices.Sort(skip)
		slices.Reverse(skip)

		for _, idx := range slices.Compact(skip) {
			if err := ctrl.Remove(idx - 1); err != nil {
				return fmt.Errorf("skipping image %d: %w", idx, err)
			}
		}

		printReview(ctrl.Snapshot())

		if captureOpts.DryRun {
			return ctrl.Cancel()
		}

		receipt, err := ctrl.Submit(ctx, submission.Metadata{
			SiteID:  firstNonEmpty(captureOpts.SiteID, cfg.Backend.SiteID),
			UserID:  firstNonEmpty(captureOpts.UserID, cfg.Backend.UserID),
			TaskID:  captureOpts.TaskID,
			Remarks: captureOpts.Remarks,
		})
		if err != nil {
			if s := ctrl.Snapshot(); s.State == submission.StateReviewing {
				log.Printf("Batch %s kept for review, fix or --skip the failed images and retry", s.BatchID)
			}

			return fmt.Errorf("submitting batch: %w", err)
		}

		fmt.Printf("Submitted %s: %d record(s)\n", receipt.SubmissionID, len(receipt.RecordIDs))

		return nil
	},
}

func newController(cmd *cobra.Command, cfg *config.Config, slot submission.Slot,
	recorder telemetry.Recorder,
) (*submission.Controller, error) {
	loc, err := cfg.Capture.Location()
	if err != nil {
		return nil, err
	}

	prober, err := imaging.NewAspectProbe(cfg.Capture.ProbeCacheSize, recorder)
	if err != nil {
		return nil, err
	}

	compositor, err := imaging.NewCompositor(imaging.CompositorOptions{
		CanvasWidth: cfg.Capture.CanvasWidth,
		FontSize:    cfg.Capture.FontSize,
		Location:    loc,
		DateLayout:  cfg.Capture.DateLayout,
	})
	if err != nil {
		return nil, err
	}

	var uploader submission.Uploader
	if captureOpts.Out != "" {
		uploader = submission.DirUploader{Dir: captureOpts.Out}
	} else {
		client := httputils.NewClient(&httputils.ClientOptions{
			UserAgent:   userAgent(),
			BearerToken: cfg.Backend.Token,
			Trace:       traceWriter(),
		})
		uploader = submission.NewHTTPUploader(cfg.Backend.URL, client)
	}

	deps := submission.Deps{
		Prober:     prober,
		Resolver:   newResolver(cmd.Context(), cfg, recorder),
		Compositor: compositor,
		Uploader:   uploader,
		Recorder:   recorder,
	}

	opts := submission.Options{
		Workers: cfg.Capture.Workers,
		Compression: imaging.CompressOptions{
			Quality:   cfg.Compression.Quality,
			MaxWidth:  cfg.Compression.MaxWidth,
			MaxHeight: cfg.Compression.MaxHeight,
		},
		UploadTimeout:   cfg.Upload.Timeout,
		PerImageTimeout: cfg.Upload.PerImage,
		OnTransition: func(from, to submission.State) {
			log.Printf("Batch %s -> %s", from, to)
		},
		OnProgress: newProgress(),
	}

	return submission.NewController(slot, deps, opts), nil
}

// newProgress draws one bar per stage on a terminal and logs otherwise.
func newProgress() func(stage submission.State, done, total int) {
	if !isatty.IsTerminal(os.Stderr.Fd()) {
		return func(stage submission.State, done, total int) {
			log.Printf("%s %d/%d", stage, done, total)
		}
	}

	bars := map[submission.State]*progressbar.ProgressBar{}

	return func(stage submission.State, done, total int) {
		bar, ok := bars[stage]
		if !ok {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetDescription(stage.String()),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
			bars[stage] = bar
		}

		if err := bar.Set(done); err != nil {
			log.Printf("Updating progress bar: %v", err)
		}
	}
}

func printReview(s submission.Snapshot) {
	fmt.Printf("Batch %s (%s)\n", s.BatchID, s.State)
	fmt.Printf("  Address: %s (%s)\n", s.Address.Address, s.Address.Outcome)

	if s.Fix != nil {
		fmt.Printf("  Location: %s at %s\n", s.Fix.Point.Coordinates(), s.Fix.Timestamp.Format(time.RFC3339))
	}

	for i, it := range s.Items {
		fmt.Printf("  %2d. %s (ratio %.3f)\n", i+1, it.Handle.Name(), it.Ratio)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}

func init() {
	rootCmd.AddCommand(captureCmd)

	f := captureCmd.Flags()
	f.StringVar(&captureOpts.Slot, "slot", string(submission.SlotAttendance), "Submission slot: attendance or task")
	f.Float64Var(&captureOpts.Lat, "lat", 0, "Latitude of the location fix")
	f.Float64Var(&captureOpts.Lng, "lng", 0, "Longitude of the location fix")
	f.StringVar(&captureOpts.At, "at", "", "Fix timestamp (RFC 3339), now when empty")
	f.StringVar(&captureOpts.SiteID, "site", "", "Site id, defaults to backend.site_id")
	f.StringVar(&captureOpts.UserID, "user", "", "User id, defaults to backend.user_id")
	f.StringVar(&captureOpts.TaskID, "task", "", "Task id for task submissions")
	f.StringVar(&captureOpts.Remarks, "remarks", "", "Free text sent with the batch")
	f.IntSliceVar(&captureOpts.Skip, "skip", nil, "1-based positions of images to drop after review")
	f.BoolVar(&captureOpts.DryRun, "dry-run", false, "Review the batch and discard it")
	f.StringVar(&captureOpts.Out, "out", "", "Write the batch to this directory instead of uploading")

	_ = captureCmd.MarkFlagRequired("lat")
	_ = captureCmd.MarkFlagRequired("lng")
}
