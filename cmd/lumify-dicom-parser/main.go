package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jilei-hao/lumify-dicom-parser/pkg/config"
	"github.com/jilei-hao/lumify-dicom-parser/pkg/layout"
	"github.com/jilei-hao/lumify-dicom-parser/pkg/loop"
	"github.com/jilei-hao/lumify-dicom-parser/pkg/recording"
	"github.com/jilei-hao/lumify-dicom-parser/pkg/scan"
	"github.com/jilei-hao/lumify-dicom-parser/pkg/subject"
	"github.com/jilei-hao/lumify-dicom-parser/pkg/timestamp"
)

const version = "0.1.0"

type options struct {
	verbose bool
	dryRun  bool

	configPath   string
	workers      int
	frameWorkers int
	fileTimeout  time.Duration
	frameTimeout time.Duration
	maxDepth     int

	// decoder replaces the DICOM decoder when set.
	decoder recording.Decoder
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	return newCommand(&options{})
}

func newCommand(opts *options) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "lumify-dicom-parser <subject-dir> <output-root>",
		Short: "Export ultrasound cine loops as per-frame JSON",
		Long: "lumify-dicom-parser decodes every DICOM cine loop below a subject directory and writes one JSON " +
			"artifact per frame to <output-root>/<subject>/<loop>/<frame>.json, where every level is named " +
			"after its earliest frame timestamp.",
		Version: version,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, opts, args[0], args[1])
		},
	}

	rootCmd.SetOut(os.Stdout)
	rootCmd.SetErr(os.Stderr)

	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&opts.dryRun, "dry-run", "n", false, "decode only, write nothing")
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML configuration file")

	defaults := config.Default()
	rootCmd.Flags().IntVar(&opts.workers, "workers", defaults.Workers, "recordings processed at once")
	rootCmd.Flags().IntVar(&opts.frameWorkers, "frame-workers", defaults.FrameWorkers, "frames of one loop written at once")
	rootCmd.Flags().DurationVar(&opts.fileTimeout, "file-timeout", 0, "time limit per recording (0 = none)")
	rootCmd.Flags().DurationVar(&opts.frameTimeout, "frame-timeout", 0, "time limit per frame write (0 = none)")
	rootCmd.Flags().IntVar(&opts.maxDepth, "max-depth", defaults.MaxDepth, "maximum recursion depth (-1 = unlimited, 0 = no recursion)")

	rootCmd.AddCommand(newScanCmd(opts))
	rootCmd.AddCommand(newStampsCmd(opts))

	return rootCmd
}

func runExport(cmd *cobra.Command, opts *options, subjectDir, outputRoot string) error {
	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	logger := newLogger(cmd.ErrOrStderr(), opts.verbose)
	logger.Debug("run: config",
		"workers", cfg.Workers,
		"frame_workers", cfg.FrameWorkers,
		"file_timeout", cfg.FileTimeout.Std(),
		"frame_timeout", cfg.FrameTimeout.Std(),
		"extensions", cfg.Extensions,
		"max_depth", cfg.MaxDepth,
	)

	agg := subject.NewAggregator(opts.decoder, exportOptions(cfg, opts.dryRun), logger)
	report, err := agg.Process(cmd.Context(), subjectDir, outputRoot)
	if errors.Is(err, subject.ErrNoRecordings) {
		logger.Warn("subject: no recordings", "dir", subjectDir, "extensions", cfg.Extensions)
		return nil
	}

	for _, l := range report.Loops {
		if l.Failed() {
			cmd.Printf("%s: failed: %v\n", l.Source, l.Err)
			continue
		}
		cmd.Printf("%s -> %s\n", l.Source, layout.LoopDir(report.Dir, l.Identity))
	}
	if err != nil {
		return err
	}

	cmd.Printf("subject: %s\n", report.Dir)
	if opts.dryRun {
		cmd.Println("Dry run mode: no files were written")
	}
	return nil
}

// loadConfig layers the config file over the defaults and the flags the user
// set on cmd over both. Flags cmd does not define are ignored.
func (o *options) loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("workers") {
		cfg.Workers = o.workers
	}
	if flags.Changed("frame-workers") {
		cfg.FrameWorkers = o.frameWorkers
	}
	if flags.Changed("file-timeout") {
		cfg.FileTimeout = config.Duration(o.fileTimeout)
	}
	if flags.Changed("frame-timeout") {
		cfg.FrameTimeout = config.Duration(o.frameTimeout)
	}
	if flags.Changed("max-depth") {
		cfg.MaxDepth = o.maxDepth
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func (o *options) newDecoder() recording.Decoder {
	if o.decoder != nil {
		return o.decoder
	}
	return recording.DICOMDecoder{}
}

func exportOptions(cfg config.Config, dryRun bool) subject.Options {
	return subject.Options{
		Workers:     cfg.Workers,
		FileTimeout: cfg.FileTimeout.Std(),
		Scan: scan.Options{
			MaxDepth:   cfg.MaxDepth,
			Extensions: cfg.Extensions,
		},
		Loop: loop.Options{
			FrameWorkers: cfg.FrameWorkers,
			FrameTimeout: cfg.FrameTimeout.Std(),
			DryRun:       dryRun,
		},
	}
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(h).With("run", uuid.NewString())
}

func newScanCmd(opts *options) *cobra.Command {
	var jsonOut bool

	scanCmd := &cobra.Command{
		Use:   "scan [directory]",
		Short: "List the recordings below a directory",
		Long:  "Scan a directory and print every recording an export would process (relative to the scan root).",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			directory := args[0]

			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			scanOpts := scan.Options{MaxDepth: cfg.MaxDepth, Extensions: cfg.Extensions}

			if jsonOut {
				records, err := scan.ScanRecords(os.DirFS(directory), ".", scanOpts)
				if err != nil {
					return err
				}
				if records == nil {
					records = []scan.Record{}
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			}

			matches, err := scan.Scan(os.DirFS(directory), ".", scanOpts)
			if err != nil {
				return err
			}

			for _, match := range matches {
				cmd.Println(match)
			}

			if opts.verbose {
				cmd.PrintErrf("found %d recordings\n", len(matches))
			}

			return nil
		},
	}

	scanCmd.Flags().IntVar(&opts.maxDepth, "max-depth", config.Default().MaxDepth, "maximum recursion depth (0 = no recursion)")
	scanCmd.Flags().BoolVar(&jsonOut, "json", false, "print records as JSON")

	return scanCmd
}

type stampsOutput struct {
	Source      string   `json:"source"`
	Anchor      string   `json:"anchor"`
	AnchorStamp string   `json:"anchor_stamp"`
	Rows        int      `json:"rows"`
	Columns     int      `json:"columns"`
	Frames      int      `json:"frames"`
	TimeStamps  []string `json:"time_stamps"`
}

func newStampsCmd(opts *options) *cobra.Command {
	var jsonOut bool

	stampsCmd := &cobra.Command{
		Use:   "stamps [file]",
		Short: "Print the frame timestamps of one recording",
		Long:  "Decode one recording and print the timestamp every frame would be exported under.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]

			rec, err := opts.newDecoder().Decode(cmd.Context(), path)
			if err != nil {
				return err
			}
			anchor, err := timestamp.CanonicalAnchor(rec.AnchorTime)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			stamps, err := timestamp.Synthesize(rec.AnchorTime, rec.FrameTimes)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}

			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(stampsOutput{
					Source:      path,
					Anchor:      rec.AnchorTime,
					AnchorStamp: anchor,
					Rows:        rec.Rows,
					Columns:     rec.Columns,
					Frames:      len(stamps),
					TimeStamps:  stamps,
				})
			}

			for _, s := range stamps {
				cmd.Println(s)
			}
			if opts.verbose {
				cmd.PrintErrf("anchor %s, %d frames, %dx%d\n", anchor, len(stamps), rec.Columns, rec.Rows)
			}
			return nil
		},
	}

	stampsCmd.Flags().BoolVar(&jsonOut, "json", false, "print as JSON")

	return stampsCmd
}
