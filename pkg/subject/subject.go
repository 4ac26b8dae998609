// Package subject exports every recording of one subject directory into a
// single output directory named after the subject's earliest loop.
package subject

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/jilei-hao/lumify-dicom-parser/pkg/config"
	"github.com/jilei-hao/lumify-dicom-parser/pkg/fsx"
	"github.com/jilei-hao/lumify-dicom-parser/pkg/layout"
	"github.com/jilei-hao/lumify-dicom-parser/pkg/loop"
	"github.com/jilei-hao/lumify-dicom-parser/pkg/recording"
	"github.com/jilei-hao/lumify-dicom-parser/pkg/scan"
	"github.com/jilei-hao/lumify-dicom-parser/pkg/timestamp"
	"github.com/jilei-hao/lumify-dicom-parser/pkg/workpool"
)

var (
	// ErrNoRecordings means the subject directory holds no eligible files.
	// Nothing is created.
	ErrNoRecordings = errors.New("no recordings found")

	// ErrNoDecodable means no eligible file could be decoded.
	ErrNoDecodable = errors.New("no recording could be decoded")

	// ErrAllLoopsFailed means every loop of the subject failed.
	ErrAllLoopsFailed = errors.New("all loops failed")
)

// SubjectError is a subject-level failure.
type SubjectError struct {
	Dir string
	Err error
}

func (e *SubjectError) Error() string {
	return fmt.Sprintf("subject %s: %v", e.Dir, e.Err)
}

func (e *SubjectError) Unwrap() error { return e.Err }

type Options struct {
	// Workers bounds how many files are processed at once.
	Workers int

	// FileTimeout bounds each file. Zero means none.
	FileTimeout time.Duration

	Scan scan.Options
	Loop loop.Options
}

func DefaultOptions() Options {
	return Options{
		Workers: config.DefaultWorkers,
		Scan:    scan.DefaultOptions(),
		Loop:    loop.DefaultOptions(),
	}
}

// Report describes one subject run.
type Report struct {
	// Source is the scanned subject directory.
	Source string

	// Placeholder is the identity of the temporary directory.
	Placeholder string

	// Identity is the subject's earliest loop timestamp; empty on failure.
	Identity string

	// Dir is where the subject's loops are. It is the final directory after a
	// successful rename, the temporary one when the run was cancelled or the
	// rename was refused, and the would-be final directory in a dry run.
	Dir string

	// Loops holds one result per discovered file, in scan order.
	Loops []loop.Result

	DryRun   bool
	Duration time.Duration
}

// Failed returns the loops that failed.
func (r Report) Failed() []loop.Result {
	var out []loop.Result
	for _, l := range r.Loops {
		if l.Failed() {
			out = append(out, l)
		}
	}
	return out
}

// Aggregator runs the loop processor over a subject's files.
type Aggregator struct {
	loops  *loop.Processor
	opts   Options
	logger *slog.Logger
}

// NewAggregator returns an Aggregator decoding with decoder. A nil decoder
// selects the DICOM decoder and a nil logger selects slog.Default().
func NewAggregator(decoder recording.Decoder, opts Options, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Workers < 1 {
		opts.Workers = config.DefaultWorkers
	}
	if len(opts.Scan.Extensions) == 0 {
		opts.Scan.Extensions = scan.DefaultOptions().Extensions
	}
	return &Aggregator{
		loops:  loop.NewProcessor(decoder, opts.Loop, logger),
		opts:   opts,
		logger: logger,
	}
}

// Process exports every eligible file below subjectDir into
// outputRoot/<earliest loop timestamp>.
//
// Loops are written into outputRoot/__temp_<placeholder> first, where the
// placeholder is the first frame timestamp of the first decodable file. Once
// every loop is done the directory is renamed to its final name. The rename
// never replaces an existing directory.
//
// Individual loop failures are reported in Report.Loops. The returned error is
// ErrNoRecordings, a *SubjectError, a *fsx.FilesystemError or a context error.
// A cancelled run never renames the temporary directory.
func (a *Aggregator) Process(ctx context.Context, subjectDir, outputRoot string) (Report, error) {
	started := time.Now()
	report := Report{Source: subjectDir, DryRun: a.opts.Loop.DryRun}
	defer func() { report.Duration = time.Since(started) }()

	files, err := scan.Files(subjectDir, a.opts.Scan)
	if err != nil {
		return report, err
	}
	if len(files) == 0 {
		return report, ErrNoRecordings
	}
	a.logger.Info("subject: discovered", "dir", subjectDir, "files", len(files))

	placeholder, err := a.placeholder(ctx, files)
	if err != nil {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		return report, &SubjectError{Dir: subjectDir, Err: err}
	}
	report.Placeholder = placeholder

	tempDir := layout.TempSubjectDir(outputRoot, placeholder)
	if !report.DryRun {
		if err := fsx.EnsureDir(tempDir); err != nil {
			return report, err
		}
	}

	report.Loops = a.runLoops(ctx, files, tempDir)

	// Loops cut short by cancellation are missing from the minimum; keep the
	// temp dir and skip the rename.
	if err := ctx.Err(); err != nil {
		if !report.DryRun {
			report.Dir = tempDir
		}
		a.logger.Warn("subject: cancelled", "dir", subjectDir, "temp", tempDir, "error", err)
		return report, err
	}

	identity, err := earliest(report.Loops)
	if err != nil {
		if !report.DryRun {
			if fsx.RemoveIfEmpty(tempDir) {
				a.logger.Debug("subject: removed empty temp dir", "dir", tempDir)
			} else {
				report.Dir = tempDir
			}
		}
		return report, &SubjectError{Dir: subjectDir, Err: err}
	}
	report.Identity = identity

	finalDir := layout.SubjectDir(outputRoot, identity)
	if report.DryRun {
		report.Dir = finalDir
		return report, nil
	}

	report.Dir = tempDir
	if err := fsx.Rename(tempDir, finalDir); err != nil {
		a.logger.Error("subject: rename refused", "from", tempDir, "to", finalDir, "error", err)
		return report, err
	}
	report.Dir = finalDir
	relocate(report.Loops, finalDir)

	a.logger.Info("subject: exported",
		"dir", finalDir,
		"loops", len(report.Loops),
		"failed", len(report.Failed()),
		"duration", time.Since(started),
	)
	return report, nil
}

// placeholder decodes files in order and returns the first identity found.
func (a *Aggregator) placeholder(ctx context.Context, files []string) (string, error) {
	var lastErr error
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		id, err := a.loops.Identify(ctx, f)
		if err == nil {
			return id, nil
		}
		a.logger.Debug("subject: cannot identify", "file", f, "error", err)
		lastErr = err
	}
	return "", fmt.Errorf("%w: %w", ErrNoDecodable, lastErr)
}

func (a *Aggregator) runLoops(ctx context.Context, files []string, tempDir string) []loop.Result {
	poolOpts := workpool.Options{Workers: a.opts.Workers, Timeout: a.opts.FileTimeout}

	outcomes := workpool.Run(ctx, poolOpts, files, func(ctx context.Context, path string) (loop.Result, error) {
		res := a.loops.Process(ctx, path, tempDir)
		return res, res.Err
	})

	results := make([]loop.Result, len(files))
	for _, o := range outcomes {
		res := o.Value
		if res.Source == "" {
			// Never started, or the task itself panicked.
			res = loop.Result{Source: o.Item, Err: o.Err}
		}
		results[o.Index] = res
	}
	return results
}

// earliest reduces the identities of the successful loops to their minimum.
func earliest(results []loop.Result) (string, error) {
	var ids []string
	for _, r := range results {
		if !r.Failed() {
			ids = append(ids, r.Identity)
		}
	}
	if len(ids) == 0 {
		return "", ErrAllLoopsFailed
	}
	return timestamp.Earliest(ids)
}

// relocate points loop directories at the renamed subject directory.
func relocate(results []loop.Result, subjectDir string) {
	for i := range results {
		if results[i].Dir != "" {
			results[i].Dir = filepath.Join(subjectDir, filepath.Base(results[i].Dir))
		}
	}
}
