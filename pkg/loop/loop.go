// Package loop exports the frames of one recording into a loop directory.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/jilei-hao/lumify-dicom-parser/pkg/artifact"
	"github.com/jilei-hao/lumify-dicom-parser/pkg/config"
	"github.com/jilei-hao/lumify-dicom-parser/pkg/frame"
	"github.com/jilei-hao/lumify-dicom-parser/pkg/fsx"
	"github.com/jilei-hao/lumify-dicom-parser/pkg/layout"
	"github.com/jilei-hao/lumify-dicom-parser/pkg/recording"
	"github.com/jilei-hao/lumify-dicom-parser/pkg/timestamp"
	"github.com/jilei-hao/lumify-dicom-parser/pkg/workpool"
)

// ErrEmptyLoop is the error of a recording without frames.
var ErrEmptyLoop = errors.New("recording has no frames")

// Options configures a Processor.
type Options struct {
	// FrameWorkers bounds concurrent frame writes within one loop.
	FrameWorkers int

	// FrameTimeout bounds each frame write. Zero means none.
	FrameTimeout time.Duration

	// DryRun decodes and extracts but writes nothing.
	DryRun bool
}

// DefaultOptions returns the options of a normal export.
func DefaultOptions() Options {
	return Options{FrameWorkers: config.DefaultFrameWorkers}
}

// Result is the outcome of processing one input file. A Result with a non-nil
// Err marks a failed loop.
type Result struct {
	Source string

	// Identity is the loop's first frame timestamp.
	Identity string

	// Dir is the loop directory; empty when nothing was created.
	Dir string

	Frames   int
	Written  int
	Duration time.Duration
	Err      error
}

// Failed reports whether the loop failed.
func (r Result) Failed() bool { return r.Err != nil }

// FrameError reports a frame that could not be written.
type FrameError struct {
	Timestamp string
	Err       error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("frame %s: %v", e.Timestamp, e.Err)
}

func (e *FrameError) Unwrap() error { return e.Err }

// Processor turns input files into loop directories.
type Processor struct {
	decoder recording.Decoder
	opts    Options
	logger  *slog.Logger
}

// NewProcessor returns a Processor. A nil decoder selects the DICOM decoder and
// a nil logger selects slog.Default().
func NewProcessor(decoder recording.Decoder, opts Options, logger *slog.Logger) *Processor {
	if decoder == nil {
		decoder = recording.DICOMDecoder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.FrameWorkers < 1 {
		opts.FrameWorkers = config.DefaultFrameWorkers
	}
	return &Processor{decoder: decoder, opts: opts, logger: logger}
}

// Identify decodes path and returns the timestamp its first frame will get,
// without extracting pixels.
func (p *Processor) Identify(ctx context.Context, path string) (string, error) {
	rec, err := p.decode(ctx, path)
	if err != nil {
		return "", err
	}
	if len(rec.FrameTimes) == 0 {
		return "", ErrEmptyLoop
	}
	stamps, err := timestamp.Synthesize(rec.AnchorTime, rec.FrameTimes[:1])
	if err != nil {
		return "", fmt.Errorf("frame times: %w", err)
	}
	return stamps[0], nil
}

// Process exports path into subjectDir/<first frame timestamp>.
//
// Failures never escape as errors: any decode, extraction, directory or frame
// write failure is reported through Result.Err. Frames written before a
// failure are left in place. Process returns only after every dispatched
// frame write has finished.
func (p *Processor) Process(ctx context.Context, path, subjectDir string) (res Result) {
	started := time.Now()
	res.Source = path

	p.logger.Info("loop: processing", "file", path)

	defer func() {
		if r := recover(); r != nil {
			res.Err = &workpool.PanicError{Value: r}
		}
		res.Duration = time.Since(started)

		if res.Err != nil {
			p.logger.Error("loop: failed",
				"file", path,
				"written", res.Written,
				"frames", res.Frames,
				"error", res.Err,
			)
			return
		}
		p.logger.Info("loop: exported",
			"file", path,
			"loop", res.Identity,
			"frames", res.Frames,
			"dry_run", p.opts.DryRun,
			"duration", res.Duration,
		)
	}()

	rec, err := p.decode(ctx, path)
	if err != nil {
		res.Err = err
		return res
	}

	records, err := frame.Extract(rec)
	if err != nil {
		res.Err = err
		return res
	}
	if len(records) == 0 {
		res.Err = ErrEmptyLoop
		return res
	}

	res.Identity = records[0].Timestamp
	res.Frames = len(records)

	if p.opts.DryRun {
		return res
	}

	dir := layout.LoopDir(subjectDir, res.Identity)
	if err := fsx.EnsureDir(dir); err != nil {
		res.Err = err
		return res
	}
	res.Dir = dir

	res.Written, res.Err = p.writeFrames(ctx, records, dir)
	return res
}

func (p *Processor) writeFrames(ctx context.Context, records []frame.Record, dir string) (int, error) {
	poolOpts := workpool.Options{Workers: p.opts.FrameWorkers, Timeout: p.opts.FrameTimeout}

	outcomes := workpool.Run(ctx, poolOpts, records, func(ctx context.Context, r frame.Record) (string, error) {
		return artifact.Write(ctx, r, dir)
	})

	var failed []*FrameError
	written := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed = append(failed, &FrameError{Timestamp: o.Item.Timestamp, Err: o.Err})
			continue
		}
		written++
		p.logger.Debug("loop: frame written", "path", o.Value)
	}
	if len(failed) == 0 {
		return written, nil
	}

	sort.Slice(failed, func(i, j int) bool { return failed[i].Timestamp < failed[j].Timestamp })
	return written, fmt.Errorf("%d of %d frames failed: %w", len(failed), len(records), failed[0])
}

// decode runs the decoder and normalizes its failures to *recording.DecodeError,
// except for context errors which are returned as-is.
func (p *Processor) decode(ctx context.Context, path string) (*recording.Recording, error) {
	rec, err := p.decoder.Decode(ctx, path)
	if err != nil {
		var de *recording.DecodeError
		if errors.As(err, &de) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &recording.DecodeError{Path: path, Err: err}
	}
	if rec == nil {
		return nil, &recording.DecodeError{Path: path, Err: errors.New("decoder returned no recording")}
	}
	return rec, nil
}
