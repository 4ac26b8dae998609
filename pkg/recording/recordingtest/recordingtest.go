// Package recordingtest provides synthetic recordings and a scripted decoder
// for tests that should not depend on DICOM fixtures.
package recordingtest

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/jilei-hao/lumify-dicom-parser/pkg/recording"
)

// Cine returns a (len(offsets), rows, cols, 3) recording. Channel 0 of frame f
// at (y, x) is (f*31 + y*7 + x) mod 256; channels 1 and 2 are 255.
func Cine(anchor string, offsets []float64, rows, cols int) *recording.Recording {
	frames := len(offsets)
	data := make([]uint16, 0, frames*rows*cols*recording.Channels)
	for f := 0; f < frames; f++ {
		for y := 0; y < rows; y++ {
			for x := 0; x < cols; x++ {
				data = append(data, uint16((f*31+y*7+x)%256), 255, 255)
			}
		}
	}

	dx, dy := 0.0125, 0.0250
	return &recording.Recording{
		AnchorTime: anchor,
		FrameTimes: append([]float64(nil), offsets...),
		Pixels: recording.Tensor{
			Shape: []int{frames, rows, cols, recording.Channels},
			Data:  data,
		},
		Scale:   recording.Scale{DeltaX: &dx, DeltaY: &dy},
		Rows:    rows,
		Columns: cols,
	}
}

// Entry scripts the decoder's answer for one file.
type Entry struct {
	Recording *recording.Recording
	Err       error
	Panic     any
	Delay     time.Duration
}

// Decoder answers Decode calls by file base name.
type Decoder struct {
	Entries map[string]Entry

	mu    sync.Mutex
	calls map[string]int
}

// NewDecoder returns a Decoder serving entries.
func NewDecoder(entries map[string]Entry) *Decoder {
	return &Decoder{Entries: entries, calls: make(map[string]int)}
}

func (d *Decoder) Decode(ctx context.Context, path string) (*recording.Recording, error) {
	name := filepath.Base(path)

	d.mu.Lock()
	d.calls[name]++
	d.mu.Unlock()

	e, ok := d.Entries[name]
	if !ok {
		return nil, &recording.DecodeError{Path: path, Err: fmt.Errorf("no scripted entry for %s", name)}
	}
	if e.Delay > 0 {
		select {
		case <-time.After(e.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if e.Panic != nil {
		panic(e.Panic)
	}
	if e.Err != nil {
		return nil, e.Err
	}
	return e.Recording, nil
}

// Calls returns how often name was decoded.
func (d *Decoder) Calls(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[name]
}
