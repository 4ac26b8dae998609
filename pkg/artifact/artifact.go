// Package artifact persists frame records as self-describing JSON files.
package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jilei-hao/lumify-dicom-parser/pkg/frame"
	"github.com/jilei-hao/lumify-dicom-parser/pkg/fsx"
	"github.com/jilei-hao/lumify-dicom-parser/pkg/layout"
	"github.com/jilei-hao/lumify-dicom-parser/pkg/recording"
	"github.com/jilei-hao/lumify-dicom-parser/pkg/timestamp"
)

// document is the on-disk form of a frame.
type document struct {
	TimeStamp      string     `json:"time_stamp"`
	PhysicalDeltaX *float64   `json:"physical_delta_x"`
	PhysicalDeltaY *float64   `json:"physical_delta_y"`
	DimX           int        `json:"dim_x"`
	DimY           int        `json:"dim_y"`
	Data           [][]uint16 `json:"data"`
}

// Encode renders rec as a single JSON line.
func Encode(rec frame.Record) ([]byte, error) {
	if _, err := timestamp.ParseCanonical(rec.Timestamp); err != nil {
		return nil, err
	}

	pixels := rec.Pixels
	if pixels == nil {
		pixels = [][]uint16{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	err := enc.Encode(document{
		TimeStamp:      rec.Timestamp,
		PhysicalDeltaX: rec.Scale.DeltaX,
		PhysicalDeltaY: rec.Scale.DeltaY,
		DimX:           rec.Columns,
		DimY:           rec.Rows,
		Data:           pixels,
	})
	if err != nil {
		return nil, fmt.Errorf("encode frame %s: %w", rec.Timestamp, err)
	}
	return buf.Bytes(), nil
}

// Decode parses an artifact produced by Encode.
func Decode(b []byte) (frame.Record, error) {
	var doc document
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return frame.Record{}, fmt.Errorf("decode frame: %w", err)
	}
	if _, err := timestamp.ParseCanonical(doc.TimeStamp); err != nil {
		return frame.Record{}, err
	}

	return frame.Record{
		Timestamp: doc.TimeStamp,
		Pixels:    doc.Data,
		Scale:     recording.Scale{DeltaX: doc.PhysicalDeltaX, DeltaY: doc.PhysicalDeltaY},
		Rows:      doc.DimY,
		Columns:   doc.DimX,
	}, nil
}

// Write stores rec as <timestamp>.json in dir and returns the file path.
//
// Writes of distinct records may run concurrently. Writing the same record
// again replaces the file with identical bytes.
func Write(ctx context.Context, rec frame.Record, dir string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	b, err := Encode(rec)
	if err != nil {
		return "", err
	}

	path := layout.FramePath(dir, rec.Timestamp)
	if err := fsx.WriteFileAtomic(ctx, dir, filepath.Base(path), b); err != nil {
		return "", err
	}
	return path, nil
}

// Read loads an artifact from path.
func Read(path string) (frame.Record, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return frame.Record{}, err
	}
	rec, err := Decode(b)
	if err != nil {
		return frame.Record{}, fmt.Errorf("%s: %w", path, err)
	}
	return rec, nil
}
