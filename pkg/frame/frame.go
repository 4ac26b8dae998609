// Package frame splits a decoded recording into timestamped single-channel
// frames.
package frame

import (
	"fmt"

	"github.com/jilei-hao/lumify-dicom-parser/pkg/recording"
	"github.com/jilei-hao/lumify-dicom-parser/pkg/timestamp"
)

// Record is one exported frame.
type Record struct {
	// Timestamp is the frame's 17-digit canonical stamp.
	Timestamp string

	// Pixels holds channel 0 of the frame, Rows x Columns.
	Pixels [][]uint16

	Scale recording.Scale

	// Rows and Columns are the dimensions the recording declared.
	Rows    int
	Columns int
}

// ShapeMismatchError reports a pixel tensor that does not fit the recording.
type ShapeMismatchError struct {
	Shape  []int
	Reason string
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("pixel tensor shape %v: %s", e.Shape, e.Reason)
}

// Extract returns one Record per frame of rec, in frame order.
//
// Only the first color channel is kept.
func Extract(rec *recording.Recording) ([]Record, error) {
	shape := rec.Pixels.Shape
	if len(shape) != 4 {
		return nil, &ShapeMismatchError{Shape: shape, Reason: "want (frames, rows, columns, channels)"}
	}
	frames, rows, cols, channels := shape[0], shape[1], shape[2], shape[3]
	if channels != recording.Channels {
		return nil, &ShapeMismatchError{Shape: shape, Reason: fmt.Sprintf("want %d channels", recording.Channels)}
	}
	if rows <= 0 || cols <= 0 {
		return nil, &ShapeMismatchError{Shape: shape, Reason: "empty frame"}
	}
	if len(rec.Pixels.Data) != rec.Pixels.Len() {
		return nil, &ShapeMismatchError{Shape: shape, Reason: fmt.Sprintf("holds %d samples, want %d", len(rec.Pixels.Data), rec.Pixels.Len())}
	}
	if frames != len(rec.FrameTimes) {
		return nil, &ShapeMismatchError{Shape: shape, Reason: fmt.Sprintf("%d frames but %d frame times", frames, len(rec.FrameTimes))}
	}

	stamps, err := timestamp.Synthesize(rec.AnchorTime, rec.FrameTimes)
	if err != nil {
		return nil, fmt.Errorf("frame times: %w", err)
	}

	records := make([]Record, 0, frames)
	frameLen := rows * cols * channels
	for i, stamp := range stamps {
		buf := rec.Pixels.Data[i*frameLen : (i+1)*frameLen]

		pixels := make([][]uint16, rows)
		for y := range pixels {
			row := make([]uint16, cols)
			for x := range row {
				row[x] = buf[(y*cols+x)*channels]
			}
			pixels[y] = row
		}

		records = append(records, Record{
			Timestamp: stamp,
			Pixels:    pixels,
			Scale:     rec.Scale,
			Rows:      rec.Rows,
			Columns:   rec.Columns,
		})
	}

	return records, nil
}
