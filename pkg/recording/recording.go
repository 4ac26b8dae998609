package recording

import (
	"context"
	"fmt"
)

// Channels is the number of samples per pixel a recording must carry.
const Channels = 3

// Scale is the physical size of one pixel. Either component may be nil when the
// recording declares no ultrasound region calibration.
type Scale struct {
	DeltaX *float64
	DeltaY *float64
}

// Tensor is a dense row-major pixel buffer. A cine loop has the shape
// (frames, rows, columns, channels).
type Tensor struct {
	Shape []int
	Data  []uint16
}

// Len returns the number of elements Shape describes.
func (t Tensor) Len() int {
	if len(t.Shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Recording is a decoded cine loop.
type Recording struct {
	// AnchorTime is the DICOM acquisition date time, YYYYMMDDHHMMSS.ffffff.
	AnchorTime string

	// FrameTimes holds one offset per frame in milliseconds, each relative to
	// the previous frame.
	FrameTimes []float64

	Pixels Tensor
	Scale  Scale

	Rows    int
	Columns int
}

// Decoder turns an input file into a Recording.
//
// Implementations return a *DecodeError for files they cannot read.
type Decoder interface {
	Decode(ctx context.Context, path string) (*Recording, error)
}

// DecoderFunc adapts a function to the Decoder interface.
type DecoderFunc func(ctx context.Context, path string) (*Recording, error)

func (f DecoderFunc) Decode(ctx context.Context, path string) (*Recording, error) {
	return f(ctx, path)
}

// DecodeError reports a file the decoder could not turn into a Recording.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
