package recording

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/jilei-hao/lumify-dicom-parser/pkg/timestamp"
)

var (
	tagAcquisitionDateTime = tag.Tag{Group: 0x0008, Element: 0x002A}
	tagFrameTimeVector     = tag.Tag{Group: 0x0018, Element: 0x1065}
	tagUltrasoundRegions   = tag.Tag{Group: 0x0018, Element: 0x6011}
	tagPhysicalDeltaX      = tag.Tag{Group: 0x0018, Element: 0x602C}
	tagPhysicalDeltaY      = tag.Tag{Group: 0x0018, Element: 0x602E}
	tagRows                = tag.Tag{Group: 0x0028, Element: 0x0010}
	tagColumns             = tag.Tag{Group: 0x0028, Element: 0x0011}
	tagPixelData           = tag.Tag{Group: 0x7FE0, Element: 0x0010}
)

var errNoFrames = errors.New("pixel data holds no frames")

// DICOMDecoder reads multi-frame ultrasound DICOM files.
type DICOMDecoder struct{}

func (DICOMDecoder) Decode(ctx context.Context, path string) (*Recording, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rec, err := FromDataset(ds)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}
	return rec, nil
}

// FromDataset builds a Recording from a parsed DICOM dataset.
func FromDataset(ds dicom.Dataset) (*Recording, error) {
	rec, err := metadata(ds)
	if err != nil {
		return nil, err
	}

	elem, err := ds.FindElementByTag(tagPixelData)
	if err != nil {
		return nil, fmt.Errorf("pixel data %v: %w", tagPixelData, err)
	}
	info, ok := elem.Value.GetValue().(dicom.PixelDataInfo)
	if !ok {
		return nil, fmt.Errorf("pixel data %v: unexpected value type %T", tagPixelData, elem.Value.GetValue())
	}
	if len(info.Frames) == 0 {
		return nil, errNoFrames
	}

	if info.Frames[0].Encapsulated {
		frames := make([][]byte, 0, len(info.Frames))
		for i := range info.Frames {
			frames = append(frames, info.Frames[i].EncapsulatedData.Data)
		}
		rec.Pixels, err = jpegTensor(frames, rec.Rows, rec.Columns)
	} else {
		frames := make([][][]int, 0, len(info.Frames))
		for i := range info.Frames {
			frames = append(frames, info.Frames[i].NativeData.Data)
		}
		rec.Pixels, err = nativeTensor(frames, rec.Rows, rec.Columns)
	}
	if err != nil {
		return nil, err
	}

	return rec, nil
}

// metadata reads everything but the pixel data.
func metadata(ds dicom.Dataset) (*Recording, error) {
	anchor, err := firstString(ds, tagAcquisitionDateTime)
	if err != nil {
		return nil, err
	}

	vector, err := stringsOf(ds, tagFrameTimeVector)
	if err != nil {
		return nil, err
	}
	offsets, err := timestamp.ParseOffsets(vector)
	if err != nil {
		return nil, fmt.Errorf("frame time vector: %w", err)
	}

	rows, err := firstInt(ds, tagRows)
	if err != nil {
		return nil, err
	}
	columns, err := firstInt(ds, tagColumns)
	if err != nil {
		return nil, err
	}

	return &Recording{
		AnchorTime: anchor,
		FrameTimes: offsets,
		Scale:      regionScale(ds),
		Rows:       rows,
		Columns:    columns,
	}, nil
}

// regionScale returns the deltas of the first ultrasound region that declares
// both of them.
func regionScale(ds dicom.Dataset) Scale {
	elem, err := ds.FindElementByTag(tagUltrasoundRegions)
	if err != nil {
		return Scale{}
	}
	items, ok := elem.Value.GetValue().([]*dicom.SequenceItemValue)
	if !ok {
		return Scale{}
	}

	for _, item := range items {
		elems, ok := item.GetValue().([]*dicom.Element)
		if !ok {
			continue
		}
		dx, okX := firstFloatIn(elems, tagPhysicalDeltaX)
		dy, okY := firstFloatIn(elems, tagPhysicalDeltaY)
		if okX && okY {
			return Scale{DeltaX: &dx, DeltaY: &dy}
		}
	}
	return Scale{}
}

func firstFloatIn(elems []*dicom.Element, t tag.Tag) (float64, bool) {
	for _, e := range elems {
		if e == nil || e.Tag != t {
			continue
		}
		fs, ok := e.Value.GetValue().([]float64)
		if !ok || len(fs) == 0 {
			return 0, false
		}
		return fs[0], true
	}
	return 0, false
}

func stringsOf(ds dicom.Dataset, t tag.Tag) ([]string, error) {
	elem, err := ds.FindElementByTag(t)
	if err != nil {
		return nil, fmt.Errorf("element %v: %w", t, err)
	}
	ss, ok := elem.Value.GetValue().([]string)
	if !ok {
		return nil, fmt.Errorf("element %v: unexpected value type %T", t, elem.Value.GetValue())
	}
	return ss, nil
}

func firstString(ds dicom.Dataset, t tag.Tag) (string, error) {
	ss, err := stringsOf(ds, t)
	if err != nil {
		return "", err
	}
	if len(ss) == 0 {
		return "", fmt.Errorf("element %v: empty", t)
	}
	return ss[0], nil
}

func firstInt(ds dicom.Dataset, t tag.Tag) (int, error) {
	elem, err := ds.FindElementByTag(t)
	if err != nil {
		return 0, fmt.Errorf("element %v: %w", t, err)
	}
	is, ok := elem.Value.GetValue().([]int)
	if !ok || len(is) == 0 {
		return 0, fmt.Errorf("element %v: want an integer, got %T", t, elem.Value.GetValue())
	}
	return is[0], nil
}

// nativeTensor copies uncompressed frames, each a list of pixels holding one
// value per sample, into a (frames, rows, columns, samples) tensor.
func nativeTensor(frames [][][]int, rows, columns int) (Tensor, error) {
	if rows <= 0 || columns <= 0 {
		return Tensor{}, fmt.Errorf("invalid frame size %dx%d", rows, columns)
	}
	if len(frames) == 0 {
		return Tensor{}, errNoFrames
	}
	pixels := rows * columns
	if len(frames[0]) != pixels {
		return Tensor{}, fmt.Errorf("frame 0 has %d pixels, want %d", len(frames[0]), pixels)
	}
	samples := len(frames[0][0])

	data := make([]uint16, 0, len(frames)*pixels*samples)
	for i, f := range frames {
		if len(f) != pixels {
			return Tensor{}, fmt.Errorf("frame %d has %d pixels, want %d", i, len(f), pixels)
		}
		for p, px := range f {
			if len(px) != samples {
				return Tensor{}, fmt.Errorf("frame %d pixel %d has %d samples, want %d", i, p, len(px), samples)
			}
			for _, v := range px {
				if v < 0 || v > 0xFFFF {
					return Tensor{}, fmt.Errorf("frame %d pixel %d: sample %d out of range", i, p, v)
				}
				data = append(data, uint16(v))
			}
		}
	}

	return Tensor{Shape: []int{len(frames), rows, columns, samples}, Data: data}, nil
}

// jpegTensor decodes baseline JPEG frames into a (frames, rows, columns, 3)
// tensor of 8-bit RGB samples.
func jpegTensor(frames [][]byte, rows, columns int) (Tensor, error) {
	if rows <= 0 || columns <= 0 {
		return Tensor{}, fmt.Errorf("invalid frame size %dx%d", rows, columns)
	}
	if len(frames) == 0 {
		return Tensor{}, errNoFrames
	}

	data := make([]uint16, 0, len(frames)*rows*columns*Channels)
	for i, raw := range frames {
		img, err := jpeg.Decode(bytes.NewReader(raw))
		if err != nil {
			return Tensor{}, fmt.Errorf("frame %d: %w", i, err)
		}
		bounds := img.Bounds()
		if bounds.Dx() != columns || bounds.Dy() != rows {
			return Tensor{}, fmt.Errorf("frame %d is %dx%d, want %dx%d", i, bounds.Dy(), bounds.Dx(), rows, columns)
		}
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				r, g, b, _ := img.At(x, y).RGBA()
				data = append(data, uint16(r>>8), uint16(g>>8), uint16(b>>8))
			}
		}
	}

	return Tensor{Shape: []int{len(frames), rows, columns, Channels}, Data: data}, nil
}
