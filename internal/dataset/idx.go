// Package dataset reads IDX image and label archives and serves them as
// batches of tensors.
//
// IDX layout (all header fields are big-endian uint32):
//
//	images: magic 2051, count, rows, cols, then count*rows*cols uint8 pixels
//	labels: magic 2049, count, then count uint8 labels
//
// Pixels are scaled to [0, 1] by dividing by 255; labels become int64 class
// indices.
package dataset

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// IDX magic numbers.
const (
	ImagesMagic = 2051
	LabelsMagic = 2049
)

// maxPayload bounds the allocation a header can request.
const maxPayload = 1 << 31

var (
	// ErrInvalidMagic is returned when an archive starts with the wrong magic number.
	ErrInvalidMagic = errors.New("idx: invalid magic number")

	// ErrTruncated is returned when an archive ends before its header says it should.
	ErrTruncated = errors.New("idx: truncated archive")

	// ErrTrailingData is returned when bytes follow the declared payload.
	ErrTrailingData = errors.New("idx: trailing data after payload")
)

// Images is a decoded image archive.
type Images struct {
	Count  int
	Rows   int
	Cols   int
	Pixels []float32 // Count*Rows*Cols values in [0, 1], image-major
}

// ImageSize returns Rows*Cols.
func (im *Images) ImageSize() int {
	return im.Rows * im.Cols
}

// ReadImages reads an image archive from path.
func ReadImages(path string) (*Images, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("idx: %w", err)
	}
	defer func() { _ = f.Close() }()

	images, err := DecodeImages(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return images, nil
}

// DecodeImages decodes an image archive from r.
func DecodeImages(r io.Reader) (*Images, error) {
	br := bufio.NewReader(r)

	var header [4]uint32
	if err := readHeader(br, header[:]); err != nil {
		return nil, err
	}
	if header[0] != ImagesMagic {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidMagic, header[0], ImagesMagic)
	}

	count, rows, cols := int(header[1]), int(header[2]), int(header[3])
	raw, err := readPayload(br, uint64(header[1])*uint64(header[2])*uint64(header[3]))
	if err != nil {
		return nil, err
	}

	pixels := make([]float32, len(raw))
	for i, b := range raw {
		pixels[i] = float32(b) / 255
	}
	return &Images{Count: count, Rows: rows, Cols: cols, Pixels: pixels}, nil
}

// ReadLabels reads a label archive from path.
func ReadLabels(path string) ([]int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("idx: %w", err)
	}
	defer func() { _ = f.Close() }()

	labels, err := DecodeLabels(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return labels, nil
}

// DecodeLabels decodes a label archive from r.
func DecodeLabels(r io.Reader) ([]int64, error) {
	br := bufio.NewReader(r)

	var header [2]uint32
	if err := readHeader(br, header[:]); err != nil {
		return nil, err
	}
	if header[0] != LabelsMagic {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidMagic, header[0], LabelsMagic)
	}

	raw, err := readPayload(br, uint64(header[1]))
	if err != nil {
		return nil, err
	}

	labels := make([]int64, len(raw))
	for i, b := range raw {
		labels[i] = int64(b)
	}
	return labels, nil
}

// CheckLabels reports the first label outside [0, numClasses).
func CheckLabels(labels []int64, numClasses int) error {
	for i, l := range labels {
		if l < 0 || l >= int64(numClasses) {
			return fmt.Errorf("idx: label %d at index %d outside [0, %d)", l, i, numClasses)
		}
	}
	return nil
}

func readHeader(r io.Reader, fields []uint32) error {
	if err := binary.Read(r, binary.BigEndian, fields); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: incomplete header", ErrTruncated)
		}
		return fmt.Errorf("idx: failed to read header: %w", err)
	}
	return nil
}

func readPayload(r *bufio.Reader, size uint64) ([]byte, error) {
	if size > maxPayload {
		return nil, fmt.Errorf("idx: header declares %d bytes, limit is %d", size, maxPayload)
	}
	buf := make([]byte, size)
	if n, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: got %d of %d payload bytes", ErrTruncated, n, size)
		}
		return nil, fmt.Errorf("idx: failed to read payload: %w", err)
	}
	if _, err := r.Peek(1); err == nil {
		return nil, ErrTrailingData
	}
	return buf, nil
}
