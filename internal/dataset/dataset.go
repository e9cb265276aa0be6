package dataset

import (
	"errors"
	"fmt"
)

// ErrMismatchedLength is returned when image and label counts differ.
var ErrMismatchedLength = errors.New("dataset: image and label counts differ")

// Dataset pairs images with labels. It is immutable after construction.
type Dataset struct {
	pixels    []float32
	labels    []int64
	rows      int
	cols      int
	imageSize int
}

// New pairs decoded images with labels.
func New(images *Images, labels []int64) (*Dataset, error) {
	if images == nil {
		return nil, errors.New("dataset: nil images")
	}
	if images.Count != len(labels) {
		return nil, fmt.Errorf("%w: %d images, %d labels", ErrMismatchedLength, images.Count, len(labels))
	}
	if len(images.Pixels) != images.Count*images.ImageSize() {
		return nil, fmt.Errorf("dataset: %d pixels do not fill %d images of %dx%d",
			len(images.Pixels), images.Count, images.Rows, images.Cols)
	}
	return &Dataset{
		pixels:    images.Pixels,
		labels:    labels,
		rows:      images.Rows,
		cols:      images.Cols,
		imageSize: images.ImageSize(),
	}, nil
}

// Len returns the number of samples.
func (d *Dataset) Len() int {
	return len(d.labels)
}

// Rows returns the image height.
func (d *Dataset) Rows() int { return d.rows }

// Cols returns the image width.
func (d *Dataset) Cols() int { return d.cols }

// Get returns sample i. The image slice aliases the dataset and must not be modified.
func (d *Dataset) Get(i int) (image []float32, label int64) {
	if i < 0 || i >= d.Len() {
		panic(fmt.Sprintf("dataset: index %d out of range [0, %d)", i, d.Len()))
	}
	return d.pixels[i*d.imageSize : (i+1)*d.imageSize], d.labels[i]
}

// Subset returns a dataset holding the first n samples. A non-positive n,
// or one at least Len, returns d itself.
func (d *Dataset) Subset(n int) *Dataset {
	if n <= 0 || n >= d.Len() {
		return d
	}
	sub := *d
	sub.pixels = d.pixels[:n*d.imageSize]
	sub.labels = d.labels[:n]
	return &sub
}
