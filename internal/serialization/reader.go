package serialization

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/born-ml/resnet/internal/tensor"
)

// Reader gives access to the tensors of a decoded .born file.
// The whole data section is held in memory and verified against its checksum.
type Reader struct {
	header Header
	data   []byte
}

// Open reads and validates the .born file at path.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	r, err := NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// NewReader decodes a .born stream.
func NewReader(src io.Reader) (*Reader, error) {
	fixed := make([]byte, FixedHeaderSize)
	if _, err := io.ReadFull(src, fixed); err != nil {
		return nil, fmt.Errorf("failed to read fixed header: %w", err)
	}
	if string(fixed[0:4]) != MagicBytes {
		return nil, fmt.Errorf("%w: got %q", ErrInvalidMagic, fixed[0:4])
	}
	if version := binary.LittleEndian.Uint32(fixed[4:8]); version != FormatVersion {
		return nil, fmt.Errorf("%w: got %d, expected %d", ErrUnsupportedVersion, version, FormatVersion)
	}

	r := &Reader{}
	headerSize := binary.LittleEndian.Uint64(fixed[16:24])
	dataSize := binary.LittleEndian.Uint64(fixed[24:32])
	var stored [ChecksumSize]byte
	copy(stored[:], fixed[ChecksumOffset:ChecksumOffset+ChecksumSize])

	if headerSize > MaxHeaderSize {
		return nil, ErrHeaderTooLarge
	}

	headerJSON := make([]byte, headerSize)
	if _, err := io.ReadFull(src, headerJSON); err != nil {
		return nil, fmt.Errorf("failed to read header JSON: %w", err)
	}
	if err := json.Unmarshal(headerJSON, &r.header); err != nil {
		return nil, fmt.Errorf("failed to parse header JSON: %w", err)
	}

	padding := alignedDataOffset(int64(headerSize)) - int64(FixedHeaderSize) - int64(headerSize)
	if _, err := io.CopyN(io.Discard, src, padding); err != nil {
		return nil, fmt.Errorf("failed to skip padding: %w", err)
	}

	var data bytes.Buffer
	if n, err := io.CopyN(&data, src, int64(dataSize)); err != nil {
		return nil, fmt.Errorf("failed to read tensor data (%d of %d bytes): %w", n, dataSize, err)
	}
	r.data = data.Bytes()

	if err := ValidateChecksum(ComputeChecksum(r.data), stored); err != nil {
		return nil, err
	}
	if err := ValidateHeader(&r.header, int64(len(r.data))); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return r, nil
}

// Header returns the decoded JSON header.
func (r *Reader) Header() Header {
	return r.header
}

// Metadata returns the free-form metadata of the file.
func (r *Reader) Metadata() map[string]string {
	return r.header.Metadata
}

// TensorNames returns tensor names in file order.
func (r *Reader) TensorNames() []string {
	names := make([]string, len(r.header.Tensors))
	for i, meta := range r.header.Tensors {
		names[i] = meta.Name
	}
	return names
}

// LoadTensor copies one tensor out of the file.
func (r *Reader) LoadTensor(name string) (*tensor.RawTensor, error) {
	for _, meta := range r.header.Tensors {
		if meta.Name != name {
			continue
		}
		dtype, err := tensor.ParseDataType(meta.DType)
		if err != nil {
			return nil, err
		}
		raw, err := tensor.NewRaw(tensor.Shape(meta.Shape), dtype, tensor.CPU)
		if err != nil {
			return nil, fmt.Errorf("failed to create tensor %s: %w", name, err)
		}
		copy(raw.Data(), r.data[meta.Offset:meta.Offset+meta.Size])
		return raw, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrTensorNotFound, name)
}

// ReadStateDict loads every tensor in the file.
func (r *Reader) ReadStateDict() (map[string]*tensor.RawTensor, error) {
	stateDict := make(map[string]*tensor.RawTensor, len(r.header.Tensors))
	for _, meta := range r.header.Tensors {
		raw, err := r.LoadTensor(meta.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to load tensor %s: %w", meta.Name, err)
		}
		stateDict[meta.Name] = raw
	}
	return stateDict, nil
}
