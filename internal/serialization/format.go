package serialization

import "time"

// Format constants.
const (
	MagicBytes      = "BORN"
	FormatVersion   = 2
	HeaderAlignment = 64 // tensor data starts on a 64-byte boundary
	FixedHeaderSize = 64
	ChecksumSize    = 32
	ChecksumOffset  = 0x20
)

// Flags for the .born format.
const (
	FlagHasMetadata uint32 = 1 << 2
)

// Producer identifies files written by this module.
const Producer = "born-ml/resnet"

// Header represents the JSON header in a .born file.
type Header struct {
	FormatVersion int               `json:"format_version"`
	Producer      string            `json:"producer"`
	ModelType     string            `json:"model_type"` // e.g. "ResNet18"
	CreatedAt     time.Time         `json:"created_at"`
	Tensors       []TensorMeta      `json:"tensors"`
	Metadata      map[string]string `json:"metadata"`
}

// TensorMeta describes a tensor in the .born file.
type TensorMeta struct {
	Name   string `json:"name"`   // e.g. "stages.0.0.conv1.weight"
	DType  string `json:"dtype"`  // e.g. "float32"
	Shape  []int  `json:"shape"`  // outermost first
	Offset int64  `json:"offset"` // bytes from the start of the data section
	Size   int64  `json:"size"`   // bytes
}

func alignedDataOffset(headerSize int64) int64 {
	pos := int64(FixedHeaderSize) + headerSize
	return pos + (HeaderAlignment-pos%HeaderAlignment)%HeaderAlignment
}
