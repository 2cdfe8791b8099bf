// Package serialization implements the .bffc checkpoint format for
// optimizer state dicts.
//
// Layout:
//
//	magic "BFFC" (4 bytes)
//	format version (uint32, little-endian)
//	header size (uint64, little-endian)
//	header JSON
//	zero padding to a 64-byte boundary
//	tensor data section (raw storage bit patterns, little-endian)
//	SHA-256 checksum of everything above (32 bytes)
//
// Tensor bytes are the storage bit patterns, so a reduced-precision
// buffer restores bit-for-bit and a resumed run continues the exact
// numerical trajectory of the interrupted one.
package serialization

import (
	"time"

	"github.com/bff-ml/bff/internal/tensor"
)

// Format constants.
const (
	MagicBytes    = "BFFC"
	FormatVersion = 1
	DataAlignment = 64 // align tensor data for mmap-friendly readers
	ChecksumSize  = 32 // SHA-256
)

// Validation limits; a checkpoint is optimizer state, not a model zoo.
const (
	MaxHeaderSize    = 16 * 1024 * 1024
	MaxTensorCount   = 100_000
	MaxTensorNameLen = 1024
)

// Header is the JSON header of a .bffc file.
type Header struct {
	FormatVersion int               `json:"format_version"`
	CreatedAt     time.Time         `json:"created_at"`
	Optimizer     string            `json:"optimizer"` // e.g. "BFF"
	Tensors       []TensorMeta      `json:"tensors"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// TensorMeta describes one state buffer in the data section.
type TensorMeta struct {
	Name   string `json:"name"`   // state dict key, e.g. "exp_avg.linear.weight"
	DType  string `json:"dtype"`  // tensor.DataType name
	Shape  []int  `json:"shape"`  // buffer shape
	Offset int64  `json:"offset"` // bytes from start of the data section
	Size   int64  `json:"size"`   // bytes
}

// shapeOf converts header shape metadata back to a tensor shape.
func shapeOf(meta TensorMeta) tensor.Shape {
	return tensor.Shape(meta.Shape).Clone()
}
