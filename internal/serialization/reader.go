package serialization

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/bff-ml/bff/internal/tensor"
)

// Read parses a .bffc checkpoint and reconstructs its state dict.
// The checksum and every header entry are validated before any tensor
// is materialized.
func Read(r io.Reader) (map[string]*tensor.RawTensor, *Header, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("read checkpoint: %w", err)
	}
	if len(raw) < 4+4+8+ChecksumSize {
		return nil, nil, ErrTruncated
	}

	body := raw[:len(raw)-ChecksumSize]
	var stored [ChecksumSize]byte
	copy(stored[:], raw[len(raw)-ChecksumSize:])
	if err := ValidateChecksum(ComputeChecksum(body), stored); err != nil {
		return nil, nil, err
	}

	if string(body[:4]) != MagicBytes {
		return nil, nil, ErrInvalidMagic
	}
	version := binary.LittleEndian.Uint32(body[4:8])
	if version != FormatVersion {
		return nil, nil, fmt.Errorf("%w: got %d, expected %d", ErrUnsupportedVersion, version, FormatVersion)
	}
	headerSize := binary.LittleEndian.Uint64(body[8:16])
	if headerSize > MaxHeaderSize {
		return nil, nil, ErrHeaderTooLarge
	}
	if uint64(len(body)) < 16+headerSize {
		return nil, nil, ErrTruncated
	}

	var header Header
	if err := json.Unmarshal(body[16:16+headerSize], &header); err != nil {
		return nil, nil, fmt.Errorf("parse header JSON: %w", err)
	}

	dataStart := int(16 + headerSize)
	dataStart += (DataAlignment - dataStart%DataAlignment) % DataAlignment
	if dataStart > len(body) {
		return nil, nil, ErrTruncated
	}
	data := body[dataStart:]

	if err := validateTensorMetas(header.Tensors, int64(len(data))); err != nil {
		return nil, nil, err
	}

	dict := make(map[string]*tensor.RawTensor, len(header.Tensors))
	for _, meta := range header.Tensors {
		dtype, err := tensor.ParseDataType(meta.DType)
		if err != nil {
			return nil, nil, &ValidationError{Type: "invalid_dtype", Tensor: meta.Name, Details: err.Error()}
		}
		t, err := tensor.NewRaw(shapeOf(meta), dtype)
		if err != nil {
			return nil, nil, &ValidationError{Type: "invalid_shape", Tensor: meta.Name, Details: err.Error()}
		}
		if int64(t.ByteSize()) != meta.Size {
			return nil, nil, &ValidationError{
				Type: "size_mismatch", Tensor: meta.Name,
				Details: fmt.Sprintf("header says %d bytes, shape/dtype imply %d", meta.Size, t.ByteSize()),
			}
		}
		if err := t.SetBytes(data[meta.Offset : meta.Offset+meta.Size]); err != nil {
			return nil, nil, fmt.Errorf("tensor %q: %w", meta.Name, err)
		}
		dict[meta.Name] = t
	}
	return dict, &header, nil
}

// ReadFile parses the checkpoint at path.
func ReadFile(path string) (map[string]*tensor.RawTensor, *Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open checkpoint: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// validateTensorMetas checks names, bounds and overlaps before any
// data is trusted. Malformed files must fail here, not corrupt state.
func validateTensorMetas(metas []TensorMeta, dataSize int64) error {
	if len(metas) > MaxTensorCount {
		return &ValidationError{
			Type:    "too_many_tensors",
			Details: fmt.Sprintf("got %d, max %d", len(metas), MaxTensorCount),
		}
	}

	seen := make(map[string]bool, len(metas))
	for _, m := range metas {
		if err := validateTensorName(m.Name); err != nil {
			return err
		}
		if seen[m.Name] {
			return &ValidationError{Type: "duplicate_name", Tensor: m.Name, Details: "tensor listed twice"}
		}
		seen[m.Name] = true
	}

	sorted := make([]TensorMeta, len(metas))
	copy(sorted, metas)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Offset < sorted[j].Offset })

	for i, t := range sorted {
		if t.Offset < 0 || t.Size < 0 {
			return &ValidationError{
				Type: "negative_offset", Tensor: t.Name,
				Details: fmt.Sprintf("offset=%d, size=%d", t.Offset, t.Size),
			}
		}
		if t.Offset+t.Size > dataSize {
			return &ValidationError{
				Type: "out_of_bounds", Tensor: t.Name,
				Details: fmt.Sprintf("offset %d + size %d > data size %d", t.Offset, t.Size, dataSize),
			}
		}
		if i < len(sorted)-1 {
			next := sorted[i+1]
			if t.Offset+t.Size > next.Offset {
				return &ValidationError{
					Type: "offset_overlap", Tensor: t.Name, Tensor2: next.Name,
					Details: fmt.Sprintf("regions [%d-%d] and [%d-%d] overlap",
						t.Offset, t.Offset+t.Size, next.Offset, next.Offset+next.Size),
				}
			}
		}
	}
	return nil
}
