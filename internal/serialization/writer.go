package serialization

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/bff-ml/bff/internal/tensor"
)

// Write serializes a state dict to w in .bffc format.
//
// Tensors are laid out in sorted key order so the same state always
// produces the same bytes.
func Write(w io.Writer, stateDict map[string]*tensor.RawTensor, metadata map[string]string) error {
	names := make([]string, 0, len(stateDict))
	for name := range stateDict {
		if err := validateTensorName(name); err != nil {
			return err
		}
		names = append(names, name)
	}
	sort.Strings(names)

	header := Header{
		FormatVersion: FormatVersion,
		CreatedAt:     time.Now().UTC(),
		Optimizer:     "BFF",
		Metadata:      metadata,
		Tensors:       make([]TensorMeta, 0, len(names)),
	}

	var offset int64
	for _, name := range names {
		raw := stateDict[name]
		if raw.IsSparse() {
			return fmt.Errorf("tensor %q: sparse tensors are not serializable", name)
		}
		size := int64(raw.ByteSize())
		header.Tensors = append(header.Tensors, TensorMeta{
			Name:   name,
			DType:  raw.DType().String(),
			Shape:  []int(raw.Shape().Clone()),
			Offset: offset,
			Size:   size,
		})
		offset += size
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("marshal header: %w", err)
	}
	if len(headerJSON) > MaxHeaderSize {
		return ErrHeaderTooLarge
	}

	// Assemble the whole file so the trailing checksum covers it.
	buf := make([]byte, 0, 4+4+8+len(headerJSON)+int(offset)+DataAlignment)
	buf = append(buf, MagicBytes...)
	buf = binary.LittleEndian.AppendUint32(buf, FormatVersion)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(headerJSON)))
	buf = append(buf, headerJSON...)
	if pad := (DataAlignment - len(buf)%DataAlignment) % DataAlignment; pad > 0 {
		buf = append(buf, make([]byte, pad)...)
	}
	for _, name := range names {
		buf = append(buf, stateDict[name].Bytes()...)
	}

	sum := ComputeChecksum(buf)
	buf = append(buf, sum[:]...)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

// WriteFile serializes a state dict to path, replacing any existing
// file only after the full write succeeds.
func WriteFile(path string, stateDict map[string]*tensor.RawTensor, metadata map[string]string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create checkpoint: %w", err)
	}

	if err := Write(f, stateDict, metadata); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("finalize checkpoint: %w", err)
	}
	return nil
}

// validateTensorName rejects names that would make header parsing or
// downstream key handling ambiguous.
func validateTensorName(name string) error {
	if name == "" {
		return &ValidationError{Type: "invalid_name", Details: "empty tensor name"}
	}
	if len(name) > MaxTensorNameLen {
		return &ValidationError{
			Type: "name_too_long", Tensor: name,
			Details: fmt.Sprintf("length %d > max %d", len(name), MaxTensorNameLen),
		}
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7F {
			return &ValidationError{
				Type: "invalid_name", Tensor: name,
				Details: "control character in tensor name",
			}
		}
	}
	return nil
}
