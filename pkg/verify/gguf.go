package verify

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/glorpus-work/modelstore/pkg/errors"
	"github.com/glorpus-work/modelstore/pkg/model"
)

// GGUF header constants.
const (
	ggufMagic = 0x46554747 // "GGUF" little-endian

	// Sanity bounds for a structurally valid header. A header exceeding
	// these is rejected rather than trusted to drive allocations.
	maxStringLen   = 1 << 20 // 1 MiB
	maxKVCount     = 1 << 20
	maxTensorCount = 1 << 28
	maxDims        = 8
)

// GGUF metadata value types.
const (
	ggufTypeUint8   = 0
	ggufTypeInt8    = 1
	ggufTypeUint16  = 2
	ggufTypeInt16   = 3
	ggufTypeUint32  = 4
	ggufTypeInt32   = 5
	ggufTypeFloat32 = 6
	ggufTypeBool    = 7
	ggufTypeString  = 8
	ggufTypeArray   = 9
	ggufTypeUint64  = 10
	ggufTypeInt64   = 11
	ggufTypeFloat64 = 12
)

// fileTypeNames maps general.file_type values to quantization tags.
var fileTypeNames = map[uint32]string{
	0:  "F32",
	1:  "F16",
	2:  "Q4_0",
	3:  "Q4_1",
	7:  "Q8_0",
	8:  "Q5_0",
	9:  "Q5_1",
	10: "Q2_K",
	11: "Q3_K_S",
	12: "Q3_K_M",
	13: "Q3_K_L",
	14: "Q4_K_S",
	15: "Q4_K_M",
	16: "Q5_K_S",
	17: "Q5_K_M",
	18: "Q6_K",
	19: "IQ2_XXS",
	20: "IQ2_XS",
	21: "Q2_K_S",
	24: "IQ1_S",
	25: "IQ4_NL",
	30: "BF16",
}

// ParseGGUF reads a GGUF header from r and extracts the model metadata. It
// parses the key-value block and the tensor info table; weights are never
// read. A structurally invalid header yields ErrInvalidFormat.
func ParseGGUF(ctx context.Context, r io.Reader) (model.ModelMetadata, error) {
	br := bufio.NewReaderSize(r, 1<<16)
	var meta model.ModelMetadata

	var magic uint32
	if err := binary.Read(br, binary.LittleEndian, &magic); err != nil {
		return meta, errors.Wrap(errors.ErrInvalidFormat, "short read on magic")
	}
	if magic != ggufMagic {
		return meta, errors.Wrapf(errors.ErrInvalidFormat, "bad magic 0x%08x", magic)
	}

	var version uint32
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return meta, errors.Wrap(errors.ErrInvalidFormat, "short read on version")
	}
	if version < 2 || version > 3 {
		return meta, errors.Wrapf(errors.ErrInvalidFormat, "unsupported version %d", version)
	}

	var tensorCount, kvCount uint64
	if err := binary.Read(br, binary.LittleEndian, &tensorCount); err != nil {
		return meta, errors.Wrap(errors.ErrInvalidFormat, "short read on tensor count")
	}
	if err := binary.Read(br, binary.LittleEndian, &kvCount); err != nil {
		return meta, errors.Wrap(errors.ErrInvalidFormat, "short read on kv count")
	}
	if tensorCount > maxTensorCount || kvCount > maxKVCount {
		return meta, errors.Wrapf(errors.ErrInvalidFormat, "implausible counts: %d tensors, %d kv", tensorCount, kvCount)
	}

	kv := make(map[string]interface{})
	for i := uint64(0); i < kvCount; i++ {
		if err := ctx.Err(); err != nil {
			return meta, err
		}
		key, err := readGGUFString(br)
		if err != nil {
			return meta, errors.Wrapf(errors.ErrInvalidFormat, "kv %d key: %v", i, err)
		}
		value, err := readGGUFValue(br)
		if err != nil {
			return meta, errors.Wrapf(errors.ErrInvalidFormat, "kv %q value: %v", key, err)
		}
		kv[key] = value
	}

	arch, _ := kv["general.architecture"].(string)
	if arch == "" {
		return meta, errors.Wrap(errors.ErrInvalidFormat, "missing general.architecture")
	}
	meta.Architecture = arch
	meta.ContextLength = kvInt(kv, arch+".context_length")
	meta.EmbeddingLength = kvInt(kv, arch+".embedding_length")
	meta.BlockCount = kvInt(kv, arch+".block_count")
	meta.HeadCount = kvInt(kv, arch+".attention.head_count")

	if ft, ok := kv["general.file_type"]; ok {
		if name, known := fileTypeNames[uint32(asInt64(ft))]; known {
			meta.Quantization = name
		} else {
			meta.Quantization = fmt.Sprintf("unknown(%d)", asInt64(ft))
		}
	}

	// Prefer the declared parameter count; fall back to summing tensor
	// element counts from the tensor info table.
	if pc := kvInt(kv, "general.parameter_count"); pc > 0 {
		meta.ParameterCount = pc
	} else {
		params, err := sumTensorElements(ctx, br, tensorCount)
		if err != nil {
			return meta, err
		}
		meta.ParameterCount = params
	}

	return meta, nil
}

// sumTensorElements walks the tensor info table and sums element counts.
func sumTensorElements(ctx context.Context, br *bufio.Reader, tensorCount uint64) (int64, error) {
	var total int64
	for i := uint64(0); i < tensorCount; i++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if _, err := readGGUFString(br); err != nil {
			return 0, errors.Wrapf(errors.ErrInvalidFormat, "tensor %d name: %v", i, err)
		}
		var nDims uint32
		if err := binary.Read(br, binary.LittleEndian, &nDims); err != nil {
			return 0, errors.Wrapf(errors.ErrInvalidFormat, "tensor %d dims: %v", i, err)
		}
		if nDims > maxDims {
			return 0, errors.Wrapf(errors.ErrInvalidFormat, "tensor %d has %d dimensions", i, nDims)
		}
		elements := int64(1)
		for d := uint32(0); d < nDims; d++ {
			var dim uint64
			if err := binary.Read(br, binary.LittleEndian, &dim); err != nil {
				return 0, errors.Wrapf(errors.ErrInvalidFormat, "tensor %d dim %d: %v", i, d, err)
			}
			elements *= int64(dim)
		}
		// tensor type + data offset
		var ttype uint32
		var offset uint64
		if err := binary.Read(br, binary.LittleEndian, &ttype); err != nil {
			return 0, errors.Wrapf(errors.ErrInvalidFormat, "tensor %d type: %v", i, err)
		}
		if err := binary.Read(br, binary.LittleEndian, &offset); err != nil {
			return 0, errors.Wrapf(errors.ErrInvalidFormat, "tensor %d offset: %v", i, err)
		}
		total += elements
	}
	return total, nil
}

func readGGUFString(br *bufio.Reader) (string, error) {
	var length uint64
	if err := binary.Read(br, binary.LittleEndian, &length); err != nil {
		return "", err
	}
	if length > maxStringLen {
		return "", fmt.Errorf("string length %d exceeds limit", length)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(br, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func readGGUFValue(br *bufio.Reader) (interface{}, error) {
	var vtype uint32
	if err := binary.Read(br, binary.LittleEndian, &vtype); err != nil {
		return nil, err
	}
	return readGGUFTypedValue(br, vtype)
}

func readGGUFTypedValue(br *bufio.Reader, vtype uint32) (interface{}, error) {
	switch vtype {
	case ggufTypeUint8:
		var v uint8
		err := binary.Read(br, binary.LittleEndian, &v)
		return v, err
	case ggufTypeInt8:
		var v int8
		err := binary.Read(br, binary.LittleEndian, &v)
		return v, err
	case ggufTypeUint16:
		var v uint16
		err := binary.Read(br, binary.LittleEndian, &v)
		return v, err
	case ggufTypeInt16:
		var v int16
		err := binary.Read(br, binary.LittleEndian, &v)
		return v, err
	case ggufTypeUint32:
		var v uint32
		err := binary.Read(br, binary.LittleEndian, &v)
		return v, err
	case ggufTypeInt32:
		var v int32
		err := binary.Read(br, binary.LittleEndian, &v)
		return v, err
	case ggufTypeFloat32:
		var v float32
		err := binary.Read(br, binary.LittleEndian, &v)
		return v, err
	case ggufTypeBool:
		var v uint8
		err := binary.Read(br, binary.LittleEndian, &v)
		return v != 0, err
	case ggufTypeString:
		return readGGUFString(br)
	case ggufTypeUint64:
		var v uint64
		err := binary.Read(br, binary.LittleEndian, &v)
		return v, err
	case ggufTypeInt64:
		var v int64
		err := binary.Read(br, binary.LittleEndian, &v)
		return v, err
	case ggufTypeFloat64:
		var v float64
		err := binary.Read(br, binary.LittleEndian, &v)
		return v, err
	case ggufTypeArray:
		var elemType uint32
		if err := binary.Read(br, binary.LittleEndian, &elemType); err != nil {
			return nil, err
		}
		var count uint64
		if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
			return nil, err
		}
		if count > maxKVCount {
			return nil, fmt.Errorf("array length %d exceeds limit", count)
		}
		// Array contents are consumed but not retained; nothing in the
		// extracted metadata needs them.
		for i := uint64(0); i < count; i++ {
			if _, err := readGGUFTypedValue(br, elemType); err != nil {
				return nil, err
			}
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown value type %d", vtype)
	}
}

// kvInt extracts an integer-valued key from the metadata block.
func kvInt(kv map[string]interface{}, key string) int64 {
	v, ok := kv[key]
	if !ok {
		return 0
	}
	return asInt64(v)
}

func asInt64(v interface{}) int64 {
	switch n := v.(type) {
	case uint8:
		return int64(n)
	case int8:
		return int64(n)
	case uint16:
		return int64(n)
	case int16:
		return int64(n)
	case uint32:
		return int64(n)
	case int32:
		return int64(n)
	case uint64:
		return int64(n)
	case int64:
		return n
	case float32:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
