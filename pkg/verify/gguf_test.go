package verify

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"github.com/glorpus-work/modelstore/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ggufBuilder assembles a minimal structurally valid GGUF header for tests.
type ggufBuilder struct {
	buf     bytes.Buffer
	kv      bytes.Buffer
	tensors bytes.Buffer

	kvCount     uint64
	tensorCount uint64
}

func newGGUFBuilder() *ggufBuilder { return &ggufBuilder{} }

func (b *ggufBuilder) writeString(w *bytes.Buffer, s string) {
	_ = binary.Write(w, binary.LittleEndian, uint64(len(s)))
	w.WriteString(s)
}

func (b *ggufBuilder) addString(key, value string) *ggufBuilder {
	b.writeString(&b.kv, key)
	_ = binary.Write(&b.kv, binary.LittleEndian, uint32(ggufTypeString))
	b.writeString(&b.kv, value)
	b.kvCount++
	return b
}

func (b *ggufBuilder) addUint32(key string, value uint32) *ggufBuilder {
	b.writeString(&b.kv, key)
	_ = binary.Write(&b.kv, binary.LittleEndian, uint32(ggufTypeUint32))
	_ = binary.Write(&b.kv, binary.LittleEndian, value)
	b.kvCount++
	return b
}

func (b *ggufBuilder) addUint64(key string, value uint64) *ggufBuilder {
	b.writeString(&b.kv, key)
	_ = binary.Write(&b.kv, binary.LittleEndian, uint32(ggufTypeUint64))
	_ = binary.Write(&b.kv, binary.LittleEndian, value)
	b.kvCount++
	return b
}

func (b *ggufBuilder) addTensor(name string, dims []uint64) *ggufBuilder {
	b.writeString(&b.tensors, name)
	_ = binary.Write(&b.tensors, binary.LittleEndian, uint32(len(dims)))
	for _, d := range dims {
		_ = binary.Write(&b.tensors, binary.LittleEndian, d)
	}
	_ = binary.Write(&b.tensors, binary.LittleEndian, uint32(0)) // tensor type
	_ = binary.Write(&b.tensors, binary.LittleEndian, uint64(0)) // data offset
	b.tensorCount++
	return b
}

func (b *ggufBuilder) build() []byte {
	_ = binary.Write(&b.buf, binary.LittleEndian, uint32(ggufMagic))
	_ = binary.Write(&b.buf, binary.LittleEndian, uint32(3))
	_ = binary.Write(&b.buf, binary.LittleEndian, b.tensorCount)
	_ = binary.Write(&b.buf, binary.LittleEndian, b.kvCount)
	b.buf.Write(b.kv.Bytes())
	b.buf.Write(b.tensors.Bytes())
	return b.buf.Bytes()
}

func TestParseGGUF_FullHeader(t *testing.T) {
	data := newGGUFBuilder().
		addString("general.architecture", "llama").
		addUint32("general.file_type", 15).
		addUint64("general.parameter_count", 7_000_000_000).
		addUint32("llama.context_length", 4096).
		addUint32("llama.embedding_length", 4096).
		addUint32("llama.block_count", 32).
		addUint32("llama.attention.head_count", 32).
		build()

	meta, err := ParseGGUF(context.Background(), bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "llama", meta.Architecture)
	assert.Equal(t, "Q4_K_M", meta.Quantization)
	assert.Equal(t, int64(7_000_000_000), meta.ParameterCount)
	assert.Equal(t, int64(4096), meta.ContextLength)
	assert.Equal(t, int64(4096), meta.EmbeddingLength)
	assert.Equal(t, int64(32), meta.BlockCount)
	assert.Equal(t, int64(32), meta.HeadCount)
}

func TestParseGGUF_ParamCountFromTensors(t *testing.T) {
	data := newGGUFBuilder().
		addString("general.architecture", "llama").
		addTensor("token_embd.weight", []uint64{4096, 32000}).
		addTensor("output_norm.weight", []uint64{4096}).
		build()

	meta, err := ParseGGUF(context.Background(), bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, int64(4096*32000+4096), meta.ParameterCount)
}

func TestParseGGUF_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "bad magic", data: []byte{0xde, 0xad, 0xbe, 0xef, 3, 0, 0, 0}},
		{name: "truncated after magic", data: []byte{0x47, 0x47, 0x55, 0x46}},
		{name: "unsupported version", data: func() []byte {
			var buf bytes.Buffer
			_ = binary.Write(&buf, binary.LittleEndian, uint32(ggufMagic))
			_ = binary.Write(&buf, binary.LittleEndian, uint32(1))
			_ = binary.Write(&buf, binary.LittleEndian, uint64(0))
			_ = binary.Write(&buf, binary.LittleEndian, uint64(0))
			return buf.Bytes()
		}()},
		{name: "missing architecture", data: newGGUFBuilder().
			addUint32("general.file_type", 1).
			build()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseGGUF(context.Background(), bytes.NewReader(tt.data))
			assert.ErrorIs(t, err, errors.ErrInvalidFormat)
		})
	}
}

func TestParseGGUF_ArraysAreSkipped(t *testing.T) {
	b := newGGUFBuilder().addString("general.architecture", "llama")

	// An array value before the architecture key must be consumed cleanly.
	b.writeString(&b.kv, "tokenizer.ggml.tokens")
	_ = binary.Write(&b.kv, binary.LittleEndian, uint32(ggufTypeArray))
	_ = binary.Write(&b.kv, binary.LittleEndian, uint32(ggufTypeString))
	_ = binary.Write(&b.kv, binary.LittleEndian, uint64(3))
	for _, s := range []string{"<s>", "</s>", "<unk>"} {
		b.writeString(&b.kv, s)
	}
	b.kvCount++

	meta, err := ParseGGUF(context.Background(), bytes.NewReader(b.build()))
	require.NoError(t, err)
	assert.Equal(t, "llama", meta.Architecture)
}
