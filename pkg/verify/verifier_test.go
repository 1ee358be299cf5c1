package verify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/glorpus-work/modelstore/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeArtifact(t *testing.T, data []byte) (path, hash string) {
	t.Helper()
	path = filepath.Join(t.TempDir(), "model.gguf")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	sum := sha256.Sum256(data)
	return path, hex.EncodeToString(sum[:])
}

func TestVerifier_Verify_Success(t *testing.T) {
	data := newGGUFBuilder().
		addString("general.architecture", "llama").
		addUint32("general.file_type", 1).
		addUint64("general.parameter_count", 1000).
		build()
	path, hash := writeArtifact(t, data)

	meta, err := NewVerifier().Verify(context.Background(), path, hash)
	require.NoError(t, err)
	assert.Equal(t, "llama", meta.Architecture)
	assert.Equal(t, "F16", meta.Quantization)
}

func TestVerifier_Verify_UppercaseHashAccepted(t *testing.T) {
	data := newGGUFBuilder().addString("general.architecture", "llama").build()
	path, hash := writeArtifact(t, data)

	_, err := NewVerifier().Verify(context.Background(), path, "  "+upper(hash)+"  ")
	assert.NoError(t, err)
}

func upper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'f' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}

func TestVerifier_Verify_TamperedByte(t *testing.T) {
	data := newGGUFBuilder().addString("general.architecture", "llama").build()
	path, hash := writeArtifact(t, data)

	// Flip one byte after hashing.
	tampered := make([]byte, len(data))
	copy(tampered, data)
	tampered[len(tampered)-1] ^= 0x01
	require.NoError(t, os.WriteFile(path, tampered, 0o644))

	_, err := NewVerifier().Verify(context.Background(), path, hash)
	assert.ErrorIs(t, err, errors.ErrHashMismatch)
}

func TestVerifier_Verify_HashOKButBadFormat(t *testing.T) {
	path, hash := writeArtifact(t, []byte("this is not a model file"))

	_, err := NewVerifier().Verify(context.Background(), path, hash)
	assert.ErrorIs(t, err, errors.ErrInvalidFormat)
}

func TestVerifier_Verify_MissingFile(t *testing.T) {
	_, err := NewVerifier().Verify(context.Background(), "/nonexistent/model.gguf", "00")
	assert.Error(t, err)
}

func TestHashFile_Cancelled(t *testing.T) {
	path, _ := writeArtifact(t, []byte("data"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := HashFile(ctx, path)
	assert.ErrorIs(t, err, context.Canceled)
}
