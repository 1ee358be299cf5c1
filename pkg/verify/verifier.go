// Package verify implements streaming integrity verification of downloaded
// artifacts: cryptographic hash comparison and binary-format header
// validation. Both checks run in bounded memory regardless of artifact size.
package verify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"strings"

	"github.com/glorpus-work/modelstore/pkg/errors"
	"github.com/glorpus-work/modelstore/pkg/model"
)

// Verifier runs the two independent integrity checks on a completed
// artifact: hash verification first (a corrupt transfer is cheaper to detect
// than a deep format parse), then format validation.
type Verifier struct{}

// NewVerifier creates a new Verifier instance.
func NewVerifier() *Verifier {
	return &Verifier{}
}

// Verify checks the artifact at path against expectedHash and validates its
// header, returning the extracted metadata. Both failure modes are
// non-retryable: callers must discard the artifact.
func (v *Verifier) Verify(ctx context.Context, path, expectedHash string) (model.ModelMetadata, error) {
	if err := v.VerifyHash(ctx, path, expectedHash); err != nil {
		return model.ModelMetadata{}, err
	}
	return v.ValidateFormat(ctx, path)
}

// VerifyHash computes the SHA-256 digest of the file at path and compares it
// to the expected hex-encoded value. No partial trust is extended to a
// mismatched file, even if most bytes are correct.
func (v *Verifier) VerifyHash(ctx context.Context, path, expectedHash string) error {
	actual, err := HashFile(ctx, path)
	if err != nil {
		return err
	}
	if actual != normalizeHex(expectedHash) {
		return errors.Wrapf(errors.ErrHashMismatch, "expected %s, got %s", normalizeHex(expectedHash), actual)
	}
	return nil
}

// ValidateFormat parses the artifact's structured header without
// materializing weights and extracts the model metadata.
func (v *Verifier) ValidateFormat(ctx context.Context, path string) (model.ModelMetadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.ModelMetadata{}, errors.Wrap(err, "open for format validation")
	}
	defer func() { _ = f.Close() }()

	meta, err := ParseGGUF(ctx, f)
	if err != nil {
		return model.ModelMetadata{}, err
	}
	return meta, nil
}

// HashFile computes the hex-encoded SHA-256 digest of a file with a bounded
// buffer. The context is checked between copy windows so large files stay
// cancellable.
func HashFile(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrap(err, "open for checksum")
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	buf := make([]byte, 1024*1024)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n, err := f.Read(buf)
		if n > 0 {
			_, _ = h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", errors.Wrap(err, "hashing")
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashReader computes the hex-encoded SHA-256 digest of everything in r.
func HashReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", errors.Wrap(err, "hashing")
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func normalizeHex(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
