//go:generate mockgen -destination=./mocks/download.go -package=mocks . TransferClient,ChunkRecorder

// Package download implements the chunk scheduler: it splits a single
// artifact transfer into byte-range chunks and runs bounded-parallel fetch
// workers with per-chunk retry, persisting chunk progress so an interrupted
// transfer resumes without re-fetching completed ranges.
package download

import (
	"context"
	"io"

	"github.com/glorpus-work/modelstore/pkg/model"
)

// Capabilities describes what the transfer source supports, discovered by a
// probe before scheduling.
type Capabilities struct {
	// AcceptRanges reports whether the source honors byte-range requests.
	AcceptRanges bool

	// ContentLength is the artifact size reported by the source, or -1 when
	// unknown.
	ContentLength int64
}

// TransferClient abstracts the range-capable transfer protocol. The engine
// is a client of a standard HTTP-like transport and never implements its
// own.
type TransferClient interface {
	// Probe detects source capabilities without transferring the body.
	Probe(ctx context.Context, url string) (Capabilities, error)

	// FetchRange requests the half-open byte range [start, end). It fails
	// with errors.ErrRangeSupportDropped if the source answers with a full
	// body instead of the requested range.
	FetchRange(ctx context.Context, url string, start, end int64) (io.ReadCloser, error)

	// Fetch requests the complete body, for sources without range support.
	Fetch(ctx context.Context, url string) (io.ReadCloser, error)
}

// ChunkRecorder persists chunk state. A chunk's Completed record is the
// resume checkpoint, not the raw file write alone: a file can contain bytes
// not yet confirmed durable.
type ChunkRecorder interface {
	RecordChunk(ctx context.Context, chunk model.Chunk) error
}
