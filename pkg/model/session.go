// Package model provides the data structures shared by the modelstore
// engine: download sessions, chunks, installed models and cleanup
// suggestions.
package model

import (
	"net/url"
	"time"
)

// SessionStatus is the lifecycle state of a download session.
type SessionStatus string

// Session lifecycle states.
const (
	StatusQueued      SessionStatus = "queued"
	StatusDownloading SessionStatus = "downloading"
	StatusPaused      SessionStatus = "paused"
	StatusVerifying   SessionStatus = "verifying"
	StatusInstalling  SessionStatus = "installing"
	StatusCompleted   SessionStatus = "completed"
	StatusFailed      SessionStatus = "failed"
	StatusCancelled   SessionStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible from this status.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Active reports whether the session currently occupies a concurrency slot.
func (s SessionStatus) Active() bool {
	return s == StatusDownloading || s == StatusVerifying || s == StatusInstalling
}

// Priority orders queued sessions. Higher values are admitted first.
type Priority int

// Admission priorities.
const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 1
	PriorityHigh   Priority = 2
)

// ParsePriority converts a user-facing priority name to a Priority.
// Unknown names map to PriorityNormal.
func ParsePriority(s string) Priority {
	switch s {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	default:
		return PriorityNormal
	}
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	default:
		return "normal"
	}
}

// ArtifactRef identifies a remote artifact as provided by the discovery /
// registry collaborator.
type ArtifactRef struct {
	ModelID      string `json:"model_id"`
	VariantID    string `json:"variant_id,omitempty"`
	Version      string `json:"version,omitempty"`
	SourceURL    string `json:"source_url"`
	TotalBytes   int64  `json:"total_bytes"`
	ExpectedHash string `json:"expected_hash"`
}

// GetURL returns the parsed source URL of this artifact, or nil if invalid.
func (r *ArtifactRef) GetURL() *url.URL {
	parsed, err := url.Parse(r.SourceURL)
	if err != nil {
		return nil
	}
	return parsed
}

// DownloadSession is the per-download state record. It is created when a
// caller submits a request and mutated only by the session manager and the
// chunk scheduler.
type DownloadSession struct {
	ID       string        `json:"id"`
	Artifact ArtifactRef   `json:"artifact"`
	Name     string        `json:"name"` // manifest name to install under
	Status   SessionStatus `json:"status"`
	Priority Priority      `json:"priority"`

	TotalBytes      int64 `json:"total_bytes"`
	DownloadedBytes int64 `json:"downloaded_bytes"` // always equals the sum over chunks
	BytesPerSecond  int64 `json:"bytes_per_second"`

	RetryCount   int    `json:"retry_count"`
	ErrorMessage string `json:"error_message,omitempty"`

	DestPath string `json:"dest_path"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	PausedAt    *time.Time `json:"paused_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ChunkStatus is the transfer state of a single chunk.
type ChunkStatus string

// Chunk transfer states.
const (
	ChunkPending     ChunkStatus = "pending"
	ChunkDownloading ChunkStatus = "downloading"
	ChunkCompleted   ChunkStatus = "completed"
	ChunkFailed      ChunkStatus = "failed"
)

// Chunk is one contiguous byte range of a session's artifact, the unit of
// resumable transfer. The chunks of a session always partition
// [0, TotalBytes) with no gaps or overlaps. The persisted chunk table, not
// the partial file, is the authoritative resume checkpoint.
type Chunk struct {
	SessionID       string      `json:"session_id"`
	Index           int         `json:"index"`
	StartByte       int64       `json:"start_byte"` // inclusive
	EndByte         int64       `json:"end_byte"`   // exclusive
	DownloadedBytes int64       `json:"downloaded_bytes"`
	Status          ChunkStatus `json:"status"`
}

// Size returns the chunk length in bytes.
func (c *Chunk) Size() int64 { return c.EndByte - c.StartByte }

// SplitChunks partitions [0, totalBytes) into contiguous half-open ranges of
// at most chunkSize bytes.
func SplitChunks(sessionID string, totalBytes, chunkSize int64) []Chunk {
	if totalBytes <= 0 || chunkSize <= 0 {
		return nil
	}
	n := (totalBytes + chunkSize - 1) / chunkSize
	chunks := make([]Chunk, 0, n)
	for i := int64(0); i < n; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > totalBytes {
			end = totalBytes
		}
		chunks = append(chunks, Chunk{
			SessionID: sessionID,
			Index:     int(i),
			StartByte: start,
			EndByte:   end,
			Status:    ChunkPending,
		})
	}
	return chunks
}

// SumDownloaded returns the total downloaded bytes across chunks.
func SumDownloaded(chunks []Chunk) int64 {
	var sum int64
	for i := range chunks {
		sum += chunks[i].DownloadedBytes
	}
	return sum
}
