// Package store manages the content-addressed blob store and the manifests
// referencing it, tracks disk usage, and derives cleanup suggestions.
package store

import (
	"context"
	"time"

	"github.com/glorpus-work/modelstore/pkg/model"
)

//go:generate mockgen -destination=./mocks/store.go -package=mocks . Manager

// Accounting is a point-in-time view of disk usage under the storage root.
type Accounting struct {
	TotalDiskBytes int64 `json:"total_disk_bytes"`
	FreeDiskBytes  int64 `json:"free_disk_bytes"`

	// ModelsBytes counts referenced blobs; shared blobs count once.
	ModelsBytes int64 `json:"models_bytes"`

	// PartialBytes counts in-progress download files.
	PartialBytes int64 `json:"partial_bytes"`

	// OrphanBytes counts blobs no manifest references anymore.
	OrphanBytes int64 `json:"orphan_bytes"`

	// LowOnSpace is set when free space is below the configured threshold.
	LowOnSpace bool `json:"low_on_space"`
}

// Manager owns blobs, manifests and disk accounting. Blob content is
// addressed by its sha256; manifests are named references with independent
// lifecycles, and a blob is only reclaimed when its last manifest is gone.
type Manager interface {
	// Install moves a verified file into the blob store and creates the
	// manifest. When a blob with the same hash already exists the file is
	// discarded and the existing blob is reused.
	Install(ctx context.Context, manifest *model.InstalledModel, srcPath string) error

	// Get returns the manifest with the given name.
	Get(ctx context.Context, name string) (*model.InstalledModel, error)

	// List returns all installed manifests.
	List(ctx context.Context) ([]*model.InstalledModel, error)

	// Remove deletes a manifest, reclaiming the blob when it was the last
	// reference.
	Remove(ctx context.Context, name string) error

	// Touch records one use of an installed model.
	Touch(ctx context.Context, name string, duration time.Duration) error

	// Accounting reports disk usage under the storage root.
	Accounting(ctx context.Context) (Accounting, error)

	// EnsureSpace checks that admitting a download of the given size would
	// not push free space below the threshold. It returns
	// errors.ErrInsufficientSpace when it would.
	EnsureSpace(ctx context.Context, sizeBytes int64) error

	// SweepOrphans deletes unreferenced blobs and returns the bytes
	// reclaimed.
	SweepOrphans(ctx context.Context) (int64, error)

	// SuggestCleanup scores installed models for removal, highest priority
	// first. When targetFreeBytes is positive, the list is cut off once the
	// suggested removals would bring free space up to the target.
	SuggestCleanup(ctx context.Context, targetFreeBytes int64) ([]model.CleanupSuggestion, error)

	// ApplyCleanup removes the suggested models and returns the bytes
	// reclaimed.
	ApplyCleanup(ctx context.Context, suggestions []model.CleanupSuggestion) (int64, error)
}
