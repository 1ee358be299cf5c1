package model

import (
	"time"

	"github.com/hashicorp/go-version"
)

// ModelMetadata is the structural metadata extracted from an artifact's
// header during verification. Weights are never materialized to obtain it.
type ModelMetadata struct {
	Architecture    string `json:"architecture"`
	ParameterCount  int64  `json:"parameter_count"`
	ContextLength   int64  `json:"context_length"`
	EmbeddingLength int64  `json:"embedding_length"`
	BlockCount      int64  `json:"block_count"`
	HeadCount       int64  `json:"head_count"`
	Quantization    string `json:"quantization"`
}

// InstalledModel is a manifest record referencing a content-addressed blob.
// Manifests and blobs have independent lifecycles: several manifests may
// reference one blob, and the last referencing manifest must be deleted
// before the blob itself may be reclaimed.
type InstalledModel struct {
	Name      string `json:"name"` // human/catalog-facing manifest key
	Hash      string `json:"hash"` // content address of the blob
	BlobPath  string `json:"blob_path"`
	SizeBytes int64  `json:"size_bytes"`
	Format    string `json:"format"`

	// Origin of the artifact.
	SourceRegistry string `json:"source_registry,omitempty"`
	ModelID        string `json:"model_id"`
	VariantID      string `json:"variant_id,omitempty"`
	Version        string `json:"version,omitempty"`

	Metadata ModelMetadata `json:"metadata"`

	// Usage statistics.
	InstalledAt      time.Time  `json:"installed_at"`
	LastUsedAt       *time.Time `json:"last_used_at,omitempty"`
	UseCount         int64      `json:"use_count"`
	TotalUseDuration int64      `json:"total_use_duration_seconds"`
}

// GetVersion returns the parsed version of this model, or nil if the version
// string is absent or unparsable.
func (m *InstalledModel) GetVersion() *version.Version {
	if m.Version == "" {
		return nil
	}
	v, err := version.NewVersion(m.Version)
	if err != nil {
		return nil
	}
	return v
}

// CleanupReason explains why a model is suggested for removal.
type CleanupReason string

// Cleanup suggestion reasons.
const (
	ReasonNeverUsed                CleanupReason = "never_used"
	ReasonNotUsedRecently          CleanupReason = "not_used_recently"
	ReasonLargeSize                CleanupReason = "large_size"
	ReasonBetterVersionAvailable   CleanupReason = "better_version_available"
	ReasonIncompatibleWithHardware CleanupReason = "incompatible_with_hardware"
	ReasonDuplicateQuantization    CleanupReason = "duplicate_quantization"
)

// CleanupSuggestion is a scored recommendation to delete an installed model
// to reclaim disk space. Suggestions are derived on demand and never
// persisted as primary state.
type CleanupSuggestion struct {
	Model         *InstalledModel `json:"model"`
	Reason        CleanupReason   `json:"reason"`
	PriorityScore float64         `json:"priority_score"`
}
