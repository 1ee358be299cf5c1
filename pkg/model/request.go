package model

import (
	"fmt"

	"github.com/glorpus-work/modelstore/pkg/errors"
)

// DownloadRequest is what a caller submits to start a download. The artifact
// reference comes from the discovery/registry collaborator.
type DownloadRequest struct {
	Artifact ArtifactRef
	Name     string // manifest name to install under; defaults to ModelID
	Priority Priority
	UserID   string // forwarded to the quota collaborator
}

// Validate checks that the request carries everything the engine needs
// before it is admitted. Size and hash must be known up front: the chunk
// table is derived from the size and the hash anchors content addressing.
func (r *DownloadRequest) Validate() error {
	if r.Artifact.ModelID == "" {
		return fmt.Errorf("model id is required: %w", errors.ErrInvalidRequest)
	}
	if r.Artifact.GetURL() == nil || r.Artifact.SourceURL == "" {
		return fmt.Errorf("source URL is invalid: %w", errors.ErrInvalidRequest)
	}
	if r.Artifact.TotalBytes <= 0 {
		return fmt.Errorf("total size must be positive: %w", errors.ErrInvalidRequest)
	}
	if len(r.Artifact.ExpectedHash) != 64 {
		return fmt.Errorf("expected hash must be a hex-encoded SHA-256 digest: %w", errors.ErrInvalidRequest)
	}
	return nil
}

// ManifestName returns the name the model will be installed under.
func (r *DownloadRequest) ManifestName() string {
	if r.Name != "" {
		return r.Name
	}
	if r.Artifact.VariantID != "" {
		return r.Artifact.ModelID + ":" + r.Artifact.VariantID
	}
	return r.Artifact.ModelID
}
