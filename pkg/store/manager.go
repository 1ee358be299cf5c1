package store

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/glorpus-work/modelstore/internal/logger"
	pkgerrors "github.com/glorpus-work/modelstore/pkg/errors"
	"github.com/glorpus-work/modelstore/pkg/fsutil"
	"github.com/glorpus-work/modelstore/pkg/model"
	"github.com/glorpus-work/modelstore/pkg/store/database"
)

// ManagerImpl implements Manager on top of the state database and a blob
// directory layout of blobs/<hash>.
type ManagerImpl struct {
	db         *database.Database
	blobsDir   string
	partialDir string

	// freeThreshold is the free-space level below which the store reports
	// being low on space and refuses new admissions.
	freeThreshold int64

	scorer *cleanupScorer
}

// Options configures a storage manager.
type Options struct {
	BlobsDir           string
	PartialDir         string
	FreeThresholdBytes int64

	// NeverUsedGraceDays is the age at which a never-used model starts
	// scoring as removable.
	NeverUsedGraceDays int

	// HardwareBudgetBytes is the memory budget models must fit into. Zero
	// disables the incompatibility signal.
	HardwareBudgetBytes uint64
}

// NewManager creates a storage manager. The blob and partial directories are
// created if missing.
func NewManager(db *database.Database, opts Options) (*ManagerImpl, error) {
	if err := fsutil.EnsureDir(opts.BlobsDir); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to create blobs directory")
	}
	if err := fsutil.EnsureDir(opts.PartialDir); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to create partial directory")
	}
	return &ManagerImpl{
		db:            db,
		blobsDir:      opts.BlobsDir,
		partialDir:    opts.PartialDir,
		freeThreshold: opts.FreeThresholdBytes,
		scorer: &cleanupScorer{
			neverUsedGrace: time.Duration(opts.NeverUsedGraceDays) * 24 * time.Hour,
			hardwareBudget: opts.HardwareBudgetBytes,
		},
	}, nil
}

// BlobPath returns the store path for a content hash.
func (m *ManagerImpl) BlobPath(hash string) string {
	return filepath.Join(m.blobsDir, hash)
}

// Install implements Manager. The manifest's Hash must already be verified
// against the file at srcPath; Install only moves bytes and records state.
func (m *ManagerImpl) Install(ctx context.Context, manifest *model.InstalledModel, srcPath string) error {
	if manifest.Name == "" || manifest.Hash == "" {
		return pkgerrors.ErrInvalidPath
	}
	if existing, err := m.db.GetManifest(ctx, manifest.Name); err == nil && existing != nil {
		return pkgerrors.Wrapf(pkgerrors.ErrManifestExists, "manifest %s", manifest.Name)
	}

	blobPath := m.BlobPath(manifest.Hash)
	if _, err := os.Stat(blobPath); err == nil {
		// Identical content already stored; keep one copy.
		logger.Debug("blob already present, deduplicating", logger.Fields{
			"hash": manifest.Hash,
			"name": manifest.Name,
		})
		if err := os.Remove(srcPath); err != nil && !os.IsNotExist(err) {
			return pkgerrors.Wrap(err, "failed to remove duplicate source file")
		}
	} else {
		if err := fsutil.Move(srcPath, blobPath); err != nil {
			return pkgerrors.Wrap(err, "failed to commit blob")
		}
	}

	manifest.BlobPath = blobPath
	if manifest.InstalledAt.IsZero() {
		manifest.InstalledAt = time.Now()
	}
	if err := m.db.CreateManifest(ctx, manifest); err != nil {
		return pkgerrors.Wrap(err, "failed to create manifest")
	}

	logger.Info("model installed", logger.Fields{
		"name": manifest.Name,
		"hash": manifest.Hash,
		"size": manifest.SizeBytes,
	})
	return nil
}

// Get implements Manager.
func (m *ManagerImpl) Get(ctx context.Context, name string) (*model.InstalledModel, error) {
	return m.db.GetManifest(ctx, name)
}

// List implements Manager.
func (m *ManagerImpl) List(ctx context.Context) ([]*model.InstalledModel, error) {
	return m.db.ListManifests(ctx)
}

// Remove implements Manager. The manifest is deleted first; the blob is only
// unlinked when no other manifest references it.
func (m *ManagerImpl) Remove(ctx context.Context, name string) error {
	manifest, err := m.db.GetManifest(ctx, name)
	if err != nil {
		return err
	}
	if err := m.db.DeleteManifest(ctx, name); err != nil {
		return err
	}

	refs, err := m.db.CountManifestsByHash(ctx, manifest.Hash)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to count blob references")
	}
	if refs > 0 {
		logger.Debug("blob still referenced, keeping", logger.Fields{
			"hash": manifest.Hash,
			"refs": refs,
		})
		return nil
	}

	if err := os.Remove(m.BlobPath(manifest.Hash)); err != nil && !os.IsNotExist(err) {
		return pkgerrors.Wrap(err, "failed to remove blob")
	}
	logger.Info("model removed", logger.Fields{
		"name": name,
		"hash": manifest.Hash,
		"size": manifest.SizeBytes,
	})
	return nil
}

// Touch implements Manager.
func (m *ManagerImpl) Touch(ctx context.Context, name string, duration time.Duration) error {
	return m.db.TouchManifest(ctx, name, time.Now(), duration)
}

// Accounting implements Manager.
func (m *ManagerImpl) Accounting(ctx context.Context) (Accounting, error) {
	total, free, err := fsutil.DiskUsage(m.blobsDir)
	if err != nil {
		return Accounting{}, pkgerrors.Wrap(err, "failed to stat filesystem")
	}

	acc := Accounting{
		TotalDiskBytes: int64(total),
		FreeDiskBytes:  int64(free),
		LowOnSpace:     int64(free) < m.freeThreshold,
	}

	referenced, err := m.referencedHashes(ctx)
	if err != nil {
		return Accounting{}, err
	}

	entries, err := os.ReadDir(m.blobsDir)
	if err != nil {
		return Accounting{}, pkgerrors.Wrap(err, "failed to read blobs directory")
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if _, ok := referenced[entry.Name()]; ok {
			acc.ModelsBytes += info.Size()
		} else {
			acc.OrphanBytes += info.Size()
		}
	}

	partialBytes, _, err := fsutil.DirSize(m.partialDir)
	if err != nil {
		return Accounting{}, pkgerrors.Wrap(err, "failed to measure partial directory")
	}
	acc.PartialBytes = partialBytes

	return acc, nil
}

// EnsureSpace implements Manager.
func (m *ManagerImpl) EnsureSpace(_ context.Context, sizeBytes int64) error {
	_, free, err := fsutil.DiskUsage(m.blobsDir)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to stat filesystem")
	}
	if int64(free)-sizeBytes < m.freeThreshold {
		return pkgerrors.Wrapf(pkgerrors.ErrInsufficientSpace,
			"need %d bytes, %d free, threshold %d", sizeBytes, free, m.freeThreshold)
	}
	return nil
}

// SweepOrphans implements Manager.
func (m *ManagerImpl) SweepOrphans(ctx context.Context) (int64, error) {
	referenced, err := m.referencedHashes(ctx)
	if err != nil {
		return 0, err
	}

	entries, err := os.ReadDir(m.blobsDir)
	if err != nil {
		return 0, pkgerrors.Wrap(err, "failed to read blobs directory")
	}

	var reclaimed int64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, ok := referenced[entry.Name()]; ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if err := os.Remove(filepath.Join(m.blobsDir, entry.Name())); err != nil {
			logger.Warn("failed to remove orphan blob", logger.Fields{
				"hash":  entry.Name(),
				"error": err.Error(),
			})
			continue
		}
		reclaimed += info.Size()
		logger.Debug("orphan blob removed", logger.Fields{
			"hash": entry.Name(),
			"size": info.Size(),
		})
	}
	return reclaimed, nil
}

func (m *ManagerImpl) referencedHashes(ctx context.Context) (map[string]struct{}, error) {
	manifests, err := m.db.ListManifests(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to list manifests")
	}
	referenced := make(map[string]struct{}, len(manifests))
	for _, manifest := range manifests {
		referenced[manifest.Hash] = struct{}{}
	}
	return referenced, nil
}
