package store

import (
	"context"
	"sort"
	"time"

	"github.com/glorpus-work/modelstore/internal/logger"
	pkgerrors "github.com/glorpus-work/modelstore/pkg/errors"
	"github.com/glorpus-work/modelstore/pkg/fsutil"
	"github.com/glorpus-work/modelstore/pkg/model"
)

// Scoring weights. Recency dominates, size breaks ties between models of
// similar age, and the redundancy/compatibility signals add on top.
const (
	weightRecency = 0.5
	weightSize    = 0.3

	bonusIncompatible  = 1.0
	bonusBetterVersion = 0.6
	bonusDuplicate     = 0.4

	// staleAfter is the idle time after which a used model counts as "not
	// used recently".
	staleAfter = 30 * 24 * time.Hour

	// recencyHorizon caps the idle-time contribution.
	recencyHorizon = 365 * 24 * time.Hour
)

// cleanupScorer derives removal suggestions from manifests. Suggestions are
// computed on demand and never persisted.
type cleanupScorer struct {
	neverUsedGrace time.Duration
	hardwareBudget uint64
}

func (s *cleanupScorer) score(models []*model.InstalledModel, now time.Time) []model.CleanupSuggestion {
	var maxSize int64
	for _, m := range models {
		if m.SizeBytes > maxSize {
			maxSize = m.SizeBytes
		}
	}

	suggestions := make([]model.CleanupSuggestion, 0, len(models))
	for _, m := range models {
		sug := s.scoreOne(m, models, maxSize, now)
		if sug.PriorityScore > 0 {
			suggestions = append(suggestions, sug)
		}
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		if suggestions[i].PriorityScore != suggestions[j].PriorityScore {
			return suggestions[i].PriorityScore > suggestions[j].PriorityScore
		}
		return suggestions[i].Model.SizeBytes > suggestions[j].Model.SizeBytes
	})
	return suggestions
}

func (s *cleanupScorer) scoreOne(m *model.InstalledModel, all []*model.InstalledModel, maxSize int64, now time.Time) model.CleanupSuggestion {
	recency, neverUsed, stale := s.recencyScore(m, now)

	var sizeScore float64
	if maxSize > 0 {
		sizeScore = float64(m.SizeBytes) / float64(maxSize)
	}

	score := weightRecency*recency + weightSize*sizeScore
	reason := model.ReasonNotUsedRecently
	switch {
	case neverUsed:
		reason = model.ReasonNeverUsed
	case !stale:
		reason = model.ReasonLargeSize
	}

	if s.hasDuplicateQuantization(m, all) {
		score += bonusDuplicate
		reason = model.ReasonDuplicateQuantization
	}
	if s.hasBetterVersion(m, all) {
		score += bonusBetterVersion
		reason = model.ReasonBetterVersionAvailable
	}
	if s.hardwareBudget > 0 && uint64(m.SizeBytes) > s.hardwareBudget {
		score += bonusIncompatible
		reason = model.ReasonIncompatibleWithHardware
	}

	return model.CleanupSuggestion{Model: m, Reason: reason, PriorityScore: score}
}

// recencyScore returns a 0..1 idle score plus whether the model was never
// used and whether it counts as stale.
func (s *cleanupScorer) recencyScore(m *model.InstalledModel, now time.Time) (score float64, neverUsed, stale bool) {
	if m.LastUsedAt == nil {
		age := now.Sub(m.InstalledAt)
		if age < s.neverUsedGrace {
			// Fresh installs get time to be used before they score.
			return 0, false, false
		}
		return 1, true, true
	}

	idle := now.Sub(*m.LastUsedAt)
	if idle < 0 {
		idle = 0
	}
	score = float64(idle) / float64(recencyHorizon)
	if score > 1 {
		score = 1
	}
	return score, false, idle >= staleAfter
}

// hasDuplicateQuantization reports whether another install of the same model
// exists with a different quantization. The smaller of the pair is the
// suggested one; the larger stays.
func (s *cleanupScorer) hasDuplicateQuantization(m *model.InstalledModel, all []*model.InstalledModel) bool {
	for _, other := range all {
		if other.Name == m.Name || other.ModelID != m.ModelID {
			continue
		}
		if other.Metadata.Quantization == "" || m.Metadata.Quantization == "" {
			continue
		}
		if other.Metadata.Quantization != m.Metadata.Quantization && other.SizeBytes >= m.SizeBytes {
			return true
		}
	}
	return false
}

// hasBetterVersion reports whether a newer installed version of the same
// model variant exists.
func (s *cleanupScorer) hasBetterVersion(m *model.InstalledModel, all []*model.InstalledModel) bool {
	mine := m.GetVersion()
	if mine == nil {
		return false
	}
	for _, other := range all {
		if other.Name == m.Name || other.ModelID != m.ModelID || other.VariantID != m.VariantID {
			continue
		}
		if v := other.GetVersion(); v != nil && v.GreaterThan(mine) {
			return true
		}
	}
	return false
}

// SuggestCleanup implements Manager.
func (m *ManagerImpl) SuggestCleanup(ctx context.Context, targetFreeBytes int64) ([]model.CleanupSuggestion, error) {
	manifests, err := m.db.ListManifests(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to list manifests")
	}
	suggestions := m.scorer.score(manifests, time.Now())

	if targetFreeBytes <= 0 {
		return suggestions, nil
	}

	_, free, err := fsutil.DiskUsage(m.blobsDir)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to stat filesystem")
	}
	deficit := targetFreeBytes - int64(free)
	if deficit <= 0 {
		return nil, nil
	}

	// A blob is only reclaimed with its last manifest, so cumulate blob
	// sizes as reference counts reach zero.
	refs := make(map[string]int, len(manifests))
	for _, manifest := range manifests {
		refs[manifest.Hash]++
	}

	var reclaimable int64
	for i, sug := range suggestions {
		refs[sug.Model.Hash]--
		if refs[sug.Model.Hash] == 0 {
			reclaimable += sug.Model.SizeBytes
		}
		if reclaimable >= deficit {
			return suggestions[:i+1], nil
		}
	}
	return suggestions, nil
}

// ApplyCleanup implements Manager.
func (m *ManagerImpl) ApplyCleanup(ctx context.Context, suggestions []model.CleanupSuggestion) (int64, error) {
	var before, after Accounting
	var err error
	if before, err = m.Accounting(ctx); err != nil {
		return 0, err
	}

	for _, sug := range suggestions {
		if err := m.Remove(ctx, sug.Model.Name); err != nil {
			return 0, pkgerrors.Wrapf(err, "failed to remove %s", sug.Model.Name)
		}
		logger.Info("cleanup removed model", logger.Fields{
			"name":   sug.Model.Name,
			"reason": string(sug.Reason),
			"score":  sug.PriorityScore,
		})
	}

	if after, err = m.Accounting(ctx); err != nil {
		return 0, err
	}
	reclaimed := before.ModelsBytes + before.OrphanBytes - after.ModelsBytes - after.OrphanBytes
	if reclaimed < 0 {
		reclaimed = 0
	}
	return reclaimed, nil
}
