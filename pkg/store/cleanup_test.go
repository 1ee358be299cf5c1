package store

import (
	"context"
	"testing"
	"time"

	"github.com/glorpus-work/modelstore/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func installedModel(name string, size int64, lastUsed *time.Time, installedAgo time.Duration) *model.InstalledModel {
	return &model.InstalledModel{
		Name:        name,
		Hash:        "hash-" + name,
		SizeBytes:   size,
		ModelID:     name,
		InstalledAt: time.Now().Add(-installedAgo),
		LastUsedAt:  lastUsed,
	}
}

func daysAgo(d int) *time.Time {
	t := time.Now().Add(-time.Duration(d) * 24 * time.Hour)
	return &t
}

func TestCleanupScorer_UnusedLargeOutranksRecentSmall(t *testing.T) {
	scorer := &cleanupScorer{neverUsedGrace: 7 * 24 * time.Hour}

	big := installedModel("big-stale", 12<<30, nil, 60*24*time.Hour)
	small := installedModel("small-fresh", 1<<30, daysAgo(1), 60*24*time.Hour)

	suggestions := scorer.score([]*model.InstalledModel{small, big}, time.Now())
	require.NotEmpty(t, suggestions)
	assert.Equal(t, "big-stale", suggestions[0].Model.Name)
	assert.Equal(t, model.ReasonNeverUsed, suggestions[0].Reason)
	if len(suggestions) > 1 {
		assert.Greater(t, suggestions[0].PriorityScore, suggestions[1].PriorityScore)
	}
}

func TestCleanupScorer_NeverUsedGracePeriod(t *testing.T) {
	scorer := &cleanupScorer{neverUsedGrace: 7 * 24 * time.Hour}

	fresh := installedModel("fresh-install", 4<<30, nil, 24*time.Hour)
	suggestions := scorer.score([]*model.InstalledModel{fresh}, time.Now())

	for _, sug := range suggestions {
		assert.NotEqual(t, model.ReasonNeverUsed, sug.Reason)
	}
}

func TestCleanupScorer_HardwareIncompatible(t *testing.T) {
	scorer := &cleanupScorer{
		neverUsedGrace: 7 * 24 * time.Hour,
		hardwareBudget: 8 << 30,
	}

	huge := installedModel("huge", 48<<30, daysAgo(1), 10*24*time.Hour)
	fits := installedModel("fits", 4<<30, daysAgo(1), 10*24*time.Hour)

	suggestions := scorer.score([]*model.InstalledModel{fits, huge}, time.Now())
	require.NotEmpty(t, suggestions)
	assert.Equal(t, "huge", suggestions[0].Model.Name)
	assert.Equal(t, model.ReasonIncompatibleWithHardware, suggestions[0].Reason)
}

func TestCleanupScorer_BetterVersionAvailable(t *testing.T) {
	scorer := &cleanupScorer{neverUsedGrace: 7 * 24 * time.Hour}

	old := installedModel("old", 4<<30, daysAgo(40), 90*24*time.Hour)
	old.ModelID = "llama-3"
	old.Version = "1.0.0"
	current := installedModel("current", 4<<30, daysAgo(1), 10*24*time.Hour)
	current.ModelID = "llama-3"
	current.Version = "1.1.0"

	suggestions := scorer.score([]*model.InstalledModel{old, current}, time.Now())
	require.NotEmpty(t, suggestions)
	assert.Equal(t, "old", suggestions[0].Model.Name)
	assert.Equal(t, model.ReasonBetterVersionAvailable, suggestions[0].Reason)
}

func TestCleanupScorer_DuplicateQuantization(t *testing.T) {
	scorer := &cleanupScorer{neverUsedGrace: 7 * 24 * time.Hour}

	q4 := installedModel("q4", 4<<30, daysAgo(10), 30*24*time.Hour)
	q4.ModelID = "llama-3"
	q4.Metadata.Quantization = "Q4_K_M"
	q8 := installedModel("q8", 8<<30, daysAgo(10), 30*24*time.Hour)
	q8.ModelID = "llama-3"
	q8.Metadata.Quantization = "Q8_0"

	suggestions := scorer.score([]*model.InstalledModel{q4, q8}, time.Now())

	var q4Sug *model.CleanupSuggestion
	for i := range suggestions {
		if suggestions[i].Model.Name == "q4" {
			q4Sug = &suggestions[i]
		}
	}
	require.NotNil(t, q4Sug, "smaller duplicate should be suggested")
	assert.Equal(t, model.ReasonDuplicateQuantization, q4Sug.Reason)
}

func TestManager_SuggestCleanup_TargetTruncates(t *testing.T) {
	m, _ := testManager(t, Options{NeverUsedGraceDays: 7})
	ctx := context.Background()

	for _, spec := range []struct {
		name string
		size int64
	}{
		{name: "a", size: 500},
		{name: "b", size: 400},
		{name: "c", size: 300},
	} {
		manifest := manifestFor(spec.name, "h-"+spec.name, spec.size)
		manifest.InstalledAt = time.Now().Add(-30 * 24 * time.Hour)
		require.NoError(t, m.db.CreateManifest(ctx, manifest))
	}

	// No target: everything eligible is suggested.
	all, err := m.SuggestCleanup(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	// A target slightly above current free space needs only the top
	// suggestion.
	acc, err := m.Accounting(ctx)
	require.NoError(t, err)
	some, err := m.SuggestCleanup(ctx, acc.FreeDiskBytes+100)
	require.NoError(t, err)
	require.NotEmpty(t, some)
	assert.Less(t, len(some), 3)
	assert.Equal(t, "a", some[0].Model.Name)

	// Already above target: nothing suggested.
	none, err := m.SuggestCleanup(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestManager_ApplyCleanup(t *testing.T) {
	m, _ := testManager(t, Options{NeverUsedGraceDays: 7})
	ctx := context.Background()

	data := []byte("model to be reclaimed")
	manifest := manifestFor("victim", "h-victim", int64(len(data)))
	manifest.InstalledAt = time.Now().Add(-30 * 24 * time.Hour)
	require.NoError(t, m.Install(ctx, manifest, stageFile(t, t.TempDir(), data)))

	suggestions, err := m.SuggestCleanup(ctx, 0)
	require.NoError(t, err)
	require.NotEmpty(t, suggestions)

	reclaimed, err := m.ApplyCleanup(ctx, suggestions)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), reclaimed)
	assert.NoFileExists(t, m.BlobPath("h-victim"))
}
