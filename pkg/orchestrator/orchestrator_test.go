package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/glorpus-work/modelstore/pkg/config"
	pkgerrors "github.com/glorpus-work/modelstore/pkg/errors"
	"github.com/glorpus-work/modelstore/pkg/hook"
	"github.com/glorpus-work/modelstore/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Settings.StorageDir = t.TempDir()
	cfg.Settings.ChunkSizeBytes = 4 * 1024
	cfg.Settings.ChunkWorkers = 2
	cfg.Settings.RetryBaseDelay = time.Millisecond
	cfg.Settings.FreeSpaceThresholdBytes = 0

	engine, err := New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	return engine
}

func TestNew_CreatesStorageLayout(t *testing.T) {
	engine := testEngine(t)

	assert.DirExists(t, engine.Config.GetBlobsDir())
	assert.DirExists(t, engine.Config.GetPartialDir())
	assert.FileExists(t, engine.Config.GetDatabasePath())
	assert.NotNil(t, engine.Sessions)
	assert.NotNil(t, engine.Bus)
}

func TestEngine_PullQueuesSession(t *testing.T) {
	engine := testEngine(t)
	ctx := context.Background()

	sess, err := engine.Pull(ctx, &model.DownloadRequest{
		Artifact: model.ArtifactRef{
			ModelID:      "llama-3",
			SourceURL:    "https://example.com/llama.gguf",
			TotalBytes:   100,
			ExpectedHash: "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef",
		},
		Priority: model.PriorityHigh,
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, sess.Status)

	// The session survives a restart of the engine.
	got, err := engine.Sessions.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PriorityHigh, got.Priority)
}

func TestEngine_RemoveModel_PreRemoveHookAborts(t *testing.T) {
	engine := testEngine(t)
	ctx := context.Background()
	ctrl := gomock.NewController(t)

	data := []byte("installed model bytes")
	staged := filepath.Join(t.TempDir(), "staged")
	require.NoError(t, os.WriteFile(staged, data, 0o644))
	require.NoError(t, engine.Store.Install(ctx, &model.InstalledModel{
		Name:      "llama-3",
		Hash:      "h1",
		SizeBytes: int64(len(data)),
		Format:    "gguf",
		ModelID:   "llama-3",
	}, staged))

	hooks := hook.NewMockExecutor(ctrl)
	engine.Hooks = hooks

	// A failing pre-remove hook vetoes the removal.
	hooks.EXPECT().ExecuteHook(hook.PreRemove, gomock.Any()).Return(fmt.Errorf("model in use"))
	require.Error(t, engine.RemoveModel(ctx, "llama-3"))
	_, err := engine.Store.Get(ctx, "llama-3")
	assert.NoError(t, err)

	// A passing hook lets the removal through.
	hooks.EXPECT().ExecuteHook(hook.PreRemove, gomock.Any()).DoAndReturn(
		func(_ string, hookCtx *hook.Context) error {
			assert.Equal(t, "llama-3", hookCtx.ModelName)
			assert.Equal(t, "remove", hookCtx.Operation)
			return nil
		})
	require.NoError(t, engine.RemoveModel(ctx, "llama-3"))
	_, err = engine.Store.Get(ctx, "llama-3")
	assert.ErrorIs(t, err, pkgerrors.ErrModelNotFound)
}

func TestEngine_RemoveModel_NotFound(t *testing.T) {
	engine := testEngine(t)
	err := engine.RemoveModel(context.Background(), "missing")
	assert.ErrorIs(t, err, pkgerrors.ErrModelNotFound)
}
