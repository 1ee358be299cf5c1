package session

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glorpus-work/modelstore/pkg/download"
	pkgerrors "github.com/glorpus-work/modelstore/pkg/errors"
	"github.com/glorpus-work/modelstore/pkg/events"
	"github.com/glorpus-work/modelstore/pkg/model"
	"github.com/glorpus-work/modelstore/pkg/store"
	"github.com/glorpus-work/modelstore/pkg/store/database"
	"github.com/glorpus-work/modelstore/pkg/verify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildGGUF produces a minimal valid GGUF artifact padded to the given size.
func buildGGUF(t *testing.T, totalSize int) []byte {
	t.Helper()
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, uint32(0x46554747)) // magic
	_ = binary.Write(&buf, binary.LittleEndian, uint32(3))          // version
	_ = binary.Write(&buf, binary.LittleEndian, uint64(0))          // tensor count
	_ = binary.Write(&buf, binary.LittleEndian, uint64(1))          // kv count

	key := "general.architecture"
	_ = binary.Write(&buf, binary.LittleEndian, uint64(len(key)))
	buf.WriteString(key)
	_ = binary.Write(&buf, binary.LittleEndian, uint32(8)) // string type
	value := "llama"
	_ = binary.Write(&buf, binary.LittleEndian, uint64(len(value)))
	buf.WriteString(value)

	require.LessOrEqual(t, buf.Len(), totalSize)
	data := make([]byte, totalSize)
	copy(data, buf.Bytes())
	return data
}

type testEnv struct {
	manager *ManagerImpl
	db      *database.Database
	bus     events.Bus
	srv     *httptest.Server
	data    []byte
	hash    string
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWith(t, 16*1024, download.Options{
		ChunkSize:      4 * 1024,
		Workers:        2,
		Retries:        3,
		RetryBaseDelay: time.Millisecond,
	}, nil)
}

// newTestEnvWith builds a manager over real components and an httptest range
// server. wrap, when set, decorates the artifact handler (request recording,
// throttling).
func newTestEnvWith(t *testing.T, artifactSize int, transfer download.Options, wrap func(http.Handler) http.Handler) *testEnv {
	t.Helper()
	root := t.TempDir()

	data := buildGGUF(t, artifactSize)
	sum := sha256.Sum256(data)

	var handler http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "model.gguf", time.Unix(0, 0), bytes.NewReader(data))
	})
	if wrap != nil {
		handler = wrap(handler)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	db, err := database.New(filepath.Join(root, "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	st, err := store.NewManager(db, store.Options{
		BlobsDir:           filepath.Join(root, "blobs"),
		PartialDir:         filepath.Join(root, "partial"),
		NeverUsedGraceDays: 7,
	})
	require.NoError(t, err)

	bus := events.NewInMemoryBus(256)
	t.Cleanup(bus.Close)

	manager := NewManager(db, st, verify.NewVerifier(),
		download.NewHTTPClient(5*time.Second, ""), bus, nil, nil, Options{
			PartialDir:    filepath.Join(root, "partial"),
			Transfer:      transfer,
			MaxConcurrent: 2,
		})

	return &testEnv{
		manager: manager,
		db:      db,
		bus:     bus,
		srv:     srv,
		data:    data,
		hash:    hex.EncodeToString(sum[:]),
	}
}

func (e *testEnv) request() *model.DownloadRequest {
	return &model.DownloadRequest{
		Artifact: model.ArtifactRef{
			ModelID:      "llama-3",
			VariantID:    "q4",
			SourceURL:    e.srv.URL + "/model.gguf",
			TotalBytes:   int64(len(e.data)),
			ExpectedHash: e.hash,
		},
		Priority: model.PriorityNormal,
	}
}

func waitForStatus(t *testing.T, m Manager, id string, want model.SessionStatus) *model.DownloadSession {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		sess, err := m.Get(context.Background(), id)
		require.NoError(t, err)
		if sess.Status == want {
			return sess
		}
		if sess.Status.Terminal() && sess.Status != want {
			t.Fatalf("session reached %s (%s), wanted %s", sess.Status, sess.ErrorMessage, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for status %s", want)
	return nil
}

func TestManager_EndToEnd(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go env.manager.Run(ctx)

	sess, err := env.manager.Submit(ctx, env.request())
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, sess.Status)
	assert.Equal(t, "llama-3:q4", sess.Name)

	final := waitForStatus(t, env.manager, sess.ID, model.StatusCompleted)
	assert.Equal(t, int64(len(env.data)), final.DownloadedBytes)
	assert.NotNil(t, final.CompletedAt)

	// The manifest is installed and the blob holds the exact bytes.
	manifest, err := env.db.GetManifest(ctx, "llama-3:q4")
	require.NoError(t, err)
	assert.Equal(t, env.hash, manifest.Hash)
	assert.Equal(t, "llama", manifest.Metadata.Architecture)

	blob, err := os.ReadFile(manifest.BlobPath)
	require.NoError(t, err)
	assert.Equal(t, env.data, blob)

	// The partial file moved away.
	assert.NoFileExists(t, sess.DestPath)
}

// rangeStart extracts the first byte offset of a Range request header.
func rangeStart(t *testing.T, header string) int64 {
	t.Helper()
	spec := strings.TrimPrefix(header, "bytes=")
	start, err := strconv.ParseInt(strings.SplitN(spec, "-", 2)[0], 10, 64)
	require.NoError(t, err)
	return start
}

func TestManager_PauseMidTransferResumesWithoutRefetch(t *testing.T) {
	type servedRange struct {
		start       int64
		afterResume bool
	}
	var mu sync.Mutex
	var served []servedRange
	resumed := false

	// Each range response is delayed so the transfer is still in flight when
	// the pause lands.
	wrap := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet && r.Header.Get("Range") != "" {
				start := rangeStart(t, r.Header.Get("Range"))
				mu.Lock()
				served = append(served, servedRange{start: start, afterResume: resumed})
				mu.Unlock()
				time.Sleep(15 * time.Millisecond)
			}
			next.ServeHTTP(w, r)
		})
	}

	env := newTestEnvWith(t, 32*1024, download.Options{
		ChunkSize:      1024,
		Workers:        2,
		Retries:        3,
		RetryBaseDelay: time.Millisecond,
	}, wrap)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go env.manager.Run(ctx)

	sess, err := env.manager.Submit(ctx, env.request())
	require.NoError(t, err)

	// Let a couple of chunks confirm before pausing.
	deadline := time.Now().Add(10 * time.Second)
	for {
		require.True(t, time.Now().Before(deadline), "no chunk completed in time")
		chunks, err := env.db.GetChunks(ctx, sess.ID)
		require.NoError(t, err)
		completed := 0
		for _, c := range chunks {
			if c.Status == model.ChunkCompleted {
				completed++
			}
		}
		if completed >= 2 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}

	require.NoError(t, env.manager.Pause(ctx, sess.ID))
	paused := waitForStatus(t, env.manager, sess.ID, model.StatusPaused)
	assert.Less(t, paused.DownloadedBytes, paused.TotalBytes)

	// Snapshot the checkpointed chunks; none of them may be fetched again.
	completedStarts := make(map[int64]bool)
	chunks, err := env.db.GetChunks(ctx, sess.ID)
	require.NoError(t, err)
	for _, c := range chunks {
		if c.Status == model.ChunkCompleted {
			completedStarts[c.StartByte] = true
		}
	}
	require.NotEmpty(t, completedStarts)

	mu.Lock()
	resumed = true
	mu.Unlock()
	require.NoError(t, env.manager.Resume(ctx, sess.ID))
	final := waitForStatus(t, env.manager, sess.ID, model.StatusCompleted)
	assert.Equal(t, int64(len(env.data)), final.DownloadedBytes)

	mu.Lock()
	defer mu.Unlock()
	var refetched int
	for _, sr := range served {
		if sr.afterResume && completedStarts[sr.start] {
			refetched++
		}
	}
	assert.Zero(t, refetched, "completed byte ranges were requested again after resume")

	// The committed blob matches the expected content.
	manifest, err := env.db.GetManifest(ctx, "llama-3:q4")
	require.NoError(t, err)
	blob, err := os.ReadFile(manifest.BlobPath)
	require.NoError(t, err)
	assert.Equal(t, env.data, blob)
}

func TestManager_Submit_InvalidRequest(t *testing.T) {
	env := newTestEnv(t)

	req := env.request()
	req.Artifact.ExpectedHash = "short"
	_, err := env.manager.Submit(context.Background(), req)
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidRequest)

	sessions, err := env.manager.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

type denyQuota struct{}

func (denyQuota) Check(context.Context, *model.DownloadRequest) error {
	return fmt.Errorf("user over limit")
}

func TestManager_Submit_QuotaDenied(t *testing.T) {
	env := newTestEnv(t)
	env.manager.quota = denyQuota{}

	_, err := env.manager.Submit(context.Background(), env.request())
	assert.ErrorIs(t, err, pkgerrors.ErrQuotaDenied)

	sessions, err := env.manager.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestManager_PauseResumeCancelQueued(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	// No dispatcher running: the session stays Queued.

	sess, err := env.manager.Submit(ctx, env.request())
	require.NoError(t, err)

	require.NoError(t, env.manager.Pause(ctx, sess.ID))
	got, err := env.manager.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPaused, got.Status)

	// Pausing a paused session is invalid.
	assert.ErrorIs(t, env.manager.Pause(ctx, sess.ID), pkgerrors.ErrInvalidTransition)

	require.NoError(t, env.manager.Resume(ctx, sess.ID))
	got, err = env.manager.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, got.Status)

	require.NoError(t, env.manager.Cancel(ctx, sess.ID))
	got, err = env.manager.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, got.Status)

	// Terminal states reject every lifecycle operation.
	assert.ErrorIs(t, env.manager.Resume(ctx, sess.ID), pkgerrors.ErrInvalidTransition)
	assert.ErrorIs(t, env.manager.Cancel(ctx, sess.ID), pkgerrors.ErrInvalidTransition)
	assert.ErrorIs(t, env.manager.Retry(ctx, sess.ID), pkgerrors.ErrInvalidTransition)
}

func TestManager_CancelDuringVerification(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// A session parked mid-verification (e.g. its runner died) with its
	// partial artifact still on disk.
	dest := filepath.Join(t.TempDir(), "partial-artifact")
	require.NoError(t, os.WriteFile(dest, []byte("downloaded bytes"), 0o644))
	sess := &model.DownloadSession{
		ID:         "verifying",
		Artifact:   model.ArtifactRef{ModelID: "m", SourceURL: "https://example.com/a", TotalBytes: 16, ExpectedHash: "x"},
		Name:       "m",
		Status:     model.StatusVerifying,
		Priority:   model.PriorityNormal,
		TotalBytes: 16,
		DestPath:   dest,
		CreatedAt:  time.Now(),
	}
	require.NoError(t, env.db.CreateSession(ctx, sess, model.SplitChunks("verifying", 16, 16)))

	require.NoError(t, env.manager.Cancel(ctx, "verifying"))

	got, err := env.manager.Get(ctx, "verifying")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, got.Status)
	assert.NoFileExists(t, dest)
}

func TestManager_LifecycleOnMissingSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	assert.ErrorIs(t, env.manager.Pause(ctx, "nope"), pkgerrors.ErrSessionNotFound)
	assert.ErrorIs(t, env.manager.Resume(ctx, "nope"), pkgerrors.ErrSessionNotFound)
	assert.ErrorIs(t, env.manager.Cancel(ctx, "nope"), pkgerrors.ErrSessionNotFound)
	assert.ErrorIs(t, env.manager.Retry(ctx, "nope"), pkgerrors.ErrSessionNotFound)
	_, err := env.manager.Get(ctx, "nope")
	assert.ErrorIs(t, err, pkgerrors.ErrSessionNotFound)
}

func TestManager_HashMismatchFailsSession(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go env.manager.Run(ctx)

	req := env.request()
	// A well-formed but wrong digest.
	sum := sha256.Sum256([]byte("different content"))
	req.Artifact.ExpectedHash = hex.EncodeToString(sum[:])

	sess, err := env.manager.Submit(ctx, req)
	require.NoError(t, err)

	final := waitForStatus(t, env.manager, sess.ID, model.StatusFailed)
	assert.Contains(t, final.ErrorMessage, "hash mismatch")

	// The untrustworthy partial file is discarded.
	assert.NoFileExists(t, final.DestPath)

	// A failed session can be retried.
	require.NoError(t, env.manager.Retry(ctx, sess.ID))
	got, err := env.manager.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.RetryCount)
}

func TestManager_Recover(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	mk := func(id string, status model.SessionStatus) {
		sess := &model.DownloadSession{
			ID:         id,
			Artifact:   model.ArtifactRef{ModelID: "m", SourceURL: "https://example.com/a", TotalBytes: 100, ExpectedHash: "x"},
			Name:       "m",
			Status:     status,
			Priority:   model.PriorityNormal,
			TotalBytes: 100,
			DestPath:   "/tmp/" + id,
			CreatedAt:  time.Now(),
		}
		require.NoError(t, env.db.CreateSession(ctx, sess, model.SplitChunks(id, 100, 40)))
	}
	mk("downloading", model.StatusDownloading)
	mk("verifying", model.StatusVerifying)
	mk("queued", model.StatusQueued)
	mk("completed", model.StatusCompleted)

	require.NoError(t, env.manager.Recover(ctx))

	for _, id := range []string{"downloading", "verifying"} {
		got, err := env.manager.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.StatusPaused, got.Status, id)
	}

	got, err := env.manager.Get(ctx, "queued")
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, got.Status)
	got, err = env.manager.Get(ctx, "completed")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)

	// The recovered queue holds exactly the queued session.
	assert.Equal(t, 1, env.manager.queue.Pending())
}

func TestManager_CompletionEventCarriesPayload(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go env.manager.Run(ctx)

	done := make(chan events.Event, 1)
	_, err := env.bus.Subscribe(func(event events.Event) {
		select {
		case done <- event:
		default:
		}
	}, events.FilterByStatus(model.StatusCompleted))
	require.NoError(t, err)

	_, err = env.manager.Submit(ctx, env.request())
	require.NoError(t, err)

	select {
	case event := <-done:
		require.NotNil(t, event.Completion)
		assert.Equal(t, "llama-3", event.Completion.ModelID)
		assert.Equal(t, "llama-3:q4", event.Completion.Name)
		assert.Equal(t, "gguf", event.Completion.Format)
		assert.FileExists(t, event.Completion.BlobPath)
	case <-time.After(10 * time.Second):
		t.Fatal("no completion event received")
	}
}

func TestCheckTransition(t *testing.T) {
	tests := []struct {
		from, to model.SessionStatus
		ok       bool
	}{
		{model.StatusQueued, model.StatusDownloading, true},
		{model.StatusDownloading, model.StatusPaused, true},
		{model.StatusDownloading, model.StatusVerifying, true},
		{model.StatusPaused, model.StatusQueued, true},
		{model.StatusVerifying, model.StatusInstalling, true},
		{model.StatusInstalling, model.StatusCompleted, true},
		{model.StatusFailed, model.StatusQueued, true},
		{model.StatusVerifying, model.StatusPaused, true},
		{model.StatusVerifying, model.StatusCancelled, true},
		{model.StatusInstalling, model.StatusCancelled, true},
		{model.StatusCompleted, model.StatusQueued, false},
		{model.StatusCancelled, model.StatusQueued, false},
		{model.StatusQueued, model.StatusCompleted, false},
		{model.StatusPaused, model.StatusDownloading, false},
		{model.StatusInstalling, model.StatusPaused, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := checkTransition(tt.from, tt.to)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, pkgerrors.ErrInvalidTransition)
			}
		})
	}
}
