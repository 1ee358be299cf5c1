package session

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/glorpus-work/modelstore/internal/logger"
	"github.com/glorpus-work/modelstore/pkg/download"
	pkgerrors "github.com/glorpus-work/modelstore/pkg/errors"
	"github.com/glorpus-work/modelstore/pkg/events"
	"github.com/glorpus-work/modelstore/pkg/hook"
	"github.com/glorpus-work/modelstore/pkg/model"
	"github.com/glorpus-work/modelstore/pkg/queue"
	"github.com/glorpus-work/modelstore/pkg/store"
	"github.com/glorpus-work/modelstore/pkg/store/database"
	"github.com/glorpus-work/modelstore/pkg/verify"
	"github.com/google/uuid"
)

// Options configures a session manager.
type Options struct {
	// PartialDir is where in-progress downloads are written.
	PartialDir string

	// Transfer are the scheduler options copied into every session.
	Transfer download.Options

	// MaxConcurrent bounds simultaneously running sessions.
	MaxConcurrent int

	// ProgressEventsPerSecond caps progress event emission per session.
	ProgressEventsPerSecond int
}

// activeSession tracks one admitted session's controls and live progress.
type activeSession struct {
	cancel    context.CancelFunc
	pause     *download.Signal
	cancelled atomic.Bool

	downloadedBytes atomic.Int64
	bytesPerSecond  atomic.Int64
}

// ManagerImpl implements Manager.
type ManagerImpl struct {
	db       *database.Database
	store    store.Manager
	verifier *verify.Verifier
	client   download.TransferClient
	bus      events.Bus
	hooks    hook.Executor
	quota    QuotaChecker
	queue    *queue.Queue
	throttle *events.Throttler
	opts     Options

	mu     sync.Mutex
	active map[string]*activeSession
}

// NewManager creates a session manager. A nil quota checker defaults to
// AllowAll and a nil hook executor disables hooks.
func NewManager(db *database.Database, st store.Manager, verifier *verify.Verifier,
	client download.TransferClient, bus events.Bus, hooks hook.Executor,
	quota QuotaChecker, opts Options) *ManagerImpl {
	if quota == nil {
		quota = AllowAll{}
	}
	if hooks == nil {
		hooks = hook.NewExecutor("")
	}
	if opts.ProgressEventsPerSecond <= 0 {
		opts.ProgressEventsPerSecond = 10
	}
	return &ManagerImpl{
		db:       db,
		store:    st,
		verifier: verifier,
		client:   client,
		bus:      bus,
		hooks:    hooks,
		quota:    quota,
		queue:    queue.New(opts.MaxConcurrent),
		throttle: events.NewThrottler(opts.ProgressEventsPerSecond),
		opts:     opts,
		active:   make(map[string]*activeSession),
	}
}

// Submit implements Manager.
func (m *ManagerImpl) Submit(ctx context.Context, req *model.DownloadRequest) (*model.DownloadSession, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := m.quota.Check(ctx, req); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.ErrQuotaDenied, err.Error())
	}
	if err := m.store.EnsureSpace(ctx, req.Artifact.TotalBytes); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	now := time.Now()
	sess := &model.DownloadSession{
		ID:         id,
		Artifact:   req.Artifact,
		Name:       req.ManifestName(),
		Status:     model.StatusQueued,
		Priority:   req.Priority,
		TotalBytes: req.Artifact.TotalBytes,
		DestPath:   filepath.Join(m.opts.PartialDir, id),
		CreatedAt:  now,
	}
	chunks := model.SplitChunks(id, sess.TotalBytes, m.opts.Transfer.ChunkSize)

	if err := m.db.CreateSession(ctx, sess, chunks); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to persist session")
	}

	m.queue.Enqueue(id, sess.Priority)
	m.publish(sess, "queued")
	logger.Info("session submitted", logger.Fields{
		"session":  id,
		"model":    sess.Artifact.ModelID,
		"priority": sess.Priority.String(),
		"size":     sess.TotalBytes,
	})
	return sess, nil
}

// Get implements Manager.
func (m *ManagerImpl) Get(ctx context.Context, id string) (*model.DownloadSession, error) {
	sess, err := m.db.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	m.overlayLive(sess)
	return sess, nil
}

// List implements Manager.
func (m *ManagerImpl) List(ctx context.Context) ([]*model.DownloadSession, error) {
	sessions, err := m.db.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	for _, sess := range sessions {
		m.overlayLive(sess)
	}
	return sessions, nil
}

// overlayLive replaces persisted progress with the live counters of a running
// session. The persisted chunk sum only advances at chunk boundaries.
func (m *ManagerImpl) overlayLive(sess *model.DownloadSession) {
	m.mu.Lock()
	act, ok := m.active[sess.ID]
	m.mu.Unlock()
	if !ok {
		return
	}
	if live := act.downloadedBytes.Load(); live > sess.DownloadedBytes {
		sess.DownloadedBytes = live
	}
	sess.BytesPerSecond = act.bytesPerSecond.Load()
}

// Pause implements Manager.
func (m *ManagerImpl) Pause(ctx context.Context, id string) error {
	sess, err := m.db.GetSession(ctx, id)
	if err != nil {
		return err
	}

	switch sess.Status {
	case model.StatusQueued:
		m.queue.Remove(id)
		return m.setStatus(ctx, sess, model.StatusPaused, "")
	case model.StatusDownloading:
		m.mu.Lock()
		act, ok := m.active[id]
		m.mu.Unlock()
		if !ok {
			// The session died without updating its row; recover it.
			return m.setStatus(ctx, sess, model.StatusPaused, "")
		}
		// The runner persists the Paused state once in-flight chunks
		// settle.
		act.pause.Trigger()
		return nil
	default:
		return pkgerrors.Wrapf(pkgerrors.ErrInvalidTransition, "cannot pause session in state %s", sess.Status)
	}
}

// Resume implements Manager.
func (m *ManagerImpl) Resume(ctx context.Context, id string) error {
	sess, err := m.db.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if sess.Status != model.StatusPaused {
		return pkgerrors.Wrapf(pkgerrors.ErrInvalidTransition, "cannot resume session in state %s", sess.Status)
	}
	if err := m.setStatus(ctx, sess, model.StatusQueued, ""); err != nil {
		return err
	}
	m.queue.Enqueue(id, sess.Priority)
	return nil
}

// Cancel implements Manager.
func (m *ManagerImpl) Cancel(ctx context.Context, id string) error {
	sess, err := m.db.GetSession(ctx, id)
	if err != nil {
		return err
	}

	switch sess.Status {
	case model.StatusQueued:
		m.queue.Remove(id)
		m.removePartial(sess)
		return m.setStatus(ctx, sess, model.StatusCancelled, "")
	case model.StatusPaused:
		m.removePartial(sess)
		return m.setStatus(ctx, sess, model.StatusCancelled, "")
	case model.StatusDownloading, model.StatusVerifying, model.StatusInstalling:
		m.mu.Lock()
		act, ok := m.active[id]
		m.mu.Unlock()
		if !ok {
			m.removePartial(sess)
			return m.setStatus(ctx, sess, model.StatusCancelled, "")
		}
		// The runner observes the cancellation and persists the terminal
		// state.
		act.cancelled.Store(true)
		act.cancel()
		return nil
	default:
		return pkgerrors.Wrapf(pkgerrors.ErrInvalidTransition, "cannot cancel session in state %s", sess.Status)
	}
}

// Retry implements Manager.
func (m *ManagerImpl) Retry(ctx context.Context, id string) error {
	sess, err := m.db.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if sess.Status != model.StatusFailed {
		return pkgerrors.Wrapf(pkgerrors.ErrInvalidTransition, "cannot retry session in state %s", sess.Status)
	}

	if err := m.db.ResetIncompleteChunks(ctx, id); err != nil {
		return err
	}
	sess.RetryCount++
	sess.ErrorMessage = ""
	if err := m.setStatus(ctx, sess, model.StatusQueued, ""); err != nil {
		return err
	}
	m.queue.Enqueue(id, sess.Priority)
	return nil
}

// Recover implements Manager. Sessions that were mid-pipeline when the
// process died are parked as Paused; their completed chunks are kept and a
// resume continues from the persisted checkpoint.
func (m *ManagerImpl) Recover(ctx context.Context) error {
	sessions, err := m.db.ListSessions(ctx)
	if err != nil {
		return err
	}
	for _, sess := range sessions {
		switch {
		case sess.Status.Active():
			now := time.Now()
			sess.Status = model.StatusPaused
			sess.PausedAt = &now
			if err := m.db.UpdateSession(ctx, sess); err != nil {
				return pkgerrors.Wrapf(err, "failed to park session %s", sess.ID)
			}
			logger.Info("recovered interrupted session", logger.Fields{
				"session": sess.ID,
				"model":   sess.Artifact.ModelID,
			})
		case sess.Status == model.StatusQueued:
			m.queue.Enqueue(sess.ID, sess.Priority)
		}
	}
	return nil
}

// Run implements Manager.
func (m *ManagerImpl) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case <-m.queue.Ready():
		}
		for {
			id, ok := m.queue.Admit()
			if !ok {
				break
			}
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				m.runSession(ctx, id)
			}(id)
		}
	}
}

// setStatus validates and persists a status transition and publishes the
// resulting event.
func (m *ManagerImpl) setStatus(ctx context.Context, sess *model.DownloadSession, to model.SessionStatus, message string) error {
	if err := checkTransition(sess.Status, to); err != nil {
		return err
	}
	now := time.Now()
	sess.Status = to
	switch to {
	case model.StatusDownloading:
		if sess.StartedAt == nil {
			sess.StartedAt = &now
		}
	case model.StatusPaused:
		sess.PausedAt = &now
	case model.StatusCompleted, model.StatusFailed, model.StatusCancelled:
		sess.CompletedAt = &now
	}
	if err := m.db.UpdateSession(ctx, sess); err != nil {
		return pkgerrors.Wrapf(err, "failed to persist transition to %s", to)
	}
	m.publish(sess, message)
	return nil
}

func (m *ManagerImpl) publish(sess *model.DownloadSession, message string) {
	m.bus.Publish(events.Event{
		SessionID:       sess.ID,
		Status:          sess.Status,
		DownloadedBytes: sess.DownloadedBytes,
		TotalBytes:      sess.TotalBytes,
		BytesPerSecond:  sess.BytesPerSecond,
		Timestamp:       time.Now(),
		Message:         message,
	})
}

func (m *ManagerImpl) removePartial(sess *model.DownloadSession) {
	if sess.DestPath == "" {
		return
	}
	if err := os.Remove(sess.DestPath); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to remove partial file", logger.Fields{
			"session": sess.ID,
			"path":    sess.DestPath,
			"error":   err.Error(),
		})
	}
}
