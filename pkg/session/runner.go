package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/glorpus-work/modelstore/internal/logger"
	"github.com/glorpus-work/modelstore/pkg/download"
	pkgerrors "github.com/glorpus-work/modelstore/pkg/errors"
	"github.com/glorpus-work/modelstore/pkg/events"
	"github.com/glorpus-work/modelstore/pkg/hook"
	"github.com/glorpus-work/modelstore/pkg/model"
)

// runSession drives one admitted session through the transfer pipeline and
// into a terminal or parked state. It owns the session's concurrency slot.
func (m *ManagerImpl) runSession(ctx context.Context, id string) {
	defer m.queue.Release(id)

	// Persisting final states must survive daemon shutdown.
	bgCtx := context.WithoutCancel(ctx)

	sess, err := m.db.GetSession(bgCtx, id)
	if err != nil {
		logger.Error("admitted session vanished", logger.Fields{"session": id, "error": err.Error()})
		return
	}
	chunks, err := m.db.GetChunks(bgCtx, id)
	if err != nil {
		m.failSession(bgCtx, sess, pkgerrors.Wrap(err, "failed to load chunks"))
		return
	}

	if err := m.setStatus(bgCtx, sess, model.StatusDownloading, ""); err != nil {
		logger.Error("could not start session", logger.Fields{"session": id, "error": err.Error()})
		return
	}

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	act := &activeSession{cancel: cancel, pause: download.NewSignal()}
	act.downloadedBytes.Store(sess.DownloadedBytes)
	m.mu.Lock()
	m.active[id] = act
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.active, id)
		m.mu.Unlock()
		m.throttle.Forget(id)
	}()

	onProgress := func(downloadedBytes, bytesPerSecond int64) {
		act.downloadedBytes.Store(downloadedBytes)
		act.bytesPerSecond.Store(bytesPerSecond)
		if !m.throttle.Allow(id) {
			return
		}
		m.bus.Publish(events.Event{
			SessionID:       id,
			Status:          model.StatusDownloading,
			DownloadedBytes: downloadedBytes,
			TotalBytes:      sess.TotalBytes,
			BytesPerSecond:  bytesPerSecond,
			Timestamp:       time.Now(),
		})
	}

	sched := download.NewScheduler(m.client, m.db, m.opts.Transfer)
	runErr := sched.Run(sessCtx, sess, chunks, act.pause, onProgress)
	sess.DownloadedBytes = model.SumDownloaded(chunks)
	sess.BytesPerSecond = 0

	switch {
	case runErr == nil:
		m.finalize(sessCtx, bgCtx, sess, act)
	case errors.Is(runErr, pkgerrors.ErrPaused):
		if err := m.setStatus(bgCtx, sess, model.StatusPaused, ""); err != nil {
			logger.Error("could not park paused session", logger.Fields{"session": id, "error": err.Error()})
		}
	case errors.Is(runErr, context.Canceled) && act.cancelled.Load():
		m.removePartial(sess)
		if err := m.setStatus(bgCtx, sess, model.StatusCancelled, ""); err != nil {
			logger.Error("could not persist cancellation", logger.Fields{"session": id, "error": err.Error()})
		}
	case errors.Is(runErr, context.Canceled):
		// Daemon shutdown: park the session so a restart resumes it.
		if err := m.setStatus(bgCtx, sess, model.StatusPaused, "interrupted by shutdown"); err != nil {
			logger.Error("could not park interrupted session", logger.Fields{"session": id, "error": err.Error()})
		}
	default:
		m.failSession(bgCtx, sess, runErr)
	}
}

// finalize verifies the downloaded artifact and installs it into the blob
// store. Verification runs on the session context so a user cancel interrupts
// the streaming hash; DB writes run on bgCtx so final states survive
// shutdown. The blob commit itself is atomic and is never interrupted once
// started. Any other failure here is a session failure; the partial file is
// discarded on verification errors because its content is untrustworthy.
func (m *ManagerImpl) finalize(sessCtx, ctx context.Context, sess *model.DownloadSession, act *activeSession) {
	if err := m.setStatus(ctx, sess, model.StatusVerifying, ""); err != nil {
		logger.Error("could not enter verification", logger.Fields{"session": sess.ID, "error": err.Error()})
		return
	}

	metadata, err := m.verifier.Verify(sessCtx, sess.DestPath, sess.Artifact.ExpectedHash)
	if errors.Is(err, context.Canceled) {
		m.interrupted(ctx, sess, act)
		return
	}
	if err != nil {
		m.removePartial(sess)
		m.failSession(ctx, sess, err)
		return
	}

	// Last cancellation point before the atomic blob commit.
	if sessCtx.Err() != nil {
		m.interrupted(ctx, sess, act)
		return
	}

	if err := m.setStatus(ctx, sess, model.StatusInstalling, ""); err != nil {
		logger.Error("could not enter installation", logger.Fields{"session": sess.ID, "error": err.Error()})
		return
	}

	manifest := &model.InstalledModel{
		Name:        sess.Name,
		Hash:        strings.ToLower(sess.Artifact.ExpectedHash),
		SizeBytes:   sess.TotalBytes,
		Format:      "gguf",
		ModelID:     sess.Artifact.ModelID,
		VariantID:   sess.Artifact.VariantID,
		Version:     sess.Artifact.Version,
		Metadata:    metadata,
		InstalledAt: time.Now(),
	}
	if err := m.store.Install(ctx, manifest, sess.DestPath); err != nil {
		m.failSession(ctx, sess, err)
		return
	}

	// Post-install hooks are advisory: a script failure is logged but never
	// fails an already installed model.
	if err := m.hooks.ExecuteHook(hook.PostInstall, &hook.Context{
		ModelName:    manifest.Name,
		ModelVersion: manifest.Version,
		Operation:    "install",
		BlobPath:     manifest.BlobPath,
		Format:       manifest.Format,
		SizeBytes:    manifest.SizeBytes,
	}); err != nil {
		logger.Warn("post-install hook failed", logger.Fields{
			"session": sess.ID,
			"model":   manifest.Name,
			"error":   err.Error(),
		})
	}

	now := time.Now()
	sess.Status = model.StatusCompleted
	sess.CompletedAt = &now
	if err := m.db.UpdateSession(ctx, sess); err != nil {
		logger.Error("could not persist completion", logger.Fields{"session": sess.ID, "error": err.Error()})
		return
	}
	m.bus.Publish(events.Event{
		SessionID:       sess.ID,
		Status:          model.StatusCompleted,
		DownloadedBytes: sess.TotalBytes,
		TotalBytes:      sess.TotalBytes,
		Timestamp:       now,
		Completion: &events.Completion{
			ModelID:  manifest.ModelID,
			Name:     manifest.Name,
			BlobPath: manifest.BlobPath,
			Format:   manifest.Format,
			Metadata: manifest.Metadata,
		},
	})
	logger.Info("session completed", logger.Fields{
		"session": sess.ID,
		"model":   manifest.Name,
		"size":    sess.TotalBytes,
	})
}

// interrupted settles a session whose verification was cut short: a user
// cancel discards the artifact, a daemon shutdown parks the session so a
// restart re-verifies from the completed chunks.
func (m *ManagerImpl) interrupted(ctx context.Context, sess *model.DownloadSession, act *activeSession) {
	if act.cancelled.Load() {
		m.removePartial(sess)
		if err := m.setStatus(ctx, sess, model.StatusCancelled, ""); err != nil {
			logger.Error("could not persist cancellation", logger.Fields{"session": sess.ID, "error": err.Error()})
		}
		return
	}
	if err := m.setStatus(ctx, sess, model.StatusPaused, "interrupted by shutdown"); err != nil {
		logger.Error("could not park interrupted session", logger.Fields{"session": sess.ID, "error": err.Error()})
	}
}

func (m *ManagerImpl) failSession(ctx context.Context, sess *model.DownloadSession, cause error) {
	sess.ErrorMessage = cause.Error()
	if err := m.setStatus(ctx, sess, model.StatusFailed, cause.Error()); err != nil {
		logger.Error("could not persist failure", logger.Fields{
			"session": sess.ID,
			"cause":   cause.Error(),
			"error":   err.Error(),
		})
		return
	}
	logger.Warn("session failed", logger.Fields{
		"session": sess.ID,
		"model":   sess.Artifact.ModelID,
		"error":   cause.Error(),
	})
}
