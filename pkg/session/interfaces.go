// Package session owns the download session lifecycle: admission through the
// priority queue, the transfer/verify/install pipeline, pause/resume/cancel/
// retry operations and crash recovery.
package session

import (
	"context"

	"github.com/glorpus-work/modelstore/pkg/model"
)

//go:generate mockgen -destination=./mocks/session.go -package=mocks . Manager,QuotaChecker

// QuotaChecker decides whether a user may start a download. The engine calls
// it before admission and treats a denial as a session failure, not a queue
// entry. The default implementation allows everything.
type QuotaChecker interface {
	Check(ctx context.Context, req *model.DownloadRequest) error
}

// AllowAll is the default quota policy.
type AllowAll struct{}

// Check implements QuotaChecker.
func (AllowAll) Check(_ context.Context, _ *model.DownloadRequest) error { return nil }

// Manager drives download sessions from submission to a terminal state.
type Manager interface {
	// Submit validates a request, runs the quota and disk-space checks,
	// persists a new session and enqueues it for admission.
	Submit(ctx context.Context, req *model.DownloadRequest) (*model.DownloadSession, error)

	// Get returns one session with live progress fields populated.
	Get(ctx context.Context, id string) (*model.DownloadSession, error)

	// List returns all sessions ordered by creation time.
	List(ctx context.Context) ([]*model.DownloadSession, error)

	// Pause stops a queued or downloading session at the next chunk
	// boundary. In-flight chunks finish; their bytes are kept.
	Pause(ctx context.Context, id string) error

	// Resume re-enqueues a paused session. Completed chunks are not
	// re-fetched.
	Resume(ctx context.Context, id string) error

	// Cancel aborts a session and deletes its partial file.
	Cancel(ctx context.Context, id string) error

	// Retry re-enqueues a failed session, keeping completed chunks.
	Retry(ctx context.Context, id string) error

	// Recover reconciles persisted state after a restart: sessions that
	// were active become Paused, queued sessions are re-enqueued.
	Recover(ctx context.Context) error

	// Run is the admission dispatcher. It blocks until ctx is cancelled
	// and must be running for sessions to make progress.
	Run(ctx context.Context)
}
