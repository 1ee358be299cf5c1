package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/glorpus-work/modelstore/internal/logger"
	pkgerrors "github.com/glorpus-work/modelstore/pkg/errors"
	"github.com/glorpus-work/modelstore/pkg/fsutil"
	"github.com/glorpus-work/modelstore/pkg/model"
)

// Options control a scheduler run. They are copied from the configuration
// when the session is submitted and immutable afterwards.
type Options struct {
	ChunkSize      int64
	Workers        int
	Retries        int
	RetryBaseDelay time.Duration
	RateWindow     time.Duration
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = 10 * 1024 * 1024
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.Retries <= 0 {
		o.Retries = 3
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = time.Second
	}
	if o.RateWindow <= 0 {
		o.RateWindow = 5 * time.Second
	}
	return o
}

// Signal is a one-shot pause trigger observed by workers at chunk
// boundaries. In-flight chunks are never interrupted by it.
type Signal struct {
	once sync.Once
	ch   chan struct{}
}

// NewSignal creates an untriggered signal.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{})}
}

// Trigger fires the signal. Safe to call more than once.
func (s *Signal) Trigger() {
	s.once.Do(func() { close(s.ch) })
}

// Done returns a channel closed once the signal fired.
func (s *Signal) Done() <-chan struct{} { return s.ch }

// Triggered reports whether the signal fired.
func (s *Signal) Triggered() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// ProgressFunc receives live byte totals and the windowed rate estimate.
type ProgressFunc func(downloadedBytes, bytesPerSecond int64)

// Scheduler runs the chunked transfer of one session.
type Scheduler struct {
	client   TransferClient
	recorder ChunkRecorder
	opts     Options
}

// NewScheduler creates a scheduler using the given transfer client and chunk
// recorder.
func NewScheduler(client TransferClient, recorder ChunkRecorder, opts Options) *Scheduler {
	return &Scheduler{client: client, recorder: recorder, opts: opts.withDefaults()}
}

// Run downloads every non-Completed chunk of the session into destPath.
// Completed chunks are never re-fetched. It returns pkgerrors.ErrPaused when
// the pause signal stopped admission before all chunks finished, and nil
// once every chunk is Completed.
func (s *Scheduler) Run(ctx context.Context, sess *model.DownloadSession, chunks []model.Chunk, pause *Signal, onProgress ProgressFunc) error {
	if err := ValidateChunks(chunks, sess.TotalBytes); err != nil {
		return err
	}
	if pause == nil {
		pause = NewSignal()
	}

	caps, err := s.client.Probe(ctx, sess.Artifact.SourceURL)
	if err != nil {
		return pkgerrors.Wrap(err, "capability probe failed")
	}
	if caps.ContentLength > 0 && caps.ContentLength != sess.TotalBytes {
		return pkgerrors.Wrapf(pkgerrors.ErrDownloadFailed,
			"source reports %d bytes, expected %d", caps.ContentLength, sess.TotalBytes)
	}

	file, err := s.openDest(sess.DestPath, sess.TotalBytes)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	if !caps.AcceptRanges {
		logger.Warn("source lacks range support, falling back to single-stream transfer",
			logger.Fields{"session": sess.ID, "url": sess.Artifact.SourceURL})
		return s.runSingleStream(ctx, sess, chunks, file, onProgress)
	}

	return s.runChunked(ctx, sess, chunks, file, pause, onProgress)
}

func (s *Scheduler) openDest(path string, totalBytes int64) (*os.File, error) {
	if err := fsutil.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, pkgerrors.Wrap(err, "could not create download dir")
	}
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, fsutil.FileModeDefault)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "could not open destination file")
	}
	if err := file.Truncate(totalBytes); err != nil {
		_ = file.Close()
		return nil, pkgerrors.Wrap(err, "could not size destination file")
	}
	return file, nil
}

func (s *Scheduler) runChunked(ctx context.Context, sess *model.DownloadSession, chunks []model.Chunk, file *os.File, pause *Signal, onProgress ProgressFunc) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var pending []int
	var confirmed int64
	for i := range chunks {
		if chunks[i].Status == model.ChunkCompleted {
			confirmed += chunks[i].DownloadedBytes
		} else {
			pending = append(pending, i)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	window := newRateWindow(s.opts.RateWindow)
	var confirmedBytes atomic.Int64
	confirmedBytes.Store(confirmed)
	var liveBytes atomic.Int64

	report := func() {
		if onProgress != nil {
			onProgress(confirmedBytes.Load()+liveBytes.Load(), window.Rate())
		}
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	workers := s.opts.Workers
	if workers > len(pending) {
		workers = len(pending)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				chunk := &chunks[idx]
				err := s.fetchChunkWithRetry(runCtx, sess, chunk, file, window, &liveBytes, report)
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					cancel() // other chunks stop at their next boundary
					continue
				}
				confirmedBytes.Add(chunk.DownloadedBytes)
				report()
			}
		}()
	}

	// Admission loop: pause and cancellation are observed here, at chunk
	// boundaries only.
feed:
	for _, idx := range pending {
		select {
		case jobs <- idx:
		case <-pause.Done():
			break feed
		case <-runCtx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	mu.Lock()
	err := firstErr
	mu.Unlock()
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if pause.Triggered() && !allCompleted(chunks) {
		return pkgerrors.ErrPaused
	}

	if err := file.Sync(); err != nil {
		return pkgerrors.Wrap(err, "could not sync destination file")
	}
	return nil
}

// fetchChunkWithRetry downloads one chunk with exponential backoff scoped to
// that chunk only. Other chunks continue unaffected.
func (s *Scheduler) fetchChunkWithRetry(ctx context.Context, sess *model.DownloadSession, chunk *model.Chunk, file *os.File, window *rateWindow, liveBytes *atomic.Int64, report func()) error {
	chunk.Status = model.ChunkDownloading
	if err := s.recorder.RecordChunk(ctx, *chunk); err != nil {
		// The start marker is advisory; only the completion record below is
		// the resume checkpoint.
		logger.Warn("could not record chunk start", logger.Fields{
			"session": sess.ID, "chunk": chunk.Index, "error": err.Error(),
		})
	}

	var lastErr error
	for attempt := 0; attempt < s.opts.Retries; attempt++ {
		if attempt > 0 {
			delay := s.opts.RetryBaseDelay << (attempt - 1)
			logger.Debug("retrying chunk", logger.Fields{
				"session": sess.ID, "chunk": chunk.Index, "attempt": attempt, "delay": delay.String(),
			})
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return s.failChunk(ctx, chunk, ctx.Err())
			}
		}

		lastErr = s.fetchChunk(ctx, sess, chunk, file, window, liveBytes, report)
		if lastErr == nil {
			chunk.Status = model.ChunkCompleted
			chunk.DownloadedBytes = chunk.Size()
			// The persisted record, not the file write, is the resume
			// checkpoint.
			lastErr = s.recorder.RecordChunk(ctx, *chunk)
			if lastErr == nil {
				return nil
			}
			// An unconfirmed chunk is not downloaded; the checkpoint write
			// failure spends a retry like any other disk failure.
			lastErr = pkgerrors.Wrap(lastErr, "could not record chunk completion")
			chunk.Status = model.ChunkDownloading
			chunk.DownloadedBytes = 0
		}
		if !isRetryable(lastErr) || ctx.Err() != nil {
			return s.failChunk(ctx, chunk, lastErr)
		}
	}
	return s.failChunk(ctx, chunk, pkgerrors.Wrapf(pkgerrors.ErrRetryBudgetExceeded,
		"chunk %d after %d attempts: %v", chunk.Index, s.opts.Retries, lastErr))
}

func (s *Scheduler) failChunk(ctx context.Context, chunk *model.Chunk, cause error) error {
	chunk.Status = model.ChunkFailed
	chunk.DownloadedBytes = 0
	// Persist even when ctx is cancelled so restart sees a consistent row.
	if err := s.recorder.RecordChunk(context.WithoutCancel(ctx), *chunk); err != nil {
		logger.Warn("could not record chunk failure", logger.Fields{"chunk": chunk.Index, "error": err.Error()})
	}
	return cause
}

// fetchChunk transfers one chunk's byte range into the file at its offset.
// Workers write disjoint ranges at explicit offsets and never contend on the
// same bytes.
func (s *Scheduler) fetchChunk(ctx context.Context, sess *model.DownloadSession, chunk *model.Chunk, file *os.File, window *rateWindow, liveBytes *atomic.Int64, report func()) error {
	body, err := s.client.FetchRange(ctx, sess.Artifact.SourceURL, chunk.StartByte, chunk.EndByte)
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()

	var written int64
	buf := make([]byte, 256*1024)
	defer func() {
		// Live bytes only count while the chunk is in flight; on return the
		// chunk is either confirmed or worthless.
		if written > 0 {
			liveBytes.Add(-written)
		}
	}()

	for written < chunk.Size() {
		n, readErr := body.Read(buf)
		if n > 0 {
			if written+int64(n) > chunk.Size() {
				return pkgerrors.Wrapf(pkgerrors.ErrDownloadFailed,
					"chunk %d: source sent more than %d bytes", chunk.Index, chunk.Size())
			}
			if _, writeErr := file.WriteAt(buf[:n], chunk.StartByte+written); writeErr != nil {
				return pkgerrors.Wrap(writeErr, "could not write chunk")
			}
			written += int64(n)
			liveBytes.Add(int64(n))
			window.Add(int64(n))
			report()
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return pkgerrors.Wrap(readErr, "chunk read failed")
		}
	}

	if written != chunk.Size() {
		return pkgerrors.Wrapf(pkgerrors.ErrDownloadFailed,
			"chunk %d: got %d of %d bytes", chunk.Index, written, chunk.Size())
	}
	return nil
}

// runSingleStream is the fallback for sources without range support. There
// is no mid-transfer resume: an interruption restarts from byte 0.
func (s *Scheduler) runSingleStream(ctx context.Context, sess *model.DownloadSession, chunks []model.Chunk, file *os.File, onProgress ProgressFunc) error {
	body, err := s.client.Fetch(ctx, sess.Artifact.SourceURL)
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()

	window := newRateWindow(s.opts.RateWindow)
	var written int64
	buf := make([]byte, 256*1024)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, writeErr := file.WriteAt(buf[:n], written); writeErr != nil {
				return pkgerrors.Wrap(writeErr, "could not write stream")
			}
			written += int64(n)
			window.Add(int64(n))
			if onProgress != nil {
				onProgress(written, window.Rate())
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return pkgerrors.Wrap(readErr, "stream read failed")
		}
	}

	if written != sess.TotalBytes {
		return pkgerrors.Wrapf(pkgerrors.ErrDownloadFailed,
			"got %d of %d bytes", written, sess.TotalBytes)
	}
	if err := file.Sync(); err != nil {
		return pkgerrors.Wrap(err, "could not sync destination file")
	}

	// The whole body arrived; confirm every chunk so the table keeps
	// partitioning the artifact.
	for i := range chunks {
		chunks[i].Status = model.ChunkCompleted
		chunks[i].DownloadedBytes = chunks[i].Size()
		if err := s.recorder.RecordChunk(ctx, chunks[i]); err != nil {
			return pkgerrors.Wrap(err, "could not record chunk completion")
		}
	}
	return nil
}

// isRetryable reports whether a chunk error is transient. Loss of range
// support mid-session and cancellations are final.
func isRetryable(err error) bool {
	switch {
	case errors.Is(err, pkgerrors.ErrRangeSupportDropped):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	default:
		return true
	}
}

// ValidateChunks checks that chunks partition [0, totalBytes) with no gaps
// or overlaps.
func ValidateChunks(chunks []model.Chunk, totalBytes int64) error {
	if len(chunks) == 0 {
		return fmt.Errorf("no chunks for %d bytes: %w", totalBytes, pkgerrors.ErrInvalidRequest)
	}
	var next int64
	for i := range chunks {
		c := &chunks[i]
		if c.Index != i || c.StartByte != next || c.EndByte <= c.StartByte {
			return fmt.Errorf("chunk %d does not continue the partition at byte %d: %w",
				i, next, pkgerrors.ErrInvalidRequest)
		}
		next = c.EndByte
	}
	if next != totalBytes {
		return fmt.Errorf("chunks cover %d of %d bytes: %w", next, totalBytes, pkgerrors.ErrInvalidRequest)
	}
	return nil
}

func allCompleted(chunks []model.Chunk) bool {
	for i := range chunks {
		if chunks[i].Status != model.ChunkCompleted {
			return false
		}
	}
	return true
}
