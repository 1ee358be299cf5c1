// Package database provides the sqlite-backed durable state of the engine:
// session records, chunk records and blob manifests. The chunk table is the
// authoritative resume checkpoint; on restart, remaining work is re-derived
// from chunk status, never by re-probing the partial file.
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/glorpus-work/modelstore/pkg/errors"
	"github.com/glorpus-work/modelstore/pkg/model"
	_ "modernc.org/sqlite"
)

// Database wraps the sqlite connection.
type Database struct {
	db *sql.DB
}

// New opens (or creates) the state database at dbPath.
func New(dbPath string) (*Database, error) {
	// WAL keeps chunk-commit writes cheap while readers watch progress, and
	// busy_timeout makes concurrent checkpoint writes wait instead of failing
	// with SQLITE_BUSY. The pragmas ride the DSN so every pooled connection
	// gets them.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	// sqlite allows one writer at a time; serializing in the pool avoids lock
	// contention between concurrent chunk workers.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping state database: %w", err)
	}

	d := &Database{db: db}
	if err := d.initSchema(); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return d, nil
}

// Close closes the underlying connection.
func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		model_id TEXT NOT NULL,
		variant_id TEXT,
		version TEXT,
		source_url TEXT NOT NULL,
		expected_hash TEXT NOT NULL,
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		priority INTEGER NOT NULL,
		total_bytes INTEGER NOT NULL,
		retry_count INTEGER DEFAULT 0,
		error_message TEXT,
		dest_path TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		started_at INTEGER,
		paused_at INTEGER,
		completed_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);

	CREATE TABLE IF NOT EXISTS chunks (
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		idx INTEGER NOT NULL,
		start_byte INTEGER NOT NULL,
		end_byte INTEGER NOT NULL,
		downloaded_bytes INTEGER DEFAULT 0,
		status TEXT NOT NULL,
		PRIMARY KEY (session_id, idx)
	);

	CREATE TABLE IF NOT EXISTS manifests (
		name TEXT PRIMARY KEY,
		hash TEXT NOT NULL,
		blob_path TEXT NOT NULL,
		size_bytes INTEGER NOT NULL,
		format TEXT NOT NULL,
		source_registry TEXT,
		model_id TEXT NOT NULL,
		variant_id TEXT,
		version TEXT,
		metadata TEXT,
		installed_at INTEGER NOT NULL,
		last_used_at INTEGER,
		use_count INTEGER DEFAULT 0,
		total_use_duration INTEGER DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_manifests_hash ON manifests(hash);
	`
	_, err := d.db.Exec(query)
	return err
}

// CreateSession inserts a session together with its chunk partition in one
// transaction.
func (d *Database) CreateSession(ctx context.Context, sess *model.DownloadSession, chunks []model.Chunk) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, model_id, variant_id, version, source_url, expected_hash,
			name, status, priority, total_bytes, retry_count, error_message, dest_path,
			created_at, started_at, paused_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Artifact.ModelID, sess.Artifact.VariantID, sess.Artifact.Version,
		sess.Artifact.SourceURL, sess.Artifact.ExpectedHash, sess.Name, string(sess.Status),
		int(sess.Priority), sess.TotalBytes, sess.RetryCount, sess.ErrorMessage, sess.DestPath,
		sess.CreatedAt.Unix(), unixPtr(sess.StartedAt), unixPtr(sess.PausedAt), unixPtr(sess.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	for i := range chunks {
		c := &chunks[i]
		_, err = tx.ExecContext(ctx, `
			INSERT INTO chunks (session_id, idx, start_byte, end_byte, downloaded_bytes, status)
			VALUES (?, ?, ?, ?, ?, ?)`,
			c.SessionID, c.Index, c.StartByte, c.EndByte, c.DownloadedBytes, string(c.Status))
		if err != nil {
			return fmt.Errorf("insert chunk %d: %w", c.Index, err)
		}
	}

	return tx.Commit()
}

// UpdateSession rewrites the mutable fields of a session record.
func (d *Database) UpdateSession(ctx context.Context, sess *model.DownloadSession) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE sessions SET status = ?, retry_count = ?, error_message = ?,
			started_at = ?, paused_at = ?, completed_at = ?
		WHERE id = ?`,
		string(sess.Status), sess.RetryCount, sess.ErrorMessage,
		unixPtr(sess.StartedAt), unixPtr(sess.PausedAt), unixPtr(sess.CompletedAt), sess.ID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errors.ErrSessionNotFound
	}
	return nil
}

// GetSession loads one session. DownloadedBytes is derived from the chunk
// table so the invariant downloadedBytes == sum(chunk.downloadedBytes) holds
// structurally.
func (d *Database) GetSession(ctx context.Context, id string) (*model.DownloadSession, error) {
	row := d.db.QueryRowContext(ctx, sessionSelect+` WHERE s.id = ? GROUP BY s.id`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, errors.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return sess, nil
}

// ListSessions returns all sessions ordered by creation time.
func (d *Database) ListSessions(ctx context.Context) ([]*model.DownloadSession, error) {
	rows, err := d.db.QueryContext(ctx, sessionSelect+` GROUP BY s.id ORDER BY s.created_at`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*model.DownloadSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// DeleteSession removes a session and, via cascade, its chunks.
func (d *Database) DeleteSession(ctx context.Context, id string) error {
	res, err := d.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errors.ErrSessionNotFound
	}
	return nil
}

const sessionSelect = `
	SELECT s.id, s.model_id, s.variant_id, s.version, s.source_url, s.expected_hash,
		s.name, s.status, s.priority, s.total_bytes, s.retry_count, s.error_message,
		s.dest_path, s.created_at, s.started_at, s.paused_at, s.completed_at,
		COALESCE(SUM(c.downloaded_bytes), 0)
	FROM sessions s LEFT JOIN chunks c ON c.session_id = s.id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*model.DownloadSession, error) {
	var (
		sess                          model.DownloadSession
		status                        string
		priority                      int
		variantID, version, errMsg    sql.NullString
		createdAt                     int64
		startedAt, pausedAt, doneAt   sql.NullInt64
	)
	err := row.Scan(&sess.ID, &sess.Artifact.ModelID, &variantID, &version,
		&sess.Artifact.SourceURL, &sess.Artifact.ExpectedHash, &sess.Name, &status,
		&priority, &sess.TotalBytes, &sess.RetryCount, &errMsg, &sess.DestPath,
		&createdAt, &startedAt, &pausedAt, &doneAt, &sess.DownloadedBytes)
	if err != nil {
		return nil, err
	}
	sess.Artifact.VariantID = variantID.String
	sess.Artifact.Version = version.String
	sess.Artifact.TotalBytes = sess.TotalBytes
	sess.Status = model.SessionStatus(status)
	sess.Priority = model.Priority(priority)
	sess.ErrorMessage = errMsg.String
	sess.CreatedAt = time.Unix(createdAt, 0)
	sess.StartedAt = timePtr(startedAt)
	sess.PausedAt = timePtr(pausedAt)
	sess.CompletedAt = timePtr(doneAt)
	return &sess, nil
}

// GetChunks returns the chunk partition of a session ordered by index.
func (d *Database) GetChunks(ctx context.Context, sessionID string) ([]model.Chunk, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT session_id, idx, start_byte, end_byte, downloaded_bytes, status
		FROM chunks WHERE session_id = ? ORDER BY idx`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var chunks []model.Chunk
	for rows.Next() {
		var c model.Chunk
		var status string
		if err := rows.Scan(&c.SessionID, &c.Index, &c.StartByte, &c.EndByte, &c.DownloadedBytes, &status); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		c.Status = model.ChunkStatus(status)
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// RecordChunk persists one chunk's state. This is the scheduler's resume
// checkpoint write.
func (d *Database) RecordChunk(ctx context.Context, chunk model.Chunk) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE chunks SET downloaded_bytes = ?, status = ?
		WHERE session_id = ? AND idx = ?`,
		chunk.DownloadedBytes, string(chunk.Status), chunk.SessionID, chunk.Index)
	if err != nil {
		return fmt.Errorf("update chunk: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("chunk %d of session %s: %w", chunk.Index, chunk.SessionID, errors.ErrSessionNotFound)
	}
	return nil
}

// ResetIncompleteChunks returns Failed/Downloading chunks of a session to
// Pending, used by the retry operation. Completed chunks are preserved.
func (d *Database) ResetIncompleteChunks(ctx context.Context, sessionID string) error {
	_, err := d.db.ExecContext(ctx, `
		UPDATE chunks SET status = ?, downloaded_bytes = 0
		WHERE session_id = ? AND status != ?`,
		string(model.ChunkPending), sessionID, string(model.ChunkCompleted))
	if err != nil {
		return fmt.Errorf("reset chunks: %w", err)
	}
	return nil
}

func unixPtr(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0)
	return &t
}

// CreateManifest inserts a manifest record.
func (d *Database) CreateManifest(ctx context.Context, m *model.InstalledModel) error {
	metadata, err := json.Marshal(m.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	_, err = d.db.ExecContext(ctx, `
		INSERT INTO manifests (name, hash, blob_path, size_bytes, format, source_registry,
			model_id, variant_id, version, metadata, installed_at, last_used_at,
			use_count, total_use_duration)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.Name, m.Hash, m.BlobPath, m.SizeBytes, m.Format, m.SourceRegistry,
		m.ModelID, m.VariantID, m.Version, string(metadata), m.InstalledAt.Unix(),
		unixPtr(m.LastUsedAt), m.UseCount, m.TotalUseDuration)
	if err != nil {
		return fmt.Errorf("insert manifest: %w", err)
	}
	return nil
}

// GetManifest loads a manifest by name.
func (d *Database) GetManifest(ctx context.Context, name string) (*model.InstalledModel, error) {
	row := d.db.QueryRowContext(ctx, manifestSelect+` WHERE name = ?`, name)
	m, err := scanManifest(row)
	if err == sql.ErrNoRows {
		return nil, errors.ErrModelNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan manifest: %w", err)
	}
	return m, nil
}

// ListManifests returns all manifests ordered by name.
func (d *Database) ListManifests(ctx context.Context) ([]*model.InstalledModel, error) {
	rows, err := d.db.QueryContext(ctx, manifestSelect+` ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query manifests: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var manifests []*model.InstalledModel
	for rows.Next() {
		m, err := scanManifest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan manifest: %w", err)
		}
		manifests = append(manifests, m)
	}
	return manifests, rows.Err()
}

// DeleteManifest removes a manifest by name.
func (d *Database) DeleteManifest(ctx context.Context, name string) error {
	res, err := d.db.ExecContext(ctx, `DELETE FROM manifests WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete manifest: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errors.ErrModelNotFound
	}
	return nil
}

// CountManifestsByHash reports how many manifests reference a blob. The blob
// may only be reclaimed once this reaches zero.
func (d *Database) CountManifestsByHash(ctx context.Context, hash string) (int, error) {
	var count int
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM manifests WHERE hash = ?`, hash).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count manifests: %w", err)
	}
	return count, nil
}

// TouchManifest records one use of a model.
func (d *Database) TouchManifest(ctx context.Context, name string, usedAt time.Time, duration time.Duration) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE manifests SET last_used_at = ?, use_count = use_count + 1,
			total_use_duration = total_use_duration + ?
		WHERE name = ?`,
		usedAt.Unix(), int64(duration.Seconds()), name)
	if err != nil {
		return fmt.Errorf("touch manifest: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errors.ErrModelNotFound
	}
	return nil
}

const manifestSelect = `
	SELECT name, hash, blob_path, size_bytes, format, source_registry, model_id,
		variant_id, version, metadata, installed_at, last_used_at, use_count,
		total_use_duration
	FROM manifests`

func scanManifest(row rowScanner) (*model.InstalledModel, error) {
	var (
		m                           model.InstalledModel
		registry, variant, version  sql.NullString
		metadata                    sql.NullString
		installedAt                 int64
		lastUsedAt                  sql.NullInt64
	)
	err := row.Scan(&m.Name, &m.Hash, &m.BlobPath, &m.SizeBytes, &m.Format, &registry,
		&m.ModelID, &variant, &version, &metadata, &installedAt, &lastUsedAt,
		&m.UseCount, &m.TotalUseDuration)
	if err != nil {
		return nil, err
	}
	m.SourceRegistry = registry.String
	m.VariantID = variant.String
	m.Version = version.String
	m.InstalledAt = time.Unix(installedAt, 0)
	m.LastUsedAt = timePtr(lastUsedAt)
	if metadata.Valid && metadata.String != "" {
		_ = json.Unmarshal([]byte(metadata.String), &m.Metadata)
	}
	return &m, nil
}
