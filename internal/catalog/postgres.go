package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Compile-time check that PostgresRepository implements Repository.
var _ Repository = (*PostgresRepository)(nil)

// schema is applied at startup. Foreign keys cascade so deleting a job
// removes every descendant row in one statement.
const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL,
	total_files     INTEGER NOT NULL DEFAULT 0,
	processed_files INTEGER NOT NULL DEFAULT 0,
	error           TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL,
	completed_at    TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS buckets (
	id         TEXT PRIMARY KEY,
	job_id     TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	name       TEXT NOT NULL DEFAULT '',
	centroid   TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS media_files (
	id                TEXT PRIMARY KEY,
	job_id            TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	filename          TEXT NOT NULL,
	original_path     TEXT NOT NULL DEFAULT '',
	blob_key          TEXT NOT NULL DEFAULT '',
	blob_url          TEXT NOT NULL DEFAULT '',
	media_type        TEXT NOT NULL,
	mime_type         TEXT NOT NULL DEFAULT '',
	size_bytes        BIGINT NOT NULL DEFAULT 0,
	label             TEXT NOT NULL DEFAULT '',
	rating_score      DOUBLE PRECISION NOT NULL DEFAULT 1000,
	is_top_pick       BOOLEAN NOT NULL DEFAULT FALSE,
	enhanced_blob_key TEXT NOT NULL DEFAULT '',
	enhanced_blob_url TEXT NOT NULL DEFAULT '',
	bucket_id         TEXT REFERENCES buckets(id) ON DELETE SET NULL,
	created_at        TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS tournament_matches (
	id         TEXT PRIMARY KEY,
	bucket_id  TEXT NOT NULL REFERENCES buckets(id) ON DELETE CASCADE,
	media_type TEXT NOT NULL,
	round      INTEGER NOT NULL DEFAULT 1,
	media1_id  TEXT NOT NULL,
	media2_id  TEXT NOT NULL,
	winner_id  TEXT NOT NULL,
	reasoning  TEXT NOT NULL DEFAULT '',
	change1    DOUBLE PRECISION NOT NULL DEFAULT 0,
	change2    DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_media_files_job ON media_files(job_id, created_at);
CREATE INDEX IF NOT EXISTS idx_media_files_bucket ON media_files(bucket_id, created_at);
CREATE INDEX IF NOT EXISTS idx_buckets_job ON buckets(job_id, created_at);
CREATE INDEX IF NOT EXISTS idx_matches_bucket ON tournament_matches(bucket_id, created_at);
`

// PostgresRepository is the pgx-backed implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository connects to the record store and ensures the
// schema exists.
func NewPostgresRepository(ctx context.Context, databaseURL string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect record store: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &PostgresRepository{pool: pool}, nil
}

// Close releases the connection pool.
func (r *PostgresRepository) Close() {
	r.pool.Close()
}

// SaveJob persists a job with an upsert.
func (r *PostgresRepository) SaveJob(ctx context.Context, job *Job) error {
	var completed *time.Time
	if !job.CompletedAt.IsZero() {
		completed = &job.CompletedAt
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO jobs (id, name, status, total_files, processed_files, error, created_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			total_files = EXCLUDED.total_files,
			processed_files = EXCLUDED.processed_files,
			error = EXCLUDED.error,
			updated_at = EXCLUDED.updated_at,
			completed_at = EXCLUDED.completed_at`,
		job.ID, job.Name, string(job.Status), job.TotalFiles, job.ProcessedFiles,
		job.Error, job.CreatedAt, job.UpdatedAt, completed,
	)
	if err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	return nil
}

// FindJob retrieves a job by ID.
func (r *PostgresRepository) FindJob(ctx context.Context, id string) (*Job, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, status, total_files, processed_files, error, created_at, updated_at, completed_at
		FROM jobs WHERE id = $1`, id)
	return scanJob(row)
}

// ListJobs returns jobs ordered by creation time descending.
func (r *PostgresRepository) ListJobs(ctx context.Context, limit, offset int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, status, total_files, processed_files, error, created_at, updated_at, completed_at
		FROM jobs ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// ListActiveJobs returns every job whose status is not terminal.
func (r *PostgresRepository) ListActiveJobs(ctx context.Context) ([]*Job, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, status, total_files, processed_files, error, created_at, updated_at, completed_at
		FROM jobs WHERE status NOT IN ($1, $2) ORDER BY created_at`,
		string(StatusCompleted), string(StatusFailed))
	if err != nil {
		return nil, fmt.Errorf("list active jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// DeleteJob removes a job; descendants go with it via the cascading
// foreign keys.
func (r *PostgresRepository) DeleteJob(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

// SaveMedia persists a media file with an upsert.
func (r *PostgresRepository) SaveMedia(ctx context.Context, m *MediaFile) error {
	var bucketID *string
	if m.BucketID != "" {
		bucketID = &m.BucketID
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO media_files (id, job_id, filename, original_path, blob_key, blob_url, media_type,
			mime_type, size_bytes, label, rating_score, is_top_pick, enhanced_blob_key, enhanced_blob_url,
			bucket_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			label = EXCLUDED.label,
			rating_score = EXCLUDED.rating_score,
			is_top_pick = EXCLUDED.is_top_pick,
			enhanced_blob_key = EXCLUDED.enhanced_blob_key,
			enhanced_blob_url = EXCLUDED.enhanced_blob_url,
			bucket_id = EXCLUDED.bucket_id`,
		m.ID, m.JobID, m.Filename, m.OriginalPath, m.BlobKey, m.BlobURL, string(m.MediaType),
		m.MimeType, m.SizeBytes, m.Label, m.RatingScore, m.IsTopPick, m.EnhancedBlobKey,
		m.EnhancedBlobURL, bucketID, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save media: %w", err)
	}
	return nil
}

// FindMedia retrieves a media file by ID.
func (r *PostgresRepository) FindMedia(ctx context.Context, id string) (*MediaFile, error) {
	row := r.pool.QueryRow(ctx, mediaSelect+` WHERE id = $1`, id)
	m, err := scanMedia(row)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ListMediaByJob returns a job's media files in archive order.
func (r *PostgresRepository) ListMediaByJob(ctx context.Context, jobID string) ([]*MediaFile, error) {
	rows, err := r.pool.Query(ctx, mediaSelect+` WHERE job_id = $1 ORDER BY created_at, id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list media: %w", err)
	}
	defer rows.Close()
	return collectMedia(rows)
}

// ListMediaByBucket returns a bucket's members in archive order.
func (r *PostgresRepository) ListMediaByBucket(ctx context.Context, bucketID string) ([]*MediaFile, error) {
	rows, err := r.pool.Query(ctx, mediaSelect+` WHERE bucket_id = $1 ORDER BY created_at, id`, bucketID)
	if err != nil {
		return nil, fmt.Errorf("list bucket media: %w", err)
	}
	defer rows.Close()
	return collectMedia(rows)
}

// AssignBucket sets the bucket of the given media files in one transaction.
func (r *PostgresRepository) AssignBucket(ctx context.Context, bucketID string, mediaIDs []string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin assign bucket: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, id := range mediaIDs {
		tag, err := tx.Exec(ctx, `UPDATE media_files SET bucket_id = $1 WHERE id = $2`, bucketID, id)
		if err != nil {
			return fmt.Errorf("assign bucket: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrMediaNotFound
		}
	}
	return tx.Commit(ctx)
}

// SaveBucket persists a bucket with an upsert.
func (r *PostgresRepository) SaveBucket(ctx context.Context, b *Bucket) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO buckets (id, job_id, name, centroid, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, centroid = EXCLUDED.centroid`,
		b.ID, b.JobID, b.Name, b.Centroid, b.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save bucket: %w", err)
	}
	return nil
}

// ListBucketsByJob returns a job's buckets in creation order.
func (r *PostgresRepository) ListBucketsByJob(ctx context.Context, jobID string) ([]*Bucket, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, job_id, name, centroid, created_at
		FROM buckets WHERE job_id = $1 ORDER BY created_at, id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}
	defer rows.Close()

	var out []*Bucket
	for rows.Next() {
		b := &Bucket{}
		if err := rows.Scan(&b.ID, &b.JobID, &b.Name, &b.Centroid, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// DeleteBucket removes a bucket.
func (r *PostgresRepository) DeleteBucket(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM buckets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete bucket: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBucketNotFound
	}
	return nil
}

// SaveMatch persists a tournament match.
func (r *PostgresRepository) SaveMatch(ctx context.Context, t *TournamentMatch) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO tournament_matches (id, bucket_id, media_type, round, media1_id, media2_id,
			winner_id, reasoning, change1, change2, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		t.ID, t.BucketID, string(t.MediaType), t.Round, t.Media1ID, t.Media2ID,
		t.WinnerID, t.Reasoning, t.Change1, t.Change2, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save match: %w", err)
	}
	return nil
}

// ListMatchesByBucket returns a bucket's matches in recording order.
func (r *PostgresRepository) ListMatchesByBucket(ctx context.Context, bucketID string) ([]*TournamentMatch, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, bucket_id, media_type, round, media1_id, media2_id, winner_id, reasoning, change1, change2, created_at
		FROM tournament_matches WHERE bucket_id = $1 ORDER BY created_at, id`, bucketID)
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	defer rows.Close()

	var out []*TournamentMatch
	for rows.Next() {
		t := &TournamentMatch{}
		var mediaType string
		if err := rows.Scan(&t.ID, &t.BucketID, &mediaType, &t.Round, &t.Media1ID, &t.Media2ID,
			&t.WinnerID, &t.Reasoning, &t.Change1, &t.Change2, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		t.MediaType = MediaType(mediaType)
		out = append(out, t)
	}
	return out, rows.Err()
}

const mediaSelect = `
	SELECT id, job_id, filename, original_path, blob_key, blob_url, media_type, mime_type,
		size_bytes, label, rating_score, is_top_pick, enhanced_blob_key, enhanced_blob_url,
		bucket_id, created_at
	FROM media_files`

// scanJob reads one job row.
func scanJob(row pgx.Row) (*Job, error) {
	j := &Job{}
	var status string
	var completed *time.Time
	err := row.Scan(&j.ID, &j.Name, &status, &j.TotalFiles, &j.ProcessedFiles,
		&j.Error, &j.CreatedAt, &j.UpdatedAt, &completed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	j.Status = Status(status)
	if completed != nil {
		j.CompletedAt = *completed
	}
	return j, nil
}

// collectJobs reads all job rows.
func collectJobs(rows pgx.Rows) ([]*Job, error) {
	var out []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// scanMedia reads one media row.
func scanMedia(row pgx.Row) (*MediaFile, error) {
	m := &MediaFile{}
	var mediaType string
	var bucketID *string
	err := row.Scan(&m.ID, &m.JobID, &m.Filename, &m.OriginalPath, &m.BlobKey, &m.BlobURL,
		&mediaType, &m.MimeType, &m.SizeBytes, &m.Label, &m.RatingScore, &m.IsTopPick,
		&m.EnhancedBlobKey, &m.EnhancedBlobURL, &bucketID, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMediaNotFound
		}
		return nil, fmt.Errorf("scan media: %w", err)
	}
	m.MediaType = MediaType(mediaType)
	if bucketID != nil {
		m.BucketID = *bucketID
	}
	return m, nil
}

// collectMedia reads all media rows.
func collectMedia(rows pgx.Rows) ([]*MediaFile, error) {
	var out []*MediaFile
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
