package catalog

import (
	"context"
	"errors"
)

// Static errors for repository lookups.
var (
	// ErrJobNotFound is returned when a job cannot be found by ID.
	ErrJobNotFound = errors.New("job not found")
	// ErrMediaNotFound is returned when a media file cannot be found by ID.
	ErrMediaNotFound = errors.New("media file not found")
	// ErrBucketNotFound is returned when a bucket cannot be found by ID.
	ErrBucketNotFound = errors.New("bucket not found")
)

// Repository defines the interface for catalog persistence.
// It acts as a port in the hexagonal architecture pattern; the record
// store is the serialization point for all pipeline mutations.
type Repository interface {
	// SaveJob persists a job. If the job already exists it is updated.
	SaveJob(ctx context.Context, job *Job) error

	// FindJob retrieves a job by its unique identifier.
	// Returns ErrJobNotFound if the job does not exist.
	FindJob(ctx context.Context, id string) (*Job, error)

	// ListJobs returns jobs ordered by creation time descending,
	// paged by limit and offset.
	ListJobs(ctx context.Context, limit, offset int) ([]*Job, error)

	// ListActiveJobs returns every job whose status is not terminal.
	ListActiveJobs(ctx context.Context) ([]*Job, error)

	// DeleteJob removes a job and cascades to its media files, buckets
	// and tournament matches. Returns ErrJobNotFound if absent.
	DeleteJob(ctx context.Context, id string) error

	// SaveMedia persists a media file. Existing records are updated.
	SaveMedia(ctx context.Context, media *MediaFile) error

	// FindMedia retrieves a media file by ID.
	// Returns ErrMediaNotFound if absent.
	FindMedia(ctx context.Context, id string) (*MediaFile, error)

	// ListMediaByJob returns a job's media files in archive order
	// (creation order).
	ListMediaByJob(ctx context.Context, jobID string) ([]*MediaFile, error)

	// ListMediaByBucket returns a bucket's members in archive order.
	// The first member is the bucket's representative.
	ListMediaByBucket(ctx context.Context, bucketID string) ([]*MediaFile, error)

	// AssignBucket sets the bucket of the given media files in one batch.
	AssignBucket(ctx context.Context, bucketID string, mediaIDs []string) error

	// SaveBucket persists a bucket. Existing records are updated.
	SaveBucket(ctx context.Context, bucket *Bucket) error

	// ListBucketsByJob returns a job's buckets in creation order.
	ListBucketsByJob(ctx context.Context, jobID string) ([]*Bucket, error)

	// DeleteBucket removes an empty bucket left behind by a merge.
	// Returns ErrBucketNotFound if absent.
	DeleteBucket(ctx context.Context, id string) error

	// SaveMatch persists a tournament match. Matches are immutable.
	SaveMatch(ctx context.Context, match *TournamentMatch) error

	// ListMatchesByBucket returns a bucket's matches in recording order.
	ListMatchesByBucket(ctx context.Context, bucketID string) ([]*TournamentMatch, error)
}
