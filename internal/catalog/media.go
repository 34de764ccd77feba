package catalog

import (
	"time"

	"github.com/google/uuid"
)

// MediaType distinguishes images from video clips.
type MediaType string

const (
	// MediaTypeImage is a still photograph.
	MediaTypeImage MediaType = "image"
	// MediaTypeVideo is a short video clip.
	MediaTypeVideo MediaType = "video"
)

// DefaultRating is the Elo rating every media file starts from.
const DefaultRating = 1000.0

// MediaFile represents one ingested photo or video.
type MediaFile struct {
	// ID is the unique identifier for this media file.
	ID string
	// JobID is the owning job.
	JobID string
	// Filename is the sanitized basename used in blob keys.
	Filename string
	// OriginalPath is the path of the entry inside the uploaded archive.
	OriginalPath string
	// BlobKey is the blob store key of the original bytes.
	BlobKey string
	// BlobURL is a URL under which the original can be fetched.
	BlobURL string
	// MediaType is image or video.
	MediaType MediaType
	// MimeType is the resolved MIME type.
	MimeType string
	// SizeBytes is the uncompressed size of the entry.
	SizeBytes int64
	// Label is the one-sentence description produced by the labeler stage.
	Label string
	// RatingScore is the Elo rating produced by the ranking stage.
	RatingScore float64
	// IsTopPick marks the top-rated members of a bucket.
	IsTopPick bool
	// EnhancedBlobKey is the blob store key of the enhanced rendering, if any.
	EnhancedBlobKey string
	// EnhancedBlobURL is a URL for the enhanced rendering, if any.
	EnhancedBlobURL string
	// BucketID is the same-take bucket this file belongs to, if assigned.
	BucketID string
	// CreatedAt is when the record was created; also fixes archive order.
	CreatedAt time.Time
}

// NewMediaFile creates a MediaFile record with a fresh ID and the default rating.
func NewMediaFile(jobID string) *MediaFile {
	return &MediaFile{
		ID:          uuid.NewString(),
		JobID:       jobID,
		RatingScore: DefaultRating,
		CreatedAt:   time.Now(),
	}
}

// Clone creates a copy of the media file for safe reads.
func (m *MediaFile) Clone() *MediaFile {
	c := *m
	return &c
}

// Bucket is a same-take group of media files within a job.
type Bucket struct {
	// ID is the unique identifier for this bucket.
	ID string
	// JobID is the owning job.
	JobID string
	// Name is a short model-generated description of the take.
	Name string
	// Centroid is reserved for a future embedding representation; unused.
	Centroid string
	// CreatedAt is when the bucket was created.
	CreatedAt time.Time
}

// NewBucket creates a Bucket with a fresh ID.
func NewBucket(jobID, name string) *Bucket {
	return &Bucket{
		ID:        uuid.NewString(),
		JobID:     jobID,
		Name:      name,
		CreatedAt: time.Now(),
	}
}

// Clone creates a copy of the bucket for safe reads.
func (b *Bucket) Clone() *Bucket {
	c := *b
	return &c
}

// TournamentMatch records one pairwise quality judgment inside a bucket.
// Rows are immutable once written.
type TournamentMatch struct {
	// ID is the unique identifier for this match.
	ID string
	// BucketID is the bucket the match was played in.
	BucketID string
	// MediaType is the media type of both contestants.
	MediaType MediaType
	// Round is the tournament round; the full round-robin is round 1.
	Round int
	// Media1ID and Media2ID identify the contestants.
	Media1ID string
	Media2ID string
	// WinnerID is one of Media1ID or Media2ID.
	WinnerID string
	// Reasoning is the model's explanation of the verdict.
	Reasoning string
	// Change1 and Change2 are the rating deltas actually applied.
	Change1 float64
	Change2 float64
	// CreatedAt is when the match was recorded.
	CreatedAt time.Time
}

// NewTournamentMatch creates a match record with a fresh ID.
func NewTournamentMatch(bucketID string, mediaType MediaType) *TournamentMatch {
	return &TournamentMatch{
		ID:        uuid.NewString(),
		BucketID:  bucketID,
		MediaType: mediaType,
		Round:     1,
		CreatedAt: time.Now(),
	}
}

// Clone creates a copy of the match for safe reads.
func (t *TournamentMatch) Clone() *TournamentMatch {
	c := *t
	return &c
}
