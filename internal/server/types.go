// Package server provides the HTTP surface of the PhotoCull API.
// It includes handlers, middleware, routes, the websocket upload endpoint
// and DTOs separated from domain types.
package server

import (
	"time"

	"github.com/maauso/photocull-api/internal/catalog"
	"github.com/maauso/photocull-api/internal/pipeline"
)

// CreateJobRequest is the HTTP request body for allocating an upload job.
type CreateJobRequest struct {
	// Name optionally labels the job.
	Name string `json:"name" validate:"omitempty,max=200"`
}

// CreateJobResponse points the client at the upload session.
type CreateJobResponse struct {
	JobID string `json:"jobId"`
	WSURL string `json:"wsUrl"`
}

// JobSummary is the HTTP projection of a job.
type JobSummary struct {
	ID             string     `json:"id"`
	Name           string     `json:"name,omitempty"`
	Status         string     `json:"status"`
	TotalFiles     int        `json:"totalFiles"`
	ProcessedFiles int        `json:"processedFiles"`
	Error          string     `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
}

// JobListResponse is one page of job summaries.
type JobListResponse struct {
	Jobs   []JobSummary `json:"jobs"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

// MediaFileView is the HTTP projection of a media file.
type MediaFileView struct {
	ID              string  `json:"id"`
	Filename        string  `json:"filename"`
	MediaType       string  `json:"mediaType"`
	MimeType        string  `json:"mimeType"`
	SizeBytes       int64   `json:"sizeBytes"`
	BlobURL         string  `json:"blobUrl,omitempty"`
	Label           string  `json:"label,omitempty"`
	RatingScore     float64 `json:"ratingScore"`
	IsTopPick       bool    `json:"isTopPick"`
	EnhancedBlobURL string  `json:"enhancedBlobUrl,omitempty"`
	BucketID        string  `json:"bucketId,omitempty"`
}

// BucketResultView is one bucket with members ordered by rating.
type BucketResultView struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Members []MediaFileView `json:"members"`
}

// PartialResultsResponse is the mid-pipeline projection.
type PartialResultsResponse struct {
	Job         JobSummary         `json:"job"`
	Buckets     []BucketResultView `json:"buckets"`
	Unclustered []MediaFileView    `json:"unclustered"`
}

// FinalBucketResultView is one bucket of a completed job.
type FinalBucketResultView struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	TopImages []MediaFileView `json:"topImages"`
	TopVideos []MediaFileView `json:"topVideos"`
	Ranked    []MediaFileView `json:"ranked"`
}

// FinalResultsResponse is the completed-job projection.
type FinalResultsResponse struct {
	Job     JobSummary              `json:"job"`
	Buckets []FinalBucketResultView `json:"buckets"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}

// toJobSummary maps a domain job onto its DTO.
func toJobSummary(j *catalog.Job) JobSummary {
	s := JobSummary{
		ID:             j.ID,
		Name:           j.Name,
		Status:         string(j.Status),
		TotalFiles:     j.TotalFiles,
		ProcessedFiles: j.ProcessedFiles,
		Error:          j.Error,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}
	if !j.CompletedAt.IsZero() {
		t := j.CompletedAt
		s.CompletedAt = &t
	}
	return s
}

// toMediaView maps a domain media file onto its DTO.
func toMediaView(m *catalog.MediaFile) MediaFileView {
	return MediaFileView{
		ID:              m.ID,
		Filename:        m.Filename,
		MediaType:       string(m.MediaType),
		MimeType:        m.MimeType,
		SizeBytes:       m.SizeBytes,
		BlobURL:         m.BlobURL,
		Label:           m.Label,
		RatingScore:     m.RatingScore,
		IsTopPick:       m.IsTopPick,
		EnhancedBlobURL: m.EnhancedBlobURL,
		BucketID:        m.BucketID,
	}
}

// toMediaViews maps a slice of media files.
func toMediaViews(media []*catalog.MediaFile) []MediaFileView {
	out := make([]MediaFileView, len(media))
	for i, m := range media {
		out[i] = toMediaView(m)
	}
	return out
}

// toPartialResponse maps the partial-results projection.
func toPartialResponse(r *pipeline.PartialResults) PartialResultsResponse {
	resp := PartialResultsResponse{
		Job:         toJobSummary(r.Job),
		Buckets:     make([]BucketResultView, 0, len(r.Buckets)),
		Unclustered: toMediaViews(r.Unclustered),
	}
	for _, b := range r.Buckets {
		resp.Buckets = append(resp.Buckets, BucketResultView{
			ID:      b.Bucket.ID,
			Name:    b.Bucket.Name,
			Members: toMediaViews(b.Members),
		})
	}
	return resp
}

// toFinalResponse maps the final-results projection.
func toFinalResponse(r *pipeline.FinalResults) FinalResultsResponse {
	resp := FinalResultsResponse{
		Job:     toJobSummary(r.Job),
		Buckets: make([]FinalBucketResultView, 0, len(r.Buckets)),
	}
	for _, b := range r.Buckets {
		resp.Buckets = append(resp.Buckets, FinalBucketResultView{
			ID:        b.Bucket.ID,
			Name:      b.Bucket.Name,
			TopImages: toMediaViews(b.TopImages),
			TopVideos: toMediaViews(b.TopVideos),
			Ranked:    toMediaViews(b.Ranked),
		})
	}
	return resp
}
