// Package catalog provides the Job aggregate and its descendant entities
// for the photo culling pipeline, together with the Repository port used
// for persistence.
package catalog

import (
	"errors"
	"time"

	"github.com/maauso/photocull-api/internal/catalog/id"
)

// Status represents the current state of a Job. Statuses follow the
// pipeline stage order; Completed and Failed are terminal.
type Status string

const (
	// StatusUploading indicates the archive is still being received.
	StatusUploading Status = "uploading"
	// StatusExtracting indicates the archive is being expanded into media files.
	StatusExtracting Status = "extracting"
	// StatusLabeling indicates media files are being described by the model.
	StatusLabeling Status = "labeling"
	// StatusClustering indicates same-take grouping is in progress.
	StatusClustering Status = "clustering"
	// StatusMerging indicates the bucket merge sweep is in progress.
	StatusMerging Status = "merging"
	// StatusRanking indicates in-bucket tournaments are in progress.
	StatusRanking Status = "ranking"
	// StatusEnhancing indicates top picks are being enhanced.
	StatusEnhancing Status = "enhancing"
	// StatusCompleted indicates the job finished successfully.
	StatusCompleted Status = "completed"
	// StatusFailed indicates the job encountered an unrecoverable error.
	StatusFailed Status = "failed"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// stageOrder lists the non-terminal statuses in pipeline order.
var stageOrder = []Status{
	StatusUploading,
	StatusExtracting,
	StatusLabeling,
	StatusClustering,
	StatusMerging,
	StatusRanking,
	StatusEnhancing,
	StatusCompleted,
}

// Next returns the status that follows s in the pipeline order.
// It returns false when s is terminal or unknown.
func (s Status) Next() (Status, bool) {
	for i, st := range stageOrder {
		if st == s && i+1 < len(stageOrder) {
			return stageOrder[i+1], true
		}
	}
	return "", false
}

// IsTerminal returns true for the two terminal statuses.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// canTransition checks if a transition from one status to another is valid.
// Failed is reachable from any non-terminal status; otherwise transitions
// must follow the stage order.
func canTransition(from, to Status) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StatusFailed {
		return true
	}
	next, ok := from.Next()
	return ok && next == to
}

// Job represents one end-to-end culling run over an uploaded archive.
type Job struct {
	// ID is the unique identifier for this job.
	ID string
	// Name is an optional user-supplied label for the job.
	Name string
	// Status is the current pipeline state.
	Status Status
	// TotalFiles is the number of units in the current stage.
	TotalFiles int
	// ProcessedFiles is the number of units completed in the current stage.
	ProcessedFiles int
	// Error contains the failure message when Status is failed.
	Error string
	// CreatedAt is when the job was created.
	CreatedAt time.Time
	// UpdatedAt is when the job was last updated.
	UpdatedAt time.Time
	// CompletedAt is when the job reached a terminal state.
	CompletedAt time.Time
}

// NewJob creates a new Job with a generated ID in the uploading state.
func NewJob(name string) *Job {
	now := time.Now()
	return &Job{
		ID:        id.Generate(),
		Name:      name,
		Status:    StatusUploading,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the job status to the specified state.
// Advancing to the next stage resets the progress counters. Returns
// ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now()
	j.ProcessedFiles = 0
	j.TotalFiles = 0

	if status.IsTerminal() {
		j.CompletedAt = j.UpdatedAt
	}

	return nil
}

// Fail transitions the job to failed with an error message.
func (j *Job) Fail(errMsg string) error {
	if err := j.TransitionTo(StatusFailed); err != nil {
		return err
	}
	j.Error = errMsg
	return nil
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// Clone creates a copy of the job for safe reads.
func (j *Job) Clone() *Job {
	c := *j
	return &c
}
