// Package pipeline orchestrates the photo culling workflow: archive
// expansion, labeling, same-take clustering, bucket merging, tournament
// ranking and top-pick enhancement, driven by the persisted job state
// machine so interrupted jobs resume where they left off.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/maauso/photocull-api/internal/archive"
	"github.com/maauso/photocull-api/internal/catalog"
	"github.com/maauso/photocull-api/internal/storage"
	"github.com/maauso/photocull-api/internal/vision"
)

// Limits holds the concurrency bounds for the pipeline stages.
type Limits struct {
	// Label bounds concurrent describe calls per job.
	Label int
	// ClusterCompare bounds concurrent same-take probes per new image.
	ClusterCompare int
	// MergeCompare bounds concurrent representative comparisons.
	MergeCompare int
	// Match bounds concurrent quality comparisons per bucket.
	Match int
	// BucketTournaments bounds buckets ranked in parallel.
	BucketTournaments int
	// Enhance bounds concurrent enhancement calls.
	Enhance int
}

// DefaultLimits returns the reference concurrency bounds.
func DefaultLimits() Limits {
	return Limits{
		Label:             10,
		ClusterCompare:    20,
		MergeCompare:      40,
		Match:             8,
		BucketTournaments: 3,
		Enhance:           3,
	}
}

// Observer receives job lifecycle events. Implementations must not block;
// the orchestrator calls them inline.
type Observer interface {
	// StatusChanged fires whenever the job's status or counters change.
	StatusChanged(job *catalog.Job)
	// Progress fires after each unit of stage work.
	Progress(jobID string, stage catalog.Status, current, total int, message string)
}

// Service orchestrates the culling pipeline for all jobs.
type Service struct {
	repo    catalog.Repository
	blobs   storage.BlobStore
	vision  vision.Client
	scratch *storage.Scratch
	logger  *slog.Logger
	limits  Limits

	mu        sync.Mutex
	runs      map[string]*runState
	observers map[string]map[int]Observer
	nextObs   int
}

// runState tracks one in-flight Run so Cancel can join it.
type runState struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// ServiceOption is a function that configures a Service.
type ServiceOption func(*Service)

// WithLimits sets the pipeline concurrency bounds.
func WithLimits(l Limits) ServiceOption {
	return func(s *Service) {
		s.limits = l
	}
}

// NewService creates a pipeline Service with all dependencies.
func NewService(
	repo catalog.Repository,
	blobs storage.BlobStore,
	visionClient vision.Client,
	scratch *storage.Scratch,
	logger *slog.Logger,
	opts ...ServiceOption,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		repo:      repo,
		blobs:     blobs,
		vision:    visionClient,
		scratch:   scratch,
		logger:    logger,
		limits:    DefaultLimits(),
		runs:      make(map[string]*runState),
		observers: make(map[string]map[int]Observer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateJob creates a job in the uploading state.
func (s *Service) CreateJob(ctx context.Context, name string) (*catalog.Job, error) {
	job := catalog.NewJob(name)
	if err := s.repo.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("save job: %w", err)
	}
	s.logger.Info("job created", slog.String("job_id", job.ID), slog.String("name", name))
	return job, nil
}

// GetJob retrieves a job by ID.
func (s *Service) GetJob(ctx context.Context, id string) (*catalog.Job, error) {
	return s.repo.FindJob(ctx, id)
}

// ListJobs returns paged job summaries, newest first.
func (s *Service) ListJobs(ctx context.Context, limit, offset int) ([]*catalog.Job, error) {
	return s.repo.ListJobs(ctx, limit, offset)
}

// ScratchFile allocates the scratch archive file for an upload session.
func (s *Service) ScratchFile(jobID string) (*os.File, error) {
	return s.scratch.Create(jobID)
}

// DeleteJob cancels any in-flight run and waits for it to stop, then
// removes the job's records and deletes its blobs and scratch file. The
// join guarantees no stage worker re-creates records after the cascade.
func (s *Service) DeleteJob(ctx context.Context, jobID string) error {
	s.Cancel(jobID)

	if err := s.repo.DeleteJob(ctx, jobID); err != nil {
		return err
	}
	if err := s.blobs.DeletePrefix(ctx, storage.JobPrefix(jobID)); err != nil {
		return fmt.Errorf("delete job blobs: %w", err)
	}
	if err := s.scratch.Remove(jobID); err != nil {
		s.logger.Warn("scratch cleanup failed",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
	s.logger.Info("job deleted", slog.String("job_id", jobID))
	return nil
}

// FailJob transitions a job to failed with the given message.
func (s *Service) FailJob(ctx context.Context, jobID, msg string) error {
	job, err := s.repo.FindJob(ctx, jobID)
	if err != nil {
		return err
	}
	if err := job.Fail(msg); err != nil {
		return err
	}
	if err := s.repo.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("save failed job: %w", err)
	}
	s.notifyStatus(job)
	return nil
}

// Cancel stops a running job at its next suspension point and waits for
// the run to return, so no worker persists anything afterwards. The job
// stays in its current non-terminal state. Returns false when no run is
// active.
func (s *Service) Cancel(jobID string) bool {
	s.mu.Lock()
	state, ok := s.runs[jobID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	state.cancel()
	<-state.done
	return true
}

// Subscribe registers an observer for a job's lifecycle events.
// The returned function removes the subscription.
func (s *Service) Subscribe(jobID string, obs Observer) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.observers[jobID] == nil {
		s.observers[jobID] = make(map[int]Observer)
	}
	token := s.nextObs
	s.nextObs++
	s.observers[jobID][token] = obs

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.observers[jobID], token)
		if len(s.observers[jobID]) == 0 {
			delete(s.observers, jobID)
		}
	}
}

// Run drives a job from its persisted status to completion. It is safe to
// call on a freshly uploaded job or on a resumed one; stages already done
// are skipped by the status switch. Cancellation leaves the job in its
// current state; any other stage error marks the job failed.
func (s *Service) Run(ctx context.Context, jobID string) error {
	ctx, cancel := context.WithCancel(ctx)
	state := &runState{cancel: cancel, done: make(chan struct{})}
	s.mu.Lock()
	s.runs[jobID] = state
	s.mu.Unlock()
	defer func() {
		cancel()
		s.mu.Lock()
		delete(s.runs, jobID)
		s.mu.Unlock()
		close(state.done)
	}()

	job, err := s.repo.FindJob(ctx, jobID)
	if err != nil {
		return err
	}

	s.logger.Info("pipeline run starting",
		slog.String("job_id", jobID),
		slog.String("status", string(job.Status)),
	)

	for !job.IsTerminal() {
		var stageErr error

		switch job.Status {
		case catalog.StatusUploading:
			if !s.scratch.Exists(jobID) {
				stageErr = errors.New("upload interrupted by restart")
			}
		case catalog.StatusExtracting:
			stageErr = s.runExtract(ctx, job)
		case catalog.StatusLabeling:
			stageErr = s.runLabel(ctx, job)
		case catalog.StatusClustering:
			stageErr = s.runCluster(ctx, job)
		case catalog.StatusMerging:
			stageErr = s.runMerge(ctx, job)
		case catalog.StatusRanking:
			stageErr = s.runRank(ctx, job)
		case catalog.StatusEnhancing:
			stageErr = s.runEnhance(ctx, job)
		default:
			stageErr = fmt.Errorf("unknown job status %q", job.Status)
		}

		if stageErr != nil {
			if errors.Is(stageErr, context.Canceled) {
				s.logger.Info("pipeline run cancelled",
					slog.String("job_id", jobID),
					slog.String("status", string(job.Status)),
				)
				return stageErr
			}
			s.logger.Error("stage failed",
				slog.String("job_id", jobID),
				slog.String("status", string(job.Status)),
				slog.String("error", stageErr.Error()),
			)
			// Failure is persisted outside the (possibly cancelled) run context.
			if failErr := s.FailJob(context.WithoutCancel(ctx), jobID, stageErr.Error()); failErr != nil {
				s.logger.Error("failed to persist job failure",
					slog.String("job_id", jobID),
					slog.String("error", failErr.Error()),
				)
			}
			return stageErr
		}

		if err := s.advance(ctx, job); err != nil {
			return err
		}
	}

	s.logger.Info("pipeline run finished",
		slog.String("job_id", jobID),
		slog.String("status", string(job.Status)),
	)
	return nil
}

// Recover re-enqueues every non-terminal job at boot. Jobs stuck in
// uploading have lost their scratch file and fail inside Run.
func (s *Service) Recover(ctx context.Context) error {
	active, err := s.repo.ListActiveJobs(ctx)
	if err != nil {
		return fmt.Errorf("list active jobs: %w", err)
	}

	for _, job := range active {
		s.logger.Info("recovering job",
			slog.String("job_id", job.ID),
			slog.String("status", string(job.Status)),
		)
		go func(id string) {
			if err := s.Run(context.WithoutCancel(ctx), id); err != nil {
				s.logger.Error("recovered job run failed",
					slog.String("job_id", id),
					slog.String("error", err.Error()),
				)
			}
		}(job.ID)
	}
	return nil
}

// advance moves the job to the next stage and resets the counters.
func (s *Service) advance(ctx context.Context, job *catalog.Job) error {
	next, ok := job.Status.Next()
	if !ok {
		return fmt.Errorf("no stage after %q", job.Status)
	}
	if err := job.TransitionTo(next); err != nil {
		return err
	}
	if err := s.repo.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("save job at %s: %w", next, err)
	}
	s.notifyStatus(job)
	return nil
}

// setProgress persists the stage counters and notifies observers.
func (s *Service) setProgress(ctx context.Context, job *catalog.Job, current, total int, message string) {
	job.ProcessedFiles = current
	job.TotalFiles = total
	if err := s.repo.SaveJob(ctx, job); err != nil {
		s.logger.Warn("failed to persist progress",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
	s.notifyProgress(job.ID, job.Status, current, total, message)
	s.notifyStatus(job)
}

// notifyStatus fans a status change out to the job's observers.
func (s *Service) notifyStatus(job *catalog.Job) {
	s.mu.Lock()
	obs := make([]Observer, 0, len(s.observers[job.ID]))
	for _, o := range s.observers[job.ID] {
		obs = append(obs, o)
	}
	s.mu.Unlock()
	for _, o := range obs {
		o.StatusChanged(job.Clone())
	}
}

// notifyProgress fans a progress event out to the job's observers.
func (s *Service) notifyProgress(jobID string, stage catalog.Status, current, total int, message string) {
	s.mu.Lock()
	obs := make([]Observer, 0, len(s.observers[jobID]))
	for _, o := range s.observers[jobID] {
		obs = append(obs, o)
	}
	s.mu.Unlock()
	for _, o := range obs {
		o.Progress(jobID, stage, current, total, message)
	}
}

// runExtract expands the scratch archive into media records.
func (s *Service) runExtract(ctx context.Context, job *catalog.Job) error {
	expander := archive.NewExpander(s.repo, s.blobs, s.logger)
	count, err := expander.Expand(ctx, job.ID, s.scratch.Path(job.ID))
	if err != nil {
		if errors.Is(err, archive.ErrNoMediaFiles) {
			return archive.ErrNoMediaFiles
		}
		return fmt.Errorf("expand archive: %w", err)
	}

	if err := s.scratch.Remove(job.ID); err != nil {
		s.logger.Warn("scratch cleanup failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}

	s.setProgress(ctx, job, count, count, "archive expanded")
	return nil
}

// loadMedia fetches a media file's bytes from the blob store.
func (s *Service) loadMedia(ctx context.Context, m *catalog.MediaFile) (vision.Media, error) {
	rc, err := s.blobs.Get(ctx, m.BlobKey)
	if err != nil {
		return vision.Media{}, fmt.Errorf("fetch blob %s: %w", m.BlobKey, err)
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		return vision.Media{}, fmt.Errorf("read blob %s: %w", m.BlobKey, err)
	}
	return vision.Media{Data: data, MimeType: m.MimeType}, nil
}
