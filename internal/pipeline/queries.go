package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/maauso/photocull-api/internal/catalog"
)

// ErrJobNotCompleted is returned when final results are requested for a
// job that has not completed.
var ErrJobNotCompleted = errors.New("job is not completed")

// BucketView is one bucket with its members sorted by rating descending.
type BucketView struct {
	Bucket  *catalog.Bucket
	Members []*catalog.MediaFile
}

// PartialResults is the mid-pipeline projection: clustered buckets plus
// the media files not yet assigned to any bucket.
type PartialResults struct {
	Job         *catalog.Job
	Buckets     []BucketView
	Unclustered []*catalog.MediaFile
}

// FinalBucketView is one bucket of a completed job with its picks split
// by media type and the complete ranked member list.
type FinalBucketView struct {
	Bucket    *catalog.Bucket
	TopImages []*catalog.MediaFile
	TopVideos []*catalog.MediaFile
	Ranked    []*catalog.MediaFile
}

// FinalResults is the completed-job projection.
type FinalResults struct {
	Job     *catalog.Job
	Buckets []FinalBucketView
}

// PartialResults returns the progressive projection for a job, usable at
// any point of the pipeline.
func (s *Service) PartialResults(ctx context.Context, jobID string) (*PartialResults, error) {
	job, err := s.repo.FindJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	buckets, err := s.repo.ListBucketsByJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}

	out := &PartialResults{Job: job}
	for _, b := range buckets {
		members, err := s.repo.ListMediaByBucket(ctx, b.ID)
		if err != nil {
			return nil, fmt.Errorf("list bucket members: %w", err)
		}
		sortByRating(members)
		out.Buckets = append(out.Buckets, BucketView{Bucket: b, Members: members})
	}

	media, err := s.repo.ListMediaByJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("list media: %w", err)
	}
	for _, m := range media {
		if m.BucketID == "" {
			out.Unclustered = append(out.Unclustered, m)
		}
	}
	return out, nil
}

// FinalResults returns the completed-job projection.
// Returns ErrJobNotCompleted when the job has not finished.
func (s *Service) FinalResults(ctx context.Context, jobID string) (*FinalResults, error) {
	job, err := s.repo.FindJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != catalog.StatusCompleted {
		return nil, ErrJobNotCompleted
	}

	buckets, err := s.repo.ListBucketsByJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}

	out := &FinalResults{Job: job}
	for _, b := range buckets {
		members, err := s.repo.ListMediaByBucket(ctx, b.ID)
		if err != nil {
			return nil, fmt.Errorf("list bucket members: %w", err)
		}
		sortByRating(members)

		view := FinalBucketView{Bucket: b, Ranked: members}
		for _, m := range members {
			if !m.IsTopPick {
				continue
			}
			if m.MediaType == catalog.MediaTypeVideo {
				view.TopVideos = append(view.TopVideos, m)
			} else {
				view.TopImages = append(view.TopImages, m)
			}
		}
		out.Buckets = append(out.Buckets, view)
	}
	return out, nil
}

// sortByRating orders media by rating descending, stable on archive order.
func sortByRating(media []*catalog.MediaFile) {
	sort.SliceStable(media, func(i, j int) bool {
		return media[i].RatingScore > media[j].RatingScore
	})
}
