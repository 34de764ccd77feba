package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/maauso/photocull-api/internal/catalog"
)

// repPair is one representative comparison in the merge sweep.
type repPair struct {
	i, j int
}

// runMerge is Phase B: every pair of bucket representatives is compared
// with the same-take predicate and connected components are collapsed into
// the lowest-indexed bucket. Afterwards the surviving buckets are named
// from their members' labels, and all videos are collected into a single
// bucket of their own.
func (s *Service) runMerge(ctx context.Context, job *catalog.Job) error {
	buckets, err := s.repo.ListBucketsByJob(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("list buckets: %w", err)
	}

	reps := make([]*catalog.MediaFile, len(buckets))
	for i, b := range buckets {
		members, err := s.repo.ListMediaByBucket(ctx, b.ID)
		if err != nil {
			return fmt.Errorf("list bucket members: %w", err)
		}
		if len(members) == 0 {
			return fmt.Errorf("bucket %s has no members", b.ID)
		}
		reps[i] = members[0]
	}

	var pairs []repPair
	for i := 0; i < len(buckets); i++ {
		for j := i + 1; j < len(buckets); j++ {
			pairs = append(pairs, repPair{i, j})
		}
	}

	total := len(pairs)
	current := 0
	s.setProgress(ctx, job, current, total, "merging buckets")

	uf := newUnionFind(len(buckets))
	cache := newMediaCache(s)

	var mu sync.Mutex
	sem := semaphore.NewWeighted(int64(s.limits.MergeCompare))
	g, gctx := errgroup.WithContext(ctx)

	for _, p := range pairs {
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			a, err := cache.get(gctx, reps[p.i])
			if err != nil {
				return err
			}
			b, err := cache.get(gctx, reps[p.j])
			if err != nil {
				return err
			}

			same, err := s.vision.SameTake(gctx, a, b)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				// A failed comparison leaves the pair unmerged.
				s.logger.Warn("merge probe failed",
					slog.String("job_id", job.ID),
					slog.String("error", err.Error()),
				)
			} else if same {
				uf.union(p.i, p.j)
			}
			current++
			s.setProgress(gctx, job, current, total, "merging buckets")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := s.collapse(ctx, job, buckets, uf); err != nil {
		return err
	}
	if err := s.nameBuckets(ctx, job); err != nil {
		return err
	}
	return s.bucketVideos(ctx, job)
}

// collapse folds each connected component into its lowest-indexed bucket.
func (s *Service) collapse(ctx context.Context, job *catalog.Job, buckets []*catalog.Bucket, uf *unionFind) error {
	// Lowest bucket index per component root.
	target := make(map[int]int)
	for i := range buckets {
		root := uf.find(i)
		if t, ok := target[root]; !ok || i < t {
			target[root] = i
		}
	}

	for i, b := range buckets {
		t := target[uf.find(i)]
		if t == i {
			continue
		}

		members, err := s.repo.ListMediaByBucket(ctx, b.ID)
		if err != nil {
			return fmt.Errorf("list bucket members: %w", err)
		}
		ids := make([]string, len(members))
		for k, m := range members {
			ids[k] = m.ID
		}
		if err := s.repo.AssignBucket(ctx, buckets[t].ID, ids); err != nil {
			return fmt.Errorf("reassign members: %w", err)
		}
		if err := s.repo.DeleteBucket(ctx, b.ID); err != nil {
			return fmt.Errorf("delete merged bucket: %w", err)
		}
		s.logger.Info("buckets merged",
			slog.String("job_id", job.ID),
			slog.String("from", b.ID),
			slog.String("into", buckets[t].ID),
			slog.Int("moved", len(ids)),
		)
	}
	return nil
}

// nameBuckets asks the model for a short name for each bucket, falling
// back to Bucket N when the call fails.
func (s *Service) nameBuckets(ctx context.Context, job *catalog.Job) error {
	buckets, err := s.repo.ListBucketsByJob(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("list buckets: %w", err)
	}

	for n, b := range buckets {
		members, err := s.repo.ListMediaByBucket(ctx, b.ID)
		if err != nil {
			return fmt.Errorf("list bucket members: %w", err)
		}
		labels := make([]string, 0, len(members))
		for _, m := range members {
			if m.Label != "" {
				labels = append(labels, m.Label)
			}
		}

		name, err := s.vision.NameGroup(ctx, labels)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("bucket naming failed",
				slog.String("job_id", job.ID),
				slog.String("bucket_id", b.ID),
				slog.String("error", err.Error()),
			)
			name = fmt.Sprintf("Bucket %d", n+1)
		}
		b.Name = name
		if err := s.repo.SaveBucket(ctx, b); err != nil {
			return fmt.Errorf("save bucket name: %w", err)
		}
	}
	return nil
}

// bucketVideos collects the job's videos into a single bucket.
func (s *Service) bucketVideos(ctx context.Context, job *catalog.Job) error {
	media, err := s.repo.ListMediaByJob(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("list media: %w", err)
	}

	var videos []*catalog.MediaFile
	var labels []string
	for _, m := range media {
		if m.MediaType == catalog.MediaTypeVideo && m.BucketID == "" {
			videos = append(videos, m)
			if m.Label != "" {
				labels = append(labels, m.Label)
			}
		}
	}
	if len(videos) == 0 {
		return nil
	}

	name, err := s.vision.NameGroup(ctx, labels)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		name = "Videos"
	}

	bucket := catalog.NewBucket(job.ID, name)
	if err := s.repo.SaveBucket(ctx, bucket); err != nil {
		return fmt.Errorf("save video bucket: %w", err)
	}
	ids := make([]string, len(videos))
	for i, v := range videos {
		ids[i] = v.ID
	}
	if err := s.repo.AssignBucket(ctx, bucket.ID, ids); err != nil {
		return fmt.Errorf("assign video bucket: %w", err)
	}

	s.logger.Info("videos bucketed",
		slog.String("job_id", job.ID),
		slog.String("bucket_id", bucket.ID),
		slog.Int("count", len(videos)),
	)
	return nil
}
