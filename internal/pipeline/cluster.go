package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/maauso/photocull-api/internal/catalog"
	"github.com/maauso/photocull-api/internal/vision"
)

// mediaCache lazily loads blob bytes once per media file for the duration
// of one stage. Clustering probes each representative many times; fetching
// from the blob store every time would dominate the stage.
type mediaCache struct {
	svc *Service

	mu    sync.Mutex
	items map[string]vision.Media
}

func newMediaCache(svc *Service) *mediaCache {
	return &mediaCache{svc: svc, items: make(map[string]vision.Media)}
}

func (c *mediaCache) get(ctx context.Context, m *catalog.MediaFile) (vision.Media, error) {
	c.mu.Lock()
	cached, ok := c.items[m.ID]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}

	media, err := c.svc.loadMedia(ctx, m)
	if err != nil {
		return vision.Media{}, err
	}

	c.mu.Lock()
	c.items[m.ID] = media
	c.mu.Unlock()
	return media, nil
}

// runCluster is Phase A: incremental same-take grouping of images in
// archive order. Each unassigned image races a same-take probe against
// every current bucket representative; the first SAME verdict wins and the
// remaining probes are cancelled. Images matching nothing open a new
// bucket. Videos are left for the merge stage, which collects them into a
// single bucket.
func (s *Service) runCluster(ctx context.Context, job *catalog.Job) error {
	media, err := s.repo.ListMediaByJob(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("list media: %w", err)
	}

	var images []*catalog.MediaFile
	for _, m := range media {
		if m.MediaType == catalog.MediaTypeImage {
			images = append(images, m)
		}
	}

	// Rehydrate buckets created before an interruption; their first member
	// is the representative.
	buckets, err := s.repo.ListBucketsByJob(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("list buckets: %w", err)
	}
	reps := make([]*catalog.MediaFile, 0, len(buckets))
	for _, b := range buckets {
		members, err := s.repo.ListMediaByBucket(ctx, b.ID)
		if err != nil {
			return fmt.Errorf("list bucket members: %w", err)
		}
		if len(members) == 0 {
			return fmt.Errorf("bucket %s has no members", b.ID)
		}
		reps = append(reps, members[0])
	}

	cache := newMediaCache(s)
	total := len(images)
	current := 0
	for _, img := range images {
		if img.BucketID != "" {
			current++
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		probe, err := cache.get(ctx, img)
		if err != nil {
			return err
		}

		idx, err := s.firstSameTake(ctx, cache, probe, reps)
		if err != nil {
			return err
		}

		if idx >= 0 {
			if err := s.repo.AssignBucket(ctx, buckets[idx].ID, []string{img.ID}); err != nil {
				return fmt.Errorf("assign bucket: %w", err)
			}
			s.logger.Debug("image joined bucket",
				slog.String("job_id", job.ID),
				slog.String("media_id", img.ID),
				slog.String("bucket_id", buckets[idx].ID),
			)
		} else {
			bucket := catalog.NewBucket(job.ID, fmt.Sprintf("Bucket %d", len(buckets)+1))
			if err := s.repo.SaveBucket(ctx, bucket); err != nil {
				return fmt.Errorf("save bucket: %w", err)
			}
			if err := s.repo.AssignBucket(ctx, bucket.ID, []string{img.ID}); err != nil {
				return fmt.Errorf("assign bucket: %w", err)
			}
			buckets = append(buckets, bucket)
			reps = append(reps, img)
			s.logger.Debug("image opened bucket",
				slog.String("job_id", job.ID),
				slog.String("media_id", img.ID),
				slog.String("bucket_id", bucket.ID),
			)
		}

		current++
		s.setProgress(ctx, job, current, total, "grouping takes")
	}

	return nil
}

// firstSameTake races a same-take probe against every representative and
// returns the index of the first bucket to answer SAME, or -1 when none
// match. Ties go to whichever verdict arrives first; the merge sweep
// reconciles any fragmentation this causes. Individual probe failures are
// treated as DIFFERENT.
func (s *Service) firstSameTake(ctx context.Context, cache *mediaCache, probe vision.Media, reps []*catalog.MediaFile) (int, error) {
	if len(reps) == 0 {
		return -1, nil
	}

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := semaphore.NewWeighted(int64(s.limits.ClusterCompare))
	matches := make(chan int, 1)
	var wg sync.WaitGroup

	for i, rep := range reps {
		wg.Add(1)
		go func(i int, rep *catalog.MediaFile) {
			defer wg.Done()
			if err := sem.Acquire(raceCtx, 1); err != nil {
				return
			}
			defer sem.Release(1)

			repMedia, err := cache.get(raceCtx, rep)
			if err != nil {
				if raceCtx.Err() == nil {
					s.logger.Warn("representative load failed",
						slog.String("media_id", rep.ID),
						slog.String("error", err.Error()),
					)
				}
				return
			}

			same, err := s.vision.SameTake(raceCtx, probe, repMedia)
			if err != nil {
				if raceCtx.Err() == nil {
					s.logger.Warn("same-take probe failed",
						slog.String("media_id", rep.ID),
						slog.String("error", err.Error()),
					)
				}
				return
			}
			if same {
				select {
				case matches <- i:
					cancel()
				default:
				}
			}
		}(i, rep)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case idx := <-matches:
		<-done
		return idx, nil
	case <-done:
		select {
		case idx := <-matches:
			return idx, nil
		default:
		}
		if err := ctx.Err(); err != nil {
			return -1, err
		}
		return -1, nil
	}
}
