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

// runLabel describes every media file that does not yet have a label.
// Already-labeled files are skipped, so resuming a half-labeled job issues
// no duplicate describe calls. Every file must end up labeled; permanent
// describe failures fail the stage.
func (s *Service) runLabel(ctx context.Context, job *catalog.Job) error {
	media, err := s.repo.ListMediaByJob(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("list media: %w", err)
	}

	total := len(media)
	var pending []*catalog.MediaFile
	for _, m := range media {
		if m.Label == "" {
			pending = append(pending, m)
		}
	}
	current := total - len(pending)
	s.setProgress(ctx, job, current, total, "labeling media")

	var mu sync.Mutex
	var failures int
	var lastErr error

	sem := semaphore.NewWeighted(int64(s.limits.Label))
	g, gctx := errgroup.WithContext(ctx)

	for _, m := range pending {
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			label, err := s.describeOne(gctx, m)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				s.logger.Warn("describe failed",
					slog.String("job_id", job.ID),
					slog.String("media_id", m.ID),
					slog.String("error", err.Error()),
				)
				failures++
				lastErr = err
				return nil
			}

			m.Label = label
			if err := s.repo.SaveMedia(gctx, m); err != nil {
				return fmt.Errorf("save label: %w", err)
			}
			current++
			s.setProgress(gctx, job, current, total, "labeling media")
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if failures > 0 {
		return fmt.Errorf("labeling failed for %d of %d files: %w", failures, total, lastErr)
	}
	return nil
}

// describeOne fetches one media file's bytes and asks for a description.
func (s *Service) describeOne(ctx context.Context, m *catalog.MediaFile) (string, error) {
	media, err := s.loadMedia(ctx, m)
	if err != nil {
		return "", err
	}
	return s.vision.Describe(ctx, media)
}
