package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/maauso/photocull-api/internal/catalog"
	"github.com/maauso/photocull-api/internal/storage"
)

// runEnhance requests an enhanced rendering for every image top pick and
// stores it beside the original. An enhancement failure, or a provider
// response without an image, leaves the pick untouched.
func (s *Service) runEnhance(ctx context.Context, job *catalog.Job) error {
	media, err := s.repo.ListMediaByJob(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("list media: %w", err)
	}

	var picks []*catalog.MediaFile
	for _, m := range media {
		if m.IsTopPick && m.MediaType == catalog.MediaTypeImage && m.EnhancedBlobKey == "" {
			picks = append(picks, m)
		}
	}

	total := len(picks)
	var mu sync.Mutex
	current := 0
	s.setProgress(ctx, job, current, total, "enhancing picks")

	sem := semaphore.NewWeighted(int64(s.limits.Enhance))
	g, gctx := errgroup.WithContext(ctx)

	for _, m := range picks {
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			err := s.enhanceOne(gctx, m)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				s.logger.Warn("enhancement failed",
					slog.String("job_id", job.ID),
					slog.String("media_id", m.ID),
					slog.String("error", err.Error()),
				)
			}
			current++
			s.setProgress(gctx, job, current, total, "enhancing picks")
			return nil
		})
	}
	return g.Wait()
}

// enhanceOne enhances a single pick and uploads the result.
func (s *Service) enhanceOne(ctx context.Context, m *catalog.MediaFile) error {
	media, err := s.loadMedia(ctx, m)
	if err != nil {
		return err
	}

	data, mimeType, err := s.vision.Enhance(ctx, media)
	if err != nil {
		return err
	}
	if data == nil {
		s.logger.Info("provider returned no enhanced image",
			slog.String("media_id", m.ID),
		)
		return nil
	}

	key := storage.EnhancedKey(m.JobID, m.Filename)
	url, err := s.blobs.Put(ctx, key, bytes.NewReader(data), mimeType)
	if err != nil {
		return fmt.Errorf("upload enhanced image: %w", err)
	}

	m.EnhancedBlobKey = key
	m.EnhancedBlobURL = url
	if err := s.repo.SaveMedia(ctx, m); err != nil {
		return fmt.Errorf("save enhanced media: %w", err)
	}
	return nil
}
