package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/maauso/photocull-api/internal/catalog"
	"github.com/maauso/photocull-api/internal/vision"
)

const (
	// eloScale is the rating scale of the expected-score formula.
	eloScale = 400.0
	// eloK is the base step size; the effective step is eloK * confidence.
	eloK = 32.0
	// topPicks is the number of members marked per bucket and media type.
	topPicks = 3
)

// eloDelta returns the rating deltas for both contestants.
func eloDelta(ratingA, ratingB, confidence float64, aWon bool) (deltaA, deltaB float64) {
	expectedA := 1.0 / (1.0 + math.Pow(10, (ratingB-ratingA)/eloScale))
	scoreA := 0.0
	if aWon {
		scoreA = 1.0
	}
	k := eloK * confidence
	deltaA = k * (scoreA - expectedA)
	deltaB = k * ((1.0 - scoreA) - (1.0 - expectedA))
	return deltaA, deltaB
}

// tournament is one full round-robin within a bucket for one media type.
type tournament struct {
	bucket  *catalog.Bucket
	members []*catalog.MediaFile
}

// runRank plays a full round-robin tournament in every bucket with at
// least two members of the same media type. Ratings are path-dependent on
// completion order; matches are recorded as they finish with the deltas
// actually applied. The top three members per bucket and media type are
// marked as picks. Singleton groups skip ranking and are not picked.
func (s *Service) runRank(ctx context.Context, job *catalog.Job) error {
	buckets, err := s.repo.ListBucketsByJob(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("list buckets: %w", err)
	}

	var tournaments []tournament
	totalMatches := 0
	for _, b := range buckets {
		members, err := s.repo.ListMediaByBucket(ctx, b.ID)
		if err != nil {
			return fmt.Errorf("list bucket members: %w", err)
		}
		for _, mediaType := range []catalog.MediaType{catalog.MediaTypeImage, catalog.MediaTypeVideo} {
			var group []*catalog.MediaFile
			for _, m := range members {
				if m.MediaType == mediaType {
					group = append(group, m)
				}
			}
			if len(group) < 2 {
				continue
			}
			tournaments = append(tournaments, tournament{bucket: b, members: group})
			totalMatches += len(group) * (len(group) - 1) / 2
		}
	}

	var progressMu sync.Mutex
	current := 0
	s.setProgress(ctx, job, current, totalMatches, "ranking takes")
	countMatch := func() {
		progressMu.Lock()
		current++
		s.setProgress(ctx, job, current, totalMatches, "ranking takes")
		progressMu.Unlock()
	}

	sem := semaphore.NewWeighted(int64(s.limits.BucketTournaments))
	g, gctx := errgroup.WithContext(ctx)
	for _, t := range tournaments {
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			return s.runTournament(gctx, job, t, countMatch)
		})
	}
	return g.Wait()
}

// runTournament plays all pairs of one tournament, applying the Elo update
// after each match under the ratings lock, then marks the top picks.
func (s *Service) runTournament(ctx context.Context, job *catalog.Job, t tournament, countMatch func()) error {
	cache := newMediaCache(s)

	ratings := make(map[string]float64, len(t.members))
	for _, m := range t.members {
		ratings[m.ID] = catalog.DefaultRating
	}

	var pairs []repPair
	for i := 0; i < len(t.members); i++ {
		for j := i + 1; j < len(t.members); j++ {
			pairs = append(pairs, repPair{i, j})
		}
	}

	var ratingsMu sync.Mutex
	sem := semaphore.NewWeighted(int64(s.limits.Match))
	g, gctx := errgroup.WithContext(ctx)

	for _, p := range pairs {
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			m1, m2 := t.members[p.i], t.members[p.j]
			a, err := cache.get(gctx, m1)
			if err != nil {
				return err
			}
			b, err := cache.get(gctx, m2)
			if err != nil {
				return err
			}

			verdict, err := s.vision.CompareQuality(gctx, a, b)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				// A failed comparison is skipped; the rest of the
				// round-robin still yields an ordering.
				s.logger.Warn("quality comparison failed",
					slog.String("job_id", job.ID),
					slog.String("bucket_id", t.bucket.ID),
					slog.String("error", err.Error()),
				)
				countMatch()
				return nil
			}

			if err := s.applyMatch(gctx, t, m1, m2, verdict, ratings, &ratingsMu); err != nil {
				return err
			}
			countMatch()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	return s.markTopPicks(ctx, job, t, ratings)
}

// applyMatch updates both ratings under the lock, persists them and
// records the match with the applied deltas.
func (s *Service) applyMatch(
	ctx context.Context,
	t tournament,
	m1, m2 *catalog.MediaFile,
	verdict vision.CompareResult,
	ratings map[string]float64,
	mu *sync.Mutex,
) error {
	mu.Lock()
	defer mu.Unlock()

	aWon := verdict.Winner == 1
	delta1, delta2 := eloDelta(ratings[m1.ID], ratings[m2.ID], verdict.Confidence, aWon)
	ratings[m1.ID] += delta1
	ratings[m2.ID] += delta2

	match := catalog.NewTournamentMatch(t.bucket.ID, m1.MediaType)
	match.Media1ID = m1.ID
	match.Media2ID = m2.ID
	if aWon {
		match.WinnerID = m1.ID
	} else {
		match.WinnerID = m2.ID
	}
	match.Reasoning = verdict.Reasoning
	match.Change1 = delta1
	match.Change2 = delta2
	if err := s.repo.SaveMatch(ctx, match); err != nil {
		return fmt.Errorf("save match: %w", err)
	}

	m1.RatingScore = ratings[m1.ID]
	m2.RatingScore = ratings[m2.ID]
	if err := s.repo.SaveMedia(ctx, m1); err != nil {
		return fmt.Errorf("save rating: %w", err)
	}
	if err := s.repo.SaveMedia(ctx, m2); err != nil {
		return fmt.Errorf("save rating: %w", err)
	}
	return nil
}

// markTopPicks flags the tournament's top-rated members.
func (s *Service) markTopPicks(ctx context.Context, job *catalog.Job, t tournament, ratings map[string]float64) error {
	sorted := make([]*catalog.MediaFile, len(t.members))
	copy(sorted, t.members)
	sort.SliceStable(sorted, func(i, j int) bool {
		return ratings[sorted[i].ID] > ratings[sorted[j].ID]
	})

	picks := topPicks
	if len(sorted) < picks {
		picks = len(sorted)
	}
	for _, m := range sorted[:picks] {
		m.IsTopPick = true
		if err := s.repo.SaveMedia(ctx, m); err != nil {
			return fmt.Errorf("save top pick: %w", err)
		}
	}

	s.logger.Info("tournament finished",
		slog.String("job_id", job.ID),
		slog.String("bucket_id", t.bucket.ID),
		slog.Int("members", len(t.members)),
		slog.Int("picks", picks),
	)
	return nil
}
