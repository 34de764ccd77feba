package catalog

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryRepository_SaveAndFindJob(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	job := NewJob("test")
	if err := repo.SaveJob(ctx, job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	found, err := repo.FindJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found.ID != job.ID || found.Name != "test" {
		t.Errorf("expected job %s/%s, got %s/%s", job.ID, job.Name, found.ID, found.Name)
	}

	// Mutating the returned job must not affect the stored copy
	found.Name = "mutated"
	again, err := repo.FindJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again.Name != "test" {
		t.Error("expected stored job to be isolated from reads")
	}
}

func TestMemoryRepository_FindJob_NotFound(t *testing.T) {
	repo := NewMemoryRepository()

	_, err := repo.FindJob(context.Background(), "missing")
	if !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestMemoryRepository_ListJobs_Paging(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	base := time.Now()
	for i := 0; i < 5; i++ {
		job := NewJob("")
		job.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if err := repo.SaveJob(ctx, job); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	page, err := repo.ListJobs(ctx, 2, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(page))
	}
	// Newest first
	if !page[0].CreatedAt.After(page[1].CreatedAt) {
		t.Error("expected jobs ordered by creation time descending")
	}

	rest, err := repo.ListJobs(ctx, 10, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rest) != 3 {
		t.Errorf("expected 3 jobs after offset 2, got %d", len(rest))
	}

	empty, err := repo.ListJobs(ctx, 10, 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected no jobs past the end, got %d", len(empty))
	}
}

func TestMemoryRepository_ListActiveJobs(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	active := NewJob("")
	active.Status = StatusLabeling
	done := NewJob("")
	done.Status = StatusCompleted
	failed := NewJob("")
	failed.Status = StatusFailed

	for _, j := range []*Job{active, done, failed} {
		if err := repo.SaveJob(ctx, j); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	got, err := repo.ListActiveJobs(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].ID != active.ID {
		t.Errorf("expected only the active job, got %d jobs", len(got))
	}
}

func TestMemoryRepository_MediaInsertionOrder(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	job := NewJob("")
	if err := repo.SaveJob(ctx, job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	names := []string{"a.jpg", "b.jpg", "c.jpg"}
	for _, n := range names {
		m := NewMediaFile(job.ID)
		m.Filename = n
		if err := repo.SaveMedia(ctx, m); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	media, err := repo.ListMediaByJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(media) != 3 {
		t.Fatalf("expected 3 media files, got %d", len(media))
	}
	for i, n := range names {
		if media[i].Filename != n {
			t.Errorf("position %d: expected %s, got %s", i, n, media[i].Filename)
		}
	}
}

func TestMemoryRepository_AssignBucket(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	job := NewJob("")
	bucket := NewBucket(job.ID, "Bucket 1")
	m1 := NewMediaFile(job.ID)
	m2 := NewMediaFile(job.ID)

	if err := repo.SaveBucket(ctx, bucket); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, m := range []*MediaFile{m1, m2} {
		if err := repo.SaveMedia(ctx, m); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if err := repo.AssignBucket(ctx, bucket.ID, []string{m1.ID, m2.ID}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	members, err := repo.ListMediaByBucket(ctx, bucket.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(members))
	}
	// First member in insertion order is the representative
	if members[0].ID != m1.ID {
		t.Errorf("expected %s as first member, got %s", m1.ID, members[0].ID)
	}

	if err := repo.AssignBucket(ctx, bucket.ID, []string{"missing"}); !errors.Is(err, ErrMediaNotFound) {
		t.Errorf("expected ErrMediaNotFound, got %v", err)
	}
}

func TestMemoryRepository_DeleteJob_Cascades(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	job := NewJob("")
	if err := repo.SaveJob(ctx, job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bucket := NewBucket(job.ID, "Bucket 1")
	if err := repo.SaveBucket(ctx, bucket); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	media := NewMediaFile(job.ID)
	media.BucketID = bucket.ID
	if err := repo.SaveMedia(ctx, media); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	match := NewTournamentMatch(bucket.ID, MediaTypeImage)
	if err := repo.SaveMatch(ctx, match); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := repo.DeleteJob(ctx, job.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := repo.FindJob(ctx, job.ID); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected job gone, got %v", err)
	}
	if _, err := repo.FindMedia(ctx, media.ID); !errors.Is(err, ErrMediaNotFound) {
		t.Errorf("expected media gone, got %v", err)
	}
	buckets, err := repo.ListBucketsByJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(buckets) != 0 {
		t.Errorf("expected buckets gone, got %d", len(buckets))
	}
	matches, err := repo.ListMatchesByBucket(ctx, bucket.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("expected matches gone, got %d", len(matches))
	}
}

func TestMemoryRepository_DeleteJob_NotFound(t *testing.T) {
	repo := NewMemoryRepository()

	err := repo.DeleteJob(context.Background(), "missing")
	if !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestMemoryRepository_DeleteBucket(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	bucket := NewBucket("job-1", "Bucket 1")
	if err := repo.SaveBucket(ctx, bucket); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := repo.DeleteBucket(ctx, bucket.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := repo.DeleteBucket(ctx, bucket.ID); !errors.Is(err, ErrBucketNotFound) {
		t.Errorf("expected ErrBucketNotFound, got %v", err)
	}
}
