package pipeline

import (
	"archive/zip"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/photocull-api/internal/catalog"
	"github.com/maauso/photocull-api/internal/storage"
	"github.com/maauso/photocull-api/internal/vision"
)

// fakeVision implements vision.Client deterministically. Media bytes encode
// the expected verdicts in the form "take:<scene>|<quality>": files with the
// same scene are the same take, and higher quality wins comparisons.
type fakeVision struct {
	mu            sync.Mutex
	describeCalls int
	sameTakeCalls int
	compareCalls  int
	enhanceCalls  int

	describeErr error
	compareErr  error

	// When set, every CompareQuality call must take a token from the
	// channel before answering; a cancelled context unblocks it.
	compareRelease chan struct{}
}

func parseMedia(m vision.Media) (scene string, quality int) {
	s := strings.TrimPrefix(string(m.Data), "take:")
	scene, q, _ := strings.Cut(s, "|")
	quality, _ = strconv.Atoi(q)
	return scene, quality
}

func (f *fakeVision) Describe(_ context.Context, m vision.Media) (string, error) {
	f.mu.Lock()
	f.describeCalls++
	err := f.describeErr
	f.mu.Unlock()
	if err != nil {
		return "", err
	}
	scene, _ := parseMedia(m)
	return "photo of " + scene, nil
}

func (f *fakeVision) SameTake(_ context.Context, a, b vision.Media) (bool, error) {
	f.mu.Lock()
	f.sameTakeCalls++
	f.mu.Unlock()
	sceneA, _ := parseMedia(a)
	sceneB, _ := parseMedia(b)
	return sceneA == sceneB, nil
}

func (f *fakeVision) CompareQuality(ctx context.Context, a, b vision.Media) (vision.CompareResult, error) {
	f.mu.Lock()
	f.compareCalls++
	err := f.compareErr
	release := f.compareRelease
	f.mu.Unlock()
	if err != nil {
		return vision.CompareResult{}, err
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return vision.CompareResult{}, ctx.Err()
		}
	}
	_, qa := parseMedia(a)
	_, qb := parseMedia(b)
	winner := 2
	if qa > qb {
		winner = 1
	}
	return vision.CompareResult{Winner: winner, Reasoning: "higher quality", Confidence: 1.0}, nil
}

func (f *fakeVision) NameGroup(_ context.Context, labels []string) (string, error) {
	if len(labels) == 0 {
		return "Unnamed", nil
	}
	return "Group: " + labels[0], nil
}

func (f *fakeVision) Enhance(_ context.Context, _ vision.Media) ([]byte, string, error) {
	f.mu.Lock()
	f.enhanceCalls++
	f.mu.Unlock()
	return []byte("enhanced"), "image/png", nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T) (*Service, *catalog.MemoryRepository, *storage.LocalStore, *fakeVision) {
	t.Helper()
	repo := catalog.NewMemoryRepository()
	blobs, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	scratch, err := storage.NewScratch(t.TempDir())
	require.NoError(t, err)
	fv := &fakeVision{}

	svc := NewService(repo, blobs, fv, scratch, testLogger())
	return svc, repo, blobs, fv
}

// zipEntry is one ordered archive member.
type zipEntry struct {
	name string
	body string
}

func writeArchive(t *testing.T, f *os.File, entries []zipEntry) {
	t.Helper()
	w := zip.NewWriter(f)
	for _, e := range entries {
		entry, err := w.Create(e.name)
		require.NoError(t, err)
		_, err = entry.Write([]byte(e.body))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
}

// statusRecorder captures observer events.
type statusRecorder struct {
	mu       sync.Mutex
	statuses []catalog.Status
	stages   map[catalog.Status]bool
}

func newStatusRecorder() *statusRecorder {
	return &statusRecorder{stages: make(map[catalog.Status]bool)}
}

func (r *statusRecorder) StatusChanged(job *catalog.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, job.Status)
}

func (r *statusRecorder) Progress(_ string, stage catalog.Status, _, _ int, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages[stage] = true
}

func (r *statusRecorder) sawStatus(s catalog.Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, st := range r.statuses {
		if st == s {
			return true
		}
	}
	return false
}

func TestRun_FullPipeline(t *testing.T) {
	svc, repo, blobs, fv := newTestService(t)
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, "holiday")
	require.NoError(t, err)

	f, err := svc.ScratchFile(job.ID)
	require.NoError(t, err)
	writeArchive(t, f, []zipEntry{
		{"beach1.jpg", "take:beach|1"},
		{"beach2.jpg", "take:beach|2"},
		{"forest.jpg", "take:forest|1"},
		{"clip.mp4", "take:clip|1"},
	})

	rec := newStatusRecorder()
	unsubscribe := svc.Subscribe(job.ID, rec)
	defer unsubscribe()

	require.NoError(t, svc.Run(ctx, job.ID))

	job, err = svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusCompleted, job.Status)
	assert.False(t, job.CompletedAt.IsZero())
	assert.True(t, rec.sawStatus(catalog.StatusCompleted))

	// Every media file is labeled
	media, err := repo.ListMediaByJob(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, media, 4)
	for _, m := range media {
		assert.NotEmpty(t, m.Label, "%s should be labeled", m.Filename)
	}
	assert.Equal(t, 4, fv.describeCalls)

	// Three buckets: beach take, forest take, videos
	buckets, err := repo.ListBucketsByJob(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, buckets, 3)

	byFile := make(map[string]*catalog.MediaFile)
	for _, m := range media {
		byFile[m.Filename] = m
	}
	assert.Equal(t, byFile["beach1.jpg"].BucketID, byFile["beach2.jpg"].BucketID,
		"same-take images share a bucket")
	assert.NotEqual(t, byFile["beach1.jpg"].BucketID, byFile["forest.jpg"].BucketID)
	assert.NotEmpty(t, byFile["clip.mp4"].BucketID, "videos get a bucket of their own")
	assert.NotEqual(t, byFile["clip.mp4"].BucketID, byFile["forest.jpg"].BucketID)

	// The better take outranks the worse one and both are picked
	assert.Greater(t, byFile["beach2.jpg"].RatingScore, byFile["beach1.jpg"].RatingScore)
	assert.True(t, byFile["beach1.jpg"].IsTopPick)
	assert.True(t, byFile["beach2.jpg"].IsTopPick)

	// Singletons keep the default rating and are not picked
	assert.Equal(t, catalog.DefaultRating, byFile["forest.jpg"].RatingScore)
	assert.False(t, byFile["forest.jpg"].IsTopPick)
	assert.False(t, byFile["clip.mp4"].IsTopPick)

	// The beach match was recorded with the applied deltas
	matches, err := repo.ListMatchesByBucket(ctx, byFile["beach1.jpg"].BucketID)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	match := matches[0]
	assert.Equal(t, byFile["beach2.jpg"].ID, match.WinnerID)
	assert.InDelta(t, -16.0, match.Change1, 0.001)
	assert.InDelta(t, 16.0, match.Change2, 0.001)
	assert.Equal(t, 1, match.Round)

	// Both picks were enhanced and their renderings stored
	for _, name := range []string{"beach1.jpg", "beach2.jpg"} {
		m := byFile[name]
		require.NotEmpty(t, m.EnhancedBlobKey, "%s should be enhanced", name)
		rc, err := blobs.Get(ctx, m.EnhancedBlobKey)
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		assert.Equal(t, "enhanced", string(data))
	}
	assert.Equal(t, 2, fv.enhanceCalls)

	// The scratch archive is gone after extraction
	assert.False(t, svc.scratch.Exists(job.ID))
}

func TestRun_EmptyArchiveFailsJob(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, "")
	require.NoError(t, err)

	f, err := svc.ScratchFile(job.ID)
	require.NoError(t, err)
	writeArchive(t, f, []zipEntry{
		{"notes.txt", "no media here"},
	})

	err = svc.Run(ctx, job.ID)
	require.Error(t, err)

	job, err = svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusFailed, job.Status)
	assert.Contains(t, job.Error, "no media files")
}

func TestRun_InterruptedUploadFailsJob(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	// Job stuck in uploading with no scratch file, as after a restart
	job, err := svc.CreateJob(ctx, "")
	require.NoError(t, err)

	err = svc.Run(ctx, job.ID)
	require.Error(t, err)

	job, err = svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusFailed, job.Status)
	assert.Contains(t, job.Error, "upload interrupted")
}

func TestRun_LabelFailureFailsJob(t *testing.T) {
	svc, _, _, fv := newTestService(t)
	fv.describeErr = errors.New("provider exploded")
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, "")
	require.NoError(t, err)

	f, err := svc.ScratchFile(job.ID)
	require.NoError(t, err)
	writeArchive(t, f, []zipEntry{
		{"a.jpg", "take:a|1"},
	})

	err = svc.Run(ctx, job.ID)
	require.Error(t, err)

	job, err = svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusFailed, job.Status)
	assert.Contains(t, job.Error, "labeling failed")
}

func TestRunLabel_SkipsLabeledFiles(t *testing.T) {
	svc, repo, blobs, fv := newTestService(t)
	ctx := context.Background()

	job := catalog.NewJob("")
	job.Status = catalog.StatusLabeling
	require.NoError(t, repo.SaveJob(ctx, job))

	labeled := seedMedia(t, ctx, repo, blobs, job.ID, "done.jpg", "take:a|1")
	labeled.Label = "already described"
	require.NoError(t, repo.SaveMedia(ctx, labeled))
	seedMedia(t, ctx, repo, blobs, job.ID, "todo.jpg", "take:b|1")

	require.NoError(t, svc.runLabel(ctx, job))

	assert.Equal(t, 1, fv.describeCalls, "only the unlabeled file is described")

	m, err := repo.FindMedia(ctx, labeled.ID)
	require.NoError(t, err)
	assert.Equal(t, "already described", m.Label)
}

func TestRunCluster_SkipsAssignedImages(t *testing.T) {
	svc, repo, blobs, fv := newTestService(t)
	ctx := context.Background()

	job := catalog.NewJob("")
	job.Status = catalog.StatusClustering
	require.NoError(t, repo.SaveJob(ctx, job))

	// One bucket already exists with its representative assigned
	bucket := catalog.NewBucket(job.ID, "Bucket 1")
	require.NoError(t, repo.SaveBucket(ctx, bucket))
	rep := seedMedia(t, ctx, repo, blobs, job.ID, "beach1.jpg", "take:beach|1")
	require.NoError(t, repo.AssignBucket(ctx, bucket.ID, []string{rep.ID}))

	// A matching image and a new scene arrive after the interruption
	seedMedia(t, ctx, repo, blobs, job.ID, "beach2.jpg", "take:beach|2")
	seedMedia(t, ctx, repo, blobs, job.ID, "forest.jpg", "take:forest|1")

	require.NoError(t, svc.runCluster(ctx, job))

	members, err := repo.ListMediaByBucket(ctx, bucket.ID)
	require.NoError(t, err)
	assert.Len(t, members, 2, "matching image joins the rehydrated bucket")

	buckets, err := repo.ListBucketsByJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, buckets, 2, "new scene opens a second bucket")
	assert.Positive(t, fv.sameTakeCalls)
}

func TestRunMerge_CollapsesFragmentedBuckets(t *testing.T) {
	svc, repo, blobs, _ := newTestService(t)
	ctx := context.Background()

	job := catalog.NewJob("")
	job.Status = catalog.StatusMerging
	require.NoError(t, repo.SaveJob(ctx, job))

	// Two fragments of the same scene plus one distinct bucket
	b1 := catalog.NewBucket(job.ID, "Bucket 1")
	b2 := catalog.NewBucket(job.ID, "Bucket 2")
	b3 := catalog.NewBucket(job.ID, "Bucket 3")
	for _, b := range []*catalog.Bucket{b1, b2, b3} {
		require.NoError(t, repo.SaveBucket(ctx, b))
	}

	m1 := seedMedia(t, ctx, repo, blobs, job.ID, "beach1.jpg", "take:beach|1")
	m2 := seedMedia(t, ctx, repo, blobs, job.ID, "beach2.jpg", "take:beach|2")
	m3 := seedMedia(t, ctx, repo, blobs, job.ID, "forest.jpg", "take:forest|1")
	m1.Label = "photo of beach"
	m2.Label = "photo of beach"
	m3.Label = "photo of forest"
	for _, m := range []*catalog.MediaFile{m1, m2, m3} {
		require.NoError(t, repo.SaveMedia(ctx, m))
	}
	require.NoError(t, repo.AssignBucket(ctx, b1.ID, []string{m1.ID}))
	require.NoError(t, repo.AssignBucket(ctx, b2.ID, []string{m2.ID}))
	require.NoError(t, repo.AssignBucket(ctx, b3.ID, []string{m3.ID}))

	require.NoError(t, svc.runMerge(ctx, job))

	buckets, err := repo.ListBucketsByJob(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, buckets, 2, "fragments collapse into one bucket")

	// The surviving fragment is the lowest-indexed one
	members, err := repo.ListMediaByBucket(ctx, b1.ID)
	require.NoError(t, err)
	assert.Len(t, members, 2)

	orphaned, err := repo.ListMediaByBucket(ctx, b2.ID)
	require.NoError(t, err)
	assert.Empty(t, orphaned)

	// Surviving buckets are named from their labels
	for _, b := range buckets {
		assert.True(t, strings.HasPrefix(b.Name, "Group: "), "bucket name %q", b.Name)
	}
}

func TestPartialResults(t *testing.T) {
	svc, repo, blobs, _ := newTestService(t)
	ctx := context.Background()

	job := catalog.NewJob("")
	job.Status = catalog.StatusClustering
	require.NoError(t, repo.SaveJob(ctx, job))

	bucket := catalog.NewBucket(job.ID, "Bucket 1")
	require.NoError(t, repo.SaveBucket(ctx, bucket))

	clustered := seedMedia(t, ctx, repo, blobs, job.ID, "beach1.jpg", "take:beach|1")
	require.NoError(t, repo.AssignBucket(ctx, bucket.ID, []string{clustered.ID}))
	loose := seedMedia(t, ctx, repo, blobs, job.ID, "forest.jpg", "take:forest|1")

	results, err := svc.PartialResults(ctx, job.ID)
	require.NoError(t, err)

	assert.Equal(t, job.ID, results.Job.ID)
	require.Len(t, results.Buckets, 1)
	require.Len(t, results.Buckets[0].Members, 1)
	assert.Equal(t, clustered.ID, results.Buckets[0].Members[0].ID)
	require.Len(t, results.Unclustered, 1)
	assert.Equal(t, loose.ID, results.Unclustered[0].ID)
}

func TestFinalResults_RequiresCompletion(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	ctx := context.Background()

	job := catalog.NewJob("")
	job.Status = catalog.StatusRanking
	require.NoError(t, repo.SaveJob(ctx, job))

	_, err := svc.FinalResults(ctx, job.ID)
	assert.ErrorIs(t, err, ErrJobNotCompleted)
}

func TestFinalResults_SplitsPicksByType(t *testing.T) {
	svc, repo, blobs, _ := newTestService(t)
	ctx := context.Background()

	job := catalog.NewJob("")
	job.Status = catalog.StatusCompleted
	require.NoError(t, repo.SaveJob(ctx, job))

	bucket := catalog.NewBucket(job.ID, "Beach")
	require.NoError(t, repo.SaveBucket(ctx, bucket))

	img := seedMedia(t, ctx, repo, blobs, job.ID, "beach1.jpg", "take:beach|1")
	img.IsTopPick = true
	img.RatingScore = 1016
	vid := seedMedia(t, ctx, repo, blobs, job.ID, "beach.mp4", "take:beach|1")
	vid.MediaType = catalog.MediaTypeVideo
	vid.IsTopPick = true
	vid.RatingScore = 990
	for _, m := range []*catalog.MediaFile{img, vid} {
		require.NoError(t, repo.SaveMedia(ctx, m))
	}
	require.NoError(t, repo.AssignBucket(ctx, bucket.ID, []string{img.ID, vid.ID}))

	results, err := svc.FinalResults(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, results.Buckets, 1)

	view := results.Buckets[0]
	require.Len(t, view.TopImages, 1)
	assert.Equal(t, img.ID, view.TopImages[0].ID)
	require.Len(t, view.TopVideos, 1)
	assert.Equal(t, vid.ID, view.TopVideos[0].ID)
	require.Len(t, view.Ranked, 2)
	assert.Equal(t, img.ID, view.Ranked[0].ID, "ranked is ordered by rating descending")
}

func TestDeleteJob_RemovesEverything(t *testing.T) {
	svc, repo, blobs, _ := newTestService(t)
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, "")
	require.NoError(t, err)

	f, err := svc.ScratchFile(job.ID)
	require.NoError(t, err)
	writeArchive(t, f, []zipEntry{
		{"beach1.jpg", "take:beach|1"},
		{"beach2.jpg", "take:beach|2"},
	})
	require.NoError(t, svc.Run(ctx, job.ID))

	media, err := repo.ListMediaByJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotEmpty(t, media)
	blobKey := media[0].BlobKey

	require.NoError(t, svc.DeleteJob(ctx, job.ID))

	_, err = svc.GetJob(ctx, job.ID)
	assert.ErrorIs(t, err, catalog.ErrJobNotFound)
	_, err = blobs.Get(ctx, blobKey)
	assert.Error(t, err, "blobs are deleted with the job")
}

func TestDeleteJob_NotFound(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	err := svc.DeleteJob(context.Background(), "missing")
	assert.ErrorIs(t, err, catalog.ErrJobNotFound)
}

func TestCancel_NoActiveRun(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	assert.False(t, svc.Cancel("job-without-run"))
}

func TestRun_CancelMidRanking(t *testing.T) {
	svc, repo, _, fv := newTestService(t)
	ctx := context.Background()

	// One token: exactly one quality comparison completes, the rest block
	// until cancellation.
	fv.compareRelease = make(chan struct{}, 1)
	fv.compareRelease <- struct{}{}

	job, err := svc.CreateJob(ctx, "")
	require.NoError(t, err)

	f, err := svc.ScratchFile(job.ID)
	require.NoError(t, err)
	writeArchive(t, f, []zipEntry{
		{"beach1.jpg", "take:beach|1"},
		{"beach2.jpg", "take:beach|2"},
		{"beach3.jpg", "take:beach|3"},
	})

	runErr := make(chan error, 1)
	go func() { runErr <- svc.Run(ctx, job.ID) }()

	var bucketID string
	require.Eventually(t, func() bool {
		buckets, err := repo.ListBucketsByJob(ctx, job.ID)
		if err != nil {
			return false
		}
		for _, b := range buckets {
			matches, err := repo.ListMatchesByBucket(ctx, b.ID)
			if err == nil && len(matches) > 0 {
				bucketID = b.ID
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond, "first match should be recorded")

	require.True(t, svc.Cancel(job.ID))
	require.ErrorIs(t, <-runErr, context.Canceled)

	// The job stays in ranking with only the completed match recorded
	job, err = svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusRanking, job.Status)

	matches, err := repo.ListMatchesByBucket(ctx, bucketID)
	require.NoError(t, err)
	require.Len(t, matches, 1)

	// Ratings reflect that single match: one winner, one loser, one untouched
	media, err := repo.ListMediaByJob(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, media, 3)
	ratings := make([]float64, 0, 3)
	for _, m := range media {
		ratings = append(ratings, m.RatingScore)
		assert.False(t, m.IsTopPick, "%s picked before the tournament finished", m.Filename)
	}
	sort.Float64s(ratings)
	assert.InDelta(t, catalog.DefaultRating-16, ratings[0], 0.001)
	assert.InDelta(t, catalog.DefaultRating, ratings[1], 0.001)
	assert.InDelta(t, catalog.DefaultRating+16, ratings[2], 0.001)
}

func TestDeleteJob_StopsActiveRun(t *testing.T) {
	svc, repo, _, fv := newTestService(t)
	ctx := context.Background()

	// No tokens: ranking parks in CompareQuality until cancelled
	fv.compareRelease = make(chan struct{})

	job, err := svc.CreateJob(ctx, "")
	require.NoError(t, err)

	f, err := svc.ScratchFile(job.ID)
	require.NoError(t, err)
	writeArchive(t, f, []zipEntry{
		{"beach1.jpg", "take:beach|1"},
		{"beach2.jpg", "take:beach|2"},
	})

	runErr := make(chan error, 1)
	go func() { runErr <- svc.Run(ctx, job.ID) }()

	require.Eventually(t, func() bool {
		j, err := svc.GetJob(ctx, job.ID)
		return err == nil && j.Status == catalog.StatusRanking
	}, 5*time.Second, 10*time.Millisecond, "run should park in ranking")

	require.NoError(t, svc.DeleteJob(ctx, job.ID))
	require.ErrorIs(t, <-runErr, context.Canceled)

	// No worker re-created any record after the cascade
	_, err = svc.GetJob(ctx, job.ID)
	assert.ErrorIs(t, err, catalog.ErrJobNotFound)
	media, err := repo.ListMediaByJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Empty(t, media)
}

func TestRecover_ResumesHalfLabeledJob(t *testing.T) {
	svc, repo, blobs, fv := newTestService(t)
	ctx := context.Background()

	job := catalog.NewJob("")
	job.Status = catalog.StatusLabeling
	require.NoError(t, repo.SaveJob(ctx, job))

	labeled := seedMedia(t, ctx, repo, blobs, job.ID, "done.jpg", "take:a|1")
	labeled.Label = "already described"
	require.NoError(t, repo.SaveMedia(ctx, labeled))
	seedMedia(t, ctx, repo, blobs, job.ID, "todo.jpg", "take:b|1")

	require.NoError(t, svc.Recover(ctx))

	require.Eventually(t, func() bool {
		j, err := svc.GetJob(ctx, job.ID)
		return err == nil && j.Status == catalog.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond, "recovered job should run to completion")

	fv.mu.Lock()
	describes := fv.describeCalls
	fv.mu.Unlock()
	assert.Equal(t, 1, describes, "only the unlabeled file is described on resume")
}

func TestRecover_FailsInterruptedUploads(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	ctx := context.Background()

	// Uploading job whose scratch file did not survive the restart
	job := catalog.NewJob("")
	require.NoError(t, repo.SaveJob(ctx, job))

	require.NoError(t, svc.Recover(ctx))

	require.Eventually(t, func() bool {
		j, err := svc.GetJob(ctx, job.ID)
		return err == nil && j.Status == catalog.StatusFailed
	}, 5*time.Second, 10*time.Millisecond)

	job, err := svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Contains(t, job.Error, "upload interrupted")
}

// seedMedia stores blob bytes and a media record for tests that start
// mid-pipeline.
func seedMedia(t *testing.T, ctx context.Context, repo catalog.Repository, blobs storage.BlobStore, jobID, filename, body string) *catalog.MediaFile {
	t.Helper()

	mediaType := catalog.MediaTypeImage
	mimeType := "image/jpeg"
	if strings.HasSuffix(filename, ".mp4") {
		mediaType = catalog.MediaTypeVideo
		mimeType = "video/mp4"
	}

	key := storage.OriginalKey(jobID, filename)
	url, err := blobs.Put(ctx, key, strings.NewReader(body), mimeType)
	require.NoError(t, err)

	m := catalog.NewMediaFile(jobID)
	m.Filename = filename
	m.OriginalPath = filename
	m.BlobKey = key
	m.BlobURL = url
	m.MediaType = mediaType
	m.MimeType = mimeType
	m.SizeBytes = int64(len(body))
	require.NoError(t, repo.SaveMedia(ctx, m))
	return m
}
