package catalog

import (
	"context"
	"sort"
	"sync"
)

// Compile-time check that MemoryRepository implements Repository.
var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository is an in-memory implementation of Repository.
// It uses maps with an RWMutex for thread-safe access.
// Suitable for development and testing; the Postgres repository is used
// when a connection string is configured.
type MemoryRepository struct {
	mu      sync.RWMutex
	jobs    map[string]*Job
	media   map[string]*MediaFile
	buckets map[string]*Bucket
	matches map[string]*TournamentMatch
	// seq preserves insertion order for archive-order listings.
	seq     map[string]int
	nextSeq int
}

// NewMemoryRepository creates a new in-memory catalog repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		jobs:    make(map[string]*Job),
		media:   make(map[string]*MediaFile),
		buckets: make(map[string]*Bucket),
		matches: make(map[string]*TournamentMatch),
		seq:     make(map[string]int),
	}
}

// SaveJob persists a job. Creates a clone to avoid external mutations.
func (r *MemoryRepository) SaveJob(_ context.Context, job *Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.track(job.ID)
	r.jobs[job.ID] = job.Clone()
	return nil
}

// FindJob retrieves a job by ID. Returns a clone to prevent external mutations.
func (r *MemoryRepository) FindJob(_ context.Context, id string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.Clone(), nil
}

// ListJobs returns jobs ordered by creation time descending.
func (r *MemoryRepository) ListJobs(_ context.Context, limit, offset int) ([]*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		all = append(all, job.Clone())
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return r.seq[all[i].ID] > r.seq[all[j].ID]
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	if offset >= len(all) {
		return []*Job{}, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

// ListActiveJobs returns every job whose status is not terminal.
func (r *MemoryRepository) ListActiveJobs(_ context.Context) ([]*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	active := make([]*Job, 0)
	for _, job := range r.jobs {
		if !job.IsTerminal() {
			active = append(active, job.Clone())
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return r.seq[active[i].ID] < r.seq[active[j].ID]
	})
	return active, nil
}

// DeleteJob removes a job and all of its descendants.
func (r *MemoryRepository) DeleteJob(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[id]; !ok {
		return ErrJobNotFound
	}
	delete(r.jobs, id)

	bucketIDs := make(map[string]bool)
	for bid, b := range r.buckets {
		if b.JobID == id {
			bucketIDs[bid] = true
			delete(r.buckets, bid)
		}
	}
	for mid, m := range r.media {
		if m.JobID == id {
			delete(r.media, mid)
		}
	}
	for tid, t := range r.matches {
		if bucketIDs[t.BucketID] {
			delete(r.matches, tid)
		}
	}
	return nil
}

// SaveMedia persists a media file.
func (r *MemoryRepository) SaveMedia(_ context.Context, media *MediaFile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.track(media.ID)
	r.media[media.ID] = media.Clone()
	return nil
}

// FindMedia retrieves a media file by ID.
func (r *MemoryRepository) FindMedia(_ context.Context, id string) (*MediaFile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.media[id]
	if !ok {
		return nil, ErrMediaNotFound
	}
	return m.Clone(), nil
}

// ListMediaByJob returns a job's media files in insertion order.
func (r *MemoryRepository) ListMediaByJob(_ context.Context, jobID string) ([]*MediaFile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listMedia(func(m *MediaFile) bool { return m.JobID == jobID }), nil
}

// ListMediaByBucket returns a bucket's members in insertion order.
func (r *MemoryRepository) ListMediaByBucket(_ context.Context, bucketID string) ([]*MediaFile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listMedia(func(m *MediaFile) bool { return m.BucketID == bucketID }), nil
}

// AssignBucket sets the bucket of the given media files.
func (r *MemoryRepository) AssignBucket(_ context.Context, bucketID string, mediaIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range mediaIDs {
		m, ok := r.media[id]
		if !ok {
			return ErrMediaNotFound
		}
		m.BucketID = bucketID
	}
	return nil
}

// SaveBucket persists a bucket.
func (r *MemoryRepository) SaveBucket(_ context.Context, bucket *Bucket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.track(bucket.ID)
	r.buckets[bucket.ID] = bucket.Clone()
	return nil
}

// ListBucketsByJob returns a job's buckets in insertion order.
func (r *MemoryRepository) ListBucketsByJob(_ context.Context, jobID string) ([]*Bucket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Bucket, 0)
	for _, b := range r.buckets {
		if b.JobID == jobID {
			out = append(out, b.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return r.seq[out[i].ID] < r.seq[out[j].ID]
	})
	return out, nil
}

// DeleteBucket removes a bucket.
func (r *MemoryRepository) DeleteBucket(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.buckets[id]; !ok {
		return ErrBucketNotFound
	}
	delete(r.buckets, id)
	return nil
}

// SaveMatch persists a tournament match.
func (r *MemoryRepository) SaveMatch(_ context.Context, match *TournamentMatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.track(match.ID)
	r.matches[match.ID] = match.Clone()
	return nil
}

// ListMatchesByBucket returns a bucket's matches in recording order.
func (r *MemoryRepository) ListMatchesByBucket(_ context.Context, bucketID string) ([]*TournamentMatch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*TournamentMatch, 0)
	for _, t := range r.matches {
		if t.BucketID == bucketID {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return r.seq[out[i].ID] < r.seq[out[j].ID]
	})
	return out, nil
}

// listMedia collects media matching the filter in insertion order.
// Callers must hold at least a read lock.
func (r *MemoryRepository) listMedia(keep func(*MediaFile) bool) []*MediaFile {
	out := make([]*MediaFile, 0)
	for _, m := range r.media {
		if keep(m) {
			out = append(out, m.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return r.seq[out[i].ID] < r.seq[out[j].ID]
	})
	return out
}

// track records insertion order for an ID the first time it is seen.
// Callers must hold the write lock.
func (r *MemoryRepository) track(id string) {
	if _, ok := r.seq[id]; !ok {
		r.seq[id] = r.nextSeq
		r.nextSeq++
	}
}
