package jobstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ArpitGupta4957/yt-title-doctor/pkg/apperror"
)

// MemoryStore keeps records in process. Writes to one key are serialized by
// a per-key mutex; readers always receive copies.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*JobRecord
	locks   map[string]*sync.Mutex
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*JobRecord),
		locks:   make(map[string]*sync.Mutex),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) keyLock(jobID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[jobID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[jobID] = l
	}
	return l
}

func (s *MemoryStore) load(jobID string) (*JobRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[jobID]
	return r, ok
}

func (s *MemoryStore) store(rec *JobRecord) {
	s.mu.Lock()
	s.records[rec.JobID] = rec
	s.mu.Unlock()
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, jobID string) (*JobRecord, error) {
	r, ok := s.load(jobID)
	if !ok {
		return nil, apperror.NewNotFound("job", jobID)
	}
	return r.Clone(), nil
}

// Create implements Store.
func (s *MemoryStore) Create(ctx context.Context, rec *JobRecord) error {
	l := s.keyLock(rec.JobID)
	l.Lock()
	defer l.Unlock()

	if _, ok := s.load(rec.JobID); ok {
		return fmt.Errorf("%w: %s", ErrExists, rec.JobID)
	}
	c := rec.Clone()
	c.normalize()
	s.store(c)
	return nil
}

// Set implements Store.
func (s *MemoryStore) Set(ctx context.Context, rec *JobRecord) error {
	l := s.keyLock(rec.JobID)
	l.Lock()
	defer l.Unlock()

	c := rec.Clone()
	c.normalize()
	if prev, ok := s.load(rec.JobID); ok {
		c.Version = prev.Version + 1
	}
	s.store(c)
	return nil
}

// Apply implements Store.
func (s *MemoryStore) Apply(ctx context.Context, jobID string, u Update) (*JobRecord, error) {
	l := s.keyLock(jobID)
	l.Lock()
	defer l.Unlock()

	cur, ok := s.load(jobID)
	if !ok {
		return nil, apperror.NewNotFound("job", jobID)
	}

	next := cur.Clone()
	now := s.now()
	if err := u.apply(next, now); err != nil {
		return nil, err
	}
	next.UpdatedAt = now
	next.Version++
	s.store(next)

	return next.Clone(), nil
}

// ListStalled implements Store.
func (s *MemoryStore) ListStalled(ctx context.Context, cutoff time.Time, limit int) ([]*JobRecord, error) {
	s.mu.Lock()
	var out []*JobRecord
	for _, r := range s.records {
		if !r.Status.IsTerminal() && r.UpdatedAt.Before(cutoff) {
			out = append(out, r.Clone())
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListUnnotified implements Store.
func (s *MemoryStore) ListUnnotified(ctx context.Context, cutoff time.Time, limit int) ([]*JobRecord, error) {
	s.mu.Lock()
	var out []*JobRecord
	for _, r := range s.records {
		if unnotified(r) && r.UpdatedAt.Before(cutoff) {
			out = append(out, r.Clone())
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func unnotified(r *JobRecord) bool {
	return r.Status == StatusFailed && r.FailedStage != nil &&
		r.FailedStage.Escalates() && r.Notification == nil
}

// CountByStatus implements Counter.
func (s *MemoryStore) CountByStatus(ctx context.Context) (map[Status]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[Status]int64)
	for _, r := range s.records {
		counts[r.Status]++
	}
	return counts, nil
}
