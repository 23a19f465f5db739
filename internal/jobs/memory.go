package jobs

import (
	"fmt"
	"sync"
	"time"

	"github.com/himanishpuri/drumscribe/internal/apperrors"
)

// MemoryStore is a Store backed by a map.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]Job
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]Job), now: time.Now}
}

func (s *MemoryStore) Create(id string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	job := Job{ID: id, Status: StatusPending, Message: MsgWaiting, CreatedAt: now, UpdatedAt: now}
	s.jobs[id] = job
	return job, nil
}

func (s *MemoryStore) Update(id string, status Status, message string, results *Results) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.jobs[id]
	s.jobs[id] = apply(prev, ok, id, status, message, results, s.now())
	return nil
}

func (s *MemoryStore) Get(id string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("%s: %w", id, apperrors.ErrJobNotFound)
	}
	return cloneJob(job), nil
}

// Len returns the number of tracked jobs.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}
