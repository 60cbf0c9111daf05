package jobstore

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/photomosaic/api/internal/model"
)

// MemoryStore keeps job records in process. Records are stored serialized
// so callers never share a *MosaicJob with the store.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string][]byte)}
}

func (s *MemoryStore) Save(_ context.Context, job *model.MosaicJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.jobs[job.ID] = data
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Load(_ context.Context, jobID string) (*model.MosaicJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(jobID)
}

func (s *MemoryStore) loadLocked(jobID string) (*model.MosaicJob, error) {
	data, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	var job model.MosaicJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *MemoryStore) Update(_ context.Context, jobID string, fn func(job *model.MosaicJob) error) (*model.MosaicJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.loadLocked(jobID)
	if err != nil {
		return nil, err
	}
	if err := fn(job); err != nil {
		return nil, err
	}
	data, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}
	s.jobs[jobID] = data
	return job, nil
}
