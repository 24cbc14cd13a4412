package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adreel/studio/internal/model"
)

const (
	jobTTL       = 24 * time.Hour
	jobIndexKey  = "render:jobs"
	jobKeyPrefix = "render:job:"
)

var ErrJobNotFound = errors.New("job not found")

// JobStore persists render job records
type JobStore interface {
	Save(ctx context.Context, job *model.RenderJob) error
	Get(ctx context.Context, id string) (*model.RenderJob, error)
	Recent(ctx context.Context, limit int) ([]model.RenderJob, error)
}

// RedisJobStore keeps each job as JSON and indexes ids by creation time.
type RedisJobStore struct {
	redis *redis.Client
}

func NewRedisJobStore(redisClient *redis.Client) *RedisJobStore {
	return &RedisJobStore{redis: redisClient}
}

func (s *RedisJobStore) Save(ctx context.Context, job *model.RenderJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}

	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, jobKeyPrefix+job.ID, data, jobTTL)
	pipe.ZAdd(ctx, jobIndexKey, redis.Z{Score: float64(job.CreatedAt.UnixMilli()), Member: job.ID})
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisJobStore) Get(ctx context.Context, id string) (*model.RenderJob, error) {
	data, err := s.redis.Get(ctx, jobKeyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	var job model.RenderJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Recent returns up to limit jobs, newest first. Index entries whose record
// has expired are pruned.
func (s *RedisJobStore) Recent(ctx context.Context, limit int) ([]model.RenderJob, error) {
	ids, err := s.redis.ZRevRange(ctx, jobIndexKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read job index: %w", err)
	}

	jobs := make([]model.RenderJob, 0, len(ids))
	for _, id := range ids {
		job, err := s.Get(ctx, id)
		if errors.Is(err, ErrJobNotFound) {
			s.redis.ZRem(ctx, jobIndexKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, nil
}

// MemoryJobStore is a process-local JobStore
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]model.RenderJob
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]model.RenderJob)}
}

func (m *MemoryJobStore) Save(ctx context.Context, job *model.RenderJob) error {
	m.mu.Lock()
	m.jobs[job.ID] = *job
	m.mu.Unlock()
	return nil
}

func (m *MemoryJobStore) Get(ctx context.Context, id string) (*model.RenderJob, error) {
	m.mu.RLock()
	job, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrJobNotFound
	}
	return &job, nil
}

func (m *MemoryJobStore) Recent(ctx context.Context, limit int) ([]model.RenderJob, error) {
	m.mu.RLock()
	jobs := make([]model.RenderJob, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	m.mu.RUnlock()

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}
