// Package backend is a reference render backend. It implements the wire
// contract the studio client speaks and advances jobs on an asynq queue.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/adreel/studio/internal/client"
	"github.com/adreel/studio/internal/model"
)

const (
	TaskTypeRender = "render:variation"
	renderQueue    = "render"

	defaultHistoryLimit = 20
	mockCDN             = "https://cdn.adreel.dev"
)

var (
	ErrTooLarge        = errors.New("file too large")
	ErrUnsupportedType = errors.New("unsupported file type")
)

// Enqueuer is the part of asynq.Client the service needs.
type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// RenderTaskPayload is the asynq payload for one variation
type RenderTaskPayload struct {
	JobID     string          `json:"jobId"`
	Variation model.Variation `json:"variation"`
}

// JobService owns job records and the upload store of the reference backend.
type JobService struct {
	store         JobStore
	queue         Enqueuer
	storage       client.StorageClient
	maxUploadSize int64
	lookPath      func(string) (string, error)
	now           func() time.Time
}

// NewJobService creates the service. storage may be nil, in which case
// uploads get mock URLs.
func NewJobService(store JobStore, queue Enqueuer, storage client.StorageClient, maxUploadSize int64) *JobService {
	return &JobService{
		store:         store,
		queue:         queue,
		storage:       storage,
		maxUploadSize: maxUploadSize,
		lookPath:      exec.LookPath,
		now:           time.Now,
	}
}

// Health reports whether ffmpeg is installed
func (s *JobService) Health() model.HealthStatus {
	if _, err := s.lookPath("ffmpeg"); err != nil {
		return model.HealthStatus{OK: false, FFmpeg: model.FFmpegUnavailable, Error: "ffmpeg not found in PATH"}
	}
	return model.HealthStatus{OK: true, FFmpeg: model.FFmpegReady}
}

func allowedMediaType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mediaType, "video/") || strings.HasPrefix(mediaType, "image/")
}

// StoreUpload checks and stores an uploaded source file
func (s *JobService) StoreUpload(ctx context.Context, name, contentType string, size int64, body io.Reader) (*model.UploadResult, error) {
	if s.maxUploadSize > 0 && size > s.maxUploadSize {
		return nil, ErrTooLarge
	}
	if !allowedMediaType(contentType) {
		return nil, ErrUnsupportedType
	}

	key := fmt.Sprintf("sources/%s-%s", uuid.New().String(), sanitizeName(name))

	// Use mock response if storage is not configured
	if s.storage == nil {
		return &model.UploadResult{URL: mockCDN + "/" + key, Size: size}, nil
	}

	url, err := s.storage.Upload(ctx, key, body, contentType)
	if err != nil {
		return nil, fmt.Errorf("failed to upload source: %w", err)
	}
	return &model.UploadResult{URL: url, Size: size}, nil
}

func sanitizeName(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
	if strings.Trim(name, "._") == "" {
		return "source"
	}
	return name
}

// Submit records one queued job per variation and enqueues its render task.
// Returned ids are positional with the variations.
func (s *JobService) Submit(ctx context.Context, req *model.SubmitRequest) ([]string, error) {
	if len(req.Variations) == 0 {
		return nil, &client.ValidationError{Field: "variations", Message: "at least one variation is required"}
	}
	for _, v := range req.Variations {
		if v.ID == "" {
			return nil, &client.ValidationError{Field: "variations.id", Message: "variation id is required"}
		}
		if strings.TrimSpace(v.Data.SourceURL) == "" {
			return nil, &client.ValidationError{Field: "source_url", Message: "source URL is required"}
		}
	}

	ids := make([]string, len(req.Variations))
	for i, v := range req.Variations {
		job := &model.RenderJob{
			ID:          uuid.New().String(),
			VariationID: v.ID,
			ProjectID:   req.ProjectID,
			State:       model.JobStateQueued,
			CreatedAt:   s.now(),
		}
		if err := s.store.Save(ctx, job); err != nil {
			return nil, fmt.Errorf("failed to save job: %w", err)
		}

		task, err := newRenderTask(job.ID, v)
		if err != nil {
			return nil, fmt.Errorf("failed to create task: %w", err)
		}
		if _, err := s.queue.Enqueue(task,
			asynq.Queue(renderQueue),
			asynq.MaxRetry(0),
			asynq.Retention(24*time.Hour),
		); err != nil {
			return nil, fmt.Errorf("failed to enqueue task: %w", err)
		}
		ids[i] = job.ID
	}

	log.Printf("[Renderd] queued %d jobs for project %q", len(ids), req.ProjectID)
	return ids, nil
}

func newRenderTask(jobID string, v model.Variation) (*asynq.Task, error) {
	data, err := json.Marshal(RenderTaskPayload{JobID: jobID, Variation: v})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeRender, data), nil
}

func (s *JobService) Get(ctx context.Context, id string) (*model.RenderJob, error) {
	return s.store.Get(ctx, id)
}

func (s *JobService) History(ctx context.Context, limit int) ([]model.RenderJob, error) {
	if limit < 1 {
		limit = defaultHistoryLimit
	}
	return s.store.Recent(ctx, limit)
}

// Advance moves a job to state with the given progress (called by worker)
func (s *JobService) Advance(ctx context.Context, id string, state model.JobState, progress int) error {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.IsTerminal() {
		return fmt.Errorf("job %s is already %s", id, job.State)
	}
	job.State = state
	job.ProgressPct = progress
	return s.store.Save(ctx, job)
}

// Complete marks a job done with its output (called by worker)
func (s *JobService) Complete(ctx context.Context, id string, output model.JobOutput) error {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	now := s.now()
	job.State = model.JobStateDone
	job.ProgressPct = 100
	job.CompletedAt = &now
	job.Output = &output
	job.Error = nil
	return s.store.Save(ctx, job)
}

// Fail marks a job failed (called by worker)
func (s *JobService) Fail(ctx context.Context, id, code, message string) error {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	now := s.now()
	job.State = model.JobStateFailed
	job.CompletedAt = &now
	job.Output = nil
	job.Error = &model.JobError{Code: code, Message: message}
	return s.store.Save(ctx, job)
}

// OutputURL is where the rendered file of job id is published
func (s *JobService) OutputURL(id string) string {
	key := fmt.Sprintf("renders/%s.mp4", id)
	if s.storage == nil {
		return mockCDN + "/" + key
	}
	return s.storage.GetPublicURL(key)
}
