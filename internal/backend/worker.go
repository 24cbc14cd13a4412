package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/hibiken/asynq"

	"github.com/adreel/studio/internal/model"
)

// renderStages are the interior lifecycle states the worker walks through.
var renderStages = []struct {
	state    model.JobState
	progress int
}{
	{model.JobStatePreparing, 5},
	{model.JobStateDownloading, 15},
	{model.JobStateProcessing, 40},
	{model.JobStateEncoding, 70},
	{model.JobStateMuxing, 90},
	{model.JobStateFinalizing, 97},
}

const mockDurationSeconds = 30

// RenderWorker processes render tasks
type RenderWorker struct {
	service   *JobService
	stepDelay time.Duration
}

func NewRenderWorker(service *JobService, stepDelay time.Duration) *RenderWorker {
	return &RenderWorker{service: service, stepDelay: stepDelay}
}

// ProcessTask handles one render task
func (w *RenderWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload RenderTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w: %w", err, asynq.SkipRetry)
	}

	jobID := payload.JobID
	log.Printf("[Renderd] starting render job %s", jobID)

	if msg := checkSource(payload.Variation.Data.SourceURL); msg != "" {
		w.failJob(ctx, jobID, "invalid_source", msg)
		return nil
	}

	for _, stage := range renderStages {
		if err := w.service.Advance(ctx, jobID, stage.state, stage.progress); err != nil {
			log.Printf("[Renderd] job %s stopped at %s: %v", jobID, stage.state, err)
			return err
		}
		if err := sleep(ctx, w.stepDelay); err != nil {
			log.Printf("[Renderd] render job %s cancelled", jobID)
			w.failJob(context.Background(), jobID, "cancelled", "render was interrupted")
			return err
		}
	}

	output := model.JobOutput{
		URL:      w.service.OutputURL(jobID),
		Size:     int64(len(payload.Variation.Data.SourceURL)) * 1024,
		Duration: mockDurationSeconds,
	}
	if err := w.service.Complete(ctx, jobID, output); err != nil {
		w.failJob(ctx, jobID, "internal", "failed to save result")
		return err
	}

	log.Printf("[Renderd] render job %s completed", jobID)
	return nil
}

func (w *RenderWorker) failJob(ctx context.Context, jobID, code, message string) {
	if err := w.service.Fail(ctx, jobID, code, message); err != nil {
		log.Printf("[Renderd] failed to mark job %s failed: %v", jobID, err)
	}
}

func checkSource(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Sprintf("source %q is not an http(s) URL", raw)
	}
	return ""
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
