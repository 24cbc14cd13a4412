package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/adreel/studio/internal/client"
	"github.com/adreel/studio/internal/model"
)

// SubmitOptions describes one batch submission.
type SubmitOptions struct {
	ProjectID      string
	SourceURL      string
	VariationCount int
	Analysis       json.RawMessage
	Blueprint      json.RawMessage
}

// Submission is the accepted batch. Refs are positional with VariationIDs.
type Submission struct {
	ProjectID    string
	Refs         []model.JobRef
	VariationIDs []string
	Preview      bool
}

// Jobs creates the initial snapshots for the batch.
func (s *Submission) Jobs(now time.Time) []model.RenderJob {
	jobs := make([]model.RenderJob, len(s.Refs))
	for i, ref := range s.Refs {
		jobs[i] = model.NewSubmittedJob(ref, s.VariationIDs[i], s.ProjectID, now)
	}
	return jobs
}

// RenderGateway decides per operation whether to use the render backend, the
// fallback object store, or a synthetic preview result. Well-formed
// rejections from the backend are never masked.
type RenderGateway struct {
	backend client.RenderBackend
	storage client.StorageClient
	now     func() time.Time
}

// NewRenderGateway creates a gateway. storage may be nil, in which case
// uploads have no fallback path.
func NewRenderGateway(backend client.RenderBackend, storage client.StorageClient) *RenderGateway {
	return &RenderGateway{
		backend: backend,
		storage: storage,
		now:     time.Now,
	}
}

// Health is advisory and never fails
func (g *RenderGateway) Health(ctx context.Context) model.HealthStatus {
	return g.backend.CheckHealth(ctx)
}

// Upload tries the render backend first and falls back to object storage
// only when the backend could not be reached.
func (g *RenderGateway) Upload(ctx context.Context, asset client.Asset) (*model.UploadResult, error) {
	result, err := g.backend.UploadAsset(ctx, asset)
	if err == nil {
		return result, nil
	}
	if !client.IsUnreachable(err) {
		return nil, err
	}
	if g.storage == nil {
		log.Printf("[Gateway] upload unreachable and no fallback storage configured: %v", err)
		return nil, err
	}

	log.Printf("[Gateway] upload unreachable, falling back to object storage: %v", err)

	size, serr := asset.Size()
	if serr != nil {
		return nil, fmt.Errorf("failed to rewind asset for fallback upload: %w", errors.Join(err, serr))
	}

	contentType := asset.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key := FallbackKey(g.now(), asset.Name)
	url, uerr := g.storage.Upload(ctx, key, asset.Body, contentType)
	if uerr != nil {
		return nil, fmt.Errorf("fallback upload failed: %w", errors.Join(err, uerr))
	}

	log.Printf("[Gateway] fallback upload stored %s (%d bytes)", key, size)
	return &model.UploadResult{URL: url, Size: size}, nil
}

// FallbackKey is the object key for a fallback upload.
func FallbackKey(now time.Time, fileName string) string {
	return fmt.Sprintf("uploads/%d-%s", now.UnixMilli(), SanitizeFileName(fileName))
}

// SanitizeFileName keeps letters, digits, dot, dash and underscore.
func SanitizeFileName(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "asset"
	}
	return out
}

// Submit validates locally, then submits. An unreachable backend or a 5xx
// reply switches the batch to preview mode instead of failing.
func (g *RenderGateway) Submit(ctx context.Context, opts SubmitOptions) (*Submission, error) {
	req, err := client.BuildSubmission(opts.ProjectID, opts.SourceURL, opts.VariationCount, opts.Analysis, opts.Blueprint)
	if err != nil {
		return nil, err
	}

	variationIDs := make([]string, len(req.Variations))
	for i, v := range req.Variations {
		variationIDs[i] = v.ID
	}

	sub := &Submission{
		ProjectID:    opts.ProjectID,
		VariationIDs: variationIDs,
		Refs:         make([]model.JobRef, len(variationIDs)),
	}

	resp, err := g.backend.SubmitJob(ctx, req)
	if err != nil {
		if !client.IsUnreachable(err) && !client.IsServerError(err) {
			return nil, err
		}
		log.Printf("[Gateway] submit degraded to preview mode: %v", err)
		for i, id := range variationIDs {
			sub.Refs[i] = model.NewSyntheticJob(id)
		}
		sub.Preview = true
		return sub, nil
	}

	for i, id := range resp.IDs {
		sub.Refs[i] = model.RealJob{ID: id}
	}
	return sub, nil
}

// JobStatus resolves the next snapshot for prev. Synthetic jobs never reach
// the network and resolve to done without output. On failure for a real job
// prev is returned unchanged together with the error.
func (g *RenderGateway) JobStatus(ctx context.Context, prev model.RenderJob) (model.RenderJob, error) {
	switch ref := prev.Ref().(type) {
	case model.SyntheticJob:
		return g.syntheticDone(prev), nil
	case model.RealJob:
		job, err := g.backend.GetJobStatus(ctx, ref)
		if err != nil {
			return prev, err
		}
		return *job, nil
	default:
		return prev, fmt.Errorf("unknown job ref %T", ref)
	}
}

func (g *RenderGateway) syntheticDone(prev model.RenderJob) model.RenderJob {
	now := g.now()
	job := prev
	job.State = model.JobStateDone
	job.ProgressPct = 100
	job.CompletedAt = &now
	job.Output = nil
	job.Error = nil
	job.Synthetic = true
	return job
}

// History is advisory; an unreachable backend yields an empty list
func (g *RenderGateway) History(ctx context.Context, limit int) ([]model.RenderJob, error) {
	resp, err := g.backend.GetHistory(ctx, limit)
	if err != nil {
		if client.IsUnreachable(err) {
			log.Printf("[Gateway] history unavailable: %v", err)
			return []model.RenderJob{}, nil
		}
		return nil, err
	}
	return resp.Jobs, nil
}
