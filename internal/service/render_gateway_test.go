package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adreel/studio/internal/client"
	"github.com/adreel/studio/internal/model"
)

// fakeBackend is a scriptable client.RenderBackend.
type fakeBackend struct {
	mu sync.Mutex

	health     model.HealthStatus
	uploadErr  error
	submitErr  error
	statusFn   func(ref model.RealJob) (*model.RenderJob, error)
	history    *model.HistoryResponse
	historyErr error
	submitGate chan struct{}

	uploads     int
	submits     int
	statusCalls map[string]int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{statusCalls: make(map[string]int)}
}

func (f *fakeBackend) CheckHealth(ctx context.Context) model.HealthStatus {
	return f.health
}

func (f *fakeBackend) UploadAsset(ctx context.Context, asset client.Asset) (*model.UploadResult, error) {
	f.mu.Lock()
	f.uploads++
	f.mu.Unlock()
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	size, _ := asset.Size()
	return &model.UploadResult{URL: "https://render.example.com/files/" + asset.Name, Size: size}, nil
}

func (f *fakeBackend) SubmitJob(ctx context.Context, req *model.SubmitRequest) (*model.SubmitResponse, error) {
	f.mu.Lock()
	f.submits++
	gate := f.submitGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, &client.UnreachableError{Op: "submit", Err: ctx.Err()}
		}
	}
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	ids := make([]string, len(req.Variations))
	for i, v := range req.Variations {
		ids[i] = "job-" + v.ID
	}
	return &model.SubmitResponse{IDs: ids}, nil
}

func (f *fakeBackend) GetJobStatus(ctx context.Context, ref model.RealJob) (*model.RenderJob, error) {
	f.mu.Lock()
	f.statusCalls[ref.ID]++
	fn := f.statusFn
	f.mu.Unlock()
	if fn == nil {
		return nil, &client.UnreachableError{Op: "poll", Err: errors.New("no status script")}
	}
	return fn(ref)
}

func (f *fakeBackend) GetHistory(ctx context.Context, limit int) (*model.HistoryResponse, error) {
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return f.history, nil
}

func (f *fakeBackend) calls(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusCalls[id]
}

func (f *fakeBackend) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits
}

func (f *fakeBackend) totalStatusCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.statusCalls {
		n += c
	}
	return n
}

// memoryStorage is an in-memory client.StorageClient.
type memoryStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func newMemoryStorage() *memoryStorage {
	return &memoryStorage{objects: make(map[string][]byte)}
}

func (m *memoryStorage) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	m.objects[key] = data
	m.mu.Unlock()
	return m.GetPublicURL(key), nil
}

func (m *memoryStorage) GetPublicURL(key string) string {
	return "https://cdn.example.com/" + key
}

func unreachable(op string) error {
	return &client.UnreachableError{Op: op, Err: errors.New("dial tcp: connection refused")}
}

func testAsset(name string) client.Asset {
	return client.Asset{Name: name, ContentType: "video/mp4", Body: bytes.NewReader([]byte("0123456789"))}
}

func TestGatewayUploadPrimary(t *testing.T) {
	backend := newFakeBackend()
	storage := newMemoryStorage()
	g := NewRenderGateway(backend, storage)

	result, err := g.Upload(context.Background(), testAsset("spot.mp4"))
	require.NoError(t, err)
	assert.Equal(t, "https://render.example.com/files/spot.mp4", result.URL)
	assert.Empty(t, storage.objects)
}

func TestGatewayUploadFallsBackWhenUnreachable(t *testing.T) {
	backend := newFakeBackend()
	backend.uploadErr = unreachable("upload")
	storage := newMemoryStorage()
	g := NewRenderGateway(backend, storage)
	g.now = func() time.Time { return time.UnixMilli(1700000000000) }

	result, err := g.Upload(context.Background(), testAsset("My Spot (final).mp4"))
	require.NoError(t, err)

	key := "uploads/1700000000000-My_Spot__final_.mp4"
	assert.Equal(t, "https://cdn.example.com/"+key, result.URL)
	assert.Equal(t, int64(10), result.Size)
	assert.Equal(t, []byte("0123456789"), storage.objects[key])
}

func TestGatewayUploadRejectionNotRetried(t *testing.T) {
	backend := newFakeBackend()
	backend.uploadErr = &client.BackendError{StatusCode: http.StatusRequestEntityTooLarge, Message: "file too large"}
	storage := newMemoryStorage()
	g := NewRenderGateway(backend, storage)

	_, err := g.Upload(context.Background(), testAsset("huge.mov"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
	assert.Empty(t, storage.objects)
}

func TestGatewayUploadNoStorage(t *testing.T) {
	backend := newFakeBackend()
	backend.uploadErr = unreachable("upload")
	g := NewRenderGateway(backend, nil)

	_, err := g.Upload(context.Background(), testAsset("spot.mp4"))
	require.Error(t, err)
	assert.True(t, client.IsUnreachable(err))
}

func TestGatewayUploadFallbackFailure(t *testing.T) {
	backend := newFakeBackend()
	backend.uploadErr = unreachable("upload")
	storage := newMemoryStorage()
	storage.err = errors.New("bucket missing")
	g := NewRenderGateway(backend, storage)

	_, err := g.Upload(context.Background(), testAsset("spot.mp4"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket missing")
	assert.True(t, client.IsUnreachable(err))
}

func TestSanitizeFileName(t *testing.T) {
	assert.Equal(t, "clip.mp4", SanitizeFileName("clip.mp4"))
	assert.Equal(t, "a_b.mov", SanitizeFileName("a b.mov"))
	assert.Equal(t, "clip.mov", SanitizeFileName("renders/clip.mov"))
	assert.Equal(t, "evil.sh", SanitizeFileName("../../evil.sh"))
	assert.Equal(t, "_n_.png", SanitizeFileName("ünï.png"))
	assert.Equal(t, "asset", SanitizeFileName("..."))
	assert.Equal(t, "asset", SanitizeFileName(""))
}

func TestGatewaySubmitReal(t *testing.T) {
	backend := newFakeBackend()
	g := NewRenderGateway(backend, nil)

	sub, err := g.Submit(context.Background(), SubmitOptions{
		ProjectID:      "proj-1",
		SourceURL:      "https://cdn.example.com/src.mp4",
		VariationCount: 4,
	})
	require.NoError(t, err)
	assert.False(t, sub.Preview)
	require.Len(t, sub.Refs, 4)

	seen := make(map[string]bool)
	for i, ref := range sub.Refs {
		assert.IsType(t, model.RealJob{}, ref)
		assert.Equal(t, "job-"+sub.VariationIDs[i], ref.JobID())
		assert.False(t, seen[ref.JobID()])
		seen[ref.JobID()] = true
	}

	jobs := sub.Jobs(time.Now())
	require.Len(t, jobs, 4)
	assert.Equal(t, model.JobStateQueued, jobs[0].State)
	assert.Equal(t, "proj-1", jobs[0].ProjectID)
}

func TestGatewaySubmitValidationNeverFallsBack(t *testing.T) {
	backend := newFakeBackend()
	backend.submitErr = unreachable("submit")
	g := NewRenderGateway(backend, nil)

	_, err := g.Submit(context.Background(), SubmitOptions{SourceURL: "", VariationCount: 2})
	assert.True(t, client.IsValidation(err))

	_, err = g.Submit(context.Background(), SubmitOptions{SourceURL: "https://x/y.mp4", VariationCount: 0})
	assert.True(t, client.IsValidation(err))

	assert.Equal(t, 0, backend.submits)
}

func TestGatewaySubmitPreviewMode(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"unreachable", unreachable("submit")},
		{"server error", &client.BackendError{StatusCode: http.StatusServiceUnavailable, Message: "maintenance"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newFakeBackend()
			backend.submitErr = tt.err
			g := NewRenderGateway(backend, nil)

			sub, err := g.Submit(context.Background(), SubmitOptions{
				ProjectID:      "proj-1",
				SourceURL:      "https://cdn.example.com/src.mp4",
				VariationCount: 3,
			})
			require.NoError(t, err)
			assert.True(t, sub.Preview)
			require.Len(t, sub.Refs, 3)
			for i, ref := range sub.Refs {
				assert.IsType(t, model.SyntheticJob{}, ref)
				assert.True(t, strings.HasPrefix(ref.JobID(), model.PreviewPrefix))
				assert.Equal(t, model.PreviewPrefix+sub.VariationIDs[i], ref.JobID())
			}
		})
	}
}

func TestGatewaySubmitClientErrorPropagates(t *testing.T) {
	backend := newFakeBackend()
	backend.submitErr = &client.BackendError{StatusCode: http.StatusUnprocessableEntity, Message: "source_url is not reachable"}
	g := NewRenderGateway(backend, nil)

	_, err := g.Submit(context.Background(), SubmitOptions{SourceURL: "https://x/y.mp4", VariationCount: 1})
	require.Error(t, err)
	assert.Equal(t, "source_url is not reachable", err.Error())
}

func TestGatewayJobStatusSyntheticSkipsNetwork(t *testing.T) {
	backend := newFakeBackend()
	g := NewRenderGateway(backend, nil)

	prev := model.NewSubmittedJob(model.NewSyntheticJob("var-1"), "var-1", "proj-1", time.Now())
	job, err := g.JobStatus(context.Background(), prev)
	require.NoError(t, err)

	assert.Equal(t, model.JobStateDone, job.State)
	assert.Equal(t, 100, job.ProgressPct)
	assert.Nil(t, job.Output)
	assert.NotNil(t, job.CompletedAt)
	assert.Equal(t, "var-1", job.VariationID)
	assert.Equal(t, 0, backend.totalStatusCalls())
}

func TestGatewayJobStatusPreviewIDWithoutFlag(t *testing.T) {
	backend := newFakeBackend()
	g := NewRenderGateway(backend, nil)

	var prev model.RenderJob
	require.NoError(t, json.Unmarshal([]byte(`{"id":"preview_abc","state":"queued"}`), &prev))

	job, err := g.JobStatus(context.Background(), prev)
	require.NoError(t, err)
	assert.Equal(t, model.JobStateDone, job.State)
	assert.True(t, job.Synthetic)
	assert.Equal(t, 0, backend.totalStatusCalls())
}

func TestGatewayJobStatusRealFailureKeepsPrevious(t *testing.T) {
	backend := newFakeBackend()
	g := NewRenderGateway(backend, nil)

	prev := model.RenderJob{ID: "job-1", State: model.JobStateEncoding, ProgressPct: 70}
	job, err := g.JobStatus(context.Background(), prev)
	require.Error(t, err)
	assert.Equal(t, prev, job)
	assert.Equal(t, 1, backend.calls("job-1"))
}

func TestGatewayHistoryDegrades(t *testing.T) {
	backend := newFakeBackend()
	backend.historyErr = unreachable("history")
	g := NewRenderGateway(backend, nil)

	jobs, err := g.History(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, jobs)
	assert.NotNil(t, jobs)

	backend.historyErr = &client.BackendError{StatusCode: http.StatusBadRequest, Message: "limit too high"}
	_, err = g.History(context.Background(), 10)
	assert.EqualError(t, err, "limit too high")
}
