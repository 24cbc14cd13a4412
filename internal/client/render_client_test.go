package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adreel/studio/internal/config"
	"github.com/adreel/studio/internal/model"
)

func newTestClient(baseURL string) *RenderClient {
	return NewRenderClient(&config.RenderConfig{
		BaseURL:       baseURL,
		HealthTimeout: time.Second,
		UploadTimeout: 200 * time.Millisecond,
		SubmitTimeout: time.Second,
		PollTimeout:   time.Second,
	})
}

// deadURL returns the address of a server that is no longer listening.
func deadURL(t *testing.T) string {
	t.Helper()
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()
	return url
}

func testAsset() Asset {
	return Asset{
		Name:        "spot.mp4",
		ContentType: "video/mp4",
		Body:        bytes.NewReader([]byte("fake video bytes")),
	}
}

func TestCheckHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		_, _ = w.Write([]byte(`{"ok":true,"ffmpeg":"ready"}`))
	}))
	defer server.Close()

	status := newTestClient(server.URL).CheckHealth(context.Background())
	assert.True(t, status.OK)
	assert.Equal(t, model.FFmpegReady, status.FFmpeg)
}

func TestCheckHealthUnreachable(t *testing.T) {
	status := newTestClient(deadURL(t)).CheckHealth(context.Background())
	assert.False(t, status.OK)
	assert.Equal(t, model.FFmpegUnavailable, status.FFmpeg)
	assert.NotEmpty(t, status.Error)
}

func TestCheckHealthDegradedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"ok":false,"ffmpeg":"unavailable","error":"ffmpeg not found"}`))
	}))
	defer server.Close()

	status := newTestClient(server.URL).CheckHealth(context.Background())
	assert.False(t, status.OK)
	assert.Equal(t, "ffmpeg not found", status.Error)
}

func TestUploadAssetSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/upload", r.URL.Path)

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "spot.mp4", header.Filename)
		assert.Equal(t, "fake video bytes", string(data))

		_, _ = w.Write([]byte(`{"url":"https://render.example.com/files/spot.mp4","size":16}`))
	}))
	defer server.Close()

	result, err := newTestClient(server.URL).UploadAsset(context.Background(), testAsset())
	require.NoError(t, err)
	assert.Equal(t, "https://render.example.com/files/spot.mp4", result.URL)
	assert.Equal(t, int64(16), result.Size)
}

func TestUploadAssetKnownRejections(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   string
	}{
		{"too large", http.StatusRequestEntityTooLarge, "too large"},
		{"unsupported", http.StatusUnsupportedMediaType, "unsupported file type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("nope"))
			}))
			defer server.Close()

			_, err := newTestClient(server.URL).UploadAsset(context.Background(), testAsset())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)

			var be *BackendError
			require.ErrorAs(t, err, &be)
			assert.Equal(t, tt.status, be.StatusCode)
			assert.False(t, IsUnreachable(err))
		})
	}
}

func TestUploadAssetBackendMessageVerbatim(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"error field", `{"error":"Storage quota exceeded for project"}`, "Storage quota exceeded for project"},
		{"message field", `{"message":"Codec h265 is disabled"}`, "Codec h265 is disabled"},
		{"envelope", `{"error":{"code":"X","message":"Nested reason"}}`, "Nested reason"},
		{"raw text", `upstream exploded`, "upstream exploded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := newTestClient(server.URL).UploadAsset(context.Background(), testAsset())
			require.Error(t, err)
			assert.Equal(t, tt.want, err.Error())
		})
	}
}

func TestUploadAssetTimeoutIsUnreachable(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	_, err := newTestClient(server.URL).UploadAsset(context.Background(), testAsset())
	require.Error(t, err)
	assert.True(t, IsUnreachable(err))
}

func TestBuildSubmission(t *testing.T) {
	analysis := json.RawMessage(`{"hook":"fast cuts"}`)
	sub, err := BuildSubmission("proj-1", "https://cdn.example.com/src.mp4", 5, analysis, nil)
	require.NoError(t, err)
	require.Len(t, sub.Variations, 5)

	seen := make(map[string]bool)
	for _, v := range sub.Variations {
		assert.NotEmpty(t, v.ID)
		assert.False(t, seen[v.ID], "duplicate correlation id %s", v.ID)
		seen[v.ID] = true
		assert.Equal(t, "https://cdn.example.com/src.mp4", v.Data.SourceURL)
		assert.JSONEq(t, `{"hook":"fast cuts"}`, string(v.Data.Analysis))
	}
}

func TestBuildSubmissionValidation(t *testing.T) {
	_, err := BuildSubmission("proj-1", "", 2, nil, nil)
	assert.True(t, IsValidation(err))

	_, err = BuildSubmission("proj-1", "https://cdn.example.com/src.mp4", 0, nil, nil)
	assert.True(t, IsValidation(err))
}

func TestSubmitJobRejectsLocally(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	_, err := c.SubmitJob(context.Background(), &model.SubmitRequest{ProjectID: "p"})
	assert.True(t, IsValidation(err))

	_, err = c.SubmitJob(context.Background(), &model.SubmitRequest{
		ProjectID:  "p",
		Variations: []model.Variation{{ID: "v1"}},
	})
	assert.True(t, IsValidation(err))
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestSubmitJob(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/jobs", r.URL.Path)
		var body model.SubmitRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "proj-1", body.ProjectID)

		ids := make([]string, len(body.Variations))
		for i, v := range body.Variations {
			ids[i] = "job-" + v.ID
		}
		_ = json.NewEncoder(w).Encode(model.SubmitResponse{IDs: ids})
	}))
	defer server.Close()

	sub, err := BuildSubmission("proj-1", "https://cdn.example.com/src.mp4", 3, nil, nil)
	require.NoError(t, err)

	resp, err := newTestClient(server.URL).SubmitJob(context.Background(), sub)
	require.NoError(t, err)
	require.Len(t, resp.IDs, 3)
	assert.Equal(t, "job-"+sub.Variations[0].ID, resp.IDs[0])
}

func TestSubmitJobIDCountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ids":["only-one"]}`))
	}))
	defer server.Close()

	sub, err := BuildSubmission("proj-1", "https://cdn.example.com/src.mp4", 2, nil, nil)
	require.NoError(t, err)

	_, err = newTestClient(server.URL).SubmitJob(context.Background(), sub)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 ids for 2 variations")
}

func TestSubmitJobServerErrorSurfaced(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"encoder pool exhausted"}`))
	}))
	defer server.Close()

	sub, _ := BuildSubmission("proj-1", "https://cdn.example.com/src.mp4", 1, nil, nil)
	_, err := newTestClient(server.URL).SubmitJob(context.Background(), sub)
	require.Error(t, err)
	assert.True(t, IsServerError(err))
	assert.Equal(t, "encoder pool exhausted", err.Error())
}

func TestGetJobStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/jobs/job-42", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"id": "job-42",
			"variation_id": "var-1",
			"project_id": "proj-1",
			"state": "failed",
			"progress_pct": 63,
			"created_at": "2026-01-02T03:04:05Z",
			"completed_at": "2026-01-02T03:05:05Z",
			"error": {"code": "ENCODE_FAILED", "message": "x264 exited with status 1"}
		}`))
	}))
	defer server.Close()

	job, err := newTestClient(server.URL).GetJobStatus(context.Background(), model.RealJob{ID: "job-42"})
	require.NoError(t, err)
	assert.Equal(t, model.JobStateFailed, job.State)
	assert.Equal(t, 63, job.ProgressPct)
	require.NotNil(t, job.Error)
	assert.Equal(t, "ENCODE_FAILED", job.Error.Code)
	assert.Equal(t, "x264 exited with status 1", job.Error.Message)
	assert.NotNil(t, job.CompletedAt)
	assert.Nil(t, job.Output)
}

func TestGetHistory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "7", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"jobs":[{"id":"a","state":"done","progress_pct":100}]}`))
	}))
	defer server.Close()

	resp, err := newTestClient(server.URL).GetHistory(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, resp.Jobs, 1)
	assert.Equal(t, model.JobStateDone, resp.Jobs[0].State)
}

func TestGetHistoryUnreachable(t *testing.T) {
	_, err := newTestClient(deadURL(t)).GetHistory(context.Background(), 5)
	require.Error(t, err)
	assert.True(t, IsUnreachable(err))
}

func TestNewR2ClientIncompleteConfig(t *testing.T) {
	_, err := NewR2Client(&config.R2Config{BucketName: "b"})
	assert.Error(t, err)
}
