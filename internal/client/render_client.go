package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/adreel/studio/internal/config"
	"github.com/adreel/studio/internal/model"
)

const defaultHistoryLimit = 20

// RenderBackend defines the raw operations against the render backend
type RenderBackend interface {
	CheckHealth(ctx context.Context) model.HealthStatus
	UploadAsset(ctx context.Context, asset Asset) (*model.UploadResult, error)
	SubmitJob(ctx context.Context, req *model.SubmitRequest) (*model.SubmitResponse, error)
	GetJobStatus(ctx context.Context, ref model.RealJob) (*model.RenderJob, error)
	GetHistory(ctx context.Context, limit int) (*model.HistoryResponse, error)
}

// Asset is a source file to upload. Body must be rewindable because the same
// bytes may be sent to the fallback store after a failed attempt.
type Asset struct {
	Name        string
	ContentType string
	Body        io.ReadSeeker
}

// Size returns the byte length of the asset and rewinds it.
func (a Asset) Size() (int64, error) {
	n, err := a.Body.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := a.Body.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	return n, nil
}

// RenderClient implements RenderBackend over JSON/HTTP. Each call is made
// exactly once with its own timeout; no retries happen here.
type RenderClient struct {
	httpClient    *http.Client
	baseURL       string
	healthTimeout time.Duration
	uploadTimeout time.Duration
	submitTimeout time.Duration
	pollTimeout   time.Duration
}

// NewRenderClient creates a new render backend client
func NewRenderClient(cfg *config.RenderConfig) *RenderClient {
	return &RenderClient{
		httpClient:    &http.Client{},
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		healthTimeout: orDefault(cfg.HealthTimeout, 5*time.Second),
		uploadTimeout: orDefault(cfg.UploadTimeout, 30*time.Second),
		submitTimeout: orDefault(cfg.SubmitTimeout, 15*time.Second),
		pollTimeout:   orDefault(cfg.PollTimeout, 10*time.Second),
	}
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// BaseURL returns the injected backend address
func (c *RenderClient) BaseURL() string {
	return c.baseURL
}

// CheckHealth never fails; an unreachable backend yields a degraded status
func (c *RenderClient) CheckHealth(ctx context.Context) model.HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return degradedHealth(err.Error())
	}

	var status model.HealthStatus
	err = c.doRequest("health", req, &status)
	if err == nil {
		return status
	}

	if be, ok := err.(*BackendError); ok {
		// A 503 may still carry a well-formed status body
		var reported model.HealthStatus
		if json.Unmarshal(be.Body, &reported) == nil && reported.FFmpeg != "" {
			reported.OK = false
			return reported
		}
	}
	return degradedHealth(err.Error())
}

func degradedHealth(msg string) model.HealthStatus {
	return model.HealthStatus{
		OK:     false,
		FFmpeg: model.FFmpegUnavailable,
		Error:  msg,
	}
}

// UploadAsset sends the asset as multipart form field "file"
func (c *RenderClient) UploadAsset(ctx context.Context, asset Asset) (*model.UploadResult, error) {
	if asset.Body == nil {
		return nil, &ValidationError{Field: "file", Message: "file is required"}
	}
	if _, err := asset.Body.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind asset: %w", err)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	partHeader := make(textproto.MIMEHeader)
	partHeader.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(asset.Name)))
	contentType := asset.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	partHeader.Set("Content-Type", contentType)

	part, err := writer.CreatePart(partHeader)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, asset.Body); err != nil {
		return nil, fmt.Errorf("failed to read asset: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.uploadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var result model.UploadResult
	if err := c.doRequest("upload", req, &result); err != nil {
		if be, ok := err.(*BackendError); ok {
			switch be.StatusCode {
			case http.StatusRequestEntityTooLarge:
				be.Message = "file too large"
			case http.StatusUnsupportedMediaType:
				be.Message = "unsupported file type"
			}
		}
		return nil, err
	}

	return &result, nil
}

// BuildSubmission validates the request locally and creates count variation
// descriptors, each with a fresh correlation id and the shared source URL.
func BuildSubmission(projectID, sourceURL string, count int, analysis, blueprint json.RawMessage) (*model.SubmitRequest, error) {
	if strings.TrimSpace(sourceURL) == "" {
		return nil, &ValidationError{Field: "source_url", Message: "source URL is required"}
	}
	if count < 1 {
		return nil, &ValidationError{Field: "variation_count", Message: "at least one variation is required"}
	}

	variations := make([]model.Variation, count)
	for i := range variations {
		variations[i] = model.Variation{
			ID: uuid.New().String(),
			Data: model.VariationData{
				SourceURL: sourceURL,
				Analysis:  analysis,
				Blueprint: blueprint,
			},
		}
	}

	return &model.SubmitRequest{
		ProjectID:  projectID,
		Variations: variations,
	}, nil
}

// SubmitJob posts a prepared submission and returns one id per variation
func (c *RenderClient) SubmitJob(ctx context.Context, sub *model.SubmitRequest) (*model.SubmitResponse, error) {
	if err := validateSubmission(sub); err != nil {
		return nil, err
	}

	bodyBytes, err := json.Marshal(sub)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.submitTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/jobs", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var result model.SubmitResponse
	if err := c.doRequest("submit", req, &result); err != nil {
		return nil, err
	}

	if len(result.IDs) != len(sub.Variations) {
		return nil, fmt.Errorf("render backend returned %d ids for %d variations", len(result.IDs), len(sub.Variations))
	}

	return &result, nil
}

func validateSubmission(sub *model.SubmitRequest) error {
	if sub == nil || len(sub.Variations) == 0 {
		return &ValidationError{Field: "variation_count", Message: "at least one variation is required"}
	}
	for _, v := range sub.Variations {
		if strings.TrimSpace(v.Data.SourceURL) == "" {
			return &ValidationError{Field: "source_url", Message: "source URL is required"}
		}
	}
	return nil
}

// GetJobStatus fetches one job. Only real jobs can be routed here.
func (c *RenderClient) GetJobStatus(ctx context.Context, ref model.RealJob) (*model.RenderJob, error) {
	if ref.ID == "" {
		return nil, &ValidationError{Field: "job_id", Message: "job id is required"}
	}

	ctx, cancel := context.WithTimeout(ctx, c.pollTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/jobs/"+url.PathEscape(ref.ID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var job model.RenderJob
	if err := c.doRequest("poll", req, &job); err != nil {
		return nil, err
	}
	if job.ID == "" {
		job.ID = ref.ID
	}
	job.Synthetic = false

	return &job, nil
}

// GetHistory lists recent jobs for the backlog view
func (c *RenderClient) GetHistory(ctx context.Context, limit int) (*model.HistoryResponse, error) {
	if limit < 1 {
		limit = defaultHistoryLimit
	}

	ctx, cancel := context.WithTimeout(ctx, c.pollTimeout)
	defer cancel()

	endpoint := c.baseURL + "/jobs?limit=" + strconv.Itoa(limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var result model.HistoryResponse
	if err := c.doRequest("history", req, &result); err != nil {
		return nil, err
	}
	if result.Jobs == nil {
		result.Jobs = []model.RenderJob{}
	}

	return &result, nil
}

// doRequest executes an HTTP request and parses the response
func (c *RenderClient) doRequest(op string, req *http.Request, result interface{}) error {
	log.Printf("[Render API] → %s %s", req.Method, req.URL.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[Render API] ✗ %s %s: request failed: %v", req.Method, req.URL.String(), err)
		return &UnreachableError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Printf("[Render API] ✗ %s %s: failed to read response: %v", req.Method, req.URL.String(), err)
		return &UnreachableError{Op: op, Err: err}
	}

	log.Printf("[Render API] ← %d %s %s", resp.StatusCode, req.Method, req.URL.String())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newBackendError(resp.StatusCode, respBody)
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		log.Printf("[Render API] ✗ unmarshal error for %s %s: %v (body: %s)", req.Method, req.URL.String(), err, string(respBody))
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}

// newBackendError keeps the backend's message: the JSON "error" or "message"
// field when present, otherwise the raw body text.
func newBackendError(status int, body []byte) *BackendError {
	var parsed struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}

	msg := ""
	if json.Unmarshal(body, &parsed) == nil {
		var s string
		if len(parsed.Error) > 0 && json.Unmarshal(parsed.Error, &s) == nil && s != "" {
			msg = s
		} else if len(parsed.Error) > 0 {
			// Envelope form: {"error":{"message":"..."}}
			var nested struct {
				Message string `json:"message"`
			}
			if json.Unmarshal(parsed.Error, &nested) == nil {
				msg = nested.Message
			}
		}
		if msg == "" {
			msg = parsed.Message
		}
	}
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if msg == "" {
		msg = http.StatusText(status)
	}

	return &BackendError{
		StatusCode: status,
		Message:    msg,
		Body:       body,
	}
}

func escapeQuotes(s string) string {
	return strings.NewReplacer("\\", "\\\\", `"`, "\\\"").Replace(s)
}
