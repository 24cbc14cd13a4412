package model

import "encoding/json"

const (
	FFmpegReady       = "ready"
	FFmpegUnavailable = "unavailable"
)

// HealthStatus is the render backend's self report.
type HealthStatus struct {
	OK     bool   `json:"ok"`
	FFmpeg string `json:"ffmpeg"`
	Error  string `json:"error,omitempty"`
}

// VariationData is the per-variation payload. Analysis and Blueprint are
// correlation context produced by external services and never interpreted here.
type VariationData struct {
	SourceURL string          `json:"source_url" validate:"required"`
	Analysis  json.RawMessage `json:"analysis,omitempty"`
	Blueprint json.RawMessage `json:"blueprint,omitempty"`
}

// Variation is one requested render unit.
type Variation struct {
	ID   string        `json:"id" validate:"required"`
	Data VariationData `json:"data"`
}

// SubmitRequest is the body of POST /jobs.
type SubmitRequest struct {
	ProjectID  string      `json:"project_id"`
	Variations []Variation `json:"variations"`
}

// SubmitResponse is the reply of POST /jobs; ids are positional with variations.
type SubmitResponse struct {
	IDs []string `json:"ids"`
}

// HistoryResponse is the reply of GET /jobs.
type HistoryResponse struct {
	Jobs []RenderJob `json:"jobs"`
}
