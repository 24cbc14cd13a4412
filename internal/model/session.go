package model

import (
	"encoding/json"
	"time"

	"github.com/adreel/studio/internal/wizard"
)

// SessionSnapshot is everything needed to rebuild a studio session.
type SessionSnapshot struct {
	ID        string          `json:"id"`
	ProjectID string          `json:"projectId,omitempty"`
	Wizard    wizard.State    `json:"wizard"`
	Source    *UploadResult   `json:"source,omitempty"`
	Analysis  json.RawMessage `json:"analysis,omitempty"`
	Blueprint json.RawMessage `json:"blueprint,omitempty"`
	Preview   bool            `json:"preview"`
	Jobs      []RenderJob     `json:"jobs"`
	Polling   bool            `json:"polling"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// JobView is a job snapshot plus how many poll cycles in a row failed to
// refresh it.
type JobView struct {
	RenderJob
	StalledCycles int `json:"stalled_cycles"`
}

// Session event types
const (
	SessionEventWizard   = "wizard"
	SessionEventJobs     = "jobs"
	SessionEventResolved = "resolved"
	SessionEventReset    = "reset"
)

// SessionEvent is pushed to subscribers whenever a session changes.
type SessionEvent struct {
	Type      string        `json:"type"`
	SessionID string        `json:"sessionId"`
	Wizard    *wizard.State `json:"wizard,omitempty"`
	Jobs      []JobView     `json:"jobs,omitempty"`
	Preview   bool          `json:"preview,omitempty"`
}

// CreateSessionRequest represents the request body for POST /api/sessions
type CreateSessionRequest struct {
	ProjectID string `json:"projectId" validate:"omitempty,max=128"`
}

// AnalysisRequest carries the analysis produced for the uploaded source
type AnalysisRequest struct {
	Analysis json.RawMessage `json:"analysis" validate:"required"`
}

// StrategyRequest carries the chosen creative blueprint
type StrategyRequest struct {
	Blueprint json.RawMessage `json:"blueprint" validate:"required"`
}

// SubmitBatchRequest asks for a batch of variations of the approved source
type SubmitBatchRequest struct {
	VariationCount int `json:"variationCount" validate:"required,max=20"`
}

// StepRequest names a wizard step by number
type StepRequest struct {
	Step int `json:"step" validate:"required,min=1,max=6"`
}

// NavigateResponse reports whether navigation happened and the resulting state
type NavigateResponse struct {
	Navigated bool         `json:"navigated"`
	Wizard    wizard.State `json:"wizard"`
}

// SubmitBatchResponse lists the job ids of an accepted batch
type SubmitBatchResponse struct {
	JobIDs       []string `json:"jobIds"`
	VariationIDs []string `json:"variationIds"`
	Preview      bool     `json:"preview"`
}

// SessionJobsResponse is the job list of one session
type SessionJobsResponse struct {
	Jobs    []JobView `json:"jobs"`
	Polling bool      `json:"polling"`
}
