package model

import "time"

// JobState is a render job's position in the backend-defined lifecycle.
type JobState string

const (
	JobStateQueued      JobState = "queued"
	JobStatePreparing   JobState = "preparing"
	JobStateDownloading JobState = "downloading"
	JobStateProcessing  JobState = "processing"
	JobStateEncoding    JobState = "encoding"
	JobStateMuxing      JobState = "muxing"
	JobStateFinalizing  JobState = "finalizing"
	JobStateDone        JobState = "done"
	JobStateFailed      JobState = "failed"
)

// LifecycleOrder lists the states in expected forward order. Failed is
// reachable from any non-terminal state and has no position.
var LifecycleOrder = []JobState{
	JobStateQueued,
	JobStatePreparing,
	JobStateDownloading,
	JobStateProcessing,
	JobStateEncoding,
	JobStateMuxing,
	JobStateFinalizing,
	JobStateDone,
}

// IsTerminal reports whether no further transition is possible.
func (s JobState) IsTerminal() bool {
	return s == JobStateDone || s == JobStateFailed
}

// Valid reports whether s is one of the known lifecycle states.
func (s JobState) Valid() bool {
	return s == JobStateFailed || s.Ordinal() >= 0
}

// Ordinal returns the index of s in LifecycleOrder, or -1.
func (s JobState) Ordinal() int {
	for i, st := range LifecycleOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// JobOutput locates the rendered result. Only present on done jobs.
type JobOutput struct {
	URL      string  `json:"url"`
	Size     int64   `json:"size"`
	Duration float64 `json:"duration"`
}

// JobError is the backend's failure report. Code and Message are shown as is.
type JobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RenderJob is one snapshot of a requested variation.
type RenderJob struct {
	ID          string     `json:"id"`
	VariationID string     `json:"variation_id"`
	ProjectID   string     `json:"project_id"`
	State       JobState   `json:"state"`
	ProgressPct int        `json:"progress_pct"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Output      *JobOutput `json:"output,omitempty"`
	Error       *JobError  `json:"error,omitempty"`
	Synthetic   bool       `json:"synthetic,omitempty"`
}

// NewSubmittedJob is the snapshot created the moment a submission is accepted,
// before the first poll.
func NewSubmittedJob(ref JobRef, variationID, projectID string, now time.Time) RenderJob {
	_, synthetic := ref.(SyntheticJob)
	return RenderJob{
		ID:          ref.JobID(),
		VariationID: variationID,
		ProjectID:   projectID,
		State:       JobStateQueued,
		CreatedAt:   now,
		Synthetic:   synthetic,
	}
}

// Ref returns the routing variant for this job. A preview id is synthetic
// whether or not the flag survived the trip through JSON.
func (j RenderJob) Ref() JobRef {
	if j.Synthetic {
		return SyntheticJob{ID: j.ID}
	}
	return ParseJobRef(j.ID)
}

func (j RenderJob) IsTerminal() bool {
	return j.State.IsTerminal()
}

// Merge folds a freshly polled snapshot over the previous one. The new snapshot
// wins entirely; interior fields only make sense next to their own state.
// ok is false when the ids differ, in which case prev is returned untouched.
func Merge(prev, next RenderJob) (RenderJob, bool) {
	if prev.ID != next.ID {
		return prev, false
	}
	return next, true
}

// BatchResolved reports whether every job is terminal. An empty batch is resolved.
func BatchResolved(jobs []RenderJob) bool {
	for _, j := range jobs {
		if !j.IsTerminal() {
			return false
		}
	}
	return true
}

// Pending returns the number of non-terminal jobs.
func Pending(jobs []RenderJob) int {
	n := 0
	for _, j := range jobs {
		if !j.IsTerminal() {
			n++
		}
	}
	return n
}
