package model

import "strings"

// PreviewPrefix marks job ids that were synthesized locally and never
// dispatched to a render backend. It only exists on the wire; in memory a
// synthetic job is always a SyntheticJob.
const PreviewPrefix = "preview_"

// JobRef identifies a job together with how it may be resolved.
type JobRef interface {
	JobID() string
	jobRef()
}

// RealJob was accepted by the render backend and can be polled there.
type RealJob struct {
	ID string
}

func (r RealJob) JobID() string { return r.ID }
func (RealJob) jobRef()         {}

// SyntheticJob was produced in preview mode and must never reach the network.
type SyntheticJob struct {
	ID string
}

func (s SyntheticJob) JobID() string { return s.ID }
func (SyntheticJob) jobRef()         {}

// NewSyntheticJob derives a preview job from a variation correlation id.
func NewSyntheticJob(correlationID string) SyntheticJob {
	return SyntheticJob{ID: PreviewPrefix + correlationID}
}

// ParseJobRef restores a ref from its wire form.
func ParseJobRef(id string) JobRef {
	if strings.HasPrefix(id, PreviewPrefix) {
		return SyntheticJob{ID: id}
	}
	return RealJob{ID: id}
}
