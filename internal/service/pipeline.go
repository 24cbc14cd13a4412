package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/adreel/studio/internal/client"
	"github.com/adreel/studio/internal/model"
	"github.com/adreel/studio/internal/poller"
	"github.com/adreel/studio/internal/wizard"
)

var (
	ErrBatchInFlight = errors.New("a render batch is already in progress")
	ErrEmptyPayload  = errors.New("payload must not be empty")
	ErrSessionReset  = errors.New("session was reset during submission")
)

// ChangeFunc observes every committed session change. It is called with the
// pipeline lock held, so it must not call back into the pipeline.
type ChangeFunc func(snap model.SessionSnapshot, event model.SessionEvent)

// Pipeline is one studio session: a wizard and at most one poll loop. The two
// only meet through the loop's resolved event, which completes the execute step.
type Pipeline struct {
	id        string
	projectID string
	gateway   *RenderGateway
	poller    *poller.Poller
	onChange  ChangeFunc
	now       func() time.Time

	mu         sync.Mutex
	wizard     *wizard.Wizard
	source     *model.UploadResult
	analysis   json.RawMessage
	blueprint  json.RawMessage
	preview    bool
	jobs       []model.RenderJob
	loop       *poller.Loop
	submitting bool
	gen        uint64
}

// NewPipeline creates an empty session at the first step.
func NewPipeline(id, projectID string, gateway *RenderGateway, p *poller.Poller, onChange ChangeFunc) *Pipeline {
	return &Pipeline{
		id:        id,
		projectID: projectID,
		gateway:   gateway,
		poller:    p,
		onChange:  onChange,
		now:       time.Now,
		wizard:    wizard.New(),
		jobs:      []model.RenderJob{},
	}
}

// RestorePipeline rebuilds a session from its snapshot and resumes polling
// when the saved batch was still unresolved.
func RestorePipeline(snap model.SessionSnapshot, gateway *RenderGateway, p *poller.Poller, onChange ChangeFunc) (*Pipeline, error) {
	w, err := wizard.Restore(snap.Wizard)
	if err != nil {
		return nil, fmt.Errorf("failed to restore session %s: %w", snap.ID, err)
	}

	pl := NewPipeline(snap.ID, snap.ProjectID, gateway, p, onChange)
	pl.wizard = w
	pl.source = snap.Source
	pl.analysis = snap.Analysis
	pl.blueprint = snap.Blueprint
	pl.preview = snap.Preview
	if snap.Jobs != nil {
		pl.jobs = snap.Jobs
	}

	if !model.BatchResolved(pl.jobs) {
		pl.mu.Lock()
		pl.startLoopLocked()
		pl.mu.Unlock()
		log.Printf("[Pipeline] session %s resumed polling %d pending jobs", pl.id, model.Pending(pl.jobs))
	}
	return pl, nil
}

func (p *Pipeline) ID() string {
	return p.id
}

// UploadSource uploads the source video and completes the input step.
func (p *Pipeline) UploadSource(ctx context.Context, asset client.Asset) (*model.UploadResult, error) {
	result, err := p.gateway.Upload(ctx, asset)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.source = result
	if err := p.wizard.Complete(wizard.StepInput); err != nil {
		return nil, err
	}
	p.notifyLocked(model.SessionEventWizard)
	return result, nil
}

// SetAnalysis stores the analysis produced upstream and completes the analyze step.
func (p *Pipeline) SetAnalysis(analysis json.RawMessage) error {
	return p.storeStep(wizard.StepAnalyze, analysis, &p.analysis)
}

// SetStrategy stores the chosen blueprint and completes the strategy step.
func (p *Pipeline) SetStrategy(blueprint json.RawMessage) error {
	return p.storeStep(wizard.StepStrategy, blueprint, &p.blueprint)
}

func (p *Pipeline) storeStep(step wizard.Step, payload json.RawMessage, dst *json.RawMessage) error {
	if len(payload) == 0 {
		return &client.ValidationError{Field: step.String(), Message: ErrEmptyPayload.Error()}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.wizard.Complete(step); err != nil {
		return err
	}
	*dst = append(json.RawMessage(nil), payload...)
	p.notifyLocked(model.SessionEventWizard)
	return nil
}

// ApproveReview completes the review step.
func (p *Pipeline) ApproveReview() error {
	return p.CompleteStep(wizard.StepReview)
}

// CompleteStep marks step complete without any payload.
func (p *Pipeline) CompleteStep(step wizard.Step) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.wizard.Complete(step); err != nil {
		return err
	}
	p.notifyLocked(model.SessionEventWizard)
	return nil
}

// Navigate moves the wizard. Unreachable steps are ignored.
func (p *Pipeline) Navigate(step wizard.Step) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.wizard.Navigate(step) {
		return false
	}
	p.notifyLocked(model.SessionEventWizard)
	return true
}

// Submit sends variationCount variations of the approved source to the render
// backend and starts polling them.
func (p *Pipeline) Submit(ctx context.Context, variationCount int) (*Submission, error) {
	p.mu.Lock()
	if !p.wizard.Reachable(wizard.StepExecute) {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", wizard.ErrStepLocked, wizard.StepExecute)
	}
	if p.loop != nil || p.submitting {
		p.mu.Unlock()
		return nil, ErrBatchInFlight
	}
	opts := SubmitOptions{
		ProjectID:      p.projectID,
		VariationCount: variationCount,
		Analysis:       p.analysis,
		Blueprint:      p.blueprint,
	}
	if p.source != nil {
		opts.SourceURL = p.source.URL
	}
	gen := p.gen
	p.submitting = true
	p.mu.Unlock()

	sub, err := p.gateway.Submit(ctx, opts)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != gen {
		return nil, ErrSessionReset
	}
	p.submitting = false
	if err != nil {
		return nil, err
	}

	p.preview = sub.Preview
	p.jobs = sub.Jobs(p.now())
	p.startLoopLocked()
	p.notifyLocked(model.SessionEventJobs)

	log.Printf("[Pipeline] session %s submitted %d variations (preview=%v)", p.id, len(sub.Refs), sub.Preview)
	return sub, nil
}

func (p *Pipeline) startLoopLocked() {
	p.gen++
	gen := p.gen
	p.loop = p.poller.Start(context.Background(), p.jobs, poller.Handlers{
		OnUpdate: func(jobs []model.RenderJob) {
			p.mu.Lock()
			defer p.mu.Unlock()
			if p.gen != gen {
				return
			}
			p.jobs = jobs
			p.notifyLocked(model.SessionEventJobs)
		},
		OnResolved: func(jobs []model.RenderJob) {
			p.mu.Lock()
			defer p.mu.Unlock()
			if p.gen != gen {
				return
			}
			p.jobs = jobs
			p.loop = nil
			if err := p.wizard.Complete(wizard.StepExecute); err != nil {
				log.Printf("[Pipeline] session %s could not complete execute: %v", p.id, err)
			}
			p.notifyLocked(model.SessionEventResolved)
		},
	})
}

// Reset stops any active poll loop and returns the session to the first step.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	p.gen++
	loop := p.loop
	p.loop = nil
	p.submitting = false
	p.wizard.Reset()
	p.source = nil
	p.analysis = nil
	p.blueprint = nil
	p.preview = false
	p.jobs = []model.RenderJob{}
	p.notifyLocked(model.SessionEventReset)
	p.mu.Unlock()

	if loop != nil {
		loop.Stop()
		loop.Wait()
	}
}

// Close stops polling without touching session state.
func (p *Pipeline) Close() {
	p.mu.Lock()
	p.gen++
	loop := p.loop
	p.loop = nil
	p.submitting = false
	p.mu.Unlock()

	if loop != nil {
		loop.Stop()
		loop.Wait()
	}
}

// Polling reports whether a poll loop is active.
func (p *Pipeline) Polling() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loop != nil
}

// Jobs returns the latest job snapshots with their stall counts.
func (p *Pipeline) Jobs() []model.JobView {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.jobViewsLocked()
}

func (p *Pipeline) jobViewsLocked() []model.JobView {
	views := make([]model.JobView, len(p.jobs))
	for i, job := range p.jobs {
		views[i] = model.JobView{RenderJob: job}
		if p.loop != nil {
			views[i].StalledCycles = p.loop.StalledCycles(job.ID)
		}
	}
	return views
}

func (p *Pipeline) WizardState() wizard.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.wizard.State()
}

// Snapshot returns a copy of the full session state.
func (p *Pipeline) Snapshot() model.SessionSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *Pipeline) snapshotLocked() model.SessionSnapshot {
	snap := model.SessionSnapshot{
		ID:        p.id,
		ProjectID: p.projectID,
		Wizard:    p.wizard.State(),
		Analysis:  p.analysis,
		Blueprint: p.blueprint,
		Preview:   p.preview,
		Jobs:      append([]model.RenderJob{}, p.jobs...),
		Polling:   p.loop != nil,
		UpdatedAt: p.now(),
	}
	if p.source != nil {
		src := *p.source
		snap.Source = &src
	}
	return snap
}

func (p *Pipeline) notifyLocked(eventType string) {
	if p.onChange == nil {
		return
	}
	snap := p.snapshotLocked()
	event := model.SessionEvent{
		Type:      eventType,
		SessionID: p.id,
		Wizard:    &snap.Wizard,
		Preview:   p.preview,
	}
	if eventType != model.SessionEventWizard {
		event.Jobs = p.jobViewsLocked()
	}
	p.onChange(snap, event)
}
