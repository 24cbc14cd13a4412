package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adreel/studio/internal/model"
	"github.com/adreel/studio/internal/poller"
	"github.com/adreel/studio/internal/store"
)

var ErrSessionNotFound = errors.New("session not found")

const saveTimeout = 3 * time.Second

// EventPublisher fans session events out to live subscribers.
type EventPublisher interface {
	Publish(sessionID string, event model.SessionEvent)
}

// SessionManager owns the live pipelines and persists their snapshots.
type SessionManager struct {
	gateway   *RenderGateway
	poller    *poller.Poller
	store     store.SessionStore
	publisher EventPublisher

	mu       sync.Mutex
	sessions map[string]*Pipeline
}

// NewSessionManager creates a manager. publisher may be nil.
func NewSessionManager(gateway *RenderGateway, p *poller.Poller, st store.SessionStore, publisher EventPublisher) *SessionManager {
	return &SessionManager{
		gateway:   gateway,
		poller:    p,
		store:     st,
		publisher: publisher,
		sessions:  make(map[string]*Pipeline),
	}
}

// Gateway exposes the shared render gateway for session-less calls.
func (m *SessionManager) Gateway() *RenderGateway {
	return m.gateway
}

// Create starts a new session at the first step.
func (m *SessionManager) Create(ctx context.Context, projectID string) (*Pipeline, error) {
	id := uuid.New().String()
	p := NewPipeline(id, projectID, m.gateway, m.poller, m.onChange)

	if err := m.store.Save(ctx, p.Snapshot()); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	m.mu.Lock()
	m.sessions[id] = p
	m.mu.Unlock()

	log.Printf("[Sessions] created session %s", id)
	return p, nil
}

// Get returns a live session, restoring it from its snapshot when this
// process has not seen it yet.
func (m *SessionManager) Get(ctx context.Context, id string) (*Pipeline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.sessions[id]; ok {
		return p, nil
	}

	snap, err := m.store.Load(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	p, err := RestorePipeline(*snap, m.gateway, m.poller, m.onChange)
	if err != nil {
		return nil, err
	}
	m.sessions[id] = p
	log.Printf("[Sessions] restored session %s", id)
	return p, nil
}

// Delete stops the session's polling and forgets it.
func (m *SessionManager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	p, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if ok {
		p.Close()
	}
	return m.store.Delete(ctx, id)
}

// Close stops every poll loop. Snapshots stay in the store so sessions can be
// resumed by the next process.
func (m *SessionManager) Close() {
	m.mu.Lock()
	sessions := make([]*Pipeline, 0, len(m.sessions))
	for _, p := range m.sessions {
		sessions = append(sessions, p)
	}
	m.sessions = make(map[string]*Pipeline)
	m.mu.Unlock()

	for _, p := range sessions {
		p.Close()
	}
}

func (m *SessionManager) onChange(snap model.SessionSnapshot, event model.SessionEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := m.store.Save(ctx, snap); err != nil {
		log.Printf("[Sessions] failed to save session %s: %v", snap.ID, err)
	}
	if m.publisher != nil {
		m.publisher.Publish(snap.ID, event)
	}
}
