package territory

import (
	"context"
	"fmt"
	"log"
	"sync"
)

// ProviderFunc resolves the location provider for a player.
type ProviderFunc func(ownerID string) (LocationProvider, error)

// SessionManager owns one TrackingSession per player.
//
// A finalized draft whose save fails is kept and retried by the next
// Finalize call for that player, so a failed save never loses the walk.
type SessionManager struct {
	providers ProviderFunc
	service   *ConquestService
	opts      SessionOptions

	mu       sync.Mutex
	sessions map[string]*TrackingSession
	pending  map[string]ConquestDraft
}

// NewSessionManager creates a manager. Sessions are created lazily.
func NewSessionManager(providers ProviderFunc, service *ConquestService, opts SessionOptions) *SessionManager {
	return &SessionManager{
		providers: providers,
		service:   service,
		opts:      opts,
		sessions:  make(map[string]*TrackingSession),
		pending:   make(map[string]ConquestDraft),
	}
}

// Session returns the player's session, creating it on first use.
func (m *SessionManager) Session(ownerID string) (*TrackingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[ownerID]; ok {
		return s, nil
	}
	p, err := m.providers(ownerID)
	if err != nil {
		return nil, fmt.Errorf("location provider for %s: %w", ownerID, err)
	}
	s := NewTrackingSession(ownerID, p, m.opts)
	m.sessions[ownerID] = s
	return s, nil
}

// Start begins a recording for the player.
func (m *SessionManager) Start(ctx context.Context, ownerID string, mode CaptureMode) (Snapshot, error) {
	s, err := m.Session(ownerID)
	if err != nil {
		return Snapshot{}, err
	}
	if err := s.Start(ctx, mode); err != nil {
		return s.Snapshot(ctx), err
	}
	return s.Snapshot(ctx), nil
}

// Finalize closes the player's recording and saves the claim. If an earlier
// save failed, that draft is retried instead and no recording is required.
func (m *SessionManager) Finalize(ctx context.Context, ownerID string) (SubmitResult, error) {
	if draft, ok := m.takePending(ownerID); ok {
		log.Printf("[SESSION] retrying unsaved claim for %s", ownerID)
		return m.submit(ctx, draft)
	}

	s, err := m.Session(ownerID)
	if err != nil {
		return SubmitResult{}, err
	}
	draft, err := s.Finalize(ctx)
	if err != nil {
		return SubmitResult{}, err
	}
	return m.submit(ctx, draft)
}

func (m *SessionManager) submit(ctx context.Context, draft ConquestDraft) (SubmitResult, error) {
	res, err := m.service.Submit(ctx, draft)
	if err != nil {
		m.mu.Lock()
		m.pending[draft.OwnerID] = draft
		m.mu.Unlock()
		return SubmitResult{}, err
	}
	return res, nil
}

func (m *SessionManager) takePending(ownerID string) (ConquestDraft, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.pending[ownerID]
	if ok {
		delete(m.pending, ownerID)
	}
	return d, ok
}

// HasPending reports whether the player has an unsaved claim waiting for retry.
func (m *SessionManager) HasPending(ownerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pending[ownerID]
	return ok
}

// Stop discards the player's recording.
func (m *SessionManager) Stop(ownerID string) error {
	s, err := m.Session(ownerID)
	if err != nil {
		return err
	}
	return s.Stop()
}

// Snapshot returns the player's session state.
func (m *SessionManager) Snapshot(ctx context.Context, ownerID string) (Snapshot, error) {
	s, err := m.Session(ownerID)
	if err != nil {
		return Snapshot{}, err
	}
	return s.Snapshot(ctx), nil
}

// Close discards every active recording.
func (m *SessionManager) Close() {
	m.mu.Lock()
	sessions := make([]*TrackingSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		if s.Recording() {
			_ = s.Stop()
		}
	}
}
