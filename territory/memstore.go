package territory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps conquests and conflicts in process memory. It is used
// when no database is configured.
type MemoryStore struct {
	mu        sync.RWMutex
	conquests []Conquest
	conflicts []TerritoryConflict
	now       func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

// Create appends a new conquest with a fresh id.
func (m *MemoryStore) Create(_ context.Context, d ConquestDraft) (Conquest, error) {
	if d.OwnerID == "" {
		return Conquest{}, fmt.Errorf("conquest owner is required")
	}
	c := Conquest{
		ID:        uuid.NewString(),
		OwnerID:   d.OwnerID,
		Mode:      d.Mode,
		Path:      append(Ring(nil), d.Path...),
		Area:      d.Area,
		Distance:  d.Distance,
		Duration:  d.Duration,
		CreatedAt: m.now().UTC(),
	}

	m.mu.Lock()
	m.conquests = append(m.conquests, c)
	m.mu.Unlock()
	return c, nil
}

// Get returns a conquest by id.
func (m *MemoryStore) Get(_ context.Context, id string) (Conquest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.conquests {
		if c.ID == id {
			return c, nil
		}
	}
	return Conquest{}, fmt.Errorf("conquest %s: %w", id, ErrNotFound)
}

// ListAll returns every conquest, oldest first.
func (m *MemoryStore) ListAll(_ context.Context) ([]Conquest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Conquest, len(m.conquests))
	copy(out, m.conquests)
	return out, nil
}

// ListByOwner returns the owner's conquests, oldest first.
func (m *MemoryStore) ListByOwner(_ context.Context, ownerID string) ([]Conquest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Conquest
	for _, c := range m.conquests {
		if c.OwnerID == ownerID {
			out = append(out, c)
		}
	}
	return out, nil
}

// CreateBatch stores all conflicts, assigning ids to those without one.
func (m *MemoryStore) CreateBatch(_ context.Context, conflicts []TerritoryConflict) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range conflicts {
		if conflicts[i].ID == "" {
			conflicts[i].ID = uuid.NewString()
		}
		if conflicts[i].CreatedAt.IsZero() {
			conflicts[i].CreatedAt = m.now().UTC()
		}
		m.conflicts = append(m.conflicts, conflicts[i])
	}
	return nil
}

// ListConflictsByVictim returns the conflicts suffered by victimID, newest first.
func (m *MemoryStore) ListConflictsByVictim(_ context.Context, victimID string) ([]TerritoryConflict, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []TerritoryConflict
	for _, c := range m.conflicts {
		if c.VictimID == victimID {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// MarkConflictRead flags a conflict as seen by its victim or by the system.
func (m *MemoryStore) MarkConflictRead(_ context.Context, id string, byVictim bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.conflicts {
		if m.conflicts[i].ID != id {
			continue
		}
		if byVictim {
			m.conflicts[i].ReadByVictim = true
		} else {
			m.conflicts[i].ReadBySystem = true
		}
		return nil
	}
	return fmt.Errorf("conflict %s: %w", id, ErrNotFound)
}
