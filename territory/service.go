package territory

import (
	"context"
	"fmt"
	"log"
)

// ConquestStore persists claims. Conquests are append-only.
type ConquestStore interface {
	Create(ctx context.Context, draft ConquestDraft) (Conquest, error)
	ListAll(ctx context.Context) ([]Conquest, error)
	ListByOwner(ctx context.Context, ownerID string) ([]Conquest, error)
}

// ConflictStore persists detected conflicts. CreateBatch assigns ids in place.
type ConflictStore interface {
	CreateBatch(ctx context.Context, conflicts []TerritoryConflict) error
}

// Store is the full persistence surface used by the service and the HTTP API.
type Store interface {
	ConquestStore
	ConflictStore
	Get(ctx context.Context, id string) (Conquest, error)
	ListConflictsByVictim(ctx context.Context, victimID string) ([]TerritoryConflict, error)
	MarkConflictRead(ctx context.Context, id string, byVictim bool) error
}

// Notifier is told about new conquests and conflicts after they are saved.
type Notifier interface {
	ConquestCreated(c Conquest) error
	ConflictsDetected(conflicts []TerritoryConflict) error
}

// SubmitResult is the outcome of saving a finalized claim.
type SubmitResult struct {
	Conquest  Conquest            `json:"conquest"`
	Conflicts []TerritoryConflict `json:"conflicts"`
}

// ConquestService saves a finalized claim and records the conflicts it causes.
type ConquestService struct {
	conquests ConquestStore
	conflicts ConflictStore
	detector  ConflictDetector
	notifier  Notifier
	cellSize  float64
}

// NewConquestService wires the stores together. notifier may be nil.
func NewConquestService(conquests ConquestStore, conflicts ConflictStore, th Thresholds, notifier Notifier) *ConquestService {
	return &ConquestService{
		conquests: conquests,
		conflicts: conflicts,
		detector:  NewConflictDetector(th),
		notifier:  notifier,
		cellSize:  DefaultCellDegrees,
	}
}

// Submit persists the draft, then checks it against every other player's
// conquests. Only the conquest save can fail the call; conflict detection
// and conflict persistence problems are logged and never undo the conquest.
func (s *ConquestService) Submit(ctx context.Context, draft ConquestDraft) (SubmitResult, error) {
	if !draft.Path.Valid() || draft.Area <= 0 {
		return SubmitResult{}, fmt.Errorf("%w: %d points, %d m²", ErrInvalidPolygon, len(draft.Path), draft.Area)
	}

	c, err := s.conquests.Create(ctx, draft)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("saving conquest: %w", err)
	}
	res := SubmitResult{Conquest: c}

	if s.notifier != nil {
		if err := s.notifier.ConquestCreated(c); err != nil {
			log.Printf("[MQTT] publishing conquest %s: %v", c.ID, err)
		}
	}

	res.Conflicts = s.detect(ctx, c)
	if len(res.Conflicts) == 0 {
		return res, nil
	}

	if err := s.conflicts.CreateBatch(ctx, res.Conflicts); err != nil {
		log.Printf("[CONFLICT] saving %d conflicts for conquest %s: %v", len(res.Conflicts), c.ID, err)
		return res, nil
	}
	log.Printf("[CONFLICT] conquest %s by %s invaded %d rival claims", c.ID, c.OwnerID, len(res.Conflicts))

	if s.notifier != nil {
		if err := s.notifier.ConflictsDetected(res.Conflicts); err != nil {
			log.Printf("[MQTT] publishing conflicts for conquest %s: %v", c.ID, err)
		}
	}
	return res, nil
}

func (s *ConquestService) detect(ctx context.Context, c Conquest) (conflicts []TerritoryConflict) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[CONFLICT] detection for conquest %s aborted: %v", c.ID, r)
			conflicts = nil
		}
	}()

	all, err := s.conquests.ListAll(ctx)
	if err != nil {
		log.Printf("[CONFLICT] listing rivals for conquest %s: %v", c.ID, err)
		return nil
	}
	rivals := RivalsFrom(all, c.ID)
	idx := NewSpatialIndex(rivals, s.cellSize)
	return s.detector.DetectConflictsIndexed(c.Path, c.OwnerID, c.ID, idx)
}

// RivalsFrom converts stored conquests into rival polygons, leaving out excludeID.
func RivalsFrom(conquests []Conquest, excludeID string) []RivalPolygon {
	rivals := make([]RivalPolygon, 0, len(conquests))
	for _, c := range conquests {
		if c.ID == excludeID {
			continue
		}
		rivals = append(rivals, RivalPolygon{OwnerID: c.OwnerID, ConquestID: c.ID, Ring: c.Path})
	}
	return rivals
}
