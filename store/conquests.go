package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/kwv/turfwar/territory"
)

const conquestColumns = `id, owner_id, mode, path, area, distance, duration, created_at`

// Create inserts a conquest built from the draft and returns it with its id.
func (db *DB) Create(ctx context.Context, d territory.ConquestDraft) (territory.Conquest, error) {
	if d.OwnerID == "" {
		return territory.Conquest{}, fmt.Errorf("conquest owner is required")
	}
	path, err := encodePath(d.Path)
	if err != nil {
		return territory.Conquest{}, err
	}

	c := territory.Conquest{
		ID:        uuid.NewString(),
		OwnerID:   d.OwnerID,
		Mode:      d.Mode,
		Path:      d.Path,
		Area:      d.Area,
		Distance:  d.Distance,
		Duration:  d.Duration,
		CreatedAt: db.now().UTC().Truncate(time.Millisecond),
	}
	if c.Mode == "" {
		c.Mode = territory.ModeDominio
	}

	var duration sql.NullInt64
	if d.Duration != nil {
		duration = sql.NullInt64{Int64: *d.Duration, Valid: true}
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO conquests (`+conquestColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.OwnerID, string(c.Mode), path, c.Area, c.Distance, duration, c.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return territory.Conquest{}, fmt.Errorf("inserting conquest: %w", err)
	}
	return c, nil
}

// Get returns a conquest by id.
func (db *DB) Get(ctx context.Context, id string) (territory.Conquest, error) {
	row := db.QueryRowContext(ctx, `SELECT `+conquestColumns+` FROM conquests WHERE id = ?`, id)
	c, err := scanConquest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return territory.Conquest{}, fmt.Errorf("conquest %s: %w", id, territory.ErrNotFound)
	}
	return c, err
}

// ListAll returns every conquest, oldest first.
func (db *DB) ListAll(ctx context.Context) ([]territory.Conquest, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+conquestColumns+` FROM conquests ORDER BY created_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("listing conquests: %w", err)
	}
	return collectConquests(rows)
}

// ListByOwner returns one player's conquests, oldest first.
func (db *DB) ListByOwner(ctx context.Context, ownerID string) ([]territory.Conquest, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+conquestColumns+` FROM conquests WHERE owner_id = ? ORDER BY created_at, rowid`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing conquests for %s: %w", ownerID, err)
	}
	return collectConquests(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConquest(s scanner) (territory.Conquest, error) {
	var (
		c         territory.Conquest
		mode      string
		path      string
		duration  sql.NullInt64
		createdAt int64
	)
	if err := s.Scan(&c.ID, &c.OwnerID, &mode, &path, &c.Area, &c.Distance, &duration, &createdAt); err != nil {
		return territory.Conquest{}, err
	}
	c.Mode = territory.CaptureMode(mode)
	if duration.Valid {
		d := duration.Int64
		c.Duration = &d
	}
	c.CreatedAt = time.UnixMilli(createdAt).UTC()

	// An unreadable path leaves the conquest listed with no polygon, so
	// conflict detection skips it as an invalid rival.
	ring, err := decodePath(path)
	if err != nil {
		log.Printf("[STORE] conquest %s has an unreadable path: %v", c.ID, err)
		return c, nil
	}
	c.Path = ring
	return c, nil
}

func collectConquests(rows *sql.Rows) ([]territory.Conquest, error) {
	defer rows.Close()
	var out []territory.Conquest
	for rows.Next() {
		c, err := scanConquest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// encodePath stores a ring as JSON [[lat, lng], ...].
func encodePath(r territory.Ring) (string, error) {
	pairs := make([][2]float64, len(r))
	for i, p := range r {
		pairs[i] = [2]float64{p.Lat, p.Lng}
	}
	data, err := json.Marshal(pairs)
	if err != nil {
		return "", fmt.Errorf("encoding path: %w", err)
	}
	return string(data), nil
}

// decodePath reads a stored path. Paths saved without the closing point are
// closed on the way out.
func decodePath(s string) (territory.Ring, error) {
	var pairs [][2]float64
	if err := json.Unmarshal([]byte(s), &pairs); err != nil {
		return nil, fmt.Errorf("decoding path: %w", err)
	}
	points := make([]territory.GeoPoint, len(pairs))
	for i, p := range pairs {
		points[i] = territory.GeoPoint{Lat: p[0], Lng: p[1]}
	}
	return territory.RingFromPoints(points), nil
}
