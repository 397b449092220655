package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kwv/turfwar/territory"
)

// CreateBatch inserts all conflicts in one transaction. Conflicts without an
// id get one assigned in place.
func (db *DB) CreateBatch(ctx context.Context, conflicts []territory.TerritoryConflict) error {
	if len(conflicts) == 0 {
		return nil
	}
	return db.inTx(func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO territory_conflicts
			(id, invader_id, victim_id, conquest_id, victim_conquest_id, area_invaded,
			 latitude, longitude, label, read_by_victim, read_by_system, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("preparing conflict insert: %w", err)
		}
		defer stmt.Close()

		for i := range conflicts {
			c := &conflicts[i]
			if c.ID == "" {
				c.ID = uuid.NewString()
			}
			if c.CreatedAt.IsZero() {
				c.CreatedAt = db.now().UTC()
			}
			var lat, lng sql.NullFloat64
			if c.Location != nil {
				lat = sql.NullFloat64{Float64: c.Location.Lat, Valid: true}
				lng = sql.NullFloat64{Float64: c.Location.Lng, Valid: true}
			}
			_, err := stmt.ExecContext(ctx,
				c.ID, c.InvaderID, c.VictimID, c.ConquestID, nullString(c.VictimConquestID), c.AreaInvaded,
				lat, lng, nullString(c.Label), c.ReadByVictim, c.ReadBySystem, c.CreatedAt.UnixMilli(),
			)
			if err != nil {
				return fmt.Errorf("inserting conflict %d of %d: %w", i+1, len(conflicts), err)
			}
		}
		return nil
	})
}

// ListConflictsByVictim returns the conflicts suffered by victimID, newest first.
func (db *DB) ListConflictsByVictim(ctx context.Context, victimID string) ([]territory.TerritoryConflict, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, invader_id, victim_id, conquest_id, victim_conquest_id,
		area_invaded, latitude, longitude, label, read_by_victim, read_by_system, created_at
		FROM territory_conflicts WHERE victim_id = ? ORDER BY created_at DESC, rowid DESC`, victimID)
	if err != nil {
		return nil, fmt.Errorf("listing conflicts for %s: %w", victimID, err)
	}
	defer rows.Close()

	var out []territory.TerritoryConflict
	for rows.Next() {
		var (
			c              territory.TerritoryConflict
			victimConquest sql.NullString
			label          sql.NullString
			lat, lng       sql.NullFloat64
			createdAt      int64
		)
		if err := rows.Scan(&c.ID, &c.InvaderID, &c.VictimID, &c.ConquestID, &victimConquest,
			&c.AreaInvaded, &lat, &lng, &label, &c.ReadByVictim, &c.ReadBySystem, &createdAt); err != nil {
			return nil, err
		}
		c.VictimConquestID = victimConquest.String
		c.Label = label.String
		if lat.Valid && lng.Valid {
			c.Location = &territory.GeoPoint{Lat: lat.Float64, Lng: lng.Float64}
		}
		c.CreatedAt = time.UnixMilli(createdAt).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

// MarkConflictRead flags a conflict as seen by its victim or by the system.
func (db *DB) MarkConflictRead(ctx context.Context, id string, byVictim bool) error {
	column := "read_by_system"
	if byVictim {
		column = "read_by_victim"
	}
	res, err := db.ExecContext(ctx, `UPDATE territory_conflicts SET `+column+` = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("marking conflict %s read: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("conflict %s: %w", id, territory.ErrNotFound)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
