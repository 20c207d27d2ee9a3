package db

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/banshee-data/uwb.follow/internal/zones"
)

// ZoneStore is a zones.Repository backed by the zones table. Rows keep
// insertion order through the autoincrement seq column.
type ZoneStore struct {
	db  *DB
	tol zones.Tolerance
}

// Zones returns a repository over db matching with tol.
func (db *DB) Zones(tol zones.Tolerance) *ZoneStore {
	return &ZoneStore{db: db, tol: tol}
}

func (s *ZoneStore) Add(z zones.Zone) (zones.Zone, error) {
	if err := z.Validate(); err != nil {
		return zones.Zone{}, err
	}
	if z.ID == "" {
		z.ID = uuid.NewString()
	}
	if _, err := s.db.Exec(
		`INSERT INTO zones (zone_id, name, angle, distance, volume) VALUES (?, ?, ?, ?, ?)`,
		z.ID, z.Name, z.Angle, z.Distance, z.Volume,
	); err != nil {
		return zones.Zone{}, fmt.Errorf("insert zone %q: %w", z.Name, err)
	}
	return z, nil
}

func (s *ZoneStore) Remove(name string) error {
	if _, err := s.db.Exec(`DELETE FROM zones WHERE name = ?`, name); err != nil {
		return fmt.Errorf("delete zone %q: %w", name, err)
	}
	return nil
}

func (s *ZoneStore) List() ([]zones.Zone, error) {
	rows, err := s.db.Query(`SELECT zone_id, name, angle, distance, volume FROM zones ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list zones: %w", err)
	}
	defer rows.Close()

	out := []zones.Zone{}
	for rows.Next() {
		var z zones.Zone
		if err := rows.Scan(&z.ID, &z.Name, &z.Angle, &z.Distance, &z.Volume); err != nil {
			return nil, err
		}
		out = append(out, z)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *ZoneStore) Match(angle, distance float64) (zones.Zone, bool, error) {
	var z zones.Zone
	err := s.db.QueryRow(
		`SELECT zone_id, name, angle, distance, volume FROM zones
		 WHERE ABS(angle - ?) <= ? AND ABS(distance - ?) <= ?
		 ORDER BY seq LIMIT 1`,
		angle, s.tol.Angle, distance, s.tol.Distance,
	).Scan(&z.ID, &z.Name, &z.Angle, &z.Distance, &z.Volume)
	if err == sql.ErrNoRows {
		return zones.Zone{}, false, nil
	}
	if err != nil {
		return zones.Zone{}, false, fmt.Errorf("match zone: %w", err)
	}
	return z, true, nil
}

// Seed inserts zs, in order, only when the table is empty. It returns the
// number of zones inserted.
func (s *ZoneStore) Seed(zs []zones.Zone) (int, error) {
	if len(zs) == 0 {
		return 0, nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin seed: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var count int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM zones`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count zones: %w", err)
	}
	if count > 0 {
		return 0, nil
	}

	for _, z := range zs {
		if err := z.Validate(); err != nil {
			return 0, fmt.Errorf("seed zone %q: %w", z.Name, err)
		}
		if z.ID == "" {
			z.ID = uuid.NewString()
		}
		if _, err := tx.Exec(
			`INSERT INTO zones (zone_id, name, angle, distance, volume) VALUES (?, ?, ?, ?, ?)`,
			z.ID, z.Name, z.Angle, z.Distance, z.Volume,
		); err != nil {
			return 0, fmt.Errorf("seed zone %q: %w", z.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit seed: %w", err)
	}
	return len(zs), nil
}
