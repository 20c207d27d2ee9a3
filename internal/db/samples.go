package db

import (
	"fmt"
	"time"

	"github.com/banshee-data/uwb.follow/internal/uwb"
)

// SampleRow is one recorded sample with the actuator state it produced.
type SampleRow struct {
	ID         int64     `json:"id"`
	Address    uint16    `json:"address"`
	Angle      float64   `json:"angle"`
	Distance   float64   `json:"distance"`
	Volume     int       `json:"volume"`
	Mode       string    `json:"mode"`
	ServoAngle float64   `json:"servo_angle"`
	CapturedAt time.Time `json:"captured_at"`
}

// RecordSample appends s and the resulting output level, mode and servo
// angle to the samples table.
func (db *DB) RecordSample(s uwb.DecodedSample, mode string, volume int, servoAngle float64) error {
	_, err := db.Exec(
		`INSERT INTO samples (address, angle, distance, volume, mode, servo_angle, captured_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		int(s.Address), s.Angle, s.Distance, volume, mode, servoAngle, s.CapturedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("record sample: %w", err)
	}
	return nil
}

// RecentSamples returns up to limit samples, newest first.
func (db *DB) RecentSamples(limit int) ([]SampleRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(
		`SELECT sample_id, address, angle, distance, volume, mode, servo_angle, captured_at
		 FROM samples ORDER BY captured_at DESC, sample_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	var out []SampleRow
	for rows.Next() {
		var (
			r        SampleRow
			address  int
			captured int64
		)
		if err := rows.Scan(&r.ID, &address, &r.Angle, &r.Distance, &r.Volume, &r.Mode, &r.ServoAngle, &captured); err != nil {
			return nil, err
		}
		r.Address = uint16(address)
		r.CapturedAt = time.Unix(0, captured).UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// PruneSamples deletes samples captured before cutoff and returns how many
// were removed.
func (db *DB) PruneSamples(cutoff time.Time) (int64, error) {
	res, err := db.Exec(`DELETE FROM samples WHERE captured_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune samples: %w", err)
	}
	return res.RowsAffected()
}
