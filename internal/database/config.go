package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"taoo-rewards/internal/models"
)

const wheelConfigKey = "wheel_segments"

// LoadWheel returns the stored segment table, or nil when none was saved.
func (s *Store) LoadWheel(ctx context.Context) ([]models.WheelSegment, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT value FROM config WHERE key = ?`), wheelConfigKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var segments []models.WheelSegment
	if err := json.Unmarshal([]byte(raw), &segments); err != nil {
		return nil, err
	}
	return segments, nil
}

func (s *Store) SaveWheel(ctx context.Context, segments []models.WheelSegment) error {
	payload, err := json.Marshal(segments)
	if err != nil {
		return err
	}
	query := s.rebind(`INSERT INTO config (key, value) VALUES (?, ?)
ON CONFLICT (key) DO UPDATE SET value = excluded.value`)
	_, err = s.db.ExecContext(ctx, query, wheelConfigKey, string(payload))
	return err
}

const usageMonthKey = "usage_month"

// ResetMonthlyUsage zeroes used_this_month for every user the first time it
// is called with a new month label ("2026-10"). Later calls with the same
// label are no-ops and report 0. The very first call only records the label.
func (s *Store) ResetMonthlyUsage(ctx context.Context, month string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, s.rebind(`SELECT value FROM config WHERE key = ?`+s.forUpdate()), usageMonthKey).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	if current == month {
		return 0, nil
	}

	var reset int64
	if current != "" {
		res, err := tx.ExecContext(ctx, s.rebind(`UPDATE users SET used_this_month = 0, updated_at = ? WHERE used_this_month <> 0`), time.Now().UTC())
		if err != nil {
			return 0, err
		}
		reset, _ = res.RowsAffected()
	}
	query := s.rebind(`INSERT INTO config (key, value) VALUES (?, ?)
ON CONFLICT (key) DO UPDATE SET value = excluded.value`)
	if _, err := tx.ExecContext(ctx, query, usageMonthKey, month); err != nil {
		return 0, err
	}
	return reset, tx.Commit()
}
