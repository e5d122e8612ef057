package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"taoo-rewards/internal/models"
)

// Change is what a MutateUser callback wants persisted alongside the
// updated user.
type Change struct {
	User        models.User
	Spin        *models.SpinRecord
	Transaction *models.PointsTransaction
}

// MutateUser loads the user inside a transaction, hands it to fn and writes
// back the result together with any spin or points entry. Nothing is written
// when fn fails.
func (s *Store) MutateUser(ctx context.Context, id string, fn func(models.User) (Change, error)) (models.User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.User{}, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, s.rebind(`SELECT `+userColumns+` FROM users WHERE id = ?`+s.forUpdate()), id)
	current, err := scanUser(row)
	if err != nil {
		return models.User{}, err
	}

	change, err := fn(current.Clone())
	if err != nil {
		return models.User{}, err
	}
	change.User.ID = current.ID

	if err := s.updateUser(ctx, tx, &change.User); err != nil {
		return models.User{}, err
	}
	if change.Spin != nil {
		change.Spin.UserID = current.ID
		if err := s.insertSpin(ctx, tx, change.Spin); err != nil {
			return models.User{}, err
		}
	}
	if change.Transaction != nil {
		change.Transaction.UserID = current.ID
		if err := s.insertTransaction(ctx, tx, change.Transaction); err != nil {
			return models.User{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return models.User{}, err
	}
	return change.User, nil
}

func (s *Store) insertSpin(ctx context.Context, tx *sql.Tx, rec *models.SpinRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	query := s.rebind(`INSERT INTO spin_records (user_id, spin_id, value, angle, streak, created_at)
VALUES (?, ?, ?, ?, ?, ?) RETURNING id`)
	err := tx.QueryRowContext(ctx, query, rec.UserID, rec.SpinID, rec.Value, rec.Angle, rec.Streak, rec.CreatedAt.UTC()).Scan(&rec.ID)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (s *Store) insertTransaction(ctx context.Context, tx *sql.Tx, t *models.PointsTransaction) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	query := s.rebind(`INSERT INTO points_transactions (id, user_id, kind, amount, balance, reference, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err := tx.ExecContext(ctx, query, t.ID, t.UserID, string(t.Kind), t.Amount, t.Balance, t.Reference, t.CreatedAt.UTC())
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// GetSpin returns the record for a client-supplied spin id, or nil.
func (s *Store) GetSpin(ctx context.Context, userID, spinID string) (*models.SpinRecord, error) {
	query := s.rebind(`SELECT id, user_id, spin_id, value, angle, streak, created_at
FROM spin_records WHERE user_id = ? AND spin_id = ?`)
	var rec models.SpinRecord
	err := s.db.QueryRowContext(ctx, query, userID, spinID).Scan(
		&rec.ID, &rec.UserID, &rec.SpinID, &rec.Value, &rec.Angle, &rec.Streak, &rec.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	return &rec, nil
}

func (s *Store) ListSpins(ctx context.Context, userID string, limit int) ([]models.SpinRecord, error) {
	if limit <= 0 {
		limit = 30
	}
	query := s.rebind(`SELECT id, user_id, spin_id, value, angle, streak, created_at
FROM spin_records WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`)
	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SpinRecord
	for rows.Next() {
		var rec models.SpinRecord
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.SpinID, &rec.Value, &rec.Angle, &rec.Streak, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.CreatedAt = rec.CreatedAt.UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) ListTransactions(ctx context.Context, userID string, limit int) ([]models.PointsTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	query := s.rebind(`SELECT id, user_id, kind, amount, balance, reference, created_at
FROM points_transactions WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`)
	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PointsTransaction
	for rows.Next() {
		var t models.PointsTransaction
		var kind string
		if err := rows.Scan(&t.ID, &t.UserID, &kind, &t.Amount, &t.Balance, &t.Reference, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Kind = models.TransactionKind(kind)
		t.CreatedAt = t.CreatedAt.UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}
