package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"taoo-rewards/internal/models"
)

const userColumns = `id, phone, email, first_name, last_name, level, points, completion,
monthly_limit, used_this_month, max_split_months, interests, referral_code,
is_new_user, spin_streak, last_spin_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	var email sql.NullString
	var level, interests string
	var lastSpin sql.NullTime
	if err := row.Scan(
		&u.ID, &u.Phone, &email, &u.FirstName, &u.LastName, &level, &u.Points, &u.Completion,
		&u.MonthlyLimit, &u.UsedThisMonth, &u.MaxSplitMonths, &interests, &u.ReferralCode,
		&u.IsNewUser, &u.SpinStreak, &lastSpin, &u.CreatedAt, &u.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	u.Level = models.Tier(level)
	if email.Valid {
		e := email.String
		u.Email = &e
	}
	if lastSpin.Valid {
		at := lastSpin.Time.UTC()
		u.LastSpinAt = &at
	}
	if interests != "" {
		if err := json.Unmarshal([]byte(interests), &u.Interests); err != nil {
			return nil, fmt.Errorf("decode interests: %w", err)
		}
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	u.AccountAgeDays = int(time.Since(u.CreatedAt) / (24 * time.Hour))
	return &u, nil
}

func encodeInterests(in []string) (string, error) {
	if in == nil {
		in = []string{}
	}
	b, err := json.Marshal(in)
	return string(b), err
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// CreateUser inserts u, stamping CreatedAt/UpdatedAt when unset.
func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	interests, err := encodeInterests(u.Interests)
	if err != nil {
		return err
	}
	query := s.rebind(`INSERT INTO users (` + userColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = s.db.ExecContext(ctx, query,
		u.ID, u.Phone, nullString(u.Email), u.FirstName, u.LastName, string(u.Level), u.Points, u.Completion,
		u.MonthlyLimit, u.UsedThisMonth, u.MaxSplitMonths, interests, u.ReferralCode,
		u.IsNewUser, u.SpinStreak, nullTime(u.LastSpinAt), u.CreatedAt, u.UpdatedAt,
	)
	if isUniqueViolation(err) {
		if strings.Contains(err.Error(), "referral_code") {
			return ErrDuplicate
		}
		return ErrPhoneTaken
	}
	return err
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+userColumns+` FROM users WHERE id = ?`), id)
	return scanUser(row)
}

func (s *Store) GetUserByPhone(ctx context.Context, phone string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+userColumns+` FROM users WHERE phone = ?`), phone)
	return scanUser(row)
}

func (s *Store) PhoneExists(ctx context.Context, phone string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM users WHERE phone = ?`), phone).Scan(&n)
	return n > 0, err
}

// UpdateUser writes every mutable column of u.
func (s *Store) UpdateUser(ctx context.Context, u *models.User) error {
	return s.updateUser(ctx, s.db, u)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) updateUser(ctx context.Context, db execer, u *models.User) error {
	interests, err := encodeInterests(u.Interests)
	if err != nil {
		return err
	}
	u.UpdatedAt = time.Now().UTC()
	query := s.rebind(`UPDATE users SET email = ?, first_name = ?, last_name = ?, level = ?, points = ?,
completion = ?, monthly_limit = ?, used_this_month = ?, max_split_months = ?, interests = ?,
is_new_user = ?, spin_streak = ?, last_spin_at = ?, updated_at = ? WHERE id = ?`)
	result, err := db.ExecContext(ctx, query,
		nullString(u.Email), u.FirstName, u.LastName, string(u.Level), u.Points,
		u.Completion, u.MonthlyLimit, u.UsedThisMonth, u.MaxSplitMonths, interests,
		u.IsNewUser, u.SpinStreak, nullTime(u.LastSpinAt), u.UpdatedAt, u.ID,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// DeleteUser removes the user with its spin and points history.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, query := range []string{
		`DELETE FROM spin_records WHERE user_id = ?`,
		`DELETE FROM points_transactions WHERE user_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, s.rebind(query), id); err != nil {
			return err
		}
	}
	result, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM users WHERE id = ?`), id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return tx.Commit()
}

func (s *Store) CountUsers(ctx context.Context) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&total)
	return total, err
}
