package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/dukerupert/campuskubo/internal/model"
)

type PasswordResetStore struct {
	db *sql.DB
}

func NewPasswordResetStore(db *sql.DB) *PasswordResetStore {
	return &PasswordResetStore{db: db}
}

func scanPasswordReset(sc scanner) (*model.PasswordResetToken, error) {
	var t model.PasswordResetToken
	var usedAt sql.NullTime
	err := sc.Scan(&t.ID, &t.Token, &t.UserID, &t.ExpiresAt, &usedAt, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	if usedAt.Valid {
		t.UsedAt = &usedAt.Time
	}
	return &t, nil
}

const passwordResetCols = `id, token, user_id, expires_at, used_at, created_at`

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Create issues a crypto-random token for the user that expires after ttl.
// Pending tokens previously issued to the same user are invalidated.
// Unknown user ids (including 0) yield ErrUserNotFound.
func (s *PasswordResetStore) Create(userID int64, ttl time.Duration) (*model.PasswordResetToken, error) {
	if userID <= 0 {
		return nil, ErrUserNotFound
	}
	var exists int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM users WHERE id = ?`, userID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("check user: %w", err)
	}
	if exists == 0 {
		return nil, ErrUserNotFound
	}

	now := time.Now().UTC()
	_, err = s.db.Exec(
		`UPDATE password_reset_tokens SET used_at = ? WHERE user_id = ? AND used_at IS NULL`,
		now, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("invalidate previous tokens: %w", err)
	}

	token, err := generateToken()
	if err != nil {
		return nil, err
	}

	result, err := s.db.Exec(
		`INSERT INTO password_reset_tokens (token, user_id, expires_at, created_at) VALUES (?, ?, ?, ?)`,
		token, userID, now.Add(ttl), now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert password reset token: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	row := s.db.QueryRow(`SELECT `+passwordResetCols+` FROM password_reset_tokens WHERE id = ?`, id)
	return scanPasswordReset(row)
}

// Verify returns the token if it exists, is unused and unexpired, or nil otherwise.
func (s *PasswordResetStore) Verify(token string) (*model.PasswordResetToken, error) {
	row := s.db.QueryRow(
		`SELECT `+passwordResetCols+` FROM password_reset_tokens WHERE token = ? AND used_at IS NULL AND expires_at > ?`,
		token, time.Now().UTC(),
	)
	t, err := scanPasswordReset(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("verify password reset token: %w", err)
	}
	return t, nil
}

// MarkUsed consumes a redeemable token. It reports false when the token was
// already used, expired or unknown.
func (s *PasswordResetStore) MarkUsed(token string) (bool, error) {
	return markTokenUsed(s.db, token)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func markTokenUsed(ex execer, token string) (bool, error) {
	now := time.Now().UTC()
	result, err := ex.Exec(
		`UPDATE password_reset_tokens SET used_at = ? WHERE token = ? AND used_at IS NULL AND expires_at > ?`,
		now, token, now,
	)
	if err != nil {
		return false, fmt.Errorf("mark token used: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// Redeem consumes the token and stores the new password hash for its user in
// one transaction. A token that is not redeemable yields ErrTokenInvalid and
// leaves the password untouched.
func (s *PasswordResetStore) Redeem(token, passwordHash string) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin redeem: %w", err)
	}
	defer tx.Rollback()

	var userID int64
	err = tx.QueryRow(`SELECT user_id FROM password_reset_tokens WHERE token = ?`, token).Scan(&userID)
	if err == sql.ErrNoRows {
		return 0, ErrTokenInvalid
	}
	if err != nil {
		return 0, fmt.Errorf("lookup token: %w", err)
	}

	ok, err := markTokenUsed(tx, token)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrTokenInvalid
	}

	result, err := tx.Exec(
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ? AND is_active = 1`,
		passwordHash, time.Now().UTC(), userID,
	)
	if err != nil {
		return 0, fmt.Errorf("update password: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	} else if n == 0 {
		return 0, ErrTokenInvalid
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit redeem: %w", err)
	}
	return userID, nil
}

func (s *PasswordResetStore) DeleteExpired() (int64, error) {
	result, err := s.db.Exec(`DELETE FROM password_reset_tokens WHERE expires_at <= ?`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired password reset tokens: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}
