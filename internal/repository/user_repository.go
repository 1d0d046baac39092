package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/SinaHo/phone-auth-backend/internal/model"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrInviteCodeNotFound = errors.New("invite code not found")
	ErrInviteCodeTaken    = errors.New("invite code already taken")
	ErrAlreadyReferred    = errors.New("referral already set")
	ErrSelfReferral       = errors.New("own invite code")
)

// UserRepository stores accounts and their referral links.
type UserRepository interface {
	GetOrCreateByPhone(ctx context.Context, phone, inviteCode string) (*model.User, bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	GetByPhone(ctx context.Context, phone string) (*model.User, error)
	InviteCodeExists(ctx context.Context, code string) (bool, error)
	SetReferral(ctx context.Context, userID uuid.UUID, inviteCode string) error
	UpdateProfile(ctx context.Context, userID uuid.UUID, upd model.ProfileUpdate) (*model.User, error)
	ListReferrals(ctx context.Context, userID uuid.UUID) ([]model.User, error)
	ListAll(ctx context.Context) ([]model.User, error)
	Delete(ctx context.Context, userID uuid.UUID) error
}

const userColumns = `id, phone, invite_code, referred_by, referral_code_used, referred_at,
	email, avatar, city, telegram_id, is_active, is_staff, is_superuser, created_at`

type userRepository struct {
	db *sqlx.DB
}

// NewUserRepository constructs a new UserRepository backed by a sqlx.DB.
// Queries are written with "?" placeholders and rebound for the driver.
func NewUserRepository(db *sqlx.DB) UserRepository {
	return &userRepository{db: db}
}

// GetOrCreateByPhone returns the account for phone, inserting it with
// inviteCode when it does not exist yet. created is true only for the call
// that performed the insert, even when several callers race on one phone.
func (r *userRepository) GetOrCreateByPhone(ctx context.Context, phone, inviteCode string) (*model.User, bool, error) {
	query := r.db.Rebind(`
		INSERT INTO users (id, phone, invite_code, is_active, is_staff, is_superuser, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (phone) DO NOTHING
	`)
	res, err := r.db.ExecContext(ctx, query, uuid.New(), phone, inviteCode, true, false, false, time.Now().UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return nil, false, ErrInviteCodeTaken
		}
		return nil, false, fmt.Errorf("error inserting user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("error reading insert result: %w", err)
	}

	u, err := r.GetByPhone(ctx, phone)
	if err != nil {
		return nil, false, err
	}
	if u == nil {
		// deleted between insert and select
		return nil, false, ErrUserNotFound
	}
	return u, n == 1, nil
}

// GetByID fetches a user by id. Returns (nil, nil) if not found.
func (r *userRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	return getUser(ctx, r.db, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

// GetByPhone fetches a user by phone. Returns (nil, nil) if not found.
func (r *userRepository) GetByPhone(ctx context.Context, phone string) (*model.User, error) {
	return getUser(ctx, r.db, `SELECT `+userColumns+` FROM users WHERE phone = ?`, phone)
}

func (r *userRepository) InviteCodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, r.db.Rebind(`SELECT EXISTS(SELECT 1 FROM users WHERE invite_code = ?)`), code)
	if err != nil {
		return false, fmt.Errorf("error checking invite code: %w", err)
	}
	return exists, nil
}

// SetReferral links userID to the owner of inviteCode.
func (r *userRepository) SetReferral(ctx context.Context, userID uuid.UUID, inviteCode string) error {
	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		return setReferral(ctx, tx, userID, inviteCode)
	})
}

// UpdateProfile applies upd in a single transaction. The referral, if any, is
// redeemed first; when it is rejected no other field is written.
func (r *userRepository) UpdateProfile(ctx context.Context, userID uuid.UUID, upd model.ProfileUpdate) (*model.User, error) {
	var updated *model.User
	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		if upd.ReferralCode != nil && *upd.ReferralCode != "" {
			if err := setReferral(ctx, tx, userID, *upd.ReferralCode); err != nil {
				return err
			}
		}

		var (
			sets []string
			args []interface{}
		)
		for _, f := range []struct {
			column string
			value  *string
		}{
			{"email", upd.Email},
			{"avatar", upd.Avatar},
			{"city", upd.City},
			{"telegram_id", upd.TelegramID},
		} {
			if f.value == nil {
				continue
			}
			sets = append(sets, f.column+" = ?")
			args = append(args, nullIfEmpty(*f.value))
		}

		if len(sets) > 0 {
			args = append(args, userID)
			query := tx.Rebind(`UPDATE users SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`)
			res, err := tx.ExecContext(ctx, query, args...)
			if err != nil {
				return fmt.Errorf("error updating profile: %w", err)
			}
			if n, err := res.RowsAffected(); err != nil {
				return fmt.Errorf("error reading update result: %w", err)
			} else if n == 0 {
				return ErrUserNotFound
			}
		}

		u, err := getUser(ctx, tx, `SELECT `+userColumns+` FROM users WHERE id = ?`, userID)
		if err != nil {
			return err
		}
		if u == nil {
			return ErrUserNotFound
		}
		updated = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ListReferrals returns the users referred by userID in the order they redeemed the code.
func (r *userRepository) ListReferrals(ctx context.Context, userID uuid.UUID) ([]model.User, error) {
	users := []model.User{}
	query := r.db.Rebind(`SELECT ` + userColumns + ` FROM users WHERE referred_by = ? ORDER BY referred_at, id`)
	if err := r.db.SelectContext(ctx, &users, query, userID); err != nil {
		return nil, fmt.Errorf("error selecting referrals: %w", err)
	}
	return users, nil
}

// ListAll returns every account in creation order.
func (r *userRepository) ListAll(ctx context.Context) ([]model.User, error) {
	users := []model.User{}
	if err := r.db.SelectContext(ctx, &users, `SELECT `+userColumns+` FROM users ORDER BY created_at, id`); err != nil {
		return nil, fmt.Errorf("error selecting users: %w", err)
	}
	return users, nil
}

func (r *userRepository) Delete(ctx context.Context, userID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM users WHERE id = ?`), userID)
	if err != nil {
		return fmt.Errorf("error deleting user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading delete result: %w", err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// setReferral resolves the invite code and sets the referral link with a
// conditional update, so only one of several concurrent calls can win.
func setReferral(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, inviteCode string) error {
	var referrerID uuid.UUID
	err := tx.GetContext(ctx, &referrerID, tx.Rebind(`SELECT id FROM users WHERE invite_code = ?`), inviteCode)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrInviteCodeNotFound
	}
	if err != nil {
		return fmt.Errorf("error resolving invite code: %w", err)
	}

	var current struct {
		ReferredBy       uuid.NullUUID `db:"referred_by"`
		ReferralCodeUsed *string       `db:"referral_code_used"`
	}
	err = tx.GetContext(ctx, &current, tx.Rebind(`SELECT referred_by, referral_code_used FROM users WHERE id = ?`), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("error selecting user: %w", err)
	}
	if current.ReferredBy.Valid || current.ReferralCodeUsed != nil {
		return ErrAlreadyReferred
	}
	if referrerID == userID {
		return ErrSelfReferral
	}

	res, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE users SET referred_by = ?, referral_code_used = ?, referred_at = ?
		WHERE id = ? AND referred_by IS NULL AND referral_code_used IS NULL
	`), referrerID, inviteCode, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("error setting referral: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading referral result: %w", err)
	}
	if n == 0 {
		return ErrAlreadyReferred
	}
	return nil
}

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx.
type queryer interface {
	sqlx.QueryerContext
	Rebind(query string) string
}

func getUser(ctx context.Context, q queryer, query string, args ...interface{}) (*model.User, error) {
	var u model.User
	err := sqlx.GetContext(ctx, q, &u, q.Rebind(query), args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("error selecting user: %w", err)
	}
	return &u, nil
}

func (r *userRepository) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}
