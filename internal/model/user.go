package model

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID               uuid.UUID     `db:"id"`
	Phone            string        `db:"phone"`
	InviteCode       string        `db:"invite_code"`
	ReferredBy       uuid.NullUUID `db:"referred_by"`
	ReferralCodeUsed *string       `db:"referral_code_used"`
	ReferredAt       *time.Time    `db:"referred_at"`
	Email            *string       `db:"email"`
	Avatar           *string       `db:"avatar"`
	City             *string       `db:"city"`
	TelegramID       *string       `db:"telegram_id"`
	IsActive         bool          `db:"is_active"`
	IsStaff          bool          `db:"is_staff"`
	IsSuperuser      bool          `db:"is_superuser"`
	CreatedAt        time.Time     `db:"created_at"`
}

// HasReferrer reports whether an invite code was ever redeemed. ReferredBy is
// cleared when the referrer deletes their account; ReferralCodeUsed is not.
func (u *User) HasReferrer() bool {
	return u.ReferredBy.Valid || u.ReferralCodeUsed != nil
}

// ProfileUpdate carries the mutable profile fields of a single update request.
// Nil fields are left untouched. ReferralCode, when set, is redeemed before
// any other field is written.
type ProfileUpdate struct {
	Email        *string
	Avatar       *string
	City         *string
	TelegramID   *string
	ReferralCode *string
}

// Empty reports whether the update changes nothing.
func (p ProfileUpdate) Empty() bool {
	return p.Email == nil && p.Avatar == nil && p.City == nil && p.TelegramID == nil && p.ReferralCode == nil
}
