package authrpc

import "time"

// The same shapes are served as JSON bodies over HTTP.

type RequestCodeRequest struct {
	Phone string `json:"phone"`
}

type RequestCodeResponse struct {
	Message string `json:"message"`
	Created bool   `json:"created"`
	// TestCode echoes the issued code when the server runs with exposed codes.
	TestCode string `json:"test_code,omitempty"`
}

type VerifyCodeRequest struct {
	Phone    string `json:"phone"`
	AuthCode string `json:"auth_code"`
}

type RefreshTokenRequest struct {
	Refresh string `json:"refresh"`
}

type TokenResponse struct {
	Message          string    `json:"message"`
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type GetProfileRequest struct {
	UserID string `json:"user_id"`
}

// UpdateProfileRequest carries only the fields to change. A field sent as ""
// is cleared. Phone and invite code are read-only.
type UpdateProfileRequest struct {
	UserID       string  `json:"user_id,omitempty"`
	Email        *string `json:"email,omitempty"`
	Avatar       *string `json:"avatar,omitempty"`
	City         *string `json:"city,omitempty"`
	TelegramID   *string `json:"telegram_id,omitempty"`
	ReferralCode *string `json:"referral_code,omitempty"`
}

type Referral struct {
	Phone      string  `json:"phone"`
	City       *string `json:"city"`
	TelegramID *string `json:"telegram_id"`
	Email      *string `json:"email"`
}

type Profile struct {
	ID           string     `json:"id"`
	Phone        string     `json:"phone"`
	Email        *string    `json:"email"`
	Avatar       *string    `json:"avatar"`
	City         *string    `json:"city"`
	TelegramID   *string    `json:"telegram_id"`
	InviteCode   string     `json:"invite_code"`
	ReferralCode *string    `json:"referral_code"`
	AllReferrals []Referral `json:"all_referrals"`
}

type SetReferralRequest struct {
	ReferralCode string `json:"referral_code"`
}

type DeleteAccountRequest struct {
	UserID string `json:"user_id"`
}

type ListAccountsRequest struct{}

type Account struct {
	PK          string  `json:"pk"`
	Phone       string  `json:"phone"`
	City        *string `json:"city"`
	TelegramID  *string `json:"telegram_id"`
	Email       *string `json:"email"`
	IsActive    bool    `json:"is_active"`
	IsStaff     bool    `json:"is_staff"`
	IsSuperuser bool    `json:"is_superuser"`
}

type ListAccountsResponse struct {
	Accounts []Account `json:"accounts"`
}

type MessageResponse struct {
	Message string `json:"message"`
}
