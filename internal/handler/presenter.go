package handler

import (
	"github.com/SinaHo/phone-auth-backend/api/v1/authrpc"
	"github.com/SinaHo/phone-auth-backend/internal/model"
	"github.com/SinaHo/phone-auth-backend/internal/service"
	"github.com/SinaHo/phone-auth-backend/internal/token"
)

const (
	msgCodeSent       = "An SMS with an access code has been sent to your phone number."
	msgAccessGranted  = "Access granted."
	msgTokenRefreshed = "Token refreshed."
	msgReferralSet    = "Invite code accepted."
	msgAccountDeleted = "Account deleted."
)

func toProfile(p *service.Profile) *authrpc.Profile {
	referrals := make([]authrpc.Referral, 0, len(p.Referrals))
	for _, r := range p.Referrals {
		referrals = append(referrals, authrpc.Referral{
			Phone:      r.Phone,
			City:       r.City,
			TelegramID: r.TelegramID,
			Email:      r.Email,
		})
	}
	return &authrpc.Profile{
		ID:           p.User.ID.String(),
		Phone:        p.User.Phone,
		Email:        p.User.Email,
		Avatar:       p.User.Avatar,
		City:         p.User.City,
		TelegramID:   p.User.TelegramID,
		InviteCode:   p.User.InviteCode,
		ReferralCode: p.User.ReferralCodeUsed,
		AllReferrals: referrals,
	}
}

func toAccounts(users []model.User) []authrpc.Account {
	accounts := make([]authrpc.Account, 0, len(users))
	for _, u := range users {
		accounts = append(accounts, authrpc.Account{
			PK:          u.ID.String(),
			Phone:       u.Phone,
			City:        u.City,
			TelegramID:  u.TelegramID,
			Email:       u.Email,
			IsActive:    u.IsActive,
			IsStaff:     u.IsStaff,
			IsSuperuser: u.IsSuperuser,
		})
	}
	return accounts
}

func toTokenResponse(message string, pair *token.Pair) *authrpc.TokenResponse {
	return &authrpc.TokenResponse{
		Message:          message,
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	}
}

func toLoginResponse(res *service.LoginResult) *authrpc.RequestCodeResponse {
	return &authrpc.RequestCodeResponse{
		Message:  msgCodeSent,
		Created:  res.Created,
		TestCode: res.Code,
	}
}

func toProfileUpdate(req *authrpc.UpdateProfileRequest) model.ProfileUpdate {
	return model.ProfileUpdate{
		Email:        req.Email,
		Avatar:       req.Avatar,
		City:         req.City,
		TelegramID:   req.TelegramID,
		ReferralCode: req.ReferralCode,
	}
}
