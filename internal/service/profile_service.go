package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/SinaHo/phone-auth-backend/internal/metrics"
	"github.com/SinaHo/phone-auth-backend/internal/model"
	"github.com/SinaHo/phone-auth-backend/internal/repository"
)

// Profile is an account together with the users it referred.
type Profile struct {
	User      model.User
	Referrals []model.User
}

// ProfileService manages accounts once the caller is authenticated. Every
// operation takes the id of the acting user as carried by the access token.
type ProfileService interface {
	GetProfile(ctx context.Context, actorID, targetID uuid.UUID) (*Profile, error)
	UpdateProfile(ctx context.Context, actorID, targetID uuid.UUID, upd model.ProfileUpdate) (*Profile, error)
	SetReferral(ctx context.Context, actorID uuid.UUID, inviteCode string) error
	DeleteAccount(ctx context.Context, actorID, targetID uuid.UUID) error
	ListAccounts(ctx context.Context, actorID uuid.UUID) ([]model.User, error)
}

type profileService struct {
	users   repository.UserRepository
	codes   repository.CodeRepository
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
}

func NewProfileService(
	users repository.UserRepository,
	codes repository.CodeRepository,
	logger *zap.SugaredLogger,
	m *metrics.Metrics,
) ProfileService {
	return &profileService{users: users, codes: codes, logger: logger, metrics: m}
}

func isStaff(actor *model.User) bool {
	return actor.IsStaff || actor.IsSuperuser
}

func canManage(actor *model.User, targetID uuid.UUID) bool {
	return actor.ID == targetID || isStaff(actor)
}

// actor loads the acting user. A token that outlived its account or whose
// account was deactivated is no longer a credential.
func (s *profileService) actor(ctx context.Context, actorID uuid.UUID) (*model.User, error) {
	u, err := s.users.GetByID(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if u == nil || !u.IsActive {
		return nil, ErrInvalidCredential
	}
	return u, nil
}

func (s *profileService) GetProfile(ctx context.Context, actorID, targetID uuid.UUID) (*Profile, error) {
	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !canManage(actor, targetID) {
		return nil, ErrPermissionDenied
	}

	target := actor
	if targetID != actor.ID {
		target, err = s.users.GetByID(ctx, targetID)
		if err != nil {
			return nil, err
		}
		if target == nil {
			return nil, ErrUserNotFound
		}
	}
	return s.profile(ctx, target)
}

// UpdateProfile applies upd atomically. When upd carries a referral code it is
// redeemed first and a rejection leaves the profile untouched.
func (s *profileService) UpdateProfile(ctx context.Context, actorID, targetID uuid.UUID, upd model.ProfileUpdate) (*Profile, error) {
	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !canManage(actor, targetID) {
		return nil, ErrPermissionDenied
	}
	if err := validateProfile(&upd); err != nil {
		return nil, err
	}
	if upd.Empty() {
		return s.GetProfile(ctx, actorID, targetID)
	}

	redeeming := upd.ReferralCode != nil && *upd.ReferralCode != ""
	updated, err := s.users.UpdateProfile(ctx, targetID, upd)
	if redeeming {
		label, mapped := referralError(err)
		s.metrics.RecordReferral(label)
		err = mapped
	} else if errors.Is(err, repository.ErrUserNotFound) {
		err = ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	if redeeming {
		s.logger.Infow("referral set", "user_id", targetID, "invite_code", *upd.ReferralCode)
	}
	return s.profile(ctx, updated)
}

// SetReferral redeems inviteCode for the acting user.
func (s *profileService) SetReferral(ctx context.Context, actorID uuid.UUID, inviteCode string) error {
	inviteCode = strings.TrimSpace(inviteCode)
	if inviteCode == "" {
		return &ValidationError{Field: "referral_code", Message: "This field is required."}
	}
	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return err
	}

	label, err := referralError(s.users.SetReferral(ctx, actor.ID, inviteCode))
	s.metrics.RecordReferral(label)
	if err != nil {
		return err
	}
	s.logger.Infow("referral set", "user_id", actor.ID, "invite_code", inviteCode)
	return nil
}

// DeleteAccount removes the target account and drops its outstanding code.
func (s *profileService) DeleteAccount(ctx context.Context, actorID, targetID uuid.UUID) error {
	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return err
	}
	if !canManage(actor, targetID) {
		return ErrPermissionDenied
	}

	target, err := s.users.GetByID(ctx, targetID)
	if err != nil {
		return err
	}
	if target == nil {
		return ErrUserNotFound
	}

	if err := s.users.Delete(ctx, targetID); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return ErrUserNotFound
		}
		return err
	}

	// A leftover code cannot log anyone in once the account is gone.
	if err := s.codes.Invalidate(ctx, target.Phone); err != nil {
		s.logger.Warnw("failed to drop auth code of deleted account", "user_id", targetID, "error", err)
	}
	s.logger.Infow("account deleted", "user_id", targetID, "actor_id", actor.ID)
	return nil
}

// ListAccounts returns every account in creation order. Staff only.
func (s *profileService) ListAccounts(ctx context.Context, actorID uuid.UUID) ([]model.User, error) {
	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !isStaff(actor) {
		return nil, ErrPermissionDenied
	}
	return s.users.ListAll(ctx)
}

func (s *profileService) profile(ctx context.Context, u *model.User) (*Profile, error) {
	referrals, err := s.users.ListReferrals(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	return &Profile{User: *u, Referrals: referrals}, nil
}

func validateProfile(upd *model.ProfileUpdate) error {
	if upd.ReferralCode != nil {
		code := strings.TrimSpace(*upd.ReferralCode)
		upd.ReferralCode = &code
	}
	if upd.Email != nil && *upd.Email != "" {
		addr, err := mail.ParseAddress(*upd.Email)
		if err != nil || addr.Address != *upd.Email {
			return &ValidationError{Field: "email", Message: "Enter a valid email address."}
		}
	}
	return nil
}
