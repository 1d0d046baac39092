package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/SinaHo/phone-auth-backend/internal/codegen"
	"github.com/SinaHo/phone-auth-backend/internal/config"
	"github.com/SinaHo/phone-auth-backend/internal/logger"
	"github.com/SinaHo/phone-auth-backend/internal/metrics"
	"github.com/SinaHo/phone-auth-backend/internal/model"
	"github.com/SinaHo/phone-auth-backend/internal/repository"
	"github.com/SinaHo/phone-auth-backend/internal/token"
)

const defaultPhonePattern = `^\+7\d{10}$`

// TokenIssuer mints and checks session tokens.
type TokenIssuer interface {
	Issue(userID uuid.UUID) (*token.Pair, error)
	Parse(tokenString string, want token.Type) (*token.Claims, error)
}

// CodeDispatcher hands a code to the delivery channel without waiting for it.
type CodeDispatcher interface {
	Dispatch(ctx context.Context, phone, code string)
}

// LoginResult is the outcome of a code request.
type LoginResult struct {
	UserID  uuid.UUID
	Created bool
	// Code is set only when codes are exposed for testing.
	Code string
}

// AuthService defines business logic for phone authentication.
type AuthService interface {
	RequestCode(ctx context.Context, phone string) (*LoginResult, error)
	VerifyCode(ctx context.Context, phone, code string) (*token.Pair, error)
	Refresh(ctx context.Context, refreshToken string) (*token.Pair, error)
}

type authService struct {
	users      repository.UserRepository
	codes      repository.CodeRepository
	tokens     TokenIssuer
	dispatcher CodeDispatcher
	cfg        config.AuthConfig
	phone      *regexp.Regexp
	logger     *zap.SugaredLogger
	metrics    *metrics.Metrics
}

// NewAuthService constructs a new AuthService. cfg is expected to have passed
// config.Validate; zero values fall back to the package defaults.
func NewAuthService(
	users repository.UserRepository,
	codes repository.CodeRepository,
	tokens TokenIssuer,
	dispatcher CodeDispatcher,
	cfg config.AuthConfig,
	logger *zap.SugaredLogger,
	m *metrics.Metrics,
) AuthService {
	if cfg.PhonePattern == "" {
		cfg.PhonePattern = defaultPhonePattern
	}
	if cfg.CodeLength == 0 {
		cfg.CodeLength = codegen.DefaultAuthCodeLength
	}
	if cfg.CodeTTL == 0 {
		cfg.CodeTTL = 5 * time.Minute
	}
	if cfg.InviteCodeLength == 0 {
		cfg.InviteCodeLength = codegen.DefaultInviteCodeLength
	}
	if cfg.InviteCodeAttempts == 0 {
		cfg.InviteCodeAttempts = codegen.DefaultInviteAttempts
	}
	return &authService{
		users:      users,
		codes:      codes,
		tokens:     tokens,
		dispatcher: dispatcher,
		cfg:        cfg,
		phone:      regexp.MustCompile(cfg.PhonePattern),
		logger:     logger,
		metrics:    m,
	}
}

// RequestCode provisions the account if needed and issues a fresh code,
// superseding any outstanding one.
func (s *authService) RequestCode(ctx context.Context, phone string) (*LoginResult, error) {
	phone = strings.TrimSpace(phone)
	if err := s.validatePhone(phone); err != nil {
		return nil, err
	}

	user, created, err := s.provision(ctx, phone)
	if err != nil {
		return nil, err
	}

	code, err := codegen.AuthCode(s.cfg.CodeLength)
	if err != nil {
		return nil, fmt.Errorf("generate auth code: %w", err)
	}
	err = s.codes.Issue(ctx, model.AuthCode{
		UserID:   user.ID,
		Phone:    user.Phone,
		Code:     code,
		IssuedAt: time.Now().UTC(),
	}, s.cfg.CodeTTL)
	if err != nil {
		return nil, fmt.Errorf("issue auth code: %w", err)
	}

	s.metrics.IncCodesIssued()
	if created {
		s.metrics.IncRegistrations()
	}
	s.logger.Infow("auth code issued", "user_id", user.ID, "phone", logger.MaskPhone(phone), "created", created)

	s.dispatcher.Dispatch(ctx, user.Phone, code)

	res := &LoginResult{UserID: user.ID, Created: created}
	if s.cfg.ExposeCode {
		res.Code = code
	}
	return res, nil
}

// provision returns the account for phone, creating it with a fresh invite
// code on first login.
func (s *authService) provision(ctx context.Context, phone string) (*model.User, bool, error) {
	existing, err := s.users.GetByPhone(ctx, phone)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	// The pre-check in UniqueInviteCode can lose a race with another
	// registration; the unique index is the final word.
	for i := 0; i < s.cfg.InviteCodeAttempts; i++ {
		invite, err := codegen.UniqueInviteCode(ctx, s.cfg.InviteCodeLength, s.cfg.InviteCodeAttempts, s.users.InviteCodeExists)
		if err != nil {
			return nil, false, fmt.Errorf("generate invite code: %w", err)
		}
		user, created, err := s.users.GetOrCreateByPhone(ctx, phone, invite)
		if errors.Is(err, repository.ErrInviteCodeTaken) {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		return user, created, nil
	}
	return nil, false, fmt.Errorf("generate invite code: %w", codegen.ErrGenerationExhausted)
}

// VerifyCode consumes the outstanding code for phone and returns a token pair.
func (s *authService) VerifyCode(ctx context.Context, phone, code string) (*token.Pair, error) {
	phone = strings.TrimSpace(phone)
	code = strings.TrimSpace(code)
	// any non-empty phone goes to the store so a bad pair never says which half was wrong
	if phone == "" {
		return nil, &ValidationError{Field: "phone", Message: "This field is required."}
	}
	if code == "" {
		return nil, &ValidationError{Field: "code", Message: "This field is required."}
	}

	userID, err := s.codes.Consume(ctx, phone, code)
	if errors.Is(err, repository.ErrCodeInvalid) {
		s.metrics.RecordVerification("invalid")
		return nil, ErrInvalidCredential
	}
	if err != nil {
		return nil, fmt.Errorf("consume auth code: %w", err)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.IsActive {
		s.metrics.RecordVerification("invalid")
		return nil, ErrInvalidCredential
	}

	pair, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, fmt.Errorf("issue tokens: %w", err)
	}
	s.metrics.RecordVerification("success")
	s.logger.Infow("login verified", "user_id", user.ID)
	return pair, nil
}

// Refresh exchanges a valid refresh token for a new pair.
func (s *authService) Refresh(ctx context.Context, refreshToken string) (*token.Pair, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, &ValidationError{Field: "refresh", Message: "This field is required."}
	}

	claims, err := s.tokens.Parse(refreshToken, token.TypeRefresh)
	if err != nil {
		return nil, ErrInvalidCredential
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, ErrInvalidCredential
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.IsActive {
		return nil, ErrInvalidCredential
	}

	pair, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, fmt.Errorf("issue tokens: %w", err)
	}
	return pair, nil
}

func (s *authService) validatePhone(phone string) error {
	if phone == "" {
		return &ValidationError{Field: "phone", Message: "This field is required."}
	}
	if !s.phone.MatchString(phone) {
		return &ValidationError{Field: "phone", Message: "Enter a valid phone number."}
	}
	return nil
}
