package handler

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/SinaHo/phone-auth-backend/api/v1/authrpc"
	"github.com/SinaHo/phone-auth-backend/internal/middleware"
	"github.com/SinaHo/phone-auth-backend/internal/service"
)

// AuthHandler is the gRPC server implementation of Authentication service.
type AuthHandler struct {
	authrpc.UnimplementedAuthenticationServer
	auth     service.AuthService
	profiles service.ProfileService
	logger   *zap.SugaredLogger
}

// NewAuthHandler constructs a new handler over the auth and profile services.
func NewAuthHandler(auth service.AuthService, profiles service.ProfileService, logger *zap.SugaredLogger) *AuthHandler {
	return &AuthHandler{auth: auth, profiles: profiles, logger: logger}
}

func (h *AuthHandler) RequestCode(ctx context.Context, req *authrpc.RequestCodeRequest) (*authrpc.RequestCodeResponse, error) {
	res, err := h.auth.RequestCode(ctx, req.Phone)
	if err != nil {
		return nil, grpcError(h.logger, "RequestCode", err)
	}
	return toLoginResponse(res), nil
}

func (h *AuthHandler) VerifyCode(ctx context.Context, req *authrpc.VerifyCodeRequest) (*authrpc.TokenResponse, error) {
	pair, err := h.auth.VerifyCode(ctx, req.Phone, req.AuthCode)
	if err != nil {
		return nil, grpcError(h.logger, "VerifyCode", err)
	}
	return toTokenResponse(msgAccessGranted, pair), nil
}

func (h *AuthHandler) RefreshToken(ctx context.Context, req *authrpc.RefreshTokenRequest) (*authrpc.TokenResponse, error) {
	pair, err := h.auth.Refresh(ctx, req.Refresh)
	if err != nil {
		return nil, grpcError(h.logger, "RefreshToken", err)
	}
	return toTokenResponse(msgTokenRefreshed, pair), nil
}

func (h *AuthHandler) GetProfile(ctx context.Context, req *authrpc.GetProfileRequest) (*authrpc.Profile, error) {
	actor, target, err := resolveTarget(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	p, err := h.profiles.GetProfile(ctx, actor, target)
	if err != nil {
		return nil, grpcError(h.logger, "GetProfile", err)
	}
	return toProfile(p), nil
}

func (h *AuthHandler) UpdateProfile(ctx context.Context, req *authrpc.UpdateProfileRequest) (*authrpc.Profile, error) {
	actor, target, err := resolveTarget(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	p, err := h.profiles.UpdateProfile(ctx, actor, target, toProfileUpdate(req))
	if err != nil {
		return nil, grpcError(h.logger, "UpdateProfile", err)
	}
	return toProfile(p), nil
}

func (h *AuthHandler) SetReferral(ctx context.Context, req *authrpc.SetReferralRequest) (*authrpc.MessageResponse, error) {
	actor, ok := middleware.UserIDFromContext(ctx)
	if !ok {
		return nil, middleware.ErrUnauthenticated
	}
	if err := h.profiles.SetReferral(ctx, actor, req.ReferralCode); err != nil {
		return nil, grpcError(h.logger, "SetReferral", err)
	}
	return &authrpc.MessageResponse{Message: msgReferralSet}, nil
}

func (h *AuthHandler) DeleteAccount(ctx context.Context, req *authrpc.DeleteAccountRequest) (*authrpc.MessageResponse, error) {
	actor, target, err := resolveTarget(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if err := h.profiles.DeleteAccount(ctx, actor, target); err != nil {
		return nil, grpcError(h.logger, "DeleteAccount", err)
	}
	return &authrpc.MessageResponse{Message: msgAccountDeleted}, nil
}

func (h *AuthHandler) ListAccounts(ctx context.Context, _ *authrpc.ListAccountsRequest) (*authrpc.ListAccountsResponse, error) {
	actor, ok := middleware.UserIDFromContext(ctx)
	if !ok {
		return nil, middleware.ErrUnauthenticated
	}
	users, err := h.profiles.ListAccounts(ctx, actor)
	if err != nil {
		return nil, grpcError(h.logger, "ListAccounts", err)
	}
	return &authrpc.ListAccountsResponse{Accounts: toAccounts(users)}, nil
}

// resolveTarget returns the caller and the account the call is about. An
// empty userID means the caller's own account.
func resolveTarget(ctx context.Context, userID string) (uuid.UUID, uuid.UUID, error) {
	actor, ok := middleware.UserIDFromContext(ctx)
	if !ok {
		return uuid.Nil, uuid.Nil, middleware.ErrUnauthenticated
	}
	if userID == "" {
		return actor, actor, nil
	}
	target, err := uuid.Parse(userID)
	if err != nil {
		return uuid.Nil, uuid.Nil, status.Error(codes.InvalidArgument, "user_id: must be a UUID")
	}
	return actor, target, nil
}
