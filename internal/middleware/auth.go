package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/SinaHo/phone-auth-backend/internal/token"
)

// ErrUnauthenticated is returned when no or invalid token is provided.
var ErrUnauthenticated = status.Errorf(codes.Unauthenticated, "unauthenticated")

// UserIDKey is the echo context key holding the authenticated user id.
const UserIDKey = "user_id"

// TokenParser validates access tokens.
type TokenParser interface {
	Parse(tokenString string, want token.Type) (*token.Claims, error)
}

type userIDKey struct{}

func WithUserID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, userIDKey{}, id)
}

// UserIDFromContext returns the user id stored by the auth middleware.
func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(userIDKey{}).(uuid.UUID)
	return id, ok
}

func bearerToken(header string) string {
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

// authenticate resolves an access token to the user id it was issued for.
func authenticate(parser TokenParser, tokenString string) (uuid.UUID, error) {
	claims, err := parser.Parse(tokenString, token.TypeAccess)
	if err != nil {
		return uuid.Nil, err
	}
	return claims.UserID()
}

// AuthInterceptor returns a unary interceptor that checks for a valid access
// token on every method not listed in public.
func AuthInterceptor(logger *zap.SugaredLogger, parser TokenParser, public map[string]bool) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if public[info.FullMethod] {
			return handler(ctx, req)
		}

		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			logger.Warn("Missing metadata in context")
			return nil, ErrUnauthenticated
		}

		authHeaders := md.Get("authorization")
		if len(authHeaders) == 0 {
			logger.Warnw("No authorization header provided", "method", info.FullMethod)
			return nil, ErrUnauthenticated
		}

		tokenString := bearerToken(authHeaders[0])
		if tokenString == "" {
			logger.Warn("Empty bearer token")
			return nil, ErrUnauthenticated
		}

		userID, err := authenticate(parser, tokenString)
		if err != nil {
			logger.Warnw("Invalid token", "method", info.FullMethod, "error", err)
			return nil, ErrUnauthenticated
		}

		return handler(WithUserID(ctx, userID), req)
	}
}

// JWTAuth is the echo counterpart of AuthInterceptor. It rejects requests
// without a valid access token and stores the user id on both the echo and
// the request context.
func JWTAuth(logger *zap.SugaredLogger, parser TokenParser) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenString := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if tokenString == "" {
				return c.JSON(http.StatusUnauthorized, echo.Map{
					"message": "Authentication credentials were not provided.",
				})
			}

			userID, err := authenticate(parser, tokenString)
			if err != nil {
				logger.Warnw("Invalid token", "path", c.Path(), "error", err)
				return c.JSON(http.StatusUnauthorized, echo.Map{
					"message": "Given token not valid for any token type.",
				})
			}

			c.Set(UserIDKey, userID)
			c.SetRequest(c.Request().WithContext(WithUserID(c.Request().Context(), userID)))
			return next(c)
		}
	}
}
