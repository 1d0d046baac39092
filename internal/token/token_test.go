package token_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SinaHo/phone-auth-backend/internal/token"
)

func TestIssueAndParse(t *testing.T) {
	iss := token.NewIssuer([]byte("test-secret"), "phone-auth", 15*time.Minute, 24*time.Hour)
	userID := uuid.New()

	pair, err := iss.Issue(userID)
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.NotEqual(t, pair.AccessToken, pair.RefreshToken)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), pair.AccessExpiresAt, 5*time.Second)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), pair.RefreshExpiresAt, 5*time.Second)

	claims, err := iss.Parse(pair.AccessToken, token.TypeAccess)
	require.NoError(t, err)
	got, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, userID, got)

	claims, err = iss.Parse(pair.RefreshToken, token.TypeRefresh)
	require.NoError(t, err)
	assert.Equal(t, userID.String(), claims.Subject)
}

func TestParse_WrongType(t *testing.T) {
	iss := token.NewIssuer([]byte("test-secret"), "phone-auth", time.Minute, time.Hour)
	pair, err := iss.Issue(uuid.New())
	require.NoError(t, err)

	_, err = iss.Parse(pair.RefreshToken, token.TypeAccess)
	assert.ErrorIs(t, err, token.ErrInvalidToken)
	_, err = iss.Parse(pair.AccessToken, token.TypeRefresh)
	assert.ErrorIs(t, err, token.ErrInvalidToken)
}

func TestParse_WrongKeyOrIssuer(t *testing.T) {
	iss := token.NewIssuer([]byte("test-secret"), "phone-auth", time.Minute, time.Hour)
	pair, err := iss.Issue(uuid.New())
	require.NoError(t, err)

	other := token.NewIssuer([]byte("other-secret"), "phone-auth", time.Minute, time.Hour)
	_, err = other.Parse(pair.AccessToken, token.TypeAccess)
	assert.ErrorIs(t, err, token.ErrInvalidToken)

	otherIssuer := token.NewIssuer([]byte("test-secret"), "someone-else", time.Minute, time.Hour)
	_, err = otherIssuer.Parse(pair.AccessToken, token.TypeAccess)
	assert.ErrorIs(t, err, token.ErrInvalidToken)
}

func TestParse_Expired(t *testing.T) {
	iss := token.NewIssuer([]byte("test-secret"), "phone-auth", -time.Minute, time.Hour)
	pair, err := iss.Issue(uuid.New())
	require.NoError(t, err)

	_, err = iss.Parse(pair.AccessToken, token.TypeAccess)
	assert.ErrorIs(t, err, token.ErrInvalidToken)
}

func TestParse_RejectsNoneAlgorithm(t *testing.T) {
	iss := token.NewIssuer([]byte("test-secret"), "phone-auth", time.Minute, time.Hour)

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, token.Claims{
		TokenType: token.TypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.NewString(),
			Issuer:    "phone-auth",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	s, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = iss.Parse(s, token.TypeAccess)
	assert.ErrorIs(t, err, token.ErrInvalidToken)
}
