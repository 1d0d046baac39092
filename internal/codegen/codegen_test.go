package codegen_test

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SinaHo/phone-auth-backend/internal/codegen"
)

func TestAuthCode_Digits(t *testing.T) {
	re := regexp.MustCompile(`^[0-9]{4}$`)
	for i := 0; i < 200; i++ {
		code, err := codegen.AuthCode(codegen.DefaultAuthCodeLength)
		require.NoError(t, err)
		assert.Regexp(t, re, code)
	}
}

func TestAuthCode_InvalidLength(t *testing.T) {
	_, err := codegen.AuthCode(0)
	assert.Error(t, err)
}

func TestInviteCode_Alphanumeric(t *testing.T) {
	re := regexp.MustCompile(`^[A-Za-z0-9]{6}$`)
	seen := make(map[string]struct{})
	for i := 0; i < 200; i++ {
		code, err := codegen.InviteCode(codegen.DefaultInviteCodeLength)
		require.NoError(t, err)
		assert.Regexp(t, re, code)
		seen[code] = struct{}{}
	}
	// 62^6 possible codes; 200 draws colliding heavily means the source is broken.
	assert.Greater(t, len(seen), 190)
}

func TestUniqueInviteCode_RetriesOnCollision(t *testing.T) {
	calls := 0
	code, err := codegen.UniqueInviteCode(context.Background(), 6, 10, func(_ context.Context, _ string) (bool, error) {
		calls++
		return calls < 3, nil
	})
	require.NoError(t, err)
	assert.Len(t, code, 6)
	assert.Equal(t, 3, calls)
}

func TestUniqueInviteCode_Exhausted(t *testing.T) {
	calls := 0
	_, err := codegen.UniqueInviteCode(context.Background(), 6, 10, func(_ context.Context, _ string) (bool, error) {
		calls++
		return true, nil
	})
	assert.ErrorIs(t, err, codegen.ErrGenerationExhausted)
	assert.Equal(t, 10, calls)
}

func TestUniqueInviteCode_LookupError(t *testing.T) {
	lookupErr := errors.New("db down")
	_, err := codegen.UniqueInviteCode(context.Background(), 6, 10, func(_ context.Context, _ string) (bool, error) {
		return false, lookupErr
	})
	assert.ErrorIs(t, err, lookupErr)
}
