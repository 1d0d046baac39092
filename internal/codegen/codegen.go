// Package codegen produces the short random codes handed to users: numeric
// login codes and alphanumeric invite codes.
package codegen

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const (
	digits        = "0123456789"
	inviteLetters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	DefaultAuthCodeLength   = 4
	DefaultInviteCodeLength = 6
	DefaultInviteAttempts   = 10
)

// ErrGenerationExhausted is returned when no free invite code was found
// within the allowed number of attempts.
var ErrGenerationExhausted = errors.New("invite code generation exhausted")

// AuthCode returns a numeric code of the given length. Codes are not unique;
// they are only ever checked together with the phone they were issued for.
func AuthCode(length int) (string, error) {
	return random(digits, length)
}

// InviteCode returns a mixed-case alphanumeric code of the given length.
func InviteCode(length int) (string, error) {
	return random(inviteLetters, length)
}

// UniqueInviteCode keeps drawing invite codes until taken reports one as free.
func UniqueInviteCode(
	ctx context.Context,
	length, attempts int,
	taken func(ctx context.Context, code string) (bool, error),
) (string, error) {
	if attempts <= 0 {
		attempts = DefaultInviteAttempts
	}
	for i := 0; i < attempts; i++ {
		code, err := InviteCode(length)
		if err != nil {
			return "", err
		}
		exists, err := taken(ctx, code)
		if err != nil {
			return "", fmt.Errorf("checking invite code: %w", err)
		}
		if !exists {
			return code, nil
		}
	}
	return "", ErrGenerationExhausted
}

func random(alphabet string, length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("invalid code length %d", length)
	}

	var b strings.Builder
	b.Grow(length)

	max := big.NewInt(int64(len(alphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(alphabet[n.Int64()])
	}
	return b.String(), nil
}
