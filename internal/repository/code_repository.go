package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/SinaHo/phone-auth-backend/internal/model"
)

var (
	ErrCodeInvalid     = errors.New("auth code invalid")
	ErrCodeUnavailable = errors.New("auth code store unavailable")
)

// CodeRepository holds the outstanding one-time login codes, one per phone.
type CodeRepository interface {
	// Issue stores code, replacing whatever code the phone had before.
	Issue(ctx context.Context, code model.AuthCode, ttl time.Duration) error
	// Consume deletes the outstanding code for phone if it equals code and
	// returns the owning user id. A code can be consumed at most once.
	Consume(ctx context.Context, phone, code string) (uuid.UUID, error)
	Invalidate(ctx context.Context, phone string) error
}

// consumeCodeLua compares and deletes in one step.
// KEYS[1] = code key
// ARGV[1] = submitted code
// ARGV[2] = max wrong attempts before the code is dropped
var consumeCodeLua = redis.NewScript(`
local stored = redis.call('HGET', KEYS[1], 'code')
if not stored then
  return {err='not_found'}
end

if stored ~= ARGV[1] then
  local attempts = redis.call('HINCRBY', KEYS[1], 'attempts', 1)
  if attempts >= tonumber(ARGV[2]) then
    redis.call('DEL', KEYS[1])
    return {err='attempts_exceeded'}
  end
  return {err='mismatch'}
end

local uid = redis.call('HGET', KEYS[1], 'user_id')
redis.call('DEL', KEYS[1])
return uid
`)

type codeRepository struct {
	rdb         redis.UniversalClient
	prefix      string
	maxAttempts int
}

// NewCodeRepository constructs a Redis-backed CodeRepository. Keys are
// "<prefix>:<phone>" hashes that expire with the code.
func NewCodeRepository(rdb redis.UniversalClient, prefix string, maxAttempts int) CodeRepository {
	if prefix == "" {
		prefix = "authcode"
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &codeRepository{rdb: rdb, prefix: prefix, maxAttempts: maxAttempts}
}

func (r *codeRepository) key(phone string) string {
	return r.prefix + ":" + phone
}

func (r *codeRepository) Issue(ctx context.Context, code model.AuthCode, ttl time.Duration) error {
	key := r.key(code.Phone)
	issuedAt := code.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = time.Now()
	}

	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			"user_id", code.UserID.String(),
			"code", code.Code,
			"issued_at", strconv.FormatInt(issuedAt.Unix(), 10),
			"attempts", 0,
		)
		pipe.PExpire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCodeUnavailable, err)
	}
	return nil
}

func (r *codeRepository) Consume(ctx context.Context, phone, code string) (uuid.UUID, error) {
	result, err := consumeCodeLua.Run(ctx, r.rdb, []string{r.key(phone)}, code, r.maxAttempts).Result()
	if err != nil {
		// Redis 7 prefixes script error replies with "ERR ".
		switch strings.TrimPrefix(err.Error(), "ERR ") {
		case "not_found", "mismatch", "attempts_exceeded":
			return uuid.Nil, ErrCodeInvalid
		default:
			return uuid.Nil, fmt.Errorf("%w: %v", ErrCodeUnavailable, err)
		}
	}

	raw, ok := result.(string)
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: unexpected lua result type %T", ErrCodeUnavailable, result)
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: corrupt user id: %v", ErrCodeUnavailable, err)
	}
	return userID, nil
}

func (r *codeRepository) Invalidate(ctx context.Context, phone string) error {
	if err := r.rdb.Del(ctx, r.key(phone)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCodeUnavailable, err)
	}
	return nil
}
