package model

import (
	"time"

	"github.com/google/uuid"
)

// AuthCode is an outstanding one-time login code. Only the most recently
// issued code for a phone is kept.
type AuthCode struct {
	UserID   uuid.UUID
	Phone    string
	Code     string
	IssuedAt time.Time
	Attempts int
}
