package utils

import (
	"strconv"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"
)

// NewToken returns an opaque per-connection token.
func NewToken() string {
	return uuid.NewString()
}

// NewRoomKey returns a short URL-safe room key.
func NewRoomKey() string {
	return shortuuid.New()
}

// PairKey builds the dedup key for a private room between two users.
// The key is the same regardless of argument order.
func PairKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return "pm:" + strconv.FormatInt(a, 10) + ":" + strconv.FormatInt(b, 10)
}
