package http

import (
	"time"

	"golang.org/x/time/rate"
)

// newMessageLimiter allows perMinute messages per minute with a burst of the
// same size. A non-positive perMinute disables limiting.
func newMessageLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
}
