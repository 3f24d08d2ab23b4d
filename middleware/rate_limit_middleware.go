package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"muxrpc/message"
)

// RateLimit rejects calls beyond r per second (token bucket with the given
// burst) with an application error.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			if !limiter.Allow() {
				return &message.Response{
					Status: message.StatusApplication,
					Error:  "rate limit exceeded",
				}
			}
			return next(ctx, req)
		}
	}
}
