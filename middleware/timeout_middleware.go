package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"muxrpc/message"
)

// Timeout bounds handler execution on the server. The handler's context is
// cancelled at the deadline and the caller receives an application error; the
// handler goroutine is left to observe ctx and finish on its own.
func Timeout(timeout time.Duration) Middleware {
	return TimeoutTracked(timeout, nil)
}

// TimeoutTracked is Timeout with each handler goroutine counted in running
// until it returns, including handlers that outlive their deadline. A nil
// running tracks nothing.
func TimeoutTracked(timeout time.Duration, running *sync.WaitGroup) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.Response, 1)
			if running != nil {
				running.Add(1)
			}
			go func() {
				if running != nil {
					defer running.Done()
				}
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return &message.Response{
					Status: message.StatusApplication,
					Error:  fmt.Sprintf("handler timed out after %s", timeout),
				}
			}
		}
	}
}
