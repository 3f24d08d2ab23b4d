package middleware

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"muxrpc/message"
)

// Recover turns a handler panic into an application error so that one bad
// call cannot take down the connection or the process.
func Recover(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (resp *message.Response) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("handler panicked",
						zap.String("service", req.ServiceName),
						zap.String("method", req.MethodName),
						zap.Any("panic", r),
						zap.Stack("stack"))
					resp = &message.Response{
						Status: message.StatusApplication,
						Error:  fmt.Sprintf("panic in %s.%s: %v", req.ServiceName, req.MethodName, r),
					}
				}
			}()
			return next(ctx, req)
		}
	}
}
