package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"muxrpc/message"
)

// Logging records every call at debug level and failures at info level.
func Logging(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			start := time.Now()
			resp := next(ctx, req)
			fields := []zap.Field{
				zap.String("service", req.ServiceName),
				zap.String("method", req.MethodName),
				zap.Duration("duration", time.Since(start)),
				zap.Stringer("status", resp.Status),
			}
			if resp.Status != message.StatusOK {
				logger.Info("call failed", append(fields, zap.String("error", resp.Error))...)
				return resp
			}
			logger.Debug("call served", fields...)
			return resp
		}
	}
}
