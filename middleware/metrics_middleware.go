package middleware

import (
	"context"
	"time"

	"muxrpc/message"
	"muxrpc/metrics"
)

func Instrument(m *metrics.Server) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			m.InFlight.Add(1)
			defer m.InFlight.Add(-1)

			start := time.Now()
			resp := next(ctx, req)
			m.CallDuration.With(
				metrics.LabelService, req.ServiceName,
				metrics.LabelMethod, req.MethodName,
				metrics.LabelStatus, resp.Status.String(),
			).Observe(time.Since(start).Seconds())
			return resp
		}
	}
}
