// Package middleware wraps handler execution on the server. Middlewares only
// see calls whose service and method resolved; not-found replies are produced
// by the dispatcher before the chain runs.
package middleware

import (
	"context"

	"muxrpc/message"
)

// HandlerFunc executes one resolved call and always returns a response
// envelope, never nil.
type HandlerFunc func(ctx context.Context, req *message.Request) *message.Response

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares so that the first one is outermost:
// Chain(A, B)(h) runs A.before, B.before, h, B.after, A.after.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
