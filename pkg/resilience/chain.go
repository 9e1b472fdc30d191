// Package resilience provides middleware chaining for calls to downstream dependencies.
package resilience

import "context"

// Handler is one call to a downstream dependency.
type Handler[Req, Resp any] func(ctx context.Context, req Req) (Resp, error)

// Middleware represents a function that wraps a Handler with additional behavior.
// Middleware functions are composed using Chain() to create a processing pipeline.
type Middleware[Req, Resp any] func(next Handler[Req, Resp]) Handler[Req, Resp]

// Chain composes multiple middlewares around a base Handler.
// Middlewares are applied in order, with earlier middlewares being outermost.
//
// For example: Chain(h, mw1, mw2, mw3) creates the call stack:
//
//	mw1 -> mw2 -> mw3 -> h
//
// This means mw1 runs first and has the opportunity to short-circuit
// before the request reaches mw2, mw3, and finally the base handler.
func Chain[Req, Resp any](base Handler[Req, Resp], middlewares ...Middleware[Req, Resp]) Handler[Req, Resp] {
	h := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}
