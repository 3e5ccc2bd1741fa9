// Package middleware contains the interceptor pipeline: the ordered
// stages wrapped around every downstream handler, and the composer that
// wires them. Once a stage rejects, no later stage and no handler runs;
// the rejecting stage's response is returned verbatim.
package middleware

import "net/http"

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain applies middlewares to a handler; the first middleware listed is
// the outermost.
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// Pipeline is an explicit ordered stage list, built once at startup.
type Pipeline struct {
	stages []Middleware
}

// NewPipeline takes stages in execution order (first = outermost).
func NewPipeline(stages ...Middleware) *Pipeline {
	return &Pipeline{stages: stages}
}

// Append adds a stage inside the existing ones.
func (p *Pipeline) Append(stages ...Middleware) {
	p.stages = append(p.stages, stages...)
}

// Then wraps the downstream handler with the configured stages.
func (p *Pipeline) Then(h http.Handler) http.Handler {
	return Chain(h, p.stages...)
}
