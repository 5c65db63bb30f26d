package middleware

import "net/http"

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// System manages an ordered stack of HTTP middleware. The first middleware
// registered is the outermost.
type System interface {
	Use(mw ...Middleware)
	Apply(handler http.Handler) http.Handler
}

type stack struct {
	layers []Middleware
}

// New creates a System seeded with mw.
func New(mw ...Middleware) System {
	s := &stack{}
	s.Use(mw...)
	return s
}

func (s *stack) Use(mw ...Middleware) {
	for _, m := range mw {
		if m != nil {
			s.layers = append(s.layers, m)
		}
	}
}

func (s *stack) Apply(handler http.Handler) http.Handler {
	for i := len(s.layers) - 1; i >= 0; i-- {
		handler = s.layers[i](handler)
	}
	return handler
}
