package middleware

import "net/http"

// Middleware wraps a handler with one cross-cutting concern.
type Middleware func(http.HandlerFunc) http.HandlerFunc

// MiddlewareChain composes middlewares into one. The last middleware listed
// ends up outermost, so it runs first on each request.
func MiddlewareChain(middlewares ...Middleware) Middleware {
	return func(handler http.HandlerFunc) http.HandlerFunc {
		for _, mw := range middlewares {
			handler = mw(handler)
		}
		return handler
	}
}
