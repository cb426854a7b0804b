package httpmiddleware

import "net/http"

// Middleware is a standard net/http middleware.
type Middleware = func(http.Handler) http.Handler

// Wrap applies middlewares to h so that the first listed middleware is the
// outermost on the request path.
func Wrap(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}
