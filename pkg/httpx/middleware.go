package httpx

import "net/http"

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain wraps h with mws so that the first middleware is the outermost.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// LoopbackOnly rejects requests whose Host header is not a loopback name.
// It blocks DNS-rebinding pages from driving the console API.
func LoopbackOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isLoopbackHost(r.Host) {
			WriteError(w, http.StatusForbidden, "forbidden_host", "requests must target a loopback address")
			return
		}
		next.ServeHTTP(w, r)
	})
}
