package middleware

import (
	"net/http"
)

// MaxBytes limits request body sizes. Requests declaring a Content-Length
// over the limit are rejected with 413 before any body is read; bodies
// without a declared length are capped with http.MaxBytesReader so chunked
// uploads cannot exceed the limit either. A limit of zero disables the
// middleware.
func MaxBytes(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				http.Error(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
				return
			}
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}
