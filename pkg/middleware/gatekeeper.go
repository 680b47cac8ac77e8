package middleware

import (
	"crypto/subtle"
	"net/http"
)

// Gatekeeper restricts an endpoint to internal callers that present the
// configured secret key as the "secret_key" query or form parameter. With an
// empty configured key every caller is rejected.
func Gatekeeper(secretKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			supplied := r.URL.Query().Get("secret_key")
			if supplied == "" {
				supplied = r.PostFormValue("secret_key")
			}
			if secretKey == "" ||
				subtle.ConstantTimeCompare([]byte(supplied), []byte(secretKey)) != 1 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"status":"error","message":"Failed to confirm identity"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
