// Package middleware provides HTTP middleware for the operational endpoints.
package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/Strob0t/personagov/internal/logger"
)

const headerRequestID = "X-Request-ID"

// maxRequestIDLength bounds caller-supplied IDs before they reach the logs.
const maxRequestIDLength = 128

// RequestID is HTTP middleware that extracts X-Request-ID from the request
// header or generates a new one. The ID is stored in the context and set
// on the response header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" || len(id) > maxRequestIDLength {
			id = uuid.NewString()
		}

		ctx := logger.WithRequestID(r.Context(), id)
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
