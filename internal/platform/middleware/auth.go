package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"certflow/pkg/requestcontext"
)

// RequireOwner reads the applicant account identifier that the fronting
// gateway sets after authenticating the caller. Requests without it are
// rejected with 401; this service does no authentication of its own.
func RequireOwner(header string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ownerID := strings.TrimSpace(r.Header.Get(header))
			if ownerID == "" {
				ctx := r.Context()
				requestID := GetRequestID(ctx)
				logger.WarnContext(ctx, "unauthorized access - missing owner",
					"header", header,
					"request_id", requestID,
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				if _, err := w.Write([]byte(`{"error":"unauthorized","error_description":"missing applicant identity"}`)); err != nil {
					logger.ErrorContext(ctx, "failed to write unauthorized response",
						"error", err,
						"request_id", requestID,
					)
				}
				return
			}
			next.ServeHTTP(w, r.WithContext(requestcontext.WithOwnerID(r.Context(), ownerID)))
		})
	}
}
