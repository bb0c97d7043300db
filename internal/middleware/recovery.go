package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"go-auth-service/pkg/apierror"
)

func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			recovered := recover()
			if recovered == nil {
				return
			}
			if recovered == http.ErrAbortHandler {
				panic(recovered)
			}

			slog.Error("panic recovered",
				"request_id", w.Header().Get(requestIDHeader),
				"path", r.URL.Path,
				"panic", recovered,
				"stack", string(debug.Stack()))
			writeJSONError(w, http.StatusInternalServerError, apierror.CodeInternal, "Unexpected server error")
		}()

		next.ServeHTTP(w, r)
	})
}
