package middleware

import (
	"fmt"
	"log/slog"
	"net/http"

	"go.hackfix.me/natmgr/web/server/api/util"
	"go.hackfix.me/natmgr/web/server/types"
)

// Recover converts panics in handlers into a 500 Internal Server Error
// response, so that a single failed request doesn't take down the server.
func Recover(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Error("handler panicked",
						"method", r.Method, "path", r.URL.Path, "panic", fmt.Sprint(rec))
					_ = util.WriteJSON(w, types.NewInternalError("internal server error"))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
