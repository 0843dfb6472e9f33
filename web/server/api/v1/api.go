package api

import (
	"log/slog"
	"net/http"

	actx "go.hackfix.me/natmgr/app/context"
	"go.hackfix.me/natmgr/web/server/api/util"
	"go.hackfix.me/natmgr/web/server/types"
)

// Handler is the API endpoint handler.
type Handler struct {
	appCtx *actx.Context
	logger *slog.Logger
}

// SetupHandlers configures the web API handlers.
func SetupHandlers(appCtx *actx.Context, logger *slog.Logger) http.Handler {
	h := Handler{appCtx: appCtx, logger: logger}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /mappings", h.MappingsGet)
	mux.HandleFunc("GET /mappings/{owner}", h.OwnerMappingsGet)
	mux.HandleFunc("POST /mappings", h.MappingsPost)
	mux.HandleFunc("DELETE /mappings/{owner}", h.MappingsDelete)

	mux.HandleFunc("GET /reserved", h.ReservedGet)
	mux.HandleFunc("POST /reserved", h.ReservedPost)
	mux.HandleFunc("DELETE /reserved", h.ReservedDelete)

	mux.HandleFunc("GET /backups", h.BackupsGet)
	mux.HandleFunc("POST /backup", h.BackupPost)
	mux.HandleFunc("GET /export", h.ExportGet)
	mux.HandleFunc("GET /stats", h.StatsGet)
	mux.HandleFunc("POST /rebuild", h.RebuildPost)

	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		_ = util.WriteJSON(w, types.NewNotFoundError("not found"))
	})

	return mux
}

// writeError writes a failed response with a status code matching the kind of
// err. Server-side failures are logged, since clients only see the message.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	resp := types.NewErrorResponse(err)
	if resp.StatusCode >= http.StatusInternalServerError {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err.Error())
	}
	_ = util.WriteJSON(w, resp)
}
