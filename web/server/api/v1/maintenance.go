package api

import (
	"net/http"

	"go.hackfix.me/natmgr/engine"
	"go.hackfix.me/natmgr/web/server/api/util"
	"go.hackfix.me/natmgr/web/server/types"
)

// BackupPost backs up the store and the live firewall rules.
func (h *Handler) BackupPost(w http.ResponseWriter, r *http.Request) {
	b, err := h.appCtx.Engine.Backup(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := types.BackupPostResponse{Response: types.OK(), Timestamp: b.Label, Backup: b}
	resp.StatusCode = http.StatusCreated
	_ = util.WriteJSON(w, resp)
}

// BackupsGet returns the available backups, newest first.
func (h *Handler) BackupsGet(w http.ResponseWriter, r *http.Request) {
	backups, err := h.appCtx.Engine.ListBackups()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	_ = util.WriteJSON(w, types.BackupsGetResponse{Response: types.OK(), Backups: backups})
}

// ExportGet returns all stored mappings in the format accepted by import. By
// default the records are wrapped in the usual JSON response; with
// ?format=yaml the YAML document is returned as is.
func (h *Handler) ExportGet(w http.ResponseWriter, r *http.Request) {
	switch engine.Format(r.URL.Query().Get("format")) {
	case "", engine.FormatJSON:
	case engine.FormatYAML:
		w.Header().Set("Content-Type", "application/yaml")
		if _, err := h.appCtx.Engine.Export(r.Context(), w, engine.FormatYAML); err != nil {
			h.logger.Error("failed exporting mappings", "error", err.Error())
		}
		return
	default:
		_ = util.WriteJSON(w, types.NewBadRequestError("unsupported format"))
		return
	}

	records, err := h.appCtx.Engine.Records(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	_ = util.WriteJSON(w, types.ExportGetResponse{Response: types.OK(), Data: records})
}

// StatsGet returns a summary of the stored mappings and reservations.
func (h *Handler) StatsGet(w http.ResponseWriter, r *http.Request) {
	stats, err := h.appCtx.Engine.Stats(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	_ = util.WriteJSON(w, types.StatsGetResponse{Response: types.OK(), Stats: stats})
}

// RebuildPost recreates missing store entries from the live firewall rules.
func (h *Handler) RebuildPost(w http.ResponseWriter, r *http.Request) {
	added, err := h.appCtx.Engine.Rebuild(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	_ = util.WriteJSON(w, types.RebuildPostResponse{
		Response: types.OK(), Imported: len(added), Mappings: types.NewMappings(added),
	})
}
