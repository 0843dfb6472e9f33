package api

import (
	"net/http"

	"go.hackfix.me/natmgr/web/server/api/util"
	"go.hackfix.me/natmgr/web/server/types"
)

// ReservedGet returns the reserved ports.
func (h *Handler) ReservedGet(w http.ResponseWriter, r *http.Request) {
	reserved, err := h.appCtx.Engine.ListReserved(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := types.ReservedGetResponse{Response: types.OK(), Reserved: make([]types.ReservedPort, len(reserved))}
	for i, rp := range reserved {
		resp.Reserved[i] = types.ReservedPort{Port: rp.Port, Description: rp.Description, CreatedAt: rp.CreatedAt}
	}

	_ = util.WriteJSON(w, resp)
}

// ReservedPost reserves ports.
func (h *Handler) ReservedPost(w http.ResponseWriter, r *http.Request) {
	var data types.ReservedRequestData
	if err := util.ReadJSON(w, r, &data); err != nil {
		_ = util.WriteJSON(w, types.NewBadRequestError(err.Error()))
		return
	}

	count, err := h.appCtx.Engine.Reserve(r.Context(), data.Ports, data.Description)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	_ = util.WriteJSON(w, types.ReservedChangeResponse{Response: types.OK(), Count: count})
}

// ReservedDelete unreserves ports.
func (h *Handler) ReservedDelete(w http.ResponseWriter, r *http.Request) {
	var data types.ReservedRequestData
	if err := util.ReadJSON(w, r, &data); err != nil {
		_ = util.WriteJSON(w, types.NewBadRequestError(err.Error()))
		return
	}

	count, err := h.appCtx.Engine.Unreserve(r.Context(), data.Ports)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	_ = util.WriteJSON(w, types.ReservedChangeResponse{Response: types.OK(), Count: count})
}
