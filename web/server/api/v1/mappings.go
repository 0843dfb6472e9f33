package api

import (
	"net/http"

	"go.hackfix.me/natmgr/engine"
	ftypes "go.hackfix.me/natmgr/firewall/types"
	"go.hackfix.me/natmgr/web/server/api/util"
	"go.hackfix.me/natmgr/web/server/types"
)

// MappingsGet returns all stored mappings, grouped by owner.
func (h *Handler) MappingsGet(w http.ResponseWriter, r *http.Request) {
	mappings, err := h.appCtx.Engine.List(r.Context(), "")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	grouped := map[string][]types.Mapping{}
	for _, m := range types.NewMappings(mappings) {
		grouped[m.Owner] = append(grouped[m.Owner], m)
	}

	_ = util.WriteJSON(w, types.GroupedMappingsResponse{Response: types.OK(), Mappings: grouped})
}

// OwnerMappingsGet returns the stored mappings of a single owner.
func (h *Handler) OwnerMappingsGet(w http.ResponseWriter, r *http.Request) {
	mappings, err := h.appCtx.Engine.List(r.Context(), r.PathValue("owner"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	_ = util.WriteJSON(w, types.MappingsResponse{Response: types.OK(), Mappings: types.NewMappings(mappings)})
}

// MappingsPost allocates ports for an owner and forwards them.
func (h *Handler) MappingsPost(w http.ResponseWriter, r *http.Request) {
	var data types.MappingsPostRequestData
	if err := util.ReadJSON(w, r, &data); err != nil {
		_ = util.WriteJSON(w, types.NewBadRequestError(err.Error()))
		return
	}

	req := engine.AddRequest{
		Owner:         data.Owner,
		Count:         data.NumPorts,
		ExternalPorts: data.ExternalPorts,
		InternalPorts: data.InternalPorts,
		Temporary:     data.Temporary,
		Description:   data.Description,
	}
	if req.Owner == "" {
		req.Owner = data.ContainerIP
	}
	if req.Count == 0 {
		req.Count = engine.DefaultPortCount
	}
	if data.Mode != "" {
		mode, err := engine.ModeFromString(data.Mode)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		req.Mode = mode
	}
	for _, p := range data.Protocols {
		req.Protocols = append(req.Protocols, ftypes.Protocol(p))
	}

	mappings, err := h.appCtx.Engine.Add(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := types.MappingsResponse{Response: types.OK(), Mappings: types.NewMappings(mappings)}
	resp.StatusCode = http.StatusCreated
	_ = util.WriteJSON(w, resp)
}

// MappingsDelete removes all mappings of an owner.
func (h *Handler) MappingsDelete(w http.ResponseWriter, r *http.Request) {
	removed, err := h.appCtx.Engine.Remove(r.Context(), r.PathValue("owner"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	_ = util.WriteJSON(w, types.MappingsDeleteResponse{Response: types.OK(), Removed: len(removed)})
}
