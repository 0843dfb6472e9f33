package types

import (
	"time"

	"go.hackfix.me/natmgr/db/models"
)

// Mapping is the API representation of a stored port mapping.
type Mapping struct {
	Owner        string    `json:"owner"`
	ExternalPort uint16    `json:"external_port"`
	InternalPort uint16    `json:"internal_port"`
	Protocol     string    `json:"protocol"`
	Temporary    bool      `json:"temporary"`
	Description  string    `json:"description,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewMappings converts stored mappings to their API representation.
func NewMappings(mappings []*models.PortMapping) []Mapping {
	out := make([]Mapping, len(mappings))
	for i, m := range mappings {
		out[i] = Mapping{
			Owner:        m.Owner,
			ExternalPort: m.ExternalPort,
			InternalPort: m.InternalPort,
			Protocol:     string(m.Protocol),
			Temporary:    m.Temporary,
			Description:  m.Description,
			CreatedAt:    m.CreatedAt,
		}
	}

	return out
}

// MappingsPostRequestData is the request data to allocate ports for an owner.
type MappingsPostRequestData struct {
	Owner string `json:"owner"`
	// ContainerIP is accepted as an alias of Owner.
	ContainerIP   string   `json:"container_ip"`
	Mode          string   `json:"mode"`
	NumPorts      int      `json:"num_ports"`
	InternalPorts []uint16 `json:"internal_ports"`
	ExternalPorts []uint16 `json:"external_ports"`
	Protocols     []string `json:"protocols"`
	Temporary     bool     `json:"temporary"`
	Description   string   `json:"description"`
}

// MappingsResponse is the response to listing or creating the mappings of a
// single owner.
type MappingsResponse struct {
	Response
	Mappings []Mapping `json:"mappings"`
}

// GroupedMappingsResponse is the response to listing all mappings, keyed by
// owner.
type GroupedMappingsResponse struct {
	Response
	Mappings map[string][]Mapping `json:"mappings"`
}

// MappingsDeleteResponse is the response to removing the mappings of an owner.
type MappingsDeleteResponse struct {
	Response
	Removed int `json:"removed"`
}
