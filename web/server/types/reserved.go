package types

import "time"

// ReservedPort is the API representation of a reserved port.
type ReservedPort struct {
	Port        uint16    `json:"port"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ReservedRequestData is the request data to reserve or unreserve ports.
type ReservedRequestData struct {
	Ports       []uint16 `json:"ports"`
	Description string   `json:"description"`
}

// ReservedGetResponse is the response to listing reserved ports.
type ReservedGetResponse struct {
	Response
	Reserved []ReservedPort `json:"reserved"`
}

// ReservedChangeResponse is the response to reserving or unreserving ports.
// Count is the number of ports whose state changed.
type ReservedChangeResponse struct {
	Response
	Count int `json:"count"`
}
