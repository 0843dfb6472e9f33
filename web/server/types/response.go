package types

import "net/http"

// Response represents the base HTTP response structure. Every API response
// embeds it, so clients can check the success field regardless of the
// endpoint.
type Response struct {
	StatusCode int    `json:"-"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
}

// NewResponse returns a new generic response with the specified status code and
// optional error.
func NewResponse(statusCode int, err error) *Response {
	resp := &Response{
		StatusCode: statusCode,
		Success:    err == nil && statusCode < http.StatusBadRequest,
	}

	if err != nil {
		resp.Error = err.Error()
	}

	return resp
}

// OK returns a successful response with status 200 OK.
func OK() Response {
	return Response{StatusCode: http.StatusOK, Success: true}
}

// GetStatusCode returns the HTTP status code for the response.
func (r Response) GetStatusCode() int {
	return r.StatusCode
}
