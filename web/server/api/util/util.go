package util

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// maxBodySize is the maximum size of accepted request bodies.
const maxBodySize = 1 << 20

// WriteJSON writes a JSON response to the HTTP response writer.
// It automatically sets the Content-Type header and HTTP status code.
func WriteJSON(w http.ResponseWriter, resp any) error {
	w.Header().Set("Content-Type", "application/json")

	// Extract status code from response
	if r, ok := resp.(interface{ GetStatusCode() int }); ok {
		w.WriteHeader(r.GetStatusCode())
	}

	return json.NewEncoder(w).Encode(resp)
}

// ReadJSON decodes the JSON request body into v. Unknown fields and bodies
// larger than 1MiB are rejected.
func ReadJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}

	return nil
}
