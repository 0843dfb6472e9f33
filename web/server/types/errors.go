package types

import (
	"net/http"

	aerrors "go.hackfix.me/natmgr/app/errors"
)

// NewErrorResponse returns a failed response for err. The status code is
// derived from the error kind.
func NewErrorResponse(err error) *Response {
	return NewResponse(StatusCode(err), err)
}

// NewBadRequestError returns a 400 Bad Request response with the specified message.
func NewBadRequestError(message string) *Response {
	return &Response{StatusCode: http.StatusBadRequest, Error: message}
}

// NewNotFoundError returns a 404 Not Found response with the specified message.
func NewNotFoundError(message string) *Response {
	return &Response{StatusCode: http.StatusNotFound, Error: message}
}

// NewInternalError returns a 500 Internal Server Error response with the
// specified message.
func NewInternalError(message string) *Response {
	return &Response{StatusCode: http.StatusInternalServerError, Error: message}
}

// StatusCode returns the HTTP status code matching the kind of err.
func StatusCode(err error) int {
	switch aerrors.Kind(err) {
	case aerrors.ErrInvalidArgument:
		return http.StatusBadRequest
	case aerrors.ErrConflict:
		return http.StatusConflict
	case aerrors.ErrNotFound:
		return http.StatusNotFound
	case aerrors.ErrExternalCommand:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
