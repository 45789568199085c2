// Package response provides the JSON envelope harbor endpoints reply with.
package response

import (
	"net/http"
	"time"

	"github.com/kart-io/harbor/pkg/errors"
)

// Response is the standard response envelope.
type Response struct {
	// Code is the errno code, 0 on success.
	Code int `json:"code"`
	// HTTPCode is the HTTP status, not serialized.
	HTTPCode int `json:"-"`
	// Message is the human readable message.
	Message string `json:"message"`
	// Data is the payload.
	Data interface{} `json:"data,omitempty"`
	// RequestID echoes the request identifier when known.
	RequestID string `json:"request_id,omitempty"`
	// Timestamp is the response time in Unix milliseconds.
	Timestamp int64 `json:"timestamp,omitempty"`
}

// HTTPStatus returns the HTTP status of the response.
func (r *Response) HTTPStatus() int {
	if r.HTTPCode != 0 {
		return r.HTTPCode
	}
	return http.StatusOK
}

// Success creates a successful response.
func Success(data interface{}) *Response {
	return &Response{
		Code:     errors.OK.Code,
		HTTPCode: http.StatusOK,
		Message:  errors.OK.MessageEN,
		Data:     data,
	}
}

// Err creates an error response from an Errno.
func Err(e *errors.Errno) *Response {
	return ErrWithLang(e, "")
}

// ErrWithLang creates an error response with a language specific message.
func ErrWithLang(e *errors.Errno, lang string) *Response {
	return &Response{
		Code:      e.Code,
		HTTPCode:  e.HTTPStatus(),
		Message:   e.Message(lang),
		Timestamp: time.Now().UnixMilli(),
	}
}
