// Package errors provides the error codes harbor reports over its HTTP and
// gRPC endpoints.
//
// Error Code Format: AABBCCC (7 digits)
//
//	AA  (00-99): Module code, 00 is shared, 01 is the control plane
//	BB  (00-99): Category code, maps to an HTTP status family
//	CCC (000-999): Sequence number within the category
//
// Usage:
//
//	var ErrEngineUnavailable = errors.NewBuilder(errors.ModuleControl, errors.CategoryUnavailable, 1).
//	    HTTP(http.StatusServiceUnavailable).
//	    GRPC(codes.Unavailable).
//	    Message("Engine unavailable", "引擎不可用").
//	    MustBuild()
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"sync"

	"google.golang.org/grpc/codes"
)

// Module codes.
const (
	ModuleCommon  = 0
	ModuleControl = 1
)

// Category codes.
const (
	CategorySuccess     = 0
	CategoryRequest     = 1
	CategoryResource    = 4
	CategoryConflict    = 5
	CategoryRateLimit   = 6
	CategoryInternal    = 7
	CategoryUnavailable = 10
	CategoryTimeout     = 11
	CategoryConfig      = 12
)

// MakeCode builds an AABBCCC error code.
func MakeCode(module, category, sequence int) int {
	return module*100000 + category*1000 + sequence
}

// ParseCode splits an AABBCCC code into its parts.
func ParseCode(code int) (module, category, sequence int) {
	return code / 100000, (code / 1000) % 100, code % 1000
}

// Errno represents a structured error with code and messages.
type Errno struct {
	// Code is the unique error code
	Code int `json:"code"`

	// HTTP is the HTTP status code to return
	HTTP int `json:"-"`

	// GRPCCode is the gRPC status code
	GRPCCode codes.Code `json:"-"`

	// MessageEN is the English error message
	MessageEN string `json:"message"`

	// MessageZH is the Chinese error message
	MessageZH string `json:"message_zh,omitempty"`

	// cause is the underlying error
	cause error
}

// Error implements the error interface.
func (e *Errno) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("errno %d: %s: %v", e.Code, e.MessageEN, e.cause)
	}
	return fmt.Sprintf("errno %d: %s", e.Code, e.MessageEN)
}

// Unwrap returns the underlying cause.
func (e *Errno) Unwrap() error {
	return e.cause
}

// WithCause creates a new Errno with the given cause.
func (e *Errno) WithCause(cause error) *Errno {
	cp := *e
	cp.cause = cause
	return &cp
}

// WithMessagef creates a new Errno with formatted English message.
func (e *Errno) WithMessagef(format string, args ...interface{}) *Errno {
	cp := *e
	cp.MessageEN = fmt.Sprintf(format, args...)
	return &cp
}

// Message returns the message based on language.
func (e *Errno) Message(lang string) string {
	if lang == "zh" || lang == "zh-CN" || lang == "zh_CN" {
		if e.MessageZH != "" {
			return e.MessageZH
		}
	}
	return e.MessageEN
}

// HTTPStatus returns the HTTP status code.
func (e *Errno) HTTPStatus() int {
	if e.HTTP != 0 {
		return e.HTTP
	}
	return http.StatusInternalServerError
}

// GRPCStatus returns the gRPC status code.
func (e *Errno) GRPCStatus() codes.Code {
	if e.GRPCCode != codes.OK {
		return e.GRPCCode
	}
	return codes.Internal
}

// Is checks if this error matches the target error code.
func (e *Errno) Is(target error) bool {
	if t, ok := target.(*Errno); ok {
		return e.Code == t.Code
	}
	return false
}

// errnoRegistry stores all registered error codes for uniqueness validation.
var (
	errnoRegistry = make(map[int]*Errno)
	registryMu    sync.RWMutex
)

// Register registers an Errno and validates uniqueness.
// Panics if the code is already registered.
func Register(e *Errno) *Errno {
	registryMu.Lock()
	defer registryMu.Unlock()

	if existing, ok := errnoRegistry[e.Code]; ok {
		panic(fmt.Sprintf("errno code %d already registered: %s", e.Code, existing.MessageEN))
	}
	errnoRegistry[e.Code] = e
	return e
}

// Lookup returns the registered Errno for the given code.
func Lookup(code int) (*Errno, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	e, ok := errnoRegistry[code]
	return e, ok
}

// FromError converts any error to Errno.
// If err wraps an Errno, it is returned directly; anything else becomes
// ErrInternal.
func FromError(err error) *Errno {
	if err == nil {
		return nil
	}
	var e *Errno
	if errors.As(err, &e) {
		return e
	}
	return ErrInternal.WithCause(err)
}
