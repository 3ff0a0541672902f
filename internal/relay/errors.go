// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package relay

import (
	"context"
	"errors"

	"github.com/jeranaias/codeassist/internal/backend"
)

// ErrorKind categorizes relay errors for handling.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindInvalidRequest
	KindBusy
	KindBackendUnavailable
	KindTransport
	KindBackend
	KindCanceled
	KindClosed
)

// String returns the kind name used in logs.
func (k ErrorKind) String() string {
	switch k {
	case KindInvalidRequest:
		return "invalid_request"
	case KindBusy:
		return "busy"
	case KindBackendUnavailable:
		return "backend_unavailable"
	case KindTransport:
		return "transport"
	case KindBackend:
		return "backend"
	case KindCanceled:
		return "canceled"
	case KindClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Error is returned by Send and carried, as text, in failed UpdateEvents.
type Error struct {
	Kind      ErrorKind
	RequestID string
	Message   string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the same kind, so errors.Is(err, ErrBusy) works
// for any request.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.RequestID == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinel errors for errors.Is checks.
var (
	ErrInvalidRequest     = &Error{Kind: KindInvalidRequest, Message: "prompt is empty"}
	ErrBusy               = &Error{Kind: KindBusy, Message: "a response is already streaming"}
	ErrBackendUnavailable = &Error{Kind: KindBackendUnavailable, Message: "model server unavailable"}
	ErrTransport          = &Error{Kind: KindTransport, Message: "stream interrupted"}
	ErrBackend            = &Error{Kind: KindBackend, Message: "model server error"}
	ErrCanceled           = &Error{Kind: KindCanceled, Message: "request canceled"}
	ErrClosed             = &Error{Kind: KindClosed, Message: "relay closed"}
)

// KindOf returns the kind of a relay error, or KindUnknown.
func KindOf(err error) ErrorKind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindUnknown
}

// classify converts a backend failure into a relay error.
// opened reports whether the backend stream had been established.
func classify(requestID string, err error, opened bool) *Error {
	switch {
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindCanceled, RequestID: requestID, Message: ErrCanceled.Message, Err: err}
	case errors.Is(err, backend.ErrUnavailable):
		return &Error{Kind: KindBackendUnavailable, RequestID: requestID, Message: ErrBackendUnavailable.Message, Err: err}
	case errors.Is(err, backend.ErrServer):
		return &Error{Kind: KindBackend, RequestID: requestID, Message: ErrBackend.Message, Err: err}
	case errors.Is(err, backend.ErrMalformedChunk), errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTransport, RequestID: requestID, Message: ErrTransport.Message, Err: err}
	case !opened:
		return &Error{Kind: KindBackend, RequestID: requestID, Message: ErrBackend.Message, Err: err}
	default:
		return &Error{Kind: KindTransport, RequestID: requestID, Message: ErrTransport.Message, Err: err}
	}
}
