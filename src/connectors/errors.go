package connectors

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind classifies exchange failures. Callers branch on Kind, never on messages.
type Kind string

const (
	KindInvalidRequest Kind = "InvalidRequest"
	KindAuthFailure    Kind = "AuthFailure"
	KindClockSkew      Kind = "ClockSkew"
	KindRateLimited    Kind = "RateLimited"
	KindExchange       Kind = "ExchangeError"
	KindNetwork        Kind = "NetworkFailure"
	KindTimeout        Kind = "Timeout"
)

// Retryable reports whether one immediate retry with a fresh signature is allowed.
func (k Kind) Retryable() bool {
	switch k {
	case KindClockSkew, KindNetwork, KindTimeout:
		return true
	}
	return false
}

// Error is the single error type returned by exchange clients.
type Error struct {
	Kind     Kind
	Exchange string
	Code     string
	Reason   string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Exchange != "" {
		msg = e.Exchange + ": " + msg
	}
	if e.Code != "" {
		msg += fmt.Sprintf(" (code %s)", e.Code)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the package sentinels by Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == "" && t.Exchange == "" && t.Message == "" && t.Kind == e.Kind
}

var (
	ErrInvalidRequest = &Error{Kind: KindInvalidRequest}
	ErrAuthFailure    = &Error{Kind: KindAuthFailure}
	ErrClockSkew      = &Error{Kind: KindClockSkew}
	ErrRateLimited    = &Error{Kind: KindRateLimited}
	ErrExchange       = &Error{Kind: KindExchange}
	ErrNetwork        = &Error{Kind: KindNetwork}
	ErrTimeout        = &Error{Kind: KindTimeout}
)

func newError(kind Kind, exchange, message string, err error) *Error {
	return &Error{Kind: kind, Exchange: exchange, Message: message, Err: err}
}

// KindOf returns the Kind of err. Context deadlines map to Timeout and any
// other unclassified error to NetworkFailure.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindNetwork
}

// classifyTransport wraps a transport-level failure.
func classifyTransport(exchange string, err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	kind := KindOf(err)
	if errors.Is(err, context.Canceled) {
		kind = KindTimeout
	}
	return newError(kind, exchange, "transport failure", err)
}
