package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a provider failure for the breaker and the
// failover policy.
type ErrorKind string

const (
	KindAuth      ErrorKind = "auth"
	KindRateLimit ErrorKind = "rateLimit"
	KindServer    ErrorKind = "server"
	KindNetwork   ErrorKind = "network"
	KindSchema    ErrorKind = "schema"
)

// Error is the failure shape adapters return. Status is the upstream
// HTTP status when applicable, 0 otherwise.
type Error struct {
	Kind     ErrorKind
	Provider string
	Status   int
	Message  string
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (%d): %s", e.Provider, e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
}

// Errf builds an Error with a formatted message.
func Errf(name string, kind ErrorKind, status int, format string, args ...any) *Error {
	return &Error{Kind: kind, Provider: name, Status: status, Message: fmt.Sprintf(format, args...)}
}

// StatusError classifies an unexpected upstream HTTP status.
func StatusError(name string, status int, body string) *Error {
	kind := KindServer
	switch {
	case status == http.StatusTooManyRequests:
		kind = KindRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = KindAuth
	}
	return &Error{Kind: kind, Provider: name, Status: status, Message: body}
}

// WrapNetwork classifies transport-level failures, including context
// deadline expiry, as network errors.
func WrapNetwork(name string, err error) *Error {
	return &Error{Kind: KindNetwork, Provider: name, Message: err.Error()}
}

// KindOf extracts the kind from an adapter error. Context and transport
// errors surface as network; anything unclassified counts as server.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindNetwork
	}
	return KindServer
}
