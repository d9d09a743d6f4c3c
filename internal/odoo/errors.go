package odoo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorKind classifies a remote call failure so callers can pattern-match on
// it instead of inspecting fault strings.
type ErrorKind string

const (
	// KindAuth covers authentication and session failures; fatal for a sync run.
	KindAuth ErrorKind = "auth"
	// KindConnectivity covers transport-level failures; fatal for a sync run.
	KindConnectivity ErrorKind = "connectivity"
	// KindTimeout covers deadline expiry; fatal for a sync run.
	KindTimeout ErrorKind = "timeout"
	// KindAccessDenied covers per-model access errors; the model is skipped silently.
	KindAccessDenied ErrorKind = "access_denied"
	// KindSchema covers invalid/unknown field errors; retried once with fallback fields.
	KindSchema ErrorKind = "schema"
	// KindSerialization covers undecodable remote data; retried once with safe fields.
	KindSerialization ErrorKind = "serialization"
	// KindServer covers remaining server-side faults.
	KindServer ErrorKind = "server"
	// KindUnknown covers everything else.
	KindUnknown ErrorKind = "unknown"
)

// RPCError is a classified failure from the remote model server.
type RPCError struct {
	Kind    ErrorKind
	Model   string
	Method  string
	Message string
	Detail  string
}

func (e *RPCError) Error() string {
	if e.Model != "" {
		return fmt.Sprintf("odoo rpc %s.%s: %s: %s", e.Model, e.Method, e.Kind, e.Message)
	}
	return fmt.Sprintf("odoo rpc: %s: %s", e.Kind, e.Message)
}

// KindOf extracts the error kind from any error in the chain.
// Plain transport errors map to connectivity/timeout.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindConnectivity
	}
	return KindUnknown
}

// IsFatal reports whether the error must abort an entire sync run rather
// than just the current model.
func IsFatal(err error) bool {
	switch KindOf(err) {
	case KindAuth, KindConnectivity, KindTimeout:
		return true
	}
	return false
}

// classifyFault maps a server fault name/message onto an error kind.
// The server reports exceptions by their Python class path plus a message,
// so classification has to go by name.
func classifyFault(name, message string) ErrorKind {
	full := strings.ToLower(name + " " + message)
	switch {
	case strings.Contains(full, "accessdenied"),
		strings.Contains(full, "access denied"):
		return KindAuth
	case strings.Contains(full, "accesserror"),
		strings.Contains(full, "not allowed to access"),
		strings.Contains(full, "operation is not allowed"):
		return KindAccessDenied
	case strings.Contains(full, "sessionexpired"),
		strings.Contains(full, "session expired"):
		return KindAuth
	case strings.Contains(full, "invalid field"),
		strings.Contains(full, "unknown field"),
		strings.Contains(full, "keyerror"):
		return KindSchema
	case strings.Contains(full, "could not serialize"),
		strings.Contains(full, "not json serializable"),
		strings.Contains(full, "cannot marshal"):
		return KindSerialization
	default:
		return KindServer
	}
}
