package core

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport classifies connection and IO failures. Fatal to a run.
	ErrTransport = errors.New("transport error")
	// ErrParseFailure classifies a single malformed record.
	ErrParseFailure = errors.New("parse failure")
	// ErrProtocolViolation classifies backend/client desyncs.
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrAgentError classifies an error reported by an individual node.
	ErrAgentError = errors.New("agent error")
)

// TransportError reports a failure of the underlying stream. The partial
// record buffer is discarded when it is raised.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("transport %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("transport %s: status %d", e.Op, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("transport %s failed", e.Op)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is matches ErrTransport.
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// ParseFailure reports a record that could not be normalized. It never
// stops the stream.
type ParseFailure struct {
	Record string
	Reason string
	Err    error
}

func (e *ParseFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse failure: %s: %v", e.Reason, e.Err)
	}
	return "parse failure: " + e.Reason
}

func (e *ParseFailure) Unwrap() error { return e.Err }

// Is matches ErrParseFailure.
func (e *ParseFailure) Is(target error) bool { return target == ErrParseFailure }

// Protocol violation kinds.
const (
	ViolationConcurrentCheckpoint = "concurrent_checkpoint"
	ViolationUnknownRequest       = "unknown_request"
	ViolationNoOutstanding        = "no_outstanding_checkpoint"
	ViolationSkipNotAllowed       = "skip_not_allowed"
	ViolationInvalidAction        = "invalid_action"
)

// ProtocolViolation is a non-fatal desync between backend and client.
type ProtocolViolation struct {
	Kind        string
	RequestID   string
	Outstanding string
	Message     string
}

func (e *ProtocolViolation) Error() string {
	msg := "protocol violation: " + e.Kind
	if e.RequestID != "" {
		msg += " request=" + e.RequestID
	}
	if e.Outstanding != "" {
		msg += " outstanding=" + e.Outstanding
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// Is matches ErrProtocolViolation.
func (e *ProtocolViolation) Is(target error) bool { return target == ErrProtocolViolation }

// AgentError is recorded on a single node; the run continues.
type AgentError struct {
	AgentID string
	Message string
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("agent %s: %s", e.AgentID, e.Message)
}

// Is matches ErrAgentError.
func (e *AgentError) Is(target error) bool { return target == ErrAgentError }
