// Package errs defines the error taxonomy and recovery surface for the
// message listener container. Every per-message failure mode is tagged
// with a Kind so a Handler can make routing and alerting decisions
// without inspecting error strings.
package errs

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// Kind tags the taxonomy of a per-message failure, per the container's
// error handling design.
type Kind string

const (
	// KindTransport covers queue service unreachable / 5xx responses.
	// Recovered inside the polling loop via backoff; never reaches a Handler.
	KindTransport Kind = "transport"
	// KindDecode covers a payload that could not be parsed into the
	// configured schema.
	KindDecode Kind = "decode"
	// KindValidation covers one or more constraint violations.
	KindValidation Kind = "validation"
	// KindContextResolution covers a ContextResolver failure.
	KindContextResolution Kind = "context_resolution"
	// KindResourceProvision covers a ResourceProvider failure.
	KindResourceProvision Kind = "resource_provision"
	// KindListener covers any error or panic raised by the user callback.
	KindListener Kind = "listener"
	// KindAck covers a delete failure from the AckBatcher.
	KindAck Kind = "ack"
	// KindConfiguration covers invalid configuration detected at Start().
	KindConfiguration Kind = "configuration"
)

// Error wraps a per-message failure with its taxonomy Kind and the
// message id it occurred for, so a Handler can log or route without
// re-deriving context from a bare error string.
type Error struct {
	Kind      Kind
	MessageID string
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: message %s", e.Kind, e.MessageID)
	}
	return fmt.Sprintf("%s: message %s: %v", e.Kind, e.MessageID, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs a tagged Error.
func New(kind Kind, messageID string, cause error) *Error {
	return &Error{Kind: kind, MessageID: messageID, Cause: cause}
}

// RawMessage is the minimal view of the in-flight message a Handler
// needs; it mirrors queue.RawMessage without importing the queue
// package, keeping errs dependency-free for host applications that only
// need the taxonomy.
type RawMessage struct {
	MessageID          string
	ReceiptHandle      string
	QueueURL           string
	ApproxReceiveCount int
}

// Handler is the surface for user-supplied recovery logic on listener
// and pipeline failures. It never decides acknowledgement; that is
// fixed by the container's acknowledgement-mode policy.
type Handler interface {
	Handle(err *Error, msg RawMessage)
}

// DefaultHandler logs at error level with messageId, approxReceiveCount
// and the error's taxonomy tag, and nothing else.
type DefaultHandler struct{}

// Handle implements Handler.
func (DefaultHandler) Handle(err *Error, msg RawMessage) {
	log.Error().
		Err(err).
		Str("messageId", msg.MessageID).
		Str("queueUrl", msg.QueueURL).
		Int("approxReceiveCount", msg.ApproxReceiveCount).
		Str("kind", string(err.Kind)).
		Msg("message processing failed")
}
