// Package listener defines the contract exposed to host applications:
// the typed callback a container dispatches decoded, validated messages
// to, and the per-message handle passed alongside the payload.
package listener

import "context"

// AcknowledgementMode controls when a processed message's receipt
// handle is enqueued for deletion.
type AcknowledgementMode int

const (
	// OnSuccess acks only when the listener returns without error (and
	// every upstream pipeline step also succeeded). This is the default.
	OnSuccess AcknowledgementMode = iota
	// Manual never acks automatically; the listener must call
	// MessageContext.Acknowledge itself.
	Manual
	// Always acks regardless of listener outcome, including listener
	// failure; the failure is still routed to the ErrorHandler.
	Always
)

func (m AcknowledgementMode) String() string {
	switch m {
	case OnSuccess:
		return "ON_SUCCESS"
	case Manual:
		return "MANUAL"
	case Always:
		return "ALWAYS"
	default:
		return "UNKNOWN"
	}
}

// MessageContext is the immutable per-message handle passed to
// QueueListener.OnMessage. Context and Resources are populated only
// when a resolver/provider is configured on the container; they borrow
// (never own) the underlying cache entry and must not be retained past
// OnMessage's return.
type MessageContext[C any, R any] struct {
	MessageID          string
	ReceiptHandle      string
	QueueURL           string
	Attributes         map[string]string
	SystemAttributes   map[string]string
	ApproxReceiveCount int

	Context   C
	Resources R

	// Cancellation is closed when the container enters STOPPING; a
	// listener that respects ctx.Done() can exit early during drain.
	Cancellation context.Context

	acknowledge func()
	acked       *bool
}

// NewMessageContext constructs a MessageContext wired to ack via the
// supplied closure. Processor is the only caller; exported so
// alternative processors composed by a host application can build one.
func NewMessageContext[C any, R any](cancellation context.Context, ack func()) *MessageContext[C, R] {
	acked := false
	return &MessageContext[C, R]{
		Cancellation: cancellation,
		acknowledge:  ack,
		acked:        &acked,
	}
}

// Acknowledge enqueues this message's receipt handle for deletion. Only
// meaningful under AcknowledgementMode Manual; idempotent within a
// single OnMessage invocation.
func (m *MessageContext[C, R]) Acknowledge() {
	if m.acked == nil || *m.acked {
		return
	}
	*m.acked = true
	if m.acknowledge != nil {
		m.acknowledge()
	}
}

// Acknowledged reports whether Acknowledge has already been called.
func (m *MessageContext[C, R]) Acknowledged() bool {
	return m.acked != nil && *m.acked
}

// QueueListener is the single-operation contract a host application
// implements to receive decoded, validated messages. Decorators
// (tracing, metrics, retry) are plain function wrapping over this
// contract; no framework-specific decorator mechanism is needed.
type QueueListener[T any, C any, R any] interface {
	OnMessage(payload T, msgCtx *MessageContext[C, R]) error
}

// Func adapts a plain function to QueueListener, mirroring the
// http.HandlerFunc idiom for the common case of a stateless callback.
type Func[T any, C any, R any] func(payload T, msgCtx *MessageContext[C, R]) error

// OnMessage implements QueueListener.
func (f Func[T, C, R]) OnMessage(payload T, msgCtx *MessageContext[C, R]) error {
	return f(payload, msgCtx)
}
