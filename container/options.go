package container

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"go.msglistener.dev/convert"
	"go.msglistener.dev/errs"
	"go.msglistener.dev/listener"
	"go.msglistener.dev/resource"
	"go.msglistener.dev/validate"
)

// Option configures a Container at construction or via Configure.
// Options are applied in order; later options override earlier ones
// for the same field.
type Option[T any, C any, R any] func(*Container[T, C, R])

// WithQueueName sets the target queue, resolved to a URL once at Start.
func WithQueueName[T, C, R any](name string) Option[T, C, R] {
	return func(c *Container[T, C, R]) { c.queueName = name }
}

// WithPollTimeout sets the long-poll wait. Must be in [0,20] seconds;
// Start rejects an out-of-range value with a ConfigurationError.
func WithPollTimeout[T, C, R any](d time.Duration) Option[T, C, R] {
	return func(c *Container[T, C, R]) { c.pollTimeout = d }
}

// WithVisibilityTimeout sets the per-receive visibility window.
func WithVisibilityTimeout[T, C, R any](d time.Duration) Option[T, C, R] {
	return func(c *Container[T, C, R]) { c.visibilityTimeout = d }
}

// WithMaxMessagesPerPoll caps messages returned by one receive call.
// Must be in [1,10]; Start rejects an out-of-range value with a
// ConfigurationError.
func WithMaxMessagesPerPoll[T, C, R any](n int32) Option[T, C, R] {
	return func(c *Container[T, C, R]) { c.maxMessagesPerPoll = n }
}

// WithMaxConcurrentMessages sizes the concurrency governor. Must be >=1;
// Start rejects a smaller value with a ConfigurationError.
func WithMaxConcurrentMessages[T, C, R any](n int) Option[T, C, R] {
	return func(c *Container[T, C, R]) { c.maxConcurrentMessages = n }
}

// WithAutoStartup controls whether a host lifecycle adapter should call
// Start automatically. The container itself never reads this flag; it
// is metadata for a host lifecycle adapter to inspect via AutoStartup().
func WithAutoStartup[T, C, R any](auto bool) Option[T, C, R] {
	return func(c *Container[T, C, R]) { c.autoStartup = auto }
}

// WithAcknowledgementMode sets ON_SUCCESS/MANUAL/ALWAYS.
func WithAcknowledgementMode[T, C, R any](mode listener.AcknowledgementMode) Option[T, C, R] {
	return func(c *Container[T, C, R]) { c.ackMode = mode }
}

// WithPollingErrorBackoff sets the base backoff delay after a receive failure.
func WithPollingErrorBackoff[T, C, R any](d time.Duration) Option[T, C, R] {
	return func(c *Container[T, C, R]) { c.pollingErrorBackoff = d }
}

// WithMessageConverter overrides the default JSON PayloadConverter.
func WithMessageConverter[T, C, R any](conv convert.Converter[T]) Option[T, C, R] {
	return func(c *Container[T, C, R]) { c.converter = conv }
}

// WithTargetSchema configures the default JSON converter to materialise
// T against schema, checking its required fields are structurally
// present before unmarshalling. Equivalent to
// WithMessageConverter(convert.NewJSONWithSchema[T](schema)).
func WithTargetSchema[T, C, R any](schema *convert.Schema) Option[T, C, R] {
	return func(c *Container[T, C, R]) { c.converter = convert.NewJSONWithSchema[T](schema) }
}

// WithValidation enables validation with the given Validator, failure
// mode and options.
func WithValidation[T, C, R any](v validate.Validator[T], mode validate.FailureMode, opts validate.Options) Option[T, C, R] {
	return func(c *Container[T, C, R]) {
		c.enableValidation = true
		c.validator = v
		c.validationFailureMode = mode
		c.validatorOptions = opts
	}
}

// WithContextResolver configures the per-message ContextResolver.
func WithContextResolver[T, C, R any](resolver resource.ContextResolver[C]) Option[T, C, R] {
	return func(c *Container[T, C, R]) { c.contextResolver = resolver }
}

// WithResourceProvider configures the resource Provider, KeyFunc and
// Cleanup. keyFn may be nil (defaults to resource.DefaultKeyFunc);
// cleanup may be nil (no-op at stop).
func WithResourceProvider[T, C, R any](provider resource.Provider[C, R], keyFn resource.KeyFunc[C], cleanup resource.Cleanup[R]) Option[T, C, R] {
	return func(c *Container[T, C, R]) {
		c.resourceProvider = provider
		c.keyFn = keyFn
		c.resourceCleanup = cleanup
	}
}

// WithBatchAck enables ack batching with the given max size ([1,10])
// and flush interval.
func WithBatchAck[T, C, R any](maxSize int, flushInterval time.Duration) Option[T, C, R] {
	return func(c *Container[T, C, R]) {
		c.enableBatchAck = true
		c.batchAckMaxSize = maxSize
		c.batchAckFlushInterval = flushInterval
	}
}

// WithErrorHandler overrides the default logging ErrorHandler.
func WithErrorHandler[T, C, R any](h errs.Handler) Option[T, C, R] {
	return func(c *Container[T, C, R]) { c.errorHandler = h }
}

// WithID overrides the generated container identifier used in logs and metrics.
func WithID[T, C, R any](id string) Option[T, C, R] {
	return func(c *Container[T, C, R]) { c.id = id }
}

// WithRegisterer directs every Prometheus instrument this container
// (and the components it owns) registers to reg instead of the global
// default registerer.
func WithRegisterer[T, C, R any](reg prometheus.Registerer) Option[T, C, R] {
	return func(c *Container[T, C, R]) { c.registerer = reg }
}

// WithShutdownGrace bounds how long Stop waits for in-flight processors
// to drain before abandoning them. Default 30s.
func WithShutdownGrace[T, C, R any](d time.Duration) Option[T, C, R] {
	return func(c *Container[T, C, R]) { c.shutdownGrace = d }
}

// WithObservabilityServer enables the optional GET /healthz and
// GET /metrics HTTP surface, served on addr once Start succeeds.
func WithObservabilityServer[T, C, R any](addr string) Option[T, C, R] {
	return func(c *Container[T, C, R]) { c.observabilityAddr = addr }
}
