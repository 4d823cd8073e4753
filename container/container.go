// Package container implements the builder-style configuration surface,
// the CREATED→CONFIGURED→STARTING→RUNNING→STOPPING→STOPPED state
// machine, and the orchestration that wires the queue client, governor,
// ack batcher, resource cache, polling loop and processor together for
// one queue.
package container

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"go.msglistener.dev/ack"
	"go.msglistener.dev/convert"
	"go.msglistener.dev/errs"
	"go.msglistener.dev/governor"
	"go.msglistener.dev/internal/health"
	"go.msglistener.dev/internal/metrics"
	"go.msglistener.dev/listener"
	"go.msglistener.dev/polling"
	"go.msglistener.dev/processor"
	"go.msglistener.dev/queue"
	"go.msglistener.dev/resource"
	"go.msglistener.dev/validate"
)

const (
	defaultPollTimeout           = 20 * time.Second
	defaultMaxMessagesPerPoll    = int32(10)
	defaultMaxConcurrentMessages = 1
	defaultPollingErrorBackoff   = 5 * time.Second
	defaultBatchAckMaxSize       = 10
	defaultBatchAckFlushInterval = 100 * time.Millisecond
	defaultShutdownGrace         = 30 * time.Second
)

// ConfigurationError is returned by Start when required configuration
// is missing or out of range; it is fatal, Start rejects synchronously.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string { return fmt.Sprintf("configuration: %s", e.Reason) }

// Container owns every subsystem for one queue: the queue client, the
// concurrency governor, the ack batcher, the resource cache, the
// polling loop and the per-message processor. A host application
// constructs one Container per queue via New, configures it with
// Option values, then calls Start/Stop.
type Container[T any, C any, R any] struct {
	mu    sync.Mutex
	state State
	id    string

	client       queue.Client
	userListener listener.QueueListener[T, C, R]

	queueName             string
	queueURL              string
	pollTimeout           time.Duration
	visibilityTimeout     time.Duration
	maxMessagesPerPoll    int32
	maxConcurrentMessages int
	autoStartup           bool
	ackMode               listener.AcknowledgementMode
	pollingErrorBackoff   time.Duration

	converter             convert.Converter[T]
	enableValidation      bool
	validator             validate.Validator[T]
	validationFailureMode validate.FailureMode
	validatorOptions      validate.Options

	contextResolver  resource.ContextResolver[C]
	resourceProvider resource.Provider[C, R]
	keyFn            resource.KeyFunc[C]
	resourceCleanup  resource.Cleanup[R]

	enableBatchAck        bool
	batchAckMaxSize       int
	batchAckFlushInterval time.Duration

	errorHandler errs.Handler

	registerer        prometheus.Registerer
	shutdownGrace     time.Duration
	observabilityAddr string

	governor    *governor.Governor
	batcher     *ack.Batcher
	cache       *resource.Cache[C, R]
	loop        *polling.Loop
	loopCancel  context.CancelFunc
	loopDone    chan struct{}
	stopDone    chan struct{}
	httpServer  *http.Server
	lifecycleMx *metrics.Container
}

// New constructs a Container in state CREATED, bound to client and
// userListener, with every configuration default applied. Call
// Configure (or pass opts here) before Start.
func New[T any, C any, R any](userListener listener.QueueListener[T, C, R], client queue.Client, opts ...Option[T, C, R]) *Container[T, C, R] {
	c := &Container[T, C, R]{
		state:                 Created,
		id:                    uuid.NewString(),
		client:                client,
		userListener:          userListener,
		pollTimeout:           defaultPollTimeout,
		maxMessagesPerPoll:    defaultMaxMessagesPerPoll,
		maxConcurrentMessages: defaultMaxConcurrentMessages,
		autoStartup:           true,
		ackMode:               listener.OnSuccess,
		pollingErrorBackoff:   defaultPollingErrorBackoff,
		converter:             convert.NewJSON[T](),
		validationFailureMode: validate.FailureThrow,
		batchAckMaxSize:       defaultBatchAckMaxSize,
		batchAckFlushInterval: defaultBatchAckFlushInterval,
		errorHandler:          errs.DefaultHandler{},
		shutdownGrace:         defaultShutdownGrace,
	}
	c.Configure(opts...)
	return c
}

// Configure applies opts. Allowed in CREATED or CONFIGURED; after
// applying, the container transitions to CONFIGURED.
func (c *Container[T, C, R]) Configure(opts ...Option[T, C, R]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Created && c.state != Configured {
		return
	}
	for _, opt := range opts {
		opt(c)
	}
	c.state = Configured
}

// State reports the current lifecycle state.
func (c *Container[T, C, R]) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// AutoStartup reports the configured autoStartup flag, for a host
// lifecycle adapter (out of scope) to decide whether to call Start
// automatically.
func (c *Container[T, C, R]) AutoStartup() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.autoStartup
}

// Metrics returns the prometheus.Registerer this container (and every
// subsystem it owns) registers instruments against.
func (c *Container[T, C, R]) Metrics() prometheus.Registerer {
	if c.registerer != nil {
		return c.registerer
	}
	return prometheus.DefaultRegisterer
}

// Start resolves the queue URL, constructs the governor, ack batcher,
// resource cache and polling loop, then spawns the loop and transitions
// to RUNNING. It is only valid from CONFIGURED and fails synchronously
// with a *ConfigurationError when required configuration is missing.
func (c *Container[T, C, R]) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Configured {
		c.mu.Unlock()
		return &ConfigurationError{Reason: fmt.Sprintf("start() requires CONFIGURED, was %s", c.state)}
	}
	if c.userListener == nil {
		c.mu.Unlock()
		return &ConfigurationError{Reason: "no listener configured"}
	}
	if c.queueName == "" {
		c.mu.Unlock()
		return &ConfigurationError{Reason: "no queueName configured"}
	}
	if c.pollTimeout < 0 || c.pollTimeout > 20*time.Second {
		reason := fmt.Sprintf("pollTimeout must be in [0,20] seconds, was %s", c.pollTimeout)
		c.mu.Unlock()
		return &ConfigurationError{Reason: reason}
	}
	if c.maxMessagesPerPoll < 1 || c.maxMessagesPerPoll > 10 {
		reason := fmt.Sprintf("maxMessagesPerPoll must be in [1,10], was %d", c.maxMessagesPerPoll)
		c.mu.Unlock()
		return &ConfigurationError{Reason: reason}
	}
	if c.maxConcurrentMessages < 1 {
		reason := fmt.Sprintf("maxConcurrentMessages must be >= 1, was %d", c.maxConcurrentMessages)
		c.mu.Unlock()
		return &ConfigurationError{Reason: reason}
	}
	if c.visibilityTimeout < 0 {
		reason := fmt.Sprintf("visibilityTimeout must be >= 0, was %s", c.visibilityTimeout)
		c.mu.Unlock()
		return &ConfigurationError{Reason: reason}
	}
	c.state = Starting
	c.mu.Unlock()

	queueURL, err := c.client.ResolveQueueURL(ctx, c.queueName)
	if err != nil {
		c.mu.Lock()
		c.state = Configured
		c.mu.Unlock()
		return &ConfigurationError{Reason: fmt.Sprintf("resolve queue url for %q: %v", c.queueName, err)}
	}

	c.mu.Lock()
	c.queueURL = queueURL
	reg := c.Metrics()
	c.lifecycleMx = metrics.NewContainer(reg, c.id)

	c.governor = governor.New(c.maxConcurrentMessages, reg)
	c.batcher = ack.New(c.client, ack.Config{
		Enabled:       c.enableBatchAck,
		MaxSize:       c.batchAckMaxSize,
		FlushInterval: c.batchAckFlushInterval,
		Registerer:    reg,
	})

	if c.resourceProvider != nil {
		c.cache = resource.NewCache[C, R](c.resourceProvider, c.keyFn, c.resourceCleanup)
	}

	validator := c.validator
	if validator == nil {
		validator = validate.NoOp[T]{}
	}

	proc := processor.New[T, C, R](processor.Config[T, C, R]{
		Converter:             c.converter,
		Validator:             validator,
		ValidationEnabled:     c.enableValidation,
		ValidationFailureMode: c.validationFailureMode,
		ValidatorOptions:      c.validatorOptions,
		ContextResolver:       c.contextResolver,
		ResourceCache:         c.cache,
		Listener:              c.userListener,
		ErrorHandler:          c.errorHandler,
		AckMode:               c.ackMode,
		Ack:                   c.batcher.Enqueue,
		Governor:              c.governor,
		Registerer:            reg,
	})

	c.loop = polling.New(polling.Config{
		QueueURL:            queueURL,
		MaxMessagesPerPoll:  c.maxMessagesPerPoll,
		PollTimeout:         c.pollTimeout,
		VisibilityTimeout:   c.visibilityTimeout,
		PollingErrorBackoff: c.pollingErrorBackoff,
		Client:              c.client,
		Governor:            c.governor,
		Process: func(ctx context.Context, msg queue.RawMessage) {
			proc.Process(ctx, processor.RawMessage{
				MessageID:          msg.ID,
				ReceiptHandle:      msg.ReceiptHandle,
				Body:               msg.Body,
				Attributes:         msg.Attributes,
				SystemAttributes:   msg.SystemAttributes,
				ApproxReceiveCount: msg.ApproxReceiveCount,
				QueueURL:           msg.QueueURL,
			})
		},
	})

	loopCtx, cancel := context.WithCancel(context.Background())
	c.loopCancel = cancel
	c.loopDone = make(chan struct{})
	loop := c.loop
	go func() {
		loop.Run(loopCtx)
		close(c.loopDone)
	}()

	if c.observabilityAddr != "" {
		c.startObservabilityServer(reg)
	}

	c.state = Running
	c.lifecycleMx.Starts.Inc()
	c.lifecycleMx.SetState(c.state.String(), allStates)
	c.mu.Unlock()

	log.Info().Str("containerId", c.id).Str("queueUrl", queueURL).Msg("container started")
	return nil
}

func (c *Container[T, C, R]) startObservabilityServer(reg prometheus.Registerer) {
	gatherer, ok := reg.(prometheus.Gatherer)
	if !ok {
		gatherer = prometheus.DefaultGatherer
	}
	mux := health.NewMux(gatherer, health.CheckerFunc(func() bool {
		return c.State() != Stopped
	}))
	c.httpServer = &http.Server{Addr: c.observabilityAddr, Handler: mux}
	go func() {
		if err := c.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Str("containerId", c.id).Msg("observability server exited")
		}
	}()
}

// Stop signals STOPPING, cancels the polling loop, waits (bounded by
// shutdownGrace) for in-flight processors to drain, flushes the ack
// batcher, cleans up every cached resource, then transitions to
// STOPPED. Idempotent: concurrent and repeated calls serialise on one
// shutdown and return once it completes.
func (c *Container[T, C, R]) Stop(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case Stopped:
		c.mu.Unlock()
		return nil
	case Stopping:
		done := c.stopDone
		c.mu.Unlock()
		if done != nil {
			<-done
		}
		return nil
	case Running:
		c.state = Stopping
		c.stopDone = make(chan struct{})
		if c.lifecycleMx != nil {
			c.lifecycleMx.SetState(c.state.String(), allStates)
		}
	default:
		c.mu.Unlock()
		return &ConfigurationError{Reason: fmt.Sprintf("stop() requires RUNNING, was %s", c.state)}
	}
	loopCancel := c.loopCancel
	loop := c.loop
	batcher := c.batcher
	cache := c.cache
	httpServer := c.httpServer
	grace := c.shutdownGrace
	id := c.id
	c.mu.Unlock()

	if loopCancel != nil {
		loopCancel()
	}

	graceCtx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if loop != nil {
		loop.Drain(graceCtx)
	}

	if batcher != nil {
		batcher.Flush(context.Background())
	}
	if cache != nil {
		cache.CleanupAll()
	}
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}

	c.mu.Lock()
	c.state = Stopped
	if c.lifecycleMx != nil {
		c.lifecycleMx.Stops.Inc()
		c.lifecycleMx.SetState(c.state.String(), allStates)
	}
	close(c.stopDone)
	c.mu.Unlock()

	log.Info().Str("containerId", id).Msg("container stopped")
	return nil
}
