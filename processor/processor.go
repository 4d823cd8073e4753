// Package processor implements the per-message pipeline: decode,
// validate, resolve context, provision resources, dispatch to the user
// listener, then acknowledge according to the configured
// AcknowledgementMode. No error or panic from any step crosses the
// Process call boundary, every failure is captured as an Outcome and
// routed to an errs.Handler.
package processor

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"

	"go.msglistener.dev/convert"
	"go.msglistener.dev/errs"
	"go.msglistener.dev/governor"
	"go.msglistener.dev/listener"
	"go.msglistener.dev/resource"
	"go.msglistener.dev/validate"
)

// Step identifies which pipeline stage produced an Outcome, for logging
// and metrics, independent of the taxonomy Kind attached to the error.
type Step string

const (
	StepDecode            Step = "decode"
	StepValidate          Step = "validate"
	StepResolveContext    Step = "resolve_context"
	StepProvisionResource Step = "provision_resource"
	StepDispatch          Step = "dispatch"
)

// Outcome is the terminal result of processing one message.
type Outcome struct {
	Step  Step
	Err   *errs.Error
	Acked bool
}

// Config wires the pipeline's per-message collaborators. Converter and
// ErrorHandler are required; Validator, ContextResolver and
// ResourceCache are optional (nil disables that step, matching
// "if configured" in the pipeline spec).
type Config[T any, C any, R any] struct {
	Converter              convert.Converter[T]
	Validator              validate.Validator[T]
	ValidationEnabled      bool
	ValidationFailureMode  validate.FailureMode
	ValidatorOptions       validate.Options

	ContextResolver resource.ContextResolver[C]
	ResourceCache   *resource.Cache[C, R]

	Listener     listener.QueueListener[T, C, R]
	ErrorHandler errs.Handler
	AckMode      listener.AcknowledgementMode

	// Ack is called to enqueue a receipt handle for deletion, wired to
	// an ack.Batcher.Enqueue (or any other AckBatcher-shaped callable).
	Ack func(ctx context.Context, queueURL, receiptHandle string) error

	Governor   *governor.Governor
	Registerer prometheus.Registerer
}

// RawMessage is the minimal view of a received message the processor
// needs; queue.RawMessage satisfies it structurally via direct field
// access at the call site, keeping this package free of a queue import.
type RawMessage struct {
	MessageID          string
	ReceiptHandle      string
	Body               []byte
	Attributes         map[string]string
	SystemAttributes   map[string]string
	ApproxReceiveCount int
	QueueURL           string
}

// Processor runs the six-step pipeline for one message at a time; a
// Processor instance is safe for concurrent use by multiple goroutines,
// each calling Process for a different message.
type Processor[T any, C any, R any] struct {
	cfg Config[T, C, R]

	outcomes *prometheus.CounterVec
}

// New constructs a Processor from cfg.
func New[T any, C any, R any](cfg Config[T, C, R]) *Processor[T, C, R] {
	reg := cfg.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Processor[T, C, R]{
		cfg: cfg,
		outcomes: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "msglistener",
			Subsystem: "processor",
			Name:      "outcomes_total",
			Help:      "Per-message pipeline outcomes by step and acknowledgement decision.",
		}, []string{"step", "acked"}),
	}
}

// Process runs the full pipeline for one message, releasing one
// governor permit when it returns (by any path, including panic
// recovery) if cfg.Governor is set.
func (p *Processor[T, C, R]) Process(ctx context.Context, raw RawMessage) (outcome Outcome) {
	defer func() {
		if p.cfg.Governor != nil {
			p.cfg.Governor.Release(1)
		}
		if r := recover(); r != nil {
			err := errs.New(errs.KindListener, raw.MessageID, fmt.Errorf("panic: %v", r))
			outcome = p.fail(ctx, raw, StepDispatch, err)
		}
	}()

	payload, err := p.cfg.Converter.Convert(raw.Body, raw.Attributes)
	if err != nil {
		return p.fail(ctx, raw, StepDecode, errs.New(errs.KindDecode, raw.MessageID, err))
	}

	if p.cfg.ValidationEnabled && p.cfg.Validator != nil {
		violations := p.cfg.Validator.Validate(payload, p.cfg.ValidatorOptions)
		if len(violations) > 0 {
			return p.handleValidationFailure(ctx, raw, violations)
		}
	}

	var contextValue C
	if p.cfg.ContextResolver != nil {
		contextValue, err = p.cfg.ContextResolver.Resolve(raw.Attributes)
		if err != nil {
			return p.fail(ctx, raw, StepResolveContext, errs.New(errs.KindContextResolution, raw.MessageID, err))
		}
	}

	var resourceValue R
	if p.cfg.ResourceCache != nil {
		resourceValue, err = p.cfg.ResourceCache.Get(ctx, contextValue)
		if err != nil {
			return p.fail(ctx, raw, StepProvisionResource, errs.New(errs.KindResourceProvision, raw.MessageID, err))
		}
	}

	return p.dispatch(ctx, raw, payload, contextValue, resourceValue)
}

func (p *Processor[T, C, R]) dispatch(ctx context.Context, raw RawMessage, payload T, contextValue C, resourceValue R) Outcome {
	msgCtx := listener.NewMessageContext[C, R](ctx, func() {
		if p.cfg.Ack != nil {
			if err := p.cfg.Ack(ctx, raw.QueueURL, raw.ReceiptHandle); err != nil {
				log.Error().Err(err).Str("messageId", raw.MessageID).Msg("processor: manual ack failed")
			}
		}
	})
	msgCtx.MessageID = raw.MessageID
	msgCtx.ReceiptHandle = raw.ReceiptHandle
	msgCtx.QueueURL = raw.QueueURL
	msgCtx.Attributes = raw.Attributes
	msgCtx.SystemAttributes = raw.SystemAttributes
	msgCtx.ApproxReceiveCount = raw.ApproxReceiveCount
	msgCtx.Context = contextValue
	msgCtx.Resources = resourceValue

	listenerErr := p.cfg.Listener.OnMessage(payload, msgCtx)

	switch p.cfg.AckMode {
	case listener.Always:
		if listenerErr != nil {
			p.handle(errs.New(errs.KindListener, raw.MessageID, listenerErr), raw)
		}
		acked := p.ack(ctx, raw)
		return p.record(StepDispatch, nil, acked)

	case listener.Manual:
		if listenerErr != nil {
			p.handle(errs.New(errs.KindListener, raw.MessageID, listenerErr), raw)
		}
		return p.record(StepDispatch, nil, msgCtx.Acknowledged())

	default: // OnSuccess
		if listenerErr != nil {
			err := errs.New(errs.KindListener, raw.MessageID, listenerErr)
			return p.fail(ctx, raw, StepDispatch, err)
		}
		acked := p.ack(ctx, raw)
		return p.record(StepDispatch, nil, acked)
	}
}

func (p *Processor[T, C, R]) handleValidationFailure(ctx context.Context, raw RawMessage, violations []validate.ConstraintViolation) Outcome {
	for _, v := range violations {
		log.Error().Str("messageId", raw.MessageID).Str("propertyPath", v.PropertyPath).
			Str("constraint", v.ConstraintName).Msg("processor: validation violation")
	}

	switch p.cfg.ValidationFailureMode {
	case validate.FailureAck:
		acked := p.ack(ctx, raw)
		return p.record(StepValidate, nil, acked)
	case validate.FailureReject:
		return p.record(StepValidate, nil, false)
	default: // FailureThrow
		cause := fmt.Errorf("%d constraint violation(s)", len(violations))
		return p.fail(ctx, raw, StepValidate, errs.New(errs.KindValidation, raw.MessageID, cause))
	}
}

// fail routes err to the ErrorHandler and applies the acknowledgement
// decision for a short-circuited step (decode/validate-throw/resolve-
// context/provision-resource/dispatch-on-success-failure): ALWAYS still
// acks, ON_SUCCESS and MANUAL do not.
func (p *Processor[T, C, R]) fail(ctx context.Context, raw RawMessage, step Step, err *errs.Error) Outcome {
	p.handle(err, raw)
	if p.cfg.AckMode == listener.Always {
		acked := p.ack(ctx, raw)
		return p.record(step, err, acked)
	}
	return p.record(step, err, false)
}

func (p *Processor[T, C, R]) handle(err *errs.Error, raw RawMessage) {
	handler := p.cfg.ErrorHandler
	if handler == nil {
		handler = errs.DefaultHandler{}
	}
	handler.Handle(err, errs.RawMessage{
		MessageID:          raw.MessageID,
		ReceiptHandle:      raw.ReceiptHandle,
		QueueURL:           raw.QueueURL,
		ApproxReceiveCount: raw.ApproxReceiveCount,
	})
}

func (p *Processor[T, C, R]) ack(ctx context.Context, raw RawMessage) bool {
	if p.cfg.Ack == nil {
		return false
	}
	if err := p.cfg.Ack(ctx, raw.QueueURL, raw.ReceiptHandle); err != nil {
		log.Error().Err(err).Str("messageId", raw.MessageID).Msg("processor: ack enqueue failed")
		return false
	}
	return true
}

func (p *Processor[T, C, R]) record(step Step, err *errs.Error, acked bool) Outcome {
	ackedLabel := "false"
	if acked {
		ackedLabel = "true"
	}
	p.outcomes.WithLabelValues(string(step), ackedLabel).Inc()
	return Outcome{Step: step, Err: err, Acked: acked}
}
