package processor

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.msglistener.dev/convert"
	"go.msglistener.dev/errs"
	"go.msglistener.dev/listener"
	"go.msglistener.dev/validate"
)

type order struct {
	OrderID string  `json:"orderId"`
	Amount  float64 `json:"amount"`
}

type recordingHandler struct {
	calls []*errs.Error
}

func (h *recordingHandler) Handle(err *errs.Error, _ errs.RawMessage) {
	h.calls = append(h.calls, err)
}

func newTestProcessor(t *testing.T, l listener.QueueListener[order, struct{}, struct{}], mode listener.AcknowledgementMode, ackFn func(ctx context.Context, queueURL, receiptHandle string) error) (*Processor[order, struct{}, struct{}], *recordingHandler) {
	t.Helper()
	handler := &recordingHandler{}
	cfg := Config[order, struct{}, struct{}]{
		Converter:    convert.NewJSON[order](),
		Listener:     l,
		ErrorHandler: handler,
		AckMode:      mode,
		Ack:          ackFn,
		Registerer:   prometheus.NewRegistry(),
	}
	return New(cfg), handler
}

func rawMsg(body string) RawMessage {
	return RawMessage{MessageID: "m1", ReceiptHandle: "r1", QueueURL: "q1", Body: []byte(body)}
}

func TestProcessor_OnSuccess_AcksOnListenerSuccess(t *testing.T) {
	var acked []string
	ackFn := func(_ context.Context, _, receiptHandle string) error {
		acked = append(acked, receiptHandle)
		return nil
	}
	l := listener.Func[order, struct{}, struct{}](func(order, *listener.MessageContext[struct{}, struct{}]) error {
		return nil
	})
	p, handler := newTestProcessor(t, l, listener.OnSuccess, ackFn)

	outcome := p.Process(context.Background(), rawMsg(`{"orderId":"o","amount":5}`))
	assert.True(t, outcome.Acked)
	assert.Nil(t, outcome.Err)
	assert.Equal(t, []string{"r1"}, acked)
	assert.Empty(t, handler.calls)
}

func TestProcessor_OnSuccess_DoesNotAckOnListenerFailure(t *testing.T) {
	var acked []string
	ackFn := func(_ context.Context, _, receiptHandle string) error {
		acked = append(acked, receiptHandle)
		return nil
	}
	boom := errors.New("boom")
	l := listener.Func[order, struct{}, struct{}](func(order, *listener.MessageContext[struct{}, struct{}]) error {
		return boom
	})
	p, handler := newTestProcessor(t, l, listener.OnSuccess, ackFn)

	outcome := p.Process(context.Background(), rawMsg(`{"orderId":"o","amount":5}`))
	assert.False(t, outcome.Acked)
	require.NotNil(t, outcome.Err)
	assert.Equal(t, errs.KindListener, outcome.Err.Kind)
	assert.Empty(t, acked)
	require.Len(t, handler.calls, 1)
}

func TestProcessor_Always_AcksEvenOnListenerFailure(t *testing.T) {
	var acked []string
	ackFn := func(_ context.Context, _, receiptHandle string) error {
		acked = append(acked, receiptHandle)
		return nil
	}
	l := listener.Func[order, struct{}, struct{}](func(order, *listener.MessageContext[struct{}, struct{}]) error {
		return errors.New("boom")
	})
	p, handler := newTestProcessor(t, l, listener.Always, ackFn)

	outcome := p.Process(context.Background(), rawMsg(`{"orderId":"o","amount":5}`))
	assert.True(t, outcome.Acked)
	assert.Equal(t, []string{"r1"}, acked)
	require.Len(t, handler.calls, 1)
}

func TestProcessor_Manual_OnlyAcksWhenListenerCallsAcknowledge(t *testing.T) {
	var acked []string
	ackFn := func(_ context.Context, _, receiptHandle string) error {
		acked = append(acked, receiptHandle)
		return nil
	}
	l := listener.Func[order, struct{}, struct{}](func(_ order, msgCtx *listener.MessageContext[struct{}, struct{}]) error {
		msgCtx.Acknowledge()
		return nil
	})
	p, _ := newTestProcessor(t, l, listener.Manual, ackFn)

	outcome := p.Process(context.Background(), rawMsg(`{"orderId":"o","amount":5}`))
	assert.True(t, outcome.Acked)
	assert.Equal(t, []string{"r1"}, acked)
}

func TestProcessor_Manual_NoAckWhenListenerForgets(t *testing.T) {
	var acked []string
	ackFn := func(_ context.Context, _, receiptHandle string) error {
		acked = append(acked, receiptHandle)
		return nil
	}
	l := listener.Func[order, struct{}, struct{}](func(order, *listener.MessageContext[struct{}, struct{}]) error {
		return nil
	})
	p, _ := newTestProcessor(t, l, listener.Manual, ackFn)

	outcome := p.Process(context.Background(), rawMsg(`{"orderId":"o","amount":5}`))
	assert.False(t, outcome.Acked)
	assert.Empty(t, acked)
}

func TestProcessor_Decode_InvalidBodyRoutesToHandlerWithoutAck(t *testing.T) {
	var acked []string
	ackFn := func(_ context.Context, _, receiptHandle string) error {
		acked = append(acked, receiptHandle)
		return nil
	}
	l := listener.Func[order, struct{}, struct{}](func(order, *listener.MessageContext[struct{}, struct{}]) error {
		t.Fatal("listener should not be invoked on decode failure")
		return nil
	})
	p, handler := newTestProcessor(t, l, listener.OnSuccess, ackFn)

	outcome := p.Process(context.Background(), rawMsg(`not json`))
	assert.False(t, outcome.Acked)
	require.Len(t, handler.calls, 1)
	assert.Equal(t, errs.KindDecode, handler.calls[0].Kind)
	assert.Empty(t, acked)
}

func TestProcessor_Validation_AckModeDropsBadDataWithoutListener(t *testing.T) {
	var acked []string
	ackFn := func(_ context.Context, _, receiptHandle string) error {
		acked = append(acked, receiptHandle)
		return nil
	}
	l := listener.Func[order, struct{}, struct{}](func(order, *listener.MessageContext[struct{}, struct{}]) error {
		t.Fatal("listener should not be invoked when validation fails in ACK mode")
		return nil
	})
	handler := &recordingHandler{}
	spec := &validate.Spec{Rules: []validate.FieldRule{
		{Path: "amount", Constraints: []string{"positive"}},
	}}
	cfg := Config[order, struct{}, struct{}]{
		Converter:             convert.NewJSON[order](),
		Validator:             validate.NewStruct[order](spec),
		ValidationEnabled:     true,
		ValidationFailureMode: validate.FailureAck,
		Listener:              l,
		ErrorHandler:          handler,
		AckMode:               listener.OnSuccess,
		Ack:                   ackFn,
		Registerer:            prometheus.NewRegistry(),
	}
	p := New(cfg)

	outcome := p.Process(context.Background(), rawMsg(`{"orderId":"o","amount":-5}`))
	assert.True(t, outcome.Acked)
	assert.Equal(t, []string{"r1"}, acked)
}

func TestProcessor_PanicInListener_RecoveredAsListenerError(t *testing.T) {
	var acked []string
	ackFn := func(_ context.Context, _, receiptHandle string) error {
		acked = append(acked, receiptHandle)
		return nil
	}
	l := listener.Func[order, struct{}, struct{}](func(order, *listener.MessageContext[struct{}, struct{}]) error {
		panic("kaboom")
	})
	p, handler := newTestProcessor(t, l, listener.OnSuccess, ackFn)

	outcome := p.Process(context.Background(), rawMsg(`{"orderId":"o","amount":5}`))
	assert.False(t, outcome.Acked)
	require.Len(t, handler.calls, 1)
	assert.Equal(t, errs.KindListener, handler.calls[0].Kind)
	assert.Empty(t, acked)
}
