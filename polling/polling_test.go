package polling

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.msglistener.dev/governor"
	"go.msglistener.dev/queue"
)

type fakeClient struct {
	mu        sync.Mutex
	responses [][]queue.RawMessage
	errs      []error
	calls     int
}

func (f *fakeClient) ReceiveMessages(ctx context.Context, _ string, _ int32, _ time.Duration, _ time.Duration) ([]queue.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	f.calls++
	if idx < len(f.errs) && f.errs[idx] != nil {
		return nil, f.errs[idx]
	}
	if idx < len(f.responses) {
		return f.responses[idx], nil
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeClient) DeleteMessage(context.Context, string, string) error { return nil }
func (f *fakeClient) DeleteMessageBatch(context.Context, string, []queue.BatchEntry) (queue.BatchResult, error) {
	return queue.BatchResult{}, nil
}
func (f *fakeClient) ResolveQueueURL(context.Context, string) (string, error) { return "", nil }

func TestLoop_Run_SpawnsProcessorPerMessage(t *testing.T) {
	client := &fakeClient{
		responses: [][]queue.RawMessage{
			{{ID: "m1"}, {ID: "m2"}},
		},
	}
	gov := governor.New(2, prometheus.NewRegistry())

	var processed int32
	var wg sync.WaitGroup
	wg.Add(2)
	cfg := Config{
		QueueURL:           "q1",
		MaxMessagesPerPoll: 2,
		PollingErrorBackoff: 10 * time.Millisecond,
		Client:             client,
		Governor:           gov,
		Process: func(_ context.Context, _ queue.RawMessage) {
			atomic.AddInt32(&processed, 1)
			gov.Release(1)
			wg.Done()
		},
	}
	loop := New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)

	wg.Wait()
	cancel()
	loop.Drain(context.Background())

	assert.EqualValues(t, 2, atomic.LoadInt32(&processed))
}

func TestLoop_Run_BacksOffOnReceiveError(t *testing.T) {
	client := &fakeClient{
		errs: []error{assert.AnError, assert.AnError},
		responses: [][]queue.RawMessage{
			nil, nil, {{ID: "m1"}},
		},
	}
	gov := governor.New(1, prometheus.NewRegistry())

	done := make(chan struct{})
	cfg := Config{
		QueueURL:            "q1",
		MaxMessagesPerPoll:  1,
		PollingErrorBackoff: 5 * time.Millisecond,
		Client:              client,
		Governor:            gov,
		Process: func(_ context.Context, _ queue.RawMessage) {
			gov.Release(1)
			close(done)
		},
	}
	loop := New(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go loop.Run(ctx)

	select {
	case <-done:
	case <-time.After(900 * time.Millisecond):
		t.Fatal("processor never invoked after transient receive failures")
	}
	require.GreaterOrEqual(t, client.calls, 3)
}
