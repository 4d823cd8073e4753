package ack

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.msglistener.dev/queue"
)

type fakeClient struct {
	mu          sync.Mutex
	batchCalls  [][]queue.BatchEntry
	singleCalls []string
	nextResult  queue.BatchResult
	nextErr     error
}

func (f *fakeClient) ReceiveMessages(context.Context, string, int32, time.Duration, time.Duration) ([]queue.RawMessage, error) {
	return nil, nil
}

func (f *fakeClient) DeleteMessage(_ context.Context, _, receiptHandle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.singleCalls = append(f.singleCalls, receiptHandle)
	return nil
}

func (f *fakeClient) DeleteMessageBatch(_ context.Context, _ string, entries []queue.BatchEntry) (queue.BatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCalls = append(f.batchCalls, entries)
	if f.nextErr != nil {
		return queue.BatchResult{}, f.nextErr
	}
	if len(f.nextResult.Successes) > 0 || len(f.nextResult.Failures) > 0 {
		return f.nextResult, nil
	}
	successes := make([]string, len(entries))
	for i, e := range entries {
		successes[i] = e.ID
	}
	return queue.BatchResult{Successes: successes}, nil
}

func (f *fakeClient) ResolveQueueURL(context.Context, string) (string, error) { return "", nil }

func TestBatcher_Disabled_DeletesImmediately(t *testing.T) {
	client := &fakeClient{}
	b := New(client, Config{Enabled: false, Registerer: prometheus.NewRegistry()})

	require.NoError(t, b.Enqueue(context.Background(), "q1", "r1"))
	assert.Equal(t, []string{"r1"}, client.singleCalls)
}

func TestBatcher_FlushesOnSize(t *testing.T) {
	client := &fakeClient{}
	b := New(client, Config{Enabled: true, MaxSize: 2, FlushInterval: time.Hour, Registerer: prometheus.NewRegistry()})

	require.NoError(t, b.Enqueue(context.Background(), "q1", "r1"))
	require.NoError(t, b.Enqueue(context.Background(), "q1", "r2"))

	require.Len(t, client.batchCalls, 1)
	assert.Len(t, client.batchCalls[0], 2)
}

func TestBatcher_FlushesOnTimer(t *testing.T) {
	client := &fakeClient{}
	b := New(client, Config{Enabled: true, MaxSize: 10, FlushInterval: 20 * time.Millisecond, Registerer: prometheus.NewRegistry()})

	require.NoError(t, b.Enqueue(context.Background(), "q1", "r1"))

	require.Eventually(t, func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		return len(client.batchCalls) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestBatcher_DedupesReceiptHandle(t *testing.T) {
	client := &fakeClient{}
	b := New(client, Config{Enabled: true, MaxSize: 10, FlushInterval: time.Hour, Registerer: prometheus.NewRegistry()})

	require.NoError(t, b.Enqueue(context.Background(), "q1", "r1"))
	require.NoError(t, b.Enqueue(context.Background(), "q1", "r1"))

	b.Flush(context.Background())
	require.Len(t, client.batchCalls, 1)
	assert.Len(t, client.batchCalls[0], 1)
}

func TestBatcher_SenderFaultEntryDropped_NonSenderFaultRetriedThenDropped(t *testing.T) {
	client := &fakeClient{
		nextResult: queue.BatchResult{
			Failures: []queue.BatchFailure{
				{ID: "bad", SenderFault: true},
				{ID: "transient", SenderFault: false},
			},
		},
	}
	b := New(client, Config{Enabled: true, MaxSize: 2, FlushInterval: time.Hour, Registerer: prometheus.NewRegistry()})

	require.NoError(t, b.Enqueue(context.Background(), "q1", "bad"))
	require.NoError(t, b.Enqueue(context.Background(), "q1", "transient"))

	require.Len(t, client.batchCalls, 1)

	// transient re-enqueued once; flush again (as Stop would) and it
	// should be dropped as leaked since nextResult still fails it.
	b.Flush(context.Background())
	require.Len(t, client.batchCalls, 2)
}

func TestBatcher_Flush_IsFinalSynchronousDrainOnStop(t *testing.T) {
	client := &fakeClient{}
	b := New(client, Config{Enabled: true, MaxSize: 10, FlushInterval: time.Hour, Registerer: prometheus.NewRegistry()})

	require.NoError(t, b.Enqueue(context.Background(), "q1", "r1"))
	require.NoError(t, b.Enqueue(context.Background(), "q2", "r2"))

	b.Flush(context.Background())
	require.Len(t, client.batchCalls, 2)
}
