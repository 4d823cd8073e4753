// Package ack implements the AckBatcher: it coalesces per-message
// delete (acknowledgement) operations into size- or time-triggered
// batch deletes, one pending sequence per queue URL, preserving
// at-least-once delivery of the delete attempt itself.
package ack

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"

	"go.msglistener.dev/queue"
)

const maxRetriesPerEntry = 1

// pendingEntry is one queued delete, tracked per queue URL.
type pendingEntry struct {
	receiptHandle string
	enqueuedAt    time.Time
	retries       int
}

type queueState struct {
	mu      sync.Mutex
	order   []string // receipt handles, insertion order
	entries map[string]*pendingEntry
	timer   *time.Timer
}

// Config controls batching behaviour. When Enabled is false, Enqueue
// calls through to a single DeleteMessage immediately.
type Config struct {
	Enabled       bool
	MaxSize       int           // [1,10]
	FlushInterval time.Duration // >= 0; 0 disables the timer trigger (size/stop only)
	Registerer    prometheus.Registerer
}

// Batcher coalesces per-message acknowledgements: enqueue returns
// immediately, flushes happen on size threshold, on the per-queue
// timer, or synchronously on Stop.
type Batcher struct {
	client queue.Client
	cfg    Config

	mu     sync.Mutex
	queues map[string]*queueState

	batchSize   prometheus.Histogram
	flushErrors prometheus.Counter
	leaked      prometheus.Counter

	stopping bool
}

// New constructs a Batcher bound to client. cfg.MaxSize is clamped to
// [1,10]; cfg.Registerer defaults to prometheus.DefaultRegisterer.
func New(client queue.Client, cfg Config) *Batcher {
	if cfg.MaxSize < 1 {
		cfg.MaxSize = 1
	}
	if cfg.MaxSize > 10 {
		cfg.MaxSize = 10
	}
	reg := cfg.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Batcher{
		client: client,
		cfg:    cfg,
		queues: make(map[string]*queueState),
		batchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "msglistener",
			Subsystem: "ack_batcher",
			Name:      "batch_size",
			Help:      "Number of receipt handles in a single DeleteMessageBatch call.",
			Buckets:   []float64{1, 2, 3, 5, 10},
		}),
		flushErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "msglistener",
			Subsystem: "ack_batcher",
			Name:      "flush_errors_total",
			Help:      "DeleteMessageBatch/DeleteMessage calls that returned a transport error.",
		}),
		leaked: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "msglistener",
			Subsystem: "ack_batcher",
			Name:      "leaked_entries_total",
			Help:      "Pending ack entries dropped after exhausting retries or surviving the final stop flush.",
		}),
	}
}

func (b *Batcher) stateFor(queueURL string) *queueState {
	b.mu.Lock()
	defer b.mu.Unlock()
	qs, ok := b.queues[queueURL]
	if !ok {
		qs = &queueState{entries: make(map[string]*pendingEntry)}
		b.queues[queueURL] = qs
	}
	return qs
}

// Enqueue registers receiptHandle for deletion against queueURL.
// Duplicate enqueues of the same handle before it flushes are
// collapsed into one pending entry. When batching is disabled this
// calls DeleteMessage synchronously and returns its error.
func (b *Batcher) Enqueue(ctx context.Context, queueURL, receiptHandle string) error {
	if !b.cfg.Enabled {
		if err := b.client.DeleteMessage(ctx, queueURL, receiptHandle); err != nil {
			b.flushErrors.Inc()
			log.Error().Err(err).Str("queueUrl", queueURL).Msg("ack: single delete failed")
			return err
		}
		return nil
	}

	qs := b.stateFor(queueURL)
	qs.mu.Lock()
	if _, dup := qs.entries[receiptHandle]; !dup {
		qs.entries[receiptHandle] = &pendingEntry{receiptHandle: receiptHandle, enqueuedAt: time.Now()}
		qs.order = append(qs.order, receiptHandle)
	}
	size := len(qs.order)
	shouldFlushSize := size >= b.cfg.MaxSize

	if size == 1 && !shouldFlushSize && b.cfg.FlushInterval > 0 {
		qs.timer = time.AfterFunc(b.cfg.FlushInterval, func() {
			b.flushQueue(context.Background(), queueURL)
		})
	}
	qs.mu.Unlock()

	if shouldFlushSize {
		b.flushQueue(ctx, queueURL)
	}
	return nil
}

// flushQueue drains and deletes every entry currently pending for
// queueURL. Entries enqueued while a flush is in progress join the
// next flush.
func (b *Batcher) flushQueue(ctx context.Context, queueURL string) {
	qs := b.stateFor(queueURL)

	qs.mu.Lock()
	if qs.timer != nil {
		qs.timer.Stop()
		qs.timer = nil
	}
	if len(qs.order) == 0 {
		qs.mu.Unlock()
		return
	}
	batch := make([]*pendingEntry, 0, len(qs.order))
	for _, handle := range qs.order {
		batch = append(batch, qs.entries[handle])
	}
	qs.order = qs.order[:0]
	qs.entries = make(map[string]*pendingEntry)
	qs.mu.Unlock()

	b.deleteBatch(ctx, queueURL, batch)
}

func (b *Batcher) deleteBatch(ctx context.Context, queueURL string, batch []*pendingEntry) {
	for len(batch) > 0 {
		chunk := batch
		if len(chunk) > 10 {
			chunk = batch[:10]
		}
		batch = batch[len(chunk):]

		entries := make([]queue.BatchEntry, len(chunk))
		byHandle := make(map[string]*pendingEntry, len(chunk))
		for i, e := range chunk {
			entries[i] = queue.BatchEntry{ID: e.receiptHandle, ReceiptHandle: e.receiptHandle}
			byHandle[e.receiptHandle] = e
		}

		b.batchSize.Observe(float64(len(entries)))
		result, err := b.client.DeleteMessageBatch(ctx, queueURL, entries)
		if err != nil {
			b.flushErrors.Inc()
			b.retryOrDrop(queueURL, chunk)
			log.Error().Err(err).Str("queueUrl", queueURL).Int("batchSize", len(entries)).
				Msg("ack: batch delete call failed")
			continue
		}

		for _, failure := range result.Failures {
			entry := byHandle[failure.ID]
			if entry == nil {
				continue
			}
			if failure.SenderFault {
				log.Error().Str("queueUrl", queueURL).Str("receiptHandle", failure.ID).
					Str("errorKind", failure.ErrorKind).Msg("ack: dropping sender-fault batch entry")
				continue
			}
			b.retryOrDrop(queueURL, []*pendingEntry{entry})
		}
	}
}

func (b *Batcher) retryOrDrop(queueURL string, entries []*pendingEntry) {
	qs := b.stateFor(queueURL)
	qs.mu.Lock()
	defer qs.mu.Unlock()
	for _, e := range entries {
		if e.retries >= maxRetriesPerEntry {
			b.leaked.Inc()
			log.Error().Str("queueUrl", queueURL).Str("receiptHandle", e.receiptHandle).
				Msg("ack: dropping entry after exhausting retries")
			continue
		}
		e.retries++
		if _, exists := qs.entries[e.receiptHandle]; !exists {
			qs.entries[e.receiptHandle] = e
			qs.order = append(qs.order, e.receiptHandle)
		}
	}
}

// Flush synchronously drains every non-empty per-queue pending
// sequence. Called by the container at stop; residue still pending
// after this call (a retry that itself failed) is logged as leaked.
func (b *Batcher) Flush(ctx context.Context) {
	b.mu.Lock()
	queueURLs := make([]string, 0, len(b.queues))
	for url := range b.queues {
		queueURLs = append(queueURLs, url)
	}
	b.mu.Unlock()

	for _, url := range queueURLs {
		b.flushQueue(ctx, url)
	}

	b.mu.Lock()
	for url, qs := range b.queues {
		qs.mu.Lock()
		remaining := len(qs.order)
		qs.mu.Unlock()
		if remaining > 0 {
			b.leaked.Add(float64(remaining))
			log.Error().Str("queueUrl", url).Int("count", remaining).
				Msg("ack: entries still pending after final stop flush")
		}
	}
	b.mu.Unlock()
}
