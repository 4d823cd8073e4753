// Package polling implements the polling loop: long-polls the queue,
// admits messages through the concurrency governor, spawns one
// processor per message, and paces repeated receive failures with
// jittered backoff instead of hammering a degraded endpoint.
package polling

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"go.msglistener.dev/governor"
	"go.msglistener.dev/queue"
)

// Config parameterises one Loop instance; all fields correspond
// directly to the container's per-queue polling configuration.
type Config struct {
	QueueURL            string
	MaxMessagesPerPoll  int32
	PollTimeout         time.Duration
	VisibilityTimeout   time.Duration
	PollingErrorBackoff time.Duration

	Client   queue.Client
	Governor *governor.Governor

	// Process handles one received message; invoked in its own
	// goroutine with the permits for that message already held. It must
	// not return until processing (including acknowledgement) is done;
	// the governor permit release happens inside Process itself.
	Process func(ctx context.Context, msg queue.RawMessage)
}

// Loop runs Config's polling cycle until its context is cancelled.
type Loop struct {
	cfg     Config
	limiter *rate.Limiter
	group   *errgroup.Group
}

// New constructs a Loop. PollingErrorBackoff seeds the jittered rate
// limiter used to pace repeated ReceiveMessages failures.
func New(cfg Config) *Loop {
	backoff := cfg.PollingErrorBackoff
	if backoff <= 0 {
		backoff = 5 * time.Second
	}
	return &Loop{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(backoff), 1),
		group:   &errgroup.Group{},
	}
}

// Run blocks, polling until ctx is cancelled. It never returns an error
// from ReceiveMessages failures; those are logged and backed off, and
// only ctx cancellation ends the loop.
func (l *Loop) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		window := l.cfg.MaxMessagesPerPoll
		if avail := int32(l.cfg.Governor.Available()); avail < window {
			window = avail
		}
		if window < 1 {
			window = 1
		}

		if err := l.cfg.Governor.Acquire(ctx, int(window)); err != nil {
			return
		}

		messages, err := l.cfg.Client.ReceiveMessages(ctx, l.cfg.QueueURL, window, l.cfg.PollTimeout, l.cfg.VisibilityTimeout)
		if err != nil {
			l.cfg.Governor.Release(int(window))
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Str("queueUrl", l.cfg.QueueURL).Msg("polling: receive failed, backing off")
			l.backoff(ctx)
			continue
		}

		// Release any permits reserved but unused by a short poll
		// response before spawning processors for the messages we did get.
		if unused := int(window) - len(messages); unused > 0 {
			l.cfg.Governor.Release(unused)
		}

		for _, msg := range messages {
			msg := msg
			l.group.Go(func() error {
				l.cfg.Process(ctx, msg)
				return nil
			})
		}
	}
}

// backoff sleeps pollingErrorBackoff (or the rate limiter's reservation
// delay, if longer) with up to ±20% jitter, respecting ctx cancellation.
func (l *Loop) backoff(ctx context.Context) {
	reservation := l.limiter.Reserve()
	if !reservation.OK() {
		return
	}
	base := l.cfg.PollingErrorBackoff
	if base <= 0 {
		base = 5 * time.Second
	}
	delay := reservation.Delay()
	if delay < base {
		delay = base
	}
	jitter := time.Duration(float64(delay) * (rand.Float64()*0.4 - 0.2))
	select {
	case <-time.After(delay + jitter):
	case <-ctx.Done():
		reservation.Cancel()
	}
}

// Drain waits for all spawned processors to return, or until ctx is
// cancelled, whichever comes first. Called by the container during
// stop after cancelling the Loop's Run context.
func (l *Loop) Drain(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		_ = l.group.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn().Str("queueUrl", l.cfg.QueueURL).Msg("polling: shutdown grace elapsed with processors still in flight")
	}
}
