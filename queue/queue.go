// Package queue defines the narrow operations surface the container
// needs from a cloud-hosted pull-based queue service. Concrete backends
// (e.g. package sqs) implement Client against their vendor SDK; the
// container never talks to a vendor SDK directly.
package queue

import (
	"context"
	"time"
)

// RawMessage is a message as received from the queue, before any
// decoding or validation. It is destroyed (by the caller letting it go
// out of scope) once acknowledged or once the processor releases it
// unacked.
type RawMessage struct {
	ID                 string
	ReceiptHandle      string
	Body               []byte
	Attributes         map[string]string
	SystemAttributes   map[string]string
	ApproxReceiveCount int
	QueueURL           string
}

// BatchEntry identifies one message within a DeleteMessageBatch call.
type BatchEntry struct {
	ID            string
	ReceiptHandle string
}

// BatchFailure reports a single entry's failure within a
// DeleteMessageBatch response.
type BatchFailure struct {
	ID          string
	ErrorKind   string
	SenderFault bool
	Message     string
}

// BatchResult is the outcome of a DeleteMessageBatch call.
type BatchResult struct {
	Successes []string
	Failures  []BatchFailure
}

// Client is the vendor-neutral contract the container depends on.
// Implementations never retry internally; the polling loop and the
// ack batcher own retry/backoff so that Client stays a thin, testable
// wrapper over the underlying SDK.
type Client interface {
	// ReceiveMessages long-polls for up to maxMessages messages.
	// maxMessages must be in [1,10]; pollTimeout in [0,20] seconds.
	ReceiveMessages(ctx context.Context, queueURL string, maxMessages int32, pollTimeout time.Duration, visibilityTimeout time.Duration) ([]RawMessage, error)

	// DeleteMessage acknowledges a single message.
	DeleteMessage(ctx context.Context, queueURL, receiptHandle string) error

	// DeleteMessageBatch acknowledges up to 10 messages sharing one
	// queueURL in a single call.
	DeleteMessageBatch(ctx context.Context, queueURL string, entries []BatchEntry) (BatchResult, error)

	// ResolveQueueURL resolves a queue name to its URL. Implementations
	// are expected to memoise this per queue name.
	ResolveQueueURL(ctx context.Context, name string) (string, error)
}
