// Package sqs provides the AWS SQS implementation of queue.Client.
package sqs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"go.msglistener.dev/queue"
)

// API is the subset of the generated SQS client the container needs,
// kept as an interface so tests can supply a fake.
type API interface {
	ReceiveMessage(ctx context.Context, params *awssqs.ReceiveMessageInput, optFns ...func(*awssqs.Options)) (*awssqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *awssqs.DeleteMessageInput, optFns ...func(*awssqs.Options)) (*awssqs.DeleteMessageOutput, error)
	DeleteMessageBatch(ctx context.Context, params *awssqs.DeleteMessageBatchInput, optFns ...func(*awssqs.Options)) (*awssqs.DeleteMessageBatchOutput, error)
	GetQueueUrl(ctx context.Context, params *awssqs.GetQueueUrlInput, optFns ...func(*awssqs.Options)) (*awssqs.GetQueueUrlOutput, error)
}

// Client is the production queue.Client backed by AWS SQS. Calls that
// cross the network (receive/delete/batch-delete) are routed through a
// circuit breaker so a degraded endpoint fails fast during a
// pollingErrorBackoff storm instead of adding load to SQS.
type Client struct {
	api     API
	breaker *gobreaker.CircuitBreaker

	urlCacheMu sync.RWMutex
	urlCache   map[string]string
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithCircuitBreaker overrides the default gobreaker settings.
func WithCircuitBreaker(settings gobreaker.Settings) Option {
	return func(c *Client) {
		c.breaker = gobreaker.NewCircuitBreaker(settings)
	}
}

func defaultBreakerSettings() gobreaker.Settings {
	return gobreaker.Settings{
		Name:        "sqs-client",
		MaxRequests: 5,
		Interval:    60 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 10 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("sqs circuit breaker state changed")
		},
	}
}

// New creates a Client using the default AWS configuration chain
// (environment, shared config, IAM role, ...).
func New(ctx context.Context, region string, opts ...Option) (*Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("sqs: load aws config: %w", err)
	}
	return newClient(awssqs.NewFromConfig(cfg), opts...), nil
}

// NewWithEndpoint creates a Client pointed at a custom SQS-compatible
// endpoint (e.g. LocalStack) with static credentials, for integration
// tests.
func NewWithEndpoint(ctx context.Context, region, endpoint, accessKeyID, secretAccessKey string, opts ...Option) (*Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("sqs: load aws config: %w", err)
	}
	api := awssqs.NewFromConfig(cfg, func(o *awssqs.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})
	return newClient(api, opts...), nil
}

// NewFromAPI wraps an already-constructed SQS API client (or a test
// fake implementing API).
func NewFromAPI(api API, opts ...Option) *Client {
	return newClient(api, opts...)
}

func newClient(api API, opts ...Option) *Client {
	c := &Client{
		api:      api,
		breaker:  gobreaker.NewCircuitBreaker(defaultBreakerSettings()),
		urlCache: make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ReceiveMessages implements queue.Client.
func (c *Client) ReceiveMessages(ctx context.Context, queueURL string, maxMessages int32, pollTimeout, visibilityTimeout time.Duration) ([]queue.RawMessage, error) {
	if maxMessages < 1 || maxMessages > 10 {
		return nil, fmt.Errorf("sqs: maxMessages must be in [1,10], got %d", maxMessages)
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.api.ReceiveMessage(ctx, &awssqs.ReceiveMessageInput{
			QueueUrl:              aws.String(queueURL),
			MaxNumberOfMessages:   maxMessages,
			WaitTimeSeconds:       int32(pollTimeout / time.Second),
			VisibilityTimeout:     int32(visibilityTimeout / time.Second),
			MessageAttributeNames: []string{"All"},
			AttributeNames:        []types.QueueAttributeName{"All"},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("sqs: receive messages: %w", err)
	}

	result := out.(*awssqs.ReceiveMessageOutput)
	messages := make([]queue.RawMessage, 0, len(result.Messages))
	for _, m := range result.Messages {
		attrs := make(map[string]string, len(m.MessageAttributes))
		for k, v := range m.MessageAttributes {
			if v.StringValue != nil {
				attrs[k] = *v.StringValue
			}
		}
		sysAttrs := make(map[string]string, len(m.Attributes))
		for k, v := range m.Attributes {
			sysAttrs[k] = v
		}
		approx := 0
		if raw, ok := m.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]; ok {
			fmt.Sscanf(raw, "%d", &approx)
		}
		messages = append(messages, queue.RawMessage{
			ID:                 aws.ToString(m.MessageId),
			ReceiptHandle:      aws.ToString(m.ReceiptHandle),
			Body:               []byte(aws.ToString(m.Body)),
			Attributes:         attrs,
			SystemAttributes:   sysAttrs,
			ApproxReceiveCount: approx,
			QueueURL:           queueURL,
		})
	}
	return messages, nil
}

// DeleteMessage implements queue.Client.
func (c *Client) DeleteMessage(ctx context.Context, queueURL, receiptHandle string) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return c.api.DeleteMessage(ctx, &awssqs.DeleteMessageInput{
			QueueUrl:      aws.String(queueURL),
			ReceiptHandle: aws.String(receiptHandle),
		})
	})
	if err != nil {
		return fmt.Errorf("sqs: delete message: %w", err)
	}
	return nil
}

// DeleteMessageBatch implements queue.Client.
func (c *Client) DeleteMessageBatch(ctx context.Context, queueURL string, entries []queue.BatchEntry) (queue.BatchResult, error) {
	if len(entries) == 0 {
		return queue.BatchResult{}, nil
	}
	if len(entries) > 10 {
		return queue.BatchResult{}, fmt.Errorf("sqs: batch delete accepts at most 10 entries, got %d", len(entries))
	}

	reqEntries := make([]types.DeleteMessageBatchRequestEntry, 0, len(entries))
	for _, e := range entries {
		reqEntries = append(reqEntries, types.DeleteMessageBatchRequestEntry{
			Id:            aws.String(e.ID),
			ReceiptHandle: aws.String(e.ReceiptHandle),
		})
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.api.DeleteMessageBatch(ctx, &awssqs.DeleteMessageBatchInput{
			QueueUrl: aws.String(queueURL),
			Entries:  reqEntries,
		})
	})
	if err != nil {
		return queue.BatchResult{}, fmt.Errorf("sqs: delete message batch: %w", err)
	}

	result := out.(*awssqs.DeleteMessageBatchOutput)
	br := queue.BatchResult{Successes: make([]string, 0, len(result.Successful))}
	for _, s := range result.Successful {
		br.Successes = append(br.Successes, aws.ToString(s.Id))
	}
	for _, f := range result.Failed {
		br.Failures = append(br.Failures, queue.BatchFailure{
			ID:          aws.ToString(f.Id),
			ErrorKind:   aws.ToString(f.Code),
			SenderFault: f.SenderFault,
			Message:     aws.ToString(f.Message),
		})
	}
	return br, nil
}

// ResolveQueueURL implements queue.Client, memoising the result per
// queue name for the life of the Client.
func (c *Client) ResolveQueueURL(ctx context.Context, name string) (string, error) {
	c.urlCacheMu.RLock()
	url, ok := c.urlCache[name]
	c.urlCacheMu.RUnlock()
	if ok {
		return url, nil
	}

	out, err := c.api.GetQueueUrl(ctx, &awssqs.GetQueueUrlInput{QueueName: aws.String(name)})
	if err != nil {
		return "", fmt.Errorf("sqs: resolve queue url for %q: %w", name, err)
	}
	url = aws.ToString(out.QueueUrl)

	c.urlCacheMu.Lock()
	c.urlCache[name] = url
	c.urlCacheMu.Unlock()
	return url, nil
}
