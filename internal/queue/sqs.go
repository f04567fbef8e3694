package queue

import (
	"context"
	"encoding/json"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/agentflow/agentflow/internal/errkind"
	"github.com/agentflow/agentflow/pkg/observability"
)

// SQSAPI is the subset of the SQS client the queue needs; tests provide
// their own implementation.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSQueue implements Queue on Amazon SQS
type SQSQueue struct {
	client   SQSAPI
	queueURL string
	logger   observability.Logger
}

// NewSQSQueue creates an SQS-backed queue using the default AWS config chain
func NewSQSQueue(ctx context.Context, queueURL, region string, logger observability.Logger) (*SQSQueue, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return &SQSQueue{client: sqs.NewFromConfig(cfg), queueURL: queueURL, logger: logger}, nil
}

// NewSQSQueueWithClient injects a client, used by tests
func NewSQSQueueWithClient(client SQSAPI, queueURL string, logger observability.Logger) *SQSQueue {
	return &SQSQueue{client: client, queueURL: queueURL, logger: logger}
}

// Enqueue sends the task as a JSON message
func (q *SQSQueue) Enqueue(ctx context.Context, task Task) error {
	body, err := json.Marshal(task)
	if err != nil {
		return errkind.Wrap(errkind.Internal, "queue.Enqueue", err)
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return errkind.Wrap(errkind.Transient, "queue.Enqueue", err)
	}
	return nil
}

// Dequeue long-polls for one task. A nil error with a task is returned
// on delivery; polling continues until the context ends.
func (q *SQSQueue) Dequeue(ctx context.Context) (*Task, error) {
	for {
		out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(q.queueURL),
			MaxNumberOfMessages: 1,
			WaitTimeSeconds:     20,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, errkind.Wrap(errkind.Transient, "queue.Dequeue", err)
		}
		if len(out.Messages) == 0 {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}

		msg := out.Messages[0]
		var task Task
		if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &task); err != nil {
			// A malformed message must not wedge the queue; drop it
			q.logger.Error("Dropping malformed task message", map[string]interface{}{"error": err.Error()})
			_, _ = q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
				QueueUrl:      aws.String(q.queueURL),
				ReceiptHandle: msg.ReceiptHandle,
			})
			continue
		}
		task.receipt = aws.ToString(msg.ReceiptHandle)
		return &task, nil
	}
}

// Ack deletes the message so it is not redelivered
func (q *SQSQueue) Ack(ctx context.Context, task *Task) error {
	if task.receipt == "" {
		return nil
	}
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(task.receipt),
	})
	if err != nil {
		return errkind.Wrap(errkind.Transient, "queue.Ack", err)
	}
	return nil
}

// Close is a no-op; the SQS client holds no local resources
func (q *SQSQueue) Close() error { return nil }
