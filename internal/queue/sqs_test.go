package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflow/agentflow/internal/errkind"
	"github.com/agentflow/agentflow/pkg/observability"
)

// fakeSQS holds messages in order and tracks deletions by receipt handle
type fakeSQS struct {
	messages []types.Message
	deleted  []string
	sendErr  error
	next     int
}

func (f *fakeSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	receipt := fmt.Sprintf("receipt-%d", len(f.messages)+1)
	f.messages = append(f.messages, types.Message{
		Body:          params.MessageBody,
		ReceiptHandle: aws.String(receipt),
	})
	return &sqs.SendMessageOutput{}, nil
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.next >= len(f.messages) {
		return &sqs.ReceiveMessageOutput{}, nil
	}
	msg := f.messages[f.next]
	f.next++
	return &sqs.ReceiveMessageOutput{Messages: []types.Message{msg}}, nil
}

func (f *fakeSQS) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(params.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func newSQSUnderTest(fake *fakeSQS) *SQSQueue {
	return NewSQSQueueWithClient(fake, "https://sqs.test/queue", observability.NewNoopLogger())
}

func TestSQSQueueRoundTrip(t *testing.T) {
	fake := &fakeSQS{}
	q := newSQSUnderTest(fake)
	ctx := context.Background()

	task := Task{
		ID:          "task-1",
		ExecutionID: "exec-1",
		Sequence:    3,
		Activity:    "publish_post",
		Input:       json.RawMessage(`{"brand":"Pomandi"}`),
	}
	require.NoError(t, q.Enqueue(ctx, task))
	require.Len(t, fake.messages, 1)

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "task-1", got.ID)
	assert.Equal(t, "publish_post", got.Activity)
	assert.Equal(t, int64(3), got.Sequence)
	assert.JSONEq(t, `{"brand":"Pomandi"}`, string(got.Input))
}

func TestSQSQueueAckDeletesMessage(t *testing.T) {
	fake := &fakeSQS{}
	q := newSQSUnderTest(fake)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Task{ID: "task-1"}))
	got, err := q.Dequeue(ctx)
	require.NoError(t, err)

	require.NoError(t, q.Ack(ctx, got))
	assert.Equal(t, []string{"receipt-1"}, fake.deleted)

	// A task without a receipt acknowledges as a no-op
	assert.NoError(t, q.Ack(ctx, &Task{ID: "local"}))
	assert.Len(t, fake.deleted, 1)
}

func TestSQSQueueDropsMalformedMessage(t *testing.T) {
	fake := &fakeSQS{messages: []types.Message{
		{Body: aws.String("not json"), ReceiptHandle: aws.String("bad-receipt")},
	}}
	q := newSQSUnderTest(fake)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Task{ID: "good"}))

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "good", got.ID)

	// The malformed message was deleted instead of being redelivered
	assert.Contains(t, fake.deleted, "bad-receipt")
}

func TestSQSQueueEnqueueFailureIsTransient(t *testing.T) {
	fake := &fakeSQS{sendErr: fmt.Errorf("throttled")}
	q := newSQSUnderTest(fake)

	err := q.Enqueue(context.Background(), Task{ID: "task-1"})
	require.Error(t, err)
	assert.Equal(t, errkind.Transient, errkind.KindOf(err))
}

func TestSQSQueueDequeueStopsOnContext(t *testing.T) {
	fake := &fakeSQS{}
	q := newSQSUnderTest(fake)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
