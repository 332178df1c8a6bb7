package sqs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu       sync.Mutex
	seq      int
	messages []types.Message
	deleted  []string

	lastMax  int32
	lastWait int32
}

func (f *fakeAPI) SendMessage(_ context.Context, in *awssqs.SendMessageInput, _ ...func(*awssqs.Options)) (*awssqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := aws.String(time.Now().Format("20060102") + "-" + aws.ToString(in.MessageBody))
	f.messages = append(f.messages, types.Message{
		MessageId:     id,
		ReceiptHandle: aws.String("rcpt-" + aws.ToString(id)),
		Body:          in.MessageBody,
	})
	return &awssqs.SendMessageOutput{MessageId: id}, nil
}

func (f *fakeAPI) ReceiveMessage(_ context.Context, in *awssqs.ReceiveMessageInput, _ ...func(*awssqs.Options)) (*awssqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastMax = in.MaxNumberOfMessages
	f.lastWait = in.WaitTimeSeconds
	n := int(in.MaxNumberOfMessages)
	if n > len(f.messages) {
		n = len(f.messages)
	}
	return &awssqs.ReceiveMessageOutput{Messages: f.messages[:n]}, nil
}

func (f *fakeAPI) DeleteMessage(_ context.Context, in *awssqs.DeleteMessageInput, _ ...func(*awssqs.Options)) (*awssqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &awssqs.DeleteMessageOutput{}, nil
}

func (f *fakeAPI) GetQueueAttributes(_ context.Context, _ *awssqs.GetQueueAttributesInput, _ ...func(*awssqs.Options)) (*awssqs.GetQueueAttributesOutput, error) {
	return &awssqs.GetQueueAttributesOutput{}, nil
}

func newTestClient(t *testing.T) (*client, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{}
	c, err := newClientWithAPI(api, "https://sqs.example.com/q/work", 0)
	require.NoError(t, err)
	return c, api
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)

	_, err = newClientWithAPI(&fakeAPI{}, "", 0)
	require.Error(t, err)
}

func TestSendReceiveDeleteRoundTrip(t *testing.T) {
	c, api := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.Send(ctx, []byte(`{"wfId":"wf-1"}`)))

	msgs, err := c.Receive(ctx, 5, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, []byte(`{"wfId":"wf-1"}`), msgs[0].Body)
	require.NotEmpty(t, msgs[0].ID)
	require.NotEmpty(t, msgs[0].Receipt)

	require.NoError(t, c.Delete(ctx, msgs[0].Receipt))
	require.Equal(t, []string{msgs[0].Receipt}, api.deleted)
}

func TestReceiveClampsToServiceLimits(t *testing.T) {
	c, api := newTestClient(t)
	ctx := context.Background()

	_, err := c.Receive(ctx, 50, time.Minute)
	require.NoError(t, err)
	require.Equal(t, int32(10), api.lastMax)
	require.Equal(t, int32(20), api.lastWait)

	_, err = c.Receive(ctx, 0, -time.Second)
	require.NoError(t, err)
	require.Equal(t, int32(10), api.lastMax)
	require.Equal(t, int32(0), api.lastWait)
}

func TestDeleteRequiresReceipt(t *testing.T) {
	c, _ := newTestClient(t)
	require.Error(t, c.Delete(context.Background(), ""))
}

func TestPing(t *testing.T) {
	c, _ := newTestClient(t)
	require.NoError(t, c.Ping(context.Background()))
	require.Equal(t, clientName, c.Name())
}
