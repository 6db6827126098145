package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
)

// ImageCleanup identifies an image whose task no longer exists.
type ImageCleanup struct {
	UserID string `json:"userId"`
	FileID string `json:"fileId"`
}

// CleanupMessage is a dequeued cleanup request.
type CleanupMessage struct {
	ID         string
	PopReceipt string
	Text       string
}

// CleanupQueue carries image cleanup requests.
type CleanupQueue struct {
	queue *azqueue.QueueClient
}

// NewCleanupQueue creates a CleanupQueue from the given connection string.
func NewCleanupQueue(connStr, queueName string) (*CleanupQueue, error) {
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, &azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	})
	if err != nil {
		return nil, err
	}
	return &CleanupQueue{queue: q}, nil
}

// EnqueueImageCleanup schedules deletion of an image.
func (q *CleanupQueue) EnqueueImageCleanup(ctx context.Context, req ImageCleanup) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	_, err = q.queue.EnqueueMessage(ctx, string(data), nil)
	return err
}

// Dequeue retrieves a single message. It returns nil when the queue is empty.
func (q *CleanupQueue) Dequeue(ctx context.Context) (*CleanupMessage, error) {
	resp, err := q.queue.DequeueMessage(ctx, nil)
	if err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		return nil, nil
	}
	m := resp.Messages[0]
	msg := &CleanupMessage{}
	if m.MessageID != nil {
		msg.ID = *m.MessageID
	}
	if m.PopReceipt != nil {
		msg.PopReceipt = *m.PopReceipt
	}
	if m.MessageText != nil {
		msg.Text = *m.MessageText
	}
	return msg, nil
}

// Delete removes a processed message from the queue.
func (q *CleanupQueue) Delete(ctx context.Context, id, popReceipt string) error {
	_, err := q.queue.DeleteMessage(ctx, id, popReceipt, nil)
	return err
}

// DecodeImageCleanup parses a cleanup message body.
func DecodeImageCleanup(text string) (ImageCleanup, error) {
	var req ImageCleanup
	err := json.Unmarshal([]byte(text), &req)
	return req, err
}
