package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"
)

// Message is the envelope consumed by the external mailer.
type Message struct {
	ID        string    `json:"id"`
	To        string    `json:"to"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

type enqueuer interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// Queue hands reminders to an Azure Storage queue. Delivery is best effort:
// once the message is accepted by the queue it is out of our hands.
type Queue struct {
	q   enqueuer
	now func() time.Time
}

func NewQueue(connStr, queueName string) (*Queue, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	qc, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, &opts)
	if err != nil {
		return nil, err
	}
	return &Queue{q: qc, now: time.Now}, nil
}

func (n *Queue) Send(ctx context.Context, address, subject, body string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return errors.New("notify: empty address")
	}
	msg := Message{
		ID:        uuid.NewString(),
		To:        address,
		Subject:   subject,
		Body:      body,
		CreatedAt: n.now().UTC(),
	}
	data, err := sonic.Marshal(msg)
	if err != nil {
		return err
	}
	if _, err := n.q.EnqueueMessage(ctx, string(data), nil); err != nil {
		return fmt.Errorf("enqueue notification %s: %w", msg.ID, err)
	}
	return nil
}
