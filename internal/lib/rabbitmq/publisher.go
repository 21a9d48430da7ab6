package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
)

// JobMessage — сообщение очереди задач.
type JobMessage struct {
	JobID string `json:"job_id"`
}

// Publisher публикует JSON-сообщения в один канал.
// Публикации в канал сериализуются.
type Publisher struct {
	mu  sync.Mutex
	ch  *amqp.Channel
	now func() time.Time
}

// NewPublisher создаёт Publisher поверх настроенного канала.
func NewPublisher(ch *amqp.Channel) *Publisher {
	return &Publisher{ch: ch, now: time.Now}
}

// PublishJob ставит задачу в очередь воркеров.
func (p *Publisher) PublishJob(ctx context.Context, jobID string) error {
	return p.Publish(ctx, JobsExchange, JobsRoutingKey, JobMessage{JobID: jobID})
}

// PublishJobFinished публикует уведомление о завершении задачи.
func (p *Publisher) PublishJobFinished(ctx context.Context, msg any) error {
	return p.Publish(ctx, NotificationsExchange, JobFinishedKey, msg)
}

// Publish сериализует message в JSON и публикует его как постоянное сообщение.
// Отменённый ctx не публикует ничего.
func (p *Publisher) Publish(ctx context.Context, exchange, routingKey string, message any) error {
	const op = "rabbitmq.Publish"
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.Publish(
		exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    p.now().UTC(),
			Type:         routingKey,
		},
	)
	if err != nil {
		return fmt.Errorf("%s %s/%s: %w", op, exchange, routingKey, err)
	}
	return nil
}
