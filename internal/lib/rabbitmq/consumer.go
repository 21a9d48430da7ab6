package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/mixmaster/internal/lib/sl"
)

// ErrDiscard помечает сообщение, которое бессмысленно доставлять повторно.
var ErrDiscard = errors.New("discard message")

// Handler обрабатывает тело сообщения. Ошибка возвращает сообщение в очередь,
// если она не обёрнута в ErrDiscard.
type Handler func(ctx context.Context, body []byte) error

// ConsumerMessage читает очередь queueName и обрабатывает не более concurrency
// сообщений одновременно. Блокируется до отмены ctx или закрытия канала
// и дожидается завершения начатых обработчиков.
func ConsumerMessage(ctx context.Context, ch *amqp.Channel, queueName string, concurrency int, log *slog.Logger, handler Handler) error {
	const op = "rabbitmq.ConsumerMessage"
	delivery, err := ch.Consume(
		queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if concurrency < 1 {
		concurrency = 1
	}
	log = log.With(slog.String("op", op), slog.String("queue", queueName))

	var wg sync.WaitGroup
	defer wg.Wait()

	sem := make(chan struct{}, concurrency)
	for {
		select {
		case d, ok := <-delivery:
			if !ok {
				return nil
			}
			sem <- struct{}{}
			wg.Add(1)
			go func(d amqp.Delivery) {
				defer wg.Done()
				defer func() { <-sem }()
				handle(ctx, log, d, handler)
			}(d)
		case <-ctx.Done():
			return nil
		}
	}
}

func handle(ctx context.Context, log *slog.Logger, d amqp.Delivery, handler Handler) {
	err := handler(ctx, d.Body)
	switch {
	case err == nil:
		if ackErr := d.Ack(false); ackErr != nil {
			log.Error("failed to ack message", sl.Err(ackErr))
		}
	case errors.Is(err, ErrDiscard):
		log.Warn("message discarded", sl.Err(err))
		if nackErr := d.Nack(false, false); nackErr != nil {
			log.Error("failed to nack message", sl.Err(nackErr))
		}
	default:
		log.Error("message handler failed, requeueing", sl.Err(err))
		if nackErr := d.Nack(false, true); nackErr != nil {
			log.Error("failed to nack message", sl.Err(nackErr))
		}
	}
}
