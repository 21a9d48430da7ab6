package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/streadway/amqp"
	"golang.org/x/sync/errgroup"

	"github.com/magabrotheeeer/mixmaster/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/mixmaster/internal/lib/sl"
	"github.com/magabrotheeeer/mixmaster/internal/models"
)

// Runner выполняет задачу. Реализуется Orchestrator.
type Runner interface {
	Run(ctx context.Context, jobID string) error
}

// ErrQueueFull возвращается, когда локальная очередь задач заполнена.
var ErrQueueFull = errors.New("job queue is full")

// InProcess выполняет задачи пулом горутин внутри процесса.
type InProcess struct {
	queue   chan string
	workers int
	log     *slog.Logger
}

// NewInProcess создаёт пул из workers воркеров с очередью на buffer задач.
func NewInProcess(workers, buffer int, log *slog.Logger) *InProcess {
	if workers < 1 {
		workers = 1
	}
	return &InProcess{
		queue:   make(chan string, buffer),
		workers: workers,
		log:     log,
	}
}

// Dispatch ставит задачу в очередь без ожидания.
func (p *InProcess) Dispatch(ctx context.Context, jobID string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case p.queue <- jobID:
		return nil
	default:
		return ErrQueueFull
	}
}

// Start запускает воркеры и блокируется до отмены ctx.
func (p *InProcess) Start(ctx context.Context, runner Runner) error {
	const op = "orchestrator.InProcess"
	g, ctx := errgroup.WithContext(ctx)
	for range p.workers {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case jobID := <-p.queue:
					if err := runner.Run(ctx, jobID); err != nil {
						p.log.Error("job run failed", slog.String("op", op), sl.JobID(jobID), sl.Err(err))
					}
				}
			}
		})
	}
	return g.Wait()
}

// AMQP публикует задачи в обменник jobs для воркеров в других процессах.
type AMQP struct {
	pub *rabbitmq.Publisher
}

// NewAMQP создаёт публикатор задач поверх настроенного канала.
func NewAMQP(ch *amqp.Channel) *AMQP {
	return &AMQP{pub: rabbitmq.NewPublisher(ch)}
}

// Dispatch публикует идентификатор задачи.
func (a *AMQP) Dispatch(ctx context.Context, jobID string) error {
	return a.pub.PublishJob(ctx, jobID)
}

// ConsumeJobs читает очередь задач и выполняет их через runner, не больше
// concurrency одновременно. Блокируется до отмены ctx.
func ConsumeJobs(ctx context.Context, ch *amqp.Channel, queue string, concurrency int, runner Runner, log *slog.Logger) error {
	return rabbitmq.ConsumerMessage(ctx, ch, queue, concurrency, log, JobHandler(runner))
}

// JobHandler разбирает сообщение очереди и выполняет задачу.
// Неразбираемые сообщения и неизвестные задачи не возвращаются в очередь.
func JobHandler(runner Runner) rabbitmq.Handler {
	return func(ctx context.Context, body []byte) error {
		var msg rabbitmq.JobMessage
		if err := json.Unmarshal(body, &msg); err != nil || msg.JobID == "" {
			return fmt.Errorf("bad job message: %w", rabbitmq.ErrDiscard)
		}
		err := runner.Run(ctx, msg.JobID)
		if errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("job %s: %w: %w", msg.JobID, rabbitmq.ErrDiscard, err)
		}
		return err
	}
}

// AMQPNotifier публикует уведомления о завершении задач.
type AMQPNotifier struct {
	pub *rabbitmq.Publisher
}

// NewAMQPNotifier создаёт публикатор уведомлений.
func NewAMQPNotifier(ch *amqp.Channel) *AMQPNotifier {
	return &AMQPNotifier{pub: rabbitmq.NewPublisher(ch)}
}

// JobFinishedMessage — уведомление о завершении задачи.
type JobFinishedMessage struct {
	JobID           string `json:"job_id"`
	AccountID       string `json:"account_id"`
	State           string `json:"state"`
	OutputReference string `json:"output_reference,omitempty"`
	ErrorDetail     string `json:"error_detail,omitempty"`
	FinishedAt      string `json:"finished_at"`
}

// JobFinished публикует уведомление.
func (n *AMQPNotifier) JobFinished(ctx context.Context, job *models.Job) error {
	msg := JobFinishedMessage{
		JobID:           job.ID,
		AccountID:       job.OwnerAccountID,
		State:           string(job.State),
		OutputReference: job.OutputReference,
		ErrorDetail:     job.ErrorDetail,
		FinishedAt:      job.UpdatedAt.UTC().Format(time.RFC3339),
	}
	return n.pub.PublishJobFinished(ctx, msg)
}
