// Package scheduler периодически запускает служебные задачи: возврат зависших
// задач обработки и перевод просроченных подписок в past_due.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/magabrotheeeer/mixmaster/internal/lib/sl"
)

// TaskFunc выполняет один проход задачи и возвращает число обработанных записей.
type TaskFunc func(ctx context.Context) (int, error)

// Task — периодическая задача.
type Task struct {
	Name     string
	Interval time.Duration
	Fn       TaskFunc
}

// Reaper возвращает зависшие задачи обработки.
type Reaper interface {
	ReapStale(ctx context.Context) (int, error)
}

// Expirer переводит подписки с истёкшим периодом в past_due.
type Expirer interface {
	ExpireSubscriptions(ctx context.Context) (int, error)
}

// Service запускает задачи по таймерам.
type Service struct {
	tasks []Task
	log   *slog.Logger
}

// New создаёт Service.
func New(log *slog.Logger, tasks ...Task) *Service {
	return &Service{tasks: tasks, log: log}
}

// Maintenance возвращает стандартный набор задач.
func Maintenance(reaper Reaper, expirer Expirer, reapEvery, expireEvery time.Duration) []Task {
	return []Task{
		{Name: "reap_stale_jobs", Interval: reapEvery, Fn: reaper.ReapStale},
		{Name: "expire_subscriptions", Interval: expireEvery, Fn: expirer.ExpireSubscriptions},
	}
}

// Run выполняет каждую задачу сразу и затем с её интервалом.
// Блокируется до отмены ctx.
func (s *Service) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, task := range s.tasks {
		if task.Interval <= 0 {
			s.log.Warn("task disabled", slog.String("task", task.Name))
			continue
		}
		wg.Add(1)
		go func(task Task) {
			defer wg.Done()
			s.loop(ctx, task)
		}(task)
	}
	wg.Wait()
	s.log.Info("scheduler stopped")
}

func (s *Service) loop(ctx context.Context, task Task) {
	s.runOnce(ctx, task)

	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, task)
		}
	}
}

func (s *Service) runOnce(ctx context.Context, task Task) {
	const op = "scheduler.runOnce"
	log := s.log.With(slog.String("op", op), slog.String("task", task.Name))

	n, err := task.Fn(ctx)
	if err != nil {
		log.Error("task failed", sl.Err(err))
		return
	}
	if n == 0 {
		log.Debug("nothing to do")
		return
	}
	log.Info("task finished", slog.Int("processed", n))
}
