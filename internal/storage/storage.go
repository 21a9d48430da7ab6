// Package storage описывает контракты хранилищ аккаунтов, резервирований,
// задач и платёжных событий. Реализации находятся в подпакетах
// repository (PostgreSQL) и memory (в памяти процесса).
package storage

import (
	"context"
	"time"

	"github.com/magabrotheeeer/mixmaster/internal/jobstate"
	"github.com/magabrotheeeer/mixmaster/internal/models"
)

// AccountTx — область, в которой аккаунт заблокирован для других изменений.
// Все записи внутри области применяются атомарно: либо все, либо ни одна.
type AccountTx interface {
	// Account возвращает заблокированный аккаунт. Изменения сохраняются через SaveAccount.
	Account() *models.Account
	// SaveAccount сохраняет изменённый аккаунт.
	SaveAccount(ctx context.Context, acc *models.Account) error
	// GetReservation возвращает резервирование аккаунта по ID.
	GetReservation(ctx context.Context, id string) (*models.Reservation, error)
	// FindActiveReservation возвращает активное резервирование задачи или models.ErrNotFound.
	FindActiveReservation(ctx context.Context, jobID string) (*models.Reservation, error)
	// InsertReservation сохраняет новое резервирование.
	InsertReservation(ctx context.Context, r *models.Reservation) error
	// UpdateReservationStatus меняет статус резервирования.
	UpdateReservationStatus(ctx context.Context, id string, status models.ReservationStatus, at time.Time) error
	// MarkEventProcessed отмечает событие провайдера обработанным.
	// Возвращает false, если событие уже было отмечено раньше.
	MarkEventProcessed(ctx context.Context, providerEventID string, at time.Time) (bool, error)
	// InsertTransaction добавляет запись в историю платежей.
	InsertTransaction(ctx context.Context, t *models.Transaction) error
}

// LedgerRepository — хранилище Entitlement Ledger.
type LedgerRepository interface {
	// CreateAccount создаёт аккаунт или возвращает models.ErrAlreadyExists.
	CreateAccount(ctx context.Context, acc *models.Account) error
	// GetAccount возвращает аккаунт по ID.
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	// GetReservation возвращает резервирование по ID без блокировки аккаунта.
	GetReservation(ctx context.Context, id string) (*models.Reservation, error)
	// GetReservationByJob возвращает последнее резервирование задачи.
	GetReservationByJob(ctx context.Context, jobID string) (*models.Reservation, error)
	// ListTransactions возвращает историю платежей аккаунта, новые первыми.
	ListTransactions(ctx context.Context, accountID string, limit, offset int) ([]*models.Transaction, error)
	// ListLapsedSubscriptions возвращает ID аккаунтов, чей оплаченный период закончился до now,
	// а подписка ещё не помечена истёкшей.
	ListLapsedSubscriptions(ctx context.Context, now time.Time) ([]string, error)
	// ListStaleReservations возвращает резервирования в статусе reserved,
	// созданные раньше cutoff, старые первыми.
	ListStaleReservations(ctx context.Context, cutoff time.Time, limit int) ([]*models.Reservation, error)
	// WithAccount выполняет fn в области, исключительной для accountID.
	WithAccount(ctx context.Context, accountID string, fn func(tx AccountTx) error) error
}

// JobUpdate — изменение задачи, применяемое сравнением с ожидаемым состоянием.
type JobUpdate struct {
	State           jobstate.State
	Progress        int
	OutputReference string
	ErrorDetail     string
	At              time.Time
}

// JobRepository — хранилище задач.
type JobRepository interface {
	// CreateJob сохраняет новую задачу.
	CreateJob(ctx context.Context, job *models.Job) error
	// GetJob возвращает задачу по ID или models.ErrNotFound.
	GetJob(ctx context.Context, id string) (*models.Job, error)
	// UpdateJob применяет upd, только если текущее состояние задачи равно from.
	// Иначе возвращает models.ErrInvalidState.
	UpdateJob(ctx context.Context, id string, from jobstate.State, upd JobUpdate) error
	// ListJobsByOwner возвращает задачи владельца, новые первыми.
	ListJobsByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*models.Job, error)
	// ListStaleJobs возвращает нетерминальные задачи, созданные раньше cutoff.
	ListStaleJobs(ctx context.Context, cutoff time.Time, limit int) ([]*models.Job, error)
}
