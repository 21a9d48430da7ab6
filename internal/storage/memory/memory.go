// Package memory реализует хранилища аккаунтов и задач в памяти процесса.
// Используется в режиме одного процесса без PostgreSQL и в тестах.
//
// Изменения аккаунта сериализуются мьютексом по ID аккаунта,
// общий мьютекс защищает только доступ к картам и не удерживается
// на время бизнес-операции.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/magabrotheeeer/mixmaster/internal/jobstate"
	"github.com/magabrotheeeer/mixmaster/internal/lib/keymutex"
	"github.com/magabrotheeeer/mixmaster/internal/models"
	"github.com/magabrotheeeer/mixmaster/internal/storage"
)

// Storage хранит данные в картах.
type Storage struct {
	mu           sync.RWMutex
	accounts     map[string]*models.Account
	reservations map[string]*models.Reservation
	events       map[string]time.Time
	transactions map[string][]*models.Transaction
	jobs         map[string]*models.Job

	accountLocks *keymutex.KeyMutex
}

// New создаёт пустое хранилище.
func New() *Storage {
	return &Storage{
		accounts:     make(map[string]*models.Account),
		reservations: make(map[string]*models.Reservation),
		events:       make(map[string]time.Time),
		transactions: make(map[string][]*models.Transaction),
		jobs:         make(map[string]*models.Job),
		accountLocks: keymutex.New(),
	}
}

var (
	_ storage.LedgerRepository = (*Storage)(nil)
	_ storage.JobRepository    = (*Storage)(nil)
)

// CreateAccount создаёт аккаунт.
func (s *Storage) CreateAccount(ctx context.Context, acc *models.Account) error {
	const op = "memory.CreateAccount"
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[acc.ID]; ok {
		return fmt.Errorf("%s: %w", op, models.ErrAlreadyExists)
	}
	s.accounts[acc.ID] = acc.Clone()
	return nil
}

// GetAccount возвращает копию аккаунта.
func (s *Storage) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	const op = "memory.GetAccount"
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	return acc.Clone(), nil
}

// GetReservation возвращает копию резервирования.
func (s *Storage) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	const op = "memory.GetReservation"
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reservations[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	c := *r
	return &c, nil
}

// GetReservationByJob возвращает последнее резервирование задачи.
func (s *Storage) GetReservationByJob(ctx context.Context, jobID string) (*models.Reservation, error) {
	const op = "memory.GetReservationByJob"
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *models.Reservation
	for _, r := range s.reservations {
		if r.JobID != jobID {
			continue
		}
		switch {
		case found == nil:
			found = r
		case r.Active() && !found.Active():
			found = r
		case r.Active() == found.Active() && r.CreatedAt.After(found.CreatedAt):
			found = r
		}
	}
	if found == nil {
		return nil, fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	c := *found
	return &c, nil
}

// ListTransactions возвращает историю платежей аккаунта.
func (s *Storage) ListTransactions(ctx context.Context, accountID string, limit, offset int) ([]*models.Transaction, error) {
	const op = "memory.ListTransactions"
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.transactions[accountID]
	result := make([]*models.Transaction, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		c := *all[i]
		result = append(result, &c)
	}
	return page(result, limit, offset), nil
}

// ListLapsedSubscriptions возвращает аккаунты с закончившимся периодом подписки.
func (s *Storage) ListLapsedSubscriptions(ctx context.Context, now time.Time) ([]string, error) {
	const op = "memory.ListLapsedSubscriptions"
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, acc := range s.accounts {
		if acc.CurrentPeriodEnd == nil || acc.CurrentPeriodEnd.After(now) {
			continue
		}
		switch acc.SubscriptionState {
		case models.SubscriptionActive, models.SubscriptionCanceledPendingPeriodEnd, models.SubscriptionPastDue:
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// ListStaleReservations возвращает зависшие резервирования.
func (s *Storage) ListStaleReservations(ctx context.Context, cutoff time.Time, limit int) ([]*models.Reservation, error) {
	const op = "memory.ListStaleReservations"
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*models.Reservation
	for _, r := range s.reservations {
		if r.Status != models.ReservationReserved || !r.CreatedAt.Before(cutoff) {
			continue
		}
		c := *r
		result = append(result, &c)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return page(result, limit, 0), nil
}

// WithAccount выполняет fn, удерживая блокировку аккаунта.
// Записи fn применяются только при успешном завершении.
func (s *Storage) WithAccount(ctx context.Context, accountID string, fn func(tx storage.AccountTx) error) error {
	const op = "memory.WithAccount"
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	unlock := s.accountLocks.Lock(accountID)
	defer unlock()

	acc, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	tx := &accountTx{
		s:            s,
		account:      acc,
		reservations: make(map[string]*models.Reservation),
		events:       make(map[string]time.Time),
	}
	if err := fn(tx); err != nil {
		return err
	}
	s.apply(tx)
	return nil
}

func (s *Storage) apply(tx *accountTx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.accountDirty {
		s.accounts[tx.account.ID] = tx.account.Clone()
	}
	for id, r := range tx.reservations {
		c := *r
		s.reservations[id] = &c
	}
	for id, at := range tx.events {
		s.events[id] = at
	}
	for _, t := range tx.transactions {
		c := *t
		s.transactions[c.AccountID] = append(s.transactions[c.AccountID], &c)
	}
}

type accountTx struct {
	s            *Storage
	account      *models.Account
	accountDirty bool
	reservations map[string]*models.Reservation
	events       map[string]time.Time
	transactions []*models.Transaction
}

func (tx *accountTx) Account() *models.Account {
	return tx.account
}

func (tx *accountTx) SaveAccount(_ context.Context, acc *models.Account) error {
	tx.account = acc.Clone()
	tx.accountDirty = true
	return nil
}

func (tx *accountTx) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	if r, ok := tx.reservations[id]; ok {
		c := *r
		return &c, nil
	}
	r, err := tx.s.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.AccountID != tx.account.ID {
		return nil, fmt.Errorf("memory.GetReservation: %w", models.ErrNotFound)
	}
	return r, nil
}

func (tx *accountTx) FindActiveReservation(_ context.Context, jobID string) (*models.Reservation, error) {
	for _, r := range tx.reservations {
		if r.JobID == jobID && r.Active() {
			c := *r
			return &c, nil
		}
	}
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	for id, r := range tx.s.reservations {
		if _, staged := tx.reservations[id]; staged {
			continue
		}
		if r.JobID == jobID && r.Active() {
			c := *r
			return &c, nil
		}
	}
	return nil, fmt.Errorf("memory.FindActiveReservation: %w", models.ErrNotFound)
}

func (tx *accountTx) InsertReservation(_ context.Context, r *models.Reservation) error {
	c := *r
	tx.reservations[r.ID] = &c
	return nil
}

func (tx *accountTx) UpdateReservationStatus(ctx context.Context, id string, status models.ReservationStatus, at time.Time) error {
	r, err := tx.GetReservation(ctx, id)
	if err != nil {
		return err
	}
	r.Status = status
	r.UpdatedAt = at
	tx.reservations[id] = r
	return nil
}

func (tx *accountTx) MarkEventProcessed(_ context.Context, providerEventID string, at time.Time) (bool, error) {
	if _, ok := tx.events[providerEventID]; ok {
		return false, nil
	}
	tx.s.mu.RLock()
	_, seen := tx.s.events[providerEventID]
	tx.s.mu.RUnlock()
	if seen {
		return false, nil
	}
	tx.events[providerEventID] = at
	return true, nil
}

func (tx *accountTx) InsertTransaction(_ context.Context, t *models.Transaction) error {
	c := *t
	tx.transactions = append(tx.transactions, &c)
	return nil
}

// CreateJob сохраняет задачу.
func (s *Storage) CreateJob(ctx context.Context, job *models.Job) error {
	const op = "memory.CreateJob"
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("%s: %w", op, models.ErrAlreadyExists)
	}
	c := *job
	s.jobs[job.ID] = &c
	return nil
}

// GetJob возвращает копию задачи.
func (s *Storage) GetJob(ctx context.Context, id string) (*models.Job, error) {
	const op = "memory.GetJob"
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	c := *job
	return &c, nil
}

// UpdateJob применяет изменение, если задача находится в состоянии from.
func (s *Storage) UpdateJob(ctx context.Context, id string, from jobstate.State, upd storage.JobUpdate) error {
	const op = "memory.UpdateJob"
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	if job.State != from {
		return fmt.Errorf("%s: job %s is %s, expected %s: %w", op, id, job.State, from, models.ErrInvalidState)
	}
	job.State = upd.State
	job.Progress = upd.Progress
	if upd.OutputReference != "" {
		job.OutputReference = upd.OutputReference
	}
	if upd.ErrorDetail != "" {
		job.ErrorDetail = upd.ErrorDetail
	}
	job.UpdatedAt = upd.At
	return nil
}

// ListJobsByOwner возвращает задачи владельца.
func (s *Storage) ListJobsByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*models.Job, error) {
	const op = "memory.ListJobsByOwner"
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.mu.RLock()
	var result []*models.Job
	for _, j := range s.jobs {
		if j.OwnerAccountID == ownerID {
			c := *j
			result = append(result, &c)
		}
	}
	s.mu.RUnlock()
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.After(result[k].CreatedAt)
	})
	return page(result, limit, offset), nil
}

// ListStaleJobs возвращает нетерминальные задачи старше cutoff.
func (s *Storage) ListStaleJobs(ctx context.Context, cutoff time.Time, limit int) ([]*models.Job, error) {
	const op = "memory.ListStaleJobs"
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.mu.RLock()
	var result []*models.Job
	for _, j := range s.jobs {
		if !j.State.Terminal() && j.CreatedAt.Before(cutoff) {
			c := *j
			result = append(result, &c)
		}
	}
	s.mu.RUnlock()
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})
	return page(result, limit, 0), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
