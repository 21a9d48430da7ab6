package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/magabrotheeeer/mixmaster/internal/models"
	"github.com/magabrotheeeer/mixmaster/internal/storage"
)

const accountColumns = `id, account_type, free_credits_used, paid_credits, subscription_state,
	current_period_end, subscription_event_at, total_songs_processed, created_at, updated_at`

const reservationColumns = `id, account_id, job_id, kind, status, created_at, updated_at`

// queryer — общее у *sql.DB и *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func scanAccount(row interface{ Scan(dest ...any) error }) (*models.Account, error) {
	var (
		acc       models.Account
		periodEnd sql.NullTime
		eventAt   sql.NullTime
	)
	err := row.Scan(&acc.ID, &acc.Type, &acc.FreeCreditsUsed, &acc.PaidCredits, &acc.SubscriptionState,
		&periodEnd, &eventAt, &acc.TotalSongsProcessed, &acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if periodEnd.Valid {
		t := periodEnd.Time.UTC()
		acc.CurrentPeriodEnd = &t
	}
	if eventAt.Valid {
		t := eventAt.Time.UTC()
		acc.SubscriptionEventAt = &t
	}
	return &acc, nil
}

func scanReservation(row interface{ Scan(dest ...any) error }) (*models.Reservation, error) {
	var r models.Reservation
	if err := row.Scan(&r.ID, &r.AccountID, &r.JobID, &r.Kind, &r.Status, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateAccount создаёт аккаунт.
func (s *Storage) CreateAccount(ctx context.Context, acc *models.Account) error {
	const op = "storage.CreateAccount"
	query := `INSERT INTO accounts (id, account_type, free_credits_used, paid_credits, subscription_state,
			  current_period_end, subscription_event_at, total_songs_processed, created_at, updated_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := s.DB.ExecContext(ctx, query, acc.ID, acc.Type, acc.FreeCreditsUsed, acc.PaidCredits,
		acc.SubscriptionState, acc.CurrentPeriodEnd, acc.SubscriptionEventAt, acc.TotalSongsProcessed,
		acc.CreatedAt, acc.UpdatedAt)
	if err != nil {
		if uniqueViolation(err) {
			return fmt.Errorf("%s: %w", op, models.ErrAlreadyExists)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetAccount возвращает аккаунт по ID.
func (s *Storage) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	const op = "storage.GetAccount"
	acc, err := scanAccount(s.DB.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, models.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return acc, nil
}

// GetReservation возвращает резервирование по ID.
func (s *Storage) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	return getReservation(ctx, s.DB, id, "")
}

// GetReservationByJob возвращает последнее резервирование задачи.
func (s *Storage) GetReservationByJob(ctx context.Context, jobID string) (*models.Reservation, error) {
	const op = "storage.GetReservationByJob"
	query := `SELECT ` + reservationColumns + ` FROM reservations
			  WHERE job_id = $1 ORDER BY created_at DESC LIMIT 1`
	r, err := scanReservation(s.DB.QueryRowContext(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, models.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return r, nil
}

func getReservation(ctx context.Context, q queryer, id, accountID string) (*models.Reservation, error) {
	const op = "storage.GetReservation"
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = $1`
	args := []any{id}
	if accountID != "" {
		query += ` AND account_id = $2`
		args = append(args, accountID)
	}
	r, err := scanReservation(q.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, models.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return r, nil
}

// ListTransactions возвращает историю платежей аккаунта, новые первыми.
func (s *Storage) ListTransactions(ctx context.Context, accountID string, limit, offset int) ([]*models.Transaction, error) {
	const op = "storage.ListTransactions"
	query := `SELECT id, account_id, provider_event_id, type, amount, currency, credits, created_at
			  FROM transactions
			  WHERE account_id = $1
			  ORDER BY created_at DESC, id
			  LIMIT $2 OFFSET $3`
	rows, err := s.DB.QueryContext(ctx, query, accountID, limitOrAll(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	result := []*models.Transaction{}
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.AccountID, &t.ProviderEventID, &t.Type, &t.Amount,
			&t.Currency, &t.Credits, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// ListLapsedSubscriptions возвращает аккаунты, чей оплаченный период закончился до now.
func (s *Storage) ListLapsedSubscriptions(ctx context.Context, now time.Time) ([]string, error) {
	const op = "storage.ListLapsedSubscriptions"
	query := `SELECT id FROM accounts
			  WHERE subscription_state IN ('active', 'past_due', 'canceled_pending_period_end')
			    AND current_period_end <= $1
			  ORDER BY id`
	rows, err := s.DB.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return ids, nil
}

// ListStaleReservations возвращает резервирования в статусе reserved, созданные раньше cutoff.
func (s *Storage) ListStaleReservations(ctx context.Context, cutoff time.Time, limit int) ([]*models.Reservation, error) {
	const op = "storage.ListStaleReservations"
	query := `SELECT ` + reservationColumns + ` FROM reservations
			  WHERE status = 'reserved' AND created_at < $1
			  ORDER BY created_at, id
			  LIMIT $2`
	rows, err := s.DB.QueryContext(ctx, query, cutoff, limitOrAll(limit))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// WithAccount выполняет fn в транзакции, заблокировав строку аккаунта.
// Транзакция фиксируется, только если fn вернула nil.
func (s *Storage) WithAccount(ctx context.Context, accountID string, fn func(tx storage.AccountTx) error) (err error) {
	const op = "storage.WithAccount"
	sqlTx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	acc, err := scanAccount(sqlTx.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, accountID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%s: %w", op, models.ErrNotFound)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	if err = fn(&accountTx{tx: sqlTx, account: acc}); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

type accountTx struct {
	tx      *sql.Tx
	account *models.Account
}

func (t *accountTx) Account() *models.Account {
	return t.account
}

func (t *accountTx) SaveAccount(ctx context.Context, acc *models.Account) error {
	const op = "storage.SaveAccount"
	query := `UPDATE accounts SET account_type = $2, free_credits_used = $3, paid_credits = $4,
			  subscription_state = $5, current_period_end = $6, subscription_event_at = $7,
			  total_songs_processed = $8, updated_at = $9
			  WHERE id = $1`
	_, err := t.tx.ExecContext(ctx, query, acc.ID, acc.Type, acc.FreeCreditsUsed, acc.PaidCredits,
		acc.SubscriptionState, acc.CurrentPeriodEnd, acc.SubscriptionEventAt, acc.TotalSongsProcessed, acc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	t.account = acc.Clone()
	return nil
}

func (t *accountTx) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	return getReservation(ctx, t.tx, id, t.account.ID)
}

func (t *accountTx) FindActiveReservation(ctx context.Context, jobID string) (*models.Reservation, error) {
	const op = "storage.FindActiveReservation"
	query := `SELECT ` + reservationColumns + ` FROM reservations
			  WHERE job_id = $1 AND status <> 'released'`
	r, err := scanReservation(t.tx.QueryRowContext(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, models.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return r, nil
}

func (t *accountTx) InsertReservation(ctx context.Context, r *models.Reservation) error {
	const op = "storage.InsertReservation"
	query := `INSERT INTO reservations (id, account_id, job_id, kind, status, created_at, updated_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := t.tx.ExecContext(ctx, query, r.ID, r.AccountID, r.JobID, r.Kind, r.Status, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		if uniqueViolation(err) {
			return fmt.Errorf("%s: job %s already reserved: %w", op, r.JobID, models.ErrInvalidState)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (t *accountTx) UpdateReservationStatus(ctx context.Context, id string, status models.ReservationStatus, at time.Time) error {
	const op = "storage.UpdateReservationStatus"
	res, err := t.tx.ExecContext(ctx,
		`UPDATE reservations SET status = $3, updated_at = $4 WHERE id = $1 AND account_id = $2`,
		id, t.account.ID, status, at)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	return nil
}

// MarkEventProcessed вставляет ID события; конфликт означает повторную доставку.
// Параллельная транзакция с тем же ID ждёт на уникальном ключе до нашей фиксации.
func (t *accountTx) MarkEventProcessed(ctx context.Context, providerEventID string, at time.Time) (bool, error) {
	const op = "storage.MarkEventProcessed"
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO processed_events (provider_event_id, processed_at) VALUES ($1, $2)
		 ON CONFLICT (provider_event_id) DO NOTHING`,
		providerEventID, at)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n == 1, nil
}

func (t *accountTx) InsertTransaction(ctx context.Context, tr *models.Transaction) error {
	const op = "storage.InsertTransaction"
	query := `INSERT INTO transactions (id, account_id, provider_event_id, type, amount, currency, credits, created_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := t.tx.ExecContext(ctx, query, tr.ID, tr.AccountID, tr.ProviderEventID, tr.Type,
		tr.Amount, tr.Currency, tr.Credits, tr.CreatedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// limitOrAll превращает неположительный limit в NULL, то есть LIMIT ALL.
func limitOrAll(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}
