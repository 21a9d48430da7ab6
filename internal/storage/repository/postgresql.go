// Package repository реализует хранилища аккаунтов, резервирований, задач
// и платёжных событий на PostgreSQL.
//
// Изменения одного аккаунта выполняются в транзакции, которая начинается
// с SELECT ... FOR UPDATE строки аккаунта, поэтому параллельные операции
// над одним аккаунтом выполняются по очереди, а над разными не мешают друг другу.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	// Регистрация драйвера pgx для использования с database/sql.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/magabrotheeeer/mixmaster/internal/storage"
)

// Storage инкапсулирует соединение с PostgreSQL.
type Storage struct {
	DB *sql.DB
}

var (
	_ storage.LedgerRepository = (*Storage)(nil)
	_ storage.JobRepository    = (*Storage)(nil)
)

// New подключается к PostgreSQL и проверяет соединение.
func New(ctx context.Context, storageConnectionString string) (*Storage, error) {
	const op = "storage.New"

	db, err := sql.Open("pgx", storageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{
		DB: db,
	}, nil
}

// Close закрывает пул соединений.
func (s *Storage) Close() error {
	return s.DB.Close()
}

// CheckDatabaseReady проверяет, что миграции применены.
func CheckDatabaseReady(ctx context.Context, storage *Storage) error {
	var exists bool
	err := storage.DB.QueryRowContext(ctx, `SELECT EXISTS (
        SELECT FROM information_schema.tables
        WHERE table_name = 'jobs'
    )`).Scan(&exists)
	if err != nil {
		return fmt.Errorf("required table jobs check failed: %w", err)
	}
	if !exists {
		return errors.New("required table jobs missing")
	}
	return nil
}

// uniqueViolation сообщает, нарушено ли ограничение уникальности.
func uniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
