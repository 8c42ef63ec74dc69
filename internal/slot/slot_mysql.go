package slot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

const mysqlNoSuchTable = 1146

type MySQLSlot struct {
	db *sql.DB
}

func NewMySQLSlot(db *sql.DB) *MySQLSlot {
	return &MySQLSlot{db: db}
}

func (s *MySQLSlot) EnsureSchema(ctx context.Context) error {
	return withTimeout(ctx, queryTimeout, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			CREATE TABLE IF NOT EXISTS kv_slots (
				slot_key   VARCHAR(191) NOT NULL PRIMARY KEY,
				value      LONGTEXT NOT NULL,
				updated_at DATETIME(6) NOT NULL
			)`)
		if err != nil {
			return fmt.Errorf("create kv_slots: %w", err)
		}
		return nil
	})
}

func (s *MySQLSlot) Ping(ctx context.Context) error {
	return withTimeout(ctx, pingTimeout, func(ctx context.Context) error {
		return s.db.PingContext(ctx)
	})
}

func (s *MySQLSlot) Get(ctx context.Context, key string) (string, bool, error) {
	var v string

	err := withTimeout(ctx, queryTimeout, func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx, `
			SELECT value FROM kv_slots WHERE slot_key = ?`, key,
		).Scan(&v)
	})

	if errors.Is(err, sql.ErrNoRows) || isNoSuchTable(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query kv_slots: %w", err)
	}
	return v, true, nil
}

func (s *MySQLSlot) Set(ctx context.Context, key, value string) error {
	return withTimeout(ctx, queryTimeout, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO kv_slots (slot_key, value, updated_at)
			VALUES (?, ?, UTC_TIMESTAMP(6))
			ON DUPLICATE KEY UPDATE value = VALUES(value), updated_at = VALUES(updated_at)`,
			key, value,
		)
		if err != nil {
			return fmt.Errorf("upsert kv_slots: %w", err)
		}
		return nil
	})
}

func (s *MySQLSlot) Close() error {
	return s.db.Close()
}

func isNoSuchTable(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlNoSuchTable
}
