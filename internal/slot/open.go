package slot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
)

const (
	BackendMemory   = "memory"
	BackendBunt     = "bunt"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMySQL    = "mysql"

	defaultBuntPath = "cart.db"
)

var ErrUnknownBackend = errors.New("unknown slot backend")

type Config struct {
	Backend     string
	Path        string
	RedisAddr   string
	PostgresDSN string
	MySQLDSN    string
}

// Open builds the backend named by cfg.Backend and checks it is reachable.
// An empty backend selects buntdb.
func Open(ctx context.Context, cfg Config) (Slot, error) {
	switch cfg.Backend {
	case BackendMemory:
		return NewMemSlot(), nil
	case "", BackendBunt:
		path := cfg.Path
		if path == "" {
			path = defaultBuntPath
		}
		return OpenBunt(path)
	case BackendRedis:
		return openRedis(ctx, cfg.RedisAddr)
	case BackendPostgres:
		return openPostgres(ctx, cfg.PostgresDSN)
	case BackendMySQL:
		return openMySQL(ctx, cfg.MySQLDSN)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

func openRedis(ctx context.Context, addr string) (*RedisSlot, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		PoolSize: 4,
	})

	s := NewRedisSlot(client)
	if err := s.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return s, nil
}

func openPostgres(ctx context.Context, dsn string) (*PostgresSlot, error) {
	connCfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	db := stdlib.OpenDB(*connCfg)
	configurePool(db)

	s := NewPostgresSlot(db)
	if err := s.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure postgres schema: %w", err)
	}
	return s, nil
}

func openMySQL(ctx context.Context, dsn string) (*MySQLSlot, error) {
	myCfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	myCfg.ParseTime = true

	connector, err := mysql.NewConnector(myCfg)
	if err != nil {
		return nil, fmt.Errorf("mysql connector: %w", err)
	}

	db := sql.OpenDB(connector)
	configurePool(db)

	s := NewMySQLSlot(db)
	if err := s.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// One cart is written by a single writer, so a small pool is plenty.
func configurePool(db *sql.DB) {
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
}
