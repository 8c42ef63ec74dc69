package slot

import (
	"context"
	"errors"
	"fmt"

	"github.com/tidwall/buntdb"
)

// BuntSlot keeps the value in an embedded buntdb file, the on-device
// equivalent of a mobile app's local storage. Every commit is fsynced.
type BuntSlot struct {
	db *buntdb.DB
}

// OpenBunt opens (or creates) the database at path. ":memory:" gives a
// non-persistent database.
func OpenBunt(path string) (*BuntSlot, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open buntdb %q: %w", path, err)
	}

	var cfg buntdb.Config
	if err := db.ReadConfig(&cfg); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("read buntdb config: %w", err)
	}
	cfg.SyncPolicy = buntdb.Always
	if err := db.SetConfig(cfg); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set buntdb config: %w", err)
	}

	return &BuntSlot{db: db}, nil
}

func (s *BuntSlot) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	var (
		v     string
		found bool
	)
	err := s.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(key)
		if errors.Is(err, buntdb.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		v, found = val, true
		return nil
	})
	if err != nil {
		return "", false, mapBuntErr(err)
	}
	return v, found, nil
}

func (s *BuntSlot) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key, value, nil)
		return err
	})
	return mapBuntErr(err)
}

func (s *BuntSlot) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return mapBuntErr(s.db.View(func(tx *buntdb.Tx) error {
		_, err := tx.Len()
		return err
	}))
}

func (s *BuntSlot) Close() error {
	return mapBuntErr(s.db.Close())
}

func mapBuntErr(err error) error {
	if errors.Is(err, buntdb.ErrDatabaseClosed) {
		return ErrClosed
	}
	return err
}
