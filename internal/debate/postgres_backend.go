package debate

import (
	"context"
	"database/sql"
	"errors"
	"hash/fnv"
	"strings"
	"time"

	"github.com/lib/pq"
)

const postgresLockTimeout = 5 * time.Second

// OpenPostgresStore connects to dsn and applies the debate schema. Writers
// serialize per debate through a transaction-scoped advisory lock bounded by
// lock_timeout.
func OpenPostgresStore(ctx context.Context, dsn string) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, storeOpTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	store := newSQLStore(db, dialectPostgres, postgresLockTimeout, isPostgresBusy)
	if err := store.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func isPostgresBusy(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code {
	case "40001", "40P01", "55P03":
		return true
	default:
		return false
	}
}

func postgresDebateLockKey(debateID string) int64 {
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte("relaydebate"))
	_, _ = hasher.Write([]byte{0})
	_, _ = hasher.Write([]byte(strings.TrimSpace(debateID)))
	return int64(hasher.Sum64())
}
