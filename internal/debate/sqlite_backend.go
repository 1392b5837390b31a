package debate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const defaultBusyTimeout = 5 * time.Second

type SQLiteOptions struct {
	// BusyTimeout is how long SQLite itself waits on a locked database
	// before reporting SQLITE_BUSY.
	BusyTimeout time.Duration
}

// OpenSQLiteStore opens (creating if needed) the debate database at path in
// WAL mode with immediate-mode transactions.
func OpenSQLiteStore(ctx context.Context, path string, opts SQLiteOptions) (*SQLStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("%w: sqlite path is required", ErrInvalidInput)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", sqliteDSN("file:"+path, opts, true))
	if err != nil {
		return nil, err
	}
	return finishSQLiteOpen(ctx, db)
}

// OpenMemoryStore opens a private in-memory SQLite database. It is meant for
// tests and throwaway servers.
func OpenMemoryStore(ctx context.Context) (*SQLStore, error) {
	name := "file:relaydebate-" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := sql.Open("sqlite", sqliteDSN(name, SQLiteOptions{}, false))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return finishSQLiteOpen(ctx, db)
}

func finishSQLiteOpen(ctx context.Context, db *sql.DB) (*SQLStore, error) {
	store := newSQLStore(db, dialectSQLite, 0, isSQLiteBusy)
	if err := store.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func sqliteDSN(name string, opts SQLiteOptions, wal bool) string {
	busy := opts.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}
	params := url.Values{}
	params.Add("_pragma", "busy_timeout("+strconv.FormatInt(busy.Milliseconds(), 10)+")")
	params.Add("_pragma", "foreign_keys(1)")
	if wal {
		params.Add("_pragma", "journal_mode(WAL)")
	}
	params.Set("_txlock", "immediate")
	separator := "?"
	if strings.Contains(name, "?") {
		separator = "&"
	}
	return name + separator + params.Encode()
}

func isSQLiteBusy(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	default:
		return false
	}
}
