package debate

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
)

type StoreOptions struct {
	SQLiteBusyTimeout time.Duration
}

// BuildStoreFromDSN opens the store a DSN names. A bare path or a
// file:// / sqlite:// URL selects SQLite, memory:// an in-memory SQLite
// database, and postgres:// Postgres.
func BuildStoreFromDSN(ctx context.Context, dsn string, opts StoreOptions) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("%w: store dsn is required", ErrInvalidInput)
	}
	scheme := ""
	parsed, err := url.Parse(dsn)
	if err == nil {
		scheme = strings.ToLower(strings.TrimSpace(parsed.Scheme))
	}
	if factory, ok := lookupStoreFactory(scheme); ok {
		return factory(ctx, dsn)
	}
	switch scheme {
	case "", "file", "sqlite", "sqlite3":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return OpenSQLiteStore(ctx, path, SQLiteOptions{BusyTimeout: opts.SQLiteBusyTimeout})
	case "memory", "mem", "inmem":
		return OpenMemoryStore(ctx)
	case "postgres", "postgresql":
		return OpenPostgresStore(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported store scheme: %s", scheme)
	}
}

// SQLitePathFromDSN returns the database file a DSN points at, or "" when
// the DSN does not name a local SQLite file.
func SQLitePathFromDSN(dsn string) string {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return ""
	}
	parsed, err := url.Parse(dsn)
	scheme := ""
	if err == nil {
		scheme = strings.ToLower(parsed.Scheme)
	}
	switch scheme {
	case "", "file", "sqlite", "sqlite3":
		path, err := dsnPath(parsed, dsn)
		if err != nil {
			return ""
		}
		return path
	default:
		return ""
	}
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if parsed == nil || strings.TrimSpace(parsed.Scheme) == "" {
		if strings.TrimSpace(raw) == "" {
			return "", ErrInvalidInput
		}
		return strings.TrimSpace(raw), nil
	}
	path := strings.TrimSpace(parsed.Path)
	if path == "" {
		path = strings.TrimSpace(parsed.Opaque)
	}
	if parsed.Host != "" && parsed.Host != "localhost" {
		// sqlite://relative/dir/debate.db
		path = parsed.Host + path
	}
	if path == "" {
		return "", ErrInvalidInput
	}
	return path, nil
}
