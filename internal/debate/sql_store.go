package debate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	schemaVersion    = "1"
	maxArgumentsRead = 10000
	storeOpTimeout   = 5 * time.Second
	argumentColumns  = "id, debate_id, parent_id, type, role, content, client_request_id, seq, created_at"
	debateColumns    = "id, title, debate_type, state, created_at, updated_at"
	dialectSQLite    = "sqlite"
	dialectPostgres  = "postgres"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS schema_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS debates (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		debate_type TEXT NOT NULL,
		state TEXT NOT NULL DEFAULT 'AWAITING_OPPONENT',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS arguments (
		id TEXT PRIMARY KEY,
		debate_id TEXT NOT NULL REFERENCES debates(id),
		parent_id TEXT,
		type TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		client_request_id TEXT,
		seq BIGINT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE (debate_id, client_request_id),
		UNIQUE (debate_id, seq)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_arguments_debate_id ON arguments (debate_id)`,
	`CREATE INDEX IF NOT EXISTS idx_arguments_parent_id ON arguments (parent_id)`,
	`CREATE INDEX IF NOT EXISTS idx_arguments_debate_seq ON arguments (debate_id, seq)`,
	`CREATE INDEX IF NOT EXISTS idx_debates_updated_at ON debates (updated_at)`,
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLStore is the database/sql implementation shared by the SQLite and
// Postgres backends. Queries are written with ? placeholders and rebound per
// dialect.
type SQLStore struct {
	db          *sql.DB
	dialect     string
	lockTimeout time.Duration
	isBusy      func(error) bool
	sqlReader
}

type sqlReader struct {
	q       queryer
	dialect string
	isBusy  func(error) bool
}

type sqlTx struct {
	sqlReader
	tx          *sql.Tx
	lockTimeout time.Duration
}

func newSQLStore(db *sql.DB, dialect string, lockTimeout time.Duration, isBusy func(error) bool) *SQLStore {
	return &SQLStore{
		db:          db,
		dialect:     dialect,
		lockTimeout: lockTimeout,
		isBusy:      isBusy,
		sqlReader:   sqlReader{q: db, dialect: dialect, isBusy: isBusy},
	}
}

func (s *SQLStore) Backend() string {
	return s.dialect
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, storeOpTimeout)
	defer cancel()
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	var version string
	err := s.db.QueryRowContext(ctx, rebind(s.dialect, "SELECT value FROM schema_meta WHERE key = ?"), "version").Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = s.db.ExecContext(ctx, rebind(s.dialect, "INSERT INTO schema_meta (key, value) VALUES (?, ?) ON CONFLICT (key) DO NOTHING"), "version", schemaVersion)
		if err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	case version != schemaVersion:
		return fmt.Errorf("unsupported schema version %q (want %q)", version, schemaVersion)
	}
	return nil
}

func (s *SQLStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.classify(err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	wrapped := &sqlTx{
		sqlReader:   sqlReader{q: tx, dialect: s.dialect, isBusy: s.isBusy},
		tx:          tx,
		lockTimeout: s.lockTimeout,
	}
	if err := fn(wrapped); err != nil {
		return s.classify(err)
	}
	if err := tx.Commit(); err != nil {
		return s.classify(err)
	}
	committed = true
	return nil
}

func (s *SQLStore) classify(err error) error {
	return classifyBusy(err, s.isBusy)
}

func classifyBusy(err error, isBusy func(error) bool) error {
	if err == nil || errors.Is(err, ErrStoreBusy) {
		return err
	}
	if isBusy != nil && isBusy(err) {
		return fmt.Errorf("%w: %v", ErrStoreBusy, err)
	}
	return err
}

func (t *sqlTx) LockDebate(ctx context.Context, debateID string) error {
	if t.dialect != dialectPostgres {
		return nil
	}
	if t.lockTimeout > 0 {
		stmt := "SET LOCAL lock_timeout = '" + strconv.FormatInt(t.lockTimeout.Milliseconds(), 10) + "ms'"
		if _, err := t.tx.ExecContext(ctx, stmt); err != nil {
			return classifyBusy(err, t.isBusy)
		}
	}
	_, err := t.tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", postgresDebateLockKey(debateID))
	return classifyBusy(err, t.isBusy)
}

func (t *sqlTx) InsertDebate(ctx context.Context, debate Debate) error {
	if _, err := t.GetDebate(ctx, debate.ID); err == nil {
		return fmt.Errorf("%w: debate %s already exists", ErrInvalidInput, debate.ID)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	_, err := t.tx.ExecContext(ctx, rebind(t.dialect, `
		INSERT INTO debates (id, title, debate_type, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		debate.ID, debate.Title, debate.DebateType, string(debate.State),
		formatTimestamp(debate.CreatedAt), formatTimestamp(debate.UpdatedAt))
	return classifyBusy(err, t.isBusy)
}

func (t *sqlTx) DeleteDebate(ctx context.Context, debateID string) error {
	if _, err := t.tx.ExecContext(ctx, rebind(t.dialect, "DELETE FROM arguments WHERE debate_id = ?"), debateID); err != nil {
		return classifyBusy(err, t.isBusy)
	}
	res, err := t.tx.ExecContext(ctx, rebind(t.dialect, "DELETE FROM debates WHERE id = ?"), debateID)
	if err != nil {
		return classifyBusy(err, t.isBusy)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *sqlTx) GetNextSeq(ctx context.Context, debateID string) (int64, error) {
	var next int64
	err := t.tx.QueryRowContext(ctx, rebind(t.dialect, "SELECT COALESCE(MAX(seq), 0) + 1 FROM arguments WHERE debate_id = ?"), debateID).Scan(&next)
	if err != nil {
		return 0, classifyBusy(err, t.isBusy)
	}
	return next, nil
}

func (t *sqlTx) InsertArgument(ctx context.Context, argument Argument) error {
	_, err := t.tx.ExecContext(ctx, rebind(t.dialect, `
		INSERT INTO arguments (`+argumentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		argument.ID, argument.DebateID, nullString(argument.ParentID), string(argument.Type), string(argument.Role),
		argument.Content, nullString(argument.ClientRequestID), argument.Seq, formatTimestamp(argument.CreatedAt))
	return classifyBusy(err, t.isBusy)
}

func (t *sqlTx) UpdateDebateState(ctx context.Context, debateID string, state State, updatedAt time.Time) error {
	res, err := t.tx.ExecContext(ctx, rebind(t.dialect, "UPDATE debates SET state = ?, updated_at = ? WHERE id = ?"),
		string(state), formatTimestamp(updatedAt), debateID)
	if err != nil {
		return classifyBusy(err, t.isBusy)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r sqlReader) GetDebate(ctx context.Context, debateID string) (Debate, error) {
	row := r.q.QueryRowContext(ctx, rebind(r.dialect, "SELECT "+debateColumns+" FROM debates WHERE id = ?"), debateID)
	debate, err := scanDebate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Debate{}, ErrNotFound
	}
	if err != nil {
		return Debate{}, classifyBusy(err, r.isBusy)
	}
	return debate, nil
}

func (r sqlReader) ListDebates(ctx context.Context, filter ListFilter) ([]Debate, int, error) {
	where := ""
	args := []any{}
	if filter.State != "" {
		where = " WHERE state = ?"
		args = append(args, string(filter.State))
	}
	var total int
	if err := r.q.QueryRowContext(ctx, rebind(r.dialect, "SELECT COUNT(*) FROM debates"+where), args...).Scan(&total); err != nil {
		return nil, 0, classifyBusy(err, r.isBusy)
	}
	query := "SELECT " + debateColumns + " FROM debates" + where + " ORDER BY updated_at DESC, id ASC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)
	rows, err := r.q.QueryContext(ctx, rebind(r.dialect, query), args...)
	if err != nil {
		return nil, 0, classifyBusy(err, r.isBusy)
	}
	defer rows.Close()
	debates := make([]Debate, 0)
	for rows.Next() {
		debate, err := scanDebate(rows)
		if err != nil {
			return nil, 0, err
		}
		debates = append(debates, debate)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, classifyBusy(err, r.isBusy)
	}
	return debates, total, nil
}

func (r sqlReader) GetArgument(ctx context.Context, argumentID string) (Argument, error) {
	row := r.q.QueryRowContext(ctx, rebind(r.dialect, "SELECT "+argumentColumns+" FROM arguments WHERE id = ?"), argumentID)
	argument, err := scanArgument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Argument{}, ErrNotFound
	}
	if err != nil {
		return Argument{}, classifyBusy(err, r.isBusy)
	}
	return argument, nil
}

func (r sqlReader) GetArguments(ctx context.Context, debateID string, limit int) ([]Argument, error) {
	if limit <= 0 || limit > maxArgumentsRead {
		limit = maxArgumentsRead
	}
	return r.queryArguments(ctx, "SELECT "+argumentColumns+" FROM arguments WHERE debate_id = ? ORDER BY seq ASC LIMIT ?", debateID, limit)
}

func (r sqlReader) GetRecentArguments(ctx context.Context, debateID string, limit int) ([]Argument, error) {
	if limit <= 0 {
		return []Argument{}, nil
	}
	return r.queryArguments(ctx, `
		SELECT `+argumentColumns+` FROM (
			SELECT `+argumentColumns+` FROM arguments WHERE debate_id = ? ORDER BY seq DESC LIMIT ?
		) recent ORDER BY seq ASC`, debateID, limit)
}

func (r sqlReader) GetRecentArgumentsExcludingMotion(ctx context.Context, debateID string, limit int) ([]Argument, error) {
	if limit <= 0 {
		return []Argument{}, nil
	}
	return r.queryArguments(ctx, `
		SELECT `+argumentColumns+` FROM (
			SELECT `+argumentColumns+` FROM arguments WHERE debate_id = ? AND type <> ? ORDER BY seq DESC LIMIT ?
		) recent ORDER BY seq ASC`, debateID, string(ArgumentMotion), limit)
}

func (r sqlReader) GetArgumentsAfter(ctx context.Context, debateID string, afterSeq int64) ([]Argument, error) {
	return r.queryArguments(ctx, "SELECT "+argumentColumns+" FROM arguments WHERE debate_id = ? AND seq > ? ORDER BY seq ASC LIMIT ?", debateID, afterSeq, maxArgumentsRead)
}

func (r sqlReader) GetMotion(ctx context.Context, debateID string) (Argument, error) {
	row := r.q.QueryRowContext(ctx, rebind(r.dialect, "SELECT "+argumentColumns+" FROM arguments WHERE debate_id = ? AND type = ? ORDER BY seq ASC LIMIT 1"), debateID, string(ArgumentMotion))
	argument, err := scanArgument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Argument{}, ErrNotFound
	}
	if err != nil {
		return Argument{}, classifyBusy(err, r.isBusy)
	}
	return argument, nil
}

func (r sqlReader) GetLatestArgument(ctx context.Context, debateID string) (Argument, bool, error) {
	row := r.q.QueryRowContext(ctx, rebind(r.dialect, "SELECT "+argumentColumns+" FROM arguments WHERE debate_id = ? ORDER BY seq DESC LIMIT 1"), debateID)
	argument, err := scanArgument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Argument{}, false, nil
	}
	if err != nil {
		return Argument{}, false, classifyBusy(err, r.isBusy)
	}
	return argument, true, nil
}

func (r sqlReader) FindArgumentByClientRequestID(ctx context.Context, debateID, clientRequestID string) (Argument, bool, error) {
	if clientRequestID == "" {
		return Argument{}, false, nil
	}
	row := r.q.QueryRowContext(ctx, rebind(r.dialect, "SELECT "+argumentColumns+" FROM arguments WHERE debate_id = ? AND client_request_id = ?"), debateID, clientRequestID)
	argument, err := scanArgument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Argument{}, false, nil
	}
	if err != nil {
		return Argument{}, false, classifyBusy(err, r.isBusy)
	}
	return argument, true, nil
}

func (r sqlReader) queryArguments(ctx context.Context, query string, args ...any) ([]Argument, error) {
	rows, err := r.q.QueryContext(ctx, rebind(r.dialect, query), args...)
	if err != nil {
		return nil, classifyBusy(err, r.isBusy)
	}
	defer rows.Close()
	arguments := make([]Argument, 0)
	for rows.Next() {
		argument, err := scanArgument(rows)
		if err != nil {
			return nil, err
		}
		arguments = append(arguments, argument)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyBusy(err, r.isBusy)
	}
	return arguments, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDebate(row rowScanner) (Debate, error) {
	var (
		debate    Debate
		state     string
		createdAt string
		updatedAt string
	)
	if err := row.Scan(&debate.ID, &debate.Title, &debate.DebateType, &state, &createdAt, &updatedAt); err != nil {
		return Debate{}, err
	}
	debate.State = State(state)
	var err error
	if debate.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return Debate{}, fmt.Errorf("debate %s created_at: %w", debate.ID, err)
	}
	if debate.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return Debate{}, fmt.Errorf("debate %s updated_at: %w", debate.ID, err)
	}
	return debate, nil
}

func scanArgument(row rowScanner) (Argument, error) {
	var (
		argument        Argument
		parentID        sql.NullString
		argType         string
		role            string
		clientRequestID sql.NullString
		createdAt       string
	)
	if err := row.Scan(&argument.ID, &argument.DebateID, &parentID, &argType, &role, &argument.Content, &clientRequestID, &argument.Seq, &createdAt); err != nil {
		return Argument{}, err
	}
	argument.Type = ArgumentType(argType)
	argument.Role = Role(role)
	if parentID.Valid {
		argument.ParentID = &parentID.String
	}
	if clientRequestID.Valid {
		argument.ClientRequestID = &clientRequestID.String
	}
	var err error
	if argument.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return Argument{}, fmt.Errorf("argument %s created_at: %w", argument.ID, err)
	}
	return argument, nil
}

func nullString(value *string) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *value, Valid: true}
}

// rebind rewrites ? placeholders as $1..$n for Postgres.
func rebind(dialect, query string) string {
	if dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
