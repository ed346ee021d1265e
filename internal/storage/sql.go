package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect selects the SQL flavour spoken by SQLStore.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// SQLConfig configures connection pooling.
type SQLConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultSQLConfig returns default connection pool settings.
func DefaultSQLConfig() *SQLConfig {
	return &SQLConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 2 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// SQLStore implements Store on Postgres/CockroachDB (lib/pq) or SQLite
// (modernc.org/sqlite). Queries are written with $n placeholders and
// rebound for SQLite.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLStoreFromDSN opens and pings a database.
func NewSQLStoreFromDSN(dialect Dialect, dsn string, config *SQLConfig) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if config == nil {
		config = DefaultSQLConfig()
	}

	var driver string
	switch dialect {
	case DialectPostgres:
		driver = "postgres"
	case DialectSQLite:
		driver = "sqlite"
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	maxOpen := config.MaxOpenConns
	if dialect == DialectSQLite {
		// SQLite allows a single writer.
		maxOpen = 1
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if dialect == DialectSQLite {
		if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("configure sqlite: %w", err)
		}
	}

	return &SQLStore{db: db, dialect: dialect}, nil
}

// NewSQLStore wraps an existing database handle.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// Close releases database resources.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Migrate creates the tables and indexes if they do not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements(s.dialect) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

var placeholderPattern = regexp.MustCompile(`\$(\d+)`)

// Rebind converts $n placeholders to the dialect's form.
func Rebind(dialect Dialect, query string) string {
	if dialect == DialectSQLite {
		return placeholderPattern.ReplaceAllString(query, "?$1")
	}
	return query
}

func (s *SQLStore) rebind(query string) string {
	return Rebind(s.dialect, query)
}

// DB returns the underlying handle for components that share the database,
// such as the session lease locker.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Dialect returns the SQL dialect.
func (s *SQLStore) Dialect() Dialect {
	return s.dialect
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

// expectAffected maps a zero-row update or delete to ErrNotFound.
func expectAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// isUniqueViolation reports whether err is a primary key or unique conflict.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "23505")
}

type scanner interface {
	Scan(dest ...any) error
}

type listQuery struct {
	sql    strings.Builder
	args   []any
	argPos int
}

func newListQuery(base string) *listQuery {
	q := &listQuery{argPos: 1}
	q.sql.WriteString(base)
	return q
}

func (q *listQuery) where(clause string, arg any) {
	fmt.Fprintf(&q.sql, " AND "+clause, q.argPos)
	q.args = append(q.args, arg)
	q.argPos++
}

func (q *listQuery) in(column string, values []string) {
	if len(values) == 0 {
		return
	}
	placeholders := make([]string, len(values))
	for i, v := range values {
		placeholders[i] = fmt.Sprintf("$%d", q.argPos)
		q.args = append(q.args, v)
		q.argPos++
	}
	fmt.Fprintf(&q.sql, " AND %s IN (%s)", column, strings.Join(placeholders, ", "))
}

func (q *listQuery) orderLimit(order string, limit int) {
	q.sql.WriteString(" ORDER BY " + order)
	if limit > 0 {
		fmt.Fprintf(&q.sql, " LIMIT $%d", q.argPos)
		q.args = append(q.args, limit)
		q.argPos++
	}
}

func (q *listQuery) String() string { return q.sql.String() }

func marshalJSON(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func unmarshalJSON(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
