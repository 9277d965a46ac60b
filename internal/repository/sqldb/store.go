package sqldb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/alfanzaky/zkqueue/internal/domain"
	"github.com/alfanzaky/zkqueue/pkg/logger"
	"github.com/alfanzaky/zkqueue/pkg/metrics"
)

const (
	DriverPostgres = "postgres"
	DriverPgx      = "pgx"
	DriverSQLite   = "sqlite"
)

const defaultPageSize = 256

type dialect struct {
	name     string
	bindType int
	blobType string
	// appended to claim subqueries so concurrent claimers skip rows another
	// transaction already holds
	claimLock string
}

var (
	postgresDialect = dialect{
		name:      DriverPostgres,
		bindType:  sqlx.DOLLAR,
		blobType:  "BYTEA",
		claimLock: " FOR UPDATE SKIP LOCKED",
	}
	sqliteDialect = dialect{
		name:     DriverSQLite,
		bindType: sqlx.QUESTION,
		blobType: "BLOB",
	}
)

func dialectFor(driverName string) (dialect, error) {
	switch driverName {
	case DriverPostgres, DriverPgx:
		return postgresDialect, nil
	case DriverSQLite:
		return sqliteDialect, nil
	default:
		return dialect{}, fmt.Errorf("%w: unsupported database driver %q", domain.ErrInvalidArgument, driverName)
	}
}

// Option configures a Store
type Option func(*Store)

// WithNowFunc overrides the clock used for every persisted timestamp
func WithNowFunc(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// WithPageSize sets how many rows a mempool view fetches per round trip
func WithPageSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// Store is the storage façade over a relational database. It is safe for
// concurrent use; all coordination between callers happens in the database.
type Store struct {
	db       *sqlx.DB
	dialect  dialect
	nowFn    func() time.Time
	pageSize int
}

var _ domain.Store = (*Store)(nil)

// Open connects to the database with the given driver and data source name
func Open(ctx context.Context, driverName, dsn string, opts ...Option) (*Store, error) {
	if _, err := dialectFor(driverName); err != nil {
		return nil, err
	}

	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driverName == DriverSQLite {
		// one writer at a time; also keeps ":memory:" databases on a single connection
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, classify(fmt.Errorf("failed to connect to database: %w", err))
	}

	return New(db, opts...)
}

// OpenInMemory opens a private in-memory sqlite database with the schema applied
func OpenInMemory(ctx context.Context, opts ...Option) (*Store, error) {
	store, err := Open(ctx, DriverSQLite, ":memory:", opts...)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// New wraps an existing connection pool
func New(db *sqlx.DB, opts ...Option) (*Store, error) {
	d, err := dialectFor(db.DriverName())
	if err != nil {
		return nil, err
	}
	s := &Store{
		db:       db,
		dialect:  d,
		nowFn:    time.Now,
		pageSize: defaultPageSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// DB exposes the underlying pool for pool tuning and shutdown
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Close closes the connection pool
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return classify(err)
	}
	return nil
}

// Access returns a non-transactional handle. Each atomic operation run
// through it opens and finishes its own transaction.
func (s *Store) Access() *Conn {
	return &Conn{store: s}
}

// BeginConn opens a transaction scope. Operations run through the returned
// handle join the transaction and become visible on Commit.
func (s *Store) BeginConn(ctx context.Context) (*Conn, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to begin transaction: %w", err))
	}
	return &Conn{store: s, tx: tx}, nil
}

// Begin implements domain.Store
func (s *Store) Begin(ctx context.Context) (domain.StoreTx, error) {
	return s.BeginConn(ctx)
}

// Mempool returns the mempool repository on a non-transactional handle
func (s *Store) Mempool() domain.MempoolRepository {
	return s.Access().Mempool()
}

// ProverJobs returns the prover job repository on a non-transactional handle
func (s *Store) ProverJobs() domain.ProverJobRepository {
	return s.Access().ProverJobs()
}

func (s *Store) now() time.Time {
	return s.nowFn().UTC()
}

// Conn is a storage handle, either plain or bound to one transaction
type Conn struct {
	store *Store
	tx    *sqlx.Tx
	done  bool
}

var _ domain.StoreTx = (*Conn)(nil)

// InTransaction reports whether the handle is bound to a transaction
func (c *Conn) InTransaction() bool {
	return c.tx != nil
}

// Commit commits the transaction scope. Committing a plain handle is a
// programming error and returns ErrInvariantViolation.
func (c *Conn) Commit() error {
	if c.tx == nil {
		return fmt.Errorf("%w: commit called on a non-transactional handle", domain.ErrInvariantViolation)
	}
	if c.done {
		return fmt.Errorf("%w: transaction already finished", domain.ErrInvariantViolation)
	}
	c.done = true
	if err := c.tx.Commit(); err != nil {
		return classify(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// Rollback aborts the transaction scope. It is a no-op on plain handles and
// after Commit.
func (c *Conn) Rollback() error {
	if c.tx == nil || c.done {
		return nil
	}
	c.done = true
	if err := c.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return classify(fmt.Errorf("failed to rollback transaction: %w", err))
	}
	return nil
}

// Mempool returns the mempool repository bound to this handle
func (c *Conn) Mempool() domain.MempoolRepository {
	return &mempoolRepository{conn: c}
}

// ProverJobs returns the prover job repository bound to this handle
func (c *Conn) ProverJobs() domain.ProverJobRepository {
	return &proverJobRepository{conn: c}
}

func (c *Conn) queryer() sqlx.ExtContext {
	if c.tx != nil {
		return c.tx
	}
	return c.store.db
}

func (c *Conn) rebind(query string) string {
	return sqlx.Rebind(c.store.dialect.bindType, query)
}

// in expands slice arguments and rebinds the query for the dialect
func (c *Conn) in(query string, args ...interface{}) (string, []interface{}, error) {
	expanded, expandedArgs, err := sqlx.In(query, args...)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	return c.rebind(expanded), expandedArgs, nil
}

// atomic runs fn inside a transaction: the caller's when the handle has one,
// otherwise a fresh one that is committed on success and rolled back on any
// other exit path.
func (c *Conn) atomic(ctx context.Context, fn func(q sqlx.ExtContext) error) error {
	if c.tx != nil {
		if c.done {
			return fmt.Errorf("%w: transaction already finished", domain.ErrInvariantViolation)
		}
		return fn(c.tx)
	}

	tx, err := c.store.db.BeginTxx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// observe records query latency and error counts for one repository operation
func observe(operation, table string, start time.Time, err *error) {
	metrics.RecordDBQuery(operation, table, time.Since(start).Seconds())
	if err != nil && *err != nil && !errors.Is(*err, domain.ErrNotFound) && !errors.Is(*err, domain.ErrInvalidArgument) {
		metrics.RecordDBError(operation, table)
		logger.Error("Database operation failed",
			logger.String("operation", operation),
			logger.String("table", table),
			logger.ErrorField(*err),
		)
	}
}

// classify wraps storage failures that mean "unreachable or aborted by the
// store" with domain.ErrConnectivity so callers can retry them.
func classify(err error) error {
	if err == nil || errors.Is(err, domain.ErrConnectivity) {
		return err
	}
	if isConnectivityError(err) {
		return fmt.Errorf("%w: %w", domain.ErrConnectivity, err)
	}
	return err
}

func isConnectivityError(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return isAbortSQLState(string(pqErr.Code))
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return isAbortSQLState(pgErr.Code)
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_IOERR, sqlite3.SQLITE_CANTOPEN:
			return true
		}
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

// isAbortSQLState matches connection exceptions (08), transaction rollbacks
// such as serialization failures and deadlocks (40), operator intervention
// (57) and system errors (58).
func isAbortSQLState(code string) bool {
	for _, class := range []string{"08", "40", "57", "58"} {
		if strings.HasPrefix(code, class) {
			return true
		}
	}
	return false
}
