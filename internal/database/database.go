// Package database is the embedded SQLite store: schema initialization and the
// customer, business and visit repositories.
//
// Every repository call checks out its own connection for the duration of the
// call and returns it on every exit path. There are no cross-call
// transactions.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"loyalty-rewards-api/internal/metrics"
)

var (
	// ErrNotFound is returned by mutations that require the entity to exist.
	ErrNotFound = errors.New("entity not found")
	// ErrInvalidIncrement is returned when a visit count increment is not positive.
	ErrInvalidIncrement = errors.New("visit count increment must be positive")
	// ErrInvalidAmount is returned for a negative visit amount.
	ErrInvalidAmount = errors.New("visit amount must be non-negative")
	// ErrNilEntity is returned when a nil entity is passed to a write.
	ErrNilEntity = errors.New("entity is nil")
)

// DB wraps the database handle and the ambient collaborators shared by the
// repositories.
type DB struct {
	conn    *sql.DB
	path    string
	log     logrus.FieldLogger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

// Option configures a DB.
type Option func(*DB)

// WithLogger sets the logger used for fallbacks and schema setup.
func WithLogger(l logrus.FieldLogger) Option {
	return func(db *DB) { db.log = l }
}

// WithMetrics sets the collectors that record store operations.
func WithMetrics(m *metrics.Metrics) Option {
	return func(db *DB) { db.metrics = m }
}

// WithTracer sets the tracer used for per-operation spans.
func WithTracer(t trace.Tracer) Option {
	return func(db *DB) { db.tracer = t }
}

// NewDB creates the containing directory if needed, opens the database file
// and ensures the schema exists. It is safe to call on every start and from
// several processes pointed at the same file. Any failure here is fatal for
// the caller: no later operation can succeed.
func NewDB(dbPath string, opts ...Option) (*DB, error) {
	db := &DB{
		path: dbPath,
		log:  discardLogger(),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(db)
	}
	if db.tracer == nil {
		db.tracer = noop.NewTracerProvider().Tracer("database")
	}

	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.conn = conn

	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.log.WithField("path", dbPath).Debug("database ready")

	return db, nil
}

// Close closes the database handle.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// initSchema creates the tables if they don't exist. Nothing is ever dropped
// or altered.
func (db *DB) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS Customers (
			Id TEXT PRIMARY KEY,
			Name TEXT NOT NULL DEFAULT '',
			Email TEXT NOT NULL DEFAULT '',
			PhoneNumber TEXT NOT NULL DEFAULT '',
			VisitCount INTEGER NOT NULL DEFAULT 0,
			RewardAvailable INTEGER NOT NULL DEFAULT 0,
			CreatedAt TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS Businesses (
			Id TEXT PRIMARY KEY,
			Name TEXT NOT NULL DEFAULT '',
			RewardRuleJson TEXT NOT NULL DEFAULT '',
			CreatedAt TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS Visits (
			Id TEXT PRIMARY KEY,
			CustomerId TEXT NOT NULL DEFAULT '',
			BusinessId TEXT NOT NULL DEFAULT '',
			"Timestamp" TEXT NOT NULL DEFAULT '',
			Amount TEXT NOT NULL DEFAULT '0'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_visits_customer_business ON Visits(CustomerId, BusinessId)`,
		`CREATE INDEX IF NOT EXISTS idx_visits_business ON Visits(BusinessId)`,
		`CREATE INDEX IF NOT EXISTS idx_visits_timestamp ON Visits("Timestamp")`,
		`CREATE TABLE IF NOT EXISTS DemoCustomers (
			Id INTEGER PRIMARY KEY AUTOINCREMENT,
			Name TEXT NOT NULL,
			Phone TEXT,
			JoinedUtc TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS DemoVisits (
			Id INTEGER PRIMARY KEY AUTOINCREMENT,
			CustomerName TEXT NOT NULL,
			VisitUtc TEXT NOT NULL
		)`,
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin schema transaction: %w", err)
	}
	defer tx.Rollback()

	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}

	return tx.Commit()
}

// withConn runs fn on a dedicated connection inside a span and records the
// outcome. The connection is released on every path.
func (db *DB) withConn(ctx context.Context, entity, operation string, fn func(conn *sql.Conn) error) (err error) {
	start := time.Now()
	ctx, span := db.tracer.Start(ctx, entity+"."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "sqlite"),
			attribute.String("db.entity", entity),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		db.metrics.ObserveOperation(entity, operation, start, err)
	}()

	conn, err := db.conn.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()

	return fn(conn)
}

// fallback logs and counts a malformed persisted value that was replaced by a
// default.
func (db *DB) fallback(kind, entity, id, column string, raw any) {
	db.metrics.ObserveFallback(kind)
	db.log.WithFields(logrus.Fields{
		"entity": entity,
		"id":     id,
		"column": column,
		"raw":    fmt.Sprint(raw),
	}).Warn("malformed stored value replaced by default")
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
