// Package metadb reads, and when allowed writes, the MySQL database behind
// the platform controller.
package metadb

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/fjacquet/archer_ops/internal/logging"
	"github.com/fjacquet/archer_ops/internal/models"
	"github.com/fjacquet/archer_ops/internal/telemetry"
	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Errors returned before any statement reaches the server.
var (
	ErrNoDatabase      = errors.New("请指定数据库")
	ErrInvalidName     = errors.New("invalid identifier")
	ErrReadOnly        = errors.New("database client is read-only")
	ErrMissingWhere    = errors.New("refusing a statement without a WHERE clause")
	ErrNotInitialized  = errors.New("database client is not initialized")
	identRe            = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
	columnRe           = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	readOnlyStatements = []string{"SELECT", "SHOW", "DESCRIBE", "DESC", "EXPLAIN"}
)

const dialTimeout = 10 * time.Second

// Client runs statements against one MySQL server. Each call takes its own
// connection and selects its database with USE before running.
type Client struct {
	db       *sqlx.DB
	readOnly bool
	tracing  *telemetry.TracerWrapper
}

// Option configures a Client.
type Option func(*Client)

// WithWrites allows INSERT, UPDATE and DELETE statements.
func WithWrites(allow bool) Option {
	return func(c *Client) { c.readOnly = !allow }
}

// WithTracerProvider enables a span around every statement.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) { c.tracing = telemetry.NewTracerWrapper(tp, "archer-ops/db") }
}

// DSN builds the driver DSN for host from the database section.
func DSN(host string, cfg *models.Config) string {
	mc := mysql.NewConfig()
	mc.User = cfg.Database.User
	mc.Passwd = cfg.Database.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(host, cfg.Database.Port)
	mc.DBName = cfg.Database.DefaultDatabase
	mc.ParseTime = true
	mc.Timeout = dialTimeout
	mc.Params = map[string]string{"charset": cfg.Database.Charset}
	return mc.FormatDSN()
}

// Open connects to the controller database on host.
func Open(ctx context.Context, host string, cfg *models.Config, opts ...Option) (*Client, error) {
	db, err := sqlx.ConnectContext(ctx, "mysql", DSN(host, cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mysql on %s: %w", host, err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	opts = append([]Option{WithWrites(cfg.Database.AllowWrites)}, opts...)
	c := NewWithDB(db, opts...)
	logging.Component("metadb").WithFields(log.Fields{
		"host":     host,
		"readOnly": c.readOnly,
	}).Info("Connected to platform database")
	return c, nil
}

// NewWithDB wraps an existing pool. The client is read-only unless
// WithWrites(true) is given.
func NewWithDB(db *sqlx.DB, opts ...Option) *Client {
	c := &Client{db: db, readOnly: true}
	for _, opt := range opts {
		opt(c)
	}
	if c.tracing == nil {
		c.tracing = telemetry.NewTracerWrapper(nil, "archer-ops/db")
	}
	return c
}

// ReadOnly reports whether writes are refused.
func (c *Client) ReadOnly() bool { return c.readOnly }

// Ping checks the server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.db == nil {
		return ErrNotInitialized
	}
	return c.db.PingContext(ctx)
}

// Close releases the pool.
func (c *Client) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// IsReadStatement reports whether query starts with a read-only keyword.
func IsReadStatement(query string) bool {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return false
	}
	first := strings.ToUpper(strings.TrimLeft(fields[0], "("))
	for _, kw := range readOnlyStatements {
		if first == kw {
			return true
		}
	}
	return false
}

func checkIdent(kind, name string) error {
	if name == "" && kind == "database" {
		return ErrNoDatabase
	}
	re := identRe
	if kind == "column" {
		re = columnRe
	}
	if !re.MatchString(name) {
		return fmt.Errorf("%w: %s %q", ErrInvalidName, kind, name)
	}
	return nil
}

func quote(ident string) string {
	return "`" + ident + "`"
}

// QuerySimple runs a raw statement in database and returns its rows. A
// read-only client accepts only SELECT, SHOW, DESCRIBE, DESC and EXPLAIN.
func (c *Client) QuerySimple(ctx context.Context, query, database string) ([]map[string]any, error) {
	if c.readOnly && !IsReadStatement(query) {
		return nil, fmt.Errorf("%w: only SELECT, SHOW, DESCRIBE and EXPLAIN are allowed", ErrReadOnly)
	}
	return c.query(ctx, database, query)
}

func (c *Client) withConn(ctx context.Context, database, statement string, fn func(ctx context.Context, conn *sqlx.Conn) (int, error)) error {
	if c == nil || c.db == nil {
		return ErrNotInitialized
	}
	if err := checkIdent("database", database); err != nil {
		return err
	}
	ctx, span := c.tracing.StartSpan(ctx, "db.query", trace.SpanKindClient)
	defer span.End()
	span.SetAttributes(
		attribute.String(telemetry.AttrDBSystem, "mysql"),
		attribute.String(telemetry.AttrDBName, database),
		attribute.String(telemetry.AttrDBStatement, statement),
	)

	conn, err := c.db.Connx(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()
	if _, err := conn.ExecContext(ctx, "USE "+quote(database)); err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("failed to select database %s: %w", database, err)
	}

	start := time.Now()
	n, err := fn(ctx, conn)
	span.SetAttributes(attribute.Int(telemetry.AttrDBRows, n))
	entry := logging.Component("metadb").WithFields(log.Fields{
		"database": database,
		"sql":      statement,
		"duration": time.Since(start).String(),
	})
	if err != nil {
		telemetry.RecordError(span, err)
		entry.WithError(err).Warn("Statement failed")
		return err
	}
	entry.WithField("rows", n).Debug("Statement executed")
	return nil
}

func (c *Client) query(ctx context.Context, database, statement string, args ...any) ([]map[string]any, error) {
	out := []map[string]any{}
	err := c.withConn(ctx, database, statement, func(ctx context.Context, conn *sqlx.Conn) (int, error) {
		rows, err := conn.QueryxContext(ctx, statement, args...)
		if err != nil {
			return 0, err
		}
		defer rows.Close()
		for rows.Next() {
			row := map[string]any{}
			if err := rows.MapScan(row); err != nil {
				return len(out), err
			}
			for k, v := range row {
				if b, ok := v.([]byte); ok {
					row[k] = string(b)
				}
			}
			out = append(out, row)
		}
		return len(out), rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) exec(ctx context.Context, database, statement string, args ...any) (int64, error) {
	if c.readOnly {
		return 0, ErrReadOnly
	}
	var affected int64
	err := c.withConn(ctx, database, statement, func(ctx context.Context, conn *sqlx.Conn) (int, error) {
		res, err := conn.ExecContext(ctx, statement, args...)
		if err != nil {
			return 0, err
		}
		affected, err = res.RowsAffected()
		return int(affected), err
	})
	return affected, err
}
