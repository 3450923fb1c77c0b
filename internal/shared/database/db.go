package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/mrmushfiq/llm0-freetier-router/internal/shared/models"
)

// Dialect selects the SQL flavour of the request log
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// sqliteTimeFormat is fixed width so stored timestamps compare lexically
const sqliteTimeFormat = "2006-01-02T15:04:05.000000Z"

type DB struct {
	conn    *sql.DB
	dialect Dialect
}

// New opens the request log. sqlite://path (or a path ending in .db) selects SQLite,
// anything else is handed to the Postgres driver.
func New(databaseURL string) (*DB, error) {
	dialect, dsn := parseURL(databaseURL)

	if dialect == SQLite {
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	conn, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	if dialect == SQLite {
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(25)
		conn.SetMaxIdleConns(10)
		conn.SetConnMaxLifetime(5 * time.Minute)
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	return &DB{conn: conn, dialect: dialect}, nil
}

// NewWithConn wraps an open connection
func NewWithConn(conn *sql.DB, dialect Dialect) *DB {
	return &DB{conn: conn, dialect: dialect}
}

func parseURL(databaseURL string) (Dialect, string) {
	switch {
	case strings.HasPrefix(databaseURL, "sqlite://"):
		return SQLite, strings.TrimPrefix(databaseURL, "sqlite://")
	case strings.HasPrefix(databaseURL, "sqlite:"):
		return SQLite, strings.TrimPrefix(databaseURL, "sqlite:")
	case strings.HasSuffix(databaseURL, ".db"), strings.HasSuffix(databaseURL, ".sqlite"):
		return SQLite, databaseURL
	}
	return Postgres, databaseURL
}

// Dialect returns the SQL flavour in use
func (db *DB) Dialect() Dialect {
	return db.dialect
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks the connection
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS gateway_logs (
		id            TEXT PRIMARY KEY,
		method        TEXT NOT NULL,
		endpoint      TEXT NOT NULL,
		model         TEXT,
		provider      TEXT,
		latency_ms    INTEGER NOT NULL DEFAULT 0,
		cache_hit     BOOLEAN NOT NULL DEFAULT FALSE,
		failover_used BOOLEAN NOT NULL DEFAULT FALSE,
		attempted     TEXT,
		status_code   INTEGER NOT NULL,
		error_message TEXT,
		created_at    TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_gateway_logs_created ON gateway_logs(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_gateway_logs_provider ON gateway_logs(provider)`,
}

// Migrate creates the request log table
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// LogRequest logs a gateway request
func (db *DB) LogRequest(ctx context.Context, log *models.GatewayLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO gateway_logs (
			id, method, endpoint, model, provider, latency_ms, cache_hit,
			failover_used, attempted, status_code, error_message, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := db.conn.ExecContext(ctx,
		db.rebind(query),
		log.ID,
		log.Method,
		log.Endpoint,
		log.Model,
		log.Provider,
		log.LatencyMs,
		log.CacheHit,
		log.FailoverUsed,
		log.Attempted,
		log.StatusCode,
		log.ErrorMessage,
		db.bindTime(log.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert request log: %w", err)
	}

	return nil
}

// ProviderSummary aggregates the request log per provider since the given time
func (db *DB) ProviderSummary(ctx context.Context, since time.Time) ([]models.ProviderSummary, error) {
	query := `
		SELECT COALESCE(provider, ''),
		       COUNT(*),
		       SUM(CASE WHEN status_code >= 400 THEN 1 ELSE 0 END),
		       SUM(CASE WHEN cache_hit THEN 1 ELSE 0 END),
		       SUM(CASE WHEN failover_used THEN 1 ELSE 0 END),
		       COALESCE(AVG(latency_ms), 0)
		FROM gateway_logs
		WHERE created_at >= $1
		GROUP BY provider
		ORDER BY provider
	`

	rows, err := db.conn.QueryContext(ctx, db.rebind(query), db.bindTime(since))
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	defer rows.Close()

	var out []models.ProviderSummary
	for rows.Next() {
		var s models.ProviderSummary
		if err := rows.Scan(&s.Provider, &s.Requests, &s.Failures, &s.CacheHits, &s.Failovers, &s.AvgLatencyMs); err != nil {
			return nil, fmt.Errorf("database error: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	return out, nil
}

// rebind turns $N placeholders into ? for SQLite
func (db *DB) rebind(query string) string {
	if db.dialect != SQLite {
		return query
	}
	var b strings.Builder
	for i := 0; i < len(query); i++ {
		if query[i] == '$' {
			j := i + 1
			for j < len(query) && query[j] >= '0' && query[j] <= '9' {
				j++
			}
			if _, err := strconv.Atoi(query[i+1 : j]); err == nil {
				b.WriteByte('?')
				i = j - 1
				continue
			}
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (db *DB) bindTime(t time.Time) any {
	if db.dialect == SQLite {
		return t.UTC().Format(sqliteTimeFormat)
	}
	return t.UTC()
}
