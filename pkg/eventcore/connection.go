// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package eventcore

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "github.com/coralweave/sessioncore/internal/sqlitedriver" // registers "sqlite3"
	"github.com/coralweave/sessioncore/pkg/observability"
	"github.com/coralweave/sessioncore/pkg/storage/sqlite"
	"go.uber.org/zap"
)

// ConnectionConfig configures Open.
type ConnectionConfig struct {
	// DBPath is the SQLite file path. Required.
	DBPath string

	// EnableWAL selects the WAL journal mode. When false (the zero value)
	// the DELETE journal mode is used.
	EnableWAL bool

	// BusyTimeoutMS is the SQLite busy_timeout in milliseconds. Default 5000.
	BusyTimeoutMS int

	// CacheSize is the SQLite page cache size passed to PRAGMA cache_size.
	// Negative values are KB-denominated per SQLite convention. Default
	// -8000 (8MB); TestMode shrinks this to keep test DBs cheap.
	CacheSize int

	// TestMode shrinks cache_size and mmap_size for fast, low-memory test
	// fixtures.
	TestMode bool

	// EncryptDatabase enables SQLCipher encryption at rest when the binary
	// is built with CGO (internal/sqlitedriver.EncryptionSupported). When
	// true, requires EncryptionKey or SESSIONCORE_DB_KEY.
	EncryptDatabase bool
	EncryptionKey   string

	Logger *zap.Logger
	Tracer observability.Tracer
}

func (c *ConnectionConfig) applyDefaults() {
	if c.CacheSize == 0 {
		if c.TestMode {
			c.CacheSize = -2000
		} else {
			c.CacheSize = -8000
		}
	}
	if c.BusyTimeoutMS == 0 {
		c.BusyTimeoutMS = 5000
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Tracer == nil {
		c.Tracer = observability.NewNoOpTracer()
	}
}

// txKey is the context key under which the active *sql.Tx for the current
// logical task is stored, giving nested transaction calls task-local
// re-entrancy. A context value survives task migration across goroutines in
// a way a goroutine-local would not.
type txKey struct{}

// Connection owns the embedded SQLite database: pragma installation and the
// serialization of top-level asynchronous transactions on the shared
// connection. All EventStore mutations go through it.
type Connection struct {
	db     *sql.DB
	tracer observability.Tracer
	logger *zap.Logger

	// queue serializes top-level transactionAsync calls. Nested calls
	// within the same logical task reuse the existing transaction via ctx
	// and never touch the queue.
	queue chan struct{}
}

// Open installs pragmas and returns a ready Connection. Any pragma error is
// fatal to Open.
func Open(ctx context.Context, cfg ConnectionConfig) (*Connection, error) {
	cfg.applyDefaults()
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("eventcore: %w: DBPath is required", ErrInvalidOption)
	}

	db, err := sql.Open("sqlite3", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("eventcore: open %q: %w", cfg.DBPath, err)
	}

	if cfg.EncryptDatabase {
		key := cfg.EncryptionKey
		if key == "" {
			key = os.Getenv("SESSIONCORE_DB_KEY")
		}
		if key == "" {
			db.Close() //nolint:errcheck
			return nil, fmt.Errorf("eventcore: encryption enabled but no key provided (set EncryptionKey or SESSIONCORE_DB_KEY)")
		}
		if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA key = '%s'", key)); err != nil {
			db.Close() //nolint:errcheck
			return nil, fmt.Errorf("eventcore: set encryption key: %w", err)
		}
	}

	journalMode := "DELETE"
	if cfg.EnableWAL {
		journalMode = "WAL"
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA journal_mode=%s", journalMode),
		fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.BusyTimeoutMS),
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
		fmt.Sprintf("PRAGMA cache_size=%d", cfg.CacheSize),
		"PRAGMA temp_store=MEMORY",
	}
	if !cfg.TestMode {
		pragmas = append(pragmas, "PRAGMA mmap_size=268435456")
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close() //nolint:errcheck
			return nil, fmt.Errorf("eventcore: pragma %q: %w", p, err)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("eventcore: ping %q: %w", cfg.DBPath, err)
	}

	migrator, err := sqlite.NewMigrator(db, cfg.Tracer)
	if err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("eventcore: build migrator: %w", err)
	}
	if err := migrator.MigrateUp(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("eventcore: migrate schema: %w", err)
	}

	return &Connection{
		db:     db,
		tracer: cfg.Tracer,
		logger: cfg.Logger,
		queue:  make(chan struct{}, 1),
	}, nil
}

// DB exposes the underlying *sql.DB for read-only queries that don't need
// transactional semantics (e.g. EventStore.search, getEventsBySession).
func (c *Connection) DB() *sql.DB { return c.db }

// Transaction wraps fn in a single atomic, synchronous transaction. Nested
// same-task calls reuse the transaction already open in ctx.
func (c *Connection) Transaction(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok && tx != nil {
		return fn(ctx, tx)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("eventcore: begin transaction: %w", err)
	}
	innerCtx := context.WithValue(ctx, txKey{}, tx)
	if err := fn(innerCtx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("eventcore: commit transaction: %w", err)
	}
	return nil
}

// TransactionAsync is Transaction's suspension-aware sibling. Concurrent
// top-level calls are queued and executed serially. The transaction is
// opened with the driver's default (deferred) BEGIN, not BEGIN IMMEDIATE:
// SQLite takes the write lock at fn's first write, and busy_timeout covers
// contention with writers outside the queue.
//
// If ctx already carries an open transaction (this call is nested within an
// outer TransactionAsync/Transaction on the same logical task), fn runs
// against that transaction directly and the queue is never touched — this
// is the re-entrancy the task-local txKey implements.
func (c *Connection) TransactionAsync(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok && tx != nil {
		return fn(ctx, tx)
	}

	select {
	case c.queue <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-c.queue }()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("eventcore: begin async transaction: %w", err)
	}

	innerCtx := context.WithValue(ctx, txKey{}, tx)
	if err := fn(innerCtx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("eventcore: commit async transaction: %w", err)
	}
	return nil
}

// Close runs PRAGMA optimize then closes the database.
func (c *Connection) Close() error {
	_, _ = c.db.Exec("PRAGMA optimize")
	return c.db.Close()
}
