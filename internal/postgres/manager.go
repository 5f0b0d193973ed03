// Package postgres reads and writes frames from and to PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/pspoerri/eovpipes/internal/config"
	"github.com/pspoerri/eovpipes/internal/frame"
	"github.com/pspoerri/eovpipes/internal/pipe"
)

// Manager manages reading and writing of one PostgreSQL database. The pool
// is created on first use. Safe for concurrent use.
type Manager struct {
	pipe.Base

	cfg config.PostgresConfig

	mu   sync.Mutex
	pool *pgxpool.Pool
}

var _ pipe.Pipe = (*Manager)(nil)

// NewManager returns a Manager for cfg. No connection is made yet.
func NewManager(cfg config.PostgresConfig, logger zerolog.Logger) *Manager {
	return &Manager{
		Base: pipe.NewBase("postgres_manager", logger),
		cfg:  cfg,
	}
}

// Addr returns host:port of the server.
func (m *Manager) Addr() string {
	return net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
}

// Connect creates the pool if needed and verifies it with a ping.
func (m *Manager) Connect(ctx context.Context) (*pgxpool.Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pool != nil {
		return m.pool, nil
	}

	pcfg, err := pgxpool.ParseConfig(m.cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if m.cfg.MaxConns > 0 {
		pcfg.MaxConns = m.cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		m.Logger.Error().Err(err).Str("addr", m.Addr()).Msg("Connecting failed")
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		m.Logger.Error().Err(err).Str("addr", m.Addr()).Msg("Connecting failed")
		return nil, fmt.Errorf("ping: %w", err)
	}

	m.Logger.Info().Str("addr", m.Addr()).Msg("Connected")
	m.pool = pool
	return pool, nil
}

// Close releases the pool. The Manager reconnects on next use.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pool != nil {
		m.pool.Close()
		m.pool = nil
	}
}

// Read returns the whole table.
func (m *Manager) Read(ctx context.Context, table string) (f *frame.Frame, err error) {
	defer m.Time("read")(&err)

	query := "SELECT * FROM " + quoteTable(table)
	m.Logger.Info().Str("query", query).Msg("Executing query")

	f, err = m.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", table, err)
	}
	rows, cols := f.Shape()
	m.Logger.Info().Str("table", m.cfg.DB+"."+table).Int("rows", rows).Int("cols", cols).Msg("Table loaded")
	return f, nil
}

// Query runs an arbitrary query and collects the result into a frame.
func (m *Manager) Query(ctx context.Context, query string, args ...any) (*frame.Frame, error) {
	pool, err := m.Connect(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fds := rows.FieldDescriptions()
	cols := make([]string, len(fds))
	for i, fd := range fds {
		cols[i] = fd.Name
	}

	f := frame.New(cols...)
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		f.Rows = append(f.Rows, vals)
	}
	return f, rows.Err()
}

// Write replaces table with the contents of f. The table is dropped and
// recreated with column types inferred from the first non-nil cell.
func (m *Manager) Write(ctx context.Context, f *frame.Frame, table string) (err error) {
	defer m.Time("write")(&err)

	err = m.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+quoteTable(table)); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, createTableSQL(table, f, false)); err != nil {
			return err
		}
		_, err := copyFrame(ctx, tx, table, f)
		return err
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", table, err)
	}

	rows, cols := f.Shape()
	m.Logger.Info().Str("table", m.cfg.DB+"."+table).Int("rows", rows).Int("cols", cols).Msg("Frame written")
	return nil
}

// Append inserts the rows of f, creating the table if it does not exist.
func (m *Manager) Append(ctx context.Context, f *frame.Frame, table string) (err error) {
	defer m.Time("append")(&err)

	var n int64
	err = m.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, createTableSQL(table, f, true)); err != nil {
			return err
		}
		copied, err := copyFrame(ctx, tx, table, f)
		n = copied
		return err
	})
	if err != nil {
		return fmt.Errorf("append %s: %w", table, err)
	}

	m.Logger.Info().Str("table", m.cfg.DB+"."+table).Int64("rows", n).Msg("Rows appended")
	return nil
}

// Truncate empties table.
func (m *Manager) Truncate(ctx context.Context, table string) (err error) {
	defer m.Time("truncate")(&err)

	pool, err := m.Connect(ctx)
	if err != nil {
		return err
	}

	query := "TRUNCATE TABLE " + quoteTable(table)
	m.Logger.Info().Str("query", query).Msg("Executing query")
	if _, err := pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("truncate %s: %w", table, err)
	}
	m.Logger.Info().Str("table", m.cfg.DB+"."+table).Msg("Table truncated")
	return nil
}

// TruncateInsert empties table and inserts f in one transaction. The table
// is created first if missing.
func (m *Manager) TruncateInsert(ctx context.Context, table string, f *frame.Frame) (err error) {
	defer m.Time("truncate_insert")(&err)

	var n int64
	err = m.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, createTableSQL(table, f, true)); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, "TRUNCATE TABLE "+quoteTable(table)); err != nil {
			return err
		}
		copied, err := copyFrame(ctx, tx, table, f)
		n = copied
		return err
	})
	if err != nil {
		return fmt.Errorf("truncate-insert %s: %w", table, err)
	}

	m.Logger.Info().Str("table", table).Int64("rows", n).Msg("Data truncate-inserted")
	return nil
}

// ErrEmptyFilter is returned by Delete when the filter would match every row.
var ErrEmptyFilter = errors.New("empty delete filter")

// Delete removes the rows matching every column=value pair of filter.
func (m *Manager) Delete(ctx context.Context, table string, filter map[string]any) (err error) {
	defer m.Time("delete")(&err)

	query, args, err := deleteSQL(table, filter)
	if err != nil {
		return err
	}

	pool, err := m.Connect(ctx)
	if err != nil {
		return err
	}
	tag, err := pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}

	m.Logger.Info().Str("table", table).Interface("filter", filter).Int64("rows", tag.RowsAffected()).Msg("Data deleted")
	return nil
}

// DropOldRecords deletes rows whose timestamp column is older than maxAge.
func (m *Manager) DropOldRecords(ctx context.Context, table, column string, maxAge time.Duration) (n int64, err error) {
	defer m.Time("drop_old_records")(&err)

	pool, err := m.Connect(ctx)
	if err != nil {
		return 0, err
	}

	tooOld := time.Now().Add(-maxAge)
	query := fmt.Sprintf("DELETE FROM %s WHERE %s <= $1", quoteTable(table), pgx.Identifier{column}.Sanitize())
	tag, err := pool.Exec(ctx, query, tooOld)
	if err != nil {
		return 0, fmt.Errorf("drop old records from %s: %w", table, err)
	}

	m.Logger.Info().Str("table", table).Str("column", column).Time("older_than", tooOld).
		Int64("rows", tag.RowsAffected()).Msg("Old records deleted")
	return tag.RowsAffected(), nil
}

// UpdateByKey replaces, for every distinct value of key in f, the rows of
// table holding that value, then inserts f. Rows with other keys are kept.
func (m *Manager) UpdateByKey(ctx context.Context, f *frame.Frame, table, key string) (err error) {
	defer m.Time("update_by_key")(&err)

	keys, err := f.Unique(key)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", quoteTable(table), pgx.Identifier{key}.Sanitize())
	err = m.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, createTableSQL(table, f, true)); err != nil {
			return err
		}
		for _, k := range keys {
			if _, err := tx.Exec(ctx, query, k); err != nil {
				return err
			}
			m.Logger.Debug().Str("table", table).Interface(key, k).Msg("Records deleted")
		}
		_, err := copyFrame(ctx, tx, table, f)
		return err
	})
	if err != nil {
		return fmt.Errorf("update %s by %s: %w", table, key, err)
	}

	m.Logger.Info().Str("table", table).Int("keys", len(keys)).Int("rows", f.Len()).Msg("Records updated")
	return nil
}

func (m *Manager) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	pool, err := m.Connect(ctx)
	if err != nil {
		return err
	}
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func copyFrame(ctx context.Context, tx pgx.Tx, table string, f *frame.Frame) (int64, error) {
	if f.Len() == 0 {
		return 0, nil
	}
	return tx.CopyFrom(ctx, tableIdent(table), f.Columns, pgx.CopyFromRows(f.Rows))
}
