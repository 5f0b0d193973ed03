// Package mysql reads and writes frames from and to MySQL.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"sync"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog"

	"github.com/pspoerri/eovpipes/internal/config"
	"github.com/pspoerri/eovpipes/internal/frame"
	"github.com/pspoerri/eovpipes/internal/pipe"
)

// insertBatch is the number of rows per INSERT statement.
const insertBatch = 500

// Manager manages reading and writing of one MySQL database. The handle is
// opened on first use. Safe for concurrent use.
type Manager struct {
	pipe.Base

	cfg config.MySQLConfig

	mu sync.Mutex
	db *sql.DB
}

var _ pipe.Pipe = (*Manager)(nil)

// NewManager returns a Manager for cfg. No connection is made yet.
func NewManager(cfg config.MySQLConfig, logger zerolog.Logger) *Manager {
	return &Manager{
		Base: pipe.NewBase("mysql_manager", logger),
		cfg:  cfg,
	}
}

// Addr returns host:port of the server.
func (m *Manager) Addr() string {
	return net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
}

// DSN returns the driver data source name for cfg.
func DSN(cfg config.MySQLConfig) string {
	c := gomysql.NewConfig()
	c.User = cfg.User
	c.Passwd = cfg.Password
	c.Net = "tcp"
	c.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	c.DBName = cfg.DB
	c.Timeout = cfg.ConnectTimeout
	c.ParseTime = true
	return c.FormatDSN()
}

// Connect opens the handle if needed and verifies it with a ping.
func (m *Manager) Connect(ctx context.Context) (*sql.DB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.db != nil {
		return m.db, nil
	}

	db, err := sql.Open("mysql", DSN(m.cfg))
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		m.Logger.Error().Err(err).Str("addr", m.Addr()).Msg("Connecting failed")
		return nil, fmt.Errorf("ping: %w", err)
	}

	m.Logger.Info().Str("addr", m.Addr()).Msg("Connected")
	m.db = db
	return db, nil
}

// Close releases the handle. The Manager reconnects on next use.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db == nil {
		return nil
	}
	err := m.db.Close()
	m.db = nil
	return err
}

// Read returns table, at most RowLimit rows if set. With a ChunkSize the
// rows are fetched in pages of that size.
func (m *Manager) Read(ctx context.Context, table string) (f *frame.Frame, err error) {
	defer m.Time("read")(&err)

	if m.cfg.ChunkSize <= 0 {
		query := selectSQL(table, 0, m.cfg.RowLimit)
		m.Logger.Info().Str("query", query).Msg("Executing query")
		if f, err = m.Query(ctx, query); err != nil {
			return nil, fmt.Errorf("read %s: %w", table, err)
		}
	} else if f, err = m.readChunked(ctx, table); err != nil {
		return nil, fmt.Errorf("read %s: %w", table, err)
	}

	rows, cols := f.Shape()
	m.Logger.Info().Str("table", m.cfg.DB+"."+table).Int("rows", rows).Int("cols", cols).Msg("Table loaded")
	return f, nil
}

func (m *Manager) readChunked(ctx context.Context, table string) (*frame.Frame, error) {
	total := m.cfg.RowLimit
	if total <= 0 {
		n, err := m.count(ctx, table)
		if err != nil {
			return nil, err
		}
		total = n
	}

	var f *frame.Frame
	for _, c := range chunks(total, m.cfg.ChunkSize) {
		query := selectSQL(table, c[0], c[1])
		m.Logger.Debug().Str("query", query).Msg("Executing query")
		part, err := m.Query(ctx, query)
		if err != nil {
			return nil, err
		}
		if f == nil {
			f = part
		} else {
			f.Rows = append(f.Rows, part.Rows...)
		}
		if part.Len() < c[1] {
			break
		}
	}
	if f == nil {
		// Empty table; still report its columns.
		return m.Query(ctx, selectSQL(table, 0, 0))
	}
	return f, nil
}

func (m *Manager) count(ctx context.Context, table string) (int, error) {
	db, err := m.Connect(ctx)
	if err != nil {
		return 0, err
	}
	var n int
	if err := db.QueryRowContext(ctx, countSQL(table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

// Query runs an arbitrary query and collects the result into a frame.
// Text columns come back as strings.
func (m *Manager) Query(ctx context.Context, query string, args ...any) (*frame.Frame, error) {
	db, err := m.Connect(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	cols := make([]string, len(types))
	for i, ct := range types {
		cols[i] = ct.Name()
	}

	f := frame.New(cols...)
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, ct := range types {
			vals[i] = scanValue(vals[i], ct.DatabaseTypeName())
		}
		f.Rows = append(f.Rows, vals)
	}
	return f, rows.Err()
}

// Write replaces table with the contents of f. The table is dropped and
// recreated with column types inferred from the first non-nil cell.
func (m *Manager) Write(ctx context.Context, f *frame.Frame, table string) (err error) {
	defer m.Time("write")(&err)

	db, err := m.Connect(ctx)
	if err != nil {
		return err
	}

	// DDL commits implicitly in MySQL, so only the inserts share a transaction.
	if _, err := db.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteTable(table)); err != nil {
		return fmt.Errorf("drop %s: %w", table, err)
	}
	if _, err := db.ExecContext(ctx, createTableSQL(table, f)); err != nil {
		return fmt.Errorf("create %s: %w", table, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for start := 0; start < f.Len(); start += insertBatch {
		batch := f.Rows[start:min(start+insertBatch, f.Len())]
		args := make([]any, 0, len(batch)*len(f.Columns))
		for _, row := range batch {
			args = append(args, row...)
		}
		if _, err = tx.ExecContext(ctx, insertSQL(table, f.Columns, len(batch)), args...); err != nil {
			return fmt.Errorf("insert into %s: %w", table, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return err
	}

	m.Logger.Info().Str("table", m.cfg.DB+"."+table).Int("rows", f.Len()).Msg("Table written")
	return nil
}

// DropTable removes table if it exists.
func (m *Manager) DropTable(ctx context.Context, table string) error {
	db, err := m.Connect(ctx)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteTable(table)); err != nil {
		return fmt.Errorf("drop %s: %w", table, err)
	}
	return nil
}
