package mysql

import (
	"context"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog"

	"github.com/pspoerri/eovpipes/internal/config"
	"github.com/pspoerri/eovpipes/internal/frame"
)

const testDSNEnv = "EOVPIPES_TEST_MYSQL_DSN"

// Live tests need a disposable database, e.g.
// EOVPIPES_TEST_MYSQL_DSN=root:root@tcp(localhost:3306)/test
func testManager(t *testing.T, rowLimit, chunkSize int) *Manager {
	t.Helper()
	dsn := os.Getenv(testDSNEnv)
	if dsn == "" {
		t.Skip(testDSNEnv + " not set")
	}
	c, err := gomysql.ParseDSN(dsn)
	if err != nil {
		t.Fatalf("%s: %v", testDSNEnv, err)
	}
	host, port, err := net.SplitHostPort(c.Addr)
	if err != nil {
		t.Fatal(err)
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		t.Fatal(err)
	}
	m := NewManager(config.MySQLConfig{
		Host:           host,
		Port:           p,
		DB:             c.DBName,
		User:           c.User,
		Password:       c.Passwd,
		ConnectTimeout: 10 * time.Second,
		RowLimit:       rowLimit,
		ChunkSize:      chunkSize,
	}, zerolog.New(zerolog.NewTestWriter(t)))
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func tours(t *testing.T, n int) *frame.Frame {
	t.Helper()
	f := frame.New("TOUR_ID", "EOV_X", "EOV_Y", "ETA")
	ts := time.Date(2019, 1, 1, 11, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		if err := f.Append(int64(i), 650000.0+float64(i), 230000.0, ts.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatal(err)
		}
	}
	return f
}

func TestManager_WriteRead(t *testing.T) {
	m := testManager(t, 0, 0)
	ctx := context.Background()
	t.Cleanup(func() { _ = m.DropTable(ctx, "eovpipes_tours") })

	if err := m.Write(ctx, tours(t, 3), "eovpipes_tours"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := m.Read(ctx, "eovpipes_tours")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if rows, cols := got.Shape(); rows != 3 || cols != 4 {
		t.Fatalf("Shape() = (%d, %d), want (3, 4)", rows, cols)
	}
	if x, err := frame.Float(got.Rows[2][1]); err != nil || x != 650002 {
		t.Errorf("EOV_X = %v (%v)", got.Rows[2][1], err)
	}
	if _, ok := got.Rows[0][3].(time.Time); !ok {
		t.Errorf("ETA = %T, want time.Time", got.Rows[0][3])
	}
}

func TestManager_ReadChunked(t *testing.T) {
	ctx := context.Background()
	w := testManager(t, 0, 0)
	t.Cleanup(func() { _ = w.DropTable(ctx, "eovpipes_chunks") })
	if err := w.Write(ctx, tours(t, 1203), "eovpipes_chunks"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name             string
		rowLimit, chunks int
		want             int
	}{
		{"chunks", 0, 500, 1203},
		{"limit", 1000, 0, 1000},
		{"limit and chunks", 1100, 500, 1100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := testManager(t, tt.rowLimit, tt.chunks)
			f, err := m.Read(ctx, "eovpipes_chunks")
			if err != nil {
				t.Fatal(err)
			}
			if f.Len() != tt.want {
				t.Errorf("read %d rows, want %d", f.Len(), tt.want)
			}
			ids, err := f.Unique("TOUR_ID")
			if err != nil {
				t.Fatal(err)
			}
			if len(ids) != tt.want {
				t.Errorf("%d distinct ids, want %d", len(ids), tt.want)
			}
		})
	}
}

func TestManager_ReadEmptyChunked(t *testing.T) {
	ctx := context.Background()
	m := testManager(t, 0, 100)
	t.Cleanup(func() { _ = m.DropTable(ctx, "eovpipes_empty") })
	if err := m.Write(ctx, frame.New("A", "B"), "eovpipes_empty"); err != nil {
		t.Fatal(err)
	}
	f, err := m.Read(ctx, "eovpipes_empty")
	if err != nil {
		t.Fatal(err)
	}
	if rows, cols := f.Shape(); rows != 0 || cols != 2 {
		t.Errorf("Shape() = (%d, %d), want (0, 2)", rows, cols)
	}
}
