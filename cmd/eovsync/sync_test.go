package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pspoerri/eovpipes/internal/config"
	"github.com/pspoerri/eovpipes/internal/frame"
	"github.com/pspoerri/eovpipes/internal/mysql"
	"github.com/pspoerri/eovpipes/internal/postgres"
)

type fakeStore struct {
	read    func(table string) (*frame.Frame, error)
	written map[string]*frame.Frame
	keyed   string
}

func (s *fakeStore) Read(_ context.Context, table string) (*frame.Frame, error) {
	return s.read(table)
}

func (s *fakeStore) Write(_ context.Context, f *frame.Frame, table string) error {
	if s.written == nil {
		s.written = map[string]*frame.Frame{}
	}
	s.written[table] = f
	return nil
}

func (s *fakeStore) UpdateByKey(ctx context.Context, f *frame.Frame, table, key string) error {
	s.keyed = key
	return s.Write(ctx, f, table)
}

type countingBeat struct{ n int }

func (b *countingBeat) Run(context.Context, time.Duration) { b.n++ }

func syncConfig() config.SyncConfig {
	return config.SyncConfig{
		SourceTable:      "pharmacies",
		TargetTable:      "pharmacies_wgs",
		Direction:        config.EOVToWGS,
		XColumn:          "eov_x",
		YColumn:          "eov_y",
		LonColumn:        "longitude",
		LatColumn:        "latitude",
		GeohashPrecision: 9,
		Workers:          2,
	}
}

func pharmacyTable(string) (*frame.Frame, error) {
	f := frame.New("id", "eov_x", "eov_y")
	_ = f.Append(int64(1), 650000.0, 230000.0)
	_ = f.Append(int64(2), 649453.68, 239331.97)
	return f, nil
}

func TestSyncer_RunOnce(t *testing.T) {
	store := &fakeStore{read: pharmacyTable}
	hb := &countingBeat{}
	s := newSyncer(syncConfig(), store, store, hb, time.Minute, zerolog.Nop())

	if err := s.runOnce(context.Background()); err != nil {
		t.Fatalf("runOnce: %v", err)
	}

	got := store.written["pharmacies_wgs"]
	if got == nil {
		t.Fatal("target table not written")
	}
	lon, err := got.Column("longitude")
	if err != nil {
		t.Fatal(err)
	}
	if v := lon[0].(float64); v < 19.04 || v > 19.05 {
		t.Errorf("longitude = %v", v)
	}
	if hb.n != 1 {
		t.Errorf("heartbeat ran %d times, want 1", hb.n)
	}
	if store.keyed != "" {
		t.Errorf("UpdateByKey used without key column")
	}
}

func TestSyncer_UpdateByKeyAndReverse(t *testing.T) {
	cfg := syncConfig()
	cfg.Direction = config.WGSToEOV
	cfg.KeyColumn = "id"
	cfg.GeohashColumn = "geohash"

	store := &fakeStore{read: func(string) (*frame.Frame, error) {
		f := frame.New("id", "longitude", "latitude")
		_ = f.Append(int64(1), 20.0, 46.0)
		return f, nil
	}}
	s := newSyncer(cfg, store, store, &countingBeat{}, time.Minute, zerolog.Nop())

	if err := s.runOnce(context.Background()); err != nil {
		t.Fatalf("runOnce: %v", err)
	}
	if store.keyed != "id" {
		t.Errorf("key = %q, want id", store.keyed)
	}
	got := store.written["pharmacies_wgs"]
	if want := []string{"id", "longitude", "latitude", "eov_x", "eov_y", "geohash"}; len(got.Columns) != len(want) {
		t.Fatalf("columns = %v, want %v", got.Columns, want)
	}
	if x := got.Rows[0][3].(float64); x < 723793 || x > 723794 {
		t.Errorf("eov_x = %v", x)
	}
}

func TestSyncer_ReadError(t *testing.T) {
	boom := errors.New("connection refused")
	store := &fakeStore{read: func(string) (*frame.Frame, error) { return nil, boom }}
	hb := &countingBeat{}
	s := newSyncer(syncConfig(), store, store, hb, time.Minute, zerolog.Nop())

	if err := s.runOnce(context.Background()); !errors.Is(err, boom) {
		t.Errorf("runOnce() = %v, want %v", err, boom)
	}
	if hb.n != 0 {
		t.Error("heartbeat sent after a failed sync")
	}
}

func TestSyncer_LoopStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hb := &countingBeat{}
	store := &fakeStore{read: func(table string) (*frame.Frame, error) {
		cancel()
		return pharmacyTable(table)
	}}
	s := newSyncer(syncConfig(), store, store, hb, time.Minute, zerolog.Nop())

	done := make(chan struct{})
	go func() {
		s.loop(ctx, time.Hour)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop after cancel")
	}
}

func TestSyncer_SeparateSource(t *testing.T) {
	var readFrom string
	source := readerFunc(func(_ context.Context, table string) (*frame.Frame, error) {
		readFrom = table
		return pharmacyTable(table)
	})
	store := &fakeStore{read: func(string) (*frame.Frame, error) {
		t.Error("target store read")
		return nil, nil
	}}
	s := newSyncer(syncConfig(), source, store, &countingBeat{}, time.Minute, zerolog.Nop())

	if err := s.runOnce(context.Background()); err != nil {
		t.Fatalf("runOnce: %v", err)
	}
	if readFrom != "pharmacies" {
		t.Errorf("source read %q, want pharmacies", readFrom)
	}
	if store.written["pharmacies_wgs"] == nil {
		t.Error("target table not written")
	}
}

func TestSourceFor(t *testing.T) {
	pg := postgres.NewManager(config.PostgresConfig{}, zerolog.Nop())

	tests := []struct {
		source string
		check  func(tableReader) bool
	}{
		{config.SourcePostgres, func(r tableReader) bool { return r == tableReader(pg) }},
		{config.SourceMySQL, func(r tableReader) bool { _, ok := r.(*mysql.Manager); return ok }},
		{config.SourceMongo, func(r tableReader) bool { _, ok := r.(readerFunc); return ok }},
	}
	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			cfg := &config.Config{Sync: config.SyncConfig{Source: tt.source}}
			r, closeSource := sourceFor(cfg, pg, zerolog.Nop())
			defer closeSource()
			if !tt.check(r) {
				t.Errorf("sourceFor(%s) = %T", tt.source, r)
			}
		})
	}
}
