package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/pspoerri/eovpipes/internal/config"
	"github.com/pspoerri/eovpipes/internal/convert"
	"github.com/pspoerri/eovpipes/internal/frame"
	"github.com/pspoerri/eovpipes/internal/mongo"
	"github.com/pspoerri/eovpipes/internal/mysql"
	"github.com/pspoerri/eovpipes/internal/pipe"
	"github.com/pspoerri/eovpipes/internal/postgres"
)

// tableReader is the source side of a sync: a Postgres, MySQL or MongoDB
// manager.
type tableReader interface {
	Read(ctx context.Context, table string) (*frame.Frame, error)
}

// readerFunc adapts a read function to tableReader.
type readerFunc func(ctx context.Context, table string) (*frame.Frame, error)

func (fn readerFunc) Read(ctx context.Context, table string) (*frame.Frame, error) {
	return fn(ctx, table)
}

// sourceFor returns the reader for cfg.Sync.Source and a func releasing it.
// The Postgres source is pg itself, which the caller closes.
func sourceFor(cfg *config.Config, pg *postgres.Manager, logger zerolog.Logger) (tableReader, func()) {
	switch cfg.Sync.Source {
	case config.SourceMySQL:
		m := mysql.NewManager(cfg.MySQL, logger)
		return m, func() { _ = m.Close() }
	case config.SourceMongo:
		m := mongo.NewManager(cfg.Mongo, logger)
		return readerFunc(m.ReadTable), func() { _ = m.Close(context.Background()) }
	default:
		return pg, func() {}
	}
}

// tableStore is the part of *postgres.Manager the sync writes through.
type tableStore interface {
	Write(ctx context.Context, f *frame.Frame, table string) error
	UpdateByKey(ctx context.Context, f *frame.Frame, table, key string) error
}

type beater interface {
	Run(ctx context.Context, interval time.Duration)
}

type syncer struct {
	pipe.Base

	cfg     config.SyncConfig
	source  tableReader
	store   tableStore
	conv    *convert.Converter
	hb      beater
	hbEvery time.Duration
}

func newSyncer(cfg config.SyncConfig, source tableReader, store tableStore, hb beater, hbEvery time.Duration, logger zerolog.Logger) *syncer {
	var conv *convert.Converter
	switch cfg.Direction {
	case config.WGSToEOV:
		conv = convert.NewWGSToEOV(convert.Columns{
			InX: cfg.LonColumn, InY: cfg.LatColumn,
			OutX: cfg.XColumn, OutY: cfg.YColumn,
			Geohash: cfg.GeohashColumn, GeohashPrecision: cfg.GeohashPrecision,
		}, cfg.Workers, logger)
	default:
		conv = convert.NewEOVToWGS(convert.Columns{
			InX: cfg.XColumn, InY: cfg.YColumn,
			OutX: cfg.LonColumn, OutY: cfg.LatColumn,
			Geohash: cfg.GeohashColumn, GeohashPrecision: cfg.GeohashPrecision,
		}, cfg.Workers, logger)
	}
	return &syncer{
		Base:    pipe.NewBase("eovsync", logger),
		cfg:     cfg,
		source:  source,
		store:   store,
		conv:    conv,
		hb:      hb,
		hbEvery: hbEvery,
	}
}

// runOnce copies the source table to the target Postgres table with converted
// coordinates, then sends a heartbeat.
func (s *syncer) runOnce(ctx context.Context) (err error) {
	defer s.Time("sync")(&err)

	f, err := s.source.Read(ctx, s.cfg.SourceTable)
	if err != nil {
		return err
	}
	if err := s.conv.Run(ctx, f); err != nil {
		return fmt.Errorf("convert %s: %w", s.cfg.SourceTable, err)
	}

	if s.cfg.KeyColumn != "" {
		err = s.store.UpdateByKey(ctx, f, s.cfg.TargetTable, s.cfg.KeyColumn)
	} else {
		err = s.store.Write(ctx, f, s.cfg.TargetTable)
	}
	if err != nil {
		return err
	}

	s.hb.Run(ctx, s.hbEvery)
	return nil
}

// loop calls runOnce every interval until ctx is done. Failed runs are
// logged and retried on the next tick.
func (s *syncer) loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := s.runOnce(ctx); err != nil && ctx.Err() == nil {
			s.Logger.Error().Err(err).Msg("Sync failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
