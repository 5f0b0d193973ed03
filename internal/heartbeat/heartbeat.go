// Package heartbeat keeps a single-row timestamp table fresh so that external
// monitoring can tell the pipeline is alive.
//
// Not meant for high frequency or precise heartbeats.
package heartbeat

import (
	"context"
	"time"
	_ "time/tzdata" // Europe/Budapest on hosts without zoneinfo

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/pspoerri/eovpipes/internal/frame"
	"github.com/pspoerri/eovpipes/internal/pipe"
)

var (
	sent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "eovpipes",
		Subsystem: "heartbeat",
		Name:      "sent_total",
		Help:      "Heartbeats written",
	})
	failed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "eovpipes",
		Subsystem: "heartbeat",
		Name:      "failed_total",
		Help:      "Heartbeats that could not be written",
	})
	lastSent = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "eovpipes",
		Subsystem: "heartbeat",
		Name:      "last_sent_timestamp_seconds",
		Help:      "Unix time of the last heartbeat written",
	})
)

// Column is the only column of the heartbeat table.
const Column = "timestamp"

// Store is where heartbeats go. *postgres.Manager satisfies it.
type Store interface {
	TruncateInsert(ctx context.Context, table string, f *frame.Frame) error
	Addr() string
}

// HeartBeat writes the current time into a table, at most once per interval.
// Not safe for concurrent use.
type HeartBeat struct {
	pipe.Base

	store Store
	table string
	loc   *time.Location
	now   func() time.Time

	last time.Time
}

var _ pipe.Pipe = (*HeartBeat)(nil)

// New returns a HeartBeat writing to table. Timestamps are stamped with loc
// keeping the wall clock, they are not converted.
func New(store Store, table string, loc *time.Location, logger zerolog.Logger) *HeartBeat {
	if loc == nil {
		loc = time.Local
	}
	return &HeartBeat{
		Base:  pipe.NewBase("heartbeat", logger),
		store: store,
		table: table,
		loc:   loc,
		now:   time.Now,
	}
}

// Last returns the time of the last heartbeat attempted by Run, zero before
// the first one.
func (h *HeartBeat) Last() time.Time { return h.last }

// Send writes one heartbeat. Failures are logged and reported as false.
func (h *HeartBeat) Send(ctx context.Context, current time.Time) bool {
	f := frame.New(Column)
	_ = f.Append(localize(current, h.loc))

	if err := h.store.TruncateInsert(ctx, h.table, f); err != nil {
		failed.Inc()
		h.Logger.Error().Err(err).Str("addr", h.store.Addr()).Time("timestamp", current).Msg("Heartbeat forwarding failed")
		return false
	}

	sent.Inc()
	lastSent.Set(float64(current.Unix()))
	h.Logger.Info().Str("addr", h.store.Addr()).Time("timestamp", current).Msg("Heartbeat is sent")
	return true
}

// Run sends a heartbeat if interval has passed since the last one, or if none
// was sent yet. The reference time only moves when a heartbeat is sent, so
// calling Run more often than interval still sends every interval.
func (h *HeartBeat) Run(ctx context.Context, interval time.Duration) {
	current := h.now()
	if !h.last.IsZero() && !h.last.Before(current.Add(-interval)) {
		return
	}
	h.Send(ctx, current)
	h.last = current
}

// Loop calls Run every tick until ctx is done.
func (h *HeartBeat) Loop(ctx context.Context, interval, tick time.Duration) {
	if tick <= 0 || tick > interval {
		tick = interval
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	h.Run(ctx, interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Run(ctx, interval)
		}
	}
}

// localize attaches loc to the wall clock of t without converting.
func localize(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc)
}
