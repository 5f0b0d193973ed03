// Package pipe provides the pieces every pipeline step shares: a name, a
// logger tagged with that name, and execution timing.
package pipe

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "eovpipes",
	Subsystem: "pipe",
	Name:      "run_duration_seconds",
	Help:      "Duration of pipe runs",
	Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
}, []string{"pipe", "outcome"})

// Pipe is a named pipeline step.
type Pipe interface {
	Name() string
}

// Base is embedded by pipes. The zero value logs nothing.
type Base struct {
	name   string
	Logger zerolog.Logger
}

// NewBase returns a Base whose logger carries pipe=name.
func NewBase(name string, logger zerolog.Logger) Base {
	return Base{name: name, Logger: logger.With().Str("pipe", name).Logger()}
}

func (b *Base) Name() string { return b.name }

// Time starts a timer for one run. Call the returned func with a pointer to
// the run's error, usually deferred:
//
//	defer p.Time("write")(&err)
func (b *Base) Time(op string) func(errp *error) {
	start := time.Now()
	return func(errp *error) {
		dur := time.Since(start)

		outcome := "ok"
		if errp != nil && *errp != nil {
			outcome = "error"
		}
		runDuration.WithLabelValues(b.name, outcome).Observe(dur.Seconds())

		ev := b.Logger.Debug()
		if outcome == "error" {
			ev = b.Logger.Warn().Err(*errp)
		}
		ev.Str("op", op).
			Dur("duration", dur).
			Msgf("Execution time: %.3f s", dur.Seconds())
	}
}
