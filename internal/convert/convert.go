// Package convert reprojects coordinate columns of a frame.
package convert

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mmcloughlin/geohash"
	"github.com/rs/zerolog"

	"github.com/pspoerri/eovpipes/internal/coord"
	"github.com/pspoerri/eovpipes/internal/frame"
	"github.com/pspoerri/eovpipes/internal/pipe"
)

// ErrNotNumeric is returned when a coordinate cell cannot be read as a number.
var ErrNotNumeric = errors.New("coordinate is not numeric")

// Columns names the input and output columns of a Converter.
type Columns struct {
	InX, InY   string
	OutX, OutY string
	// Geohash, if set, receives the geohash of the point's WGS84 position.
	Geohash          string
	GeohashPrecision uint
}

// Converter is a pipe reading (InX, InY) in the source CRS and writing
// (OutX, OutY) in the destination CRS. For WGS84 the x column is the
// longitude and the y column the latitude.
type Converter struct {
	pipe.Base

	src, dst coord.Projection
	cols     Columns
	workers  int
}

var _ pipe.Pipe = (*Converter)(nil)

// New returns a Converter from src to dst. workers < 1 means 1.
func New(name string, src, dst coord.Projection, cols Columns, workers int, logger zerolog.Logger) *Converter {
	if workers < 1 {
		workers = 1
	}
	if cols.Geohash != "" && cols.GeohashPrecision == 0 {
		cols.GeohashPrecision = 9
	}
	return &Converter{
		Base:    pipe.NewBase(name, logger),
		src:     src,
		dst:     dst,
		cols:    cols,
		workers: workers,
	}
}

// NewEOVToWGS converts EOV x/y columns into longitude/latitude columns.
func NewEOVToWGS(cols Columns, workers int, logger zerolog.Logger) *Converter {
	return New("eov_to_wgs", &coord.HungarianEOV{}, &coord.WGS84Identity{}, cols, workers, logger)
}

// NewWGSToEOV converts longitude/latitude columns into EOV x/y columns.
func NewWGSToEOV(cols Columns, workers int, logger zerolog.Logger) *Converter {
	return New("wgs_to_eov", &coord.WGS84Identity{}, &coord.HungarianEOV{}, cols, workers, logger)
}

// chunkSize is the number of rows handed to a worker at a time.
const chunkSize = 4096

type rowRange struct{ start, end int }

type point struct {
	x, y float64
	gh   string
	ok   bool // false for rows with a missing coordinate
}

// Run adds the output columns to f in place. Rows where either input cell is
// nil get nil outputs. Row order is preserved.
func (c *Converter) Run(ctx context.Context, f *frame.Frame) (err error) {
	defer c.Time("run")(&err)

	ix, err := f.Index(c.cols.InX)
	if err != nil {
		return err
	}
	iy, err := f.Index(c.cols.InY)
	if err != nil {
		return err
	}

	out := make([]point, f.Len())

	jobs := make(chan rowRange, c.workers*2)
	errCh := make(chan error, 1)
	var wg sync.WaitGroup

	for w := 0; w < c.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				if err := c.convertRows(f, ix, iy, job, out); err != nil {
					select {
					case errCh <- err:
					default:
					}
				}
			}
		}()
	}

feed:
	for start := 0; start < f.Len(); start += chunkSize {
		end := min(start+chunkSize, f.Len())
		select {
		case jobs <- rowRange{start, end}:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case err := <-errCh:
		return err
	default:
	}

	cell := func(v float64, ok bool) any {
		if !ok {
			return nil
		}
		return v
	}
	f.AddColumn(c.cols.OutX, func(i int) any { return cell(out[i].x, out[i].ok) })
	f.AddColumn(c.cols.OutY, func(i int) any { return cell(out[i].y, out[i].ok) })
	if c.cols.Geohash != "" {
		f.AddColumn(c.cols.Geohash, func(i int) any {
			if !out[i].ok {
				return nil
			}
			return out[i].gh
		})
	}

	c.Logger.Info().
		Int("rows", f.Len()).
		Int("src_epsg", c.src.EPSG()).
		Int("dst_epsg", c.dst.EPSG()).
		Msg("Coordinates converted")
	return nil
}

func (c *Converter) convertRows(f *frame.Frame, ix, iy int, r rowRange, out []point) error {
	for i := r.start; i < r.end; i++ {
		row := f.Rows[i]
		if row[ix] == nil || row[iy] == nil {
			continue
		}
		x, err := frame.Float(row[ix])
		if err != nil {
			return fmt.Errorf("row %d column %q: %w: %v", i, c.cols.InX, ErrNotNumeric, err)
		}
		y, err := frame.Float(row[iy])
		if err != nil {
			return fmt.Errorf("row %d column %q: %w: %v", i, c.cols.InY, ErrNotNumeric, err)
		}

		p := point{ok: true}
		p.x, p.y = coord.Transform(c.src, c.dst, x, y)
		if c.cols.Geohash != "" {
			lon, lat := c.src.ToWGS84(x, y)
			p.gh = geohash.EncodeWithPrecision(lat, lon, c.cols.GeohashPrecision)
		}
		out[i] = p
	}
	return nil
}
