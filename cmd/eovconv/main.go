package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"github.com/mmcloughlin/geohash"
	"github.com/rs/zerolog/log"

	"github.com/pspoerri/eovpipes/internal/convert"
	"github.com/pspoerri/eovpipes/internal/coord"
	"github.com/pspoerri/eovpipes/internal/frame"
	"github.com/pspoerri/eovpipes/internal/logger"
)

// Set via -ldflags at build time.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

type Options struct {
	Logger logger.Options `group:"Logger options"`

	From      string `short:"f" long:"from"      env:"EOVCONV_FROM" description:"Source CRS (eov, wgs84, webmercator or EPSG code)" default:"eov"`
	To        string `short:"t" long:"to"        env:"EOVCONV_TO"   description:"Target CRS" default:"wgs84"`
	Input     string `short:"i" long:"in"        description:"Input CSV file. Reads from stdin if \"-\""`
	Output    string `short:"o" long:"out"       description:"Output CSV file. Writes to stdout if empty"`
	XColumn   string `long:"x-column"            description:"Input x (or longitude) column" default:"x"`
	YColumn   string `long:"y-column"            description:"Input y (or latitude) column" default:"y"`
	OutX      string `long:"out-x"               description:"Output x (or longitude) column" default:"out_x"`
	OutY      string `long:"out-y"               description:"Output y (or latitude) column" default:"out_y"`
	Geohash   string `short:"g" long:"geohash"   description:"Add a geohash column with this name"`
	Precision uint   `long:"precision"           description:"Geohash length" default:"9"`
	Workers   int    `short:"w" long:"workers"   env:"EOVCONV_WORKERS" description:"Number of parallel workers"`
	Version   bool   `short:"V" long:"version"   description:"Print version and exit"`

	Args struct {
		X string `positional-arg-name:"X"`
		Y string `positional-arg-name:"Y"`
	} `positional-args:"yes"`
}

func main() {
	// .env is optional; it must be loaded before go-flags reads env defaults.
	_ = godotenv.Load()

	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	parser.Usage = "[OPTIONS] [X Y]\n\nConvert a point, or the x/y columns of a CSV file, between EOV and WGS84."
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if opts.Version {
		fmt.Printf("eovconv %s (commit %s, built %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	opts.Logger.Setup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdin, os.Stdout); err != nil {
		log.Fatal().Err(err).Msg("Conversion failed")
	}
}

func run(ctx context.Context, opts Options, stdin io.Reader, stdout io.Writer) error {
	src, err := coord.ParseEPSG(opts.From)
	if err != nil {
		return fmt.Errorf("--from: %w", err)
	}
	dst, err := coord.ParseEPSG(opts.To)
	if err != nil {
		return fmt.Errorf("--to: %w", err)
	}

	if opts.Args.X != "" || opts.Args.Y != "" {
		return convertPoint(opts, src, dst, stdout)
	}

	var f *frame.Frame
	switch opts.Input {
	case "", "-":
		f, err = frame.ReadCSV(stdin)
	default:
		f, err = frame.ReadCSVFile(opts.Input)
	}
	if err != nil {
		return err
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	cols := convert.Columns{
		InX: opts.XColumn, InY: opts.YColumn,
		OutX: opts.OutX, OutY: opts.OutY,
		Geohash: opts.Geohash, GeohashPrecision: opts.Precision,
	}
	c := convert.New("eovconv", src, dst, cols, workers, opts.Logger.New())
	if err := c.Run(ctx, f); err != nil {
		return err
	}

	if opts.Output == "" {
		return frame.WriteCSV(stdout, f)
	}
	return frame.WriteCSVFile(opts.Output, f)
}

func convertPoint(opts Options, src, dst coord.Projection, w io.Writer) error {
	if opts.Args.X == "" || opts.Args.Y == "" {
		return fmt.Errorf("a point needs both X and Y")
	}
	x, err := strconv.ParseFloat(opts.Args.X, 64)
	if err != nil {
		return fmt.Errorf("X: %w", err)
	}
	y, err := strconv.ParseFloat(opts.Args.Y, 64)
	if err != nil {
		return fmt.Errorf("Y: %w", err)
	}

	ox, oy := coord.Transform(src, dst, x, y)
	line := strconv.FormatFloat(ox, 'f', -1, 64) + " " + strconv.FormatFloat(oy, 'f', -1, 64)
	if opts.Geohash != "" {
		lon, lat := src.ToWGS84(x, y)
		line += " " + geohash.EncodeWithPrecision(lat, lon, opts.Precision)
	}
	_, err = fmt.Fprintln(w, line)
	return err
}
