package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/pspoerri/eovpipes/internal/frame"
)

func baseOpts() Options {
	var o Options
	o.From, o.To = "eov", "wgs84"
	o.XColumn, o.YColumn = "x", "y"
	o.OutX, o.OutY = "lon", "lat"
	o.Precision = 9
	o.Workers = 2
	return o
}

func TestRun_Point(t *testing.T) {
	opts := baseOpts()
	opts.Args.X, opts.Args.Y = "650000", "230000"

	var out bytes.Buffer
	if err := run(context.Background(), opts, nil, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	fields := strings.Fields(out.String())
	if len(fields) != 2 {
		t.Fatalf("output = %q, want two fields", out.String())
	}
	if !strings.HasPrefix(fields[0], "19.0474539") || !strings.HasPrefix(fields[1], "47.4139615") {
		t.Errorf("output = %q", out.String())
	}
}

func TestRun_PointWithGeohash(t *testing.T) {
	opts := baseOpts()
	opts.From, opts.To = "wgs84", "EPSG:23700"
	opts.Args.X, opts.Args.Y = "20", "46"
	opts.Geohash = "gh"
	opts.Precision = 5

	var out bytes.Buffer
	if err := run(context.Background(), opts, nil, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	fields := strings.Fields(out.String())
	if len(fields) != 3 || len(fields[2]) != 5 {
		t.Fatalf("output = %q", out.String())
	}
	if !strings.HasPrefix(fields[0], "723793.888") {
		t.Errorf("x = %s", fields[0])
	}
}

func TestRun_PointErrors(t *testing.T) {
	tests := []struct {
		name string
		edit func(*Options)
	}{
		{"missing y", func(o *Options) { o.Args.X = "1" }},
		{"bad x", func(o *Options) { o.Args.X, o.Args.Y = "east", "1" }},
		{"bad crs", func(o *Options) { o.From = "EPSG:2056"; o.Args.X, o.Args.Y = "1", "1" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := baseOpts()
			tt.edit(&opts)
			if err := run(context.Background(), opts, nil, &bytes.Buffer{}); err == nil {
				t.Error("want error")
			}
		})
	}
}

func TestRun_CSV(t *testing.T) {
	opts := baseOpts()
	in := strings.NewReader("id,x,y\n1,650000,230000\n2,,\n")

	var out bytes.Buffer
	if err := run(context.Background(), opts, in, &out); err != nil {
		t.Fatalf("run: %v", err)
	}

	f, err := frame.ReadCSV(&out)
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(f.Columns, ","); got != "id,x,y,lon,lat" {
		t.Errorf("columns = %s", got)
	}
	if lon, ok := f.Rows[0][3].(string); !ok || !strings.HasPrefix(lon, "19.0474539") {
		t.Errorf("lon = %v", f.Rows[0][3])
	}
}
