package coord

import (
	"fmt"
	"strconv"
	"strings"
)

// Projection defines the interface for converting between a source CRS and WGS84.
type Projection interface {
	// ToWGS84 converts source CRS coordinates to WGS84 longitude/latitude (degrees).
	ToWGS84(x, y float64) (lon, lat float64)

	// FromWGS84 converts WGS84 longitude/latitude (degrees) to source CRS coordinates.
	FromWGS84(lon, lat float64) (x, y float64)

	// EPSG returns the EPSG code for this projection.
	EPSG() int
}

// ForEPSG returns a Projection for the given EPSG code.
// Returns nil if the EPSG code is not supported.
func ForEPSG(epsg int) Projection {
	switch epsg {
	case 23700:
		return &HungarianEOV{}
	case 4326:
		return &WGS84Identity{}
	case 3857:
		return &WebMercatorProj{}
	default:
		return nil
	}
}

var projectionAliases = map[string]int{
	"eov":         23700,
	"hd72":        23700,
	"wgs84":       4326,
	"wgs":         4326,
	"gps":         4326,
	"webmercator": 3857,
	"mercator":    3857,
}

// ParseEPSG resolves a CRS name such as "EPSG:23700", "23700" or "eov" to a
// supported Projection.
func ParseEPSG(name string) (Projection, error) {
	s := strings.ToLower(strings.TrimSpace(name))
	code, ok := projectionAliases[s]
	if !ok {
		n, err := strconv.Atoi(strings.TrimPrefix(s, "epsg:"))
		if err != nil {
			return nil, fmt.Errorf("unknown CRS %q", name)
		}
		code = n
	}
	p := ForEPSG(code)
	if p == nil {
		return nil, fmt.Errorf("unsupported CRS %q (EPSG:%d)", name, code)
	}
	return p, nil
}

// Transform converts (x, y) from src to dst by way of WGS84.
func Transform(src, dst Projection, x, y float64) (float64, float64) {
	if src.EPSG() == dst.EPSG() {
		return x, y
	}
	lon, lat := src.ToWGS84(x, y)
	return dst.FromWGS84(lon, lat)
}

// WGS84Identity is a no-op projection for data already in EPSG:4326.
// Coordinates are ordered lon, lat like every other Projection.
type WGS84Identity struct{}

func (w *WGS84Identity) ToWGS84(x, y float64) (lon, lat float64)   { return x, y }
func (w *WGS84Identity) FromWGS84(lon, lat float64) (x, y float64) { return lon, lat }
func (w *WGS84Identity) EPSG() int                                 { return 4326 }
