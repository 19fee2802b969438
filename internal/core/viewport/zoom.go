// Package viewport fits geographic bounds into a fixed-size Web Mercator map.
package viewport

import (
	"math"

	"github.com/mohammed-shakir/stravafeeds/internal/core/model"
)

const (
	// WorldTileSize is the pixel size of the single tile at zoom 0.
	WorldTileSize = 256
	// MaxZoom caps the computed zoom.
	MaxZoom = 21
)

// Zoom returns the largest zoom level (capped at MaxZoom) at which bb fits
// inside px. A zero-width axis places no bound. There is no lower clamp:
// boxes larger than the extent can show at zoom 0 yield negative values.
func Zoom(bb model.GeoBoundingBox, px model.PixelExtent) int {
	latFraction := math.Abs(mercatorY(bb.North)-mercatorY(bb.South)) / math.Pi

	lngDiff := bb.East - bb.West
	if lngDiff < 0 {
		lngDiff += 360
	}
	lngFraction := lngDiff / 360

	latZoom := axisZoom(px.Height, latFraction)
	lngZoom := axisZoom(px.Width, lngFraction)

	return int(math.Min(math.Min(latZoom, lngZoom), MaxZoom))
}

// vertical position on a normalized Mercator map, in [-pi/2, pi/2]
func mercatorY(lat float64) float64 {
	sin := math.Sin(lat * math.Pi / 180)
	radX2 := math.Log((1+sin)/(1-sin)) / 2
	return math.Max(math.Min(radX2, math.Pi), -math.Pi) / 2
}

// per-axis zoom, capped so +Inf and NaN never leak into the min
func axisZoom(px int, fraction float64) float64 {
	z := math.Floor(math.Log2(float64(px) / WorldTileSize / fraction))
	if math.IsNaN(z) || z > MaxZoom {
		return MaxZoom
	}
	return z
}
