package viewport

import (
	"math"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/stravafeeds/internal/core/model"
)

// Viewport is the initial camera for a map element.
type Viewport struct {
	Bounds model.GeoBoundingBox
	Center model.LatLng
	Zoom   int
}

// BoundsOf returns the box grown point by point, each time extending the
// longitude interval the shorter way round. The result has West > East when
// that way crosses the antimeridian.
func BoundsOf(points ...model.LatLng) model.GeoBoundingBox {
	if len(points) == 0 {
		return model.GeoBoundingBox{}
	}
	mp := make(orb.MultiPoint, 0, len(points))
	for _, p := range points {
		mp = append(mp, orb.Point{p.Lng, p.Lat})
	}
	b := mp.Bound()

	west, east := points[0].Lng, points[0].Lng
	for _, p := range points[1:] {
		if lngContains(west, east, p.Lng) {
			continue
		}
		if lngSpan(p.Lng, west) < lngSpan(east, p.Lng) {
			west = p.Lng
		} else {
			east = p.Lng
		}
	}
	return model.GeoBoundingBox{
		South: b.Min.Lat(),
		West:  west,
		North: b.Max.Lat(),
		East:  east,
	}
}

func lngContains(west, east, lng float64) bool {
	if west <= east {
		return west <= lng && lng <= east
	}
	return lng >= west || lng <= east
}

// eastward distance in degrees from a to b, in [0,360)
func lngSpan(a, b float64) float64 {
	d := math.Mod(b-a, 360)
	if d < 0 {
		d += 360
	}
	return d
}

// Center of the box; boxes crossing the antimeridian are centered on the
// short side.
func Center(bb model.GeoBoundingBox) model.LatLng {
	if bb.West <= bb.East {
		c := orb.Bound{
			Min: orb.Point{bb.West, bb.South},
			Max: orb.Point{bb.East, bb.North},
		}.Center()
		return model.LatLng{Lat: c.Lat(), Lng: c.Lon()}
	}
	lng := (bb.West + bb.East + 360) / 2
	if lng > 180 {
		lng -= 360
	}
	return model.LatLng{Lat: (bb.South + bb.North) / 2, Lng: lng}
}

// Fit computes the viewport showing every point inside px.
func Fit(px model.PixelExtent, points ...model.LatLng) Viewport {
	bb := BoundsOf(points...)
	return Viewport{
		Bounds: bb,
		Center: Center(bb),
		Zoom:   Zoom(bb, px),
	}
}
