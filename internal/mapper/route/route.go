// Package route builds the drawable path of an activity.
package route

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/twpayne/go-polyline"

	"github.com/mohammed-shakir/stravafeeds/internal/core/model"
)

// Style is the stroke used to draw a route.
type Style struct {
	Color   string  `json:"color"`
	Opacity float64 `json:"opacity"`
	Weight  int     `json:"weight"`
}

var DefaultStyle = Style{Color: "#fc4c02", Opacity: 0.75, Weight: 5}

// Decode expands an encoded polyline (precision 5) into points.
func Decode(encoded string) ([]model.LatLng, error) {
	if encoded == "" {
		return nil, nil
	}
	coords, rest, err := polyline.DecodeCoords([]byte(encoded))
	if err != nil {
		return nil, fmt.Errorf("decode polyline: %w", err)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("decode polyline: %d trailing bytes", len(rest))
	}
	out := make([]model.LatLng, 0, len(coords))
	for _, c := range coords {
		out = append(out, model.LatLng{Lat: c[0], Lng: c[1]})
	}
	return out, nil
}

// Path is start, then the decoded polyline, then end.
func Path(start, end model.LatLng, encoded string) ([]model.LatLng, error) {
	mid, err := Decode(encoded)
	if err != nil {
		return nil, err
	}
	path := make([]model.LatLng, 0, len(mid)+2)
	path = append(path, start)
	path = append(path, mid...)
	path = append(path, end)
	return path, nil
}

// GeoJSON renders path as a LineString feature carrying the stroke style.
func GeoJSON(path []model.LatLng, s Style) ([]byte, error) {
	ls := make(orb.LineString, 0, len(path))
	for _, p := range path {
		ls = append(ls, orb.Point{p.Lng, p.Lat})
	}
	f := geojson.NewFeature(ls)
	f.Properties["stroke"] = s.Color
	f.Properties["stroke-opacity"] = s.Opacity
	f.Properties["stroke-width"] = s.Weight

	b, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshal route: %w", err)
	}
	return b, nil
}
