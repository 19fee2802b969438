// Package model defines core domain types shared across the service.
package model

import "fmt"

// LatLng is a geographic point in degrees.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (p LatLng) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lng)
}

// GeoBoundingBox holds the south-west and north-east corners. West may be
// greater than East when the box crosses the antimeridian.
type GeoBoundingBox struct {
	South, West float64
	North, East float64
}

// String representation in south,west,north,east order
func (b GeoBoundingBox) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", b.South, b.West, b.North, b.East)
}

// PixelExtent is the target rendering size in pixels.
type PixelExtent struct {
	Height int
	Width  int
}

// Coords is the [lat, lng] pair shape used by the activity API. Manual
// activities carry an empty pair.
type Coords []float64

func (c Coords) LatLng() (LatLng, bool) {
	if len(c) != 2 {
		return LatLng{}, false
	}
	return LatLng{Lat: c[0], Lng: c[1]}, true
}

type ActivityMap struct {
	ID              string `json:"id"`
	SummaryPolyline string `json:"summary_polyline"`
	Polyline        string `json:"polyline,omitempty"`
}

// AthleteRef is the owner reference embedded in an activity.
type AthleteRef struct {
	ID int64 `json:"id"`
}

// Activity is the subset of the activity summary the feed renders.
type Activity struct {
	ID                 int64       `json:"id"`
	Athlete            AthleteRef  `json:"athlete"`
	Name               string      `json:"name"`
	Type               string      `json:"type"`
	StartDate          string      `json:"start_date"`
	Distance           float64     `json:"distance"`
	MovingTime         int         `json:"moving_time"`
	ElapsedTime        int         `json:"elapsed_time"`
	TotalElevationGain float64     `json:"total_elevation_gain"`
	AverageSpeed       float64     `json:"average_speed"`
	MaxSpeed           float64     `json:"max_speed"`
	Kilojoules         float64     `json:"kilojoules"`
	StartLatLng        Coords      `json:"start_latlng"`
	EndLatLng          Coords      `json:"end_latlng"`
	Map                ActivityMap `json:"map"`
}

type Units string

const (
	UnitsImperial Units = "imperial"
	UnitsMetric   Units = "metric"
)

// Settings control what a feed fetches and how it is rendered.
type Settings struct {
	PerPage   int   `json:"per_page"`
	Units     Units `json:"units"`
	Map       bool  `json:"map"`
	MapWidth  int   `json:"map_width"`
	MapHeight int   `json:"map_height"`
}

func DefaultSettings() Settings {
	return Settings{
		PerPage:   1,
		Units:     UnitsImperial,
		Map:       true,
		MapWidth:  400,
		MapHeight: 400,
	}
}

// Options is a partial Settings; nil fields keep the current value.
type Options struct {
	PerPage   *int   `json:"per_page,omitempty"`
	Units     *Units `json:"units,omitempty"`
	Map       *bool  `json:"map,omitempty"`
	MapWidth  *int   `json:"map_width,omitempty"`
	MapHeight *int   `json:"map_height,omitempty"`
}

// Merge overlays the non-nil options onto s.
func (s Settings) Merge(o Options) Settings {
	if o.PerPage != nil {
		s.PerPage = *o.PerPage
	}
	if o.Units != nil {
		s.Units = *o.Units
	}
	if o.Map != nil {
		s.Map = *o.Map
	}
	if o.MapWidth != nil {
		s.MapWidth = *o.MapWidth
	}
	if o.MapHeight != nil {
		s.MapHeight = *o.MapHeight
	}
	return s
}

func (s Settings) Validate() error {
	if s.PerPage < 1 || s.PerPage > 200 {
		return fmt.Errorf("per_page must be in [1,200] (got %d)", s.PerPage)
	}
	switch s.Units {
	case UnitsImperial, UnitsMetric:
	default:
		return fmt.Errorf("unsupported units %q", s.Units)
	}
	if s.MapWidth <= 0 || s.MapHeight <= 0 {
		return fmt.Errorf("map size must be positive (got %dx%d)", s.MapWidth, s.MapHeight)
	}
	return nil
}

// FeedConfig is what the upstream client needs to fetch a feed.
type FeedConfig struct {
	Method      string
	AccessToken string
	PerPage     int
}
