// Package render turns an activity into the HTML fragment served for a feed.
package render

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"strconv"

	"github.com/mohammed-shakir/stravafeeds/internal/core/model"
	"github.com/mohammed-shakir/stravafeeds/internal/core/observability"
	"github.com/mohammed-shakir/stravafeeds/internal/core/units"
	"github.com/mohammed-shakir/stravafeeds/internal/core/viewport"
	"github.com/mohammed-shakir/stravafeeds/internal/mapper"
	"github.com/mohammed-shakir/stravafeeds/internal/mapper/route"
)

var fragmentTmpl = template.Must(template.New("feed").Parse(
	`<div class="strava-feed"{{with .Target}} data-target="{{.}}"{{end}} data-activity="{{.ActivityID}}">` +
		`<div class="strava-title">{{.Title}}</div>` +
		`<ul>{{range .Stats}}<li class="strava-{{.Class}}">{{.Value}}</li>{{end}}</ul>` +
		`{{with .Map}}<div class="strava-map" data-width="{{.Width}}" data-height="{{.Height}}"` +
		` data-zoom="{{.Zoom}}" data-center="{{.Center}}" data-start="{{.Start}}" data-end="{{.End}}"` +
		`{{with .Region}} data-region="{{.}}"{{end}} data-route="{{.Route}}"></div>{{end}}` +
		`</div>`))

// Stat is one list item of the fragment.
type Stat struct {
	Class string
	Value string
}

type mapView struct {
	Width, Height int
	Zoom          int
	Center        string
	Start, End    string
	Region        string
	Route         string
}

type view struct {
	Target     string
	ActivityID int64
	Title      string
	Stats      []Stat
	Map        *mapView
}

// Fragment is a rendered feed.
type Fragment struct {
	HTML       template.HTML
	ActivityID int64
	Viewport   *viewport.Viewport
	Region     string
}

type Renderer struct {
	tagger mapper.RegionTagger
	res    int
	style  route.Style
}

// New returns a renderer; tagger may be nil to skip region tagging.
func New(tagger mapper.RegionTagger, h3Res int) *Renderer {
	return &Renderer{tagger: tagger, res: h3Res, style: route.DefaultStyle}
}

// Render builds the fragment for a and the display target.
func (r *Renderer) Render(a model.Activity, s model.Settings, target string) (Fragment, error) {
	frag, err := r.render(a, s, target)
	if err != nil {
		observability.IncRender("error")
		return Fragment{}, err
	}
	observability.IncRender("ok")
	return frag, nil
}

func (r *Renderer) render(a model.Activity, s model.Settings, target string) (Fragment, error) {
	stats, err := Stats(a, s.Units)
	if err != nil {
		return Fragment{}, err
	}
	v := view{
		Target:     target,
		ActivityID: a.ID,
		Title:      a.Name,
		Stats:      stats,
	}
	frag := Fragment{ActivityID: a.ID}

	start, okStart := a.StartLatLng.LatLng()
	end, okEnd := a.EndLatLng.LatLng()
	if s.Map && okStart && okEnd {
		mv, vp, err := r.mapView(a, s, start, end)
		if err != nil {
			return Fragment{}, err
		}
		v.Map = mv
		frag.Viewport = &vp
		frag.Region = mv.Region
	}

	var buf bytes.Buffer
	if err := fragmentTmpl.Execute(&buf, v); err != nil {
		return Fragment{}, fmt.Errorf("execute template: %w", err)
	}
	frag.HTML = template.HTML(buf.String())
	return frag, nil
}

func (r *Renderer) mapView(a model.Activity, s model.Settings, start, end model.LatLng) (*mapView, viewport.Viewport, error) {
	px := model.PixelExtent{Height: s.MapHeight, Width: s.MapWidth}
	vp := viewport.Fit(px, start, end)

	path, err := route.Path(start, end, a.Map.SummaryPolyline)
	if err != nil {
		return nil, viewport.Viewport{}, fmt.Errorf("activity %d route: %w", a.ID, err)
	}
	geo, err := route.GeoJSON(path, r.style)
	if err != nil {
		return nil, viewport.Viewport{}, err
	}

	var region string
	if r.tagger != nil {
		region, err = r.tagger.CellForPoint(start, r.res)
		if err != nil {
			return nil, viewport.Viewport{}, fmt.Errorf("activity %d region: %w", a.ID, err)
		}
	}

	return &mapView{
		Width:  s.MapWidth,
		Height: s.MapHeight,
		Zoom:   vp.Zoom,
		Center: vp.Center.String(),
		Start:  start.String(),
		End:    end.String(),
		Region: region,
		Route:  string(geo),
	}, vp, nil
}

// Stats returns the stat list in display order.
func Stats(a model.Activity, u model.Units) ([]Stat, error) {
	speed, dist, elev := units.MetersPerSecToMilesPerHour, units.MetersToMiles, units.MetersToFeet
	if u == model.UnitsMetric {
		speed, dist, elev = units.MetersPerSecToKmPerHour, units.MetersToKilometers, units.MetersToMeters
	}

	avg, err1 := units.Convert(a.AverageSpeed, speed, 1)
	maxSpeed, err2 := units.Convert(a.MaxSpeed, speed, 1)
	distance, err3 := units.Convert(a.Distance, dist, 1)
	elevation, err4 := units.Convert(a.TotalElevationGain, elev, 0)
	if err := errors.Join(err1, err2, err3, err4); err != nil {
		return nil, err
	}

	return []Stat{
		{Class: "average_speed", Value: avg},
		{Class: "max_speed", Value: maxSpeed},
		{Class: "moving_time", Value: units.FormatDuration(a.MovingTime)},
		{Class: "distance", Value: distance},
		{Class: "elevation", Value: elevation},
		{Class: "calories", Value: strconv.FormatFloat(a.Kilojoules, 'f', -1, 64)},
	}, nil
}
