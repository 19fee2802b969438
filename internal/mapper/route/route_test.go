package route

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/mohammed-shakir/stravafeeds/internal/core/model"
)

const samplePolyline = "_p~iF~ps|U_ulLnnqC_mqNvxq`@"

func near(a, b model.LatLng) bool {
	return math.Abs(a.Lat-b.Lat) < 1e-9 && math.Abs(a.Lng-b.Lng) < 1e-9
}

func TestDecode_KnownPolyline(t *testing.T) {
	got, err := Decode(samplePolyline)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := []model.LatLng{
		{Lat: 38.5, Lng: -120.2},
		{Lat: 40.7, Lng: -120.95},
		{Lat: 43.252, Lng: -126.453},
	}
	if len(got) != len(want) {
		t.Fatalf("len=%d want %d", len(got), len(want))
	}
	for i := range want {
		if !near(got[i], want[i]) {
			t.Fatalf("point %d = %+v want %+v", i, got[i], want[i])
		}
	}
}

func TestDecode_EmptyAndInvalid(t *testing.T) {
	pts, err := Decode("")
	if err != nil || len(pts) != 0 {
		t.Fatalf("empty: pts=%v err=%v", pts, err)
	}
	if _, err := Decode("\x01\x02"); err == nil {
		t.Fatalf("expected error for invalid bytes")
	}
}

func TestPath_WrapsStartAndEnd(t *testing.T) {
	start := model.LatLng{Lat: 38.4, Lng: -120.1}
	end := model.LatLng{Lat: 43.3, Lng: -126.5}

	p, err := Path(start, end, samplePolyline)
	if err != nil {
		t.Fatalf("Path: %v", err)
	}
	if len(p) != 5 {
		t.Fatalf("len=%d want 5", len(p))
	}
	if p[0] != start || p[4] != end {
		t.Fatalf("path must begin at start and finish at end: %+v", p)
	}
}

func TestGeoJSON_LineStringWithStyle(t *testing.T) {
	path := []model.LatLng{{Lat: 1, Lng: 2}, {Lat: 3, Lng: 4}}
	b, err := GeoJSON(path, DefaultStyle)
	if err != nil {
		t.Fatalf("GeoJSON: %v", err)
	}

	var f struct {
		Type     string `json:"type"`
		Geometry struct {
			Type        string      `json:"type"`
			Coordinates [][]float64 `json:"coordinates"`
		} `json:"geometry"`
		Properties map[string]any `json:"properties"`
	}
	if err := json.Unmarshal(b, &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if f.Type != "Feature" || f.Geometry.Type != "LineString" {
		t.Fatalf("unexpected types %q/%q", f.Type, f.Geometry.Type)
	}
	// GeoJSON order is lng,lat
	if f.Geometry.Coordinates[0][0] != 2 || f.Geometry.Coordinates[0][1] != 1 {
		t.Fatalf("coordinates not in lng,lat order: %v", f.Geometry.Coordinates)
	}
	if f.Properties["stroke"] != "#fc4c02" {
		t.Fatalf("stroke=%v", f.Properties["stroke"])
	}
}
