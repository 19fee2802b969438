// Package mapper converts activity coordinates into map-ready shapes and region cells.
package mapper

import (
	"github.com/mohammed-shakir/stravafeeds/internal/core/model"
)

// RegionTagger assigns points to hierarchical grid cells.
type RegionTagger interface {
	CellForPoint(p model.LatLng, res int) (string, error)
	ToParent(cell string, parentRes int) (string, error)
}
