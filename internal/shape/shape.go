// Package shape holds the document shape model and the ordered,
// single-writer store that is authoritative for one document.
package shape

import "encoding/json"

// Shape is one persistent document element. Props carries
// shape-specific rendering data and is opaque to the sync core.
type Shape struct {
	ID     string          `json:"id"`
	X      float64         `json:"x"`
	Y      float64         `json:"y"`
	Width  float64         `json:"width"`
	Height float64         `json:"height"`
	Props  json.RawMessage `json:"props,omitempty"`
}

// Patch is a partial geometry update. Nil fields are left untouched
// by a merge.
type Patch struct {
	ID     string   `json:"id"`
	X      *float64 `json:"x,omitempty"`
	Y      *float64 `json:"y,omitempty"`
	Width  *float64 `json:"width,omitempty"`
	Height *float64 `json:"height,omitempty"`
}

// apply merges the patch's set fields into s.
func (p Patch) apply(s *Shape) {
	if p.X != nil {
		s.X = *p.X
	}
	if p.Y != nil {
		s.Y = *p.Y
	}
	if p.Width != nil {
		s.Width = *p.Width
	}
	if p.Height != nil {
		s.Height = *p.Height
	}
}
