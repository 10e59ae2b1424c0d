package sentences

import (
	"encoding/json"
	"fmt"
)

// Rect is an axis-aligned rectangle on a page, in the layout engine's
// coordinate space. It serializes as the 4-element array [x0, y0, x1, y1].
type Rect struct {
	X0, Y0, X1, Y1 float64
}

func (r Rect) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]float64{r.X0, r.Y0, r.X1, r.Y1})
}

func (r *Rect) UnmarshalJSON(data []byte) error {
	var a []float64
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	if len(a) != 4 {
		return fmt.Errorf("bbox: want 4 coordinates, got %d", len(a))
	}
	r.X0, r.Y0, r.X1, r.Y1 = a[0], a[1], a[2], a[3]
	return nil
}

// Overlaps reports whether the coordinate ranges of r and o overlap on both
// axes. Touching edges count as overlap.
func (r Rect) Overlaps(o Rect) bool {
	return r.X0 <= o.X1 && o.X0 <= r.X1 && r.Y0 <= o.Y1 && o.Y0 <= r.Y1
}

// Union returns the bounding rectangle of r and o.
func (r Rect) Union(o Rect) Rect {
	return Rect{
		X0: min(r.X0, o.X0),
		Y0: min(r.Y0, o.Y0),
		X1: max(r.X1, o.X1),
		Y1: max(r.Y1, o.Y1),
	}
}

// MergeRects collapses identical rectangles and merges any two whose ranges
// overlap on both axes into their bounding union, repeating until no pair
// overlaps. Input order is preserved for the surviving rectangles.
func MergeRects(rects []Rect) []Rect {
	out := make([]Rect, 0, len(rects))
	for _, r := range rects {
		out = append(out, r)
	}
	for {
		merged := false
		for i := 0; i < len(out) && !merged; i++ {
			for j := i + 1; j < len(out); j++ {
				if out[i].Overlaps(out[j]) {
					out[i] = out[i].Union(out[j])
					out = append(out[:j], out[j+1:]...)
					merged = true
					break
				}
			}
		}
		if !merged {
			return out
		}
	}
}
