// Package vision holds the detection model, the class table and the
// geometry helpers shared by the annotation and event pipelines.
package vision

import "math"

// Class IDs produced by the PPE detector. The table is fixed by the
// trained weights and must not be reordered.
const (
	ClassHardhat      = 0
	ClassMask         = 1
	ClassNoHardhat    = 2
	ClassNoMask       = 3
	ClassNoSafetyVest = 4
	ClassPerson       = 5
	ClassSafetyCone   = 6
	ClassSafetyVest   = 7
	ClassMachinery    = 8
	ClassUtilityPole  = 9
	ClassVehicle      = 10

	// ClassZoneBreach is reserved for restricted-zone events. It is never
	// emitted by the detector; the event pipeline uses it so zone breaches
	// and PPE violations share one deduplication keyspace.
	ClassZoneBreach = -1
)

var classNames = map[int]string{
	ClassHardhat:      "Hardhat",
	ClassMask:         "Mask",
	ClassNoHardhat:    "NO-Hardhat",
	ClassNoMask:       "NO-Mask",
	ClassNoSafetyVest: "NO-Safety Vest",
	ClassPerson:       "Person",
	ClassSafetyCone:   "Safety Cone",
	ClassSafetyVest:   "Safety Vest",
	ClassMachinery:    "Machinery",
	ClassUtilityPole:  "Utility Pole",
	ClassVehicle:      "Vehicle",
}

// ClassName returns the label for a detector class ID, or "unknown" for
// IDs outside the table (including ClassZoneBreach).
func ClassName(id int) string {
	if name, ok := classNames[id]; ok {
		return name
	}
	return "unknown"
}

// Box is an axis-aligned bounding box in pixel coordinates,
// x1/y1 top-left and x2/y2 bottom-right inclusive of the frame origin.
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Width returns the horizontal extent of the box, never negative.
func (b Box) Width() float64 {
	if b.X2 < b.X1 {
		return 0
	}
	return b.X2 - b.X1
}

// Height returns the vertical extent of the box, never negative.
func (b Box) Height() float64 {
	if b.Y2 < b.Y1 {
		return 0
	}
	return b.Y2 - b.Y1
}

// Area returns the box area, zero for degenerate boxes.
func (b Box) Area() float64 {
	return b.Width() * b.Height()
}

// Centroid returns the box center point.
func (b Box) Centroid() (x, y float64) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// IoU computes intersection-over-union between two boxes. Degenerate
// boxes yield 0.
func IoU(a, b Box) float64 {
	ix1 := math.Max(a.X1, b.X1)
	iy1 := math.Max(a.Y1, b.Y1)
	ix2 := math.Min(a.X2, b.X2)
	iy2 := math.Min(a.Y2, b.Y2)
	if ix2 <= ix1 || iy2 <= iy1 {
		return 0
	}
	inter := (ix2 - ix1) * (iy2 - iy1)
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Detection is one detector output box with its class and confidence.
type Detection struct {
	ClassID    int     `json:"class_id"`
	ClassName  string  `json:"class_name"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
}

// Point is a polygon vertex in pixel coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// PointInPolygon reports whether (x, y) lies inside the polygon using
// even-odd ray casting. Points exactly on an edge or vertex count as
// inside. Polygons with fewer than three vertices contain nothing.
func PointInPolygon(x, y float64, poly []Point) bool {
	n := len(poly)
	if n < 3 {
		return false
	}
	for i := 0; i < n; i++ {
		if onSegment(x, y, poly[i], poly[(i+1)%n]) {
			return true
		}
	}
	inside := false
	j := n - 1
	for i := 0; i < n; i++ {
		pi, pj := poly[i], poly[j]
		if (pi.Y > y) != (pj.Y > y) {
			xCross := (pj.X-pi.X)*(y-pi.Y)/(pj.Y-pi.Y) + pi.X
			if x < xCross {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}

func onSegment(x, y float64, a, b Point) bool {
	const eps = 1e-9
	cross := (b.X-a.X)*(y-a.Y) - (b.Y-a.Y)*(x-a.X)
	if math.Abs(cross) > eps {
		return false
	}
	if x < math.Min(a.X, b.X)-eps || x > math.Max(a.X, b.X)+eps {
		return false
	}
	if y < math.Min(a.Y, b.Y)-eps || y > math.Max(a.Y, b.Y)+eps {
		return false
	}
	return true
}
