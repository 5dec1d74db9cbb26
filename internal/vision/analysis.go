package vision

// PPE association thresholds. Hardhat classes are matched against the
// head region (top portion of the person box), vest classes against the
// whole person box. The IoU test is strict: exactly 0.1 does not match.
const (
	ppeIoUThreshold = 0.1
	headRegionRatio = 0.3
)

// PersonPPE is the per-person outcome of PPE association: which
// compliance and violation evidence boxes paired with the person.
type PersonPPE struct {
	Person Detection

	HasHardhat bool
	HasVest    bool
	NoHardhat  bool
	NoVest     bool

	// Highest confidence among the paired violation boxes; zero when the
	// corresponding violation flag is false.
	NoHardhatConf float64
	NoVestConf    float64
}

// Violations lists the violation kinds observed for this person, in the
// stable order no_hardhat then no_vest.
func (p PersonPPE) Violations() []string {
	var out []string
	if p.NoHardhat {
		out = append(out, "no_hardhat")
	}
	if p.NoVest {
		out = append(out, "no_vest")
	}
	return out
}

// Unknown reports that no hardhat or vest evidence of either polarity
// paired with the person.
func (p PersonPPE) Unknown() bool {
	return !p.HasHardhat && !p.HasVest && !p.NoHardhat && !p.NoVest
}

// HeadRegion returns the top portion of a person box used for hardhat
// association.
func HeadRegion(person Box) Box {
	return Box{
		X1: person.X1,
		Y1: person.Y1,
		X2: person.X2,
		Y2: person.Y1 + headRegionRatio*person.Height(),
	}
}

// AssessPPE pairs hardhat and vest evidence with each detected person.
// Evidence boxes may pair with more than one person; persons with no
// evidence at all come back with Unknown() true.
func AssessPPE(dets []Detection) []PersonPPE {
	var out []PersonPPE
	for _, d := range dets {
		if d.ClassID != ClassPerson {
			continue
		}
		p := PersonPPE{Person: d}
		head := HeadRegion(d.Box)
		for _, e := range dets {
			switch e.ClassID {
			case ClassHardhat:
				if IoU(e.Box, head) > ppeIoUThreshold {
					p.HasHardhat = true
				}
			case ClassNoHardhat:
				if IoU(e.Box, head) > ppeIoUThreshold {
					p.NoHardhat = true
					if e.Confidence > p.NoHardhatConf {
						p.NoHardhatConf = e.Confidence
					}
				}
			case ClassSafetyVest:
				if IoU(e.Box, d.Box) > ppeIoUThreshold {
					p.HasVest = true
				}
			case ClassNoSafetyVest:
				if IoU(e.Box, d.Box) > ppeIoUThreshold {
					p.NoVest = true
					if e.Confidence > p.NoVestConf {
						p.NoVestConf = e.Confidence
					}
				}
			}
		}
		out = append(out, p)
	}
	return out
}

// ZoneBreaches returns the person detections whose centroid falls inside
// the restricted-zone polygon. An empty or degenerate polygon matches
// nothing.
func ZoneBreaches(dets []Detection, zone []Point) []Detection {
	if len(zone) < 3 {
		return nil
	}
	var out []Detection
	for _, d := range dets {
		if d.ClassID != ClassPerson {
			continue
		}
		cx, cy := d.Box.Centroid()
		if PointInPolygon(cx, cy, zone) {
			out = append(out, d)
		}
	}
	return out
}
