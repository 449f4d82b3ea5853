package model

// Road is an axis-aligned segment. Exactly one of X1/Y1 is set.
type Road struct {
	X0 float64  `json:"x0" yaml:"x0"`
	Y0 float64  `json:"y0" yaml:"y0"`
	X1 *float64 `json:"x1,omitempty" yaml:"x1,omitempty"`
	Y1 *float64 `json:"y1,omitempty" yaml:"y1,omitempty"`
}

func (r Road) Horizontal() bool { return r.X1 != nil }

// End returns the far end of the segment.
func (r Road) End() Point {
	if r.X1 != nil {
		return Point{X: *r.X1, Y: r.Y0}
	}
	if r.Y1 != nil {
		return Point{X: r.X0, Y: *r.Y1}
	}
	return Point{X: r.X0, Y: r.Y0}
}

func (r Road) Start() Point { return Point{X: r.X0, Y: r.Y0} }

type Building struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	W float64 `json:"w" yaml:"w"`
	H float64 `json:"h" yaml:"h"`
}

type Office struct {
	ID      string  `json:"id" yaml:"id"`
	X       float64 `json:"x" yaml:"x"`
	Y       float64 `json:"y" yaml:"y"`
	OffsetX float64 `json:"offsetX" yaml:"offsetX"`
	OffsetY float64 `json:"offsetY" yaml:"offsetY"`
}

type Map struct {
	ID        string     `json:"id" yaml:"id"`
	Name      string     `json:"name" yaml:"name"`
	Roads     []Road     `json:"roads" yaml:"roads"`
	Buildings []Building `json:"buildings" yaml:"buildings"`
	Offices   []Office   `json:"offices" yaml:"offices"`
	DogSpeed  *float64   `json:"dogSpeed,omitempty" yaml:"dogSpeed,omitempty"`
}

// MapInfo is the list-maps projection of a Map.
type MapInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (m Map) Info() MapInfo { return MapInfo{ID: m.ID, Name: m.Name} }

// WithoutSpeed returns a copy of m with the speed override dropped; the map
// endpoint does not expose it.
func (m Map) WithoutSpeed() Map {
	m.DogSpeed = nil
	return m
}

func Float(v float64) *float64 { return &v }
