package memcad

import (
	"fmt"
	"math"
	"strings"

	"github.com/m4xw311/cadlink/cad"
)

// Sketch is a 2-D sketch holding curves and the profiles they close.
type Sketch struct {
	token    string
	name     string
	comp     *Component
	plane    cad.Entity
	curves   []*SketchCurve
	profiles []*Profile
}

var _ cad.Sketch = (*Sketch)(nil)

func (s *Sketch) ObjectType() string             { return "Sketch" }
func (s *Sketch) EntityToken() string            { return s.token }
func (s *Sketch) Name() string                   { return s.name }
func (s *Sketch) ParentComponent() cad.Component { return s.comp }

// ReferencePlane returns the plane or face the sketch was created on.
func (s *Sketch) ReferencePlane() cad.Entity { return s.plane }

func (s *Sketch) SetName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("sketch name cannot be empty")
	}
	s.name = name
	return nil
}

func (s *Sketch) Profiles() []cad.Profile {
	out := make([]cad.Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p)
	}
	return out
}

func (s *Sketch) SketchCurves() []cad.SketchCurve {
	out := make([]cad.SketchCurve, 0, len(s.curves))
	for _, c := range s.curves {
		out = append(out, c)
	}
	return out
}

func (s *Sketch) AddLine(start, end cad.Point2D) (cad.SketchCurve, error) {
	l := math.Hypot(end.X-start.X, end.Y-start.Y)
	if l == 0 {
		return nil, fmt.Errorf("line start and end points coincide")
	}
	return s.addCurve("SketchLine", l, false), nil
}

func (s *Sketch) AddRectangle(corner, opposite cad.Point2D) ([]cad.SketchCurve, error) {
	w, h := math.Abs(opposite.X-corner.X), math.Abs(opposite.Y-corner.Y)
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("rectangle has zero width or height")
	}
	var out []cad.SketchCurve
	for _, l := range []float64{w, h, w, h} {
		out = append(out, s.addCurve("SketchLine", l, false))
	}
	s.addProfile(w * h)
	return out, nil
}

func (s *Sketch) AddCircle(center cad.Point2D, radius float64) (cad.SketchCurve, error) {
	if radius <= 0 {
		return nil, fmt.Errorf("circle radius must be positive")
	}
	c := s.addCurve("SketchCircle", 2*math.Pi*radius, true)
	s.addProfile(math.Pi * radius * radius)
	return c, nil
}

func (s *Sketch) addCurve(kind string, length float64, closed bool) *SketchCurve {
	c := &SketchCurve{token: s.comp.design.token(kind), kind: kind, sketch: s, length: length, closed: closed}
	s.curves = append(s.curves, c)
	return c
}

func (s *Sketch) addProfile(area float64) *Profile {
	p := &Profile{token: s.comp.design.token("Profile"), sketch: s, area: area}
	s.profiles = append(s.profiles, p)
	return p
}

// Profile is a closed sketch region.
type Profile struct {
	token  string
	sketch *Sketch
	area   float64
}

func (p *Profile) ObjectType() string       { return "Profile" }
func (p *Profile) EntityToken() string      { return p.token }
func (p *Profile) ParentSketch() cad.Sketch { return p.sketch }
func (p *Profile) Area() float64            { return p.area }

// SketchCurve is a line or circle.
type SketchCurve struct {
	token  string
	kind   string
	sketch *Sketch
	length float64
	closed bool
}

func (c *SketchCurve) ObjectType() string       { return c.kind }
func (c *SketchCurve) EntityToken() string      { return c.token }
func (c *SketchCurve) ParentSketch() cad.Sketch { return c.sketch }
func (c *SketchCurve) Length() float64          { return c.length }
func (c *SketchCurve) IsClosed() bool           { return c.closed }

// ConstructionPlane is a work plane.
type ConstructionPlane struct {
	token  string
	name   string
	comp   *Component
	normal cad.Vector3D
}

func (p *ConstructionPlane) ObjectType() string       { return "ConstructionPlane" }
func (p *ConstructionPlane) EntityToken() string      { return p.token }
func (p *ConstructionPlane) Name() string             { return p.name }
func (p *ConstructionPlane) Component() cad.Component { return p.comp }
func (p *ConstructionPlane) Normal() cad.Vector3D     { return p.normal }

// ConstructionAxis is a work axis.
type ConstructionAxis struct {
	token     string
	name      string
	comp      *Component
	direction cad.Vector3D
}

func (a *ConstructionAxis) ObjectType() string       { return "ConstructionAxis" }
func (a *ConstructionAxis) EntityToken() string      { return a.token }
func (a *ConstructionAxis) Name() string             { return a.name }
func (a *ConstructionAxis) Component() cad.Component { return a.comp }
func (a *ConstructionAxis) Direction() cad.Vector3D  { return a.direction }

// JointOrigin is a joint reference frame.
type JointOrigin struct {
	token string
	name  string
	comp  *Component
}

func (j *JointOrigin) ObjectType() string             { return "JointOrigin" }
func (j *JointOrigin) EntityToken() string            { return j.token }
func (j *JointOrigin) Name() string                   { return j.name }
func (j *JointOrigin) ParentComponent() cad.Component { return j.comp }

// Joint connects two joint origins.
type Joint struct {
	token string
	name  string
	comp  *Component
	one   *JointOrigin
	two   *JointOrigin
}

func (j *Joint) ObjectType() string             { return "Joint" }
func (j *Joint) EntityToken() string            { return j.token }
func (j *Joint) Name() string                   { return j.name }
func (j *Joint) ParentComponent() cad.Component { return j.comp }

// OriginOne returns the first joint origin.
func (j *Joint) OriginOne() cad.JointOrigin { return j.one }

// OriginTwo returns the second joint origin.
func (j *Joint) OriginTwo() cad.JointOrigin { return j.two }
