package memcad

import (
	"fmt"
	"strings"

	"github.com/m4xw311/cadlink/cad"
)

// Component is a component definition.
type Component struct {
	design *Design
	id     string
	token  string
	name   string

	bodies       []*Body
	sketches     []*Sketch
	occurrences  []*Occurrence
	planes       []*ConstructionPlane
	axes         []*ConstructionAxis
	joints       []*Joint
	jointOrigins []*JointOrigin
	features     *features
}

var _ cad.Component = (*Component)(nil)

func (c *Component) ObjectType() string       { return "Component" }
func (c *Component) EntityToken() string      { return c.token }
func (c *Component) ID() string               { return c.id }
func (c *Component) Name() string             { return c.name }
func (c *Component) ParentDesign() cad.Design { return c.design }
func (c *Component) Features() cad.Features   { return c.features }

func (c *Component) SetName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("component name cannot be empty")
	}
	c.name = name
	return nil
}

func (c *Component) Bodies() []cad.Body {
	out := make([]cad.Body, 0, len(c.bodies))
	for _, b := range c.bodies {
		if b.valid {
			out = append(out, b)
		}
	}
	return out
}

func (c *Component) Sketches() []cad.Sketch {
	out := make([]cad.Sketch, 0, len(c.sketches))
	for _, s := range c.sketches {
		out = append(out, s)
	}
	return out
}

func (c *Component) Occurrences() []cad.Occurrence {
	out := make([]cad.Occurrence, 0, len(c.occurrences))
	for _, o := range c.occurrences {
		if o.valid {
			out = append(out, o)
		}
	}
	return out
}

func (c *Component) ConstructionPlanes() []cad.ConstructionPlane {
	out := make([]cad.ConstructionPlane, 0, len(c.planes))
	for _, p := range c.planes {
		out = append(out, p)
	}
	return out
}

func (c *Component) ConstructionAxes() []cad.ConstructionAxis {
	out := make([]cad.ConstructionAxis, 0, len(c.axes))
	for _, a := range c.axes {
		out = append(out, a)
	}
	return out
}

func (c *Component) Joints() []cad.Joint {
	out := make([]cad.Joint, 0, len(c.joints))
	for _, j := range c.joints {
		out = append(out, j)
	}
	return out
}

func (c *Component) JointOrigins() []cad.JointOrigin {
	out := make([]cad.JointOrigin, 0, len(c.jointOrigins))
	for _, j := range c.jointOrigins {
		out = append(out, j)
	}
	return out
}

// Plane returns the construction plane with the given name, e.g. "XZ".
func (c *Component) Plane(name string) *ConstructionPlane {
	for _, p := range c.planes {
		if p.name == name {
			return p
		}
	}
	return nil
}

// Axis returns the construction axis with the given name, e.g. "Z".
func (c *Component) Axis(name string) *ConstructionAxis {
	for _, a := range c.axes {
		if a.name == name {
			return a
		}
	}
	return nil
}

func (c *Component) AddSketch(plane cad.Entity) (cad.Sketch, error) {
	s, err := c.NewSketch(plane)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// NewSketch is AddSketch returning the concrete type.
func (c *Component) NewSketch(plane cad.Entity) (*Sketch, error) {
	switch p := plane.(type) {
	case *ConstructionPlane:
	case *Face:
		if !p.IsValid() {
			return nil, fmt.Errorf("sketch face is no longer valid")
		}
	default:
		return nil, fmt.Errorf("sketch plane must be a construction plane or a planar face, got %T", plane)
	}
	s := &Sketch{
		token: c.design.token("Sketch"),
		name:  c.design.nextName("Sketch"),
		comp:  c,
		plane: plane,
	}
	if _, err := c.design.timeline.add(s.name, s); err != nil {
		return nil, err
	}
	c.sketches = append(c.sketches, s)
	return s, nil
}

func (c *Component) AddOccurrence(source cad.Component, transform cad.Matrix3D, independent bool) (cad.Occurrence, error) {
	src, ok := source.(*Component)
	if !ok || src.design != c.design {
		return nil, fmt.Errorf("source component does not belong to this design")
	}
	if src == c.design.root {
		return nil, fmt.Errorf("the root component cannot be placed as an occurrence")
	}
	target := src
	if independent {
		target = src.clone()
	}
	return c.placeOccurrence(target, transform), nil
}

// AddNewComponent creates a new empty component and places it under c.
func (c *Component) AddNewComponent(name string) *Occurrence {
	nc := c.design.newComponent(name)
	return c.placeOccurrence(nc, cad.Identity())
}

// AddJointOrigin creates a named joint origin.
func (c *Component) AddJointOrigin(name string) *JointOrigin {
	jo := &JointOrigin{token: c.design.token("JointOrigin"), name: name, comp: c}
	c.jointOrigins = append(c.jointOrigins, jo)
	return jo
}

// AddJoint connects two joint origins.
func (c *Component) AddJoint(name string, a, b *JointOrigin) *Joint {
	j := &Joint{token: c.design.token("Joint"), name: name, comp: c, one: a, two: b}
	c.joints = append(c.joints, j)
	return j
}

func (c *Component) placeOccurrence(comp *Component, transform cad.Matrix3D) *Occurrence {
	n := 1
	for _, o := range c.design.occurrences {
		if o.comp == comp {
			n++
		}
	}
	o := &Occurrence{
		design:    c.design,
		token:     c.design.token("Occurrence"),
		name:      fmt.Sprintf("%s:%d", comp.name, n),
		comp:      comp,
		parent:    c,
		transform: transform,
		valid:     true,
	}
	c.occurrences = append(c.occurrences, o)
	c.design.occurrences = append(c.design.occurrences, o)
	return o
}

func (c *Component) clone() *Component {
	nc := c.design.newComponent(c.design.uniqueComponentName(c.name))
	for _, b := range c.bodies {
		if b.valid {
			nc.adoptBody(b.copy(nc))
		}
	}
	return nc
}

func (d *Design) uniqueComponentName(base string) string {
	for i := 1; ; i++ {
		name := fmt.Sprintf("%s (%d)", base, i)
		taken := false
		for _, c := range d.components {
			if c.name == name {
				taken = true
				break
			}
		}
		if !taken {
			return name
		}
	}
}

func (c *Component) adoptBody(b *Body) {
	b.comp = c
	c.bodies = append(c.bodies, b)
}

func (c *Component) removeBody(b *Body) {
	for i, x := range c.bodies {
		if x == b {
			c.bodies = append(c.bodies[:i], c.bodies[i+1:]...)
			return
		}
	}
}

func (c *Component) ownsBody(b *Body) bool {
	for _, x := range c.bodies {
		if x == b && x.valid {
			return true
		}
	}
	return false
}

// Occurrence is a placed component instance.
type Occurrence struct {
	design    *Design
	token     string
	name      string
	comp      *Component
	parent    *Component
	transform cad.Matrix3D
	valid     bool
	bodies    *BodyCollection
}

var _ cad.Occurrence = (*Occurrence)(nil)

func (o *Occurrence) ObjectType() string             { return "Occurrence" }
func (o *Occurrence) EntityToken() string            { return o.token }
func (o *Occurrence) Name() string                   { return o.name }
func (o *Occurrence) Component() cad.Component       { return o.comp }
func (o *Occurrence) ParentComponent() cad.Component { return o.parent }
func (o *Occurrence) Transform() cad.Matrix3D        { return o.transform }
func (o *Occurrence) IsValid() bool                  { return o.valid }

func (o *Occurrence) SetName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("occurrence name cannot be empty")
	}
	o.name = name
	return nil
}

func (o *Occurrence) SetInitialTransform(m cad.Matrix3D) error {
	if o.design.timeline.Count() > 0 && o.design.timeline.MarkerPosition() != 0 {
		return fmt.Errorf("initial transform can only be edited with the timeline marker at the beginning")
	}
	o.transform = m
	return nil
}

func (o *Occurrence) BRepBodies() cad.BodyCollection {
	if o.bodies == nil {
		o.bodies = &BodyCollection{owner: o}
	}
	return o.bodies
}

// DeleteMe removes the occurrence from the assembly.
func (o *Occurrence) DeleteMe() error {
	if !o.valid {
		return fmt.Errorf("occurrence already deleted")
	}
	o.valid = false
	return nil
}

// BodyCollection exposes the bodies of an occurrence's component.
type BodyCollection struct {
	owner *Occurrence
}

func (b *BodyCollection) ObjectType() string    { return "BRepBodies" }
func (b *BodyCollection) Owner() cad.Occurrence { return b.owner }
func (b *BodyCollection) Items() []cad.Body     { return b.owner.comp.Bodies() }
func (b *BodyCollection) Count() int            { return len(b.owner.comp.Bodies()) }
