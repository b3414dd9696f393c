package memcad

import (
	"fmt"
	"math"
	"strings"

	"github.com/m4xw311/cadlink/cad"
)

// Body is a solid body modelled as a box of equivalent volume.
type Body struct {
	design     *Design
	token      string
	name       string
	comp       *Component
	volume     float64
	area       float64
	center     cad.Point3D
	edges      []*Edge
	faces      []*Face
	appearance *Appearance
	material   *Material
	visible    bool
	valid      bool
}

var _ cad.Body = (*Body)(nil)

func newBody(c *Component, name string, volume float64, center cad.Point3D) *Body {
	d := c.design
	b := &Body{
		design:   d,
		token:    d.token("BRepBody"),
		name:     name,
		comp:     c,
		center:   center,
		material: d.materials[0],
		visible:  true,
		valid:    true,
	}
	for i := 0; i < 12; i++ {
		b.edges = append(b.edges, &Edge{token: d.token("BRepEdge"), body: b})
	}
	for i := 0; i < 6; i++ {
		b.faces = append(b.faces, &Face{token: d.token("BRepFace"), body: b})
	}
	b.setVolume(volume)
	return b
}

func (b *Body) setVolume(v float64) {
	if v < 0 {
		v = 0
	}
	b.volume = v
	side := math.Cbrt(v)
	b.area = 6 * side * side
	for _, e := range b.edges {
		e.length = side
	}
	for _, f := range b.faces {
		f.area = side * side
	}
}

func (b *Body) copy(into *Component) *Body {
	nb := newBody(into, b.name, b.volume, b.center)
	nb.appearance, nb.material = b.appearance, b.material
	return nb
}

func (b *Body) invalidate() {
	b.valid = false
	if b.comp != nil {
		b.comp.removeBody(b)
	}
}

func (b *Body) ObjectType() string             { return "BRepBody" }
func (b *Body) EntityToken() string            { return b.token }
func (b *Body) Name() string                   { return b.name }
func (b *Body) ParentComponent() cad.Component { return b.comp }
func (b *Body) Volume() float64                { return b.volume }
func (b *Body) Area() float64                  { return b.area }
func (b *Body) IsValid() bool                  { return b.valid }
func (b *Body) IsVisible() bool                { return b.visible }

func (b *Body) SetName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("body name cannot be empty")
	}
	b.name = name
	return nil
}

func (b *Body) SetIsVisible(v bool) error {
	b.visible = v
	return nil
}

func (b *Body) Edges() []cad.Edge {
	out := make([]cad.Edge, 0, len(b.edges))
	for _, e := range b.edges {
		out = append(out, e)
	}
	return out
}

func (b *Body) Faces() []cad.Face {
	out := make([]cad.Face, 0, len(b.faces))
	for _, f := range b.faces {
		out = append(out, f)
	}
	return out
}

func (b *Body) Appearance() cad.Appearance {
	if b.appearance == nil {
		return nil
	}
	return b.appearance
}

func (b *Body) SetAppearance(a cad.Appearance) error {
	app, ok := a.(*Appearance)
	if !ok {
		return fmt.Errorf("unsupported appearance %T", a)
	}
	if app.inLibrary {
		return fmt.Errorf("appearance %q must be copied into the design before use", app.name)
	}
	b.appearance = app
	return nil
}

// Material returns the body's physical material.
func (b *Body) Material() cad.Material { return b.material }

func (b *Body) PhysicalProperties() cad.PhysicalProperties {
	return cad.PhysicalProperties{
		Mass:         b.volume * b.material.density,
		Volume:       b.volume,
		Area:         b.area,
		Density:      b.material.density,
		CenterOfMass: b.center,
	}
}

// DeleteMe removes the body from its component.
func (b *Body) DeleteMe() error {
	if !b.valid {
		return fmt.Errorf("body already deleted")
	}
	b.invalidate()
	return nil
}

// CopyToComponent copies the body into another component of the same design.
func (b *Body) CopyToComponent(target cad.Component) (cad.Body, error) {
	c, ok := target.(*Component)
	if !ok || c.design != b.design {
		return nil, fmt.Errorf("target component does not belong to this design")
	}
	if !b.valid {
		return nil, fmt.Errorf("body is no longer valid")
	}
	nb := b.copy(c)
	c.adoptBody(nb)
	return nb, nil
}

// Edge is a body edge.
type Edge struct {
	token  string
	body   *Body
	length float64
}

func (e *Edge) ObjectType() string  { return "BRepEdge" }
func (e *Edge) EntityToken() string { return e.token }
func (e *Edge) Body() cad.Body      { return e.body }
func (e *Edge) Length() float64     { return e.length }
func (e *Edge) IsValid() bool       { return e.body.valid }

// Face is a body face.
type Face struct {
	token string
	body  *Body
	area  float64
}

func (f *Face) ObjectType() string  { return "BRepFace" }
func (f *Face) EntityToken() string { return f.token }
func (f *Face) Body() cad.Body      { return f.body }
func (f *Face) Area() float64       { return f.area }
func (f *Face) IsValid() bool       { return f.body.valid }
