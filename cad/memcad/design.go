// Package memcad is an in-memory parametric CAD host. It keeps a deterministic
// bookkeeping model of components, bodies, sketches and a feature timeline so
// the bridge can be exercised without a live CAD application. Geometry is
// reduced to volumes, areas and lengths; the boolean semantics of feature
// operations are modelled, exact shapes are not.
package memcad

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/m4xw311/cadlink/cad"
)

// Design is the active design of one in-memory document.
type Design struct {
	docName     string
	root        *Component
	components  []*Component
	occurrences []*Occurrence
	timeline    *Timeline
	params      []*Parameter
	appearances []*Appearance
	library     []*Appearance
	materials   []*Material

	seq   int
	names map[string]int
}

var _ cad.Design = (*Design)(nil)

// NewDesign creates a design with a root component, origin construction
// geometry, a small appearance library and a material list.
func NewDesign(docName string) *Design {
	d := &Design{
		docName: docName,
		names:   make(map[string]int),
	}
	d.timeline = &Timeline{design: d}
	d.root = d.newComponent(docName)
	d.library = []*Appearance{
		{id: "lib-steel-satin", name: "Steel - Satin", inLibrary: true},
		{id: "lib-aluminum-anodized-red", name: "Aluminum - Anodized Red", inLibrary: true},
		{id: "lib-plastic-matte-black", name: "Plastic - Matte (Black)", inLibrary: true},
		{id: "lib-paint-enamel-glossy-blue", name: "Paint - Enamel Glossy (Blue)", inLibrary: true},
	}
	d.materials = []*Material{
		{id: "mat-steel", name: "Steel", density: 0.00785},
		{id: "mat-aluminum", name: "Aluminum", density: 0.0027},
		{id: "mat-abs", name: "ABS Plastic", density: 0.00106},
	}
	d.appearances = []*Appearance{{id: "des-steel", name: "Steel", inLibrary: false}}
	return d
}

func (d *Design) ObjectType() string   { return "Design" }
func (d *Design) DocumentName() string { return d.docName }

func (d *Design) RootComponent() cad.Component { return d.root }

// Root returns the concrete root component.
func (d *Design) Root() *Component { return d.root }

func (d *Design) AllComponents() []cad.Component {
	out := make([]cad.Component, 0, len(d.components))
	for _, c := range d.components {
		out = append(out, c)
	}
	return out
}

func (d *Design) AllOccurrences() []cad.Occurrence {
	out := make([]cad.Occurrence, 0, len(d.occurrences))
	for _, o := range d.occurrences {
		if o.valid {
			out = append(out, o)
		}
	}
	return out
}

func (d *Design) Timeline() cad.Timeline { return d.timeline }

func (d *Design) AllParameters() []cad.Parameter {
	out := make([]cad.Parameter, 0, len(d.params))
	for _, p := range d.params {
		out = append(out, p)
	}
	return out
}

func (d *Design) Appearances() []cad.Appearance {
	out := make([]cad.Appearance, 0, len(d.appearances))
	for _, a := range d.appearances {
		out = append(out, a)
	}
	return out
}

func (d *Design) AppearanceLibrary() []cad.Appearance {
	out := make([]cad.Appearance, 0, len(d.library))
	for _, a := range d.library {
		out = append(out, a)
	}
	return out
}

func (d *Design) CopyAppearanceToDesign(a cad.Appearance) (cad.Appearance, error) {
	if a == nil {
		return nil, fmt.Errorf("appearance is nil")
	}
	for _, existing := range d.appearances {
		if existing.name == a.Name() {
			return existing, nil
		}
	}
	cp := &Appearance{id: "des-" + strings.TrimPrefix(a.ID(), "lib-"), name: a.Name()}
	d.appearances = append(d.appearances, cp)
	return cp, nil
}

func (d *Design) Materials() []cad.Material {
	out := make([]cad.Material, 0, len(d.materials))
	for _, m := range d.materials {
		out = append(out, m)
	}
	return out
}

// AddUserParameter creates a user parameter from an expression such as
// "10 mm" or "2.5".
func (d *Design) AddUserParameter(name, expr string) (*Parameter, error) {
	for _, p := range d.params {
		if p.name == name {
			return nil, fmt.Errorf("parameter %q already exists", name)
		}
	}
	p := &Parameter{name: name, user: true}
	if err := p.SetExpression(expr); err != nil {
		return nil, err
	}
	d.params = append(d.params, p)
	return p, nil
}

func (d *Design) token(kind string) string {
	d.seq++
	return fmt.Sprintf("/%s/%s/%06d", d.docName, kind, d.seq)
}

func (d *Design) nextName(prefix string) string {
	d.names[prefix]++
	return prefix + strconv.Itoa(d.names[prefix])
}

func (d *Design) newComponent(name string) *Component {
	c := &Component{
		design: d,
		id:     fmt.Sprintf("cmp-%04d", len(d.components)+1),
		token:  d.token("Component"),
		name:   name,
	}
	c.features = &features{comp: c}
	c.planes = []*ConstructionPlane{
		{token: d.token("ConstructionPlane"), name: "XY", comp: c, normal: cad.Vector3D{Z: 1}},
		{token: d.token("ConstructionPlane"), name: "XZ", comp: c, normal: cad.Vector3D{Y: 1}},
		{token: d.token("ConstructionPlane"), name: "YZ", comp: c, normal: cad.Vector3D{X: 1}},
	}
	c.axes = []*ConstructionAxis{
		{token: d.token("ConstructionAxis"), name: "X", comp: c, direction: cad.Vector3D{X: 1}},
		{token: d.token("ConstructionAxis"), name: "Y", comp: c, direction: cad.Vector3D{Y: 1}},
		{token: d.token("ConstructionAxis"), name: "Z", comp: c, direction: cad.Vector3D{Z: 1}},
	}
	d.components = append(d.components, c)
	return c
}

// Parameter is a model or user parameter. Values are stored in cm.
type Parameter struct {
	name  string
	expr  string
	value float64
	unit  string
	user  bool
}

func (p *Parameter) ObjectType() string {
	if p.user {
		return "UserParameter"
	}
	return "ModelParameter"
}

func (p *Parameter) Name() string       { return p.name }
func (p *Parameter) Expression() string { return p.expr }
func (p *Parameter) Value() float64     { return p.value }
func (p *Parameter) Unit() string       { return p.unit }

var unitScale = map[string]float64{"": 1, "cm": 1, "mm": 0.1, "m": 100, "in": 2.54, "deg": 1}

func (p *Parameter) SetExpression(expr string) error {
	fields := strings.Fields(expr)
	if len(fields) == 0 || len(fields) > 2 {
		return fmt.Errorf("invalid expression %q", expr)
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return fmt.Errorf("invalid expression %q: %v", expr, err)
	}
	unit := ""
	if len(fields) == 2 {
		unit = fields[1]
	}
	scale, ok := unitScale[unit]
	if !ok {
		return fmt.Errorf("invalid expression %q: unknown unit %q", expr, unit)
	}
	p.expr, p.value, p.unit = expr, v*scale, unit
	if p.unit == "" {
		p.unit = "cm"
	}
	return nil
}

// Appearance is a render appearance.
type Appearance struct {
	id        string
	name      string
	inLibrary bool
}

func (a *Appearance) ObjectType() string { return "Appearance" }
func (a *Appearance) ID() string         { return a.id }
func (a *Appearance) Name() string       { return a.name }
func (a *Appearance) InLibrary() bool    { return a.inLibrary }

// Material is a physical material; density is in kg/cm³.
type Material struct {
	id      string
	name    string
	density float64
}

func (m *Material) ObjectType() string { return "Material" }
func (m *Material) ID() string         { return m.id }
func (m *Material) Name() string       { return m.name }
func (m *Material) Density() float64   { return m.density }
