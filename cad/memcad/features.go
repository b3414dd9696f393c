package memcad

import (
	"fmt"
	"math"

	"github.com/m4xw311/cadlink/cad"
)

// Feature is a timeline feature that produced or modified bodies.
type Feature struct {
	token  string
	kind   string
	name   string
	op     cad.FeatureOperation
	bodies []*Body
	thin   bool
	wall   cad.WallLocation
}

func (f *Feature) ObjectType() string              { return f.kind }
func (f *Feature) EntityToken() string             { return f.token }
func (f *Feature) Name() string                    { return f.name }
func (f *Feature) Operation() cad.FeatureOperation { return f.op }
func (f *Feature) IsThin() bool                    { return f.thin }

// WallLocation is where a thin extrusion put its wall; side1 otherwise.
func (f *Feature) WallLocation() cad.WallLocation { return f.wall }

func (f *Feature) Bodies() []cad.Body {
	out := make([]cad.Body, 0, len(f.bodies))
	for _, b := range f.bodies {
		if b.valid {
			out = append(out, b)
		}
	}
	return out
}

// features implements cad.Features for one component.
type features struct {
	comp *Component
}

var _ cad.Features = (*features)(nil)

func (fs *features) design() *Design { return fs.comp.design }

func (fs *features) ready() error {
	if !fs.design().timeline.AtEnd() {
		return fmt.Errorf("timeline is rolled back to position %d; move the marker to the end before adding features", fs.design().timeline.marker)
	}
	return nil
}

func (fs *features) record(kind string, op cad.FeatureOperation, bodies []*Body) (cad.Feature, error) {
	d := fs.design()
	f := &Feature{
		token:  d.token(kind),
		kind:   kind,
		name:   d.nextName(kind),
		op:     op,
		bodies: bodies,
	}
	if _, err := d.timeline.add(f.name, f); err != nil {
		return nil, err
	}
	return f, nil
}

// apply folds a tool volume into the component according to op.
func (fs *features) apply(volume float64, op cad.FeatureOperation) ([]*Body, error) {
	if volume <= 0 {
		return nil, fmt.Errorf("feature produces no volume")
	}
	d := fs.design()
	var first *Body
	for _, b := range fs.comp.bodies {
		if b.valid {
			first = b
			break
		}
	}
	switch op {
	case cad.NewBodyFeatureOperation:
		b := newBody(fs.comp, d.nextName("Body"), volume, cad.Point3D{})
		fs.comp.adoptBody(b)
		return []*Body{b}, nil
	case cad.JoinFeatureOperation:
		if first == nil {
			b := newBody(fs.comp, d.nextName("Body"), volume, cad.Point3D{})
			fs.comp.adoptBody(b)
			return []*Body{b}, nil
		}
		first.setVolume(first.volume + volume)
		return []*Body{first}, nil
	case cad.CutFeatureOperation:
		if first == nil {
			return nil, fmt.Errorf("cut requires an existing body in component %q", fs.comp.name)
		}
		first.setVolume(first.volume - volume)
		return []*Body{first}, nil
	case cad.IntersectFeatureOperation:
		if first == nil {
			return nil, fmt.Errorf("intersect requires an existing body in component %q", fs.comp.name)
		}
		first.setVolume(math.Min(first.volume, volume))
		return []*Body{first}, nil
	case cad.NewComponentFeatureOperation:
		occ := fs.comp.AddNewComponent(d.nextName("Component"))
		b := newBody(occ.comp, d.nextName("Body"), volume, cad.Point3D{})
		occ.comp.adoptBody(b)
		return []*Body{b}, nil
	}
	return nil, fmt.Errorf("unsupported feature operation %s", op)
}

func (fs *features) Extrude(in cad.ExtrudeInput) (cad.Feature, error) {
	if err := fs.ready(); err != nil {
		return nil, err
	}
	if len(in.Profiles) == 0 {
		return nil, fmt.Errorf("extrude needs at least one profile")
	}
	if in.Distance == 0 {
		return nil, fmt.Errorf("extrude distance cannot be zero")
	}
	var area float64
	for _, p := range in.Profiles {
		switch v := p.(type) {
		case *Profile:
			if in.Thin {
				return nil, fmt.Errorf("thin extrude takes open sketch curves, got a profile")
			}
			area += v.area
		case *SketchCurve:
			if !in.Thin {
				return nil, fmt.Errorf("solid extrude takes closed profiles, got %s", v.kind)
			}
			area += v.length * in.WallThickness
		default:
			return nil, fmt.Errorf("cannot extrude %T", p)
		}
	}
	if in.Thin && in.WallThickness <= 0 {
		return nil, fmt.Errorf("wall thickness must be positive")
	}
	// Taper shrinks the far cap; approximate with the mean section.
	scale := 1.0
	if in.TaperAngle != 0 {
		shrink := math.Abs(in.Distance) * math.Tan(in.TaperAngle*math.Pi/180)
		side := math.Sqrt(area)
		if side > 0 {
			far := math.Max(side-2*shrink, 0)
			scale = ((side + far) / 2) * ((side + far) / 2) / area
		}
	}
	bodies, err := fs.apply(area*scale*math.Abs(in.Distance), in.Operation)
	if err != nil {
		return nil, err
	}
	f, err := fs.record("ExtrudeFeature", in.Operation, bodies)
	if err != nil {
		return nil, err
	}
	if in.Thin {
		f.(*Feature).thin = true
		f.(*Feature).wall = in.WallLocation
	}
	return f, nil
}

func (fs *features) Revolve(in cad.RevolveInput) (cad.Feature, error) {
	if err := fs.ready(); err != nil {
		return nil, err
	}
	if len(in.Profiles) == 0 {
		return nil, fmt.Errorf("revolve needs at least one profile")
	}
	switch in.Axis.(type) {
	case *ConstructionAxis, *SketchCurve, *Edge:
	default:
		return nil, fmt.Errorf("revolve axis must be a construction axis, sketch line or edge, got %T", in.Axis)
	}
	if in.Angle == 0 {
		return nil, fmt.Errorf("revolve angle cannot be zero")
	}
	var area float64
	for _, p := range in.Profiles {
		area += p.Area()
	}
	rad := math.Abs(in.Angle) * math.Pi / 180
	bodies, err := fs.apply(area*rad*math.Sqrt(area/math.Pi), in.Operation)
	if err != nil {
		return nil, err
	}
	return fs.record("RevolveFeature", in.Operation, bodies)
}

func (fs *features) Pipe(in cad.PipeInput) (cad.Feature, error) {
	if err := fs.ready(); err != nil {
		return nil, err
	}
	if len(in.Path) == 0 {
		return nil, fmt.Errorf("pipe path is empty")
	}
	if in.SectionSize <= 0 {
		return nil, fmt.Errorf("pipe section size must be positive")
	}
	var length float64
	for _, c := range in.Path {
		length += c.Length()
	}
	r := in.SectionSize / 2
	area := math.Pi * r * r
	if in.Hollow {
		if in.WallThickness <= 0 || in.WallThickness >= r {
			return nil, fmt.Errorf("wall thickness must be between 0 and the section radius")
		}
		inner := r - in.WallThickness
		area -= math.Pi * inner * inner
	}
	bodies, err := fs.apply(area*length, in.Operation)
	if err != nil {
		return nil, err
	}
	return fs.record("PipeFeature", in.Operation, bodies)
}

func (fs *features) Fillet(edges []cad.Edge, radius float64) (cad.Feature, error) {
	return fs.edgeFeature("FilletFeature", edges, radius)
}

func (fs *features) Chamfer(edges []cad.Edge, distance float64) (cad.Feature, error) {
	return fs.edgeFeature("ChamferFeature", edges, distance)
}

func (fs *features) edgeFeature(kind string, edges []cad.Edge, size float64) (cad.Feature, error) {
	if err := fs.ready(); err != nil {
		return nil, err
	}
	if len(edges) == 0 {
		return nil, fmt.Errorf("no edges given")
	}
	if size <= 0 {
		return nil, fmt.Errorf("size must be positive")
	}
	seen := map[*Body]bool{}
	var bodies []*Body
	for _, e := range edges {
		me, ok := e.(*Edge)
		if !ok || !me.IsValid() {
			return nil, fmt.Errorf("edge is not a live edge of this design")
		}
		if size >= me.length/2 {
			return nil, fmt.Errorf("size %g is too large for an edge of length %g", size, me.length)
		}
		if !seen[me.body] {
			seen[me.body] = true
			bodies = append(bodies, me.body)
		}
	}
	// Each treated edge removes a small wedge of material.
	for _, e := range edges {
		me := e.(*Edge)
		me.body.setVolume(me.body.volume - 0.2*size*size*me.length)
	}
	return fs.record(kind, cad.JoinFeatureOperation, bodies)
}

func (fs *features) Mirror(in cad.MirrorInput) (cad.Feature, error) {
	if err := fs.ready(); err != nil {
		return nil, err
	}
	if len(in.Bodies) == 0 {
		return nil, fmt.Errorf("no bodies to mirror")
	}
	switch p := in.Plane.(type) {
	case *ConstructionPlane:
	case *Face:
		if !p.IsValid() {
			return nil, fmt.Errorf("mirror face is no longer valid")
		}
	default:
		return nil, fmt.Errorf("mirror plane must be a construction plane or planar face, got %T", in.Plane)
	}
	var out []*Body
	for _, b := range in.Bodies {
		mb, ok := b.(*Body)
		if !ok || !mb.valid {
			return nil, fmt.Errorf("body is not a live body of this design")
		}
		switch in.Operation {
		case cad.JoinFeatureOperation:
			mb.setVolume(mb.volume * 2)
			out = append(out, mb)
		case cad.NewBodyFeatureOperation:
			nb := mb.copy(fs.comp)
			nb.name = mb.name + " (Mirror)"
			fs.comp.adoptBody(nb)
			out = append(out, nb)
		default:
			return nil, fmt.Errorf("mirror supports JoinFeatureOperation or NewBodyFeatureOperation, got %s", in.Operation)
		}
	}
	return fs.record("MirrorFeature", in.Operation, out)
}

func (fs *features) Combine(in cad.CombineInput) (cad.Feature, error) {
	if err := fs.ready(); err != nil {
		return nil, err
	}
	target, ok := in.Target.(*Body)
	if !ok || !target.valid {
		return nil, fmt.Errorf("target is not a live body of this design")
	}
	if len(in.Tools) == 0 {
		return nil, fmt.Errorf("no tool bodies given")
	}
	var tools []*Body
	for _, t := range in.Tools {
		tb, ok := t.(*Body)
		if !ok || !tb.valid {
			return nil, fmt.Errorf("tool is not a live body of this design")
		}
		if tb == target {
			return nil, fmt.Errorf("target body cannot also be a tool body")
		}
		tools = append(tools, tb)
	}
	for _, tb := range tools {
		switch in.Operation {
		case cad.JoinFeatureOperation:
			target.setVolume(target.volume + tb.volume)
		case cad.CutFeatureOperation:
			target.setVolume(target.volume - tb.volume)
		case cad.IntersectFeatureOperation:
			target.setVolume(math.Min(target.volume, tb.volume))
		default:
			return nil, fmt.Errorf("combine supports Join, Cut or Intersect operations, got %s", in.Operation)
		}
	}
	if !in.KeepTools {
		for _, tb := range tools {
			tb.invalidate()
		}
	}
	return fs.record("CombineFeature", in.Operation, []*Body{target})
}
