package memcad

import (
	"github.com/m4xw311/cadlink/cad"
)

// NewSampleDesign builds a small gearbox assembly used by the demo host and
// the tests:
//
//	Gearbox (root)
//	  Gear Housing:1  one 2x2x2 cm box body (Sketch1 + ExtrudeFeature1)
//	  Shaft:1
//	  Bearing:1, Bearing:2
//	  Sketch2 on XY with a 1x1 and a 2x1 rectangle profile
//	  user parameter "shaft_length" = 40 mm
func NewSampleDesign() *Design {
	d := NewDesign("Gearbox")
	root := d.root

	housing := root.AddNewComponent("Gear Housing").comp
	shaft := root.AddNewComponent("Shaft").comp
	bearing := root.AddNewComponent("Bearing").comp
	offset := cad.Identity()
	offset.SetTranslation(cad.Vector3D{X: 5})
	if _, err := root.AddOccurrence(bearing, offset, false); err != nil {
		panic(err)
	}

	sk, err := housing.NewSketch(housing.Plane("XY"))
	if err != nil {
		panic(err)
	}
	if _, err := sk.AddRectangle(cad.Point2D{}, cad.Point2D{X: 2, Y: 2}); err != nil {
		panic(err)
	}
	if _, err := housing.features.Extrude(cad.ExtrudeInput{
		Profiles:  []cad.Entity{sk.profiles[0]},
		Distance:  2,
		Operation: cad.NewBodyFeatureOperation,
	}); err != nil {
		panic(err)
	}

	top, err := root.NewSketch(root.Plane("XY"))
	if err != nil {
		panic(err)
	}
	if _, err := top.AddRectangle(cad.Point2D{X: 4}, cad.Point2D{X: 5, Y: 1}); err != nil {
		panic(err)
	}
	if _, err := top.AddRectangle(cad.Point2D{X: 6}, cad.Point2D{X: 8, Y: 1}); err != nil {
		panic(err)
	}

	a := shaft.AddJointOrigin("Shaft End")
	b := bearing.AddJointOrigin("Bearing Bore")
	root.AddJoint("Rev1", a, b)

	if _, err := d.AddUserParameter("shaft_length", "40 mm"); err != nil {
		panic(err)
	}
	return d
}

// ComponentByName returns the first component with the given name.
func (d *Design) ComponentByName(name string) *Component {
	for _, c := range d.components {
		if c.name == name {
			return c
		}
	}
	return nil
}

// OccurrenceByName returns the first live occurrence with the given name.
func (d *Design) OccurrenceByName(name string) *Occurrence {
	for _, o := range d.occurrences {
		if o.valid && o.name == name {
			return o
		}
	}
	return nil
}
