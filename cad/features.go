package cad

import (
	"fmt"
	"strings"
)

// FeatureOperation is the boolean semantics of a body-producing feature.
type FeatureOperation int

const (
	JoinFeatureOperation FeatureOperation = iota
	CutFeatureOperation
	IntersectFeatureOperation
	NewBodyFeatureOperation
	NewComponentFeatureOperation
)

var featureOperationNames = []string{
	"JoinFeatureOperation",
	"CutFeatureOperation",
	"IntersectFeatureOperation",
	"NewBodyFeatureOperation",
	"NewComponentFeatureOperation",
}

func (o FeatureOperation) String() string {
	if int(o) < 0 || int(o) >= len(featureOperationNames) {
		return fmt.Sprintf("FeatureOperation(%d)", int(o))
	}
	return featureOperationNames[o]
}

// FeatureOperationNames lists the accepted operation names in host order.
func FeatureOperationNames() []string {
	return append([]string(nil), featureOperationNames...)
}

// ParseFeatureOperation maps an accepted host name to its value. The error
// names the rejected value and every accepted one.
func ParseFeatureOperation(name string) (FeatureOperation, error) {
	for i, n := range featureOperationNames {
		if n == name {
			return FeatureOperation(i), nil
		}
	}
	return 0, fmt.Errorf("invalid operation_type %q: accepted values are %s", name, strings.Join(featureOperationNames, ", "))
}

// WallLocation places a thin-feature wall relative to its curves.
type WallLocation int

const (
	WallSide1 WallLocation = iota
	WallSide2
	WallCenter
)

var wallLocationNames = []string{"side1", "side2", "center"}

func (w WallLocation) String() string {
	if int(w) < 0 || int(w) >= len(wallLocationNames) {
		return fmt.Sprintf("WallLocation(%d)", int(w))
	}
	return wallLocationNames[w]
}

// ParseWallLocation accepts side1, side2 or center.
func ParseWallLocation(name string) (WallLocation, error) {
	for i, n := range wallLocationNames {
		if strings.EqualFold(n, name) {
			return WallLocation(i), nil
		}
	}
	return 0, fmt.Errorf("invalid wall_location %q: accepted values are %s", name, strings.Join(wallLocationNames, ", "))
}

// ExtrudeInput describes a solid or thin extrusion.
type ExtrudeInput struct {
	// Profiles holds closed profiles for solid extrusions or open sketch
	// curves for thin extrusions.
	Profiles      []Entity
	Distance      float64
	StartOffset   float64
	TaperAngle    float64
	Operation     FeatureOperation
	Thin          bool
	WallLocation  WallLocation
	WallThickness float64
}

// RevolveInput describes a revolve about an axis entity.
type RevolveInput struct {
	Profiles  []Profile
	Axis      Entity
	Angle     float64
	Operation FeatureOperation
}

// PipeInput describes a circular pipe swept along sketch curves.
type PipeInput struct {
	Path          []SketchCurve
	SectionSize   float64
	Hollow        bool
	WallThickness float64
	Operation     FeatureOperation
}

// MirrorInput describes a body mirror across a plane.
type MirrorInput struct {
	Bodies    []Body
	Plane     Entity
	Operation FeatureOperation
}

// CombineInput describes a boolean between a target body and tool bodies.
type CombineInput struct {
	Target    Body
	Tools     []Body
	Operation FeatureOperation
	KeepTools bool
}

// Features creates modelling features inside one component.
type Features interface {
	Extrude(in ExtrudeInput) (Feature, error)
	Revolve(in RevolveInput) (Feature, error)
	Pipe(in PipeInput) (Feature, error)
	Fillet(edges []Edge, radius float64) (Feature, error)
	Chamfer(edges []Edge, distance float64) (Feature, error)
	Mirror(in MirrorInput) (Feature, error)
	Combine(in CombineInput) (Feature, error)
}
