// Package cad describes the slice of a parametric CAD host that the bridge
// drives. The host owns every entity; the bridge only borrows references while
// the host keeps them alive.
//
// The tool library, the query engine and the handle table use only what is
// declared here. Everything else an entity offers is reached reflectively
// through the attr package.
package cad

// Entity is any live object owned by the host.
type Entity interface {
	ObjectType() string
}

// Tokened is implemented by entities that carry a persistent host token.
type Tokened interface {
	Entity
	EntityToken() string
}

// Validator is implemented by entities the host can invalidate (deleted
// bodies, rolled-back features).
type Validator interface {
	IsValid() bool
}

// Named is implemented by entities with a display name.
type Named interface {
	Name() string
}

// Alive reports whether e is still usable. Entities that cannot be
// invalidated are always alive.
func Alive(e Entity) bool {
	if e == nil {
		return false
	}
	if v, ok := e.(Validator); ok {
		return v.IsValid()
	}
	return true
}

// Design is the active parametric design of a document.
type Design interface {
	Entity
	DocumentName() string
	RootComponent() Component
	AllComponents() []Component
	AllOccurrences() []Occurrence
	Timeline() Timeline
	AllParameters() []Parameter
	Appearances() []Appearance
	AppearanceLibrary() []Appearance
	// CopyAppearanceToDesign copies a library appearance into the design and
	// returns the design-local copy.
	CopyAppearanceToDesign(a Appearance) (Appearance, error)
	Materials() []Material
}

// Component is a reusable definition placed through occurrences.
type Component interface {
	Tokened
	ID() string
	Name() string
	SetName(name string) error
	ParentDesign() Design
	Bodies() []Body
	Sketches() []Sketch
	Occurrences() []Occurrence
	ConstructionPlanes() []ConstructionPlane
	ConstructionAxes() []ConstructionAxis
	Joints() []Joint
	JointOrigins() []JointOrigin
	Features() Features
	// AddSketch creates an empty sketch on a plane or planar face.
	AddSketch(plane Entity) (Sketch, error)
	// AddOccurrence places source under this component. Independent copies
	// create a brand-new component; otherwise the occurrence references source.
	AddOccurrence(source Component, transform Matrix3D, independent bool) (Occurrence, error)
}

// Occurrence is a placed instance of a component.
type Occurrence interface {
	Tokened
	Name() string
	SetName(name string) error
	Component() Component
	ParentComponent() Component
	Transform() Matrix3D
	// SetInitialTransform edits the occurrence placement. Parametric hosts
	// require the timeline marker to be rolled to the beginning first.
	SetInitialTransform(m Matrix3D) error
	BRepBodies() BodyCollection
}

// BodyCollection is the body list seen through an occurrence.
type BodyCollection interface {
	Entity
	Owner() Occurrence
	Items() []Body
	Count() int
}

// Body is a solid or surface body.
type Body interface {
	Tokened
	Name() string
	SetName(name string) error
	ParentComponent() Component
	Edges() []Edge
	Faces() []Face
	Volume() float64
	Area() float64
	Appearance() Appearance
	SetAppearance(a Appearance) error
	PhysicalProperties() PhysicalProperties
}

// Edge is a B-Rep edge.
type Edge interface {
	Tokened
	Body() Body
	Length() float64
}

// Face is a B-Rep face.
type Face interface {
	Tokened
	Body() Body
	Area() float64
}

// Sketch is a 2-D sketch inside a component.
type Sketch interface {
	Tokened
	Name() string
	SetName(name string) error
	ParentComponent() Component
	Profiles() []Profile
	SketchCurves() []SketchCurve
	AddLine(start, end Point2D) (SketchCurve, error)
	AddRectangle(corner, opposite Point2D) ([]SketchCurve, error)
	AddCircle(center Point2D, radius float64) (SketchCurve, error)
}

// Profile is a closed region of a sketch.
type Profile interface {
	Tokened
	ParentSketch() Sketch
	Area() float64
}

// SketchCurve is a line, arc or circle in a sketch.
type SketchCurve interface {
	Tokened
	ParentSketch() Sketch
	Length() float64
	IsClosed() bool
}

// ConstructionPlane is a work plane, including the origin planes.
type ConstructionPlane interface {
	Tokened
	Name() string
	Component() Component
	Normal() Vector3D
}

// ConstructionAxis is a work axis, including the origin axes.
type ConstructionAxis interface {
	Tokened
	Name() string
	Component() Component
	Direction() Vector3D
}

// Joint connects two joint origins or geometries.
type Joint interface {
	Tokened
	Name() string
	ParentComponent() Component
}

// JointOrigin is a named joint reference frame.
type JointOrigin interface {
	Tokened
	Name() string
	ParentComponent() Component
}

// Parameter is a model or user parameter.
type Parameter interface {
	Entity
	Name() string
	Expression() string
	SetExpression(expr string) error
	Value() float64
	Unit() string
}

// Appearance is a render appearance, either in the design or a library.
type Appearance interface {
	Entity
	ID() string
	Name() string
	InLibrary() bool
}

// Material is a physical material.
type Material interface {
	Entity
	ID() string
	Name() string
	Density() float64
}

// Timeline is the ordered feature history of a parametric design.
type Timeline interface {
	Entity
	Items() []TimelineItem
	Count() int
	MarkerPosition() int
	SetMarkerPosition(pos int) error
	MoveToEnd()
}

// TimelineItem is one entry in the timeline.
type TimelineItem interface {
	Entity
	Index() int
	Name() string
	IsSuppressed() bool
	IsRolledBack() bool
	// Target is the feature or entity the item creates, if any.
	Target() Entity
}

// Feature is a modelling feature recorded in the timeline.
type Feature interface {
	Tokened
	Name() string
	Bodies() []Body
	Operation() FeatureOperation
}

// PhysicalProperties groups mass-related values of a body.
type PhysicalProperties struct {
	Mass         float64 `json:"mass"`
	Volume       float64 `json:"volume"`
	Area         float64 `json:"area"`
	Density      float64 `json:"density"`
	CenterOfMass Point3D `json:"centerOfMass"`
}
