package cad

import (
	"fmt"
	"math"
)

// Point3D is a transient point in design space (cm).
type Point3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (Point3D) ObjectType() string { return "Point3D" }

// DistanceTo returns the euclidean distance between two points.
func (p Point3D) DistanceTo(o Point3D) float64 {
	return math.Sqrt((p.X-o.X)*(p.X-o.X) + (p.Y-o.Y)*(p.Y-o.Y) + (p.Z-o.Z)*(p.Z-o.Z))
}

// Point2D is a transient point in sketch space (cm).
type Point2D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (Point2D) ObjectType() string { return "Point2D" }

// Vector3D is a transient direction or displacement.
type Vector3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (Vector3D) ObjectType() string { return "Vector3D" }

// Length returns the vector magnitude.
func (v Vector3D) Length() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Normalized returns v scaled to unit length. A zero vector is returned as is.
func (v Vector3D) Normalized() Vector3D {
	l := v.Length()
	if l == 0 {
		return v
	}
	return Vector3D{v.X / l, v.Y / l, v.Z / l}
}

// Cross returns v × o.
func (v Vector3D) Cross(o Vector3D) Vector3D {
	return Vector3D{v.Y*o.Z - v.Z*o.Y, v.Z*o.X - v.X*o.Z, v.X*o.Y - v.Y*o.X}
}

// Dot returns v · o.
func (v Vector3D) Dot(o Vector3D) float64 {
	return v.X*o.X + v.Y*o.Y + v.Z*o.Z
}

// Matrix3D is a row-major 4x4 transform. A 2-D (3x3) matrix is embedded in
// the upper-left block with the translation in the last column.
type Matrix3D struct {
	Cells [16]float64 `json:"cells"`
}

func (Matrix3D) ObjectType() string { return "Matrix3D" }

// Identity returns the identity transform.
func Identity() Matrix3D {
	var m Matrix3D
	m.Cells[0], m.Cells[5], m.Cells[10], m.Cells[15] = 1, 1, 1, 1
	return m
}

// MatrixFromRowMajor builds a matrix from 9 (3x3) or 16 (4x4) values.
func MatrixFromRowMajor(values []float64) (Matrix3D, error) {
	switch len(values) {
	case 16:
		var m Matrix3D
		copy(m.Cells[:], values)
		return m, nil
	case 9:
		m := Identity()
		for r := 0; r < 2; r++ {
			m.Cells[r*4+0] = values[r*3+0]
			m.Cells[r*4+1] = values[r*3+1]
			m.Cells[r*4+3] = values[r*3+2]
		}
		m.Cells[12], m.Cells[13], m.Cells[15] = values[6], values[7], values[8]
		return m, nil
	default:
		return Matrix3D{}, fmt.Errorf("matrix needs 9 or 16 values, got %d", len(values))
	}
}

// Translation returns the translation component.
func (m Matrix3D) Translation() Vector3D {
	return Vector3D{m.Cells[3], m.Cells[7], m.Cells[11]}
}

// SetTranslation replaces the translation component.
func (m *Matrix3D) SetTranslation(v Vector3D) {
	m.Cells[3], m.Cells[7], m.Cells[11] = v.X, v.Y, v.Z
}

// Multiply returns m × o.
func (m Matrix3D) Multiply(o Matrix3D) Matrix3D {
	var out Matrix3D
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			var sum float64
			for k := 0; k < 4; k++ {
				sum += m.Cells[r*4+k] * o.Cells[k*4+c]
			}
			out.Cells[r*4+c] = sum
		}
	}
	return out
}

// RotationBetween returns the rotation taking direction from onto direction
// to, about the origin.
func RotationBetween(from, to Vector3D) (Matrix3D, error) {
	a, b := from.Normalized(), to.Normalized()
	if a.Length() == 0 || b.Length() == 0 {
		return Matrix3D{}, fmt.Errorf("rotation vectors must be non-zero")
	}
	axis := a.Cross(b)
	cos := a.Dot(b)
	sin := axis.Length()
	if sin < 1e-12 {
		if cos > 0 {
			return Identity(), nil
		}
		// Opposite directions: rotate half a turn about any perpendicular axis.
		axis = a.Cross(Vector3D{1, 0, 0})
		if axis.Length() < 1e-12 {
			axis = a.Cross(Vector3D{0, 1, 0})
		}
		sin, cos = 0, -1
	}
	k := axis.Normalized()
	t := 1 - cos
	m := Identity()
	m.Cells[0] = cos + k.X*k.X*t
	m.Cells[1] = k.X*k.Y*t - k.Z*sin
	m.Cells[2] = k.X*k.Z*t + k.Y*sin
	m.Cells[4] = k.Y*k.X*t + k.Z*sin
	m.Cells[5] = cos + k.Y*k.Y*t
	m.Cells[6] = k.Y*k.Z*t - k.X*sin
	m.Cells[8] = k.Z*k.X*t - k.Y*sin
	m.Cells[9] = k.Z*k.Y*t + k.X*sin
	m.Cells[10] = cos + k.Z*k.Z*t
	return m, nil
}

// ObjectCollection is a transient, ordered bag of entities.
type ObjectCollection struct {
	items []Entity
}

// NewObjectCollection returns a collection holding items.
func NewObjectCollection(items ...Entity) *ObjectCollection {
	return &ObjectCollection{items: append([]Entity(nil), items...)}
}

func (*ObjectCollection) ObjectType() string { return "ObjectCollection" }

// Add appends e to the collection.
func (c *ObjectCollection) Add(e Entity) { c.items = append(c.items, e) }

// Items returns the collection contents.
func (c *ObjectCollection) Items() []Entity { return append([]Entity(nil), c.items...) }

// Count returns the number of items.
func (c *ObjectCollection) Count() int { return len(c.items) }
