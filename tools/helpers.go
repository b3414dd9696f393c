package tools

import (
	"fmt"
	"reflect"

	"github.com/m4xw311/cadlink/cad"
	"github.com/m4xw311/cadlink/errors"
	"github.com/m4xw311/cadlink/handle"
)

// DefaultModules returns the built-in tool modules in catalogue order.
func DefaultModules() []Module {
	return []Module{
		{Name: "introspection", Tools: introspectionTools},
		{Name: "state", Tools: stateTools},
		{Name: "creation", Tools: creationTools},
		{Name: "modification", Tools: modificationTools},
		{Name: "transient", Tools: transientTools},
		{Name: "query", Tools: queryTools},
	}
}

// flatten expands object collections and occurrence body lists in place.
func flatten(in []cad.Entity) []cad.Entity {
	var out []cad.Entity
	for _, e := range in {
		switch c := e.(type) {
		case *cad.ObjectCollection:
			out = append(out, flatten(c.Items())...)
		case cad.BodyCollection:
			for _, b := range c.Items() {
				out = append(out, b)
			}
		default:
			out = append(out, e)
		}
	}
	return out
}

// as converts every entity to T, naming the first one that does not fit.
func as[T cad.Entity](param string, in []cad.Entity) ([]T, error) {
	if len(in) == 0 {
		return nil, errors.New("%s is empty", param)
	}
	out := make([]T, 0, len(in))
	for i, e := range in {
		v, ok := e.(T)
		if !ok {
			var zero T
			return nil, errors.New("%s[%d] is a %s, expected %s", param, i, objectType(e), typeName(reflect.TypeOf(&zero).Elem()))
		}
		out = append(out, v)
	}
	return out, nil
}

func typeName(t reflect.Type) string {
	if t.Kind() == reflect.Interface {
		return t.Name()
	}
	return t.String()
}

func objectType(e cad.Entity) string {
	if e == nil {
		return "null"
	}
	return e.ObjectType()
}

// owner returns the component that owns e.
func owner(e cad.Entity) (cad.Component, error) {
	switch v := e.(type) {
	case cad.Component:
		return v, nil
	case cad.Occurrence:
		return v.Component(), nil
	case cad.BodyCollection:
		return v.Owner().Component(), nil
	case cad.Edge:
		return v.Body().ParentComponent(), nil
	case cad.Face:
		return v.Body().ParentComponent(), nil
	case cad.Profile:
		return v.ParentSketch().ParentComponent(), nil
	case cad.SketchCurve:
		return v.ParentSketch().ParentComponent(), nil
	case cad.ConstructionPlane:
		return v.Component(), nil
	case cad.ConstructionAxis:
		return v.Component(), nil
	case interface{ ParentComponent() cad.Component }:
		return v.ParentComponent(), nil
	}
	return nil, errors.New("cannot derive a component from a %s", objectType(e))
}

// targetComponent uses explicit when given, otherwise the owner of the first
// entity.
func targetComponent(explicit cad.Entity, first []cad.Entity) (cad.Component, error) {
	if explicit != nil {
		return owner(explicit)
	}
	if len(first) == 0 {
		return nil, errors.New("no entities given")
	}
	return owner(first[0])
}

func featureResult(env *Env, msg string, f cad.Feature) map[string]any {
	return map[string]any{
		"Results":        msg,
		"New BRepBodies": handle.InternMany(env.Handles, f.Bodies()),
		"Feature":        env.Handles.Intern(f),
	}
}

func vector(param string, v []float64) (cad.Vector3D, error) {
	if len(v) != 3 {
		return cad.Vector3D{}, errors.New("%s needs 3 numbers, got %d", param, len(v))
	}
	return cad.Vector3D{X: v[0], Y: v[1], Z: v[2]}, nil
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}
