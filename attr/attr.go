// Package attr evaluates dotted attribute paths such as
// "physicalProperties.centerOfMass.x" against live entities.
//
// A segment "fooBar" resolves, in order, to a zero-argument method FooBar()
// returning (T) or (T, error), an exported field FooBar, or a field whose json
// tag is "fooBar". Failures come back as *PathError carrying an inventory of
// what the current node does offer, which is what lets the agent correct
// itself on the next turn.
package attr

import (
	"fmt"
	"reflect"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/m4xw311/cadlink/cad"
	"github.com/m4xw311/cadlink/handle"
)

// IdentityAttribute is the attribute whose raw value is replaced by a handle.
const IdentityAttribute = "entityToken"

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// Resolver resolves paths. Handles may be nil, in which case identity
// attributes are returned raw.
type Resolver struct {
	Handles *handle.Table
}

// New returns a resolver that interns identity attributes into t.
func New(t *handle.Table) *Resolver {
	return &Resolver{Handles: t}
}

// Split breaks a dotted path into segments, rejecting empty ones.
func Split(path string) ([]string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("empty attribute path")
	}
	segs := strings.Split(path, ".")
	for _, s := range segs {
		if strings.TrimSpace(s) == "" {
			return nil, fmt.Errorf("attribute path %q has an empty segment", path)
		}
	}
	return segs, nil
}

// Get walks path from node. When the final segment is the identity attribute
// and the node is an entity, its handle is returned instead of the token.
func (r *Resolver) Get(node any, path string) (any, error) {
	segs, err := Split(path)
	if err != nil {
		return nil, err
	}
	last := len(segs) - 1
	parent, err := r.walk(node, path, segs[:last])
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(segs[last], IdentityAttribute) && r.Handles != nil {
		if e, ok := parent.(cad.Entity); ok && e != nil {
			if _, tok := e.(cad.Tokened); tok {
				return r.Handles.Intern(e), nil
			}
		}
	}
	return r.step(parent, path, segs[:last], segs[last])
}

// Set descends to the penultimate node of path and assigns value to the
// final attribute through a SetFooBar method or an addressable field.
func (r *Resolver) Set(node any, path string, value any) error {
	segs, err := Split(path)
	if err != nil {
		return err
	}
	last := len(segs) - 1
	parent, err := r.walk(node, path, segs[:last])
	if err != nil {
		return err
	}
	seg := segs[last]
	rv := reflect.ValueOf(parent)
	if !rv.IsValid() {
		return newPathError(path, segs[:last], seg, parent, "node is nil")
	}

	if m := rv.MethodByName("Set" + exported(seg)); m.IsValid() {
		mt := m.Type()
		if mt.NumIn() != 1 {
			return newPathError(path, segs[:last], seg, parent, "setter takes %d arguments", mt.NumIn())
		}
		arg, err := Convert(value, mt.In(0))
		if err != nil {
			return newPathError(path, segs[:last], seg, parent, "%v", err)
		}
		out := m.Call([]reflect.Value{arg})
		if len(out) > 0 {
			if e, ok := out[len(out)-1].Interface().(error); ok && e != nil {
				return e
			}
		}
		return nil
	}

	sv := rv
	for sv.Kind() == reflect.Pointer || sv.Kind() == reflect.Interface {
		if sv.IsNil() {
			return newPathError(path, segs[:last], seg, parent, "node is nil")
		}
		sv = sv.Elem()
	}
	if sv.Kind() == reflect.Struct {
		if f, ok := field(sv, seg); ok {
			if !f.CanSet() {
				return newPathError(path, segs[:last], seg, parent, "attribute is read-only")
			}
			v, err := Convert(value, f.Type())
			if err != nil {
				return newPathError(path, segs[:last], seg, parent, "%v", err)
			}
			f.Set(v)
			return nil
		}
	}
	if _, err := r.step(parent, path, segs[:last], seg); err == nil {
		return newPathError(path, segs[:last], seg, parent, "attribute is read-only")
	}
	return newPathError(path, segs[:last], seg, parent, "attribute not found")
}

// Call resolves methodPath from node and invokes the final segment with
// args. Arguments are converted to the parameter types; entities pass
// through as-is. A trailing error result is returned as the error.
func (r *Resolver) Call(node any, methodPath string, args []any) (any, error) {
	segs, err := Split(methodPath)
	if err != nil {
		return nil, err
	}
	last := len(segs) - 1
	parent, err := r.walk(node, methodPath, segs[:last])
	if err != nil {
		return nil, err
	}
	seg := segs[last]
	rv := reflect.ValueOf(parent)
	if !rv.IsValid() {
		return nil, newPathError(methodPath, segs[:last], seg, parent, "node is nil")
	}
	m := rv.MethodByName(exported(seg))
	if !m.IsValid() {
		return nil, newPathError(methodPath, segs[:last], seg, parent, "method not found")
	}
	mt := m.Type()
	if mt.IsVariadic() {
		return nil, newPathError(methodPath, segs[:last], seg, parent, "variadic methods are not callable")
	}
	if mt.NumIn() != len(args) {
		return nil, newPathError(methodPath, segs[:last], seg, parent, "method takes %d arguments, got %d", mt.NumIn(), len(args))
	}
	in := make([]reflect.Value, len(args))
	for i, a := range args {
		v, err := Convert(a, mt.In(i))
		if err != nil {
			return nil, newPathError(methodPath, segs[:last], seg, parent, "argument %d: %v", i, err)
		}
		in[i] = v
	}
	return results(m.Call(in))
}

func results(out []reflect.Value) (any, error) {
	if n := len(out); n > 0 && out[n-1].Type().Implements(errorType) {
		if !out[n-1].IsNil() {
			return nil, out[n-1].Interface().(error)
		}
		out = out[:n-1]
	}
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		return value(out[0]), nil
	}
	vals := make([]any, len(out))
	for i, o := range out {
		vals[i] = value(o)
	}
	return vals, nil
}

func (r *Resolver) walk(node any, path string, segs []string) (any, error) {
	cur := node
	for i, s := range segs {
		next, err := r.step(cur, path, segs[:i], s)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

// step resolves one segment on node.
func (r *Resolver) step(node any, path string, resolved []string, seg string) (any, error) {
	rv := reflect.ValueOf(node)
	if !rv.IsValid() || ((rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface) && rv.IsNil()) {
		return nil, newPathError(path, resolved, seg, node, "node is nil")
	}
	if e, ok := node.(cad.Entity); ok && !cad.Alive(e) {
		return nil, newPathError(path, resolved, seg, node, "entity is no longer valid")
	}

	if m := rv.MethodByName(exported(seg)); m.IsValid() && isGetter(m.Type()) {
		out := m.Call(nil)
		if len(out) == 2 && !out[1].IsNil() {
			return nil, out[1].Interface().(error)
		}
		return value(out[0]), nil
	}

	sv := rv
	for sv.Kind() == reflect.Pointer || sv.Kind() == reflect.Interface {
		sv = sv.Elem()
	}
	switch sv.Kind() {
	case reflect.Struct:
		if f, ok := field(sv, seg); ok {
			return value(f), nil
		}
	case reflect.Map:
		if sv.Type().Key().Kind() == reflect.String {
			if v := sv.MapIndex(reflect.ValueOf(seg).Convert(sv.Type().Key())); v.IsValid() {
				return value(v), nil
			}
		}
	}
	return nil, newPathError(path, resolved, seg, node, "attribute not found")
}

func isGetter(t reflect.Type) bool {
	if t.NumIn() != 0 {
		return false
	}
	switch t.NumOut() {
	case 1:
		return t.Out(0) != errorType
	case 2:
		return t.Out(1) == errorType
	}
	return false
}

func field(sv reflect.Value, seg string) (reflect.Value, bool) {
	st := sv.Type()
	if f, ok := st.FieldByName(exported(seg)); ok && f.IsExported() && len(f.Index) == 1 {
		return sv.Field(f.Index[0]), true
	}
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		if !f.IsExported() {
			continue
		}
		if tag := jsonName(f); tag != "" && tag == seg {
			return sv.Field(i), true
		}
	}
	return reflect.Value{}, false
}

func jsonName(f reflect.StructField) string {
	tag := f.Tag.Get("json")
	if tag == "" || tag == "-" {
		return ""
	}
	name, _, _ := strings.Cut(tag, ",")
	return name
}

func value(v reflect.Value) any {
	if !v.IsValid() {
		return nil
	}
	if (v.Kind() == reflect.Interface || v.Kind() == reflect.Pointer) && v.IsNil() {
		return nil
	}
	return v.Interface()
}

func exported(seg string) string {
	r, n := utf8.DecodeRuneInString(seg)
	return string(unicode.ToUpper(r)) + seg[n:]
}

func unexported(name string) string {
	r, n := utf8.DecodeRuneInString(name)
	return string(unicode.ToLower(r)) + name[n:]
}
