package attr

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
)

// InventoryLimit caps the attribute and method lists in an inventory.
const InventoryLimit = 40

// PathError reports a failed path resolution together with what the node at
// the failure point offers.
type PathError struct {
	Path       string   `json:"path"`
	Resolved   string   `json:"resolved"`
	Segment    string   `json:"segment"`
	Class      string   `json:"class"`
	Reason     string   `json:"reason"`
	Attributes []string `json:"attributes"`
	Methods    []string `json:"methods"`
}

func newPathError(path string, resolved []string, seg string, node any, format string, args ...any) *PathError {
	attrs, methods := Inventory(node)
	return &PathError{
		Path:       path,
		Resolved:   strings.Join(resolved, "."),
		Segment:    seg,
		Class:      ClassName(node),
		Reason:     fmt.Sprintf(format, args...),
		Attributes: attrs,
		Methods:    methods,
	}
}

func (e *PathError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: '%s' on %s", e.Reason, e.Segment, e.Class)
	if e.Resolved != "" {
		fmt.Fprintf(&b, " (resolved '%s' of '%s')", e.Resolved, e.Path)
	}
	if len(e.Attributes) > 0 {
		fmt.Fprintf(&b, "; available attributes: %s", strings.Join(e.Attributes, ", "))
	}
	if len(e.Methods) > 0 {
		fmt.Fprintf(&b, "; methods: %s", strings.Join(e.Methods, ", "))
	}
	return b.String()
}

// ClassName names the type of node the way the agent sees it: the entity
// object type when available, the Go type name otherwise.
func ClassName(node any) string {
	if node == nil {
		return "nil"
	}
	if e, ok := node.(interface{ ObjectType() string }); ok {
		rv := reflect.ValueOf(node)
		if rv.Kind() != reflect.Pointer || !rv.IsNil() {
			return e.ObjectType()
		}
	}
	t := reflect.TypeOf(node)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}

// Inventory lists the attributes (getters and fields) and the methods
// (everything taking arguments or returning only an error) of node.
func Inventory(node any) (attributes, methods []string) {
	rv := reflect.ValueOf(node)
	if !rv.IsValid() {
		return nil, nil
	}
	seen := map[string]bool{}
	rt := rv.Type()
	for i := 0; i < rt.NumMethod(); i++ {
		m := rt.Method(i)
		name := unexported(m.Name)
		mt := rv.Method(i).Type()
		if isGetter(mt) {
			attributes = append(attributes, name)
		} else {
			methods = append(methods, name)
		}
		seen[name] = true
	}
	sv := rv
	for sv.Kind() == reflect.Pointer || sv.Kind() == reflect.Interface {
		if sv.IsNil() {
			break
		}
		sv = sv.Elem()
	}
	if sv.Kind() == reflect.Struct {
		st := sv.Type()
		for i := 0; i < st.NumField(); i++ {
			f := st.Field(i)
			if !f.IsExported() {
				continue
			}
			name := jsonName(f)
			if name == "" {
				name = unexported(f.Name)
			}
			if !seen[name] {
				attributes = append(attributes, name)
				seen[name] = true
			}
		}
	}
	sort.Strings(attributes)
	sort.Strings(methods)
	return capList(attributes), capList(methods)
}

func capList(s []string) []string {
	if len(s) > InventoryLimit {
		return s[:InventoryLimit]
	}
	return s
}

// Convert turns a decoded JSON value into a value of type t. Numbers arrive
// as float64 and are narrowed to integer kinds only when integral.
func Convert(v any, t reflect.Type) (reflect.Value, error) {
	if v == nil {
		switch t.Kind() {
		case reflect.Interface, reflect.Pointer, reflect.Slice, reflect.Map:
			return reflect.Zero(t), nil
		}
		return reflect.Value{}, fmt.Errorf("cannot use null as %s", t)
	}
	vv := reflect.ValueOf(v)
	if vv.Type().AssignableTo(t) {
		return vv, nil
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		f, ok := number(vv)
		if !ok || f != math.Trunc(f) {
			return reflect.Value{}, fmt.Errorf("expected an integer, got %v", v)
		}
		return reflect.ValueOf(int64(f)).Convert(t), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		f, ok := number(vv)
		if !ok || f != math.Trunc(f) || f < 0 {
			return reflect.Value{}, fmt.Errorf("expected a non-negative integer, got %v", v)
		}
		return reflect.ValueOf(uint64(f)).Convert(t), nil
	case reflect.Float32, reflect.Float64:
		f, ok := number(vv)
		if !ok {
			return reflect.Value{}, fmt.Errorf("expected a number, got %v", v)
		}
		return reflect.ValueOf(f).Convert(t), nil
	case reflect.String:
		if vv.Kind() == reflect.String {
			return vv.Convert(t), nil
		}
	case reflect.Bool:
		if vv.Kind() == reflect.Bool {
			return vv.Convert(t), nil
		}
	case reflect.Slice:
		if vv.Kind() == reflect.Slice {
			out := reflect.MakeSlice(t, vv.Len(), vv.Len())
			for i := 0; i < vv.Len(); i++ {
				e, err := Convert(vv.Index(i).Interface(), t.Elem())
				if err != nil {
					return reflect.Value{}, fmt.Errorf("element %d: %v", i, err)
				}
				out.Index(i).Set(e)
			}
			return out, nil
		}
	}
	return reflect.Value{}, fmt.Errorf("cannot use %s value %v as %s", ClassName(v), v, t)
}

func number(v reflect.Value) (float64, bool) {
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		return v.Float(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint()), true
	}
	return 0, false
}
