package tools

import (
	"reflect"
	"strconv"
	"strings"

	"github.com/m4xw311/cadlink/attr"
	"github.com/m4xw311/cadlink/errors"
)

var stringType = reflect.TypeOf("")

// parameters reads the argument struct of a tool handler. Each exported
// field with a json tag is a parameter; a `default` tag makes it optional
// and `entity:"-"` keeps handle strings from being substituted.
func parameters(t reflect.Type) ([]Parameter, error) {
	if t.Kind() != reflect.Struct {
		return nil, errors.New("tool arguments must be a struct, got %s", t)
	}
	var out []Parameter
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return nil, errors.New("field %s has no json name", f.Name)
		}
		def, hasDef := f.Tag.Lookup("default")
		p := Parameter{
			Name:       name,
			Type:       f.Type.String(),
			Default:    def,
			HasDefault: hasDef,
			index:      i,
			typ:        f.Type,
		}
		if f.Tag.Get("entity") != "-" {
			p.Entity, p.EntityOnly = entityKind(f.Type)
		}
		if hasDef {
			if _, err := defaultValue(def, f.Type); err != nil {
				return nil, errors.Wrapf(err, "bad default for %s", name)
			}
		}
		out = append(out, p)
	}
	return out, nil
}

// entityKind reports whether t (or its element type) is an interface, and
// whether that interface excludes plain strings.
func entityKind(t reflect.Type) (entity, only bool) {
	for t.Kind() == reflect.Slice {
		t = t.Elem()
	}
	if t.Kind() != reflect.Interface {
		return false, false
	}
	return true, !stringType.Implements(t)
}

// bind fills the struct at dst from args, applying defaults.
func bind(dst any, params []Parameter, args map[string]any) error {
	v := reflect.ValueOf(dst).Elem()
	for _, p := range params {
		f := v.Field(p.index)
		raw, ok := args[p.Name]
		if !ok {
			if !p.HasDefault {
				return errors.New("missing required parameter '%s'", p.Name)
			}
			dv, err := defaultValue(p.Default, p.typ)
			if err != nil {
				return err
			}
			f.Set(dv)
			continue
		}
		cv, err := attr.Convert(raw, p.typ)
		if err != nil {
			return errors.New("parameter '%s': %v", p.Name, err)
		}
		f.Set(cv)
	}
	return nil
}

// defaultValue parses a default tag for type t. Empty or "null" gives the
// zero value for reference kinds.
func defaultValue(def string, t reflect.Type) (reflect.Value, error) {
	switch t.Kind() {
	case reflect.String:
		return reflect.ValueOf(def).Convert(t), nil
	case reflect.Bool:
		b, err := strconv.ParseBool(def)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(b).Convert(t), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(def, 10, 64)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(n).Convert(t), nil
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(def, 64)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(f).Convert(t), nil
	case reflect.Slice, reflect.Interface, reflect.Pointer, reflect.Map:
		if def == "" || def == "null" {
			return reflect.Zero(t), nil
		}
	}
	return reflect.Value{}, errors.New("unsupported default %q for %s", def, t)
}
