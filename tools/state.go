package tools

import (
	"fmt"
	"reflect"

	"github.com/m4xw311/cadlink/cad"
	"github.com/m4xw311/cadlink/errors"
)

func stateTools() []Tool {
	return []Tool{
		Define(setEntityAttributesSchema, setEntityAttributes),
		Define(moveOccurrenceSchema, moveOccurrence),
		Define(setAppearanceSchema, setAppearance),
		Define(callEntityMethodSchema, callEntityMethod),
		Define(setParameterExpressionSchema, setParameterExpression),
	}
}

const setEntityAttributesSchema = `{
  "name": "set_entity_attributes",
  "description": "Sets one attribute, addressed by a dotted path such as name or isLightBulbOn, on many entities at once. A handle passed as value is used as its entity only when the attribute does not accept the string itself.",
  "parameters": {
    "type": "object",
    "properties": {
      "entity_tokens": {"type": "array", "items": {"type": "string"}, "minItems": 1, "description": "Handles of the entities to change."},
      "attribute_path": {"type": "string", "description": "Dotted attribute path relative to each entity."},
      "value": {"description": "New value: string, number, boolean or handle."}
    },
    "required": ["entity_tokens", "attribute_path", "value"],
    "additionalProperties": false
  },
  "returns": "per-entity status with old and new values, and updatedCount"
}`

type setEntityAttributesArgs struct {
	Entities []cad.Entity `json:"entity_tokens"`
	Path     string       `json:"attribute_path"`
	Value    any          `json:"value" entity:"-"`
}

func setEntityAttributes(env *Env, a setEntityAttributesArgs) (any, error) {
	results := make([]map[string]any, 0, len(a.Entities))
	updated := 0
	for _, e := range a.Entities {
		row := map[string]any{"entityToken": env.Handles.Intern(e)}
		old, err := env.Attrs.Get(e, a.Path)
		if err == nil {
			row["oldValue"] = scalar(env, old)
			err = setValue(env, e, a.Path, a.Value)
		}
		if err != nil {
			row["status"] = "error"
			row["error"] = errors.Message(err)
		} else {
			now, _ := env.Attrs.Get(e, a.Path)
			row["status"] = "updated"
			row["newValue"] = scalar(env, now)
			updated++
		}
		results = append(results, row)
	}
	return map[string]any{
		"results":      results,
		"updatedCount": updated,
	}, nil
}

// setValue sets v as given, falling back to the entity behind v when v is a
// live handle the attribute would not take as a string.
func setValue(env *Env, e cad.Entity, path string, v any) error {
	err := env.Attrs.Set(e, path, v)
	if err == nil {
		return nil
	}
	if s, ok := v.(string); ok {
		if target, live := env.Handles.Lookup(s); live {
			if terr := env.Attrs.Set(e, path, target); terr == nil {
				return nil
			}
		}
	}
	return err
}

const moveOccurrenceSchema = `{
  "name": "move_occurrence",
  "description": "Moves and/or reorients an occurrence. target_position is the new origin in cm; rotate_from_vector and rotate_to_vector, given together, rotate the occurrence so the first direction points along the second.",
  "parameters": {
    "type": "object",
    "properties": {
      "occurrence_entity_token": {"type": "string", "description": "Handle of the occurrence."},
      "target_position": {"type": ["array", "null"], "items": {"type": "number"}, "minItems": 3, "maxItems": 3},
      "rotate_from_vector": {"type": ["array", "null"], "items": {"type": "number"}, "minItems": 3, "maxItems": 3},
      "rotate_to_vector": {"type": ["array", "null"], "items": {"type": "number"}, "minItems": 3, "maxItems": 3}
    },
    "required": ["occurrence_entity_token"],
    "additionalProperties": false
  },
  "returns": "Results message and the resulting transform"
}`

type moveOccurrenceArgs struct {
	Occurrence cad.Occurrence `json:"occurrence_entity_token"`
	Position   []float64      `json:"target_position" default:"null"`
	RotateFrom []float64      `json:"rotate_from_vector" default:"null"`
	RotateTo   []float64      `json:"rotate_to_vector" default:"null"`
}

func moveOccurrence(env *Env, a moveOccurrenceArgs) (any, error) {
	if a.Position == nil && a.RotateFrom == nil && a.RotateTo == nil {
		return nil, errors.New("nothing to do: give target_position, or rotate_from_vector with rotate_to_vector")
	}
	if (a.RotateFrom == nil) != (a.RotateTo == nil) {
		return nil, errors.New("rotate_from_vector and rotate_to_vector must be given together")
	}

	current := a.Occurrence.Transform()
	next := current
	if a.RotateFrom != nil {
		from, err := vector("rotate_from_vector", a.RotateFrom)
		if err != nil {
			return nil, err
		}
		to, err := vector("rotate_to_vector", a.RotateTo)
		if err != nil {
			return nil, err
		}
		rot, err := cad.RotationBetween(from, to)
		if err != nil {
			return nil, err
		}
		next = rot.Multiply(current)
		next.SetTranslation(current.Translation())
	}
	if a.Position != nil {
		pos, err := vector("target_position", a.Position)
		if err != nil {
			return nil, err
		}
		next.SetTranslation(pos)
	}

	// Parametric hosts only accept an initial transform with the marker at
	// the start of the timeline.
	tl := env.Design.Timeline()
	if err := tl.SetMarkerPosition(0); err != nil {
		return nil, errors.Wrapf(err, "rolling the timeline back")
	}
	err := a.Occurrence.SetInitialTransform(next)
	tl.MoveToEnd()
	if err != nil {
		return nil, errors.Wrapf(err, "moving %s", a.Occurrence.Name())
	}
	t := next.Translation()
	return map[string]any{
		"Results":   fmt.Sprintf("Moved %s to (%g, %g, %g)", a.Occurrence.Name(), t.X, t.Y, t.Z),
		"transform": next.Cells,
	}, nil
}

const setAppearanceSchema = `{
  "name": "set_appearance",
  "description": "Applies an appearance by name to bodies, or to every body of the given occurrences or components. Library appearances are copied into the design first.",
  "parameters": {
    "type": "object",
    "properties": {
      "entity_tokens": {"type": "array", "items": {"type": "string"}, "minItems": 1},
      "appearance_name": {"type": "string", "description": "Exact appearance name, e.g. 'Aluminum - Anodized Red'."}
    },
    "required": ["entity_tokens", "appearance_name"],
    "additionalProperties": false
  },
  "returns": "Results message and the number of bodies changed"
}`

type setAppearanceArgs struct {
	Entities []cad.Entity `json:"entity_tokens"`
	Name     string       `json:"appearance_name"`
}

func setAppearance(env *Env, a setAppearanceArgs) (any, error) {
	app, copied, err := findAppearance(env.Design, a.Name)
	if err != nil {
		return nil, err
	}
	var bodies []cad.Body
	for _, e := range flatten(a.Entities) {
		switch v := e.(type) {
		case cad.Body:
			bodies = append(bodies, v)
		case cad.Occurrence:
			bodies = append(bodies, v.BRepBodies().Items()...)
		case cad.Component:
			bodies = append(bodies, v.Bodies()...)
		default:
			return nil, errors.New("cannot apply an appearance to a %s", e.ObjectType())
		}
	}
	for _, b := range bodies {
		if err := b.SetAppearance(app); err != nil {
			return nil, errors.Wrapf(err, "body %s", b.Name())
		}
	}
	return map[string]any{
		"Results":           fmt.Sprintf("Applied '%s' to %s", app.Name(), plural(len(bodies), "body")),
		"bodyCount":         len(bodies),
		"copiedFromLibrary": copied,
	}, nil
}

func findAppearance(d cad.Design, name string) (cad.Appearance, bool, error) {
	for _, a := range d.Appearances() {
		if a.Name() == name {
			return a, false, nil
		}
	}
	for _, a := range d.AppearanceLibrary() {
		if a.Name() == name {
			local, err := d.CopyAppearanceToDesign(a)
			if err != nil {
				return nil, false, errors.Wrapf(err, "copying '%s' into the design", name)
			}
			return local, true, nil
		}
	}
	var known []string
	for _, a := range d.Appearances() {
		known = append(known, a.Name())
	}
	for _, a := range d.AppearanceLibrary() {
		known = append(known, a.Name())
	}
	return nil, false, errors.New("no appearance named '%s'; available: %v", name, known)
}

const callEntityMethodSchema = `{
  "name": "call_entity_method",
  "description": "Calls a method of an entity by dotted path, e.g. deleteMe or copyToComponent, with a list of scalar or handle arguments. Reports what the call returned and which entities it produced.",
  "parameters": {
    "type": "object",
    "properties": {
      "entity_token": {"type": "string"},
      "method_path": {"type": "string", "description": "Dotted path ending in the method name."},
      "arguments": {"type": ["array", "null"], "description": "Positional arguments; handles are replaced by their entities."}
    },
    "required": ["entity_token", "method_path"],
    "additionalProperties": false
  },
  "returns": "returnValue and newEntities"
}`

type callEntityMethodArgs struct {
	Entity    cad.Entity `json:"entity_token"`
	Method    string     `json:"method_path"`
	Arguments []any      `json:"arguments" default:"null"`
}

func callEntityMethod(env *Env, a callEntityMethodArgs) (any, error) {
	ret, err := env.Attrs.Call(a.Entity, a.Method, a.Arguments)
	if err != nil {
		return nil, err
	}
	var fresh []string
	value := reportValue(env, ret, &fresh)
	return map[string]any{
		"method":      a.Method,
		"returnValue": value,
		"newEntities": fresh,
	}, nil
}

// reportValue replaces entities in v by handles, recording handles that were
// not issued before the call.
func reportValue(env *Env, v any, fresh *[]string) any {
	if v == nil {
		return nil
	}
	if e, ok := v.(cad.Entity); ok {
		_, known := env.Handles.Peek(e)
		h := env.Handles.Intern(e)
		if !known {
			*fresh = append(*fresh, h)
		}
		return h
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Interface {
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = reportValue(env, rv.Index(i).Interface(), fresh)
		}
		return out
	}
	return v
}

// scalar reports an attribute value, replacing entities by handles.
func scalar(env *Env, v any) any {
	if e, ok := v.(cad.Entity); ok {
		return env.Handles.Intern(e)
	}
	return v
}

const setParameterExpressionSchema = `{
  "name": "set_parameter_expression",
  "description": "Changes the expression of a model or user parameter, e.g. '45 mm' or 'shaft_length * 2'.",
  "parameters": {
    "type": "object",
    "properties": {
      "parameter_name": {"type": "string"},
      "expression": {"type": "string"}
    },
    "required": ["parameter_name", "expression"],
    "additionalProperties": false
  },
  "returns": "the parameter with its new expression and value"
}`

type setParameterExpressionArgs struct {
	Name       string `json:"parameter_name"`
	Expression string `json:"expression"`
}

func setParameterExpression(env *Env, a setParameterExpressionArgs) (any, error) {
	for _, p := range env.Design.AllParameters() {
		if p.Name() != a.Name {
			continue
		}
		old := p.Expression()
		if err := p.SetExpression(a.Expression); err != nil {
			return nil, errors.Wrapf(err, "parameter %s", a.Name)
		}
		return map[string]any{
			"Results":       fmt.Sprintf("%s changed from '%s' to '%s'", a.Name, old, p.Expression()),
			"name":          p.Name(),
			"expression":    p.Expression(),
			"value":         p.Value(),
			"unit":          p.Unit(),
			"oldExpression": old,
		}, nil
	}
	return nil, errors.New("no parameter named '%s'", a.Name)
}
