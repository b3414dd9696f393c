package tools

import (
	"github.com/m4xw311/cadlink/attr"
	"github.com/m4xw311/cadlink/cad"
	"github.com/m4xw311/cadlink/errors"
	"github.com/m4xw311/cadlink/query"
)

func introspectionTools() []Tool {
	return []Tool{
		Define(describeObjectSchema, describeObject),
		Define(listTimelineSchema, listTimeline),
		Define(listHandlesSchema, listHandles),
		Define(listDocumentTreeSchema, listDocumentTree),
	}
}

const describeObjectSchema = `{
  "name": "describe_object",
  "description": "Lists the attributes and methods of a live entity, or of the first live entity of a class. Use it to learn attribute paths before set_entity_attributes, call_entity_method or run_sql_query.",
  "parameters": {
    "type": "object",
    "properties": {
      "entity_token": {"type": ["string", "null"], "description": "Handle of the entity to describe."},
      "class_name": {"type": "string", "description": "Entity kind to describe when no handle is known, e.g. BRepBody or Occurrence."}
    },
    "additionalProperties": false
  },
  "returns": "objectType, entityToken, attributes and methods"
}`

type describeObjectArgs struct {
	Entity    cad.Entity `json:"entity_token" default:"null"`
	ClassName string     `json:"class_name" default:""`
}

func describeObject(env *Env, a describeObjectArgs) (any, error) {
	target := a.Entity
	if target == nil {
		if a.ClassName == "" {
			return nil, errors.New("give entity_token or class_name")
		}
		all, ok := query.Enumerate(env.Design, a.ClassName)
		if !ok {
			return nil, errors.New("unknown class '%s'; known classes: %v", a.ClassName, query.Kinds())
		}
		if len(all) == 0 {
			return map[string]any{
				"objectType": a.ClassName,
				"message":    "no live instances in the active design",
			}, nil
		}
		target = all[0]
	}
	attrs, methods := attr.Inventory(target)
	out := map[string]any{
		"objectType": attr.ClassName(target),
		"attributes": attrs,
		"methods":    methods,
	}
	if _, ok := target.(cad.Tokened); ok {
		out["entityToken"] = env.Handles.Intern(target)
	}
	return out, nil
}

const listTimelineSchema = `{
  "name": "list_timeline",
  "description": "Lists the timeline items of the active design in order, with the marker position.",
  "parameters": {"type": "object", "properties": {}, "additionalProperties": false},
  "returns": "markerPosition, count and items"
}`

type noArgs struct{}

func listTimeline(env *Env, _ noArgs) (any, error) {
	tl := env.Design.Timeline()
	items := make([]map[string]any, 0, tl.Count())
	for _, it := range tl.Items() {
		row := map[string]any{
			"index":        it.Index(),
			"name":         it.Name(),
			"isSuppressed": it.IsSuppressed(),
			"isRolledBack": it.IsRolledBack(),
		}
		if t := it.Target(); t != nil {
			row["objectType"] = t.ObjectType()
			if cad.Alive(t) {
				row["entityToken"] = env.Handles.Intern(t)
			}
		}
		items = append(items, row)
	}
	return map[string]any{
		"markerPosition": tl.MarkerPosition(),
		"count":          tl.Count(),
		"items":          items,
	}, nil
}

const listHandlesSchema = `{
  "name": "list_handles",
  "description": "Lists every handle issued so far with the object type and name it refers to and whether the entity is still alive.",
  "parameters": {"type": "object", "properties": {}, "additionalProperties": false},
  "returns": "list of {handle, objectType, name, alive}"
}`

func listHandles(env *Env, _ noArgs) (any, error) {
	return env.Handles.Handles(), nil
}

const listDocumentTreeSchema = `{
  "name": "list_document_tree",
  "description": "Returns the assembly tree of the active design: components with their bodies and sketches, and the occurrences placed in them.",
  "parameters": {"type": "object", "properties": {}, "additionalProperties": false},
  "returns": "nested component tree with handles"
}`

func listDocumentTree(env *Env, _ noArgs) (any, error) {
	return map[string]any{
		"document": env.Design.DocumentName(),
		"root":     componentNode(env, env.Design.RootComponent(), 0),
	}, nil
}

// maxTreeDepth stops runaway recursion on self-referencing assemblies.
const maxTreeDepth = 16

func componentNode(env *Env, c cad.Component, depth int) map[string]any {
	node := map[string]any{
		"name":        c.Name(),
		"entityToken": env.Handles.Intern(c),
		"bodies":      names(env, c.Bodies()),
		"sketches":    names(env, c.Sketches()),
	}
	if depth >= maxTreeDepth {
		return node
	}
	var occs []map[string]any
	for _, o := range c.Occurrences() {
		if !cad.Alive(o) {
			continue
		}
		occs = append(occs, map[string]any{
			"name":        o.Name(),
			"entityToken": env.Handles.Intern(o),
			"component":   componentNode(env, o.Component(), depth+1),
		})
	}
	if len(occs) > 0 {
		node["occurrences"] = occs
	}
	return node
}

type namedEntity interface {
	cad.Entity
	Name() string
}

func names[E namedEntity](env *Env, es []E) []map[string]string {
	out := make([]map[string]string, 0, len(es))
	for _, e := range es {
		if !cad.Alive(e) {
			continue
		}
		out = append(out, map[string]string{"name": e.Name(), "entityToken": env.Handles.Intern(e)})
	}
	return out
}
