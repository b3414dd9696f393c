package tools

import (
	"fmt"
	"strings"

	"github.com/m4xw311/cadlink/cad"
	"github.com/m4xw311/cadlink/errors"
)

func modificationTools() []Tool {
	return []Tool{
		Define(filletOrChamferEdgesSchema, filletOrChamferEdges),
		Define(mirrorBodySchema, mirrorBody),
	}
}

const filletOrChamferEdgesSchema = `{
  "name": "fillet_or_chamfer_edges",
  "description": "Rounds (fillet) or bevels (chamfer) a set of edges with one radius or distance in cm.",
  "parameters": {
    "type": "object",
    "properties": {
      "component_entity_token": {"type": ["string", "null"], "description": "Defaults to the component owning the first edge."},
      "edge_tokens_list": {"type": "array", "items": {"type": "string"}, "minItems": 1},
      "operation_value": {"type": "number", "exclusiveMinimum": 0, "description": "Fillet radius or chamfer distance in cm."},
      "operation_type": {"type": "string", "enum": ["fillet", "chamfer"]}
    },
    "required": ["edge_tokens_list", "operation_value", "operation_type"],
    "additionalProperties": false
  },
  "returns": "Results message, affected BRepBodies and the Feature handle"
}`

type filletOrChamferEdgesArgs struct {
	Component cad.Entity   `json:"component_entity_token" default:"null"`
	Edges     []cad.Entity `json:"edge_tokens_list"`
	Value     float64      `json:"operation_value"`
	Operation string       `json:"operation_type"`
}

func filletOrChamferEdges(env *Env, a filletOrChamferEdgesArgs) (any, error) {
	edges, err := as[cad.Edge]("edge_tokens_list", flatten(a.Edges))
	if err != nil {
		return nil, err
	}
	comp, err := targetComponent(a.Component, []cad.Entity{edges[0]})
	if err != nil {
		return nil, err
	}
	var f cad.Feature
	switch strings.ToLower(a.Operation) {
	case "fillet":
		f, err = comp.Features().Fillet(edges, a.Value)
	case "chamfer":
		f, err = comp.Features().Chamfer(edges, a.Value)
	default:
		return nil, errors.New("invalid operation_type %q: accepted values are fillet, chamfer", a.Operation)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "%s failed", a.Operation)
	}
	msg := fmt.Sprintf("Applied %s of %g cm to %s", strings.ToLower(a.Operation), a.Value, plural(len(edges), "edge"))
	return featureResult(env, msg, f), nil
}

const mirrorBodySchema = `{
  "name": "mirror_body_in_component",
  "description": "Mirrors a body across a construction plane or planar face. JoinFeatureOperation merges the mirror into the body; NewBodyFeatureOperation keeps it separate.",
  "parameters": {
    "type": "object",
    "properties": {
      "component_entity_token": {"type": "string"},
      "body_entity_token": {"type": "string"},
      "mirror_plane_entity_token": {"type": "string"},
      "operation_type": {"type": "string"}
    },
    "required": ["component_entity_token", "body_entity_token", "mirror_plane_entity_token", "operation_type"],
    "additionalProperties": false
  },
  "returns": "Results message, New BRepBodies handles and the Feature handle"
}`

type mirrorBodyArgs struct {
	Component cad.Entity `json:"component_entity_token"`
	Body      cad.Body   `json:"body_entity_token"`
	Plane     cad.Entity `json:"mirror_plane_entity_token"`
	Operation string     `json:"operation_type"`
}

func mirrorBody(env *Env, a mirrorBodyArgs) (any, error) {
	op, err := cad.ParseFeatureOperation(a.Operation)
	if err != nil {
		return nil, err
	}
	comp, err := owner(a.Component)
	if err != nil {
		return nil, err
	}
	f, err := comp.Features().Mirror(cad.MirrorInput{
		Bodies:    []cad.Body{a.Body},
		Plane:     a.Plane,
		Operation: op,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "mirror failed")
	}
	msg := fmt.Sprintf("Mirrored body '%s' across %s with %s", a.Body.Name(), planeName(a.Plane), op)
	return featureResult(env, msg, f), nil
}

func planeName(e cad.Entity) string {
	if n, ok := e.(cad.Named); ok {
		return n.Name()
	}
	return e.ObjectType()
}
