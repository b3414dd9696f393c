package tools

import (
	"fmt"

	"github.com/m4xw311/cadlink/cad"
	"github.com/m4xw311/cadlink/errors"
	"github.com/m4xw311/cadlink/handle"
)

func creationTools() []Tool {
	return []Tool{
		Define(extrudeProfilesSchema, extrudeProfiles),
		Define(thinExtrudeCurvesSchema, thinExtrudeCurves),
		Define(revolveProfilesSchema, revolveProfiles),
		Define(pipeAlongPathSchema, pipeAlongPath),
		Define(copyComponentSchema, copyComponent),
		Define(combineBodiesSchema, combineBodies),
		Define(createSketchSchema, createSketch),
	}
}

const extrudeProfilesSchema = `{
  "name": "extrude_profiles",
  "description": "Extrudes one or more sketch profiles by a distance in cm, with optional start offset and taper angle in degrees. The feature is created in the component that owns the first profile.",
  "parameters": {
    "type": "object",
    "properties": {
      "profile_entity_tokens": {"type": "array", "items": {"type": "string"}, "minItems": 1, "description": "Profile handles or object collection handles."},
      "extrude_distance": {"type": "number", "description": "Distance in cm; negative extrudes the other way."},
      "operation_type": {"type": "string", "description": "One of JoinFeatureOperation, CutFeatureOperation, IntersectFeatureOperation, NewBodyFeatureOperation, NewComponentFeatureOperation."},
      "start_offset": {"type": "number", "description": "Offset of the start plane in cm."},
      "taper_angle": {"type": "number", "description": "Taper in degrees."}
    },
    "required": ["profile_entity_tokens", "extrude_distance", "operation_type"],
    "additionalProperties": false
  },
  "returns": "Results message, New BRepBodies handles and the Feature handle"
}`

type extrudeProfilesArgs struct {
	Profiles    []cad.Entity `json:"profile_entity_tokens"`
	Distance    float64      `json:"extrude_distance"`
	Operation   string       `json:"operation_type"`
	StartOffset float64      `json:"start_offset" default:"0"`
	TaperAngle  float64      `json:"taper_angle" default:"0"`
}

func extrudeProfiles(env *Env, a extrudeProfilesArgs) (any, error) {
	op, err := cad.ParseFeatureOperation(a.Operation)
	if err != nil {
		return nil, err
	}
	profiles := flatten(a.Profiles)
	if _, err := as[cad.Profile]("profile_entity_tokens", profiles); err != nil {
		return nil, err
	}
	comp, err := targetComponent(nil, profiles)
	if err != nil {
		return nil, err
	}
	f, err := comp.Features().Extrude(cad.ExtrudeInput{
		Profiles:    profiles,
		Distance:    a.Distance,
		StartOffset: a.StartOffset,
		TaperAngle:  a.TaperAngle,
		Operation:   op,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "extrude failed")
	}
	msg := fmt.Sprintf("Extruded %s by %g cm with %s in %s", plural(len(profiles), "profile"), a.Distance, op, comp.Name())
	return featureResult(env, msg, f), nil
}

const thinExtrudeCurvesSchema = `{
  "name": "thin_extrude_curves",
  "description": "Thin-extrudes open or closed sketch curves into walls of the given thickness. wall_location places the wall on side1, side2 or centered on the curves.",
  "parameters": {
    "type": "object",
    "properties": {
      "curve_entity_tokens": {"type": "array", "items": {"type": "string"}, "minItems": 1},
      "extrude_distance": {"type": "number"},
      "wall_thickness": {"type": "number", "exclusiveMinimum": 0},
      "operation_type": {"type": "string"},
      "wall_location": {"type": "string", "enum": ["side1", "side2", "center"]}
    },
    "required": ["curve_entity_tokens", "extrude_distance", "wall_thickness", "operation_type"],
    "additionalProperties": false
  },
  "returns": "Results message, New BRepBodies handles and the Feature handle"
}`

type thinExtrudeCurvesArgs struct {
	Curves        []cad.Entity `json:"curve_entity_tokens"`
	Distance      float64      `json:"extrude_distance"`
	WallThickness float64      `json:"wall_thickness"`
	Operation     string       `json:"operation_type"`
	WallLocation  string       `json:"wall_location" default:"side1"`
}

func thinExtrudeCurves(env *Env, a thinExtrudeCurvesArgs) (any, error) {
	op, err := cad.ParseFeatureOperation(a.Operation)
	if err != nil {
		return nil, err
	}
	loc, err := cad.ParseWallLocation(a.WallLocation)
	if err != nil {
		return nil, err
	}
	curves := flatten(a.Curves)
	if _, err := as[cad.SketchCurve]("curve_entity_tokens", curves); err != nil {
		return nil, err
	}
	comp, err := targetComponent(nil, curves)
	if err != nil {
		return nil, err
	}
	f, err := comp.Features().Extrude(cad.ExtrudeInput{
		Profiles:      curves,
		Distance:      a.Distance,
		Operation:     op,
		Thin:          true,
		WallLocation:  loc,
		WallThickness: a.WallThickness,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "thin extrude failed")
	}
	msg := fmt.Sprintf("Thin-extruded %s by %g cm, wall %g cm on %s", plural(len(curves), "curve"), a.Distance, a.WallThickness, loc)
	return featureResult(env, msg, f), nil
}

const revolveProfilesSchema = `{
  "name": "revolve_profiles",
  "description": "Revolves profiles about an axis entity (construction axis, sketch line or linear edge) by an angle in degrees.",
  "parameters": {
    "type": "object",
    "properties": {
      "profile_entity_tokens": {"type": "array", "items": {"type": "string"}, "minItems": 1},
      "axis_entity_token": {"type": "string"},
      "operation_type": {"type": "string"},
      "angle": {"type": "number", "description": "Degrees, may be negative. Defaults to a full turn."}
    },
    "required": ["profile_entity_tokens", "axis_entity_token", "operation_type"],
    "additionalProperties": false
  },
  "returns": "Results message, New BRepBodies handles and the Feature handle"
}`

type revolveProfilesArgs struct {
	Profiles  []cad.Entity `json:"profile_entity_tokens"`
	Axis      cad.Entity   `json:"axis_entity_token"`
	Operation string       `json:"operation_type"`
	Angle     float64      `json:"angle" default:"360"`
}

func revolveProfiles(env *Env, a revolveProfilesArgs) (any, error) {
	op, err := cad.ParseFeatureOperation(a.Operation)
	if err != nil {
		return nil, err
	}
	profiles, err := as[cad.Profile]("profile_entity_tokens", flatten(a.Profiles))
	if err != nil {
		return nil, err
	}
	comp, err := owner(profiles[0])
	if err != nil {
		return nil, err
	}
	f, err := comp.Features().Revolve(cad.RevolveInput{
		Profiles:  profiles,
		Axis:      a.Axis,
		Angle:     a.Angle,
		Operation: op,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "revolve failed")
	}
	msg := fmt.Sprintf("Revolved %s by %g degrees about %s", plural(len(profiles), "profile"), a.Angle, a.Axis.ObjectType())
	return featureResult(env, msg, f), nil
}

const pipeAlongPathSchema = `{
  "name": "pipe_along_path",
  "description": "Sweeps a circular section of the given diameter in cm along connected sketch curves. hollow with wall_thickness makes a tube.",
  "parameters": {
    "type": "object",
    "properties": {
      "path_entity_tokens": {"type": "array", "items": {"type": "string"}, "minItems": 1},
      "section_size": {"type": "number", "exclusiveMinimum": 0},
      "operation_type": {"type": "string"},
      "hollow": {"type": "boolean"},
      "wall_thickness": {"type": "number", "minimum": 0}
    },
    "required": ["path_entity_tokens", "section_size", "operation_type"],
    "additionalProperties": false
  },
  "returns": "Results message, New BRepBodies handles and the Feature handle"
}`

type pipeAlongPathArgs struct {
	Path          []cad.Entity `json:"path_entity_tokens"`
	SectionSize   float64      `json:"section_size"`
	Operation     string       `json:"operation_type"`
	Hollow        bool         `json:"hollow" default:"false"`
	WallThickness float64      `json:"wall_thickness" default:"0"`
}

func pipeAlongPath(env *Env, a pipeAlongPathArgs) (any, error) {
	op, err := cad.ParseFeatureOperation(a.Operation)
	if err != nil {
		return nil, err
	}
	path, err := as[cad.SketchCurve]("path_entity_tokens", flatten(a.Path))
	if err != nil {
		return nil, err
	}
	if a.Hollow && a.WallThickness <= 0 {
		return nil, errors.New("hollow pipes need a positive wall_thickness")
	}
	comp, err := owner(path[0])
	if err != nil {
		return nil, err
	}
	f, err := comp.Features().Pipe(cad.PipeInput{
		Path:          path,
		SectionSize:   a.SectionSize,
		Hollow:        a.Hollow,
		WallThickness: a.WallThickness,
		Operation:     op,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "pipe failed")
	}
	msg := fmt.Sprintf("Piped a %g cm section along %s", a.SectionSize, plural(len(path), "curve"))
	return featureResult(env, msg, f), nil
}

const copyComponentSchema = `{
  "name": "copy_component",
  "description": "Places a copy of a component (or of an occurrence's component) under a target component. independent=true creates a brand-new component; false adds another occurrence referencing the same component.",
  "parameters": {
    "type": "object",
    "properties": {
      "source_entity_token": {"type": "string"},
      "target_component_entity_token": {"type": ["string", "null"], "description": "Defaults to the root component."},
      "independent": {"type": "boolean"},
      "position": {"type": ["array", "null"], "items": {"type": "number"}, "minItems": 3, "maxItems": 3}
    },
    "required": ["source_entity_token"],
    "additionalProperties": false
  },
  "returns": "Results message with the new Occurrence and Component handles"
}`

type copyComponentArgs struct {
	Source      cad.Entity `json:"source_entity_token"`
	Target      cad.Entity `json:"target_component_entity_token" default:"null"`
	Independent bool       `json:"independent" default:"true"`
	Position    []float64  `json:"position" default:"null"`
}

func copyComponent(env *Env, a copyComponentArgs) (any, error) {
	src, err := owner(a.Source)
	if err != nil {
		return nil, err
	}
	target := env.Design.RootComponent()
	if a.Target != nil {
		if target, err = owner(a.Target); err != nil {
			return nil, err
		}
	}
	transform := cad.Identity()
	if a.Position != nil {
		pos, err := vector("position", a.Position)
		if err != nil {
			return nil, err
		}
		transform.SetTranslation(pos)
	}
	occ, err := target.AddOccurrence(src, transform, a.Independent)
	if err != nil {
		return nil, errors.Wrapf(err, "copying %s", src.Name())
	}
	kind := "reference"
	if a.Independent {
		kind = "independent"
	}
	return map[string]any{
		"Results":    fmt.Sprintf("Created %s copy %s of %s in %s", kind, occ.Name(), src.Name(), target.Name()),
		"Occurrence": env.Handles.Intern(occ),
		"Component":  env.Handles.Intern(occ.Component()),
	}, nil
}

const combineBodiesSchema = `{
  "name": "combine_bodies",
  "description": "Combines tool bodies into a target body. Tool bodies are consumed unless keep_tools is true.",
  "parameters": {
    "type": "object",
    "properties": {
      "target_body_entity_token": {"type": "string"},
      "tool_body_entity_tokens": {"type": "array", "items": {"type": "string"}, "minItems": 1},
      "operation_type": {"type": "string", "description": "JoinFeatureOperation, CutFeatureOperation or IntersectFeatureOperation."},
      "keep_tools": {"type": "boolean"}
    },
    "required": ["target_body_entity_token", "tool_body_entity_tokens"],
    "additionalProperties": false
  },
  "returns": "Results message, New BRepBodies handles and the Feature handle"
}`

type combineBodiesArgs struct {
	Target    cad.Body   `json:"target_body_entity_token"`
	Tools     []cad.Body `json:"tool_body_entity_tokens"`
	Operation string     `json:"operation_type" default:"JoinFeatureOperation"`
	KeepTools bool       `json:"keep_tools" default:"false"`
}

func combineBodies(env *Env, a combineBodiesArgs) (any, error) {
	op, err := cad.ParseFeatureOperation(a.Operation)
	if err != nil {
		return nil, err
	}
	f, err := a.Target.ParentComponent().Features().Combine(cad.CombineInput{
		Target:    a.Target,
		Tools:     a.Tools,
		Operation: op,
		KeepTools: a.KeepTools,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "combine failed")
	}
	msg := fmt.Sprintf("Combined %s into %s with %s", plural(len(a.Tools), "body"), a.Target.Name(), op)
	return featureResult(env, msg, f), nil
}

const createSketchSchema = `{
  "name": "create_sketch",
  "description": "Creates a sketch on a construction plane and draws rectangles [x1,y1,x2,y2], circles [cx,cy,r] and lines [x1,y1,x2,y2] in cm. Closed shapes become profiles for extrude and revolve.",
  "parameters": {
    "type": "object",
    "properties": {
      "plane_entity_token": {"type": "string"},
      "component_entity_token": {"type": ["string", "null"], "description": "Defaults to the component owning the plane."},
      "rectangles": {"type": ["array", "null"], "items": {"type": "array", "items": {"type": "number"}, "minItems": 4, "maxItems": 4}},
      "circles": {"type": ["array", "null"], "items": {"type": "array", "items": {"type": "number"}, "minItems": 3, "maxItems": 3}},
      "lines": {"type": ["array", "null"], "items": {"type": "array", "items": {"type": "number"}, "minItems": 4, "maxItems": 4}}
    },
    "required": ["plane_entity_token"],
    "additionalProperties": false
  },
  "returns": "Sketch, Profiles and SketchCurves handles"
}`

type createSketchArgs struct {
	Plane      cad.Entity  `json:"plane_entity_token"`
	Component  cad.Entity  `json:"component_entity_token" default:"null"`
	Rectangles [][]float64 `json:"rectangles" default:"null"`
	Circles    [][]float64 `json:"circles" default:"null"`
	Lines      [][]float64 `json:"lines" default:"null"`
}

func createSketch(env *Env, a createSketchArgs) (any, error) {
	comp, err := targetComponent(a.Component, []cad.Entity{a.Plane})
	if err != nil {
		return nil, err
	}
	sk, err := comp.AddSketch(a.Plane)
	if err != nil {
		return nil, errors.Wrapf(err, "creating sketch")
	}
	for i, r := range a.Rectangles {
		if len(r) != 4 {
			return nil, errors.New("rectangles[%d] needs 4 numbers", i)
		}
		if _, err := sk.AddRectangle(cad.Point2D{X: r[0], Y: r[1]}, cad.Point2D{X: r[2], Y: r[3]}); err != nil {
			return nil, errors.Wrapf(err, "rectangles[%d]", i)
		}
	}
	for i, c := range a.Circles {
		if len(c) != 3 {
			return nil, errors.New("circles[%d] needs 3 numbers", i)
		}
		if _, err := sk.AddCircle(cad.Point2D{X: c[0], Y: c[1]}, c[2]); err != nil {
			return nil, errors.Wrapf(err, "circles[%d]", i)
		}
	}
	for i, l := range a.Lines {
		if len(l) != 4 {
			return nil, errors.New("lines[%d] needs 4 numbers", i)
		}
		if _, err := sk.AddLine(cad.Point2D{X: l[0], Y: l[1]}, cad.Point2D{X: l[2], Y: l[3]}); err != nil {
			return nil, errors.Wrapf(err, "lines[%d]", i)
		}
	}
	return map[string]any{
		"Results":      fmt.Sprintf("Created %s in %s", sk.Name(), comp.Name()),
		"Sketch":       env.Handles.Intern(sk),
		"Profiles":     handle.InternMany(env.Handles, sk.Profiles()),
		"SketchCurves": handle.InternMany(env.Handles, sk.SketchCurves()),
	}, nil
}
