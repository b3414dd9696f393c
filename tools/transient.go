package tools

import (
	"github.com/m4xw311/cadlink/cad"
	"github.com/m4xw311/cadlink/errors"
	"github.com/m4xw311/cadlink/handle"
)

func transientTools() []Tool {
	return []Tool{
		Define(createPoint3DListSchema, createPoint3DList),
		Define(createPoint2DListSchema, createPoint2DList),
		Define(createVector3DListSchema, createVector3DList),
		Define(createMatrixListSchema, createMatrixList),
		Define(createObjectCollectionSchema, createObjectCollection),
	}
}

const createPoint3DListSchema = `{
  "name": "create_point3d_list",
  "description": "Creates 3-D points from [x, y, z] triples in cm and returns one handle per point.",
  "parameters": {
    "type": "object",
    "properties": {
      "points": {"type": "array", "items": {"type": "array", "items": {"type": "number"}, "minItems": 3, "maxItems": 3}, "minItems": 1}
    },
    "required": ["points"],
    "additionalProperties": false
  },
  "returns": "list of Point3D handles"
}`

type pointsArgs struct {
	Points [][]float64 `json:"points"`
}

func createPoint3DList(env *Env, a pointsArgs) (any, error) {
	out := make([]cad.Point3D, 0, len(a.Points))
	for i, p := range a.Points {
		if len(p) != 3 {
			return nil, errors.New("points[%d] needs 3 numbers, got %d", i, len(p))
		}
		out = append(out, cad.Point3D{X: p[0], Y: p[1], Z: p[2]})
	}
	return handle.InternMany(env.Handles, out), nil
}

const createPoint2DListSchema = `{
  "name": "create_point2d_list",
  "description": "Creates sketch-space points from [x, y] pairs in cm and returns one handle per point.",
  "parameters": {
    "type": "object",
    "properties": {
      "points": {"type": "array", "items": {"type": "array", "items": {"type": "number"}, "minItems": 2, "maxItems": 2}, "minItems": 1}
    },
    "required": ["points"],
    "additionalProperties": false
  },
  "returns": "list of Point2D handles"
}`

func createPoint2DList(env *Env, a pointsArgs) (any, error) {
	out := make([]cad.Point2D, 0, len(a.Points))
	for i, p := range a.Points {
		if len(p) != 2 {
			return nil, errors.New("points[%d] needs 2 numbers, got %d", i, len(p))
		}
		out = append(out, cad.Point2D{X: p[0], Y: p[1]})
	}
	return handle.InternMany(env.Handles, out), nil
}

const createVector3DListSchema = `{
  "name": "create_vector3d_list",
  "description": "Creates 3-D vectors from [x, y, z] triples and returns one handle per vector.",
  "parameters": {
    "type": "object",
    "properties": {
      "vectors": {"type": "array", "items": {"type": "array", "items": {"type": "number"}, "minItems": 3, "maxItems": 3}, "minItems": 1}
    },
    "required": ["vectors"],
    "additionalProperties": false
  },
  "returns": "list of Vector3D handles"
}`

type vectorsArgs struct {
	Vectors [][]float64 `json:"vectors"`
}

func createVector3DList(env *Env, a vectorsArgs) (any, error) {
	out := make([]cad.Vector3D, 0, len(a.Vectors))
	for i, v := range a.Vectors {
		vec, err := vector("vectors", v)
		if err != nil {
			return nil, errors.Wrapf(err, "vectors[%d]", i)
		}
		out = append(out, vec)
	}
	return handle.InternMany(env.Handles, out), nil
}

const createMatrixListSchema = `{
  "name": "create_matrix_list",
  "description": "Creates transformation matrices from row-major lists of 9 (2-D homogeneous) or 16 (3-D homogeneous) numbers and returns one handle per matrix.",
  "parameters": {
    "type": "object",
    "properties": {
      "matrices": {"type": "array", "items": {"type": "array", "items": {"type": "number"}}, "minItems": 1}
    },
    "required": ["matrices"],
    "additionalProperties": false
  },
  "returns": "list of Matrix3D handles"
}`

type matricesArgs struct {
	Matrices [][]float64 `json:"matrices"`
}

func createMatrixList(env *Env, a matricesArgs) (any, error) {
	out := make([]cad.Matrix3D, 0, len(a.Matrices))
	for i, m := range a.Matrices {
		mat, err := cad.MatrixFromRowMajor(m)
		if err != nil {
			return nil, errors.Wrapf(err, "matrices[%d]", i)
		}
		out = append(out, mat)
	}
	return handle.InternMany(env.Handles, out), nil
}

const createObjectCollectionSchema = `{
  "name": "create_object_collection",
  "description": "Groups entities into one object collection handle, accepted wherever a list of entities is.",
  "parameters": {
    "type": "object",
    "properties": {
      "entity_tokens": {"type": "array", "items": {"type": "string"}}
    },
    "required": ["entity_tokens"],
    "additionalProperties": false
  },
  "returns": "ObjectCollection handle"
}`

type objectCollectionArgs struct {
	Entities []cad.Entity `json:"entity_tokens"`
}

func createObjectCollection(env *Env, a objectCollectionArgs) (any, error) {
	return env.Handles.Intern(cad.NewObjectCollection(a.Entities...)), nil
}
