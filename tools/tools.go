// Package tools holds the agent-callable CAD operations and the registry that
// exposes them.
//
// Each tool is declared with Define, passing its JSON schema and a typed
// handler. The schema is the single source of truth for what the agent sees;
// the handler's argument struct is cross-checked against it when the
// registry is built, so a tool whose required parameters drift from its
// signature never reaches the agent.
package tools

import (
	"context"
	"encoding/json"
	"reflect"

	"go.uber.org/zap"

	"github.com/m4xw311/cadlink/attr"
	"github.com/m4xw311/cadlink/cad"
	"github.com/m4xw311/cadlink/handle"
	"github.com/m4xw311/cadlink/query"
)

// Tool defines the interface for any action the agent can take inside the
// CAD document.
type Tool interface {
	Name() string
	Description() string
	Descriptor() Descriptor
	// Execute runs the tool. Arguments have already been validated and their
	// handles replaced by live entities.
	Execute(ctx context.Context, env *Env, args map[string]any) (any, error)
}

// Env is what a tool runs against.
type Env struct {
	Design  cad.Design
	Handles *handle.Table
	Attrs   *attr.Resolver
	Query   *query.Engine
	Log     *zap.Logger
}

// Spec is the catalogue entry uploaded to the agent for one tool.
type Spec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
	Returns     string          `json:"returns,omitempty"`
}

// Parameter describes one argument of a tool, as read from its Go signature.
type Parameter struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Default    string `json:"default,omitempty"`
	HasDefault bool   `json:"hasDefault"`
	// Entity is set when the argument can hold a live entity, so string
	// handles passed for it are replaced by their entity.
	Entity bool `json:"entity"`
	// EntityOnly is set when a plain string is never acceptable, so an
	// unknown handle is an input error.
	EntityOnly bool `json:"entityOnly"`

	index int
	typ   reflect.Type
}

// Descriptor is the immutable record extracted from one tool.
type Descriptor struct {
	Name       string          `json:"name"`
	Module     string          `json:"module"`
	Parameters []Parameter     `json:"parameters"`
	Schema     json.RawMessage `json:"schema"`
}

// Param returns the named parameter.
func (d Descriptor) Param(name string) (Parameter, bool) {
	for _, p := range d.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

// funcTool is a tool backed by a typed handler.
type funcTool[A any] struct {
	raw    string
	spec   Spec
	params []Parameter
	err    error
	module string
	fn     func(*Env, A) (any, error)
}

// Define declares a tool from its JSON schema and handler. A malformed
// schema is not reported here; the registry logs it and omits the tool.
func Define[A any](schemaJSON string, fn func(*Env, A) (any, error)) Tool {
	t := &funcTool[A]{raw: schemaJSON, fn: fn}
	t.spec, t.err = parseSpec(schemaJSON)
	if t.err == nil {
		t.params, t.err = parameters(reflect.TypeOf((*A)(nil)).Elem())
	}
	return t
}

func (t *funcTool[A]) Name() string        { return t.spec.Name }
func (t *funcTool[A]) Description() string { return t.spec.Description }

func (t *funcTool[A]) Descriptor() Descriptor {
	return Descriptor{
		Name:       t.spec.Name,
		Module:     t.module,
		Parameters: append([]Parameter(nil), t.params...),
		Schema:     json.RawMessage(t.raw),
	}
}

func (t *funcTool[A]) Execute(ctx context.Context, env *Env, args map[string]any) (any, error) {
	if t.err != nil {
		return nil, t.err
	}
	var a A
	if err := bind(&a, t.params, args); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return t.fn(env, a)
}

// buildable is implemented by tools the registry can validate and tag with
// their module.
type buildable interface {
	setModule(string)
	check() error
	toolSpec() Spec
}

func (t *funcTool[A]) setModule(m string) { t.module = m }
func (t *funcTool[A]) toolSpec() Spec     { return t.spec }

func (t *funcTool[A]) check() error {
	if t.err != nil {
		return t.err
	}
	return crossCheck(t.spec, t.params)
}
