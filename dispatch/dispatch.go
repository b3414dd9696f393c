// Package dispatch turns an agent tool call into a host operation and its
// JSON result. Every failure comes back as {"error": ...} output so the
// agent can correct itself.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/m4xw311/cadlink/cad"
	"github.com/m4xw311/cadlink/errors"
	"github.com/m4xw311/cadlink/metrics"
	"github.com/m4xw311/cadlink/tools"
)

// ErrNoEntity is returned when an entity parameter names an unknown or dead
// handle.
var ErrNoEntity = errors.Sentinel("no entity for handle")

// Call is one tool invocation requested by the agent.
type Call struct {
	ID        string `json:"tool_call_id"`
	Name      string `json:"function_name"`
	Arguments string `json:"function_args"`
}

// Result is the output of one call. Err repeats the error message when the
// call failed; Output always holds valid JSON.
type Result struct {
	ID     string `json:"tool_call_id"`
	Name   string `json:"function_name"`
	Output string `json:"output"`
	Err    string `json:"error,omitempty"`
}

// Echo receives every call with its result, in call order.
type Echo func(Call, Result)

// Dispatcher executes tool calls against one environment.
type Dispatcher struct {
	registry *tools.Registry
	env      *tools.Env
	echo     Echo
	log      *zap.Logger
	metrics  *metrics.Metrics
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

func WithEcho(e Echo) Option {
	return func(d *Dispatcher) { d.echo = e }
}

func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// New creates a dispatcher.
func New(reg *tools.Registry, env *tools.Env, opts ...Option) *Dispatcher {
	d := &Dispatcher{registry: reg, env: env, log: zap.NewNop()}
	for _, o := range opts {
		o(d)
	}
	return d
}

// CallAll executes calls strictly in order.
func (d *Dispatcher) CallAll(ctx context.Context, calls []Call) []Result {
	out := make([]Result, 0, len(calls))
	for _, c := range calls {
		out = append(out, d.Call(ctx, c))
	}
	return out
}

// Call executes one tool call. It never panics.
func (d *Dispatcher) Call(ctx context.Context, c Call) Result {
	start := time.Now()
	value, err := d.invoke(ctx, c)
	res := Result{ID: c.ID, Name: c.Name}
	status := "ok"
	if err != nil {
		status = "error"
		res.Err = errors.Message(err)
		res.Output = errorJSON(res.Err)
	} else {
		b, merr := json.Marshal(Shape(d.env, value))
		if merr != nil {
			status = "error"
			res.Err = fmt.Sprintf("result is not serialisable: %v", merr)
			res.Output = errorJSON(res.Err)
		} else {
			res.Output = string(b)
		}
	}
	elapsed := time.Since(start)
	d.metrics.ToolCall(c.Name, status, elapsed)
	d.log.Debug("tool call",
		zap.String("tool", c.Name),
		zap.String("id", c.ID),
		zap.String("status", status),
		zap.Duration("elapsed", elapsed))
	if d.echo != nil {
		d.echo(c, res)
	}
	return res
}

func (d *Dispatcher) invoke(ctx context.Context, c Call) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("tool panicked",
				zap.String("tool", c.Name),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			value, err = nil, fmt.Errorf("%s failed: %v", c.Name, r)
		}
	}()
	fixed, err := Repair(c.Arguments)
	if err != nil {
		return nil, err
	}
	args := map[string]any{}
	if err := json.Unmarshal([]byte(fixed), &args); err != nil {
		return nil, fmt.Errorf("%w: arguments must be a JSON object", ErrUnrepairable)
	}

	tool, ok := d.registry.Resolve(c.Name)
	if !ok {
		return nil, fmt.Errorf("unknown tool '%s'", c.Name)
	}
	if schema, ok := d.registry.ParametersSchema(c.Name); ok {
		if err := schema.Validate(args); err != nil {
			return nil, fmt.Errorf("invalid arguments for %s: %v", c.Name, err)
		}
	}
	if err := d.substitute(tool.Descriptor(), args); err != nil {
		return nil, err
	}

	return tool.Execute(ctx, d.env, args)
}

// substitute replaces handle strings by live entities for entity parameters.
func (d *Dispatcher) substitute(desc tools.Descriptor, args map[string]any) error {
	for _, p := range desc.Parameters {
		if !p.Entity {
			continue
		}
		v, ok := args[p.Name]
		if !ok || v == nil {
			continue
		}
		switch x := v.(type) {
		case string:
			e, err := d.resolve(p, x)
			if err != nil {
				return err
			}
			args[p.Name] = e
		case []any:
			for i, item := range x {
				s, isStr := item.(string)
				if !isStr {
					continue
				}
				e, err := d.resolve(p, s)
				if err != nil {
					return fmt.Errorf("%s[%d]: %w", p.Name, i, err)
				}
				x[i] = e
			}
		}
	}
	return nil
}

func (d *Dispatcher) resolve(p tools.Parameter, h string) (any, error) {
	if e, ok := d.env.Handles.Lookup(h); ok {
		return e, nil
	}
	if p.EntityOnly {
		if d.env.Handles.Known(h) {
			return nil, fmt.Errorf("%w '%s': the entity was deleted or rolled back", ErrNoEntity, h)
		}
		return nil, fmt.Errorf("%w '%s'", ErrNoEntity, h)
	}
	return h, nil
}

func errorJSON(msg string) string {
	b, _ := json.Marshal(map[string]string{"error": msg})
	return string(b)
}

type (
	lengthy interface{ Length() float64 }
	areal   interface{ Area() float64 }
	volumed interface{ Volume() float64 }
)

// Shape converts a tool result to a JSON-ready value: entities become
// snapshots carrying their handle, containers are shaped recursively.
func Shape(env *tools.Env, v any) any {
	switch x := v.(type) {
	case nil, string, bool, float64, float32, int, int64, int32, json.RawMessage:
		return v
	case error:
		return map[string]any{"error": x.Error()}
	case cad.Entity:
		return snapshot(env, x)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = Shape(env, item)
		}
		return out
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() != reflect.Interface && !rv.Type().Elem().Implements(entityType) {
			return v
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = Shape(env, rv.Index(i).Interface())
		}
		return out
	}
	return v
}

var entityType = reflect.TypeOf((*cad.Entity)(nil)).Elem()

func snapshot(env *tools.Env, e cad.Entity) map[string]any {
	s := map[string]any{"objectType": e.ObjectType()}
	if env != nil && env.Handles != nil {
		s["entityToken"] = env.Handles.Intern(e)
	}
	if !cad.Alive(e) {
		s["isValid"] = false
		return s
	}
	if n, ok := e.(cad.Named); ok {
		s["name"] = n.Name()
	}
	if l, ok := e.(lengthy); ok {
		s["length"] = l.Length()
	}
	if a, ok := e.(areal); ok {
		s["area"] = a.Area()
	}
	if vol, ok := e.(volumed); ok {
		s["volume"] = vol.Volume()
	}
	return s
}
