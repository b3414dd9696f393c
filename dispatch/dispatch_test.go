package dispatch

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/m4xw311/cadlink/attr"
	"github.com/m4xw311/cadlink/cad/memcad"
	"github.com/m4xw311/cadlink/errors"
	"github.com/m4xw311/cadlink/handle"
	"github.com/m4xw311/cadlink/query"
	"github.com/m4xw311/cadlink/tools"
)

func TestRepair(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "valid unchanged", in: `{"a": [1, 2]}`, want: `{"a": [1, 2]}`},
		{name: "empty", in: "  ", want: "{}"},
		{name: "trailing commas", in: `{"a": [1, 2,], }`, want: `{"a": [1, 2]}`},
		{name: "missing closer", in: `{"a": {"b": 1}`, want: `{"a": {"b": 1}}`},
		{name: "stray closer", in: `{"a": 1}}`, want: `{"a": 1}`},
		{name: "bare members", in: `"a": 1, "b": "x"`, want: `{"a": 1, "b": "x"}`},
		{name: "commas before closers in strings", in: `{"q": "a,}", "r": "b, ]", "n": [1,],}`, want: `{"q": "a,}", "r": "b, ]", "n": [1]}`},
		{name: "escaped quote before comma", in: `{"q": "say \"x,}\"", }`, want: `{"q": "say \"x,}\""}`},
		{name: "brackets in strings", in: `{"q": "SELECT } FROM ["`, want: `{"q": "SELECT } FROM ["}`},
		{name: "hopeless", in: `{"a": {"b": [`, wantErr: true},
		{name: "mismatched", in: `{"a": [1}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Repair(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrUnrepairable) {
					t.Fatalf("expected ErrUnrepairable, got %q, %v", got, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			var gotV, wantV any
			if err := json.Unmarshal([]byte(got), &gotV); err != nil {
				t.Fatalf("repaired JSON %q does not parse: %v", got, err)
			}
			_ = json.Unmarshal([]byte(tt.want), &wantV)
			if !reflect.DeepEqual(gotV, wantV) {
				t.Errorf("Repair(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func newDispatcher(t *testing.T, opts ...Option) (*Dispatcher, *memcad.Design, *tools.Env) {
	t.Helper()
	d := memcad.NewSampleDesign()
	h := handle.New()
	env := &tools.Env{Design: d, Handles: h, Attrs: attr.New(h), Query: query.NewEngine(d, h)}
	return New(tools.NewRegistry(tools.DefaultModules()), env, opts...), d, env
}

func decode(t *testing.T, r Result) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal([]byte(r.Output), &out); err != nil {
		t.Fatalf("output %q is not a JSON object: %v", r.Output, err)
	}
	return out
}

func TestUnknownTool(t *testing.T) {
	disp, _, _ := newDispatcher(t)
	res := disp.Call(context.Background(), Call{ID: "c1", Name: "explode_everything", Arguments: "{}"})
	if res.Output != `{"error":"unknown tool 'explode_everything'"}` {
		t.Errorf("unexpected output %s", res.Output)
	}
	if res.ID != "c1" {
		t.Errorf("id not carried over")
	}
}

func TestSchemaAndRepairErrors(t *testing.T) {
	disp, _, _ := newDispatcher(t)
	tests := []struct {
		name, args, want string
	}{
		{"missing required", `{"extrude_distance": 1}`, "invalid arguments for extrude_profiles"},
		{"extra property", `{"profile_entity_tokens": ["x"], "extrude_distance": 1, "operation_type": "JoinFeatureOperation", "colour": 1}`, "invalid arguments"},
		{"unrepairable", `{"profile_entity_tokens": [`, "could not repair JSON arguments"},
		{"unknown handle", `{"profile_entity_tokens": ["zzzzz"], "extrude_distance": 1, "operation_type": "JoinFeatureOperation"}`, "no entity for handle 'zzzzz'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := disp.Call(context.Background(), Call{Name: "extrude_profiles", Arguments: tt.args})
			msg, _ := decode(t, res)["error"].(string)
			if !strings.Contains(msg, tt.want) {
				t.Errorf("error %q does not contain %q", msg, tt.want)
			}
		})
	}
}

func TestHandlesAreSubstituted(t *testing.T) {
	disp, d, env := newDispatcher(t)
	profiles := handle.InternMany(env.Handles, d.Root().Sketches()[0].Profiles())
	args, _ := json.Marshal(map[string]any{
		"profile_entity_tokens": profiles,
		"extrude_distance":      1.0,
		"operation_type":        "JoinFeatureOperation",
	})
	res := disp.Call(context.Background(), Call{Name: "extrude_profiles", Arguments: string(args)})
	if res.Err != "" {
		t.Fatalf("call failed: %s", res.Err)
	}
	out := decode(t, res)
	bodies, _ := out["New BRepBodies"].([]any)
	if len(bodies) != 1 {
		t.Fatalf("expected one body handle, got %v", out)
	}
	if _, live := env.Handles.Lookup(bodies[0].(string)); !live {
		t.Errorf("returned handle is not live")
	}
}

func TestBadOperationIsRecoverable(t *testing.T) {
	disp, d, env := newDispatcher(t)
	p := env.Handles.Intern(d.Root().Sketches()[0].Profiles()[0])
	before := d.Timeline().Count()
	res := disp.Call(context.Background(), Call{
		Name:      "extrude_profiles",
		Arguments: `{"profile_entity_tokens": ["` + p + `"], "extrude_distance": 1, "operation_type": "CutFeature"}`,
	})
	msg, _ := decode(t, res)["error"].(string)
	if !strings.Contains(msg, "CutFeature") || !strings.Contains(msg, "NewComponentFeatureOperation") {
		t.Errorf("unexpected error %q", msg)
	}
	if d.Timeline().Count() != before {
		t.Errorf("timeline changed")
	}
}

func TestErrorTextHasNoLocation(t *testing.T) {
	disp, d, env := newDispatcher(t)
	p := env.Handles.Intern(d.Root().Sketches()[0].Profiles()[0])
	tests := []struct {
		name, tool, args, want string
	}{
		{"tool error", "extrude_profiles", `{"profile_entity_tokens": ["` + p + `"], "extrude_distance": 0, "operation_type": "JoinFeatureOperation"}`, "extrude failed: extrude distance cannot be zero"},
		{"bind error", "pipe_along_path", `{"path_entity_tokens": ["zzzzz"], "section_size": 1, "operation_type": "JoinFeatureOperation"}`, "path_entity_tokens[0]: no entity for handle 'zzzzz'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := disp.Call(context.Background(), Call{Name: tt.tool, Arguments: tt.args})
			if !strings.HasPrefix(res.Err, tt.want) {
				t.Errorf("error %q, want %q", res.Err, tt.want)
			}
			if strings.Contains(res.Output, ".go:") {
				t.Errorf("output carries a source location: %s", res.Output)
			}
		})
	}

	res := disp.Call(context.Background(), Call{Name: "run_sql_query", Arguments: `{"query": "UPDATE Component SET name"}`})
	parse, _ := decode(t, res)["errors"].(map[string]any)["parse"].(string)
	if parse == "" || strings.Contains(parse, ".go:") {
		t.Errorf("parse error %q", parse)
	}
}

func TestSetAttributeValueHandles(t *testing.T) {
	disp, d, env := newDispatcher(t)
	body := d.ComponentByName("Gear Housing").Bodies()[0]
	bh := env.Handles.Intern(body)
	steel := env.Handles.Intern(d.Appearances()[0])

	call := func(path, value string) Result {
		args, _ := json.Marshal(map[string]any{"entity_tokens": []string{bh}, "attribute_path": path, "value": value})
		return disp.Call(context.Background(), Call{Name: "set_entity_attributes", Arguments: string(args)})
	}
	if res := call("name", steel); res.Err != "" || body.Name() != steel {
		t.Errorf("name should take the handle text: name=%q err=%s", body.Name(), res.Err)
	}
	if res := call("appearance", steel); res.Err != "" {
		t.Fatalf("set appearance: %s", res.Err)
	}
	if a := body.Appearance(); a == nil || a.Name() != "Steel" {
		t.Errorf("appearance = %v", a)
	}
}

func TestRevolveBindsAxisHandle(t *testing.T) {
	disp, d, env := newDispatcher(t)
	profile := env.Handles.Intern(d.Root().Sketches()[0].Profiles()[0])
	axis := env.Handles.Intern(d.Root().Axis("Y"))
	tests := []struct {
		name, axis, want string
	}{
		{"construction axis", axis, ""},
		{"dead handle", "zzzzz", "no entity for handle 'zzzzz'"},
		{"profile as axis", profile, "revolve axis must be"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args, _ := json.Marshal(map[string]any{
				"profile_entity_tokens": []string{profile},
				"axis_entity_token":     tt.axis,
				"operation_type":        "NewBodyFeatureOperation",
				"angle":                 90,
			})
			res := disp.Call(context.Background(), Call{Name: "revolve_profiles", Arguments: string(args)})
			if tt.want == "" {
				if res.Err != "" {
					t.Fatalf("revolve failed: %s", res.Err)
				}
				if msg, _ := decode(t, res)["Results"].(string); !strings.Contains(msg, "by 90 degrees about ConstructionAxis") {
					t.Errorf("unexpected Results %q", msg)
				}
				return
			}
			if !strings.Contains(res.Err, tt.want) {
				t.Errorf("error %q does not contain %q", res.Err, tt.want)
			}
		})
	}
}

func TestDeletedEntityHandle(t *testing.T) {
	disp, d, env := newDispatcher(t)
	body := d.ComponentByName("Gear Housing").Bodies()[0]
	h := env.Handles.Intern(body)
	res := disp.Call(context.Background(), Call{
		Name:      "call_entity_method",
		Arguments: `{"entity_token": "` + h + `", "method_path": "deleteMe"}`,
	})
	if res.Err != "" {
		t.Fatalf("deleteMe failed: %s", res.Err)
	}
	res = disp.Call(context.Background(), Call{
		Name:      "describe_object",
		Arguments: `{"entity_token": "` + h + `"}`,
	})
	msg, _ := decode(t, res)["error"].(string)
	if !strings.Contains(msg, "no entity for handle") || !strings.Contains(msg, "deleted") {
		t.Errorf("unexpected error %q", msg)
	}
}

type boomArgs struct{}

func TestPanicIsContained(t *testing.T) {
	_, _, env := newDispatcher(t)
	mod := tools.Module{Name: "test", Tools: func() []tools.Tool {
		return []tools.Tool{tools.Define(
			`{"name": "boom", "description": "Panics.", "parameters": {"type": "object", "properties": {}}}`,
			func(*tools.Env, boomArgs) (any, error) { panic("kaboom") },
		)}
	}}
	disp := New(tools.NewRegistry([]tools.Module{mod}), env)
	res := disp.Call(context.Background(), Call{Name: "boom"})
	if !strings.Contains(res.Err, "kaboom") {
		t.Errorf("panic not reported: %+v", res)
	}
}

func TestEchoOrderAndShape(t *testing.T) {
	var seen []string
	disp, d, env := newDispatcher(t, WithEcho(func(c Call, r Result) { seen = append(seen, c.ID) }))
	calls := []Call{
		{ID: "a", Name: "list_timeline"},
		{ID: "b", Name: "run_sql_query", Arguments: `{"query": "SELECT name FROM Component"}`},
		{ID: "c", Name: "nope"},
	}
	results := disp.CallAll(context.Background(), calls)
	if len(results) != 3 || strings.Join(seen, "") != "abc" {
		t.Fatalf("calls out of order: %v", seen)
	}
	for i, r := range results {
		if r.ID != calls[i].ID {
			t.Errorf("result %d has id %s", i, r.ID)
		}
	}

	body := d.ComponentByName("Gear Housing").Bodies()[0]
	snap, ok := Shape(env, []any{body, 2.0}).([]any)
	if !ok || len(snap) != 2 {
		t.Fatalf("unexpected shape %v", snap)
	}
	m := snap[0].(map[string]any)
	if m["name"] != "Body1" || m["volume"] != 8.0 || m["objectType"] != "BRepBody" {
		t.Errorf("unexpected snapshot %v", m)
	}
	if h, _ := m["entityToken"].(string); len(h) != handle.DefaultLength {
		t.Errorf("snapshot handle %q", h)
	}
}
