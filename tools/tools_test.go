package tools

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/m4xw311/cadlink/attr"
	"github.com/m4xw311/cadlink/cad"
	"github.com/m4xw311/cadlink/cad/memcad"
	"github.com/m4xw311/cadlink/errors"
	"github.com/m4xw311/cadlink/handle"
	"github.com/m4xw311/cadlink/query"
)

func newEnv(t *testing.T) (*Env, *memcad.Design) {
	t.Helper()
	d := memcad.NewSampleDesign()
	h := handle.New()
	return &Env{
		Design:  d,
		Handles: h,
		Attrs:   attr.New(h),
		Query:   query.NewEngine(d, h),
	}, d
}

func run(t *testing.T, env *Env, name string, args map[string]any) (any, error) {
	t.Helper()
	r := NewRegistry(DefaultModules())
	tool, ok := r.Resolve(name)
	if !ok {
		t.Fatalf("tool %s is not registered", name)
	}
	return tool.Execute(context.Background(), env, args)
}

func mustRun(t *testing.T, env *Env, name string, args map[string]any) map[string]any {
	t.Helper()
	out, err := run(t, env, name, args)
	if err != nil {
		t.Fatalf("%s failed: %v", name, err)
	}
	m, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("%s returned %T, expected a map", name, out)
	}
	return m
}

func TestDefaultModulesBuild(t *testing.T) {
	r := NewRegistry(DefaultModules())
	specs, err := r.List()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	want := []string{
		"describe_object", "list_timeline", "list_handles", "list_document_tree",
		"set_entity_attributes", "move_occurrence", "set_appearance", "call_entity_method", "set_parameter_expression",
		"extrude_profiles", "thin_extrude_curves", "revolve_profiles", "pipe_along_path", "copy_component", "combine_bodies", "create_sketch",
		"fillet_or_chamfer_edges", "mirror_body_in_component",
		"create_point3d_list", "create_point2d_list", "create_vector3d_list", "create_matrix_list", "create_object_collection",
		"run_sql_query",
	}
	if len(specs) != len(want) {
		t.Fatalf("expected %d tools, got %d: %v", len(want), len(specs), r.Names())
	}
	for i, s := range specs {
		if s.Name != want[i] {
			t.Errorf("tool %d = %s, want %s", i, s.Name, want[i])
		}
		if _, ok := r.ParametersSchema(s.Name); !ok {
			t.Errorf("%s has no compiled schema", s.Name)
		}
	}
	for _, d := range r.Descriptors() {
		if d.Module == "" {
			t.Errorf("%s has no module", d.Name)
		}
	}
}

type echoArgs struct {
	Text  string `json:"text"`
	Times int    `json:"times" default:"1"`
}

func echo(_ *Env, a echoArgs) (any, error) { return strings.Repeat(a.Text, a.Times), nil }

const echoSchema = `{"name": "echo", "description": "Repeats text.", "parameters": {"type": "object", "properties": {"text": {"type": "string"}, "times": {"type": "integer"}}, "required": ["text"]}}`

func TestRegistryValidation(t *testing.T) {
	tests := []struct {
		name    string
		schema  string
		wantErr bool
		wantLen int
	}{
		{name: "valid", schema: echoSchema, wantLen: 1},
		{name: "required drift", schema: `{"name": "echo", "description": "d", "parameters": {"type": "object", "properties": {"text": {"type": "string"}, "times": {"type": "integer"}}, "required": ["text", "times"]}}`},
		{name: "missing property", schema: `{"name": "echo", "description": "d", "parameters": {"type": "object", "properties": {"text": {"type": "string"}}, "required": ["text"]}}`},
		{name: "not json", schema: `{"name": "echo",`},
		{name: "unknown key", schema: `{"name": "echo", "description": "d", "params": {}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry([]Module{{Name: "m", Tools: func() []Tool { return []Tool{Define(tt.schema, echo)} }}})
			specs, err := r.List()
			if (err != nil) != tt.wantErr {
				t.Fatalf("unexpected error state: %v", err)
			}
			if len(specs) != tt.wantLen {
				t.Errorf("expected %d tools, got %d", tt.wantLen, len(specs))
			}
		})
	}
}

func TestDuplicateToolFailsBuild(t *testing.T) {
	mod := func(name string) Module {
		return Module{Name: name, Tools: func() []Tool { return []Tool{Define(echoSchema, echo)} }}
	}
	r := NewRegistry([]Module{mod("a"), mod("b")})
	if err := r.Build(); !errors.Is(err, ErrDuplicateTool) {
		t.Fatalf("expected ErrDuplicateTool, got %v", err)
	}
}

func TestFilter(t *testing.T) {
	f := Filter{Enabled: []string{"create_*", "run_sql_query"}, Disabled: []string{"create_matrix_list"}}
	if err := f.Validate(); err != nil {
		t.Fatalf("valid filter rejected: %v", err)
	}
	r := NewRegistry(DefaultModules(), WithFilter(f))
	names := r.Names()
	got := strings.Join(names, ",")
	for _, n := range []string{"create_sketch", "create_point3d_list", "run_sql_query"} {
		if !strings.Contains(got, n) {
			t.Errorf("%s should be enabled, got %v", n, names)
		}
	}
	for _, n := range []string{"create_matrix_list", "extrude_profiles", "describe_object"} {
		if _, ok := r.Resolve(n); ok {
			t.Errorf("%s should be filtered out", n)
		}
	}
	if err := (Filter{Enabled: []string{"create_[a"}}).Validate(); err == nil {
		t.Errorf("expected an invalid pattern error")
	}
}

func TestBindDefaultsAndMissing(t *testing.T) {
	tool := Define(echoSchema, echo)
	out, err := tool.Execute(context.Background(), nil, map[string]any{"text": "ab"})
	if err != nil || out != "ab" {
		t.Fatalf("default not applied: %v %v", out, err)
	}
	out, err = tool.Execute(context.Background(), nil, map[string]any{"text": "ab", "times": 2.0})
	if err != nil || out != "abab" {
		t.Fatalf("integral float not narrowed: %v %v", out, err)
	}
	if _, err := tool.Execute(context.Background(), nil, map[string]any{}); err == nil || !strings.Contains(err.Error(), "missing required parameter 'text'") {
		t.Errorf("expected missing parameter error, got %v", err)
	}
	d := tool.Descriptor()
	if p, ok := d.Param("times"); !ok || !p.HasDefault || p.Default != "1" {
		t.Errorf("unexpected descriptor %+v", d)
	}
}

func TestEntityParameterKinds(t *testing.T) {
	tool := Define(combineBodiesSchema, combineBodies)
	d := tool.Descriptor()
	tests := []struct {
		name         string
		entity, only bool
	}{
		{"target_body_entity_token", true, true},
		{"tool_body_entity_tokens", true, true},
		{"operation_type", false, false},
	}
	for _, tt := range tests {
		p, ok := d.Param(tt.name)
		if !ok {
			t.Fatalf("no parameter %s", tt.name)
		}
		if p.Entity != tt.entity || p.EntityOnly != tt.only {
			t.Errorf("%s: entity=%v only=%v", tt.name, p.Entity, p.EntityOnly)
		}
	}
	p, _ := Define(setEntityAttributesSchema, setEntityAttributes).Descriptor().Param("value")
	if p.Entity || p.EntityOnly {
		t.Errorf("value should not be substituted: %+v", p)
	}
	p, _ = Define(callEntityMethodSchema, callEntityMethod).Descriptor().Param("arguments")
	if !p.Entity || p.EntityOnly {
		t.Errorf("arguments should accept entities and plain values: %+v", p)
	}
}

func TestExtrudeTwoProfilesJoin(t *testing.T) {
	env, d := newEnv(t)
	profiles := d.Root().Sketches()[0].Profiles()
	if len(profiles) != 2 {
		t.Fatalf("sample design should have two root profiles, got %d", len(profiles))
	}
	coll := mustRunAny(t, env, "create_object_collection", map[string]any{
		"entity_tokens": []any{profiles[0], profiles[1]},
	})
	collection, ok := env.Handles.Lookup(coll.(string))
	if !ok {
		t.Fatalf("collection handle %v not live", coll)
	}

	out := mustRun(t, env, "extrude_profiles", map[string]any{
		"profile_entity_tokens": []any{collection},
		"extrude_distance":      1.0,
		"operation_type":        "JoinFeatureOperation",
	})
	msg, _ := out["Results"].(string)
	if !strings.Contains(msg, "2 profiles") {
		t.Errorf("unexpected Results %q", msg)
	}
	bodies, _ := out["New BRepBodies"].([]string)
	if len(bodies) == 0 {
		t.Fatalf("no new bodies in %v", out)
	}
	body, ok := env.Handles.Lookup(bodies[0])
	if !ok {
		t.Fatalf("body handle not live")
	}
	if v := body.(cad.Body).Volume(); v != 3 {
		t.Errorf("expected joined volume 3, got %g", v)
	}
}

func mustRunAny(t *testing.T, env *Env, name string, args map[string]any) any {
	t.Helper()
	out, err := run(t, env, name, args)
	if err != nil {
		t.Fatalf("%s failed: %v", name, err)
	}
	return out
}

func TestMirrorJoinKeepsOneBody(t *testing.T) {
	env, d := newEnv(t)
	housing := d.ComponentByName("Gear Housing")
	body := housing.Bodies()[0]
	out := mustRun(t, env, "mirror_body_in_component", map[string]any{
		"component_entity_token":    housing,
		"body_entity_token":         body,
		"mirror_plane_entity_token": housing.Plane("YZ"),
		"operation_type":            "JoinFeatureOperation",
	})
	if msg, _ := out["Results"].(string); !strings.Contains(msg, "Body1") {
		t.Errorf("message should name the body: %q", msg)
	}
	res := env.Query.Execute("SELECT name FROM BRepBody")
	if res["rowCount"] != 1 {
		t.Errorf("join mirror should leave one body, got %v", res["rowCount"])
	}
}

func TestFilletFourEdges(t *testing.T) {
	env, d := newEnv(t)
	housing := d.ComponentByName("Gear Housing")
	edges := housing.Bodies()[0].Edges()
	before := d.Timeline().Count()
	out := mustRun(t, env, "fillet_or_chamfer_edges", map[string]any{
		"component_entity_token": housing,
		"edge_tokens_list":       []any{edges[0], edges[1], edges[2], edges[3]},
		"operation_value":        0.2,
		"operation_type":         "fillet",
	})
	if msg, _ := out["Results"].(string); !strings.Contains(msg, "4 edges") {
		t.Errorf("message should cite 4 edges: %q", msg)
	}
	if d.Timeline().Count() != before+1 {
		t.Fatalf("expected one new timeline item")
	}
	res := env.Query.Execute("SELECT name FROM TimelineItem WHERE name LIKE 'Fillet%'")
	if res["rowCount"] != 1 {
		t.Errorf("expected a fillet feature in the timeline, got %v", res)
	}
}

func TestBadOperationTypeLeavesTimeline(t *testing.T) {
	env, d := newEnv(t)
	profile := d.Root().Sketches()[0].Profiles()[0]
	before := d.Timeline().Count()
	_, err := run(t, env, "extrude_profiles", map[string]any{
		"profile_entity_tokens": []any{profile},
		"extrude_distance":      1.0,
		"operation_type":        "CutFeature",
	})
	if err == nil {
		t.Fatalf("expected an error")
	}
	msg := err.Error()
	if !strings.Contains(msg, `"CutFeature"`) {
		t.Errorf("error should name the bad value: %s", msg)
	}
	for _, name := range cad.FeatureOperationNames() {
		if !strings.Contains(msg, name) {
			t.Errorf("error should list %s: %s", name, msg)
		}
	}
	if d.Timeline().Count() != before {
		t.Errorf("timeline changed on bad input")
	}
}

func TestMoveOccurrenceRollsTimeline(t *testing.T) {
	env, d := newEnv(t)
	occ := d.OccurrenceByName("Shaft:1")
	mustRun(t, env, "move_occurrence", map[string]any{
		"occurrence_entity_token": occ,
		"target_position":         []any{1.0, 2.0, 3.0},
	})
	if got := occ.Transform().Translation(); got != (cad.Vector3D{X: 1, Y: 2, Z: 3}) {
		t.Errorf("translation = %+v", got)
	}
	tl := d.Timeline()
	if tl.MarkerPosition() != tl.Count() {
		t.Errorf("marker left at %d of %d", tl.MarkerPosition(), tl.Count())
	}
	if _, err := run(t, env, "move_occurrence", map[string]any{
		"occurrence_entity_token": occ,
		"rotate_from_vector":      []any{1.0, 0.0, 0.0},
	}); err == nil {
		t.Errorf("expected an error for a lone rotate_from_vector")
	}
}

func TestSetAppearanceCopiesFromLibrary(t *testing.T) {
	env, d := newEnv(t)
	occ := d.OccurrenceByName("Gear Housing:1")
	out := mustRun(t, env, "set_appearance", map[string]any{
		"entity_tokens":   []any{occ},
		"appearance_name": "Aluminum - Anodized Red",
	})
	if out["copiedFromLibrary"] != true || out["bodyCount"] != 1 {
		t.Errorf("unexpected result %v", out)
	}
	body := d.ComponentByName("Gear Housing").Bodies()[0]
	if a := body.Appearance(); a == nil || a.InLibrary() || a.Name() != "Aluminum - Anodized Red" {
		t.Errorf("appearance not applied from a design copy: %v", a)
	}
	if _, err := run(t, env, "set_appearance", map[string]any{
		"entity_tokens":   []any{occ},
		"appearance_name": "Unobtainium",
	}); err == nil {
		t.Errorf("expected an error for an unknown appearance")
	}
}

func TestCallEntityMethodReportsNewEntities(t *testing.T) {
	env, d := newEnv(t)
	body := d.ComponentByName("Gear Housing").Bodies()[0]
	shaft := d.ComponentByName("Shaft")
	out := mustRun(t, env, "call_entity_method", map[string]any{
		"entity_token": body,
		"method_path":  "copyToComponent",
		"arguments":    []any{shaft},
	})
	fresh, _ := out["newEntities"].([]string)
	if len(fresh) != 1 || out["returnValue"] != fresh[0] {
		t.Errorf("unexpected result %v", out)
	}
	if len(shaft.Bodies()) != 1 {
		t.Errorf("body was not copied")
	}
	if _, err := run(t, env, "call_entity_method", map[string]any{
		"entity_token": body,
		"method_path":  "explode",
	}); err == nil {
		t.Errorf("expected an error for an unknown method")
	}
}

func TestSetEntityAttributes(t *testing.T) {
	env, d := newEnv(t)
	out := mustRun(t, env, "set_entity_attributes", map[string]any{
		"entity_tokens":  []any{d.OccurrenceByName("Bearing:1"), d.OccurrenceByName("Bearing:2")},
		"attribute_path": "name",
		"value":          "Roller",
	})
	if out["updatedCount"] != 2 {
		t.Errorf("expected two updates, got %v", out)
	}
	out = mustRun(t, env, "set_entity_attributes", map[string]any{
		"entity_tokens":  []any{d.ComponentByName("Shaft")},
		"attribute_path": "volume",
		"value":          1.0,
	})
	rows := out["results"].([]map[string]any)
	if rows[0]["status"] != "error" {
		t.Errorf("expected an error row, got %v", rows[0])
	}
}

func TestDescribeObject(t *testing.T) {
	env, _ := newEnv(t)
	out := mustRun(t, env, "describe_object", map[string]any{"class_name": "BRepBody"})
	attrs, _ := out["attributes"].([]string)
	if !strings.Contains(strings.Join(attrs, ","), "volume") {
		t.Errorf("expected volume among %v", attrs)
	}
	if _, ok := out["entityToken"].(string); !ok {
		t.Errorf("expected a handle for the described body")
	}
	if _, err := run(t, env, "describe_object", map[string]any{"class_name": "Gizmo"}); err == nil {
		t.Errorf("expected an unknown class error")
	}
	if _, err := run(t, env, "describe_object", map[string]any{}); err == nil {
		t.Errorf("expected an error without arguments")
	}
}

func TestTransientTools(t *testing.T) {
	env, _ := newEnv(t)
	out := mustRunAny(t, env, "create_point3d_list", map[string]any{
		"points": []any{[]any{0.0, 0.0, 0.0}, []any{1.0, 2.0, 3.0}},
	})
	hs := out.([]string)
	if len(hs) != 2 || hs[0] == hs[1] {
		t.Fatalf("unexpected handles %v", hs)
	}
	p, _ := env.Handles.Lookup(hs[1])
	if p != (cad.Point3D{X: 1, Y: 2, Z: 3}) {
		t.Errorf("lookup returned %v", p)
	}

	if _, err := run(t, env, "create_matrix_list", map[string]any{
		"matrices": []any{[]any{1.0, 0.0, 0.0}},
	}); err == nil {
		t.Errorf("expected an error for a 3-value matrix")
	}
	out = mustRunAny(t, env, "create_matrix_list", map[string]any{
		"matrices": []any{[]any{1.0, 0.0, 0.0, 0.0, 1.0, 0.0, 0.0, 0.0, 1.0}},
	})
	if len(out.([]string)) != 1 {
		t.Errorf("expected one matrix handle")
	}
}

func TestCreateSketchThenExtrude(t *testing.T) {
	env, d := newEnv(t)
	shaft := d.ComponentByName("Shaft")
	out := mustRun(t, env, "create_sketch", map[string]any{
		"plane_entity_token": shaft.Plane("XY"),
		"circles":            []any{[]any{0.0, 0.0, 0.5}},
	})
	profiles := out["Profiles"].([]string)
	if len(profiles) != 1 {
		t.Fatalf("expected one profile, got %v", out)
	}
	profile, _ := env.Handles.Lookup(profiles[0])
	mustRun(t, env, "extrude_profiles", map[string]any{
		"profile_entity_tokens": []any{profile},
		"extrude_distance":      4.0,
		"operation_type":        "NewBodyFeatureOperation",
	})
	if len(shaft.Bodies()) != 1 {
		t.Errorf("expected a shaft body")
	}
}

func TestSetParameterExpression(t *testing.T) {
	env, _ := newEnv(t)
	out := mustRun(t, env, "set_parameter_expression", map[string]any{
		"parameter_name": "shaft_length",
		"expression":     "50 mm",
	})
	if out["value"] != 5.0 {
		t.Errorf("expected 5 cm, got %v", out["value"])
	}
	if _, err := run(t, env, "set_parameter_expression", map[string]any{
		"parameter_name": "nope",
		"expression":     "1 mm",
	}); err == nil {
		t.Errorf("expected an unknown parameter error")
	}
}

func TestRunSQLQuery(t *testing.T) {
	env, _ := newEnv(t)
	out := mustRun(t, env, "run_sql_query", map[string]any{"query": "SELECT name FROM Occurrence LIMIT 2"})
	if out["rowCount"] != 2 {
		t.Errorf("unexpected result %v", out)
	}
}

func bodyVolume(t *testing.T, env *Env, out map[string]any) float64 {
	t.Helper()
	bodies, _ := out["New BRepBodies"].([]string)
	if len(bodies) != 1 {
		t.Fatalf("expected one body in %v", out)
	}
	b, ok := env.Handles.Lookup(bodies[0])
	if !ok {
		t.Fatalf("body handle %s not live", bodies[0])
	}
	return b.(cad.Body).Volume()
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestRevolveProfiles(t *testing.T) {
	tests := []struct {
		name    string
		angle   any
		axis    func(d *memcad.Design) cad.Entity
		want    float64
		wantErr string
	}{
		{name: "default full turn", axis: func(d *memcad.Design) cad.Entity { return d.Root().Axis("Y") }, want: 2 * math.Sqrt(math.Pi)},
		{name: "quarter turn", angle: 90.0, axis: func(d *memcad.Design) cad.Entity { return d.Root().Axis("Y") }, want: math.Sqrt(math.Pi) / 2},
		{name: "negative angle", angle: -90.0, axis: func(d *memcad.Design) cad.Entity { return d.Root().Axis("X") }, want: math.Sqrt(math.Pi) / 2},
		{name: "sketch line axis", angle: 180.0, axis: func(d *memcad.Design) cad.Entity { return d.Root().Sketches()[0].SketchCurves()[0] }, want: math.Sqrt(math.Pi)},
		{name: "profile is no axis", axis: func(d *memcad.Design) cad.Entity { return d.Root().Sketches()[0].Profiles()[1] }, wantErr: "revolve axis must be"},
		{name: "zero angle", angle: 0.0, axis: func(d *memcad.Design) cad.Entity { return d.Root().Axis("Y") }, wantErr: "angle cannot be zero"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, d := newEnv(t)
			args := map[string]any{
				"profile_entity_tokens": []any{d.Root().Sketches()[0].Profiles()[0]},
				"axis_entity_token":     tt.axis(d),
				"operation_type":        "NewBodyFeatureOperation",
			}
			if tt.angle != nil {
				args["angle"] = tt.angle
			}
			out, err := run(t, env, "revolve_profiles", args)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("revolve failed: %v", err)
			}
			if v := bodyVolume(t, env, out.(map[string]any)); !near(v, tt.want) {
				t.Errorf("volume = %g, want %g", v, tt.want)
			}
		})
	}
}

func TestPipeAlongPath(t *testing.T) {
	tests := []struct {
		name    string
		args    map[string]any
		want    float64
		wantErr string
	}{
		{name: "half cm section", args: map[string]any{"section_size": 0.5}, want: math.Pi / 16},
		{name: "two cm section", args: map[string]any{"section_size": 2.0}, want: math.Pi},
		{name: "hollow tube", args: map[string]any{"section_size": 1.0, "hollow": true, "wall_thickness": 0.1}, want: math.Pi * (0.25 - 0.16)},
		{name: "hollow without wall", args: map[string]any{"section_size": 1.0, "hollow": true}, wantErr: "positive wall_thickness"},
		{name: "wall too thick", args: map[string]any{"section_size": 1.0, "hollow": true, "wall_thickness": 0.5}, wantErr: "section radius"},
		{name: "zero section", args: map[string]any{"section_size": 0.0}, wantErr: "section size must be positive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, d := newEnv(t)
			args := map[string]any{
				"path_entity_tokens": []any{d.Root().Sketches()[0].SketchCurves()[0]},
				"operation_type":     "NewBodyFeatureOperation",
			}
			for k, v := range tt.args {
				args[k] = v
			}
			out, err := run(t, env, "pipe_along_path", args)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("pipe failed: %v", err)
			}
			if v := bodyVolume(t, env, out.(map[string]any)); !near(v, tt.want) {
				t.Errorf("volume = %g, want %g", v, tt.want)
			}
		})
	}
}

func TestCopyComponent(t *testing.T) {
	tests := []struct {
		name        string
		independent any
		shared      bool
	}{
		{name: "independent by default", independent: nil, shared: false},
		{name: "independent", independent: true, shared: false},
		{name: "reference", independent: false, shared: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, d := newEnv(t)
			housing := d.ComponentByName("Gear Housing")
			before := len(d.AllComponents())
			args := map[string]any{
				"source_entity_token": d.OccurrenceByName("Gear Housing:1"),
				"position":            []any{1.0, 2.0, 3.0},
			}
			if tt.independent != nil {
				args["independent"] = tt.independent
			}
			out := mustRun(t, env, "copy_component", args)
			occ, ok := env.Handles.Lookup(out["Occurrence"].(string))
			if !ok {
				t.Fatalf("occurrence handle not live: %v", out)
			}
			placed := occ.(cad.Occurrence)
			if got := placed.Transform().Translation(); got != (cad.Vector3D{X: 1, Y: 2, Z: 3}) {
				t.Errorf("translation = %+v", got)
			}
			shared := placed.Component() == cad.Component(housing)
			if shared != tt.shared {
				t.Errorf("copy shares the source component = %v, want %v", shared, tt.shared)
			}
			grown := len(d.AllComponents()) - before
			if tt.shared && grown != 0 || !tt.shared && grown != 1 {
				t.Errorf("component count grew by %d", grown)
			}
			if !tt.shared {
				bodies := placed.Component().Bodies()
				if len(bodies) != 1 || bodies[0] == housing.Bodies()[0] {
					t.Errorf("independent copy should own a copied body, got %v", bodies)
				}
			}
		})
	}

	env, d := newEnv(t)
	if _, err := run(t, env, "copy_component", map[string]any{"source_entity_token": d.Root()}); err == nil {
		t.Errorf("expected an error copying the root component")
	}
}

func TestCombineBodies(t *testing.T) {
	tests := []struct {
		name       string
		op         string
		keep       bool
		want       float64
		toolsAlive bool
		wantErr    string
	}{
		{name: "join by default", want: 10},
		{name: "cut keeping tools", op: "CutFeatureOperation", keep: true, want: 6, toolsAlive: true},
		{name: "intersect", op: "IntersectFeatureOperation", want: 2},
		{name: "new body rejected", op: "NewBodyFeatureOperation", wantErr: "combine supports"},
		{name: "unknown operation", op: "Merge", wantErr: `invalid operation_type "Merge"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, d := newEnv(t)
			out := mustRun(t, env, "extrude_profiles", map[string]any{
				"profile_entity_tokens": []any{d.Root().Sketches()[0].Profiles()[1]},
				"extrude_distance":      1.0,
				"operation_type":        "NewBodyFeatureOperation",
			})
			toolHandle := out["New BRepBodies"].([]string)[0]
			tool, _ := env.Handles.Lookup(toolHandle)
			target := d.ComponentByName("Gear Housing").Bodies()[0]

			args := map[string]any{
				"target_body_entity_token": target,
				"tool_body_entity_tokens":  []any{tool},
				"keep_tools":               tt.keep,
			}
			if tt.op != "" {
				args["operation_type"] = tt.op
			}
			before := d.Timeline().Count()
			_, err := run(t, env, "combine_bodies", args)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected %q, got %v", tt.wantErr, err)
				}
				if d.Timeline().Count() != before || !cad.Alive(tool) {
					t.Errorf("failed combine changed the design")
				}
				return
			}
			if err != nil {
				t.Fatalf("combine failed: %v", err)
			}
			if v := target.Volume(); !near(v, tt.want) {
				t.Errorf("target volume = %g, want %g", v, tt.want)
			}
			if _, live := env.Handles.Lookup(toolHandle); live != tt.toolsAlive {
				t.Errorf("tool body alive = %v, want %v", live, tt.toolsAlive)
			}
		})
	}
}

func TestThinExtrudeWallLocation(t *testing.T) {
	tests := []struct {
		location string
		want     cad.WallLocation
		wantErr  bool
	}{
		{location: "", want: cad.WallSide1},
		{location: "side2", want: cad.WallSide2},
		{location: "Center", want: cad.WallCenter},
		{location: "middle", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.location, func(t *testing.T) {
			env, d := newEnv(t)
			args := map[string]any{
				"curve_entity_tokens": []any{d.Root().Sketches()[0].SketchCurves()[0]},
				"extrude_distance":    2.0,
				"wall_thickness":      0.1,
				"operation_type":      "NewBodyFeatureOperation",
			}
			if tt.location != "" {
				args["wall_location"] = tt.location
			}
			out, err := run(t, env, "thin_extrude_curves", args)
			if tt.wantErr {
				if err == nil || !strings.Contains(err.Error(), "side1, side2, center") {
					t.Fatalf("expected the accepted locations, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("thin extrude failed: %v", err)
			}
			res := out.(map[string]any)
			f, ok := env.Handles.Lookup(res["Feature"].(string))
			if !ok {
				t.Fatalf("feature handle not live")
			}
			feat := f.(*memcad.Feature)
			if !feat.IsThin() || feat.WallLocation() != tt.want {
				t.Errorf("thin=%v wall=%s, want %s", feat.IsThin(), feat.WallLocation(), tt.want)
			}
			if msg := res["Results"].(string); !strings.Contains(msg, "on "+tt.want.String()) {
				t.Errorf("message %q should name the wall location", msg)
			}
			if v := bodyVolume(t, env, res); !near(v, 0.2) {
				t.Errorf("volume = %g, want 0.2", v)
			}
		})
	}
}
