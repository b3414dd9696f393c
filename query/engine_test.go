package query

import (
	"strings"
	"testing"

	"github.com/m4xw311/cadlink/cad"
	"github.com/m4xw311/cadlink/cad/memcad"
	"github.com/m4xw311/cadlink/handle"
)

func newEngine(t *testing.T) (*Engine, *memcad.Design, *handle.Table) {
	t.Helper()
	d := memcad.NewSampleDesign()
	table := handle.New()
	return NewEngine(d, table), d, table
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr bool
		check   func(t *testing.T, st *Statement)
	}{
		{
			name: "select with everything",
			text: "SELECT name, entityToken FROM Component WHERE name LIKE '%a%' AND NOT name = 'Shaft' ORDER BY name DESC LIMIT 3 OFFSET 1",
			check: func(t *testing.T, st *Statement) {
				if st.Kind != Select || st.EntityKind != "Component" {
					t.Fatalf("unexpected statement %+v", st)
				}
				if len(st.Projection) != 2 || st.Projection[1] != "entityToken" {
					t.Errorf("projection = %v", st.Projection)
				}
				if len(st.Where) != 2 || st.Where[1].Logic != LogicAnd || !st.Where[1].Not {
					t.Errorf("where = %+v", st.Where)
				}
				if st.OrderBy == nil || !st.OrderBy.Desc {
					t.Errorf("order = %+v", st.OrderBy)
				}
				if *st.Limit != 3 || *st.Offset != 1 {
					t.Errorf("limit/offset = %d/%d", *st.Limit, *st.Offset)
				}
			},
		},
		{
			name: "update with literals",
			text: "update Occurrence set name='It''s', isLightBulbOn=true where name like '%gear%' limit 1;",
			check: func(t *testing.T, st *Statement) {
				if st.Kind != Update || len(st.Assignments) != 2 {
					t.Fatalf("unexpected statement %+v", st)
				}
				if st.Assignments[0].Value != "It's" {
					t.Errorf("string literal = %v", st.Assignments[0].Value)
				}
				if st.Assignments[1].Value != true {
					t.Errorf("bool literal = %v", st.Assignments[1].Value)
				}
			},
		},
		{
			name: "not equal becomes negated equality",
			text: "SELECT name FROM Body WHERE volume != -1.5e2",
			check: func(t *testing.T, st *Statement) {
				c := st.Where[0]
				if c.Op != Equal || !c.Not || c.Value != -150.0 {
					t.Errorf("condition = %+v", c)
				}
			},
		},
		{
			name: "keywords inside SET literals",
			text: "UPDATE Occurrence SET name='Gear where shaft', description='x limit 2' WHERE name LIKE '%gear%' LIMIT 1",
			check: func(t *testing.T, st *Statement) {
				if len(st.Assignments) != 2 || st.Assignments[0].Value != "Gear where shaft" || st.Assignments[1].Value != "x limit 2" {
					t.Fatalf("assignments = %+v", st.Assignments)
				}
				if len(st.Where) != 1 || st.Where[0].Value != "%gear%" {
					t.Errorf("where = %+v", st.Where)
				}
				if st.Limit == nil || *st.Limit != 1 {
					t.Errorf("limit = %v", st.Limit)
				}
			},
		},
		{
			name: "keywords inside WHERE literals",
			text: "SELECT name FROM Occurrence WHERE name = 'order by limit 3' ORDER BY name LIMIT 2",
			check: func(t *testing.T, st *Statement) {
				if len(st.Where) != 1 || st.Where[0].Value != "order by limit 3" {
					t.Fatalf("where = %+v", st.Where)
				}
				if st.OrderBy == nil || st.OrderBy.Path != "name" || *st.Limit != 2 {
					t.Errorf("tail = %+v %v", st.OrderBy, st.Limit)
				}
			},
		},
		{name: "trailing comma in SET", text: "UPDATE Component SET name='a',", wantErr: true},
		{name: "junk after SET", text: "UPDATE Component SET name='a' name='b'", wantErr: true},
		{name: "delete rejected", text: "DELETE FROM Component", wantErr: true},
		{name: "bad where", text: "SELECT name FROM Component WHERE name > 3", wantErr: true},
		{name: "dangling logic", text: "SELECT name FROM Component WHERE name = 'a' AND", wantErr: true},
		{name: "bad set", text: "UPDATE Component SET name", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, err := Parse(tt.text)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", st)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.check(t, st)
		})
	}
}

func TestLikeRegexp(t *testing.T) {
	tests := []struct {
		pattern, input string
		want           bool
	}{
		{"%gear%", "Gear Housing:1", true},
		{"%gear%", "Shaft:1", false},
		{"Bearing:_", "bearing:2", true},
		{"Bearing:_", "Bearing:12", false},
		{"a.b", "axb", false},
	}
	for _, tt := range tests {
		if got := likeRegexp(tt.pattern).MatchString(tt.input); got != tt.want {
			t.Errorf("LIKE %q on %q = %v, want %v", tt.pattern, tt.input, got, tt.want)
		}
	}
}

func TestUpdateRenamesFirstMatch(t *testing.T) {
	e, d, _ := newEngine(t)
	res := e.Execute("UPDATE Occurrence SET name='Gearbox' WHERE name LIKE '%gear%' LIMIT 1")
	if _, bad := res["errors"]; bad {
		t.Fatalf("unexpected errors: %v", res["errors"])
	}
	if res["matchedCount"] != 1 || res["updatedCount"] != 1 || res["attemptedCount"] != 1 {
		t.Errorf("counts = %v", res)
	}
	if d.OccurrenceByName("Gearbox") == nil {
		t.Errorf("occurrence was not renamed")
	}
	if d.OccurrenceByName("Gear Housing:1") != nil {
		t.Errorf("old name still present")
	}
}

func TestUpdateCountsUnchanged(t *testing.T) {
	e, _, _ := newEngine(t)
	res := e.Execute("UPDATE Occurrence SET name='Shaft:1' WHERE name LIKE 'shaft%'")
	if res["matchedCount"] != 1 || res["unchangedCount"] != 1 || res["updatedCount"] != 0 {
		t.Errorf("counts = %v", res)
	}
}

func TestSelectOrderDescLimit(t *testing.T) {
	e, _, table := newEngine(t)
	res := e.Execute("SELECT name, entityToken FROM Component ORDER BY name DESC LIMIT 3")
	rows, ok := res["rows"].([]map[string]any)
	if !ok {
		t.Fatalf("no rows in %v", res)
	}
	if len(rows) != 3 || res["rowCount"] != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	want := []string{"Shaft", "Gearbox", "Gear Housing"}
	for i, row := range rows {
		if row["name"] != want[i] {
			t.Errorf("row %d name = %v, want %s", i, row["name"], want[i])
		}
		h, _ := row["entityToken"].(string)
		if _, live := table.Lookup(h); !live {
			t.Errorf("row %d token %q is not a live handle", i, h)
		}
	}
}

func TestSelectStarAndOffset(t *testing.T) {
	e, _, _ := newEngine(t)
	res := e.Execute("SELECT * FROM Component ORDER BY name OFFSET 3")
	rows := res["rows"].([]map[string]any)
	if len(rows) != 1 {
		t.Fatalf("expected 1 row after offset, got %d", len(rows))
	}
	for _, col := range []string{"entityToken", "objectType", "name"} {
		if _, ok := rows[0][col]; !ok {
			t.Errorf("column %s missing from SELECT *", col)
		}
	}

	res = e.Execute("SELECT name FROM Component OFFSET 10")
	if res["rowCount"] != 0 {
		t.Errorf("offset past the end should select nothing, got %v", res["rowCount"])
	}
}

func TestSelectNumericOrderAndOr(t *testing.T) {
	e, _, _ := newEngine(t)
	res := e.Execute("SELECT area FROM Profile ORDER BY area DESC")
	rows := res["rows"].([]map[string]any)
	if len(rows) != 3 {
		t.Fatalf("expected 3 profiles, got %d", len(rows))
	}
	if rows[0]["area"] != 4.0 || rows[2]["area"] != 1.0 {
		t.Errorf("numeric order wrong: %v", rows)
	}

	res = e.Execute("SELECT name FROM Occurrence WHERE name = 'Shaft:1' OR name LIKE 'bearing%'")
	if res["rowCount"] != 3 {
		t.Errorf("OR should match three occurrences, got %v", res["rowCount"])
	}
}

func TestUpdateLiteralWithKeyword(t *testing.T) {
	e, d, _ := newEngine(t)
	res := e.Execute("UPDATE Occurrence SET name='Gear where shaft' WHERE name LIKE '%gear%' LIMIT 1")
	if _, bad := res["errors"]; bad {
		t.Fatalf("unexpected errors: %v", res["errors"])
	}
	if d.OccurrenceByName("Gear where shaft") == nil {
		t.Errorf("occurrence was not renamed: %v", res)
	}
}

// mixedBodies gives the sample design a second housing body carrying an
// appearance while the first body keeps none.
func mixedBodies(t *testing.T, d *memcad.Design) (first, second cad.Body) {
	t.Helper()
	housing := d.ComponentByName("Gear Housing")
	profile := housing.Sketches()[0].Profiles()[0]
	if _, err := housing.Features().Extrude(cad.ExtrudeInput{
		Profiles:  []cad.Entity{profile},
		Distance:  1,
		Operation: cad.NewBodyFeatureOperation,
	}); err != nil {
		t.Fatalf("extrude: %v", err)
	}
	all, _ := Enumerate(d, "BRepBody")
	if len(all) != 2 {
		t.Fatalf("expected 2 bodies, got %d", len(all))
	}
	first, second = all[0].(cad.Body), all[1].(cad.Body)
	app, err := d.CopyAppearanceToDesign(d.AppearanceLibrary()[0])
	if err != nil {
		t.Fatal(err)
	}
	if err := second.SetAppearance(app); err != nil {
		t.Fatal(err)
	}
	if first.Appearance() != nil {
		t.Fatalf("first body should have no appearance")
	}
	return first, second
}

func TestWhereOverMixedEntities(t *testing.T) {
	tests := []struct {
		name, text string
		want       []string
	}{
		{"equal", "SELECT name FROM BRepBody WHERE appearance.name = 'Steel - Satin'", []string{"second"}},
		{"like", "SELECT name FROM BRepBody WHERE appearance.name LIKE '%satin%'", []string{"second"}},
		{"negated", "SELECT name FROM BRepBody WHERE appearance.name != 'Steel'", []string{"second"}},
		{"or with resolvable", "SELECT name FROM BRepBody WHERE appearance.name = 'x' OR name = 'first'", []string{"first"}},
		{"missing sorts last descending", "SELECT name FROM BRepBody ORDER BY appearance.name DESC", []string{"second", "first"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, d, _ := newEngine(t)
			first, second := mixedBodies(t, d)
			if err := first.SetName("first"); err != nil {
				t.Fatal(err)
			}
			if err := second.SetName("second"); err != nil {
				t.Fatal(err)
			}
			res := e.Execute(tt.text)
			if errs, bad := res["errors"]; bad {
				t.Fatalf("unexpected errors: %v", errs)
			}
			rows := res["rows"].([]map[string]any)
			var got []string
			for _, r := range rows {
				got = append(got, r["name"].(string))
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("rows = %v, want %v", got, tt.want)
			}
		})
	}

	e, d, _ := newEngine(t)
	mixedBodies(t, d)
	res := e.Execute("SELECT appearance.name FROM BRepBody")
	if _, bad := res["errors"].(map[string]any)["appearance.name"]; !bad {
		t.Errorf("projection through a nil appearance should fail on the first body, got %v", res)
	}
}

func TestErrorsAreData(t *testing.T) {
	e, _, _ := newEngine(t)
	tests := []struct {
		name, text, key string
	}{
		{"parse", "DROP TABLE Component", "parse"},
		{"unknown kind", "SELECT name FROM Gizmo", "objectType"},
		{"bad path", "SELECT name, colour FROM Component", "colour"},
		{"bad where path", "SELECT name FROM Component WHERE weight = 1", "weight"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.Execute(tt.text)
			errs, ok := res["errors"].(map[string]any)
			if !ok {
				t.Fatalf("expected errors, got %v", res)
			}
			if _, ok := errs[tt.key]; !ok {
				t.Errorf("expected error key %q, got %v", tt.key, errs)
			}
		})
	}

	res := e.Execute("SELECT name, colour FROM Component")
	data := res["errors"].(map[string]any)["colour"].(map[string]any)
	attrs, _ := data["attributes"].([]string)
	if !contains(attrs, "name") {
		t.Errorf("inventory should list name, got %v", attrs)
	}
}

func TestEmptyKindAndNoMatches(t *testing.T) {
	e, _, _ := newEngine(t)
	res := e.Execute("SELECT name FROM Joint WHERE name = 'nothing'")
	if res["rowCount"] != 0 {
		t.Errorf("expected no rows, got %v", res)
	}

	d := memcad.NewDesign("Empty")
	empty := NewEngine(d, handle.New())
	res = empty.Execute("SELECT name FROM BRepBody")
	msg, _ := res["message"].(string)
	if res["rowCount"] != 0 || !strings.Contains(msg, "BRepBody") {
		t.Errorf("unexpected empty result %v", res)
	}
	res = empty.Execute("UPDATE Body SET name='x'")
	if res["matchedCount"] != 0 || res["updatedCount"] != 0 {
		t.Errorf("unexpected empty update %v", res)
	}
}

func TestKindsAreCaseInsensitive(t *testing.T) {
	d := memcad.NewSampleDesign()
	for _, k := range []string{"component", "COMPONENT", "brepbody", "body", "timeline"} {
		if _, ok := Enumerate(d, k); !ok {
			t.Errorf("kind %q not recognised", k)
		}
	}
	if len(Kinds()) != 16 {
		t.Errorf("expected 16 kinds, got %d", len(Kinds()))
	}
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
