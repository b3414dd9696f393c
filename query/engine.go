package query

import (
	"fmt"
	"math"
	"reflect"
	"regexp"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/m4xw311/cadlink/attr"
	"github.com/m4xw311/cadlink/cad"
	"github.com/m4xw311/cadlink/errors"
	"github.com/m4xw311/cadlink/handle"
	"github.com/m4xw311/cadlink/metrics"
)

// Engine executes statements against one design.
type Engine struct {
	design  cad.Design
	attrs   *attr.Resolver
	handles *handle.Table
	log     *zap.Logger
	metrics *metrics.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an engine. Identity attributes are reported as handles
// from t.
func NewEngine(d cad.Design, t *handle.Table, opts ...Option) *Engine {
	e := &Engine{
		design:  d,
		attrs:   attr.New(t),
		handles: t,
		log:     zap.NewNop(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Execute runs one statement and returns its result or its errors as a
// JSON-ready map. It never panics on bad input.
func (e *Engine) Execute(text string) (result map[string]any) {
	command, tables := summarize(text)
	defer func() {
		if r := recover(); r != nil {
			result = failure(command, "", map[string]any{"internal": fmt.Sprint(r)})
		}
		status := "ok"
		if _, bad := result["errors"]; bad {
			status = "error"
		}
		objectType, _ := result["objectType"].(string)
		e.metrics.Query(command, objectType, status)
		e.log.Debug("query executed",
			zap.String("command", command),
			zap.Strings("tables", tables),
			zap.String("status", status))
	}()

	st, err := Parse(text)
	if err != nil {
		return failure(command, "", map[string]any{"parse": errors.Message(err), "grammar": Grammar})
	}
	return e.Run(st)
}

// Run executes a parsed statement.
func (e *Engine) Run(st *Statement) map[string]any {
	kind := string(st.Kind)
	name, list, ok := lookupKind(st.EntityKind)
	if !ok {
		return failure(kind, st.EntityKind, map[string]any{
			"objectType": fmt.Sprintf("unknown entity kind '%s'", st.EntityKind),
			"available":  Kinds(),
		})
	}
	all := list(e.design)
	if len(all) == 0 {
		return e.empty(st, name)
	}

	projection := st.Projection
	if len(projection) == 1 && projection[0] == "*" {
		projection = e.defaultColumns(all[0])
	}
	if errs := e.validate(st, projection, all); len(errs) > 0 {
		return failure(kind, name, errs)
	}

	matched := e.filter(all, st.Where)
	if st.OrderBy != nil {
		e.sort(matched, *st.OrderBy)
	}
	matched = window(matched, st.Offset, st.Limit)

	if st.Kind == Select {
		rows := make([]map[string]any, 0, len(matched))
		for _, ent := range matched {
			row := make(map[string]any, len(projection))
			for _, p := range projection {
				v, err := e.attrs.Get(ent, p)
				if err != nil {
					row[p] = map[string]any{"error": errors.Message(err)}
					continue
				}
				row[p] = e.cell(v)
			}
			rows = append(rows, row)
		}
		return map[string]any{
			"statementType": kind,
			"objectType":    name,
			"rowCount":      len(rows),
			"rows":          rows,
		}
	}
	return e.update(st, name, matched)
}

func (e *Engine) empty(st *Statement, name string) map[string]any {
	out := map[string]any{
		"statementType": string(st.Kind),
		"objectType":    name,
		"message":       fmt.Sprintf("no %s entities in the active design", name),
	}
	if st.Kind == Select {
		out["rowCount"] = 0
		out["rows"] = []map[string]any{}
		return out
	}
	out["matchedCount"] = 0
	out["attemptedCount"] = 0
	out["updatedCount"] = 0
	out["unchangedCount"] = 0
	out["errorCount"] = 0
	out["details"] = []map[string]any{}
	return out
}

// defaultColumns expands SELECT * to the identity columns the first entity
// offers.
func (e *Engine) defaultColumns(first cad.Entity) []string {
	var cols []string
	for _, c := range []string{"entityToken", "objectType", "name"} {
		if _, err := e.attrs.Get(first, c); err == nil {
			cols = append(cols, c)
		}
	}
	return cols
}

// validate resolves the projection and SET paths on the first entity. WHERE
// and ORDER BY paths only need to resolve on some entity; entities where
// they do not resolve fail to match or sort first.
func (e *Engine) validate(st *Statement, projection []string, all []cad.Entity) map[string]any {
	errs := map[string]any{}
	onFirst := func(path string) {
		if _, dup := errs[path]; dup {
			return
		}
		if _, err := e.attrs.Get(all[0], path); err != nil {
			errs[path] = errorData(err)
		}
	}
	for _, p := range projection {
		onFirst(p)
	}
	for _, a := range st.Assignments {
		onFirst(a.Path)
	}
	anywhere := func(path string) {
		if _, dup := errs[path]; dup {
			return
		}
		var first error
		for _, ent := range all {
			_, err := e.attrs.Get(ent, path)
			if err == nil {
				return
			}
			if first == nil {
				first = err
			}
		}
		errs[path] = errorData(first)
	}
	for _, c := range st.Where {
		anywhere(c.Path)
	}
	if st.OrderBy != nil {
		anywhere(st.OrderBy.Path)
	}
	return errs
}

func (e *Engine) filter(all []cad.Entity, where []Condition) []cad.Entity {
	if len(where) == 0 {
		return all
	}
	likes := make([]*regexp.Regexp, len(where))
	for i, c := range where {
		if c.Op == Like {
			likes[i] = likeRegexp(toString(c.Value))
		}
	}
	var out []cad.Entity
	for _, ent := range all {
		var keep bool
		for i, c := range where {
			ok := e.matches(ent, c, likes[i])
			switch c.Logic {
			case LogicAnd:
				keep = keep && ok
			case LogicOr:
				keep = keep || ok
			default:
				keep = ok
			}
		}
		if keep {
			out = append(out, ent)
		}
	}
	return out
}

// matches reports whether ent satisfies c. A path that does not resolve on
// ent never matches, negated or not.
func (e *Engine) matches(ent cad.Entity, c Condition, like *regexp.Regexp) bool {
	v, err := e.attrs.Get(ent, c.Path)
	if err != nil {
		return false
	}
	s := toString(e.cell(v))
	var ok bool
	if c.Op == Like {
		ok = like.MatchString(s)
	} else {
		ok = s == toString(c.Value)
	}
	return ok != c.Not
}

func (e *Engine) sort(ents []cad.Entity, o Order) {
	keys := make(map[cad.Entity]any, len(ents))
	for _, ent := range ents {
		v, err := e.attrs.Get(ent, o.Path)
		if err == nil {
			keys[ent] = e.cell(v)
		}
	}
	sort.SliceStable(ents, func(i, j int) bool {
		a, b := keys[ents[i]], keys[ents[j]]
		if o.Desc {
			return less(b, a)
		}
		return less(a, b)
	})
}

func window(ents []cad.Entity, offset, limit *int) []cad.Entity {
	if offset != nil {
		if *offset >= len(ents) {
			return nil
		}
		ents = ents[*offset:]
	}
	if limit != nil && *limit < len(ents) {
		ents = ents[:*limit]
	}
	return ents
}

func (e *Engine) update(st *Statement, name string, matched []cad.Entity) map[string]any {
	var updated, unchanged, failed int
	details := make([]map[string]any, 0, len(matched))
	for _, ent := range matched {
		results := make(map[string]any, len(st.Assignments))
		for _, a := range st.Assignments {
			res := e.assign(ent, a)
			switch res["status"] {
			case "updated":
				updated++
			case "unchanged":
				unchanged++
			default:
				failed++
			}
			results[a.Path] = res
		}
		details = append(details, map[string]any{
			"entityToken": e.handleOf(ent),
			"results":     results,
		})
	}
	return map[string]any{
		"statementType":  string(Update),
		"objectType":     name,
		"matchedCount":   len(matched),
		"attemptedCount": len(matched) * len(st.Assignments),
		"updatedCount":   updated,
		"unchangedCount": unchanged,
		"errorCount":     failed,
		"details":        details,
	}
}

func (e *Engine) assign(ent cad.Entity, a Assignment) map[string]any {
	before, err := e.attrs.Get(ent, a.Path)
	if err != nil {
		return map[string]any{"status": "error", "error": errors.Message(err)}
	}
	old := e.cell(before)
	if toString(old) == toString(a.Value) {
		return map[string]any{"status": "unchanged", "value": old}
	}
	err = e.attrs.Set(ent, a.Path, a.Value)
	if err != nil {
		if s, isStr := a.Value.(string); isStr && e.handles != nil {
			if target, live := e.handles.Lookup(s); live {
				err = e.attrs.Set(ent, a.Path, target)
			}
		}
	}
	if err != nil {
		return map[string]any{"status": "error", "error": errors.Message(err), "value": old}
	}
	after, _ := e.attrs.Get(ent, a.Path)
	return map[string]any{"status": "updated", "oldValue": old, "newValue": e.cell(after)}
}

// cell makes a resolved value safe to put in a result: tokened entities
// become handles, anything else stays as-is.
func (e *Engine) cell(v any) any {
	if ent, ok := v.(cad.Tokened); ok && e.handles != nil {
		return e.handles.Intern(ent)
	}
	if ent, ok := v.(cad.Named); ok {
		return ent.Name()
	}
	return v
}

func (e *Engine) handleOf(ent cad.Entity) string {
	if e.handles == nil {
		return ""
	}
	return e.handles.Intern(ent)
}

func failure(statementType, objectType string, errs map[string]any) map[string]any {
	return map[string]any{
		"statementType": statementType,
		"objectType":    objectType,
		"errors":        errs,
	}
}

func errorData(err error) any {
	if pe, ok := err.(*attr.PathError); ok {
		return map[string]any{
			"message":    pe.Error(),
			"resolved":   pe.Resolved,
			"segment":    pe.Segment,
			"class":      pe.Class,
			"attributes": pe.Attributes,
			"methods":    pe.Methods,
		}
	}
	return errors.Message(err)
}

func toString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	}
	return fmt.Sprint(v)
}

func number(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	}
	return 0, false
}

// less orders numbers numerically and everything else as strings; missing
// values sort first.
func less(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b != nil
	}
	fa, okA := number(a)
	fb, okB := number(b)
	if okA && okB {
		if math.IsNaN(fa) {
			return !math.IsNaN(fb)
		}
		return fa < fb
	}
	return toString(a) < toString(b)
}
