// Package query runs a small SQL-like language against the object graph of
// the active design.
//
//	SELECT <attr>(,<attr>)* FROM <EntityKind>
//	    [WHERE <cond> ((AND|OR) <cond>)*]
//	    [ORDER BY <attr> [ASC|DESC]] [LIMIT <int>] [OFFSET <int>]
//
//	UPDATE <EntityKind> SET <attr>=<lit>(,<attr>=<lit>)*
//	    [WHERE ...] [LIMIT <int>] [OFFSET <int>]
//
//	<cond> ::= <attr_path> [NOT] (LIKE|=) <lit>
//	<lit>  ::= '...' | signed-number | true | false
//
// Conditions combine left to right with no precedence. Results and errors
// are both returned as data so the agent can iterate on a failed query.
package query

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/m4xw311/cadlink/errors"
)

// Kind is the statement type.
type Kind string

const (
	Select Kind = "SELECT"
	Update Kind = "UPDATE"
)

// Op is a comparison operator.
type Op string

const (
	Like  Op = "LIKE"
	Equal Op = "="
)

// Logic joins a condition to the result of the conditions before it.
type Logic string

const (
	LogicNone Logic = ""
	LogicAnd  Logic = "AND"
	LogicOr   Logic = "OR"
)

// Condition is one WHERE predicate.
type Condition struct {
	Path  string
	Op    Op
	Not   bool
	Value any
	Logic Logic
}

// Assignment is one SET clause entry.
type Assignment struct {
	Path  string
	Value any
}

// Order is an ORDER BY clause.
type Order struct {
	Path string
	Desc bool
}

// Statement is a parsed query.
type Statement struct {
	Kind        Kind
	EntityKind  string
	Projection  []string
	Assignments []Assignment
	Where       []Condition
	OrderBy     *Order
	Limit       *int
	Offset      *int
}

const (
	pathPattern = `[A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z_][A-Za-z0-9_]*)*`
	litPattern  = `'(?:[^']|'')*'|[-+]?(?:\d+\.?\d*|\.\d+)(?:[eE][-+]?\d+)?|(?i:true|false)`
)

var (
	selectRe = regexp.MustCompile(`(?is)^\s*SELECT\s+(.+?)\s+FROM\s+([A-Za-z_]\w*)` +
		`(?:\s+WHERE\s+(.+?))?` +
		`(?:\s+ORDER\s+BY\s+(` + pathPattern + `)(?:\s+(ASC|DESC))?)?` +
		`(?:\s+LIMIT\s+(\d+))?(?:\s+OFFSET\s+(\d+))?\s*;?\s*$`)
	updateRe     = regexp.MustCompile(`(?is)^\s*UPDATE\s+([A-Za-z_]\w*)\s+SET\s+(.*)$`)
	updateTailRe = regexp.MustCompile(`(?is)^(?:\s+WHERE\s+(.+?))?` +
		`(?:\s+LIMIT\s+(\d+))?(?:\s+OFFSET\s+(\d+))?\s*;?\s*$`)
	projectionRe = regexp.MustCompile(`^(?:` + pathPattern + `|\*)$`)
	assignRe     = regexp.MustCompile(`^\s*(` + pathPattern + `)\s*=\s*(` + litPattern + `)`)
	commaRe      = regexp.MustCompile(`^\s*,`)
	condRe       = regexp.MustCompile(`^\s*(` + pathPattern + `)\s*(?i:(NOT)\s+)?(?i:(LIKE)\b|(=|!=|<>))\s*(` + litPattern + `)`)
	logicRe      = regexp.MustCompile(`^\s+(?i:(AND|OR))\s+`)
)

// Grammar is the short grammar summary returned with parse errors.
const Grammar = "SELECT <attr>(,<attr>)* FROM <EntityKind> [WHERE <attr> [NOT] (LIKE|=) <lit> ((AND|OR) ...)*] [ORDER BY <attr> [ASC|DESC]] [LIMIT n] [OFFSET n] | " +
	"UPDATE <EntityKind> SET <attr>=<lit>(,<attr>=<lit>)* [WHERE ...] [LIMIT n] [OFFSET n]"

// Parse parses one statement. Anything not fully matched is rejected.
func Parse(text string) (*Statement, error) {
	if m := selectRe.FindStringSubmatch(text); m != nil {
		st := &Statement{Kind: Select, EntityKind: m[2]}
		for _, p := range strings.Split(m[1], ",") {
			p = strings.TrimSpace(p)
			if !projectionRe.MatchString(p) {
				return nil, errors.New("invalid attribute %q in SELECT list", p)
			}
			st.Projection = append(st.Projection, p)
		}
		if err := st.parseTail(m[3], m[6], m[7]); err != nil {
			return nil, err
		}
		if m[4] != "" {
			st.OrderBy = &Order{Path: m[4], Desc: strings.EqualFold(m[5], "DESC")}
		}
		return st, nil
	}
	if m := updateRe.FindStringSubmatch(text); m != nil {
		st := &Statement{Kind: Update, EntityKind: m[1]}
		// Literals are consumed whole so keywords inside quotes stay put.
		rest := m[2]
		for {
			am := assignRe.FindStringSubmatch(rest)
			if am == nil {
				return nil, errors.New("invalid SET clause near %q", strings.TrimSpace(rest))
			}
			v, err := literal(am[2])
			if err != nil {
				return nil, err
			}
			st.Assignments = append(st.Assignments, Assignment{Path: am[1], Value: v})
			rest = rest[len(am[0]):]
			cm := commaRe.FindString(rest)
			if cm == "" {
				break
			}
			rest = rest[len(cm):]
		}
		tm := updateTailRe.FindStringSubmatch(rest)
		if tm == nil {
			return nil, errors.New("invalid SET clause near %q", strings.TrimSpace(rest))
		}
		if err := st.parseTail(tm[1], tm[2], tm[3]); err != nil {
			return nil, err
		}
		return st, nil
	}
	return nil, errors.New("statement does not match the grammar")
}

func (st *Statement) parseTail(where, limit, offset string) error {
	if where != "" {
		conds, err := parseWhere(where)
		if err != nil {
			return err
		}
		st.Where = conds
	}
	if limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil {
			return errors.New("invalid LIMIT %q", limit)
		}
		st.Limit = &n
	}
	if offset != "" {
		n, err := strconv.Atoi(offset)
		if err != nil {
			return errors.New("invalid OFFSET %q", offset)
		}
		st.Offset = &n
	}
	return nil
}

func parseWhere(text string) ([]Condition, error) {
	var out []Condition
	rest := text
	logic := LogicNone
	for {
		m := condRe.FindStringSubmatch(rest)
		if m == nil {
			return nil, errors.New("invalid WHERE condition near %q", strings.TrimSpace(rest))
		}
		v, err := literal(m[5])
		if err != nil {
			return nil, err
		}
		c := Condition{Path: m[1], Not: m[2] != "", Value: v, Logic: logic}
		switch {
		case m[3] != "":
			c.Op = Like
		case m[4] == "=":
			c.Op = Equal
		default:
			c.Op, c.Not = Equal, !c.Not
		}
		out = append(out, c)
		rest = rest[len(m[0]):]
		if strings.TrimSpace(rest) == "" {
			return out, nil
		}
		lm := logicRe.FindStringSubmatch(rest)
		if lm == nil {
			return nil, errors.New("expected AND or OR near %q", strings.TrimSpace(rest))
		}
		logic = Logic(strings.ToUpper(lm[1]))
		rest = rest[len(lm[0]):]
	}
}

func literal(s string) (any, error) {
	switch {
	case strings.HasPrefix(s, "'"):
		return strings.ReplaceAll(s[1:len(s)-1], "''", "'"), nil
	case strings.EqualFold(s, "true"):
		return true, nil
	case strings.EqualFold(s, "false"):
		return false, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, errors.New("invalid literal %q", s)
	}
	return f, nil
}

// likeRegexp compiles a SQL LIKE pattern to a case-insensitive anchored
// regular expression.
func likeRegexp(pattern string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("(?is)^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String())
}
