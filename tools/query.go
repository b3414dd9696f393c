package tools

import "github.com/m4xw311/cadlink/errors"

func queryTools() []Tool {
	return []Tool{Define(runSQLQuerySchema, runSQLQuery)}
}

const runSQLQuerySchema = `{
  "name": "run_sql_query",
  "description": "Runs a SQL-like SELECT or UPDATE against the entities of the active design. SELECT <attr>, ... FROM <EntityKind> [WHERE <attr> [NOT] LIKE|= <literal> [AND|OR ...]] [ORDER BY <attr> [ASC|DESC]] [LIMIT n] [OFFSET n]; UPDATE <EntityKind> SET <attr>=<literal>, ... [WHERE ...] [LIMIT n] [OFFSET n]. Kinds include Component, Occurrence, BRepBody, BRepEdge, BRepFace, Sketch, Profile, Parameter and TimelineItem. Errors come back as data with the available attributes.",
  "parameters": {
    "type": "object",
    "properties": {
      "query": {"type": "string"}
    },
    "required": ["query"],
    "additionalProperties": false
  },
  "returns": "SELECT rows or UPDATE counts and details"
}`

type runSQLQueryArgs struct {
	Query string `json:"query"`
}

func runSQLQuery(env *Env, a runSQLQueryArgs) (any, error) {
	if env.Query == nil {
		return nil, errors.New("query engine is not available")
	}
	return env.Query.Execute(a.Query), nil
}
