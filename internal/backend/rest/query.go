package rest

import (
	"net/url"
	"strings"
)

// query builds PostgREST-style table filters.
type query struct {
	values url.Values
}

func newQuery() *query {
	return &query{values: url.Values{"select": {"*"}}}
}

func (q *query) eq(column, value string) *query {
	q.values.Add(column, "eq."+value)
	return q
}

func (q *query) in(column string, values []string) *query {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = quoteListValue(v)
	}
	q.values.Add(column, "in.("+strings.Join(quoted, ",")+")")
	return q
}

func (q *query) order(column string, desc bool) *query {
	dir := ".asc"
	if desc {
		dir = ".desc"
	}
	q.values.Set("order", column+dir)
	return q
}

func (q *query) encode() url.Values {
	return q.values
}

// quoteListValue wraps values that would break list parsing in double quotes.
func quoteListValue(v string) string {
	if !strings.ContainsAny(v, `,()"\ `) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	return `"` + v + `"`
}
