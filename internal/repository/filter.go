package repository

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInvalidFilter is returned for query strings the table API cannot apply.
var ErrInvalidFilter = errors.New("invalid filter")

// Filter is one column predicate: eq.<value> or in.(<v1>,<v2>).
type Filter struct {
	Column string
	Op     string
	Values []string
}

// Query is a parsed PostgREST-style table query.
type Query struct {
	Filters []Filter
	Order   *clause.OrderByColumn
	Limit   int
}

// Eq returns q with an equality filter appended.
func (q Query) Eq(column, value string) Query {
	q.Filters = append(append([]Filter(nil), q.Filters...), Filter{Column: column, Op: "eq", Values: []string{value}})
	return q
}

// Has reports whether q filters column with eq on value.
func (q Query) Has(column, value string) bool {
	for _, f := range q.Filters {
		if f.Column == column && f.Op == "eq" && f.Values[0] == value {
			return true
		}
	}
	return false
}

// ParseQuery reads filters, order and limit from values. Only columns in
// allowed may be filtered or ordered on; "select" is accepted and ignored.
func ParseQuery(values url.Values, allowed map[string]bool) (Query, error) {
	var q Query
	for key, vals := range values {
		for _, raw := range vals {
			switch key {
			case "select":
				continue
			case "order":
				order, err := parseOrder(raw, allowed)
				if err != nil {
					return Query{}, err
				}
				q.Order = order
			case "limit":
				n, err := strconv.Atoi(raw)
				if err != nil || n < 0 {
					return Query{}, fmt.Errorf("%w: limit %q", ErrInvalidFilter, raw)
				}
				q.Limit = n
			default:
				if !allowed[key] {
					return Query{}, fmt.Errorf("%w: unknown column %q", ErrInvalidFilter, key)
				}
				f, err := parseFilter(key, raw)
				if err != nil {
					return Query{}, err
				}
				q.Filters = append(q.Filters, f)
			}
		}
	}
	return q, nil
}

func parseOrder(raw string, allowed map[string]bool) (*clause.OrderByColumn, error) {
	column, dir, _ := strings.Cut(raw, ".")
	if !allowed[column] {
		return nil, fmt.Errorf("%w: cannot order by %q", ErrInvalidFilter, column)
	}
	switch dir {
	case "", "asc":
		return &clause.OrderByColumn{Column: clause.Column{Name: column}}, nil
	case "desc":
		return &clause.OrderByColumn{Column: clause.Column{Name: column}, Desc: true}, nil
	}
	return nil, fmt.Errorf("%w: order direction %q", ErrInvalidFilter, dir)
}

func parseFilter(column, raw string) (Filter, error) {
	op, operand, ok := strings.Cut(raw, ".")
	if !ok {
		return Filter{}, fmt.Errorf("%w: %s=%s", ErrInvalidFilter, column, raw)
	}
	switch op {
	case "eq":
		return Filter{Column: column, Op: op, Values: []string{operand}}, nil
	case "in":
		if !strings.HasPrefix(operand, "(") || !strings.HasSuffix(operand, ")") {
			return Filter{}, fmt.Errorf("%w: %s list must be parenthesized", ErrInvalidFilter, column)
		}
		values, err := parseList(operand[1 : len(operand)-1])
		if err != nil {
			return Filter{}, fmt.Errorf("%w: %s: %v", ErrInvalidFilter, column, err)
		}
		return Filter{Column: column, Op: op, Values: values}, nil
	}
	return Filter{}, fmt.Errorf("%w: operator %q", ErrInvalidFilter, op)
}

// parseList splits a comma-separated list in which elements may be double
// quoted, with backslash escapes inside quotes.
func parseList(s string) ([]string, error) {
	if s == "" {
		return []string{}, nil
	}
	var (
		out    []string
		cur    strings.Builder
		quoted bool
		inQ    bool
	)
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case inQ && ch == '\\':
			if i+1 >= len(s) {
				return nil, errors.New("dangling escape")
			}
			i++
			cur.WriteByte(s[i])
		case inQ && ch == '"':
			inQ = false
		case inQ:
			cur.WriteByte(ch)
		case ch == '"':
			if cur.Len() > 0 || quoted {
				return nil, errors.New("unexpected quote")
			}
			inQ, quoted = true, true
		case ch == ',':
			out = append(out, cur.String())
			cur.Reset()
			quoted = false
		default:
			if quoted {
				return nil, errors.New("text after closing quote")
			}
			cur.WriteByte(ch)
		}
	}
	if inQ {
		return nil, errors.New("unterminated quote")
	}
	return append(out, cur.String()), nil
}

// Apply adds q's predicates, order and limit to db.
func (q Query) Apply(db *gorm.DB) *gorm.DB {
	for _, f := range q.Filters {
		col := clause.Column{Name: f.Column}
		switch f.Op {
		case "eq":
			db = db.Where(clause.Eq{Column: col, Value: f.Values[0]})
		case "in":
			vals := make([]interface{}, len(f.Values))
			for i, v := range f.Values {
				vals[i] = v
			}
			db = db.Where(clause.IN{Column: col, Values: vals})
		}
	}
	if q.Order != nil {
		db = db.Order(*q.Order)
	}
	if q.Limit > 0 {
		db = db.Limit(q.Limit)
	}
	return db
}
