package backend

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Op is a row filter operator understood by the REST endpoint.
type Op string

const (
	OpEq    Op = "eq"
	OpNeq   Op = "neq"
	OpGt    Op = "gt"
	OpGte   Op = "gte"
	OpLt    Op = "lt"
	OpLte   Op = "lte"
	OpIn    Op = "in"
	OpIs    Op = "is"
	OpILike Op = "ilike"
)

type Filter struct {
	Column string
	Op     Op
	Value  any
}

func (f Filter) encode() string {
	switch f.Op {
	case OpIn:
		vals, _ := f.Value.([]any)
		parts := make([]string, len(vals))
		for i, v := range vals {
			parts[i] = quoteListItem(formatValue(v))
		}
		return "in.(" + strings.Join(parts, ",") + ")"
	case OpIs:
		if f.Value == nil {
			return "is.null"
		}
		return "is." + formatValue(f.Value)
	default:
		return string(f.Op) + "." + formatValue(f.Value)
	}
}

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case bool:
		return strconv.FormatBool(t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

func quoteListItem(s string) string {
	if strings.ContainsAny(s, ",()\" ") {
		return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
	}
	return s
}

type Order struct {
	Column     string
	Descending bool
}

// Query addresses rows of one table. It is a value; every builder method
// returns a modified copy.
type Query struct {
	Table   string
	Columns string
	Filters []Filter
	Orders  []Order
	Max     int
}

func From(table string) Query {
	return Query{Table: table}
}

func (q Query) with(f Filter) Query {
	q.Filters = append(append([]Filter(nil), q.Filters...), f)
	return q
}

func (q Query) Select(columns string) Query {
	q.Columns = columns
	return q
}

func (q Query) Eq(column string, v any) Query  { return q.with(Filter{column, OpEq, v}) }
func (q Query) Neq(column string, v any) Query { return q.with(Filter{column, OpNeq, v}) }
func (q Query) Gte(column string, v any) Query { return q.with(Filter{column, OpGte, v}) }
func (q Query) Lte(column string, v any) Query { return q.with(Filter{column, OpLte, v}) }
func (q Query) Lt(column string, v any) Query  { return q.with(Filter{column, OpLt, v}) }
func (q Query) IsNull(column string) Query     { return q.with(Filter{column, OpIs, nil}) }

func (q Query) ILike(column, pattern string) Query {
	return q.with(Filter{column, OpILike, pattern})
}

// In matches rows whose column is one of vals.
func (q Query) In(column string, vals ...any) Query {
	return q.with(Filter{column, OpIn, vals})
}

func (q Query) Order(column string, descending bool) Query {
	q.Orders = append(append([]Order(nil), q.Orders...), Order{column, descending})
	return q
}

func (q Query) Limit(n int) Query {
	q.Max = n
	return q
}

// Values encodes the query as URL parameters.
func (q Query) Values() url.Values {
	v := url.Values{}
	if q.Columns != "" {
		v.Set("select", q.Columns)
	}
	for _, f := range q.Filters {
		v.Add(f.Column, f.encode())
	}
	if len(q.Orders) > 0 {
		parts := make([]string, len(q.Orders))
		for i, o := range q.Orders {
			dir := "asc"
			if o.Descending {
				dir = "desc"
			}
			parts[i] = o.Column + "." + dir
		}
		v.Set("order", strings.Join(parts, ","))
	}
	if q.Max > 0 {
		v.Set("limit", strconv.Itoa(q.Max))
	}
	return v
}
