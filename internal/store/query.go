package store

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	DefaultPage  = 1
	DefaultLimit = 100
	MaxLimit     = 1000
	// MaxOffset keeps the row offset within a postgres integer.
	MaxOffset = math.MaxInt32

	paramPage   = "page"
	paramSort   = "sort"
	paramLimit  = "limit"
	paramFields = "fields"
)

// Kind is the column type a filter value is converted to.
type Kind int

const (
	KindText Kind = iota
	KindInt
	KindNumeric
	KindBool
	KindTime
	KindUUID
)

// Operator is a SQL comparison operator.
type Operator string

const (
	OpEqual              Operator = "="
	OpGreaterThan        Operator = ">"
	OpGreaterThanOrEqual Operator = ">="
	OpLessThan           Operator = "<"
	OpLessThanOrEqual    Operator = "<="
	OpIn                 Operator = "IN"
)

var queryOperators = map[string]Operator{
	"gt":  OpGreaterThan,
	"gte": OpGreaterThanOrEqual,
	"lt":  OpLessThan,
	"lte": OpLessThanOrEqual,
}

// Field describes one serialized field of a resource. Fields without a
// column are virtual and can only be projected.
type Field struct {
	Name     string
	Column   string
	Kind     Kind
	Filter   bool
	Sortable bool
}

// Schema is the query surface of a resource.
type Schema struct {
	IDColumn    string
	Fields      []Field
	DefaultSort []string
}

func (s Schema) field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Column returns the column backing a filterable field.
func (s Schema) Column(name string) (string, bool) {
	f, ok := s.field(name)
	if !ok || f.Column == "" {
		return "", false
	}
	return f.Column, true
}

// Condition is a single WHERE predicate. IN conditions carry a []any value.
type Condition struct {
	Column   string
	Operator Operator
	Value    any
}

// Order is a single ORDER BY term.
type Order struct {
	Column string
	Desc   bool
}

// Query is a parsed list request.
type Query struct {
	Conditions []Condition
	Sort       []Order
	Include    []string
	Exclude    []string
	Page       int
	Limit      int

	idColumn string
}

// NewQuery returns an unfiltered query with the schema's default ordering.
func NewQuery(schema Schema) Query {
	q := Query{Page: DefaultPage, Limit: DefaultLimit, idColumn: schema.IDColumn}
	q.Sort, _ = parseSort(strings.Join(schema.DefaultSort, ","), schema)
	return q
}

// ParseQuery translates query-string parameters into a Query. Reserved keys
// control paging, ordering and projection; every other key is a filter on a
// declared field, optionally with a [gt|gte|lt|lte] operator suffix.
func ParseQuery(values url.Values, schema Schema) (Query, error) {
	q := NewQuery(schema)

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	verr := &ValidationError{}
	for _, key := range keys {
		vals := values[key]
		if len(vals) == 0 {
			continue
		}
		last := strings.TrimSpace(vals[len(vals)-1])

		switch key {
		case paramPage:
			q.Page = positiveOr(last, DefaultPage)
			continue
		case paramLimit:
			q.Limit = positiveOr(last, DefaultLimit)
			if q.Limit > MaxLimit {
				q.Limit = MaxLimit
			}
			continue
		case paramSort:
			if last == "" {
				continue
			}
			orders, err := parseSort(last, schema)
			if err != nil {
				verr.Errors = append(verr.Errors, err.(*ValidationError).Errors...)
				continue
			}
			q.Sort = orders
			continue
		case paramFields:
			include, exclude, err := parseFields(last, schema)
			if err != nil {
				verr.Errors = append(verr.Errors, err.(*ValidationError).Errors...)
				continue
			}
			q.Include, q.Exclude = include, exclude
			continue
		}

		cond, err := parseFilter(key, vals, schema)
		if err != nil {
			var fe *ValidationError
			if ve, ok := err.(*ValidationError); ok {
				fe = ve
			} else {
				return Query{}, err
			}
			verr.Errors = append(verr.Errors, fe.Errors...)
			continue
		}
		q.Conditions = append(q.Conditions, cond)
	}

	if len(verr.Errors) > 0 {
		return Query{}, verr
	}
	q.Page = min(q.Page, maxPage(q.Limit))
	return q, nil
}

// Filter appends an equality or comparison condition on a raw column.
func (q *Query) Filter(column string, op Operator, value any) {
	q.Conditions = append(q.Conditions, Condition{Column: column, Operator: op, Value: value})
}

// Offset is the number of rows skipped by the page window.
func (q Query) Offset() int {
	page, limit := q.Page, q.Limit
	if page < 1 {
		page = DefaultPage
	}
	if limit < 1 {
		limit = DefaultLimit
	}
	page = min(page, maxPage(limit))
	return (page - 1) * limit
}

// maxPage is the last page whose offset fits MaxOffset.
func maxPage(limit int) int {
	return MaxOffset/limit + 1
}

// Where renders the WHERE clause with placeholders numbered from start.
func (q Query) Where(start int) (string, []any) {
	if len(q.Conditions) == 0 {
		return "", nil
	}

	parts := make([]string, 0, len(q.Conditions))
	var args []any
	param := start
	for _, cond := range q.Conditions {
		if cond.Operator == OpIn {
			values, _ := cond.Value.([]any)
			placeholders := make([]string, len(values))
			for i, v := range values {
				placeholders[i] = fmt.Sprintf("$%d", param)
				args = append(args, v)
				param++
			}
			parts = append(parts, fmt.Sprintf("%s IN (%s)", cond.Column, strings.Join(placeholders, ", ")))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s %s $%d", cond.Column, cond.Operator, param))
		args = append(args, cond.Value)
		param++
	}
	return "WHERE " + strings.Join(parts, " AND "), args
}

// OrderBy renders the ORDER BY clause, ending with the id as tiebreaker.
func (q Query) OrderBy() string {
	terms := make([]string, 0, len(q.Sort)+1)
	for _, o := range q.Sort {
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		terms = append(terms, o.Column+" "+dir)
	}
	if q.idColumn != "" {
		terms = append(terms, q.idColumn+" ASC")
	}
	if len(terms) == 0 {
		return ""
	}
	return "ORDER BY " + strings.Join(terms, ", ")
}

// Window renders LIMIT/OFFSET with placeholders numbered from start.
func (q Query) Window(start int) (string, []any) {
	limit := q.Limit
	if limit < 1 {
		limit = DefaultLimit
	}
	return fmt.Sprintf("LIMIT $%d OFFSET $%d", start, start+1), []any{limit, q.Offset()}
}

// Project applies the field selection to a serialized record. The id is
// always kept. Without a selection the record is returned unchanged.
func (q Query) Project(record any) (any, error) {
	if len(q.Include) == 0 && len(q.Exclude) == 0 {
		return record, nil
	}

	raw, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}

	if len(q.Include) > 0 {
		out := make(map[string]json.RawMessage, len(q.Include)+1)
		if id, ok := doc["id"]; ok {
			out["id"] = id
		}
		for _, name := range q.Include {
			if v, ok := doc[name]; ok {
				out[name] = v
			}
		}
		return out, nil
	}

	for _, name := range q.Exclude {
		if name != "id" {
			delete(doc, name)
		}
	}
	return doc, nil
}

func parseFilter(key string, vals []string, schema Schema) (Condition, error) {
	name, opName := key, ""
	if open := strings.IndexByte(key, '['); open > 0 && strings.HasSuffix(key, "]") {
		name, opName = key[:open], key[open+1:len(key)-1]
	}

	f, ok := schema.field(name)
	if !ok || !f.Filter {
		return Condition{}, NewValidationError(name, fmt.Sprintf("Cannot filter on %s", name))
	}

	if opName != "" {
		op, ok := queryOperators[opName]
		if !ok {
			return Condition{}, NewValidationError(name, fmt.Sprintf("Unsupported operator %s", opName))
		}
		value, err := convertValue(f, vals[len(vals)-1])
		if err != nil {
			return Condition{}, err
		}
		return Condition{Column: f.Column, Operator: op, Value: value}, nil
	}

	if len(vals) == 1 {
		value, err := convertValue(f, vals[0])
		if err != nil {
			return Condition{}, err
		}
		return Condition{Column: f.Column, Operator: OpEqual, Value: value}, nil
	}

	values := make([]any, 0, len(vals))
	for _, raw := range vals {
		value, err := convertValue(f, raw)
		if err != nil {
			return Condition{}, err
		}
		values = append(values, value)
	}
	return Condition{Column: f.Column, Operator: OpIn, Value: values}, nil
}

func convertValue(f Field, raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	invalid := NewValidationError(f.Name, fmt.Sprintf("Invalid %s: %s", f.Name, raw))

	switch f.Kind {
	case KindInt:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, invalid
		}
		return n, nil
	case KindNumeric:
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, invalid
		}
		return d, nil
	case KindBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, invalid
		}
		return b, nil
	case KindTime:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
			if t, err := time.Parse(layout, raw); err == nil {
				return t, nil
			}
		}
		return nil, invalid
	case KindUUID:
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, &InvalidIDError{Field: f.Name, Value: raw}
		}
		return id, nil
	default:
		return raw, nil
	}
}

func parseSort(raw string, schema Schema) ([]Order, error) {
	var orders []Order
	for _, term := range strings.Split(raw, ",") {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		desc := strings.HasPrefix(term, "-")
		name := strings.TrimPrefix(term, "-")

		f, ok := schema.field(name)
		if !ok || !f.Sortable {
			return nil, NewValidationError(name, fmt.Sprintf("Cannot sort by %s", name))
		}
		orders = append(orders, Order{Column: f.Column, Desc: desc})
	}
	return orders, nil
}

func parseFields(raw string, schema Schema) ([]string, []string, error) {
	var include, exclude []string
	for _, term := range strings.Split(raw, ",") {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		name := strings.TrimPrefix(term, "-")
		if _, ok := schema.field(name); !ok {
			return nil, nil, NewValidationError(name, fmt.Sprintf("Unknown field %s", name))
		}
		if strings.HasPrefix(term, "-") {
			exclude = append(exclude, name)
		} else {
			include = append(include, name)
		}
	}
	if len(include) > 0 && len(exclude) > 0 {
		return nil, nil, NewValidationError(paramFields, "Projection cannot have a mix of inclusion and exclusion")
	}
	return include, exclude, nil
}

func positiveOr(raw string, fallback int) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
