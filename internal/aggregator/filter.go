package aggregator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ppiankov/scaggregator/internal/models"
)

// ErrMalformedFilter is returned by ParseFilter for expressions it cannot use.
var ErrMalformedFilter = errors.New("malformed filter")

type matchMode int

const (
	matchOne matchMode = iota
	matchAny
	matchAll
)

// Filter is a row predicate of the form field=value, field=v1||v2 or
// field=v1&&v2. Comparison is case-insensitive string equality. An empty
// literal inside || or && matches an empty cell, so npm|| keeps npm rows and
// rows with no value.
type Filter struct {
	Field  string
	Values []string
	mode   matchMode
	expr   string
}

// ParseFilter parses expr. An empty expression yields a nil filter.
func ParseFilter(expr string) (*Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}

	field, value, ok := strings.Cut(expr, "=")
	field = strings.TrimSpace(field)
	value = strings.TrimSpace(value)
	if !ok || field == "" || value == "" {
		return nil, fmt.Errorf("%w: %q (expected field=value)", ErrMalformedFilter, expr)
	}

	f := &Filter{Field: field, expr: expr}
	var parts []string
	switch {
	case strings.Contains(value, "||"):
		f.mode = matchAny
		parts = strings.Split(value, "||")
	case strings.Contains(value, "&&"):
		f.mode = matchAll
		parts = strings.Split(value, "&&")
	default:
		parts = []string{value}
	}

	for _, p := range parts {
		f.Values = append(f.Values, strings.ToLower(strings.TrimSpace(p)))
	}
	return f, nil
}

// OnMetadata reports whether the filter names one of the columns the merge
// prepends. Package tables lack those columns, so the merge passes every row
// while a later FilterCSV over the merged file does not.
func (f *Filter) OnMetadata() bool {
	if f == nil {
		return false
	}
	for _, c := range models.MetadataColumns {
		if strings.EqualFold(f.Field, c) {
			return true
		}
	}
	return false
}

func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.expr
}

// boundFilter is a Filter resolved against one header. index is -1 when the
// field is absent, in which case every row passes.
type boundFilter struct {
	f     *Filter
	index int
}

// Bind resolves the filter's field position in header.
func (f *Filter) Bind(header []string) boundFilter {
	idx := -1
	for i, h := range header {
		if h == f.Field {
			idx = i
			break
		}
	}
	return boundFilter{f: f, index: idx}
}

// FieldPresent reports whether the bound header contains the field.
func (b boundFilter) FieldPresent() bool {
	return b.index >= 0
}

// Match reports whether row passes. Rows too short to hold the field pass.
func (b boundFilter) Match(row []string) bool {
	if b.f == nil || b.index < 0 || b.index >= len(row) {
		return true
	}
	cell := strings.ToLower(row[b.index])

	switch b.f.mode {
	case matchAll:
		for _, v := range b.f.Values {
			if cell != v {
				return false
			}
		}
		return true
	default:
		for _, v := range b.f.Values {
			if cell == v {
				return true
			}
		}
		return false
	}
}
