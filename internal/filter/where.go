package filter

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/vburojevic/roborec/internal/domain"
)

// WhereClause represents a parsed --where condition
type WhereClause struct {
	Field    string
	Operator string
	Value    string
	regex    *regexp.Regexp // Compiled regex for ~ and !~ operators
}

// ParseWhereClause parses a where clause like "type=VIEW_CLICK" or "text~hello"
// Supported operators: =, !=, ~, !~, >=, <=, ^, $
func ParseWhereClause(clause string) (*WhereClause, error) {
	// Try operators in order of length (longest first to avoid partial matches)
	operators := []string{"!~", ">=", "<=", "!=", "~", "=", "^", "$"}

	for _, op := range operators {
		idx := strings.Index(clause, op)
		if idx > 0 {
			field := strings.TrimSpace(clause[:idx])
			value := strings.TrimSpace(clause[idx+len(op):])

			if field == "" || value == "" {
				return nil, fmt.Errorf("invalid where clause: %s", clause)
			}

			wc := &WhereClause{
				Field:    field,
				Operator: op,
				Value:    value,
			}

			if op == "~" || op == "!~" {
				re, err := regexp.Compile(value)
				if err != nil {
					return nil, fmt.Errorf("invalid regex in where clause '%s': %w", clause, err)
				}
				wc.regex = re
			}

			return wc, nil
		}
	}

	return nil, fmt.Errorf("no valid operator found in where clause: %s (use =, !=, ~, !~, >=, <=, ^, $)", clause)
}

// Match checks if an event matches this where clause
func (wc *WhereClause) Match(ev *domain.InteractionEvent) bool {
	values := wc.fieldValues(ev)

	switch wc.Operator {
	case "=":
		return lo.Contains(values, wc.Value)
	case "!=":
		return !lo.Contains(values, wc.Value)
	case "~":
		return lo.SomeBy(values, wc.regex.MatchString)
	case "!~":
		return !lo.SomeBy(values, wc.regex.MatchString)
	case "^":
		return lo.SomeBy(values, func(v string) bool { return strings.HasPrefix(v, wc.Value) })
	case "$":
		return lo.SomeBy(values, func(v string) bool { return strings.HasSuffix(v, wc.Value) })
	case ">=":
		return wc.compareNumber(values, true)
	case "<=":
		return wc.compareNumber(values, false)
	}

	return false
}

// fieldValues extracts the candidate values of the field. Element fields yield
// one value per descriptor.
func (wc *WhereClause) fieldValues(ev *domain.InteractionEvent) []string {
	switch strings.ToLower(wc.Field) {
	case "type", "eventtype":
		return []string{string(ev.EventType)}
	case "text", "replacementtext":
		return []string{ev.ReplacementText}
	case "action", "actioncode":
		return []string{strconv.Itoa(ev.ActionCode)}
	case "timestamp":
		return []string{strconv.FormatInt(ev.Timestamp, 10)}
	case "swipe", "swipedirection":
		return []string{ev.SwipeDirection}
	case "permission":
		return ev.RequestedPermissions
	case "class", "classname":
		return lo.Map(ev.ElementDescriptors, func(d domain.ElementDescriptor, _ int) string { return d.ClassName })
	case "resource", "resourceid":
		return lo.Map(ev.ElementDescriptors, func(d domain.ElementDescriptor, _ int) string { return d.ResourceID })
	case "element", "elementtext":
		return lo.Map(ev.ElementDescriptors, func(d domain.ElementDescriptor, _ int) string { return d.Text })
	default:
		return nil
	}
}

// compareNumber handles >= and <= comparisons for numeric fields
func (wc *WhereClause) compareNumber(values []string, greaterOrEqual bool) bool {
	target, err := strconv.ParseInt(wc.Value, 10, 64)
	if err != nil {
		return false
	}
	return lo.SomeBy(values, func(v string) bool {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return false
		}
		if greaterOrEqual {
			return n >= target
		}
		return n <= target
	})
}

// WhereFilter is a filter that applies multiple where clauses (AND logic)
type WhereFilter struct {
	clauses []*WhereClause
}

// NewWhereFilter creates a filter from multiple where clause strings
func NewWhereFilter(whereClauses []string) (*WhereFilter, error) {
	if len(whereClauses) == 0 {
		return nil, nil
	}

	filter := &WhereFilter{}
	for _, clause := range whereClauses {
		wc, err := ParseWhereClause(clause)
		if err != nil {
			return nil, err
		}
		filter.clauses = append(filter.clauses, wc)
	}

	return filter, nil
}

// Match returns true if the event matches ALL where clauses (AND logic)
func (f *WhereFilter) Match(ev *domain.InteractionEvent) bool {
	if f == nil {
		return true
	}
	for _, clause := range f.clauses {
		if !clause.Match(ev) {
			return false
		}
	}
	return true
}
