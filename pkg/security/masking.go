package security

import (
	"fmt"
	"regexp"
	"strings"

	gwerrors "github.com/PuroDelphi/mcpFirebird-sub002/pkg/errors"
)

// MaskingRule names target columns, a pattern, and a replacement. The
// pattern is applied via substitution on the stringified column value.
type MaskingRule struct {
	// Name identifies the rule in audit output and errors.
	Name string `yaml:"name"`

	// Columns are the target column names (case-insensitive).
	Columns []string `yaml:"columns"`

	// Pattern is the regular expression to replace.
	Pattern string `yaml:"pattern"`

	// Replacement substitutes each pattern match.
	Replacement string `yaml:"replacement"`
}

// compiledRule is a masking rule with its pattern compiled.
type compiledRule struct {
	MaskingRule
	re      *regexp.Regexp
	columns map[string]bool
}

// Masker applies an ordered list of masking rules and per-table row
// filters to query results. Masking operates on a deep copy so the
// unmasked result is never mutated in place.
type Masker struct {
	rules   []compiledRule
	filters map[string]*RowFilter
}

// NewMasker compiles rules and per-table filter conditions. The filters
// map is keyed by upper-cased table name.
func NewMasker(rules []MaskingRule, filters map[string]string) (*Masker, error) {
	m := &Masker{filters: make(map[string]*RowFilter, len(filters))}

	for _, rule := range rules {
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, gwerrors.Wrap(err, gwerrors.KindUnknown,
				fmt.Sprintf("compiling masking rule %q", rule.Name))
		}
		cols := make(map[string]bool, len(rule.Columns))
		for _, c := range rule.Columns {
			cols[strings.ToUpper(c)] = true
		}
		m.rules = append(m.rules, compiledRule{MaskingRule: rule, re: re, columns: cols})
	}

	for table, condition := range filters {
		filter, err := CompileRowFilter(condition)
		if err != nil {
			return nil, err
		}
		m.filters[strings.ToUpper(table)] = filter
	}
	return m, nil
}

// FilterRows drops rows not matching the table's filter. Tables without a
// filter pass through untouched. The input slice is not modified.
func (m *Masker) FilterRows(table string, rows []map[string]any) []map[string]any {
	filter, ok := m.filters[strings.ToUpper(table)]
	if !ok {
		return rows
	}

	kept := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		if filter.Match(row) {
			kept = append(kept, row)
		}
	}
	return kept
}

// MaskRows applies the masking rules to a deep copy of rows and returns
// it. The original rows are never modified.
func (m *Masker) MaskRows(rows []map[string]any) []map[string]any {
	if len(m.rules) == 0 {
		return rows
	}

	masked := make([]map[string]any, len(rows))
	for i, row := range rows {
		masked[i] = deepCopyRow(row)
		for _, rule := range m.rules {
			applyRule(masked[i], rule)
		}
	}
	return masked
}

func applyRule(row map[string]any, rule compiledRule) {
	for col, val := range row {
		if val == nil || !rule.columns[strings.ToUpper(col)] {
			continue
		}
		row[col] = rule.re.ReplaceAllString(fmt.Sprint(val), rule.Replacement)
	}
}

// deepCopyRow copies a row including nested maps and slices.
func deepCopyRow(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyRow(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}
