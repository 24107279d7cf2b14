// Package analytics is the ephemeral analytical surface: a lazily opened
// DuckDB connection scanning the Parquet partitions, with the SQLite
// metadata store attached read-only for dimension joins.
package analytics

import (
	"fmt"
	"regexp"
	"strings"
)

// TableBinding resolves one named table placeholder in a query to either a
// Parquet scan expression or an attached metadata table. Binding is explicit
// so the substitution mechanism stays testable in isolation; raw string
// templating is deliberately not exposed.
type TableBinding struct {
	placeholder  string
	expr         string
	empty        bool
	requiresMeta bool
}

func quotePath(p string) string {
	return "'" + strings.ReplaceAll(p, "'", "''") + "'"
}

// BindPartitionFiles binds a placeholder to an explicit partition file list.
// An empty list marks the whole query as an empty scan.
func BindPartitionFiles(placeholder string, files []string) TableBinding {
	if len(files) == 0 {
		return TableBinding{placeholder: placeholder, empty: true}
	}
	quoted := make([]string, len(files))
	for i, f := range files {
		quoted[i] = quotePath(f)
	}
	return TableBinding{
		placeholder: placeholder,
		expr:        fmt.Sprintf("read_parquet([%s])", strings.Join(quoted, ", ")),
	}
}

// BindPartitionGlob binds a placeholder to a glob over partition files.
// hasData comes from a cheap directory probe; false short-circuits the query.
func BindPartitionGlob(placeholder, pattern string, hasData bool) TableBinding {
	if !hasData {
		return TableBinding{placeholder: placeholder, empty: true}
	}
	return TableBinding{
		placeholder: placeholder,
		expr:        fmt.Sprintf("read_parquet(%s, hive_partitioning = true)", quotePath(pattern)),
	}
}

// BindMetaTable binds a placeholder to a table in the attached metadata
// schema. The engine refuses the query when no metadata store is attached.
func BindMetaTable(placeholder, table string) TableBinding {
	return TableBinding{
		placeholder:  placeholder,
		expr:         "meta." + table,
		requiresMeta: true,
	}
}

// Query is a SQL text with named table placeholders of the form {name}.
type Query struct {
	text     string
	bindings []TableBinding
}

func NewQuery(text string, bindings ...TableBinding) *Query {
	return &Query{text: text, bindings: bindings}
}

// HasEmptyScan reports whether any bound partition set has no data, in
// which case execution must short-circuit to an empty result.
func (q *Query) HasEmptyScan() bool {
	for _, b := range q.bindings {
		if b.empty {
			return true
		}
	}
	return false
}

func (q *Query) requiresMeta() bool {
	for _, b := range q.bindings {
		if b.requiresMeta {
			return true
		}
	}
	return false
}

var placeholderRe = regexp.MustCompile(`\{[a-z_]+\}`)

// Build resolves every placeholder and returns the executable SQL. An
// unresolved placeholder or an unused binding is a programming error and
// fails fast.
func (q *Query) Build() (string, error) {
	text := q.text
	for _, b := range q.bindings {
		marker := "{" + b.placeholder + "}"
		if !strings.Contains(text, marker) {
			return "", fmt.Errorf("binding %q not referenced in query", b.placeholder)
		}
		text = strings.ReplaceAll(text, marker, b.expr)
	}
	if leftover := placeholderRe.FindString(text); leftover != "" {
		return "", fmt.Errorf("unbound table placeholder %s", leftover)
	}
	return text, nil
}
