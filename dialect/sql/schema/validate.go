package schema

import (
	"fmt"
	"slices"
	"strings"

	"github.com/syssam/strata/dialect/sql"
)

// ValidationError is a problem in a table definition, or a risky change
// between two versions of it.
type ValidationError struct {
	Table   string
	Column  string // may be empty
	Message string
	// Breaking marks changes that can lose data.
	Breaking bool
}

func (e *ValidationError) Error() string {
	if e.Column == "" {
		return e.Table + ": " + e.Message
	}
	return e.Table + "." + e.Column + ": " + e.Message
}

// ValidationResult holds the problems found by a validation.
type ValidationResult struct {
	Errors   []*ValidationError
	Warnings []*ValidationError
}

// HasErrors reports whether the validation found errors.
func (r *ValidationResult) HasErrors() bool { return len(r.Errors) > 0 }

// HasWarnings reports whether the validation found warnings.
func (r *ValidationResult) HasWarnings() bool { return len(r.Warnings) > 0 }

// HasBreakingChanges reports whether any problem is marked as breaking.
func (r *ValidationResult) HasBreakingChanges() bool {
	breaking := func(e *ValidationError) bool { return e.Breaking }
	return slices.ContainsFunc(r.Errors, breaking) || slices.ContainsFunc(r.Warnings, breaking)
}

// String lists the errors and then the warnings, one per line.
func (r *ValidationResult) String() string {
	if !r.HasErrors() && !r.HasWarnings() {
		return "No issues found"
	}
	var sb strings.Builder
	section := func(title string, issues []*ValidationError) {
		if len(issues) == 0 {
			return
		}
		sb.WriteString(title + ":\n")
		for _, e := range issues {
			sb.WriteString("  - " + e.Error())
			if e.Breaking {
				sb.WriteString(" [BREAKING]")
			}
			sb.WriteByte('\n')
		}
	}
	section("Errors", r.Errors)
	section("Warnings", r.Warnings)
	return sb.String()
}

func (r *ValidationResult) add(e *ValidationError, isErr bool) {
	if isErr {
		r.Errors = append(r.Errors, e)
	} else {
		r.Warnings = append(r.Warnings, e)
	}
}

func (r *ValidationResult) merge(o *ValidationResult) {
	r.Errors = append(r.Errors, o.Errors...)
	r.Warnings = append(r.Warnings, o.Warnings...)
}

// ValidateTable checks a single table definition. Column and constraint
// names must be unique, constraints must reference existing columns and
// enum columns must list their values. A missing primary key is a warning.
func ValidateTable(t *Table) *ValidationResult {
	res := &ValidationResult{}
	fail := func(column, format string, args ...any) {
		res.add(&ValidationError{Table: t.Name, Column: column, Message: fmt.Sprintf(format, args...)}, true)
	}
	if t.Name == "" {
		fail("", "table has no name")
	}
	if len(t.Columns) == 0 {
		fail("", "table has no columns")
	}
	if len(t.PrimaryKey) == 0 {
		res.add(&ValidationError{Table: t.Name, Message: "table has no primary key"}, false)
	}
	columns := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if columns[c.Name] {
			fail(c.Name, "duplicate column name")
		}
		columns[c.Name] = true
		if c.Type == sql.TypeEnum && len(c.Enums) == 0 {
			fail(c.Name, "enum column has no values")
		}
	}
	seen := make(map[string]bool)
	for _, c := range t.Constraints() {
		name := c.ConstraintName(t.Name)
		if seen[name] {
			fail("", "duplicate constraint name: %s", name)
		}
		seen[name] = true
		for _, col := range c.ConstraintColumns() {
			if !columns[col] {
				fail("", "constraint %q references non-existent column %q", name, col)
			}
		}
	}
	return res
}

// ValidateSchema validates every table and checks that table names are
// unique, and that enum columns sharing a Postgres type list the same
// values. References to unknown tables are left to Order, which reports
// them together with cycles.
func ValidateSchema(tables []*Table) *ValidationResult {
	res := &ValidationResult{}
	seen := make(map[string]bool, len(tables))
	type owner struct {
		table  string
		column sql.Column
	}
	enums := make(map[string]owner)
	for _, t := range tables {
		if seen[t.Name] {
			res.add(&ValidationError{Table: t.Name, Message: "duplicate table name"}, true)
		}
		seen[t.Name] = true
		res.merge(ValidateTable(t))
		for _, c := range t.Columns {
			if c.Type != sql.TypeEnum {
				continue
			}
			name := c.EnumTypeName(t.Name)
			first, ok := enums[name]
			if !ok {
				enums[name] = owner{table: t.Name, column: c}
				continue
			}
			if !slices.Equal(first.column.Enums, c.Enums) {
				res.add(&ValidationError{
					Table:   t.Name,
					Column:  c.Name,
					Message: fmt.Sprintf("enum type %q is shared with %s.%s but lists different values", name, first.table, first.column.Name),
				}, true)
			}
		}
	}
	return res
}


// ValidateOption relaxes ValidateDiff.
type ValidateOption func(*allowed)

type allowed uint8

const (
	allowDropColumn allowed = 1 << iota
	allowDropTable
	allowDropUnique
	allowNullToNotNull
)

func allow(a allowed) ValidateOption {
	return func(set *allowed) { *set |= a }
}

// AllowDropColumn reports dropped columns as warnings.
func AllowDropColumn() ValidateOption { return allow(allowDropColumn) }

// AllowDropTable reports dropped tables as warnings.
func AllowDropTable() ValidateOption { return allow(allowDropTable) }

// AllowDropUnique reports dropped unique constraints as warnings.
func AllowDropUnique() ValidateOption { return allow(allowDropUnique) }

// AllowNullToNotNull reports nullable columns becoming NOT NULL as warnings.
func AllowNullToNotNull() ValidateOption { return allow(allowNullToNotNull) }

// ValidateDiff compares a previous snapshot of the tables with their
// current definitions. Changes that lose data are errors unless allowed by
// an option, in which case they are reported as warnings. Removing an enum
// value is always an error.
//
//	prev, _ := schema.ReadSnapshot(r)
//	res := schema.ValidateDiff(prev.Tables, tables)
//	if res.HasErrors() {
//		return errors.New(res.String())
//	}
func ValidateDiff(current, desired []*Table, opts ...ValidateOption) *ValidationResult {
	d := &differ{res: &ValidationResult{}}
	for _, opt := range opts {
		opt(&d.allowed)
	}
	byName := make(map[string]*Table, len(desired))
	for _, t := range desired {
		byName[t.Name] = t
	}
	for _, cur := range current {
		if want, ok := byName[cur.Name]; ok {
			d.table(cur, want)
			continue
		}
		d.breaking(allowDropTable, &ValidationError{Table: cur.Name, Message: "table will be dropped"})
	}
	return d.res
}

type differ struct {
	allowed
	res *ValidationResult
}

// breaking records a data-losing change, as an error unless a is allowed.
func (d *differ) breaking(a allowed, e *ValidationError) {
	e.Breaking = true
	d.res.add(e, a == 0 || d.allowed&a == 0)
}

func (d *differ) warn(table, column, format string, args ...any) {
	d.res.add(&ValidationError{Table: table, Column: column, Message: fmt.Sprintf(format, args...)}, false)
}

func (d *differ) table(cur, want *Table) {
	for _, c := range cur.Columns {
		if !want.HasColumn(c.Name) {
			d.breaking(allowDropColumn, &ValidationError{Table: cur.Name, Column: c.Name, Message: "column will be dropped"})
		}
	}
	for _, w := range want.Columns {
		c, ok := cur.Column(w.Name)
		if !ok {
			if !w.Nullable && w.Default == nil && w.Type != sql.TypeSerial {
				d.warn(cur.Name, w.Name, "new NOT NULL column without default value may fail if table has data")
			}
			continue
		}
		d.column(cur.Name, c, w)
	}
	curUniques, wantUniques := uniqueNames(cur), uniqueNames(want)
	for _, name := range wantUniques {
		if !slices.Contains(curUniques, name) {
			d.warn(cur.Name, "", "adding unique constraint %q may fail if duplicate values exist", name)
		}
	}
	for _, name := range curUniques {
		if !slices.Contains(wantUniques, name) {
			d.res.add(&ValidationError{
				Table:   cur.Name,
				Message: fmt.Sprintf("unique constraint %q will be dropped", name),
			}, d.allowed&allowDropUnique == 0)
		}
	}
}

func (d *differ) column(table string, cur, want sql.Column) {
	if cur.Type != want.Type {
		d.warn(table, want.Name, "column type changing from %v to %v", cur.Type, want.Type)
	}
	if cur.Nullable && !want.Nullable {
		d.breaking(allowNullToNotNull, &ValidationError{
			Table:   table,
			Column:  want.Name,
			Message: "column changing from NULL to NOT NULL may fail if column has NULL values",
		})
	}
	if cur.Size > 0 && want.Size > 0 && want.Size < cur.Size {
		d.warn(table, want.Name, "column size reducing from %d to %d may truncate data", cur.Size, want.Size)
	}
	for _, v := range cur.Enums {
		if !slices.Contains(want.Enums, v) {
			d.breaking(0, &ValidationError{Table: table, Column: want.Name, Message: fmt.Sprintf("enum value %q will be removed", v)})
		}
	}
}

func uniqueNames(t *Table) []string {
	names := make([]string, 0, len(t.Uniques))
	for _, u := range t.Uniques {
		names = append(names, u.ConstraintName(t.Name))
	}
	return names
}
