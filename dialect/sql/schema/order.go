package schema

import (
	"slices"
	"strings"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect/sql"
)

// Persistable is implemented by definitions that own a table and can
// create it.
type Persistable interface {
	// TableName returns the name of the owned table.
	TableName() string
	// DependsOn returns the tables that must exist before the owned one.
	DependsOn() []string
	// CreateQueries returns the statements creating the owned table.
	CreateQueries(dialect string, ifNotExists bool) []sql.Querier
}

// DependencyError reports tables whose dependencies can never be met,
// either because of a reference cycle or a reference to an unknown table.
type DependencyError struct {
	// Unmet holds the missing dependencies, sorted and deduplicated.
	Unmet []string
	// Tables holds the tables that could not be ordered.
	Tables []string
}

// Error returns the error string.
func (e *DependencyError) Error() string {
	return "circular or unmet table dependency detected. Unmet dependencies: " + strings.Join(e.Unmet, ", ")
}

// Order returns ps sorted such that every element comes after the tables
// it depends on. Tables listed in created are considered to exist already.
// Elements without pending dependencies keep their relative order.
//
// Order fails with a ConfigError wrapping a DependencyError when a pass over
// the remaining elements makes no progress.
func Order(created []string, ps ...Persistable) ([]Persistable, error) {
	done := make(map[string]bool, len(created)+len(ps))
	for _, name := range created {
		done[name] = true
	}
	ordered := make([]Persistable, 0, len(ps))
	pending := ps
	for len(pending) > 0 {
		var next []Persistable
		for _, p := range pending {
			if ready(p, done) {
				ordered = append(ordered, p)
				done[p.TableName()] = true
			} else {
				next = append(next, p)
			}
		}
		if len(next) == len(pending) {
			return nil, strata.NewConfigError("", unmet(next, done))
		}
		pending = next
	}
	return ordered, nil
}

func ready(p Persistable, done map[string]bool) bool {
	for _, dep := range p.DependsOn() {
		if dep != p.TableName() && !done[dep] {
			return false
		}
	}
	return true
}

func unmet(ps []Persistable, done map[string]bool) *DependencyError {
	err := &DependencyError{}
	for _, p := range ps {
		err.Tables = append(err.Tables, p.TableName())
		for _, dep := range p.DependsOn() {
			if dep != p.TableName() && !done[dep] {
				err.Unmet = append(err.Unmet, dep)
			}
		}
	}
	slices.Sort(err.Unmet)
	err.Unmet = slices.Compact(err.Unmet)
	return err
}

// Plan orders ps and returns their creation statements for the dialect.
func Plan(dialect string, ifNotExists bool, ps ...Persistable) ([]sql.Querier, error) {
	ordered, err := Order(nil, ps...)
	if err != nil {
		return nil, err
	}
	var qs []sql.Querier
	for _, p := range ordered {
		qs = append(qs, p.CreateQueries(dialect, ifNotExists)...)
	}
	return qs, nil
}
