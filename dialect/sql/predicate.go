package sql

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/syssam/strata/dialect"
)

type predKind uint8

const (
	predLeaf predKind = iota
	predAnd
	predOr
	predNot
)

// Predicate is a boolean-valued expression used in WHERE, HAVING and
// JOIN ON clauses. Predicates compose with And, Or and Not.
type Predicate struct {
	kind  predKind
	items []*Predicate
	fn    func(*Builder)
}

// P creates a leaf predicate from a render function.
func P(fn func(*Builder)) *Predicate {
	return &Predicate{kind: predLeaf, fn: fn}
}

// Render implements Expr.
func (p *Predicate) Render(b *Builder) {
	switch p.kind {
	case predLeaf:
		p.fn(b)
	case predNot:
		b.WriteString("NOT ")
		b.Nested(p.items[0].Render)
	case predAnd, predOr:
		if len(p.items) == 0 {
			if p.kind == predAnd {
				b.WriteString("1 = 1")
			} else {
				b.WriteString("1 = 0")
			}
			return
		}
		sep := " AND "
		if p.kind == predOr {
			sep = " OR "
		}
		for i, it := range p.items {
			if i > 0 {
				b.WriteString(sep)
			}
			if it.kind == predAnd || it.kind == predOr {
				b.Nested(it.Render)
			} else {
				it.Render(b)
			}
		}
	}
}

func combine(kind predKind, preds []*Predicate) *Predicate {
	items := make([]*Predicate, 0, len(preds))
	for _, p := range preds {
		if p == nil {
			continue
		}
		// Flatten nested combinators of the same kind.
		if p.kind == kind {
			items = append(items, p.items...)
			continue
		}
		items = append(items, p)
	}
	if len(items) == 1 {
		return items[0]
	}
	return &Predicate{kind: kind, items: items}
}

// And combines the predicates with AND. Nil predicates are skipped.
func And(preds ...*Predicate) *Predicate { return combine(predAnd, preds) }

// Or combines the predicates with OR. Nil predicates are skipped.
func Or(preds ...*Predicate) *Predicate { return combine(predOr, preds) }

// Not negates the predicate. Negating nil fails the build.
func Not(pred *Predicate) *Predicate {
	if pred == nil {
		return P(func(b *Builder) {
			b.AddError(errors.New("dialect/sql: NOT of a nil predicate"))
		})
	}
	return &Predicate{kind: predNot, items: []*Predicate{pred}}
}

// EQ returns a "col = v" predicate. A nil value renders "col IS NULL".
func EQ(col string, v any) *Predicate { return compare(col, "=", v) }

// NEQ returns a "col <> v" predicate. A nil value renders "col IS NOT NULL".
func NEQ(col string, v any) *Predicate { return compare(col, "<>", v) }

// GT returns a "col > v" predicate.
func GT(col string, v any) *Predicate { return compare(col, ">", v) }

// GTE returns a "col >= v" predicate.
func GTE(col string, v any) *Predicate { return compare(col, ">=", v) }

// LT returns a "col < v" predicate.
func LT(col string, v any) *Predicate { return compare(col, "<", v) }

// LTE returns a "col <= v" predicate.
func LTE(col string, v any) *Predicate { return compare(col, "<=", v) }

func compare(col, op string, v any) *Predicate {
	return Compare(C(col), op, v)
}

var operators = map[string]bool{
	"=": true, "<>": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true,
	"LIKE": true, "NOT LIKE": true,
}

// Compare returns "lhs op rhs" for an arbitrary left-hand expression.
// Comparing with nil using = or <> renders IS NULL or IS NOT NULL.
func Compare(lhs Expr, op string, rhs any) *Predicate {
	return P(func(b *Builder) {
		op := strings.ToUpper(op)
		if !operators[op] {
			b.AddError(fmt.Errorf("dialect/sql: unknown comparison operator %q", op))
			return
		}
		lhs.Render(b)
		if isNilValue(rhs) {
			switch op {
			case "=":
				b.WriteString(" IS NULL")
				return
			case "<>", "!=":
				b.WriteString(" IS NOT NULL")
				return
			}
		}
		b.WriteByte(' ').WriteString(op).WriteByte(' ').Arg(rhs)
	})
}

// BinaryEQ compares col and v byte by byte. MySQL needs the BINARY prefix
// for that; the other dialects compare case-sensitively already.
func BinaryEQ(col string, v any) *Predicate {
	return P(func(b *Builder) {
		if b.Dialect() == dialect.MySQL {
			b.WriteString("BINARY ")
		}
		b.Ident(col).WriteString(" = ").Arg(v)
	})
}

// ColumnsEQ returns a "c1 = c2" predicate between two columns.
func ColumnsEQ(c1, c2 string) *Predicate { return ColumnsOp(c1, "=", c2) }

// ColumnsOp returns "c1 op c2" between two columns.
func ColumnsOp(c1, op, c2 string) *Predicate {
	return P(func(b *Builder) {
		if !operators[op] {
			b.AddError(fmt.Errorf("dialect/sql: unknown comparison operator %q", op))
			return
		}
		b.Ident(c1).WriteByte(' ').WriteString(op).WriteByte(' ').Ident(c2)
	})
}

// IsNull returns a "col IS NULL" predicate.
func IsNull(col string) *Predicate {
	return P(func(b *Builder) { b.Ident(col).WriteString(" IS NULL") })
}

// NotNull returns a "col IS NOT NULL" predicate.
func NotNull(col string) *Predicate {
	return P(func(b *Builder) { b.Ident(col).WriteString(" IS NOT NULL") })
}

// IsTrue returns a predicate matching rows where the boolean col is true.
func IsTrue(col string) *Predicate { return EQ(col, true) }

// IsFalse returns a predicate matching rows where the boolean col is false.
func IsFalse(col string) *Predicate { return EQ(col, false) }

// In returns a "col IN (...)" predicate. A single *Selector argument renders
// a subquery. An empty list matches nothing.
func In(col string, args ...any) *Predicate { return in(col, "IN", args) }

// NotIn returns a "col NOT IN (...)" predicate. An empty list matches
// everything.
func NotIn(col string, args ...any) *Predicate { return in(col, "NOT IN", args) }

func in(col, op string, args []any) *Predicate {
	return P(func(b *Builder) {
		if len(args) == 0 {
			if op == "IN" {
				b.WriteString("1 = 0")
			} else {
				b.WriteString("1 = 1")
			}
			return
		}
		b.Ident(col).WriteByte(' ').WriteString(op).WriteByte(' ')
		if s, ok := args[0].(*Selector); ok && len(args) == 1 {
			b.Nested(s.Render)
			return
		}
		b.Nested(func(b *Builder) { b.Args(args...) })
	})
}

// Values flattens a typed slice into the variadic form In expects.
func Values[T any](vs []T) []any {
	out := make([]any, len(vs))
	for i, v := range vs {
		out[i] = v
	}
	return out
}

// Like returns a "col LIKE pattern" predicate. The pattern is bound as is.
func Like(col, pattern string) *Predicate {
	return P(func(b *Builder) { b.Ident(col).WriteString(" LIKE ").Arg(pattern) })
}

// Contains returns a predicate matching values containing sub.
func Contains(col, sub string) *Predicate { return like(col, "%", sub, "%", false) }

// ContainsFold is the case-insensitive form of Contains.
func ContainsFold(col, sub string) *Predicate { return like(col, "%", sub, "%", true) }

// HasPrefix returns a predicate matching values starting with prefix.
func HasPrefix(col, prefix string) *Predicate { return like(col, "", prefix, "%", false) }

// HasSuffix returns a predicate matching values ending with suffix.
func HasSuffix(col, suffix string) *Predicate { return like(col, "%", suffix, "", false) }

// EqualFold returns a case-insensitive equality predicate.
func EqualFold(col, v string) *Predicate {
	return P(func(b *Builder) {
		b.WriteString("LOWER(").Ident(col).WriteString(") = ").Arg(strings.ToLower(v))
	})
}

func like(col, pre, s, post string, fold bool) *Predicate {
	return P(func(b *Builder) {
		escaped, ok := escapeLike(s)
		if fold {
			escaped = strings.ToLower(escaped)
			b.WriteString("LOWER(").Ident(col).WriteString(")")
		} else {
			b.Ident(col)
		}
		b.WriteString(" LIKE ").Arg(pre + escaped + post)
		if ok && b.Dialect() == dialect.SQLite {
			b.WriteString(` ESCAPE '\'`)
		}
	})
}

// escapeLike escapes the LIKE wildcards in s and reports whether any were found.
func escapeLike(s string) (string, bool) {
	if !strings.ContainsAny(s, `%_\`) {
		return s, false
	}
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s), true
}

// Regex returns a regular expression match predicate.
func Regex(col, pattern string) *Predicate {
	return P(func(b *Builder) {
		switch b.Dialect() {
		case dialect.MySQL:
			b.Ident(col).WriteString(" REGEXP ").Arg(pattern)
		case dialect.Postgres:
			b.Ident(col).WriteString(" ~ ").Arg(pattern)
		default:
			b.Unsupported("Regex")
		}
	})
}

// Exists returns an "EXISTS (subquery)" predicate.
func Exists(query *Selector) *Predicate {
	return P(func(b *Builder) {
		b.WriteString("EXISTS ").Nested(query.Render)
	})
}

// NotExists returns a "NOT EXISTS (subquery)" predicate.
func NotExists(query *Selector) *Predicate {
	return P(func(b *Builder) {
		b.WriteString("NOT EXISTS ").Nested(query.Render)
	})
}

// ExprPred wraps a raw fragment with "?" placeholders as a predicate.
func ExprPred(fragment string, args ...any) *Predicate {
	return P(ExprP(fragment, args...).Render)
}

// StringField is a string column that provides typed predicate methods.
//
//	var Name = sql.StringField("name")
//	s.Where(Name.HasPrefix("a"))
type StringField string

// Name returns the column name.
func (f StringField) Name() string { return string(f) }

// EQ returns a predicate that checks if the column equals the given value.
func (f StringField) EQ(v string) *Predicate { return EQ(string(f), v) }

// NEQ returns a predicate that checks if the column does not equal the given value.
func (f StringField) NEQ(v string) *Predicate { return NEQ(string(f), v) }

// In returns a predicate that checks if the column value is in the given list.
func (f StringField) In(vs ...string) *Predicate { return In(string(f), Values(vs)...) }

// NotIn returns a predicate that checks if the column value is not in the given list.
func (f StringField) NotIn(vs ...string) *Predicate { return NotIn(string(f), Values(vs)...) }

// GT returns a predicate that checks if the column is greater than the given value.
func (f StringField) GT(v string) *Predicate { return GT(string(f), v) }

// LT returns a predicate that checks if the column is less than the given value.
func (f StringField) LT(v string) *Predicate { return LT(string(f), v) }

// Contains returns a predicate that checks if the column contains the given substring.
func (f StringField) Contains(v string) *Predicate { return Contains(string(f), v) }

// ContainsFold returns a predicate that checks if the column contains the given substring (case-insensitive).
func (f StringField) ContainsFold(v string) *Predicate { return ContainsFold(string(f), v) }

// HasPrefix returns a predicate that checks if the column has the given prefix.
func (f StringField) HasPrefix(v string) *Predicate { return HasPrefix(string(f), v) }

// HasSuffix returns a predicate that checks if the column has the given suffix.
func (f StringField) HasSuffix(v string) *Predicate { return HasSuffix(string(f), v) }

// EqualFold returns a predicate that checks if the column equals the given value (case-insensitive).
func (f StringField) EqualFold(v string) *Predicate { return EqualFold(string(f), v) }

// IsNull returns a predicate that checks if the column is NULL.
func (f StringField) IsNull() *Predicate { return IsNull(string(f)) }

// NotNull returns a predicate that checks if the column is not NULL.
func (f StringField) NotNull() *Predicate { return NotNull(string(f)) }

// NumberField is a numeric column that provides typed predicate methods.
type NumberField[T int | int32 | int64 | float32 | float64] string

// Name returns the column name.
func (f NumberField[T]) Name() string { return string(f) }

// EQ returns a predicate that checks if the column equals the given value.
func (f NumberField[T]) EQ(v T) *Predicate { return EQ(string(f), v) }

// NEQ returns a predicate that checks if the column does not equal the given value.
func (f NumberField[T]) NEQ(v T) *Predicate { return NEQ(string(f), v) }

// In returns a predicate that checks if the column value is in the given list.
func (f NumberField[T]) In(vs ...T) *Predicate { return In(string(f), Values(vs)...) }

// NotIn returns a predicate that checks if the column value is not in the given list.
func (f NumberField[T]) NotIn(vs ...T) *Predicate { return NotIn(string(f), Values(vs)...) }

// GT returns a predicate that checks if the column is greater than the given value.
func (f NumberField[T]) GT(v T) *Predicate { return GT(string(f), v) }

// GTE returns a predicate that checks if the column is greater than or equal to the given value.
func (f NumberField[T]) GTE(v T) *Predicate { return GTE(string(f), v) }

// LT returns a predicate that checks if the column is less than the given value.
func (f NumberField[T]) LT(v T) *Predicate { return LT(string(f), v) }

// LTE returns a predicate that checks if the column is less than or equal to the given value.
func (f NumberField[T]) LTE(v T) *Predicate { return LTE(string(f), v) }

// IsNull returns a predicate that checks if the column is NULL.
func (f NumberField[T]) IsNull() *Predicate { return IsNull(string(f)) }

// NotNull returns a predicate that checks if the column is not NULL.
func (f NumberField[T]) NotNull() *Predicate { return NotNull(string(f)) }

// BoolField is a boolean column.
type BoolField string

// EQ returns a predicate that checks if the column equals the given value.
func (f BoolField) EQ(v bool) *Predicate { return EQ(string(f), v) }

// IsTrue returns a predicate matching true values.
func (f BoolField) IsTrue() *Predicate { return IsTrue(string(f)) }

// IsFalse returns a predicate matching false values.
func (f BoolField) IsFalse() *Predicate { return IsFalse(string(f)) }

// IsNull returns a predicate that checks if the column is NULL.
func (f BoolField) IsNull() *Predicate { return IsNull(string(f)) }

// TimeField is a DATETIME column.
type TimeField string

// EQ returns a predicate that checks if the column equals the given value.
func (f TimeField) EQ(v time.Time) *Predicate { return EQ(string(f), v) }

// GT returns a predicate that checks if the column is after the given value.
func (f TimeField) GT(v time.Time) *Predicate { return GT(string(f), v) }

// LT returns a predicate that checks if the column is before the given value.
func (f TimeField) LT(v time.Time) *Predicate { return LT(string(f), v) }

// Within returns a predicate matching values no older than n units from now.
func (f TimeField) Within(n int, unit Unit) *Predicate {
	return Compare(C(string(f)), ">=", DateSub(Now(), Value(n), unit))
}

// IsNull returns a predicate that checks if the column is NULL.
func (f TimeField) IsNull() *Predicate { return IsNull(string(f)) }

// NotNull returns a predicate that checks if the column is not NULL.
func (f TimeField) NotNull() *Predicate { return NotNull(string(f)) }

// EnumField is an enum column holding values of type T.
type EnumField[T ~string] string

// EQ returns a predicate that checks if the column equals the given value.
func (f EnumField[T]) EQ(v T) *Predicate { return EQ(string(f), string(v)) }

// NEQ returns a predicate that checks if the column does not equal the given value.
func (f EnumField[T]) NEQ(v T) *Predicate { return NEQ(string(f), string(v)) }

// In returns a predicate that checks if the column value is in the given list.
func (f EnumField[T]) In(vs ...T) *Predicate {
	args := make([]any, len(vs))
	for i := range vs {
		args[i] = string(vs[i])
	}
	return In(string(f), args...)
}
