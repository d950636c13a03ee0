package sql

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/syssam/strata/dialect"
)

// C returns a column reference. "t.c" and "c AS a" forms are quoted per part.
func C(name string) Expr {
	return ExprFunc(func(b *Builder) { b.Ident(name) })
}

// Raw returns a keyword or SQL fragment written as is.
func Raw(s string) Expr {
	return ExprFunc(func(b *Builder) { b.WriteString(s) })
}

// Value returns an expression binding v as a parameter.
func Value(v any) Expr {
	return ExprFunc(func(b *Builder) { b.Arg(v) })
}

// Lit returns an expression rendering v as an inline literal.
func Lit(v any) Expr {
	return ExprFunc(func(b *Builder) { b.Literal(v) })
}

// ExprP returns an expression from a raw fragment with "?" placeholders,
// each bound to the next value in args.
func ExprP(fragment string, args ...any) Expr {
	return ExprFunc(func(b *Builder) {
		n := 0
		for i := 0; i < len(fragment); i++ {
			if fragment[i] != '?' {
				b.WriteByte(fragment[i])
				continue
			}
			if n >= len(args) {
				b.AddError(errMissingArg(fragment))
				return
			}
			b.Arg(args[n])
			n++
		}
	})
}

// operand renders a function operand: strings are columns, anything else
// binds as a value.
func operand(b *Builder, v any) {
	if s, ok := v.(string); ok {
		b.Ident(s)
		return
	}
	b.Arg(v)
}

// As aliases an expression.
func As(e Expr, alias string) Expr {
	return ExprFunc(func(b *Builder) {
		e.Render(b)
		b.WriteString(" AS ").Ident(alias)
	})
}

// Count returns COUNT(col), or COUNT(*) when no column is given.
func Count(col ...any) Expr {
	return ExprFunc(func(b *Builder) {
		b.WriteString("COUNT(")
		if len(col) == 0 {
			b.WriteByte('*')
		} else {
			operand(b, col[0])
		}
		b.WriteByte(')')
	})
}

// Sum returns SUM(v).
func Sum(v any) Expr { return fn("SUM", v) }

// Max returns MAX(v).
func Max(v any) Expr { return fn("MAX", v) }

// Min returns MIN(v).
func Min(v any) Expr { return fn("MIN", v) }

// Lower returns LOWER(v).
func Lower(v any) Expr { return fn("LOWER", v) }

// Distinct returns DISTINCT v.
func Distinct(v any) Expr {
	return ExprFunc(func(b *Builder) {
		b.WriteString("DISTINCT ")
		operand(b, v)
	})
}

func fn(name string, args ...any) Expr {
	return ExprFunc(func(b *Builder) {
		b.WriteString(name).WriteByte('(')
		for i, a := range args {
			if i > 0 {
				b.Comma()
			}
			operand(b, a)
		}
		b.WriteByte(')')
	})
}

// Coalesce returns COALESCE(vs...). Strings are columns; wrap values with
// Value or Lit.
func Coalesce(vs ...any) Expr { return fn("COALESCE", vs...) }

// Add returns "col + v", used for counters and in upserts.
func Add(col string, v any) Expr {
	return ExprFunc(func(b *Builder) {
		b.Ident(col).WriteString(" + ").Arg(v)
	})
}

// CaseWhen returns CASE WHEN cond THEN then ELSE els END. The condition
// always binds its operands. Postgres cannot infer parameter types in the
// result branches, so they render as literals there.
func CaseWhen(cond *Predicate, then, els any) Expr {
	return ExprFunc(func(b *Builder) {
		literal := b.Dialect() == dialect.Postgres
		b.WriteString("CASE WHEN ")
		cond.Render(b)
		b.WriteString(" THEN ").Bind(then, literal)
		b.WriteString(" ELSE ").Bind(els, literal)
		b.WriteString(" END")
	})
}

// Now returns the current timestamp.
func Now() Expr {
	return ExprFunc(func(b *Builder) {
		switch b.Dialect() {
		case dialect.MySQL:
			b.WriteString("NOW()")
		case dialect.Postgres, dialect.SQLite:
			b.WriteString("CURRENT_TIMESTAMP")
		default:
			b.Unsupported("Now")
		}
	})
}

// Unit is a date arithmetic unit.
type Unit string

// Date arithmetic units.
const (
	Second Unit = "SECOND"
	Minute Unit = "MINUTE"
	Hour   Unit = "HOUR"
	Day    Unit = "DAY"
	Week   Unit = "WEEK"
	Month  Unit = "MONTH"
	Year   Unit = "YEAR"
)

// DateAdd returns lhs shifted forward by n units. lhs and n follow the
// operand rules: strings are columns.
func DateAdd(lhs, n any, unit Unit) Expr { return dateShift("DateAdd", lhs, n, unit, '+') }

// DateSub returns lhs shifted backward by n units.
func DateSub(lhs, n any, unit Unit) Expr { return dateShift("DateSub", lhs, n, unit, '-') }

func dateShift(name string, lhs, n any, unit Unit, sign byte) Expr {
	return ExprFunc(func(b *Builder) {
		switch b.Dialect() {
		case dialect.MySQL:
			if sign == '+' {
				b.WriteString("DATE_ADD(")
			} else {
				b.WriteString("DATE_SUB(")
			}
			operand(b, lhs)
			b.WriteString(", INTERVAL ")
			operand(b, n)
			b.WriteByte(' ').WriteString(string(unit)).WriteByte(')')
		case dialect.Postgres:
			b.WriteByte('(')
			operand(b, lhs)
			b.WriteByte(' ').WriteByte(sign).WriteByte(' ')
			operand(b, n)
			b.WriteString(" * INTERVAL '1 ").WriteString(string(unit)).WriteString("')")
		case dialect.SQLite:
			if unit == Week {
				b.Unsupported(name + " WEEK")
				return
			}
			b.WriteString("datetime(")
			operand(b, lhs)
			b.WriteString(", '").WriteByte(sign).WriteString("' || ")
			operand(b, n)
			b.WriteString(" || ' ").WriteString(strings.ToLower(string(unit))).WriteString("')")
		default:
			b.Unsupported(name)
		}
	})
}

// HashAlg selects the digest of Hash.
type HashAlg int

// Supported digests.
const (
	SHA224 HashAlg = 224
	SHA256 HashAlg = 256
	SHA512 HashAlg = 512
)

// Hash returns the SHA-2 digest of v.
func Hash(v any, alg HashAlg) Expr {
	return ExprFunc(func(b *Builder) {
		switch alg {
		case SHA224, SHA256, SHA512:
		default:
			b.Unsupported("Hash(" + strconv.Itoa(int(alg)) + ")")
			return
		}
		switch b.Dialect() {
		case dialect.MySQL:
			b.WriteString("SHA2(")
			operand(b, v)
			b.WriteString(", ").WriteString(strconv.Itoa(int(alg))).WriteByte(')')
		case dialect.Postgres:
			b.WriteString("digest(")
			operand(b, v)
			b.WriteString(", 'sha").WriteString(strconv.Itoa(int(alg))).WriteString("')")
		default:
			b.Unsupported("Hash")
		}
	})
}

// JSONArrayAgg aggregates v into a JSON array.
func JSONArrayAgg(v any) Expr {
	return ExprFunc(func(b *Builder) {
		switch b.Dialect() {
		case dialect.MySQL:
			fn("JSON_ARRAYAGG", v).Render(b)
		case dialect.Postgres:
			fn("JSON_AGG", v).Render(b)
		case dialect.SQLite:
			fn("json_group_array", v).Render(b)
		default:
			b.Unsupported("JSONArrayAgg")
		}
	})
}

// JSONObjectAgg aggregates key/value pairs into a JSON object.
func JSONObjectAgg(key, value any) Expr {
	return ExprFunc(func(b *Builder) {
		switch b.Dialect() {
		case dialect.MySQL:
			fn("JSON_OBJECTAGG", key, value).Render(b)
		case dialect.Postgres:
			fn("JSON_OBJECT_AGG", key, value).Render(b)
		case dialect.SQLite:
			fn("json_group_object", key, value).Render(b)
		default:
			b.Unsupported("JSONObjectAgg")
		}
	})
}

// Excluded refers to the value proposed for insertion in an upsert.
func Excluded(col string) Expr {
	return ExprFunc(func(b *Builder) {
		switch b.Dialect() {
		case dialect.MySQL:
			b.WriteString("VALUES(").Ident(col).WriteByte(')')
		case dialect.Postgres, dialect.SQLite:
			b.WriteString("EXCLUDED.").Ident(col)
		default:
			b.Unsupported("Excluded")
		}
	})
}

// Asc orders by col ascending.
func Asc(col string) Expr {
	return ExprFunc(func(b *Builder) { b.Ident(col).WriteString(" ASC") })
}

// Desc orders by col descending.
func Desc(col string) Expr {
	return ExprFunc(func(b *Builder) { b.Ident(col).WriteString(" DESC") })
}

// Concat returns the concatenation of the operands.
func Concat(vs ...any) Expr {
	return ExprFunc(func(b *Builder) {
		switch b.Dialect() {
		case dialect.MySQL:
			fn("CONCAT", vs...).Render(b)
		case dialect.Postgres, dialect.SQLite:
			for i, v := range vs {
				if i > 0 {
					b.WriteString(" || ")
				}
				operand(b, v)
			}
		default:
			b.Unsupported("Concat")
		}
	})
}

func errMissingArg(fragment string) error {
	return fmt.Errorf("dialect/sql: missing argument for placeholder in %q", fragment)
}
