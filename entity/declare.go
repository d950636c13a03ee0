package entity

import (
	"fmt"
	"slices"

	"github.com/go-openapi/inflect"

	"github.com/syssam/strata/dialect/sql"
	"github.com/syssam/strata/dialect/sql/schema"
)

// Base is embedded by every entity type. ID is nil until the entity is
// saved for the first time.
type Base struct {
	ID *int64
}

func (b *Base) base() *Base { return b }

// GetID returns the id of the entity, or 0 when it was never saved.
func (b *Base) GetID() int64 {
	if b.ID == nil {
		return 0
	}
	return *b.ID
}

// SetID sets the id of the entity.
func (b *Base) SetID(id int64) { b.ID = &id }

// Schema is the declaration of an entity type: its table name and the
// persisted properties. Schemas are values of the program, usually
// package-level variables, and are turned into handlers by a Registry.
type Schema[T any] struct {
	table   string
	base    func(*T) *Base
	props   []Property[T]
	uniques [][]string
}

// Define declares the entity type T stored in table. T must embed Base.
//
//	var Users = entity.Define[User]("User",
//		entity.Field("name", func(u *User) *string { return &u.Name }).MaxLen(32),
//		entity.Ref("group", func(u *User) **Group { return &u.Group }, Groups).Optional(),
//	)
func Define[T any, PT interface {
	*T
	base() *Base
}](table string, props ...Property[T]) *Schema[T] {
	return &Schema[T]{
		table: table,
		base:  func(t *T) *Base { return PT(t).base() },
		props: props,
	}
}

// Add appends properties to the declaration. It allows properties that
// reference the schema itself, or schemas declared later.
func (s *Schema[T]) Add(props ...Property[T]) *Schema[T] {
	s.props = append(s.props, props...)
	return s
}

// UniqueTogether adds a unique constraint over the columns of the named
// properties.
func (s *Schema[T]) UniqueTogether(props ...string) *Schema[T] {
	s.uniques = append(s.uniques, props)
	return s
}

// TableName returns the table the entity is stored in.
func (s *Schema[T]) TableName() string { return s.table }

// Property is a member of an entity declaration.
type Property[T any] interface {
	// Name returns the property name.
	Name() string
	derive(*derivation[T]) error
}

// columnName returns the default column name of a property.
func columnName(prop string) string {
	return inflect.Underscore(prop)
}

// FieldProp declares a scalar property. It is created by Field and
// configured by its modifiers.
type FieldProp[T, V any] struct {
	name      string
	get       func(*T) *V
	column    string
	maxLen    int
	unique    bool
	enums     []string
	def       any
	transient bool
	json      bool
}

// Field declares a scalar property accessed through get. The column kind
// follows the Go type of V:
//
//	string             String (TEXT, or VARCHAR with MaxLen)
//	int, int32         Int
//	int64              BigInt
//	float32            Float
//	float64            Double
//	bool               Bool
//	time.Time          DateTime
//	uuid.UUID          String(36)
//	json.RawMessage    JSON
//	map[string]any     JSON
//	[]any              JSON
//
// A pointer to one of these types makes the column nullable. Any other
// type must be stored with JSON.
func Field[T, V any](name string, get func(*T) *V) *FieldProp[T, V] {
	return &FieldProp[T, V]{name: name, get: get}
}

// Name implements Property.
func (f *FieldProp[T, V]) Name() string { return f.name }

// Column overrides the column name.
func (f *FieldProp[T, V]) Column(name string) *FieldProp[T, V] {
	f.column = name
	return f
}

// MaxLen limits a string column to n characters.
func (f *FieldProp[T, V]) MaxLen(n int) *FieldProp[T, V] {
	f.maxLen = n
	return f
}

// Unique adds a unique constraint on the column.
func (f *FieldProp[T, V]) Unique() *FieldProp[T, V] {
	f.unique = true
	return f
}

// Enum restricts a string column to the given values.
func (f *FieldProp[T, V]) Enum(values ...string) *FieldProp[T, V] {
	f.enums = append([]string{}, values...)
	return f
}

// Default sets the column default, a literal or an expression such as
// sql.Now().
func (f *FieldProp[T, V]) Default(v any) *FieldProp[T, V] {
	f.def = v
	return f
}

// Transient excludes the property from the table.
func (f *FieldProp[T, V]) Transient() *FieldProp[T, V] {
	f.transient = true
	return f
}

// JSON stores the value as a JSON document.
func (f *FieldProp[T, V]) JSON() *FieldProp[T, V] {
	f.json = true
	return f
}

func (f *FieldProp[T, V]) derive(d *derivation[T]) error {
	if f.transient {
		return nil
	}
	name := f.column
	if name == "" {
		name = columnName(f.name)
	}
	var zero V
	col, kind, ok := columnOf(name, any(zero))
	if f.json {
		col, kind, ok = sql.JSONColumn(name), kindJSON, true
	}
	if !ok {
		return fmt.Errorf("field %q: unsupported type %T, store it with JSON()", f.name, zero)
	}
	if f.maxLen > 0 {
		if col.Type != sql.TypeString || kind == kindUUID {
			return fmt.Errorf("field %q: MaxLen on a %s column", f.name, col.Type)
		}
		col.Size = f.maxLen
	}
	if f.enums != nil {
		if kind != kindString {
			return fmt.Errorf("field %q: Enum on a non-string field", f.name)
		}
		if len(f.enums) == 0 {
			return fmt.Errorf("field %q: enum has no values", f.name)
		}
		col.Type, col.Size, col.Enums = sql.TypeEnum, 0, f.enums
	}
	if f.def != nil {
		col = col.WithDefault(f.def)
	}
	get, enums := f.get, f.enums
	c := &column[T]{
		prop:   f.name,
		Column: col,
		value: func(t *T) (any, error) {
			v := *get(t)
			if kind == kindJSON {
				return marshalJSON(v)
			}
			dv, err := toDriver(v)
			if err == nil && enums != nil {
				err = checkEnum(dv, enums)
			}
			return dv, err
		},
		assign: func(t *T, src any) error {
			if kind == kindJSON {
				return unmarshalJSON(get(t), src)
			}
			return assign(get(t), src)
		},
	}
	return d.addColumn(c, f.unique)
}

// EnumProp declares a property of a string-based enum type.
type EnumProp[T any, E ~string] struct {
	name   string
	get    func(*T) *E
	values []E
	column string
	def    *E
}

// EnumField declares a property of a named string type restricted to
// values.
//
//	type Role string
//
//	entity.EnumField("role", func(u *User) *Role { return &u.Role }, RoleAdmin, RoleUser)
func EnumField[T any, E ~string](name string, get func(*T) *E, values ...E) *EnumProp[T, E] {
	return &EnumProp[T, E]{name: name, get: get, values: values}
}

// Name implements Property.
func (e *EnumProp[T, E]) Name() string { return e.name }

// Column overrides the column name.
func (e *EnumProp[T, E]) Column(name string) *EnumProp[T, E] {
	e.column = name
	return e
}

// Default sets the column default.
func (e *EnumProp[T, E]) Default(v E) *EnumProp[T, E] {
	e.def = &v
	return e
}

func (e *EnumProp[T, E]) derive(d *derivation[T]) error {
	if len(e.values) == 0 {
		return fmt.Errorf("field %q: enum has no values", e.name)
	}
	name := e.column
	if name == "" {
		name = columnName(e.name)
	}
	values := make([]string, len(e.values))
	for i, v := range e.values {
		values[i] = string(v)
	}
	col := sql.EnumColumn(name, values...)
	if e.def != nil {
		if !slices.Contains(e.values, *e.def) {
			return fmt.Errorf("field %q: default %q is not an enum value", e.name, *e.def)
		}
		col = col.WithDefault(string(*e.def))
	}
	get := e.get
	return d.addColumn(&column[T]{
		prop:   e.name,
		Column: col,
		value: func(t *T) (any, error) {
			v := string(*get(t))
			return v, checkEnum(v, values)
		},
		assign: func(t *T, src any) error {
			s, err := asString(src)
			if err != nil {
				return err
			}
			*get(t) = E(s)
			return nil
		},
	}, false)
}

// RefProp declares a reference to another entity, stored as a foreign key
// column named after the property with an "_id" suffix.
type RefProp[T, R any] struct {
	name     string
	get      func(*T) **R
	target   *Schema[R]
	column   string
	optional bool
	onDelete *sql.Strategy
}

// Ref declares a property referencing an entity of target. Required
// references delete the row with the referenced one; optional references
// are set to NULL.
func Ref[T, R any](name string, get func(*T) **R, target *Schema[R]) *RefProp[T, R] {
	return &RefProp[T, R]{name: name, get: get, target: target}
}

// Name implements Property.
func (r *RefProp[T, R]) Name() string { return r.name }

// Optional makes the foreign key column nullable.
func (r *RefProp[T, R]) Optional() *RefProp[T, R] {
	r.optional = true
	return r
}

// OnDelete overrides the strategy derived from nullability.
func (r *RefProp[T, R]) OnDelete(s sql.Strategy) *RefProp[T, R] {
	r.onDelete = &s
	return r
}

// Column overrides the foreign key column name.
func (r *RefProp[T, R]) Column(name string) *RefProp[T, R] {
	r.column = name
	return r
}

func (r *RefProp[T, R]) derive(d *derivation[T]) error {
	if r.target == nil {
		return fmt.Errorf("reference %q: nil target schema", r.name)
	}
	name := r.column
	if name == "" {
		name = columnName(r.name) + "_id"
	}
	col := sql.IntColumn(name)
	strategy := sql.Cascade
	if r.optional {
		col = col.Null()
		strategy = sql.SetNull
	}
	if r.onDelete != nil {
		strategy = *r.onDelete
	}
	get, target, optional, prop := r.get, r.target, r.optional, r.name
	c := &column[T]{
		prop:   r.name,
		Column: col,
		value: func(t *T) (any, error) {
			ref := *get(t)
			if ref == nil {
				if !optional {
					return nil, fmt.Errorf("required reference %q is nil", prop)
				}
				return nil, nil
			}
			id := target.base(ref).ID
			if id == nil {
				return nil, fmt.Errorf("reference %q: referenced %s was never saved", prop, target.table)
			}
			return *id, nil
		},
		assign: func(t *T, src any) error {
			if src == nil {
				*get(t) = nil
				return nil
			}
			id, err := asInt64(src)
			if err != nil {
				return err
			}
			ref := new(R)
			target.base(ref).ID = &id
			*get(t) = ref
			return nil
		},
	}
	if err := d.addColumn(c, false); err != nil {
		return err
	}
	d.table.AddForeignKey(name, target.table, "id", strategy)
	d.refs = append(d.refs, &refSpec[T]{
		Relation: Relation{
			Property: r.name,
			Kind:     RefRelation,
			Table:    target.table,
			Column:   name,
			OnDelete: strategy,
			Optional: r.optional,
		},
		join: func(reg *Registry) (*joinSpec[T], error) {
			th, err := Handle(reg, target)
			if err != nil {
				return nil, err
			}
			return &joinSpec[T]{
				table:   target.table,
				columns: th.columnNames(th.columns),
				assign: func(t *T, vals []any) error {
					if vals[0] == nil {
						*get(t) = nil
						return nil
					}
					ref := new(R)
					if err := th.assign(ref, th.columns, vals); err != nil {
						return err
					}
					*get(t) = ref
					return nil
				},
			}, nil
		},
	})
	return nil
}

// ManyToManyProp declares a many-to-many relationship, stored in a join
// table shared by both sides.
type ManyToManyProp[T, R any] struct {
	name   string
	get    func(*T) *[]*R
	target *Schema[R]
}

// ManyToMany declares a property holding entities of target related
// through the join table NM_<A>_<B>, where A and B are the sorted table
// names. The join table has a <a>_id and a <b>_id column, each a
// cascading foreign key, and a unique constraint over both.
func ManyToMany[T, R any](name string, get func(*T) *[]*R, target *Schema[R]) *ManyToManyProp[T, R] {
	return &ManyToManyProp[T, R]{name: name, get: get, target: target}
}

// Name implements Property.
func (m *ManyToManyProp[T, R]) Name() string { return m.name }

func (m *ManyToManyProp[T, R]) derive(d *derivation[T]) error {
	if m.target == nil {
		return fmt.Errorf("many-to-many %q: nil target schema", m.name)
	}
	self, other := d.table.Name, m.target.table
	if self == other {
		return fmt.Errorf("many-to-many %q: self relation is not supported", m.name)
	}
	jt := JoinTable(self, other)
	selfCol, otherCol := columnName(self)+"_id", columnName(other)+"_id"
	get, target, base := m.get, m.target, d.schema.base
	d.m2m = append(d.m2m, &m2mSpec[T]{
		Relation: Relation{
			Property: m.name,
			Kind:     ManyToManyRelation,
			Table:    other,
			Column:   jt.Name,
			OnDelete: sql.Cascade,
		},
		table:    jt,
		selfCol:  selfCol,
		otherCol: otherCol,
		ids: func(t *T) ([]int64, error) {
			var ids []int64
			for _, r := range *get(t) {
				if r == nil {
					continue
				}
				id := target.base(r).ID
				if id == nil {
					return nil, fmt.Errorf("many-to-many %q: related %s was never saved", m.name, other)
				}
				if !slices.Contains(ids, *id) {
					ids = append(ids, *id)
				}
			}
			return ids, nil
		},
		set: func(t *T, ids []int64) {
			rs := make([]*R, len(ids))
			for i, id := range ids {
				rs[i] = new(R)
				target.base(rs[i]).ID = &id
			}
			*get(t) = rs
		},
		fill: func(q *loadContext, rows []*T, links map[int64][]int64) error {
			var all []any
			for _, ids := range links {
				for _, id := range ids {
					all = append(all, id)
				}
			}
			var found []*R
			if len(all) > 0 {
				th, err := Handle(q.reg, target)
				if err != nil {
					return err
				}
				if found, err = th.With(q.eq).Query().Where(sql.In("id", all...)).All(q.ctx); err != nil {
					return err
				}
			}
			byID := make(map[int64]*R, len(found))
			for _, r := range found {
				byID[*target.base(r).ID] = r
			}
			for _, t := range rows {
				ids := links[*base(t).ID]
				rs := make([]*R, 0, len(ids))
				for _, id := range ids {
					if r, ok := byID[id]; ok {
						rs = append(rs, r)
					}
				}
				*get(t) = rs
			}
			return nil
		},
	})
	return nil
}

// JoinTable returns the join table of a many-to-many relationship between
// tables a and b. The result does not depend on the argument order.
func JoinTable(a, b string) *schema.Table {
	first, second := a, b
	if second < first {
		first, second = second, first
	}
	fc, sc := columnName(first)+"_id", columnName(second)+"_id"
	return schema.NewTable("NM_"+first+"_"+second).
		AddColumn(sql.IntColumn(fc), sql.IntColumn(sc)).
		AddUnique(fc, sc).
		AddForeignKey(fc, first, "id", sql.Cascade).
		AddForeignKey(sc, second, "id", sql.Cascade)
}
