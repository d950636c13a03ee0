package entity

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/dialect/sql"
)

type (
	Group struct {
		Base
		Name string
	}
	User struct {
		Base
		Name  string
		Email *string
		Group *Group
	}
	Tag struct {
		Base
		Label string
	}
	Role string
	Post struct {
		Base
		Title     string
		Views     int64
		Score     *float64
		Published bool
		CreatedAt time.Time
		UID       uuid.UUID
		Meta      map[string]any
		Role      Role
		Draft     string
		Author    *User
		Tags      []*Tag
	}
)

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

var (
	testGroups = Define[Group]("Group",
		Field("name", func(g *Group) *string { return &g.Name }).MaxLen(32).Unique(),
	)
	testUsers = Define[User]("User",
		Field("name", func(u *User) *string { return &u.Name }).MaxLen(32),
		Ref("group", func(u *User) **Group { return &u.Group }, testGroups).Optional(),
	)
	testTags = Define[Tag]("Tag",
		Field("label", func(t *Tag) *string { return &t.Label }),
	)
	testPosts = Define[Post]("Post",
		Field("title", func(p *Post) *string { return &p.Title }),
		Field("views", func(p *Post) *int64 { return &p.Views }).Default(0),
		Field("score", func(p *Post) **float64 { return &p.Score }),
		Field("published", func(p *Post) *bool { return &p.Published }),
		Field("createdAt", func(p *Post) *time.Time { return &p.CreatedAt }),
		Field("uid", func(p *Post) *uuid.UUID { return &p.UID }).Unique(),
		Field("meta", func(p *Post) *map[string]any { return &p.Meta }),
		EnumField("role", func(p *Post) *Role { return &p.Role }, RoleAdmin, RoleUser).Default(RoleUser),
		Field("draft", func(p *Post) *string { return &p.Draft }).Transient(),
		Ref("author", func(p *Post) **User { return &p.Author }, testUsers),
		ManyToMany("tags", func(p *Post) *[]*Tag { return &p.Tags }, testTags),
	).UniqueTogether("title", "author")
)

func newRegistry(t *testing.T, d string) (*Registry, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRegistry(sql.OpenDB(d, db)), mock
}

func createQueries(t *testing.T, h interface {
	CreateQueries(string, bool) []sql.Querier
}, d string) []string {
	t.Helper()
	var out []string
	for _, q := range h.CreateQueries(d, true) {
		query, args, err := q.Query()
		require.NoError(t, err)
		require.Empty(t, args)
		out = append(out, query)
	}
	return out
}

func TestDerive_User(t *testing.T) {
	reg, _ := newRegistry(t, dialect.Postgres)
	users, err := Handle(reg, testUsers)
	require.NoError(t, err)

	require.Equal(t, "User", users.TableName())
	require.Equal(t, []string{"id", "name", "group_id"}, users.Columns())
	require.Equal(t, []string{"Group"}, users.DependsOn())
	require.Empty(t, users.JoinTables())
	require.Equal(t, []Relation{{
		Property: "group",
		Kind:     RefRelation,
		Table:    "Group",
		Column:   "group_id",
		OnDelete: sql.SetNull,
		Optional: true,
	}}, users.Relations())

	require.Equal(t, []string{
		`CREATE TABLE IF NOT EXISTS "User" ("id" SERIAL NOT NULL, "name" VARCHAR(32) NOT NULL, "group_id" INTEGER DEFAULT NULL, CONSTRAINT "pk_User" PRIMARY KEY ("id"), CONSTRAINT "fk_User_Group_group_id" FOREIGN KEY ("group_id") REFERENCES "Group" ("id") ON DELETE SET NULL)`,
	}, createQueries(t, users, dialect.Postgres))
	require.Equal(t, []string{
		"CREATE TABLE IF NOT EXISTS `User` (`id` INTEGER AUTO_INCREMENT NOT NULL, `name` VARCHAR(32) NOT NULL, `group_id` INTEGER DEFAULT NULL, CONSTRAINT `pk_User` PRIMARY KEY (`id`), CONSTRAINT `fk_User_Group_group_id` FOREIGN KEY (`group_id`) REFERENCES `Group` (`id`) ON DELETE SET NULL)",
	}, createQueries(t, users, dialect.MySQL))
}

func TestDerive_Post(t *testing.T) {
	reg, _ := newRegistry(t, dialect.SQLite)
	posts, err := Handle(reg, testPosts)
	require.NoError(t, err)

	require.Equal(t, []string{"id", "title", "views", "score", "published", "created_at", "uid", "meta", "role", "author_id"}, posts.Columns())
	require.Equal(t, []string{"User"}, posts.DependsOn())

	table := posts.Table()
	tests := []struct {
		column   string
		typ      sql.ColumnType
		size     int
		nullable bool
	}{
		{"id", sql.TypeSerial, 0, false},
		{"title", sql.TypeString, 0, false},
		{"views", sql.TypeBigInt, 0, false},
		{"score", sql.TypeDouble, 0, true},
		{"published", sql.TypeBool, 0, false},
		{"created_at", sql.TypeDateTime, 0, false},
		{"uid", sql.TypeString, 36, false},
		{"meta", sql.TypeJSON, 0, false},
		{"role", sql.TypeEnum, 0, false},
		{"author_id", sql.TypeInt, 0, false},
	}
	for _, tt := range tests {
		c, ok := table.Column(tt.column)
		require.True(t, ok, tt.column)
		assert.Equal(t, tt.typ, c.Type, tt.column)
		assert.Equal(t, tt.size, c.Size, tt.column)
		assert.Equal(t, tt.nullable, c.Nullable, tt.column)
	}
	require.False(t, table.HasColumn("draft"))
	role, _ := table.Column("role")
	require.Equal(t, []string{"admin", "user"}, role.Enums)
	require.Equal(t, "user", role.Default)
	views, _ := table.Column("views")
	require.Equal(t, 0, views.Default)

	require.Equal(t, []sql.Unique{{Columns: []string{"uid"}}, {Columns: []string{"title", "author_id"}}}, table.Uniques)
	require.Equal(t, []sql.ForeignKey{{Column: "author_id", RefTable: "User", RefColumn: "id", OnDelete: sql.Cascade}}, table.ForeignKeys)

	rels := posts.Relations()
	require.Len(t, rels, 2)
	require.Equal(t, Relation{Property: "tags", Kind: ManyToManyRelation, Table: "Tag", Column: "NM_Post_Tag", OnDelete: sql.Cascade}, rels[1])

	jts := posts.JoinTables()
	require.Len(t, jts, 1)
	require.Equal(t, JoinTable("Tag", "Post"), jts[0])
	require.Equal(t, []string{"Post", "Tag"}, jts[0].DependsOn())
	require.Equal(t, []string{
		`CREATE TABLE IF NOT EXISTS "NM_Post_Tag" ("post_id" INTEGER NOT NULL, "tag_id" INTEGER NOT NULL, CONSTRAINT "uq_NM_Post_Tag_post_id_tag_id" UNIQUE ("post_id", "tag_id"), CONSTRAINT "fk_NM_Post_Tag_Post_post_id" FOREIGN KEY ("post_id") REFERENCES "Post" ("id") ON DELETE CASCADE, CONSTRAINT "fk_NM_Post_Tag_Tag_tag_id" FOREIGN KEY ("tag_id") REFERENCES "Tag" ("id") ON DELETE CASCADE)`,
	}, createQueries(t, jts[0], dialect.SQLite))
}

func TestDerive_Modifiers(t *testing.T) {
	type Account struct {
		Base
		Handle string
		Owner  *User
		Parent *Account
		Config map[string]int
	}
	var accounts *Schema[Account]
	accounts = Define[Account]("accounts",
		Field("handle", func(a *Account) *string { return &a.Handle }).Column("login").MaxLen(64),
		Ref("owner", func(a *Account) **User { return &a.Owner }, testUsers).Column("user_ref").OnDelete(sql.NoAction),
		Field("config", func(a *Account) *map[string]int { return &a.Config }).JSON(),
	)
	accounts.Add(Ref("parent", func(a *Account) **Account { return &a.Parent }, accounts).Optional())

	reg, _ := newRegistry(t, dialect.MySQL)
	h, err := Handle(reg, accounts)
	require.NoError(t, err)
	require.Equal(t, []string{"id", "login", "user_ref", "config", "parent_id"}, h.Columns())
	// Self references are not dependencies.
	require.Equal(t, []string{"User"}, h.DependsOn())
	login, _ := h.Table().Column("login")
	require.Equal(t, 64, login.Size)
	config, _ := h.Table().Column("config")
	require.Equal(t, sql.TypeJSON, config.Type)
	require.Equal(t, []sql.ForeignKey{
		{Column: "user_ref", RefTable: "User", RefColumn: "id", OnDelete: sql.NoAction},
		{Column: "parent_id", RefTable: "accounts", RefColumn: "id", OnDelete: sql.SetNull},
	}, h.Table().ForeignKeys)
}

func TestDerive_Errors(t *testing.T) {
	type Bad struct {
		Base
		Ch     chan int
		N      int
		S      string
		Others []*Bad
	}
	ch := func(b *Bad) *chan int { return &b.Ch }
	n := func(b *Bad) *int { return &b.N }
	s := func(b *Bad) *string { return &b.S }
	tests := []struct {
		name   string
		schema *Schema[Bad]
		err    string
	}{
		{
			name:   "unsupported type",
			schema: Define[Bad]("Bad", Field("ch", ch)),
			err:    `field "ch": unsupported type chan int, store it with JSON()`,
		},
		{
			name:   "id property",
			schema: Define[Bad]("Bad", Field("id", n)),
			err:    `property "id" is reserved for the primary key`,
		},
		{
			name:   "id column",
			schema: Define[Bad]("Bad", Field("n", n).Column("id")),
			err:    `property "n": column "id" is reserved for the primary key`,
		},
		{
			name:   "duplicate column",
			schema: Define[Bad]("Bad", Field("n", n).Column("x"), Field("s", s).Column("x")),
			err:    `properties "n" and "s" are both stored in column "x"`,
		},
		{
			name:   "duplicate property",
			schema: Define[Bad]("Bad", Field("n", n), Field("n", n).Column("m")),
			err:    `duplicate property "n"`,
		},
		{
			name:   "enum without values",
			schema: Define[Bad]("Bad", Field("s", s).Enum()),
			err:    `field "s": enum has no values`,
		},
		{
			name:   "enum on int",
			schema: Define[Bad]("Bad", Field("n", n).Enum("a")),
			err:    `field "n": Enum on a non-string field`,
		},
		{
			name:   "max length on int",
			schema: Define[Bad]("Bad", Field("n", n).MaxLen(3)),
			err:    `field "n": MaxLen on a int column`,
		},
		{
			name:   "unknown unique property",
			schema: Define[Bad]("Bad", Field("n", n)).UniqueTogether("n", "s"),
			err:    `unique constraint on unknown property "s"`,
		},
		{
			name:   "no table",
			schema: Define[Bad](""),
			err:    "entity schema without a table name",
		},
	}
	self := Define[Bad]("Bad")
	self.Add(ManyToMany("others", func(b *Bad) *[]*Bad { return &b.Others }, self))
	tests = append(tests, struct {
		name   string
		schema *Schema[Bad]
		err    string
	}{"self many-to-many", self, `many-to-many "others": self relation is not supported`})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, _ := newRegistry(t, dialect.SQLite)
			_, err := Handle(reg, tt.schema)
			require.Error(t, err)
			require.True(t, strata.IsConfigError(err))
			require.ErrorContains(t, err, tt.err)
		})
	}
}

func TestJoinTable(t *testing.T) {
	a, b := JoinTable("User", "Group"), JoinTable("Group", "User")
	require.Equal(t, a, b)
	require.Equal(t, "NM_Group_User", a.Name)
	require.Equal(t, []string{"group_id", "user_id"}, a.Uniques[0].Columns)
}
