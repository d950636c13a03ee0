// Package entity maps application types to tables.
//
// An entity is a struct embedding Base. Its persisted properties are
// declared once with Define, through typed accessors:
//
//	type Group struct {
//		entity.Base
//		Name string
//	}
//
//	type User struct {
//		entity.Base
//		Name   string
//		Group  *Group
//		Groups []*Group
//	}
//
//	var Groups = entity.Define[Group]("Group",
//		entity.Field("name", func(g *Group) *string { return &g.Name }).MaxLen(32),
//	)
//
//	var Users = entity.Define[User]("User",
//		entity.Field("name", func(u *User) *string { return &u.Name }).MaxLen(32),
//		entity.Ref("group", func(u *User) **Group { return &u.Group }, Groups).Optional(),
//		entity.ManyToMany("groups", func(u *User) *[]*Group { return &u.Groups }, Groups),
//	)
//
// A Registry derives the table of each declaration on first use and
// returns its Handler:
//
//	reg := entity.NewRegistry(drv)
//	if err := reg.Migrate(ctx, Groups, Users); err != nil {
//		return err
//	}
//	users := entity.MustHandle(reg, Users)
//	u := &User{Name: "a8m"}
//	if err := users.Save(ctx, u); err != nil {
//		return err
//	}
//	u, err := users.Find(ctx, u.GetID())
//
// The table of User is
//
//	User(id SERIAL PK, name VARCHAR(32), group_id INT NULL,
//	     FK group_id -> Group.id ON DELETE SET NULL)
//
// and its many-to-many relation is stored in NM_Group_User(group_id,
// user_id). Errors in declarations are reported as *strata.ConfigError by
// Handle, Register and the migration helpers.
package entity
