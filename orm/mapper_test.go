package orm

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect/sql/expr"
	"github.com/syssam/strata/dialect/sql/types"
)

type (
	Employee   struct{ Base }
	Manager    struct{ Base }
	Contractor struct{ Base }
	Engineer   struct {
		Base
		inserted bool
	}
)

func (e *Engineer) AfterInsert(context.Context) error {
	e.inserted = true
	return nil
}

type company struct {
	md          *expr.MetaData
	employees   *expr.Table
	engineers   *expr.Table
	contractors *expr.Table
}

func newCompany() *company {
	md := expr.NewMetaData()
	return &company{
		md: md,
		employees: md.Table("employees",
			expr.Col("id", types.Integer()).PrimaryKey(),
			expr.Col("name", types.String(40)),
			expr.Col("type", types.String(20)),
		),
		engineers: md.Table("engineers",
			expr.Col("id", types.Integer()).PrimaryKey().References("employees.id"),
			expr.Col("language", types.String(20)),
		),
		contractors: md.Table("contractors",
			expr.Col("id", types.Integer()).PrimaryKey(),
			expr.Col("name", types.String(40)),
			expr.Col("rate", types.Integer()),
		),
	}
}

// mapCompany maps employees with a joined, a single table and a concrete
// subclass. Every insert of the hierarchy is recorded in inserted.
func mapCompany(t *testing.T, c *company, inserted *[]string) *Registry {
	t.Helper()
	reg := NewRegistry()
	reg.MustMap(&Employee{}, c.employees,
		PolymorphicOn(c.employees.C("type")),
		PolymorphicIdentity("employee"),
		WithHooks(MapperHooks{
			BeforeInsert: func(ctx context.Context, obj any) error {
				name, err := GetAs[string](ctx, obj, "name")
				*inserted = append(*inserted, name)
				return err
			},
		}),
	)
	reg.MustMap(&Engineer{}, c.engineers, Inherits("Employee"), PolymorphicIdentity("engineer"))
	reg.MustMap(&Manager{}, nil, Inherits("Employee"), PolymorphicIdentity("manager"))
	reg.MustMap(&Contractor{}, c.contractors, Inherits("Employee"), Concrete())
	require.NoError(t, reg.Compile())
	return reg
}

func TestMapperInheritance(t *testing.T) {
	ctx := context.Background()
	c := newCompany()
	var inserted []string
	reg := mapCompany(t, c, &inserted)
	e, rec := openEngine(t, c.md)

	employee, err := reg.Mapper("Employee")
	require.NoError(t, err)
	engineer, err := reg.Mapper("Engineer")
	require.NoError(t, err)
	contractor, err := reg.Mapper("Contractor")
	require.NoError(t, err)
	assert.Same(t, employee, engineer.Base())
	assert.True(t, engineer.Isa(employee))
	assert.False(t, employee.Isa(engineer))
	assert.Same(t, contractor, contractor.Base(), "a concrete mapper is its own base")
	assert.Equal(t, []*expr.Table{c.employees, c.engineers}, engineer.Tables())

	s := e.NewSession(reg)
	for sql, q := range map[string]*Query{
		"SELECT employees.id, employees.name, employees.type, engineers.language FROM employees JOIN engineers ON employees.id = engineers.id": s.Query("Engineer"),
		"SELECT employees.id, employees.name, employees.type FROM employees WHERE employees.type IN (?)":                                      s.Query("Manager"),
		"SELECT contractors.id, contractors.name, contractors.rate FROM contractors":                                                          s.Query("Contractor"),
	} {
		got, err := q.SQL()
		require.NoError(t, err)
		assert.Equal(t, sql, got)
	}

	dilbert := New[*Engineer](reg)
	require.NoError(t, Set(ctx, dilbert, "name", "dilbert"))
	require.NoError(t, Set(ctx, dilbert, "language", "go"))
	boss := New[*Manager](reg)
	require.NoError(t, Set(ctx, boss, "name", "boss"))
	wally := New[*Employee](reg)
	require.NoError(t, Set(ctx, wally, "name", "wally"))
	temp := New[*Contractor](reg)
	require.NoError(t, Set(ctx, temp, "name", "temp"))
	require.NoError(t, Set(ctx, temp, "rate", int64(90)))
	require.NoError(t, s.AddAll(ctx, dilbert, boss, wally, temp))
	require.NoError(t, s.Commit(ctx))

	assert.Equal(t, 3, rec.count("INSERT INTO employees (name, type) VALUES (?, ?)"))
	assert.Equal(t, 1, rec.count("INSERT INTO engineers (id, language) VALUES (?, ?)"))
	assert.Equal(t, 1, rec.count("INSERT INTO contractors (name, rate) VALUES (?, ?)"))
	sort.Strings(inserted)
	assert.Equal(t, []string{"boss", "dilbert", "wally"}, inserted, "subclasses run the hooks of their parent")
	assert.True(t, dilbert.inserted)

	assert.Equal(t, [][]any{{"boss", "manager"}, {"dilbert", "engineer"}, {"wally", "employee"}},
		dbRows(t, e, "SELECT name, type FROM employees ORDER BY name"))

	s = e.NewSession(reg)
	all, err := s.Query("Employee").OrderBy(c.employees.C("name")).All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.IsType(t, &Manager{}, all[0])
	eng, ok := all[1].(*Engineer)
	require.True(t, ok, "rows load as the mapper of their discriminator")
	assert.IsType(t, &Employee{}, all[2])
	assert.True(t, eng.InstanceState().IsExpired("language"), "columns of subclass tables are loaded on access")
	assert.Equal(t, "go", attr(t, eng, "language"))

	engineers, err := All[*Engineer](ctx, s.Query("Engineer"))
	require.NoError(t, err)
	require.Len(t, engineers, 1)
	assert.Same(t, eng, engineers[0])

	n, err := s.Query("Manager").Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, s.Delete(ctx, eng))
	require.NoError(t, s.Commit(ctx))
	assert.Equal(t, [][]any{{int64(0)}}, dbRows(t, e, "SELECT count(*) FROM engineers"))
	assert.Equal(t, [][]any{{int64(2)}}, dbRows(t, e, "SELECT count(*) FROM employees"))
}

func TestMapperColumnProperties(t *testing.T) {
	ctx := context.Background()
	c := newCatalog()
	reg := NewRegistry()
	m := reg.MustMap(&User{}, c.users,
		MapColumns("username", c.users.C("name")),
		ExcludeColumns("version"),
	)
	require.NoError(t, reg.Compile())
	e, _ := openEngine(t, c.md)

	cp, ok := m.ColumnPropertyOf(c.users.C("name"))
	require.True(t, ok)
	assert.Equal(t, "username", cp.Key())
	_, ok = m.Property("version")
	assert.False(t, ok)

	s := e.NewSession(reg)
	got, err := s.Query("User").SQL()
	require.NoError(t, err)
	assert.Equal(t, "SELECT users.name, users.id FROM users", got)

	u := New[*User](reg)
	require.NoError(t, Set(ctx, u, "username", "jack"))
	assert.Error(t, Set(ctx, u, "name", "jack"))
	require.NoError(t, s.Add(ctx, u))
	require.NoError(t, s.Commit(ctx))
	assert.Equal(t, [][]any{{"jack", nil}}, dbRows(t, e, "SELECT name, version FROM users"))
}

func TestMapperRecords(t *testing.T) {
	ctx := context.Background()
	md := expr.NewMetaData()
	tags := md.Table("tags",
		expr.Col("id", types.Integer()).PrimaryKey(),
		expr.Col("label", types.String(20)),
	)
	c := newCatalog()
	reg := NewRegistry()
	m := reg.MustMap(nil, tags)
	reg.MustMap(&User{}, c.users)
	assert.Equal(t, "Tag", m.Name, "record mappers are named after their table")
	e, _ := openEngine(t, md)

	rec, err := reg.NewRecord("Tag")
	require.NoError(t, err)
	assert.Equal(t, "Tag", rec.Entity())
	require.NoError(t, Set(ctx, rec, "label", "go"))
	s := e.NewSession(reg)
	require.NoError(t, s.Add(ctx, rec))
	require.NoError(t, s.Flush(ctx))

	got, err := All[*Record](ctx, s.Query("Tag"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Same(t, rec, got[0])

	_, err = reg.NewRecord("User")
	assert.True(t, strata.IsInvalidRequest(err))
	_, err = reg.NewRecord("Nope")
	assert.True(t, strata.IsInvalidRequest(err))
	assert.True(t, strata.IsInvalidRequest(s.Add(ctx, &Record{})))
}

func TestMapErrors(t *testing.T) {
	c := newCatalog()
	reg := NewRegistry()
	reg.MustMap(&User{}, c.users)

	_, err := reg.Map(&User{}, c.users, Named("Other"))
	assert.ErrorContains(t, err, "already mapped")
	_, err = reg.Map(&Address{}, c.addresses, Named("User"))
	assert.ErrorContains(t, err, "already declared")
	_, err = reg.Map(&Address{}, nil)
	assert.ErrorContains(t, err, "no table given")
	_, err = reg.Map(nil, nil, Inherits("User"))
	assert.ErrorContains(t, err, "needs a name")
	assert.True(t, strata.IsMappingError(err))

	require.NoError(t, reg.Compile())
	_, err = reg.Map(&Address{}, c.addresses)
	assert.ErrorContains(t, err, "already configured")
	_, err = reg.MapperFor(&Address{})
	assert.True(t, strata.IsInvalidRequest(err))
	assert.Panics(t, func() { New[*Address](reg) })
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		mapf func(reg *Registry, c *catalog, md *expr.MetaData)
		err  string
	}{
		{
			name: "AmbiguousForeignKeys",
			mapf: func(reg *Registry, _ *catalog, md *expr.MetaData) {
				b := md.Table("b", expr.Col("id", types.Integer()).PrimaryKey())
				a := md.Table("a",
					expr.Col("id", types.Integer()).PrimaryKey(),
					expr.Col("b_id", types.Integer()).References("b.id"),
					expr.Col("b2_id", types.Integer()).References("b.id"),
				)
				reg.MustMap(nil, a, Relationship("b", "B"))
				reg.MustMap(nil, b)
			},
			err: "more than one foreign key path",
		},
		{
			name: "NoJoin",
			mapf: func(reg *Registry, c *catalog, _ *expr.MetaData) {
				reg.MustMap(&User{}, c.users, Relationship("items", "Item"))
				reg.MustMap(&Item{}, c.items)
			},
			err: "could not determine the join condition",
		},
		{
			name: "UnknownTarget",
			mapf: func(reg *Registry, c *catalog, _ *expr.MetaData) {
				reg.MustMap(&User{}, c.users, Relationship("items", "Nope"))
			},
			err: `no mapper named "Nope"`,
		},
		{
			name: "NoPrimaryKey",
			mapf: func(reg *Registry, c *catalog, _ *expr.MetaData) {
				reg.MustMap(nil, c.itemKeywords)
			},
			err: "could not assemble any primary key columns",
		},
		{
			name: "UnknownParent",
			mapf: func(reg *Registry, c *catalog, _ *expr.MetaData) {
				reg.MustMap(&User{}, c.users, Inherits("Nope"))
			},
			err: "is not declared",
		},
		{
			name: "IdentityWithoutDiscriminator",
			mapf: func(reg *Registry, c *catalog, _ *expr.MetaData) {
				reg.MustMap(&User{}, c.users, PolymorphicIdentity("user"))
			},
			err: "requires a PolymorphicOn column",
		},
		{
			name: "StringVersion",
			mapf: func(reg *Registry, c *catalog, _ *expr.MetaData) {
				reg.MustMap(&User{}, c.users, VersionID(c.users.C("name")))
			},
			err: "must be an integer column",
		},
		{
			name: "ForeignColumn",
			mapf: func(reg *Registry, c *catalog, _ *expr.MetaData) {
				reg.MustMap(&User{}, c.users, MapColumns("email", c.addresses.C("email")))
			},
			err: "is not in the mapped tables",
		},
		{
			name: "BackrefConflict",
			mapf: func(reg *Registry, c *catalog, _ *expr.MetaData) {
				reg.MustMap(&User{}, c.users, Relationship("addresses", "Address", Backref("email")))
				reg.MustMap(&Address{}, c.addresses)
			},
			err: "conflicts with an existing property",
		},
		{
			name: "BadCascade",
			mapf: func(reg *Registry, c *catalog, _ *expr.MetaData) {
				reg.MustMap(&User{}, c.users, Relationship("addresses", "Address", CascadeOn("save-update, explode")))
				reg.MustMap(&Address{}, c.addresses)
			},
			err: "explode",
		},
		{
			name: "SelfReferentialManyToMany",
			mapf: func(reg *Registry, _ *catalog, md *expr.MetaData) {
				people := md.Table("people", expr.Col("id", types.Integer()).PrimaryKey())
				friends := md.Table("friends",
					expr.Col("a_id", types.Integer()).References("people.id"),
					expr.Col("b_id", types.Integer()).References("people.id"),
				)
				reg.MustMap(nil, people, Relationship("friends", "Person", Secondary(friends)))
			},
			err: "needs PrimaryJoin and SecondaryJoin",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry()
			tt.mapf(reg, newCatalog(), expr.NewMetaData())
			err := reg.Compile()
			require.Error(t, err)
			assert.True(t, strata.IsMappingError(err), err)
			assert.ErrorContains(t, err, tt.err)
			assert.Equal(t, err, reg.Compile(), "configuration errors are sticky")
			_, err = reg.Mapper("User")
			assert.Error(t, err)
		})
	}
}

func dbRows(t *testing.T, e *Engine, query string) [][]any {
	t.Helper()
	env := &testEnv{engine: e}
	return env.rows(t, query)
}
