package expr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect/sql/types"
)

func catalog() (*MetaData, *Table, *Table) {
	md := NewMetaData()
	users := md.Table("users",
		Col("id", types.Integer()).PrimaryKey(),
		Col("name", types.String(40)),
	)
	addresses := md.Table("addresses",
		Col("id", types.Integer()).PrimaryKey(),
		Col("user_id", types.Integer()).References("users.id", OnDelete(Cascade)),
		Col("email", types.String(100)).NotNull(),
	)
	return md, users, addresses
}

func TestNeedsGrouping(t *testing.T) {
	tests := []struct {
		op, against Op
		want        bool
	}{
		{OpOr, OpAnd, true},
		{OpAnd, OpAnd, false},
		{OpAnd, OpOr, false},
		{OpEQ, OpAnd, false},
		{OpAdd, OpMul, true},
		{OpMul, OpAdd, false},
		{OpSub, OpSub, true},
		{OpAdd, OpAdd, false},
		{OpEQ, OpEQ, true},
		{OpEQ, OpComma, false},
		{OpOr, OpNone, false},
		{OpEQ, OpNot, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NeedsGrouping(tt.op, tt.against), "%s against %s", tt.op, tt.against)
	}
}

func TestCompareNil(t *testing.T) {
	_, users, _ := catalog()
	b := users.C("name").EQ(nil)
	assert.Equal(t, OpIs, b.Op)
	assert.Equal(t, Null{}, b.Right)
	b = users.C("name").NE(nil)
	assert.Equal(t, OpIsNot, b.Op)

	b = users.C("name").EQ("jack")
	p, ok := b.Right.(*BindParam)
	require.True(t, ok)
	assert.Equal(t, "name", p.Key)
	assert.Equal(t, "jack", p.Value)
	assert.True(t, p.Type().Equal(types.String(40)))
}

func TestAndOr(t *testing.T) {
	_, users, _ := catalog()
	a, b, c := users.C("id").EQ(1), users.C("name").EQ("x"), users.C("id").GT(5)
	assert.Nil(t, And())
	assert.Nil(t, And(nil, nil))
	assert.Same(t, a, And(nil, a))

	list, ok := And(And(a, b), c).(*ClauseList)
	require.True(t, ok)
	assert.Equal(t, OpAnd, list.Op)
	assert.Len(t, list.Clauses, 3, "nested conjunctions are flattened")

	or, ok := Or(a, And(b, c)).(*ClauseList)
	require.True(t, ok)
	assert.Len(t, or.Clauses, 2)
}

func TestNot(t *testing.T) {
	_, users, _ := catalog()
	n := Not(users.C("id").EQ(1)).(*Binary)
	assert.Equal(t, OpNE, n.Op)
	n = Not(users.C("id").In(1, 2)).(*Binary)
	assert.Equal(t, OpNotIn, n.Op)

	or := Or(users.C("id").EQ(1), users.C("id").EQ(2))
	u, ok := Not(or).(*Unary)
	require.True(t, ok)
	assert.Equal(t, OpNot, u.Op)
	assert.Same(t, or, Not(u))
	assert.Equal(t, False, Not(True))
}

func TestEmptyIn(t *testing.T) {
	_, users, _ := catalog()
	b := users.C("id").In()
	assert.Equal(t, OpNE, b.Op)
	assert.Same(t, users.C("id"), b.Left)
	assert.Same(t, users.C("id"), b.Right)
}

func TestSelectGenerative(t *testing.T) {
	_, users, _ := catalog()
	base := users.Select()
	filtered := base.Where(users.C("id").EQ(1)).Limit(10)
	assert.Nil(t, base.WhereClause())
	_, ok := base.LimitValue()
	assert.False(t, ok)
	assert.NotNil(t, filtered.WhereClause())
	n, ok := filtered.LimitValue()
	assert.True(t, ok)
	assert.Equal(t, 10, n)

	ordered := filtered.OrderBy(users.C("name"))
	assert.Len(t, ordered.OrderByClauses(), 1)
	assert.Empty(t, ordered.OrderBy().OrderByClauses())
	assert.Empty(t, filtered.OrderByClauses())
}

func TestForeignKeyResolution(t *testing.T) {
	_, users, addresses := catalog()
	fk := addresses.C("user_id").ForeignKeys()[0]
	col, err := fk.Column()
	require.NoError(t, err)
	assert.Same(t, users.C("id"), col)
	assert.Equal(t, Cascade, fk.OnDelete)
	assert.Same(t, addresses.C("user_id"), fk.Parent)
	assert.True(t, fk.References(users))
	assert.False(t, fk.References(addresses))

	md := NewMetaData()
	bad := md.Table("bad", Col("ref", types.Integer()).References("missing.id"))
	_, err = bad.C("ref").ForeignKeys()[0].Column()
	require.Error(t, err)
	assert.True(t, strata.IsInvalidRequest(err))

	free := NewTable("free", Col("ref", types.Integer()).References("users.id"))
	_, err = free.C("ref").ForeignKeys()[0].Column()
	require.Error(t, err)
}

func TestSortedTables(t *testing.T) {
	md := NewMetaData()
	md.Table("items", Col("id", types.Integer()).PrimaryKey(), Col("order_id", types.Integer()).References("orders.id"))
	md.Table("orders", Col("id", types.Integer()).PrimaryKey(), Col("user_id", types.Integer()).References("users.id"))
	md.Table("users", Col("id", types.Integer()).PrimaryKey(), Col("parent_id", types.Integer()).References("users.id"))
	sorted, err := md.SortedTables()
	require.NoError(t, err)
	var names []string
	for _, tb := range sorted {
		names = append(names, tb.Name)
	}
	assert.Equal(t, []string{"users", "orders", "items"}, names)

	cyc := NewMetaData()
	cyc.Table("a", Col("id", types.Integer()).PrimaryKey(), Col("b_id", types.Integer()).References("b.id"))
	cyc.Table("b", Col("id", types.Integer()).PrimaryKey(), Col("a_id", types.Integer()).References("a.id"))
	_, err = cyc.SortedTables()
	require.Error(t, err)

	alter := NewMetaData()
	alter.Table("a", Col("id", types.Integer()).PrimaryKey(), Col("b_id", types.Integer()).References("b.id", UseAlter()))
	alter.Table("b", Col("id", types.Integer()).PrimaryKey(), Col("a_id", types.Integer()).References("a.id"))
	sorted, err = alter.SortedTables()
	require.NoError(t, err)
	assert.Equal(t, "a", sorted[0].Name)
}

func TestAutoincrement(t *testing.T) {
	_, users, addresses := catalog()
	assert.True(t, users.C("id").IsAutoincrement())
	assert.False(t, users.C("name").IsAutoincrement())
	assert.False(t, addresses.C("user_id").IsAutoincrement())

	composite := NewTable("c", Col("a", types.Integer()).PrimaryKey(), Col("b", types.Integer()).PrimaryKey())
	assert.False(t, composite.C("a").IsAutoincrement())
	explicit := NewTable("e", Col("a", types.String(10)).PrimaryKey().Autoincrement(true))
	assert.True(t, explicit.C("a").IsAutoincrement())
	assert.True(t, users.Alias("u").C("id").IsAutoincrement())
}

func TestAliasCorrespondence(t *testing.T) {
	_, users, _ := catalog()
	u := users.Alias("u")
	require.NotNil(t, u.C("id"))
	assert.Same(t, u.C("id"), u.CorrespondingColumn(users.C("id")))
	assert.Same(t, u.C("id"), u.CorrespondingColumn(u.C("id")))
	assert.Same(t, users.C("id"), users.CorrespondingColumn(u.C("id")))
	assert.True(t, u.C("id").IsPrimaryKey())
	assert.True(t, SharesLineage(u.C("id"), users.C("id")))
	assert.False(t, SharesLineage(u.C("id"), users.C("name")))

	sub := Select(users.C("id"), Count(nil).Label("n")).GroupBy(users.C("id")).Alias("s")
	assert.NotNil(t, sub.C("n"))
	assert.Same(t, sub.C("id"), sub.CorrespondingColumn(users.C("id")))

	labeled := users.Select().WithLabels().Alias("")
	require.NotNil(t, labeled.C("users_name"))
	assert.Same(t, labeled.C("users_name"), labeled.CorrespondingColumn(users.C("name")))
}

func TestAdapt(t *testing.T) {
	_, users, _ := catalog()
	u := users.Alias("u")
	crit := And(users.C("id").EQ(5), users.C("name").Like("j%"))
	adapted := Adapt(crit, u)
	require.NotSame(t, crit, adapted)

	var cols []*Column
	Walk(adapted, func(e Element) bool {
		if c, ok := e.(*Column); ok {
			cols = append(cols, c)
		}
		return true
	})
	require.Len(t, cols, 2)
	assert.Same(t, u.C("id"), cols[0])
	assert.Same(t, u.C("name"), cols[1])

	// The original tree is untouched.
	orig := crit.(*ClauseList).Clauses[0].(*Binary)
	assert.Same(t, users.C("id"), orig.Left)

	same := Adapt(crit, users)
	assert.Same(t, crit, same)
}

func TestReplaceKeepsUnchangedSubtrees(t *testing.T) {
	_, users, addresses := catalog()
	left := users.C("id").EQ(1)
	right := addresses.C("email").EQ("x")
	tree := And(left, right)
	out := Replace(tree, func(e Element) Element {
		if e == Element(addresses.C("email")) {
			return addresses.C("id")
		}
		return nil
	}).(*ClauseList)
	assert.Same(t, left, out.Clauses[0])
	assert.NotSame(t, right, out.Clauses[1])
	assert.Same(t, addresses.C("id"), out.Clauses[1].(*Binary).Left)
}

func TestFromObjects(t *testing.T) {
	_, users, addresses := catalog()
	sub := Select(Count(nil)).Where(addresses.C("user_id").EQ(users.C("id")))
	froms := FromObjects(users.C("name"), sub.Scalar(), addresses.C("email").EQ("x"))
	assert.Equal(t, []FromClause{users, addresses}, froms)
}

func TestJoinCondition(t *testing.T) {
	md, users, addresses := catalog()

	on, err := JoinCondition(users, addresses)
	require.NoError(t, err)
	b := on.(*Binary)
	assert.Same(t, users.C("id"), b.Left)
	assert.Same(t, addresses.C("user_id"), b.Right)

	on, err = JoinCondition(addresses, users)
	require.NoError(t, err)
	assert.Same(t, users.C("id"), on.(*Binary).Left)

	t.Run("alias", func(t *testing.T) {
		a := addresses.Alias("a")
		on, err := Join(users, a).Condition()
		require.NoError(t, err)
		assert.Same(t, a.C("user_id"), on.(*Binary).Right)
	})

	t.Run("self_referential", func(t *testing.T) {
		nodes := md.Table("nodes",
			Col("id", types.Integer()).PrimaryKey(),
			Col("parent_id", types.Integer()).References("nodes.id"),
		)
		child := nodes.Alias("child")
		on, err := JoinCondition(nodes, child)
		require.NoError(t, err)
		b := on.(*Binary)
		assert.Same(t, nodes.C("id"), b.Left)
		assert.Same(t, child.C("parent_id"), b.Right)
	})

	t.Run("none", func(t *testing.T) {
		other := md.Table("other", Col("id", types.Integer()).PrimaryKey())
		_, err := JoinCondition(users, other)
		require.Error(t, err)
		assert.True(t, strata.IsCompileError(err))
		assert.False(t, errors.Is(err, strata.ErrAmbiguousJoin))
	})

	t.Run("ambiguous", func(t *testing.T) {
		messages := md.Table("messages",
			Col("id", types.Integer()).PrimaryKey(),
			Col("sender_id", types.Integer()).References("users.id"),
			Col("recipient_id", types.Integer()).References("users.id"),
		)
		_, err := Join(users, messages).Condition()
		require.Error(t, err)
		assert.True(t, errors.Is(err, strata.ErrAmbiguousJoin))

		on, err := Join(users, messages, users.C("id").EQ(messages.C("sender_id"))).Condition()
		require.NoError(t, err)
		assert.NotNil(t, on)
	})

	t.Run("chained", func(t *testing.T) {
		orders := md.Table("orders",
			Col("id", types.Integer()).PrimaryKey(),
			Col("address_id", types.Integer()).References("addresses.id"),
		)
		j := users.Join(addresses).Join(orders)
		on, err := j.Condition()
		require.NoError(t, err)
		assert.Same(t, addresses.C("id"), on.(*Binary).Left)
		assert.ElementsMatch(t, []FromClause{j.Left, orders, users, addresses}, j.HiddenFroms())
	})
}

func TestDML(t *testing.T) {
	_, users, _ := catalog()
	ins := users.Insert().Set("name", "jack")
	v, ok := ins.ValueOf("name")
	require.True(t, ok)
	assert.Equal(t, "jack", v.(*BindParam).Value)
	_, ok = users.Insert().ValueOf("name")
	assert.False(t, ok, "builders copy")

	upd := users.Update().Set("name", nil).Where(users.C("id").EQ(1))
	v, ok = upd.ValueOf("name")
	require.True(t, ok)
	assert.Nil(t, v.(*BindParam).Value)
	assert.NotNil(t, upd.WhereClause())

	del := users.Delete().Where(users.C("id").EQ(1)).Where(users.C("name").EQ("x"))
	assert.Len(t, del.WhereClause().(*ClauseList).Clauses, 2)
}
