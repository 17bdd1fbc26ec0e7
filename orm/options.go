package orm

import (
	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect/sql/expr"
)

type (
	// MapperOption configures a mapper.
	MapperOption func(*mapperConfig)

	// RelationshipOption configures a relationship.
	RelationshipOption func(*relationshipConfig)
)

type mapperConfig struct {
	name         string
	inherits     string
	concrete     bool
	polyOn       *expr.Column
	polyIdentity any
	version      *expr.Column
	batch        bool
	primaryKey   []*expr.Column
	exclude      map[string]bool
	columns      []columnConfig
	deferred     map[string]bool
	rels         []*relationshipConfig
	hooks        []MapperHooks
	policies     []strata.Policy
}

type columnConfig struct {
	key  string
	cols []*expr.Column
}

type relationshipConfig struct {
	key           string
	target        string
	secondary     *expr.Table
	primaryJoin   expr.Element
	secondaryJoin expr.Element
	foreignKeys   []*expr.Column
	remoteSide    []*expr.Column
	cascade       string
	cascadeSet    bool
	backref       *backrefConfig
	postUpdate    bool
	orderBy       []expr.Element
	lazy          LoadStrategy
	passiveDelete bool
	uselist       *bool
	viewOnly      bool
	err           error
}

type backrefConfig struct {
	key  string
	opts []RelationshipOption
}

// Named sets the entity name of the mapper. It defaults to the Go type
// name, or the singular camel-cased table name for records.
func Named(name string) MapperOption {
	return func(c *mapperConfig) { c.name = name }
}

// Inherits makes the mapper a subclass of the named mapper. A mapper
// without a table of its own uses single table inheritance; a table
// joined to the parent table by a foreign key gives joined inheritance.
func Inherits(parent string) MapperOption {
	return func(c *mapperConfig) { c.inherits = parent }
}

// Concrete makes an inheriting mapper use its own table only.
func Concrete() MapperOption {
	return func(c *mapperConfig) { c.concrete = true }
}

// PolymorphicOn sets the discriminator column of an inheritance hierarchy.
func PolymorphicOn(col *expr.Column) MapperOption {
	return func(c *mapperConfig) { c.polyOn = col }
}

// PolymorphicIdentity sets the discriminator value of the mapper.
func PolymorphicIdentity(v any) MapperOption {
	return func(c *mapperConfig) { c.polyIdentity = v }
}

// VersionID enables optimistic concurrency on the given integer column.
// UPDATE and DELETE statements match the version read from the database
// and bump it.
func VersionID(col *expr.Column) MapperOption {
	return func(c *mapperConfig) { c.version = col }
}

// Batch controls whether inserts of the mapper may be grouped into one
// statement. It is on by default.
func Batch(on bool) MapperOption {
	return func(c *mapperConfig) { c.batch = on }
}

// PrimaryKey overrides the identity columns of the mapper.
func PrimaryKey(cols ...*expr.Column) MapperOption {
	return func(c *mapperConfig) { c.primaryKey = cols }
}

// ExcludeColumns leaves the named column keys unmapped.
func ExcludeColumns(keys ...string) MapperOption {
	return func(c *mapperConfig) {
		if c.exclude == nil {
			c.exclude = make(map[string]bool)
		}
		for _, k := range keys {
			c.exclude[k] = true
		}
	}
}

// MapColumns maps one or more columns under the attribute key. The
// columns hold the same value.
func MapColumns(key string, cols ...*expr.Column) MapperOption {
	return func(c *mapperConfig) { c.columns = append(c.columns, columnConfig{key: key, cols: cols}) }
}

// Deferred makes the given column attributes load on first access instead
// of with the row.
func Deferred(keys ...string) MapperOption {
	return func(c *mapperConfig) {
		if c.deferred == nil {
			c.deferred = make(map[string]bool)
		}
		for _, k := range keys {
			c.deferred[k] = true
		}
	}
}

// WithHooks registers flush hooks of the mapper.
func WithHooks(hooks ...MapperHooks) MapperOption {
	return func(c *mapperConfig) { c.hooks = append(c.hooks, hooks...) }
}

// WithPolicy attaches a query and flush policy to the mapper.
func WithPolicy(p strata.Policy) MapperOption {
	return func(c *mapperConfig) { c.policies = append(c.policies, p) }
}

// Relationship maps the attribute key to objects of the target mapper.
func Relationship(key, target string, opts ...RelationshipOption) MapperOption {
	return func(c *mapperConfig) {
		rc := &relationshipConfig{key: key, target: target}
		for _, opt := range opts {
			opt(rc)
		}
		c.rels = append(c.rels, rc)
	}
}

// Secondary makes a many-to-many relationship through the association
// table t.
func Secondary(t *expr.Table) RelationshipOption {
	return func(c *relationshipConfig) { c.secondary = t }
}

// PrimaryJoin sets the join condition between parent and target, or
// between parent and the association table.
func PrimaryJoin(on expr.Element) RelationshipOption {
	return func(c *relationshipConfig) { c.primaryJoin = on }
}

// SecondaryJoin sets the join condition between the association table and
// the target.
func SecondaryJoin(on expr.Element) RelationshipOption {
	return func(c *relationshipConfig) { c.secondaryJoin = on }
}

// ForeignKeys names the referencing columns of the join condition when
// the tables declare no foreign key.
func ForeignKeys(cols ...*expr.Column) RelationshipOption {
	return func(c *relationshipConfig) { c.foreignKeys = cols }
}

// RemoteSide names the columns on the target side of a self-referential
// relationship. Naming the primary key makes it many-to-one.
func RemoteSide(cols ...*expr.Column) RelationshipOption {
	return func(c *relationshipConfig) { c.remoteSide = cols }
}

// CascadeOn sets the cascade, e.g. "all, delete-orphan".
func CascadeOn(spec string) RelationshipOption {
	return func(c *relationshipConfig) { c.cascade, c.cascadeSet = spec, true }
}

// Backref creates the reverse relationship key on the target mapper, kept
// in step with this one in memory.
func Backref(key string, opts ...RelationshipOption) RelationshipOption {
	return func(c *relationshipConfig) { c.backref = &backrefConfig{key: key, opts: opts} }
}

// PostUpdate writes the foreign key of the relationship with a separate
// UPDATE after both rows exist, breaking row cycles such as mutually
// referencing rows.
func PostUpdate() RelationshipOption {
	return func(c *relationshipConfig) { c.postUpdate = true }
}

// OrderBy orders the members of a collection when loaded.
func OrderBy(cols ...expr.Element) RelationshipOption {
	return func(c *relationshipConfig) { c.orderBy = cols }
}

// Lazy sets the load strategy of the relationship.
func Lazy(s LoadStrategy) RelationshipOption {
	return func(c *relationshipConfig) { c.lazy = s }
}

// PassiveDeletes leaves unloaded children of a deleted parent to the
// database ON DELETE rule instead of loading and updating them.
func PassiveDeletes() RelationshipOption {
	return func(c *relationshipConfig) { c.passiveDelete = true }
}

// Uselist forces a collection or a scalar attribute.
func Uselist(on bool) RelationshipOption {
	return func(c *relationshipConfig) { c.uselist = &on }
}

// ViewOnly makes the relationship read-only: the flush ignores it.
func ViewOnly() RelationshipOption {
	return func(c *relationshipConfig) { c.viewOnly = true }
}
