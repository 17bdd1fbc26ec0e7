package orm

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/go-openapi/inflect"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect/sql/expr"
	"github.com/syssam/strata/orm/attributes"
)

// Registry holds the mappers of an application. Mappers are declared with
// Map and configured together on first use, so that relationships may
// name mappers declared later.
type Registry struct {
	mu        sync.Mutex
	mappers   map[string]*Mapper
	order     []*Mapper
	byType    map[reflect.Type]*Mapper
	byManager map[*attributes.ClassManager]*Mapper
	compiled  bool
	compiling bool
	err       error
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		mappers:   make(map[string]*Mapper),
		byType:    make(map[reflect.Type]*Mapper),
		byManager: make(map[*attributes.ClassManager]*Mapper),
	}
}

var recordType = reflect.TypeOf(&Record{})

// Map declares a mapper of the entity type of prototype onto table. A nil
// prototype, or a *Record, maps dynamic records. Subclasses using single
// table inheritance pass a nil table.
//
//	reg.Map(&User{}, users, orm.Relationship("addresses", "Address", orm.Backref("user")))
func (r *Registry) Map(prototype Entity, table *expr.Table, opts ...MapperOption) (*Mapper, error) {
	cfg := mapperConfig{batch: true}
	for _, opt := range opts {
		opt(&cfg)
	}
	typ := recordType
	if prototype != nil {
		typ = reflect.TypeOf(prototype)
		if typ.Kind() != reflect.Pointer || typ.Elem().Kind() != reflect.Struct {
			return nil, strata.NewMappingError(typ.String(), "entity type must be a pointer to a struct embedding orm.Base")
		}
	}
	name := cfg.name
	switch {
	case name != "":
	case typ != recordType:
		name = typ.Elem().Name()
	case table != nil:
		name = inflect.Camelize(inflect.Singularize(table.Name))
	default:
		return nil, strata.NewMappingError("", "a record mapper without a table needs a name")
	}
	if table == nil && cfg.inherits == "" {
		return nil, strata.NewMappingError(name, "no table given")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.compiled || r.compiling {
		return nil, strata.NewMappingError(name, "registry is already configured; declare mappers before first use")
	}
	if _, ok := r.mappers[name]; ok {
		return nil, strata.NewMappingError(name, "a mapper with this name is already declared")
	}
	if typ != recordType {
		if prev, ok := r.byType[typ]; ok {
			return nil, strata.NewMappingError(name, "type %s is already mapped by %s", typ, prev.Name)
		}
	}
	m := &Mapper{
		Name:       name,
		registry:   r,
		typ:        typ,
		cfg:        cfg,
		LocalTable: table,
		manager:    attributes.NewClassManager(name),
		props:      make(map[string]Property),
	}
	r.mappers[name] = m
	r.order = append(r.order, m)
	r.byManager[m.manager] = m
	if typ != recordType {
		r.byType[typ] = m
	}
	return m, nil
}

// MustMap is like Map but panics on error.
func (r *Registry) MustMap(prototype Entity, table *expr.Table, opts ...MapperOption) *Mapper {
	m, err := r.Map(prototype, table, opts...)
	if err != nil {
		panic(err)
	}
	return m
}

// Compile configures all declared mappers. It is called implicitly by
// every operation needing a mapper and returns the same error on every
// call once configuration failed.
func (r *Registry) Compile() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.compile()
}

func (r *Registry) compile() error {
	if r.compiled || r.compiling {
		return r.err
	}
	r.compiling = true
	defer func() { r.compiling = false }()
	err := r.configure()
	r.compiled, r.err = true, err
	return err
}

func (r *Registry) configure() error {
	for _, m := range r.order {
		if err := m.configureInheritance(); err != nil {
			return err
		}
	}
	for _, m := range r.order {
		if err := m.configureColumns(); err != nil {
			return err
		}
	}
	for _, m := range r.order {
		if err := m.configureRelationships(); err != nil {
			return err
		}
	}
	for _, m := range r.order {
		m.configured = true
	}
	return nil
}

func (r *Registry) ready() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.compile()
}

// Mapper returns the mapper with the given entity name.
func (r *Registry) Mapper(name string) (*Mapper, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	m, ok := r.mappers[name]
	if !ok {
		return nil, strata.NewInvalidRequestError("no mapper named %q", name)
	}
	return m, nil
}

// MapperFor returns the mapper of obj, an instance or a prototype of a
// mapped type.
func (r *Registry) MapperFor(obj any) (*Mapper, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if s, ok := attributes.StateOf(obj); ok {
		if m := r.byManager[s.Manager]; m != nil {
			return m, nil
		}
	}
	if m, ok := r.byType[reflect.TypeOf(obj)]; ok {
		return m, nil
	}
	return nil, strata.NewInvalidRequestError("%T is not mapped", obj)
}

// Mappers returns the declared mappers in declaration order.
func (r *Registry) Mappers() []*Mapper {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Mapper(nil), r.order...)
}

func (r *Registry) mapperOf(s *attributes.InstanceState) *Mapper {
	return r.byManager[s.Manager]
}

// instrument attaches a fresh state to obj if it has none.
func (r *Registry) instrument(obj any) (*attributes.InstanceState, error) {
	if s, ok := attributes.StateOf(obj); ok {
		if r.byManager[s.Manager] == nil {
			return nil, strata.NewInvalidRequestError("%s is mapped by another registry", s.Manager.Name)
		}
		return s, nil
	}
	e, ok := obj.(Entity)
	if !ok {
		return nil, strata.NewInvalidRequestError("%T does not embed orm.Base", obj)
	}
	if _, isRecord := obj.(*Record); isRecord {
		return nil, strata.NewInvalidRequestError("records must be created with Registry.NewRecord")
	}
	m, ok := r.byType[reflect.TypeOf(obj)]
	if !ok {
		return nil, strata.NewInvalidRequestError("%T is not mapped", obj)
	}
	return m.instrument(e), nil
}

// NewRecord returns a transient record of the named mapper.
func (r *Registry) NewRecord(name string) (*Record, error) {
	m, err := r.Mapper(name)
	if err != nil {
		return nil, err
	}
	if m.typ != recordType {
		return nil, strata.NewInvalidRequestError("mapper %s maps %s, not records", name, m.typ)
	}
	rec := &Record{}
	m.instrument(rec)
	return rec, nil
}

// New returns a transient instance of the mapped type T. It panics if T is
// not mapped or the registry fails to configure.
func New[T Entity](r *Registry) T {
	var zero T
	typ := reflect.TypeOf(zero)
	if err := r.ready(); err != nil {
		panic(err)
	}
	m, ok := r.byType[typ]
	if !ok {
		panic(fmt.Sprintf("orm: %s is not mapped", typ))
	}
	obj := reflect.New(typ.Elem()).Interface().(T)
	m.instrument(obj)
	return obj
}
