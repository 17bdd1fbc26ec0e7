package orm

import (
	"context"
	"strings"

	"github.com/syssam/strata"
	"github.com/syssam/strata/orm/attributes"
)

// Cascade lists the session operations a relationship propagates from
// parent to related objects.
type Cascade struct {
	SaveUpdate    bool
	Merge         bool
	Expunge       bool
	Delete        bool
	DeleteOrphan  bool
	RefreshExpire bool
}

// DefaultCascade is the cascade of relationships declared without one.
var DefaultCascade = Cascade{SaveUpdate: true, Merge: true}

// ParseCascade parses a comma separated cascade list such as
// "all, delete-orphan". "all" stands for every operation except
// delete-orphan; "none" for no operation.
func ParseCascade(s string) (Cascade, error) {
	var c Cascade
	for _, tok := range strings.Split(s, ",") {
		switch tok = strings.TrimSpace(tok); tok {
		case "":
		case "none":
		case "all":
			c.SaveUpdate, c.Merge, c.Expunge, c.Delete, c.RefreshExpire = true, true, true, true, true
		case "save-update":
			c.SaveUpdate = true
		case "merge":
			c.Merge = true
		case "expunge":
			c.Expunge = true
		case "delete":
			c.Delete = true
		case "delete-orphan":
			c.DeleteOrphan = true
		case "refresh-expire":
			c.RefreshExpire = true
		default:
			return Cascade{}, strata.NewInvalidRequestError("invalid cascade option %q", tok)
		}
	}
	return c, nil
}

func (c Cascade) has(op string) bool {
	switch op {
	case "save-update":
		return c.SaveUpdate
	case "merge":
		return c.Merge
	case "expunge":
		return c.Expunge
	case "delete":
		return c.Delete
	case "refresh-expire":
		return c.RefreshExpire
	}
	return false
}

func (c Cascade) String() string {
	var ops []string
	for _, p := range []struct {
		on   bool
		name string
	}{
		{c.SaveUpdate, "save-update"},
		{c.Merge, "merge"},
		{c.Expunge, "expunge"},
		{c.Delete, "delete"},
		{c.DeleteOrphan, "delete-orphan"},
		{c.RefreshExpire, "refresh-expire"},
	} {
		if p.on {
			ops = append(ops, p.name)
		}
	}
	if len(ops) == 0 {
		return "none"
	}
	return strings.Join(ops, ", ")
}

// related returns the objects currently referenced by the relationship
// prop of s. Unloaded relationships are loaded unless passive is
// PassiveNoFetch.
func related(ctx context.Context, s *attributes.InstanceState, prop *RelationshipProperty, passive attributes.Passive) ([]any, error) {
	v, err := prop.impl.Get(ctx, s, passive)
	if err != nil {
		return nil, err
	}
	switch v := v.(type) {
	case nil:
		return nil, nil
	case *attributes.Collection:
		return v.Items(), nil
	default:
		if v == attributes.NoResult {
			return nil, nil
		}
		return []any{v}, nil
	}
}

// cascadeIterator visits the objects reachable from s through
// relationships cascading op, depth first and each once.
func cascadeIterator(ctx context.Context, reg *Registry, s *attributes.InstanceState, op string, passive attributes.Passive, visit func(obj any, cs *attributes.InstanceState, prop *RelationshipProperty) error) error {
	seen := map[*attributes.InstanceState]bool{s: true}
	var walk func(*attributes.InstanceState) error
	walk = func(s *attributes.InstanceState) error {
		m := reg.mapperOf(s)
		if m == nil {
			return nil
		}
		for _, prop := range m.relationships() {
			if !prop.Cascade.has(op) {
				continue
			}
			objs, err := related(ctx, s, prop, passive)
			if err != nil {
				return err
			}
			for _, obj := range objs {
				cs, ok := attributes.StateOf(obj)
				if !ok {
					return strata.NewInvalidRequestError("%s.%s holds %T, which is not an instrumented entity", m.Name, prop.Key(), obj)
				}
				if seen[cs] {
					continue
				}
				if tm := reg.mapperOf(cs); tm == nil || !tm.isa(prop.Target()) {
					return strata.NewInvalidRequestError("%s.%s holds a %s; expected %s", m.Name, prop.Key(), cs.Manager.Name, prop.Target().Name)
				}
				seen[cs] = true
				if err := visit(obj, cs, prop); err != nil {
					return err
				}
				if err := walk(cs); err != nil {
					return err
				}
			}
		}
		return nil
	}
	return walk(s)
}
