package orm

import (
	"cmp"
	"slices"
	"weak"

	"github.com/syssam/strata/orm/attributes"
)

// identityMap holds the persistent instances of a session by identity
// key. The weak variant lets unreferenced, unmodified instances be
// collected; modified instances stay strongly held until flushed.
type identityMap interface {
	get(key attributes.IdentityKey) (*attributes.InstanceState, bool)
	add(s *attributes.InstanceState)
	remove(s *attributes.InstanceState)
	// hold keeps s alive until it is released.
	hold(s *attributes.InstanceState)
	release(s *attributes.InstanceState)
	states() []*attributes.InstanceState
	len() int
	// prune drops collected entries and releases unmodified instances,
	// returning how many entries were removed.
	prune() int
}

func sortStates(states []*attributes.InstanceState) []*attributes.InstanceState {
	slices.SortStableFunc(states, func(a, b *attributes.InstanceState) int {
		if c := cmp.Compare(a.Order, b.Order); c != 0 {
			return c
		}
		var ka, kb string
		if a.Key != nil {
			ka = a.Key.String()
		}
		if b.Key != nil {
			kb = b.Key.String()
		}
		return cmp.Compare(ka, kb)
	})
	return states
}

type strongMap struct {
	m map[attributes.IdentityKey]*attributes.InstanceState
}

func newStrongMap() *strongMap {
	return &strongMap{m: make(map[attributes.IdentityKey]*attributes.InstanceState)}
}

func (im *strongMap) get(key attributes.IdentityKey) (*attributes.InstanceState, bool) {
	s, ok := im.m[key]
	return s, ok
}

func (im *strongMap) add(s *attributes.InstanceState) { im.m[*s.Key] = s }

func (im *strongMap) remove(s *attributes.InstanceState) {
	if s.Key != nil && im.m[*s.Key] == s {
		delete(im.m, *s.Key)
	}
}

func (*strongMap) hold(*attributes.InstanceState)    {}
func (*strongMap) release(*attributes.InstanceState) {}
func (*strongMap) prune() int                        { return 0 }
func (im *strongMap) len() int                       { return len(im.m) }

func (im *strongMap) states() []*attributes.InstanceState {
	out := make([]*attributes.InstanceState, 0, len(im.m))
	for _, s := range im.m {
		out = append(out, s)
	}
	return sortStates(out)
}

type weakMap struct {
	m      map[attributes.IdentityKey]weak.Pointer[attributes.InstanceState]
	strong map[*attributes.InstanceState]struct{}
}

func newWeakMap() *weakMap {
	return &weakMap{
		m:      make(map[attributes.IdentityKey]weak.Pointer[attributes.InstanceState]),
		strong: make(map[*attributes.InstanceState]struct{}),
	}
}

func (im *weakMap) get(key attributes.IdentityKey) (*attributes.InstanceState, bool) {
	p, ok := im.m[key]
	if !ok {
		return nil, false
	}
	s := p.Value()
	if s == nil {
		delete(im.m, key)
		return nil, false
	}
	return s, true
}

func (im *weakMap) add(s *attributes.InstanceState) {
	im.m[*s.Key] = weak.Make(s)
	if s.IsModified() {
		im.strong[s] = struct{}{}
	}
}

func (im *weakMap) remove(s *attributes.InstanceState) {
	delete(im.strong, s)
	if s.Key == nil {
		return
	}
	if cur, ok := im.get(*s.Key); ok && cur == s {
		delete(im.m, *s.Key)
	}
}

func (im *weakMap) hold(s *attributes.InstanceState)    { im.strong[s] = struct{}{} }
func (im *weakMap) release(s *attributes.InstanceState) { delete(im.strong, s) }

func (im *weakMap) len() int {
	n := 0
	for _, p := range im.m {
		if p.Value() != nil {
			n++
		}
	}
	return n
}

func (im *weakMap) states() []*attributes.InstanceState {
	out := make([]*attributes.InstanceState, 0, len(im.m))
	for key, p := range im.m {
		if s := p.Value(); s != nil {
			out = append(out, s)
		} else {
			delete(im.m, key)
		}
	}
	return sortStates(out)
}

func (im *weakMap) prune() int {
	n := 0
	for s := range im.strong {
		if !s.IsModified() {
			delete(im.strong, s)
		}
	}
	for key, p := range im.m {
		if p.Value() == nil {
			delete(im.m, key)
			n++
		}
	}
	return n
}
