package orm

import "context"

// HookFunc is called with an instance about to be, or just, written.
// Returning an error aborts the flush.
type HookFunc func(ctx context.Context, obj any) error

// MapperHooks are called by the flush around the statements of each
// instance of a mapper. Subclasses run the hooks of their parents first.
type MapperHooks struct {
	BeforeInsert HookFunc
	AfterInsert  HookFunc
	BeforeUpdate HookFunc
	AfterUpdate  HookFunc
	BeforeDelete HookFunc
	AfterDelete  HookFunc
}

// Entities may implement the following interfaces to be called like
// mapper hooks, after the hooks of the mapper.
type (
	BeforeInserter interface {
		BeforeInsert(context.Context) error
	}
	AfterInserter interface {
		AfterInsert(context.Context) error
	}
	BeforeUpdater interface {
		BeforeUpdate(context.Context) error
	}
	AfterUpdater interface {
		AfterUpdate(context.Context) error
	}
	BeforeDeleter interface {
		BeforeDelete(context.Context) error
	}
	AfterDeleter interface {
		AfterDelete(context.Context) error
	}
)

type hookPoint int

const (
	beforeInsert hookPoint = iota
	afterInsert
	beforeUpdate
	afterUpdate
	beforeDelete
	afterDelete
)

func (h MapperHooks) at(p hookPoint) HookFunc {
	switch p {
	case beforeInsert:
		return h.BeforeInsert
	case afterInsert:
		return h.AfterInsert
	case beforeUpdate:
		return h.BeforeUpdate
	case afterUpdate:
		return h.AfterUpdate
	case beforeDelete:
		return h.BeforeDelete
	case afterDelete:
		return h.AfterDelete
	}
	return nil
}

// runHooks calls the mapper hooks for p, then the method of obj.
func (m *Mapper) runHooks(ctx context.Context, p hookPoint, obj any) error {
	for _, h := range m.hooks {
		if fn := h.at(p); fn != nil {
			if err := fn(ctx, obj); err != nil {
				return err
			}
		}
	}
	switch p {
	case beforeInsert:
		if e, ok := obj.(BeforeInserter); ok {
			return e.BeforeInsert(ctx)
		}
	case afterInsert:
		if e, ok := obj.(AfterInserter); ok {
			return e.AfterInsert(ctx)
		}
	case beforeUpdate:
		if e, ok := obj.(BeforeUpdater); ok {
			return e.BeforeUpdate(ctx)
		}
	case afterUpdate:
		if e, ok := obj.(AfterUpdater); ok {
			return e.AfterUpdate(ctx)
		}
	case beforeDelete:
		if e, ok := obj.(BeforeDeleter); ok {
			return e.BeforeDelete(ctx)
		}
	case afterDelete:
		if e, ok := obj.(AfterDeleter); ok {
			return e.AfterDelete(ctx)
		}
	}
	return nil
}

// SessionHooks are called by a session around flushes and transactions.
type SessionHooks struct {
	// BeforeFlush may add, change or delete instances; they are part of
	// the flush.
	BeforeFlush func(ctx context.Context, s *Session) error
	AfterFlush  func(ctx context.Context, s *Session) error
	// AfterCommit and AfterRollback are called once the outermost
	// transaction ended.
	AfterCommit   func(ctx context.Context, s *Session)
	AfterRollback func(ctx context.Context, s *Session)
}
