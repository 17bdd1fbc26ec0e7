package orm

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/orm/attributes"
)

type txState int

const (
	txActive txState = iota
	// txInactive follows a rollback of an enclosed transaction or a failed
	// flush; only Rollback is allowed.
	txInactive
	txPrepared
	txClosed
)

// SessionTransaction is a transaction level of a session: the outermost
// transaction holding the database transactions of every engine used, a
// SAVEPOINT, or a subtransaction sharing the level of its parent.
type SessionTransaction struct {
	session *Session
	parent  *SessionTransaction
	nested  bool
	state   txState

	// root level
	conns     map[*Engine]dialect.Tx
	order     []*Engine
	autobegun bool
	xid       string
	// prepared holds the participants that completed the first phase.
	prepared map[*Engine]bool

	// savepoint level
	savepoint string
	saved     map[*Engine]bool

	// flushed is set once a flush succeeded in this level.
	flushed bool
	// inserted and removed record the states that became persistent and
	// were deleted by flushes of this level.
	inserted map[*attributes.InstanceState]struct{}
	removed  map[*attributes.InstanceState]struct{}
}

func newTransaction(s *Session, parent *SessionTransaction, nested bool) *SessionTransaction {
	return &SessionTransaction{
		session:  s,
		parent:   parent,
		nested:   nested,
		inserted: make(map[*attributes.InstanceState]struct{}),
		removed:  make(map[*attributes.InstanceState]struct{}),
	}
}

// Parent returns the enclosing transaction, or nil.
func (t *SessionTransaction) Parent() *SessionTransaction { return t.parent }

// Nested reports whether the transaction is a SAVEPOINT.
func (t *SessionTransaction) Nested() bool { return t.nested }

// IsActive reports whether statements may be executed in the transaction.
func (t *SessionTransaction) IsActive() bool { return t.state == txActive }

func (t *SessionTransaction) root() *SessionTransaction {
	for t.parent != nil {
		t = t.parent
	}
	return t
}

// level returns the transaction whose rollback restores t: t itself for
// the outermost transaction and savepoints, the enclosing level for
// subtransactions.
func (t *SessionTransaction) level() *SessionTransaction {
	for t.parent != nil && !t.nested {
		t = t.parent
	}
	return t
}

// connection returns the database transaction of e, beginning it and the
// open savepoints when needed.
func (t *SessionTransaction) connection(ctx context.Context, e *Engine) (dialect.Tx, error) {
	switch t.state {
	case txInactive:
		return nil, strata.NewInvalidRequestError("this session's transaction has been rolled back due to a previous exception during flush; call Rollback first")
	case txPrepared:
		return nil, strata.NewInvalidRequestError("this session's transaction is prepared; no further SQL can be emitted")
	case txClosed:
		return nil, strata.NewInvalidRequestError("this transaction is closed")
	}
	root := t.root()
	if tx, ok := root.conns[e]; ok {
		return tx, nil
	}
	tx, err := e.driver.Tx(ctx)
	if err != nil {
		return nil, fmt.Errorf("orm: begin transaction: %w", err)
	}
	if root.conns == nil {
		root.conns = make(map[*Engine]dialect.Tx)
	}
	root.conns[e] = tx
	root.order = append(root.order, e)
	t.session.logger.DebugContext(ctx, "orm: begin", "dialect", e.dialect.Name())
	var chain []*SessionTransaction
	for x := t; x != nil; x = x.parent {
		if x.nested {
			chain = append([]*SessionTransaction{x}, chain...)
		}
	}
	for _, sp := range chain {
		if err := sp.begin(ctx, e, tx); err != nil {
			return nil, err
		}
	}
	return tx, nil
}

// begin issues the SAVEPOINT of t on the transaction of e.
func (t *SessionTransaction) begin(ctx context.Context, e *Engine, tx dialect.Tx) error {
	if t.saved[e] {
		return nil
	}
	if !e.Capabilities().Savepoints {
		return strata.NewInvalidRequestError("dialect %s does not support savepoints", e.dialect.Name())
	}
	if err := tx.Exec(ctx, e.dialect.SavepointSQL(t.savepoint), []any{}, nil); err != nil {
		return fmt.Errorf("orm: savepoint: %w", err)
	}
	if t.saved == nil {
		t.saved = make(map[*Engine]bool)
	}
	t.saved[e] = true
	return nil
}

// Transaction returns the transaction in progress, or nil.
func (s *Session) Transaction() *SessionTransaction { return s.tx }

// InTransaction reports whether a transaction is in progress.
func (s *Session) InTransaction() bool { return s.tx != nil }

func (s *Session) autobegin() *SessionTransaction {
	if s.tx == nil {
		s.tx = newTransaction(s, nil, false)
		s.tx.autobegun = true
	}
	return s.tx
}

// Begin starts a transaction. Database transactions are begun lazily on
// first use of each engine. Within a transaction, Begin starts a
// subtransaction: its Commit only ends it, its Rollback rolls back the
// enclosing transaction.
func (s *Session) Begin(ctx context.Context) (*SessionTransaction, error) {
	if s.tx == nil {
		s.tx = newTransaction(s, nil, false)
		return s.tx, nil
	}
	if s.tx.state != txActive {
		return nil, strata.NewInvalidRequestError("the current transaction is not active")
	}
	s.tx = newTransaction(s, s.tx, false)
	return s.tx, nil
}

// BeginNested flushes pending changes and starts a SAVEPOINT. Rolling it
// back leaves the enclosing transaction usable.
func (s *Session) BeginNested(ctx context.Context) (*SessionTransaction, error) {
	parent := s.autobegin()
	if parent.state != txActive {
		return nil, strata.NewInvalidRequestError("the current transaction is not active")
	}
	if err := s.Flush(ctx); err != nil {
		return nil, err
	}
	if s.engine != nil {
		if _, err := parent.connection(ctx, s.engine); err != nil {
			return nil, err
		}
	}
	s.savepoints++
	t := newTransaction(s, s.tx, true)
	t.savepoint = fmt.Sprintf("strata_sp_%d", s.savepoints)
	root := t.root()
	for _, e := range root.order {
		if err := t.begin(ctx, e, root.conns[e]); err != nil {
			return nil, err
		}
	}
	s.tx = t
	s.logger.DebugContext(ctx, "orm: savepoint", "name", t.savepoint)
	return t, nil
}

// Commit flushes pending changes and commits the current transaction. For
// the outermost transaction the database transactions are committed,
// with two-phase commit when the session uses it, and instances are
// expired when expire-on-commit is set.
func (s *Session) Commit(ctx context.Context) error {
	t := s.autobegin()
	switch t.state {
	case txInactive:
		return strata.NewInvalidRequestError("this transaction is inactive; call Rollback")
	case txClosed:
		return strata.NewInvalidRequestError("this transaction is closed")
	case txActive:
		if err := s.Flush(ctx); err != nil {
			return err
		}
	}
	switch {
	case t.parent == nil:
		return s.commitRoot(ctx, t)
	case t.nested:
		for e := range t.saved {
			if q := e.dialect.ReleaseSavepointSQL(t.savepoint); q != "" {
				if err := t.root().conns[e].Exec(ctx, q, []any{}, nil); err != nil {
					return fmt.Errorf("orm: release savepoint: %w", err)
				}
			}
		}
		t.mergeInto(t.parent.level())
	}
	t.state = txClosed
	s.tx = t.parent
	return nil
}

func (t *SessionTransaction) mergeInto(p *SessionTransaction) {
	for st := range t.inserted {
		p.inserted[st] = struct{}{}
	}
	for st := range t.removed {
		p.removed[st] = struct{}{}
	}
	p.flushed = p.flushed || t.flushed
}

// Prepare flushes and performs the first phase of a two-phase commit.
func (s *Session) Prepare(ctx context.Context) error {
	t := s.tx
	if t == nil || t.parent != nil {
		return strata.NewInvalidRequestError("only the outermost transaction can be prepared")
	}
	if !s.twoPhase {
		return strata.NewInvalidRequestError("the session is not configured for two-phase commit")
	}
	if t.state != txActive {
		return strata.NewInvalidRequestError("the transaction is not active")
	}
	if err := s.Flush(ctx); err != nil {
		return err
	}
	if err := t.prepare(ctx); err != nil {
		return errors.Join(err, s.rollbackRoot(ctx, t))
	}
	return nil
}

// prepare runs the first phase on every participant. On failure the
// participants prepared so far stay recorded in t.prepared for the
// rollback.
func (t *SessionTransaction) prepare(ctx context.Context) error {
	if t.xid == "" {
		t.xid = uuid.NewString()
	}
	if t.prepared == nil {
		t.prepared = make(map[*Engine]bool)
	}
	for i, e := range t.order {
		tp, ok := t.conns[e].(dialect.TwoPhaseTx)
		if !ok || !e.Capabilities().TwoPhase {
			return strata.NewInvalidRequestError("dialect %s does not support two-phase commit", e.dialect.Name())
		}
		if err := tp.PrepareTwoPhase(ctx, fmt.Sprintf("%s_%d", t.xid, i)); err != nil {
			return fmt.Errorf("orm: prepare: %w", err)
		}
		t.prepared[e] = true
	}
	t.state = txPrepared
	return nil
}

func (s *Session) commitRoot(ctx context.Context, t *SessionTransaction) error {
	if s.twoPhase && t.state != txPrepared {
		if err := t.prepare(ctx); err != nil {
			return errors.Join(err, s.rollbackRoot(ctx, t))
		}
	}
	for i, e := range t.order {
		var err error
		if tp, ok := t.conns[e].(dialect.TwoPhaseTx); ok && t.prepared[e] {
			err = tp.CommitTwoPhase(ctx)
		} else {
			err = t.conns[e].Commit()
		}
		if err != nil {
			err = fmt.Errorf("orm: commit: %w", err)
			if i == 0 {
				return errors.Join(err, s.rollbackRoot(ctx, t))
			}
			return &strata.RollbackError{Err: err}
		}
	}
	t.state = txClosed
	s.tx = nil
	for st := range t.removed {
		if st.Session == s {
			st.Session = nil
		}
	}
	if s.expireOnCommit {
		s.ExpireAll()
	}
	s.identity.prune()
	s.logger.DebugContext(ctx, "orm: commit")
	for _, h := range s.hooks {
		if h.AfterCommit != nil {
			h.AfterCommit(ctx, s)
		}
	}
	return nil
}

// Rollback rolls back the current transaction and restores the session:
// instances inserted in the transaction become transient again, deleted
// ones persistent, pending ones are expunged and all persistent instances
// are expired. Rolling back a subtransaction rolls back the enclosing
// level and leaves the transactions around it inactive.
func (s *Session) Rollback(ctx context.Context) error {
	t := s.tx
	if t == nil {
		return nil
	}
	var err error
	switch {
	case t.parent == nil:
		err = s.rollbackRoot(ctx, t)
	case t.nested:
		if t.state != txInactive {
			err = s.rollbackSavepoint(ctx, t)
		}
		s.restore(t)
		t.state = txClosed
		s.tx = t.parent
	default:
		lvl := t.level()
		if lvl.state != txInactive {
			if lvl.parent == nil {
				err = s.rollbackConns(ctx, lvl)
			} else {
				err = s.rollbackSavepoint(ctx, lvl)
			}
		}
		s.restore(lvl)
		for x := t.parent; x != nil; x = x.parent {
			x.state = txInactive
			if x == lvl {
				break
			}
		}
		t.state = txClosed
		s.tx = t.parent
	}
	return err
}

func (s *Session) rollbackRoot(ctx context.Context, t *SessionTransaction) error {
	var err error
	if t.state != txInactive {
		err = s.rollbackConns(ctx, t)
	}
	s.restore(t)
	t.state = txClosed
	s.tx = nil
	s.logger.DebugContext(ctx, "orm: rollback")
	for _, h := range s.hooks {
		if h.AfterRollback != nil {
			h.AfterRollback(ctx, s)
		}
	}
	return err
}

// rollbackConns rolls back the database transactions of the root level.
func (s *Session) rollbackConns(ctx context.Context, t *SessionTransaction) error {
	var errs []error
	for _, e := range t.order {
		tx := t.conns[e]
		if tp, ok := tx.(dialect.TwoPhaseTx); ok && t.prepared[e] {
			errs = append(errs, tp.RollbackTwoPhase(ctx))
			continue
		}
		errs = append(errs, tx.Rollback())
	}
	t.conns, t.order, t.prepared = nil, nil, nil
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("orm: rollback: %w", err)
	}
	return nil
}

func (s *Session) rollbackSavepoint(ctx context.Context, t *SessionTransaction) error {
	root := t.root()
	var errs []error
	for e := range t.saved {
		if tx, ok := root.conns[e]; ok {
			errs = append(errs, tx.Exec(ctx, e.dialect.RollbackToSavepointSQL(t.savepoint), []any{}, nil))
		}
	}
	t.state = txInactive
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("orm: rollback to savepoint: %w", err)
	}
	return nil
}

// restore undoes the effect of the flushes of level t on the session.
func (s *Session) restore(t *SessionTransaction) {
	for st := range t.inserted {
		s.expungeState(st)
		st.Key, st.Ident = nil, nil
	}
	for st := range s.pending {
		s.expungeState(st)
	}
	for st := range t.removed {
		st.Deleted = false
		if st.Key != nil {
			if _, taken := s.identity.get(*st.Key); !taken {
				s.identity.add(st)
				st.Session = s
			}
		}
	}
	s.deleted = make(map[*attributes.InstanceState]struct{})
	clear(t.inserted)
	clear(t.removed)
	for _, st := range s.identity.states() {
		st.ExpireAll()
	}
}

// close rolls back the database transactions without restoring the
// session.
func (t *SessionTransaction) close(ctx context.Context) error {
	if t.state == txClosed {
		return nil
	}
	var err error
	if t.state != txInactive {
		err = t.session.rollbackConns(ctx, t)
	}
	t.state = txClosed
	return err
}
