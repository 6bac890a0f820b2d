// Package updatetest provides a recording update.Session for tests.
package updatetest

import (
	"context"
	"strings"

	"viewsync/internal/identity"
	"viewsync/internal/metamodel"
	"viewsync/internal/update"
)

// Call kinds recorded by Session.
const (
	KindExec   = "exec"
	KindQuery  = "query"
	KindMerge  = "merge"
	KindRemove = "remove"
	KindLoad   = "load"
	KindBatch  = "batch"
)

// Call is one recorded session interaction.
type Call struct {
	Kind   string
	SQL    string
	Args   []any
	Entity *update.EntityRef
}

// Session records every call. Handlers are optional: by default Query returns
// no rows and ExecuteUpdate reports one affected row.
type Session struct {
	Returning bool

	OnQuery  func(st update.Statement) ([]update.Row, error)
	OnExec   func(st update.Statement) (int64, error)
	OnMerge  func(e *update.EntityRef) error
	OnRemove func(e *update.EntityRef) error

	Calls []Call
}

var _ update.Session = (*Session)(nil)

// New creates a recording session.
func New(returning bool) *Session {
	return &Session{Returning: returning}
}

func (s *Session) ExecuteUpdate(ctx context.Context, st update.Statement) (int64, error) {
	s.Calls = append(s.Calls, Call{Kind: KindExec, SQL: st.SQL, Args: st.Args})
	if s.OnExec != nil {
		return s.OnExec(st)
	}
	return 1, nil
}

func (s *Session) Query(ctx context.Context, st update.Statement) ([]update.Row, error) {
	s.Calls = append(s.Calls, Call{Kind: KindQuery, SQL: st.SQL, Args: st.Args})
	if s.OnQuery != nil {
		return s.OnQuery(st)
	}
	return nil, nil
}

// GetReferenceOrLoad returns an unloaded reference without querying.
func (s *Session) GetReferenceOrLoad(ctx context.Context, t *metamodel.ManagedType, id identity.Identity) (*update.EntityRef, error) {
	ref := update.NewReference(t, id)
	s.Calls = append(s.Calls, Call{Kind: KindLoad, SQL: t.Name, Args: id.Values(), Entity: ref})
	return ref, nil
}

func (s *Session) Merge(ctx context.Context, e *update.EntityRef) error {
	st, ok, err := update.MergeStatement(e)
	if err != nil || !ok {
		return err
	}
	s.Calls = append(s.Calls, Call{Kind: KindMerge, SQL: st.SQL, Args: st.Args, Entity: e})
	if s.OnMerge != nil {
		return s.OnMerge(e)
	}
	return nil
}

func (s *Session) RemoveEntity(ctx context.Context, e *update.EntityRef) error {
	st, err := update.RemoveStatement(e)
	if err != nil {
		return err
	}
	s.Calls = append(s.Calls, Call{Kind: KindRemove, SQL: st.SQL, Args: st.Args, Entity: e})
	if s.OnRemove != nil {
		return s.OnRemove(e)
	}
	return nil
}

func (s *Session) Dialect() update.Dialect {
	return update.Dialect{Name: "test", ReturningColumns: s.Returning}
}

// SQL returns the statement text of every recorded call.
func (s *Session) SQL() []string {
	out := make([]string, len(s.Calls))
	for i, c := range s.Calls {
		out[i] = c.SQL
	}
	return out
}

// Count returns the number of calls whose SQL starts with prefix.
func (s *Session) Count(prefix string) int {
	n := 0
	for _, c := range s.Calls {
		if strings.HasPrefix(c.SQL, prefix) {
			n++
		}
	}
	return n
}

// Index returns the position of the first call whose SQL starts with prefix, or -1.
func (s *Session) Index(prefix string) int {
	for i, c := range s.Calls {
		if strings.HasPrefix(c.SQL, prefix) {
			return i
		}
	}
	return -1
}

// Reset clears recorded calls.
func (s *Session) Reset() { s.Calls = nil }

// BatchSession is a Session that also records batches. Each statement of a
// batch is recorded as a KindBatch call and answered by OnExec.
type BatchSession struct {
	*Session
}

var _ update.BatchSession = BatchSession{}

// NewBatch creates a recording session that accepts batches.
func NewBatch(returning bool) BatchSession {
	return BatchSession{Session: New(returning)}
}

func (s BatchSession) ExecuteBatch(ctx context.Context, sts []update.Statement) ([]int64, error) {
	counts := make([]int64, len(sts))
	for i, st := range sts {
		s.Calls = append(s.Calls, Call{Kind: KindBatch, SQL: st.SQL, Args: st.Args})
		counts[i] = 1
		if s.OnExec != nil {
			n, err := s.OnExec(st)
			if err != nil {
				return nil, err
			}
			counts[i] = n
		}
	}
	return counts, nil
}
