package flush

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"viewsync/internal/core/apperror"
	"viewsync/internal/identity"
	"viewsync/internal/metamodel/metamodeltest"
	"viewsync/internal/update"
	"viewsync/internal/update/updatetest"
)

// graphOnly is a flusher that can only be applied to a loaded entity.
type graphOnly struct {
	column string
	value  any
}

func (g graphOnly) Attribute() string                     { return g.column }
func (g graphOnly) SupportsBulkWrite() bool               { return false }
func (g graphOnly) AppendBulkSetClause(*BulkUpdate) error { return ErrBulkUnsupported }

func (g graphOnly) ApplyToEntityGraph(ctx context.Context, uc *update.Context, ownerID identity.Identity, target *update.EntityRef) (*update.EntityRef, error) {
	target.Set(g.column, g.value)
	return target, nil
}

// refusing claims bulk support but declines the current value.
type refusing struct{ graphOnly }

func (refusing) SupportsBulkWrite() bool { return true }

func TestUpdater_FlushByQuery(t *testing.T) {
	m := metamodeltest.Model()
	owner := m.MustType("Owner")
	title, err := NewColumnFlusher(owner, "title", "new")
	require.NoError(t, err)

	session := updatetest.New(false)
	uc := update.NewContext(session)
	require.NoError(t, NewUpdater(owner).Flush(context.Background(), uc, Change{ID: int64(1), Dirty: []AttributeFlusher{title}}))

	require.Len(t, session.Calls, 1)
	assert.Equal(t, "UPDATE owners SET title = ? WHERE id = ?", session.Calls[0].SQL)
	assert.Equal(t, []any{"new", int64(1)}, session.Calls[0].Args)
}

func TestUpdater_FlushByQueryConflict(t *testing.T) {
	m := metamodeltest.Model()
	owner := m.MustType("Owner")
	title, err := NewColumnFlusher(owner, "title", "new")
	require.NoError(t, err)

	session := updatetest.New(false)
	session.OnExec = func(update.Statement) (int64, error) { return 0, nil }
	err = NewUpdater(owner).Flush(context.Background(), update.NewContext(session), Change{ID: int64(1), Dirty: []AttributeFlusher{title}})

	require.Error(t, err)
	assert.True(t, apperror.IsOptimisticLockConflict(err))
	assert.Equal(t, 0, session.Count("INSERT"), "a conflict must not fall back to the entity graph")
}

func TestUpdater_FlushByQueryChecksVersion(t *testing.T) {
	m := metamodeltest.Model()
	owner := m.MustType("Owner")
	title, err := NewColumnFlusher(owner, "title", "new")
	require.NoError(t, err)

	version := int64(3)
	session := updatetest.New(false)
	require.NoError(t, NewUpdater(owner).Flush(context.Background(), update.NewContext(session),
		Change{ID: int64(1), Version: &version, Dirty: []AttributeFlusher{title}}))

	require.Len(t, session.Calls, 1)
	assert.Equal(t, "UPDATE owners SET title = ?, version = version + 1 WHERE id = ? AND version = ?", session.Calls[0].SQL)
	assert.Equal(t, []any{"new", int64(1), int64(3)}, session.Calls[0].Args)
}

func TestUpdater_ReferenceByQuery(t *testing.T) {
	m := metamodeltest.Model()
	owner := m.MustType("Owner")
	profile, err := NewReferenceFlusher(owner, "profile", int64(7))
	require.NoError(t, err)
	unset, err := NewReferenceFlusher(owner, "profile", nil)
	require.NoError(t, err)

	session := updatetest.New(false)
	u := NewUpdater(owner)
	require.NoError(t, u.Flush(context.Background(), update.NewContext(session), Change{ID: int64(1), Dirty: []AttributeFlusher{profile}}))
	require.NoError(t, u.Flush(context.Background(), update.NewContext(session), Change{ID: int64(1), Dirty: []AttributeFlusher{unset}}))

	assert.Equal(t, []string{
		"UPDATE owners SET profile_id = ? WHERE id = ?",
		"UPDATE owners SET profile_id = ? WHERE id = ?",
	}, session.SQL())
	assert.Equal(t, []any{int64(7), int64(1)}, session.Calls[0].Args)
	assert.Equal(t, []any{nil, int64(1)}, session.Calls[1].Args)
}

func TestUpdater_RejectsInverseReference(t *testing.T) {
	m := metamodeltest.Model()
	_, err := NewReferenceFlusher(m.MustType("Owner"), "dependents", nil)
	assert.True(t, apperror.IsInvalidModel(err))

	_, err = NewColumnFlusher(m.MustType("Owner"), "profile", nil)
	assert.True(t, apperror.IsInvalidModel(err))
}

func TestUpdater_FallsBackToEntityGraph(t *testing.T) {
	m := metamodeltest.Model()
	owner := m.MustType("Owner")
	title, err := NewColumnFlusher(owner, "title", "new")
	require.NoError(t, err)

	for name, extra := range map[string]AttributeFlusher{
		"not bulk capable": graphOnly{column: "title", value: "graph"},
		"declined value":   refusing{graphOnly{column: "title", value: "graph"}},
	} {
		t.Run(name, func(t *testing.T) {
			session := updatetest.New(false)
			uc := update.NewContext(session)
			require.NoError(t, NewUpdater(owner).Flush(context.Background(), uc,
				Change{ID: int64(1), Dirty: []AttributeFlusher{title, extra}}))

			require.Len(t, session.Calls, 2)
			assert.Equal(t, updatetest.KindLoad, session.Calls[0].Kind)
			assert.Equal(t, updatetest.KindMerge, session.Calls[1].Kind)

			merged := session.Calls[1].Entity
			v, _ := merged.Get("title")
			assert.Equal(t, "graph", v)
			assert.Equal(t, "UPDATE owners SET title = ?, version = version + 1 WHERE id = ?", session.Calls[1].SQL)
			assert.Equal(t, []any{"graph", int64(1)}, session.Calls[1].Args)
			assert.Equal(t, 0, session.Count("INSERT"))
		})
	}
}

func TestUpdater_EntityGraphLoadsFetchJoins(t *testing.T) {
	m := metamodeltest.Model()
	owner := m.MustType("Owner")
	profile, err := NewReferenceFlusher(owner, "profile", int64(7))
	require.NoError(t, err)

	session := updatetest.New(false)
	session.OnQuery = func(update.Statement) ([]update.Row, error) {
		return []update.Row{{
			"id": int64(1), "title": "t", "profile_id": int64(2), "version": int64(4),
			"profile__id": int64(2), "profile__bio": "b",
		}}, nil
	}
	version := int64(4)
	require.NoError(t, NewUpdater(owner).Flush(context.Background(), update.NewContext(session), Change{
		ID:      int64(1),
		Version: &version,
		Dirty:   []AttributeFlusher{profile, graphOnly{column: "title", value: "g"}},
	}))

	require.Len(t, session.Calls, 2)
	assert.Contains(t, session.Calls[0].SQL, "LEFT JOIN profiles j0 ON j0.id = e.profile_id")
	merged := session.Calls[1].Entity
	v, _ := merged.Get("profile_id")
	assert.Equal(t, int64(7), v)
}

func TestUpdater_EntityGraphVersionConflict(t *testing.T) {
	m := metamodeltest.Model()
	owner := m.MustType("Owner")
	profile, err := NewReferenceFlusher(owner, "profile", int64(7))
	require.NoError(t, err)

	session := updatetest.New(false)
	session.OnQuery = func(update.Statement) ([]update.Row, error) {
		return []update.Row{{"id": int64(1), "title": "t", "profile_id": nil, "version": int64(5)}}, nil
	}
	version := int64(4)
	err = NewUpdater(owner).Flush(context.Background(), update.NewContext(session), Change{
		ID:      int64(1),
		Version: &version,
		Dirty:   []AttributeFlusher{profile, graphOnly{column: "title", value: "g"}},
	})
	assert.True(t, apperror.IsOptimisticLockConflict(err))
	assert.Equal(t, 0, session.Count("INSERT"))
}

func TestUpdater_EntityGraphMatchesGivenVersion(t *testing.T) {
	m := metamodeltest.Model()
	owner := m.MustType("Owner")

	session := updatetest.New(false)
	session.OnMerge = func(e *update.EntityRef) error {
		// the stored row is at version 1
		if v, _ := e.Get("version"); v != int64(1) {
			return apperror.NewOptimisticLockConflict("Owner", e.ID.String(), 1, 0)
		}
		return nil
	}
	stale := int64(42)
	err := NewUpdater(owner).Flush(context.Background(), update.NewContext(session), Change{
		ID:      int64(1),
		Version: &stale,
		Dirty:   []AttributeFlusher{graphOnly{column: "title", value: "g"}},
	})
	assert.True(t, apperror.IsOptimisticLockConflict(err))

	merges := session.Calls[len(session.Calls)-1]
	require.Equal(t, updatetest.KindMerge, merges.Kind)
	assert.Equal(t, "UPDATE owners SET title = ?, version = version + 1 WHERE id = ? AND version = ?", merges.SQL)
	assert.Equal(t, []any{"g", int64(1), int64(42)}, merges.Args)
}

func TestUpdater_QueryAndGraphWriteSameColumns(t *testing.T) {
	m := metamodeltest.Model()
	owner := m.MustType("Owner")
	profile, err := NewReferenceFlusher(owner, "profile", int64(7))
	require.NoError(t, err)

	bulk := NewBulkUpdate(owner)
	require.NoError(t, profile.AppendBulkSetClause(bulk))
	st, err := bulk.Statement(update.ColumnsEqual([]string{"id"}, int64(1)))
	require.NoError(t, err)

	ref := update.NewReference(owner, identity.Of("id", int64(1)))
	_, err = profile.ApplyToEntityGraph(context.Background(), update.NewContext(updatetest.New(false)), ref.ID, ref)
	require.NoError(t, err)

	v, ok := ref.Get("profile_id")
	require.True(t, ok)
	assert.Equal(t, st.Args[0], v)
}

func TestUpdater_NothingDirty(t *testing.T) {
	m := metamodeltest.Model()
	session := updatetest.New(false)
	require.NoError(t, NewUpdater(m.MustType("Owner")).Flush(context.Background(), update.NewContext(session), Change{ID: int64(1)}))
	assert.Empty(t, session.Calls)

	err := NewUpdater(m.MustType("Owner")).Flush(context.Background(), update.NewContext(session), Change{})
	assert.True(t, apperror.IsResolution(err))
}

func TestUpdater_RunsOrphansQueuedDuringFlush(t *testing.T) {
	m := metamodeltest.Model()
	owner := m.MustType("Owner")
	session := updatetest.New(false)
	uc := update.NewContext(session)

	var ran []string
	uc.Enqueue(update.DeferredDeleteFunc(func(context.Context, *update.Context) error {
		ran = append(ran, "before")
		return nil
	}))

	queueing := queueingFlusher{graphOnly: graphOnly{column: "title", value: "g"}, ran: &ran}
	require.NoError(t, NewUpdater(owner).Flush(context.Background(), uc, Change{ID: int64(1), Dirty: []AttributeFlusher{queueing}}))

	assert.Equal(t, []string{"during"}, ran, "only tasks queued by this flush run")
	assert.Len(t, uc.OrphanRemovalQueue(), 1)
}

type queueingFlusher struct {
	graphOnly
	ran *[]string
}

func (q queueingFlusher) ApplyToEntityGraph(ctx context.Context, uc *update.Context, ownerID identity.Identity, target *update.EntityRef) (*update.EntityRef, error) {
	uc.Enqueue(update.DeferredDeleteFunc(func(context.Context, *update.Context) error {
		*q.ran = append(*q.ran, "during")
		return nil
	}))
	return q.graphOnly.ApplyToEntityGraph(ctx, uc, ownerID, target)
}
