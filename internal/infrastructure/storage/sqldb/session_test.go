package sqldb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"viewsync/internal/core/apperror"
	"viewsync/internal/identity"
	"viewsync/internal/metamodel"
	"viewsync/internal/metamodel/metamodeltest"
	"viewsync/internal/update"
	"viewsync/internal/update/flush"
)

// No foreign keys are declared: grandchildren are removed after the
// dependent rows that reference them.
const fixtureSchema = `
CREATE TABLE owners (id INTEGER PRIMARY KEY, title TEXT, profile_id INTEGER, version INTEGER NOT NULL DEFAULT 1);
CREATE TABLE profiles (id INTEGER PRIMARY KEY, bio TEXT);
CREATE TABLE dependents (owner_id INTEGER, code TEXT, amount INTEGER,
	detail_owner_id INTEGER, detail_code TEXT, detail_tag TEXT, PRIMARY KEY (owner_id, code));
CREATE TABLE grandchildren (dep_owner_id INTEGER, dep_code TEXT, tag TEXT, note TEXT,
	PRIMARY KEY (dep_owner_id, dep_code, tag));
CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT NOT NULL, owner_id INTEGER);
CREATE TABLE tags (id INTEGER PRIMARY KEY, name TEXT);
CREATE TABLE owner_tags (owner_id INTEGER, tag_id INTEGER);
CREATE TABLE owner_notes (owner_id INTEGER, note TEXT);
CREATE TABLE owner_labels (owner_id INTEGER, lang TEXT, label TEXT);
CREATE TABLE a_rows (id INTEGER PRIMARY KEY);
CREATE TABLE b_rows (id INTEGER PRIMARY KEY, a_id INTEGER);

INSERT INTO profiles VALUES (7, 'bio');
INSERT INTO owners VALUES (1, 'first', 7, 1), (2, 'second', NULL, 1);
INSERT INTO dependents VALUES (1, 'a', 10, 1, 'a', 'x'), (1, 'b', 20, 1, 'b', 'y'), (2, 'a', 30, NULL, NULL, NULL);
INSERT INTO grandchildren VALUES (1, 'a', 'x', 'n1'), (1, 'b', 'y', 'n2');
INSERT INTO items VALUES (5, 'kept', 1), (6, 'other', 2);
INSERT INTO tags VALUES (4, 'tag');
INSERT INTO owner_tags VALUES (1, 4), (2, 4);
INSERT INTO owner_notes VALUES (1, 'note');
INSERT INTO owner_labels VALUES (1, 'en', 'label');
`

type fixture struct {
	db      *DB
	txm     *TxManager
	session *Session
	model   *metamodel.Model
}

func openFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := Open(ctx, Config{Driver: DriverSQLite, DSN: ":memory:"})
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.ExecContext(ctx, fixtureSchema)
	require.NoError(t, err)

	txm := NewTxManager(db)
	return &fixture{db: db, txm: txm, session: NewSession(txm), model: metamodeltest.Model()}
}

func (f *fixture) count(t *testing.T, query string, args ...any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.QueryRowContext(context.Background(), query, args...).Scan(&n))
	return n
}

func TestSQLite_RemoveOwnerWithDependents(t *testing.T) {
	f := openFixture(t)
	ctx := context.Background()

	r, err := flush.NewRemover(flush.NewFactory(f.db.Capabilities()), f.model.MustType("Owner"))
	require.NoError(t, err)

	err = f.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		return r.Remove(ctx, update.NewContext(f.session), int64(1))
	})
	require.NoError(t, err)

	assert.Equal(t, int64(0), f.count(t, "SELECT count(*) FROM owners WHERE id = 1"))
	assert.Equal(t, int64(1), f.count(t, "SELECT count(*) FROM owners"))
	assert.Equal(t, int64(0), f.count(t, "SELECT count(*) FROM profiles"))
	assert.Equal(t, int64(1), f.count(t, "SELECT count(*) FROM dependents"), "other owner's dependent survives")
	assert.Equal(t, int64(0), f.count(t, "SELECT count(*) FROM grandchildren"))
	assert.Equal(t, int64(2), f.count(t, "SELECT count(*) FROM items"), "items are detached, not deleted")
	assert.Equal(t, int64(1), f.count(t, "SELECT count(*) FROM items WHERE owner_id IS NULL"))
	assert.Equal(t, int64(1), f.count(t, "SELECT count(*) FROM owner_tags"))
	assert.Equal(t, int64(1), f.count(t, "SELECT count(*) FROM tags"))
	assert.Equal(t, int64(0), f.count(t, "SELECT count(*) FROM owner_notes"))
	assert.Equal(t, int64(0), f.count(t, "SELECT count(*) FROM owner_labels"))
}

func TestSQLite_RemoveMissingRollsBack(t *testing.T) {
	f := openFixture(t)
	ctx := context.Background()

	r, err := flush.NewRemover(flush.NewFactory(f.db.Capabilities()), f.model.MustType("Owner"))
	require.NoError(t, err)

	// Owner 3 has a dependent row but no owner row, so the remove fails
	// after the dependents statement ran.
	_, err = f.db.ExecContext(ctx, "INSERT INTO dependents VALUES (3, 'z', 1, NULL, NULL, NULL)")
	require.NoError(t, err)

	err = f.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		return r.Remove(ctx, update.NewContext(f.session), int64(3))
	})
	require.Error(t, err)
	assert.True(t, apperror.IsOptimisticLockConflict(err))
	assert.Equal(t, int64(1), f.count(t, "SELECT count(*) FROM dependents WHERE owner_id = 3"))
}

func TestSQLite_FlushWithVersion(t *testing.T) {
	f := openFixture(t)
	ctx := context.Background()
	owner := f.model.MustType("Owner")

	title, err := flush.NewColumnFlusher(owner, "title", "renamed")
	require.NoError(t, err)
	u := flush.NewUpdater(owner)

	version := int64(1)
	err = f.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		return u.Flush(ctx, update.NewContext(f.session), flush.Change{ID: int64(1), Version: &version, Dirty: []flush.AttributeFlusher{title}})
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.count(t, "SELECT count(*) FROM owners WHERE id = 1 AND title = 'renamed' AND version = 2"))

	err = f.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		return u.Flush(ctx, update.NewContext(f.session), flush.Change{ID: int64(1), Version: &version, Dirty: []flush.AttributeFlusher{title}})
	})
	assert.True(t, apperror.IsOptimisticLockConflict(err), "stale version")
}

// titleOnGraph sets the title on the loaded entity only.
type titleOnGraph string

func (titleOnGraph) Attribute() string                           { return "title" }
func (titleOnGraph) SupportsBulkWrite() bool                     { return false }
func (titleOnGraph) AppendBulkSetClause(*flush.BulkUpdate) error { return flush.ErrBulkUnsupported }

func (v titleOnGraph) ApplyToEntityGraph(_ context.Context, _ *update.Context, _ identity.Identity, target *update.EntityRef) (*update.EntityRef, error) {
	target.Set("title", string(v))
	return target, nil
}

func TestSQLite_GraphFlushMissingRow(t *testing.T) {
	f := openFixture(t)
	ctx := context.Background()
	u := flush.NewUpdater(f.model.MustType("Owner"))

	err := f.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		return u.Flush(ctx, update.NewContext(f.session), flush.Change{ID: int64(99), Dirty: []flush.AttributeFlusher{titleOnGraph("ghost")}})
	})
	require.Error(t, err)
	assert.True(t, apperror.IsNotFound(err), "got %v", err)
	assert.Equal(t, int64(0), f.count(t, "SELECT count(*) FROM owners WHERE id = 99"))
}

func TestSQLite_GraphFlushWithVersion(t *testing.T) {
	f := openFixture(t)
	ctx := context.Background()
	u := flush.NewUpdater(f.model.MustType("Owner"))

	stale := int64(42)
	err := f.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		return u.Flush(ctx, update.NewContext(f.session), flush.Change{ID: int64(1), Version: &stale, Dirty: []flush.AttributeFlusher{titleOnGraph("stale")}})
	})
	assert.True(t, apperror.IsOptimisticLockConflict(err), "got %v", err)
	assert.Equal(t, int64(1), f.count(t, "SELECT count(*) FROM owners WHERE id = 1 AND title = 'first' AND version = 1"))

	current := int64(1)
	err = f.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		return u.Flush(ctx, update.NewContext(f.session), flush.Change{ID: int64(1), Version: &current, Dirty: []flush.AttributeFlusher{titleOnGraph("graph")}})
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.count(t, "SELECT count(*) FROM owners WHERE id = 1 AND title = 'graph' AND version = 2"))
}

func TestSQLite_GraphMovesElementKeepingColumns(t *testing.T) {
	f := openFixture(t)
	ctx := context.Background()
	owner := identity.Of("id", int64(2))

	inv, err := flush.NewFactory(f.db.Capabilities()).Inverse(f.model.MustType("Owner").Attribute("items"), flush.EntityElement{})
	require.NoError(t, err)

	err = f.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		return inv.FlushEntitySetElement(ctx, update.NewContext(f.session), []flush.Element{{ID: int64(5)}}, owner)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.count(t, "SELECT count(*) FROM items WHERE id = 5 AND owner_id = 2 AND name = 'kept'"))

	err = f.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		return inv.FlushEntitySetElement(ctx, update.NewContext(f.session), []flush.Element{{ID: int64(99)}}, owner)
	})
	assert.True(t, apperror.IsNotFound(err), "got %v", err)
	assert.Equal(t, int64(2), f.count(t, "SELECT count(*) FROM items"))
}

func TestSQLite_InverseElements(t *testing.T) {
	f := openFixture(t)
	ctx := context.Background()
	owner := identity.Of("id", int64(2))

	inv, err := flush.NewFactory(f.db.Capabilities()).Inverse(f.model.MustType("Owner").Attribute("items"), flush.SubviewElement{})
	require.NoError(t, err)
	name, err := flush.NewColumnFlusher(f.model.MustType("Item"), "name", "moved")
	require.NoError(t, err)

	err = f.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		uc := update.NewContext(f.session)
		if err := inv.FlushQuerySetElement(ctx, uc, flush.Element{ID: int64(5), Dirty: []flush.AttributeFlusher{name}}, owner); err != nil {
			return err
		}
		return inv.FlushEntitySetElement(ctx, uc, []flush.Element{{Dirty: []flush.AttributeFlusher{name}}}, owner)
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), f.count(t, "SELECT count(*) FROM items WHERE id = 5 AND owner_id = 2 AND name = 'moved'"))
	assert.Equal(t, int64(3), f.count(t, "SELECT count(*) FROM items WHERE owner_id = 2"))
}

func TestSQLite_CycleRemovesAsEntity(t *testing.T) {
	f := openFixture(t)
	ctx := context.Background()

	_, err := f.db.ExecContext(ctx, "INSERT INTO a_rows VALUES (1); INSERT INTO b_rows VALUES (10, 1), (11, 1), (12, NULL)")
	require.NoError(t, err)

	r, err := flush.NewRemover(flush.NewFactory(f.db.Capabilities()), f.model.MustType("A"))
	require.NoError(t, err)
	err = f.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		return r.Remove(ctx, update.NewContext(f.session), int64(1))
	})
	require.NoError(t, err)

	assert.Equal(t, int64(0), f.count(t, "SELECT count(*) FROM a_rows"))
	assert.Equal(t, int64(1), f.count(t, "SELECT count(*) FROM b_rows"))
}

func TestSQLite_ConstraintViolation(t *testing.T) {
	f := openFixture(t)
	ctx := context.Background()

	_, err := f.session.ExecuteUpdate(ctx, update.Statement{SQL: "INSERT INTO tags (id, name) VALUES (?, ?)", Args: []any{int64(4), "dup"}})
	require.Error(t, err)
	assert.True(t, apperror.IsConstraintViolation(err))
}
