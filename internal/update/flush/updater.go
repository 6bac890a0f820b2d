package flush

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Masterminds/squirrel"

	"viewsync/internal/core/apperror"
	"viewsync/internal/identity"
	"viewsync/internal/metamodel"
	"viewsync/internal/update"
	"viewsync/internal/update/entity"
	"viewsync/pkg/logger"
)

// Change is the set of dirty attributes of one row.
type Change struct {
	ID any
	// Version is the version the caller read, checked when the type has a version column.
	Version *int64
	Dirty   []AttributeFlusher
}

// Updater flushes changes of one managed type.
type Updater struct {
	typ *metamodel.ManagedType

	mu      sync.Mutex
	loaders map[string]*entity.Loader
}

// NewUpdater creates an updater for t.
func NewUpdater(t *metamodel.ManagedType) *Updater {
	return &Updater{typ: t, loaders: make(map[string]*entity.Loader)}
}

// Flush writes ch. When every dirty flusher supports bulk writes the change
// is one UPDATE that must affect exactly one row; otherwise the entity is
// loaded, every flusher applied to it and the result merged.
func (u *Updater) Flush(ctx context.Context, uc *update.Context, ch Change) error {
	id, err := identity.ResolveFor(u.typ, ch.ID)
	if err != nil {
		return err
	}
	if len(ch.Dirty) == 0 {
		return nil
	}

	mark := uc.Watermark()
	done, err := u.flushQuery(ctx, uc, id, ch)
	if err != nil {
		return err
	}
	if !done {
		uc.RollbackQueueTo(mark)
		if err := u.flushEntity(ctx, uc, id, ch); err != nil {
			return err
		}
	}
	return uc.RunOrphansFrom(ctx, mark)
}

func (u *Updater) flushQuery(ctx context.Context, uc *update.Context, id identity.Identity, ch Change) (bool, error) {
	for _, f := range ch.Dirty {
		if !f.SupportsBulkWrite() {
			return false, nil
		}
	}

	stmt := NewBulkUpdate(u.typ)
	for _, f := range ch.Dirty {
		if err := f.AppendBulkSetClause(stmt); err != nil {
			if errors.Is(err, ErrBulkUnsupported) {
				return false, nil
			}
			return false, err
		}
	}

	jcs := u.typ.IdentifierJoinColumns()
	args, err := update.BindJoinColumns(u.typ.Name, id, jcs)
	if err != nil {
		return false, err
	}
	where := []squirrel.Sqlizer{update.ColumnsEqual(metamodel.JoinColumnsToColumns(jcs), args...)}
	if vc := u.typ.VersionColumn; vc != "" && ch.Version != nil {
		stmt.Set(vc, squirrel.Expr(vc+" + 1"))
		where = append(where, squirrel.Eq{vc: *ch.Version})
	}

	st, err := stmt.Statement(where...)
	if err != nil {
		return false, fmt.Errorf("build update %s: %w", u.typ.Name, err)
	}
	n, err := uc.Session().ExecuteUpdate(ctx, st)
	if err != nil {
		return false, fmt.Errorf("update %s: %w", u.typ.Table, err)
	}
	if n != 1 {
		return false, apperror.NewOptimisticLockConflict(u.typ.Name, id.String(), 1, n)
	}
	logger.Debug(ctx, "flushed by query", "type", u.typ.Name, "id", id.String(), "attributes", len(ch.Dirty))
	return true, nil
}

func (u *Updater) flushEntity(ctx context.Context, uc *update.Context, id identity.Identity, ch Change) error {
	ref, err := u.loader(ch.Dirty).Load(ctx, uc, id)
	if err != nil {
		return err
	}
	if vc := u.typ.VersionColumn; vc != "" && ch.Version != nil {
		current, ok := ref.Get(vc)
		switch {
		case ref.Loaded && ok && !sameVersion(current, *ch.Version):
			return apperror.NewOptimisticLockConflict(u.typ.Name, id.String(), 1, 0).
				WithDetail("version", current)
		case !ref.Loaded:
			// the merge matches the row on this version
			ref.Fill(vc, *ch.Version)
		}
	}
	for _, f := range ch.Dirty {
		if _, err := f.ApplyToEntityGraph(ctx, uc, id, ref); err != nil {
			return err
		}
	}
	if err := uc.Session().Merge(ctx, ref); err != nil {
		return fmt.Errorf("merge %s: %w", u.typ.Name, err)
	}
	logger.Debug(ctx, "flushed by entity graph", "type", u.typ.Name, "id", id.String(), "attributes", len(ch.Dirty))
	return nil
}

// loader returns the loader for the fetch joins of dirty, one per distinct set.
func (u *Updater) loader(dirty []AttributeFlusher) *entity.Loader {
	var joiners []entity.FetchJoiner
	var names []string
	for _, f := range dirty {
		if j, ok := f.(entity.FetchJoiner); ok {
			joiners = append(joiners, j)
			names = append(names, f.Attribute())
		}
	}
	sort.Strings(names)
	key := strings.Join(names, ",")

	u.mu.Lock()
	defer u.mu.Unlock()
	if l, ok := u.loaders[key]; ok {
		return l
	}
	l := entity.New(u.typ, joiners...)
	u.loaders[key] = l
	return l
}

func sameVersion(current any, want int64) bool {
	switch v := current.(type) {
	case int64:
		return v == want
	case int32:
		return int64(v) == want
	case int:
		return int64(v) == want
	}
	return fmt.Sprint(current) == fmt.Sprint(want)
}
