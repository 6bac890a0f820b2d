package flush

import (
	"context"
	"fmt"
	"strings"

	"viewsync/internal/core/apperror"
	"viewsync/internal/identity"
	"viewsync/internal/metamodel"
	"viewsync/internal/update"
	"viewsync/pkg/logger"
)

// tableElement is the shape of the rows held in a join or collection table.
type tableElement interface {
	isTableElement()
}

// valueElements are basic values stored in a collection table.
type valueElements struct {
	column string
}

// entityElements are join table rows referencing entities. deleter is nil
// when removal does not cascade to the referenced entities.
type entityElements struct {
	columns []metamodel.JoinColumn
	deleter *BasicDeleter
}

func (valueElements) isTableElement()  {}
func (entityElements) isTableElement() {}

// tableDeleter clears the join or collection table rows of one owner.
type tableDeleter struct {
	attribute    string
	table        string
	ownerColumns []metamodel.JoinColumn
	keyColumn    string
	element      tableElement
	storeCleans  bool
}

func (d tableDeleter) cascade() *BasicDeleter {
	if el, ok := d.element.(entityElements); ok {
		return el.deleter
	}
	return nil
}

func (d tableDeleter) probeColumns() []string {
	var cols []string
	switch el := d.element.(type) {
	case valueElements:
		cols = []string{el.column}
	case entityElements:
		cols = metamodel.JoinColumnsToColumns(el.columns)
	}
	if d.keyColumn != "" {
		cols = appendDistinct(cols, d.keyColumn)
	}
	return cols
}

// removeByOwner reads the owner's rows, deletes them and then removes cascaded
// elements. With RETURNING the delete itself reports the removed elements.
func (d tableDeleter) removeByOwner(ctx context.Context, uc *update.Context, ownerID identity.Identity) error {
	cascade := d.cascade()
	if d.storeCleans && cascade == nil {
		return nil
	}

	session := uc.Session()
	ownerCols := metamodel.JoinColumnsToColumns(d.ownerColumns)
	args, err := update.BindJoinColumns(d.attribute, ownerID, d.ownerColumns)
	if err != nil {
		return err
	}
	where := update.ColumnsEqual(ownerCols, args...)

	st, err := update.Build(update.Builder().Select(d.probeColumns()...).From(d.table).Where(where))
	if err != nil {
		return err
	}
	rows, err := session.Query(ctx, st)
	if err != nil {
		return fmt.Errorf("select %s: %w", d.table, err)
	}
	if len(rows) == 0 {
		return nil
	}

	deleted := rows
	var n int64
	del := update.Builder().Delete(d.table).Where(where)
	if cascade != nil && session.Dialect().SupportsReturningColumns() {
		el := d.element.(entityElements)
		del = del.Suffix("RETURNING " + strings.Join(metamodel.JoinColumnsToColumns(el.columns), ", "))
		if st, err = update.Build(del); err != nil {
			return err
		}
		if deleted, err = session.Query(ctx, st); err != nil {
			return fmt.Errorf("delete %s: %w", d.table, err)
		}
		n = int64(len(deleted))
	} else {
		if st, err = update.Build(del); err != nil {
			return err
		}
		if n, err = session.ExecuteUpdate(ctx, st); err != nil {
			return fmt.Errorf("delete %s: %w", d.table, err)
		}
	}
	if n != int64(len(rows)) {
		return apperror.NewOptimisticLockConflict(d.table, ownerID.String(), int64(len(rows)), n)
	}
	logger.Debug(ctx, "table rows removed", "table", d.table, "owner", ownerID.String(), "count", n)

	if cascade == nil {
		return nil
	}
	return cascade.RemoveAllByID(ctx, uc, distinctIdentities(deleted, d.element.(entityElements).columns))
}

// CollectionDeleter removes the elements of a collection attribute. Elements
// mapped by a back-reference are removed through their own deleter; elements
// held in a join or collection table are cleared from that table.
type CollectionDeleter struct {
	attribute string
	mapped    *BasicDeleter
	table     tableDeleter
}

var _ CascadeDeleter = CollectionDeleter{}

func (d CollectionDeleter) Attribute() string { return d.attribute }

func (d CollectionDeleter) RequiresDeleteCascadeAfterRemove() bool { return false }

func (d CollectionDeleter) RemoveByID(ctx context.Context, uc *update.Context, id identity.Identity) error {
	return apperror.NewUnsupportedOperation("remove by id", "collection "+d.attribute)
}

func (d CollectionDeleter) RemoveByOwnerID(ctx context.Context, uc *update.Context, ownerID identity.Identity) error {
	if d.mapped != nil {
		return d.mapped.RemoveByOwnerID(ctx, uc, ownerID)
	}
	return d.table.removeByOwner(ctx, uc, ownerID)
}

// ForFlush returns a copy that deletes table rows explicitly even when the
// store would clean them, for use while flushing a collection in place.
func (d CollectionDeleter) ForFlush() CollectionDeleter {
	d.table.storeCleans = false
	return d
}

// MapDeleter removes the entries of a map attribute.
type MapDeleter struct {
	attribute string
	mapped    *BasicDeleter
	table     tableDeleter
}

var _ CascadeDeleter = MapDeleter{}

func (d MapDeleter) Attribute() string { return d.attribute }

func (d MapDeleter) RequiresDeleteCascadeAfterRemove() bool { return false }

func (d MapDeleter) RemoveByID(ctx context.Context, uc *update.Context, id identity.Identity) error {
	return apperror.NewUnsupportedOperation("remove by id", "map "+d.attribute)
}

func (d MapDeleter) RemoveByOwnerID(ctx context.Context, uc *update.Context, ownerID identity.Identity) error {
	if d.mapped != nil {
		return d.mapped.RemoveByOwnerID(ctx, uc, ownerID)
	}
	return d.table.removeByOwner(ctx, uc, ownerID)
}

// ForFlush returns a copy that deletes table rows explicitly.
func (d MapDeleter) ForFlush() MapDeleter {
	d.table.storeCleans = false
	return d
}

// detachDeleter nulls the back-reference of non-cascaded inverse elements and
// queues whatever deletion the inverse flusher defers.
type detachDeleter struct {
	inverse *InverseFlusher
}

func (d detachDeleter) Attribute() string { return d.inverse.attr.Name }

func (d detachDeleter) RequiresDeleteCascadeAfterRemove() bool { return false }

func (d detachDeleter) RemoveByID(ctx context.Context, uc *update.Context, id identity.Identity) error {
	return apperror.NewUnsupportedOperation("remove by id", "inverse "+d.inverse.attr.Name)
}

func (d detachDeleter) RemoveByOwnerID(ctx context.Context, uc *update.Context, ownerID identity.Identity) error {
	tasks, err := d.inverse.RemoveByOwnerID(ctx, uc, ownerID)
	if err != nil {
		return err
	}
	uc.Enqueue(tasks...)
	return nil
}
