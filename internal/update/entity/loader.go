// Package entity loads managed entities for the entity-graph write path.
package entity

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Masterminds/squirrel"

	"viewsync/internal/core/apperror"
	"viewsync/internal/identity"
	"viewsync/internal/metamodel"
	"viewsync/internal/update"
	"viewsync/pkg/logger"
)

const rootAlias = "e"

// FetchJoiner is implemented by attribute flushers that need an association
// loaded eagerly before ApplyToEntityGraph runs.
type FetchJoiner interface {
	AppendFetchJoin(plan *FetchPlan) error
}

type fetchJoin struct {
	attribute string
	columns   []string
}

// FetchPlan accumulates the joins of a loader's fetch statement.
type FetchPlan struct {
	typ   *metamodel.ManagedType
	query squirrel.SelectBuilder
	joins []fetchJoin
}

// JoinToOne left-joins the owning to-one attribute and selects every column
// of the target row as "<attribute>__<column>".
func (p *FetchPlan) JoinToOne(attribute string) error {
	for _, j := range p.joins {
		if j.attribute == attribute {
			return nil
		}
	}
	a := p.typ.Attribute(attribute)
	if a == nil || a.Kind != metamodel.KindToOne || a.ForeignJoinColumn() {
		return apperror.NewUnsupportedOperation("fetch join", p.typ.Name+"."+attribute)
	}
	target := a.TargetType()
	alias := fmt.Sprintf("j%d", len(p.joins))

	on := make([]string, len(a.JoinColumns))
	for i, jc := range a.JoinColumns {
		col, _ := target.ColumnFor(jc.Path)
		on[i] = fmt.Sprintf("%s.%s = %s.%s", alias, col, rootAlias, jc.Column)
	}
	p.query = p.query.LeftJoin(fmt.Sprintf("%s %s ON %s", target.Table, alias, strings.Join(on, " AND ")))

	join := fetchJoin{attribute: attribute}
	for _, c := range target.Columns() {
		p.query = p.query.Column(fmt.Sprintf("%s.%s AS %s__%s", alias, c, attribute, c))
		join.columns = append(join.columns, c)
	}
	p.joins = append(p.joins, join)
	return nil
}

// Loader loads entities of one type. The fetch statement is built on first
// use and reused for every later call; results are never cached.
type Loader struct {
	typ      *metamodel.ManagedType
	fetchers []FetchJoiner

	once  sync.Once
	sql   string
	joins []fetchJoin
	err   error
}

// New creates a loader. Without fetchers it delegates to Session.GetReferenceOrLoad,
// which reports a missing row as ENTITY_NOT_FOUND.
func New(t *metamodel.ManagedType, fetchers ...FetchJoiner) *Loader {
	return &Loader{typ: t, fetchers: fetchers}
}

// Type returns the loaded type.
func (l *Loader) Type() *metamodel.ManagedType { return l.typ }

// Load returns the entity identified by id. A nil id yields a new transient instance.
func (l *Loader) Load(ctx context.Context, uc *update.Context, id any) (*update.EntityRef, error) {
	if id == nil {
		return update.NewTransient(l.typ), nil
	}
	ident, err := identity.ResolveFor(l.typ, id)
	if err != nil {
		return nil, err
	}
	if len(l.fetchers) == 0 {
		return uc.Session().GetReferenceOrLoad(ctx, l.typ, ident)
	}

	sql, joins, err := l.statement()
	if err != nil {
		return nil, err
	}
	args, err := update.BindJoinColumns(l.typ.Name, ident, l.typ.IdentifierJoinColumns())
	if err != nil {
		return nil, err
	}
	rows, err := uc.Session().Query(ctx, update.Statement{SQL: sql, Args: args})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", l.typ.Name, err)
	}
	if len(rows) == 0 {
		return nil, apperror.NewEntityNotFound(l.typ.Name, ident.String())
	}

	row := rows[0]
	ref := update.NewReference(l.typ, ident)
	ref.Loaded = true
	for _, c := range l.typ.Columns() {
		if v, ok := row[c]; ok {
			ref.Fill(c, v)
		}
	}
	for _, j := range joins {
		assoc := make(update.Row, len(j.columns))
		present := false
		for _, c := range j.columns {
			v := row[j.attribute+"__"+c]
			if v != nil {
				present = true
			}
			assoc[c] = v
		}
		if present {
			ref.SetAssociation(j.attribute, assoc)
		}
	}

	logger.Debug(ctx, "entity loaded", "type", l.typ.Name, "id", ident.String(), "joins", len(joins))
	return ref, nil
}

// Statement returns the cached fetch statement text.
func (l *Loader) Statement() (string, error) {
	sql, _, err := l.statement()
	return sql, err
}

func (l *Loader) statement() (string, []fetchJoin, error) {
	l.once.Do(func() {
		cols := l.typ.Columns()
		selected := make([]string, len(cols))
		for i, c := range cols {
			selected[i] = fmt.Sprintf("%s.%s AS %s", rootAlias, c, c)
		}
		idCols := l.typ.IdentifierColumns()
		qualified := make([]string, len(idCols))
		for i, c := range idCols {
			qualified[i] = rootAlias + "." + c
		}

		plan := &FetchPlan{
			typ: l.typ,
			query: update.Builder().
				Select(selected...).
				From(l.typ.Table + " " + rootAlias).
				Where(update.ColumnsEqual(qualified)),
		}
		for _, f := range l.fetchers {
			if err := f.AppendFetchJoin(plan); err != nil {
				l.err = err
				return
			}
		}
		l.sql, _, l.err = plan.query.ToSql()
		l.joins = plan.joins
	})
	return l.sql, l.joins, l.err
}
