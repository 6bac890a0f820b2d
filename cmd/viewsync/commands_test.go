package main

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"viewsync/internal/identity"
	"viewsync/internal/metamodel/metamodeltest"
	"viewsync/internal/update/flush"
)

func TestParseID(t *testing.T) {
	got, err := parseID("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), got)

	got, err = parseID("owner.id=1, code=a")
	require.NoError(t, err)
	want := identity.New(identity.Pair{Path: "owner.id", Value: int64(1)}, identity.Pair{Path: "code", Value: "a"})
	assert.True(t, want.Equal(got.(identity.Identity)), "got %v", got)

	_, err = parseID("")
	assert.Error(t, err)
	_, err = parseID("=1")
	assert.Error(t, err)
}

func TestParseID_ResolvesComposite(t *testing.T) {
	m := metamodeltest.Model()
	raw, err := parseID("owner.id=1,code=a")
	require.NoError(t, err)

	id, err := identity.ResolveFor(m.MustType("Dependent"), raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"owner.id", "code"}, id.Paths())
}

func TestParseValue(t *testing.T) {
	assert.Nil(t, parseValue("null"))
	assert.Equal(t, int64(-3), parseValue("-3"))
	assert.Equal(t, "x1", parseValue("x1"))
	assert.Equal(t, "v1.2", parseValue("v1.2"))

	d, ok := parseValue("12.50").(decimal.Decimal)
	require.True(t, ok)
	assert.True(t, d.Equal(decimal.RequireFromString("12.5")))
}

func TestFlushers(t *testing.T) {
	owner := metamodeltest.Model().MustType("Owner")

	dirty, err := flushers(owner, []string{"title=renamed", "profile=null", "profile=7"})
	require.NoError(t, err)
	require.Len(t, dirty, 3)
	assert.IsType(t, &flush.ColumnFlusher{}, dirty[0])
	assert.IsType(t, &flush.ReferenceFlusher{}, dirty[1])
	assert.Equal(t, "profile", dirty[2].Attribute())

	_, err = flushers(owner, []string{"title"})
	assert.Error(t, err)
	_, err = flushers(owner, []string{"missing=1"})
	assert.Error(t, err)
	_, err = flushers(owner, []string{"items=1"})
	assert.Error(t, err, "inverse collections are not flushed by value")
}

func TestTarget(t *testing.T) {
	m := metamodeltest.Model()

	typ, id, err := target(m, "Owner", "1")
	require.NoError(t, err)
	assert.Equal(t, "Owner", typ.Name)
	assert.Equal(t, int64(1), id)

	_, _, err = target(m, "Nope", "1")
	assert.Error(t, err)
	_, _, err = target(m, "", "1")
	assert.Error(t, err)
}
