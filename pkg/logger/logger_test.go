package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	appctx "viewsync/internal/core/context"
)

func TestFromContext_CarriesFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := (&Logger{zap.New(core).Sugar()}).WithComponent("flush").With("driver", "sqlite")

	ctx := WithLogger(context.Background(), l)
	ctx = appctx.StartOperation(ctx, "remove")
	Info(ctx, "entity removed", "type", "Owner")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "flush", fields["component"])
	assert.Equal(t, "sqlite", fields["driver"])
	assert.Equal(t, "Owner", fields["type"])
	assert.Equal(t, "remove", fields["operation"])
}

func TestFromContext_Nop(t *testing.T) {
	nop := NewNop()
	ctx := WithLogger(context.Background(), nop)
	assert.Same(t, nop, FromContext(ctx))
	Debug(ctx, "discarded")
}
