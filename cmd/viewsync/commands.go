package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	flag "github.com/spf13/pflag"

	appctx "viewsync/internal/core/context"
	"viewsync/internal/identity"
	"viewsync/internal/infrastructure/metrics"
	"viewsync/internal/metamodel"
	"viewsync/internal/update"
	"viewsync/internal/update/flush"
	"viewsync/pkg/logger"
)

// runRemove deletes one row and everything cascading from it.
func runRemove(ctx context.Context, args []string, model *metamodel.Model, globals GlobalFlags) error {
	fs := flag.NewFlagSet("remove", flag.ExitOnError)
	typeName := fs.String("type", "", "managed type name")
	rawID := fs.String("id", "", "identifier: a value or path=value pairs separated by commas")
	_ = fs.Parse(args)

	t, id, err := target(model, *typeName, *rawID)
	if err != nil {
		return err
	}

	return withStore(ctx, globals, "remove", func(ctx context.Context, st *store) error {
		r, err := flush.NewRemover(st.factory, t)
		if err != nil {
			return err
		}
		return st.run(ctx, func(ctx context.Context) error {
			return r.Remove(ctx, update.NewContext(st.session), id)
		})
	})
}

// runFlush writes attribute changes to one row.
func runFlush(ctx context.Context, args []string, model *metamodel.Model, globals GlobalFlags) error {
	fs := flag.NewFlagSet("flush", flag.ExitOnError)
	typeName := fs.String("type", "", "managed type name")
	rawID := fs.String("id", "", "identifier: a value or path=value pairs separated by commas")
	sets := fs.StringArray("set", nil, "attribute=value to write, repeatable; null clears a reference")
	version := fs.Int64("version", 0, "version read by the caller")
	_ = fs.Parse(args)

	t, id, err := target(model, *typeName, *rawID)
	if err != nil {
		return err
	}
	dirty, err := flushers(t, *sets)
	if err != nil {
		return err
	}
	ch := flush.Change{ID: id, Dirty: dirty}
	if fs.Changed("version") {
		ch.Version = version
	}

	return withStore(ctx, globals, "flush", func(ctx context.Context, st *store) error {
		u := flush.NewUpdater(t)
		return st.run(ctx, func(ctx context.Context) error {
			return u.Flush(ctx, update.NewContext(st.session), ch)
		})
	})
}

// withStore opens the configured store, runs fn as one operation and records its outcome.
func withStore(ctx context.Context, globals GlobalFlags, operation string, fn func(ctx context.Context, st *store) error) error {
	ctx = appctx.StartOperation(ctx, operation)

	st, err := openStore(ctx, globals.Driver, globals.DSN)
	if err != nil {
		return err
	}
	defer st.close()

	err = fn(ctx, st)
	metrics.ObserveOperation(operation, err)

	if globals.MetricsOut != "" {
		if werr := writeMetrics(globals.MetricsOut, st); werr != nil {
			logger.Warn(ctx, "failed to write metrics", "path", globals.MetricsOut, "error", werr)
		}
	}
	if err == nil {
		fmt.Fprintf(os.Stdout, "%s ok\n", operation)
	}
	return err
}

func target(model *metamodel.Model, typeName, rawID string) (*metamodel.ManagedType, any, error) {
	if typeName == "" {
		return nil, nil, fmt.Errorf("--type is required")
	}
	t, ok := model.Type(typeName)
	if !ok {
		return nil, nil, fmt.Errorf("unknown type %q", typeName)
	}
	id, err := parseID(rawID)
	if err != nil {
		return nil, nil, err
	}
	return t, id, nil
}

// parseID reads "42" as a scalar and "owner.id=1,code=a" as a flattened identity.
func parseID(raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("--id is required")
	}
	if !strings.Contains(raw, "=") {
		return parseValue(raw), nil
	}
	var pairs []identity.Pair
	for _, part := range strings.Split(raw, ",") {
		path, value, ok := strings.Cut(part, "=")
		path = strings.TrimSpace(path)
		if !ok || path == "" {
			return nil, fmt.Errorf("malformed identifier pair %q", part)
		}
		pairs = append(pairs, identity.Pair{Path: path, Value: parseValue(strings.TrimSpace(value))})
	}
	return identity.New(pairs...), nil
}

// parseValue reads integers as int64, decimal literals as exact decimals and
// "null" as nil; anything else stays a string.
func parseValue(s string) any {
	if s == "null" {
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if strings.Contains(s, ".") {
		if d, err := decimal.NewFromString(s); err == nil {
			return d
		}
	}
	return s
}

func flushers(t *metamodel.ManagedType, sets []string) ([]flush.AttributeFlusher, error) {
	out := make([]flush.AttributeFlusher, 0, len(sets))
	for _, s := range sets {
		name, raw, ok := strings.Cut(s, "=")
		if !ok {
			return nil, fmt.Errorf("malformed --set %q", s)
		}
		value := parseValue(raw)

		a := t.Attribute(name)
		if a != nil && a.Kind == metamodel.KindToOne {
			f, err := flush.NewReferenceFlusher(t, name, value)
			if err != nil {
				return nil, err
			}
			out = append(out, f)
			continue
		}
		f, err := flush.NewColumnFlusher(t, name, value)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}
