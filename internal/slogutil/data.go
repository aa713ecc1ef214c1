package slogutil

import (
	"context"
	"iter"
	"log/slog"
	"maps"
)

type data map[string]slog.Attr

type dataKey struct{}

func cloneData(ctx context.Context) data {
	d, ok := ctx.Value(dataKey{}).(data)
	if !ok {
		return data{}
	}

	return maps.Clone(d)
}

// WithAttrs returns a context carrying attrs in addition to those already present.
// Later keys replace earlier ones.
func WithAttrs(ctx context.Context, attrs ...slog.Attr) context.Context {
	if len(attrs) == 0 {
		return ctx
	}

	d := cloneData(ctx)
	for _, a := range attrs {
		d[a.Key] = a
	}

	return context.WithValue(ctx, dataKey{}, d)
}

// With is WithAttrs for alternating key-value pairs, as accepted by slog.Logger.Info.
func With(ctx context.Context, kvargs ...any) context.Context {
	if len(kvargs) == 0 {
		return ctx
	}

	var r slog.Record
	r.Add(kvargs...)

	attrs := make([]slog.Attr, 0, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a)
		return true
	})

	return WithAttrs(ctx, attrs...)
}

// All iterates over the attributes stored in ctx.
func All(ctx context.Context) iter.Seq[slog.Attr] {
	return func(yield func(slog.Attr) bool) {
		d, ok := ctx.Value(dataKey{}).(data)
		if !ok {
			return
		}

		for _, v := range d {
			if !yield(v) {
				return
			}
		}
	}
}

// Value returns the value stored under key, if any.
func Value(ctx context.Context, key string) (slog.Value, bool) {
	d, ok := ctx.Value(dataKey{}).(data)
	if !ok {
		return slog.Value{}, false
	}
	a, ok := d[key]
	return a.Value, ok
}

type dataHook struct{}

func (dataHook) Run(ctx context.Context, r *slog.Record) {
	for a := range All(ctx) {
		r.AddAttrs(a)
	}
}
