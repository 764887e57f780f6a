// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Fort Contributors

package errutil

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
)

// LogError logs err at error level with its taxonomy kind and, for oops
// errors, the code and context map.
func LogError(ctx context.Context, logger *slog.Logger, msg string, err error) {
	logger.ErrorContext(ctx, msg, Attrs(err)...)
}

// LogWarn is LogError at warn level, for failures the caller recovers from.
func LogWarn(ctx context.Context, logger *slog.Logger, msg string, err error) {
	logger.WarnContext(ctx, msg, Attrs(err)...)
}

// Attrs returns structured log attributes describing err.
func Attrs(err error) []any {
	attrs := []any{"error", err.Error()}
	if kind := KindOf(err); kind != KindUnknown {
		attrs = append(attrs, "kind", string(kind))
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return attrs
	}
	if code := oopsErr.Code(); code != "" {
		attrs = append(attrs, "code", code)
	}
	if ctx := oopsErr.Context(); len(ctx) > 0 {
		attrs = append(attrs, "context", ctx)
	}
	return attrs
}
