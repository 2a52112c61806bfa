package logging

import "context"

// Noop returns a Logger that discards everything.
func Noop() Logger { return noop{} }

type noop struct{}

func (noop) Info(ctx context.Context, msg string, args ...any)  {}
func (noop) Warn(ctx context.Context, msg string, args ...any)  {}
func (noop) Error(ctx context.Context, msg string, args ...any) {}
func (noop) With(args ...any) Logger                            { return noop{} }
