// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package xlog adapts github.com/luxfi/log for the node core's components.
// Every component takes a log.Logger at construction (never a package
// global); this package only supplies the default used when the caller
// doesn't wire in its own.
package xlog

import (
	"github.com/luxfi/log"
	"go.uber.org/zap"
)

// Component returns a logger scoped to name. Callers that want structured
// production logging pass their own log.Logger (e.g. one backed by
// go.uber.org/zap, which github.com/luxfi/log's production implementation
// wraps) into each constructor; Component is the zero-config fallback used
// by tests and examples.
func Component(name string) log.Logger {
	return log.NewNoOpLogger().With(zap.String("component", name))
}

// NoOp returns a logger that discards everything, for tests that don't
// care about log output at all.
func NoOp() log.Logger {
	return log.NewNoOpLogger()
}
