// Copyright (C) MongoDB, Inc. 2022-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package csot provides helpers for client-side operation timeouts: deriving
// per-phase budgets from a single overall deadline carried on the context.
package csot

import (
	"context"
	"time"
)

type clientLevel struct{}

// AsClientLevel marks the context as carrying a client-level operation
// timeout, as opposed to a caller-supplied deadline.
func AsClientLevel(parent context.Context) context.Context {
	return context.WithValue(parent, clientLevel{}, true)
}

// IsClientLevel checks if the provided context carries a client-level
// operation timeout.
func IsClientLevel(ctx context.Context) bool {
	val := ctx.Value(clientLevel{})
	if val == nil {
		return false
	}

	return val.(bool)
}

// IsTimeoutContext checks if the provided context has been assigned a deadline
// or carries a client-level timeout.
func IsTimeoutContext(ctx context.Context) bool {
	_, ok := ctx.Deadline()

	return ok || IsClientLevel(ctx)
}

// WithTimeout will set the given timeout on the context, if no deadline has
// already been set.
//
// This function assumes that the timeout field is static, given that the
// timeout should be sourced from the client. Therefore, once a timeout
// function parameter has been applied to the context, it will remain for the
// lifetime of the context.
func WithTimeout(parent context.Context, timeout *time.Duration) (context.Context, context.CancelFunc) {
	cancel := func() {}

	if IsTimeoutContext(parent) || timeout == nil {
		return parent, cancel
	}

	parent = AsClientLevel(parent)

	if *timeout == 0 {
		// A zero timeout means "no time limit": mark the context as
		// client-level but do not set a deadline.
		return parent, cancel
	}

	return context.WithTimeout(parent, *timeout)
}

// WithServerSelectionTimeout creates a context with a timeout that is the
// minimum of serverSelectionTimeoutMS and context deadline. The usage of
// non-positive values for serverSelectionTimeoutMS are an anti-pattern and are
// not considered in this calculation.
func WithServerSelectionTimeout(
	parent context.Context,
	serverSelectionTimeout time.Duration,
) (context.Context, context.CancelFunc) {
	var timeout time.Duration

	deadline, ok := parent.Deadline()
	if ok {
		timeout = time.Until(deadline)
	}

	if !ok && serverSelectionTimeout <= 0 {
		return parent, func() {}
	}

	if !ok {
		timeout = serverSelectionTimeout
	} else if timeout >= serverSelectionTimeout && serverSelectionTimeout > 0 {
		timeout = serverSelectionTimeout
	}

	return context.WithTimeout(parent, timeout)
}

// RemainingBudget returns the time remaining until the context deadline. The
// second return value indicates whether a deadline is set at all.
func RemainingBudget(ctx context.Context) (time.Duration, bool) {
	deadline, ok := ctx.Deadline()
	if !ok {
		return 0, false
	}
	return time.Until(deadline), true
}

// MaxTimeMS returns the remaining budget to advertise to the server as
// maxTimeMS for one round trip: the time until the deadline, less the
// estimated network round trip time, rounded up to a whole millisecond. The
// value is refreshed per round trip, never reused across retries or getMores.
// The second return value is false when no deadline applies or the budget is
// already exhausted.
func MaxTimeMS(ctx context.Context, rtt time.Duration) (int64, bool) {
	remaining, ok := RemainingBudget(ctx)
	if !ok {
		return 0, false
	}

	budget := remaining - rtt
	if budget <= 0 {
		return 0, false
	}

	// Round up to the next millisecond so a sub-millisecond budget does not
	// become maxTimeMS=0, which the server treats as "no limit".
	maxTimeMS := int64((budget + time.Millisecond - 1) / time.Millisecond)
	return maxTimeMS, true
}
