// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ikmak/mongo-driver-core/description"
	"github.com/ikmak/mongo-driver-core/internal/csot"
	"github.com/ikmak/mongo-driver-core/internal/logger"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// Type specifies whether an operation is a read or a write.
type Type uint

// The available operation types.
const (
	_ Type = iota
	Read
	Write
)

// RetryPolicy identifies the retry strategy chosen for an operation attempt
// cycle. The policy is decided once, from the capability of the first
// selected server, and never changes mid-operation.
type RetryPolicy uint8

// The available retry policies.
const (
	// RetryPolicyNone disables retrying entirely. Failures surface
	// immediately.
	RetryPolicyNone RetryPolicy = iota
	// RetryPolicyLegacy retries a bounded number of times on the known-safe
	// error code set, without a transaction number.
	RetryPolicyLegacy
	// RetryPolicyModern performs at most one additional attempt, reusing the
	// session's transaction number so the server can deduplicate the write.
	RetryPolicyModern
)

func (rp RetryPolicy) String() string {
	switch rp {
	case RetryPolicyLegacy:
		return "legacy"
	case RetryPolicyModern:
		return "modern"
	default:
		return "none"
	}
}

// DefaultMaxWriteRetries is the legacy retry budget used when none is
// configured.
const DefaultMaxWriteRetries = 1

// legacyRetryableCodes is the known-safe subset of server error codes the
// legacy policy will retry. The modern policy defers to labels and the full
// retryable code set instead.
var legacyRetryableCodes = []int32{6, 7, 89, 91, 189, 9001, 10107, 11600, 11602, 13435, 13436}

// unauthorizedError is implemented by authentication failures. They are never
// retried regardless of policy.
type unauthorizedError interface {
	error
	Unauthorized() bool
}

// Operation is used to execute a command against a deployment, retrying
// according to the capability of the servers involved.
type Operation struct {
	// Spec describes the command to run.
	Spec *CommandSpec

	// Deployment is the set of servers to select from.
	Deployment Deployment

	// Selector is the server selector used for every attempt. Each retry
	// performs a fresh selection.
	Selector description.ServerSelector

	// Type is Read or Write. It must be set.
	Type Type

	// RetryWrites disables retrying when set to false. It can only turn
	// retries off; server capability decides whether the modern policy is
	// available in the first place.
	RetryWrites *bool

	// MaxWriteRetries bounds the legacy policy. Zero means
	// DefaultMaxWriteRetries.
	MaxWriteRetries int

	// Timeout is the overall budget for all attempts combined.
	Timeout *time.Duration

	// Logger receives the per-retry diagnostic lines.
	Logger *logger.Logger

	// ProcessResponse is called with the reply document of a successful
	// round trip.
	ProcessResponse func(response bsoncore.Document, desc description.Server) error
}

// ServerSelectionError is returned when no server could be selected within
// the selection budget.
type ServerSelectionError struct {
	Desc    description.Topology
	Wrapped error
}

// Error implements the error interface.
func (e ServerSelectionError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("server selection error: %v, current topology: { %s }", e.Wrapped, e.Desc)
	}
	return fmt.Sprintf("server selection error: current topology: { %s }", e.Desc)
}

// Unwrap returns the underlying error.
func (e ServerSelectionError) Unwrap() error { return e.Wrapped }

// Validate checks that the operation can be executed.
func (op Operation) Validate() error {
	if op.Spec == nil || len(op.Spec.Command) == 0 {
		return errors.New("the CommandSpec field must be set on Operation")
	}
	if op.Deployment == nil {
		return errors.New("the Deployment field must be set on Operation")
	}
	if op.Type != Read && op.Type != Write {
		return errors.New("the Type field must be set on Operation")
	}
	return nil
}

// retryWritesDisabled reports whether the client opted out of retries.
func (op Operation) retryWritesDisabled() bool {
	return op.RetryWrites != nil && !*op.RetryWrites
}

// choosePolicy decides the retry policy from the first selected server's
// capability. Server capability is the sole source of truth for modern
// availability; client configuration can only disable.
func (op Operation) choosePolicy(desc description.Server) (RetryPolicy, int) {
	if op.Type == Write && !op.Spec.WriteConcern.Acknowledged() {
		return RetryPolicyNone, 0
	}
	if op.retryWritesDisabled() {
		if op.Type == Write && op.MaxWriteRetries > 0 {
			// Explicit opt-out of modern retries with a legacy budget still
			// configured keeps the legacy path alive.
			return RetryPolicyLegacy, op.MaxWriteRetries
		}
		return RetryPolicyNone, 0
	}

	if desc.SupportsRetryWrites() && op.Spec.Session != nil {
		return RetryPolicyModern, 1
	}

	retries := op.MaxWriteRetries
	if retries == 0 {
		retries = DefaultMaxWriteRetries
	}
	if desc.Kind == description.Standalone {
		return RetryPolicyNone, 0
	}
	return RetryPolicyLegacy, retries
}

// retryable classifies err under the active policy.
func retryable(policy RetryPolicy, err error, wireVersion int32) bool {
	if err == nil {
		return false
	}

	var unauth unauthorizedError
	if errors.As(err, &unauth) && unauth.Unauthorized() {
		return false
	}

	var connErr ConnectionError
	if errors.As(err, &connErr) {
		return true
	}

	switch policy {
	case RetryPolicyModern:
		var sErr Error
		if errors.As(err, &sErr) {
			return sErr.RetryableWrite(wireVersion)
		}
		var wErr WriteCommandError
		if errors.As(err, &wErr) {
			return wErr.Retryable()
		}
	case RetryPolicyLegacy:
		var sErr Error
		if errors.As(err, &sErr) {
			for _, code := range legacyRetryableCodes {
				if sErr.Code == code {
					return true
				}
			}
			return false
		}
		var wErr WriteCommandError
		if errors.As(err, &wErr) && wErr.WriteConcernError != nil {
			for _, code := range legacyRetryableCodes {
				if wErr.WriteConcernError.Code == int64(code) {
					return true
				}
			}
		}
	}
	return false
}

// Execute runs the operation, driving the attempt loop until success, budget
// exhaustion, or the deadline.
func (op Operation) Execute(ctx context.Context) error {
	if err := op.Validate(); err != nil {
		return err
	}

	ctx, cancel := csot.WithTimeout(ctx, op.Timeout)
	defer cancel()

	cmdName := op.Spec.CommandName()

	var srvr Server
	var conn Connection
	var policy RetryPolicy
	var retries int
	var prevErr error
	attempt := 1
	first := true

	for {
		if errors.Is(prevErr, context.Canceled) || errors.Is(prevErr, context.DeadlineExceeded) {
			return prevErr
		}

		if srvr == nil || conn == nil {
			var err error
			srvr, conn, err = op.getServerAndConnection(ctx)
			if err != nil {
				if rerr, ok := err.(RetryablePoolError); ok && rerr.Retryable() && retries > 0 {
					retries--
					prevErr = err
					srvr, conn = nil, nil
					continue
				}
				if prevErr != nil {
					return prevErr
				}
				return err
			}
		}

		desc := conn.Description()

		if first {
			// The capability of the first selected server fixes the policy
			// for the whole operation. A retryable write bumps the session's
			// transaction number exactly once, so every attempt carries the
			// same number.
			policy, retries = op.choosePolicy(desc)
			if policy == RetryPolicyModern && op.Type == Write {
				op.Spec.Session.IncrementTxnNumber()
			}
			first = false
		}

		// A deadline that cannot cover even one round trip is a fail-fast
		// timeout, not an attempt.
		if csot.IsTimeoutContext(ctx) {
			if remaining, ok := csot.RemainingBudget(ctx); ok && remaining < srvr.MinRTT() {
				conn.Close()
				return TimeoutError{Phase: CommandPhase, Wrapped: context.DeadlineExceeded}
			}
		}

		res, err := op.roundTrip(ctx, srvr, conn, desc)
		if err == nil && op.ProcessResponse != nil {
			err = op.ProcessResponse(res, desc)
		}
		if err == nil {
			conn.Close()
			return nil
		}

		if ep, ok := srvr.(ErrorProcessor); ok {
			ep.ProcessError(err, conn)
		}

		var tErr TimeoutError
		if errors.As(err, &tErr) || errors.Is(err, ErrDeadlineWouldBeExceeded) {
			conn.Close()
			return err
		}

		if retries > 0 && retryable(policy, err, desc.WireVersion.Max) {
			op.logRetry(policy, cmdName, attempt, err)
			retries--
			prevErr = err
			conn.Close()
			srvr, conn = nil, nil
			attempt++
			continue
		}

		if policy != RetryPolicyNone {
			op.logFailure(cmdName, desc.Addr.String(), attempt, err)
		}
		conn.Close()
		return err
	}
}

// getServerAndConnection selects a server and checks out a connection from
// it. Selection failures within a timeout context surface as TimeoutError so
// callers can tell the phase that ran out of budget.
func (op Operation) getServerAndConnection(ctx context.Context) (Server, Connection, error) {
	selector := op.Selector
	if selector == nil {
		selector = description.ServerSelectorFunc(func(_ description.Topology, candidates []description.Server) ([]description.Server, error) {
			return candidates, nil
		})
	}

	srvr, err := op.Deployment.SelectServer(ctx, selector)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, nil, TimeoutError{Phase: SelectionPhase, Wrapped: err}
		}
		return nil, nil, ServerSelectionError{Desc: op.Deployment.Description(), Wrapped: err}
	}

	conn, err := srvr.Connection(ctx)
	if err != nil {
		return nil, nil, err
	}
	return srvr, conn, nil
}

// roundTrip encodes the command, performs one write/read cycle, and decodes
// the response, classifying any failure.
func (op Operation) roundTrip(ctx context.Context, srvr Server, conn Connection, desc description.Server) (bsoncore.Document, error) {
	wm, _, err := op.Spec.Encode(ctx, desc, op.Deployment.Description().Kind, srvr.MinRTT())
	if err != nil {
		if errors.Is(err, ErrDeadlineWouldBeExceeded) {
			return nil, TimeoutError{Phase: CommandPhase, Wrapped: err}
		}
		return nil, err
	}

	if compressor, ok := conn.(Compressor); ok && canCompress(op.Spec.CommandName()) {
		wm, err = compressor.CompressWireMessage(wm, nil)
		if err != nil {
			return nil, err
		}
	}

	if err := conn.WriteWireMessage(ctx, wm); err != nil {
		return nil, op.networkError(ctx, conn, err)
	}

	res, err := conn.ReadWireMessage(ctx)
	if err != nil {
		return nil, op.networkError(ctx, conn, err)
	}

	doc, err := DecodeReply(res)
	if err != nil {
		return nil, err
	}

	if err := ExtractErrorFromServerResponse(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// networkError wraps a socket failure. The session, if any, is marked dirty
// so its server session is discarded rather than reused.
func (op Operation) networkError(ctx context.Context, conn Connection, err error) error {
	if op.Spec.Session != nil && op.Spec.Session.Server != nil {
		op.Spec.Session.MarkDirty()
	}

	message := "socket error"
	var timeout bool
	if netErr, ok := err.(interface{ Timeout() bool }); ok && netErr.Timeout() {
		message = "socket timeout"
		timeout = true
	}
	if ctx.Err() != nil {
		timeout = true
	}
	return ConnectionError{Addr: conn.Address(), Wrapped: err, Timeout: timeout, Message: message}
}

// handshakeCommands are never compressed.
var handshakeCommands = map[string]bool{
	"hello":        true,
	"isMaster":     true,
	"ismaster":     true,
	"saslStart":    true,
	"saslContinue": true,
	"getnonce":     true,
	"authenticate": true,
}

func canCompress(cmd string) bool {
	return !handshakeCommands[cmd]
}

func (op Operation) logRetry(policy RetryPolicy, cmdName string, attempt int, err error) {
	if op.Logger == nil {
		return
	}
	op.Logger.Warningf(logger.ComponentCommand, "retrying %s (%s retry, attempt %d): %v", cmdName, policy, attempt, err)
}

func (op Operation) logFailure(cmdName, addr string, attempt int, err error) {
	if op.Logger == nil {
		return
	}
	op.Logger.Warningf(logger.ComponentCommand, "%s failed against %s on attempt %d: %v", cmdName, addr, attempt, err)
}
