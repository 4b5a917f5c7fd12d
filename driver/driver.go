// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package driver contains the operation execution engine: command encoding,
// server and connection abstractions, and the retry machinery that sits
// between them.
package driver

import (
	"context"
	"time"

	"github.com/ikmak/mongo-driver-core/address"
	"github.com/ikmak/mongo-driver-core/description"
)

// Deployment is implemented by types that can select a server from a deployment.
type Deployment interface {
	SelectServer(context.Context, description.ServerSelector) (Server, error)
	Description() description.Topology
}

// Server represents a MongoDB server. Implementations should pool connections and handle the
// retrieving and returning of connections.
type Server interface {
	Connection(context.Context) (Connection, error)

	// MinRTT returns the minimum round trip time observed against this
	// server, or zero when no samples have been taken yet.
	MinRTT() time.Duration
}

// Connection represents a connection to a MongoDB server.
type Connection interface {
	WriteWireMessage(context.Context, []byte) error
	ReadWireMessage(ctx context.Context) ([]byte, error)
	Description() description.Server
	Close() error
	ID() string
	Address() address.Address
}

// ErrorProcessor implementations can handle processing errors, which may modify their internal state.
// If this type is implemented by a Server, then Operation.Execute will call its ProcessError
// method after it decodes a wire message.
type ErrorProcessor interface {
	ProcessError(err error, conn Connection)
}

// Handshaker is the interface implemented by types that can perform a MongoDB
// handshake over a provided driver.Connection. This is used during connection
// initialization.
type Handshaker interface {
	GetHandshakeInformation(context.Context, address.Address, Connection) (description.Server, error)
	FinishHandshake(context.Context, Connection) error
}

// Compressor is implemented by connections that negotiated wire compression
// during the handshake.
type Compressor interface {
	CompressWireMessage(src, dst []byte) ([]byte, error)
}

// RetryablePoolError is a connection pool error that can be retried while executing an operation.
type RetryablePoolError interface {
	Retryable() bool
}

// labeledError is an error that can have error labels added to it.
type labeledError interface {
	error
	HasErrorLabel(string) bool
}

// Expirable represents an expirable object.
type Expirable interface {
	Expire() error
	Alive() bool
}
