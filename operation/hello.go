// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package operation

import (
	"runtime"
	"strconv"

	"github.com/ikmak/mongo-driver-core/driver"
	"github.com/ikmak/mongo-driver-core/internal/version"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// Hello represents the hello command, the server handshake and heartbeat.
type Hello struct {
	// AppName is sent in the client metadata of the initial handshake.
	AppName string

	// Compressors are the compressors the client is willing to use, in
	// preference order.
	Compressors []string

	// SASLSupportedMechs requests the SASL mechanisms the server supports for
	// the given user, as "db.user".
	SASLSupportedMechs string

	// Legacy uses the isMaster command name for servers that predate hello,
	// with helloOk requesting the modern name for subsequent heartbeats.
	Legacy bool

	// InitialHandshake includes the client metadata document.
	InitialHandshake bool
}

// Spec builds the command spec for the handshake or heartbeat.
func (h *Hello) Spec() *driver.CommandSpec {
	var elems []byte
	if h.Legacy {
		elems = bsoncore.AppendInt32Element(elems, "isMaster", 1)
		elems = bsoncore.AppendBooleanElement(elems, "helloOk", true)
	} else {
		elems = bsoncore.AppendInt32Element(elems, "hello", 1)
	}

	if h.SASLSupportedMechs != "" {
		elems = bsoncore.AppendStringElement(elems, "saslSupportedMechs", h.SASLSupportedMechs)
	}

	if h.InitialHandshake {
		elems = bsoncore.AppendDocumentElement(elems, "client", h.clientMetadata())

		var idx int32
		idx, elems = bsoncore.AppendArrayElementStart(elems, "compression")
		for i, compressor := range h.Compressors {
			elems = bsoncore.AppendStringElement(elems, strconv.Itoa(i), compressor)
		}
		elems, _ = bsoncore.AppendArrayEnd(elems, idx)
	}

	return &driver.CommandSpec{
		DB:      "admin",
		Command: bsoncore.BuildDocument(nil, elems),
	}
}

func (h *Hello) clientMetadata() bsoncore.Document {
	var appIdx int32
	var elems []byte

	if h.AppName != "" {
		appIdx, elems = bsoncore.AppendDocumentElementStart(elems, "application")
		elems = bsoncore.AppendStringElement(elems, "name", h.AppName)
		elems, _ = bsoncore.AppendDocumentEnd(elems, appIdx)
	}

	var idx int32
	idx, elems = bsoncore.AppendDocumentElementStart(elems, "driver")
	elems = bsoncore.AppendStringElement(elems, "name", "mongo-driver-core")
	elems = bsoncore.AppendStringElement(elems, "version", version.Driver)
	elems, _ = bsoncore.AppendDocumentEnd(elems, idx)

	idx, elems = bsoncore.AppendDocumentElementStart(elems, "os")
	elems = bsoncore.AppendStringElement(elems, "type", runtime.GOOS)
	elems = bsoncore.AppendStringElement(elems, "architecture", runtime.GOARCH)
	elems, _ = bsoncore.AppendDocumentEnd(elems, idx)

	elems = bsoncore.AppendStringElement(elems, "platform", runtime.Version())

	return bsoncore.BuildDocument(nil, elems)
}
