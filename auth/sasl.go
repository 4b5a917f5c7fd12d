// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package auth

import (
	"context"
	"errors"

	"github.com/ikmak/mongo-driver-core/description"
	"github.com/ikmak/mongo-driver-core/driver"
	"github.com/ikmak/mongo-driver-core/wiremessage"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

const defaultAuthDB = "admin"

// SaslClient is the client piece of a sasl conversation.
type SaslClient interface {
	Start() (string, []byte, error)
	Next(challenge []byte) ([]byte, error)
	Completed() bool
}

// SaslClientCloser is a SaslClient that has resources to clean up.
type SaslClientCloser interface {
	SaslClient
	Close()
}

type saslResponse struct {
	conversationID int32
	code           int32
	done           bool
	payload        []byte
}

func parseSaslResponse(doc bsoncore.Document) (saslResponse, error) {
	var resp saslResponse

	if id, ok := doc.Lookup("conversationId").AsInt64OK(); ok {
		resp.conversationID = int32(id)
	}
	if code, ok := doc.Lookup("code").AsInt64OK(); ok {
		resp.code = int32(code)
	}
	if done, ok := doc.Lookup("done").BooleanOK(); ok {
		resp.done = done
	}
	if _, payload, ok := doc.Lookup("payload").BinaryOK(); ok {
		resp.payload = payload
	}
	return resp, nil
}

// runAuthCommand performs one command round trip on the connection being
// authenticated. OP_MSG is used once the server's wire version allows it,
// OP_QUERY before that.
func runAuthCommand(ctx context.Context, desc description.Server, conn driver.Connection, db string, cmd bsoncore.Document) (bsoncore.Document, error) {
	spec := &driver.CommandSpec{DB: db, Command: cmd}

	var wm wiremessage.WireMessage
	var err error
	if desc.WireVersion.Max >= wiremessage.OpmsgWireVersion {
		wm, _, err = spec.Encode(ctx, desc, description.Single, 0)
	} else {
		wm, _, err = spec.EncodeQuery(true)
	}
	if err != nil {
		return nil, err
	}

	if err := conn.WriteWireMessage(ctx, wm); err != nil {
		return nil, err
	}
	res, err := conn.ReadWireMessage(ctx)
	if err != nil {
		return nil, err
	}

	doc, err := driver.DecodeReply(res)
	if err != nil {
		return nil, err
	}
	if err := driver.ExtractErrorFromServerResponse(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// ConductSaslConversation runs a complete sasl conversation against the
// provided connection: one saslStart followed by saslContinue rounds until
// both sides are done.
func ConductSaslConversation(ctx context.Context, desc description.Server, conn driver.Connection, db string, client SaslClient) error {
	if db == "" {
		db = defaultAuthDB
	}

	if closer, ok := client.(SaslClientCloser); ok {
		defer closer.Close()
	}

	mech, payload, err := client.Start()
	if err != nil {
		return newError(err, mech)
	}

	saslStart := bsoncore.AppendInt32Element(nil, "saslStart", 1)
	saslStart = bsoncore.AppendStringElement(saslStart, "mechanism", mech)
	saslStart = bsoncore.AppendBinaryElement(saslStart, "payload", 0x00, payload)

	doc, err := runAuthCommand(ctx, desc, conn, db, bsoncore.BuildDocument(nil, saslStart))
	if err != nil {
		return newError(err, mech)
	}
	resp, err := parseSaslResponse(doc)
	if err != nil {
		return newError(err, mech)
	}

	cid := resp.conversationID

	for {
		if resp.code != 0 {
			return newError(errors.New("server returned error on sasl response"), mech)
		}

		if resp.done && client.Completed() {
			return nil
		}

		payload, err = client.Next(resp.payload)
		if err != nil {
			return newError(err, mech)
		}

		if resp.done && client.Completed() {
			return nil
		}

		saslContinue := bsoncore.AppendInt32Element(nil, "saslContinue", 1)
		saslContinue = bsoncore.AppendInt32Element(saslContinue, "conversationId", cid)
		saslContinue = bsoncore.AppendBinaryElement(saslContinue, "payload", 0x00, payload)

		doc, err = runAuthCommand(ctx, desc, conn, db, bsoncore.BuildDocument(nil, saslContinue))
		if err != nil {
			return newError(err, mech)
		}
		resp, err = parseSaslResponse(doc)
		if err != nil {
			return newError(err, mech)
		}
	}
}
