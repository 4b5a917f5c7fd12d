// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package drivertest provides test doubles for the driver package.
package drivertest

import (
	"context"
	"errors"

	"github.com/ikmak/mongo-driver-core/address"
	"github.com/ikmak/mongo-driver-core/description"
	"github.com/ikmak/mongo-driver-core/wiremessage"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// ChannelConn implements the driver.Connection interface by reading and writing wire messages
// to a channel
type ChannelConn struct {
	WriteErr error
	Written  chan []byte
	ReadResp chan []byte
	ReadErr  chan error
	Desc     description.Server
	Closes   int
}

// WriteWireMessage implements the driver.Connection interface.
func (c *ChannelConn) WriteWireMessage(ctx context.Context, wm []byte) error {
	// Copy wm in case it came from a buffer pool.
	b := make([]byte, len(wm))
	copy(b, wm)
	select {
	case c.Written <- b:
	default:
		c.WriteErr = errors.New("could not write wiremessage to written channel")
	}
	return c.WriteErr
}

// ReadWireMessage implements the driver.Connection interface.
func (c *ChannelConn) ReadWireMessage(ctx context.Context) ([]byte, error) {
	var wm []byte
	var err error
	select {
	case wm = <-c.ReadResp:
	case err = <-c.ReadErr:
	case <-ctx.Done():
		err = ctx.Err()
	}
	return wm, err
}

// Description implements the driver.Connection interface.
func (c *ChannelConn) Description() description.Server { return c.Desc }

// Close implements the driver.Connection interface.
func (c *ChannelConn) Close() error {
	c.Closes++
	return nil
}

// ID implements the driver.Connection interface.
func (c *ChannelConn) ID() string {
	return "faked"
}

// Address implements the driver.Connection interface.
func (c *ChannelConn) Address() address.Address { return c.Desc.Addr }

// MakeReply creates an OP_REPLY wiremessage from a BSON document
func MakeReply(doc bsoncore.Document) []byte {
	var dst []byte
	idx, dst := bsoncore.ReserveLength(dst)
	dst = bsoncore.AppendInt32(dst, 10)                         // reqid
	dst = bsoncore.AppendInt32(dst, 9)                          // respto
	dst = bsoncore.AppendInt32(dst, int32(wiremessage.OpReply)) // opcode
	dst = bsoncore.AppendInt32(dst, 0)                          // reply flag
	dst = bsoncore.AppendInt64(dst, 0)                          // reply cursor ID
	dst = bsoncore.AppendInt32(dst, 0)                          // reply starting from
	dst = bsoncore.AppendInt32(dst, 1)                          // reply number returned
	dst = append(dst, doc...)
	return bsoncore.UpdateLength(dst, idx, int32(len(dst[idx:])))
}

// MakeMsgReply creates an OP_MSG wiremessage from a BSON document.
func MakeMsgReply(doc bsoncore.Document) []byte {
	idx, dst := wiremessage.AppendHeaderStart(nil, 10, 9, wiremessage.OpMsg)
	dst = wiremessage.AppendMsgFlags(dst, 0)
	dst = wiremessage.AppendMsgSectionType(dst, wiremessage.SingleDocument)
	dst = append(dst, doc...)
	return wiremessage.UpdateLength(dst, idx, int32(len(dst)))
}

// GetCommandFromMsgWireMessage returns the command document sent in an OP_MSG
// wire message.
func GetCommandFromMsgWireMessage(wm []byte) (bsoncore.Document, error) {
	_, _, _, opcode, rem, ok := wiremessage.ReadHeader(wm)
	if !ok {
		return nil, errors.New("could not read header")
	}
	if opcode != wiremessage.OpMsg {
		return nil, errors.New("expected an OP_MSG wire message")
	}
	_, rem, ok = wiremessage.ReadMsgFlags(rem)
	if !ok {
		return nil, errors.New("could not read flags")
	}
	stype, rem, ok := wiremessage.ReadMsgSectionType(rem)
	if !ok || stype != wiremessage.SingleDocument {
		return nil, errors.New("expected a single document section")
	}
	doc, _, ok := wiremessage.ReadMsgSectionSingleDocument(rem)
	if !ok {
		return nil, errors.New("could not read command document")
	}
	return doc, nil
}

// GetCommandFromQueryWireMessage returns the command sent in an OP_QUERY wire message.
func GetCommandFromQueryWireMessage(wm []byte) (bsoncore.Document, error) {
	var ok bool
	_, _, _, _, wm, ok = wiremessage.ReadHeader(wm)
	if !ok {
		return nil, errors.New("could not read header")
	}
	_, wm, ok = wiremessage.ReadQueryFlags(wm)
	if !ok {
		return nil, errors.New("could not read flags")
	}
	_, wm, ok = wiremessage.ReadQueryFullCollectionName(wm)
	if !ok {
		return nil, errors.New("could not read fullCollectionName")
	}
	_, wm, ok = wiremessage.ReadQueryNumberToSkip(wm)
	if !ok {
		return nil, errors.New("could not read numberToSkip")
	}
	_, wm, ok = wiremessage.ReadQueryNumberToReturn(wm)
	if !ok {
		return nil, errors.New("could not read numberToReturn")
	}

	var query bsoncore.Document
	query, _, ok = wiremessage.ReadQueryQuery(wm)
	if !ok {
		return nil, errors.New("could not read query")
	}
	return query, nil
}
