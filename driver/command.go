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
	"github.com/ikmak/mongo-driver-core/readconcern"
	"github.com/ikmak/mongo-driver-core/readpref"
	"github.com/ikmak/mongo-driver-core/session"
	"github.com/ikmak/mongo-driver-core/wiremessage"
	"github.com/ikmak/mongo-driver-core/writeconcern"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// ErrUnsupportedCollation is returned when a command carries a collation but
// the selected server's wire version does not support one. The check happens
// before any bytes are written to the network.
var ErrUnsupportedCollation = errors.New("collation is not supported by the selected server, upgrade to version >= 3.4")

// ErrEmptyCommand is returned when an empty command document is encoded.
var ErrEmptyCommand = errors.New("command document cannot be empty")

// CommandSpec describes a single database command: the ordered command
// document plus the concerns, read preference, and session state that get
// appended to it during encoding. The first key of Command names the command.
type CommandSpec struct {
	DB           string
	Command      bsoncore.Document
	ReadConcern  *readconcern.ReadConcern
	WriteConcern *writeconcern.WriteConcern
	ReadPref     *readpref.ReadPref
	Collation    bsoncore.Document
	Session      *session.Client

	// MaxAwaitTime, when set, takes precedence over the deadline-derived
	// maxTimeMS. It applies to await-capable getMore commands.
	MaxAwaitTime *time.Duration
}

// CommandName returns the name of the command described by this spec, which
// is the first key of the command document.
func (cs *CommandSpec) CommandName() string {
	if len(cs.Command) == 0 {
		return ""
	}
	elems, err := cs.Command.Elements()
	if err != nil || len(elems) == 0 {
		return ""
	}
	return elems[0].Key()
}

// Validate performs the client-side checks that must fail before any network
// traffic happens.
func (cs *CommandSpec) Validate(desc description.Server) error {
	if len(cs.Command) == 0 {
		return ErrEmptyCommand
	}
	if err := cs.Command.Validate(); err != nil {
		return err
	}
	if cs.Collation != nil && !desc.SupportsCollation() {
		return ErrUnsupportedCollation
	}
	return nil
}

// Encode builds the OP_MSG wire message for this command against the given
// server. The maxTimeMS field is computed fresh from the context's remaining
// budget minus minRTT on every call, so retries and getMores never reuse a
// stale value. The request ID used is returned alongside the message.
func (cs *CommandSpec) Encode(ctx context.Context, desc description.Server, kind description.TopologyKind, minRTT time.Duration) (wiremessage.WireMessage, int32, error) {
	if err := cs.Validate(desc); err != nil {
		return nil, 0, err
	}

	body, err := cs.encodeBody(ctx, desc, kind, minRTT)
	if err != nil {
		return nil, 0, err
	}

	requestID := wiremessage.NextRequestID()
	idx, wm := wiremessage.AppendHeaderStart(nil, requestID, 0, wiremessage.OpMsg)
	wm = wiremessage.AppendMsgFlags(wm, 0)
	wm = wiremessage.AppendMsgSectionType(wm, wiremessage.SingleDocument)
	wm = append(wm, body...)
	wm = wiremessage.UpdateLength(wm, idx, int32(len(wm)))
	return wm, requestID, nil
}

// EncodeQuery builds a legacy OP_QUERY wire message for this command against
// the $cmd collection. This path exists for the initial hello on a fresh
// connection, before the server's wire version is known.
func (cs *CommandSpec) EncodeQuery(secondaryOK bool) (wiremessage.WireMessage, int32, error) {
	if len(cs.Command) == 0 {
		return nil, 0, ErrEmptyCommand
	}

	var flags wiremessage.QueryFlag
	if secondaryOK {
		flags |= wiremessage.SecondaryOK
	}

	requestID := wiremessage.NextRequestID()
	idx, wm := wiremessage.AppendHeaderStart(nil, requestID, 0, wiremessage.OpQuery)
	wm = wiremessage.AppendQueryFlags(wm, flags)
	wm = wiremessage.AppendQueryFullCollectionName(wm, cs.DB+".$cmd")
	wm = wiremessage.AppendQueryNumberToSkip(wm, 0)
	wm = wiremessage.AppendQueryNumberToReturn(wm, -1)
	wm = append(wm, cs.Command...)
	wm = wiremessage.UpdateLength(wm, idx, int32(len(wm)))
	return wm, requestID, nil
}

func (cs *CommandSpec) encodeBody(ctx context.Context, desc description.Server, kind description.TopologyKind, minRTT time.Duration) (bsoncore.Document, error) {
	// Start from the caller's ordered command elements so the first key
	// still names the command after we append ours.
	elems := make([]byte, 0, len(cs.Command))
	cmdElems, err := cs.Command.Elements()
	if err != nil {
		return nil, err
	}
	for _, elem := range cmdElems {
		elems = append(elems, elem...)
	}

	elems, err = cs.appendMaxTimeMS(ctx, elems, minRTT)
	if err != nil {
		return nil, err
	}

	if cs.Collation != nil {
		elems = bsoncore.AppendDocumentElement(elems, "collation", cs.Collation)
	}

	if cs.ReadConcern != nil {
		rc, err := cs.ReadConcern.MarshalBSONValue()
		if err != nil {
			return nil, err
		}
		elems = bsoncore.AppendDocumentElement(elems, "readConcern", rc)
	}

	if cs.WriteConcern != nil {
		wc, err := cs.WriteConcern.MarshalBSONValue()
		if err != nil {
			return nil, err
		}
		elems = bsoncore.AppendDocumentElement(elems, "writeConcern", wc)
	}

	elems, err = cs.appendSession(elems, desc)
	if err != nil {
		return nil, err
	}

	elems = bsoncore.AppendStringElement(elems, "$db", cs.DB)

	if rpDoc := readPrefDocument(cs.ReadPref, desc.Kind, kind); rpDoc != nil {
		elems = bsoncore.AppendDocumentElement(elems, "$readPreference", rpDoc)
	}

	return bsoncore.BuildDocument(nil, elems), nil
}

// appendMaxTimeMS computes the maxTimeMS field. An explicit MaxAwaitTime wins
// over the context budget; otherwise the remaining budget less the minimum
// observed round trip time is used, and an exhausted budget aborts encoding.
func (cs *CommandSpec) appendMaxTimeMS(ctx context.Context, dst []byte, minRTT time.Duration) ([]byte, error) {
	if cs.MaxAwaitTime != nil {
		return bsoncore.AppendInt64Element(dst, "maxTimeMS", int64(*cs.MaxAwaitTime/time.Millisecond)), nil
	}

	if !csot.IsTimeoutContext(ctx) {
		return dst, nil
	}
	maxTimeMS, ok := csot.MaxTimeMS(ctx, minRTT)
	if !ok {
		return nil, ErrDeadlineWouldBeExceeded
	}
	return bsoncore.AppendInt64Element(dst, "maxTimeMS", maxTimeMS), nil
}

func (cs *CommandSpec) appendSession(dst []byte, desc description.Server) ([]byte, error) {
	client := cs.Session
	if client == nil || client.Server == nil || !desc.SupportsSessions() {
		return dst, nil
	}
	if client.Terminated {
		return dst, session.ErrSessionEnded
	}
	if err := client.UseTime(); err != nil {
		return dst, err
	}

	dst = bsoncore.AppendDocumentElement(dst, "lsid", client.SessionID)
	if client.RetryWrite {
		dst = bsoncore.AppendInt64Element(dst, "txnNumber", client.TxnNumber)
	}
	return dst, nil
}

// readPrefDocument builds the $readPreference document to attach, or nil when
// none is needed. Primary reads and direct connections omit the field.
func readPrefDocument(rp *readpref.ReadPref, serverKind description.ServerKind, topologyKind description.TopologyKind) bsoncore.Document {
	if topologyKind == description.Single && serverKind != description.Mongos {
		return bsoncore.BuildDocument(nil, bsoncore.AppendStringElement(nil, "mode", "primaryPreferred"))
	}
	if rp == nil {
		return nil
	}

	var elems []byte
	switch rp.Mode() {
	case readpref.PrimaryMode:
		return nil
	case readpref.PrimaryPreferredMode:
		elems = bsoncore.AppendStringElement(elems, "mode", "primaryPreferred")
	case readpref.SecondaryMode:
		elems = bsoncore.AppendStringElement(elems, "mode", "secondary")
	case readpref.SecondaryPreferredMode:
		// A bare secondaryPreferred against a mongos is passed through as
		// the secondaryOK behavior, no document needed.
		_, maxStalenessSet := rp.MaxStaleness()
		if serverKind == description.Mongos && !maxStalenessSet && len(rp.TagSets()) == 0 {
			return nil
		}
		elems = bsoncore.AppendStringElement(elems, "mode", "secondaryPreferred")
	case readpref.NearestMode:
		elems = bsoncore.AppendStringElement(elems, "mode", "nearest")
	}

	sets := make([]bsoncore.Document, 0, len(rp.TagSets()))
	for _, ts := range rp.TagSets() {
		if len(ts) == 0 {
			continue
		}
		var set []byte
		for _, t := range ts {
			set = bsoncore.AppendStringElement(set, t.Name, t.Value)
		}
		sets = append(sets, bsoncore.BuildDocument(nil, set))
	}
	if len(sets) > 0 {
		var aidx int32
		aidx, elems = bsoncore.AppendArrayElementStart(elems, "tags")
		for i, set := range sets {
			elems = bsoncore.AppendDocumentElement(elems, fmt.Sprintf("%d", i), set)
		}
		elems, _ = bsoncore.AppendArrayEnd(elems, aidx)
	}

	if d, ok := rp.MaxStaleness(); ok {
		elems = bsoncore.AppendInt32Element(elems, "maxStalenessSeconds", int32(d.Seconds()))
	}

	return bsoncore.BuildDocument(nil, elems)
}

// DecodeReply extracts the reply document from a server response wire
// message. OP_COMPRESSED envelopes are decompressed first.
func DecodeReply(wm wiremessage.WireMessage) (bsoncore.Document, error) {
	wm, err := wiremessage.DecompressMessage(wm)
	if err != nil {
		return nil, err
	}

	_, _, _, opcode, rem, ok := wiremessage.ReadHeader(wm)
	if !ok {
		return nil, errors.New("malformed wire message: insufficient bytes")
	}

	switch opcode {
	case wiremessage.OpMsg:
		return decodeMsgReply(rem)
	case wiremessage.OpReply:
		return decodeOpReply(rem)
	default:
		return nil, fmt.Errorf("cannot decode response opcode %v", opcode)
	}
}

func decodeMsgReply(rem []byte) (bsoncore.Document, error) {
	_, rem, ok := wiremessage.ReadMsgFlags(rem)
	if !ok {
		return nil, errors.New("malformed OP_MSG: missing flags")
	}

	var res bsoncore.Document
	for len(rem) > 0 {
		var stype wiremessage.SectionType
		stype, rem, ok = wiremessage.ReadMsgSectionType(rem)
		if !ok {
			return nil, errors.New("malformed OP_MSG: insufficient bytes to read section type")
		}

		switch stype {
		case wiremessage.SingleDocument:
			var doc bsoncore.Document
			doc, rem, ok = wiremessage.ReadMsgSectionSingleDocument(rem)
			if !ok {
				return nil, errors.New("malformed OP_MSG: insufficient bytes to read single document")
			}
			if res != nil {
				return nil, ErrMultiDocCommandResponse
			}
			res = doc
		case wiremessage.DocumentSequence:
			_, _, rem, ok = wiremessage.ReadMsgSectionDocumentSequence(rem)
			if !ok {
				return nil, errors.New("malformed OP_MSG: insufficient bytes to read document sequence")
			}
		default:
			return nil, fmt.Errorf("malformed OP_MSG: unknown section type %v", stype)
		}
	}

	if res == nil {
		return nil, ErrNoDocCommandResponse
	}
	if err := res.Validate(); err != nil {
		return nil, NewCommandResponseError("malformed OP_MSG: invalid document", err)
	}
	return res, nil
}

func decodeOpReply(rem []byte) (bsoncore.Document, error) {
	_, rem, ok := wiremessage.ReadReplyFlags(rem)
	if !ok {
		return nil, errors.New("malformed OP_REPLY: missing flags")
	}
	_, rem, ok = wiremessage.ReadReplyCursorID(rem)
	if !ok {
		return nil, errors.New("malformed OP_REPLY: missing cursorID")
	}
	_, rem, ok = wiremessage.ReadReplyStartingFrom(rem)
	if !ok {
		return nil, errors.New("malformed OP_REPLY: missing startingFrom")
	}
	numReturned, rem, ok := wiremessage.ReadReplyNumberReturned(rem)
	if !ok {
		return nil, errors.New("malformed OP_REPLY: missing numberReturned")
	}
	docs, _, ok := wiremessage.ReadReplyDocuments(rem)
	if !ok {
		return nil, errors.New("malformed OP_REPLY: could not read documents")
	}
	if numReturned == 0 || len(docs) == 0 {
		return nil, ErrNoDocCommandResponse
	}
	if len(docs) > 1 {
		return nil, ErrMultiDocCommandResponse
	}
	if err := docs[0].Validate(); err != nil {
		return nil, NewCommandResponseError("malformed OP_REPLY: invalid document", err)
	}
	return docs[0], nil
}

// ResponseError is an error parsing the response to a command.
type ResponseError struct {
	Message string
	Wrapped error
}

// NewCommandResponseError creates a ResponseError.
func NewCommandResponseError(msg string, err error) ResponseError {
	return ResponseError{Message: msg, Wrapped: err}
}

// Error implements the error interface.
func (e ResponseError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Wrapped)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e ResponseError) Unwrap() error { return e.Wrapped }
