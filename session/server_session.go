// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package session

import (
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// UUIDSubtype is the BSON binary subtype that a UUID should be encoded as.
const UUIDSubtype byte = 4

// Server is an open session with the server.
type Server struct {
	SessionID bsoncore.Document
	TxnNumber int64
	LastUsed  time.Time
	Dirty     bool
}

// expired returns whether this session has expired given a timeout in
// minutes. A session is considered expired if it has less than 1 minute left
// before becoming stale.
func (ss *Server) expired(timeoutMinutes uint32) bool {
	if timeoutMinutes <= 0 {
		return true
	}
	timeUnused := time.Since(ss.LastUsed).Minutes()
	return timeUnused > float64(timeoutMinutes-1)
}

// UpdateUseTime marks this session as being used right now.
func (ss *Server) UpdateUseTime() {
	ss.LastUsed = time.Now()
}

// NextTxnNumber advances and returns the transaction number for the next
// retryable write executed on this session.
func (ss *Server) NextTxnNumber() int64 {
	ss.TxnNumber++
	return ss.TxnNumber
}

// MarkDirty marks the session as dirty. Dirty sessions are discarded instead
// of returned to the pool.
func (ss *Server) MarkDirty() {
	ss.Dirty = true
}

func newServerSession() (*Server, error) {
	id, err := uuid.New().MarshalBinary()
	if err != nil {
		return nil, err
	}

	idDoc := bsoncore.BuildDocument(nil, bsoncore.AppendBinaryElement(nil, "id", UUIDSubtype, id))

	return &Server{
		SessionID: idDoc,
		LastUsed:  time.Now(),
	}, nil
}
