// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package session provides driver sessions. A session tracks the server
// session identifier and transaction number that retryable writes attach to
// commands, plus the cluster time gossip used for causal consistency.
package session

import (
	"errors"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// ErrSessionEnded is returned when a client session is used after calling
// EndSession.
var ErrSessionEnded = errors.New("ended session was used")

// Type describes the type of the session.
type Type uint8

// These constants are the valid types for a client session.
const (
	// Explicit means that the user is explicitly creating the session.
	Explicit Type = iota
	// Implicit means that the session was created implicitly by the driver.
	Implicit
)

// Client is a session for clients to run commands.
type Client struct {
	*Server
	ClientID    primitive.ObjectID
	ClusterTime bsoncore.Document
	SessionType Type
	Terminated  bool

	// The number of times this session has been used. RetryWrite indicates
	// whether the current operation bumped the transaction number.
	RetryWrite bool

	pool *Pool
}

// NewClientSession creates a Client.
func NewClientSession(pool *Pool, clientID primitive.ObjectID, sessionType Type) (*Client, error) {
	serverSession, err := pool.GetSession()
	if err != nil {
		return nil, err
	}

	return &Client{
		Server:      serverSession,
		ClientID:    clientID,
		SessionType: sessionType,
		pool:        pool,
	}, nil
}

// AdvanceClusterTime updates the session's cluster time. The session keeps
// whichever cluster time is greater.
func (c *Client) AdvanceClusterTime(clusterTime bsoncore.Document) error {
	if c.Terminated {
		return ErrSessionEnded
	}
	c.ClusterTime = MaxClusterTime(c.ClusterTime, clusterTime)
	return nil
}

// IncrementTxnNumber increments the transaction number. Callers do this once
// per retryable write, before the first attempt, so every attempt of the
// write carries the same number.
func (c *Client) IncrementTxnNumber() {
	if c.Server != nil {
		c.Server.NextTxnNumber()
	}
	c.RetryWrite = true
}

// EndSession ends the session and returns the underlying server session to
// the pool.
func (c *Client) EndSession() {
	if c.Terminated {
		return
	}
	c.Terminated = true
	c.pool.ReturnSession(c.Server)
	c.Server = nil
}

// UseTime marks the session as used right now. An error is returned if the
// session has already ended.
func (c *Client) UseTime() error {
	if c.Terminated {
		return ErrSessionEnded
	}
	c.UpdateUseTime()
	return nil
}

func getClusterTime(clusterTime bsoncore.Document) (uint32, uint32) {
	if clusterTime == nil {
		return 0, 0
	}

	value, err := clusterTime.LookupErr("$clusterTime", "clusterTime")
	if err != nil {
		return 0, 0
	}

	t, i, ok := value.TimestampOK()
	if !ok {
		return 0, 0
	}

	return t, i
}

// MaxClusterTime compares 2 cluster time documents and returns the greater.
func MaxClusterTime(ct1, ct2 bsoncore.Document) bsoncore.Document {
	epoch1, ord1 := getClusterTime(ct1)
	epoch2, ord2 := getClusterTime(ct2)

	switch {
	case epoch1 > epoch2:
		return ct1
	case epoch1 < epoch2:
		return ct2
	case ord1 > ord2:
		return ct1
	case ord1 < ord2:
		return ct2
	}

	return ct1
}
