// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

import (
	"context"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/ikmak/mongo-driver-core/address"
	"github.com/ikmak/mongo-driver-core/description"
	"github.com/ikmak/mongo-driver-core/driver/drivertest"
	"github.com/ikmak/mongo-driver-core/internal/logger"
	"github.com/ikmak/mongo-driver-core/session"
	"github.com/ikmak/mongo-driver-core/writeconcern"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

type captureSink struct {
	messages []string
}

func (sink *captureSink) Log(_ logger.Level, msg string, _ ...interface{}) {
	sink.messages = append(sink.messages, msg)
}

func (sink *captureSink) countMatching(pattern string) int {
	re := regexp.MustCompile(pattern)
	var n int
	for _, msg := range sink.messages {
		if re.MatchString(msg) {
			n++
		}
	}
	return n
}

// mockServer hands out connections that replay queued responses.
type mockServer struct {
	conn        *drivertest.ChannelConn
	minRTT      time.Duration
	connErr     error
	connections int
}

func (ms *mockServer) Connection(context.Context) (Connection, error) {
	if ms.connErr != nil {
		return nil, ms.connErr
	}
	ms.connections++
	return ms.conn, nil
}

func (ms *mockServer) MinRTT() time.Duration { return ms.minRTT }

type mockDeployment struct {
	server *mockServer
	kind   description.TopologyKind
}

func (md *mockDeployment) SelectServer(context.Context, description.ServerSelector) (Server, error) {
	return md.server, nil
}

func (md *mockDeployment) Description() description.Topology {
	return description.Topology{
		Kind:                  md.kind,
		Servers:               []description.Server{md.server.conn.Desc},
		SessionTimeoutMinutes: md.server.conn.Desc.SessionTimeoutMinutes,
	}
}

var testAddr = address.Address("localhost:27017")

func retryableServerDesc() description.Server {
	return description.Server{
		Addr:                  testAddr,
		Kind:                  description.RSPrimary,
		SessionTimeoutMinutes: 30,
		WireVersion:           description.VersionRange{Min: 0, Max: 8},
	}
}

func legacyServerDesc() description.Server {
	return description.Server{
		Addr:        testAddr,
		Kind:        description.RSPrimary,
		WireVersion: description.VersionRange{Min: 0, Max: 5},
	}
}

func okReply() []byte {
	return drivertest.MakeMsgReply(bsoncore.BuildDocument(nil, bsoncore.AppendInt32Element(nil, "ok", 1)))
}

func failureReply(code int32, labels ...string) []byte {
	elems := bsoncore.AppendInt32Element(nil, "ok", 0)
	elems = bsoncore.AppendInt32Element(elems, "code", code)
	elems = bsoncore.AppendStringElement(elems, "errmsg", "injected failure")
	if len(labels) > 0 {
		var aidx int32
		aidx, elems = bsoncore.AppendArrayElementStart(elems, "errorLabels")
		for i, label := range labels {
			elems = bsoncore.AppendStringElement(elems, fmt.Sprintf("%d", i), label)
		}
		elems, _ = bsoncore.AppendArrayEnd(elems, aidx)
	}
	return drivertest.MakeMsgReply(bsoncore.BuildDocument(nil, elems))
}

func newTestOperation(desc description.Server, sink *captureSink, responses ...[]byte) (Operation, *mockServer, *session.Client) {
	conn := &drivertest.ChannelConn{
		Written:  make(chan []byte, len(responses)+1),
		ReadResp: make(chan []byte, len(responses)),
		ReadErr:  make(chan error, 1),
		Desc:     desc,
	}
	for _, res := range responses {
		conn.ReadResp <- res
	}
	srvr := &mockServer{conn: conn}

	descChan := make(chan description.Topology, 1)
	descChan <- description.Topology{SessionTimeoutMinutes: desc.SessionTimeoutMinutes}
	pool := session.NewPool(descChan)
	sess, _ := session.NewClientSession(pool, primitive.NewObjectID(), session.Implicit)

	log := logger.New(sink, map[logger.Component]logger.Level{
		logger.ComponentAll: logger.WarnLevel,
	})

	op := Operation{
		Spec: &CommandSpec{
			DB: "test",
			Command: bsoncore.BuildDocument(nil,
				bsoncore.AppendStringElement(nil, "insert", "coll")),
			Session: sess,
		},
		Deployment: &mockDeployment{server: srvr, kind: description.ReplicaSetWithPrimary},
		Type:       Write,
		Logger:     &log,
	}
	return op, srvr, sess
}

func TestOperationModernRetry(t *testing.T) {
	t.Run("one injected failure succeeds after one retry", func(t *testing.T) {
		sink := &captureSink{}
		op, srvr, _ := newTestOperation(retryableServerDesc(), sink,
			failureReply(91, RetryableWriteError), okReply())

		err := op.Execute(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, srvr.connections, "expected two attempts")
		assert.Equal(t, 1, sink.countMatching(`modern.*attempt 1`), "expected exactly one modern retry line")
	})

	t.Run("two injected failures exhaust the single retry budget", func(t *testing.T) {
		sink := &captureSink{}
		op, srvr, _ := newTestOperation(retryableServerDesc(), sink,
			failureReply(91, RetryableWriteError), failureReply(91, RetryableWriteError))

		err := op.Execute(context.Background())
		require.Error(t, err)
		var srvErr Error
		require.ErrorAs(t, err, &srvErr)
		assert.Equal(t, int32(91), srvErr.Code, "final error must preserve the server code")
		assert.Equal(t, 2, srvr.connections, "budget is one retry")
		assert.Equal(t, 1, sink.countMatching(string(testAddr)+`.*attempt 2`), "final failure names the server and attempt")
	})

	t.Run("txnNumber identical across attempts", func(t *testing.T) {
		sink := &captureSink{}
		op, srvr, sess := newTestOperation(retryableServerDesc(), sink,
			failureReply(91, RetryableWriteError), okReply())

		require.NoError(t, op.Execute(context.Background()))
		assert.Equal(t, int64(1), sess.TxnNumber, "transaction number bumped exactly once")

		close(srvr.conn.Written)
		var txnNumbers []int64
		for wm := range srvr.conn.Written {
			cmd, err := drivertest.GetCommandFromMsgWireMessage(wm)
			require.NoError(t, err)
			n, ok := cmd.Lookup("txnNumber").Int64OK()
			require.True(t, ok, "every attempt must carry txnNumber")
			txnNumbers = append(txnNumbers, n)
		}
		require.Len(t, txnNumbers, 2)
		assert.Equal(t, txnNumbers[0], txnNumbers[1], "retry reuses the same transaction number")
	})

	t.Run("non-retryable error surfaces immediately", func(t *testing.T) {
		sink := &captureSink{}
		op, srvr, _ := newTestOperation(retryableServerDesc(), sink,
			failureReply(11000)) // duplicate key, not retryable

		err := op.Execute(context.Background())
		require.Error(t, err)
		assert.Equal(t, 1, srvr.connections)
		assert.Zero(t, sink.countMatching(`retry`))
	})
}

func TestOperationLegacyRetry(t *testing.T) {
	t.Run("retryWrites disabled with budget of two retries twice", func(t *testing.T) {
		sink := &captureSink{}
		op, srvr, _ := newTestOperation(legacyServerDesc(), sink,
			failureReply(91), failureReply(91), okReply())
		disabled := false
		op.RetryWrites = &disabled
		op.MaxWriteRetries = 2

		err := op.Execute(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 3, srvr.connections, "two retries after the initial attempt")
		assert.Equal(t, 2, sink.countMatching(`legacy`), "each legacy retry logs")
		assert.Zero(t, sink.countMatching(`modern`))
	})

	t.Run("old wire version uses legacy policy", func(t *testing.T) {
		sink := &captureSink{}
		op, srvr, _ := newTestOperation(legacyServerDesc(), sink,
			failureReply(189), okReply())

		err := op.Execute(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, srvr.connections)
		assert.Equal(t, 1, sink.countMatching(`legacy`))
	})

	t.Run("legacy ignores non-listed codes", func(t *testing.T) {
		sink := &captureSink{}
		op, srvr, _ := newTestOperation(legacyServerDesc(), sink,
			failureReply(50)) // MaxTimeMSExpired is not in the safe set

		err := op.Execute(context.Background())
		require.Error(t, err)
		assert.Equal(t, 1, srvr.connections)
	})
}

func TestOperationNoRetry(t *testing.T) {
	t.Run("unacknowledged write never retries", func(t *testing.T) {
		sink := &captureSink{}
		op, srvr, _ := newTestOperation(retryableServerDesc(), sink,
			failureReply(91, RetryableWriteError))
		op.Spec.WriteConcern = writeconcern.New(writeconcern.W(0))

		err := op.Execute(context.Background())
		require.Error(t, err)
		assert.Equal(t, 1, srvr.connections)
		assert.Empty(t, sink.messages, "no diagnostics in no-retry mode")
	})

	t.Run("standalone topology disables legacy retries", func(t *testing.T) {
		sink := &captureSink{}
		desc := description.Server{
			Addr:        testAddr,
			Kind:        description.Standalone,
			WireVersion: description.VersionRange{Min: 0, Max: 8},
		}
		op, srvr, _ := newTestOperation(desc, sink, failureReply(91))

		err := op.Execute(context.Background())
		require.Error(t, err)
		assert.Equal(t, 1, srvr.connections)
	})
}

func TestOperationConnectionLifecycle(t *testing.T) {
	t.Run("successful attempt closes its connection once", func(t *testing.T) {
		sink := &captureSink{}
		op, srvr, _ := newTestOperation(retryableServerDesc(), sink, okReply())

		require.NoError(t, op.Execute(context.Background()))
		assert.Equal(t, 1, srvr.conn.Closes, "one checkout, one close")
	})

	t.Run("each retried attempt closes exactly one connection", func(t *testing.T) {
		sink := &captureSink{}
		op, srvr, _ := newTestOperation(retryableServerDesc(), sink,
			failureReply(91, RetryableWriteError), okReply())

		require.NoError(t, op.Execute(context.Background()))
		assert.Equal(t, 2, srvr.connections)
		assert.Equal(t, 2, srvr.conn.Closes, "no attempt may close its connection twice")
	})

	t.Run("final failure closes the last connection", func(t *testing.T) {
		sink := &captureSink{}
		op, srvr, _ := newTestOperation(retryableServerDesc(), sink,
			failureReply(91, RetryableWriteError), failureReply(91, RetryableWriteError))

		require.Error(t, op.Execute(context.Background()))
		assert.Equal(t, 2, srvr.conn.Closes)
	})
}

func TestOperationDeadline(t *testing.T) {
	t.Run("fails fast when budget is below min RTT", func(t *testing.T) {
		sink := &captureSink{}
		op, srvr, _ := newTestOperation(retryableServerDesc(), sink, okReply())
		srvr.minRTT = 10 * time.Second
		timeout := 50 * time.Millisecond
		op.Timeout = &timeout

		err := op.Execute(context.Background())
		require.Error(t, err)
		var tErr TimeoutError
		require.ErrorAs(t, err, &tErr)
		assert.Equal(t, CommandPhase, tErr.Phase)
		assert.Equal(t, 1, srvr.connections, "connection is checked out but nothing is sent")
		assert.Empty(t, srvr.conn.Written)
	})

	t.Run("deadline bounds the retry loop", func(t *testing.T) {
		sink := &captureSink{}
		op, _, _ := newTestOperation(retryableServerDesc(), sink)
		srvrErr := fmt.Errorf("connection refused")
		op.Deployment.(*mockDeployment).server.connErr = srvrErr

		ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
		defer cancel()
		time.Sleep(5 * time.Millisecond)

		err := op.Execute(ctx)
		require.Error(t, err)
	})
}

func TestOperationValidation(t *testing.T) {
	var op Operation
	assert.Error(t, op.Execute(context.Background()), "empty operation must not run")

	op = Operation{Spec: &CommandSpec{DB: "test"}}
	assert.Error(t, op.Execute(context.Background()), "empty command must not run")
}
