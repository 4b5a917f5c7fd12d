// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package description

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ikmak/mongo-driver-core/address"
)

func marshalHello(t *testing.T, doc bson.D) bson.Raw {
	t.Helper()
	raw, err := bson.Marshal(doc)
	require.NoError(t, err)
	return raw
}

func TestNewServer_primary(t *testing.T) {
	t.Parallel()

	lastWrite := time.Date(2023, 4, 5, 0, 0, 0, 0, time.UTC)
	electionID := primitive.NewObjectID()
	reply := marshalHello(t, bson.D{
		{Key: "ok", Value: 1},
		{Key: "isWritablePrimary", Value: true},
		{Key: "setName", Value: "rs0"},
		{Key: "setVersion", Value: 2},
		{Key: "electionId", Value: electionID},
		{Key: "hosts", Value: bson.A{"a:27017", "b:27017"}},
		{Key: "arbiters", Value: bson.A{"c:27017"}},
		{Key: "minWireVersion", Value: 0},
		{Key: "maxWireVersion", Value: 8},
		{Key: "logicalSessionTimeoutMinutes", Value: 30},
		{Key: "lastWrite", Value: bson.D{{Key: "lastWriteDate", Value: lastWrite}}},
		{Key: "tags", Value: bson.D{{Key: "dc", Value: "ny"}, {Key: "rack", Value: "a"}}},
	})

	desc := NewServer(address.Address("a:27017"), reply)

	require.NoError(t, desc.LastError)
	require.Equal(t, RSPrimary, desc.Kind)
	require.Equal(t, "rs0", desc.SetName)
	require.Equal(t, uint32(2), desc.SetVersion)
	require.Equal(t, electionID, desc.ElectionID)
	require.Equal(t, []address.Address{"a:27017", "b:27017", "c:27017"}, desc.Members)
	require.Equal(t, NewVersionRange(0, 8), desc.WireVersion)
	require.Equal(t, lastWrite, desc.LastWriteTime)
	require.True(t, desc.Tags.Contains("dc", "ny"))
	require.True(t, desc.SupportsRetryWrites())
	require.True(t, desc.SupportsSessions())
}

func TestNewServer_secondary(t *testing.T) {
	t.Parallel()

	reply := marshalHello(t, bson.D{
		{Key: "ok", Value: 1},
		{Key: "isWritablePrimary", Value: false},
		{Key: "secondary", Value: true},
		{Key: "setName", Value: "rs0"},
		{Key: "hosts", Value: bson.A{"a:27017", "b:27017"}},
		{Key: "me", Value: "b:27017"},
		{Key: "maxWireVersion", Value: 6},
	})

	desc := NewServer(address.Address("b:27017"), reply)

	require.NoError(t, desc.LastError)
	require.Equal(t, RSSecondary, desc.Kind)
	require.Equal(t, address.Address("b:27017"), desc.CanonicalAddr)
}

func TestNewServer_hidden_member(t *testing.T) {
	t.Parallel()

	reply := marshalHello(t, bson.D{
		{Key: "ok", Value: 1},
		{Key: "secondary", Value: true},
		{Key: "hidden", Value: true},
		{Key: "setName", Value: "rs0"},
	})

	desc := NewServer(address.Address("b:27017"), reply)

	require.NoError(t, desc.LastError)
	require.Equal(t, RSMember, desc.Kind)
}

func TestNewServer_mongos(t *testing.T) {
	t.Parallel()

	reply := marshalHello(t, bson.D{
		{Key: "ok", Value: 1},
		{Key: "isWritablePrimary", Value: true},
		{Key: "msg", Value: "isdbgrid"},
		{Key: "maxWireVersion", Value: 8},
	})

	desc := NewServer(address.Address("s:27017"), reply)

	require.NoError(t, desc.LastError)
	require.Equal(t, Mongos, desc.Kind)
}

func TestNewServer_standalone(t *testing.T) {
	t.Parallel()

	reply := marshalHello(t, bson.D{
		{Key: "ok", Value: 1},
		{Key: "isWritablePrimary", Value: true},
		{Key: "maxWireVersion", Value: 8},
		{Key: "logicalSessionTimeoutMinutes", Value: 30},
	})

	desc := NewServer(address.Address("db:27017"), reply)

	require.NoError(t, desc.LastError)
	require.Equal(t, Standalone, desc.Kind)
	// standalones never support retryable writes, even on modern wire versions
	require.False(t, desc.SupportsRetryWrites())
}

func TestNewServer_ghost(t *testing.T) {
	t.Parallel()

	reply := marshalHello(t, bson.D{
		{Key: "ok", Value: 1},
		{Key: "isreplicaset", Value: true},
	})

	desc := NewServer(address.Address("g:27017"), reply)

	require.NoError(t, desc.LastError)
	require.Equal(t, RSGhost, desc.Kind)
}

func TestNewServer_not_ok(t *testing.T) {
	t.Parallel()

	reply := marshalHello(t, bson.D{{Key: "ok", Value: 0}})

	desc := NewServer(address.Address("a:27017"), reply)

	require.Error(t, desc.LastError)
	require.Equal(t, Unknown, desc.Kind)
}

func TestNewServer_malformed_reply(t *testing.T) {
	t.Parallel()

	reply := marshalHello(t, bson.D{
		{Key: "ok", Value: 1},
		{Key: "hosts", Value: "not-an-array"},
	})

	desc := NewServer(address.Address("a:27017"), reply)

	require.Error(t, desc.LastError)
	require.Equal(t, Unknown, desc.Kind)
}

func TestNewServerFromError(t *testing.T) {
	t.Parallel()

	desc := NewServerFromError(address.Address("a:27017"), errTest)

	require.Equal(t, Unknown, desc.Kind)
	require.Equal(t, errTest, desc.LastError)
}

func TestTopology_SupportsRetryWrites(t *testing.T) {
	t.Parallel()

	supported := Server{Kind: RSPrimary, SessionTimeoutMinutes: 30, WireVersion: NewVersionRange(0, 8)}
	unsupported := Server{Kind: RSSecondary, WireVersion: NewVersionRange(0, 5)}
	arbiter := Server{Kind: RSArbiter}

	topo := Topology{Kind: ReplicaSetWithPrimary, Servers: []Server{supported, arbiter}}
	require.True(t, topo.SupportsRetryWrites())

	topo = Topology{Kind: ReplicaSetWithPrimary, Servers: []Server{supported, unsupported}}
	require.False(t, topo.SupportsRetryWrites())

	require.False(t, Topology{}.SupportsRetryWrites())
}
