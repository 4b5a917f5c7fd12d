// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package auth_test

import (
	"context"
	"strings"
	"testing"

	. "github.com/ikmak/mongo-driver-core/auth"
	"github.com/ikmak/mongo-driver-core/description"
	"github.com/ikmak/mongo-driver-core/driver/drivertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

func TestCreateAuthenticator(t *testing.T) {
	t.Parallel()

	cred := &Cred{Source: "admin", Username: "user", Password: "pencil"}

	cases := []struct {
		name string
		want interface{}
	}{
		{SCRAMSHA1, &ScramSHA1Authenticator{}},
		{SCRAMSHA256, &ScramSHA256Authenticator{}},
		{PLAIN, &PlainAuthenticator{}},
		{MONGODBCR, &MongoDBCRAuthenticator{}},
		{MongoDBX509, &MongoDBX509Authenticator{}},
		{"", &DefaultAuthenticator{}},
	}
	for _, tc := range cases {
		got, err := CreateAuthenticator(tc.name, cred)
		require.NoError(t, err, "mechanism %q", tc.name)
		assert.IsType(t, tc.want, got, "mechanism %q", tc.name)
	}

	_, err := CreateAuthenticator("NOT-A-MECHANISM", cred)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown authenticator mechanism")

	// Kerberos needs native bindings this module does not ship, so the
	// mechanism is known but never constructible.
	_, err = CreateAuthenticator(GSSAPI, cred)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GSSAPI support not enabled during build")
}

func TestChooseAuthMechanism(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		desc description.Server
		want string
	}{
		{
			"server advertises sha256",
			description.Server{SaslSupportedMechs: []string{"SCRAM-SHA-1", "SCRAM-SHA-256"}},
			SCRAMSHA256,
		},
		{
			"server advertises sha1 only",
			description.Server{SaslSupportedMechs: []string{"SCRAM-SHA-1"}},
			SCRAMSHA1,
		},
		{
			"unknown advertised mechanisms fall back to wire version",
			description.Server{
				SaslSupportedMechs: []string{"GSSAPI"},
				WireVersion:        description.VersionRange{Max: 6},
			},
			SCRAMSHA1,
		},
		{
			"nothing advertised, modern wire version",
			description.Server{WireVersion: description.VersionRange{Max: 3}},
			SCRAMSHA1,
		},
		{
			"nothing advertised, ancient wire version",
			description.Server{WireVersion: description.VersionRange{Max: 2}},
			MONGODBCR,
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, ChooseAuthMechanism(tc.desc))
		})
	}
}

func TestPlainAuthenticator(t *testing.T) {
	t.Parallel()

	t.Run("succeeds", func(t *testing.T) {
		t.Parallel()

		authenticator := PlainAuthenticator{Username: "user", Password: "pencil"}
		conn := newConn(saslReply(t, "", true))

		err := authenticator.Auth(context.Background(), authServerDesc, conn)
		require.NoError(t, err)
		require.Len(t, conn.Written, 1)

		start, err := drivertest.GetCommandFromMsgWireMessage(<-conn.Written)
		require.NoError(t, err)
		mech, _ := start.Lookup("mechanism").StringValueOK()
		assert.Equal(t, PLAIN, mech)
		db, _ := start.Lookup("$db").StringValueOK()
		assert.Equal(t, "$external", db)
		_, payload, ok := start.Lookup("payload").BinaryOK()
		require.True(t, ok)
		assert.Equal(t, "\x00user\x00pencil", string(payload))
	})

	t.Run("rejects extra challenge", func(t *testing.T) {
		t.Parallel()

		authenticator := PlainAuthenticator{Username: "user", Password: "pencil"}
		conn := newConn(saslReply(t, "", false))

		err := authenticator.Auth(context.Background(), authServerDesc, conn)
		require.Error(t, err)
		assert.True(t, strings.Contains(err.Error(), "unexpected server challenge"))
	})
}

func TestMongoDBCRAuthenticator(t *testing.T) {
	t.Parallel()

	okDoc := func(elems []byte) []byte {
		return drivertest.MakeMsgReply(bsoncore.BuildDocument(nil,
			bsoncore.AppendInt32Element(elems, "ok", 1)))
	}

	t.Run("succeeds", func(t *testing.T) {
		t.Parallel()

		authenticator := MongoDBCRAuthenticator{DB: "source", Username: "user", Password: "pencil"}
		conn := newConn(
			okDoc(bsoncore.AppendStringElement(nil, "nonce", "2375531c32080ae8")),
			okDoc(nil),
		)

		err := authenticator.Auth(context.Background(), authServerDesc, conn)
		require.NoError(t, err)
		require.Len(t, conn.Written, 2)

		getNonce, err := drivertest.GetCommandFromMsgWireMessage(<-conn.Written)
		require.NoError(t, err)
		assert.Equal(t, "getnonce", getNonce.Index(0).Key())

		authenticate, err := drivertest.GetCommandFromMsgWireMessage(<-conn.Written)
		require.NoError(t, err)
		user, _ := authenticate.Lookup("user").StringValueOK()
		assert.Equal(t, "user", user)
		nonce, _ := authenticate.Lookup("nonce").StringValueOK()
		assert.Equal(t, "2375531c32080ae8", nonce)
		key, _ := authenticate.Lookup("key").StringValueOK()
		assert.Equal(t, "21742f26431831d5cfca035a08c5bdf6", key)
	})

	t.Run("missing nonce", func(t *testing.T) {
		t.Parallel()

		authenticator := MongoDBCRAuthenticator{DB: "source", Username: "user", Password: "pencil"}
		conn := newConn(okDoc(nil))

		err := authenticator.Auth(context.Background(), authServerDesc, conn)
		require.Error(t, err)
		assert.True(t, strings.Contains(err.Error(), "getnonce response missing nonce"))
	})

	t.Run("server rejects the key", func(t *testing.T) {
		t.Parallel()

		failure := bsoncore.AppendInt32Element(nil, "ok", 0)
		failure = bsoncore.AppendStringElement(failure, "errmsg", "auth failed")
		failure = bsoncore.AppendInt32Element(failure, "code", 18)

		authenticator := MongoDBCRAuthenticator{DB: "source", Username: "user", Password: "pencil"}
		conn := newConn(
			okDoc(bsoncore.AppendStringElement(nil, "nonce", "2375531c32080ae8")),
			drivertest.MakeMsgReply(bsoncore.BuildDocument(nil, failure)),
		)

		err := authenticator.Auth(context.Background(), authServerDesc, conn)
		require.Error(t, err)
		assert.True(t, strings.Contains(err.Error(), "auth failed"))
	})
}
