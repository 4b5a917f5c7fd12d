// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package auth

import (
	"context"
	"crypto/md5"
	"fmt"
	"io"

	"github.com/ikmak/mongo-driver-core/description"
	"github.com/ikmak/mongo-driver-core/driver"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// MONGODBCR is the mechanism name for MONGODB-CR.
//
// The MONGODB-CR authentication mechanism is deprecated in MongoDB 3.6 and removed in
// MongoDB 4.0.
const MONGODBCR = "MONGODB-CR"

func newMongoDBCRAuthenticator(cred *Cred) (Authenticator, error) {
	return &MongoDBCRAuthenticator{
		DB:       cred.Source,
		Username: cred.Username,
		Password: cred.Password,
	}, nil
}

// MongoDBCRAuthenticator uses the MONGODB-CR algorithm to authenticate a connection.
type MongoDBCRAuthenticator struct {
	DB       string
	Username string
	Password string
}

// Auth authenticates the connection. It performs the legacy getnonce plus
// authenticate round trips.
func (a *MongoDBCRAuthenticator) Auth(ctx context.Context, desc description.Server, conn driver.Connection) error {
	db := a.DB
	if db == "" {
		db = defaultAuthDB
	}

	getNonce := bsoncore.BuildDocument(nil, bsoncore.AppendInt32Element(nil, "getnonce", 1))
	doc, err := runAuthCommand(ctx, desc, conn, db, getNonce)
	if err != nil {
		return newError(err, MONGODBCR)
	}
	nonce, ok := doc.Lookup("nonce").StringValueOK()
	if !ok {
		return newAuthError("getnonce response missing nonce", nil)
	}

	elems := bsoncore.AppendInt32Element(nil, "authenticate", 1)
	elems = bsoncore.AppendStringElement(elems, "user", a.Username)
	elems = bsoncore.AppendStringElement(elems, "nonce", nonce)
	elems = bsoncore.AppendStringElement(elems, "key", a.createKey(nonce))

	_, err = runAuthCommand(ctx, desc, conn, db, bsoncore.BuildDocument(nil, elems))
	if err != nil {
		return newError(err, MONGODBCR)
	}

	return nil
}

func (a *MongoDBCRAuthenticator) createKey(nonce string) string {
	h := md5.New()

	_, _ = io.WriteString(h, nonce)
	_, _ = io.WriteString(h, a.Username)
	_, _ = io.WriteString(h, mongoPasswordDigest(a.Username, a.Password))
	return fmt.Sprintf("%x", h.Sum(nil))
}
