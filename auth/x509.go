// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package auth

import (
	"context"

	"github.com/ikmak/mongo-driver-core/description"
	"github.com/ikmak/mongo-driver-core/driver"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// MongoDBX509 is the mechanism name for MongoDBX509.
const MongoDBX509 = "MONGODB-X509"

func newMongoDBX509Authenticator(cred *Cred) (Authenticator, error) {
	return &MongoDBX509Authenticator{User: cred.Username}, nil
}

// MongoDBX509Authenticator uses X.509 certificates over TLS to authenticate a connection.
type MongoDBX509Authenticator struct {
	User string
}

// Auth implements the Authenticator interface.
func (a *MongoDBX509Authenticator) Auth(ctx context.Context, desc description.Server, conn driver.Connection) error {
	elems := bsoncore.AppendInt32Element(nil, "authenticate", 1)
	elems = bsoncore.AppendStringElement(elems, "mechanism", MongoDBX509)

	// Servers before wire version 5 need the user spelled out. Newer ones
	// derive it from the certificate subject.
	if desc.WireVersion.Max < 5 {
		elems = bsoncore.AppendStringElement(elems, "user", a.User)
	}

	_, err := runAuthCommand(ctx, desc, conn, "$external", bsoncore.BuildDocument(nil, elems))
	if err != nil {
		return newAuthError("round trip error", err)
	}

	return nil
}
