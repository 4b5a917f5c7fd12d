// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package operation

import (
	"github.com/ikmak/mongo-driver-core/driver"
	"github.com/ikmak/mongo-driver-core/session"
	"github.com/ikmak/mongo-driver-core/writeconcern"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// Update represents the update command.
//
// The update command updates a set of documents with the database. Each
// update statement is a document of the form {q: <filter>, u: <update>, ...}.
type Update struct {
	NS      driver.Namespace
	Updates []bsoncore.Document
	Ordered *bool

	WriteConcern *writeconcern.WriteConcern
	Session      *session.Client
}

// Spec builds the command spec for the update.
func (u *Update) Spec() (*driver.CommandSpec, error) {
	if err := u.NS.Validate(); err != nil {
		return nil, err
	}
	if len(u.Updates) == 0 {
		return nil, ErrNoDocuments
	}

	elems := bsoncore.AppendStringElement(nil, "update", u.NS.Collection)
	elems = appendDocumentArray(elems, "updates", u.Updates)
	if u.Ordered != nil {
		elems = bsoncore.AppendBooleanElement(elems, "ordered", *u.Ordered)
	}

	return &driver.CommandSpec{
		DB:           u.NS.DB,
		Command:      bsoncore.BuildDocument(nil, elems),
		WriteConcern: u.WriteConcern,
		Session:      u.Session,
	}, nil
}
