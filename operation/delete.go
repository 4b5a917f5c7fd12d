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

// Delete represents the delete command.
//
// The delete command executes a delete with a given set of delete documents.
// Each delete statement is a document of the form {q: <filter>, limit: <n>}.
type Delete struct {
	NS      driver.Namespace
	Deletes []bsoncore.Document
	Ordered *bool

	WriteConcern *writeconcern.WriteConcern
	Session      *session.Client
}

// Spec builds the command spec for the delete.
func (d *Delete) Spec() (*driver.CommandSpec, error) {
	if err := d.NS.Validate(); err != nil {
		return nil, err
	}
	if len(d.Deletes) == 0 {
		return nil, ErrNoDocuments
	}

	elems := bsoncore.AppendStringElement(nil, "delete", d.NS.Collection)
	elems = appendDocumentArray(elems, "deletes", d.Deletes)
	if d.Ordered != nil {
		elems = bsoncore.AppendBooleanElement(elems, "ordered", *d.Ordered)
	}

	return &driver.CommandSpec{
		DB:           d.NS.DB,
		Command:      bsoncore.BuildDocument(nil, elems),
		WriteConcern: d.WriteConcern,
		Session:      d.Session,
	}, nil
}
