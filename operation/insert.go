// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package operation

import (
	"errors"
	"strconv"

	"github.com/ikmak/mongo-driver-core/driver"
	"github.com/ikmak/mongo-driver-core/session"
	"github.com/ikmak/mongo-driver-core/writeconcern"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// ErrNoDocuments is returned when a write builder is given nothing to write.
var ErrNoDocuments = errors.New("cannot encode a write command with no documents")

// Insert represents the insert command.
//
// The insert command inserts a set of documents into the database.
type Insert struct {
	NS        driver.Namespace
	Documents []bsoncore.Document
	Ordered   *bool

	WriteConcern *writeconcern.WriteConcern
	Session      *session.Client
}

// Spec builds the command spec for the insert.
func (i *Insert) Spec() (*driver.CommandSpec, error) {
	if err := i.NS.Validate(); err != nil {
		return nil, err
	}
	if len(i.Documents) == 0 {
		return nil, ErrNoDocuments
	}

	elems := bsoncore.AppendStringElement(nil, "insert", i.NS.Collection)
	elems = appendDocumentArray(elems, "documents", i.Documents)
	if i.Ordered != nil {
		elems = bsoncore.AppendBooleanElement(elems, "ordered", *i.Ordered)
	}

	return &driver.CommandSpec{
		DB:           i.NS.DB,
		Command:      bsoncore.BuildDocument(nil, elems),
		WriteConcern: i.WriteConcern,
		Session:      i.Session,
	}, nil
}

func appendDocumentArray(dst []byte, key string, docs []bsoncore.Document) []byte {
	idx, dst := bsoncore.AppendArrayElementStart(dst, key)
	for i, doc := range docs {
		dst = bsoncore.AppendDocumentElement(dst, strconv.Itoa(i), doc)
	}
	dst, _ = bsoncore.AppendArrayEnd(dst, idx)
	return dst
}
