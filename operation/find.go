// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package operation

import (
	"github.com/ikmak/mongo-driver-core/driver"
	"github.com/ikmak/mongo-driver-core/readconcern"
	"github.com/ikmak/mongo-driver-core/readpref"
	"github.com/ikmak/mongo-driver-core/session"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// Find represents the find command.
//
// The find command finds documents within a collection that match a filter.
type Find struct {
	NS         driver.Namespace
	Filter     bsoncore.Document
	Sort       bsoncore.Document
	Projection bsoncore.Document
	Limit      int64
	BatchSize  int64
	Collation  bsoncore.Document

	ReadConcern *readconcern.ReadConcern
	ReadPref    *readpref.ReadPref
	Session     *session.Client
}

// Spec builds the command spec for the find.
func (f *Find) Spec() (*driver.CommandSpec, error) {
	if err := f.NS.Validate(); err != nil {
		return nil, err
	}

	elems := bsoncore.AppendStringElement(nil, "find", f.NS.Collection)
	if f.Filter != nil {
		elems = bsoncore.AppendDocumentElement(elems, "filter", f.Filter)
	}
	if f.Sort != nil {
		elems = bsoncore.AppendDocumentElement(elems, "sort", f.Sort)
	}
	if f.Projection != nil {
		elems = bsoncore.AppendDocumentElement(elems, "projection", f.Projection)
	}
	if f.Limit != 0 {
		elems = bsoncore.AppendInt64Element(elems, "limit", f.Limit)
	}
	if f.BatchSize != 0 {
		elems = bsoncore.AppendInt64Element(elems, "batchSize", f.BatchSize)
	}
	if f.Limit != 0 && f.BatchSize != 0 && f.Limit <= f.BatchSize {
		elems = bsoncore.AppendBooleanElement(elems, "singleBatch", true)
	}

	return &driver.CommandSpec{
		DB:          f.NS.DB,
		Command:     bsoncore.BuildDocument(nil, elems),
		ReadConcern: f.ReadConcern,
		ReadPref:    f.ReadPref,
		Collation:   f.Collation,
		Session:     f.Session,
	}, nil
}
