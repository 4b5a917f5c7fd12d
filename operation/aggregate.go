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
	"github.com/ikmak/mongo-driver-core/writeconcern"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// Aggregate represents the aggregate command.
//
// The aggregate command performs an aggregation.
type Aggregate struct {
	NS           driver.Namespace
	Pipeline     bsoncore.Array
	AllowDiskUse bool
	BatchSize    int32
	Collation    bsoncore.Document

	ReadConcern *readconcern.ReadConcern
	// WriteConcern applies when the pipeline ends in $out or $merge.
	WriteConcern *writeconcern.WriteConcern
	ReadPref     *readpref.ReadPref
	Session      *session.Client
}

// Spec builds the command spec for the aggregate.
func (a *Aggregate) Spec() (*driver.CommandSpec, error) {
	if err := a.NS.Validate(); err != nil {
		return nil, err
	}

	elems := bsoncore.AppendStringElement(nil, "aggregate", a.NS.Collection)
	elems = bsoncore.AppendArrayElement(elems, "pipeline", a.Pipeline)
	if a.AllowDiskUse {
		elems = bsoncore.AppendBooleanElement(elems, "allowDiskUse", true)
	}

	var idx int32
	idx, elems = bsoncore.AppendDocumentElementStart(elems, "cursor")
	if a.BatchSize != 0 {
		elems = bsoncore.AppendInt32Element(elems, "batchSize", a.BatchSize)
	}
	elems, _ = bsoncore.AppendDocumentEnd(elems, idx)

	return &driver.CommandSpec{
		DB:           a.NS.DB,
		Command:      bsoncore.BuildDocument(nil, elems),
		ReadConcern:  a.ReadConcern,
		WriteConcern: a.WriteConcern,
		ReadPref:     a.ReadPref,
		Collation:    a.Collation,
		Session:      a.Session,
	}, nil
}
