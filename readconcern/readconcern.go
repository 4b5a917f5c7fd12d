// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package readconcern defines read concerns for MongoDB operations.
package readconcern

import (
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// A ReadConcern defines a MongoDB read concern, which allows you to control the consistency and
// isolation properties of the data read from replica sets and replica set shards.
type ReadConcern struct {
	Level string
}

// Local returns a ReadConcern that requests data from the instance with no guarantee that the data
// has been written to a majority of the replica set members (i.e. may be rolled back).
func Local() *ReadConcern {
	return &ReadConcern{Level: "local"}
}

// Majority returns a ReadConcern that requests data that has been acknowledged by a majority of the
// replica set members (i.e. the documents read are durable and guaranteed not to roll back).
func Majority() *ReadConcern {
	return &ReadConcern{Level: "majority"}
}

// Linearizable returns a ReadConcern that requests data that reflects all successful
// majority-acknowledged writes that completed prior to the start of the read operation.
func Linearizable() *ReadConcern {
	return &ReadConcern{Level: "linearizable"}
}

// Available returns a ReadConcern that requests data from an instance with no guarantee that the
// data has been written to a majority of the replica set members (i.e. may be rolled back).
func Available() *ReadConcern {
	return &ReadConcern{Level: "available"}
}

// Snapshot returns a ReadConcern that requests majority-committed data as it appears across shards
// from a specific single point in time in the recent past.
func Snapshot() *ReadConcern {
	return &ReadConcern{Level: "snapshot"}
}

// MarshalBSONValue marshals the read concern into a BSON document value. An
// empty level produces an empty document, which the server treats as the
// default read concern.
func (rc *ReadConcern) MarshalBSONValue() (bsoncore.Document, error) {
	var elems []byte
	if rc.Level != "" {
		elems = bsoncore.AppendStringElement(elems, "level", rc.Level)
	}
	return bsoncore.BuildDocument(nil, elems), nil
}
