// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package operation

import (
	"github.com/ikmak/mongo-driver-core/driver"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// EndSessions represents the endSessions command.
//
// The endSessions command marks the given server sessions for deletion so
// the server can reclaim them before their logical timeout.
type EndSessions struct {
	SessionIDs []bsoncore.Document
}

// Spec builds the command spec for the endSessions.
func (es *EndSessions) Spec() (*driver.CommandSpec, error) {
	if len(es.SessionIDs) == 0 {
		return nil, ErrNoDocuments
	}

	elems := appendDocumentArray(nil, "endSessions", es.SessionIDs)

	return &driver.CommandSpec{
		DB:      "admin",
		Command: bsoncore.BuildDocument(nil, elems),
	}, nil
}
