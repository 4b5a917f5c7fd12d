// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package operation

import (
	"time"

	"github.com/ikmak/mongo-driver-core/driver"
	"github.com/ikmak/mongo-driver-core/session"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// GetMore represents the getMore command.
//
// The getMore command retrieves additional documents from a cursor.
type GetMore struct {
	NS        driver.Namespace
	CursorID  int64
	BatchSize int64

	// MaxAwaitTime bounds how long the server waits for new documents on an
	// awaitData cursor. It is sent as maxTimeMS and takes precedence over the
	// deadline-derived value.
	MaxAwaitTime *time.Duration

	Session *session.Client
}

// Spec builds the command spec for the getMore.
func (gm *GetMore) Spec() (*driver.CommandSpec, error) {
	if err := gm.NS.Validate(); err != nil {
		return nil, err
	}

	elems := bsoncore.AppendInt64Element(nil, "getMore", gm.CursorID)
	elems = bsoncore.AppendStringElement(elems, "collection", gm.NS.Collection)
	if gm.BatchSize != 0 {
		elems = bsoncore.AppendInt64Element(elems, "batchSize", gm.BatchSize)
	}

	return &driver.CommandSpec{
		DB:           gm.NS.DB,
		Command:      bsoncore.BuildDocument(nil, elems),
		Session:      gm.Session,
		MaxAwaitTime: gm.MaxAwaitTime,
	}, nil
}
