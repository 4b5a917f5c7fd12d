// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package operation

import (
	"github.com/ikmak/mongo-driver-core/driver"
	"github.com/ikmak/mongo-driver-core/internal/failpoint"
	"github.com/ikmak/mongo-driver-core/readpref"
	"github.com/ikmak/mongo-driver-core/session"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// Command represents a generic database command.
//
// This can be used to send arbitrary commands to the database.
type Command struct {
	DB      string
	Command bsoncore.Document

	ReadPref *readpref.ReadPref
	Session  *session.Client
}

// Spec builds the command spec.
func (c *Command) Spec() (*driver.CommandSpec, error) {
	if len(c.Command) == 0 {
		return nil, driver.ErrEmptyCommand
	}

	return &driver.CommandSpec{
		DB:       c.DB,
		Command:  c.Command,
		ReadPref: c.ReadPref,
		Session:  c.Session,
	}, nil
}

// ConfigureFailPoint builds the generic command that configures the given
// fail point on the server. Fail points control fault injection during tests.
func ConfigureFailPoint(fp failpoint.FailPoint) (*driver.CommandSpec, error) {
	doc, err := bson.Marshal(fp)
	if err != nil {
		return nil, err
	}

	cmd := &Command{DB: "admin", Command: bsoncore.Document(doc)}
	return cmd.Spec()
}
