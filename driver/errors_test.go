// Copyright (C) MongoDB, Inc. 2022-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

func TestErrorIs(t *testing.T) {
	t.Parallel()

	for _, tcase := range []struct {
		name string
		want bool
		err1 error
		err2 error
	}{
		{"Error with same codes", true, Error{Code: 1}, Error{Code: 1}},
		{"Error with different codes", false, Error{Code: 1}, Error{Code: 2}},
		{"Error against other error type", false, Error{Code: 1}, errors.New("1")},
	} {
		tcase := tcase
		t.Run(tcase.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tcase.want, errors.Is(tcase.err1, tcase.err2))
		})
	}
}

func TestErrorClassification(t *testing.T) {
	t.Run("retryable codes retry reads", func(t *testing.T) {
		for _, code := range []int32{6, 7, 89, 91, 189, 262, 9001, 10107, 11600, 11602, 13435, 13436} {
			assert.True(t, Error{Code: code}.RetryableRead(), "code %d", code)
		}
		assert.False(t, Error{Code: 11000}.RetryableRead(), "duplicate key is not retryable")
	})

	t.Run("label overrides code for writes", func(t *testing.T) {
		err := Error{Code: 11000, Labels: []string{RetryableWriteError}}
		assert.True(t, err.RetryableWrite(8))
	})

	t.Run("wire 9 requires the label", func(t *testing.T) {
		assert.False(t, Error{Code: 91}.RetryableWrite(9))
		assert.True(t, Error{Code: 91}.RetryableWrite(8))
		assert.True(t, Error{Code: 91, Labels: []string{RetryableWriteError}}.RetryableWrite(9))
	})

	t.Run("network label", func(t *testing.T) {
		err := Error{Message: "conn closed", Labels: []string{NetworkError}}
		assert.True(t, err.RetryableRead())
		assert.True(t, err.RetryableWrite(9))
	})

	t.Run("state change helpers", func(t *testing.T) {
		assert.True(t, Error{Code: 10107}.NotPrimary())
		assert.True(t, Error{Message: "not master"}.NotPrimary())
		assert.True(t, Error{Code: 11600}.NodeIsShuttingDown())
		assert.True(t, Error{Code: 13436}.NodeIsRecovering())
		assert.False(t, Error{Code: 1}.NotPrimary())
	})
}

func TestConnectionError(t *testing.T) {
	err := ConnectionError{Addr: testAddr, Wrapped: errors.New("broken pipe")}
	assert.True(t, err.Retryable())
	assert.False(t, err.NetworkTimeout())
	assert.Contains(t, err.Error(), string(testAddr))

	timeoutErr := ConnectionError{Addr: testAddr, Timeout: true, Message: "socket timeout"}
	assert.True(t, timeoutErr.NetworkTimeout())
}

func TestExtractErrorFromServerResponse(t *testing.T) {
	t.Run("ok response yields nil", func(t *testing.T) {
		doc := bsoncore.BuildDocument(nil, bsoncore.AppendDoubleElement(nil, "ok", 1))
		assert.NoError(t, ExtractErrorFromServerResponse(doc))
	})

	t.Run("command failure with labels", func(t *testing.T) {
		elems := bsoncore.AppendInt32Element(nil, "ok", 0)
		elems = bsoncore.AppendInt32Element(elems, "code", 91)
		elems = bsoncore.AppendStringElement(elems, "errmsg", "shutdown in progress")
		elems = bsoncore.AppendStringElement(elems, "codeName", "ShutdownInProgress")
		var aidx int32
		aidx, elems = bsoncore.AppendArrayElementStart(elems, "errorLabels")
		elems = bsoncore.AppendStringElement(elems, "0", RetryableWriteError)
		elems, _ = bsoncore.AppendArrayEnd(elems, aidx)
		doc := bsoncore.BuildDocument(nil, elems)

		err := ExtractErrorFromServerResponse(doc)
		require.Error(t, err)
		var srvErr Error
		require.ErrorAs(t, err, &srvErr)
		assert.Equal(t, int32(91), srvErr.Code)
		assert.Equal(t, "ShutdownInProgress", srvErr.Name)
		assert.True(t, srvErr.HasErrorLabel(RetryableWriteError))
	})

	t.Run("write concern error", func(t *testing.T) {
		wce := bsoncore.AppendInt32Element(nil, "code", 64)
		wce = bsoncore.AppendStringElement(wce, "errmsg", "waiting for replication timed out")
		elems := bsoncore.AppendInt32Element(nil, "ok", 1)
		elems = bsoncore.AppendDocumentElement(elems, "writeConcernError", bsoncore.BuildDocument(nil, wce))
		doc := bsoncore.BuildDocument(nil, elems)

		err := ExtractErrorFromServerResponse(doc)
		require.Error(t, err)
		var wcErr WriteCommandError
		require.ErrorAs(t, err, &wcErr)
		require.NotNil(t, wcErr.WriteConcernError)
		assert.Equal(t, int64(64), wcErr.WriteConcernError.Code)
	})

	t.Run("write errors array", func(t *testing.T) {
		we := bsoncore.AppendInt32Element(nil, "index", 0)
		we = bsoncore.AppendInt32Element(we, "code", 11000)
		we = bsoncore.AppendStringElement(we, "errmsg", "duplicate key")
		var aidx int32
		elems := bsoncore.AppendInt32Element(nil, "ok", 1)
		aidx, elems = bsoncore.AppendArrayElementStart(elems, "writeErrors")
		elems = bsoncore.AppendDocumentElement(elems, "0", bsoncore.BuildDocument(nil, we))
		elems, _ = bsoncore.AppendArrayEnd(elems, aidx)
		doc := bsoncore.BuildDocument(nil, elems)

		err := ExtractErrorFromServerResponse(doc)
		require.Error(t, err)
		var wcErr WriteCommandError
		require.ErrorAs(t, err, &wcErr)
		require.Len(t, wcErr.WriteErrors, 1)
		assert.Equal(t, int64(11000), wcErr.WriteErrors[0].Code)
		assert.False(t, wcErr.Retryable())
	})
}
