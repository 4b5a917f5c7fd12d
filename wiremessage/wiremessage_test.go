// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package wiremessage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

func TestNextRequestID(t *testing.T) {
	first := NextRequestID()
	second := NextRequestID()
	assert.Equal(t, first+1, second, "request IDs should be sequential")
	assert.Equal(t, second, CurrentRequestID())
}

func TestHeaderRoundTrip(t *testing.T) {
	idx, dst := AppendHeaderStart(nil, 42, 7, OpMsg)
	dst = AppendMsgFlags(dst, MoreToCome)
	dst = UpdateLength(dst, idx, int32(len(dst)))

	length, reqid, respto, opcode, rem, ok := ReadHeader(dst)
	require.True(t, ok)
	assert.Equal(t, int32(20), length)
	assert.Equal(t, int32(42), reqid)
	assert.Equal(t, int32(7), respto)
	assert.Equal(t, OpMsg, opcode)

	flags, rem, ok := ReadMsgFlags(rem)
	require.True(t, ok)
	assert.Equal(t, MoreToCome, flags)
	assert.Empty(t, rem)
}

func TestReadHeaderTooShort(t *testing.T) {
	_, _, _, _, _, ok := ReadHeader([]byte{0x01, 0x02})
	assert.False(t, ok)
}

func TestMsgSectionSingleDocument(t *testing.T) {
	doc := bsoncore.BuildDocument(nil, bsoncore.AppendInt32Element(nil, "ok", 1))

	dst := AppendMsgSectionType(nil, SingleDocument)
	dst = append(dst, doc...)

	stype, rem, ok := ReadMsgSectionType(dst)
	require.True(t, ok)
	assert.Equal(t, SingleDocument, stype)

	got, rem, ok := ReadMsgSectionSingleDocument(rem)
	require.True(t, ok)
	assert.Equal(t, bsoncore.Document(doc), got)
	assert.Empty(t, rem)
}

func TestMsgSectionDocumentSequence(t *testing.T) {
	docA := bsoncore.BuildDocument(nil, bsoncore.AppendInt32Element(nil, "x", 1))
	docB := bsoncore.BuildDocument(nil, bsoncore.AppendInt32Element(nil, "x", 2))

	var body []byte
	body = appendCString(body, "documents")
	body = append(body, docA...)
	body = append(body, docB...)

	var dst []byte
	dst = appendi32(dst, int32(len(body)+4))
	dst = append(dst, body...)

	identifier, docs, rem, ok := ReadMsgSectionDocumentSequence(dst)
	require.True(t, ok)
	assert.Equal(t, "documents", identifier)
	require.Len(t, docs, 2)
	assert.Equal(t, bsoncore.Document(docA), docs[0])
	assert.Equal(t, bsoncore.Document(docB), docs[1])
	assert.Empty(t, rem)
}

func TestCompressRoundTrip(t *testing.T) {
	doc := bsoncore.BuildDocument(nil, bsoncore.AppendStringElement(nil, "hello", "world"))

	idx, msg := AppendHeaderStart(nil, 1, 0, OpMsg)
	msg = AppendMsgFlags(msg, 0)
	msg = AppendMsgSectionType(msg, SingleDocument)
	msg = append(msg, doc...)
	msg = UpdateLength(msg, idx, int32(len(msg)))

	for _, id := range []CompressorID{CompressorSnappy, CompressorZLib} {
		t.Run(id.String(), func(t *testing.T) {
			compressed, err := CompressMessage(msg, CompressionOpts{
				Compressor: id,
				ZlibLevel:  DefaultZlibLevel,
			})
			require.NoError(t, err)

			_, _, _, opcode, _, ok := ReadHeader(compressed)
			require.True(t, ok)
			assert.Equal(t, OpCompressed, opcode)

			decompressed, err := DecompressMessage(compressed)
			require.NoError(t, err)
			assert.Equal(t, WireMessage(msg), decompressed)
		})
	}
}

func TestDecompressPayloadSizeMismatch(t *testing.T) {
	in := []byte("some uncompressed payload")
	compressed, err := CompressPayload(in, CompressionOpts{Compressor: CompressorSnappy})
	require.NoError(t, err)

	_, err = DecompressPayload(compressed, CompressionOpts{
		Compressor:       CompressorSnappy,
		UncompressedSize: int32(len(in) + 1),
	})
	assert.Error(t, err)
}

func TestDecompressTruncatedMessage(t *testing.T) {
	idx, msg := AppendHeaderStart(nil, 1, 0, OpCompressed)
	msg = UpdateLength(msg, idx, int32(len(msg)))

	_, err := DecompressMessage(msg)
	require.Error(t, err)
	var truncated ErrTruncated
	require.ErrorAs(t, err, &truncated)
	assert.Contains(t, truncated.ErrorStack(), "truncated wire message")
}
