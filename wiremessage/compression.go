// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package wiremessage

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"
	"sync"

	"github.com/golang/snappy"
	"github.com/pkg/errors"
)

// CompressorID is the ID for each compressor type.
type CompressorID uint8

// The supported compressors.
const (
	CompressorNoOp CompressorID = iota
	CompressorSnappy
	CompressorZLib
)

func (id CompressorID) String() string {
	switch id {
	case CompressorNoOp:
		return "CompressorNoOp"
	case CompressorSnappy:
		return "CompressorSnappy"
	case CompressorZLib:
		return "CompressorZLib"
	default:
		return "CompressorInvalid"
	}
}

// DefaultZlibLevel is the default level for zlib compression.
const DefaultZlibLevel = 6

// CompressionOpts holds settings for how to compress a payload.
type CompressionOpts struct {
	Compressor       CompressorID
	ZlibLevel        int
	UncompressedSize int32
}

var zlibEncoders sync.Map // map[int]*sync.Pool

func acquireZlibEncoder(level int) (*zlib.Writer, *sync.Pool, error) {
	if v, ok := zlibEncoders.Load(level); ok {
		pool := v.(*sync.Pool)
		return pool.Get().(*zlib.Writer), pool, nil
	}

	writer, err := zlib.NewWriterLevel(io.Discard, level)
	if err != nil {
		return nil, nil, err
	}
	pool := &sync.Pool{
		New: func() interface{} {
			w, _ := zlib.NewWriterLevel(io.Discard, level)
			return w
		},
	}
	actual, _ := zlibEncoders.LoadOrStore(level, pool)
	return writer, actual.(*sync.Pool), nil
}

// CompressPayload takes a byte slice and compresses it according to the options passed.
func CompressPayload(in []byte, opts CompressionOpts) ([]byte, error) {
	switch opts.Compressor {
	case CompressorNoOp:
		return in, nil
	case CompressorSnappy:
		return snappy.Encode(nil, in), nil
	case CompressorZLib:
		w, pool, err := acquireZlibEncoder(opts.ZlibLevel)
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		w.Reset(&buf)
		if _, err := w.Write(in); err != nil {
			pool.Put(w)
			return nil, err
		}
		if err := w.Close(); err != nil {
			pool.Put(w)
			return nil, err
		}
		pool.Put(w)
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown compressor ID %v", opts.Compressor)
	}
}

// DecompressPayload takes a compressed byte slice and decompresses it according to the options passed.
func DecompressPayload(in []byte, opts CompressionOpts) ([]byte, error) {
	switch opts.Compressor {
	case CompressorNoOp:
		return in, nil
	case CompressorSnappy:
		l, err := snappy.DecodedLen(in)
		if err != nil {
			return nil, errors.Wrap(err, "decoding compressed length")
		}
		if int32(l) != opts.UncompressedSize {
			return nil, errors.Errorf("unexpected decompression size, expected %v but got %v", opts.UncompressedSize, l)
		}
		out := make([]byte, opts.UncompressedSize)
		return snappy.Decode(out, in)
	case CompressorZLib:
		r, err := zlib.NewReader(bytes.NewReader(in))
		if err != nil {
			return nil, err
		}
		defer func() {
			_ = r.Close()
		}()
		out := make([]byte, opts.UncompressedSize)
		if _, err := io.ReadFull(r, out); err != nil {
			return nil, err
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown compressor ID %v", opts.Compressor)
	}
}

// DecompressMessage reads a full OP_COMPRESSED wire message and returns the
// equivalent uncompressed wire message.
func DecompressMessage(msg WireMessage) (WireMessage, error) {
	length, reqid, respto, opcode, rem, ok := ReadHeader(msg)
	if !ok {
		return nil, newErrTruncated("message header")
	}
	if opcode != OpCompressed {
		return msg, nil
	}

	original, rem, ok := ReadCompressedOriginalOpCode(rem)
	if !ok {
		return nil, newErrTruncated("original opcode")
	}
	size, rem, ok := ReadCompressedUncompressedSize(rem)
	if !ok {
		return nil, newErrTruncated("uncompressed size")
	}
	id, rem, ok := ReadCompressedCompressorID(rem)
	if !ok {
		return nil, newErrTruncated("compressor ID")
	}

	// The remaining bytes of the message are the compressed payload.
	compressed := rem[:length-25]
	payload, err := DecompressPayload(compressed, CompressionOpts{
		Compressor:       id,
		UncompressedSize: size,
	})
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, size+16)
	var idx int32
	idx, out = AppendHeaderStart(out, reqid, respto, original)
	out = append(out, payload...)
	return UpdateLength(out, idx, int32(len(out))), nil
}

// CompressMessage compresses the body of a wire message and wraps it in an
// OP_COMPRESSED envelope. The header of msg is preserved.
func CompressMessage(msg WireMessage, opts CompressionOpts) (WireMessage, error) {
	if opts.Compressor == CompressorNoOp {
		return msg, nil
	}

	_, reqid, respto, opcode, body, ok := ReadHeader(msg)
	if !ok {
		return nil, newErrTruncated("message header")
	}

	compressed, err := CompressPayload(body, opts)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(compressed)+25)
	var idx int32
	idx, out = AppendHeaderStart(out, reqid, respto, OpCompressed)
	out = AppendCompressedOriginalOpCode(out, opcode)
	out = AppendCompressedUncompressedSize(out, int32(len(body)))
	out = AppendCompressedCompressorID(out, opts.Compressor)
	out = AppendCompressedCompressedMessage(out, compressed)
	return UpdateLength(out, idx, int32(len(out))), nil
}
