// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ikmak/mongo-driver-core/address"
	"github.com/ikmak/mongo-driver-core/auth"
	"github.com/ikmak/mongo-driver-core/description"
	"github.com/ikmak/mongo-driver-core/driver"
	"github.com/ikmak/mongo-driver-core/operation"
	"github.com/ikmak/mongo-driver-core/wiremessage"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

var globalConnectionID uint64

func nextConnectionID() uint64 {
	return atomic.AddUint64(&globalConnectionID, 1)
}

// defaultMaxMessageSize bounds a single wire message until the handshake
// reports the server's actual limit.
const defaultMaxMessageSize uint32 = 48000000

// connection is a single network connection to a server. It owns the wire
// framing; the handshake and authentication run during connect.
type connection struct {
	id             string
	addr           address.Address
	nc             net.Conn
	desc           description.Server
	readTimeout    time.Duration
	writeTimeout   time.Duration
	maxMessageSize uint32

	compressor wiremessage.CompressorID
	zlibLevel  int
}

func newConnection(addr address.Address, cfg *connectionConfig) *connection {
	return &connection{
		id:             fmt.Sprintf("%s[-%d]", addr, nextConnectionID()),
		addr:           addr,
		readTimeout:    cfg.readTimeout,
		writeTimeout:   cfg.writeTimeout,
		maxMessageSize: defaultMaxMessageSize,
		zlibLevel:      wiremessage.DefaultZlibLevel,
	}
}

type connectionConfig struct {
	appName        string
	connectTimeout time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
	tlsConfig      *tls.Config
	compressors    []string
	zlibLevel      int
	credential     *auth.Cred
	authMechanism  string
}

// connect dials the server, performs the hello handshake, negotiates
// compression, and authenticates when a credential is configured.
func (c *connection) connect(ctx context.Context, cfg *connectionConfig) error {
	if cfg.connectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.connectTimeout)
		defer cancel()
	}

	var dialer net.Dialer
	nc, err := dialer.DialContext(ctx, "tcp", c.addr.String())
	if err != nil {
		return driver.ConnectionError{Addr: c.addr, Wrapped: err, Message: "failed to connect"}
	}
	c.nc = nc

	if cfg.tlsConfig != nil {
		tlsConfig := cfg.tlsConfig.Clone()
		if tlsConfig.ServerName == "" {
			hostname := c.addr.String()
			if idx := strings.LastIndexByte(hostname, ':'); idx > 0 {
				hostname = hostname[:idx]
			}
			tlsConfig.ServerName = hostname
		}
		tlsConn := tls.Client(c.nc, tlsConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			_ = c.nc.Close()
			return driver.ConnectionError{Addr: c.addr, Wrapped: err, Message: "failed to negotiate TLS"}
		}
		c.nc = tlsConn
	}

	if err := c.handshake(ctx, cfg); err != nil {
		_ = c.nc.Close()
		return err
	}

	return nil
}

// handshake runs the initial hello over OP_QUERY, since the server's wire
// version is unknown until it answers, then authenticates.
func (c *connection) handshake(ctx context.Context, cfg *connectionConfig) error {
	hello := &operation.Hello{
		AppName:          cfg.appName,
		Compressors:      cfg.compressors,
		Legacy:           true,
		InitialHandshake: true,
	}
	if cfg.credential != nil && cfg.credential.Username != "" {
		source := cfg.credential.Source
		if source == "" {
			source = "admin"
		}
		hello.SASLSupportedMechs = source + "." + cfg.credential.Username
	}

	wm, _, err := hello.Spec().EncodeQuery(true)
	if err != nil {
		return err
	}
	if err := c.WriteWireMessage(ctx, wm); err != nil {
		return err
	}
	res, err := c.ReadWireMessage(ctx)
	if err != nil {
		return err
	}
	doc, err := driver.DecodeReply(res)
	if err != nil {
		return err
	}
	if err := driver.ExtractErrorFromServerResponse(doc); err != nil {
		return err
	}

	c.desc = description.NewServer(c.addr, bson.Raw(doc))
	if c.desc.LastError != nil {
		return c.desc.LastError
	}
	if c.desc.MaxMessageSize != 0 {
		c.maxMessageSize = c.desc.MaxMessageSize
	}

	c.negotiateCompression(cfg, bson.Raw(doc))

	if cfg.credential != nil {
		return c.authenticate(ctx, cfg)
	}
	return nil
}

// negotiateCompression picks the first client compressor the server also
// advertised in its hello response.
func (c *connection) negotiateCompression(cfg *connectionConfig, reply bson.Raw) {
	serverCompressors, err := reply.LookupErr("compression")
	if err != nil {
		return
	}
	arr, ok := serverCompressors.ArrayOK()
	if !ok {
		return
	}
	values, err := arr.Values()
	if err != nil {
		return
	}

	for _, name := range cfg.compressors {
		for _, value := range values {
			server, ok := value.StringValueOK()
			if !ok || server != name {
				continue
			}
			switch name {
			case "snappy":
				c.compressor = wiremessage.CompressorSnappy
			case "zlib":
				c.compressor = wiremessage.CompressorZLib
				if cfg.zlibLevel != 0 {
					c.zlibLevel = cfg.zlibLevel
				}
			default:
				continue
			}
			return
		}
	}
}

func (c *connection) authenticate(ctx context.Context, cfg *connectionConfig) error {
	mech := cfg.authMechanism
	if mech == "" {
		mech = auth.ChooseAuthMechanism(c.desc)
	}

	authenticator, err := auth.CreateAuthenticator(mech, cfg.credential)
	if err != nil {
		return err
	}
	return authenticator.Auth(ctx, c.desc, c)
}

// CompressWireMessage implements driver.Compressor once a compressor was
// negotiated during the handshake.
func (c *connection) CompressWireMessage(src, _ []byte) ([]byte, error) {
	if c.compressor == wiremessage.CompressorNoOp {
		return src, nil
	}
	return wiremessage.CompressMessage(src, wiremessage.CompressionOpts{
		Compressor: c.compressor,
		ZlibLevel:  c.zlibLevel,
	})
}

// WriteWireMessage writes the message to the underlying connection, bounded
// by the context deadline or the configured write timeout.
func (c *connection) WriteWireMessage(ctx context.Context, wm []byte) error {
	if c.nc == nil {
		return driver.ConnectionError{Addr: c.addr, Message: "connection is closed"}
	}

	var deadline time.Time
	if c.writeTimeout != 0 {
		deadline = time.Now().Add(c.writeTimeout)
	}
	if ctxDeadline, ok := ctx.Deadline(); ok && (deadline.IsZero() || ctxDeadline.Before(deadline)) {
		deadline = ctxDeadline
	}
	if err := c.nc.SetWriteDeadline(deadline); err != nil {
		return driver.ConnectionError{Addr: c.addr, Wrapped: err, Message: "failed to set write deadline"}
	}

	if _, err := c.nc.Write(wm); err != nil {
		c.close()
		return driver.ConnectionError{
			Addr:    c.addr,
			Wrapped: err,
			Timeout: isNetTimeout(err),
			Message: "unable to write wire message to network",
		}
	}
	return nil
}

// ReadWireMessage reads a full wire message from the underlying connection.
// A partial read leaves the stream unusable, so any error closes the
// connection.
func (c *connection) ReadWireMessage(ctx context.Context) ([]byte, error) {
	if c.nc == nil {
		return nil, driver.ConnectionError{Addr: c.addr, Message: "connection is closed"}
	}

	var deadline time.Time
	if c.readTimeout != 0 {
		deadline = time.Now().Add(c.readTimeout)
	}
	if ctxDeadline, ok := ctx.Deadline(); ok && (deadline.IsZero() || ctxDeadline.Before(deadline)) {
		deadline = ctxDeadline
	}
	if err := c.nc.SetReadDeadline(deadline); err != nil {
		return nil, driver.ConnectionError{Addr: c.addr, Wrapped: err, Message: "failed to set read deadline"}
	}

	var sizeBuf [4]byte
	if _, err := io.ReadFull(c.nc, sizeBuf[:]); err != nil {
		c.close()
		return nil, driver.ConnectionError{
			Addr:    c.addr,
			Wrapped: err,
			Timeout: isNetTimeout(err),
			Message: "unable to decode message length",
		}
	}

	size := int32(sizeBuf[0]) | int32(sizeBuf[1])<<8 | int32(sizeBuf[2])<<16 | int32(sizeBuf[3])<<24
	if size < 4 || uint32(size) > c.maxMessageSize {
		c.close()
		return nil, driver.ConnectionError{
			Addr:    c.addr,
			Wrapped: errors.Errorf("message of size %d exceeds limits", size),
			Message: "unable to read wire message",
		}
	}

	dst := make([]byte, size)
	copy(dst, sizeBuf[:])
	if _, err := io.ReadFull(c.nc, dst[4:]); err != nil {
		c.close()
		return nil, driver.ConnectionError{
			Addr:    c.addr,
			Wrapped: err,
			Timeout: isNetTimeout(err),
			Message: "unable to read full wire message",
		}
	}

	return dst, nil
}

func (c *connection) close() {
	if c.nc != nil {
		_ = c.nc.Close()
	}
}

// Close implements driver.Connection.
func (c *connection) Close() error {
	if c.nc == nil {
		return nil
	}
	return c.nc.Close()
}

func (c *connection) Description() description.Server { return c.desc }
func (c *connection) ID() string                      { return c.id }
func (c *connection) Address() address.Address        { return c.addr }

func isNetTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
