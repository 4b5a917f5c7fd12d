// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"crypto/tls"
	"time"

	"github.com/ikmak/mongo-driver-core/address"
	"github.com/ikmak/mongo-driver-core/auth"
	"github.com/ikmak/mongo-driver-core/connstring"
	"github.com/ikmak/mongo-driver-core/internal/logger"
)

// MonitorMode selects how the topology interprets its seed list.
type MonitorMode uint8

// MonitorMode constants.
const (
	// AutomaticMode discovers the deployment kind from the servers'
	// responses.
	AutomaticMode MonitorMode = iota
	// SingleMode pins the topology to the first seed and never
	// discovers additional servers.
	SingleMode
)

func newConfig(opts ...Option) *config {
	cfg := &config{
		seedList:               []address.Address{address.Address("localhost:27017")},
		serverSelectionTimeout: 30 * time.Second,
		localThreshold:         15 * time.Millisecond,
		heartbeatInterval:      10 * time.Second,
		connection: connectionConfig{
			connectTimeout: 30 * time.Second,
		},
		log: logger.New(nil),
	}

	cfg.apply(opts...)

	return cfg
}

// Option configures a topology.
type Option func(*config)

type config struct {
	mode                   MonitorMode
	replicaSetName         string
	seedList               []address.Address
	serverSelectionTimeout time.Duration
	localThreshold         time.Duration
	heartbeatInterval      time.Duration
	connection             connectionConfig
	log                    logger.Logger
}

func (c *config) apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// WithConnString configures the topology from a parsed connection string.
func WithConnString(cs connstring.ConnString) Option {
	return func(c *config) {
		if len(cs.Hosts) > 0 {
			c.seedList = c.seedList[:0]
			for _, host := range cs.Hosts {
				c.seedList = append(c.seedList, address.Address(host).Canonicalize())
			}
		}

		if cs.Connect == connstring.SingleConnect {
			c.mode = SingleMode
		}
		if cs.ReplicaSet != "" {
			c.replicaSetName = cs.ReplicaSet
		}
		if cs.ServerSelectionTimeoutSet {
			c.serverSelectionTimeout = cs.ServerSelectionTimeout
		}
		if cs.LocalThresholdSet {
			c.localThreshold = cs.LocalThreshold
		}
		if cs.HeartbeatIntervalSet {
			c.heartbeatInterval = cs.HeartbeatInterval
		}

		if cs.AppName != "" {
			c.connection.appName = cs.AppName
		}
		if cs.ConnectTimeoutSet {
			c.connection.connectTimeout = cs.ConnectTimeout
		}
		if cs.SocketTimeoutSet {
			c.connection.readTimeout = cs.SocketTimeout
			c.connection.writeTimeout = cs.SocketTimeout
		}
		if len(cs.Compressors) > 0 {
			c.connection.compressors = cs.Compressors
			if cs.ZlibLevelSet {
				c.connection.zlibLevel = cs.ZlibLevel
			}
		}

		if cs.Username != "" || cs.AuthMechanism == auth.MongoDBX509 || cs.AuthMechanism == auth.GSSAPI {
			source := cs.AuthSource
			if source == "" {
				source = cs.Database
			}
			if source == "" {
				source = "admin"
			}

			c.connection.authMechanism = cs.AuthMechanism
			c.connection.credential = &auth.Cred{
				Source:      source,
				Username:    cs.Username,
				Password:    cs.Password,
				PasswordSet: cs.PasswordSet,
				Props:       cs.AuthMechanismProperties,
			}
		}
	}
}

// WithMode configures the topology's monitor mode.
func WithMode(mode MonitorMode) Option {
	return func(c *config) {
		c.mode = mode
	}
}

// WithReplicaSetName configures the topology's default replica set name.
func WithReplicaSetName(name string) Option {
	return func(c *config) {
		c.replicaSetName = name
	}
}

// WithSeedList configures the topology's seed list.
func WithSeedList(addrs ...address.Address) Option {
	return func(c *config) {
		c.seedList = make([]address.Address, 0, len(addrs))
		for _, addr := range addrs {
			c.seedList = append(c.seedList, addr.Canonicalize())
		}
	}
}

// WithServerSelectionTimeout configures the topology's server selection
// timeout.
func WithServerSelectionTimeout(timeout time.Duration) Option {
	return func(c *config) {
		c.serverSelectionTimeout = timeout
	}
}

// WithLocalThreshold configures the latency window used when choosing
// between viable servers.
func WithLocalThreshold(threshold time.Duration) Option {
	return func(c *config) {
		c.localThreshold = threshold
	}
}

// WithHeartbeatInterval configures how often each server is checked.
func WithHeartbeatInterval(interval time.Duration) Option {
	return func(c *config) {
		c.heartbeatInterval = interval
	}
}

// WithAppName configures the application name sent in the handshake.
func WithAppName(name string) Option {
	return func(c *config) {
		c.connection.appName = name
	}
}

// WithConnectTimeout configures how long a dial plus handshake may take.
func WithConnectTimeout(timeout time.Duration) Option {
	return func(c *config) {
		c.connection.connectTimeout = timeout
	}
}

// WithSocketTimeout configures the per-operation socket read and write
// timeout.
func WithSocketTimeout(timeout time.Duration) Option {
	return func(c *config) {
		c.connection.readTimeout = timeout
		c.connection.writeTimeout = timeout
	}
}

// WithTLSConfig configures the TLS settings used when dialing servers.
func WithTLSConfig(tlsConfig *tls.Config) Option {
	return func(c *config) {
		c.connection.tlsConfig = tlsConfig
	}
}

// WithCompressors configures the compressor names offered during the
// handshake, in preference order.
func WithCompressors(compressors ...string) Option {
	return func(c *config) {
		c.connection.compressors = compressors
	}
}

// WithZlibLevel configures the zlib compression level.
func WithZlibLevel(level int) Option {
	return func(c *config) {
		c.connection.zlibLevel = level
	}
}

// WithCredential configures the credential used to authenticate
// connections. The mechanism is negotiated from the handshake when empty.
func WithCredential(mechanism string, cred *auth.Cred) Option {
	return func(c *config) {
		c.connection.authMechanism = mechanism
		c.connection.credential = cred
	}
}

// WithLogger configures the logger used by the topology and its server
// monitors.
func WithLogger(log logger.Logger) Option {
	return func(c *config) {
		c.log = log
	}
}
