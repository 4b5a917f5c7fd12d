// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package description contains types and functions for describing the state of
// MongoDB clusters: immutable snapshots produced by monitoring and consumed by
// server selection.
package description

import (
	"fmt"

	"github.com/ikmak/mongo-driver-core/address"
)

// Topology represents a description of a MongoDB deployment. Snapshots are
// replaced wholesale on each monitoring cycle and are never mutated in place
// while a selection is in progress.
type Topology struct {
	Servers []Server
	SetName string
	Kind    TopologyKind

	// SessionTimeoutMinutes is the minimum logical session timeout across
	// the data bearing servers, or zero when any of them does not support
	// sessions.
	SessionTimeoutMinutes uint32
}

// Server returns the server description with the given address, if present.
func (t Topology) Server(addr address.Address) (Server, bool) {
	for _, server := range t.Servers {
		if server.Addr.String() == addr.String() {
			return server, true
		}
	}
	return Server{}, false
}

// SupportsRetryWrites returns true when every data bearing server in the
// topology reports retryable write support. Per the retryable writes
// contract, server capability is the sole source of truth; client
// configuration can only disable retries, never force them.
func (t Topology) SupportsRetryWrites() bool {
	if len(t.Servers) == 0 {
		return false
	}
	for _, server := range t.Servers {
		if !server.DataBearing() {
			continue
		}
		if !server.SupportsRetryWrites() {
			return false
		}
	}
	return true
}

// SupportsSessions returns true when every data bearing server in the
// topology advertises a logical session timeout.
func (t Topology) SupportsSessions() bool {
	if len(t.Servers) == 0 {
		return false
	}
	for _, server := range t.Servers {
		if !server.DataBearing() {
			continue
		}
		if !server.SupportsSessions() {
			return false
		}
	}
	return true
}

// String implements the Stringer interface.
func (t Topology) String() string {
	var serversStr string
	for _, s := range t.Servers {
		serversStr += "{ " + s.String() + " }, "
	}
	return fmt.Sprintf("Type: %s, Servers: [%s]", t.Kind, serversStr)
}

// ServerSelector is an interface implemented by types that can perform server
// selection given a topology description.
type ServerSelector interface {
	SelectServer(Topology, []Server) ([]Server, error)
}

// ServerSelectorFunc is a function that can be used as a ServerSelector.
type ServerSelectorFunc func(Topology, []Server) ([]Server, error)

// SelectServer implements the ServerSelector interface.
func (ssf ServerSelectorFunc) SelectServer(t Topology, s []Server) ([]Server, error) {
	return ssf(t, s)
}
