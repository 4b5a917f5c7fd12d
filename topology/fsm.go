// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"bytes"
	"fmt"

	"github.com/ikmak/mongo-driver-core/address"
	"github.com/ikmak/mongo-driver-core/description"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// fsm is the SDAM state machine. It holds the current topology description
// and produces a new one for every server description applied to it.
type fsm struct {
	description.Topology

	maxElectionID primitive.ObjectID
	maxSetVersion uint32
	setName       string
}

func newFSM() *fsm {
	return &fsm{}
}

// apply takes a new server description and modifies the topology description
// accordingly. The returned description is a fresh value; previously published
// snapshots are never mutated.
func (f *fsm) apply(s description.Server) description.Topology {
	newServers := make([]description.Server, len(f.Servers))
	copy(newServers, f.Servers)

	f.Topology = description.Topology{
		Kind:    f.Kind,
		SetName: f.SetName,
		Servers: newServers,
	}

	if _, ok := f.findServer(s.Addr); !ok {
		f.updateSessionTimeout()
		return f.Topology
	}

	switch f.Kind {
	case description.Sharded:
		f.applyToSharded(s)
	case description.ReplicaSetNoPrimary:
		f.applyToReplicaSetNoPrimary(s)
	case description.ReplicaSetWithPrimary:
		f.applyToReplicaSetWithPrimary(s)
	case description.Single:
		f.applyToSingle(s)
	default:
		f.applyToUnknown(s)
	}

	f.Topology.SetName = f.setName
	f.updateSessionTimeout()
	return f.Topology
}

// updateSessionTimeout recomputes the topology's logical session timeout: the
// minimum across the data bearing servers, or zero when any of them does not
// advertise one.
func (f *fsm) updateSessionTimeout() {
	timeout := uint32(0)
	for _, server := range f.Servers {
		if !server.DataBearing() {
			continue
		}
		if server.SessionTimeoutMinutes == 0 {
			f.Topology.SessionTimeoutMinutes = 0
			return
		}
		if timeout == 0 || server.SessionTimeoutMinutes < timeout {
			timeout = server.SessionTimeoutMinutes
		}
	}
	f.Topology.SessionTimeoutMinutes = timeout
}

func (f *fsm) applyToReplicaSetNoPrimary(s description.Server) {
	switch s.Kind {
	case description.Standalone, description.Mongos:
		f.removeServerByAddr(s.Addr)
	case description.RSPrimary:
		f.updateRSFromPrimary(s)
	case description.RSSecondary, description.RSArbiter, description.RSMember:
		f.updateRSWithoutPrimary(s)
	case description.Unknown, description.RSGhost:
		f.replaceServer(s)
	}
}

func (f *fsm) applyToReplicaSetWithPrimary(s description.Server) {
	switch s.Kind {
	case description.Standalone, description.Mongos:
		f.removeServerByAddr(s.Addr)
		f.checkIfHasPrimary()
	case description.RSPrimary:
		f.updateRSFromPrimary(s)
	case description.RSSecondary, description.RSArbiter, description.RSMember:
		f.updateRSWithPrimaryFromMember(s)
	case description.Unknown, description.RSGhost:
		f.replaceServer(s)
		f.checkIfHasPrimary()
	}
}

func (f *fsm) applyToSharded(s description.Server) {
	switch s.Kind {
	case description.Mongos, description.Unknown:
		f.replaceServer(s)
	default:
		f.removeServerByAddr(s.Addr)
	}
}

func (f *fsm) applyToSingle(s description.Server) {
	switch s.Kind {
	case description.Unknown:
		f.replaceServer(s)
	case description.Standalone, description.Mongos:
		if f.setName != "" {
			f.removeServerByAddr(s.Addr)
			return
		}

		f.replaceServer(s)
	default:
		if f.setName != "" && f.setName != s.SetName {
			f.removeServerByAddr(s.Addr)
			return
		}

		f.replaceServer(s)
	}
}

func (f *fsm) applyToUnknown(s description.Server) {
	switch s.Kind {
	case description.Mongos:
		f.setKind(description.Sharded)
		f.replaceServer(s)
	case description.RSPrimary:
		f.updateRSFromPrimary(s)
	case description.RSSecondary, description.RSArbiter, description.RSMember:
		f.setKind(description.ReplicaSetNoPrimary)
		f.updateRSWithoutPrimary(s)
	case description.Standalone:
		f.updateUnknownWithStandalone(s)
	case description.Unknown, description.RSGhost:
		f.replaceServer(s)
	}
}

func (f *fsm) checkIfHasPrimary() {
	if _, ok := f.findPrimary(); ok {
		f.setKind(description.ReplicaSetWithPrimary)
	} else {
		f.setKind(description.ReplicaSetNoPrimary)
	}
}

func (f *fsm) updateRSFromPrimary(s description.Server) {
	if f.setName == "" {
		f.setName = s.SetName
	} else if f.setName != s.SetName {
		f.removeServerByAddr(s.Addr)
		f.checkIfHasPrimary()
		return
	}

	if s.SetVersion != 0 && !s.ElectionID.IsZero() {
		// The election id is authoritative; the set version only breaks ties
		// between primaries elected under the same id.
		cmp := bytes.Compare(s.ElectionID[:], f.maxElectionID[:])
		if cmp < 0 || (cmp == 0 && s.SetVersion < f.maxSetVersion) {
			f.replaceServer(description.Server{
				Addr:          s.Addr,
				CanonicalAddr: s.Addr,
				LastError:     fmt.Errorf("was a primary, but its set version or election id is stale"),
			})
			f.checkIfHasPrimary()
			return
		}

		f.maxElectionID = s.ElectionID
		f.maxSetVersion = s.SetVersion
	} else if s.SetVersion > f.maxSetVersion {
		f.maxSetVersion = s.SetVersion
	}

	if j, ok := f.findPrimary(); ok && f.Servers[j].Addr != s.Addr {
		f.setServer(j, description.Server{
			Addr:          f.Servers[j].Addr,
			CanonicalAddr: f.Servers[j].Addr,
			LastError:     fmt.Errorf("was a primary, but a new primary was discovered"),
		})
	}

	f.replaceServer(s)

	for j := len(f.Servers) - 1; j >= 0; j-- {
		found := false
		for _, member := range s.Members {
			if member == f.Servers[j].Addr {
				found = true
				break
			}
		}
		if !found {
			f.removeServer(j)
		}
	}

	for _, member := range s.Members {
		if _, ok := f.findServer(member); !ok {
			f.addServer(member)
		}
	}

	f.checkIfHasPrimary()
}

func (f *fsm) updateRSWithPrimaryFromMember(s description.Server) {
	if f.setName != s.SetName {
		f.removeServerByAddr(s.Addr)
		f.checkIfHasPrimary()
		return
	}

	if s.Addr != s.CanonicalAddr {
		f.removeServerByAddr(s.Addr)
		f.checkIfHasPrimary()
		return
	}

	f.replaceServer(s)

	if _, ok := f.findPrimary(); !ok {
		f.setKind(description.ReplicaSetNoPrimary)
	}
}

func (f *fsm) updateRSWithoutPrimary(s description.Server) {
	if f.setName == "" {
		f.setName = s.SetName
	} else if f.setName != s.SetName {
		f.removeServerByAddr(s.Addr)
		return
	}

	for _, member := range s.Members {
		if _, ok := f.findServer(member); !ok {
			f.addServer(member)
		}
	}

	if s.Addr != s.CanonicalAddr {
		f.removeServerByAddr(s.Addr)
		return
	}

	f.replaceServer(s)
}

func (f *fsm) updateUnknownWithStandalone(s description.Server) {
	if len(f.Servers) > 1 {
		f.removeServerByAddr(s.Addr)
		return
	}

	f.setKind(description.Single)
	f.replaceServer(s)
}

func (f *fsm) addServer(addr address.Address) {
	f.Servers = append(f.Servers, description.NewDefaultServer(addr))
}

func (f *fsm) findPrimary() (int, bool) {
	for i, s := range f.Servers {
		if s.Kind == description.RSPrimary {
			return i, true
		}
	}
	return 0, false
}

func (f *fsm) findServer(addr address.Address) (int, bool) {
	for i, s := range f.Servers {
		if addr == s.Addr {
			return i, true
		}
	}
	return 0, false
}

func (f *fsm) removeServer(i int) {
	f.Servers = append(f.Servers[:i], f.Servers[i+1:]...)
}

func (f *fsm) removeServerByAddr(addr address.Address) {
	if i, ok := f.findServer(addr); ok {
		f.removeServer(i)
	}
}

func (f *fsm) replaceServer(s description.Server) {
	if i, ok := f.findServer(s.Addr); ok {
		f.setServer(i, s)
	}
}

func (f *fsm) setServer(i int, s description.Server) {
	f.Servers[i] = s
}

func (f *fsm) setKind(kind description.TopologyKind) {
	f.Kind = kind
}
