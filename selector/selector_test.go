// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package selector

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/ikmak/mongo-driver-core/address"
	"github.com/ikmak/mongo-driver-core/description"
	"github.com/ikmak/mongo-driver-core/readpref"
	"github.com/ikmak/mongo-driver-core/tag"
)

var readPrefTestPrimary = description.Server{
	Addr:              "localhost:27017",
	HeartbeatInterval: time.Duration(10) * time.Second,
	LastWriteTime:     time.Date(2017, 2, 11, 14, 0, 0, 0, time.UTC),
	LastUpdateTime:    time.Date(2017, 2, 11, 14, 0, 2, 0, time.UTC),
	Kind:              description.RSPrimary,
	Tags:              tag.Set{tag.Tag{Name: "a", Value: "1"}},
	WireVersion:       description.NewVersionRange(0, 8),
}

var readPrefTestSecondary1 = description.Server{
	Addr:              "localhost:27018",
	HeartbeatInterval: time.Duration(10) * time.Second,
	LastWriteTime:     time.Date(2017, 2, 11, 14, 0, 0, 0, time.UTC),
	LastUpdateTime:    time.Date(2017, 2, 11, 14, 0, 2, 0, time.UTC),
	Kind:              description.RSSecondary,
	Tags:              tag.Set{tag.Tag{Name: "a", Value: "1"}},
	WireVersion:       description.NewVersionRange(0, 8),
}

var readPrefTestSecondary2 = description.Server{
	Addr:              "localhost:27019",
	HeartbeatInterval: time.Duration(10) * time.Second,
	LastWriteTime:     time.Date(2017, 2, 11, 14, 0, 0, 0, time.UTC),
	LastUpdateTime:    time.Date(2017, 2, 11, 14, 0, 2, 0, time.UTC),
	Kind:              description.RSSecondary,
	Tags:              tag.Set{tag.Tag{Name: "a", Value: "2"}},
	WireVersion:       description.NewVersionRange(0, 8),
}

var readPrefTestTopology = description.Topology{
	Kind:    description.ReplicaSetWithPrimary,
	Servers: []description.Server{readPrefTestPrimary, readPrefTestSecondary1, readPrefTestSecondary2},
}

func requireServers(t *testing.T, expected []description.Server, actual []description.Server) {
	t.Helper()
	if diff := cmp.Diff(expected, actual); diff != "" {
		t.Fatalf("unexpected candidate set (-want +got):\n%s", diff)
	}
}

func TestReadPref_primary(t *testing.T) {
	t.Parallel()

	s := &ReadPref{ReadPref: readpref.Primary()}
	result, err := s.SelectServer(readPrefTestTopology, readPrefTestTopology.Servers)

	require.NoError(t, err)
	requireServers(t, []description.Server{readPrefTestPrimary}, result)
}

// Selection is deterministic: repeated calls over the same snapshot return
// identical candidate sets.
func TestReadPref_deterministic(t *testing.T) {
	t.Parallel()

	s := &ReadPref{ReadPref: readpref.Nearest()}

	first, err := s.SelectServer(readPrefTestTopology, readPrefTestTopology.Servers)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		result, err := s.SelectServer(readPrefTestTopology, readPrefTestTopology.Servers)
		require.NoError(t, err)
		requireServers(t, first, result)
	}
}

func TestReadPref_primaryPreferred_with_primary(t *testing.T) {
	t.Parallel()

	s := &ReadPref{ReadPref: readpref.PrimaryPreferred()}
	result, err := s.SelectServer(readPrefTestTopology, readPrefTestTopology.Servers)

	require.NoError(t, err)
	// the primary is first when available, eligible secondaries follow
	require.Equal(t, readPrefTestPrimary, result[0])
	requireServers(t,
		[]description.Server{readPrefTestPrimary, readPrefTestSecondary1, readPrefTestSecondary2},
		result)
}

func TestReadPref_primaryPreferred_without_primary(t *testing.T) {
	t.Parallel()

	topo := description.Topology{
		Kind:    description.ReplicaSetNoPrimary,
		Servers: []description.Server{readPrefTestSecondary1, readPrefTestSecondary2},
	}
	s := &ReadPref{ReadPref: readpref.PrimaryPreferred()}
	result, err := s.SelectServer(topo, topo.Servers)

	require.NoError(t, err)
	requireServers(t, []description.Server{readPrefTestSecondary1, readPrefTestSecondary2}, result)
}

func TestReadPref_secondary_with_tags(t *testing.T) {
	t.Parallel()

	s := &ReadPref{ReadPref: readpref.Secondary(readpref.WithTags("a", "2"))}
	result, err := s.SelectServer(readPrefTestTopology, readPrefTestTopology.Servers)

	require.NoError(t, err)
	requireServers(t, []description.Server{readPrefTestSecondary2}, result)
}

// The first tag set with at least one match wins; later sets are only
// considered when every earlier one matched nothing.
func TestReadPref_tag_set_precedence(t *testing.T) {
	t.Parallel()

	s := &ReadPref{ReadPref: readpref.Secondary(readpref.WithTagSets(
		tag.Set{tag.Tag{Name: "dc", Value: "ny"}, tag.Tag{Name: "rack", Value: "a"}},
		tag.Set{tag.Tag{Name: "a", Value: "2"}},
	))}
	result, err := s.SelectServer(readPrefTestTopology, readPrefTestTopology.Servers)

	require.NoError(t, err)
	requireServers(t, []description.Server{readPrefTestSecondary2}, result)
}

func TestReadPref_tag_sets_no_match(t *testing.T) {
	t.Parallel()

	s := &ReadPref{ReadPref: readpref.Secondary(readpref.WithTags("dc", "sf"))}
	result, err := s.SelectServer(readPrefTestTopology, readPrefTestTopology.Servers)

	require.NoError(t, err)
	require.Empty(t, result)
}

func TestReadPref_secondaryPreferred_falls_back_to_primary(t *testing.T) {
	t.Parallel()

	s := &ReadPref{ReadPref: readpref.SecondaryPreferred(readpref.WithTags("dc", "sf"))}
	result, err := s.SelectServer(readPrefTestTopology, readPrefTestTopology.Servers)

	require.NoError(t, err)
	requireServers(t, []description.Server{readPrefTestPrimary}, result)
}

func TestReadPref_nearest(t *testing.T) {
	t.Parallel()

	s := &ReadPref{ReadPref: readpref.Nearest()}
	result, err := s.SelectServer(readPrefTestTopology, readPrefTestTopology.Servers)

	require.NoError(t, err)
	requireServers(t,
		[]description.Server{readPrefTestPrimary, readPrefTestSecondary1, readPrefTestSecondary2},
		result)
}

func TestReadPref_max_staleness_below_floor(t *testing.T) {
	t.Parallel()

	// the floor is twice the heartbeat interval
	s := &ReadPref{ReadPref: readpref.Secondary(readpref.WithMaxStaleness(15 * time.Second))}
	_, err := s.SelectServer(readPrefTestTopology, readPrefTestTopology.Servers)

	require.Error(t, err)
}

func TestReadPref_max_staleness_excludes_stale_secondary(t *testing.T) {
	t.Parallel()

	stale := readPrefTestSecondary2
	stale.LastWriteTime = time.Date(2017, 2, 11, 13, 58, 0, 0, time.UTC)

	topo := description.Topology{
		Kind:    description.ReplicaSetWithPrimary,
		Servers: []description.Server{readPrefTestPrimary, readPrefTestSecondary1, stale},
	}

	s := &ReadPref{ReadPref: readpref.Secondary(readpref.WithMaxStaleness(90 * time.Second))}
	result, err := s.SelectServer(topo, topo.Servers)

	require.NoError(t, err)
	requireServers(t, []description.Server{readPrefTestSecondary1}, result)
}

func TestReadPref_sharded(t *testing.T) {
	t.Parallel()

	s := &ReadPref{ReadPref: readpref.Secondary()}
	mongos := description.Server{Addr: "localhost:27017", Kind: description.Mongos}
	topo := description.Topology{Kind: description.Sharded, Servers: []description.Server{mongos}}

	result, err := s.SelectServer(topo, topo.Servers)

	require.NoError(t, err)
	requireServers(t, []description.Server{mongos}, result)
}

func TestWrite_replica_set(t *testing.T) {
	t.Parallel()

	s := &Write{}
	result, err := s.SelectServer(readPrefTestTopology, readPrefTestTopology.Servers)

	require.NoError(t, err)
	requireServers(t, []description.Server{readPrefTestPrimary}, result)
}

func latencyServer(addr string, rtt time.Duration) description.Server {
	return description.Server{
		Addr:          address.Address(addr),
		AverageRTT:    rtt,
		AverageRTTSet: true,
		Kind:          description.RSSecondary,
	}
}

func TestLatency_keeps_servers_within_window(t *testing.T) {
	t.Parallel()

	near := latencyServer("localhost:27017", 100*time.Millisecond)
	alsoNear := latencyServer("localhost:27018", 113*time.Millisecond)

	s := &Latency{Latency: 15 * time.Millisecond}
	result, err := s.SelectServer(description.Topology{}, []description.Server{near, alsoNear})

	require.NoError(t, err)
	requireServers(t, []description.Server{near, alsoNear}, result)
}

func TestLatency_excludes_servers_outside_window(t *testing.T) {
	t.Parallel()

	near := latencyServer("localhost:27017", 100*time.Millisecond)
	far := latencyServer("localhost:27018", 130*time.Millisecond)

	s := &Latency{Latency: 15 * time.Millisecond}
	result, err := s.SelectServer(description.Topology{}, []description.Server{near, far})

	require.NoError(t, err)
	requireServers(t, []description.Server{near}, result)
}

func TestLatency_no_rtt_data(t *testing.T) {
	t.Parallel()

	a := description.Server{Addr: "localhost:27017"}
	b := description.Server{Addr: "localhost:27018"}

	s := &Latency{Latency: 15 * time.Millisecond}
	result, err := s.SelectServer(description.Topology{}, []description.Server{a, b})

	require.NoError(t, err)
	requireServers(t, []description.Server{a, b}, result)
}

func TestComposite(t *testing.T) {
	t.Parallel()

	s := &Composite{
		Selectors: []description.ServerSelector{
			&ReadPref{ReadPref: readpref.Nearest()},
			&Latency{Latency: 15 * time.Millisecond},
		},
	}

	servers := []description.Server{
		readPrefTestPrimary.SetAverageRTT(5 * time.Millisecond),
		readPrefTestSecondary1.SetAverageRTT(50 * time.Millisecond),
	}
	topo := description.Topology{Kind: description.ReplicaSetWithPrimary, Servers: servers}

	result, err := s.SelectServer(topo, servers)

	require.NoError(t, err)
	requireServers(t, []description.Server{servers[0]}, result)
}
