// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"context"
	"testing"
	"time"

	"github.com/ikmak/mongo-driver-core/address"
	"github.com/ikmak/mongo-driver-core/description"
	"github.com/ikmak/mongo-driver-core/driver"
	"github.com/ikmak/mongo-driver-core/internal/randutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(addr address.Address) *Server {
	return &Server{
		cfg:         newConfig(),
		addr:        addr,
		desc:        description.NewDefaultServer(addr),
		subscribers: make(map[int64]chan description.Server),
		rtt:         newRTTMonitor(5*time.Minute, 10*time.Second),
		checkNow:    make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
}

// newTestTopology builds a topology around a fixed description without
// starting any monitors.
func newTestTopology(desc description.Topology, opts ...Option) *Topology {
	cfg := newConfig(opts...)
	tp := &Topology{
		cfg:         cfg,
		fsm:         newFSM(),
		changes:     make(chan description.Server),
		servers:     make(map[address.Address]*Server),
		subscribers: make(map[int64]chan description.Topology),
		waiters:     make(map[int64]chan struct{}),
		rand:        randutil.NewLockedRand(),
		desc:        desc,
	}
	for _, s := range desc.Servers {
		tp.fsm.addServer(s.Addr)
		tp.servers[s.Addr] = newTestServer(s.Addr)
	}
	tp.fsm.Kind = desc.Kind
	return tp
}

func selectPrimary() description.ServerSelectorFunc {
	return func(_ description.Topology, candidates []description.Server) ([]description.Server, error) {
		var suitable []description.Server
		for _, c := range candidates {
			if c.Kind == description.RSPrimary {
				suitable = append(suitable, c)
			}
		}
		return suitable, nil
	}
}

func TestSelectServerReturnsSuitable(t *testing.T) {
	desc := description.Topology{
		Kind: description.ReplicaSetWithPrimary,
		Servers: []description.Server{
			{Addr: addrA, Kind: description.RSPrimary},
			{Addr: addrB, Kind: description.RSSecondary},
		},
	}
	tp := newTestTopology(desc)

	selected, err := tp.SelectServer(context.Background(), selectPrimary())
	require.NoError(t, err)

	server, ok := selected.(*Server)
	require.True(t, ok)
	assert.Equal(t, addrA, server.Address())
}

func TestSelectServerPicksAmongSuitable(t *testing.T) {
	desc := description.Topology{
		Kind: description.Sharded,
		Servers: []description.Server{
			{Addr: addrA, Kind: description.Mongos},
			{Addr: addrB, Kind: description.Mongos},
		},
	}
	tp := newTestTopology(desc)

	seen := map[address.Address]bool{}
	for i := 0; i < 50; i++ {
		selected, err := tp.SelectServer(context.Background(), description.ServerSelectorFunc(
			func(_ description.Topology, candidates []description.Server) ([]description.Server, error) {
				return candidates, nil
			}))
		require.NoError(t, err)
		seen[selected.(*Server).Address()] = true
	}

	assert.True(t, seen[addrA], "expected a:27017 to be selected at least once")
	assert.True(t, seen[addrB], "expected b:27017 to be selected at least once")
}

func TestSelectServerAppliesLatencyWindow(t *testing.T) {
	desc := description.Topology{
		Kind: description.Sharded,
		Servers: []description.Server{
			{Addr: addrA, Kind: description.Mongos, AverageRTT: 1 * time.Millisecond, AverageRTTSet: true},
			{Addr: addrB, Kind: description.Mongos, AverageRTT: 60 * time.Millisecond, AverageRTTSet: true},
		},
	}
	tp := newTestTopology(desc, WithLocalThreshold(15*time.Millisecond))

	for i := 0; i < 25; i++ {
		selected, err := tp.SelectServer(context.Background(), description.ServerSelectorFunc(
			func(_ description.Topology, candidates []description.Server) ([]description.Server, error) {
				return candidates, nil
			}))
		require.NoError(t, err)
		assert.Equal(t, addrA, selected.(*Server).Address(),
			"a server 60ms slower than the fastest is outside the 15ms window")
	}
}

func TestTopologyDisconnectWaitsForInFlightUpdates(t *testing.T) {
	desc := description.Topology{
		Kind:    description.ReplicaSetNoPrimary,
		Servers: []description.Server{{Addr: addrA, Kind: description.Unknown}},
	}
	tp := newTestTopology(desc)
	go tp.run()

	srv := tp.servers[addrA]
	ch, _, err := srv.Subscribe()
	require.NoError(t, err)
	tp.forwarders.Add(1)
	go func() {
		defer tp.forwarders.Done()
		for d := range ch {
			tp.changes <- d
		}
	}()

	sub, _, err := tp.Subscribe()
	require.NoError(t, err)

	// Keep server updates flowing while the topology shuts down, then close
	// the subscription the way a stopping monitor would.
	go func() {
		for i := 0; i < 50; i++ {
			srv.markUnknown(errTestHeartbeat)
		}
		srv.subscriberLock.Lock()
		for id, c := range srv.subscribers {
			close(c)
			delete(srv.subscribers, id)
		}
		srv.subscriptionsClosed = true
		srv.subscriberLock.Unlock()
	}()

	tp.Disconnect()

	// run exits cleanly and closes every topology subscription.
	for range sub {
	}
}

func TestSelectServerTimesOut(t *testing.T) {
	desc := description.Topology{
		Kind:    description.ReplicaSetNoPrimary,
		Servers: []description.Server{{Addr: addrA, Kind: description.Unknown}},
	}
	tp := newTestTopology(desc, WithServerSelectionTimeout(20*time.Millisecond))

	_, err := tp.SelectServer(context.Background(), selectPrimary())

	var selErr driver.ServerSelectionError
	require.ErrorAs(t, err, &selErr)
	assert.Contains(t, selErr.Error(), "server selection timed out")
}

func TestSelectServerContextCancelled(t *testing.T) {
	tp := newTestTopology(description.Topology{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tp.SelectServer(ctx, selectPrimary())

	var selErr driver.ServerSelectionError
	require.ErrorAs(t, err, &selErr)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSelectServerSelectorError(t *testing.T) {
	tp := newTestTopology(description.Topology{})

	_, err := tp.SelectServer(context.Background(), description.ServerSelectorFunc(
		func(description.Topology, []description.Server) ([]description.Server, error) {
			return nil, errTestHeartbeat
		}))

	var selErr driver.ServerSelectionError
	require.ErrorAs(t, err, &selErr)
	assert.ErrorIs(t, err, errTestHeartbeat)
}

func TestSelectServerWaitsForUpdate(t *testing.T) {
	desc := description.Topology{
		Servers: []description.Server{description.NewDefaultServer(addrA)},
	}
	tp := newTestTopology(desc)
	go tp.run()
	defer tp.Disconnect()

	go func() {
		time.Sleep(20 * time.Millisecond)
		tp.changes <- primaryDesc(addrA, addrA)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	selected, err := tp.SelectServer(ctx, selectPrimary())
	require.NoError(t, err)
	assert.Equal(t, addrA, selected.(*Server).Address())
}

func TestTopologySubscribe(t *testing.T) {
	desc := description.Topology{
		Servers: []description.Server{description.NewDefaultServer(addrA)},
	}
	tp := newTestTopology(desc)
	go tp.run()
	defer tp.Disconnect()

	ch, unsubscribe, err := tp.Subscribe()
	require.NoError(t, err)
	defer unsubscribe()

	current := <-ch
	assert.Len(t, current.Servers, 1)

	tp.changes <- primaryDesc(addrA, addrA)

	select {
	case updated := <-ch:
		assert.Equal(t, description.ReplicaSetWithPrimary, updated.Kind)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for topology update")
	}
}

func TestServerProcessError(t *testing.T) {
	t.Run("not primary clears the description", func(t *testing.T) {
		s := newTestServer(addrA)
		s.desc = description.Server{Addr: addrA, Kind: description.RSPrimary}

		s.ProcessError(driver.Error{Code: 10107, Message: "not primary"}, nil)

		desc := s.Description()
		assert.Equal(t, description.Unknown, desc.Kind)
		assert.Error(t, desc.LastError)
	})

	t.Run("node is recovering clears the description", func(t *testing.T) {
		s := newTestServer(addrA)
		s.desc = description.Server{Addr: addrA, Kind: description.RSSecondary}

		s.ProcessError(driver.Error{Code: 11600}, nil)

		assert.Equal(t, description.Unknown, s.Description().Kind)
	})

	t.Run("network error clears the description", func(t *testing.T) {
		s := newTestServer(addrA)
		s.desc = description.Server{Addr: addrA, Kind: description.RSPrimary}

		s.ProcessError(driver.ConnectionError{Addr: addrA, Wrapped: errTestHeartbeat}, nil)

		assert.Equal(t, description.Unknown, s.Description().Kind)
	})

	t.Run("socket timeout leaves the description alone", func(t *testing.T) {
		s := newTestServer(addrA)
		s.desc = description.Server{Addr: addrA, Kind: description.RSPrimary}

		s.ProcessError(driver.ConnectionError{Addr: addrA, Timeout: true}, nil)

		assert.Equal(t, description.RSPrimary, s.Description().Kind)
	})

	t.Run("ordinary command error leaves the description alone", func(t *testing.T) {
		s := newTestServer(addrA)
		s.desc = description.Server{Addr: addrA, Kind: description.RSPrimary}

		s.ProcessError(driver.Error{Code: 11000, Message: "duplicate key"}, nil)

		assert.Equal(t, description.RSPrimary, s.Description().Kind)
	})
}

func TestServerSubscribe(t *testing.T) {
	s := newTestServer(addrA)

	ch, unsubscribe, err := s.Subscribe()
	require.NoError(t, err)
	defer unsubscribe()

	current := <-ch
	assert.Equal(t, description.Unknown, current.Kind)

	s.markUnknown(errTestHeartbeat)

	select {
	case updated := <-ch:
		assert.Error(t, updated.LastError)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for server update")
	}
}
