// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package topology maintains a live view of the deployment and routes
// operations to suitable servers. Each known server is checked on a
// heartbeat interval; the resulting descriptions feed a state machine that
// decides the deployment kind and which servers belong to it.
package topology

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ikmak/mongo-driver-core/address"
	"github.com/ikmak/mongo-driver-core/description"
	"github.com/ikmak/mongo-driver-core/driver"
	"github.com/ikmak/mongo-driver-core/internal/logger"
	"github.com/ikmak/mongo-driver-core/internal/randutil"
	"github.com/ikmak/mongo-driver-core/selector"
	"github.com/pkg/errors"
)

// Topology monitors a deployment and selects servers for operations. It
// implements driver.Deployment.
type Topology struct {
	cfg *config

	fsm     *fsm
	changes chan description.Server

	desc     description.Topology
	descLock sync.Mutex

	serversLock   sync.Mutex
	serversClosed bool
	servers       map[address.Address]*Server
	forwarders    sync.WaitGroup

	subscribers         map[int64]chan description.Topology
	lastSubscriberID    int64
	subscriptionsClosed bool
	subscriberLock      sync.Mutex

	waiters      map[int64]chan struct{}
	lastWaiterID int64
	waiterLock   sync.Mutex

	rand    *randutil.LockedRand
	closing sync.Once
}

// Connect creates a Topology and starts monitoring every seed.
func Connect(opts ...Option) (*Topology, error) {
	cfg := newConfig(opts...)
	if len(cfg.seedList) == 0 {
		return nil, errors.New("cannot connect topology without seeds")
	}

	t := &Topology{
		cfg:         cfg,
		fsm:         newFSM(),
		changes:     make(chan description.Server),
		servers:     make(map[address.Address]*Server),
		subscribers: make(map[int64]chan description.Topology),
		waiters:     make(map[int64]chan struct{}),
		rand:        randutil.NewLockedRand(),
	}

	if cfg.replicaSetName != "" {
		t.fsm.setName = cfg.replicaSetName
		t.fsm.Kind = description.ReplicaSetNoPrimary
	}
	if cfg.mode == SingleMode {
		t.fsm.Kind = description.Single
		cfg.seedList = cfg.seedList[:1]
	}

	for _, addr := range cfg.seedList {
		canonicalized := addr.Canonicalize()
		t.fsm.addServer(canonicalized)
	}
	t.desc = t.fsm.Topology

	t.serversLock.Lock()
	for _, addr := range cfg.seedList {
		t.startMonitoring(addr.Canonicalize())
	}
	t.serversLock.Unlock()

	go t.run()

	return t, nil
}

// run applies every server description change to the state machine and fans
// the resulting topology description out to subscribers and selection
// waiters.
func (t *Topology) run() {
	for change := range t.changes {
		desc := t.apply(change)

		t.descLock.Lock()
		t.desc = desc
		t.descLock.Unlock()

		t.subscriberLock.Lock()
		for _, ch := range t.subscribers {
			select {
			case <-ch:
			default:
			}
			ch <- desc
		}
		t.subscriberLock.Unlock()

		t.waiterLock.Lock()
		for _, waiter := range t.waiters {
			select {
			case waiter <- struct{}{}:
			default:
			}
		}
		t.waiterLock.Unlock()
	}

	t.subscriberLock.Lock()
	for id, ch := range t.subscribers {
		close(ch)
		delete(t.subscribers, id)
	}
	t.subscriptionsClosed = true
	t.subscriberLock.Unlock()

	t.waiterLock.Lock()
	for id, ch := range t.waiters {
		close(ch)
		delete(t.waiters, id)
	}
	t.waiterLock.Unlock()
}

// apply feeds one server description into the state machine and
// reconciles the set of monitored servers with the result.
func (t *Topology) apply(s description.Server) description.Topology {
	old := t.fsm.Topology
	updated := t.fsm.apply(s)

	diff := description.DiffTopology(old, updated)

	t.serversLock.Lock()
	defer t.serversLock.Unlock()
	if t.serversClosed {
		return updated
	}
	for _, removed := range diff.Removed {
		if server, ok := t.servers[removed.Addr]; ok {
			t.stopMonitoring(removed.Addr, server)
		}
	}
	for _, added := range diff.Added {
		if _, ok := t.servers[added.Addr]; !ok {
			t.startMonitoring(added.Addr)
		}
	}
	return updated
}

// startMonitoring must be called with serversLock held.
func (t *Topology) startMonitoring(addr address.Address) {
	if _, ok := t.servers[addr]; ok {
		return
	}

	server := connectServer(addr, t.cfg)
	t.servers[addr] = server

	ch, _, _ := server.Subscribe()
	t.forwarders.Add(1)
	go func() {
		defer t.forwarders.Done()
		for desc := range ch {
			t.changes <- desc
		}
	}()

	t.cfg.log.Debugf(logger.ComponentTopology, "started monitoring %s", addr)
}

// stopMonitoring must be called with serversLock held.
func (t *Topology) stopMonitoring(addr address.Address, server *Server) {
	server.Disconnect()
	delete(t.servers, addr)
	t.cfg.log.Debugf(logger.ComponentTopology, "stopped monitoring %s", addr)
}

// Description implements driver.Deployment.
func (t *Topology) Description() description.Topology {
	t.descLock.Lock()
	defer t.descLock.Unlock()
	return t.desc
}

// Subscribe returns a buffered channel carrying every future description of
// the topology, pre-populated with the current one, plus an unsubscribe
// function.
func (t *Topology) Subscribe() (<-chan description.Topology, func(), error) {
	ch := make(chan description.Topology, 1)
	ch <- t.Description()

	t.subscriberLock.Lock()
	if t.subscriptionsClosed {
		t.subscriberLock.Unlock()
		close(ch)
		return nil, nil, errors.New("cannot subscribe to a closed topology")
	}
	t.lastSubscriberID++
	id := t.lastSubscriberID
	t.subscribers[id] = ch
	t.subscriberLock.Unlock()

	unsubscribe := func() {
		t.subscriberLock.Lock()
		if !t.subscriptionsClosed {
			close(ch)
			delete(t.subscribers, id)
		}
		t.subscriberLock.Unlock()
	}

	return ch, unsubscribe, nil
}

// RequestImmediateCheck asks every server monitor to check its server now.
func (t *Topology) RequestImmediateCheck() {
	t.serversLock.Lock()
	for _, server := range t.servers {
		server.RequestImmediateCheck()
	}
	t.serversLock.Unlock()
}

// SelectServer blocks until a server matching the selector is available or
// the selection timeout elapses. When several servers qualify, one is chosen
// pseudo-randomly. It implements driver.Deployment.
func (t *Topology) SelectServer(ctx context.Context, ss description.ServerSelector) (driver.Server, error) {
	// The configured latency window narrows whatever the caller asked for, so
	// a nearest read still lands within localThresholdMS of the fastest
	// eligible server.
	ss = &selector.Composite{Selectors: []description.ServerSelector{
		ss,
		&selector.Latency{Latency: t.cfg.localThreshold},
	}}

	timer := time.NewTimer(t.cfg.serverSelectionTimeout)
	updated, waiterID := t.awaitUpdates()
	for {
		desc := t.Description()

		suitable, err := ss.SelectServer(desc, desc.Servers)
		if err != nil {
			timer.Stop()
			t.removeWaiter(waiterID)
			return nil, driver.ServerSelectionError{Desc: desc, Wrapped: err}
		}

		if len(suitable) > 0 {
			selected := suitable[t.rand.Intn(len(suitable))]
			t.serversLock.Lock()
			server, ok := t.servers[selected.Addr]
			t.serversLock.Unlock()
			// A miss means the server was removed between the snapshot
			// and now; wait for the next update.
			if ok {
				timer.Stop()
				t.removeWaiter(waiterID)
				return server, nil
			}
		}

		t.RequestImmediateCheck()

		select {
		case <-ctx.Done():
			timer.Stop()
			t.removeWaiter(waiterID)
			return nil, driver.ServerSelectionError{Desc: desc, Wrapped: ctx.Err()}
		case <-updated:
		case <-timer.C:
			t.removeWaiter(waiterID)
			return nil, driver.ServerSelectionError{
				Desc:    desc,
				Wrapped: errors.New("server selection timed out"),
			}
		}
	}
}

// awaitUpdates registers a waiter channel signaled on every topology change.
func (t *Topology) awaitUpdates() (<-chan struct{}, int64) {
	id := atomic.AddInt64(&t.lastWaiterID, 1)
	ch := make(chan struct{}, 1)
	t.waiterLock.Lock()
	t.waiters[id] = ch
	t.waiterLock.Unlock()
	return ch, id
}

func (t *Topology) removeWaiter(id int64) {
	t.waiterLock.Lock()
	delete(t.waiters, id)
	t.waiterLock.Unlock()
}

// Disconnect stops all server monitors and shuts the topology down.
func (t *Topology) Disconnect() {
	t.closing.Do(func() {
		t.serversLock.Lock()
		t.serversClosed = true
		for addr, server := range t.servers {
			t.stopMonitoring(addr, server)
		}
		t.serversLock.Unlock()

		// Each monitor closes its subscription channel on shutdown, which
		// lets its forwarding goroutine drain and exit. Only then is the
		// changes channel safe to close.
		t.forwarders.Wait()
		close(t.changes)
	})
}
