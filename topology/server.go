// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"context"
	"sync"
	"time"

	"github.com/ikmak/mongo-driver-core/address"
	"github.com/ikmak/mongo-driver-core/description"
	"github.com/ikmak/mongo-driver-core/driver"
	"github.com/ikmak/mongo-driver-core/internal/logger"
	"github.com/ikmak/mongo-driver-core/operation"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

// minHeartbeatFreq is the shortest interval between two checks of the same
// server, regardless of immediate-check requests.
const minHeartbeatFreq = 500 * time.Millisecond

// Server monitors a single server and hands out connections to it. It
// implements driver.Server and driver.ErrorProcessor.
type Server struct {
	cfg  *config
	addr address.Address

	desc     description.Server
	descLock sync.Mutex

	subscribers         map[int64]chan description.Server
	lastSubscriberID    int64
	subscriptionsClosed bool
	subscriberLock      sync.Mutex

	conn     *connection
	rtt      *rttMonitor
	checkNow chan struct{}
	done     chan struct{}
	closing  sync.Once
}

// ConnectServer creates a Server and starts its monitor goroutine.
func ConnectServer(addr address.Address, opts ...Option) *Server {
	cfg := newConfig(opts...)
	return connectServer(addr, cfg)
}

func connectServer(addr address.Address, cfg *config) *Server {
	s := &Server{
		cfg:         cfg,
		addr:        addr.Canonicalize(),
		desc:        description.NewDefaultServer(addr.Canonicalize()),
		subscribers: make(map[int64]chan description.Server),
		rtt:         newRTTMonitor(5*time.Minute, cfg.heartbeatInterval),
		checkNow:    make(chan struct{}, 1),
		done:        make(chan struct{}),
	}

	go s.monitor()

	return s
}

func (s *Server) monitor() {
	heartbeatTimer := time.NewTimer(0)
	rateLimitTimer := time.NewTimer(0)
	for {
		select {
		case <-heartbeatTimer.C:
			s.updateDescription(heartbeatTimer, rateLimitTimer)

		case <-s.checkNow:
			s.updateDescription(heartbeatTimer, rateLimitTimer)

		case <-s.done:
			heartbeatTimer.Stop()
			rateLimitTimer.Stop()
			if s.conn != nil {
				s.conn.close()
				s.conn = nil
			}
			s.subscriberLock.Lock()
			for id, ch := range s.subscribers {
				close(ch)
				delete(s.subscribers, id)
			}
			s.subscriptionsClosed = true
			s.subscriberLock.Unlock()
			return
		}
	}
}

// updateDescription runs one heartbeat, stores the result, and fans it out
// to subscribers. The rate limit timer keeps checks at least
// minHeartbeatFreq apart.
func (s *Server) updateDescription(heartbeatTimer, rateLimitTimer *time.Timer) {
	<-rateLimitTimer.C

	desc := s.heartbeat()
	s.descLock.Lock()
	s.desc = desc
	s.descLock.Unlock()

	s.subscriberLock.Lock()
	for _, ch := range s.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- desc
	}
	s.subscriberLock.Unlock()

	rateLimitTimer.Stop()
	rateLimitTimer.Reset(minHeartbeatFreq)
	heartbeatTimer.Stop()
	heartbeatTimer.Reset(s.cfg.heartbeatInterval)
}

// heartbeat checks the server over the monitor connection, reconnecting when
// the previous connection broke. A transient failure gets one retry with a
// fresh connection before the server is reported unknown.
func (s *Server) heartbeat() description.Server {
	const maxRetryCount = 2
	var savedErr error
	var desc description.Server
	var ok bool
	ctx := context.Background()

	for i := 1; i <= maxRetryCount; i++ {
		if s.conn == nil {
			conn := newConnection(s.addr, &s.cfg.connection)
			if err := conn.connect(ctx, &s.cfg.connection); err != nil {
				savedErr = err
				s.rtt.reset()
				continue
			}
			s.conn = conn
		}

		start := time.Now()
		described, err := s.describeServer(ctx)
		if err != nil {
			savedErr = err
			s.conn.close()
			s.conn = nil
			s.rtt.reset()
			continue
		}
		delay := time.Since(start)

		s.rtt.addSample(delay)
		described.AverageRTT = s.rtt.getRTT()
		described.AverageRTTSet = true
		described.HeartbeatInterval = s.cfg.heartbeatInterval
		desc, ok = described, true
		break
	}

	if !ok {
		s.cfg.log.Debugf(logger.ComponentTopology, "server %s check failed: %v", s.addr, savedErr)
		desc = description.NewServerFromError(s.addr, savedErr)
	}
	return desc
}

// describeServer sends a hello on the monitor connection and parses the
// response into a server description.
func (s *Server) describeServer(ctx context.Context) (description.Server, error) {
	hello := &operation.Hello{Legacy: true}
	wm, _, err := hello.Spec().EncodeQuery(true)
	if err != nil {
		return description.Server{}, err
	}
	if err := s.conn.WriteWireMessage(ctx, wm); err != nil {
		return description.Server{}, err
	}
	res, err := s.conn.ReadWireMessage(ctx)
	if err != nil {
		return description.Server{}, err
	}
	doc, err := driver.DecodeReply(res)
	if err != nil {
		return description.Server{}, err
	}
	if err := driver.ExtractErrorFromServerResponse(doc); err != nil {
		return description.Server{}, err
	}

	desc := description.NewServer(s.addr, bson.Raw(doc))
	if desc.LastError != nil {
		return description.Server{}, desc.LastError
	}
	return desc, nil
}

// Address returns the address this server monitors.
func (s *Server) Address() address.Address {
	return s.addr
}

// Description returns the most recent description of the server.
func (s *Server) Description() description.Server {
	s.descLock.Lock()
	defer s.descLock.Unlock()
	return s.desc
}

// Subscribe returns a buffered channel carrying every future description of
// the server, pre-populated with the current one, plus an unsubscribe
// function.
func (s *Server) Subscribe() (<-chan description.Server, func(), error) {
	ch := make(chan description.Server, 1)
	ch <- s.Description()

	s.subscriberLock.Lock()
	if s.subscriptionsClosed {
		s.subscriberLock.Unlock()
		close(ch)
		return nil, nil, errors.New("cannot subscribe to a stopped server monitor")
	}
	s.lastSubscriberID++
	id := s.lastSubscriberID
	s.subscribers[id] = ch
	s.subscriberLock.Unlock()

	unsubscribe := func() {
		s.subscriberLock.Lock()
		if !s.subscriptionsClosed {
			close(ch)
			delete(s.subscribers, id)
		}
		s.subscriberLock.Unlock()
	}

	return ch, unsubscribe, nil
}

// RequestImmediateCheck asks the monitor to check the server now instead of
// waiting for the next heartbeat. The minimum heartbeat frequency still
// applies.
func (s *Server) RequestImmediateCheck() {
	select {
	case s.checkNow <- struct{}{}:
	default:
	}
}

// Connection dials a new handshaked connection to the server. It implements
// driver.Server.
func (s *Server) Connection(ctx context.Context) (driver.Connection, error) {
	conn := newConnection(s.addr, &s.cfg.connection)
	if err := conn.connect(ctx, &s.cfg.connection); err != nil {
		s.markUnknown(err)
		return nil, err
	}
	return conn, nil
}

// MinRTT implements driver.Server.
func (s *Server) MinRTT() time.Duration {
	return s.rtt.getMinRTT()
}

// RTT90 returns the 90th percentile of recent round trip times to the
// server.
func (s *Server) RTT90() time.Duration {
	return s.rtt.getRTT90()
}

// ProcessError implements driver.ErrorProcessor. Network failures and state
// change errors clear the server description so selection stops routing to
// it until the next successful check.
func (s *Server) ProcessError(err error, _ driver.Connection) {
	if err == nil {
		return
	}

	var connErr driver.ConnectionError
	if errors.As(err, &connErr) {
		// A socket timeout says nothing about the server's state.
		if connErr.Timeout {
			return
		}
		s.markUnknown(err)
		return
	}

	var cmdErr driver.Error
	if errors.As(err, &cmdErr) && (cmdErr.NodeIsRecovering() || cmdErr.NotPrimary()) {
		s.markUnknown(err)
	}
}

func (s *Server) markUnknown(err error) {
	desc := description.NewServerFromError(s.addr, err)
	s.descLock.Lock()
	s.desc = desc
	s.descLock.Unlock()

	s.subscriberLock.Lock()
	for _, ch := range s.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- desc
	}
	s.subscriberLock.Unlock()

	s.RequestImmediateCheck()
}

// Disconnect stops the monitor and closes its connection.
func (s *Server) Disconnect() {
	s.closing.Do(func() {
		close(s.done)
	})
}
