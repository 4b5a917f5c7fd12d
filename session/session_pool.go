// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package session

import (
	"sync"

	"github.com/ikmak/mongo-driver-core/description"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// Node represents a server session in a linked list.
type Node struct {
	*Server
	next *Node
	prev *Node
}

// Pool is a pool of server sessions that can be reused. Sessions are checked
// out from the head and returned to the head, so the least recently used
// sessions accumulate at the tail and expire there.
type Pool struct {
	descChan <-chan description.Topology
	head     *Node
	tail     *Node
	timeout    uint32
	mutex      sync.Mutex // mutex to protect list and sessionTimeout
	checkedOut int
}

// NewPool creates a new server session pool. The pool reads topology
// descriptions from descChan to keep the logical session timeout current.
func NewPool(descChan <-chan description.Topology) *Pool {
	return &Pool{
		descChan: descChan,
	}
}

// assumes caller has mutex to protect the pool
func (p *Pool) updateTimeout() {
	select {
	case newDesc := <-p.descChan:
		p.timeout = newDesc.SessionTimeoutMinutes
	default:
		// no new description waiting
	}
}

// GetSession retrieves an unexpired session from the pool.
func (p *Pool) GetSession() (*Server, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.updateTimeout()
	for p.head != nil {
		// pull session from head of queue and return if it is valid for at least 1 more minute
		if p.head.expired(p.timeout) {
			p.head = p.head.next
			continue
		}

		// found unexpired session
		session := p.head.Server
		if p.head.next != nil {
			p.head.next.prev = nil
		}
		if p.tail == p.head {
			p.tail = nil
		}
		p.head = p.head.next

		p.checkedOut++
		return session, nil
	}

	// no valid session found
	p.checkedOut++
	return newServerSession()
}

// ReturnSession returns a session to the pool if it has not expired.
func (p *Pool) ReturnSession(ss *Server) {
	if ss == nil {
		return
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.checkedOut--
	p.updateTimeout()

	// check sessions at end of queue for expired
	// stop checking after hitting the first valid session
	for p.tail != nil && p.tail.expired(p.timeout) {
		if p.tail.prev != nil {
			p.tail.prev.next = nil
		}
		p.tail = p.tail.prev
	}

	// discard dirty or expired sessions rather than reusing them
	if ss.Dirty || ss.expired(p.timeout) {
		return
	}

	newNode := &Node{
		Server: ss,
		next:   nil,
		prev:   nil,
	}

	// set new node as head of queue
	if p.head == nil {
		p.head = newNode
		p.tail = newNode
		return
	}
	newNode.next = p.head
	p.head.prev = newNode
	p.head = newNode
}

// IDSlice returns a slice of session IDs for each session in the pool.
func (p *Pool) IDSlice() []bsoncore.Document {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	var ids []bsoncore.Document
	for node := p.head; node != nil; node = node.next {
		ids = append(ids, node.SessionID)
	}

	return ids
}

// CheckedOut returns the number of sessions currently checked out of the
// pool.
func (p *Pool) CheckedOut() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.checkedOut
}

// String implements the Stringer interface.
func (p *Pool) String() string {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	str := ""
	for node := p.head; node != nil; node = node.next {
		str += node.SessionID.String() + "\n"
	}

	return str
}
