// Copyright (C) MongoDB, Inc. 2018-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package auth

import (
	"encoding/base64"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// cacheKey identifies one derived credential. The password enters the key
// only as its digest, never in plaintext, and the salt and iteration count
// pin the entry to one server-issued challenge.
type cacheKey struct {
	digest     string
	salt       string
	iterations int
	mechanism  string
}

// CacheEntry holds the expensive KDF outputs for one credential.
type CacheEntry struct {
	SaltedPassword []byte
	ClientKey      []byte
	ServerKey      []byte
}

// Cache stores derived SCRAM credentials so repeated authentication against
// the same server does not redo the PBKDF2 work. Reads are frequent, writes
// happen only on first use of a credential.
type Cache struct {
	mu      sync.Mutex
	entries map[cacheKey]*CacheEntry
	group   singleflight.Group
}

// NewCache creates an empty credential cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[cacheKey]*CacheEntry)}
}

// DefaultCache is the process-wide credential cache used when an
// authenticator is not given its own.
var DefaultCache = NewCache()

// Derive returns the cached entry for the given credential, computing it with
// derive on first use. Concurrent callers for the same key share a single
// derivation.
func (c *Cache) Derive(digest string, salt []byte, iterations int, mechanism string, derive func() (*CacheEntry, error)) (*CacheEntry, error) {
	key := cacheKey{
		digest:     digest,
		salt:       base64.StdEncoding.EncodeToString(salt),
		iterations: iterations,
		mechanism:  mechanism,
	}

	c.mu.Lock()
	entry, ok := c.entries[key]
	c.mu.Unlock()
	if ok {
		return entry, nil
	}

	flightKey := fmt.Sprintf("%s\x00%s\x00%d\x00%s", key.digest, key.salt, key.iterations, key.mechanism)
	v, err, _ := c.group.Do(flightKey, func() (interface{}, error) {
		c.mu.Lock()
		entry, ok := c.entries[key]
		c.mu.Unlock()
		if ok {
			return entry, nil
		}

		entry, err := derive()
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.entries[key] = entry
		c.mu.Unlock()
		return entry, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*CacheEntry), nil
}

// Clear drops every cached credential. Call it on logout or when a
// credential changes.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[cacheKey]*CacheEntry)
	c.mu.Unlock()
}

// Len returns the number of cached credentials.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
