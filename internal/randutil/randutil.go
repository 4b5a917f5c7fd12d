// Copyright (C) MongoDB, Inc. 2022-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package randutil provides common random number utilities.
package randutil

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"math/rand"
	"sync"
)

// A LockedRand wraps a "math/rand".Rand and is safe to use from multiple
// goroutines.
type LockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewLockedRand returns a new LockedRand seeded with a cryptographically
// random value. It is safe to use from multiple goroutines.
func NewLockedRand() *LockedRand {
	// Ignore gosec warning "Use of weak random number generator". We
	// intentionally use a pseudo-random number generator seeded with a
	// cryptographically random value.
	/* #nosec G404 */
	return &LockedRand{
		r: rand.New(rand.NewSource(cryptoSeed())),
	}
}

// Intn returns, as an int, a non-negative pseudo-random number in the
// half-open interval [0,n). It panics if n <= 0.
func (lr *LockedRand) Intn(n int) int {
	lr.mu.Lock()
	x := lr.r.Intn(n)
	lr.mu.Unlock()
	return x
}

// Read generates len(p) random bytes and writes them into p. It always
// returns len(p) and a nil error.
func (lr *LockedRand) Read(p []byte) (int, error) {
	lr.mu.Lock()
	n, err := lr.r.Read(p)
	lr.mu.Unlock()
	return n, err
}

// cryptoSeed returns a random int64 read from the "crypto/rand" random number
// generator. It panics if it is unable to read from the generator.
func cryptoSeed() int64 {
	var b [8]byte
	if _, err := io.ReadFull(crand.Reader, b[:]); err != nil {
		panic(fmt.Errorf("failed to read 8 bytes from a \"crypto/rand\".Reader: %v", err))
	}
	return int64(binary.LittleEndian.Uint64(b[:]))
}
