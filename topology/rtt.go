// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"math"
	"sync"
	"time"

	"github.com/montanaflynn/stats"
)

const (
	rttAlphaValue = 0.2
	minRTTSamples = 10
	maxRTTSamples = 500
)

// rttMonitor keeps a sliding window of heartbeat round trip times for one
// server. Samples are fed by the server monitor; consumers read the minimum,
// the 90th percentile, and an exponentially weighted moving average.
type rttMonitor struct {
	mu            sync.RWMutex
	samples       []time.Duration
	offset        int
	minRTT        time.Duration
	rtt90         time.Duration
	averageRTT    time.Duration
	averageRTTSet bool
}

// newRTTMonitor sizes the sample window so that it covers the given window
// duration at the given sampling interval, clamped to [10, 500] samples.
func newRTTMonitor(window, interval time.Duration) *rttMonitor {
	if interval <= 0 {
		interval = time.Second
	}
	numSamples := int(math.Max(minRTTSamples, math.Min(maxRTTSamples, float64(window/interval))))

	return &rttMonitor{
		samples: make([]time.Duration, numSamples),
	}
}

func (r *rttMonitor) addSample(rtt time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.samples[r.offset] = rtt
	r.offset = (r.offset + 1) % len(r.samples)
	// Require a minimum number of samples before publishing a min or
	// percentile so that noisy samples on startup do not skew selection
	// and deadline budgeting.
	r.minRTT = minSample(r.samples, minRTTSamples)
	r.rtt90 = percentileSample(90.0, r.samples, minRTTSamples)

	if !r.averageRTTSet {
		r.averageRTT = rtt
		r.averageRTTSet = true
		return
	}

	r.averageRTT = time.Duration(rttAlphaValue*float64(rtt) + (1-rttAlphaValue)*float64(r.averageRTT))
}

// reset clears the window. It is called by the server monitor when a check
// fails; errors must not leave stale RTTs behind.
func (r *rttMonitor) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.samples {
		r.samples[i] = 0
	}
	r.offset = 0
	r.minRTT = 0
	r.rtt90 = 0
	r.averageRTT = 0
	r.averageRTTSet = false
}

func (r *rttMonitor) getRTT() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.averageRTT
}

func (r *rttMonitor) getMinRTT() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.minRTT
}

func (r *rttMonitor) getRTT90() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.rtt90
}

// minSample returns the minimum of the non-zero samples, or 0 when fewer than
// minCount samples have been collected.
func minSample(samples []time.Duration, minCount int) time.Duration {
	count := 0
	min := time.Duration(math.MaxInt64)
	for _, d := range samples {
		if d > 0 {
			count++
			if d < min {
				min = d
			}
		}
	}
	if count < minCount {
		return 0
	}
	return min
}

// percentileSample returns the requested percentile of the non-zero samples,
// or 0 when fewer than minCount samples have been collected.
func percentileSample(perc float64, samples []time.Duration, minCount int) time.Duration {
	floatSamples := make([]float64, 0, len(samples))
	for _, sample := range samples {
		if sample > 0 {
			floatSamples = append(floatSamples, float64(sample))
		}
	}
	if len(floatSamples) < minCount {
		return 0
	}

	p, err := stats.Percentile(floatSamples, perc)
	if err != nil {
		return 0
	}
	return time.Duration(p)
}
