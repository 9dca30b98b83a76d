// (c) 2019-2020, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package utils

import (
	"sync"
	"time"

	"github.com/luxfi/ordercache/iface"
)

// MockableClock implements iface.MockableTimer. Production callers never set
// or advance it, so Time falls back to time.Now; tests pin it to make
// last-release metrics deterministic.
type MockableClock struct {
	mu   sync.RWMutex
	time time.Time
}

// NewMockableClock creates a new mockable clock, initially tracking wall time.
func NewMockableClock() iface.MockableTimer {
	return &MockableClock{}
}

// Time returns the current time.
func (c *MockableClock) Time() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.time.IsZero() {
		return time.Now()
	}
	return c.time
}

// Set pins the clock to t.
func (c *MockableClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.time = t
}

// Advance moves the pinned clock forward by d.
func (c *MockableClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.time.IsZero() {
		c.time = time.Now()
	}
	c.time = c.time.Add(d)
}
