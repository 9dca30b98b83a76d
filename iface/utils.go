// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package iface collects the small generic interfaces shared across the
// module's ambient infrastructure, so that concrete implementations (such
// as a mockable clock) can be swapped in tests without dragging their
// package into the dependency graph of the callers.
package iface

import "time"

// MockableTimer lets a caller observe and, in tests, control the passage of
// time without sleeping. ordercache uses it to stamp per-roster last-release
// times for its metrics.
type MockableTimer interface {
	Time() time.Time
	Set(time time.Time)
	Advance(duration time.Duration)
}
