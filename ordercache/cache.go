// (c) 2019-2020, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package ordercache caches unordered blockchain-log events and releases
// them to downstream consumers in a per-sender, epoch-aware, contiguous
// (epoch, generation) sequence.
//
// There are two independent reasons a sender's messages can arrive
// out of generation order:
//
//  1. The sender's keychain ratcheted for a message that was never
//     recorded downstream (some later processing step failed), so the
//     generation it used is permanently missing.
//  2. The underlying message queue (blockchain) does not guarantee the
//     sender's publish order is preserved in log order, so a later
//     generation can be observed before an earlier one.
//
// Case 1 is indistinguishable, from the cache's point of view, from case 2
// until a cluster-wide bounded number of trials has elapsed: the cache
// holds the out-of-order message, waits for its missing predecessor, and
// if the predecessor never turns up, skips it — deterministically, the
// same way on every replica, so replicas' key schedules never diverge.
package ordercache

import (
	"fmt"
	"sort"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/ordercache/iface"
	"github.com/luxfi/ordercache/log"
	"github.com/luxfi/ordercache/utils"
)

// ContractAddr identifies the on-chain event source the block watermark is
// tracked per.
type ContractAddr = common.Address

// MaxTrialsNum is the cluster-wide default number of observations a roster
// member's gap may survive before the skip policy kicks in. It must be a
// single source of truth: every replica in the cluster must be configured
// with the same value, or replicas will disagree on what got skipped.
// Changing it requires cluster-wide consensus; see package config for how a
// deployment threads this value in instead of hardcoding it per call site.
const MaxTrialsNum uint32 = 50

// Cache caches events for arrival guarantee and order guarantee. It is a
// thin, copyable handle: copying a Cache shares the same underlying state
// (the same *inner, behind the same lock), it never deep-copies. This
// mirrors a shared Arc<RwLock<_>> handle — make more handles by copying the
// Cache value, not by constructing a second one with New.
type Cache struct {
	in *inner
}

// inner holds everything a Cache handle shares. A single RWMutex wraps all
// four maps because the invariants span all of them together — e.g. a
// payload only goes into the pool if it is not the next message with
// respect to treekemCounter, and trialsCounter and the pool are drained atomically
// during a skip. Splitting the lock would need a cross-map transaction.
type inner struct {
	mu sync.RWMutex

	blockNumCounter map[ContractAddr]BlockNum
	treekemCounter  map[RosterIdx]genEpoch
	trialsCounter   map[RosterIdx]uint32
	payloadsPool    map[RosterIdx][]Payload

	clock   iface.MockableTimer
	metrics Recorder
}

// New constructs an empty Cache. It lives for the duration of the process;
// there is no eviction, since the working set is bounded by roster size.
func New(opts ...Option) *Cache {
	in := &inner{
		blockNumCounter: make(map[ContractAddr]BlockNum),
		treekemCounter:  make(map[RosterIdx]genEpoch),
		trialsCounter:   make(map[RosterIdx]uint32),
		payloadsPool:    make(map[RosterIdx][]Payload),
		clock:           utils.NewMockableClock(),
		metrics:         NopRecorder,
	}
	for _, opt := range opts {
		opt(in)
	}
	return &Cache{in: in}
}

// Option configures a Cache at construction time.
type Option func(*inner)

// WithClock overrides the cache's time source; tests use this to make
// time-derived metrics deterministic.
func WithClock(clock iface.MockableTimer) Option {
	return func(in *inner) { in.clock = clock }
}

// WithRecorder overrides the cache's metrics sink.
func WithRecorder(rec Recorder) Option {
	return func(in *inner) { in.metrics = rec }
}

// Clone returns a handle sharing the same underlying state as c. It exists
// so callers that pass the cache across goroutine boundaries can do so by
// value without reaching for a pointer, matching the Rust original's
// `#[derive(Clone)]` on the outer handle (never on the inner state).
func (c *Cache) Clone() *Cache {
	return &Cache{in: c.in}
}

// InsertNextBlockNum stores the next block to poll from for contract, and
// returns the previously-stored value, if any. Callers supply block
// monotonically; the cache does not enforce it.
func (c *Cache) InsertNextBlockNum(contract ContractAddr, block BlockNum) (prior BlockNum, hadPrior bool) {
	c.in.mu.Lock()
	defer c.in.mu.Unlock()

	prior, hadPrior = c.in.blockNumCounter[contract]
	c.in.blockNumCounter[contract] = block
	log.Info("Insert: cached block number", "contract", contract, "block", block)
	return prior, hadPrior
}

// GetLatestBlockNum returns the block watermark for contract. ok is false if
// it was never set; callers must treat that as "start from genesis or a
// configured floor".
func (c *Cache) GetLatestBlockNum(contract ContractAddr) (block BlockNum, ok bool) {
	c.in.mu.RLock()
	defer c.in.mu.RUnlock()

	block, ok = c.in.blockNumCounter[contract]
	log.Debug("Get: cached block number", "contract", contract, "block", block, "ok", ok)
	return block, ok
}

// EnsureOrderGuarantee processes payloads (in the order observed in
// immutablePayloads) and returns the possibly-shorter, possibly-reordered
// batch that is safe to release downstream: per roster member, a contiguous
// (epoch, generation) sequence continuing from the last release.
//
// payloads is the mutable working buffer; immutablePayloads is an untouched
// snapshot of the same batch, iterated in arrival order so that splicing
// payloads in place doesn't disturb the scan. maxTrialsNum is the
// cluster-wide constant every replica must agree on (see MaxTrialsNum).
//
// NOTE: when a gap is resolved from the pool — whether filled or skipped —
// this returns immediately, leaving any remaining entries of
// immutablePayloads unprocessed this call. They are addressed on the next
// call. This is deliberate: it is the current cross-replica contract, not
// an optimization, and changing it would desynchronize replicas that
// haven't been updated in lockstep.
func (c *Cache) EnsureOrderGuarantee(payloads, immutablePayloads []Payload, maxTrialsNum uint32) []Payload {
	c.in.mu.Lock()
	defer c.in.mu.Unlock()

	for index, curr := range immutablePayloads {
		c.in.incrementTrialsCounter(curr.RosterIdx)
		c.in.metrics.ObserveTrial(curr.RosterIdx)

		if c.in.isNextMsg(curr) {
			c.in.updateTreekemCounter(curr)
			c.in.metrics.ObserveRelease(curr.RosterIdx, 1)
			c.in.metrics.SetLastReleaseTime(curr.RosterIdx, c.in.clock.Time())
			continue
		}

		log.Warn("received a discontinuous message", "payload", curr)
		c.in.metrics.ObserveDiscontinuity(curr.RosterIdx)

		fromPool := c.in.findNextPayloads(curr, maxTrialsNum)

		// If findNextPayloads just reset the trial count to zero, curr is
		// accepted here and now: either the pool's contiguous run fills the
		// gap, or (when the pool couldn't and the trial budget was
		// exhausted) the run is whatever could be salvaged and the missing
		// generations between it and the last release are abandoned.
		if c.in.trialsCounter[curr.RosterIdx] == 0 {
			c.in.updateTreekemCounter(curr)
			payloads = insertChunksAtIndex(payloads, fromPool, index)
			c.in.metrics.ObserveRelease(curr.RosterIdx, len(fromPool)+1)
			c.in.metrics.SetLastReleaseTime(curr.RosterIdx, c.in.clock.Time())
			c.in.metrics.SetPoolDepth(curr.RosterIdx, len(c.in.payloadsPool[curr.RosterIdx]))
			return payloads
		}

		if len(fromPool) == 0 {
			log.Warn("next payload not found even in the cache; caching current payload", "payload", curr)
			c.in.insertPayloadsPool(curr, &payloads)
		} else {
			if !fromPool[len(fromPool)-1].IsNext(curr) {
				c.in.insertPayloadsPool(curr, &payloads)
			}
			c.in.updateTreekemCounter(curr)
			payloads = insertChunksAtIndex(payloads, fromPool, index)
			c.in.metrics.ObserveRelease(curr.RosterIdx, len(fromPool)+1)
			c.in.metrics.SetLastReleaseTime(curr.RosterIdx, c.in.clock.Time())
		}
		c.in.metrics.SetPoolDepth(curr.RosterIdx, len(c.in.payloadsPool[curr.RosterIdx]))
	}

	return payloads
}

// IncrementMultiTrialsCounter bumps trialsCounter once per distinct
// RosterIdx present in payloads. The poller calls this when a batch was
// observed but not released (e.g. the downstream consumer isn't ready),
// so that liveness — the trial count eventually crossing maxTrialsNum and
// triggering a skip — keeps advancing even while consumers stall.
func (c *Cache) IncrementMultiTrialsCounter(payloads []Payload) {
	c.in.mu.Lock()
	defer c.in.mu.Unlock()

	rosters := mapset.NewThreadUnsafeSet[RosterIdx]()
	for _, p := range payloads {
		rosters.Add(p.RosterIdx)
	}
	for _, roster := range rosters.ToSlice() {
		c.in.trialsCounter[roster]++
		c.in.metrics.ObserveTrial(roster)
	}
}

func (in *inner) incrementTrialsCounter(roster RosterIdx) {
	in.trialsCounter[roster]++
}

func (in *inner) resetTrialsCounter(roster RosterIdx) {
	in.trialsCounter[roster] = 0
}

// isNextMsg reports whether msg is the next expected message for its
// roster member given the last recorded (epoch, generation). Cross-epoch
// arrivals are always accepted: epoch transitions are driven by handshake
// messages whose ordering is the caller's responsibility, and the cache
// never reorders across epochs.
func (in *inner) isNextMsg(msg Payload) bool {
	last := in.treekemCounter[msg.RosterIdx] // zero value (0,0) if unseen
	if msg.Epoch != last.epoch {
		return true
	}
	return msg.Generation == last.generation+1 ||
		msg.Generation == FreshGeneration ||
		msg.Generation == HandshakeGeneration
}

func (in *inner) updateTreekemCounter(msg Payload) {
	in.treekemCounter[msg.RosterIdx] = genEpoch{epoch: msg.Epoch, generation: msg.Generation}
}

// findNextPayloads looks for payloads in the pool that can follow
// priorPayload. If the roster member has never been cached (no pool entry
// exists at all) it returns nil without touching state. Otherwise:
//
//   - if the trial budget for this roster is exhausted, the skip policy
//     fires: drain the maximal contiguous prefix starting at the pool's
//     smallest entry (which may be empty, if the pool itself is empty),
//     reset the trial counter, and return it.
//   - else if the pool's smallest entry is the next expected message,
//     drain the maximal contiguous prefix and reset the trial counter.
//   - else return nil without resetting anything: still waiting.
func (in *inner) findNextPayloads(priorPayload Payload, maxTrialsNum uint32) []Payload {
	roster := priorPayload.RosterIdx

	pool, ok := in.payloadsPool[roster]
	if !ok {
		return nil
	}

	nextIsPending := len(pool) > 0 && in.isNextMsg(pool[0])

	var acc []Payload
	if in.trialsCounter[roster] > maxTrialsNum {
		last := in.treekemCounter[roster]
		acc, pool = setContinuousPayloads(pool)
		skippedTo := priorPayload.Generation
		if len(acc) > 0 {
			skippedTo = acc[0].Generation
		}
		log.Warn("maximum number of trials exceeded; skipped the next event", "payload", priorPayload, "skippedFrom", last.generation, "skippedTo", skippedTo)
		in.metrics.ObserveSkip(roster, last.generation, skippedTo)
		in.resetTrialsCounter(roster)
	} else if nextIsPending {
		acc, pool = setContinuousPayloads(pool)
		in.resetTrialsCounter(roster)
	} else {
		return nil
	}

	in.payloadsPool[roster] = pool
	return acc
}

// setContinuousPayloads pulls the maximal contiguous-by-IsNext prefix off
// the front of pool (which is kept sorted by (epoch, generation)) and
// returns (prefix, remainder).
func setContinuousPayloads(pool []Payload) (prefix, remainder []Payload) {
	if len(pool) == 0 {
		return nil, pool
	}

	prefix = append(prefix, pool[0])
	tmp := pool[0]
	i := 1
	for ; i < len(pool); i++ {
		if !tmp.IsNext(pool[i]) {
			break
		}
		prefix = append(prefix, pool[i])
		tmp = pool[i]
	}
	return prefix, pool[i:]
}

// insertPayloadsPool moves payload out of the working batch payloads and
// into the sorted per-roster pool.
func (in *inner) insertPayloadsPool(payload Payload, payloads *[]Payload) {
	pool := in.payloadsPool[payload.RosterIdx]
	pool = append(pool, payload)
	sort.Slice(pool, func(i, j int) bool { return less(pool[i], pool[j]) })
	in.payloadsPool[payload.RosterIdx] = pool

	idx := indexOfPayload(*payloads, payload)
	if idx < 0 {
		panic(fmt.Sprintf("ordercache: invariant breach: payload %v not found in working batch", payload))
	}
	*payloads = append((*payloads)[:idx], (*payloads)[idx+1:]...)
}

func indexOfPayload(payloads []Payload, target Payload) int {
	for i, p := range payloads {
		if p.RosterIdx == target.RosterIdx && p.key() == target.key() {
			return i
		}
	}
	return -1
}

// insertChunksAtIndex splices fromPool into payloads at position index,
// preserving the order of everything before and after.
func insertChunksAtIndex(payloads, fromPool []Payload, index int) []Payload {
	if len(fromPool) == 0 {
		return payloads
	}
	out := make([]Payload, 0, len(payloads)+len(fromPool))
	out = append(out, payloads[:index]...)
	out = append(out, fromPool...)
	out = append(out, payloads[index:]...)
	return out
}
