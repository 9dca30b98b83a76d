// (c) 2019-2020, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ordercache

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/luxfi/ordercache/utils"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func p(roster RosterIdx, epoch Epoch, gen Generation) Payload {
	return NewPayload(roster, epoch, gen, nil)
}

// TestCorrectOrderDifferentRosters mirrors original_source's
// test_correct_order_diff_roster_idx: fully in-order batches are returned
// unchanged, independently per roster.
func TestCorrectOrderDifferentRosters(t *testing.T) {
	c := New()

	batch1 := []Payload{
		p(0, 0, 1), p(0, 0, 2),
		p(1, 0, 1), p(1, 0, 2), p(1, 0, 3),
	}
	res1 := c.EnsureOrderGuarantee(append([]Payload{}, batch1...), batch1, MaxTrialsNum)
	assert.Equal(t, batch1, res1)

	batch2 := []Payload{p(1, 0, 4), p(2, 0, 1)}
	res2 := c.EnsureOrderGuarantee(append([]Payload{}, batch2...), batch2, MaxTrialsNum)
	assert.Equal(t, batch2, res2)
}

// TestFixReorderUsingCache mirrors test_fix_reorder_using_cache (spec.md
// scenario S2): a later batch fills the gap left by an earlier one.
func TestFixReorderUsingCache(t *testing.T) {
	c := New()

	batch1 := []Payload{p(0, 0, 1), p(0, 0, 2), p(0, 0, 4), p(0, 0, 5)}
	res1 := c.EnsureOrderGuarantee(append([]Payload{}, batch1...), batch1, MaxTrialsNum)
	require.Equal(t, []Payload{p(0, 0, 1), p(0, 0, 2)}, res1)

	batch2 := []Payload{p(0, 0, 3), p(0, 0, 6), p(0, 0, 7)}
	res2 := c.EnsureOrderGuarantee(append([]Payload{}, batch2...), batch2, MaxTrialsNum)
	assert.Equal(t, []Payload{
		p(0, 0, 3), p(0, 0, 4), p(0, 0, 5), p(0, 0, 6), p(0, 0, 7),
	}, res2)
}

// TestHandshakeInterleaved mirrors test_fix_order_handshake (spec.md
// scenario S3): a handshake (Generation == math.MaxUint32) and a fresh
// cross-epoch message are both admitted unconditionally.
func TestHandshakeInterleaved(t *testing.T) {
	c := New()

	batch1 := []Payload{
		p(0, 0, 1), p(0, 0, 2), p(0, 1, 1), p(0, 0, math.MaxUint32),
	}
	res1 := c.EnsureOrderGuarantee(append([]Payload{}, batch1...), batch1, MaxTrialsNum)
	assert.Equal(t, batch1, res1)

	batch2 := []Payload{p(0, 1, 2), p(0, 1, 3), p(0, 1, 4)}
	res2 := c.EnsureOrderGuarantee(append([]Payload{}, batch2...), batch2, MaxTrialsNum)
	assert.Equal(t, batch2, res2)
}

// TestSkipOnExhaustedTrials mirrors test_over_max_trials_num (spec.md
// scenario S4): with maxTrialsNum == 0, the very next discontinuous
// message triggers the skip policy on the same call, and the procedure
// returns early — the already-queued follow-up payload in the batch is
// released via the pool-splice, not by further scanning.
func TestSkipOnExhaustedTrials(t *testing.T) {
	c := New()

	batch1 := []Payload{p(0, 0, 1), p(0, 0, 2), p(0, 0, 4), p(0, 0, 5)}
	res1 := c.EnsureOrderGuarantee(append([]Payload{}, batch1...), batch1, 0)
	assert.Equal(t, []Payload{
		p(0, 0, 1), p(0, 0, 2), p(0, 0, 5), p(0, 0, 4),
	}, res1)

	batch2 := []Payload{p(0, 0, 3), p(0, 0, 6), p(0, 0, 7)}
	res2 := c.EnsureOrderGuarantee(append([]Payload{}, batch2...), batch2, 0)
	assert.Equal(t, batch2, res2)
}

// TestNoDuplicateRelease mirrors spec.md scenario S5: replaying an
// already-released batch releases nothing the second time.
func TestNoDuplicateRelease(t *testing.T) {
	c := New()

	batch := []Payload{p(0, 0, 1), p(0, 0, 2)}
	res1 := c.EnsureOrderGuarantee(append([]Payload{}, batch...), batch, MaxTrialsNum)
	assert.Equal(t, batch, res1)

	res2 := c.EnsureOrderGuarantee(append([]Payload{}, batch...), batch, MaxTrialsNum)
	assert.Empty(t, res2)
}

func TestEmptyBatchReturnsEmpty(t *testing.T) {
	c := New()
	res := c.EnsureOrderGuarantee(nil, nil, MaxTrialsNum)
	assert.Empty(t, res)
}

func TestBlockNumWatermark(t *testing.T) {
	c := New()
	var contract ContractAddr
	contract[0] = 0xAB

	_, ok := c.GetLatestBlockNum(contract)
	assert.False(t, ok)

	prior, hadPrior := c.InsertNextBlockNum(contract, 100)
	assert.False(t, hadPrior)
	assert.Zero(t, prior)

	got, ok := c.GetLatestBlockNum(contract)
	require.True(t, ok)
	assert.EqualValues(t, 100, got)

	prior, hadPrior = c.InsertNextBlockNum(contract, 100)
	assert.True(t, hadPrior)
	assert.EqualValues(t, 100, prior)

	got, ok = c.GetLatestBlockNum(contract)
	require.True(t, ok)
	assert.EqualValues(t, 100, got)
}

func TestIncrementMultiTrialsCounterDedupesPerRoster(t *testing.T) {
	c := New()

	batch := []Payload{p(0, 0, 1), p(0, 0, 2), p(1, 0, 1)}
	c.IncrementMultiTrialsCounter(batch)
	c.IncrementMultiTrialsCounter(batch)

	// Two calls, one distinct trial each per roster per call: roster 0 and
	// roster 1 both sit at 2 despite roster 0 appearing twice per batch.
	assert.EqualValues(t, 2, c.in.trialsCounter[0])
	assert.EqualValues(t, 2, c.in.trialsCounter[1])
}

// spyRecorder only tracks the last timestamp a release was observed at, to
// confirm EnsureOrderGuarantee threads the cache's clock through on release.
type spyRecorder struct {
	nopRecorder
	lastReleaseAt time.Time
}

func (s *spyRecorder) SetLastReleaseTime(_ RosterIdx, t time.Time) { s.lastReleaseAt = t }

func TestReleaseStampsLastReleaseTimeFromClock(t *testing.T) {
	clock := utils.NewMockableClock()
	pinned := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	clock.Set(pinned)

	rec := &spyRecorder{}
	c := New(WithClock(clock), WithRecorder(rec))

	batch := []Payload{p(0, 0, 1)}
	c.EnsureOrderGuarantee(append([]Payload{}, batch...), batch, MaxTrialsNum)

	assert.True(t, rec.lastReleaseAt.Equal(pinned))
}

func TestBoundedWaitEventuallySkips(t *testing.T) {
	c := New()
	const max = uint32(3)

	first := []Payload{p(0, 0, 1)}
	c.EnsureOrderGuarantee(append([]Payload{}, first...), first, max)

	// gen 3 arrives before gen 2: held in the pool, waiting.
	gap := []Payload{p(0, 0, 3)}
	res := c.EnsureOrderGuarantee(append([]Payload{}, gap...), gap, max)
	assert.Empty(t, res)

	// Keep observing roster 0 without resolving the gap until trials are
	// exhausted; bounded wait (testable property 4) guarantees resolution
	// within max+1 further observations mentioning this roster.
	var released []Payload
	for i := 0; i < int(max)+1; i++ {
		next := []Payload{p(0, 0, 10+Generation(i))}
		out := c.EnsureOrderGuarantee(append([]Payload{}, next...), next, max)
		released = append(released, out...)
		if len(out) > 0 {
			break
		}
	}
	assert.NotEmpty(t, released, "gap must resolve (fill or skip) within max+1 observations")
}
