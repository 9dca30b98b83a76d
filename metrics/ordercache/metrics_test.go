// (c) 2021-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ordercache

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestRecorderPublishesCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)

	r.ObserveTrial(7)
	r.ObserveTrial(7)
	r.ObserveDiscontinuity(7)
	r.ObserveRelease(7, 3)
	r.ObserveSkip(7, 2, 5)
	r.SetPoolDepth(7, 4)
	stamp := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	r.SetLastReleaseTime(7, stamp)

	mfs, err := reg.Gather()
	require.NoError(t, err)

	byName := map[string]*dto.MetricFamily{}
	for _, mf := range mfs {
		byName[mf.GetName()] = mf
	}

	require.Contains(t, byName, "ordercache_trials_total")
	require.Equal(t, float64(2), byName["ordercache_trials_total"].Metric[0].GetCounter().GetValue())

	require.Contains(t, byName, "ordercache_released_payloads_total")
	require.Equal(t, float64(3), byName["ordercache_released_payloads_total"].Metric[0].GetCounter().GetValue())

	require.Contains(t, byName, "ordercache_pool_depth")
	require.Equal(t, float64(4), byName["ordercache_pool_depth"].Metric[0].GetGauge().GetValue())

	require.Contains(t, byName, "ordercache_skips_total")
	require.Contains(t, byName, "ordercache_discontinuous_total")

	require.Contains(t, byName, "ordercache_last_release_unix_seconds")
	require.Equal(t, float64(stamp.Unix()), byName["ordercache_last_release_unix_seconds"].Metric[0].GetGauge().GetValue())
}

func TestObserveReleaseIgnoresEmptyBatch(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)

	r.ObserveRelease(1, 0)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() == "ordercache_released_payloads_total" {
			require.Empty(t, mf.Metric)
		}
	}
}
