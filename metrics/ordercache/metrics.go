// (c) 2021-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package ordercache exposes ordercache.Recorder backed directly by
// github.com/prometheus/client_golang, the way metrics/prometheus wraps a
// registry for the rest of this codebase's metrics — but without that
// package's indirection through a geth-style metrics.Registry, since this
// module has no such registry of its own.
package ordercache

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder implements ordercache.Recorder, publishing per-roster counters
// and gauges to a Prometheus registry.
type Recorder struct {
	trials          *prometheus.CounterVec
	releases        *prometheus.CounterVec
	releasedTotal   *prometheus.CounterVec
	skips           *prometheus.CounterVec
	discontinuous   *prometheus.CounterVec
	poolDepth       *prometheus.GaugeVec
	lastReleaseUnix *prometheus.GaugeVec
}

// NewRecorder builds a Recorder and registers its collectors with reg. reg
// is typically a *prometheus.Registry dedicated to the enclave host
// process; passing prometheus.DefaultRegisterer is also valid.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		trials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ordercache",
			Name:      "trials_total",
			Help:      "Observations counted against a roster member's gap, per roster.",
		}, []string{"roster"}),
		releases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ordercache",
			Name:      "release_batches_total",
			Help:      "Number of release events, per roster: one per payload released in order, one per gap resolved from the pool.",
		}, []string{"roster"}),
		releasedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ordercache",
			Name:      "released_payloads_total",
			Help:      "Number of payloads released downstream, per roster.",
		}, []string{"roster"}),
		skips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ordercache",
			Name:      "skips_total",
			Help:      "Number of times the skip policy abandoned a missing generation range, per roster.",
		}, []string{"roster"}),
		discontinuous: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ordercache",
			Name:      "discontinuous_total",
			Help:      "Number of out-of-order payloads observed, per roster.",
		}, []string{"roster"}),
		poolDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ordercache",
			Name:      "pool_depth",
			Help:      "Current number of payloads buffered awaiting a missing predecessor, per roster.",
		}, []string{"roster"}),
		lastReleaseUnix: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ordercache",
			Name:      "last_release_unix_seconds",
			Help:      "Unix timestamp of the last payload released downstream, per roster.",
		}, []string{"roster"}),
	}

	reg.MustRegister(r.trials, r.releases, r.releasedTotal, r.skips, r.discontinuous, r.poolDepth, r.lastReleaseUnix)
	return r
}

func rosterLabel(roster uint32) string {
	return strconv.FormatUint(uint64(roster), 10)
}

// ObserveTrial implements ordercache.Recorder.
func (r *Recorder) ObserveTrial(roster uint32) {
	r.trials.WithLabelValues(rosterLabel(roster)).Inc()
}

// ObserveRelease implements ordercache.Recorder.
func (r *Recorder) ObserveRelease(roster uint32, batchSize int) {
	if batchSize <= 0 {
		return
	}
	label := rosterLabel(roster)
	r.releases.WithLabelValues(label).Inc()
	r.releasedTotal.WithLabelValues(label).Add(float64(batchSize))
}

// ObserveSkip implements ordercache.Recorder.
func (r *Recorder) ObserveSkip(roster uint32, skippedFrom, skippedTo uint32) {
	r.skips.WithLabelValues(rosterLabel(roster)).Inc()
}

// ObserveDiscontinuity implements ordercache.Recorder.
func (r *Recorder) ObserveDiscontinuity(roster uint32) {
	r.discontinuous.WithLabelValues(rosterLabel(roster)).Inc()
}

// SetPoolDepth implements ordercache.Recorder.
func (r *Recorder) SetPoolDepth(roster uint32, depth int) {
	r.poolDepth.WithLabelValues(rosterLabel(roster)).Set(float64(depth))
}

// SetLastReleaseTime implements ordercache.Recorder.
func (r *Recorder) SetLastReleaseTime(roster uint32, t time.Time) {
	r.lastReleaseUnix.WithLabelValues(rosterLabel(roster)).Set(float64(t.Unix()))
}
