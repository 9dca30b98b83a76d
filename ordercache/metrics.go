// (c) 2019-2020, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ordercache

import "time"

// Recorder receives observability events from the cache. It is satisfied by
// the *Recorder of package metrics/ordercache; tests and
// call sites that don't care about metrics use NopRecorder.
type Recorder interface {
	ObserveTrial(roster RosterIdx)
	ObserveRelease(roster RosterIdx, batchSize int)
	ObserveSkip(roster RosterIdx, skippedFrom, skippedTo Generation)
	ObserveDiscontinuity(roster RosterIdx)
	SetPoolDepth(roster RosterIdx, depth int)
	SetLastReleaseTime(roster RosterIdx, t time.Time)
}

type nopRecorder struct{}

func (nopRecorder) ObserveTrial(RosterIdx)                       {}
func (nopRecorder) ObserveRelease(RosterIdx, int)                 {}
func (nopRecorder) ObserveSkip(RosterIdx, Generation, Generation) {}
func (nopRecorder) ObserveDiscontinuity(RosterIdx)                {}
func (nopRecorder) SetPoolDepth(RosterIdx, int)                   {}
func (nopRecorder) SetLastReleaseTime(RosterIdx, time.Time)       {}

// NopRecorder discards every observation. It is the default Recorder.
var NopRecorder Recorder = nopRecorder{}
