// (c) 2019-2020, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ordercache

import (
	"fmt"
	"math"
)

// RosterIdx identifies a sender's position within the group roster.
type RosterIdx = uint32

// Epoch is advanced by a group handshake.
type Epoch = uint32

// Generation counts ciphertexts within an (Epoch, RosterIdx).
type Generation = uint32

// BlockNum is a blockchain block height.
type BlockNum = uint64

// FreshGeneration marks a payload admissible at any current generation: the
// first message of an epoch, and some reset paths.
const FreshGeneration Generation = 0

// HandshakeGeneration marks a group-key handshake. It is admitted
// unconditionally and never advances the recorded generation counter beyond
// what the handshake itself carries.
const HandshakeGeneration Generation = math.MaxUint32

// Payload is the unit the cache orders: a message from roster member
// RosterIdx, tagged with the (Epoch, Generation) pair that places it in that
// sender's total order. Body is opaque ciphertext or a handshake blob; the
// cache never inspects it.
type Payload struct {
	RosterIdx  RosterIdx
	Epoch      Epoch
	Generation Generation
	Body       []byte
}

// NewPayload builds a Payload. Body may be nil in tests.
func NewPayload(rosterIdx RosterIdx, epoch Epoch, generation Generation, body []byte) Payload {
	return Payload{
		RosterIdx:  rosterIdx,
		Epoch:      epoch,
		Generation: generation,
		Body:       body,
	}
}

// genEpoch is the (epoch, generation) pair recorded per roster member.
type genEpoch struct {
	epoch      Epoch
	generation Generation
}

// key identifies a payload for pool membership and removal, ignoring Body:
// two payloads with the same (roster, epoch, generation) are the same
// message as far as ordering is concerned.
func (p Payload) key() genEpoch {
	return genEpoch{epoch: p.Epoch, generation: p.Generation}
}

// IsNext reports whether p immediately precedes other in the same roster
// member's sequence: same roster, same epoch, and other.Generation is
// exactly p.Generation+1. Used to find the contiguous prefix of the pool and
// to test a run pulled from the pool against the message that triggered the
// pull.
func (p Payload) IsNext(other Payload) bool {
	return p.RosterIdx == other.RosterIdx &&
		p.Epoch == other.Epoch &&
		other.Generation == p.Generation+1
}

func (p Payload) String() string {
	return fmt.Sprintf("Payload{roster=%d epoch=%d gen=%d}", p.RosterIdx, p.Epoch, p.Generation)
}

// less orders payloads lexicographically by (Epoch, Generation), the order
// the payload pool is kept sorted in.
func less(a, b Payload) bool {
	if a.Epoch != b.Epoch {
		return a.Epoch < b.Epoch
	}
	return a.Generation < b.Generation
}
