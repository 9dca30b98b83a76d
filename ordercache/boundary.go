// (c) 2019-2020, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ordercache

import "context"

// Poller is the upstream boundary: something that extracts PayloadType
// batches from blockchain log order and de-duplicates them on
// (contract, tx_hash, log_index) before handing them to the cache. The
// cache does not re-check identity, so a Poller implementation MUST
// de-duplicate.
//
// The blockchain RPC polling and log-decoding that produce real batches
// are out of scope for this module; Poller is specified here only as a
// narrow seam for driving the cache. Nothing in this module implements or
// calls it: the tests and cmd/ordercachectl call EnsureOrderGuarantee
// directly.
type Poller interface {
	Poll(ctx context.Context) ([]Payload, error)
}

// Sink is the downstream boundary: whatever feeds released payloads to the
// ratchet and state-transition engine, in the order EnsureOrderGuarantee
// returned them. Implementations must not reorder further.
type Sink interface {
	Consume(ctx context.Context, payloads []Payload) error
}

// KeySchedule is the per-sender ratcheting key schedule the cache does not
// itself drive, but whose correctness depends on release order. For each
// payload released, in order:
//
//   - a handshake (Generation == HandshakeGeneration) is handed to
//     ProcessHandshake, which may advance the sender's epoch;
//   - a normal ciphertext is handed to SyncRatchet then ReceiverRatchet,
//     in that order, before state transition runs. The sender side has
//     already ratcheted at publish time; SyncRatchet and ReceiverRatchet
//     must be atomic with respect to each other so the two sides of the
//     ratchet never observe a torn intermediate state. This is why the
//     cache advances its own treekem counter at release time rather than
//     on dequeue: the two counters must stay in agreement.
//
// A KeySchedule error is reported to the operator log by the caller; it
// must never roll back the cache's release decision.
type KeySchedule interface {
	SyncRatchet(ctx context.Context, roster RosterIdx) error
	ReceiverRatchet(ctx context.Context, roster RosterIdx) error
	ProcessHandshake(ctx context.Context, roster RosterIdx, payload Payload) error
}

// PublishOrdered drives payloads (as returned by EnsureOrderGuarantee) into
// ks in order, routing handshakes and ciphertexts per the KeySchedule
// contract, then into sink. It stops at the first error without attempting
// to roll back any prior step, per spec: downstream failures never undo an
// ordering decision this cache already made.
func PublishOrdered(ctx context.Context, ks KeySchedule, sink Sink, payloads []Payload) error {
	for _, p := range payloads {
		var err error
		if p.Generation == HandshakeGeneration {
			err = ks.ProcessHandshake(ctx, p.RosterIdx, p)
		} else {
			if err = ks.SyncRatchet(ctx, p.RosterIdx); err == nil {
				err = ks.ReceiverRatchet(ctx, p.RosterIdx)
			}
		}
		if err != nil {
			return err
		}
	}
	return sink.Consume(ctx, payloads)
}
