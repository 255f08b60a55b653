package replica

import (
	"go.uber.org/zap"

	"pbft/message"
	"pbft/store"
)

// handleRequestOp is the entry point for a client operation, reached
// from SubmitRequest (a view change's FIFO replay goes straight to
// beginAgreement instead). Every
// request is appended to pendingRequests regardless of whether this
// replica is primary, which is what lets a newly elected primary replay
// a backlog a prior primary never got to broadcast.
func (r *Replica) handleRequestOp(operation string) {
	r.pendingRequests = append(r.pendingRequests, operation)

	if !r.IsPrimary() {
		r.log.Info("request queued awaiting primary", zap.String("operation", operation))
		return
	}
	if r.viewChangeInProgress {
		r.log.Info("request queued during view change", zap.String("operation", operation))
		return
	}
	r.beginAgreement(operation)
}

// beginAgreement assigns the next sequence number and broadcasts a
// PrePrepare, the primary's sole phase-one responsibility.
func (r *Replica) beginAgreement(operation string) {
	r.seq++
	digest := message.Digest(operation)
	r.digest = digest
	r.broadcast(message.Message{
		Kind:   message.KindPrePrepare,
		View:   r.view,
		Seq:    r.seq,
		Digest: digest,
	})
	r.log.Info("broadcast pre-prepare", zap.Uint64("view", r.view), zap.Uint64("seq", r.seq))
}

// handlePrePrepare is phase one for a non-primary replica: adopt the
// sequence and digest the primary proposed, then broadcast Prepare. A
// Byzantine replica substitutes a wrong digest instead, as fault
// injection for testing the accusation path.
func (r *Replica) handlePrePrepare(inner message.Message) {
	if inner.View != r.view {
		r.log.Debug("discarding pre-prepare for foreign view", zap.Uint64("got", inner.View), zap.Uint64("want", r.view))
		return
	}
	if r.IsPrimary() {
		return
	}

	r.seq = inner.Seq
	r.digest = inner.Digest

	prepareDigest := inner.Digest
	if r.byzantine {
		prepareDigest = message.Digest(inner.Digest + "-byzantine")
	}

	r.broadcast(message.Message{
		Kind:     message.KindPrepare,
		View:     r.view,
		Seq:      r.seq,
		Digest:   prepareDigest,
		SenderID: r.id,
	})

	// Self's Prepare counts toward its own quorum: broadcast never loops
	// back, so record it directly or this replica can never reach 2F.
	r.prepareTally.add(prepareGroup(r.view, r.seq), prepareDigest, r.id)
}

// handlePrepare runs for every replica, primary included, on each
// validated Prepare receipt — the primary's own PrePrepare substitutes
// for its Prepare, but it still tallies everyone else's. It detects
// digest disagreement before testing the quorum predicate, so an
// accusation is raised in the same pass that observes it.
func (r *Replica) handlePrepare(inner message.Message) {
	if inner.View != r.view || inner.Seq != r.seq {
		r.log.Debug("discarding prepare for mismatched view/seq")
		return
	}

	group := prepareGroup(inner.View, inner.Seq)
	r.prepareTally.add(group, inner.Digest, inner.SenderID)

	if r.prepareTally.distinctSubKeys(group) > 1 {
		r.detectByzantineNodes(group)
	}

	digest, count, _ := r.prepareTally.best(group)
	if count < 2*r.cluster.F {
		return
	}

	r.mu.Lock()
	already := store.HasSeqDigest(r.prepared, r.seq, digest)
	if !already {
		r.prepared = append(r.prepared, store.SeqDigest{Seq: r.seq, Digest: digest})
	}
	r.mu.Unlock()
	if already {
		return
	}

	r.persist()
	r.log.Info("prepared", zap.Uint64("view", r.view), zap.Uint64("seq", r.seq), zap.String("digest", digest))

	// Self's Commit counts toward its own quorum: record it directly
	// rather than waiting for a broadcast that never loops back.
	ckey := commitKey(r.view, r.seq, digest)
	sm := r.broadcast(message.Message{
		Kind:   message.KindCommit,
		View:   r.view,
		Seq:    r.seq,
		Digest: digest,
	})
	r.messages = append(r.messages, sm)
	r.commitTally.add(ckey, r.id)
	r.tryCommit(ckey, r.seq, digest)
}

// handleCommit tallies Commit messages by distinct envelope sender: the
// Commit variant carries no sender_id field of its own, so the envelope
// is the only distinct-sender signal available.
func (r *Replica) handleCommit(inner message.Message, envelopeSender int) {
	if inner.View != r.view || inner.Seq != r.seq {
		r.log.Debug("discarding commit for mismatched view/seq")
		return
	}
	ckey := commitKey(inner.View, inner.Seq, inner.Digest)
	r.commitTally.add(ckey, envelopeSender)
	r.tryCommit(ckey, inner.Seq, inner.Digest)
}

func (r *Replica) tryCommit(ckey string, seq uint64, digest string) {
	if r.commitTally.count(ckey) < 2*r.cluster.F+1 {
		return
	}

	r.mu.Lock()
	already := store.HasSeqDigest(r.committed, seq, digest)
	if !already {
		r.committed = append(r.committed, store.SeqDigest{Seq: seq, Digest: digest})
	}
	r.mu.Unlock()
	if already {
		return
	}

	r.persist()
	r.log.Info("committed", zap.Uint64("seq", seq), zap.String("digest", digest))
}
