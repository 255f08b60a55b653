package replica

import (
	"go.uber.org/zap"

	"pbft/message"
	"pbft/timer"
)

// onTimeout fires when the liveness timer elapses with no validated
// protocol message received: the replica suspects the primary and
// starts a view change.
func (r *Replica) onTimeout() {
	r.log.Info("liveness timer expired", zap.Uint64("view", r.view))
	r.startViewChange()
}

// onNewViewTimeout fires when a view change is outstanding and no
// NewView arrives in time: the replica cascades to a further view
// rather than waiting forever for a primary candidate that may itself
// be silent.
func (r *Replica) onNewViewTimeout() {
	r.log.Info("new-view timer expired, cascading view change", zap.Uint64("view", r.view))
	r.newViewTimer = nil
	r.startViewChange()
}

// startViewChange advances to the next view, resets in-flight agreement
// state, and broadcasts ViewChange. The replica's own ViewChange is
// recorded locally exactly as if received, since broadcast never loops
// back to the sender.
func (r *Replica) startViewChange() {
	r.viewChangeInProgress = true
	r.setView(r.view + 1)
	r.seq = 0
	r.digest = ""

	sm := r.broadcast(message.Message{
		Kind:       message.KindViewChange,
		NewViewNum: r.view,
		LastSeq:    0,
		NodeID:     r.id,
	})
	r.viewChangeMessages = append(r.viewChangeMessages, sm)
	r.addViewChangeVote(r.view, r.id)
	r.persist()

	if r.newViewTimer != nil {
		r.newViewTimer.Stop()
	}
	r.newViewTimer = timer.New(r.cluster.Timeout)
}

// handleViewChange accumulates ViewChange votes for the proposed view;
// once 2F distinct nodes (including this replica, if it is itself mid
// view-change) have proposed the same view, the new primary sends
// NewView.
func (r *Replica) handleViewChange(sm message.SignedMessage) {
	inner := sm.Inner
	if inner.NewViewNum == r.view {
		r.viewChangeMessages = append(r.viewChangeMessages, sm)
	}
	count := r.addViewChangeVote(inner.NewViewNum, inner.NodeID)
	r.persist()

	if count < 2*r.cluster.F {
		return
	}
	if inner.NewViewNum != r.view || !r.IsPrimary() {
		return
	}
	r.sendNewView()
}

// sendNewView broadcasts the collected ViewChange set under the new view
// number and clears this replica's own view-change bookkeeping. The newly
// elected primary then replays its whole pendingRequests queue in
// submission order; the queue is never trimmed, so operations it already
// ordered as primary of an earlier view are replayed as well.
func (r *Replica) sendNewView() {
	r.broadcast(message.Message{
		Kind:        message.KindNewView,
		View:        r.view,
		ViewChanges: append([]message.SignedMessage{}, r.viewChangeMessages...),
	})
	r.clearViewChange()
	r.reinjectPending()
}

// handleNewView adopts the proposed view if it is at least as new as
// the replica's current view and clears in-flight view-change state; a
// NewView for an older view is discarded and changes nothing.
func (r *Replica) handleNewView(inner message.Message) {
	if inner.View < r.view {
		r.log.Debug("discarding stale new-view", zap.Uint64("got", inner.View), zap.Uint64("have", r.view))
		return
	}
	r.setView(inner.View)
	r.seq = 0
	r.digest = ""
	r.clearViewChange()
	r.persist()

	if r.IsPrimary() {
		r.reinjectPending()
	}
}

func (r *Replica) clearViewChange() {
	r.viewChangeInProgress = false
	r.viewChangeMessages = nil
	r.viewChangeVotes = map[uint64]map[int]bool{}
	if r.newViewTimer != nil {
		r.newViewTimer.Stop()
		r.newViewTimer = nil
	}
}

// reinjectPending replays queued client operations through the new
// primary's agreement path without re-appending them to pendingRequests,
// which would otherwise grow without bound across successive view
// changes.
func (r *Replica) reinjectPending() {
	for _, operation := range r.pendingRequests {
		r.beginAgreement(operation)
	}
}
