package replica

import (
	"go.uber.org/zap"

	"pbft/message"
)

// detectByzantineNodes runs whenever a Prepare group has accumulated more
// than one distinct digest: every sender behind a digest other than the
// current majority is accused. It re-evaluates on every call rather than
// accusing once — repeat votes for an already-suspected sender cost
// nothing, since the tally is a distinct accuser set.
//
// Accusation is eager: it runs as soon as a second digest appears, with no
// minimum number of Prepares. With one vote per digest the "majority" is
// decided by best's lexicographic tie-break, so an honest sender can be
// accused depending on arrival order.
func (r *Replica) detectByzantineNodes(group string) {
	_, _, others := r.prepareTally.best(group)
	for _, senders := range others {
		for _, sender := range senders {
			r.accuse(sender)
		}
	}
}

// accuse broadcasts a ByzantineVote against suspect and records this
// replica's own vote directly, since broadcast never reaches the sender
// itself and its own vote is required to reach quorum.
func (r *Replica) accuse(suspect int) {
	if suspect == r.id {
		return
	}
	r.suspectedNodes[suspect] = true
	r.log.Info("suspecting byzantine sender", zap.Int("suspect", suspect))

	r.broadcast(message.Message{
		Kind:        message.KindByzantineVote,
		SuspectedID: suspect,
		SenderID:    r.id,
	})

	if r.addByzantineVote(suspect, r.id) >= 2*r.cluster.F+1 {
		r.confirmBlacklist(suspect)
	}
	r.persist()
}

// handleByzantineVote tallies accusations against a suspect; at 2F+1
// distinct accusers the suspect is blacklisted and all further messages
// from it are dropped before verification.
func (r *Replica) handleByzantineVote(inner message.Message) {
	count := r.addByzantineVote(inner.SuspectedID, inner.SenderID)
	r.persist()
	if count >= 2*r.cluster.F+1 {
		r.confirmBlacklist(inner.SuspectedID)
	}
}

func (r *Replica) confirmBlacklist(suspect int) {
	r.mu.Lock()
	already := r.blacklist[suspect]
	if !already {
		r.blacklist[suspect] = true
	}
	r.mu.Unlock()
	if !already {
		r.log.Info("blacklisted replica", zap.Int("id", suspect))
	}
}
