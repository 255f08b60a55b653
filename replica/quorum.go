package replica

// tally counts distinct voters per key; the replica uses it for the
// committed (2F+1) quorum, and groupedTally below for the prepared (2F)
// quorum. View-change and byzantine-vote counts are kept in plain maps
// in replica.go. It is not safe for
// concurrent use, which is fine: the replica runs a single-threaded
// event loop.
type tally struct {
	votes map[string]map[int]bool
}

func newTally() *tally {
	return &tally{votes: make(map[string]map[int]bool)}
}

// add records voter's vote for key and returns the new distinct-voter
// count for that key. Re-adding the same voter for the same key is a
// no-op on the count, which gives duplicate-delivery idempotence for
// free.
func (t *tally) add(key string, voter int) int {
	set, ok := t.votes[key]
	if !ok {
		set = make(map[int]bool)
		t.votes[key] = set
	}
	set[voter] = true
	return len(set)
}

func (t *tally) count(key string) int {
	return len(t.votes[key])
}

// groupedTally additionally groups votes by an outer key (e.g. "view:seq")
// so a replica can ask "which digests have I seen votes for under this
// group, and from how many distinct senders each" — the shape needed to
// detect digest disagreement among Prepare votes.
type groupedTally struct {
	groups map[string]map[string]map[int]bool // group -> subKey -> voters
}

func newGroupedTally() *groupedTally {
	return &groupedTally{groups: make(map[string]map[string]map[int]bool)}
}

func (g *groupedTally) add(group, subKey string, voter int) int {
	sub, ok := g.groups[group]
	if !ok {
		sub = make(map[string]map[int]bool)
		g.groups[group] = sub
	}
	set, ok := sub[subKey]
	if !ok {
		set = make(map[int]bool)
		sub[subKey] = set
	}
	set[voter] = true
	return len(set)
}

// distinctSubKeys reports how many different subKeys (e.g. digests) have
// been voted for within group — more than one means disagreement.
func (g *groupedTally) distinctSubKeys(group string) int {
	return len(g.groups[group])
}

// best returns the subKey with the largest distinct-voter set for group,
// the count, and the list of (subKey, voters) for every subKey that is
// NOT best — used to name accusation targets. Ties break on subKey's
// natural (lexicographic) order.
func (g *groupedTally) best(group string) (subKey string, count int, others map[string][]int) {
	sub := g.groups[group]
	for key, voters := range sub {
		n := len(voters)
		if n > count || (n == count && (subKey == "" || key < subKey)) {
			subKey, count = key, n
		}
	}
	others = make(map[string][]int)
	for key, voters := range sub {
		if key != subKey {
			others[key] = votersOf(voters)
		}
	}
	return subKey, count, others
}

func votersOf(set map[int]bool) []int {
	out := make([]int, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	return out
}
