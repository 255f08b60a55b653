package replica

import "testing"

func TestTallyCountsDistinctVotersOnly(t *testing.T) {
	tl := newTally()
	tl.add("k", 1)
	tl.add("k", 2)
	tl.add("k", 1) // duplicate vote from the same voter
	if got := tl.count("k"); got != 2 {
		t.Fatalf("count = %d, want 2", got)
	}
}

func TestGroupedTallyDetectsDisagreement(t *testing.T) {
	g := newGroupedTally()
	g.add("v1:s1", "digestA", 1)
	if g.distinctSubKeys("v1:s1") != 1 {
		t.Fatalf("expected a single digest before disagreement")
	}
	g.add("v1:s1", "digestB", 2)
	if g.distinctSubKeys("v1:s1") != 2 {
		t.Fatalf("expected two digests after a conflicting vote")
	}
}

func TestGroupedTallyBestPicksMajorityAndListsOthers(t *testing.T) {
	g := newGroupedTally()
	g.add("v1:s1", "majority", 1)
	g.add("v1:s1", "majority", 2)
	g.add("v1:s1", "minority", 3)

	digest, count, others := g.best("v1:s1")
	if digest != "majority" || count != 2 {
		t.Fatalf("best = (%q, %d), want (majority, 2)", digest, count)
	}
	if len(others) != 1 || len(others["minority"]) != 1 || others["minority"][0] != 3 {
		t.Fatalf("unexpected others: %+v", others)
	}
}

func TestGroupedTallyBestTieBreaksLexicographically(t *testing.T) {
	g := newGroupedTally()
	g.add("v1:s1", "zzz", 1)
	g.add("v1:s1", "aaa", 2)

	digest, count, _ := g.best("v1:s1")
	if digest != "aaa" || count != 1 {
		t.Fatalf("best = (%q, %d), want (aaa, 1) on a tie", digest, count)
	}
}
