package replica

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"pbft/config"
	"pbft/transport"
)

// buildCluster wires N=4 (F=1) replicas over an in-process Local registry,
// with per-replica durable state rooted at distinct subdirectories of t's
// temp dir. byzantineIDs names which replica ids should substitute a wrong
// Prepare digest.
func buildCluster(t *testing.T, timeout time.Duration, byzantineIDs map[int]bool) []*Replica {
	t.Helper()
	cluster := config.Default(4, 0)
	cluster.Timeout = timeout
	registry := transport.NewLocal()

	replicas := make([]*Replica, cluster.N)
	for i := 0; i < cluster.N; i++ {
		r, err := New(i, cluster, registry, zap.NewNop(), t.TempDir(), byzantineIDs[i])
		if err != nil {
			t.Fatalf("new replica %d: %v", i, err)
		}
		replicas[i] = r
	}
	for _, r := range replicas {
		r.Start()
	}
	// Let the bootstrap PubKey announcements (replica.go's announcePubKey,
	// up to a 550ms backoff) settle before anyone signs a real message.
	time.Sleep(700 * time.Millisecond)
	return replicas
}

func waitForCommitted(t *testing.T, r *Replica, seq uint64, timeout time.Duration) string {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		_, committed := r.Snapshot()
		for _, sd := range committed {
			if sd.Seq == seq {
				return sd.Digest
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("replica %d never committed seq %d", r.ID(), seq)
	return ""
}

func TestHappyPathAllReplicasCommitSameDigest(t *testing.T) {
	replicas := buildCluster(t, 3*time.Second, nil)
	replicas[0].SubmitRequest("set x=1")

	var digests []string
	for _, r := range replicas {
		digests = append(digests, waitForCommitted(t, r, 1, 3*time.Second))
	}
	for _, d := range digests {
		if d != digests[0] {
			t.Fatalf("replicas committed different digests: %v", digests)
		}
	}
}

func TestOneByzantinePrepareStillReachesQuorumAndBlacklists(t *testing.T) {
	replicas := buildCluster(t, 3*time.Second, map[int]bool{1: true})
	replicas[0].SubmitRequest("set y=2")

	var correctDigests []string
	for _, r := range replicas {
		if r.ID() == 1 {
			continue
		}
		correctDigests = append(correctDigests, waitForCommitted(t, r, 1, 3*time.Second))
	}
	for _, d := range correctDigests {
		if d != correctDigests[0] {
			t.Fatalf("correct replicas committed different digests: %v", correctDigests)
		}
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if replicas[0].Blacklisted(1) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("replica 1 was never blacklisted after sending a conflicting Prepare")
}

func TestDuplicateDeliveryDoesNotDuplicateCommits(t *testing.T) {
	replicas := buildCluster(t, 3*time.Second, nil)
	replicas[0].SubmitRequest("set z=3")
	waitForCommitted(t, replicas[0], 1, 3*time.Second)

	// Re-run the same Commit handling path a second time to model a
	// duplicate delivery: idempotence must hold.
	r := replicas[0]
	_, before := r.Snapshot()
	digest := before[0].Digest
	r.tryCommit(commitKey(0, 1, digest), 1, digest)
	_, after := r.Snapshot()
	if len(after) != len(before) {
		t.Fatalf("duplicate commit changed the committed set: before=%v after=%v", before, after)
	}
}

func TestPrimarySilentTriggersViewChange(t *testing.T) {
	replicas := buildCluster(t, 200*time.Millisecond, nil)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		allAdvanced := true
		for _, r := range replicas {
			if r.View() == 0 {
				allAdvanced = false
			}
		}
		if allAdvanced {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("replicas never advanced view after primary silence")
}

func TestRestartResumesCommitCollection(t *testing.T) {
	cluster := config.Default(4, 0)
	cluster.Timeout = 3 * time.Second
	registry := transport.NewLocal()
	dir := t.TempDir()

	mk := func(id int) *Replica {
		r, err := New(id, cluster, registry, zap.NewNop(), dir, false)
		if err != nil {
			t.Fatalf("new replica %d: %v", id, err)
		}
		return r
	}

	r0, r1, r2, r3 := mk(0), mk(1), mk(2), mk(3)
	for _, r := range []*Replica{r0, r1, r2, r3} {
		r.Start()
	}
	time.Sleep(700 * time.Millisecond)

	r0.SubmitRequest("set w=4")
	// Let Prepare quorum land (2F=2) without necessarily reaching Commit
	// quorum everywhere before "restarting" r3.
	time.Sleep(300 * time.Millisecond)

	// Simulate a crash-and-restart of r3: a fresh Replica loaded from the
	// same durable file, registered again under the same registry.
	r3Restarted, err := New(3, cluster, registry, zap.NewNop(), dir, false)
	if err != nil {
		t.Fatalf("restart replica 3: %v", err)
	}
	r3Restarted.Start()

	waitForCommitted(t, r3Restarted, 1, 3*time.Second)
}
