// Package store persists the per-replica consensus state: prepared,
// committed, accumulated Prepare/Commit messages, view-change messages,
// and Byzantine vote tallies. A crashed replica resumes from this file
// without equivocating.
package store

import (
	"encoding/json"
	"fmt"
	"os"

	"pbft/message"
)

// SeqDigest is one (sequence number, digest) pair — the identity of a
// prepared or committed entry. It is a plain struct rather than a map
// key tuple so it survives JSON round trips as a set member.
type SeqDigest struct {
	Seq    uint64 `json:"seq"`
	Digest string `json:"digest"`
}

// State is the durable blob schema, keyed by replica id via the file
// name (node_<id>_state.json) rather than an in-file field.
type State struct {
	Prepared           []SeqDigest             `json:"prepared"`
	Committed          []SeqDigest             `json:"committed"`
	Messages           []message.SignedMessage `json:"messages"`
	ViewChangeMessages []message.SignedMessage `json:"view_change_messages"`
	ByzantineVotes     map[int][]int           `json:"byzantine_votes"` // suspected_id -> accuser_ids
}

// Empty builds the zero-value state a replica starts with absent a
// durable file.
func Empty() State {
	return State{
		Prepared:           []SeqDigest{},
		Committed:          []SeqDigest{},
		Messages:           []message.SignedMessage{},
		ViewChangeMessages: []message.SignedMessage{},
		ByzantineVotes:     map[int][]int{},
	}
}

// FileStore is the durable state store: one JSON file per replica,
// written synchronously after every transition into prepared/committed
// and after accepting a ViewChange.
type FileStore struct {
	path string
}

// NewFileStore returns a store for replica id, rooted at dir (use "" for
// the process's working directory), named node_<id>_state.json.
func NewFileStore(dir string, id int) *FileStore {
	name := fmt.Sprintf("node_%d_state.json", id)
	if dir != "" {
		name = dir + "/" + name
	}
	return &FileStore{path: name}
}

// Load reads the durable state, returning Empty() if the file does not
// yet exist.
func (s *FileStore) Load() (State, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return Empty(), nil
	}
	if err != nil {
		return State{}, fmt.Errorf("store: read %s: %w", s.path, err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("store: parse %s: %w", s.path, err)
	}
	return st, nil
}

// Save writes the durable state. It writes to a temp file and renames
// over the target so a crash mid-write never leaves a half-written blob
// behind. A write failure here is unrecoverable and the caller is
// expected to abort the process.
func (s *FileStore) Save(st State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("store: marshal state: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("store: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("store: rename %s to %s: %w", tmp, s.path, err)
	}
	return nil
}

// HasSeqDigest reports whether (seq, digest) is already a member of set,
// giving prepared/committed set semantics (no duplicates) without
// reaching for a map rebuild on every insert.
func HasSeqDigest(set []SeqDigest, seq uint64, digest string) bool {
	for _, sd := range set {
		if sd.Seq == seq && sd.Digest == digest {
			return true
		}
	}
	return false
}
