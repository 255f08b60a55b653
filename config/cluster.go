// Package config holds the build/startup constants a PBFT replica needs:
// the cluster size N, the Byzantine fault bound F, the liveness timeout T,
// and the address each replica's transport listens on.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// DefaultTimeout is how long a replica waits for a protocol message
// before triggering a view change.
const DefaultTimeout = 5 * time.Second

// Peer is one replica's identity and network address.
type Peer struct {
	ID      int    `json:"id"`
	Address string `json:"address"` // host:port the replica's websocket server binds/dials
}

// Cluster is the fixed membership a replica is configured against.
type Cluster struct {
	N       int           `json:"n"`
	F       int           `json:"f"`
	Timeout time.Duration `json:"timeout"`
	Peers   []Peer        `json:"peers"`
}

// Primary returns the primary replica id for view v: v mod N.
func (c Cluster) Primary(view uint64) int {
	return int(view % uint64(c.N))
}

// Address returns the address registered for replica id, or "" if unknown.
func (c Cluster) Address(id int) string {
	for _, p := range c.Peers {
		if p.ID == id {
			return p.Address
		}
	}
	return ""
}

// Validate checks the N >= 3F+1 Byzantine-quorum invariant.
func (c Cluster) Validate() error {
	if c.N < 3*c.F+1 {
		return fmt.Errorf("config: N=%d must satisfy N >= 3F+1 (F=%d)", c.N, c.F)
	}
	if len(c.Peers) != c.N {
		return fmt.Errorf("config: expected %d peers, got %d", c.N, len(c.Peers))
	}
	return nil
}

// Default builds an all-localhost cluster of n replicas (F = (n-1)/3),
// one port per id starting at basePort, for local runs and tests.
func Default(n int, basePort int) Cluster {
	f := (n - 1) / 3
	peers := make([]Peer, n)
	for i := 0; i < n; i++ {
		peers[i] = Peer{ID: i, Address: fmt.Sprintf("127.0.0.1:%d", basePort+i)}
	}
	return Cluster{N: n, F: f, Timeout: DefaultTimeout, Peers: peers}
}

// Load reads a Cluster from a JSON file written by a deployment's bootstrap
// step. An absent or zero timeout falls back to DefaultTimeout.
func Load(path string) (Cluster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Cluster{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var c Cluster
	if err := json.Unmarshal(data, &c); err != nil {
		return Cluster{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if err := c.Validate(); err != nil {
		return Cluster{}, err
	}
	return c, nil
}
