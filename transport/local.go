package transport

import (
	"sync"

	"pbft/message"
)

// Local is an in-process Registry: a map of replica id to buffered
// channel, guarded by a mutex held only across the lookup. Each test
// harness owns its own Local instance rather than sharing a global.
type Local struct {
	mu      sync.Mutex
	inboxes map[int]chan<- message.Frame
}

// NewLocal returns an empty in-process registry.
func NewLocal() *Local {
	return &Local{inboxes: make(map[int]chan<- message.Frame)}
}

func (l *Local) Register(id int, inbox chan<- message.Frame) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inboxes[id] = inbox
}

func (l *Local) Send(id int, frame message.Frame) {
	l.mu.Lock()
	inbox, ok := l.inboxes[id]
	l.mu.Unlock()
	if !ok {
		return
	}
	// Enqueue outside the lock: never block while holding registry state.
	select {
	case inbox <- frame:
	default:
		// Best-effort: a full inbox is the same as a dropped frame.
	}
}
