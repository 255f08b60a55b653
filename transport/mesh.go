package transport

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"pbft/config"
	"pbft/message"
)

// Mesh is a real full-mesh Registry: every replica runs a websocket
// server accepting peer connections and dials every other peer in the
// cluster as a client, splitting a listener from an outbound dialer.
// Inbound frames are decoded and handed to the same inbox-channel
// abstraction Local uses, so replica.Replica never knows which Registry
// it was given.
type Mesh struct {
	self    int
	cluster config.Cluster
	log     *zap.Logger

	upgrader websocket.Upgrader

	mu      sync.Mutex
	inboxes map[int]chan<- message.Frame
	conns   map[int]*websocket.Conn
}

// NewMesh builds a Mesh for replica self within cluster. Call Listen to
// start accepting peer connections and DialAll to connect outbound to
// every other peer. Each pair ends up with two independent connections,
// one dialed from each side; Send only ever uses the outbound one it
// dialed itself, so the duplicate inbound connection is harmless, just
// another reader for readLoop to decode frames from.
func NewMesh(self int, cluster config.Cluster, log *zap.Logger) *Mesh {
	return &Mesh{
		self:    self,
		cluster: cluster,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		inboxes: make(map[int]chan<- message.Frame),
		conns:   make(map[int]*websocket.Conn),
	}
}

func (m *Mesh) Register(id int, inbox chan<- message.Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inboxes[id] = inbox
}

// Listen starts the local replica's websocket server on its configured
// address, in a background goroutine.
func (m *Mesh) Listen() error {
	addr := m.cluster.Address(m.self)
	if addr == "" {
		return fmt.Errorf("transport: no address configured for replica %d", m.self)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/pbft", m.handlePeer)
	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.log.Error("transport: listener exited", zap.Error(err))
		}
	}()
	return nil
}

// DialAll connects outbound to every peer, retrying on a fixed backoff
// without blocking the caller; a peer that never comes up just never
// receives anything.
func (m *Mesh) DialAll() {
	for _, p := range m.cluster.Peers {
		if p.ID == m.self {
			continue
		}
		go m.dialWithRetry(p.ID, p.Address)
	}
}

func (m *Mesh) dialWithRetry(peerID int, addr string) {
	url := fmt.Sprintf("ws://%s/pbft", addr)
	for {
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			time.Sleep(500 * time.Millisecond)
			continue
		}
		m.mu.Lock()
		m.conns[peerID] = conn
		m.mu.Unlock()
		m.log.Debug("transport: connected to peer", zap.Int("peer", peerID))
		m.readLoop(conn)

		m.mu.Lock()
		delete(m.conns, peerID)
		m.mu.Unlock()
		time.Sleep(500 * time.Millisecond)
	}
}

func (m *Mesh) handlePeer(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.log.Debug("transport: upgrade failed", zap.Error(err))
		return
	}
	m.readLoop(conn)
}

// readLoop decodes inbound frames and delivers them into this replica's
// own inbox. The remote side identifies itself via each frame's
// sender_id rather than the TCP connection, so a single inbox per local
// replica id is all that's needed regardless of which peer a frame
// arrived from.
func (m *Mesh) readLoop(conn *websocket.Conn) {
	defer conn.Close()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		frame, err := message.DecodeFrame(data)
		if err != nil {
			m.log.Debug("transport: decode failed", zap.Error(err))
			continue
		}
		m.deliver(frame)
	}
}

func (m *Mesh) deliver(frame message.Frame) {
	m.mu.Lock()
	inbox, ok := m.inboxes[m.self]
	m.mu.Unlock()
	if !ok {
		return
	}
	select {
	case inbox <- frame:
	default:
	}
}

// Send encodes frame and writes it to id's outbound connection, silently
// dropping if no connection to id exists yet.
func (m *Mesh) Send(id int, frame message.Frame) {
	m.mu.Lock()
	conn, ok := m.conns[id]
	m.mu.Unlock()
	if !ok {
		return
	}
	data, err := message.EncodeFrame(frame)
	if err != nil {
		return
	}
	_ = conn.WriteMessage(websocket.TextMessage, data)
}
