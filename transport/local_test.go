package transport

import (
	"testing"
	"time"

	"pbft/message"
)

func TestLocalDeliversToRegisteredInbox(t *testing.T) {
	l := NewLocal()
	inbox := make(chan message.Frame, 1)
	l.Register(1, inbox)

	frame := message.Frame{PubKey: &message.PubKeyMessage{NodeID: 0, PublicKey: []byte("key")}}
	l.Send(1, frame)

	select {
	case got := <-inbox:
		if got.PubKey == nil || got.PubKey.NodeID != 0 {
			t.Fatalf("unexpected frame: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("frame was never delivered")
	}
}

func TestLocalSendToUnregisteredIDIsANoop(t *testing.T) {
	l := NewLocal()
	l.Send(99, message.Frame{})
}

func TestLocalDropsOnFullInbox(t *testing.T) {
	l := NewLocal()
	inbox := make(chan message.Frame, 1)
	l.Register(2, inbox)

	l.Send(2, message.Frame{})
	l.Send(2, message.Frame{}) // inbox already full; must not block

	if len(inbox) != 1 {
		t.Fatalf("expected exactly one buffered frame, got %d", len(inbox))
	}
}
