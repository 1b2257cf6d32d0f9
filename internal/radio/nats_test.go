package radio

import (
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNATSSubject(t *testing.T) {
	if got := Subject(150); got != "basenode.air.150" {
		t.Errorf("Subject: got %q", got)
	}
}

func TestNATSLink_UnreachableServer(t *testing.T) {
	l := NewNATSLink("nats://127.0.0.1:1", zerolog.Nop())
	if l.Initialize(Band915, 1, 150) {
		l.Close()
		t.Fatal("initialize succeeded without a server")
	}
	if err := l.Close(); err != nil {
		t.Errorf("close unopened link: %v", err)
	}
}

// Runs against a live server when BASENODE_NATS_URL is set.
func TestNATSLink_Exchange(t *testing.T) {
	url := os.Getenv("BASENODE_NATS_URL")
	if url == "" {
		t.Skip("BASENODE_NATS_URL not set")
	}

	gw := NewNATSLink(url, zerolog.Nop())
	node := NewNATSLink(url, zerolog.Nop())
	other := NewNATSLink(url, zerolog.Nop())
	for _, c := range []struct {
		l       *NATSLink
		id, net uint8
	}{{gw, 1, 150}, {node, 203, 150}, {other, 203, 151}} {
		if !c.l.Initialize(Band915, c.id, c.net) {
			t.Fatalf("initialize node %d on %d failed", c.id, c.net)
		}
		c.l.Encrypt(testKey)
		t.Cleanup(func() { c.l.Close() })
	}

	if err := gw.Send(203, []byte("ping"), true); err != nil {
		t.Fatalf("send: %v", err)
	}
	pkt, ok := awaitPacket(node, 2*time.Second)
	if !ok || pkt.Sender != 1 || string(pkt.Payload) != "ping" {
		t.Fatalf("packet: got %+v, ok=%v", pkt, ok)
	}
	if _, ok := awaitPacket(gw, 200*time.Millisecond); ok {
		t.Error("sender heard its own frame")
	}
	if _, ok := awaitPacket(other, 200*time.Millisecond); ok {
		t.Error("packet crossed networks")
	}
}
