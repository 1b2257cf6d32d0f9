package radio

import (
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const testGroup = "239.255.69.99"

func testPort() int {
	return 42000 + os.Getpid()%1000
}

func awaitPacket(l Link, wait time.Duration) (InboundPacket, bool) {
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		if pkt, ok := l.ReceiveDone(); ok {
			return pkt, true
		}
		time.Sleep(time.Millisecond)
	}
	return InboundPacket{}, false
}

func openUDP(t *testing.T, nodeID, networkID uint8) *UDPLink {
	t.Helper()
	l := NewUDPLink(testGroup, testPort(), "", zerolog.Nop())
	if !l.Initialize(Band915, nodeID, networkID) {
		t.Skip("multicast group not joinable here")
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestUDPLink_Loopback(t *testing.T) {
	gw := openUDP(t, 1, 150)
	node := openUDP(t, 203, 150)
	other := openUDP(t, 203, 151)
	gw.Encrypt(testKey)
	node.Encrypt(testKey)
	other.Encrypt(testKey)

	if err := gw.Send(BroadcastAddr, []byte("hello"), false); err != nil {
		t.Skipf("multicast send unavailable: %v", err)
	}
	if _, ok := awaitPacket(node, 2*time.Second); !ok {
		t.Skip("multicast loopback not delivered on this host")
	}

	if err := gw.Send(203, []byte{0x41, 0x0B, 0xFF}, true); err != nil {
		t.Fatalf("send: %v", err)
	}
	pkt, ok := awaitPacket(node, 2*time.Second)
	if !ok {
		t.Fatal("addressed packet not delivered")
	}
	if pkt.Sender != 1 || pkt.Target != 203 || !pkt.AckRequested || string(pkt.Payload) != "A\x0b\xff" {
		t.Errorf("packet: got %+v", pkt)
	}

	if _, ok := awaitPacket(gw, 200*time.Millisecond); ok {
		t.Error("sender heard its own frames")
	}
	if _, ok := awaitPacket(other, 200*time.Millisecond); ok {
		t.Error("packet crossed networks")
	}

	if err := node.SendACK(1, []byte("FLX?OK")); err != nil {
		t.Fatalf("ack: %v", err)
	}
	ack, ok := awaitPacket(gw, 2*time.Second)
	if !ok || !ack.ACK || string(ack.Payload) != "FLX?OK" {
		t.Errorf("ack: got %+v, ok=%v", ack, ok)
	}
}

func TestUDPLink_CloseTwice(t *testing.T) {
	l := openUDP(t, 5, 150)
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
	if err := l.Send(1, []byte("x"), false); err == nil {
		t.Error("send after close succeeded")
	}
}

func TestUDPLink_InvalidGroup(t *testing.T) {
	l := NewUDPLink("not-an-ip", testPort(), "", zerolog.Nop())
	if l.Initialize(Band915, 1, 150) {
		l.Close()
		t.Fatal("initialize succeeded with an invalid group")
	}
}
