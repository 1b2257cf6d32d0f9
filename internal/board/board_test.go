package board

import (
	"runtime"
	"testing"
)

func TestCollect(t *testing.T) {
	info, err := Collect("")
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	if info == nil {
		t.Fatal("Collect returned nil")
	}

	// Hostname should always be available
	if info.Hostname == "" {
		t.Error("Hostname is empty")
	}
	if info.Arch != runtime.GOARCH {
		t.Errorf("Arch: got %s, want %s", info.Arch, runtime.GOARCH)
	}

	t.Logf("Collected: host=%s iface=%s ip=%s", info.Hostname, info.Interface, info.IPAddress)
}

func TestCollect_Loopback(t *testing.T) {
	info, err := Collect("lo")
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if info.Interface == "" {
		t.Skip("no interface named lo on this host")
	}
	if info.IPAddress != "127.0.0.1" {
		t.Errorf("loopback address: got %s, want 127.0.0.1", info.IPAddress)
	}
}

func TestReadOSReleasePrettyName(t *testing.T) {
	name := readOSReleasePrettyName()
	t.Logf("PRETTY_NAME: %q", name)
}
