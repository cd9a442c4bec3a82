package prober

import (
	"context"
	"net"
	"testing"
	"time"
)

func listenOnce(t *testing.T) (addr string, port int, closeFn func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	tcpAddr := ln.Addr().(*net.TCPAddr)
	return tcpAddr.IP.String(), tcpAddr.Port, func() { ln.Close() }
}

func TestProbe_ReachableExcludedFromResult(t *testing.T) {
	addr, port, closeFn := listenOnce(t)
	defer closeFn()

	p := &Prober{Timeout: 500 * time.Millisecond, Concurrency: 4}
	unreachable, err := p.Probe(context.Background(), []string{addr, "127.0.0.2"}, []int{port})
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if len(unreachable) != 1 || unreachable[0] != "127.0.0.2" {
		t.Errorf("unreachable = %v, want [127.0.0.2]", unreachable)
	}
}

func TestProbe_UnreachablePortReported(t *testing.T) {
	p := &Prober{Timeout: 200 * time.Millisecond, Concurrency: 4}
	// Port 1 on loopback is very unlikely to accept in a test sandbox.
	unreachable, err := p.Probe(context.Background(), []string{"127.0.0.1"}, []int{1})
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if len(unreachable) != 1 || unreachable[0] != "127.0.0.1" {
		t.Errorf("unreachable = %v, want [127.0.0.1]", unreachable)
	}
}

func TestProbe_EmptyInputsRejected(t *testing.T) {
	p := New()
	if _, err := p.Probe(context.Background(), nil, []int{22}); err == nil {
		t.Error("expected error for empty addrs")
	}
	if _, err := p.Probe(context.Background(), []string{"127.0.0.1"}, nil); err == nil {
		t.Error("expected error for empty ports")
	}
}

func TestProbeHosts_MapsBackToNames(t *testing.T) {
	addr, port, closeFn := listenOnce(t)
	defer closeFn()

	p := &Prober{Timeout: 500 * time.Millisecond, Concurrency: 4}
	nameToIP := map[string]string{
		"hv-reachable":   addr,
		"hv-unreachable": "127.0.0.2",
	}
	unreachable, err := ProbeHosts(context.Background(), p, nameToIP, []int{port})
	if err != nil {
		t.Fatalf("ProbeHosts: %v", err)
	}
	if len(unreachable) != 1 || unreachable[0] != "hv-unreachable" {
		t.Errorf("unreachable = %v, want [hv-unreachable]", unreachable)
	}
}
