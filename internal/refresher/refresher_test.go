package refresher

import (
	"context"
	"errors"
	"testing"

	"github.com/oriys/sonny/internal/cache"
	"github.com/oriys/sonny/internal/cloudadapter"
	"github.com/oriys/sonny/internal/inventory"
)

type failingAdapter struct {
	*cloudadapter.Fake
}

func (f *failingAdapter) ListHypervisors(ctx context.Context) ([]inventory.Host, error) {
	return nil, errors.New("control plane unreachable")
}

func TestRefresh_Success(t *testing.T) {
	c := cache.NewInMemoryCache()
	defer c.Close()
	snap := inventory.New(c, "test-cloud")

	fake := cloudadapter.NewFake()
	fake.Hosts["hv1"] = inventory.Host{Name: "hv1", Zone: "nova", VCPUs: 8}
	fake.Servers["u1"] = inventory.Tenant{ID: "u1", HypervisorHostname: "hv1"}

	r := New(fake, snap)
	ctx := context.Background()
	if err := r.Refresh(ctx, true); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if !snap.APIAlive(ctx) {
		t.Error("expected api_alive=true after successful refresh")
	}
	hosts, err := snap.Hosts(ctx)
	if err != nil {
		t.Fatalf("Hosts: %v", err)
	}
	if _, ok := hosts["hv1"]; !ok {
		t.Error("expected hv1 in refreshed hosts")
	}
	servers, err := snap.Servers(ctx)
	if err != nil {
		t.Fatalf("Servers: %v", err)
	}
	if _, ok := servers["u1"]; !ok {
		t.Error("expected u1 in refreshed servers")
	}
}

func TestRefresh_FailureSetsAPIAliveFalse(t *testing.T) {
	c := cache.NewInMemoryCache()
	defer c.Close()
	snap := inventory.New(c, "test-cloud")
	ctx := context.Background()
	_ = snap.SetAPIAlive(ctx, true)

	fake := &failingAdapter{Fake: cloudadapter.NewFake()}
	r := New(fake, snap)

	if err := r.Refresh(ctx, false); err == nil {
		t.Fatal("expected error from failing adapter")
	}
	if snap.APIAlive(ctx) {
		t.Error("expected api_alive=false after failed refresh")
	}
}

func TestNeedsTenants_MissingKeyIsTrue(t *testing.T) {
	c := cache.NewInMemoryCache()
	defer c.Close()
	snap := inventory.New(c, "test-cloud")
	if !NeedsTenants(context.Background(), snap) {
		t.Error("expected NeedsTenants=true when servers key missing")
	}
}

func TestNeedsTenants_FreshIsFalse(t *testing.T) {
	c := cache.NewInMemoryCache()
	defer c.Close()
	snap := inventory.New(c, "test-cloud")
	ctx := context.Background()
	if err := snap.PutServers(ctx, map[string]inventory.Tenant{}); err != nil {
		t.Fatalf("PutServers: %v", err)
	}
	if NeedsTenants(ctx, snap) {
		t.Error("expected NeedsTenants=false right after a fresh write")
	}
}
