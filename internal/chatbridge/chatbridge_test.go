package chatbridge

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oriys/sonny/internal/cache"
	"github.com/oriys/sonny/internal/inventory"
)

// fakeTransport lets tests drive Connect failures/successes and inspect
// posted messages without a live Slack session.
type fakeTransport struct {
	mu       sync.Mutex
	posts    []string
	connects int
	// failFirstN connect attempts return an error immediately.
	failFirstN int
	mentions   []Mention
}

func (f *fakeTransport) PostMessage(ctx context.Context, channel, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, text)
	return nil
}

func (f *fakeTransport) Connect(ctx context.Context, mentions chan<- Mention, onConnected func()) error {
	f.mu.Lock()
	f.connects++
	attempt := f.connects
	queued := append([]Mention(nil), f.mentions...)
	f.mentions = nil
	f.mu.Unlock()

	if attempt <= f.failFirstN {
		return errConnectFailed
	}

	onConnected()
	for _, m := range queued {
		select {
		case mentions <- m:
		case <-ctx.Done():
			return nil
		}
	}
	<-ctx.Done()
	return nil
}

type staticErr string

func (e staticErr) Error() string { return string(e) }

const errConnectFailed = staticErr("connect failed")

func newSnapshot(t *testing.T, cloud string) *inventory.Snapshot {
	t.Helper()
	c := cache.NewInMemoryCache()
	t.Cleanup(func() { c.Close() })
	return inventory.New(c, cloud)
}

func TestFlush_CoalescesLinesAcrossClouds(t *testing.T) {
	ft := &fakeTransport{}
	snapA := newSnapshot(t, "cloud-a")
	b := New(ft, nil, "#ops", []string{"cloud-a", "cloud-b"}, map[string]*inventory.Snapshot{"cloud-a": snapA})

	b.mu.Lock()
	b.buffers["cloud-a"] = []string{"[WARN] hv1 suspicious"}
	b.buffers["cloud-b"] = []string{"[ERROR] hv2 dead"}
	b.mu.Unlock()

	b.flush(context.Background())

	if len(ft.posts) != 1 {
		t.Fatalf("expected exactly one post, got %d: %v", len(ft.posts), ft.posts)
	}
	if !strings.Contains(ft.posts[0], "cloud-a: [WARN] hv1 suspicious") || !strings.Contains(ft.posts[0], "cloud-b: [ERROR] hv2 dead") {
		t.Errorf("unexpected post body: %q", ft.posts[0])
	}
}

func TestFlush_NoPostWhenNothingBuffered(t *testing.T) {
	ft := &fakeTransport{}
	b := New(ft, nil, "#ops", nil, nil)
	b.flush(context.Background())
	if len(ft.posts) != 0 {
		t.Fatalf("expected no post, got %v", ft.posts)
	}
}

func TestHandleMention_Help(t *testing.T) {
	ft := &fakeTransport{}
	b := New(ft, nil, "#ops", nil, nil)
	b.handleMention(context.Background(), "C1", "help")
	if len(ft.posts) != 1 || !strings.Contains(ft.posts[0], "status") {
		t.Fatalf("unexpected help reply: %v", ft.posts)
	}
}

func TestHandleMention_ShowHypervisor(t *testing.T) {
	ft := &fakeTransport{}
	snap := newSnapshot(t, "cloud-a")
	ctx := context.Background()
	if err := snap.PutHosts(ctx, map[string]inventory.Host{
		"hv1": {Name: "hv1", Zone: "nova", Aggregate: "agg1", VCPUs: 8},
	}); err != nil {
		t.Fatalf("PutHosts: %v", err)
	}

	b := New(ft, nil, "#ops", []string{"cloud-a"}, map[string]*inventory.Snapshot{"cloud-a": snap})
	b.handleMention(ctx, "C1", "show hv hv1")

	if len(ft.posts) != 1 || !strings.Contains(ft.posts[0], "zone: nova") {
		t.Fatalf("unexpected show reply: %v", ft.posts)
	}
}

func TestHandleMention_ShowStripsMentionForm(t *testing.T) {
	ft := &fakeTransport{}
	snap := newSnapshot(t, "cloud-a")
	ctx := context.Background()
	if err := snap.PutServers(ctx, map[string]inventory.Tenant{
		"u1": {ID: "u1", Name: "web-01", HypervisorHostname: "hv1"},
	}); err != nil {
		t.Fatalf("PutServers: %v", err)
	}

	b := New(ft, nil, "#ops", []string{"cloud-a"}, map[string]*inventory.Snapshot{"cloud-a": snap})
	b.handleMention(ctx, "C1", "show vm <web-01|web-01>")

	if len(ft.posts) != 1 || !strings.Contains(ft.posts[0], "hv1") {
		t.Fatalf("expected vm dump to resolve stripped mention form, got: %v", ft.posts)
	}
}

func TestHandleMention_ShowNotFound(t *testing.T) {
	ft := &fakeTransport{}
	snap := newSnapshot(t, "cloud-a")
	b := New(ft, nil, "#ops", []string{"cloud-a"}, map[string]*inventory.Snapshot{"cloud-a": snap})
	b.handleMention(context.Background(), "C1", "show hv ghost")
	if len(ft.posts) != 1 || ft.posts[0] != "not found" {
		t.Fatalf("expected not found, got %v", ft.posts)
	}
}

func TestConnectLoop_AnnouncesReinitAfterFailure(t *testing.T) {
	ft := &fakeTransport{failFirstN: 1}
	b := New(ft, nil, "#ops", nil, nil)
	b.ReconnectInitialInterval = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- b.connectLoop(ctx) }()
	<-done

	ft.mu.Lock()
	defer ft.mu.Unlock()
	if ft.connects < 2 {
		t.Fatalf("expected at least 2 connect attempts, got %d", ft.connects)
	}
	found := false
	for _, p := range ft.posts {
		if p == "sonny re-initialized" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a re-initialized announcement, got posts %v", ft.posts)
	}
}
