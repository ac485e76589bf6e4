package signaling

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

type fakeTransport struct {
	mu     sync.Mutex
	msgs   [][]byte
	closed bool
	full   bool
}

func (f *fakeTransport) Send(msg []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrTransportClosed
	}
	if f.full {
		return ErrBufferFull
	}
	f.msgs = append(f.msgs, append([]byte(nil), msg...))
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) messages() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.msgs))
	copy(out, f.msgs)
	return out
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func TestRegistry_RegisterLookupUnregister(t *testing.T) {
	r := NewRegistry()
	c, err := r.Register(RoleCaller, &fakeTransport{})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if c.ID == "" {
		t.Fatalf("expected generated id")
	}
	if got, ok := r.Lookup(c.ID); !ok || got != c {
		t.Fatalf("expected lookup hit")
	}

	r.Unregister(c.ID)
	if _, ok := r.Lookup(c.ID); ok {
		t.Fatalf("expected not found after unregister")
	}
	// Idempotent.
	r.Unregister(c.ID)
	r.Unregister("never-registered")
}

func TestRegistry_RegisterAsRejectsLiveID(t *testing.T) {
	r := NewRegistry()
	if _, err := r.RegisterAs("owner-id", RoleOwner, &fakeTransport{}); err != nil {
		t.Fatalf("register owner: %v", err)
	}
	if _, err := r.RegisterAs("owner-id", RoleOwner, &fakeTransport{}); !errors.Is(err, ErrIDInUse) {
		t.Fatalf("expected ErrIDInUse, got %v", err)
	}

	r.Unregister("owner-id")
	if _, err := r.RegisterAs("owner-id", RoleOwner, &fakeTransport{}); err != nil {
		t.Fatalf("expected id reusable after unregister, got %v", err)
	}
}

func TestRegistry_RegisterRetriesOnCollision(t *testing.T) {
	r := NewRegistry()
	ids := []string{"dup", "dup", "fresh"}
	i := 0
	r.newID = func() string {
		id := ids[i]
		i++
		return id
	}

	first, err := r.Register(RoleCaller, &fakeTransport{})
	if err != nil || first.ID != "dup" {
		t.Fatalf("unexpected first registration %v %v", first, err)
	}
	second, err := r.Register(RoleCaller, &fakeTransport{})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if second.ID != "fresh" {
		t.Fatalf("expected collision to be skipped, got %q", second.ID)
	}
}

func TestRegistry_RejectsNilTransportAndEmptyID(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Register(RoleCaller, nil); !errors.Is(err, ErrNilTransport) {
		t.Fatalf("expected ErrNilTransport, got %v", err)
	}
	if _, err := r.RegisterAs("  ", RoleOwner, &fakeTransport{}); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
}

func TestRegistry_UnregisterConnKeepsNewerHolder(t *testing.T) {
	r := NewRegistry()
	old, _ := r.RegisterAs("owner-id", RoleOwner, &fakeTransport{})
	r.Unregister("owner-id")
	newer, _ := r.RegisterAs("owner-id", RoleOwner, &fakeTransport{})

	if r.UnregisterConn(old) {
		t.Fatalf("stale connection must not evict the newer holder")
	}
	if got, ok := r.Lookup("owner-id"); !ok || got != newer {
		t.Fatalf("expected newer owner still registered")
	}
}

func TestRegistry_ConcurrentRegistrationsAreUnique(t *testing.T) {
	r := NewRegistry()
	const n = 200

	var wg sync.WaitGroup
	ids := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := r.Register(RoleCaller, &fakeTransport{})
			if err != nil {
				t.Errorf("register %d: %v", i, err)
				return
			}
			ids <- c.ID
			if i%2 == 0 {
				r.Unregister(c.ID)
				if _, ok := r.Lookup(c.ID); ok {
					t.Errorf("lookup after unregister found %s", c.ID)
				}
			}
		}(i)
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
	if got, want := r.Len(), n/2; got != want {
		t.Fatalf("expected %d live connections, got %d", want, got)
	}
}

func TestRegistry_ConcurrentOwnerRaceHasOneWinner(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.RegisterAs("owner-id", RoleOwner, &fakeTransport{}); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one owner registration, got %d", wins)
	}
}

func ExampleRegistry() {
	r := NewRegistry()
	c, _ := r.RegisterAs("owner-id", RoleOwner, &fakeTransport{})
	_, ok := r.Lookup(c.ID)
	fmt.Println(c.ID, ok)
	r.Unregister(c.ID)
	_, ok = r.Lookup(c.ID)
	fmt.Println(ok)
	// Output:
	// owner-id true
	// false
}
