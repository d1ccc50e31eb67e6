package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestRegistryRemove(t *testing.T) {
	reg := NewRegistry()
	c := New(context.Background(), Options{Role: RoleReceiver})

	id := reg.Register(c)
	if got, err := reg.Lookup(id); err != nil || got != c {
		t.Fatalf("lookup: %v", err)
	}
	reg.Remove(id)
	if _, err := reg.Lookup(id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestRegistryConcurrentRegister(t *testing.T) {
	const n = 100

	reg := NewRegistry()
	ids := make([]string, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i] = reg.Register(New(context.Background(), Options{Role: RoleReceiver}))
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for _, id := range ids {
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
	if reg.Len() != n {
		t.Fatalf("registry has %d entries, want %d", reg.Len(), n)
	}
}

func TestRegistryIDCollision(t *testing.T) {
	reg := NewRegistry()
	var next int
	reg.newID = func() string {
		next++
		return fmt.Sprintf("fresh-%d", next)
	}

	a := New(context.Background(), Options{ID: "dup", Role: RoleReceiver})
	b := New(context.Background(), Options{ID: "dup", Role: RoleReceiver})

	if id := reg.Register(a); id != "dup" {
		t.Fatalf("got %s, want dup", id)
	}
	id := reg.Register(b)
	if id == "dup" || b.ID() != id {
		t.Fatalf("colliding connection got id %s", id)
	}
}

func TestRegistryCloseAll(t *testing.T) {
	reg := NewRegistry()
	for i := 0; i < 3; i++ {
		c := New(context.Background(), Options{Role: RoleReceiver, Negotiator: &fakeNegotiator{}})
		if _, err := c.AcceptOffer(context.Background(), Description{Type: SDPTypeOffer, SDP: testOffer}); err != nil {
			t.Fatal(err)
		}
		reg.Register(c)
	}
	if err := reg.CloseAll(); err != nil {
		t.Fatal(err)
	}
	if reg.Len() != 0 {
		t.Fatalf("registry has %d entries, want 0", reg.Len())
	}
}
