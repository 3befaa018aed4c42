package session

import (
	"context"
	"testing"
	"time"

	"github.com/clinicvoice/relay/pkg/realtime"
)

func testFactory() Factory {
	return func(id string, client ClientWriter) *Session {
		return New(Options{
			ID:         id,
			Client:     client,
			Factory:    func(realtime.Handler) Upstream { return newFakeUpstream() },
			Dispatcher: &fakeDispatcher{},
		})
	}
}

func TestRegistryCreateAssignsUniqueIDs(t *testing.T) {
	reg := NewRegistry(testFactory())

	a, err := reg.Create(&captureClient{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	b, err := reg.Create(&captureClient{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if a.ID() == b.ID() {
		t.Fatalf("expected unique session ids, both %s", a.ID())
	}
	if reg.Count() != 2 {
		t.Fatalf("expected count 2, got %d", reg.Count())
	}
	if got, ok := reg.Get(a.ID()); !ok || got != a {
		t.Fatalf("expected lookup to return the created session")
	}
}

func TestRegistryRemoveIsIdempotentAndClosesSession(t *testing.T) {
	reg := NewRegistry(testFactory())
	sess, _ := reg.Create(&captureClient{})
	sess.Start()

	if !reg.Remove(sess.ID()) {
		t.Fatalf("expected first remove to report true")
	}
	if reg.Remove(sess.ID()) {
		t.Fatalf("expected second remove to report false")
	}
	if reg.Count() != 0 {
		t.Fatalf("expected count 0, got %d", reg.Count())
	}
	if sess.State() != StateClosed {
		t.Fatalf("expected removed session closed, got %s", sess.State())
	}
}

func TestRegistryCloseAll(t *testing.T) {
	reg := NewRegistry(testFactory())
	a, _ := reg.Create(&captureClient{})
	b, _ := reg.Create(&captureClient{})

	reg.CloseAll()

	if reg.Count() != 0 {
		t.Fatalf("expected empty registry, got %d", reg.Count())
	}
	if a.State() != StateClosed || b.State() != StateClosed {
		t.Fatalf("expected all sessions closed, got %s and %s", a.State(), b.State())
	}
}

func TestRegistryDrainingRejectsCreate(t *testing.T) {
	reg := NewRegistry(testFactory())
	reg.SetDraining(true)

	if _, err := reg.Create(&captureClient{}); err != ErrDraining {
		t.Fatalf("expected ErrDraining, got %v", err)
	}
}

func TestRegistryWaitForEmpty(t *testing.T) {
	reg := NewRegistry(testFactory())
	sess, _ := reg.Create(&captureClient{})

	go func() {
		time.Sleep(20 * time.Millisecond)
		reg.Remove(sess.ID())
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if !reg.WaitForEmpty(ctx, 5*time.Millisecond) {
		t.Fatalf("expected registry to drain")
	}
}

func TestRegistryWaitForEmptyTimesOut(t *testing.T) {
	reg := NewRegistry(testFactory())
	if _, err := reg.Create(&captureClient{}); err != nil {
		t.Fatalf("create: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if reg.WaitForEmpty(ctx, 5*time.Millisecond) {
		t.Fatalf("expected wait to time out while a session remains")
	}
}
