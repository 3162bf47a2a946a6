package peer

import (
	"testing"
	"time"
)

func TestDirectoryUpsertAndGet(t *testing.T) {
	d := New("self", 50*time.Millisecond)

	d.Upsert(Peer{ID: "p1", Nickname: "bee", Addr: "10.0.0.1", Port: 1})
	if d.Len() != 1 {
		t.Fatalf("expected 1 peer, got %d", d.Len())
	}

	got, ok := d.Get("p1")
	if !ok {
		t.Fatal("expected p1 to be present")
	}
	if got.Nickname != "bee" {
		t.Errorf("got nickname %q", got.Nickname)
	}
}

func TestDirectoryNeverAdmitsSelf(t *testing.T) {
	d := New("self", time.Second)
	d.Upsert(Peer{ID: "self", Nickname: "me"})
	if d.Len() != 0 {
		t.Fatalf("expected self to be excluded, got %d peers", d.Len())
	}
}

func TestDirectoryEvictStale(t *testing.T) {
	d := New("self", 10*time.Millisecond)
	d.Upsert(Peer{ID: "p1"})

	time.Sleep(30 * time.Millisecond)
	removed := d.EvictStale()

	if len(removed) != 1 || removed[0] != "p1" {
		t.Fatalf("expected p1 evicted, got %v", removed)
	}
	if d.Len() != 0 {
		t.Errorf("expected empty directory after eviction, got %d", d.Len())
	}
}

func TestDirectoryEvents(t *testing.T) {
	d := New("self", time.Second)
	events := d.Subscribe(4)

	d.Upsert(Peer{ID: "p1", Nickname: "a"})
	d.Upsert(Peer{ID: "p1", Nickname: "b"})

	ev1 := <-events
	if ev1.Kind != EventAdded {
		t.Errorf("expected EventAdded, got %v", ev1.Kind)
	}

	ev2 := <-events
	if ev2.Kind != EventUpdated {
		t.Errorf("expected EventUpdated, got %v", ev2.Kind)
	}
}

func TestNormalizeNicknameTruncates(t *testing.T) {
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a'
	}
	got := NormalizeNickname(string(long))
	if len(got) != 255 {
		t.Errorf("expected truncation to 255 bytes, got %d", len(got))
	}
}
