package download

import "testing"

type fakeItem struct{ size uint64 }

func (f fakeItem) Size() uint64            { return f.size }
func (f fakeItem) DownloadedBytes() uint64 { return 0 }
func (f fakeItem) Status() FileStatus      { return FileQueued }

func idsOf(t *testing.T, q *Queue) []uint64 {
	t.Helper()
	items := q.Items()
	ids := make([]uint64, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return ids
}

func TestQueueMoveReorders(t *testing.T) {
	q := NewQueue()
	a := q.Append(fakeItem{1}, 0)
	b := q.Append(fakeItem{1}, 0)
	c := q.Append(fakeItem{1}, 0)
	d := q.Append(fakeItem{1}, 0)

	// move({c}, before, a) -> [c,a,b,d]
	if err := q.Move(c, a, Before); err != nil {
		t.Fatalf("Move: %v", err)
	}
	got := idsOf(t, q)
	want := []uint64{c, a, b, d}
	assertIDs(t, got, want)

	// move({a,d}, after, b) -> [c,b,a,d]
	if err := q.Move(a, b, After); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if err := q.Move(d, a, After); err != nil {
		t.Fatalf("Move: %v", err)
	}
	got = idsOf(t, q)
	want = []uint64{c, b, a, d}
	assertIDs(t, got, want)
}

func assertIDs(t *testing.T, got, want []uint64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %v want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("order mismatch at %d: got %v want %v", i, got, want)
		}
	}
}

func TestQueueEnqueueAtPosition(t *testing.T) {
	q := NewQueue()
	a := q.Append(fakeItem{1}, 0)
	id := q.Enqueue(fakeItem{2}, a, Before)

	got := idsOf(t, q)
	if got[0] != id || got[1] != a {
		t.Fatalf("expected new item before a, got %v", got)
	}
}

func TestQueueRemove(t *testing.T) {
	q := NewQueue()
	a := q.Append(fakeItem{1}, 0)
	b := q.Append(fakeItem{1}, 0)
	q.Remove(a)

	got := idsOf(t, q)
	if len(got) != 1 || got[0] != b {
		t.Fatalf("expected only b to remain, got %v", got)
	}
}
