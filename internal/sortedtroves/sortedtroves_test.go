package sortedtroves

import (
	"testing"

	"ironvault/internal/storage"
	"ironvault/internal/types"
)

func owner(b byte) types.Owner {
	var o types.Owner
	o[0] = b
	return o
}

func newTestList(t *testing.T) *List {
	t.Helper()
	return NewList(NewPersistentState(storage.NewMemDB()))
}

func TestInsertOrdersByAscendingICR(t *testing.T) {
	list := newTestList(t)
	a, b, c := owner(1), owner(2), owner(3)

	if err := list.Insert(a, 12000, nil, nil); err != nil {
		t.Fatalf("insert a: %v", err)
	}
	if err := list.Insert(b, 20000, nil, nil); err != nil {
		t.Fatalf("insert b: %v", err)
	}
	if err := list.Insert(c, 15000, nil, nil); err != nil {
		t.Fatalf("insert c: %v", err)
	}

	head, ok, err := list.First()
	if err != nil || !ok {
		t.Fatalf("first: %v %v", ok, err)
	}
	if head != a {
		t.Fatalf("head = %v, want a (lowest ICR / riskiest)", head)
	}

	tail, ok, err := list.Last()
	if err != nil || !ok {
		t.Fatalf("last: %v %v", ok, err)
	}
	if tail != b {
		t.Fatalf("tail = %v, want b (highest ICR / safest)", tail)
	}

	mid, ok, err := list.Next(a)
	if err != nil || !ok {
		t.Fatalf("next(a): %v %v", ok, err)
	}
	if mid != c {
		t.Fatalf("next(a) = %v, want c", mid)
	}

	size, err := list.Size()
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if size != 3 {
		t.Fatalf("size = %d, want 3", size)
	}
}

func TestRemoveHeadRelinksNext(t *testing.T) {
	list := newTestList(t)
	a, b := owner(1), owner(2)
	if err := list.Insert(a, 10000, nil, nil); err != nil {
		t.Fatalf("insert a: %v", err)
	}
	if err := list.Insert(b, 20000, nil, nil); err != nil {
		t.Fatalf("insert b: %v", err)
	}
	if err := list.Remove(a); err != nil {
		t.Fatalf("remove a: %v", err)
	}
	head, ok, err := list.First()
	if err != nil || !ok {
		t.Fatalf("first: %v %v", ok, err)
	}
	if head != b {
		t.Fatalf("head = %v, want b", head)
	}
}

func TestReinsertMovesNode(t *testing.T) {
	list := newTestList(t)
	a, b := owner(1), owner(2)
	if err := list.Insert(a, 10000, nil, nil); err != nil {
		t.Fatalf("insert a: %v", err)
	}
	if err := list.Insert(b, 15000, nil, nil); err != nil {
		t.Fatalf("insert b: %v", err)
	}
	// b's ICR drops below a -> moves to the head (riskier end)
	if err := list.Reinsert(b, 5000, nil, nil); err != nil {
		t.Fatalf("reinsert b: %v", err)
	}
	head, ok, err := list.First()
	if err != nil || !ok {
		t.Fatalf("first: %v %v", ok, err)
	}
	if head != b {
		t.Fatalf("head = %v, want b after reinsert dropped its ICR below a", head)
	}
}

func TestICRFloorDetectsLiquidatableHead(t *testing.T) {
	list := newTestList(t)
	a, b := owner(1), owner(2)
	if err := list.Insert(a, 20000, nil, nil); err != nil {
		t.Fatalf("insert a: %v", err)
	}
	if err := list.Insert(b, 9000, nil, nil); err != nil {
		t.Fatalf("insert b: %v", err)
	}
	below, err := list.ICRFloor(11000)
	if err != nil {
		t.Fatalf("icr floor: %v", err)
	}
	if !below {
		t.Fatalf("expected head below threshold")
	}
}

// TestInsertTiesAreBrokenByInsertionOrder covers the stable-ordering
// requirement for equal ICRs: a later insert at the same ICR as an existing
// node must land behind it (closer to the tail), never ahead of it.
func TestInsertTiesAreBrokenByInsertionOrder(t *testing.T) {
	list := newTestList(t)
	a, b, c := owner(1), owner(2), owner(3)

	if err := list.Insert(a, 12000, nil, nil); err != nil {
		t.Fatalf("insert a: %v", err)
	}
	if err := list.Insert(b, 12000, nil, nil); err != nil {
		t.Fatalf("insert b: %v", err)
	}
	if err := list.Insert(c, 12000, nil, nil); err != nil {
		t.Fatalf("insert c: %v", err)
	}

	head, ok, err := list.First()
	if err != nil || !ok || head != a {
		t.Fatalf("head = %v ok=%v err=%v, want a (first inserted)", head, ok, err)
	}
	mid, ok, err := list.Next(a)
	if err != nil || !ok || mid != b {
		t.Fatalf("next(a) = %v ok=%v err=%v, want b", mid, ok, err)
	}
	tail, ok, err := list.Last()
	if err != nil || !ok || tail != c {
		t.Fatalf("tail = %v ok=%v err=%v, want c (last inserted)", tail, ok, err)
	}
}

func TestInsertDuplicateFails(t *testing.T) {
	list := newTestList(t)
	a := owner(1)
	if err := list.Insert(a, 20000, nil, nil); err != nil {
		t.Fatalf("insert a: %v", err)
	}
	if err := list.Insert(a, 20000, nil, nil); err == nil {
		t.Fatalf("expected error inserting duplicate id")
	}
}
