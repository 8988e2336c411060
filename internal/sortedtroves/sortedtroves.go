// Package sortedtroves maintains a doubly-linked list of trove owners
// ordered by ascending individual collateral ratio: the head is always the
// riskiest open trove, the tail the safest. Liquidation and redemption walk
// this list instead of scanning every trove in the ledger.
package sortedtroves

import (
	"ironvault/internal/ironvault"
	"ironvault/internal/types"
)

const moduleName = "sortedtroves"

// node is one entry in the list, keyed by owner in the backing store rather
// than held as a native pointer.
type node struct {
	Owner  types.Owner  `json:"owner"`
	ICR    uint64       `json:"icr"`
	PrevID *types.Owner `json:"prev_id,omitempty"`
	NextID *types.Owner `json:"next_id,omitempty"`
}

// listState is the aggregate head/tail/size record.
type listState struct {
	Head *types.Owner `json:"head,omitempty"`
	Tail *types.Owner `json:"tail,omitempty"`
	Size uint64       `json:"size"`
}

// engineState is the persistence seam the list is wired against.
type engineState interface {
	getNode(owner types.Owner) (*node, error)
	putNode(*node) error
	deleteNode(owner types.Owner) error
	getListState() (*listState, error)
	putListState(*listState) error
}

// List is the sorted-by-ICR trove ordering.
type List struct {
	state engineState
}

// NewList constructs a List bound to its persistence seam.
func NewList(state engineState) *List {
	return &List{state: state}
}

// First returns the owner with the lowest ICR (riskiest) in the list, or
// false if the list is empty.
func (l *List) First() (types.Owner, bool, error) {
	ls, err := l.state.getListState()
	if err != nil {
		return types.Owner{}, false, err
	}
	if ls.Head == nil {
		return types.Owner{}, false, nil
	}
	return *ls.Head, true, nil
}

// Last returns the owner with the highest ICR (safest) in the list, or false
// if the list is empty.
func (l *List) Last() (types.Owner, bool, error) {
	ls, err := l.state.getListState()
	if err != nil {
		return types.Owner{}, false, err
	}
	if ls.Tail == nil {
		return types.Owner{}, false, nil
	}
	return *ls.Tail, true, nil
}

// Next returns the owner immediately after id (higher ICR), or false if id
// is the tail.
func (l *List) Next(id types.Owner) (types.Owner, bool, error) {
	n, err := l.state.getNode(id)
	if err != nil {
		return types.Owner{}, false, err
	}
	if n == nil || n.NextID == nil {
		return types.Owner{}, false, nil
	}
	return *n.NextID, true, nil
}

// Prev returns the owner immediately before id (lower ICR), or false if id
// is the head.
func (l *List) Prev(id types.Owner) (types.Owner, bool, error) {
	n, err := l.state.getNode(id)
	if err != nil {
		return types.Owner{}, false, err
	}
	if n == nil || n.PrevID == nil {
		return types.Owner{}, false, nil
	}
	return *n.PrevID, true, nil
}

// Size returns the number of troves currently tracked.
func (l *List) Size() (uint64, error) {
	ls, err := l.state.getListState()
	if err != nil {
		return 0, err
	}
	return ls.Size, nil
}

// Contains reports whether id is present in the list.
func (l *List) Contains(id types.Owner) (bool, error) {
	n, err := l.state.getNode(id)
	if err != nil {
		return false, err
	}
	return n != nil, nil
}

// Insert places id into the list at its correctly ordered position by icr.
// prevHint/nextHint are optional neighbor hints (as returned to an off-chain
// caller who computed icr slightly earlier): when the hint is still valid
// the list is updated in O(1); otherwise Insert falls back to a linear scan
// forward from prevHint when that node is still listed at an ICR no greater
// than icr, and from the head in every other case.
func (l *List) Insert(id types.Owner, icr uint64, prevHint, nextHint *types.Owner) error {
	const op = "sortedtroves.Insert"
	if icr == 0 {
		return ironvault.Fail(op, ironvault.CodeInvalidList)
	}
	exists, err := l.Contains(id)
	if err != nil {
		return err
	}
	if exists {
		return ironvault.Fail(op, ironvault.CodeInvalidList)
	}

	prevID, nextID, err := l.resolvePosition(icr, prevHint, nextHint)
	if err != nil {
		return err
	}

	n := &node{Owner: id, ICR: icr, PrevID: prevID, NextID: nextID}
	if err := l.state.putNode(n); err != nil {
		return err
	}

	ls, err := l.state.getListState()
	if err != nil {
		return err
	}

	switch {
	case prevID == nil && nextID == nil:
		ls.Head = &id
		ls.Tail = &id
	case prevID == nil:
		head := *nextID
		if err := l.linkNeighbor(head, &id, true); err != nil {
			return err
		}
		ls.Head = &id
	case nextID == nil:
		tail := *prevID
		if err := l.linkNeighbor(tail, &id, false); err != nil {
			return err
		}
		ls.Tail = &id
	default:
		if err := l.linkNeighbor(*prevID, &id, false); err != nil {
			return err
		}
		if err := l.linkNeighbor(*nextID, &id, true); err != nil {
			return err
		}
	}

	ls.Size++
	return l.state.putListState(ls)
}

// linkNeighbor rewrites neighbor's prev pointer (setPrev true) or next
// pointer (setPrev false) to id.
func (l *List) linkNeighbor(neighbor types.Owner, id *types.Owner, setPrev bool) error {
	n, err := l.state.getNode(neighbor)
	if err != nil {
		return err
	}
	if n == nil {
		return ironvault.Fail("sortedtroves.linkNeighbor", ironvault.CodeInvalidList)
	}
	if setPrev {
		n.PrevID = id
	} else {
		n.NextID = id
	}
	return l.state.putNode(n)
}

// resolvePosition finds the (prev, next) neighbor pair id should be inserted
// between, honoring the caller's hint if it still correctly brackets icr,
// and otherwise scanning forward from prevHint (when it is still listed at
// an ICR no greater than icr) or from the head.
func (l *List) resolvePosition(icr uint64, prevHint, nextHint *types.Owner) (*types.Owner, *types.Owner, error) {
	ls, err := l.state.getListState()
	if err != nil {
		return nil, nil, err
	}
	if ls.Size == 0 {
		return nil, nil, nil
	}

	if l.hintValid(icr, prevHint, nextHint) {
		return prevHint, nextHint, nil
	}

	// Fall back to a linear scan from prevHint (or the head): find the first
	// node whose ICR is strictly greater than the new trove's ICR and insert
	// before it. Ties stop the new trove behind every existing node at the
	// same ICR (stable, insertion-order) rather than ahead of them.
	cur := ls.Head
	var prev *types.Owner
	if prevHint != nil {
		hn, err := l.state.getNode(*prevHint)
		if err != nil {
			return nil, nil, err
		}
		if hn != nil && hn.ICR <= icr {
			cur = prevHint
			prev = hn.PrevID
		}
	}
	for cur != nil {
		n, err := l.state.getNode(*cur)
		if err != nil {
			return nil, nil, err
		}
		if n == nil {
			return nil, nil, ironvault.Fail("sortedtroves.resolvePosition", ironvault.CodeInvalidList)
		}
		if n.ICR > icr {
			return prev, cur, nil
		}
		prev = cur
		cur = n.NextID
	}
	return prev, nil, nil
}

// hintValid checks prev.icr <= icr < next.icr: prev sits closer to the
// (riskier) head, next closer to the (safer) tail, and an equal-ICR prev is
// allowed (the new trove joins behind it) while an equal-ICR next is not
// (the new trove must join behind every existing tie, never ahead of one).
func (l *List) hintValid(icr uint64, prevHint, nextHint *types.Owner) bool {
	if prevHint == nil && nextHint == nil {
		return false
	}
	if prevHint != nil {
		prevNode, err := l.state.getNode(*prevHint)
		if err != nil || prevNode == nil || prevNode.ICR > icr {
			return false
		}
	}
	if nextHint != nil {
		nextNode, err := l.state.getNode(*nextHint)
		if err != nil || nextNode == nil || nextNode.ICR <= icr {
			return false
		}
	}
	if prevHint != nil && nextHint != nil {
		prevNode, err := l.state.getNode(*prevHint)
		if err != nil || prevNode == nil || prevNode.NextID == nil || *prevNode.NextID != *nextHint {
			return false
		}
	}
	return true
}

// Remove deletes id from the list, relinking its neighbors.
func (l *List) Remove(id types.Owner) error {
	const op = "sortedtroves.Remove"
	n, err := l.state.getNode(id)
	if err != nil {
		return err
	}
	if n == nil {
		return ironvault.Fail(op, ironvault.CodeInvalidList)
	}

	ls, err := l.state.getListState()
	if err != nil {
		return err
	}

	switch {
	case n.PrevID == nil && n.NextID == nil:
		ls.Head = nil
		ls.Tail = nil
	case n.PrevID == nil:
		if err := l.linkNeighbor(*n.NextID, nil, true); err != nil {
			return err
		}
		ls.Head = n.NextID
	case n.NextID == nil:
		if err := l.linkNeighbor(*n.PrevID, nil, false); err != nil {
			return err
		}
		ls.Tail = n.PrevID
	default:
		if err := l.linkNeighbor(*n.PrevID, n.NextID, false); err != nil {
			return err
		}
		if err := l.linkNeighbor(*n.NextID, n.PrevID, true); err != nil {
			return err
		}
	}

	if err := l.state.deleteNode(id); err != nil {
		return err
	}
	ls.Size--
	return l.state.putListState(ls)
}

// Reinsert removes id and inserts it again at its (possibly changed) icr,
// used whenever an adjustment changes a trove's collateral ratio enough
// that its ordering position may no longer be correct.
func (l *List) Reinsert(id types.Owner, icr uint64, prevHint, nextHint *types.Owner) error {
	if err := l.Remove(id); err != nil {
		return err
	}
	return l.Insert(id, icr, prevHint, nextHint)
}

// ICRFloor reports whether any trove with a strictly lower ICR than
// threshold currently exists in the list by checking the head, avoiding a
// full scan.
func (l *List) ICRFloor(threshold uint64) (bool, error) {
	head, ok, err := l.First()
	if err != nil || !ok {
		return false, err
	}
	n, err := l.state.getNode(head)
	if err != nil {
		return false, err
	}
	return n != nil && n.ICR < threshold, nil
}
