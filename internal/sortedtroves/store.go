package sortedtroves

import (
	"encoding/json"

	"ironvault/internal/storage"
	"ironvault/internal/types"
)

var listStateKey = []byte("sortedtroves/state")

func nodeKey(owner types.Owner) []byte {
	key := make([]byte, 0, len("sortedtroves/node/")+len(owner))
	key = append(key, "sortedtroves/node/"...)
	key = append(key, owner[:]...)
	return key
}

type kv interface {
	Get([]byte) ([]byte, error)
	Put([]byte, []byte) error
	Delete([]byte) error
}

// PersistentState adapts a storage.Database (or storage.Batch) into the
// engineState seam List is wired against.
type PersistentState struct {
	db kv
}

// NewPersistentState wraps db for use as a List's state.
func NewPersistentState(db kv) *PersistentState {
	return &PersistentState{db: db}
}

func (p *PersistentState) getNode(owner types.Owner) (*node, error) {
	raw, err := p.db.Get(nodeKey(owner))
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	var n node
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

func (p *PersistentState) putNode(n *node) error {
	raw, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return p.db.Put(nodeKey(n.Owner), raw)
}

func (p *PersistentState) deleteNode(owner types.Owner) error {
	return p.db.Delete(nodeKey(owner))
}

func (p *PersistentState) getListState() (*listState, error) {
	raw, err := p.db.Get(listStateKey)
	if err != nil {
		if err == storage.ErrNotFound {
			return &listState{}, nil
		}
		return nil, err
	}
	var ls listState
	if err := json.Unmarshal(raw, &ls); err != nil {
		return nil, err
	}
	return &ls, nil
}

func (p *PersistentState) putListState(ls *listState) error {
	raw, err := json.Marshal(ls)
	if err != nil {
		return err
	}
	return p.db.Put(listStateKey, raw)
}
