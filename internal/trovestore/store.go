package trovestore

import (
	"encoding/json"

	"ironvault/internal/storage"
	"ironvault/internal/types"
)

var totalsKey = []byte("trovestore/totals")

func troveKey(owner types.Owner) []byte {
	key := make([]byte, 0, len("trovestore/trove/")+len(owner))
	key = append(key, "trovestore/trove/"...)
	key = append(key, owner[:]...)
	return key
}

type kv interface {
	Get([]byte) ([]byte, error)
	Put([]byte, []byte) error
	Delete([]byte) error
}

// PersistentState adapts a storage.Database (or storage.Batch) into the
// engineState seam Store is wired against.
type PersistentState struct {
	db kv
}

// NewPersistentState wraps db for use as a Store's state.
func NewPersistentState(db kv) *PersistentState {
	return &PersistentState{db: db}
}

func (p *PersistentState) GetTrove(owner types.Owner) (*Trove, error) {
	raw, err := p.db.Get(troveKey(owner))
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	var trove Trove
	if err := json.Unmarshal(raw, &trove); err != nil {
		return nil, err
	}
	return &trove, nil
}

func (p *PersistentState) PutTrove(trove *Trove) error {
	raw, err := json.Marshal(trove)
	if err != nil {
		return err
	}
	return p.db.Put(troveKey(trove.Owner), raw)
}

func (p *PersistentState) DeleteTrove(owner types.Owner) error {
	return p.db.Delete(troveKey(owner))
}

func (p *PersistentState) GetTotals() (*Totals, error) {
	raw, err := p.db.Get(totalsKey)
	if err != nil {
		if err == storage.ErrNotFound {
			return (&Totals{}).Clone(), nil
		}
		return nil, err
	}
	var totals Totals
	if err := json.Unmarshal(raw, &totals); err != nil {
		return nil, err
	}
	return &totals, nil
}

func (p *PersistentState) PutTotals(totals *Totals) error {
	raw, err := json.Marshal(totals)
	if err != nil {
		return err
	}
	return p.db.Put(totalsKey, raw)
}
