package stabilitypool

import (
	"encoding/json"
	"math/big"

	"ironvault/internal/storage"
	"ironvault/internal/types"
)

var (
	totalStakeKey = []byte("stabilitypool/total_stake")
	stakersKey    = []byte("stabilitypool/stakers")
	epochKey      = []byte("stabilitypool/epoch")
)

func stakeKey(owner types.Owner) []byte {
	return append([]byte("stabilitypool/stake/"), owner[:]...)
}

func gainsKey(owner types.Owner) []byte {
	return append([]byte("stabilitypool/gains/"), owner[:]...)
}

type kv interface {
	Get([]byte) ([]byte, error)
	Put([]byte, []byte) error
}

// PersistentState adapts a storage.Database (or storage.Batch) into the
// engineState seam Pool is wired against.
type PersistentState struct {
	db kv
}

// NewPersistentState wraps db for use as a Pool's state.
func NewPersistentState(db kv) *PersistentState {
	return &PersistentState{db: db}
}

func (p *PersistentState) GetStake(owner types.Owner) (*big.Int, error) {
	raw, err := p.db.Get(stakeKey(owner))
	if err != nil {
		if err == storage.ErrNotFound {
			return big.NewInt(0), nil
		}
		return nil, err
	}
	amount, ok := new(big.Int).SetString(string(raw), 10)
	if !ok {
		return big.NewInt(0), nil
	}
	return amount, nil
}

func (p *PersistentState) PutStake(owner types.Owner, amount *big.Int) error {
	if err := p.db.Put(stakeKey(owner), []byte(amount.String())); err != nil {
		return err
	}
	stakers, err := p.listStakers()
	if err != nil {
		return err
	}
	found := false
	for _, s := range stakers {
		if s == owner {
			found = true
			break
		}
	}
	if !found && amount.Sign() > 0 {
		stakers = append(stakers, owner)
		return p.putStakers(stakers)
	}
	return nil
}

func (p *PersistentState) ListStakers() ([]types.Owner, error) {
	return p.listStakers()
}

func (p *PersistentState) listStakers() ([]types.Owner, error) {
	raw, err := p.db.Get(stakersKey)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	var stakers []types.Owner
	if err := json.Unmarshal(raw, &stakers); err != nil {
		return nil, err
	}
	return stakers, nil
}

func (p *PersistentState) putStakers(stakers []types.Owner) error {
	raw, err := json.Marshal(stakers)
	if err != nil {
		return err
	}
	return p.db.Put(stakersKey, raw)
}

func (p *PersistentState) GetTotalStake() (*big.Int, error) {
	raw, err := p.db.Get(totalStakeKey)
	if err != nil {
		if err == storage.ErrNotFound {
			return big.NewInt(0), nil
		}
		return nil, err
	}
	total, ok := new(big.Int).SetString(string(raw), 10)
	if !ok {
		return big.NewInt(0), nil
	}
	return total, nil
}

func (p *PersistentState) PutTotalStake(total *big.Int) error {
	return p.db.Put(totalStakeKey, []byte(total.String()))
}

func (p *PersistentState) GetPendingGain(owner types.Owner, denom types.Denom) (*big.Int, error) {
	gains, err := p.GetAllPendingGains(owner)
	if err != nil {
		return nil, err
	}
	if amount, ok := gains[denom]; ok {
		return amount, nil
	}
	return big.NewInt(0), nil
}

func (p *PersistentState) AddPendingGain(owner types.Owner, denom types.Denom, delta *big.Int) error {
	gains, err := p.GetAllPendingGains(owner)
	if err != nil {
		return err
	}
	if gains == nil {
		gains = map[types.Denom]*big.Int{}
	}
	current, ok := gains[denom]
	if !ok || current == nil {
		current = big.NewInt(0)
	}
	gains[denom] = new(big.Int).Add(current, delta)
	return p.putGains(owner, gains)
}

func (p *PersistentState) GetAllPendingGains(owner types.Owner) (map[types.Denom]*big.Int, error) {
	raw, err := p.db.Get(gainsKey(owner))
	if err != nil {
		if err == storage.ErrNotFound {
			return map[types.Denom]*big.Int{}, nil
		}
		return nil, err
	}
	var raw2 map[types.Denom]string
	if err := json.Unmarshal(raw, &raw2); err != nil {
		return nil, err
	}
	gains := make(map[types.Denom]*big.Int, len(raw2))
	for denom, s := range raw2 {
		amount, ok := new(big.Int).SetString(s, 10)
		if !ok {
			amount = big.NewInt(0)
		}
		gains[denom] = amount
	}
	return gains, nil
}

func (p *PersistentState) putGains(owner types.Owner, gains map[types.Denom]*big.Int) error {
	raw2 := make(map[types.Denom]string, len(gains))
	for denom, amount := range gains {
		raw2[denom] = amount.String()
	}
	raw, err := json.Marshal(raw2)
	if err != nil {
		return err
	}
	return p.db.Put(gainsKey(owner), raw)
}

func (p *PersistentState) ClearPendingGains(owner types.Owner) error {
	return p.putGains(owner, map[types.Denom]*big.Int{})
}

func (p *PersistentState) NextEpoch() (uint64, error) {
	raw, err := p.db.Get(epochKey)
	var epoch uint64
	if err != nil {
		if err != storage.ErrNotFound {
			return 0, err
		}
	} else {
		epoch, _ = parseUint64(raw)
	}
	epoch++
	if err := p.db.Put(epochKey, []byte(formatUint64(epoch))); err != nil {
		return 0, err
	}
	return epoch, nil
}

func parseUint64(raw []byte) (uint64, bool) {
	n := new(big.Int)
	if _, ok := n.SetString(string(raw), 10); !ok {
		return 0, false
	}
	return n.Uint64(), true
}

func formatUint64(v uint64) string {
	return new(big.Int).SetUint64(v).String()
}
