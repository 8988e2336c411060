package feerouter

import (
	"encoding/json"
	"math/big"

	"ironvault/internal/storage"
)

var (
	feeConfigKey = []byte("feerouter/config")
	totalFeesKey = []byte("feerouter/total_collected")
)

type kv interface {
	Get([]byte) ([]byte, error)
	Put([]byte, []byte) error
}

// Store adapts a storage.Database (or storage.Batch) into the engineState
// seam Router is wired against.
type Store struct {
	db kv
}

// NewStore wraps db for use as a Router's state.
func NewStore(db kv) *Store {
	return &Store{db: db}
}

func (s *Store) GetFeeConfig() (Config, error) {
	raw, err := s.db.Get(feeConfigKey)
	if err != nil {
		if err == storage.ErrNotFound {
			return Config{}, nil
		}
		return Config{}, err
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (s *Store) PutFeeConfig(cfg Config) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return s.db.Put(feeConfigKey, raw)
}

func (s *Store) GetTotalFeesCollected() (*big.Int, error) {
	raw, err := s.db.Get(totalFeesKey)
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

func (s *Store) PutTotalFeesCollected(total *big.Int) error {
	return s.db.Put(totalFeesKey, []byte(total.String()))
}
