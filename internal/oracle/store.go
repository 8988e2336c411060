package oracle

import (
	"encoding/json"

	"ironvault/internal/storage"
)

var collateralConfigsKey = []byte("oracle/collateral_configs")

// Store adapts a storage.Database (or storage.Batch) into the narrow
// engineState seam Gateway is wired against.
type Store struct {
	db interface {
		Get([]byte) ([]byte, error)
		Put([]byte, []byte) error
	}
}

// NewStore wraps db for use as a Gateway's state.
func NewStore(db interface {
	Get([]byte) ([]byte, error)
	Put([]byte, []byte) error
}) *Store {
	return &Store{db: db}
}

func (s *Store) GetCollateralConfigs() ([]CollateralConfig, error) {
	raw, err := s.db.Get(collateralConfigsKey)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	var configs []CollateralConfig
	if err := json.Unmarshal(raw, &configs); err != nil {
		return nil, err
	}
	return configs, nil
}

func (s *Store) PutCollateralConfigs(configs []CollateralConfig) error {
	raw, err := json.Marshal(configs)
	if err != nil {
		return err
	}
	return s.db.Put(collateralConfigsKey, raw)
}
