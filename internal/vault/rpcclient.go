package vault

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"ironvault/internal/types"
)

// RPCCollateralVault is a lightweight JSON-RPC client satisfying
// CollateralVault against the daemon's collateral custody node, mirroring
// the payments gateway's own RPCNodeClient call shape.
type RPCCollateralVault struct {
	baseURL   string
	authToken string
	http      *http.Client
	nextID    atomic.Int64
}

// NewRPCCollateralVault constructs a client bound to the custody node's RPC
// endpoint. authToken is attached as a bearer token when non-empty.
func NewRPCCollateralVault(baseURL, authToken string) *RPCCollateralVault {
	return &RPCCollateralVault{
		baseURL:   baseURL,
		authToken: authToken,
		http:      &http.Client{Timeout: 10 * time.Second},
	}
}

// Deposit calls the custody node's deposit method, moving amount of denom
// from the user's own account into protocol custody.
func (c *RPCCollateralVault) Deposit(ctx context.Context, denom string, from types.Owner, amount *big.Int) error {
	return c.call(ctx, "vault_deposit", []interface{}{denom, from.String(), amount.String()}, nil)
}

// Withdraw calls the custody node's withdraw method, releasing amount of
// denom from protocol custody to to, authorized by the protocol's own
// program-derived signing authority.
func (c *RPCCollateralVault) Withdraw(ctx context.Context, denom string, to types.Owner, amount *big.Int) error {
	return c.call(ctx, "vault_withdraw", []interface{}{denom, to.String(), amount.String()}, nil)
}

func (c *RPCCollateralVault) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	id := c.nextID.Add(1)
	buf, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(c.authToken) != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("vault rpc %s failed: status=%d", method, resp.StatusCode)
	}
	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return err
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("vault rpc error: %s", rpcResp.Error.Message)
	}
	if out == nil {
		return nil
	}
	if len(rpcResp.Result) == 0 {
		return fmt.Errorf("vault rpc returned empty result")
	}
	return json.Unmarshal(rpcResp.Result, out)
}
