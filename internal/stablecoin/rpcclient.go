package stablecoin

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

// RPCMintBurner is a lightweight JSON-RPC client satisfying MintBurner
// against the daemon's stablecoin mint authority node, mirroring the
// payments gateway's own RPCNodeClient call shape.
type RPCMintBurner struct {
	baseURL   string
	authToken string
	http      *http.Client
	nextID    atomic.Int64
}

// NewRPCMintBurner constructs a client bound to the mint authority's RPC
// endpoint. authToken is attached as a bearer token when non-empty.
func NewRPCMintBurner(baseURL, authToken string) *RPCMintBurner {
	return &RPCMintBurner{
		baseURL:   baseURL,
		authToken: authToken,
		http:      &http.Client{Timeout: 10 * time.Second},
	}
}

// Mint calls the mint authority's mint_with_sig-equivalent method.
func (c *RPCMintBurner) Mint(ctx context.Context, to types.Owner, amount *big.Int) error {
	return c.call(ctx, "stablecoin_mint", []interface{}{to.String(), amount.String()}, nil)
}

// Burn calls the mint authority's burn method.
func (c *RPCMintBurner) Burn(ctx context.Context, from types.Owner, amount *big.Int) error {
	return c.call(ctx, "stablecoin_burn", []interface{}{from.String(), amount.String()}, nil)
}

func (c *RPCMintBurner) call(ctx context.Context, method string, params interface{}, out interface{}) error {
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
		return fmt.Errorf("stablecoin rpc %s failed: status=%d", method, resp.StatusCode)
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
		return fmt.Errorf("stablecoin rpc error: %s", rpcResp.Error.Message)
	}
	if out == nil {
		return nil
	}
	if len(rpcResp.Result) == 0 {
		return fmt.Errorf("stablecoin rpc returned empty result")
	}
	return json.Unmarshal(rpcResp.Result, out)
}
