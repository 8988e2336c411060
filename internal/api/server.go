// Package api exposes the trove engine over HTTP/JSON: a chi router mounting
// public operator endpoints (open/adjust/close a trove, stake/unstake in the
// stability pool, redeem, read-only queries) and bearer-token-gated admin
// endpoints (oracle and fee-routing configuration), grounded on the gateway
// package's router/middleware composition.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ironvault/internal/feerouter"
	"ironvault/internal/liquidator"
	"ironvault/internal/metrics"
	"ironvault/internal/oracle"
	"ironvault/internal/redeemer"
	"ironvault/internal/sortedtroves"
	"ironvault/internal/stabilitypool"
	"ironvault/internal/storage"
	"ironvault/internal/troveops"
	"ironvault/internal/trovestore"
	"ironvault/internal/types"
)

// Config bundles the wired engine components and transport-level settings a
// Server needs.
type Config struct {
	DB           storage.Database
	OracleGW     *oracle.Gateway
	FeeRouter    *feerouter.Router
	Pool         *stabilitypool.Pool
	TroveOps     *troveops.Engine
	Liquidator   *liquidator.Engine
	Redeemer     *redeemer.Engine
	Metrics      *metrics.Engine
	Logger       *slog.Logger
	Auth         AuthConfig
	RedeemRate   float64
	RedeemBurst  int
}

// Server wires every engine component to HTTP handlers. A single mutex
// serializes mutating calls across the whole engine: every component shares
// one storage.Database, and committing two overlapping batches concurrently
// would silently drop one side's writes.
type Server struct {
	cfg    Config
	logger *slog.Logger
	mu     sync.Mutex
	auth   *Authenticator
}

// NewServer constructs a Server from cfg.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, logger: logger, auth: NewAuthenticator(cfg.Auth)}
}

// Handler builds the chi router serving every endpoint.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(correlationID)
	r.Use(accessLog(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	redeemLimiter := newRateLimiter(s.cfg.RedeemRate, s.cfg.RedeemBurst)
	priceLimiter := newRateLimiter(s.cfg.RedeemRate*4, s.cfg.RedeemBurst*4)

	r.Route("/v1/troves", func(tr chi.Router) {
		tr.Post("/open", s.handleOpen)
		tr.Post("/{owner}/collateral/add", s.handleAddCollateral)
		tr.Post("/{owner}/collateral/remove", s.handleRemoveCollateral)
		tr.Post("/{owner}/borrow", s.handleBorrow)
		tr.Post("/{owner}/repay", s.handleRepay)
		tr.Post("/{owner}/close", s.handleClose)
		tr.Get("/{owner}", s.handleGetTrove)
	})

	r.Get("/v1/system/totals", s.handleSystemTotals)
	r.Get("/v1/system/sorted-size", s.handleSortedSize)

	r.Post("/v1/liquidations", s.handleLiquidate)

	r.With(redeemLimiter.Middleware).Post("/v1/redemptions", s.handleRedeem)

	r.Route("/v1/stability-pool", func(pr chi.Router) {
		pr.Post("/{owner}/stake", s.handleStake)
		pr.Post("/{owner}/unstake", s.handleUnstake)
		pr.Get("/{owner}/gains", s.handlePendingGains)
		pr.Post("/{owner}/withdraw-gains", s.handleWithdrawGains)
	})

	r.With(priceLimiter.Middleware).Get("/v1/oracle/prices", s.handleAllPrices)

	r.Route("/v1/admin", func(ar chi.Router) {
		ar.Use(s.auth.RequireAdmin)
		ar.Post("/oracle/collateral", s.handleSetCollateralConfig)
		ar.Delete("/oracle/collateral/{denom}", s.handleRemoveCollateralConfig)
		ar.Post("/fees/config", s.handleSetFeeConfig)
		ar.Get("/fees/total", s.handleTotalFees)
	})

	return r
}

func (s *Server) locked(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

func ownerParam(r *http.Request) (types.Owner, error) {
	return types.OwnerFromHex(chi.URLParam(r, "owner"))
}

func decodeBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func parseAmount(s string) (*big.Int, bool) {
	if s == "" {
		return nil, false
	}
	return new(big.Int).SetString(s, 10)
}

type hintRequest struct {
	PrevHint string `json:"prev_hint,omitempty"`
	NextHint string `json:"next_hint,omitempty"`
}

func (h hintRequest) toHint() troveops.Hint {
	var hint troveops.Hint
	if h.PrevHint != "" {
		if owner, err := types.OwnerFromHex(h.PrevHint); err == nil {
			hint.Prev = &owner
		}
	}
	if h.NextHint != "" {
		if owner, err := types.OwnerFromHex(h.NextHint); err == nil {
			hint.Next = &owner
		}
	}
	return hint
}

type openRequest struct {
	Owner      string `json:"owner"`
	Denom      string `json:"denom"`
	Collateral string `json:"collateral_amount"`
	Loan       string `json:"loan_amount"`
	hintRequest
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	owner, err := types.OwnerFromHex(req.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid owner")
		return
	}
	collateral, ok := parseAmount(req.Collateral)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid collateral_amount")
		return
	}
	loan, ok := parseAmount(req.Loan)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid loan_amount")
		return
	}

	var icr uint64
	err = s.locked(func() error {
		var innerErr error
		icr, innerErr = s.cfg.TroveOps.Open(r.Context(), owner, types.Denom(req.Denom), collateral, loan, req.toHint())
		return innerErr
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	s.cfg.Metrics.RecordTroveOpened(loan)
	writeJSON(w, http.StatusCreated, map[string]interface{}{"icr_bps": icr})
}

type amountRequest struct {
	Amount string `json:"amount"`
	hintRequest
}

func (s *Server) handleAddCollateral(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid owner")
		return
	}
	var req struct {
		Denom  string `json:"denom"`
		Amount string `json:"amount"`
		hintRequest
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}
	var icr uint64
	err = s.locked(func() error {
		var innerErr error
		icr, innerErr = s.cfg.TroveOps.AddCollateral(r.Context(), owner, types.Denom(req.Denom), amount, req.toHint())
		return innerErr
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"icr_bps": icr})
}

func (s *Server) handleRemoveCollateral(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid owner")
		return
	}
	var req struct {
		Denom  string `json:"denom"`
		Amount string `json:"amount"`
		hintRequest
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}
	var icr uint64
	err = s.locked(func() error {
		var innerErr error
		icr, innerErr = s.cfg.TroveOps.RemoveCollateral(r.Context(), owner, types.Denom(req.Denom), amount, req.toHint())
		return innerErr
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"icr_bps": icr})
}

func (s *Server) handleBorrow(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid owner")
		return
	}
	var req amountRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}
	var icr uint64
	err = s.locked(func() error {
		var innerErr error
		icr, innerErr = s.cfg.TroveOps.Borrow(r.Context(), owner, amount, req.toHint())
		return innerErr
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	s.cfg.Metrics.RecordDebtChange(amount)
	writeJSON(w, http.StatusOK, map[string]interface{}{"icr_bps": icr})
}

func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid owner")
		return
	}
	var req amountRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}
	var icr uint64
	err = s.locked(func() error {
		var innerErr error
		icr, innerErr = s.cfg.TroveOps.Repay(r.Context(), owner, amount, req.toHint())
		return innerErr
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	s.cfg.Metrics.RecordDebtChange(new(big.Int).Neg(amount))
	writeJSON(w, http.StatusOK, map[string]interface{}{"icr_bps": icr})
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid owner")
		return
	}
	err = s.locked(func() error {
		return s.cfg.TroveOps.Close(r.Context(), owner)
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	s.cfg.Metrics.RecordTroveClosed("manual")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetTrove(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid owner")
		return
	}
	store := trovestore.NewStore(trovestore.NewPersistentState(s.cfg.DB))
	trove, err := store.Get(owner)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trove)
}

func (s *Server) handleSystemTotals(w http.ResponseWriter, r *http.Request) {
	store := trovestore.NewStore(trovestore.NewPersistentState(s.cfg.DB))
	totals, err := store.Totals()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, totals)
}

func (s *Server) handleSortedSize(w http.ResponseWriter, r *http.Request) {
	list := sortedtroves.NewList(sortedtroves.NewPersistentState(s.cfg.DB))
	size, err := list.Size()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	s.cfg.Metrics.SetSortedListSize(int(size))
	writeJSON(w, http.StatusOK, map[string]uint64{"open_troves": size})
}

type liquidateRequest struct {
	Candidates []string `json:"candidates"`
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	candidates := make([]types.Owner, 0, len(req.Candidates))
	for _, raw := range req.Candidates {
		owner, err := types.OwnerFromHex(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid candidate owner")
			return
		}
		candidates = append(candidates, owner)
	}

	var result *liquidator.Result
	err := s.locked(func() error {
		var innerErr error
		result, innerErr = s.cfg.Liquidator.Liquidate(r.Context(), candidates)
		return innerErr
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	for _, c := range result.Candidates {
		s.cfg.Metrics.RecordLiquidation(string(c.Outcome))
	}
	writeJSON(w, http.StatusOK, result)
}

type redeemRequest struct {
	Caller string `json:"caller"`
	Amount string `json:"amount"`
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	caller, err := types.OwnerFromHex(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid caller")
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}

	var result *redeemer.Result
	err = s.locked(func() error {
		var innerErr error
		result, innerErr = s.cfg.Redeemer.Redeem(r.Context(), caller, amount)
		return innerErr
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	s.cfg.Metrics.RecordRedemption(result.NetRedeemed)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleStake(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid owner")
		return
	}
	var req struct {
		Amount string `json:"amount"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}
	err = s.locked(func() error {
		return s.cfg.Pool.Stake(owner, amount)
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnstake(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid owner")
		return
	}
	var req struct {
		Amount string `json:"amount"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}
	err = s.locked(func() error {
		return s.cfg.Pool.Unstake(owner, amount)
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePendingGains(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid owner")
		return
	}
	gains, err := stabilitypool.NewPersistentState(s.cfg.DB).GetAllPendingGains(owner)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if gains == nil {
		gains = map[types.Denom]*big.Int{}
	}
	writeJSON(w, http.StatusOK, gains)
}

func (s *Server) handleWithdrawGains(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid owner")
		return
	}
	var gains map[types.Denom]*big.Int
	err = s.locked(func() error {
		var innerErr error
		gains, innerErr = s.cfg.Pool.WithdrawGains(owner)
		return innerErr
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, gains)
}

func (s *Server) handleAllPrices(w http.ResponseWriter, r *http.Request) {
	prices, err := s.cfg.OracleGW.AllPrices(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prices)
}

func (s *Server) handleSetCollateralConfig(w http.ResponseWriter, r *http.Request) {
	var cfg oracle.CollateralConfig
	if err := decodeBody(r, &cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	err := s.locked(func() error {
		return s.cfg.OracleGW.SetCollateralConfig(cfg)
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveCollateralConfig(w http.ResponseWriter, r *http.Request) {
	denom := chi.URLParam(r, "denom")
	err := s.locked(func() error {
		return s.cfg.OracleGW.RemoveCollateralConfig(denom)
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetFeeConfig(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StakeEnabled bool   `json:"stake_enabled"`
		FeeAddress1  string `json:"fee_address_1"`
		FeeAddress2  string `json:"fee_address_2"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	var addr1, addr2 types.Owner
	var err error
	if req.FeeAddress1 != "" {
		if addr1, err = types.OwnerFromHex(req.FeeAddress1); err != nil {
			writeError(w, http.StatusBadRequest, "invalid fee_address_1")
			return
		}
	}
	if req.FeeAddress2 != "" {
		if addr2, err = types.OwnerFromHex(req.FeeAddress2); err != nil {
			writeError(w, http.StatusBadRequest, "invalid fee_address_2")
			return
		}
	}
	cfg := feerouter.Config{StakeEnabled: req.StakeEnabled, FeeAddress1: addr1, FeeAddress2: addr2}
	err = s.locked(func() error {
		return s.cfg.FeeRouter.SetConfig(cfg)
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTotalFees(w http.ResponseWriter, r *http.Request) {
	total, err := s.cfg.FeeRouter.TotalFeesCollected()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"total": total.String()})
}

var _ = context.Background
