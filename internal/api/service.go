// Package api provides the HTTP and WebSocket surface of the option pool:
// pool administration, deposits, position sales and settlement, oracle
// pushes and read-only queries.
//
// The service plays the sequencer role for the book engine: mutating
// requests are serialised and stamped with the service clock.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/atmx/option-pool/internal/book"
	"github.com/atmx/option-pool/internal/metrics"
	"github.com/atmx/option-pool/internal/model"
	"github.com/atmx/option-pool/internal/oracle"
	"github.com/atmx/option-pool/internal/series"
)

// Minter credits accounts from nothing. ledger.Memory implements it.
type Minter interface {
	Mint(account, asset string, amount uint64) error
}

// Service handles option book requests. Uses a mutex for serialized
// execution (single-instance).
type Service struct {
	engine *book.Engine
	feed   oracle.Publisher
	hub    *WSHub // optional WebSocket hub for real-time broadcasts
	faucet Minter // optional; mounts /dev/mint
	now    func() time.Time
	mu     sync.Mutex
}

// NewService creates a new service. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(engine *book.Engine, feed oracle.Publisher, hub *WSHub) *Service {
	return &Service{
		engine: engine,
		feed:   feed,
		hub:    hub,
		now:    time.Now,
	}
}

// SetClock replaces the clock used to stamp operations.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// EnableFaucet mounts POST /api/v1/dev/mint on the next Register. For
// development deployments only.
func (s *Service) EnableFaucet(m Minter) {
	s.faucet = m
}

// Register mounts the /api/v1 routes on r.
func (s *Service) Register(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		if s.hub != nil {
			r.Get("/ws", s.hub.HandleWS)
		}

		// Multisig-gated administration.
		r.Post("/admin/pools", s.AddPool)
		r.Post("/admin/custodies", s.RegisterCustody)
		r.Post("/admin/withdrawals", s.Withdraw)
		r.Post("/admin/expirations", s.Expire)
		r.Get("/admin/multisig", s.GetMultisig)

		// Pools.
		r.Get("/pools", s.ListPools)
		r.Get("/pools/{pool}", s.GetPool)
		r.Get("/pools/{pool}/custodies/{asset}", s.GetCustody)
		r.Post("/pools/{pool}/deposits", s.Deposit)

		// Positions.
		r.Post("/positions", s.Sell)
		r.Get("/positions/{owner}", s.ListPositions)
		r.Get("/positions/{owner}/{index}", s.GetPosition)
		r.Post("/positions/{owner}/{index}/exercise", s.Exercise)
		r.Post("/positions/{owner}/{index}/auto-exercise", s.AutoExercise)

		// Oracle pushes and audit ledger.
		r.Post("/oracles/{oracleID}", s.PushQuote)
		r.Get("/ledger", s.ListEntries)

		if s.faucet != nil {
			r.Post("/dev/mint", s.Mint)
		}
	})
}

// --- Request/Response types ---

// AddPoolRequest is the JSON body for POST /admin/pools.
type AddPoolRequest struct {
	Signer string `json:"signer"`
	Name   string `json:"name"`
	Nonce  uint64 `json:"nonce"`
}

// RegisterCustodyRequest is the JSON body for POST /admin/custodies.
type RegisterCustodyRequest struct {
	Signer   string `json:"signer"`
	Pool     string `json:"pool"`
	Asset    string `json:"asset"`
	Oracle   string `json:"oracle"`
	Decimals uint8  `json:"decimals"`
	Nonce    uint64 `json:"nonce"`
}

// SignatureResponse reports the multisig progress of an admin proposal.
type SignatureResponse struct {
	Remaining int  `json:"remaining"`
	Executed  bool `json:"executed"`
}

// WithdrawRequest is the JSON body for POST /admin/withdrawals.
type WithdrawRequest struct {
	Caller string `json:"caller"`
	book.WithdrawParams
}

// ExpireRequest is the JSON body for POST /admin/expirations.
type ExpireRequest struct {
	Caller string `json:"caller"`
	book.ExpireParams
}

// DepositRequest is the JSON body for POST /pools/{pool}/deposits.
type DepositRequest struct {
	Depositor string `json:"depositor"`
	Asset     string `json:"asset"`
	Amount    uint64 `json:"amount"`
}

// SellRequest is the JSON body for POST /positions. Either Ticker or the
// explicit asset, strike, expiry and option type must be given.
type SellRequest struct {
	Owner      string            `json:"owner"`
	Pool       string            `json:"pool"`
	Ticker     string            `json:"ticker,omitempty"` // SOL-20250815-150-C
	Asset      string            `json:"asset,omitempty"`
	Strike     uint64            `json:"strike,omitempty"` // quote units
	Expiry     int64             `json:"expiry,omitempty"`
	OptionType model.OptionType  `json:"option_type,omitempty"`
	QuoteAsset string            `json:"quote_asset"`
	Index      uint64            `json:"index"`
	Quantity   uint64            `json:"quantity"`
	PayIn      model.PremiumUnit `json:"pay_in"`
}

// MintRequest is the JSON body for POST /dev/mint.
type MintRequest struct {
	Account string `json:"account"`
	Asset   string `json:"asset"`
	Amount  uint64 `json:"amount"`
}

// SettleRequest is the JSON body for exercise and auto-exercise. Caller is
// the owner for exercise and the keeper for auto-exercise.
type SettleRequest struct {
	Caller string `json:"caller"`
}

// PositionResponse is a position together with its series ticker.
type PositionResponse struct {
	*model.Position
	Ticker string `json:"ticker"`
}

func positionResponse(p *model.Position) PositionResponse {
	return PositionResponse{Position: p, Ticker: series.Format(p)}
}

// --- HTTP Handlers ---

// AddPool handles POST /api/v1/admin/pools
func (s *Service) AddPool(w http.ResponseWriter, r *http.Request) {
	var req AddPoolRequest
	if !decode(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	remaining, err := s.engine.AddPool(r.Context(), req.Signer, book.AddPoolParams{Name: req.Name, Nonce: req.Nonce}, s.now().Unix())
	observe("add_pool", start, err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	metrics.MultisigSignatures.WithLabelValues("add_pool", strconv.FormatBool(remaining == 0)).Inc()

	status := http.StatusAccepted
	if remaining == 0 {
		status = http.StatusCreated
	}
	writeJSON(w, status, SignatureResponse{Remaining: remaining, Executed: remaining == 0})
}

// RegisterCustody handles POST /api/v1/admin/custodies
func (s *Service) RegisterCustody(w http.ResponseWriter, r *http.Request) {
	var req RegisterCustodyRequest
	if !decode(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := r.Context()
	start := time.Now()
	remaining, err := s.engine.RegisterCustody(ctx, req.Signer, book.RegisterCustodyParams{
		Pool:     req.Pool,
		Asset:    req.Asset,
		Oracle:   req.Oracle,
		Decimals: req.Decimals,
		Nonce:    req.Nonce,
	}, s.now().Unix())
	observe("register_custody", start, err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	metrics.MultisigSignatures.WithLabelValues("add_custody", strconv.FormatBool(remaining == 0)).Inc()

	status := http.StatusAccepted
	if remaining == 0 {
		status = http.StatusCreated
		s.publishCustodies(ctx, req.Pool, req.Asset)
	}
	writeJSON(w, status, SignatureResponse{Remaining: remaining, Executed: remaining == 0})
}

// Withdraw handles POST /api/v1/admin/withdrawals
func (s *Service) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if !decode(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := r.Context()
	start := time.Now()
	c, err := s.engine.Withdraw(ctx, req.Caller, req.WithdrawParams, s.now().Unix())
	observe("withdraw", start, err)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	s.publishCustodies(ctx, c.Pool, c.Asset)
	writeJSON(w, http.StatusOK, c)
}

// Expire handles POST /api/v1/admin/expirations
func (s *Service) Expire(w http.ResponseWriter, r *http.Request) {
	var req ExpireRequest
	if !decode(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	pos, err := s.engine.Expire(r.Context(), req.Caller, req.ExpireParams, s.now().Unix())
	observe("expire", start, err)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	s.settled(r.Context(), "expire", pos)
	writeJSON(w, http.StatusOK, positionResponse(pos))
}

// Deposit handles POST /api/v1/pools/{pool}/deposits
func (s *Service) Deposit(w http.ResponseWriter, r *http.Request) {
	pool := chi.URLParam(r, "pool")
	var req DepositRequest
	if !decode(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := r.Context()
	start := time.Now()
	c, err := s.engine.Deposit(ctx, req.Depositor, pool, req.Asset, req.Amount, s.now().Unix())
	observe("deposit", start, err)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	s.publishCustodies(ctx, pool, req.Asset)
	writeJSON(w, http.StatusOK, c)
}

// Sell handles POST /api/v1/positions
// Charges the premium, locks collateral and returns the new position.
func (s *Service) Sell(w http.ResponseWriter, r *http.Request) {
	var req SellRequest
	if !decode(w, r, &req) {
		return
	}

	params := book.SellParams{
		Owner:      req.Owner,
		Pool:       req.Pool,
		Asset:      req.Asset,
		QuoteAsset: req.QuoteAsset,
		Index:      req.Index,
		Quantity:   req.Quantity,
		Strike:     req.Strike,
		Expiry:     req.Expiry,
		OptionType: req.OptionType,
		PayIn:      req.PayIn,
	}
	if params.PayIn == "" {
		params.PayIn = model.PremiumBase
	}
	if req.Ticker != "" {
		ser, err := series.ParseTicker(req.Ticker)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		strike, err := ser.StrikeUnits()
		if err != nil {
			writeEngineError(w, err)
			return
		}
		params.Asset = ser.Asset
		params.Strike = strike
		params.Expiry = ser.ExpiryUnix()
		params.OptionType = ser.OptionType
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := r.Context()
	start := time.Now()
	pos, err := s.engine.Sell(ctx, params, s.now().Unix())
	observe("sell", start, err)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	resp := positionResponse(pos)
	payAsset := pos.Custody
	if pos.PremiumUnit == model.PremiumQuote {
		payAsset = req.QuoteAsset
	}
	metrics.PositionsSold.WithLabelValues(pos.Custody, string(pos.OptionType)).Inc()
	metrics.PremiumCollected.WithLabelValues(pos.Pool, payAsset).Add(float64(pos.Premium))

	if s.hub != nil {
		s.hub.Broadcast(WSMessage{
			Type:    "position_sold",
			Pool:    pos.Pool,
			Asset:   pos.Custody,
			Owner:   pos.Owner,
			Index:   pos.Index,
			Ticker:  resp.Ticker,
			Premium: pos.Premium,
			Locked:  pos.Amount,
		})
	}
	s.publishCustodies(ctx, pos.Pool, pos.Custody, pos.LockedCustody, payAsset)

	writeJSON(w, http.StatusCreated, resp)
}

// Exercise handles POST /api/v1/positions/{owner}/{index}/exercise
func (s *Service) Exercise(w http.ResponseWriter, r *http.Request) {
	s.settle(w, r, "exercise", s.engine.Exercise)
}

// AutoExercise handles POST /api/v1/positions/{owner}/{index}/auto-exercise
func (s *Service) AutoExercise(w http.ResponseWriter, r *http.Request) {
	s.settle(w, r, "auto_exercise", s.engine.AutoExercise)
}

type settleFunc func(ctx context.Context, caller, owner string, index uint64, now int64) (*model.Position, error)

func (s *Service) settle(w http.ResponseWriter, r *http.Request, action string, fn settleFunc) {
	owner := chi.URLParam(r, "owner")
	index, ok := parseIndex(w, r)
	if !ok {
		return
	}
	var req SettleRequest
	if !decode(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	pos, err := fn(r.Context(), req.Caller, owner, index, s.now().Unix())
	observe(action, start, err)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	s.settled(r.Context(), action, pos)
	writeJSON(w, http.StatusOK, positionResponse(pos))
}

// settled records metrics and broadcasts a terminal position.
func (s *Service) settled(ctx context.Context, action string, pos *model.Position) {
	outcome := "paid"
	if pos.Claimed == 0 {
		outcome = "worthless"
	}
	metrics.PositionsSettled.WithLabelValues(action, outcome).Inc()
	metrics.PayoutClaimed.WithLabelValues(pos.Pool, pos.LockedCustody).Add(float64(pos.Claimed))

	if s.hub != nil {
		s.hub.Broadcast(WSMessage{
			Type:    "position_settled",
			Pool:    pos.Pool,
			Asset:   pos.LockedCustody,
			Owner:   pos.Owner,
			Index:   pos.Index,
			Ticker:  series.Format(pos),
			Action:  action,
			Claimed: pos.Claimed,
		})
	}
	s.publishCustodies(ctx, pos.Pool, pos.LockedCustody)
}

// publishCustodies refreshes the custody gauges and broadcasts the new
// balances of the given assets, each once.
func (s *Service) publishCustodies(ctx context.Context, pool string, assets ...string) {
	seen := make(map[string]bool, len(assets))
	for _, asset := range assets {
		if asset == "" || seen[asset] {
			continue
		}
		seen[asset] = true

		c, err := s.engine.Custody(ctx, pool, asset)
		if err != nil {
			slog.Warn("custody refresh failed", "pool", pool, "asset", asset, "err", err)
			continue
		}
		metrics.ObserveCustody(pool, asset, c.TotalBalance, c.LockedBalance)
		if s.hub != nil {
			s.hub.Broadcast(WSMessage{
				Type:   "custody_updated",
				Pool:   pool,
				Asset:  asset,
				Total:  c.TotalBalance,
				Locked: c.LockedBalance,
			})
		}
	}
}

// PushQuote handles POST /api/v1/oracles/{oracleID}
// A zero publish_time is stamped with the service clock.
func (s *Service) PushQuote(w http.ResponseWriter, r *http.Request) {
	oracleID := chi.URLParam(r, "oracleID")
	var q oracle.Quote
	if !decode(w, r, &q) {
		return
	}
	if q.Price <= 0 {
		writeEngineError(w, oracle.ErrInvalidPrice)
		return
	}
	if q.PublishTime == 0 {
		q.PublishTime = s.now().Unix()
	}

	if err := s.feed.Publish(r.Context(), oracleID, q); err != nil {
		slog.Error("quote publish failed", "oracle", oracleID, "err", err)
		writeError(w, "failed to publish quote", book.CategoryInternal, http.StatusInternalServerError)
		return
	}

	slog.Debug("quote published",
		"oracle", oracleID,
		"price", q.Price,
		"exponent", q.Exponent,
		"publish_time", q.PublishTime,
	)
	writeJSON(w, http.StatusAccepted, q)
}

// Mint handles POST /api/v1/dev/mint
// Funds a wallet on development deployments. Custody accounts are refused.
func (s *Service) Mint(w http.ResponseWriter, r *http.Request) {
	var req MintRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Account == "" || req.Asset == "" || req.Amount == 0 {
		writeError(w, "account, asset and a positive amount are required", book.CategoryValidation, http.StatusBadRequest)
		return
	}
	if model.IsTokenAccount(req.Account) {
		writeError(w, "cannot mint into a custody account", book.CategoryValidation, http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.faucet.Mint(req.Account, req.Asset, req.Amount); err != nil {
		writeEngineError(w, err)
		return
	}
	slog.Info("faucet mint", "account", req.Account, "asset", req.Asset, "amount", req.Amount)
	writeJSON(w, http.StatusOK, req)
}

// GetMultisig handles GET /api/v1/admin/multisig
func (s *Service) GetMultisig(w http.ResponseWriter, r *http.Request) {
	ms, err := s.engine.Multisig(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ms)
}

// ListPools handles GET /api/v1/pools
func (s *Service) ListPools(w http.ResponseWriter, r *http.Request) {
	pools, err := s.engine.Pools(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pools)
}

// GetPool handles GET /api/v1/pools/{pool}
func (s *Service) GetPool(w http.ResponseWriter, r *http.Request) {
	summary, err := s.engine.Pool(r.Context(), chi.URLParam(r, "pool"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// GetCustody handles GET /api/v1/pools/{pool}/custodies/{asset}
func (s *Service) GetCustody(w http.ResponseWriter, r *http.Request) {
	c, err := s.engine.Custody(r.Context(), chi.URLParam(r, "pool"), chi.URLParam(r, "asset"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ListPositions handles GET /api/v1/positions/{owner}
// Optional ?valid=true keeps only open positions.
func (s *Service) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.engine.Positions(r.Context(), chi.URLParam(r, "owner"))
	if err != nil {
		writeEngineError(w, err)
		return
	}

	openOnly := r.URL.Query().Get("valid") == "true"
	resp := make([]PositionResponse, 0, len(positions))
	for _, p := range positions {
		if openOnly && !p.Valid {
			continue
		}
		resp = append(resp, positionResponse(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetPosition handles GET /api/v1/positions/{owner}/{index}
func (s *Service) GetPosition(w http.ResponseWriter, r *http.Request) {
	index, ok := parseIndex(w, r)
	if !ok {
		return
	}
	pos, err := s.engine.Position(r.Context(), chi.URLParam(r, "owner"), index)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, positionResponse(pos))
}

// ListEntries handles GET /api/v1/ledger
// Returns the audit ledger, optionally filtered by ?owner=<id>.
func (s *Service) ListEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := s.engine.Entries(r.Context(), r.URL.Query().Get("owner"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- helpers ---

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, "invalid request body", book.CategoryValidation, http.StatusBadRequest)
		return false
	}
	return true
}

func parseIndex(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	index, err := strconv.ParseUint(chi.URLParam(r, "index"), 10, 64)
	if err != nil {
		writeError(w, "index must be a positive integer", book.CategoryValidation, http.StatusBadRequest)
		return 0, false
	}
	return index, true
}

func observe(op string, start time.Time, err error) {
	metrics.OperationLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.OperationErrors.WithLabelValues(op, string(book.Classify(err))).Inc()
	}
}

// StatusFor maps an error category to its HTTP status.
func StatusFor(cat book.Category) int {
	switch cat {
	case book.CategoryBalance, book.CategoryState:
		return http.StatusConflict
	case book.CategoryAuthorization:
		return http.StatusForbidden
	case book.CategoryTemporal:
		return http.StatusUnprocessableEntity
	case book.CategoryValidation:
		return http.StatusBadRequest
	case book.CategoryNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeEngineError(w http.ResponseWriter, err error) {
	cat := book.Classify(err)
	msg := err.Error()
	if cat == book.CategoryInternal {
		slog.Error("internal error", "err", err)
		msg = "internal error"
	}
	writeError(w, msg, cat, StatusFor(cat))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, cat book.Category, status int) {
	writeJSON(w, status, map[string]string{"error": message, "category": string(cat)})
}
