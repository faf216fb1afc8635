package server

import (
	"encoding/json"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"autorepay/native/autorepay"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
)

type amountRequest struct {
	Amount string `json:"amount"`
}

type quoteRequest struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

type positionResponse struct {
	Account     string `json:"account"`
	Registered  bool   `json:"registered"`
	Slot        *int64 `json:"slot,omitempty"`
	Collateral  string `json:"collateral"`
	Borrowed    string `json:"borrowed"`
	LastUpdated uint64 `json:"lastUpdated"`
}

type positionsResponse struct {
	Positions   []positionResponse `json:"positions"`
	FeesSkimmed string             `json:"feesSkimmed"`
	FeesPending string             `json:"feesPending"`
	LastSweep   uint64             `json:"lastSweep"`
	TakenAt     uint64             `json:"takenAt"`
}

type depositResponse struct {
	Account      string `json:"account"`
	Fee          string `json:"fee"`
	Net          string `json:"net"`
	Collateral   string `json:"collateral"`
	Debt         string `json:"debt"`
	YieldApplied string `json:"yieldApplied"`
	Price        string `json:"price"`
	Timestamp    uint64 `json:"timestamp"`
}

type withdrawResponse struct {
	Account      string `json:"account"`
	Requested    string `json:"requested"`
	Received     string `json:"received"`
	Collateral   string `json:"collateral"`
	YieldApplied string `json:"yieldApplied"`
	Timestamp    uint64 `json:"timestamp"`
}

type quoteResponse struct {
	Fee        string `json:"fee"`
	Net        string `json:"net"`
	Collateral string `json:"collateral"`
	MaxBorrow  string `json:"maxBorrow"`
	Price      string `json:"price"`
}

type sweepStatusResponse struct {
	LastUpdate uint64 `json:"lastUpdate"`
	Interval   uint64 `json:"interval"`
	NextDue    uint64 `json:"nextDue"`
	Due        bool   `json:"due"`
	At         uint64 `json:"at"`
}

type sweepRunResponse struct {
	RunID         string `json:"runId,omitempty"`
	Ran           bool   `json:"ran"`
	Accounts      int    `json:"accounts"`
	Repaid        int    `json:"repaid"`
	TotalApplied  string `json:"totalApplied"`
	PooledBalance string `json:"pooledBalance,omitempty"`
	Price         string `json:"price,omitempty"`
	Timestamp     uint64 `json:"timestamp"`
}

type journalEntryResponse struct {
	ID         string            `json:"id"`
	Seq        uint64            `json:"seq"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	Digest     string            `json:"digest"`
	Verified   bool              `json:"verified"`
	CreatedAt  time.Time         `json:"createdAt"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	account, ok := accountParam(w, r)
	if !ok {
		return
	}
	pos, err := s.manager.Position(account)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	registered, err := s.manager.IsRegistered(account)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, positionView(account, registered, nil, pos))
}

func (s *Server) handleListPositions(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.manager.Snapshot()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	fees := snapshot.Fees.Clone()
	resp := positionsResponse{
		Positions:   make([]positionResponse, 0, len(snapshot.Positions)),
		FeesSkimmed: fees.Skimmed.String(),
		FeesPending: fees.Pending.String(),
		LastSweep:   snapshot.Sweep.LastUpdate,
		TakenAt:     snapshot.TakenAt,
	}
	for _, entry := range snapshot.Positions {
		slot := int64(entry.Slot)
		resp.Positions = append(resp.Positions, positionView(entry.Account, true, &slot, entry.Position))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	account, ok := accountParam(w, r)
	if !ok {
		return
	}
	amount, ok := decodeAmount(w, r)
	if !ok {
		return
	}
	res, err := s.manager.Deposit(r.Context(), account, amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, depositResponse{
		Account:      account.Hex(),
		Fee:          res.Fee.String(),
		Net:          res.Net.String(),
		Collateral:   res.Collateral.String(),
		Debt:         res.Debt.String(),
		YieldApplied: amountString(res.YieldApplied),
		Price:        res.Price.String(),
		Timestamp:    res.Timestamp,
	})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	account, ok := accountParam(w, r)
	if !ok {
		return
	}
	amount, ok := decodeAmount(w, r)
	if !ok {
		return
	}
	res, err := s.manager.Withdraw(r.Context(), account, amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, withdrawResponse{
		Account:      account.Hex(),
		Requested:    res.Requested.String(),
		Received:     res.Received.String(),
		Collateral:   res.Collateral.String(),
		YieldApplied: amountString(res.YieldApplied),
		Timestamp:    res.Timestamp,
	})
}

func (s *Server) handleQuoteDeposit(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if !common.IsHexAddress(strings.TrimSpace(req.Account)) {
		writeError(w, http.StatusBadRequest, "invalid account")
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}
	quote, err := s.manager.PreviewDeposit(r.Context(), common.HexToAddress(req.Account), amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quoteResponse{
		Fee:        quote.Fee.String(),
		Net:        quote.Net.String(),
		Collateral: quote.Collateral.String(),
		MaxBorrow:  quote.MaxBorrow.String(),
		Price:      quote.Price.String(),
	})
}

func (s *Server) handleSweepStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.sweeper.Status()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sweepStatusResponse{
		LastUpdate: status.LastUpdate,
		Interval:   status.Interval,
		NextDue:    status.NextDue,
		Due:        status.Due,
		At:         status.At,
	})
}

func (s *Server) handleRunSweep(w http.ResponseWriter, r *http.Request) {
	res, err := s.sweeper.RunSweep(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sweepRunResponse{
		RunID:         res.RunID,
		Ran:           res.Ran,
		Accounts:      res.Accounts,
		Repaid:        res.Repaid,
		TotalApplied:  amountString(res.TotalApplied),
		PooledBalance: optionalAmount(res.PooledBalance),
		Price:         optionalAmount(res.Price),
		Timestamp:     res.Timestamp,
	})
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "journal disabled")
		return
	}
	account, ok := accountParam(w, r)
	if !ok {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}
	entries, err := s.journal.List(r.Context(), account.Hex(), limit)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	out := make([]journalEntryResponse, 0, len(entries))
	for _, entry := range entries {
		rec, err := entry.Record()
		if err != nil {
			writeEngineError(w, err)
			return
		}
		out = append(out, journalEntryResponse{
			ID:         entry.ID.String(),
			Seq:        entry.Seq,
			Type:       entry.Type,
			Attributes: rec.Attributes,
			Digest:     entry.Digest,
			Verified:   entry.Verify(),
			CreatedAt:  entry.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}

func accountParam(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	raw := strings.TrimSpace(chi.URLParam(r, "account"))
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, "invalid account")
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func decodeAmount(w http.ResponseWriter, r *http.Request) (*big.Int, bool) {
	var req amountRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return nil, false
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return nil, false
	}
	return amount, true
}

// parseAmount accepts a base-10 integer in 18-decimal units. Sign checks are
// left to the engine.
func parseAmount(raw string) (*big.Int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, false
	}
	return new(big.Int).SetString(raw, 10)
}

func positionView(account common.Address, registered bool, slot *int64, pos *autorepay.Position) positionResponse {
	p := pos.Clone()
	return positionResponse{
		Account:     account.Hex(),
		Registered:  registered,
		Slot:        slot,
		Collateral:  p.Collateral.String(),
		Borrowed:    p.Borrowed.String(),
		LastUpdated: p.LastUpdated,
	}
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func optionalAmount(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}
