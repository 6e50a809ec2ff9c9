package httpapi

import (
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/raffle/internal/engine/events"
	"github.com/R3E-Network/raffle/internal/raffle"
	"github.com/R3E-Network/raffle/internal/vrf"
)

var errCoordinatorUnavailable = errors.New("local randomness coordinator is not enabled")

type enterRequest struct {
	Address string `json:"address"`
	// Amount defaults to the entrance fee when omitted.
	Amount *int64 `json:"amount,omitempty"`
}

type enterResponse struct {
	Round        uint64 `json:"round"`
	Participants int    `json:"participants"`
	PoolBalance  int64  `json:"pool_balance"`
}

type upkeepResponse struct {
	UpkeepNeeded bool                `json:"upkeep_needed"`
	Status       raffle.UpkeepStatus `json:"status"`
}

type fundsRequest struct {
	Amount int64  `json:"amount"`
	TxHash string `json:"tx_hash,omitempty"`
	To     string `json:"to,omitempty"`
}

type fulfillRequest struct {
	// Words overrides the derived randomness; decimal strings.
	Words []string `json:"words,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.started).Truncate(time.Second).String(),
		"state":  s.deps.Raffle.State(),
	})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Raffle.Snapshot())
}

func (s *Server) handleParticipants(w http.ResponseWriter, r *http.Request) {
	players := s.deps.Raffle.Participants()
	out := make([]string, len(players))
	for i, p := range players {
		out[i] = raffle.FormatAddress(p)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"participants": out})
}

func (s *Server) handleParticipant(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid index: %w", err))
		return
	}
	p, err := s.deps.Raffle.Participant(index)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"index":   index,
		"address": raffle.FormatAddress(p),
	})
}

// handleEnter debits the payer's account and enters the raffle. The debit is
// rolled back when the entry is rejected.
func (s *Server) handleEnter(w http.ResponseWriter, r *http.Request) {
	var req enterRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	payer, err := raffle.ParseAddress(req.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount := s.deps.Raffle.EntranceFee()
	if req.Amount != nil {
		amount = *req.Amount
	}

	ctx := r.Context()
	round := s.deps.Raffle.Round() + 1
	ref := fmt.Sprintf("raffle:round:%d", round)
	err = s.deps.Bank.Spend(ctx, payer, ref, amount, func() error {
		return s.deps.Raffle.Enter(ctx, payer, amount)
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	snap := s.deps.Raffle.Snapshot()
	writeJSON(w, http.StatusCreated, enterResponse{
		Round:        snap.Round + 1,
		Participants: snap.Participants,
		PoolBalance:  snap.PoolBalance,
	})
}

func (s *Server) handleCheckUpkeep(w http.ResponseWriter, r *http.Request) {
	status := s.deps.Raffle.UpkeepStatus()
	writeJSON(w, http.StatusOK, upkeepResponse{UpkeepNeeded: status.Needed(), Status: status})
}

func (s *Server) handlePerformUpkeep(w http.ResponseWriter, r *http.Request) {
	id, err := s.deps.Raffle.TriggerRound(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"request_id": id})
}

func (s *Server) handleListRounds(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	offset, err := intQuery(r, "offset", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rounds, err := s.deps.Rounds.ListRounds(r.Context(), limit, offset)
	if err != nil {
		s.log.WithError(err).Error("list rounds")
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rounds": rounds})
}

func (s *Server) handleGetRound(w http.ResponseWriter, r *http.Request) {
	round, err := strconv.ParseUint(mux.Vars(r)["round"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid round: %w", err))
		return
	}
	rec, err := s.deps.Rounds.GetRound(r.Context(), round)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit", defaultEventLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if limit <= 0 || limit > maxEventLimit {
		limit = maxEventLimit
	}

	q := r.URL.Query()
	var list []events.Event
	switch {
	case q.Get("round") != "":
		round, err := strconv.ParseUint(q.Get("round"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid round: %w", err))
			return
		}
		list = s.deps.Events.RecentByRound(round, limit)
	case q.Get("type") != "":
		list = s.deps.Events.RecentByType(events.EventType(q.Get("type")), limit)
	default:
		list = s.deps.Events.Recent(limit)
	}
	if list == nil {
		list = []events.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": list})
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := raffle.ParseAddress(mux.Vars(r)["address"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	limit, err := intQuery(r, "limit", 20)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ctx := r.Context()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account":      s.deps.Bank.Balance(ctx, addr),
		"transactions": s.deps.Bank.Transactions(ctx, addr, limit),
	})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	addr, req, ok := s.fundsRequest(w, r)
	if !ok {
		return
	}
	acc, err := s.deps.Bank.Deposit(r.Context(), addr, req.Amount, req.TxHash)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	addr, req, ok := s.fundsRequest(w, r)
	if !ok {
		return
	}
	acc, err := s.deps.Bank.Withdraw(r.Context(), addr, req.Amount, req.To)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (s *Server) fundsRequest(w http.ResponseWriter, r *http.Request) (addr util.Uint160, req fundsRequest, ok bool) {
	parsed, err := raffle.ParseAddress(mux.Vars(r)["address"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return addr, req, false
	}
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return addr, req, false
	}
	return parsed, req, true
}

func (s *Server) handleAutomation(w http.ResponseWriter, r *http.Request) {
	if s.deps.Keeper == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"enabled": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"enabled":  true,
		"running":  s.deps.Keeper.Running(),
		"schedule": s.deps.Keeper.Schedule(),
		"stats":    s.deps.Keeper.Stats(),
	})
}

func (s *Server) handlePendingRequests(w http.ResponseWriter, r *http.Request) {
	c := s.deps.Coordinator
	if c == nil {
		writeError(w, http.StatusNotFound, errCoordinatorUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pending": c.Pending(),
		"stats":   c.Stats(),
	})
}

// handleFulfill delivers randomness for a pending request, optionally with
// caller-chosen words.
func (s *Server) handleFulfill(w http.ResponseWriter, r *http.Request) {
	c := s.deps.Coordinator
	if c == nil {
		writeError(w, http.StatusNotFound, errCoordinatorUnavailable)
		return
	}
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request id: %w", err))
		return
	}
	var req fulfillRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	ctx := r.Context()
	if len(req.Words) == 0 {
		err = c.FulfillRandomWords(ctx, vrf.RequestID(id))
	} else {
		words := make([]*big.Int, len(req.Words))
		for i, raw := range req.Words {
			v, ok := new(big.Int).SetString(raw, 10)
			if !ok || v.Sign() < 0 {
				writeError(w, http.StatusBadRequest, fmt.Errorf("invalid random word %q", raw))
				return
			}
			words[i] = v
		}
		err = c.FulfillRandomWordsWithOverride(ctx, vrf.RequestID(id), words)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Raffle.Snapshot())
}

func (s *Server) handleSubscription(w http.ResponseWriter, r *http.Request) {
	c := s.deps.Coordinator
	if c == nil {
		writeError(w, http.StatusNotFound, errCoordinatorUnavailable)
		return
	}
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid subscription id: %w", err))
		return
	}
	sub, err := c.GetSubscription(vrf.SubscriptionID(id))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func intQuery(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid %s %q", key, raw)
	}
	return v, nil
}
