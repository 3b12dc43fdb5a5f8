package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strings"

	"xsettle/crypto"
	"xsettle/native/escrow"
)

const (
	codeEscrowInvalidParams = -32021
	codeEscrowNotFound      = -32022
	codeEscrowForbidden     = -32023
	codeEscrowConflict      = -32024
	codeEscrowInternal      = -32025
)

type escrowProposeParams struct {
	Seller       string `json:"seller"`
	Buyer        string `json:"buyer"`
	SellerAsset  string `json:"sellerAsset"`
	SellerAmount string `json:"sellerAmount"`
	SellerHost   string `json:"sellerHost"`
	BuyerAsset   string `json:"buyerAsset"`
	BuyerAmount  string `json:"buyerAmount"`
	BuyerHost    string `json:"buyerHost"`
	Duration     int64  `json:"duration,omitempty"`
}

type escrowIDParams struct {
	ID string `json:"id"`
}

type escrowActorParams struct {
	ID     string `json:"id"`
	Caller string `json:"caller"`
}

type escrowDepositParams struct {
	ID       string `json:"id"`
	Caller   string `json:"caller"`
	Attached string `json:"attached,omitempty"`
}

type escrowDisputeParams struct {
	ID       string `json:"id"`
	Caller   string `json:"caller"`
	Resolver string `json:"resolver"`
	Reason   string `json:"reason,omitempty"`
}

type escrowPartyParams struct {
	Party string `json:"party"`
}

type escrowEventsParams struct {
	From  uint64 `json:"from,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

type escrowPolicyParams struct {
	FeeBps    uint32 `json:"feeBps"`
	MaxFeeBps uint32 `json:"maxFeeBps"`
	Collector string `json:"collector"`
}

type escrowLegJSON struct {
	Asset     string `json:"asset"`
	Amount    string `json:"amount"`
	Host      string `json:"host"`
	Deposited bool   `json:"deposited"`
	Confirmed bool   `json:"confirmed"`
	Released  bool   `json:"released"`
}

type escrowJSON struct {
	ID          string        `json:"id"`
	Seller      string        `json:"seller"`
	Buyer       string        `json:"buyer"`
	SellerLeg   escrowLegJSON `json:"sellerLeg"`
	BuyerLeg    escrowLegJSON `json:"buyerLeg"`
	Status      string        `json:"status"`
	CreatedAt   int64         `json:"createdAt"`
	ExpiresAt   int64         `json:"expiresAt"`
	CompletedAt int64         `json:"completedAt,omitempty"`
	Disputed    bool          `json:"disputed"`
	Resolver    string        `json:"resolver,omitempty"`
	Reason      string        `json:"reason,omitempty"`
}

type eventJSON struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

func formatEscrowJSON(esc *escrow.Escrow) escrowJSON {
	out := escrowJSON{
		ID:     formatEscrowID(esc.ID),
		Seller: crypto.EncodeAddress(esc.Seller),
		Buyer:  crypto.EncodeAddress(esc.Buyer),
		SellerLeg: escrowLegJSON{
			Asset:     esc.SellerLeg.Asset.String(),
			Amount:    esc.SellerLeg.Amount.String(),
			Host:      esc.SellerHost,
			Deposited: esc.SellerLeg.Deposited,
			Confirmed: esc.SellerLeg.Confirmed,
			Released:  esc.SellerLeg.Released,
		},
		BuyerLeg: escrowLegJSON{
			Asset:     esc.BuyerLeg.Asset.String(),
			Amount:    esc.BuyerLeg.Amount.String(),
			Host:      esc.BuyerHost,
			Deposited: esc.BuyerLeg.Deposited,
			Confirmed: esc.BuyerLeg.Confirmed,
			Released:  esc.BuyerLeg.Released,
		},
		Status:      esc.Status().String(),
		CreatedAt:   esc.CreatedAt,
		ExpiresAt:   esc.ExpiresAt,
		CompletedAt: esc.CompletedAt,
		Disputed:    esc.Disputed,
	}
	if esc.Disputed {
		out.Resolver = crypto.EncodeAddress(esc.DisputeResolver)
		out.Reason = esc.DisputeReason
	}
	return out
}

func (s *Server) handleEscrowPropose(w http.ResponseWriter, req *RPCRequest) {
	var params escrowProposeParams
	if !s.decodeParams(w, req, &params) {
		return
	}
	seller, err := crypto.DecodeAddress(params.Seller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", "seller: "+err.Error())
		return
	}
	buyer, err := crypto.DecodeAddress(params.Buyer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", "buyer: "+err.Error())
		return
	}
	sellerAsset, err := parseAssetParam(params.SellerAsset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", "sellerAsset: "+err.Error())
		return
	}
	buyerAsset, err := parseAssetParam(params.BuyerAsset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", "buyerAsset: "+err.Error())
		return
	}
	sellerAmount, err := parsePositiveBigInt(params.SellerAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", "sellerAmount: "+err.Error())
		return
	}
	buyerAmount, err := parsePositiveBigInt(params.BuyerAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", "buyerAmount: "+err.Error())
		return
	}
	if params.Duration < 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", "duration must not be negative")
		return
	}

	s.mu.Lock()
	esc, err := s.engine.Propose(seller, buyer,
		escrow.AssetLeg{Asset: sellerAsset, Amount: sellerAmount},
		escrow.AssetLeg{Asset: buyerAsset, Amount: buyerAmount},
		params.SellerHost, params.BuyerHost, params.Duration)
	s.mu.Unlock()
	s.metrics.ObserveOperation("escrow_propose", err)
	if err != nil {
		s.writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatEscrowJSON(esc))
}

func (s *Server) handleEscrowSellerDeposit(w http.ResponseWriter, req *RPCRequest) {
	s.handleDeposit(w, req, "escrow_sellerDeposit", s.engine.SellerDeposit)
}

func (s *Server) handleEscrowBuyerDeposit(w http.ResponseWriter, req *RPCRequest) {
	s.handleDeposit(w, req, "escrow_buyerDeposit", s.engine.BuyerDeposit)
}

func (s *Server) handleDeposit(w http.ResponseWriter, req *RPCRequest, method string, op func([32]byte, [20]byte, *big.Int) error) {
	var params escrowDepositParams
	if !s.decodeParams(w, req, &params) {
		return
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := crypto.DecodeAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", "caller: "+err.Error())
		return
	}
	var attached *big.Int
	if strings.TrimSpace(params.Attached) != "" {
		attached, err = parsePositiveBigInt(params.Attached)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", "attached: "+err.Error())
			return
		}
	}

	s.mu.Lock()
	err = op(id, caller, attached)
	s.mu.Unlock()
	s.metrics.ObserveOperation(method, err)
	if err != nil {
		s.writeEscrowError(w, req.ID, err)
		return
	}
	s.writeEscrowState(w, req.ID, id)
}

func (s *Server) handleEscrowSellerConfirm(w http.ResponseWriter, req *RPCRequest) {
	s.handleConfirm(w, req, "escrow_sellerConfirm", s.engine.SellerConfirm)
}

func (s *Server) handleEscrowBuyerConfirm(w http.ResponseWriter, req *RPCRequest) {
	s.handleConfirm(w, req, "escrow_buyerConfirm", s.engine.BuyerConfirm)
}

func (s *Server) handleConfirm(w http.ResponseWriter, req *RPCRequest, method string, op func([32]byte, [20]byte) error) {
	id, caller, ok := s.decodeActorParams(w, req)
	if !ok {
		return
	}
	s.mu.Lock()
	err := op(id, caller)
	s.mu.Unlock()
	s.metrics.ObserveOperation(method, err)
	if err != nil {
		s.writeEscrowError(w, req.ID, err)
		return
	}
	s.writeEscrowState(w, req.ID, id)
}

func (s *Server) handleEscrowCancel(w http.ResponseWriter, req *RPCRequest) {
	id, caller, ok := s.decodeActorParams(w, req)
	if !ok {
		return
	}
	s.mu.Lock()
	err := s.engine.Cancel(id, caller)
	s.mu.Unlock()
	s.metrics.ObserveOperation("escrow_cancel", err)
	if err != nil {
		s.writeEscrowError(w, req.ID, err)
		return
	}
	s.writeEscrowState(w, req.ID, id)
}

func (s *Server) handleEscrowRefundExpired(w http.ResponseWriter, req *RPCRequest) {
	var params escrowIDParams
	if !s.decodeParams(w, req, &params) {
		return
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	s.mu.Lock()
	err = s.engine.RefundExpired(id)
	s.mu.Unlock()
	s.metrics.ObserveOperation("escrow_refundExpired", err)
	if err != nil {
		s.writeEscrowError(w, req.ID, err)
		return
	}
	s.writeEscrowState(w, req.ID, id)
}

func (s *Server) handleEscrowDispute(w http.ResponseWriter, req *RPCRequest) {
	var params escrowDisputeParams
	if !s.decodeParams(w, req, &params) {
		return
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := crypto.DecodeAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", "caller: "+err.Error())
		return
	}
	resolver, err := crypto.DecodeAddress(params.Resolver)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", "resolver: "+err.Error())
		return
	}

	s.mu.Lock()
	err = s.engine.RaiseDispute(id, caller, resolver, strings.TrimSpace(params.Reason))
	s.mu.Unlock()
	s.metrics.ObserveOperation("escrow_dispute", err)
	if err != nil {
		s.writeEscrowError(w, req.ID, err)
		return
	}
	s.writeEscrowState(w, req.ID, id)
}

func (s *Server) handleEscrowUpdatePolicy(w http.ResponseWriter, req *RPCRequest) {
	var params escrowPolicyParams
	if !s.decodeParams(w, req, &params) {
		return
	}
	collector, err := crypto.DecodeAddress(params.Collector)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", "collector: "+err.Error())
		return
	}
	policy, err := escrow.NewFeePolicy(params.FeeBps, params.MaxFeeBps, collector)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}

	s.mu.Lock()
	s.engine.SetPolicy(policy)
	s.mu.Unlock()
	s.metrics.ObserveOperation("escrow_updatePolicy", nil)
	s.logger.Info("fee policy updated",
		"feeBps", params.FeeBps,
		"maxFeeBps", params.MaxFeeBps,
		"collector", params.Collector)
	writeResult(w, req.ID, map[string]bool{"updated": true})
}

func (s *Server) handleEscrowGet(w http.ResponseWriter, req *RPCRequest) {
	var params escrowIDParams
	if !s.decodeParams(w, req, &params) {
		return
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	s.writeEscrowState(w, req.ID, id)
}

func (s *Server) handleEscrowListByParty(w http.ResponseWriter, req *RPCRequest) {
	var params escrowPartyParams
	if !s.decodeParams(w, req, &params) {
		return
	}
	party, err := crypto.DecodeAddress(params.Party)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", "party: "+err.Error())
		return
	}

	s.mu.Lock()
	ids, err := s.engine.EscrowsOf(party)
	records := make([]escrowJSON, 0, len(ids))
	if err == nil {
		for _, escID := range ids {
			esc, getErr := s.engine.Get(escID)
			if errors.Is(getErr, escrow.ErrNotFound) {
				// Stale index entry, skip it.
				continue
			}
			if getErr != nil {
				err = getErr
				break
			}
			records = append(records, formatEscrowJSON(esc))
		}
	}
	s.mu.Unlock()
	if err != nil {
		s.writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, records)
}

func (s *Server) handleEscrowIsActive(w http.ResponseWriter, req *RPCRequest) {
	var params escrowIDParams
	if !s.decodeParams(w, req, &params) {
		return
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	s.mu.Lock()
	active, err := s.engine.IsActive(id)
	s.mu.Unlock()
	if err != nil {
		s.writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"active": active})
}

func (s *Server) handleEscrowListEvents(w http.ResponseWriter, req *RPCRequest) {
	params := escrowEventsParams{Limit: 100}
	if len(req.Params) > 0 && !s.decodeParams(w, req, &params) {
		return
	}
	if params.Limit <= 0 || params.Limit > 1_000 {
		params.Limit = 100
	}
	list, err := s.manager.Events(params.From, params.Limit)
	if err != nil {
		s.writeEscrowError(w, req.ID, err)
		return
	}
	out := make([]eventJSON, 0, len(list))
	for _, evt := range list {
		out = append(out, eventJSON{Type: evt.Type, Attributes: evt.Attributes})
	}
	writeResult(w, req.ID, out)
}

func (s *Server) writeEscrowState(w http.ResponseWriter, reqID interface{}, id [32]byte) {
	s.mu.Lock()
	esc, err := s.engine.Get(id)
	s.mu.Unlock()
	if err != nil {
		s.writeEscrowError(w, reqID, err)
		return
	}
	writeResult(w, reqID, formatEscrowJSON(esc))
}

func (s *Server) decodeParams(w http.ResponseWriter, req *RPCRequest, out interface{}) bool {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", "exactly one parameter object expected")
		return false
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return false
	}
	return true
}

func (s *Server) decodeActorParams(w http.ResponseWriter, req *RPCRequest) ([32]byte, [20]byte, bool) {
	var params escrowActorParams
	if !s.decodeParams(w, req, &params) {
		return [32]byte{}, [20]byte{}, false
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return [32]byte{}, [20]byte{}, false
	}
	caller, err := crypto.DecodeAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", "caller: "+err.Error())
		return [32]byte{}, [20]byte{}, false
	}
	return id, caller, true
}

func (s *Server) writeEscrowError(w http.ResponseWriter, id interface{}, err error) {
	if err == nil {
		return
	}
	status := http.StatusInternalServerError
	code := codeEscrowInternal
	message := "internal_error"
	switch {
	case errors.Is(err, escrow.ErrNotFound):
		status = http.StatusNotFound
		code = codeEscrowNotFound
		message = "not_found"
	case errors.Is(err, escrow.ErrNotParticipant):
		status = http.StatusForbidden
		code = codeEscrowForbidden
		message = "forbidden"
	case errors.Is(err, escrow.ErrInvalidStatus),
		errors.Is(err, escrow.ErrExpired),
		errors.Is(err, escrow.ErrAlreadyDeposited),
		errors.Is(err, escrow.ErrAlreadyConfirmed),
		errors.Is(err, escrow.ErrInsufficientDeposit),
		errors.Is(err, escrow.ErrWrongHostLedger),
		errors.Is(err, escrow.ErrReentrantCall):
		status = http.StatusConflict
		code = codeEscrowConflict
		message = "conflict"
	case errors.Is(err, escrow.ErrTransferFailed):
		status = http.StatusInternalServerError
		code = codeEscrowInternal
		message = "transfer_failed"
	}
	writeError(w, status, id, code, message, err.Error())
}

func parseAssetParam(value string) (escrow.AssetKind, error) {
	trimmed := strings.TrimSpace(value)
	switch {
	case trimmed == "native":
		return escrow.NativeAsset(), nil
	case strings.HasPrefix(trimmed, "token:"):
		return escrow.TokenAsset(strings.TrimPrefix(trimmed, "token:")).Normalize()
	default:
		return escrow.AssetKind{}, errors.New(`asset must be "native" or "token:<symbol>"`)
	}
}

func parsePositiveBigInt(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, errors.New("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, errors.New("amount must be a base-10 integer")
	}
	if amount.Sign() <= 0 {
		return nil, errors.New("amount must be positive")
	}
	return amount, nil
}

func parseEscrowID(id string) ([32]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(id), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return [32]byte{}, errors.New("id must be hex encoded")
	}
	if len(raw) != 32 {
		return [32]byte{}, errors.New("id must be 32 bytes")
	}
	var out [32]byte
	copy(out[:], raw)
	return out, nil
}

func formatEscrowID(id [32]byte) string {
	return "0x" + hex.EncodeToString(id[:])
}
