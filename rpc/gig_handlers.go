package rpc

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"gigescrow/crypto"
	"gigescrow/native/gig"
)

type startParams struct {
	ContractID string `json:"contractId"`
	Buyer      string `json:"buyer"`
	Seller     string `json:"seller"`
	Token      string `json:"token"`
	Amount     uint64 `json:"amount"`
	DisputeFee uint64 `json:"disputeFee"`
	Deadline   int64  `json:"deadline"`
}

type actorParams struct {
	ContractID string `json:"contractId"`
	Caller     string `json:"caller"`
}

type buyerApproveParams struct {
	ContractID string `json:"contractId"`
	Caller     string `json:"caller"`
	Split      bool   `json:"split"`
}

type sellerApproveParams struct {
	ContractID      string `json:"contractId"`
	Caller          string `json:"caller"`
	SellerSatisfied bool   `json:"sellerSatisfied"`
}

type adminApproveParams struct {
	ContractID string `json:"contractId"`
	Caller     string `json:"caller"`
	Decision   uint8  `json:"decision"`
}

type contractIDParams struct {
	ContractID string `json:"contractId"`
}

type listEventsParams struct {
	Prefix string `json:"prefix,omitempty"`
	Limit  *int   `json:"limit,omitempty"`
}

type fundParams struct {
	Address string `json:"address"`
	Token   string `json:"token"`
	Amount  uint64 `json:"amount"`
}

type contractJSON struct {
	ContractID      string `json:"contractId"`
	Buyer           string `json:"buyer"`
	Seller          string `json:"seller"`
	StartTime       int64  `json:"startTime"`
	Deadline        int64  `json:"deadline"`
	Amount          uint64 `json:"amount"`
	DisputeFee      uint64 `json:"disputeFee"`
	Split           bool   `json:"split"`
	SellerSatisfied bool   `json:"sellerSatisfied"`
	BuyerApproved   bool   `json:"buyerApproved"`
	SellerApproved  bool   `json:"sellerApproved"`
	AdminApproved   bool   `json:"adminApproved"`
	Status          string `json:"status"`
	CustodyAddress  string `json:"custodyAddress"`
}

type custodyBalanceResult struct {
	ContractID string `json:"contractId"`
	Token      string `json:"token"`
	Balance    uint64 `json:"balance"`
}

func contractToJSON(c *gig.Contract) contractJSON {
	custody := gig.DeriveCustodyAddress(c.ContractID)
	return contractJSON{
		ContractID:      c.ContractID,
		Buyer:           crypto.NewAddress(crypto.GigPrefix, append([]byte(nil), c.Buyer[:]...)).String(),
		Seller:          crypto.NewAddress(crypto.GigPrefix, append([]byte(nil), c.Seller[:]...)).String(),
		StartTime:       c.StartTime,
		Deadline:        c.Deadline,
		Amount:          c.Amount,
		DisputeFee:      c.DisputeFee,
		Split:           c.Split,
		SellerSatisfied: c.SellerSatisfied,
		BuyerApproved:   c.BuyerApproved,
		SellerApproved:  c.SellerApproved,
		AdminApproved:   c.AdminApproved,
		Status:          c.Status.String(),
		CustodyAddress:  crypto.NewAddress(crypto.GigPrefix, append([]byte(nil), custody[:]...)).String(),
	}
}

func parseAddress(value string) ([20]byte, error) {
	addr, err := crypto.DecodeAddress(value)
	if err != nil {
		return [20]byte{}, err
	}
	return addr.Array(), nil
}

// engineErrorCode maps domain errors to the RPC error code space: role
// mismatches are forbidden, state-guard failures are conflicts, malformed
// inputs are invalid params and everything else is internal.
func engineErrorCode(err error) (int, string) {
	switch {
	case errors.Is(err, gig.ErrContractNotFound):
		return codeGigNotFound, "not_found"
	case errors.Is(err, gig.ErrInvalidActivator),
		errors.Is(err, gig.ErrInvalidSeller),
		errors.Is(err, gig.ErrInvalidBuyer),
		errors.Is(err, gig.ErrInvalidAdmin):
		return codeGigForbidden, "forbidden"
	case errors.Is(err, gig.ErrCantRelease),
		errors.Is(err, gig.ErrNotReadyYet),
		errors.Is(err, gig.ErrContractExists):
		return codeGigConflict, "conflict"
	case errors.Is(err, gig.ErrInvalidDisputeAmount),
		errors.Is(err, gig.ErrPayTokenMint),
		errors.Is(err, gig.ErrInvalidDecision):
		return codeGigInvalidParams, "invalid_params"
	default:
		return codeGigInternal, "internal_error"
	}
}

func (s *Server) writeEngineError(w http.ResponseWriter, id json.RawMessage, method string, err error) {
	code, message := engineErrorCode(err)
	status := http.StatusBadRequest
	switch code {
	case codeGigNotFound:
		status = http.StatusNotFound
	case codeGigForbidden:
		status = http.StatusForbidden
	case codeGigConflict:
		status = http.StatusConflict
	case codeGigInternal:
		status = http.StatusInternalServerError
	}
	s.log.Warn("operation rejected", slog.String("method", method), slog.Any("error", err))
	writeError(w, status, id, code, message, err.Error())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	started := time.Now()
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params startParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeGigInvalidParams, "invalid_params", err.Error())
		return
	}
	buyer, err := parseAddress(params.Buyer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeGigInvalidParams, "invalid_params", err.Error())
		return
	}
	seller, err := parseAddress(params.Seller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeGigInvalidParams, "invalid_params", err.Error())
		return
	}
	contract, err := s.engine.Start(params.ContractID, buyer, seller, params.Token, params.Amount, params.DisputeFee, params.Deadline)
	if err != nil {
		s.metrics.ObserveOperation("gig_start", "error", started)
		s.writeEngineError(w, req.ID, req.Method, err)
		return
	}
	s.metrics.ObserveOperation("gig_start", "ok", started)
	writeResult(w, req.ID, contractToJSON(contract))
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	started := time.Now()
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params actorParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeGigInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeGigInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.engine.Activate(params.ContractID, caller); err != nil {
		s.metrics.ObserveOperation("gig_activate", "error", started)
		s.writeEngineError(w, req.ID, req.Method, err)
		return
	}
	s.metrics.ObserveOperation("gig_activate", "ok", started)
	s.writeContract(w, req.ID, params.ContractID)
}

func (s *Server) handleBuyerApprove(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	started := time.Now()
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params buyerApproveParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeGigInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeGigInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.engine.BuyerApprove(params.ContractID, caller, params.Split); err != nil {
		s.metrics.ObserveOperation("gig_buyerApprove", "error", started)
		s.writeEngineError(w, req.ID, req.Method, err)
		return
	}
	s.metrics.ObserveOperation("gig_buyerApprove", "ok", started)
	s.writeContract(w, req.ID, params.ContractID)
}

func (s *Server) handleSellerApprove(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	started := time.Now()
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params sellerApproveParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeGigInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeGigInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.engine.SellerApprove(params.ContractID, caller, params.SellerSatisfied); err != nil {
		s.metrics.ObserveOperation("gig_sellerApprove", "error", started)
		s.writeEngineError(w, req.ID, req.Method, err)
		return
	}
	s.metrics.ObserveOperation("gig_sellerApprove", "ok", started)
	s.writeContract(w, req.ID, params.ContractID)
}

func (s *Server) handleAdminApprove(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	started := time.Now()
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params adminApproveParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeGigInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeGigInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.engine.AdminApprove(params.ContractID, caller, gig.Decision(params.Decision)); err != nil {
		s.metrics.ObserveOperation("gig_adminApprove", "error", started)
		s.writeEngineError(w, req.ID, req.Method, err)
		return
	}
	s.metrics.ObserveOperation("gig_adminApprove", "ok", started)
	s.writeContract(w, req.ID, params.ContractID)
}

func (s *Server) handleGetContract(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params contractIDParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeGigInvalidParams, "invalid_params", err.Error())
		return
	}
	s.writeContract(w, req.ID, params.ContractID)
}

func (s *Server) writeContract(w http.ResponseWriter, id json.RawMessage, contractID string) {
	contract, err := s.engine.Contract(contractID)
	if err != nil {
		s.writeEngineError(w, id, "gig_getContract", err)
		return
	}
	writeResult(w, id, contractToJSON(contract))
}

func (s *Server) handleCustodyBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params contractIDParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeGigInvalidParams, "invalid_params", err.Error())
		return
	}
	balance, err := s.engine.CustodyBalance(params.ContractID)
	if err != nil {
		s.writeEngineError(w, req.ID, req.Method, err)
		return
	}
	writeResult(w, req.ID, custodyBalanceResult{
		ContractID: params.ContractID,
		Token:      s.engine.PayToken(),
		Balance:    balance,
	})
}

func (s *Server) handleListEvents(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params listEventsParams
	if len(req.Params) > 0 {
		if err := decodeSingleParam(req, &params); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeGigInvalidParams, "invalid_params", err.Error())
			return
		}
	}
	limit := 0
	if params.Limit != nil {
		limit = *params.Limit
	}
	writeResult(w, req.ID, s.events.List(params.Prefix, limit))
}

// handleLedgerFund is an operational hook for crediting accounts; it always
// requires the bearer token when one is configured.
func (s *Server) handleLedgerFund(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params fundParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeGigInvalidParams, "invalid_params", err.Error())
		return
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeGigInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.ledger.Mint(addr, params.Token, params.Amount); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeGigInvalidParams, "invalid_params", err.Error())
		return
	}
	balance, err := s.ledger.BalanceOf(addr, params.Token)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeGigInternal, "internal_error", err.Error())
		return
	}
	writeResult(w, req.ID, map[string]any{"address": params.Address, "token": params.Token, "balance": balance})
}
