package rpc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"shieldlend/core/types"
	"shieldlend/crypto"
	nativecommon "shieldlend/native/common"
	"shieldlend/native/lendingpool"
	"shieldlend/native/liquidator"
	"shieldlend/native/vault"
)

// signedEnvelope carries an entrypoint payload together with a recoverable
// signature over the exact payload bytes. The recovered address is the caller
// identity for authorization.
type signedEnvelope struct {
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

func decodeParams(params []json.RawMessage, out interface{}) *RPCError {
	if len(params) != 1 {
		return &RPCError{Code: codeInvalidParams, Message: "expected a single parameter object"}
	}
	if err := json.Unmarshal(params[0], out); err != nil {
		return &RPCError{Code: codeInvalidParams, Message: "malformed parameters", Data: err.Error()}
	}
	return nil
}

// openEnvelope verifies the signature and decodes the payload into out,
// returning the recovered caller address.
func openEnvelope(params []json.RawMessage, out interface{}) (crypto.Address, *RPCError) {
	var env signedEnvelope
	if rpcErr := decodeParams(params, &env); rpcErr != nil {
		return crypto.Address{}, rpcErr
	}
	if len(env.Payload) == 0 {
		return crypto.Address{}, &RPCError{Code: codeInvalidParams, Message: "payload required"}
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(env.Signature, "0x"))
	if err != nil || len(sig) != 65 {
		return crypto.Address{}, &RPCError{Code: codeInvalidParams, Message: "signature must be 65 hex-encoded bytes"}
	}
	caller, err := crypto.RecoverAddress(env.Payload, sig)
	if err != nil {
		return crypto.Address{}, &RPCError{Code: codeUnauthorized, Message: "signature recovery failed", Data: err.Error()}
	}
	if err := json.Unmarshal(env.Payload, out); err != nil {
		return crypto.Address{}, &RPCError{Code: codeInvalidParams, Message: "malformed payload", Data: err.Error()}
	}
	return caller, nil
}

func decodeHex(value string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(value), "0x"))
}

func decodeProof(proofHex string, inputsHex []string) ([]byte, [][]byte, *RPCError) {
	proof, err := decodeHex(proofHex)
	if err != nil {
		return nil, nil, &RPCError{Code: codeInvalidParams, Message: "proof must be hex encoded", Data: err.Error()}
	}
	inputs := make([][]byte, 0, len(inputsHex))
	for i, raw := range inputsHex {
		decoded, err := decodeHex(raw)
		if err != nil {
			return nil, nil, &RPCError{Code: codeInvalidParams, Message: fmt.Sprintf("publicInputs[%d] must be hex encoded", i), Data: err.Error()}
		}
		inputs = append(inputs, decoded)
	}
	return proof, inputs, nil
}

func parseAmount(raw string) (*big.Int, *RPCError) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return nil, &RPCError{Code: codeInvalidParams, Message: fmt.Sprintf("invalid amount %q", raw)}
	}
	return amount, nil
}

// protocolError maps engine sentinels onto a stable RPC error. Unknown errors
// surface as internal server errors without leaking internals.
func protocolError(err error) *RPCError {
	switch {
	case errors.Is(err, vault.ErrInvalidProof),
		errors.Is(err, vault.ErrInvalidInputs),
		errors.Is(err, vault.ErrCommitmentMismatch),
		errors.Is(err, vault.ErrNullifierSpent),
		errors.Is(err, vault.ErrDepositNotFound),
		errors.Is(err, vault.ErrDepositLocked),
		errors.Is(err, vault.ErrDepositConsumed),
		errors.Is(err, vault.ErrCounterOverflow),
		errors.Is(err, vault.ErrUnauthorized),
		errors.Is(err, lendingpool.ErrInvalidProof),
		errors.Is(err, lendingpool.ErrInvalidAmount),
		errors.Is(err, lendingpool.ErrAmountMismatch),
		errors.Is(err, lendingpool.ErrCommitmentMismatch),
		errors.Is(err, lendingpool.ErrRatioTooLow),
		errors.Is(err, lendingpool.ErrDepositNotFound),
		errors.Is(err, lendingpool.ErrDepositInUse),
		errors.Is(err, lendingpool.ErrLoanNotFound),
		errors.Is(err, lendingpool.ErrAlreadyRepaid),
		errors.Is(err, lendingpool.ErrUnauthorized),
		errors.Is(err, lendingpool.ErrInsufficientLiquidity),
		errors.Is(err, lendingpool.ErrNotInitialized),
		errors.Is(err, liquidator.ErrLoanNotFound),
		errors.Is(err, liquidator.ErrLoanNotActive),
		errors.Is(err, liquidator.ErrLoanHealthy),
		errors.Is(err, liquidator.ErrLiquidateFailed),
		errors.Is(err, nativecommon.ErrModulePaused):
		return &RPCError{Code: codeProtocolError, Message: err.Error()}
	default:
		return &RPCError{Code: codeServerError, Message: "internal error", Data: err.Error()}
	}
}

type depositResult struct {
	DepositID uint64 `json:"depositId"`
}

type withdrawResult struct {
	Amount string `json:"amount"`
	Asset  string `json:"asset"`
}

type loanResult struct {
	LoanID uint64 `json:"loanId"`
}

type depositView struct {
	DepositID  uint64 `json:"depositId"`
	Commitment string `json:"commitment"`
	Owner      string `json:"owner"`
	Asset      string `json:"asset"`
	Status     string `json:"status"`
	CreatedAt  uint64 `json:"createdAt"`
}

type loanView struct {
	LoanID    uint64 `json:"loanId"`
	Borrower  string `json:"borrower"`
	Amount    string `json:"amount"`
	Asset     string `json:"asset"`
	DepositID uint64 `json:"depositId"`
	Status    string `json:"status"`
	StartTime uint64 `json:"startTime"`
}

func renderDeposit(d *types.Deposit) depositView {
	return depositView{
		DepositID:  d.ID,
		Commitment: hex.EncodeToString(d.Commitment),
		Owner:      crypto.NewAddress(crypto.ShieldPrefix, d.Owner).String(),
		Asset:      d.Asset,
		Status:     d.Status.String(),
		CreatedAt:  d.CreatedAt,
	}
}

func renderLoan(l *types.Loan) loanView {
	return loanView{
		LoanID:    l.ID,
		Borrower:  crypto.NewAddress(crypto.ShieldPrefix, l.Borrower).String(),
		Amount:    l.Amount.String(),
		Asset:     l.Asset,
		DepositID: l.DepositID,
		Status:    l.Status.String(),
		StartTime: l.StartTime,
	}
}

func (s *Server) registerHandlers() {
	s.register("vault_depositCollateral", true, s.handleDepositCollateral)
	s.register("vault_withdraw", true, s.handleWithdraw)
	s.register("vault_getDeposit", false, s.handleGetDeposit)
	s.register("vault_depositCount", false, s.handleDepositCount)
	s.register("vault_checkNullifier", false, s.handleCheckNullifier)
	s.register("lending_requestLoan", true, s.handleRequestLoan)
	s.register("lending_repayLoan", true, s.handleRepayLoan)
	s.register("lending_setOracle", true, s.handleSetOracle)
	s.register("lending_getLoan", false, s.handleGetLoan)
	s.register("lending_loanStatus", false, s.handleLoanStatus)
	s.register("liquidator_checkLiquidatable", false, s.handleCheckLiquidatable)
	s.register("liquidator_liquidate", true, s.handleLiquidate)
	s.register("bank_balance", false, s.handleBalance)
}

func (s *Server) handleDepositCollateral(_ context.Context, params []json.RawMessage) (interface{}, *RPCError) {
	var payload struct {
		Asset        string   `json:"asset"`
		Proof        string   `json:"proof"`
		PublicInputs []string `json:"publicInputs"`
	}
	caller, rpcErr := openEnvelope(params, &payload)
	if rpcErr != nil {
		return nil, rpcErr
	}
	proof, inputs, rpcErr := decodeProof(payload.Proof, payload.PublicInputs)
	if rpcErr != nil {
		return nil, rpcErr
	}
	depositID, err := s.protocol.DepositCollateral(caller, payload.Asset, proof, inputs)
	if err != nil {
		return nil, protocolError(err)
	}
	return depositResult{DepositID: depositID}, nil
}

func (s *Server) handleWithdraw(_ context.Context, params []json.RawMessage) (interface{}, *RPCError) {
	var payload struct {
		DepositID    uint64   `json:"depositId"`
		Proof        string   `json:"proof"`
		PublicInputs []string `json:"publicInputs"`
	}
	caller, rpcErr := openEnvelope(params, &payload)
	if rpcErr != nil {
		return nil, rpcErr
	}
	proof, inputs, rpcErr := decodeProof(payload.Proof, payload.PublicInputs)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, asset, err := s.protocol.WithdrawWithProof(caller, payload.DepositID, proof, inputs)
	if err != nil {
		return nil, protocolError(err)
	}
	return withdrawResult{Amount: amount.String(), Asset: asset}, nil
}

func (s *Server) handleGetDeposit(_ context.Context, params []json.RawMessage) (interface{}, *RPCError) {
	var payload struct {
		DepositID uint64 `json:"depositId"`
	}
	if rpcErr := decodeParams(params, &payload); rpcErr != nil {
		return nil, rpcErr
	}
	deposit, ok, err := s.protocol.Vault.Deposit(payload.DepositID)
	if err != nil {
		return nil, protocolError(err)
	}
	if !ok {
		return nil, &RPCError{Code: codeProtocolError, Message: fmt.Sprintf("deposit %d not found", payload.DepositID)}
	}
	return renderDeposit(deposit), nil
}

func (s *Server) handleDepositCount(_ context.Context, params []json.RawMessage) (interface{}, *RPCError) {
	count, err := s.protocol.Vault.DepositCount()
	if err != nil {
		return nil, protocolError(err)
	}
	return map[string]uint64{"count": count}, nil
}

func (s *Server) handleCheckNullifier(_ context.Context, params []json.RawMessage) (interface{}, *RPCError) {
	var payload struct {
		Nullifier string `json:"nullifier"`
	}
	if rpcErr := decodeParams(params, &payload); rpcErr != nil {
		return nil, rpcErr
	}
	nullifier, err := decodeHex(payload.Nullifier)
	if err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: "nullifier must be hex encoded", Data: err.Error()}
	}
	spent, err := s.protocol.Vault.CheckNullifier(nullifier)
	if err != nil {
		return nil, protocolError(err)
	}
	return map[string]bool{"spent": spent}, nil
}

func (s *Server) handleRequestLoan(_ context.Context, params []json.RawMessage) (interface{}, *RPCError) {
	var payload struct {
		DepositID    uint64   `json:"depositId"`
		Amount       string   `json:"amount"`
		Asset        string   `json:"asset"`
		Proof        string   `json:"proof"`
		PublicInputs []string `json:"publicInputs"`
	}
	caller, rpcErr := openEnvelope(params, &payload)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmount(payload.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	proof, inputs, rpcErr := decodeProof(payload.Proof, payload.PublicInputs)
	if rpcErr != nil {
		return nil, rpcErr
	}
	loanID, err := s.protocol.RequestLoan(caller, payload.DepositID, amount, payload.Asset, proof, inputs)
	if err != nil {
		return nil, protocolError(err)
	}
	return loanResult{LoanID: loanID}, nil
}

func (s *Server) handleRepayLoan(_ context.Context, params []json.RawMessage) (interface{}, *RPCError) {
	var payload struct {
		LoanID uint64 `json:"loanId"`
	}
	caller, rpcErr := openEnvelope(params, &payload)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.protocol.RepayLoan(caller, payload.LoanID); err != nil {
		return nil, protocolError(err)
	}
	return map[string]bool{"repaid": true}, nil
}

func (s *Server) handleSetOracle(_ context.Context, params []json.RawMessage) (interface{}, *RPCError) {
	var payload struct {
		Oracle string `json:"oracle"`
	}
	caller, rpcErr := openEnvelope(params, &payload)
	if rpcErr != nil {
		return nil, rpcErr
	}
	oracleAddr, err := crypto.DecodeAddress(payload.Oracle)
	if err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: "invalid oracle address", Data: err.Error()}
	}
	if err := s.protocol.SetOracle(caller, oracleAddr); err != nil {
		return nil, protocolError(err)
	}
	return map[string]bool{"updated": true}, nil
}

func (s *Server) handleGetLoan(_ context.Context, params []json.RawMessage) (interface{}, *RPCError) {
	var payload struct {
		LoanID uint64 `json:"loanId"`
	}
	if rpcErr := decodeParams(params, &payload); rpcErr != nil {
		return nil, rpcErr
	}
	loan, ok, err := s.protocol.Lending.Loan(payload.LoanID)
	if err != nil {
		return nil, protocolError(err)
	}
	if !ok {
		return nil, &RPCError{Code: codeProtocolError, Message: fmt.Sprintf("loan %d not found", payload.LoanID)}
	}
	return renderLoan(loan), nil
}

func (s *Server) handleLoanStatus(_ context.Context, params []json.RawMessage) (interface{}, *RPCError) {
	var payload struct {
		LoanID uint64 `json:"loanId"`
	}
	if rpcErr := decodeParams(params, &payload); rpcErr != nil {
		return nil, rpcErr
	}
	status, err := s.protocol.Lending.LoanStatus(payload.LoanID)
	if err != nil {
		return nil, protocolError(err)
	}
	return map[string]string{"status": status.String()}, nil
}

func (s *Server) handleCheckLiquidatable(_ context.Context, params []json.RawMessage) (interface{}, *RPCError) {
	var payload struct {
		LoanID           uint64 `json:"loanId"`
		CollateralAmount string `json:"collateralAmount"`
	}
	if rpcErr := decodeParams(params, &payload); rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmount(payload.CollateralAmount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	liquidatable, err := s.protocol.CheckLiquidatable(payload.LoanID, amount)
	if err != nil {
		return nil, protocolError(err)
	}
	return map[string]bool{"liquidatable": liquidatable}, nil
}

func (s *Server) handleLiquidate(_ context.Context, params []json.RawMessage) (interface{}, *RPCError) {
	var payload struct {
		LoanID       uint64   `json:"loanId"`
		Proof        string   `json:"proof"`
		PublicInputs []string `json:"publicInputs"`
	}
	caller, rpcErr := openEnvelope(params, &payload)
	if rpcErr != nil {
		return nil, rpcErr
	}
	proof, inputs, rpcErr := decodeProof(payload.Proof, payload.PublicInputs)
	if rpcErr != nil {
		return nil, rpcErr
	}
	proceeds, err := s.protocol.LiquidateLoan(caller, payload.LoanID, proof, inputs)
	if err != nil {
		return nil, protocolError(err)
	}
	return map[string]string{"proceeds": proceeds.String()}, nil
}

func (s *Server) handleBalance(_ context.Context, params []json.RawMessage) (interface{}, *RPCError) {
	var payload struct {
		Address string `json:"address"`
		Asset   string `json:"asset"`
	}
	if rpcErr := decodeParams(params, &payload); rpcErr != nil {
		return nil, rpcErr
	}
	addr, err := crypto.DecodeAddress(payload.Address)
	if err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: "invalid address", Data: err.Error()}
	}
	balance, err := s.protocol.Manager().Balance(addr, payload.Asset)
	if err != nil {
		return nil, protocolError(err)
	}
	return map[string]string{"balance": balance.String()}, nil
}
