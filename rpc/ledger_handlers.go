package rpc

import (
	"context"
	"encoding/hex"
	"time"

	"dealchain/core/events"
)

type ledgerHolderParams struct {
	Asset   string `json:"asset"`
	Address string `json:"address"`
}

type ledgerAssetParams struct {
	Asset string `json:"asset"`
}

type ledgerAllowanceParams struct {
	Asset   string `json:"asset"`
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
}

type ledgerTransferParams struct {
	Caller string `json:"caller"`
	Asset  string `json:"asset"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type ledgerApproveParams struct {
	Caller  string `json:"caller"`
	Asset   string `json:"asset"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

type ledgerMintParams struct {
	Asset  string `json:"asset"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type nonceResult struct {
	Nonce uint64 `json:"nonce"`
}

type auditListParams struct {
	After int64 `json:"after"`
	Limit int   `json:"limit,omitempty"`
}

type auditRecordJSON struct {
	Sequence  int64             `json:"sequence"`
	Type      string            `json:"type"`
	RequestID string            `json:"requestId,omitempty"`
	Payload   map[string]string `json:"payload"`
	Hash      string            `json:"hash"`
	PrevHash  string            `json:"prevHash"`
	CreatedAt string            `json:"createdAt"`
}

type auditVerifyResult struct {
	Valid bool `json:"valid"`
}

func handleLedgerBalanceOf(_ context.Context, s *Server, req *RPCRequest) (interface{}, error) {
	var params ledgerHolderParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	asset, err := parseAsset(params.Asset, "asset")
	if err != nil {
		return nil, err
	}
	holder, err := parseAccount(params.Address, "address")
	if err != nil {
		return nil, err
	}
	balance, err := s.deps.Ledger.BalanceOf(asset, holder)
	if err != nil {
		return nil, err
	}
	return balanceResult{Balance: formatAmount(balance)}, nil
}

func handleLedgerAllowance(_ context.Context, s *Server, req *RPCRequest) (interface{}, error) {
	var params ledgerAllowanceParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	asset, err := parseAsset(params.Asset, "asset")
	if err != nil {
		return nil, err
	}
	owner, err := parseAccount(params.Owner, "owner")
	if err != nil {
		return nil, err
	}
	spender, err := parseAccount(params.Spender, "spender")
	if err != nil {
		return nil, err
	}
	allowance, err := s.deps.Ledger.Allowance(asset, owner, spender)
	if err != nil {
		return nil, err
	}
	return balanceResult{Balance: formatAmount(allowance)}, nil
}

func handleLedgerNonce(_ context.Context, s *Server, req *RPCRequest) (interface{}, error) {
	var params ledgerHolderParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	asset, err := parseAsset(params.Asset, "asset")
	if err != nil {
		return nil, err
	}
	owner, err := parseAccount(params.Address, "address")
	if err != nil {
		return nil, err
	}
	nonce, err := s.deps.Ledger.Nonce(asset, owner)
	if err != nil {
		return nil, err
	}
	return nonceResult{Nonce: nonce}, nil
}

func handleLedgerTotalSupply(_ context.Context, s *Server, req *RPCRequest) (interface{}, error) {
	var params ledgerAssetParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	asset, err := parseAsset(params.Asset, "asset")
	if err != nil {
		return nil, err
	}
	supply, err := s.deps.Ledger.TotalSupply(asset)
	if err != nil {
		return nil, err
	}
	return balanceResult{Balance: formatAmount(supply)}, nil
}

func handleLedgerTransfer(_ context.Context, s *Server, req *RPCRequest) (interface{}, error) {
	var params ledgerTransferParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	caller, err := parseAccount(params.Caller, "caller")
	if err != nil {
		return nil, err
	}
	if s.isCustodyAccount(caller) {
		return nil, errCustodyAccount
	}
	asset, err := parseAsset(params.Asset, "asset")
	if err != nil {
		return nil, err
	}
	to, err := parseAccount(params.To, "to")
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount(params.Amount, "amount")
	if err != nil {
		return nil, err
	}
	if err := s.deps.Ledger.Transfer(asset, caller, to, amount); err != nil {
		return nil, err
	}
	s.emit(events.Transfer{Asset: asset, From: caller, To: to, Amount: amount})
	balance, err := s.deps.Ledger.BalanceOf(asset, caller)
	if err != nil {
		return nil, err
	}
	return balanceResult{Balance: formatAmount(balance)}, nil
}

func handleLedgerApprove(_ context.Context, s *Server, req *RPCRequest) (interface{}, error) {
	var params ledgerApproveParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	caller, err := parseAccount(params.Caller, "caller")
	if err != nil {
		return nil, err
	}
	if s.isCustodyAccount(caller) {
		return nil, errCustodyAccount
	}
	asset, err := parseAsset(params.Asset, "asset")
	if err != nil {
		return nil, err
	}
	spender, err := parseAccount(params.Spender, "spender")
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount(params.Amount, "amount")
	if err != nil {
		return nil, err
	}
	if err := s.deps.Ledger.Approve(asset, caller, spender, amount); err != nil {
		return nil, err
	}
	return balanceResult{Balance: formatAmount(amount)}, nil
}

func (s *Server) isCustodyAccount(addr [20]byte) bool {
	return addr == s.deps.Registry.Vault() || addr == s.deps.Engine.EscrowAccount()
}

// handleLedgerMint credits an account out of thin air. It is only served
// when the operator enabled it, typically on development networks.
func handleLedgerMint(_ context.Context, s *Server, req *RPCRequest) (interface{}, error) {
	if !s.cfg.AllowMint {
		return nil, errMintDisabled
	}
	var params ledgerMintParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	asset, err := parseAsset(params.Asset, "asset")
	if err != nil {
		return nil, err
	}
	to, err := parseAccount(params.To, "to")
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount(params.Amount, "amount")
	if err != nil {
		return nil, err
	}
	if err := s.deps.Ledger.Mint(asset, to, amount); err != nil {
		return nil, err
	}
	supply, err := s.deps.Ledger.TotalSupply(asset)
	if err != nil {
		return nil, err
	}
	s.emit(events.TokenSupply{
		Asset:     asset,
		Recipient: to,
		Total:     supply,
		Delta:     amount,
		Reason:    events.SupplyReasonMint,
	})
	balance, err := s.deps.Ledger.BalanceOf(asset, to)
	if err != nil {
		return nil, err
	}
	return balanceResult{Balance: formatAmount(balance)}, nil
}

func handleAuditList(ctx context.Context, s *Server, req *RPCRequest) (interface{}, error) {
	if s.deps.Audit == nil {
		return nil, errAuditOffline
	}
	var params auditListParams
	if len(req.Params) > 0 {
		if err := decodeParams(req, &params); err != nil {
			return nil, err
		}
	}
	if params.After < 0 || params.Limit < 0 {
		return nil, invalidParams("after and limit must not be negative")
	}
	records, err := s.deps.Audit.List(ctx, params.After, params.Limit)
	if err != nil {
		return nil, err
	}
	out := make([]auditRecordJSON, 0, len(records))
	for _, rec := range records {
		out = append(out, auditRecordJSON{
			Sequence:  rec.Sequence,
			Type:      rec.Type,
			RequestID: rec.RequestID,
			Payload:   rec.Payload,
			Hash:      hex.EncodeToString(rec.Hash[:]),
			PrevHash:  hex.EncodeToString(rec.PrevHash[:]),
			CreatedAt: rec.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return out, nil
}

func handleAuditVerify(ctx context.Context, s *Server, _ *RPCRequest) (interface{}, error) {
	if s.deps.Audit == nil {
		return nil, errAuditOffline
	}
	if err := s.deps.Audit.Verify(ctx); err != nil {
		return nil, err
	}
	return auditVerifyResult{Valid: true}, nil
}
