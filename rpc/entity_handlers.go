package rpc

import (
	"context"
	"strings"

	"dealchain/native/entity"
)

type entityRegisterParams struct {
	Caller string `json:"caller"`
	Kind   string `json:"kind"`
	Salt   string `json:"salt"`
	Signer string `json:"signer"`
}

type entityIDParams struct {
	ID string `json:"id"`
}

type entityActorParams struct {
	Caller string `json:"caller"`
	ID     string `json:"id"`
}

type entitySignerParams struct {
	Caller string `json:"caller"`
	ID     string `json:"id"`
	Signer string `json:"signer"`
}

type entityDepositParams struct {
	Caller string      `json:"caller"`
	ID     string      `json:"id"`
	Amount string      `json:"amount"`
	Permit *permitJSON `json:"permit,omitempty"`
}

type entityToggleResult struct {
	Enabled bool `json:"enabled"`
}

func (p entityActorParams) parse() ([20]byte, [32]byte, error) {
	caller, err := parseAccount(p.Caller, "caller")
	if err != nil {
		return [20]byte{}, [32]byte{}, err
	}
	id, err := parseID(p.ID, "id")
	if err != nil {
		return [20]byte{}, [32]byte{}, err
	}
	return caller, id, nil
}

func handleEntityRegister(_ context.Context, s *Server, req *RPCRequest) (interface{}, error) {
	var params entityRegisterParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	caller, err := parseAccount(params.Caller, "caller")
	if err != nil {
		return nil, err
	}
	signer, err := parseAccount(params.Signer, "signer")
	if err != nil {
		return nil, err
	}
	salt, err := parseID(params.Salt, "salt")
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(params.Kind) == "" {
		return nil, invalidParams("kind is required")
	}
	e, err := s.deps.Registry.Register(caller, entity.NormalizeKind(params.Kind), salt, signer)
	if err != nil {
		return nil, err
	}
	return formatEntity(e), nil
}

func handleEntityChangeSigner(_ context.Context, s *Server, req *RPCRequest) (interface{}, error) {
	var params entitySignerParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	caller, id, err := entityActorParams{Caller: params.Caller, ID: params.ID}.parse()
	if err != nil {
		return nil, err
	}
	signer, err := parseAccount(params.Signer, "signer")
	if err != nil {
		return nil, err
	}
	if err := s.deps.Registry.ChangeSigner(caller, id, signer); err != nil {
		return nil, err
	}
	return entityResult(s, id)
}

func handleEntityToggle(_ context.Context, s *Server, req *RPCRequest) (interface{}, error) {
	var params entityActorParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	caller, id, err := params.parse()
	if err != nil {
		return nil, err
	}
	enabled, err := s.deps.Registry.ToggleEntity(caller, id)
	if err != nil {
		return nil, err
	}
	return entityToggleResult{Enabled: enabled}, nil
}

func handleEntityAddDeposit(_ context.Context, s *Server, req *RPCRequest) (interface{}, error) {
	var params entityDepositParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	caller, id, err := entityActorParams{Caller: params.Caller, ID: params.ID}.parse()
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount(params.Amount, "amount")
	if err != nil {
		return nil, err
	}
	permit, err := params.Permit.toPermit()
	if err != nil {
		return nil, err
	}
	balance, err := s.deps.Registry.AddDeposit(caller, id, amount, permit)
	if err != nil {
		return nil, err
	}
	return balanceResult{Balance: formatAmount(balance)}, nil
}

func handleEntityWithdrawDeposit(_ context.Context, s *Server, req *RPCRequest) (interface{}, error) {
	var params entityDepositParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	caller, id, err := entityActorParams{Caller: params.Caller, ID: params.ID}.parse()
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount(params.Amount, "amount")
	if err != nil {
		return nil, err
	}
	balance, err := s.deps.Registry.WithdrawDeposit(caller, id, amount)
	if err != nil {
		return nil, err
	}
	return balanceResult{Balance: formatAmount(balance)}, nil
}

func parseEntityID(req *RPCRequest) ([32]byte, error) {
	var params entityIDParams
	if err := decodeParams(req, &params); err != nil {
		return [32]byte{}, err
	}
	return parseID(params.ID, "id")
}

func entityResult(s *Server, id [32]byte) (interface{}, error) {
	e, err := s.deps.Registry.Entity(id)
	if err != nil {
		return nil, err
	}
	return formatEntity(e), nil
}

func handleEntityGet(_ context.Context, s *Server, req *RPCRequest) (interface{}, error) {
	id, err := parseEntityID(req)
	if err != nil {
		return nil, err
	}
	return entityResult(s, id)
}

func handleEntityIsEnabled(_ context.Context, s *Server, req *RPCRequest) (interface{}, error) {
	id, err := parseEntityID(req)
	if err != nil {
		return nil, err
	}
	return s.deps.Registry.IsEntityEnabled(id)
}

func handleEntityBalanceOf(_ context.Context, s *Server, req *RPCRequest) (interface{}, error) {
	id, err := parseEntityID(req)
	if err != nil {
		return nil, err
	}
	balance, err := s.deps.Registry.BalanceOf(id)
	if err != nil {
		return nil, err
	}
	return balanceResult{Balance: formatAmount(balance)}, nil
}
