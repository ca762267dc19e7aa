package config

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"dealchain/crypto"
	"dealchain/native/entity"
	"dealchain/native/fees"
)

var ErrInvalidConfig = errors.New("config: invalid configuration")

// Runtime is the parsed form of the settlement settings.
type Runtime struct {
	Fees          fees.Config
	DepositAsset  [20]byte
	EscrowAccount [20]byte
	MinDeposits   map[entity.Kind]*big.Int
	ClaimPeriod   int64
	ChainID       int64
	Policies      map[[20]byte]crypto.Policy
}

// Validate checks the configuration without resolving the operator key.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	if cfg.ChainID < 0 {
		return fmt.Errorf("%w: chain id must not be negative", ErrInvalidConfig)
	}
	if cfg.ClaimPeriod < 0 {
		return fmt.Errorf("%w: claim period must not be negative", ErrInvalidConfig)
	}
	if cfg.RateLimitPerMinute < 0 || cfg.RateLimitBurst < 0 {
		return fmt.Errorf("%w: rate limits must not be negative", ErrInvalidConfig)
	}
	if err := (fees.Config{ProtocolFee: cfg.ProtocolFee, RetailerFee: cfg.RetailerFee}).Validate(); err != nil {
		return err
	}
	if _, err := parseMinDeposits(cfg.MinDeposits); err != nil {
		return err
	}
	if _, err := parseSignerPolicies(cfg.SignerPolicies); err != nil {
		return err
	}
	if cfg.RPCJWT.Enable && strings.TrimSpace(cfg.RPCJWT.HSSecretEnv) == "" {
		return fmt.Errorf("%w: rpc_jwt.HSSecretEnv required when JWT is enabled", ErrInvalidConfig)
	}
	if cfg.RPCJWT.MaxSkewSeconds < 0 {
		return fmt.Errorf("%w: rpc_jwt.MaxSkewSeconds must not be negative", ErrInvalidConfig)
	}
	for name, value := range map[string]string{
		"FeeRecipient":  cfg.FeeRecipient,
		"DepositAsset":  cfg.DepositAsset,
		"EscrowAccount": cfg.EscrowAccount,
	} {
		if _, err := parseOptionalAddress(value); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, name, err)
		}
	}
	return nil
}

// Runtime resolves addresses and amounts. operator is used for every address
// left empty in the file.
func (c *Config) Runtime(operator [20]byte) (*Runtime, error) {
	if err := Validate(c); err != nil {
		return nil, err
	}
	recipient, _ := parseOptionalAddress(c.FeeRecipient)
	asset, _ := parseOptionalAddress(c.DepositAsset)
	escrow, _ := parseOptionalAddress(c.EscrowAccount)
	if recipient == ([20]byte{}) {
		recipient = operator
	}
	if escrow == ([20]byte{}) {
		escrow = operator
	}
	if escrow == ([20]byte{}) {
		return nil, fmt.Errorf("%w: escrow account unresolved", ErrInvalidConfig)
	}
	minimums, _ := parseMinDeposits(c.MinDeposits)
	policies, _ := parseSignerPolicies(c.SignerPolicies)
	return &Runtime{
		Fees: fees.Config{
			ProtocolFee: c.ProtocolFee,
			RetailerFee: c.RetailerFee,
			Recipient:   recipient,
		},
		DepositAsset:  asset,
		EscrowAccount: escrow,
		MinDeposits:   minimums,
		ClaimPeriod:   c.ClaimPeriod,
		ChainID:       c.ChainID,
		Policies:      policies,
	}, nil
}

func parseOptionalAddress(value string) ([20]byte, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return [20]byte{}, nil
	}
	addr, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return [20]byte{}, err
	}
	return addr.Array(), nil
}

func parseMinDeposits(raw map[string]string) (map[entity.Kind]*big.Int, error) {
	out := make(map[entity.Kind]*big.Int, len(raw))
	for key, value := range raw {
		kind := entity.NormalizeKind(key)
		if kind != entity.KindSupplier && kind != entity.KindRetailer {
			return nil, fmt.Errorf("%w: unknown entity kind %q in MinDeposits", ErrInvalidConfig, key)
		}
		amount, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
		if !ok || amount.Sign() < 0 {
			return nil, fmt.Errorf("%w: invalid minimum deposit %q for %s", ErrInvalidConfig, value, kind)
		}
		out[kind] = amount
	}
	return out, nil
}

func parseSignerPolicies(raw []SignerPolicy) (map[[20]byte]crypto.Policy, error) {
	out := make(map[[20]byte]crypto.Policy, len(raw))
	for i, entry := range raw {
		identity, err := parseOptionalAddress(entry.Identity)
		if err != nil || identity == ([20]byte{}) {
			return nil, fmt.Errorf("%w: SignerPolicies[%d]: invalid identity %q", ErrInvalidConfig, i, entry.Identity)
		}
		if _, dup := out[identity]; dup {
			return nil, fmt.Errorf("%w: SignerPolicies[%d]: duplicate identity %s", ErrInvalidConfig, i, entry.Identity)
		}
		members := make([][20]byte, 0, len(entry.Members))
		for _, member := range entry.Members {
			addr, err := parseOptionalAddress(member)
			if err != nil || addr == ([20]byte{}) {
				return nil, fmt.Errorf("%w: SignerPolicies[%d]: invalid member %q", ErrInvalidConfig, i, member)
			}
			members = append(members, addr)
		}
		policy, err := crypto.NewMultisigPolicy(entry.Threshold, members...)
		if err != nil {
			return nil, fmt.Errorf("%w: SignerPolicies[%d]: %v", ErrInvalidConfig, i, err)
		}
		out[identity] = policy
	}
	return out, nil
}
