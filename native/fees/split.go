package fees

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	// ErrInvalidConfig is returned when the configured fee percentages exceed
	// the full price.
	ErrInvalidConfig = errors.New("fees: invalid config")
	// ErrInvalidPercent is returned for percentages outside [0,100].
	ErrInvalidPercent = errors.New("fees: invalid percent")
)

// MaxPercent is the whole price expressed in percent.
const MaxPercent = 100

// percentScale is the intermediate scaling factor applied before dividing by
// 100 so that small prices keep their precision until the final division.
var percentScale = big.NewInt(1000)

var hundred = big.NewInt(MaxPercent)

// Config captures the protocol-wide settlement fees.
type Config struct {
	ProtocolFee uint8
	RetailerFee uint8
	Recipient   [20]byte
}

// Validate enforces ProtocolFee + RetailerFee <= 100.
func (c Config) Validate() error {
	if c.ProtocolFee > MaxPercent || c.RetailerFee > MaxPercent {
		return ErrInvalidPercent
	}
	if uint16(c.ProtocolFee)+uint16(c.RetailerFee) > MaxPercent {
		return fmt.Errorf("%w: protocol %d%% + retailer %d%% exceeds 100%%", ErrInvalidConfig, c.ProtocolFee, c.RetailerFee)
	}
	return nil
}

// Split is the settlement of a price between protocol, retailer and supplier.
type Split struct {
	ProtocolFee   *big.Int
	RetailerFee   *big.Int
	SupplierValue *big.Int
}

// Total returns the sum of all shares.
func (s Split) Total() *big.Int {
	total := new(big.Int)
	for _, part := range []*big.Int{s.ProtocolFee, s.RetailerFee, s.SupplierValue} {
		if part != nil {
			total.Add(total, part)
		}
	}
	return total
}

// PercentOf returns percent of value as value*1000*percent/100/1000.
func PercentOf(value *big.Int, percent uint8) (*big.Int, error) {
	if percent > MaxPercent {
		return nil, ErrInvalidPercent
	}
	if value == nil || value.Sign() <= 0 || percent == 0 {
		return big.NewInt(0), nil
	}
	out := new(big.Int).Mul(value, percentScale)
	out.Mul(out, big.NewInt(int64(percent)))
	out.Div(out, hundred)
	out.Div(out, percentScale)
	return out, nil
}

// SplitPrice divides price into the protocol fee, the retailer fee (zero
// unless hasRetailer) and the supplier remainder. The three shares always sum
// to price.
func SplitPrice(price *big.Int, protocolPercent, retailerPercent uint8, hasRetailer bool) (Split, error) {
	if err := (Config{ProtocolFee: protocolPercent, RetailerFee: retailerPercent}).Validate(); err != nil {
		return Split{}, err
	}
	if price == nil || price.Sign() < 0 {
		return Split{}, fmt.Errorf("fees: price must be non-negative")
	}
	protocolFee, err := PercentOf(price, protocolPercent)
	if err != nil {
		return Split{}, err
	}
	retailerFee := big.NewInt(0)
	if hasRetailer {
		retailerFee, err = PercentOf(price, retailerPercent)
		if err != nil {
			return Split{}, err
		}
	}
	supplierValue := new(big.Int).Sub(price, protocolFee)
	supplierValue.Sub(supplierValue, retailerFee)
	return Split{
		ProtocolFee:   protocolFee,
		RetailerFee:   retailerFee,
		SupplierValue: supplierValue,
	}, nil
}

// Split applies the configured percentages to price.
func (c Config) Split(price *big.Int, hasRetailer bool) (Split, error) {
	return SplitPrice(price, c.ProtocolFee, c.RetailerFee, hasRetailer)
}
