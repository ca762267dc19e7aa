package rpc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"dealchain/crypto"
	"dealchain/native/common"
	"dealchain/native/deal"
	"dealchain/native/entity"
	"dealchain/native/offer"
)

// decodeParams unmarshals the single parameter object of req into out.
func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return invalidParams("exactly one parameter object expected")
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		return invalidParams(err.Error())
	}
	return nil
}

func parseBech32(value string, prefix crypto.AddressPrefix, field string) ([20]byte, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return [20]byte{}, invalidParams(field + " is required")
	}
	addr, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return [20]byte{}, invalidParams(fmt.Sprintf("%s: %v", field, err))
	}
	if addr.Prefix() != prefix {
		return [20]byte{}, invalidParams(fmt.Sprintf("%s: expected %s prefix", field, prefix))
	}
	return addr.Array(), nil
}

func parseAccount(value, field string) ([20]byte, error) {
	return parseBech32(value, crypto.AccountPrefix, field)
}

func parseAsset(value, field string) ([20]byte, error) {
	return parseBech32(value, crypto.AssetPrefix, field)
}

func parseHex(value, field string) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(value), "0x"), "0X")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, invalidParams(fmt.Sprintf("%s: invalid hex", field))
	}
	return raw, nil
}

func parseID(value, field string) ([32]byte, error) {
	var out [32]byte
	if strings.TrimSpace(value) == "" {
		return out, invalidParams(field + " is required")
	}
	raw, err := parseHex(value, field)
	if err != nil {
		return out, err
	}
	if len(raw) != len(out) {
		return out, invalidParams(fmt.Sprintf("%s: expected 32 bytes", field))
	}
	copy(out[:], raw)
	return out, nil
}

// parseOptionalID treats an empty value as the zero id.
func parseOptionalID(value, field string) ([32]byte, error) {
	if strings.TrimSpace(value) == "" {
		return [32]byte{}, nil
	}
	return parseID(value, field)
}

func parseSignature(value, field string) ([]byte, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	return parseHex(value, field)
}

func parseAmount(value, field string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, invalidParams(field + " is required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, invalidParams(fmt.Sprintf("%s: invalid decimal amount", field))
	}
	if amount.Sign() < 0 {
		return nil, invalidParams(fmt.Sprintf("%s: must not be negative", field))
	}
	return amount, nil
}

func formatID(id [32]byte) string { return "0x" + hex.EncodeToString(id[:]) }

func formatAccount(addr [20]byte) string {
	return crypto.AddressFromArray(crypto.AccountPrefix, addr).String()
}

func formatAsset(addr [20]byte) string {
	return crypto.AddressFromArray(crypto.AssetPrefix, addr).String()
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

type permitJSON struct {
	Deadline  int64  `json:"deadline"`
	Signature string `json:"signature"`
}

func (p *permitJSON) toPermit() (*common.Permit, error) {
	if p == nil {
		return nil, nil
	}
	sig, err := parseSignature(p.Signature, "permit.signature")
	if err != nil {
		return nil, err
	}
	return &common.Permit{Deadline: p.Deadline, Signature: sig}, nil
}

type offerJSON struct {
	ID           string `json:"id"`
	Expire       int64  `json:"expire"`
	SupplierID   string `json:"supplierId"`
	ChainID      int64  `json:"chainId"`
	RequestHash  string `json:"requestHash,omitempty"`
	OptionsHash  string `json:"optionsHash,omitempty"`
	PaymentHash  string `json:"paymentHash,omitempty"`
	CancelHash   string `json:"cancelHash,omitempty"`
	Transferable bool   `json:"transferable"`
	CheckIn      int64  `json:"checkIn"`
	CheckOut     int64  `json:"checkOut"`
}

func (o offerJSON) toOffer() (*offer.Offer, error) {
	out := &offer.Offer{
		Expire:       o.Expire,
		ChainID:      o.ChainID,
		Transferable: o.Transferable,
		CheckIn:      o.CheckIn,
		CheckOut:     o.CheckOut,
	}
	var err error
	if out.ID, err = parseID(o.ID, "offer.id"); err != nil {
		return nil, err
	}
	if out.SupplierID, err = parseID(o.SupplierID, "offer.supplierId"); err != nil {
		return nil, err
	}
	hashes := []struct {
		value string
		field string
		dst   *[32]byte
	}{
		{o.RequestHash, "offer.requestHash", &out.RequestHash},
		{o.OptionsHash, "offer.optionsHash", &out.OptionsHash},
		{o.PaymentHash, "offer.paymentHash", &out.PaymentHash},
		{o.CancelHash, "offer.cancelHash", &out.CancelHash},
	}
	for _, h := range hashes {
		if *h.dst, err = parseOptionalID(h.value, h.field); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func formatOffer(o offer.Offer) offerJSON {
	return offerJSON{
		ID:           formatID(o.ID),
		Expire:       o.Expire,
		SupplierID:   formatID(o.SupplierID),
		ChainID:      o.ChainID,
		RequestHash:  formatID(o.RequestHash),
		OptionsHash:  formatID(o.OptionsHash),
		PaymentHash:  formatID(o.PaymentHash),
		CancelHash:   formatID(o.CancelHash),
		Transferable: o.Transferable,
		CheckIn:      o.CheckIn,
		CheckOut:     o.CheckOut,
	}
}

type paymentOptionJSON struct {
	ID    string `json:"id"`
	Price string `json:"price"`
	Asset string `json:"asset"`
}

func parsePaymentOptions(raw []paymentOptionJSON) ([]offer.PaymentOption, error) {
	out := make([]offer.PaymentOption, 0, len(raw))
	for i, opt := range raw {
		field := fmt.Sprintf("paymentOptions[%d]", i)
		id, err := parseID(opt.ID, field+".id")
		if err != nil {
			return nil, err
		}
		price, err := parseAmount(opt.Price, field+".price")
		if err != nil {
			return nil, err
		}
		if price.BitLen() > 256 {
			return nil, invalidParams(field + ".price: exceeds 256 bits")
		}
		asset, err := parseAsset(opt.Asset, field+".asset")
		if err != nil {
			return nil, err
		}
		out = append(out, offer.PaymentOption{ID: id, Price: price, Asset: asset})
	}
	return out, nil
}

type cancelOptionJSON struct {
	Time    int64 `json:"time"`
	Penalty uint8 `json:"penalty"`
}

func parseCancelOptions(raw []cancelOptionJSON) []offer.CancelOption {
	out := make([]offer.CancelOption, 0, len(raw))
	for _, opt := range raw {
		out = append(out, offer.CancelOption{Time: opt.Time, Penalty: opt.Penalty})
	}
	return out
}

type dealJSON struct {
	ID         string    `json:"id"`
	Status     string    `json:"status"`
	CreatedAt  int64     `json:"createdAt"`
	Buyer      string    `json:"buyer"`
	Price      string    `json:"price"`
	Asset      string    `json:"asset"`
	RetailerID *string   `json:"retailerId,omitempty"`
	Offer      offerJSON `json:"offer"`
}

func formatDeal(d *deal.Deal) dealJSON {
	out := dealJSON{
		ID:        formatID(d.Offer.ID),
		Status:    d.Status.String(),
		CreatedAt: d.CreatedAt,
		Buyer:     formatAccount(d.Buyer),
		Price:     formatAmount(d.Price),
		Asset:     formatAsset(d.Asset),
		Offer:     formatOffer(d.Offer),
	}
	if d.HasRetailer() {
		retailer := formatID(d.RetailerID)
		out.RetailerID = &retailer
	}
	return out
}

type entityJSON struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	Owner   string `json:"owner"`
	Signer  string `json:"signer"`
	Flag    bool   `json:"flag"`
	Enabled bool   `json:"enabled"`
	Deposit string `json:"deposit"`
}

func formatEntity(e *entity.Entity) entityJSON {
	return entityJSON{
		ID:      formatID(e.ID),
		Kind:    string(e.Kind),
		Owner:   formatAccount(e.Owner),
		Signer:  formatAccount(e.Signer),
		Flag:    e.Enabled,
		Enabled: e.IsEnabled(),
		Deposit: formatAmount(e.Deposit),
	}
}

type balanceResult struct {
	Balance string `json:"balance"`
}
