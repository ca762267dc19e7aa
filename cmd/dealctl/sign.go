package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"

	"dealchain/crypto"
	"dealchain/native/offer"
)

// offerFile is the on-disk form of an offer together with the option lists
// it commits to.
type offerFile struct {
	Offer          offerDoc             `json:"offer"`
	PaymentOptions []paymentDoc         `json:"paymentOptions,omitempty"`
	CancelOptions  []offer.CancelOption `json:"cancelOptions,omitempty"`
}

type offerDoc struct {
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

type paymentDoc struct {
	ID    string `json:"id"`
	Price string `json:"price"`
	Asset string `json:"asset"`
}

type signedOffer struct {
	Offer          offerDoc `json:"offer"`
	OfferHash      string   `json:"offerHash"`
	CheckInVoucher string   `json:"checkInVoucher"`
	Signature      string   `json:"signature,omitempty"`
}

func decodeHex32(value, field string) ([32]byte, error) {
	var out [32]byte
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return out, nil
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X"))
	if err != nil || len(raw) != len(out) {
		return out, fmt.Errorf("%s must be a 0x-prefixed 32-byte hex string", field)
	}
	copy(out[:], raw)
	return out, nil
}

func encodeHex(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

func decodeAddress(value string, prefix crypto.AddressPrefix, field string) ([20]byte, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(value))
	if err != nil {
		return [20]byte{}, fmt.Errorf("%s: %w", field, err)
	}
	if addr.Prefix() != prefix {
		return [20]byte{}, fmt.Errorf("%s: expected %s prefix", field, prefix)
	}
	return addr.Array(), nil
}

func (d offerDoc) toOffer() (*offer.Offer, error) {
	o := &offer.Offer{
		Expire:       d.Expire,
		ChainID:      d.ChainID,
		Transferable: d.Transferable,
		CheckIn:      d.CheckIn,
		CheckOut:     d.CheckOut,
	}
	fields := []struct {
		value string
		name  string
		dst   *[32]byte
	}{
		{d.ID, "offer.id", &o.ID},
		{d.SupplierID, "offer.supplierId", &o.SupplierID},
		{d.RequestHash, "offer.requestHash", &o.RequestHash},
		{d.OptionsHash, "offer.optionsHash", &o.OptionsHash},
		{d.PaymentHash, "offer.paymentHash", &o.PaymentHash},
		{d.CancelHash, "offer.cancelHash", &o.CancelHash},
	}
	for _, f := range fields {
		value, err := decodeHex32(f.value, f.name)
		if err != nil {
			return nil, err
		}
		*f.dst = value
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

func (p paymentDoc) toOption(i int) (offer.PaymentOption, error) {
	field := fmt.Sprintf("paymentOptions[%d]", i)
	id, err := decodeHex32(p.ID, field+".id")
	if err != nil {
		return offer.PaymentOption{}, err
	}
	price, ok := new(big.Int).SetString(strings.TrimSpace(p.Price), 10)
	if !ok || price.Sign() < 0 {
		return offer.PaymentOption{}, fmt.Errorf("%s.price must be a non-negative integer", field)
	}
	asset, err := decodeAddress(p.Asset, crypto.AssetPrefix, field+".asset")
	if err != nil {
		return offer.PaymentOption{}, err
	}
	return offer.PaymentOption{ID: id, Price: price, Asset: asset}, nil
}

// readOfferFile loads an offer and fills in the option hashes it leaves
// empty.
func readOfferFile(path string) (*offer.Offer, offerDoc, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, offerDoc{}, err
	}
	var file offerFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, offerDoc{}, fmt.Errorf("decode %s: %w", path, err)
	}
	doc := file.Offer
	if strings.TrimSpace(doc.PaymentHash) == "" && len(file.PaymentOptions) > 0 {
		options := make([]offer.PaymentOption, 0, len(file.PaymentOptions))
		for i, p := range file.PaymentOptions {
			opt, err := p.toOption(i)
			if err != nil {
				return nil, offerDoc{}, err
			}
			options = append(options, opt)
		}
		hash := offer.HashPaymentOptions(options)
		doc.PaymentHash = encodeHex(hash[:])
	}
	if strings.TrimSpace(doc.CancelHash) == "" && len(file.CancelOptions) > 0 {
		hash := offer.HashCancelOptions(file.CancelOptions)
		doc.CancelHash = encodeHex(hash[:])
	}
	o, err := doc.toOffer()
	if err != nil {
		return nil, offerDoc{}, err
	}
	return o, doc, nil
}

type domainFlags struct {
	chainID *int64
	escrow  *string
}

func addDomainFlags(fs *flag.FlagSet) domainFlags {
	return domainFlags{
		chainID: fs.Int64("chain-id", 1, "Chain id of the target deployment"),
		escrow:  fs.String("escrow", "", "Escrow account (bech32) of the target deployment"),
	}
}

func (d domainFlags) hasher() (*offer.Hasher, error) {
	if strings.TrimSpace(*d.escrow) == "" {
		return nil, fmt.Errorf("--escrow is required")
	}
	escrow, err := decodeAddress(*d.escrow, crypto.AccountPrefix, "--escrow")
	if err != nil {
		return nil, err
	}
	return offer.NewHasher(*d.chainID, escrow), nil
}

func writeJSON(w io.Writer, v interface{}) int {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return 1
	}
	return 0
}

func runHashOffer(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("hash-offer", stderr)
	file := fs.String("file", "", "Path to the offer JSON file")
	domain := addDomainFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*file) == "" {
		return printError(stderr, "--file is required")
	}
	hasher, err := domain.hasher()
	if err != nil {
		return printError(stderr, err.Error())
	}
	o, doc, err := readOfferFile(*file)
	if err != nil {
		return printError(stderr, err.Error())
	}
	offerHash := hasher.HashOffer(o)
	voucher := hasher.CheckInVoucher(o.ID)
	return writeJSON(stdout, signedOffer{
		Offer:          doc,
		OfferHash:      encodeHex(offerHash[:]),
		CheckInVoucher: encodeHex(voucher[:]),
	})
}

func runSignOffer(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("sign-offer", stderr)
	file := fs.String("file", "", "Path to the offer JSON file")
	keystorePath := fs.String("keystore", "", "Keystore of the supplier signer")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	domain := addDomainFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*file) == "" {
		return printError(stderr, "--file is required")
	}
	hasher, err := domain.hasher()
	if err != nil {
		return printError(stderr, err.Error())
	}
	o, doc, err := readOfferFile(*file)
	if err != nil {
		return printError(stderr, err.Error())
	}
	key, err := loadKey(*keystorePath, *passEnv)
	if err != nil {
		return printError(stderr, err.Error())
	}
	offerHash := hasher.HashOffer(o)
	sig, err := key.Sign(offerHash)
	if err != nil {
		return printError(stderr, err.Error())
	}
	voucher := hasher.CheckInVoucher(o.ID)
	return writeJSON(stdout, signedOffer{
		Offer:          doc,
		OfferHash:      encodeHex(offerHash[:]),
		CheckInVoucher: encodeHex(voucher[:]),
		Signature:      encodeHex(sig),
	})
}

func runSignCheckIn(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("sign-checkin", stderr)
	offerID := fs.String("offer-id", "", "0x-prefixed offer id")
	keystorePath := fs.String("keystore", "", "Keystore of the buyer or supplier signer")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	domain := addDomainFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	id, err := decodeHex32(*offerID, "--offer-id")
	if err != nil {
		return printError(stderr, err.Error())
	}
	if id == ([32]byte{}) {
		return printError(stderr, "--offer-id is required")
	}
	hasher, err := domain.hasher()
	if err != nil {
		return printError(stderr, err.Error())
	}
	key, err := loadKey(*keystorePath, *passEnv)
	if err != nil {
		return printError(stderr, err.Error())
	}
	sig, err := key.Sign(hasher.CheckInVoucher(id))
	if err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintln(stdout, encodeHex(sig))
	return 0
}

type signedPermit struct {
	Owner     string `json:"owner"`
	Spender   string `json:"spender"`
	Asset     string `json:"asset"`
	Value     string `json:"value"`
	Nonce     uint64 `json:"nonce"`
	Deadline  int64  `json:"deadline"`
	Signature string `json:"signature"`
}

func runSignPermit(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("sign-permit", stderr)
	asset := fs.String("asset", "", "Asset address (bech32)")
	spender := fs.String("spender", "", "Spender account (bech32)")
	value := fs.String("value", "", "Allowance to grant")
	nonce := fs.Uint64("nonce", 0, "Current permit nonce of the owner")
	deadline := fs.Int64("deadline", 0, "Unix timestamp after which the permit is void")
	keystorePath := fs.String("keystore", "", "Keystore of the asset owner")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	domain := addDomainFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	assetAddr, err := decodeAddress(*asset, crypto.AssetPrefix, "--asset")
	if err != nil {
		return printError(stderr, err.Error())
	}
	spenderAddr, err := decodeAddress(*spender, crypto.AccountPrefix, "--spender")
	if err != nil {
		return printError(stderr, err.Error())
	}
	amount, ok := new(big.Int).SetString(strings.TrimSpace(*value), 10)
	if !ok || amount.Sign() < 0 {
		return printError(stderr, "--value must be a non-negative integer")
	}
	if *deadline <= 0 {
		return printError(stderr, "--deadline is required")
	}
	hasher, err := domain.hasher()
	if err != nil {
		return printError(stderr, err.Error())
	}
	key, err := loadKey(*keystorePath, *passEnv)
	if err != nil {
		return printError(stderr, err.Error())
	}
	owner := key.PubKey().Address()
	digest := hasher.PermitDigest(assetAddr, owner.Array(), spenderAddr, amount, *nonce, *deadline)
	sig, err := key.Sign(digest)
	if err != nil {
		return printError(stderr, err.Error())
	}
	return writeJSON(stdout, signedPermit{
		Owner:     owner.String(),
		Spender:   *spender,
		Asset:     *asset,
		Value:     amount.String(),
		Nonce:     *nonce,
		Deadline:  *deadline,
		Signature: encodeHex(sig),
	})
}
