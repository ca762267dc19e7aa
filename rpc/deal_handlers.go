package rpc

import (
	"context"

	"dealchain/native/deal"
	"dealchain/native/offer"
)

type dealCreateParams struct {
	Buyer          string              `json:"buyer"`
	Offer          offerJSON           `json:"offer"`
	PaymentOptions []paymentOptionJSON `json:"paymentOptions"`
	PaymentID      string              `json:"paymentId"`
	RetailerID     string              `json:"retailerId,omitempty"`
	Signature      string              `json:"signature"`
	Permit         *permitJSON         `json:"permit,omitempty"`
}

type dealIDParams struct {
	ID string `json:"id"`
}

type dealActorParams struct {
	Caller string `json:"caller"`
	ID     string `json:"id"`
}

type dealRejectParams struct {
	Caller string `json:"caller"`
	ID     string `json:"id"`
	Reason string `json:"reason,omitempty"`
}

type dealCancelParams struct {
	Caller        string             `json:"caller"`
	ID            string             `json:"id"`
	CancelOptions []cancelOptionJSON `json:"cancelOptions"`
}

type dealCheckInParams struct {
	Caller            string `json:"caller"`
	ID                string `json:"id"`
	BuyerSignature    string `json:"buyerSignature,omitempty"`
	SupplierSignature string `json:"supplierSignature"`
}

type offerHashParams struct {
	Offer          offerJSON           `json:"offer"`
	PaymentOptions []paymentOptionJSON `json:"paymentOptions,omitempty"`
	CancelOptions  []cancelOptionJSON  `json:"cancelOptions,omitempty"`
}

type offerHashResult struct {
	OfferHash      string `json:"offerHash"`
	CheckInVoucher string `json:"checkInVoucher"`
	PaymentHash    string `json:"paymentHash"`
	CancelHash     string `json:"cancelHash"`
}

func parseDealActor(caller, id string) ([20]byte, [32]byte, error) {
	addr, err := parseAccount(caller, "caller")
	if err != nil {
		return [20]byte{}, [32]byte{}, err
	}
	offerID, err := parseID(id, "id")
	if err != nil {
		return [20]byte{}, [32]byte{}, err
	}
	return addr, offerID, nil
}

// dealResult returns the stored deal after a successful transition.
func dealResult(s *Server, id [32]byte) (interface{}, error) {
	d, err := s.deps.Engine.Deal(id)
	if err != nil {
		return nil, err
	}
	return formatDeal(d), nil
}

func handleDealCreate(_ context.Context, s *Server, req *RPCRequest) (interface{}, error) {
	var params dealCreateParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	buyer, err := parseAccount(params.Buyer, "buyer")
	if err != nil {
		return nil, err
	}
	o, err := params.Offer.toOffer()
	if err != nil {
		return nil, err
	}
	options, err := parsePaymentOptions(params.PaymentOptions)
	if err != nil {
		return nil, err
	}
	paymentID, err := parseID(params.PaymentID, "paymentId")
	if err != nil {
		return nil, err
	}
	retailerID, err := parseOptionalID(params.RetailerID, "retailerId")
	if err != nil {
		return nil, err
	}
	sig, err := parseSignature(params.Signature, "signature")
	if err != nil {
		return nil, err
	}
	permit, err := params.Permit.toPermit()
	if err != nil {
		return nil, err
	}
	d, err := s.deps.Engine.Create(buyer, o, options, paymentID, retailerID, sig, permit)
	if err != nil {
		return nil, err
	}
	return formatDeal(d), nil
}

// simpleTransition decodes {caller, id} and runs op.
func simpleTransition(s *Server, req *RPCRequest, op func(caller [20]byte, id [32]byte) error) (interface{}, error) {
	var params dealActorParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	caller, id, err := parseDealActor(params.Caller, params.ID)
	if err != nil {
		return nil, err
	}
	if err := op(caller, id); err != nil {
		return nil, err
	}
	return dealResult(s, id)
}

func handleDealClaim(_ context.Context, s *Server, req *RPCRequest) (interface{}, error) {
	return simpleTransition(s, req, s.deps.Engine.Claim)
}

func handleDealRefund(_ context.Context, s *Server, req *RPCRequest) (interface{}, error) {
	return simpleTransition(s, req, s.deps.Engine.Refund)
}

func handleDealCheckOut(_ context.Context, s *Server, req *RPCRequest) (interface{}, error) {
	return simpleTransition(s, req, s.deps.Engine.CheckOut)
}

func handleDealDispute(_ context.Context, s *Server, req *RPCRequest) (interface{}, error) {
	return simpleTransition(s, req, s.deps.Engine.Dispute)
}

func handleDealReject(_ context.Context, s *Server, req *RPCRequest) (interface{}, error) {
	var params dealRejectParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	caller, id, err := parseDealActor(params.Caller, params.ID)
	if err != nil {
		return nil, err
	}
	if err := s.deps.Engine.Reject(caller, id, params.Reason); err != nil {
		return nil, err
	}
	return dealResult(s, id)
}

func handleDealCancel(_ context.Context, s *Server, req *RPCRequest) (interface{}, error) {
	var params dealCancelParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	caller, id, err := parseDealActor(params.Caller, params.ID)
	if err != nil {
		return nil, err
	}
	if err := s.deps.Engine.Cancel(caller, id, parseCancelOptions(params.CancelOptions)); err != nil {
		return nil, err
	}
	return dealResult(s, id)
}

func handleDealCheckIn(_ context.Context, s *Server, req *RPCRequest) (interface{}, error) {
	var params dealCheckInParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	caller, id, err := parseDealActor(params.Caller, params.ID)
	if err != nil {
		return nil, err
	}
	buyerSig, err := parseSignature(params.BuyerSignature, "buyerSignature")
	if err != nil {
		return nil, err
	}
	supplierSig, err := parseSignature(params.SupplierSignature, "supplierSignature")
	if err != nil {
		return nil, err
	}
	sigs := deal.CheckInSignatures{Buyer: buyerSig, Supplier: supplierSig}
	if err := s.deps.Engine.CheckIn(caller, id, sigs); err != nil {
		return nil, err
	}
	return dealResult(s, id)
}

func handleDealGet(_ context.Context, s *Server, req *RPCRequest) (interface{}, error) {
	var params dealIDParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	id, err := parseID(params.ID, "id")
	if err != nil {
		return nil, err
	}
	return dealResult(s, id)
}

// handleOfferHash returns the digests a supplier signs and the option hashes
// an offer must commit to.
func handleOfferHash(_ context.Context, s *Server, req *RPCRequest) (interface{}, error) {
	if s.deps.Hasher == nil {
		return nil, invalidParams("offer hashing not available")
	}
	var params offerHashParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	options, err := parsePaymentOptions(params.PaymentOptions)
	if err != nil {
		return nil, err
	}
	o, err := params.Offer.toOffer()
	if err != nil {
		return nil, err
	}
	return offerHashResult{
		OfferHash:      formatID(s.deps.Hasher.HashOffer(o)),
		CheckInVoucher: formatID(s.deps.Hasher.CheckInVoucher(o.ID)),
		PaymentHash:    formatID(offer.HashPaymentOptions(options)),
		CancelHash:     formatID(offer.HashCancelOptions(parseCancelOptions(params.CancelOptions))),
	}, nil
}
