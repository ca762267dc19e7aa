package common

import (
	"errors"
	"math/big"
	"testing"
)

type call struct {
	method string
	amount int64
}

type fakeLedger struct {
	calls      []call
	approveErr error
}

func (f *fakeLedger) Transfer(_, _, _ [20]byte, amount *big.Int) error {
	f.calls = append(f.calls, call{"transfer", amount.Int64()})
	return nil
}

func (f *fakeLedger) TransferFrom(_, _, _, _ [20]byte, amount *big.Int) error {
	f.calls = append(f.calls, call{"transferFrom", amount.Int64()})
	return nil
}

func (f *fakeLedger) DelegatedApprove(_, _, _ [20]byte, amount *big.Int, _ int64, _ []byte) error {
	f.calls = append(f.calls, call{"approve", amount.Int64()})
	return f.approveErr
}

func TestPullFundsUsesPermitWhenPresent(t *testing.T) {
	ledger := &fakeLedger{}
	permit := &Permit{Deadline: 10, Signature: []byte{0x01}}
	if err := PullFunds(ledger, [20]byte{}, [20]byte{0x01}, [20]byte{0x02}, big.NewInt(5), permit); err != nil {
		t.Fatalf("pull: %v", err)
	}
	if len(ledger.calls) != 2 || ledger.calls[0].method != "approve" || ledger.calls[1].method != "transferFrom" {
		t.Fatalf("unexpected call sequence %+v", ledger.calls)
	}
}

func TestPullFundsWithoutPermit(t *testing.T) {
	ledger := &fakeLedger{}
	if err := PullFunds(ledger, [20]byte{}, [20]byte{0x01}, [20]byte{0x02}, big.NewInt(5), &Permit{}); err != nil {
		t.Fatalf("pull: %v", err)
	}
	if len(ledger.calls) != 1 || ledger.calls[0].method != "transferFrom" {
		t.Fatalf("unexpected call sequence %+v", ledger.calls)
	}
}

func TestPullFundsStopsOnPermitFailure(t *testing.T) {
	boom := errors.New("bad permit")
	ledger := &fakeLedger{approveErr: boom}
	err := PullFunds(ledger, [20]byte{}, [20]byte{0x01}, [20]byte{0x02}, big.NewInt(5), &Permit{Signature: []byte{1}})
	if !errors.Is(err, boom) {
		t.Fatalf("expected permit error, got %v", err)
	}
	if len(ledger.calls) != 1 {
		t.Fatalf("transferFrom must not run after a failed permit: %+v", ledger.calls)
	}
}

func TestZeroAmountsSkipLedger(t *testing.T) {
	ledger := &fakeLedger{}
	if err := PayOut(ledger, [20]byte{}, [20]byte{}, [20]byte{0x01}, big.NewInt(0)); err != nil {
		t.Fatalf("payout: %v", err)
	}
	if err := PullFunds(ledger, [20]byte{}, [20]byte{}, [20]byte{0x01}, nil, nil); err != nil {
		t.Fatalf("pull: %v", err)
	}
	if len(ledger.calls) != 0 {
		t.Fatalf("expected no ledger calls, got %+v", ledger.calls)
	}
	if err := PayOut(nil, [20]byte{}, [20]byte{}, [20]byte{}, big.NewInt(1)); !errors.Is(err, ErrNilLedger) {
		t.Fatalf("expected ErrNilLedger, got %v", err)
	}
}
