package signer

import (
	"context"
	"errors"
	"math/big"
	"testing"
)

type stubAccount struct {
	caps []Capability
}

func (s *stubAccount) Address(context.Context) (string, error)    { return "0xabc", nil }
func (s *stubAccount) Balance(context.Context) (*big.Int, error)  { return big.NewInt(0), nil }
func (s *stubAccount) Capabilities() []Capability                 { return s.caps }

func TestTransferPrefersNativeForNoToken(t *testing.T) {
	var called []string

	acct := &stubAccount{caps: []Capability{
		{Kind: NativeTransfer, Native: func(context.Context, string, *big.Int) (Receipt, error) {
			called = append(called, "native")

			return Receipt{Hash: "0x1"}, nil
		}},
		{Kind: GenericSend, Generic: func(context.Context, string, *big.Int, string) (Receipt, error) {
			called = append(called, "generic")

			return Receipt{Hash: "0x2"}, nil
		}},
	}}

	r, err := Transfer(context.Background(), acct, "0xrecipient", big.NewInt(100), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if r.Hash != "0x1" || len(called) != 1 || called[0] != "native" {
		t.Errorf("expected native capability to be used exclusively, got %+v called=%v", r, called)
	}
}

func TestTransferFallsThroughOnFailure(t *testing.T) {
	acct := &stubAccount{caps: []Capability{
		{Kind: TokenTransferByStruct, TokenStruct: func(context.Context, TokenTransferParams) (Receipt, error) {
			return Receipt{}, errors.New("struct entry point reverted")
		}},
		{Kind: TokenTransferByTriple, TokenTriple: func(context.Context, string, string, *big.Int) (Receipt, error) {
			return Receipt{Hash: "0x3"}, nil
		}},
	}}

	r, err := Transfer(context.Background(), acct, "0xrecipient", big.NewInt(100), "0xtoken")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if r.Hash != "0x3" {
		t.Errorf("expected fallthrough to the triple entry point, got %+v", r)
	}
}

func TestTransferSkipsNativeCapabilityWhenTokenRequested(t *testing.T) {
	acct := &stubAccount{caps: []Capability{
		{Kind: NativeTransfer, Native: func(context.Context, string, *big.Int) (Receipt, error) {
			t.Fatal("native capability must not be attempted for a token transfer")

			return Receipt{}, nil
		}},
		{Kind: GenericSend, Generic: func(context.Context, string, *big.Int, string) (Receipt, error) {
			return Receipt{Hash: "0x4"}, nil
		}},
	}}

	if _, err := Transfer(context.Background(), acct, "0xrecipient", big.NewInt(1), "0xtoken"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTransferNoMatchingCapability(t *testing.T) {
	acct := &stubAccount{caps: []Capability{
		{Kind: NativeTransfer, Native: func(context.Context, string, *big.Int) (Receipt, error) {
			return Receipt{Hash: "0x1"}, nil
		}},
	}}

	if _, err := Transfer(context.Background(), acct, "0xrecipient", big.NewInt(1), "0xtoken"); err == nil {
		t.Fatal("expected an error when no capability matches a token transfer")
	}
}
