package channel

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tarancss/core/lib/onchain"
)

type fakeSender struct {
	responses map[string]json.RawMessage
	err       error
}

func (f *fakeSender) Send(_ context.Context, method string, _ interface{}) (json.RawMessage, error) {
	if f.err != nil {
		return nil, f.err
	}

	return f.responses[method], nil
}

type fakeSubmitter struct {
	custody    map[uint64]common.Address
	failCreate bool
	revert     bool // when set, Create returns a receipt with status 0 (reverted)
}

func (f *fakeSubmitter) CustodyAddress(chainID uint64) (common.Address, bool) {
	a, ok := f.custody[chainID]

	return a, ok
}

func (f *fakeSubmitter) Create(context.Context, uint64, [32]byte, onchain.State, [2][]byte) (onchain.Receipt, error) {
	status := uint64(1)
	if f.revert {
		status = 0
	}

	return onchain.Receipt{Status: status}, nil
}

func (f *fakeSubmitter) Resize(context.Context, uint64, [32]byte, onchain.State, [2][]byte) (onchain.Receipt, error) {
	return onchain.Receipt{Status: 1}, nil
}

func (f *fakeSubmitter) Close(context.Context, uint64, [32]byte, onchain.State, [2][]byte) (onchain.Receipt, error) {
	return onchain.Receipt{Status: 1}, nil
}

func createChannelFixture() json.RawMessage {
	resp := createChannelResp{
		Channel: offchainChannel{
			Participants: [2]string{
				"0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA",
				"0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB",
			},
			Adjudicator: "0xCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCC",
			Challenge:   "3600",
			Nonce:       "1",
		},
		UserSignature:   "0x" + "ab",
		ServerSignature: "0x" + "cd",
	}

	b, _ := json.Marshal(resp)

	return b
}

func TestCreateChannelActive(t *testing.T) {
	sender := &fakeSender{responses: map[string]json.RawMessage{"create_channel": createChannelFixture()}}
	chain := &fakeSubmitter{custody: map[uint64]common.Address{8453: common.HexToAddress("0x1")}}

	ctrl := New(sender, chain)

	out, err := ctrl.CreateChannel(context.Background(), 8453, "USDC", big.NewInt(10_000_000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if out.Status != "active" {
		t.Errorf("expected active status, got %s", out.Status)
	}

	if out.State.Version != 0 || out.State.Intent != onchain.Initialize {
		t.Errorf("expected INITIALIZE at version 0, got %+v", out.State)
	}

	if out.State.Allocations[0].Amount.Cmp(big.NewInt(10_000_000)) != 0 {
		t.Errorf("expected initial deposit allocated to index 0")
	}
}

func TestCreateChannelUnknownCustody(t *testing.T) {
	sender := &fakeSender{responses: map[string]json.RawMessage{"create_channel": createChannelFixture()}}
	chain := &fakeSubmitter{custody: map[uint64]common.Address{}}

	ctrl := New(sender, chain)

	if _, err := ctrl.CreateChannel(context.Background(), 999, "USDC", nil); err == nil {
		t.Fatal("expected error for chain without a configured custody contract")
	}
}

func TestCreateChannelOnChainRevertIsPartialOutcome(t *testing.T) {
	sender := &fakeSender{responses: map[string]json.RawMessage{"create_channel": createChannelFixture()}}
	chain := &fakeSubmitter{custody: map[uint64]common.Address{8453: common.HexToAddress("0x1")}, revert: true}

	ctrl := New(sender, chain)

	out, err := ctrl.CreateChannel(context.Background(), 8453, "USDC", nil)
	if err == nil {
		t.Fatal("expected error on reverted on-chain create")
	}

	if out.Status != "offchain_only" {
		t.Errorf("expected offchain_only status to distinguish the partial outcome, got %s", out.Status)
	}
}

func TestResizeChannelRejectsNonIncreasingVersion(t *testing.T) {
	resp := resizeChannelResp{
		Version:         1,
		Allocations:     []allocationWire{{Index: 0, Amount: "5"}, {Index: 1, Amount: "0"}},
		UserSignature:   "0xab",
		ServerSignature: "0xcd",
	}
	b, _ := json.Marshal(resp)

	sender := &fakeSender{responses: map[string]json.RawMessage{"resize_channel": b}}
	chain := &fakeSubmitter{custody: map[uint64]common.Address{8453: common.HexToAddress("0x1")}}
	ctrl := New(sender, chain)

	var channelID [32]byte

	if _, err := ctrl.ResizeChannel(context.Background(), channelID, 8453, 1, big.NewInt(5)); err == nil {
		t.Fatal("expected error when server-returned version does not strictly increase")
	}
}
