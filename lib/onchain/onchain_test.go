package onchain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func sampleChannel() Channel {
	return Channel{
		Participants: [2]common.Address{
			common.HexToAddress("0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"),
			common.HexToAddress("0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB"),
		},
		Adjudicator: common.HexToAddress("0xCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCC"),
		Challenge:   big.NewInt(3600),
		Nonce:       big.NewInt(1),
	}
}

// TestChannelIDIsPureFunctionOfTuple checks the §3/§8 invariant: identical tuples yield identical ids.
func TestChannelIDIsPureFunctionOfTuple(t *testing.T) {
	id1, err := ChannelID(sampleChannel())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	id2, err := ChannelID(sampleChannel())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if id1 != id2 {
		t.Errorf("expected identical channelId for identical tuples, got %x != %x", id1, id2)
	}
}

func TestChannelIDDiffersOnNonce(t *testing.T) {
	c1 := sampleChannel()
	c2 := sampleChannel()
	c2.Nonce = big.NewInt(2)

	id1, _ := ChannelID(c1)
	id2, _ := ChannelID(c2)

	if id1 == id2 {
		t.Error("expected different channelId for different nonce")
	}
}

func TestReceiptFailed(t *testing.T) {
	if (Receipt{Status: 1}).Failed() {
		t.Error("status 1 must not be reported as failed")
	}

	if !(Receipt{Status: 0}).Failed() {
		t.Error("status 0 must be reported as failed")
	}
}
