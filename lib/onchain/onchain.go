// Package onchain defines the custody contract ABI subset (§6) and the Submitter interface the channel controller
// (C4) calls to perform the on-chain phase of create/resize/close. The actual RPC node and transaction broadcaster
// are external collaborators out of scope for this core (§1); Submitter is the seam an operator wires a real
// implementation into.
package onchain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Intent enumerates a channel state's role, per the data model of §3.
type Intent uint8

// Channel state intents.
const (
	Initialize Intent = iota
	Operate
	Resize
	Finalize
)

// Allocation is one (index, amount) pair of a channel state.
type Allocation struct {
	Index  uint64
	Amount *big.Int
}

// State mirrors the on-chain custody ABI's State tuple: (uint8 intent, uint64 version, bytes data,
// (uint256 index, uint256 amount)[] allocations).
type State struct {
	Intent      Intent
	Version     uint64
	Data        []byte
	Allocations []Allocation
}

// Channel is the immutable tuple that determines a channelId, per §3.
type Channel struct {
	Participants [2]common.Address
	Adjudicator  common.Address
	Challenge    *big.Int
	Nonce        *big.Int
}

var tupleArgs = abi.Arguments{
	{Type: mustType("address[2]")},
	{Type: mustType("address")},
	{Type: mustType("uint256")},
	{Type: mustType("uint256")},
}

func mustType(s string) abi.Type {
	t, err := abi.NewType(s, "", nil)
	if err != nil {
		panic(err) // the literal type strings above are fixed and known-valid
	}

	return t
}

// ChannelID computes keccak256(encode(participants, adjudicator, challenge, nonce)), a pure function of the tuple
// per the invariant in §3: for all channels with the same tuple, the id is identical.
func ChannelID(c Channel) ([32]byte, error) {
	packed, err := tupleArgs.Pack(c.Participants, c.Adjudicator, c.Challenge, c.Nonce)
	if err != nil {
		return [32]byte{}, err
	}

	return crypto.Keccak256Hash(packed), nil
}

// Receipt is the minimal result of awaiting one confirmation of a submitted transaction.
type Receipt struct {
	TxHash  common.Hash
	Status  uint64 // 1 success, 0 reverted, mirroring go-ethereum's receipt convention
	GasUsed uint64
}

// Failed reports whether the receipt indicates a reverted transaction.
func (r Receipt) Failed() bool { return r.Status == 0 }

// Submitter is the external custody-contract submission capability consumed by C4. Each method submits the
// corresponding contract call and blocks until one confirmation is observed.
type Submitter interface {
	CustodyAddress(chainID uint64) (common.Address, bool)
	Create(ctx context.Context, chainID uint64, channelID [32]byte, state State, sigs [2][]byte) (Receipt, error)
	Resize(ctx context.Context, chainID uint64, channelID [32]byte, state State, sigs [2][]byte) (Receipt, error)
	Close(ctx context.Context, chainID uint64, channelID [32]byte, state State, sigs [2][]byte) (Receipt, error)
}
