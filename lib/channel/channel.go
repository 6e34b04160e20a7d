// Package channel implements the payment-channel controller (component C4): two-party on-chain-anchored channels,
// each operation a two-phase protocol of an off-chain negotiation with the clearing node followed by an on-chain
// custody contract call.
package channel

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tarancss/core/lib/errs"
	"github.com/tarancss/core/lib/onchain"
)

// Sender is the RPC capability the controller needs from the transport.
type Sender interface {
	Send(ctx context.Context, method string, params interface{}) (json.RawMessage, error)
}

// Controller implements C4's create/resize/close operations.
type Controller struct {
	rpc   Sender
	chain onchain.Submitter
}

// New returns a channel Controller.
func New(rpc Sender, chain onchain.Submitter) *Controller {
	return &Controller{rpc: rpc, chain: chain}
}

// Outcome distinguishes a fully successful two-phase operation from the partial case where the off-chain
// negotiation succeeded but the on-chain submission failed, per the "partial outcome" design note of §9.
type Outcome struct {
	Channel   onchain.Channel
	ChannelID [32]byte
	State     onchain.State
	ChainID   uint64
	Status    string // "active" | "offchain_only"
	Receipt   onchain.Receipt
}

type offchainChannel struct {
	Participants [2]string `json:"participants"`
	Adjudicator  string    `json:"adjudicator"`
	Challenge    string    `json:"challenge"`
	Nonce        string    `json:"nonce"`
}

type createChannelResp struct {
	Channel        offchainChannel `json:"channel"`
	UserSignature  string          `json:"user_signature"`
	ServerSignature string         `json:"server_signature"`
}

func (oc offchainChannel) toOnchain() (onchain.Channel, error) {
	var c onchain.Channel

	for i, p := range oc.Participants {
		if !common.IsHexAddress(p) {
			return c, fmt.Errorf("invalid participant address %q", p)
		}

		c.Participants[i] = common.HexToAddress(p)
	}

	if !common.IsHexAddress(oc.Adjudicator) {
		return c, fmt.Errorf("invalid adjudicator address %q", oc.Adjudicator)
	}

	c.Adjudicator = common.HexToAddress(oc.Adjudicator)

	challenge, ok := new(big.Int).SetString(oc.Challenge, 0)
	if !ok {
		return c, fmt.Errorf("invalid challenge %q", oc.Challenge)
	}

	c.Challenge = challenge

	nonce, ok := new(big.Int).SetString(oc.Nonce, 0)
	if !ok {
		return c, fmt.Errorf("invalid nonce %q", oc.Nonce)
	}

	c.Nonce = nonce

	return c, nil
}

func decodeSig(hexSig string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(hexSig, "0x"))
}

// CreateChannel runs createChannel's two-phase protocol of §4.3(1).
func (c *Controller) CreateChannel(ctx context.Context, chainID uint64, token string, initialDeposit *big.Int) (Outcome, error) {
	const op = "channel.createChannel"

	if _, ok := c.chain.CustodyAddress(chainID); !ok {
		return Outcome{}, errs.NewInvalidArgument(op, fmt.Errorf("no custody contract configured for chain %d", chainID))
	}

	raw, err := c.rpc.Send(ctx, "create_channel", map[string]interface{}{"chain_id": chainID, "token": token})
	if err != nil {
		return Outcome{}, errs.NewUnavailable(op, err)
	}

	var resp createChannelResp
	if err = json.Unmarshal(raw, &resp); err != nil {
		return Outcome{}, errs.NewInternal(op, err)
	}

	ch, err := resp.Channel.toOnchain()
	if err != nil {
		return Outcome{}, errs.NewInternal(op, err)
	}

	channelID, err := onchain.ChannelID(ch)
	if err != nil {
		return Outcome{}, errs.NewInternal(op, err)
	}

	deposit := initialDeposit
	if deposit == nil {
		deposit = new(big.Int)
	}

	state := onchain.State{
		Intent:  onchain.Initialize,
		Version: 0,
		Data:    []byte{},
		Allocations: []onchain.Allocation{
			{Index: 0, Amount: deposit},
			{Index: 1, Amount: new(big.Int)},
		},
	}

	sigs, err := decodeSigPair(resp.UserSignature, resp.ServerSignature)
	if err != nil {
		return Outcome{}, errs.NewInternal(op, err)
	}

	receipt, err := c.chain.Create(ctx, chainID, channelID, state, sigs)
	if err != nil {
		return Outcome{Channel: ch, ChannelID: channelID, State: state, ChainID: chainID, Status: "offchain_only"},
			errs.NewUnavailable(op, fmt.Errorf("on-chain create failed after successful off-chain negotiation: %w", err))
	}

	if receipt.Failed() {
		return Outcome{Channel: ch, ChannelID: channelID, State: state, ChainID: chainID, Status: "offchain_only", Receipt: receipt},
			errs.NewUnavailable(op, fmt.Errorf("on-chain create reverted"))
	}

	return Outcome{Channel: ch, ChannelID: channelID, State: state, ChainID: chainID, Status: "active", Receipt: receipt}, nil
}

func decodeSigPair(userSig, serverSig string) ([2][]byte, error) {
	var out [2][]byte

	u, err := decodeSig(userSig)
	if err != nil {
		return out, err
	}

	s, err := decodeSig(serverSig)
	if err != nil {
		return out, err
	}

	out[0], out[1] = u, s // on-chain submission must use exactly [user, server] in this order, per §4.3

	return out, nil
}

type resizeChannelResp struct {
	Version         uint64                `json:"version"`
	Data            string                `json:"data"`
	Allocations     []allocationWire      `json:"allocations"`
	UserSignature   string                `json:"user_signature"`
	ServerSignature string                `json:"server_signature"`
}

type allocationWire struct {
	Index  uint64 `json:"index"`
	Amount string `json:"amount"`
}

func (aw allocationWire) toOnchain() (onchain.Allocation, error) {
	amount, ok := new(big.Int).SetString(aw.Amount, 0)
	if !ok {
		return onchain.Allocation{}, fmt.Errorf("invalid allocation amount %q", aw.Amount)
	}

	return onchain.Allocation{Index: aw.Index, Amount: amount}, nil
}

func toAllocations(ws []allocationWire) ([]onchain.Allocation, error) {
	out := make([]onchain.Allocation, 0, len(ws))

	for _, w := range ws {
		a, err := w.toOnchain()
		if err != nil {
			return nil, err
		}

		out = append(out, a)
	}

	return out, nil
}

// ResizeChannel runs resizeChannel's two-phase protocol of §4.3(2).
func (c *Controller) ResizeChannel(ctx context.Context, channelID [32]byte, chainID uint64, priorVersion uint64, delta *big.Int) (Outcome, error) {
	const op = "channel.resizeChannel"

	raw, err := c.rpc.Send(ctx, "resize_channel",
		map[string]interface{}{"channel_id": hexOf(channelID[:]), "delta": delta.String()})
	if err != nil {
		return Outcome{}, errs.NewUnavailable(op, err)
	}

	var resp resizeChannelResp
	if err = json.Unmarshal(raw, &resp); err != nil {
		return Outcome{}, errs.NewInternal(op, err)
	}

	if resp.Version <= priorVersion {
		return Outcome{}, errs.NewInternal(op,
			fmt.Errorf("version did not strictly increase: prior=%d new=%d", priorVersion, resp.Version))
	}

	allocs, err := toAllocations(resp.Allocations)
	if err != nil {
		return Outcome{}, errs.NewInternal(op, err)
	}

	state := onchain.State{Intent: onchain.Resize, Version: resp.Version, Data: []byte(resp.Data), Allocations: allocs}

	sigs, err := decodeSigPair(resp.UserSignature, resp.ServerSignature)
	if err != nil {
		return Outcome{}, errs.NewInternal(op, err)
	}

	receipt, err := c.chain.Resize(ctx, chainID, channelID, state, sigs)
	if err != nil {
		return Outcome{ChannelID: channelID, State: state, ChainID: chainID, Status: "offchain_only"},
			errs.NewUnavailable(op, fmt.Errorf("on-chain resize failed after successful off-chain negotiation: %w", err))
	}

	if receipt.Failed() {
		return Outcome{ChannelID: channelID, State: state, ChainID: chainID, Status: "offchain_only", Receipt: receipt},
			errs.NewUnavailable(op, fmt.Errorf("on-chain resize reverted"))
	}

	return Outcome{ChannelID: channelID, State: state, ChainID: chainID, Status: "active", Receipt: receipt}, nil
}

type closeChannelResp struct {
	Allocations     []allocationWire `json:"allocations"`
	UserSignature   string           `json:"user_signature"`
	ServerSignature string           `json:"server_signature"`
}

// CloseChannel runs closeChannel's two-phase protocol of §4.3(3).
func (c *Controller) CloseChannel(ctx context.Context, channelID [32]byte, chainID uint64, destination string) (Outcome, error) {
	const op = "channel.closeChannel"

	raw, err := c.rpc.Send(ctx, "close_channel",
		map[string]interface{}{"channel_id": hexOf(channelID[:]), "destination": destination})
	if err != nil {
		return Outcome{}, errs.NewUnavailable(op, err)
	}

	var resp closeChannelResp
	if err = json.Unmarshal(raw, &resp); err != nil {
		return Outcome{}, errs.NewInternal(op, err)
	}

	allocs, err := toAllocations(resp.Allocations)
	if err != nil {
		return Outcome{}, errs.NewInternal(op, err)
	}

	state := onchain.State{Intent: onchain.Finalize, Data: []byte{}, Allocations: allocs}

	sigs, err := decodeSigPair(resp.UserSignature, resp.ServerSignature)
	if err != nil {
		return Outcome{}, errs.NewInternal(op, err)
	}

	receipt, err := c.chain.Close(ctx, chainID, channelID, state, sigs)
	if err != nil {
		return Outcome{ChannelID: channelID, State: state, ChainID: chainID, Status: "offchain_only"},
			errs.NewUnavailable(op, fmt.Errorf("on-chain close failed after successful off-chain negotiation: %w", err))
	}

	if receipt.Failed() {
		return Outcome{ChannelID: channelID, State: state, ChainID: chainID, Status: "offchain_only", Receipt: receipt},
			errs.NewUnavailable(op, fmt.Errorf("on-chain close reverted"))
	}

	return Outcome{ChannelID: channelID, State: state, ChainID: chainID, Status: "active", Receipt: receipt}, nil
}

func hexOf(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}
