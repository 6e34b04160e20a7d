package signer

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/tarancss/hd"
)

// EVMProvider is the minimal chain-call capability an EVM account needs: sending a raw transaction and reading
// a balance. A real implementation wraps an RPC client; it is external to this core.
type EVMProvider interface {
	Call(ctx context.Context, to string, data []byte) ([]byte, error)
	BalanceAt(ctx context.Context, address string) (*big.Int, error)
	SendTransaction(ctx context.Context, to string, data []byte, value *big.Int) (string, error)
}

// EVMAccount is the reference Account implementation for EVM-family chains, deriving its address and signing key
// from a shared HD wallet the way the wallet service does for its own account derivation.
type EVMAccount struct {
	hdWallet *hd.HdWallet
	provider EVMProvider
	walletID uint32
	change   uint8
	id       uint32

	address string
}

// NewEVMAccount derives the account at (walletID, change, id) from hdWallet and binds it to provider.
func NewEVMAccount(hdWallet *hd.HdWallet, provider EVMProvider, walletID uint32, change uint8, id uint32) (*EVMAccount, error) {
	addr, _, _, err := hdWallet.Address(walletID, change, id)
	if err != nil {
		return nil, fmt.Errorf("deriving EVM address: %w", err)
	}

	return &EVMAccount{
		hdWallet: hdWallet,
		provider: provider,
		walletID: walletID,
		change:   change,
		id:       id,
		address:  "0x" + hex.EncodeToString(addr),
	}, nil
}

// Address implements Account.
func (a *EVMAccount) Address(context.Context) (string, error) { return a.address, nil }

// Balance implements Account.
func (a *EVMAccount) Balance(ctx context.Context) (*big.Int, error) {
	return a.provider.BalanceAt(ctx, a.address)
}

// TokenBalance implements TokenBalanceReader via an ERC-20 balanceOf(address) eth_call.
func (a *EVMAccount) TokenBalance(ctx context.Context, token string) (*big.Int, error) {
	data := erc20BalanceOfCalldata(a.address)

	out, err := a.provider.Call(ctx, token, data)
	if err != nil {
		return nil, err
	}

	return new(big.Int).SetBytes(out), nil
}

// Call implements CallProvider, exposing the underlying eth_call-style provider for decimals()/balanceOf() reads
// the aggregator issues directly, per §4.6(a) and §4.6(b).
func (a *EVMAccount) Call(ctx context.Context, to string, data []byte) ([]byte, error) {
	return a.provider.Call(ctx, to, data)
}

// Capabilities implements Account. EVM accounts advertise a native send and a generic fallback; the specific
// struct/triple token entry points are left to token-contract wrappers built on top of this account, per the
// capability-polymorphic design in §9.
func (a *EVMAccount) Capabilities() []Capability {
	return []Capability{
		{Kind: NativeTransfer, Native: a.sendNative},
		{Kind: GenericSend, Generic: a.sendGeneric},
	}
}

func (a *EVMAccount) sendNative(ctx context.Context, recipient string, amount *big.Int) (Receipt, error) {
	hash, err := a.provider.SendTransaction(ctx, recipient, nil, amount)
	if err != nil {
		return Receipt{}, err
	}

	return Receipt{Hash: hash}, nil
}

func (a *EVMAccount) sendGeneric(ctx context.Context, recipient string, amount *big.Int, tokenAddress string) (Receipt, error) {
	if tokenAddress == "" {
		return a.sendNative(ctx, recipient, amount)
	}

	if raw, err := hex.DecodeString(strings.TrimPrefix(recipient, "0x")); err != nil || len(raw) != 20 {
		return Receipt{}, fmt.Errorf("invalid recipient address %q", recipient)
	}

	data := erc20TransferCalldata(recipient, amount)

	hash, err := a.provider.SendTransaction(ctx, tokenAddress, data, nil)
	if err != nil {
		return Receipt{}, err
	}

	return Receipt{Hash: hash}, nil
}

const (
	erc20BalanceOfSelector = "0x70a08231"
	erc20TransferSelector  = "0xa9059cbb"
)

func erc20BalanceOfCalldata(owner string) []byte {
	return append(mustHex(erc20BalanceOfSelector), leftPad32(owner)...)
}

func erc20TransferCalldata(to string, amount *big.Int) []byte {
	out := append(mustHex(erc20TransferSelector), leftPad32(to)...)

	amt := make([]byte, 32)
	amount.FillBytes(amt)

	return append(out, amt...)
}

func leftPad32(hexAddr string) []byte {
	addr := mustHex(hexAddr)

	out := make([]byte, 32)
	copy(out[32-len(addr):], addr)

	return out
}

func mustHex(s string) []byte {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		panic(err) // selectors and addresses here are always well-formed hex
	}

	return b
}
