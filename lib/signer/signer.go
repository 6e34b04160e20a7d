// Package signer defines the capability-polymorphic signer seam consumed by the aggregator (component C7):
// tagged transfer capabilities in a fixed priority order, avoiding reflection on method names, per the
// re-architecture note on callback-heavy transfer dispatch.
package signer

import (
	"context"
	"math/big"
	"sort"
)

// Account is the per-chain signer capability the aggregator drives. Every account exposes address and balance
// reads; token reads, an eth_call-style provider, and transfer capabilities are optional and advertised via
// Capabilities.
type Account interface {
	// Address returns the account's address on its chain.
	Address(ctx context.Context) (string, error)
	// Balance returns the native balance in smallest units.
	Balance(ctx context.Context) (*big.Int, error)
	// Capabilities returns every transfer capability the account supports. The aggregator tries them in the
	// fixed priority order of CapabilityKind, keeping this order among capabilities of the same kind, and stops
	// at the first success.
	Capabilities() []Capability
}

// TokenBalanceReader is an optional Account capability exposing getTokenBalance/balanceOf.
type TokenBalanceReader interface {
	TokenBalance(ctx context.Context, token string) (*big.Int, error)
}

// CallProvider is an optional Account capability exposing an eth_call-style raw request, used for decimals()
// and balanceOf() calls the aggregator issues directly against the chain.
type CallProvider interface {
	Call(ctx context.Context, to string, data []byte) ([]byte, error)
}

// Capability tags one transfer entry point an Account advertises. The aggregator switches on Kind rather than
// probing method names by reflection.
type Capability struct {
	Kind CapabilityKind

	// Native, TokenStruct, TokenTriple and Generic hold the callable for the matching Kind; exactly one is set.
	Native      NativeTransferFn
	TokenStruct TokenTransferByStructFn
	TokenTriple TokenTransferByTripleFn
	Generic     GenericSendFn
}

// CapabilityKind enumerates the transfer entry-point shapes an Account can advertise, per the design note on
// capability-polymorphic signers.
type CapabilityKind int

// Capability kinds, tried by the aggregator in this relative priority for a given transfer.
const (
	NativeTransfer CapabilityKind = iota
	TokenTransferByStruct
	TokenTransferByTriple
	GenericSend
)

// Receipt is the minimal result of a submitted transfer.
type Receipt struct {
	Hash string
}

// NativeTransferFn is send(recipient, smallestUnits).
type NativeTransferFn func(ctx context.Context, recipient string, amount *big.Int) (Receipt, error)

// TokenTransferParams is the payload shared by the two struct-shaped token transfer entry points.
type TokenTransferParams struct {
	Token     string
	Recipient string
	Amount    *big.Int
}

// TokenTransferByStructFn is transfer({token, recipient, amount}) or transfer({token, to, amount}); both wire
// shapes carry the same fields under this package's model, only the account's own encoding differs.
type TokenTransferByStructFn func(ctx context.Context, p TokenTransferParams) (Receipt, error)

// TokenTransferByTripleFn covers sendToken(token, recipient, amount) and transferToken(token, recipient, amount).
type TokenTransferByTripleFn func(ctx context.Context, token, recipient string, amount *big.Int) (Receipt, error)

// GenericSendFn is the fallback send(recipient, amount, {tokenAddress}) entry point, tokenAddress empty for
// native sends.
type GenericSendFn func(ctx context.Context, recipient string, amount *big.Int, tokenAddress string) (Receipt, error)

// NativeDecimals is the per-chain-family native-asset decimals table of §4.6(a).
var NativeDecimals = map[string]uint8{
	"ethereum": 18,
	"base":     18,
	"arbitrum": 18,
	"polygon":  18,
	"tron":     6,
	"bitcoin":  8,
	"solana":   9,
}

// Transfer attempts recipient transfer of amount (smallest units) using acct's first matching capability for the
// requested shape (native vs token), trying capabilities in the fixed priority order of CapabilityKind (the order
// Account.Capabilities returns them among capabilities of the same kind), per §4.6 step 5. The first successful
// attempt wins.
func Transfer(ctx context.Context, acct Account, recipient string, amount *big.Int, tokenAddress string) (Receipt, error) {
	var lastErr error

	caps := append([]Capability(nil), acct.Capabilities()...)
	sort.SliceStable(caps, func(i, j int) bool { return caps[i].Kind < caps[j].Kind })

	for _, cap := range caps {
		var (
			r   Receipt
			err error
			ok  bool
		)

		switch cap.Kind {
		case NativeTransfer:
			if tokenAddress != "" || cap.Native == nil {
				continue
			}

			r, err = cap.Native(ctx, recipient, amount)
			ok = true
		case TokenTransferByStruct:
			if tokenAddress == "" || cap.TokenStruct == nil {
				continue
			}

			r, err = cap.TokenStruct(ctx, TokenTransferParams{Token: tokenAddress, Recipient: recipient, Amount: amount})
			ok = true
		case TokenTransferByTriple:
			if tokenAddress == "" || cap.TokenTriple == nil {
				continue
			}

			r, err = cap.TokenTriple(ctx, tokenAddress, recipient, amount)
			ok = true
		case GenericSend:
			if cap.Generic == nil {
				continue
			}

			r, err = cap.Generic(ctx, recipient, amount, tokenAddress)
			ok = true
		}

		if !ok {
			continue
		}

		if err == nil {
			return r, nil
		}

		lastErr = err
	}

	if lastErr == nil {
		lastErr = errNoCapability
	}

	return Receipt{}, lastErr
}

var errNoCapability = noCapabilityErr{}

type noCapabilityErr struct{}

func (noCapabilityErr) Error() string {
	return "signer account advertises no capability matching the requested transfer"
}
