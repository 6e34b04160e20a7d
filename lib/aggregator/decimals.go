package aggregator

import (
	"context"
	"encoding/hex"
	"log"
	"math/big"
	"strings"

	"github.com/tarancss/core/lib/signer"
)

const (
	minValidDecimals = 0
	maxValidDecimals = 36

	erc20DecimalsSelectorHex  = "313ce567" // decimals()
	erc20BalanceOfSelectorHex = "70a08231" // balanceOf(address)
)

// resolveDecimals implements §4.6(a). For a token transfer it first tries an on-chain decimals() call through
// whichever provider the account exposes, accepting only 0<=d<=36; failing that it falls back to the indexer's
// any-chain positions, matching on implementation address and chain id. For native transfers it uses the
// per-chain-family table. If nothing resolves, it defaults to 18 and logs.
func (a *Aggregator) resolveDecimals(ctx context.Context, userID, chain, tokenAddress string) uint8 {
	if tokenAddress == "" {
		return nativeDecimalsOf(chain)
	}

	if acct, err := a.accounts.Account(ctx, userID, chain); err == nil {
		if provider, ok := acct.(signer.CallProvider); ok {
			if d, ok := onChainDecimals(ctx, provider, tokenAddress); ok {
				return d
			}
		}
	}

	if d, ok := a.indexerDecimals(ctx, userID, chain, tokenAddress); ok {
		return d
	}

	log.Printf("[aggregator] could not resolve decimals for token %s on chain=%s, defaulting to %d",
		tokenAddress, chain, defaultDecimals)

	return defaultDecimals
}

func onChainDecimals(ctx context.Context, provider signer.CallProvider, tokenAddress string) (uint8, bool) {
	selector, _ := hex.DecodeString(erc20DecimalsSelectorHex)

	out, err := provider.Call(ctx, tokenAddress, selector)
	if err != nil || len(out) == 0 {
		return 0, false
	}

	d := new(big.Int).SetBytes(out)
	if !d.IsInt64() {
		return 0, false
	}

	n := d.Int64()
	if n < minValidDecimals || n > maxValidDecimals {
		return 0, false
	}

	return uint8(n), true
}

func (a *Aggregator) indexerDecimals(ctx context.Context, userID, chain, tokenAddress string) (uint8, bool) {
	addrs, err := a.GetAddresses(ctx, userID)
	if err != nil {
		return 0, false
	}

	addr, ok := addrs["ethereum"]
	if !ok {
		addr = addrs[chain]
	}

	tokens, err := a.idx.PortfolioAny(ctx, addr)
	if err != nil {
		return 0, false
	}

	for _, t := range tokens {
		if strings.EqualFold(t.Implementation, tokenAddress) && (t.ChainID == chain || t.ChainID == "") {
			return t.Decimals, true
		}
	}

	return 0, false
}

// balanceOfToken implements the token leg of §4.6(b): prefer the account's own TokenBalanceReader, then fall
// back to a direct balanceOf() eth_call, then to the indexer's any-chain positions for (implementation, chain).
func (a *Aggregator) balanceOfToken(ctx context.Context, userID, chain, tokenAddress string) (*big.Int, string, bool) {
	acct, err := a.accounts.Account(ctx, userID, chain)
	if err == nil {
		if reader, ok := acct.(signer.TokenBalanceReader); ok {
			if bal, err := reader.TokenBalance(ctx, tokenAddress); err == nil {
				return bal, "wdk-getTokenBalance", true
			}
		}

		if provider, ok := acct.(signer.CallProvider); ok {
			if addr, err := acct.Address(ctx); err == nil {
				if bal, ok := balanceOfCall(ctx, provider, tokenAddress, addr); ok {
					return bal, "onchain-balanceOf", true
				}
			}
		}
	}

	addrs, err := a.GetAddresses(ctx, userID)
	if err != nil {
		return nil, "", false
	}

	tokens, err := a.idx.PortfolioAny(ctx, addrs[chain])
	if err != nil {
		return nil, "", false
	}

	for _, t := range tokens {
		if strings.EqualFold(t.Implementation, tokenAddress) && (t.ChainID == chain || t.ChainID == "") {
			if bal, ok := new(big.Int).SetString(t.Balance, 10); ok {
				return bal, "indexer-positions", true
			}
		}
	}

	return nil, "", false
}

func balanceOfCall(ctx context.Context, provider signer.CallProvider, tokenAddress, owner string) (*big.Int, bool) {
	selector, _ := hex.DecodeString(erc20BalanceOfSelectorHex)
	data := append(selector, leftPadAddress(owner)...)

	out, err := provider.Call(ctx, tokenAddress, data)
	if err != nil || len(out) == 0 {
		return nil, false
	}

	return new(big.Int).SetBytes(out), true
}

func leftPadAddress(addr string) []byte {
	raw, err := hex.DecodeString(strings.TrimPrefix(addr, "0x"))
	if err != nil || len(raw) > 20 {
		raw = nil
	}

	out := make([]byte, 32)
	copy(out[32-len(raw):], raw)

	return out
}
