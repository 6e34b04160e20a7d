// Package aggregator implements the multi-chain aggregator (component C7): address derivation, progressive
// per-chain streaming, indexer-backed balances and transaction history, cross-chain deduplication, and the
// signer-side send pipeline.
package aggregator

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/tarancss/core/lib/cache"
	"github.com/tarancss/core/lib/errs"
	"github.com/tarancss/core/lib/indexer"
	"github.com/tarancss/core/lib/signer"
	"github.com/tarancss/core/lib/store"
	"github.com/tarancss/core/lib/util"
)

// Chains lists every supported chain family, including the account-abstraction variants, per §4.6.
var Chains = []string{
	"ethereum", "ethereum_aa",
	"base", "base_aa",
	"arbitrum", "arbitrum_aa",
	"polygon", "polygon_aa",
	"tron",
	"bitcoin",
	"solana",
}

const (
	addressCacheTTL     = 60 * time.Second
	defaultTxLimit      = 50
	fixedDecimals       = 18
	defaultDecimals     = 18
	primaryIndexerChain = "ethereum" // clearing-chain mapping for the EOA, per the decimals resolver of §4.6(a)
)

// IndexerClient is the C1 capability the aggregator consumes.
type IndexerClient interface {
	Portfolio(ctx context.Context, address, chain string) ([]indexer.TokenBalance, error)
	PortfolioAny(ctx context.Context, address string) ([]indexer.TokenBalance, error)
	Transactions(ctx context.Context, address, chain string, pageSize int) ([]indexer.Transaction, error)
	TransactionsAny(ctx context.Context, address string, pageSize int) ([]indexer.Transaction, error)
	InvalidatePortfolio(address, chain string)
}

// AccountProvider resolves the signer account a user holds on a given chain family.
type AccountProvider interface {
	Account(ctx context.Context, userID, chain string) (signer.Account, error)
}

// Aggregator implements C7.
type Aggregator struct {
	db       store.DB
	accounts AccountProvider
	idx      IndexerClient

	addrCache *cache.TTL[string, map[string]string]
}

// New returns an Aggregator.
func New(db store.DB, accounts AccountProvider, idx IndexerClient) *Aggregator {
	return &Aggregator{
		db:        db,
		accounts:  accounts,
		idx:       idx,
		addrCache: cache.New[string, map[string]string](),
	}
}

func (a *Aggregator) ensureSeed(ctx context.Context, userID string) error {
	if _, err := a.db.GetSeed(ctx, userID); err == nil {
		return nil
	} else if err != store.ErrDataNotFound {
		return err
	}

	return a.db.PutSeed(ctx, store.Seed{UserID: userID, CreatedAt: time.Now().UnixMilli()})
}

// GetAddresses ensures a seed exists (auto-creating one if absent), derives one address per chain family, and
// caches the result for 60s. A chain whose derivation fails is left out of the returned map; the failure never
// aborts the others, per §4.6.
func (a *Aggregator) GetAddresses(ctx context.Context, userID string) (map[string]string, error) {
	const op = "aggregator.getAddresses"

	if v, ok := a.addrCache.Get(userID); ok {
		return v, nil
	}

	if err := a.ensureSeed(ctx, userID); err != nil {
		return nil, errs.NewInternal(op, err)
	}

	out := make(map[string]string, len(Chains))

	for _, chain := range Chains {
		acct, err := a.accounts.Account(ctx, userID, chain)
		if err != nil {
			log.Printf("[aggregator] address derivation failed for user=%s chain=%s: %v", userID, chain, err)

			continue
		}

		addr, err := acct.Address(ctx)
		if err != nil {
			log.Printf("[aggregator] address derivation failed for user=%s chain=%s: %v", userID, chain, err)

			continue
		}

		out[chain] = addr
	}

	a.addrCache.Set(userID, out, addressCacheTTL)

	return out, nil
}

// AddressResult is one item yielded by StreamAddresses.
type AddressResult struct {
	Chain   string
	Address string
	Err     error
}

// StreamAddresses yields one AddressResult per configured chain as soon as that chain's derivation completes, in
// completion order, per §4.6. The channel is closed after exactly len(Chains) items, after a single error item when
// the seed cannot be ensured, or when ctx is cancelled.
func (a *Aggregator) StreamAddresses(ctx context.Context, userID string) <-chan AddressResult {
	out := make(chan AddressResult, len(Chains))

	go func() {
		defer close(out)

		if err := a.ensureSeed(ctx, userID); err != nil {
			out <- AddressResult{Err: errs.NewInternal("aggregator.streamAddresses", err)}

			return
		}

		results := make(chan AddressResult, len(Chains))

		for _, chain := range Chains {
			go func(chain string) {
				acct, err := a.accounts.Account(ctx, userID, chain)
				if err != nil {
					results <- AddressResult{Chain: chain, Err: err}

					return
				}

				addr, err := acct.Address(ctx)
				results <- AddressResult{Chain: chain, Address: addr, Err: err}
			}(chain)
		}

		for range Chains {
			select {
			case r := <-results:
				select {
				case out <- r:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// BalanceResult is one item yielded by StreamBalances.
type BalanceResult struct {
	Chain   string
	Native  string
	Err     error
}

// StreamBalances yields one BalanceResult per chain GetAddresses returned an address for, as soon as that chain's
// native balance is resolved, in completion order; a slow chain never blocks the others, per §8 scenario 5. A
// GetAddresses failure yields a single error item.
func (a *Aggregator) StreamBalances(ctx context.Context, userID string) <-chan BalanceResult {
	out := make(chan BalanceResult, len(Chains))

	go func() {
		defer close(out)

		addrs, err := a.GetAddresses(ctx, userID)
		if err != nil {
			out <- BalanceResult{Err: err}

			return
		}

		results := make(chan BalanceResult, len(addrs))

		count := 0

		for chain, addr := range addrs {
			count++

			go func(chain, addr string) {
				native, err := a.nativeBalance(ctx, addr, chain)
				results <- BalanceResult{Chain: chain, Native: native, Err: err}
			}(chain, addr)
		}

		for i := 0; i < count; i++ {
			select {
			case r := <-results:
				select {
				case out <- r:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

func (a *Aggregator) nativeBalance(ctx context.Context, address, chain string) (string, error) {
	tokens, err := a.idx.Portfolio(ctx, address, chain)
	if err != nil {
		return "0", err
	}

	for _, t := range tokens {
		if t.Implementation == "" {
			return t.Balance, nil
		}
	}

	return "0", nil
}

// GetBalances maps (chain, address) -> nativeBalance for every address the user holds, per §4.6.
func (a *Aggregator) GetBalances(ctx context.Context, userID string) (map[string]string, error) {
	const op = "aggregator.getBalances"

	addrs, err := a.GetAddresses(ctx, userID)
	if err != nil {
		return nil, errs.NewInternal(op, err)
	}

	out := make(map[string]string, len(addrs))

	for chain, addr := range addrs {
		native, err := a.nativeBalance(ctx, addr, chain)
		if err != nil {
			log.Printf("[aggregator] indexer native balance failed for chain=%s: %v", chain, err)

			native = "0"
		}

		out[chain] = native
	}

	return out, nil
}

// TokenBalanceView is one row returned by GetTokenBalances, normalized to a fixed 18-decimal representation.
type TokenBalanceView struct {
	Address string // empty denotes the native token
	Symbol  string
	Balance string // 18-decimal smallest-unit representation
}

// GetTokenBalances returns chain's token balances for userID, normalized to 18 decimals by right-padding and
// omitting zero balances. On indexer failure, falls back to a signer-reported native balance only; token
// discovery degrades to an empty list, per §4.6.
func (a *Aggregator) GetTokenBalances(ctx context.Context, userID, chain string) ([]TokenBalanceView, error) {
	const op = "aggregator.getTokenBalances"

	addrs, err := a.GetAddresses(ctx, userID)
	if err != nil {
		return nil, errs.NewInternal(op, err)
	}

	addr := addrs[chain]

	tokens, err := a.idx.Portfolio(ctx, addr, chain)
	if err != nil {
		log.Printf("[aggregator] indexer portfolio failed for chain=%s, falling back to signer native balance: %v", chain, err)

		return a.fallbackNativeOnly(ctx, userID, chain)
	}

	out := make([]TokenBalanceView, 0, len(tokens))

	for _, t := range tokens {
		scaled, scaleErr := scaleTo18(t.Balance, t.Decimals)
		if scaleErr != nil {
			log.Printf("[aggregator] skipping token %s with unparseable balance %q: %v", t.Symbol, t.Balance, scaleErr)

			continue
		}

		if isZero(scaled) {
			continue
		}

		out = append(out, TokenBalanceView{Address: t.Implementation, Symbol: t.Symbol, Balance: scaled})
	}

	return out, nil
}

func (a *Aggregator) fallbackNativeOnly(ctx context.Context, userID, chain string) ([]TokenBalanceView, error) {
	acct, err := a.accounts.Account(ctx, userID, chain)
	if err != nil {
		return nil, errs.NewUnavailable("aggregator.getTokenBalances", err)
	}

	bal, err := acct.Balance(ctx)
	if err != nil {
		return nil, errs.NewUnavailable("aggregator.getTokenBalances", err)
	}

	if bal.Sign() == 0 {
		return nil, nil
	}

	scaled, err := scaleTo18(bal.String(), nativeDecimalsOf(chain))
	if err != nil {
		return nil, errs.NewInternal("aggregator.getTokenBalances", err)
	}

	return []TokenBalanceView{{Balance: scaled}}, nil
}

func nativeDecimalsOf(chain string) uint8 {
	family := strings.TrimSuffix(chain, "_aa")
	if d, ok := signer.NativeDecimals[family]; ok {
		return d
	}

	return defaultDecimals
}

// TransactionView is one entry of transaction history, per §4.6.
type TransactionView struct {
	TxHash       string
	From         string
	To           string
	Value        string
	Timestamp    int64
	BlockNumber  int64
	Status       string // "success" | "failed" | "pending"
	Chain        string
	TokenSymbol  string
	TokenAddress string
}

// GetTransactionHistory returns up to limit (default 50) transactions for userID on chain, with status derived
// per §4.6: explicit confirmed/success -> success; failed/error -> failed; otherwise block_confirmations > 0 ->
// success, else pending. When multiple transfers exist, the first is used for tokenSymbol/to.
func (a *Aggregator) GetTransactionHistory(ctx context.Context, userID, chain string, limit int) ([]TransactionView, error) {
	const op = "aggregator.getTransactionHistory"

	if limit <= 0 {
		limit = defaultTxLimit
	}

	addrs, err := a.GetAddresses(ctx, userID)
	if err != nil {
		return nil, errs.NewInternal(op, err)
	}

	txs, err := a.idx.Transactions(ctx, addrs[chain], chain, limit)
	if err != nil {
		return nil, errs.NewUnavailable(op, err)
	}

	out := make([]TransactionView, 0, len(txs))

	for _, tx := range txs {
		out = append(out, toTransactionView(tx, chain))
	}

	return out, nil
}

func toTransactionView(tx indexer.Transaction, chain string) TransactionView {
	view := TransactionView{
		TxHash:      tx.Hash,
		From:        tx.From,
		Value:       tx.Value,
		Timestamp:   tx.Timestamp,
		BlockNumber: tx.BlockNumber,
		Chain:       chain,
		Status:      deriveStatus(tx),
	}

	if len(tx.Transfers) > 0 {
		view.TokenSymbol = tx.Transfers[0].TokenSymbol
		view.TokenAddress = tx.Transfers[0].TokenAddress
		view.To = tx.Transfers[0].To
	}

	return view
}

func deriveStatus(tx indexer.Transaction) string {
	switch strings.ToLower(tx.RawStatus) {
	case "confirmed", "success":
		return "success"
	case "failed", "error":
		return "failed"
	}

	if tx.BlockConfirmations > 0 {
		return "success"
	}

	return "pending"
}

// GetTokenBalancesAny fetches positions from the indexer without a chain filter for each of the user's primary
// addresses (EVM EOA, first account-abstraction address, solana), then deduplicates tokens by
// (chainId, implementation||"native"); first-seen wins, per §4.6.
func (a *Aggregator) GetTokenBalancesAny(ctx context.Context, userID string) ([]indexer.TokenBalance, error) {
	const op = "aggregator.getTokenBalancesAny"

	addrs, err := a.GetAddresses(ctx, userID)
	if err != nil {
		return nil, errs.NewInternal(op, err)
	}

	var all []indexer.TokenBalance

	for _, addr := range primaryAddresses(addrs) {
		tokens, err := a.idx.PortfolioAny(ctx, addr)
		if err != nil {
			log.Printf("[aggregator] PortfolioAny failed for address=%s: %v", addr, err)

			continue
		}

		all = append(all, tokens...)
	}

	return dedupTokens(all), nil
}

// GetTransactionsAny is GetTokenBalancesAny's transaction-history counterpart: dedup by (chainId, txHash),
// first-seen wins.
func (a *Aggregator) GetTransactionsAny(ctx context.Context, userID string, limit int) ([]indexer.Transaction, error) {
	const op = "aggregator.getTransactionsAny"

	if limit <= 0 {
		limit = defaultTxLimit
	}

	addrs, err := a.GetAddresses(ctx, userID)
	if err != nil {
		return nil, errs.NewInternal(op, err)
	}

	var all []indexer.Transaction

	for _, addr := range primaryAddresses(addrs) {
		txs, err := a.idx.TransactionsAny(ctx, addr, limit)
		if err != nil {
			log.Printf("[aggregator] TransactionsAny failed for address=%s: %v", addr, err)

			continue
		}

		all = append(all, txs...)
	}

	return dedupTransactions(all), nil
}

// primaryAddresses returns the user's EVM EOA, first account-abstraction address, and solana address, per the
// cross-chain aggregation rule of §4.6.
func primaryAddresses(addrs map[string]string) []string {
	var out []string

	if v, ok := addrs["ethereum"]; ok {
		out = append(out, v)
	}

	for _, chain := range []string{"ethereum_aa", "base_aa", "arbitrum_aa", "polygon_aa"} {
		if v, ok := addrs[chain]; ok {
			out = append(out, v)

			break
		}
	}

	if v, ok := addrs["solana"]; ok {
		out = append(out, v)
	}

	return dedupStrings(out)
}

func dedupStrings(in []string) []string {
	var out []string

	for _, s := range in {
		if !util.In(out, s) {
			out = append(out, s)
		}
	}

	return out
}

func dedupTokens(in []indexer.TokenBalance) []indexer.TokenBalance {
	seen := make(map[string]bool, len(in))

	out := make([]indexer.TokenBalance, 0, len(in))

	for _, t := range in {
		impl := t.Implementation
		if impl == "" {
			impl = "native"
		}

		key := t.ChainID + "|" + impl

		if seen[key] {
			continue
		}

		seen[key] = true

		out = append(out, t)
	}

	return out
}

func dedupTransactions(in []indexer.Transaction) []indexer.Transaction {
	seen := make(map[string]bool, len(in))

	out := make([]indexer.Transaction, 0, len(in))

	for _, tx := range in {
		key := tx.ChainID + "|" + tx.Hash

		if seen[key] {
			continue
		}

		seen[key] = true

		out = append(out, tx)
	}

	return out
}

// scaleTo18 converts a smallest-unit decimal string at the given decimals to its 18-decimal equivalent by
// right-padding with zeros, per §4.6. balance must be a base-10 integer string.
func scaleTo18(balance string, decimals uint8) (string, error) {
	if decimals > fixedDecimals {
		return "", fmt.Errorf("decimals %d exceeds the fixed 18-decimal representation", decimals)
	}

	n, ok := new(big.Int).SetString(balance, 10)
	if !ok {
		return "", fmt.Errorf("invalid balance %q", balance)
	}

	factor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(fixedDecimals-decimals)), nil)

	return new(big.Int).Mul(n, factor).String(), nil
}

func isZero(decimalString string) bool {
	n, ok := new(big.Int).SetString(decimalString, 10)

	return ok && n.Sign() == 0
}
