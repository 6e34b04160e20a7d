package aggregator

import (
	"context"
	"math/big"
	"testing"

	"github.com/tarancss/core/lib/indexer"
	"github.com/tarancss/core/lib/signer"
	"github.com/tarancss/core/lib/store"
)

type memDB struct {
	seeds map[string]store.Seed
}

func newMemDB() *memDB { return &memDB{seeds: map[string]store.Seed{}} }

func (m *memDB) GetSeed(_ context.Context, userID string) (store.Seed, error) {
	s, ok := m.seeds[userID]
	if !ok {
		return store.Seed{}, store.ErrDataNotFound
	}

	return s, nil
}

func (m *memDB) PutSeed(_ context.Context, s store.Seed) error {
	m.seeds[s.UserID] = s

	return nil
}

func (m *memDB) UpsertParticipant(context.Context, store.Participant) error { return nil }
func (m *memDB) ListParticipants(context.Context, string) ([]store.Participant, error) {
	return nil, nil
}
func (m *memDB) SaveAppSession(context.Context, store.AppSessionRecord) error { return nil }
func (m *memDB) GetAppSession(context.Context, string) (store.AppSessionRecord, error) {
	return store.AppSessionRecord{}, store.ErrDataNotFound
}
func (m *memDB) SaveChannel(context.Context, store.ChannelRecord) error { return nil }
func (m *memDB) GetChannel(context.Context, string, uint64) (store.ChannelRecord, error) {
	return store.ChannelRecord{}, store.ErrDataNotFound
}
func (m *memDB) Close(context.Context) error { return nil }

type stubAccount struct {
	address string
	balance *big.Int
	failErr error
}

func (s *stubAccount) Address(context.Context) (string, error) {
	if s.failErr != nil {
		return "", s.failErr
	}

	return s.address, nil
}

func (s *stubAccount) Balance(context.Context) (*big.Int, error) { return s.balance, nil }
func (s *stubAccount) Capabilities() []signer.Capability {
	return []signer.Capability{
		{Kind: signer.NativeTransfer, Native: func(context.Context, string, *big.Int) (signer.Receipt, error) {
			return signer.Receipt{Hash: "0xnative"}, nil
		}},
		{Kind: signer.GenericSend, Generic: func(context.Context, string, *big.Int, string) (signer.Receipt, error) {
			return signer.Receipt{Hash: "0xgeneric"}, nil
		}},
	}
}

type fakeAccounts struct {
	byChain map[string]*stubAccount
}

func (f *fakeAccounts) Account(_ context.Context, _ string, chain string) (signer.Account, error) {
	a, ok := f.byChain[chain]
	if !ok {
		return nil, errNoAccount
	}

	return a, nil
}

type noAccountErr struct{}

func (noAccountErr) Error() string { return "no account configured for chain" }

var errNoAccount = noAccountErr{}

type fakeIndexer struct {
	portfolios    map[string][]indexer.TokenBalance
	txs           map[string][]indexer.Transaction
	invalidated   []string
	portfolioErrs map[string]error
}

func (f *fakeIndexer) Portfolio(_ context.Context, address, chain string) ([]indexer.TokenBalance, error) {
	if err, ok := f.portfolioErrs[address+"|"+chain]; ok {
		return nil, err
	}

	return f.portfolios[address+"|"+chain], nil
}

func (f *fakeIndexer) PortfolioAny(_ context.Context, address string) ([]indexer.TokenBalance, error) {
	return f.portfolios[address+"|any"], nil
}

func (f *fakeIndexer) Transactions(_ context.Context, address, chain string, _ int) ([]indexer.Transaction, error) {
	return f.txs[address+"|"+chain], nil
}

func (f *fakeIndexer) TransactionsAny(_ context.Context, address string, _ int) ([]indexer.Transaction, error) {
	return f.txs[address+"|any"], nil
}

func (f *fakeIndexer) InvalidatePortfolio(address, chain string) {
	f.invalidated = append(f.invalidated, address+"|"+chain)
}

func TestGetAddressesAutoCreatesSeedAndToleratesPartialFailure(t *testing.T) {
	db := newMemDB()
	accounts := &fakeAccounts{byChain: map[string]*stubAccount{
		"ethereum": {address: "0xEOA"},
		"tron":     {failErr: errNoAccount},
	}}

	agg := New(db, accounts, &fakeIndexer{})

	addrs, err := agg.GetAddresses(context.Background(), "user1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if addrs["ethereum"] != "0xEOA" {
		t.Errorf("expected ethereum address, got %+v", addrs)
	}

	if _, ok := addrs["tron"]; ok {
		t.Errorf("expected tron to be omitted after a derivation failure, got %+v", addrs)
	}

	if _, err = db.GetSeed(context.Background(), "user1"); err != nil {
		t.Errorf("expected a seed to have been auto-created, got %v", err)
	}
}

func TestGetTokenBalancesNormalizesAndOmitsZero(t *testing.T) {
	db := newMemDB()
	accounts := &fakeAccounts{byChain: map[string]*stubAccount{"base": {address: "0xB"}}}
	idx := &fakeIndexer{portfolios: map[string][]indexer.TokenBalance{
		"0xB|base": {
			{Implementation: "", Symbol: "ETH", Balance: "0", Decimals: 18},
			{Implementation: "0xTOKEN", Symbol: "USDC", Balance: "1000000", Decimals: 6},
		},
	}}

	agg := New(db, accounts, idx)

	views, err := agg.GetTokenBalances(context.Background(), "user1", "base")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(views) != 1 || views[0].Symbol != "USDC" {
		t.Fatalf("expected zero-balance native entry omitted, got %+v", views)
	}

	if views[0].Balance != "1000000000000000000" {
		t.Errorf("expected 6-decimal balance scaled to 18 decimals, got %s", views[0].Balance)
	}
}

func TestGetTokenBalancesFallsBackToSignerOnIndexerFailure(t *testing.T) {
	db := newMemDB()
	accounts := &fakeAccounts{byChain: map[string]*stubAccount{
		"base": {address: "0xB", balance: big.NewInt(5_000_000_000_000_000_000)},
	}}
	idx := &fakeIndexer{portfolioErrs: map[string]error{"0xB|base": errIndexerDown}}

	agg := New(db, accounts, idx)

	views, err := agg.GetTokenBalances(context.Background(), "user1", "base")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(views) != 1 || views[0].Address != "" {
		t.Fatalf("expected a single native-only fallback entry, got %+v", views)
	}

	if views[0].Balance != "5000000000000000000" {
		t.Errorf("expected the raw signer balance (already 18-decimal for an EVM chain), got %s", views[0].Balance)
	}
}

type indexerDownErr struct{}

func (indexerDownErr) Error() string { return "indexer unavailable" }

var errIndexerDown = indexerDownErr{}

func TestHumanToSmallestUnitsTruncatesExcessFraction(t *testing.T) {
	n, err := humanToSmallestUnits("1.23456789", 6)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if n.String() != "1234567" {
		t.Errorf("expected truncation (not rounding) at 6 decimals, got %s", n.String())
	}
}

func TestHumanToSmallestUnitsPadsShortFraction(t *testing.T) {
	n, err := humanToSmallestUnits("1.5", 6)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if n.String() != "1500000" {
		t.Errorf("expected zero-padded fraction, got %s", n.String())
	}
}

func TestValidateAmountRejectsZeroAndNegative(t *testing.T) {
	if validateAmount("0") == nil {
		t.Error("expected amount 0 to be rejected")
	}

	if validateAmount("-1") == nil {
		t.Error("expected a negative amount to be rejected")
	}

	if err := validateAmount("1.5"); err != nil {
		t.Errorf("expected 1.5 to be valid, got %v", err)
	}
}

func TestSendCryptoRejectsInsufficientBalance(t *testing.T) {
	db := newMemDB()
	accounts := &fakeAccounts{byChain: map[string]*stubAccount{
		"base": {address: "0xB", balance: big.NewInt(1)},
	}}

	agg := New(db, accounts, &fakeIndexer{})

	_, err := agg.SendCrypto(context.Background(), SendParams{
		UserID: "user1", Chain: "base", Recipient: "0xRecipient", AmountHuman: "1000",
	})
	if err == nil {
		t.Fatal("expected precondition error for insufficient native balance")
	}
}

func TestSendCryptoNativeSucceedsAndInvalidatesCache(t *testing.T) {
	db := newMemDB()
	accounts := &fakeAccounts{byChain: map[string]*stubAccount{
		"base": {address: "0xB", balance: big.NewInt(5_000_000_000_000_000_000)},
	}}
	idx := &fakeIndexer{}

	agg := New(db, accounts, idx)

	res, err := agg.SendCrypto(context.Background(), SendParams{
		UserID: "user1", Chain: "base", Recipient: "0xRecipient", AmountHuman: "1.0",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.TxHash != "0xnative" {
		t.Errorf("expected the native capability's hash, got %s", res.TxHash)
	}

	if len(idx.invalidated) != 1 || idx.invalidated[0] != "0xB|base" {
		t.Errorf("expected cache invalidation for (0xB, base), got %v", idx.invalidated)
	}
}

func TestDedupTokensFirstSeenWins(t *testing.T) {
	in := []indexer.TokenBalance{
		{ChainID: "base", Implementation: "0xT", Symbol: "first"},
		{ChainID: "base", Implementation: "0xT", Symbol: "second"},
		{ChainID: "ethereum", Implementation: "0xT", Symbol: "third"},
	}

	out := dedupTokens(in)
	if len(out) != 2 || out[0].Symbol != "first" {
		t.Errorf("expected first-seen-wins dedup, got %+v", out)
	}
}

func TestDeriveStatusRules(t *testing.T) {
	cases := []struct {
		tx   indexer.Transaction
		want string
	}{
		{indexer.Transaction{RawStatus: "confirmed"}, "success"},
		{indexer.Transaction{RawStatus: "error"}, "failed"},
		{indexer.Transaction{BlockConfirmations: 3}, "success"},
		{indexer.Transaction{}, "pending"},
	}

	for _, c := range cases {
		if got := deriveStatus(c.tx); got != c.want {
			t.Errorf("deriveStatus(%+v) = %s, want %s", c.tx, got, c.want)
		}
	}
}
