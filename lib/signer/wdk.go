package signer

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"hash/fnv"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/tarancss/hd"
)

// evmFamily lists the chain family names that resolve to an EVM-family account. Account-abstraction variants share
// the same underlying EOA key; the "_aa" suffix only changes how the aggregator classifies the chain elsewhere.
var evmFamily = map[string]bool{
	"ethereum": true, "ethereum_aa": true,
	"base": true, "base_aa": true,
	"arbitrum": true, "arbitrum_aa": true,
	"polygon": true, "polygon_aa": true,
}

// EVMChainRPC is a shared, already-dialed connection for one EVM chain family.
type EVMChainRPC struct {
	Client  *ethclient.Client
	ChainID *big.Int
}

// WDKAccountProvider is the reference AccountProvider: a single service-wide HD wallet derives one deterministic
// EOA per user (walletID and index both hashed from the user id, external chain), reused across every EVM chain
// family against that family's shared RPC connection.
type WDKAccountProvider struct {
	hdWallet *hd.HdWallet
	rpc      map[string]*EVMChainRPC // keyed by chain family name
}

// NewWDKAccountProvider returns a provider that derives accounts from hdWallet and dispatches over rpc.
func NewWDKAccountProvider(hdWallet *hd.HdWallet, rpc map[string]*EVMChainRPC) *WDKAccountProvider {
	return &WDKAccountProvider{hdWallet: hdWallet, rpc: rpc}
}

// Account implements aggregator.AccountProvider for EVM-family chains. Non-EVM families (bitcoin, solana, tron)
// have no reference signer here; wiring one in follows the same capability-polymorphic seam.
func (p *WDKAccountProvider) Account(ctx context.Context, userID, chain string) (Account, error) {
	if !evmFamily[chain] {
		return nil, fmt.Errorf("no reference signer wired for chain family %q", chain)
	}

	conn, ok := p.rpc[strings.TrimSuffix(chain, "_aa")]
	if !ok {
		return nil, fmt.Errorf("no RPC connection configured for chain family %q", chain)
	}

	walletID, id := derivePath(userID)

	_, keyBytes, _, err := p.hdWallet.Address(walletID, hd.External, id)
	if err != nil {
		return nil, fmt.Errorf("deriving key for user %q: %w", userID, err)
	}

	key, err := bytesToECDSA(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("decoding derived key for user %q: %w", userID, err)
	}

	provider := NewEVMRPCProviderFromClient(conn.Client, conn.ChainID, key)

	return NewEVMAccount(p.hdWallet, provider, walletID, hd.External, id)
}

// derivePath maps a user id to a stable (walletID, index) HD path so the same user always recovers the same
// address across process restarts without persisting any key material.
func derivePath(userID string) (walletID uint32, id uint32) {
	h := fnv.New64a()
	h.Write([]byte(userID))
	sum := h.Sum64()

	return uint32(sum >> 32), uint32(sum)
}

func bytesToECDSA(b []byte) (*ecdsa.PrivateKey, error) {
	return crypto.ToECDSA(b)
}
