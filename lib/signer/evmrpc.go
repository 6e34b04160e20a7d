package signer

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

func ethereumCallMsg(to common.Address, data []byte) ethereum.CallMsg {
	return ethereum.CallMsg{To: &to, Data: data}
}

func ethereumCallMsgWithValue(from, to common.Address, data []byte, value *big.Int) ethereum.CallMsg {
	return ethereum.CallMsg{From: from, To: &to, Data: data, Value: value}
}

// EVMRPCProvider is the reference EVMProvider: one ethclient connection per chain, signing outgoing transactions
// with a single derived key the way EVMAccount expects.
type EVMRPCProvider struct {
	client *ethclient.Client
	key    *ecdsa.PrivateKey
	chain  *big.Int
}

// NewEVMRPCProvider dials rpcURL and binds key as the signer for every transaction it submits.
func NewEVMRPCProvider(ctx context.Context, rpcURL string, key *ecdsa.PrivateKey) (*EVMRPCProvider, error) {
	client, chainID, err := DialEVMRPC(ctx, rpcURL)
	if err != nil {
		return nil, err
	}

	return NewEVMRPCProviderFromClient(client, chainID, key), nil
}

// DialEVMRPC dials rpcURL once and returns the connection together with its chain id, so a single connection can be
// shared across every user account on that chain.
func DialEVMRPC(ctx context.Context, rpcURL string) (*ethclient.Client, *big.Int, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("dialing %s: %w", rpcURL, err)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("fetching chain id from %s: %w", rpcURL, err)
	}

	return client, chainID, nil
}

// NewEVMRPCProviderFromClient binds key as the signer over an already-dialed client, so many per-user providers can
// share one RPC connection per chain.
func NewEVMRPCProviderFromClient(client *ethclient.Client, chainID *big.Int, key *ecdsa.PrivateKey) *EVMRPCProvider {
	return &EVMRPCProvider{client: client, key: key, chain: chainID}
}

// Call implements EVMProvider via eth_call against the latest block.
func (p *EVMRPCProvider) Call(ctx context.Context, to string, data []byte) ([]byte, error) {
	addr := common.HexToAddress(to)

	return p.client.CallContract(ctx, ethereumCallMsg(addr, data), nil)
}

// BalanceAt implements EVMProvider via eth_getBalance against the latest block.
func (p *EVMRPCProvider) BalanceAt(ctx context.Context, address string) (*big.Int, error) {
	return p.client.BalanceAt(ctx, common.HexToAddress(address), nil)
}

// SendTransaction builds a dynamic-fee transaction, signs it with the bound key, and broadcasts it.
func (p *EVMRPCProvider) SendTransaction(ctx context.Context, to string, data []byte, value *big.Int) (string, error) {
	from := crypto.PubkeyToAddress(p.key.PublicKey)

	nonce, err := p.client.PendingNonceAt(ctx, from)
	if err != nil {
		return "", fmt.Errorf("fetching nonce for %s: %w", from.Hex(), err)
	}

	tipCap, err := p.client.SuggestGasTipCap(ctx)
	if err != nil {
		return "", fmt.Errorf("suggesting gas tip: %w", err)
	}

	head, err := p.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("fetching latest header: %w", err)
	}

	feeCap := new(big.Int).Add(tipCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))

	toAddr := common.HexToAddress(to)

	sendValue := value
	if sendValue == nil {
		sendValue = big.NewInt(0)
	}

	gasLimit, err := p.client.EstimateGas(ctx, ethereumCallMsgWithValue(from, toAddr, data, sendValue))
	if err != nil {
		return "", fmt.Errorf("estimating gas: %w", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   p.chain,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &toAddr,
		Value:     sendValue,
		Data:      data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(p.chain), p.key)
	if err != nil {
		return "", fmt.Errorf("signing transaction: %w", err)
	}

	if err = p.client.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("broadcasting transaction: %w", err)
	}

	return signed.Hash().Hex(), nil
}
