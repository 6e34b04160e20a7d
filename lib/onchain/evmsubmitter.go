package onchain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

const custodyABIJSON = `[
	{"type":"function","name":"create","stateMutability":"nonpayable",
	 "inputs":[{"name":"channelId","type":"bytes32"},
	           {"name":"state","type":"tuple","components":[
	             {"name":"intent","type":"uint8"},{"name":"version","type":"uint64"},
	             {"name":"data","type":"bytes"},
	             {"name":"allocations","type":"tuple[]","components":[
	               {"name":"index","type":"uint256"},{"name":"amount","type":"uint256"}]}]},
	           {"name":"sigs","type":"bytes[]"}],"outputs":[]},
	{"type":"function","name":"resize","stateMutability":"nonpayable",
	 "inputs":[{"name":"channelId","type":"bytes32"},
	           {"name":"state","type":"tuple","components":[
	             {"name":"intent","type":"uint8"},{"name":"version","type":"uint64"},
	             {"name":"data","type":"bytes"},
	             {"name":"allocations","type":"tuple[]","components":[
	               {"name":"index","type":"uint256"},{"name":"amount","type":"uint256"}]}]},
	           {"name":"sigs","type":"bytes[]"}],"outputs":[]},
	{"type":"function","name":"close","stateMutability":"nonpayable",
	 "inputs":[{"name":"channelId","type":"bytes32"},
	           {"name":"state","type":"tuple","components":[
	             {"name":"intent","type":"uint8"},{"name":"version","type":"uint64"},
	             {"name":"data","type":"bytes"},
	             {"name":"allocations","type":"tuple[]","components":[
	               {"name":"index","type":"uint256"},{"name":"amount","type":"uint256"}]}]},
	           {"name":"sigs","type":"bytes[]"}],"outputs":[]}
]`

// stateTuple mirrors the on-chain State struct for ABI packing, per §6.
type stateTuple struct {
	Intent      uint8
	Version     uint64
	Data        []byte
	Allocations []allocationTuple
}

type allocationTuple struct {
	Index  *big.Int
	Amount *big.Int
}

func toStateTuple(s State) stateTuple {
	allocs := make([]allocationTuple, len(s.Allocations))
	for i, a := range s.Allocations {
		allocs[i] = allocationTuple{Index: new(big.Int).SetUint64(a.Index), Amount: a.Amount}
	}

	return stateTuple{Intent: uint8(s.Intent), Version: s.Version, Data: s.Data, Allocations: allocs}
}

// EVMSubmitter is the reference Submitter implementation: one RPC connection per chain id, submitting to the
// configured custody contract and awaiting a single confirmation via go-ethereum's bind.WaitMined.
type EVMSubmitter struct {
	custodyABI abi.ABI
	clients    map[uint64]*ethclient.Client
	custody    map[uint64]common.Address
	key        *ecdsa.PrivateKey
	chainIDs   map[uint64]*big.Int
}

// NewEVMSubmitter parses the custody ABI once and holds one ethclient per configured chain.
func NewEVMSubmitter(key *ecdsa.PrivateKey) (*EVMSubmitter, error) {
	parsed, err := abi.JSON(strings.NewReader(custodyABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parsing custody ABI: %w", err)
	}

	return &EVMSubmitter{
		custodyABI: parsed,
		clients:    make(map[uint64]*ethclient.Client),
		custody:    make(map[uint64]common.Address),
		chainIDs:   make(map[uint64]*big.Int),
		key:        key,
	}, nil
}

// AddChain registers the RPC endpoint and custody contract address for chainID.
func (s *EVMSubmitter) AddChain(ctx context.Context, chainID uint64, rpcURL, custodyAddress string) error {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return fmt.Errorf("dialing chain %d: %w", chainID, err)
	}

	s.clients[chainID] = client
	s.custody[chainID] = common.HexToAddress(custodyAddress)
	s.chainIDs[chainID] = new(big.Int).SetUint64(chainID)

	return nil
}

// CustodyAddress implements Submitter.
func (s *EVMSubmitter) CustodyAddress(chainID uint64) (common.Address, bool) {
	addr, ok := s.custody[chainID]

	return addr, ok
}

func toBindSigs(sigs [2][]byte) [][]byte { return [][]byte{sigs[0], sigs[1]} }

func (s *EVMSubmitter) submit(ctx context.Context, method string, chainID uint64, channelID [32]byte, state State, sigs [2][]byte) (Receipt, error) {
	client, ok := s.clients[chainID]
	if !ok {
		return Receipt{}, fmt.Errorf("no RPC client configured for chain %d", chainID)
	}

	custody, ok := s.custody[chainID]
	if !ok {
		return Receipt{}, fmt.Errorf("no custody contract configured for chain %d", chainID)
	}

	data, err := s.custodyABI.Pack(method, channelID, toStateTuple(state), toBindSigs(sigs))
	if err != nil {
		return Receipt{}, fmt.Errorf("packing %s calldata: %w", method, err)
	}

	auth, err := bind.NewKeyedTransactorWithChainID(s.key, s.chainIDs[chainID])
	if err != nil {
		return Receipt{}, fmt.Errorf("building transactor: %w", err)
	}

	tx, err := bind.NewBoundContract(custody, s.custodyABI, client, client, client).RawTransact(auth, data)
	if err != nil {
		return Receipt{}, fmt.Errorf("submitting %s: %w", method, err)
	}

	receipt, err := bind.WaitMined(ctx, client, tx)
	if err != nil {
		return Receipt{}, fmt.Errorf("awaiting %s receipt: %w", method, err)
	}

	return Receipt{TxHash: receipt.TxHash, Status: receipt.Status, GasUsed: receipt.GasUsed}, nil
}

// Create implements Submitter.
func (s *EVMSubmitter) Create(ctx context.Context, chainID uint64, channelID [32]byte, state State, sigs [2][]byte) (Receipt, error) {
	return s.submit(ctx, "create", chainID, channelID, state, sigs)
}

// Resize implements Submitter.
func (s *EVMSubmitter) Resize(ctx context.Context, chainID uint64, channelID [32]byte, state State, sigs [2][]byte) (Receipt, error) {
	return s.submit(ctx, "resize", chainID, channelID, state, sigs)
}

// Close implements Submitter.
func (s *EVMSubmitter) Close(ctx context.Context, chainID uint64, channelID [32]byte, state State, sigs [2][]byte) (Receipt, error) {
	return s.submit(ctx, "close", chainID, channelID, state, sigs)
}
