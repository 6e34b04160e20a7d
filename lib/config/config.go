// Package config provides helper functionality to read the core's configuration from a JSON config file or OS ENV
// variables.
// The default configuration can be overridden first by:
//
// - a valid JSON config file (see cmd/core/conf.json for a sample) and then by
//
// - OS ENV variables: prefixed with CORE_ (ie. CORE_DBTYPE, CORE_DBCONN, CORE_CLEARINGURL, ...). All OS ENV variables should be
// valid strings, except for CORE_CUSTODY and CORE_EVMRPC which should be strings with a valid JSON format. For example:
// # export CORE_CUSTODY='[{"chainId":8453,"address":"0x0000000000000000000000000000000000000000"}]'
// # export CORE_EVMRPC='{"base":"https://base-rpc.example"}'
package config

import (
	"encoding/json"
	"log"
	"os"
)

// Default configuration variables.
var (
	DbTypeDefault           = "mongodb"
	DbConnDefault           = "mongodb://localhost"
	IndexerURLDefault       = "https://api.indexer.example/v1"
	IndexerKeyDefault       = ""
	IndexerTimeoutMsDefault = 10000
	ClearingURLDefault      = "wss://clearnode.example/ws"
	MaxReconnectDefault     = 5
	InitialDelayMsDefault   = 1000
	MaxDelayMsDefault       = 30000
	RequestTimeoutMsDefault = 30000
	SeedDefault             = "642ce4e20f09c9f4d285c2b336063eaafbe4cb06dece8134f3a64bdd8f8c0c24df73e1a2e7056359b6db61e179ff45e5ada51d14f07b30becb6d92b961d35df4"
	CustodyDefault          = []CustodyConfig{}
	EvmRPCDefault           = map[string]string{}
)

// CustodyConfig maps a chain id to its deployed custody contract address.
type CustodyConfig struct {
	ChainID uint64 `json:"chainId"`
	Address string `json:"address"`
}

// ServiceConfig contains the required fields to wire up the core: database connection, indexer HTTPS endpoint and
// API key, the clearing node's duplex RPC URL and reconnection tunables (the exhaustive option list of §4.1), the
// custody contract addresses per chain, and the seed for the reference HD signer.
type ServiceConfig struct {
	DbType           string          `json:"dbtype"`
	DbConn           string          `json:"dbconn"`
	IndexerURL       string          `json:"indexerUrl"`
	IndexerKey       string          `json:"indexerKey"`
	IndexerTimeoutMs int             `json:"indexerTimeoutMs"`
	ClearingURL      string          `json:"clearingUrl"`
	MaxReconnect     int             `json:"maxReconnect"`
	InitialDelayMs   int             `json:"initialDelayMs"`
	MaxDelayMs       int             `json:"maxDelayMs"`
	RequestTimeoutMs int             `json:"requestTimeoutMs"`
	Custody          []CustodyConfig `json:"custody"`
	Seed             string          `json:"seed"`
	// EvmRPC maps an EVM chain family name (ethereum, base, arbitrum, polygon) to its RPC endpoint, used both by
	// the custody submitter and the reference WDK signer.
	EvmRPC map[string]string `json:"evmRpc"`
}

// ExtractConfiguration reads from the given JSON filename and returns the ServiceConfig or an error otherwise.
func ExtractConfiguration(filename string) (ServiceConfig, error) {
	conf := ServiceConfig{
		DbType:           DbTypeDefault,
		DbConn:           DbConnDefault,
		IndexerURL:       IndexerURLDefault,
		IndexerKey:       IndexerKeyDefault,
		IndexerTimeoutMs: IndexerTimeoutMsDefault,
		ClearingURL:      ClearingURLDefault,
		MaxReconnect:     MaxReconnectDefault,
		InitialDelayMs:   InitialDelayMsDefault,
		MaxDelayMs:       MaxDelayMsDefault,
		RequestTimeoutMs: RequestTimeoutMsDefault,
		Custody:          CustodyDefault,
		Seed:             SeedDefault,
		EvmRPC:           EvmRPCDefault,
	}
	// read from config file first
	if filename != "" {
		file, err := os.Open(filename)
		if err != nil {
			log.Println("Configuration file not found.")

			return conf, err
		}
		defer file.Close()

		if err = json.NewDecoder(file).Decode(&conf); err != nil {
			return conf, err
		}
	}
	// then override config values with OS ENV variables
	var tmp string
	if tmp = os.Getenv("CORE_DBTYPE"); tmp != "" {
		conf.DbType = tmp
	}

	if tmp = os.Getenv("CORE_DBCONN"); tmp != "" {
		conf.DbConn = tmp
	}

	if tmp = os.Getenv("CORE_INDEXERURL"); tmp != "" {
		conf.IndexerURL = tmp
	}

	if tmp = os.Getenv("CORE_INDEXERKEY"); tmp != "" {
		conf.IndexerKey = tmp
	}

	if tmp = os.Getenv("CORE_CLEARINGURL"); tmp != "" {
		conf.ClearingURL = tmp
	}

	if tmp = os.Getenv("CORE_CUSTODY"); tmp != "" {
		if err := json.Unmarshal([]byte(tmp), &conf.Custody); err != nil {
			log.Println("Error reading custody addresses from OS ENV CORE_CUSTODY.")

			return conf, err
		}
	}

	if tmp = os.Getenv("CORE_SEED"); tmp != "" {
		conf.Seed = tmp
	}

	if tmp = os.Getenv("CORE_EVMRPC"); tmp != "" {
		if err := json.Unmarshal([]byte(tmp), &conf.EvmRPC); err != nil {
			log.Println("Error reading EVM RPC endpoints from OS ENV CORE_EVMRPC.")

			return conf, err
		}
	}

	return conf, nil
}
