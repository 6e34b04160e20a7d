// Package main: core service.
package main

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tarancss/hd"

	"github.com/tarancss/core/lib/aggregator"
	"github.com/tarancss/core/lib/auth"
	"github.com/tarancss/core/lib/config"
	"github.com/tarancss/core/lib/indexer"
	"github.com/tarancss/core/lib/onchain"
	"github.com/tarancss/core/lib/signer"
	"github.com/tarancss/core/lib/store/db"
	"github.com/tarancss/core/lib/transport"
	"github.com/tarancss/core/lib/walletsvc"
)

// evmChainIDs maps the chain family names of §4.6 to their canonical EVM chain id, used to wire the custody
// submitter and the reference signer's RPC connections.
var evmChainIDs = map[string]uint64{
	"ethereum": 1,
	"base":     8453,
	"arbitrum": 42161,
	"polygon":  137,
}

func main() {
	confPath := flag.String("c", "", "flag to get configuration from json file")
	monitor := flag.Bool("m", false, "flag to monitor the server with Prometheus at http://localhost:9100")
	flag.Parse()

	conf, err := config.ExtractConfiguration(*confPath)
	if err != nil {
		panic(err)
	}

	log.Printf("Configuration:%+v", conf)

	dbConn, err := db.New(conf.DbType, conf.DbConn)
	if err != nil {
		panic(err)
	}

	log.Printf("Connected to database: %s (%s)\n", conf.DbConn, conf.DbType)

	if *monitor {
		go func() {
			log.Println("Serving metrics API")

			h := http.NewServeMux()

			h.Handle("/metrics", promhttp.Handler())

			if errServe := http.ListenAndServe(":9100", h); errServe != nil {
				log.Printf("Error serving metrics: %v\n", errServe)
			}
		}()
	}

	indexerClient := indexer.New(conf.IndexerURL, conf.IndexerKey,
		time.Duration(conf.IndexerTimeoutMs)*time.Millisecond)

	seed, err := hex.DecodeString(conf.Seed)
	if err != nil {
		panic(err)
	}

	hdWallet, err := hd.Init(seed)
	if err != nil {
		panic(err)
	}

	accounts := buildAccountProvider(hdWallet, conf.EvmRPC)
	agg := aggregator.New(dbConn, accounts, indexerClient)
	submitter := buildSubmitter(seed, conf.Custody, conf.EvmRPC)

	tr := transport.New(transport.Config{
		URL:                     conf.ClearingURL,
		MaxReconnectAttempts:    conf.MaxReconnect,
		InitialReconnectDelayMs: conf.InitialDelayMs,
		MaxReconnectDelayMs:     conf.MaxDelayMs,
		RequestTimeoutMs:        conf.RequestTimeoutMs,
	})

	sessionKey, err := auth.NewECDSASessionKey()
	if err != nil {
		panic(err)
	}

	a := auth.New(sessionKey, auth.Identity{UserID: "core"})
	tr.SetSigner(a)
	tr.OnConnect(func(t *transport.Transport) error {
		return a.Handshake(context.Background(), t)
	})

	svc := walletsvc.New(tr, dbConn, indexerClient, agg, submitter)

	log.Print("Core service wired: transport, auth, channel, appsession, query, aggregator")

	if err = tr.Connect(context.Background()); err != nil {
		log.Printf("Initial connection to clearing node failed, will keep retrying: %v\n", err)
	}

	// capture CTRL+C or docker's SIGTERM for gracious exit
	finish := make(chan int)

	go func() {
		sigchan := make(chan os.Signal, 10)
		signal.Notify(sigchan, os.Interrupt, syscall.SIGTERM)
		<-sigchan
		log.Println("Program killed !")

		if errClose := svc.Close(context.Background()); errClose != nil {
			log.Printf("Error closing service: %v\n", errClose)
		}

		close(finish)
	}()

	<-finish
}

// buildAccountProvider dials one RPC connection per configured EVM chain family and returns the reference WDK
// account provider layered on top of them.
func buildAccountProvider(hdWallet *hd.HdWallet, rpcURLs map[string]string) *signer.WDKAccountProvider {
	conns := make(map[string]*signer.EVMChainRPC, len(rpcURLs))

	for family, url := range rpcURLs {
		client, chainID, err := signer.DialEVMRPC(context.Background(), url)
		if err != nil {
			log.Printf("Skipping signer RPC for %s: %v\n", family, err)

			continue
		}

		conns[family] = &signer.EVMChainRPC{Client: client, ChainID: chainID}
	}

	return signer.NewWDKAccountProvider(hdWallet, conns)
}

// buildSubmitter derives the operator custody key from the same seed as the reference signer's per-user wallet and
// registers one RPC connection per chain named in custody.
func buildSubmitter(seed []byte, custody []config.CustodyConfig, rpcURLs map[string]string) *onchain.EVMSubmitter {
	operatorKey, err := deriveOperatorKey(seed)
	if err != nil {
		panic(err)
	}

	submitter, err := onchain.NewEVMSubmitter(operatorKey)
	if err != nil {
		panic(err)
	}

	for _, c := range custody {
		family := familyForChainID(c.ChainID)

		url, ok := rpcURLs[family]
		if !ok {
			log.Printf("No RPC endpoint configured for custody chain %d, skipping\n", c.ChainID)

			continue
		}

		if err = submitter.AddChain(context.Background(), c.ChainID, url, c.Address); err != nil {
			log.Printf("Error registering custody chain %d: %v\n", c.ChainID, err)
		}
	}

	return submitter
}

func familyForChainID(chainID uint64) string {
	for family, id := range evmChainIDs {
		if id == chainID {
			return family
		}
	}

	return ""
}

// deriveOperatorKey derives the fixed HD path reserved for the custody-submitting operator account (wallet 0,
// external chain, index 0), separate from any per-user path a WDKAccountProvider derives.
func deriveOperatorKey(seed []byte) (*ecdsa.PrivateKey, error) {
	hdWallet, err := hd.Init(seed)
	if err != nil {
		return nil, err
	}

	_, keyBytes, _, err := hdWallet.Address(0, hd.External, 0)
	if err != nil {
		return nil, err
	}

	return crypto.ToECDSA(keyBytes)
}
