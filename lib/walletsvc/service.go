// Package walletsvc bundles every wired component into the single long-lived service object an external API layer
// embeds, the way the teacher's wallet.Wallet bundles its blockchain clients, message broker and HD wallet.
package walletsvc

import (
	"context"
	"encoding/json"
	"log"

	"github.com/tarancss/core/lib/aggregator"
	"github.com/tarancss/core/lib/appsession"
	"github.com/tarancss/core/lib/channel"
	"github.com/tarancss/core/lib/indexer"
	"github.com/tarancss/core/lib/onchain"
	"github.com/tarancss/core/lib/query"
	"github.com/tarancss/core/lib/store"
	"github.com/tarancss/core/lib/transport"
)

// Service is the public surface a caller embeds: the channel and app-session controllers (C4/C5), the query
// service (C6), the multi-chain aggregator (C7), and the underlying transport, per the "C7 (or an API layer above
// it) invokes C4/C5" data flow.
type Service struct {
	Transport  *transport.Transport
	Channels   *channel.Controller
	Sessions   *appsession.Controller
	Query      *query.Service
	Aggregator *aggregator.Aggregator

	db  store.DB
	idx *indexer.Client
}

// New wires the per-request controllers over a shared transport and starts the balance-update cache invalidation
// relay described in spec.md's data-flow note: "Notifications from C2 update caches ... and are dispatched to
// subscribers."
func New(tr *transport.Transport, db store.DB, idx *indexer.Client, agg *aggregator.Aggregator,
	submitter onchain.Submitter,
) *Service {
	querySvc := query.New(tr)
	sessions := appsession.New(tr, db)
	sessions.SetReconciler(querySvc)

	svc := &Service{
		Transport:  tr,
		Channels:   channel.New(tr, submitter),
		Sessions:   sessions,
		Query:      querySvc,
		Aggregator: agg,
		db:         db,
		idx:        idx,
	}

	go svc.relayBalanceUpdates()

	return svc
}

type balanceUpdatePayload struct {
	Address string `json:"address"`
	ChainID string `json:"chainId"`
}

// relayBalanceUpdates invalidates the indexer's portfolio cache for whichever (address, chain) pair the clearing
// node just pushed a "bu" notification for, so the next read observes the fresh balance instead of a stale TTL
// entry.
func (s *Service) relayBalanceUpdates() {
	for note := range s.Transport.Subscribe(transport.NotifyBalanceUpdate) {
		var payload balanceUpdatePayload
		if err := json.Unmarshal(note.Payload, &payload); err != nil {
			log.Printf("[walletsvc] malformed balance update notification: %v", err)

			continue
		}

		if payload.Address == "" || payload.ChainID == "" {
			continue
		}

		s.idx.InvalidatePortfolio(payload.Address, payload.ChainID)
	}
}

// Close shuts down the transport and the database connection.
func (s *Service) Close(ctx context.Context) error {
	if err := s.Transport.Close(); err != nil {
		return err
	}

	return s.db.Close(ctx)
}
