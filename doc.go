// Package core and its sub-packages implement the off-chain coordination core of a custodial multi-chain wallet
// backend.
/*
core bridges three collaborators: a local signer/derivation service holding a user's seed material, a remote
clearing node hosting multi-party lightning sessions and two-party payment channels over a persistent duplex RPC
connection, and an external portfolio/transaction indexer reached over HTTPS. It does not serve HTTP itself; it is a
library consumed by a user-facing API layer.

Architecture

The RPC transport (package lib/transport) keeps exactly one duplex connection to the clearing node, with automatic
reconnection, request/response correlation, offline queueing and notification dispatch. Session-key authentication
(package lib/auth) signs requests over that connection and re-handshakes on every reconnect via an on-connect hook,
before the transport flushes anything queued while disconnected.

Two controllers orchestrate off-chain/on-chain protocols on top of the transport: payment channels (package
lib/channel) and app sessions (package lib/appsession). A read-only query service (package lib/query) serves
balances, sessions, channels and transactions.

The multi-chain aggregator (package lib/aggregator) is the richest component: it derives per-chain addresses via the
signer, fans out balance and transaction lookups to the indexer client (package lib/indexer, with its own TTL cache),
yields results progressively as each chain completes, and drives send operations including ERC-20 decimals
resolution and balance pre-checks.

Persistence of seeds, sessions and participants is delegated to a product-agnostic store interface (package
lib/store) with a MongoDB-backed implementation. On-chain submission of custody contract calls is delegated to an
injected submitter (package lib/onchain).

The core can be monitored via a Prometheus API by setting the flag "-m" at startup of its reference process,
cmd/core/main.go.
*/
package core
