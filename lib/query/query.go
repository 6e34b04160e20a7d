// Package query implements the read-side Query Service (component C6): balances, app sessions (with definition
// merge), channels, transactions, and an unsigned ping/health probe.
package query

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tarancss/core/lib/errs"
)

// Sender is the RPC capability the service needs from the transport. SendUnsigned is used for the two public
// methods (ping, get_app_definition) that must bypass session-key signing, per §3.
type Sender interface {
	Send(ctx context.Context, method string, params interface{}) (json.RawMessage, error)
	SendUnsigned(ctx context.Context, method string, params interface{}) (json.RawMessage, error)
}

// Service implements C6's read-only operations.
type Service struct {
	rpc Sender
}

// New returns a query Service.
func New(rpc Sender) *Service {
	return &Service{rpc: rpc}
}

// Page is the page object of the clearing node's {page:{size}, offset} pagination convention, per §4.5.
type Page struct {
	Size uint32 `json:"size"`
}

// LedgerBalance is one asset's balance in a ledger account.
type LedgerBalance struct {
	Asset   string `json:"asset"`
	Amount  string `json:"amount"`
}

// GetLedgerBalances returns the ledger balances of an account, or of the caller's own account when accountID is
// empty.
func (s *Service) GetLedgerBalances(ctx context.Context, accountID string) ([]LedgerBalance, error) {
	const op = "query.getLedgerBalances"

	params := map[string]interface{}{}
	if accountID != "" {
		params["account_id"] = accountID
	}

	raw, err := s.rpc.Send(ctx, "get_ledger_balances", params)
	if err != nil {
		return nil, errs.NewUnavailable(op, err)
	}

	var out struct {
		Balances []LedgerBalance `json:"balances"`
	}
	if err = json.Unmarshal(raw, &out); err != nil {
		return nil, errs.NewInternal(op, err)
	}

	return out.Balances, nil
}

// AppSessionsFilter filters GetAppSessions, per §4.5.
type AppSessionsFilter struct {
	Status      string
	Participant string
}

// AppSessionSummary is one row returned by getAppSessions, deliberately omitting participants for privacy unless
// merged with a definition via GetAppSession.
type AppSessionSummary struct {
	AppSessionID string `json:"app_session_id"`
	Status       string `json:"status"`
	Asset        string `json:"asset"`
	Version      uint64 `json:"version"`
}

// GetAppSessions lists app sessions matching the filter.
func (s *Service) GetAppSessions(ctx context.Context, f AppSessionsFilter) ([]AppSessionSummary, error) {
	const op = "query.getAppSessions"

	params := map[string]interface{}{}
	if f.Status != "" {
		params["status"] = f.Status
	}

	if f.Participant != "" {
		params["participant"] = f.Participant
	}

	raw, err := s.rpc.Send(ctx, "get_app_sessions", params)
	if err != nil {
		return nil, errs.NewUnavailable(op, err)
	}

	var out struct {
		Sessions []AppSessionSummary `json:"sessions"`
	}
	if err = json.Unmarshal(raw, &out); err != nil {
		return nil, errs.NewInternal(op, err)
	}

	return out.Sessions, nil
}

// AppDefinition is the immutable definition of an app session: its participants, weights and quorum.
type AppDefinition struct {
	AppSessionID string   `json:"app_session_id"`
	Participants []string `json:"participants"`
	Weights      []uint32 `json:"weights"`
	Quorum       uint32   `json:"quorum"`
	Protocol     string   `json:"protocol"`
}

// GetAppDefinition fetches an app session's definition via the unsigned get_app_definition method, per §4.5.
func (s *Service) GetAppDefinition(ctx context.Context, appSessionID string) (AppDefinition, error) {
	const op = "query.getAppDefinition"

	raw, err := s.rpc.SendUnsigned(ctx, "get_app_definition", map[string]interface{}{"app_session_id": appSessionID})
	if err != nil {
		return AppDefinition{}, errs.NewUnavailable(op, err)
	}

	var def AppDefinition
	if err = json.Unmarshal(raw, &def); err != nil {
		return AppDefinition{}, errs.NewInternal(op, err)
	}

	return def, nil
}

// AppSessionView merges an AppSessionSummary with its AppDefinition, as returned by GetAppSession.
type AppSessionView struct {
	AppSessionSummary
	Definition AppDefinition `json:"definition"`
}

// GetAppSession composes getAppSessions with getAppDefinition and merges the definition into the session, per §4.5.
// It returns a not-found error if no session matches id.
func (s *Service) GetAppSession(ctx context.Context, id string) (AppSessionView, error) {
	const op = "query.getAppSession"

	sessions, err := s.GetAppSessions(ctx, AppSessionsFilter{})
	if err != nil {
		return AppSessionView{}, err
	}

	var found *AppSessionSummary

	for i := range sessions {
		if sessions[i].AppSessionID == id {
			found = &sessions[i]

			break
		}
	}

	if found == nil {
		return AppSessionView{}, errs.NewNotFound(op, errNotFound(id))
	}

	def, err := s.GetAppDefinition(ctx, id)
	if err != nil {
		return AppSessionView{}, err
	}

	return AppSessionView{AppSessionSummary: *found, Definition: def}, nil
}

// Channel is one row returned by getChannels.
type Channel struct {
	ChannelID string `json:"channel_id"`
	ChainID   uint64 `json:"chain_id"`
	Status    string `json:"status"`
	Version   uint64 `json:"version"`
}

// GetChannels lists the caller's payment channels.
func (s *Service) GetChannels(ctx context.Context) ([]Channel, error) {
	const op = "query.getChannels"

	raw, err := s.rpc.Send(ctx, "get_channels", map[string]interface{}{})
	if err != nil {
		return nil, errs.NewUnavailable(op, err)
	}

	var out struct {
		Channels []Channel `json:"channels"`
	}
	if err = json.Unmarshal(raw, &out); err != nil {
		return nil, errs.NewInternal(op, err)
	}

	return out.Channels, nil
}

// TransactionsFilter filters GetLedgerTransactions, per §4.5.
type TransactionsFilter struct {
	Asset  string
	Type   string
	Limit  uint32
	Offset uint32
}

// Transaction is one ledger transaction entry.
type Transaction struct {
	ID        string `json:"id"`
	Asset     string `json:"asset"`
	Type      string `json:"type"`
	Amount    string `json:"amount"`
	Timestamp int64  `json:"timestamp"`
}

// GetLedgerTransactions lists the caller's ledger transactions, paginated per the clearing node's {page:{size},
// offset} convention.
func (s *Service) GetLedgerTransactions(ctx context.Context, f TransactionsFilter) ([]Transaction, error) {
	const op = "query.getLedgerTransactions"

	params := map[string]interface{}{}
	if f.Asset != "" {
		params["asset"] = f.Asset
	}

	if f.Type != "" {
		params["type"] = f.Type
	}

	size := f.Limit
	if size == 0 {
		size = 50
	}

	params["page"] = Page{Size: size}
	params["offset"] = f.Offset

	raw, err := s.rpc.Send(ctx, "get_ledger_transactions", params)
	if err != nil {
		return nil, errs.NewUnavailable(op, err)
	}

	var out struct {
		Transactions []Transaction `json:"transactions"`
	}
	if err = json.Unmarshal(raw, &out); err != nil {
		return nil, errs.NewInternal(op, err)
	}

	return out.Transactions, nil
}

// Pong is the response of Ping, defaulted per §4.5 when the clearing node returns a missing or null response.
type Pong struct {
	Pong      string `json:"pong"`
	Timestamp int64  `json:"timestamp"`
}

// Ping calls the unsigned ping method. A missing or null response defaults to {pong: "pong", timestamp: now()}.
func (s *Service) Ping(ctx context.Context) (Pong, error) {
	const op = "query.ping"

	raw, err := s.rpc.SendUnsigned(ctx, "ping", nil)
	if err != nil {
		return Pong{}, errs.NewUnavailable(op, err)
	}

	if len(raw) == 0 || string(raw) == "null" {
		return Pong{Pong: "pong", Timestamp: time.Now().UnixMilli()}, nil
	}

	var p Pong
	if err = json.Unmarshal(raw, &p); err != nil {
		return Pong{}, errs.NewInternal(op, err)
	}

	if p.Pong == "" {
		p.Pong = "pong"
	}

	if p.Timestamp == 0 {
		p.Timestamp = time.Now().UnixMilli()
	}

	return p, nil
}

type notFoundErr struct{ id string }

func (e notFoundErr) Error() string { return "app session not found: " + e.id }

func errNotFound(id string) error { return notFoundErr{id: id} }
