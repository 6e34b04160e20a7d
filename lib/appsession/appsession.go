// Package appsession implements the app-session controller (component C5): N-party off-chain sessions with
// weighted-quorum updates, purely off-chain.
package appsession

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/tarancss/core/lib/errs"
	"github.com/tarancss/core/lib/query"
	"github.com/tarancss/core/lib/store"
)

// Sender is the RPC capability the controller needs from the transport.
type Sender interface {
	Send(ctx context.Context, method string, params interface{}) (json.RawMessage, error)
}

// Controller implements C5's create/deposit/transfer/close operations.
type Controller struct {
	rpc        Sender
	db         store.DB
	reconciler Reconciler
}

// New returns an app-session Controller.
func New(rpc Sender, db store.DB) *Controller {
	return &Controller{rpc: rpc, db: db}
}

// Allocation is one (participantAddress, asset, amount) entry, amount in smallest units as a decimal string.
type Allocation struct {
	ParticipantAddress string `json:"participant"`
	Asset              string `json:"asset"`
	Amount             string `json:"amount"`
}

// CreateParams are the parameters of create_app_session, per §4.4.
type CreateParams struct {
	Participants        []string
	Weights             []uint32
	Quorum              uint32
	Asset               string
	Chain               string
	InitialAllocations  map[string]string // participant address -> amount in smallest units, stored verbatim as the row's balance (no decimal conversion)
	Protocol            string
	ChallengeSeconds    uint64
}

// defaults for CreateParams per §4.4.
const (
	defaultProtocol  = "NitroRPC/0.4"
	defaultChallenge = 3600
)

type createAppSessionResp struct {
	AppSessionID string `json:"app_session_id"`
}

// Create runs create_app_session and persists one participant row per participant, with that participant's initial
// allocation as its balance, or "0" when it has none, per the scenario of §8.1.
func (c *Controller) Create(ctx context.Context, p CreateParams) (string, error) {
	const op = "appsession.create"

	protocol := p.Protocol
	if protocol == "" {
		protocol = defaultProtocol
	}

	challenge := p.ChallengeSeconds
	if challenge == 0 {
		challenge = defaultChallenge
	}

	raw, err := c.rpc.Send(ctx, "create_app_session", map[string]interface{}{
		"participants": p.Participants,
		"weights":      p.Weights,
		"quorum":       p.Quorum,
		"asset":        p.Asset,
		"chain":        p.Chain,
		"protocol":     protocol,
		"challenge":    challenge,
	})
	if err != nil {
		return "", errs.NewUnavailable(op, err)
	}

	var resp createAppSessionResp
	if err = json.Unmarshal(raw, &resp); err != nil {
		return "", errs.NewInternal(op, err)
	}

	for _, addr := range p.Participants {
		amount := "0"
		if a, ok := p.InitialAllocations[addr]; ok {
			amount = a
		}

		part := store.Participant{
			AppSessionID: resp.AppSessionID,
			Address:      addr,
			Asset:        p.Asset,
			Status:       store.Invited,
			Balance:      amount,
		}

		if err = c.db.UpsertParticipant(ctx, part); err != nil {
			log.Printf("[appsession] desync warning: could not persist participant %s for session %s: %v",
				addr, resp.AppSessionID, err)
		}
	}

	if err = c.db.SaveAppSession(ctx, store.AppSessionRecord{AppSessionID: resp.AppSessionID, Status: store.SessionOpen}); err != nil {
		log.Printf("[appsession] desync warning: could not persist session record %s: %v", resp.AppSessionID, err)
	}

	return resp.AppSessionID, nil
}

// DepositParams are the parameters of a deposit operation, per §4.4 and the open question resolved in SPEC_FULL.md:
// deposits are sent as operate_app_session with intent=DEPOSIT.
type DepositParams struct {
	AppSessionID        string
	ParticipantAddress  string
	Amount              *big.Int // smallest units
	Asset               string
}

type operateResp struct {
	Allocations []allocationWire `json:"allocations"`
}

type allocationWire struct {
	Participant string `json:"participant"`
	Asset       string `json:"asset"`
	Amount      string `json:"amount"`
}

// Deposit sends an operate_app_session with intent=DEPOSIT and persists the updated allocations.
func (c *Controller) Deposit(ctx context.Context, p DepositParams) error {
	const op = "appsession.deposit"

	if err := c.requireOpen(ctx, op, p.AppSessionID); err != nil {
		return err
	}

	raw, err := c.rpc.Send(ctx, "operate_app_session", map[string]interface{}{
		"app_session_id": p.AppSessionID,
		"intent":         "DEPOSIT",
		"participant":    p.ParticipantAddress,
		"asset":          p.Asset,
		"amount":         p.Amount.String(),
	})
	if err != nil {
		return errs.NewUnavailable(op, err)
	}

	var resp operateResp
	if err = json.Unmarshal(raw, &resp); err != nil {
		return errs.NewInternal(op, err)
	}

	c.persistAllocations(ctx, p.AppSessionID, resp.Allocations)

	return nil
}

// TransferParams are the parameters of a transfer between two participants of the same session, per §4.4.
type TransferParams struct {
	AppSessionID string
	From         string
	To           string
	Amount       *big.Int // smallest units
	Asset        string
}

// Transfer enforces balance(from) >= amount locally before sending intent=OPERATE, then persists the allocations the
// clearing node returns with one UpsertParticipant call per row. The rows are not written as one atomic update: a
// failed row write is logged and triggers a reconciliation query, and the other rows are still written.
func (c *Controller) Transfer(ctx context.Context, p TransferParams) error {
	const op = "appsession.transfer"

	if err := c.requireOpen(ctx, op, p.AppSessionID); err != nil {
		return err
	}

	parts, err := c.db.ListParticipants(ctx, p.AppSessionID)
	if err != nil {
		return errs.NewInternal(op, err)
	}

	var fromPart *store.Participant

	for i := range parts {
		if parts[i].Address == p.From && parts[i].Asset == p.Asset {
			fromPart = &parts[i]
		}

		if parts[i].Address == p.From && parts[i].Asset == p.Asset && parts[i].Status == store.Invited {
			return errs.NewPreconditionFailed(op, fmt.Errorf("participant %s is invited-only and cannot send", p.From))
		}
	}

	if fromPart == nil {
		return errs.NewNotFound(op, fmt.Errorf("participant %s not found in session %s", p.From, p.AppSessionID))
	}

	fromBal, ok := new(big.Int).SetString(fromPart.Balance, 10)
	if !ok {
		return errs.NewInternal(op, fmt.Errorf("corrupt balance for participant %s", p.From))
	}

	if fromBal.Cmp(p.Amount) < 0 {
		return errs.NewPreconditionFailed(op,
			fmt.Errorf("insufficient balance: have %s, need %s", fromBal, p.Amount))
	}

	raw, err := c.rpc.Send(ctx, "operate_app_session", map[string]interface{}{
		"app_session_id": p.AppSessionID,
		"intent":         "OPERATE",
		"from":           p.From,
		"to":             p.To,
		"asset":          p.Asset,
		"amount":         p.Amount.String(),
	})
	if err != nil {
		return errs.NewUnavailable(op, err)
	}

	var resp operateResp
	if err = json.Unmarshal(raw, &resp); err != nil {
		return errs.NewInternal(op, err)
	}

	c.persistAllocations(ctx, p.AppSessionID, resp.Allocations)

	return nil
}

// Close sends close_app_session and marks the session closed locally. Calling Close on an already-closed session
// is a no-op returning the same terminal state, per §8.
func (c *Controller) Close(ctx context.Context, appSessionID string) error {
	const op = "appsession.close"

	rec, err := c.db.GetAppSession(ctx, appSessionID)
	if err == nil && rec.Status == store.SessionClosed {
		return nil
	}

	if _, err = c.rpc.Send(ctx, "close_app_session", map[string]interface{}{"app_session_id": appSessionID}); err != nil {
		return errs.NewUnavailable(op, err)
	}

	closedAt := time.Now().UnixMilli()
	if err = c.db.SaveAppSession(ctx, store.AppSessionRecord{
		AppSessionID: appSessionID,
		Status:       store.SessionClosed,
		ClosedAt:     &closedAt,
	}); err != nil {
		log.Printf("[appsession] desync warning: could not persist closed session %s: %v", appSessionID, err)
	}

	return nil
}

func (c *Controller) requireOpen(ctx context.Context, op, appSessionID string) error {
	rec, err := c.db.GetAppSession(ctx, appSessionID)
	if err != nil {
		return errs.NewNotFound(op, err)
	}

	if rec.Status != store.SessionOpen {
		return errs.NewPreconditionFailed(op, fmt.Errorf("session %s is not open", appSessionID))
	}

	return nil
}

func (c *Controller) persistAllocations(ctx context.Context, appSessionID string, allocs []allocationWire) {
	for _, a := range allocs {
		part := store.Participant{
			AppSessionID: appSessionID,
			Address:      a.Participant,
			Asset:        a.Asset,
			Balance:      a.Amount,
			Status:       store.Joined,
		}

		if err := c.db.UpsertParticipant(ctx, part); err != nil {
			log.Printf("[appsession] desync warning after successful off-chain mutation on %s: %v; scheduling reconciliation",
				appSessionID, err)

			go c.reconcile(appSessionID)
		}
	}
}

// reconcile fires a reconciliation query through C6 after a local persistence failure following a successful
// off-chain mutation, per §4.4. The query service itself is injected by the caller at wiring time; this package
// only knows the query.Service shape it can call.
func (c *Controller) reconcile(appSessionID string) {
	if c.reconciler == nil {
		return
	}

	if _, err := c.reconciler.GetAppSession(context.Background(), appSessionID); err != nil {
		log.Printf("[appsession] reconciliation query for %s failed: %v", appSessionID, err)
	}
}

// Reconciler is the minimal C6 capability used for desync recovery. It is set separately from the constructor
// because the query service depends on the same transport the controller does and is typically wired after both
// are constructed.
type Reconciler interface {
	GetAppSession(ctx context.Context, id string) (query.AppSessionView, error)
}

// SetReconciler installs the query-service reconciliation hook used after a local persistence desync.
func (c *Controller) SetReconciler(r Reconciler) { c.reconciler = r }
