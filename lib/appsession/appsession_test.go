package appsession

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	"github.com/tarancss/core/lib/store"
)

type fakeSender struct {
	responses map[string]json.RawMessage
	err       error
}

func (f *fakeSender) Send(_ context.Context, method string, _ interface{}) (json.RawMessage, error) {
	if f.err != nil {
		return nil, f.err
	}

	return f.responses[method], nil
}

type memDB struct {
	participants map[string][]store.Participant
	sessions     map[string]store.AppSessionRecord
}

func newMemDB() *memDB {
	return &memDB{participants: map[string][]store.Participant{}, sessions: map[string]store.AppSessionRecord{}}
}

func (m *memDB) GetSeed(context.Context, string) (store.Seed, error) { return store.Seed{}, nil }
func (m *memDB) PutSeed(context.Context, store.Seed) error           { return nil }

func (m *memDB) UpsertParticipant(_ context.Context, p store.Participant) error {
	list := m.participants[p.AppSessionID]

	for i, existing := range list {
		if existing.Address == p.Address && existing.Asset == p.Asset {
			list[i] = p

			return nil
		}
	}

	m.participants[p.AppSessionID] = append(list, p)

	return nil
}

func (m *memDB) ListParticipants(_ context.Context, appSessionID string) ([]store.Participant, error) {
	return m.participants[appSessionID], nil
}

func (m *memDB) SaveAppSession(_ context.Context, rec store.AppSessionRecord) error {
	m.sessions[rec.AppSessionID] = rec

	return nil
}

func (m *memDB) GetAppSession(_ context.Context, appSessionID string) (store.AppSessionRecord, error) {
	rec, ok := m.sessions[appSessionID]
	if !ok {
		return store.AppSessionRecord{}, store.ErrDataNotFound
	}

	return rec, nil
}

func (m *memDB) SaveChannel(context.Context, store.ChannelRecord) error { return nil }
func (m *memDB) GetChannel(context.Context, string, uint64) (store.ChannelRecord, error) {
	return store.ChannelRecord{}, store.ErrDataNotFound
}
func (m *memDB) Close(context.Context) error { return nil }

func TestCreatePersistsParticipantsAndSession(t *testing.T) {
	resp, _ := json.Marshal(createAppSessionResp{AppSessionID: "s1"})
	sender := &fakeSender{responses: map[string]json.RawMessage{"create_app_session": resp}}
	db := newMemDB()

	ctrl := New(sender, db)

	id, err := ctrl.Create(context.Background(), CreateParams{
		Participants:       []string{"0xA", "0xB"},
		Weights:            []uint32{1, 1},
		Quorum:             2,
		Asset:              "USDC",
		Chain:              "base",
		InitialAllocations: map[string]string{"0xA": "1000"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if id != "s1" {
		t.Fatalf("expected app session id s1, got %s", id)
	}

	parts, _ := db.ListParticipants(context.Background(), "s1")
	if len(parts) != 2 {
		t.Fatalf("expected 2 participant rows, got %d", len(parts))
	}

	rec, err := db.GetAppSession(context.Background(), "s1")
	if err != nil || rec.Status != store.SessionOpen {
		t.Errorf("expected open session record, got %+v, err=%v", rec, err)
	}
}

func TestTransferRejectsInsufficientBalance(t *testing.T) {
	db := newMemDB()
	_ = db.SaveAppSession(context.Background(), store.AppSessionRecord{AppSessionID: "s1", Status: store.SessionOpen})
	_ = db.UpsertParticipant(context.Background(), store.Participant{
		AppSessionID: "s1", Address: "0xA", Asset: "USDC", Balance: "10", Status: store.Joined,
	})

	ctrl := New(&fakeSender{}, db)

	err := ctrl.Transfer(context.Background(), TransferParams{
		AppSessionID: "s1", From: "0xA", To: "0xB", Amount: big.NewInt(100), Asset: "USDC",
	})
	if err == nil {
		t.Fatal("expected precondition error for insufficient balance")
	}
}

func TestTransferRejectsWhenSessionNotOpen(t *testing.T) {
	db := newMemDB()
	_ = db.SaveAppSession(context.Background(), store.AppSessionRecord{AppSessionID: "s1", Status: store.SessionClosed})

	ctrl := New(&fakeSender{}, db)

	err := ctrl.Transfer(context.Background(), TransferParams{
		AppSessionID: "s1", From: "0xA", To: "0xB", Amount: big.NewInt(1), Asset: "USDC",
	})
	if err == nil {
		t.Fatal("expected precondition error for a closed session")
	}
}

func TestTransferSucceedsAndPersistsAllocations(t *testing.T) {
	db := newMemDB()
	_ = db.SaveAppSession(context.Background(), store.AppSessionRecord{AppSessionID: "s1", Status: store.SessionOpen})
	_ = db.UpsertParticipant(context.Background(), store.Participant{
		AppSessionID: "s1", Address: "0xA", Asset: "USDC", Balance: "1000", Status: store.Joined,
	})

	resp, _ := json.Marshal(operateResp{Allocations: []allocationWire{
		{Participant: "0xA", Asset: "USDC", Amount: "900"},
		{Participant: "0xB", Asset: "USDC", Amount: "100"},
	}})
	sender := &fakeSender{responses: map[string]json.RawMessage{"operate_app_session": resp}}

	ctrl := New(sender, db)

	err := ctrl.Transfer(context.Background(), TransferParams{
		AppSessionID: "s1", From: "0xA", To: "0xB", Amount: big.NewInt(100), Asset: "USDC",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	parts, _ := db.ListParticipants(context.Background(), "s1")

	balances := map[string]string{}
	for _, p := range parts {
		balances[p.Address] = p.Balance
	}

	if balances["0xA"] != "900" || balances["0xB"] != "100" {
		t.Errorf("expected updated balances, got %+v", balances)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	db := newMemDB()
	closedAt := int64(123)
	_ = db.SaveAppSession(context.Background(), store.AppSessionRecord{
		AppSessionID: "s1", Status: store.SessionClosed, ClosedAt: &closedAt,
	})

	// every send fails, so Close returns an error if it sends close_app_session for an already-closed session
	sender := &fakeSender{err: errors.New("close_app_session must not be sent for a closed session")}

	ctrl := New(sender, db)

	if err := ctrl.Close(context.Background(), "s1"); err != nil {
		t.Fatalf("expected no-op close on an already-closed session, got %v", err)
	}
}
