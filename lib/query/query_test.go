package query

import (
	"context"
	"encoding/json"
	"testing"
)

type fakeSender struct {
	signed   map[string]json.RawMessage
	unsigned map[string]json.RawMessage
	err      error
}

func (f *fakeSender) Send(_ context.Context, method string, _ interface{}) (json.RawMessage, error) {
	if f.err != nil {
		return nil, f.err
	}

	return f.signed[method], nil
}

func (f *fakeSender) SendUnsigned(_ context.Context, method string, _ interface{}) (json.RawMessage, error) {
	if f.err != nil {
		return nil, f.err
	}

	return f.unsigned[method], nil
}

func TestGetAppSessionMergesDefinition(t *testing.T) {
	sessions, _ := json.Marshal(map[string]interface{}{
		"sessions": []AppSessionSummary{{AppSessionID: "s1", Status: "open", Asset: "USDC", Version: 2}},
	})
	def, _ := json.Marshal(AppDefinition{
		AppSessionID: "s1",
		Participants: []string{"0xA", "0xB"},
		Weights:      []uint32{1, 1},
		Quorum:       2,
	})

	sender := &fakeSender{
		signed:   map[string]json.RawMessage{"get_app_sessions": sessions},
		unsigned: map[string]json.RawMessage{"get_app_definition": def},
	}

	svc := New(sender)

	view, err := svc.GetAppSession(context.Background(), "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if view.Status != "open" || len(view.Definition.Participants) != 2 {
		t.Errorf("expected merged view, got %+v", view)
	}
}

func TestGetAppSessionNotFound(t *testing.T) {
	sessions, _ := json.Marshal(map[string]interface{}{"sessions": []AppSessionSummary{}})
	sender := &fakeSender{signed: map[string]json.RawMessage{"get_app_sessions": sessions}}

	svc := New(sender)

	if _, err := svc.GetAppSession(context.Background(), "missing"); err == nil {
		t.Fatal("expected not-found error for a session absent from getAppSessions")
	}
}

func TestPingDefaultsOnNullResponse(t *testing.T) {
	sender := &fakeSender{unsigned: map[string]json.RawMessage{"ping": json.RawMessage("null")}}

	svc := New(sender)

	pong, err := svc.Ping(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if pong.Pong != "pong" || pong.Timestamp == 0 {
		t.Errorf("expected defaulted pong, got %+v", pong)
	}
}

func TestPingDefaultsOnMissingResponse(t *testing.T) {
	sender := &fakeSender{unsigned: map[string]json.RawMessage{}}

	svc := New(sender)

	pong, err := svc.Ping(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if pong.Pong != "pong" {
		t.Errorf("expected defaulted pong, got %+v", pong)
	}
}

func TestGetLedgerTransactionsDefaultsPageSize(t *testing.T) {
	var captured map[string]interface{}

	sender := &recordingSender{onSend: func(method string, params interface{}) json.RawMessage {
		captured, _ = params.(map[string]interface{})

		b, _ := json.Marshal(map[string]interface{}{"transactions": []Transaction{}})

		return b
	}}

	svc := New(sender)

	if _, err := svc.GetLedgerTransactions(context.Background(), TransactionsFilter{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	page, ok := captured["page"].(Page)
	if !ok || page.Size != 50 {
		t.Errorf("expected default page size 50, got %+v", captured["page"])
	}
}

type recordingSender struct {
	onSend func(method string, params interface{}) json.RawMessage
}

func (r *recordingSender) Send(_ context.Context, method string, params interface{}) (json.RawMessage, error) {
	return r.onSend(method, params), nil
}

func (r *recordingSender) SendUnsigned(_ context.Context, method string, params interface{}) (json.RawMessage, error) {
	return r.onSend(method, params), nil
}
