package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// testServer spins up a minimal echo-style clearing node: it replies to every request with {res:[id, method,
// {"ok":true}, ts]} and can be told to push a notification.
type testServer struct {
	upgrader websocket.Upgrader
	srv      *httptest.Server
	url      string
	push     chan []byte
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	ts := &testServer{push: make(chan []byte, 8)}
	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := ts.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		defer conn.Close()

		go func() {
			for msg := range ts.push {
				_ = conn.WriteMessage(websocket.TextMessage, msg)
			}
		}()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}

			var env reqEnvelope
			if err = json.Unmarshal(data, &env); err != nil {
				continue
			}

			id := env.Req[0]
			method := env.Req[1]

			payload, _ := json.Marshal(map[string]bool{"ok": true})
			idJSON, _ := json.Marshal(id)
			methodJSON, _ := json.Marshal(method)
			tsJSON, _ := json.Marshal(time.Now().UnixMilli())

			resp := map[string]interface{}{
				"res": []json.RawMessage{idJSON, methodJSON, payload, tsJSON},
			}
			out, _ := json.Marshal(resp)
			_ = conn.WriteMessage(websocket.TextMessage, out)
		}
	}))
	ts.url = "ws" + strings.TrimPrefix(ts.srv.URL, "http")

	return ts
}

func (ts *testServer) close() { ts.srv.Close() }

type noopSigner struct{}

func (noopSigner) Sign([]interface{}) ([]string, error) { return []string{"0xsig"}, nil }

func TestSendAssignsMonotonicIDs(t *testing.T) {
	ts := newTestServer(t)
	defer ts.close()

	tr := New(DefaultConfig(ts.url))
	tr.SetSigner(noopSigner{})

	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := tr.Send(context.Background(), "ping", nil); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	if tr.nextID != 3 {
		t.Errorf("expected nextID=3, got %d", tr.nextID)
	}
}

func TestSecondConnectWhileConnectedIsNoOp(t *testing.T) {
	ts := newTestServer(t)
	defer ts.close()

	tr := New(DefaultConfig(ts.url))
	tr.SetSigner(noopSigner{})

	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	first := tr.conn

	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("second connect: %v", err)
	}

	if tr.conn != first {
		t.Errorf("expected second Connect while CONNECTED to be a no-op")
	}
}

func TestNotificationDispatch(t *testing.T) {
	ts := newTestServer(t)
	defer ts.close()

	tr := New(DefaultConfig(ts.url))
	tr.SetSigner(noopSigner{})

	ch := tr.Subscribe(NotifyAssets)

	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	note := map[string]interface{}{
		"res": []interface{}{999999, NotifyAssets, map[string]string{"usdc": "6"}, time.Now().UnixMilli()},
	}
	out, _ := json.Marshal(note)
	ts.push <- out

	select {
	case n := <-ch:
		if n.Method != NotifyAssets {
			t.Errorf("expected method %s, got %s", NotifyAssets, n.Method)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
	}

	if _, ok := tr.Assets(); !ok {
		t.Error("expected asset catalogue cache to be populated")
	}
}

func TestSendTimeout(t *testing.T) {
	// server that never replies
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var up websocket.Upgrader

		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		defer conn.Close()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	cfg := DefaultConfig(url)
	cfg.RequestTimeoutMs = 50

	tr := New(cfg)
	tr.SetSigner(noopSigner{})

	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	_, err := tr.Send(context.Background(), "ping", nil)
	if err == nil {
		t.Fatal("expected timeout error")
	}
}
