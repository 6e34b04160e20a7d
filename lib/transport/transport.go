// Package transport implements the duplex RPC transport to the clearing node (component C2): a single persistent
// connection with automatic reconnection, request/response correlation, offline queueing, notification dispatch,
// and a small TTL-free cache of the server-pushed asset catalogue.
//
// The reader loop does type dispatch and hands off to subscribers through a bounded channel so a slow handler never
// blocks the read loop, per the "callback-heavy RPC" design note.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tarancss/core/lib/errs"
)

// ConnState enumerates the connection state machine of §4.1.
type ConnState int32

// Connection states.
const (
	Disconnected ConnState = iota
	Connecting
	Connected
	Reconnecting
	Failed
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	case Reconnecting:
		return "RECONNECTING"
	case Failed:
		return "FAILED"
	default:
		return "DISCONNECTED"
	}
}

// Notification method names recognized by the reader loop, per §4.1.
const (
	NotifyBalanceUpdate = "bu"
	NotifyChannelUpdate = "cu"
	NotifyTransfer      = "tr"
	NotifyAppSession    = "asu"
	NotifyAssets        = "assets"
)

// CloseClean is the close code that does not trigger reconnection (§6).
const CloseClean = websocket.CloseNormalClosure // 1000

// Config is the exhaustive set of transport options from §4.1.
type Config struct {
	URL                     string
	MaxReconnectAttempts    int
	InitialReconnectDelayMs int
	MaxReconnectDelayMs     int
	RequestTimeoutMs        int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig(url string) Config {
	return Config{
		URL:                     url,
		MaxReconnectAttempts:    5,
		InitialReconnectDelayMs: 1000,
		MaxReconnectDelayMs:     30000,
		RequestTimeoutMs:        30000,
	}
}

// reqEnvelope is the wire request envelope: { req: [id, method, params, ts], sig: [...] }.
type reqEnvelope struct {
	Req []interface{} `json:"req"`
	Sig []string      `json:"sig"`
}

// respEnvelope is the wire response/notification envelope.
type respEnvelope struct {
	Res   []json.RawMessage `json:"res"`
	Sig   []string          `json:"sig"`
	Error *rpcError         `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Notification is delivered to subscribers of a notification method.
type Notification struct {
	Method  string
	Payload json.RawMessage
}

// Signer signs the canonical encoding of a request's "req" array. Session auth (C3) implements this; methods the
// caller marks unsigned bypass it entirely.
type Signer interface {
	Sign(reqArray []interface{}) ([]string, error)
}

type pending struct {
	resolve chan result
	timer   *time.Timer
}

type result struct {
	payload json.RawMessage
	err     error
}

// Transport maintains exactly one duplex connection to the configured clearing-node URL.
type Transport struct {
	cfg    Config
	signer Signer

	mu       sync.Mutex // guards conn, state, queue
	conn     *websocket.Conn
	state    ConnState
	queue    [][]byte // offline queue, FIFO
	writeMu  sync.Mutex

	nextID  uint64 // atomic
	pendMu  sync.Mutex
	pending map[uint64]*pending

	subMu sync.Mutex
	subs  map[string][]chan Notification

	assetsMu sync.RWMutex
	assets   json.RawMessage

	onConnect func(*Transport) error

	closeOnce sync.Once
	done      chan struct{}
}

// New returns a Transport not yet connected.
func New(cfg Config) *Transport {
	return &Transport{
		cfg:     cfg,
		pending: make(map[uint64]*pending),
		subs:    make(map[string][]chan Notification),
		done:    make(chan struct{}),
	}
}

// SetSigner installs the session-key signer. Calling Connect before SetSigner is fine; the signer is only consulted
// on Send.
func (t *Transport) SetSigner(s Signer) { t.signer = s }

// OnConnect registers the hook invoked synchronously right after the socket opens and before the offline queue is
// flushed, so session auth can complete its handshake first (§4.2, §9).
func (t *Transport) OnConnect(hook func(*Transport) error) { t.onConnect = hook }

// State returns the current connection state.
func (t *Transport) State() ConnState {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.state
}

// nextRequestID returns the next strictly monotonic id, starting at 1, unique for the lifetime of this Transport.
func (t *Transport) nextRequestID() uint64 {
	return atomic.AddUint64(&t.nextID, 1)
}

// Connect dials the clearing node and starts the single reader loop. A second Connect while already CONNECTED is a
// no-op (§8 boundary behavior).
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.state == Connected {
		t.mu.Unlock()

		return nil
	}

	t.state = Connecting
	t.mu.Unlock()

	return t.dial(ctx, 0)
}

func (t *Transport) dial(ctx context.Context, attempt int) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, t.cfg.URL, nil)
	if err != nil {
		return t.scheduleReconnect(attempt, err)
	}

	t.mu.Lock()
	t.conn = conn
	t.state = Connected
	t.mu.Unlock()

	// nextID is never reset: ids stay strictly monotonic and unique for the life of the process, not just the
	// current socket, so replies that straggle in around a reconnect can never collide with a fresh request.

	if t.onConnect != nil {
		if err = t.onConnect(t); err != nil {
			_ = conn.Close()

			return t.scheduleReconnect(attempt, err)
		}
	}

	go t.readLoop(conn)
	t.flushQueue()

	return nil
}

func (t *Transport) scheduleReconnect(attempt int, cause error) error {
	if attempt >= t.cfg.MaxReconnectAttempts {
		t.mu.Lock()
		t.state = Failed
		t.mu.Unlock()

		return errs.NewUnavailable("transport.connect", fmt.Errorf("exceeded max reconnect attempts: %w", cause))
	}

	t.mu.Lock()
	t.state = Reconnecting
	t.mu.Unlock()

	delay := t.cfg.InitialReconnectDelayMs << attempt //nolint:gosec // attempt is bounded by MaxReconnectAttempts
	if delay > t.cfg.MaxReconnectDelayMs || delay <= 0 {
		delay = t.cfg.MaxReconnectDelayMs
	}

	log.Printf("[transport] reconnecting in %dms (attempt %d): %v", delay, attempt+1, cause)

	select {
	case <-time.After(time.Duration(delay) * time.Millisecond):
	case <-t.done:
		return errs.NewUnavailable("transport.connect", fmt.Errorf("transport closed during reconnect"))
	}

	return t.dial(context.Background(), attempt+1)
}

// readLoop is the single dedicated reader task.
func (t *Transport) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			code := websocket.CloseNormalClosure
			if ce, ok := err.(*websocket.CloseError); ok {
				code = ce.Code
			}

			t.handleClose(code, err)

			return
		}

		var env respEnvelope
		if err = json.Unmarshal(data, &env); err != nil {
			log.Printf("[transport] parse error on inbound message, skipping: %v", err)

			continue
		}

		if env.Res == nil {
			continue
		}

		t.dispatch(env)
	}
}

func (t *Transport) dispatch(env respEnvelope) {
	if len(env.Res) < 3 {
		log.Printf("[transport] malformed res array, skipping")

		return
	}

	var id uint64
	if err := json.Unmarshal(env.Res[0], &id); err != nil {
		log.Printf("[transport] malformed res id, skipping")

		return
	}

	var method string
	_ = json.Unmarshal(env.Res[1], &method)

	payload := env.Res[2]

	t.pendMu.Lock()
	p, ok := t.pending[id]

	if ok {
		delete(t.pending, id)
	}
	t.pendMu.Unlock()

	if ok {
		p.timer.Stop()

		var err error
		if env.Error != nil {
			err = errs.NewInternal("transport.send", fmt.Errorf("rpc error %d: %s", env.Error.Code, env.Error.Message))
		}

		p.resolve <- result{payload: payload, err: err}

		return
	}

	// not correlated to any outstanding request: a notification.
	if method == NotifyAssets {
		t.assetsMu.Lock()
		t.assets = payload
		t.assetsMu.Unlock()
	}

	t.subMu.Lock()
	chans := append([]chan Notification(nil), t.subs[method]...)
	t.subMu.Unlock()

	if len(chans) == 0 {
		log.Printf("[transport] discarding unhandled notification method=%s", method)

		return
	}

	note := Notification{Method: method, Payload: payload}

	for _, ch := range chans {
		select {
		case ch <- note:
		default:
			log.Printf("[transport] subscriber channel full for method=%s, dropping", method)
		}
	}
}

func (t *Transport) handleClose(code int, cause error) {
	t.mu.Lock()
	t.conn = nil
	clean := code == CloseClean
	t.mu.Unlock()

	if clean {
		t.mu.Lock()
		t.state = Disconnected
		t.mu.Unlock()

		log.Printf("[transport] clean close, not reconnecting")

		return
	}

	log.Printf("[transport] non-clean close (code=%d): %v", code, cause)

	go func() {
		if err := t.scheduleReconnect(0, cause); err != nil {
			log.Printf("[transport] reconnect failed permanently: %v", err)
		}
	}()
}

// Subscribe registers a channel receiving notifications of the given method. The channel is bounded so a blocking
// handler cannot stall the reader loop; callers that may block must hand off work themselves.
func (t *Transport) Subscribe(method string) <-chan Notification {
	ch := make(chan Notification, 32)

	t.subMu.Lock()
	t.subs[method] = append(t.subs[method], ch)
	t.subMu.Unlock()

	return ch
}

// Assets returns the last full catalogue pushed via an "assets" notification, if any.
func (t *Transport) Assets() (json.RawMessage, bool) {
	t.assetsMu.RLock()
	defer t.assetsMu.RUnlock()

	return t.assets, t.assets != nil
}

// Send assigns the next request id, signs the request via the installed Signer, and writes or queues it. It blocks
// until the matching response arrives, the request timeout fires, or ctx is cancelled.
func (t *Transport) Send(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	return t.send(ctx, method, params, true)
}

// SendUnsigned bypasses the Signer for public methods such as "ping" and "get_app_definition" (§4.2).
func (t *Transport) SendUnsigned(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	return t.send(ctx, method, params, false)
}

func (t *Transport) send(ctx context.Context, method string, params interface{}, signed bool) (json.RawMessage, error) {
	id := t.nextRequestID()
	reqArr := []interface{}{id, method, params, time.Now().UnixMilli()}

	var sig []string

	if signed {
		if t.signer == nil {
			return nil, errs.NewUnauthenticated("transport.send", fmt.Errorf("no signer installed"))
		}

		var err error

		sig, err = t.signer.Sign(reqArr)
		if err != nil {
			return nil, errs.NewUnauthenticated("transport.send", err)
		}
	}

	data, err := json.Marshal(reqEnvelope{Req: reqArr, Sig: sig})
	if err != nil {
		return nil, errs.NewInternal("transport.send", err)
	}

	p := &pending{resolve: make(chan result, 1)}
	timeout := time.Duration(t.cfg.RequestTimeoutMs) * time.Millisecond
	p.timer = time.AfterFunc(timeout, func() { t.timeoutPending(id) })

	t.pendMu.Lock()
	t.pending[id] = p
	t.pendMu.Unlock()

	if err = t.writeOrQueue(data); err != nil {
		t.pendMu.Lock()
		delete(t.pending, id)
		t.pendMu.Unlock()
		p.timer.Stop()

		return nil, errs.NewUnavailable("transport.send", err)
	}

	select {
	case r := <-p.resolve:
		return r.payload, r.err
	case <-ctx.Done():
		t.pendMu.Lock()
		delete(t.pending, id)
		t.pendMu.Unlock()
		p.timer.Stop()

		return nil, errs.NewTimeout("transport.send", ctx.Err())
	}
}

func (t *Transport) timeoutPending(id uint64) {
	t.pendMu.Lock()
	p, ok := t.pending[id]

	if ok {
		delete(t.pending, id)
	}
	t.pendMu.Unlock()

	if ok {
		p.resolve <- result{err: errs.NewTimeout("transport.send", fmt.Errorf("request %d timed out", id))}
	}
}

// writeOrQueue serializes writes with a mutex since the underlying socket is not multi-writer safe. If the socket
// is not open, the message is appended to the offline queue in order.
func (t *Transport) writeOrQueue(data []byte) error {
	t.mu.Lock()
	conn := t.conn
	state := t.state
	t.mu.Unlock()

	if state == Failed {
		return fmt.Errorf("transport is not connected")
	}

	if conn == nil {
		t.mu.Lock()
		t.queue = append(t.queue, data)
		t.mu.Unlock()

		return nil
	}

	t.writeMu.Lock()
	err := conn.WriteMessage(websocket.TextMessage, data)
	t.writeMu.Unlock()

	return err
}

// flushQueue drains the offline queue in FIFO order on (re)connect. A failed write re-prepends the message and
// breaks the loop, per §4.1.
func (t *Transport) flushQueue() {
	for {
		t.mu.Lock()
		if len(t.queue) == 0 {
			t.mu.Unlock()

			return
		}

		msg := t.queue[0]
		conn := t.conn
		t.mu.Unlock()

		if conn == nil {
			return
		}

		t.writeMu.Lock()
		err := conn.WriteMessage(websocket.TextMessage, msg)
		t.writeMu.Unlock()

		t.mu.Lock()
		if err != nil {
			t.mu.Unlock()

			return
		}

		t.queue = t.queue[1:]
		t.mu.Unlock()
	}
}

// Close terminates the connection cleanly (code 1000) and stops any pending reconnect loop.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })

	t.mu.Lock()
	conn := t.conn
	t.state = Disconnected
	t.mu.Unlock()

	if conn == nil {
		return nil
	}

	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

	return conn.Close()
}
