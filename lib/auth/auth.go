// Package auth implements the session-key authentication layer (component C3): an ephemeral key pair generated on
// first connect, a challenge/response handshake on every CONNECTED transition, and per-request signing over the
// canonical encoding of a request's "req" array.
//
// The cryptographic primitives themselves (key generation, ECDSA/EIP-712 signing) are assumed available and
// injected as a KeyPair, per the core's stated scope: they are not implemented here.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/tarancss/core/lib/errs"
)

// KeyPair is the injected capability to produce an ephemeral session key and sign with it. Generation and signing
// are assumed-available cryptographic primitives (§1 non-goals); this interface is the seam.
type KeyPair interface {
	// PublicKey returns the hex-encoded session public key.
	PublicKey() string
	// Sign returns a detached hex signature over msg.
	Sign(msg []byte) (string, error)
}

// Sender is the minimal transport capability auth needs to run its handshake: sending an unsigned RPC request.
type Sender interface {
	SendUnsigned(ctx context.Context, method string, params interface{}) (json.RawMessage, error)
}

// Identity carries the caller's identity claims sent in auth_request.
type Identity struct {
	UserID string `json:"userId"`
}

// Auth implements session-key authentication. authenticated is a single atomic word per §5; expiresAt is only
// written immediately before authenticated is set and only read after authenticated is observed set, so no
// additional synchronization is required between the two.
type Auth struct {
	key      KeyPair
	identity Identity

	authenticated int32 // atomic bool
	expiresAt     atomic.Int64
}

// New returns an Auth module wrapping the given ephemeral session key pair.
func New(key KeyPair, identity Identity) *Auth {
	return &Auth{key: key, identity: identity}
}

// Authenticated reports whether the handshake has completed and not yet expired.
func (a *Auth) Authenticated() bool {
	if atomic.LoadInt32(&a.authenticated) == 0 {
		return false
	}

	return time.Now().UnixMilli() < a.expiresAt.Load()
}

// authRequest is sent to start the handshake.
type authRequest struct {
	SessionKey string `json:"sessionKey"`
	UserID     string `json:"userId"`
}

type challengeResp struct {
	Challenge string `json:"challenge"`
}

type authVerifyResp struct {
	Authenticated bool  `json:"authenticated"`
	ExpiresAt     int64 `json:"expiresAt"`
}

// Handshake performs auth_request -> challenge -> auth_verify -> authenticated against sender, resetting any prior
// authentication state first. Wire it as the transport's OnConnect hook so it runs before the offline queue is
// flushed (§4.2, §9): on failure, the caller is expected to close the connection with a code that triggers normal
// reconnection.
func (a *Auth) Handshake(ctx context.Context, sender Sender) error {
	atomic.StoreInt32(&a.authenticated, 0)
	a.expiresAt.Store(0)

	raw, err := sender.SendUnsigned(ctx, "auth_request",
		authRequest{SessionKey: a.key.PublicKey(), UserID: a.identity.UserID})
	if err != nil {
		return errs.NewUnauthenticated("auth.handshake", fmt.Errorf("auth_request failed: %w", err))
	}

	var chal challengeResp
	if err = json.Unmarshal(raw, &chal); err != nil {
		return errs.NewUnauthenticated("auth.handshake", fmt.Errorf("malformed challenge: %w", err))
	}

	sig, err := a.key.Sign([]byte(chal.Challenge))
	if err != nil {
		return errs.NewUnauthenticated("auth.handshake", fmt.Errorf("could not sign challenge: %w", err))
	}

	raw, err = sender.SendUnsigned(ctx, "auth_verify", map[string]string{"signature": sig})
	if err != nil {
		return errs.NewUnauthenticated("auth.handshake", fmt.Errorf("auth_verify failed: %w", err))
	}

	var verify authVerifyResp
	if err = json.Unmarshal(raw, &verify); err != nil {
		return errs.NewUnauthenticated("auth.handshake", fmt.Errorf("malformed auth_verify reply: %w", err))
	}

	if !verify.Authenticated {
		return errs.NewUnauthenticated("auth.handshake", fmt.Errorf("server refused session handshake"))
	}

	a.expiresAt.Store(verify.ExpiresAt)
	atomic.StoreInt32(&a.authenticated, 1)

	return nil
}

// publicMethods never require a signature (§4.2).
var publicMethods = map[string]bool{
	"ping":                true,
	"get_app_definition": true,
}

// IsPublic reports whether method should bypass signing.
func IsPublic(method string) bool { return publicMethods[method] }

// Sign implements transport.Signer: it appends a detached signature over the canonical JSON encoding of the "req"
// array using the session key.
func (a *Auth) Sign(reqArray []interface{}) ([]string, error) {
	canonical, err := json.Marshal(reqArray)
	if err != nil {
		return nil, errs.NewInternal("auth.sign", err)
	}

	sig, err := a.key.Sign(canonical)
	if err != nil {
		return nil, errs.NewUnauthenticated("auth.sign", err)
	}

	return []string{sig}, nil
}
