package auth

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// ECDSASessionKey is the reference KeyPair: a fresh secp256k1 key generated once per process and used to sign the
// handshake challenge and every outgoing request, per §4.2's "ephemeral key pair generated on first connect".
type ECDSASessionKey struct {
	key *ecdsa.PrivateKey
}

// NewECDSASessionKey generates a fresh ephemeral session key.
func NewECDSASessionKey() (*ECDSASessionKey, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generating session key: %w", err)
	}

	return &ECDSASessionKey{key: key}, nil
}

// PublicKey implements KeyPair.
func (k *ECDSASessionKey) PublicKey() string {
	return hex.EncodeToString(crypto.FromECDSAPub(&k.key.PublicKey))
}

// Sign implements KeyPair over the Keccak256 digest of msg, the same digest/signature scheme the custody submitter
// relies on elsewhere in the core.
func (k *ECDSASessionKey) Sign(msg []byte) (string, error) {
	sig, err := crypto.Sign(crypto.Keccak256(msg), k.key)
	if err != nil {
		return "", fmt.Errorf("signing with session key: %w", err)
	}

	return hex.EncodeToString(sig), nil
}
