package identity

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/ssh"
)

// KeySet manages active signing keys and verification of past keys,
// supporting rotation without downtime. Component D (Token Signer/Verifier).
type KeySet interface {
	// Sign creates a signed token with the current active key.
	Sign(ctx context.Context, claims jwt.Claims) (string, error)
	// KeyFunc returns the key for verification based on the token header.
	KeyFunc() jwt.Keyfunc
	// JWKS returns the public verification key set for publication at
	// /.well-known/jwks.json.
	JWKS() JWKSDocument
}

// JWK is a single RFC 7517 JSON Web Key (RSA public key fields only).
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKSDocument is the RFC 7517 key set envelope.
type JWKSDocument struct {
	Keys []JWK `json:"keys"`
}

// InMemoryKeySet holds RSA-2048 keys in memory, generating a fresh pair at
// startup when none is configured. Per §4.D, the signing algorithm is
// asymmetric (RSA-2048 by default); this is the process-wide default.
type InMemoryKeySet struct {
	mu         sync.RWMutex
	currentKID string
	keys       map[string]*rsa.PrivateKey
	generated  bool // true if this key was generated (not configured) — for the startup warning
}

// NewGeneratedKeySet creates a key set with a freshly generated RSA-2048
// key pair and emits the one-time operator warning required by §4.D: all
// tokens issued by this process are invalidated on restart.
func NewGeneratedKeySet() (*InMemoryKeySet, error) {
	ks := &InMemoryKeySet{keys: make(map[string]*rsa.PrivateKey), generated: true}
	if err := ks.rotateLocked(); err != nil {
		return nil, err
	}
	priv := ks.keys[ks.currentKID]
	block, err := ssh.MarshalPrivateKey(priv, "agentguard ephemeral key")
	if err != nil {
		return nil, fmt.Errorf("identity: marshal ephemeral key: %w", err)
	}
	pemBytes := pem.EncodeToMemory(block)
	slog.Warn("no jwt_private_key configured; generated an ephemeral RSA-2048 signing key for this process lifetime — all tokens will be invalidated on restart",
		"kid", ks.currentKID,
		"private_key_pem", string(pemBytes),
	)
	return ks, nil
}

// NewKeySetFromPEM loads a configured RSA private key. ssh.ParseRawPrivateKey
// accepts PKCS1, PKCS8, and OpenSSH-formatted PEM alike, so operators aren't
// tied to one key-generation tool's output format.
func NewKeySetFromPEM(pemData []byte, kid string) (*InMemoryKeySet, error) {
	raw, err := ssh.ParseRawPrivateKey(pemData)
	if err != nil {
		return nil, fmt.Errorf("identity: unable to parse jwt_private_key: %w", err)
	}
	priv, ok := raw.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("identity: configured key is not an RSA private key")
	}
	if kid == "" {
		kid = fmt.Sprintf("key-%d", time.Now().UnixNano())
	}
	return &InMemoryKeySet{
		keys:       map[string]*rsa.PrivateKey{kid: priv},
		currentKID: kid,
	}, nil
}

// Rotate generates a new RSA-2048 key and makes it the active signing key.
// Prior keys are retained (bounded) so in-flight tokens keep verifying.
func (ks *InMemoryKeySet) Rotate() error {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	return ks.rotateLocked()
}

func (ks *InMemoryKeySet) rotateLocked() error {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return fmt.Errorf("identity: rsa key generation failed: %w", err)
	}
	kid := fmt.Sprintf("key-%d", time.Now().UnixNano())
	ks.keys[kid] = priv
	ks.currentKID = kid

	const maxRetainedKeys = 5
	if len(ks.keys) > maxRetainedKeys {
		for k := range ks.keys {
			if k != kid {
				delete(ks.keys, k)
				break
			}
		}
	}
	return nil
}

func (ks *InMemoryKeySet) Sign(_ context.Context, claims jwt.Claims) (string, error) {
	ks.mu.RLock()
	key := ks.keys[ks.currentKID]
	kid := ks.currentKID
	ks.mu.RUnlock()

	if key == nil {
		return "", fmt.Errorf("identity: no active signing key")
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	return token.SignedString(key)
}

func (ks *InMemoryKeySet) KeyFunc() jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("identity: unexpected signing method %v", token.Header["alg"])
		}
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, fmt.Errorf("identity: missing kid in token header")
		}
		ks.mu.RLock()
		defer ks.mu.RUnlock()
		key, exists := ks.keys[kid]
		if !exists {
			return nil, fmt.Errorf("identity: unknown signing key %q", kid)
		}
		return &key.PublicKey, nil
	}
}

// JWKS publishes every retained public key so a rotation window doesn't
// invalidate tokens signed just before the rotation.
func (ks *InMemoryKeySet) JWKS() JWKSDocument {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	doc := JWKSDocument{Keys: make([]JWK, 0, len(ks.keys))}
	for kid, priv := range ks.keys {
		doc.Keys = append(doc.Keys, rsaToJWK(kid, &priv.PublicKey))
	}
	return doc
}

func rsaToJWK(kid string, pub *rsa.PublicKey) JWK {
	return JWK{
		Kty: "RSA",
		Use: "sig",
		Alg: "RS256",
		Kid: kid,
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big64(pub.E)),
	}
}

// big64 encodes a small int (the RSA public exponent) as big-endian bytes
// with no leading zero, matching the JWK "e" convention.
func big64(e int) []byte {
	if e == 0 {
		return []byte{0}
	}
	var b []byte
	for e > 0 {
		b = append([]byte{byte(e & 0xff)}, b...)
		e >>= 8
	}
	return b
}
