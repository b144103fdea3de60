package verifier

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNoKey means the resolver knows no key for the issuer.
var ErrNoKey = errors.New("no key for issuer")

// KeyResolver finds the public key an issuer signs certificates with.
type KeyResolver interface {
	IssuerKey(ctx context.Context, issuer string) (crypto.PublicKey, error)
}

// ParsePublicKey decodes a base64url (padded or not) PKIX DER public key.
func ParsePublicKey(encoded string) (crypto.PublicKey, error) {
	der, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(encoded, "="))
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	return parseDER(der)
}

// EncodePublicKey is the inverse of ParsePublicKey.
func EncodePublicKey(pub crypto.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(der), nil
}

func parseDER(der []byte) (crypto.PublicKey, error) {
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	switch pub.(type) {
	case *rsa.PublicKey, *ecdsa.PublicKey, ed25519.PublicKey:
		return pub, nil
	default:
		return nil, fmt.Errorf("unsupported public key type %T", pub)
	}
}

// ParsePEM decodes the first PUBLIC KEY block in data.
func ParsePEM(data []byte) (crypto.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, errors.New("no PUBLIC KEY block")
	}
	return parseDER(block.Bytes)
}

// StaticKeys is a fixed issuer to key table.
type StaticKeys map[string]crypto.PublicKey

// LoadStaticKeys reads one PEM file per issuer.
func LoadStaticKeys(files map[string]string) (StaticKeys, error) {
	keys := StaticKeys{}
	for issuer, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("issuer %s: %w", issuer, err)
		}
		pub, err := ParsePEM(data)
		if err != nil {
			return nil, fmt.Errorf("issuer %s: %s: %w", issuer, path, err)
		}
		keys[strings.ToLower(issuer)] = pub
	}
	return keys, nil
}

func (k StaticKeys) IssuerKey(_ context.Context, issuer string) (crypto.PublicKey, error) {
	if pub, ok := k[strings.ToLower(issuer)]; ok {
		return pub, nil
	}
	return nil, ErrNoKey
}

// Chain asks each resolver in turn and returns the first key found.
type Chain []KeyResolver

func (c Chain) IssuerKey(ctx context.Context, issuer string) (crypto.PublicKey, error) {
	for _, r := range c {
		pub, err := r.IssuerKey(ctx, issuer)
		if errors.Is(err, ErrNoKey) {
			continue
		}
		return pub, err
	}
	return nil, ErrNoKey
}
