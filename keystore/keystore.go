// The Licensed Work is (c) 2022 Sygma
// SPDX-License-Identifier: LGPL-3.0-only

package keystore

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/crypto"
)

type Scheme string

const (
	Secp256k1Scheme Scheme = "secp256k1"
	Ed25519Scheme   Scheme = "ed25519"
)

var (
	// ErrUnavailable means the signing capability could not be reached or
	// the key material for the requested scheme is not loaded. Retryable.
	ErrUnavailable = errors.New("keystore: signing key unavailable")
	// ErrDenied means the capability refused to sign the given message.
	ErrDenied = errors.New("keystore: signing denied")
)

// Signer is the injected signing capability. Key material and derivation
// stay behind this interface; the relay core only ever sees digests and
// signature bytes.
type Signer interface {
	Sign(scheme Scheme, digest []byte) ([]byte, error)
	Identity(scheme Scheme) ([]byte, error)
}

type keyFile struct {
	Secp256k1 string `json:"secp256k1"`
	Ed25519   string `json:"ed25519"`
}

// LocalKeystore holds hex-encoded keys loaded from a JSON file. Intended for
// single-node deployments; remote or hardware-backed capabilities implement
// the same Signer interface.
type LocalKeystore struct {
	ecdsaKey *ecdsa.PrivateKey
	edKey    ed25519.PrivateKey
}

func NewLocalKeystore(path string) (*LocalKeystore, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading keystore file: %w", err)
	}
	var kf keyFile
	if err := json.Unmarshal(raw, &kf); err != nil {
		return nil, fmt.Errorf("parsing keystore file: %w", err)
	}

	ks := &LocalKeystore{}
	if kf.Secp256k1 != "" {
		key, err := crypto.HexToECDSA(kf.Secp256k1)
		if err != nil {
			return nil, fmt.Errorf("parsing secp256k1 key: %w", err)
		}
		ks.ecdsaKey = key
	}
	if kf.Ed25519 != "" {
		seed, err := hex.DecodeString(kf.Ed25519)
		if err != nil {
			return nil, fmt.Errorf("parsing ed25519 seed: %w", err)
		}
		if len(seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("ed25519 seed must be %d bytes", ed25519.SeedSize)
		}
		ks.edKey = ed25519.NewKeyFromSeed(seed)
	}
	return ks, nil
}

func (k *LocalKeystore) Sign(scheme Scheme, digest []byte) ([]byte, error) {
	switch scheme {
	case Secp256k1Scheme:
		if k.ecdsaKey == nil {
			return nil, ErrUnavailable
		}
		if len(digest) != 32 {
			return nil, fmt.Errorf("%w: secp256k1 requires a 32 byte digest", ErrDenied)
		}
		return crypto.Sign(digest, k.ecdsaKey)
	case Ed25519Scheme:
		if k.edKey == nil {
			return nil, ErrUnavailable
		}
		return ed25519.Sign(k.edKey, digest), nil
	default:
		return nil, fmt.Errorf("%w: unknown scheme %s", ErrDenied, scheme)
	}
}

func (k *LocalKeystore) Identity(scheme Scheme) ([]byte, error) {
	switch scheme {
	case Secp256k1Scheme:
		if k.ecdsaKey == nil {
			return nil, ErrUnavailable
		}
		return crypto.FromECDSAPub(&k.ecdsaKey.PublicKey), nil
	case Ed25519Scheme:
		if k.edKey == nil {
			return nil, ErrUnavailable
		}
		return k.edKey.Public().(ed25519.PublicKey), nil
	default:
		return nil, fmt.Errorf("%w: unknown scheme %s", ErrDenied, scheme)
	}
}
