// Copyright (C) 2025 agentmesh
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package identity

import (
	"crypto/rand"
	"time"

	"github.com/cloudflare/circl/sign/mldsa/mldsa65"

	"github.com/agentmesh/fabric/internal/metrics"
)

// signingContext is the FIPS 204 domain-separation context string used
// for every signature this package produces. A fixed, non-empty context
// keeps agentmesh signatures from verifying under an unrelated ML-DSA-65
// deployment that happens to reuse a key.
const signingContext = "agentmesh/v1"

// Keypair is a post-quantum (ML-DSA-65) signing keypair. The zero value
// is not usable; construct with GenerateKeypair or KeypairFromBytes.
//
// Secret key material is held only in priv and is zeroed by Close. Keypair
// deliberately has no String/GoString override that would print it -
// the default %v on the unexported priv field already prints nothing
// useful, and fmt never gets pointed at priv directly.
type Keypair struct {
	pub  *mldsa65.PublicKey
	priv *mldsa65.PrivateKey
}

// GenerateKeypair creates a new random ML-DSA-65 keypair.
func GenerateKeypair() (*Keypair, error) {
	pub, priv, err := mldsa65.GenerateKey(rand.Reader)
	if err != nil {
		return nil, ErrKeyGeneration
	}
	return &Keypair{pub: pub, priv: priv}, nil
}

// PublicKeyBytes returns the packed public key.
func (k *Keypair) PublicKeyBytes() []byte {
	b := make([]byte, mldsa65.PublicKeySize)
	k.pub.Pack((*[mldsa65.PublicKeySize]byte)(b))
	return b
}

// PrivateKeyBytes returns the packed private key. Callers must not retain
// or log the result beyond what's needed to persist it.
func (k *Keypair) PrivateKeyBytes() []byte {
	b := make([]byte, mldsa65.PrivateKeySize)
	k.priv.Pack((*[mldsa65.PrivateKeySize]byte)(b))
	return b
}

// KeypairFromBytes reconstructs a Keypair from packed public/private key
// bytes, as loaded from storage. Returns ErrInvalidKey on malformed or
// mismatched material.
func KeypairFromBytes(pubBytes, privBytes []byte) (*Keypair, error) {
	if len(pubBytes) != mldsa65.PublicKeySize || len(privBytes) != mldsa65.PrivateKeySize {
		return nil, ErrInvalidKey
	}
	var pub mldsa65.PublicKey
	var priv mldsa65.PrivateKey
	if err := pub.Unpack((*[mldsa65.PublicKeySize]byte)(pubBytes)); err != nil {
		return nil, ErrInvalidKey
	}
	if err := priv.Unpack((*[mldsa65.PrivateKeySize]byte)(privBytes)); err != nil {
		return nil, ErrInvalidKey
	}
	if !pub.Equal(priv.Public()) {
		return nil, ErrInvalidKey
	}
	return &Keypair{pub: &pub, priv: &priv}, nil
}

// Sign signs message, returning the ML-DSA-65 signature.
func (k *Keypair) Sign(message []byte) []byte {
	start := time.Now()
	sig := make([]byte, mldsa65.SignatureSize)
	mldsa65.SignTo(k.priv, message, signingContext, false, sig)
	d := time.Since(start)

	metrics.CryptoOperations.WithLabelValues("sign", "mldsa65").Inc()
	metrics.CryptoOperationDuration.WithLabelValues("sign", "mldsa65").Observe(d.Seconds())
	metrics.GlobalActivity.RecordSign(d)
	return sig
}

// Verify checks signature over message against pub. Returns
// ErrSignatureInvalid on mismatch.
func Verify(pub *mldsa65.PublicKey, message, signature []byte) error {
	start := time.Now()
	ok := mldsa65.Verify(pub, message, signingContext, signature)
	d := time.Since(start)

	metrics.CryptoOperations.WithLabelValues("verify", "mldsa65").Inc()
	metrics.CryptoOperationDuration.WithLabelValues("verify", "mldsa65").Observe(d.Seconds())
	metrics.GlobalActivity.RecordVerify(ok, d)
	if !ok {
		metrics.CryptoErrors.WithLabelValues("verify").Inc()
		return ErrSignatureInvalid
	}
	return nil
}

// VerifyBytes checks signature over message against a packed public key.
func VerifyBytes(pubBytes, message, signature []byte) error {
	if len(pubBytes) != mldsa65.PublicKeySize {
		metrics.CryptoErrors.WithLabelValues("verify").Inc()
		return ErrInvalidKey
	}
	var pub mldsa65.PublicKey
	if err := pub.Unpack((*[mldsa65.PublicKeySize]byte)(pubBytes)); err != nil {
		metrics.CryptoErrors.WithLabelValues("verify").Inc()
		return ErrInvalidKey
	}
	return Verify(&pub, message, signature)
}

// PublicKey exposes the underlying circl public key, e.g. for Verify.
func (k *Keypair) PublicKey() *mldsa65.PublicKey { return k.pub }

// Close overwrites the private key with its zero value and drops the
// reference to it. The keypair must not be used afterwards.
func (k *Keypair) Close() {
	if k.priv != nil {
		*k.priv = mldsa65.PrivateKey{}
		k.priv = nil
	}
}
