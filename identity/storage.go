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
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	"github.com/agentmesh/fabric/internal/atomicfile"
)

// keyEnvelope is the on-disk JWK-like representation of a Keypair.
type keyEnvelope struct {
	Kty   string `json:"kty"`
	Alg   string `json:"alg"`
	Layer string `json:"layer"`
	Pub   string `json:"pub"`
	Priv  string `json:"priv"`
}

const (
	layerMachine = "machine"
	layerAgent   = "agent"
	layerUser    = "user"
)

// SaveKeypair writes keypair to path as a JWK-like JSON envelope using
// atomic replacement (write-temp, fsync, rename), matching the
// write-temp-fsync-rename idiom used throughout this codebase's
// persistence layers.
func SaveKeypair(path, layer string, kp *Keypair) error {
	env := keyEnvelope{
		Kty:   "AgentMesh",
		Alg:   "ML-DSA-65",
		Layer: layer,
		Pub:   base64.StdEncoding.EncodeToString(kp.PublicKeyBytes()),
		Priv:  base64.StdEncoding.EncodeToString(kp.PrivateKeyBytes()),
	}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal envelope: %v", ErrStorage, err)
	}
	return atomicfile.Write(path, data, 0600)
}

// LoadKeypair reads a JWK-like envelope previously written by
// SaveKeypair. Fails with ErrStorage on I/O error, ErrInvalidKey on
// malformed or mismatched key material.
func LoadKeypair(path string) (kp *Keypair, layer string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrStorage, err)
	}
	var env keyEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, "", ErrInvalidKey
	}
	if env.Kty != "AgentMesh" || env.Alg != "ML-DSA-65" {
		return nil, "", ErrInvalidKey
	}
	pubBytes, err := base64.StdEncoding.DecodeString(env.Pub)
	if err != nil {
		return nil, "", ErrInvalidKey
	}
	privBytes, err := base64.StdEncoding.DecodeString(env.Priv)
	if err != nil {
		return nil, "", ErrInvalidKey
	}
	kp, err = KeypairFromBytes(pubBytes, privBytes)
	if err != nil {
		return nil, "", err
	}
	return kp, env.Layer, nil
}
