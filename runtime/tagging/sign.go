// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tagging

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// SignatureShift is the position of the signature in a signed pointer
	SignatureShift = 48
	// SignatureMask selects the signature bits of a pointer. The bits are unused by addresses and by tags.
	SignatureMask uint64 = 0x00FF000000000000

	// KeyCode is the key used for code pointers
	KeyCode = 0
	// KeyData is the key used for data pointers
	KeyData = 1
)

// ErrAuthFailed is returned when the signature of a pointer does not match its value
var ErrAuthFailed = errors.New("pointer authentication failed")

// Signer signs and authenticates pointers with a keyed MAC stored in the signature bits
type Signer struct {
	secret []byte
}

// NewSigner returns a signer using secret
func NewSigner(secret []byte) (*Signer, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("empty signing secret")
	}
	return &Signer{secret: append([]byte(nil), secret...)}, nil
}

func (s *Signer) mac(p uint64, key int) uint64 {
	var msg [9]byte
	binary.LittleEndian.PutUint64(msg[:8], p&^SignatureMask)
	msg[8] = byte(key)
	h := hmac.New(sha256.New, s.secret)
	h.Write(msg[:])
	return uint64(h.Sum(nil)[0]) << SignatureShift
}

// Sign returns p carrying the signature of its value for key. Signing a signed pointer replaces its signature.
func (s *Signer) Sign(p uint64, key int) uint64 {
	return p&^SignatureMask | s.mac(p, key)
}

// Auth checks the signature of p for key and returns p without its signature
func (s *Signer) Auth(p uint64, key int) (uint64, error) {
	stripped := p &^ SignatureMask
	if p&SignatureMask != s.mac(p, key) {
		return stripped, fmt.Errorf("%#x with key %d: %w", p, key, ErrAuthFailed)
	}
	return stripped, nil
}
