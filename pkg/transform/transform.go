// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package transform defines the per-epoch record protection contract of
// the record layer, together with AEAD implementations of it.
package transform

import (
	"errors"
	"fmt"
	"io"

	"github.com/pion/mps/pkg/protocol"
)

// ErrAuthFailed is wrapped by decryption failures caused by a bad
// authentication tag, as opposed to structural errors. The record layer
// inspects it to drive the datagram bad-MAC accounting.
var ErrAuthFailed = errors.New("record authentication failed")

// Payload frames the record body inside its parent buffer. Buf is the
// full region between the record header and the end of the space
// obtained from the transport; Buf[DataOffset:DataOffset+DataLen] is the
// payload proper. Transforms grow the payload in place: pre-expansion consumes
// space before DataOffset, post-expansion space after the data.
type Payload struct {
	Buf        []byte
	DataOffset int
	DataLen    int
}

// Data returns the payload sub-slice.
func (p *Payload) Data() []byte {
	return p.Buf[p.DataOffset : p.DataOffset+p.DataLen]
}

// Record is the unit a transform protects or unprotects: the header
// fields that feed the additional data, plus the payload buffers.
type Record struct {
	Type    protocol.ContentType
	Version protocol.Version
	Epoch   uint16
	Seq     uint64 // uint48 record sequence number

	Payload Payload
}

// Transform protects and unprotects records under one epoch's keying
// material. A nil Transform denotes identity protection (no-op).
//
// Ownership of a Transform moves to the record layer when the epoch is
// added; the caller must not use it afterwards. Close releases the
// keying material and is called when the epoch window slides past the
// epoch or the layer is closed.
type Transform interface {
	// Encrypt protects rec in place. On return the payload must start
	// at DataOffset 0 with DataLen covering the full ciphertext. rng
	// provides randomness for explicit nonces.
	Encrypt(rec *Record, rng io.Reader) error
	// Decrypt unprotects rec in place, shrinking the payload to the
	// plaintext. Authentication failures wrap ErrAuthFailed.
	Decrypt(rec *Record) error
	// Expansion returns the maximum number of bytes the transform adds
	// in front of and after the plaintext.
	Expansion() (pre, post int)
	Close() error
}

// Encrypt applies t to rec, treating nil as the identity transform.
func Encrypt(t Transform, rec *Record, rng io.Reader) error {
	if t == nil {
		return identity(rec)
	}

	return t.Encrypt(rec, rng)
}

// Decrypt applies t to rec, treating nil as the identity transform.
func Decrypt(t Transform, rec *Record) error {
	if t == nil {
		return nil
	}

	return t.Decrypt(rec)
}

// Expansion returns the expansion of t, treating nil as the identity
// transform.
func Expansion(t Transform) (pre, post int) {
	if t == nil {
		return 0, 0
	}

	return t.Expansion()
}

// Close closes t if it is non-nil.
func Close(t Transform) error {
	if t == nil {
		return nil
	}

	return t.Close()
}

// identity moves the payload to offset zero so the dispatch path can
// treat protected and unprotected records uniformly.
func identity(rec *Record) error {
	p := &rec.Payload
	if p.DataOffset != 0 {
		copy(p.Buf, p.Data())
		p.DataOffset = 0
	}

	return nil
}

// additionalData builds the 13-byte MAC input shared by the (D)TLS 1.2
// AEAD constructions: epoch+sequence, type, version and plaintext
// length.
func additionalData(rec *Record, plainLen int) []byte {
	var ad [13]byte
	ad[0] = byte(rec.Epoch >> 8)
	ad[1] = byte(rec.Epoch)
	for i := 0; i < 6; i++ {
		ad[2+i] = byte(rec.Seq >> uint(40-8*i))
	}
	ad[8] = byte(rec.Type)
	ad[9] = rec.Version.Major
	ad[10] = rec.Version.Minor
	ad[11] = byte(plainLen >> 8)
	ad[12] = byte(plainLen)

	return ad[:]
}

func authError(err error) error {
	return fmt.Errorf("%w: %v", ErrAuthFailed, err) //nolint:errorlint
}
