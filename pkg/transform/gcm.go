// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package transform

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"io"
)

const (
	gcmTagLength   = 16
	gcmNonceLength = 12

	// The explicit part of the GCM nonce travels in front of the
	// ciphertext, the implicit part comes from the write IV.
	gcmExplicitNonceLength = 8
	gcmImplicitNonceLength = 4
)

var errRecordTooShort = errors.New("record too short for transform")

// GCM protects records with AES-GCM in the (D)TLS 1.2 construction:
// 8-byte explicit nonce carried in front of the ciphertext, 16-byte tag
// behind it.
type GCM struct {
	local, remote               cipher.AEAD
	localWriteIV, remoteWriteIV []byte
}

// NewGCM creates a GCM transform. The local key and IV protect outgoing
// records, the remote pair unprotects incoming ones.
func NewGCM(localKey, localWriteIV, remoteKey, remoteWriteIV []byte) (*GCM, error) {
	localBlock, err := aes.NewCipher(localKey)
	if err != nil {
		return nil, err
	}
	local, err := cipher.NewGCM(localBlock)
	if err != nil {
		return nil, err
	}

	remoteBlock, err := aes.NewCipher(remoteKey)
	if err != nil {
		return nil, err
	}
	remote, err := cipher.NewGCM(remoteBlock)
	if err != nil {
		return nil, err
	}

	return &GCM{
		local:         local,
		localWriteIV:  localWriteIV,
		remote:        remote,
		remoteWriteIV: remoteWriteIV,
	}, nil
}

// Expansion implements Transform.
func (g *GCM) Expansion() (pre, post int) {
	return gcmExplicitNonceLength, gcmTagLength
}

// Encrypt implements Transform.
func (g *GCM) Encrypt(rec *Record, rng io.Reader) error {
	p := &rec.Payload
	if p.DataOffset < gcmExplicitNonceLength {
		return errRecordTooShort
	}

	nonce := make([]byte, 0, gcmNonceLength)
	nonce = append(nonce, g.localWriteIV[:gcmImplicitNonceLength]...)
	nonce = nonce[:gcmNonceLength]
	if _, err := io.ReadFull(rng, nonce[gcmImplicitNonceLength:]); err != nil {
		return err
	}

	plain := p.Data()
	ad := additionalData(rec, len(plain))
	g.local.Seal(plain[:0], nonce, plain, ad)

	// Prepend the explicit nonce so the record reads
	// explicit_nonce || ciphertext || tag.
	start := p.DataOffset - gcmExplicitNonceLength
	copy(p.Buf[start:], nonce[gcmImplicitNonceLength:])
	p.DataOffset = start
	p.DataLen += gcmExplicitNonceLength + gcmTagLength

	// Records are dispatched from offset zero.
	if p.DataOffset != 0 {
		copy(p.Buf, p.Data())
		p.DataOffset = 0
	}

	return nil
}

// Decrypt implements Transform.
func (g *GCM) Decrypt(rec *Record) error {
	p := &rec.Payload
	if p.DataLen < gcmExplicitNonceLength+gcmTagLength {
		return errRecordTooShort
	}

	data := p.Data()
	nonce := make([]byte, 0, gcmNonceLength)
	nonce = append(nonce, g.remoteWriteIV[:gcmImplicitNonceLength]...)
	nonce = append(nonce, data[:gcmExplicitNonceLength]...)

	ciphertext := data[gcmExplicitNonceLength:]
	ad := additionalData(rec, len(ciphertext)-gcmTagLength)
	if _, err := g.remote.Open(ciphertext[:0], nonce, ciphertext, ad); err != nil {
		return authError(err)
	}

	p.DataOffset += gcmExplicitNonceLength
	p.DataLen -= gcmExplicitNonceLength + gcmTagLength

	return nil
}

// Close implements Transform.
func (g *GCM) Close() error {
	g.local, g.remote = nil, nil

	return nil
}
