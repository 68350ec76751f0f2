// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package transform

import (
	"crypto/cipher"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// ChaCha20Poly1305 protects records with the RFC 7905 construction: no
// explicit nonce on the wire, the 12-byte nonce is the write IV XORed
// with the padded record number (epoch and sequence for datagrams).
type ChaCha20Poly1305 struct {
	local, remote               cipher.AEAD
	localWriteIV, remoteWriteIV []byte
}

// NewChaCha20Poly1305 creates a ChaCha20-Poly1305 transform. The local
// key and IV protect outgoing records, the remote pair unprotects
// incoming ones.
func NewChaCha20Poly1305(localKey, localWriteIV, remoteKey, remoteWriteIV []byte) (*ChaCha20Poly1305, error) {
	local, err := chacha20poly1305.New(localKey)
	if err != nil {
		return nil, err
	}
	remote, err := chacha20poly1305.New(remoteKey)
	if err != nil {
		return nil, err
	}

	return &ChaCha20Poly1305{
		local:         local,
		localWriteIV:  localWriteIV,
		remote:        remote,
		remoteWriteIV: remoteWriteIV,
	}, nil
}

// Expansion implements Transform.
func (c *ChaCha20Poly1305) Expansion() (pre, post int) {
	return 0, chacha20poly1305.Overhead
}

func (c *ChaCha20Poly1305) nonce(iv []byte, rec *Record) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSize)
	nonce[4] = byte(rec.Epoch >> 8)
	nonce[5] = byte(rec.Epoch)
	for i := 0; i < 6; i++ {
		nonce[6+i] = byte(rec.Seq >> uint(40-8*i))
	}
	for i := range nonce {
		nonce[i] ^= iv[i]
	}

	return nonce
}

// Encrypt implements Transform.
func (c *ChaCha20Poly1305) Encrypt(rec *Record, _ io.Reader) error {
	p := &rec.Payload
	plain := p.Data()

	ad := additionalData(rec, len(plain))
	c.local.Seal(plain[:0], c.nonce(c.localWriteIV, rec), plain, ad)
	p.DataLen += chacha20poly1305.Overhead

	if p.DataOffset != 0 {
		copy(p.Buf, p.Data())
		p.DataOffset = 0
	}

	return nil
}

// Decrypt implements Transform.
func (c *ChaCha20Poly1305) Decrypt(rec *Record) error {
	p := &rec.Payload
	if p.DataLen < chacha20poly1305.Overhead {
		return errRecordTooShort
	}

	ciphertext := p.Data()
	ad := additionalData(rec, len(ciphertext)-chacha20poly1305.Overhead)
	if _, err := c.remote.Open(ciphertext[:0], c.nonce(c.remoteWriteIV, rec), ciphertext, ad); err != nil {
		return authError(err)
	}
	p.DataLen -= chacha20poly1305.Overhead

	return nil
}

// Close implements Transform.
func (c *ChaCha20Poly1305) Close() error {
	c.local, c.remote = nil, nil

	return nil
}
