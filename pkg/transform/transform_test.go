// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package transform

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pion/mps/pkg/protocol"
)

func randomKeys(t *testing.T, keyLen int) (localKey, localIV, remoteKey, remoteIV []byte) {
	t.Helper()
	random := func(n int) []byte {
		b := make([]byte, n)
		_, err := rand.Read(b)
		require.NoError(t, err)

		return b
	}

	return random(keyLen), random(12), random(keyLen), random(12)
}

// pair builds matching sender and receiver transforms: what one seals
// with its local keys the other opens with its remote ones.
func pair(t *testing.T, build func(lk, liv, rk, riv []byte) (Transform, error)) (sender, receiver Transform) {
	t.Helper()
	lk, liv, rk, riv := randomKeys(t, 16)

	sender, err := build(lk, liv, rk, riv)
	require.NoError(t, err)
	receiver, err = build(rk, riv, lk, liv)
	require.NoError(t, err)

	return sender, receiver
}

func protectUnprotect(t *testing.T, sender, receiver Transform) {
	t.Helper()
	plaintext := []byte("record payload under test")
	pre, post := sender.Expansion()

	buf := make([]byte, pre+len(plaintext)+post)
	copy(buf[pre:], plaintext)

	rec := &Record{
		Type:    protocol.ContentTypeApplicationData,
		Version: protocol.VersionDTLS12,
		Epoch:   1,
		Seq:     7,
		Payload: Payload{Buf: buf, DataOffset: pre, DataLen: len(plaintext)},
	}
	require.NoError(t, Encrypt(sender, rec, rand.Reader))
	assert.Zero(t, rec.Payload.DataOffset)
	assert.Equal(t, pre+len(plaintext)+post, rec.Payload.DataLen)

	wire := append([]byte{}, rec.Payload.Data()...)

	in := &Record{
		Type:    rec.Type,
		Version: rec.Version,
		Epoch:   rec.Epoch,
		Seq:     rec.Seq,
		Payload: Payload{Buf: wire, DataLen: len(wire)},
	}
	require.NoError(t, Decrypt(receiver, in))
	assert.Equal(t, plaintext, in.Payload.Data())

	// Flipping any ciphertext byte must fail authentication.
	tampered := append([]byte{}, wire...)
	tampered[len(tampered)/2] ^= 0x40
	in = &Record{
		Type: rec.Type, Version: rec.Version, Epoch: rec.Epoch, Seq: rec.Seq,
		Payload: Payload{Buf: tampered, DataLen: len(tampered)},
	}
	assert.ErrorIs(t, Decrypt(receiver, in), ErrAuthFailed)

	// So must a mismatching sequence number: it feeds the MAC input.
	in = &Record{
		Type: rec.Type, Version: rec.Version, Epoch: rec.Epoch, Seq: rec.Seq + 1,
		Payload: Payload{Buf: append([]byte{}, wire...), DataLen: len(wire)},
	}
	assert.ErrorIs(t, Decrypt(receiver, in), ErrAuthFailed)
}

func TestGCMRoundTrip(t *testing.T) {
	sender, receiver := pair(t, func(lk, liv, rk, riv []byte) (Transform, error) {
		return NewGCM(lk, liv, rk, riv)
	})
	protectUnprotect(t, sender, receiver)
}

func TestChaCha20Poly1305RoundTrip(t *testing.T) {
	sender, receiver := pair(t, func(lk, liv, rk, riv []byte) (Transform, error) {
		lk = append(lk, rk...) // 32-byte keys
		rk = append([]byte{}, lk[16:]...)
		rk = append(rk, lk[:16]...)

		return NewChaCha20Poly1305(lk, liv, rk, riv)
	})
	protectUnprotect(t, sender, receiver)
}

func TestIdentityTransform(t *testing.T) {
	buf := []byte("plain")
	rec := &Record{Payload: Payload{Buf: buf, DataLen: len(buf)}}

	require.NoError(t, Encrypt(nil, rec, rand.Reader))
	assert.Equal(t, []byte("plain"), rec.Payload.Data())
	require.NoError(t, Decrypt(nil, rec))
	assert.Equal(t, []byte("plain"), rec.Payload.Data())

	pre, post := Expansion(nil)
	assert.Zero(t, pre)
	assert.Zero(t, post)
	assert.NoError(t, Close(nil))
}

func TestGCMTooShort(t *testing.T) {
	sender, receiver := pair(t, func(lk, liv, rk, riv []byte) (Transform, error) {
		return NewGCM(lk, liv, rk, riv)
	})
	_ = sender

	in := &Record{Payload: Payload{Buf: make([]byte, 8), DataLen: 8}}
	err := receiver.Decrypt(in)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrAuthFailed)
}
