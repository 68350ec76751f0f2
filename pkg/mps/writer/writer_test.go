// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package writer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterFillBuffer(t *testing.T) {
	out := make([]byte, 8)
	wr := New(nil)
	require.NoError(t, wr.Feed(out))

	buf, err := wr.Get(3)
	require.NoError(t, err)
	copy(buf, "abc")
	require.NoError(t, wr.Commit())

	buf, err = wr.Get(5)
	require.NoError(t, err)
	copy(buf, "defgh")
	require.NoError(t, wr.Commit())

	written, queued, err := wr.Reclaim(false)
	require.NoError(t, err)
	assert.Equal(t, 8, written)
	assert.Zero(t, queued)
	assert.Equal(t, []byte("abcdefgh"), out)
}

func TestWriterDataLeft(t *testing.T) {
	wr := New(nil)
	require.NoError(t, wr.Feed(make([]byte, 8)))

	buf, err := wr.Get(3)
	require.NoError(t, err)
	copy(buf, "abc")
	require.NoError(t, wr.Commit())

	_, _, err = wr.Reclaim(false)
	assert.ErrorIs(t, err, ErrDataLeft)

	// Forcing reclaims the partially filled buffer.
	written, queued, err := wr.Reclaim(true)
	require.NoError(t, err)
	assert.Equal(t, 3, written)
	assert.Zero(t, queued)
}

func TestWriterNoQueueOutOfSpace(t *testing.T) {
	wr := New(nil)
	require.NoError(t, wr.Feed(make([]byte, 4)))

	_, err := wr.Get(5)
	assert.ErrorIs(t, err, ErrOutOfSpace)

	buf, err := wr.GetUpTo(5)
	require.NoError(t, err)
	assert.Len(t, buf, 4)
}

func TestWriterQueueSpilloverAndDrain(t *testing.T) {
	out := make([]byte, 4)
	wr := New(make([]byte, 16))
	require.NoError(t, wr.Feed(out))

	// The request exceeds the output buffer and is served from the
	// queue; the first 4 committed bytes overlap the buffer and are
	// copied back on commit.
	buf, err := wr.Get(10)
	require.NoError(t, err)
	copy(buf, "0123456789")
	require.NoError(t, wr.Commit())

	written, queued, err := wr.Reclaim(false)
	require.NoError(t, err)
	assert.Equal(t, 4, written)
	assert.Equal(t, 6, queued)
	assert.Equal(t, []byte("0123"), out)

	// Draining: each fed buffer is filled with queued data first.
	next := make([]byte, 4)
	assert.ErrorIs(t, wr.Feed(next), ErrNeedMore)
	assert.Equal(t, []byte("4567"), next)

	last := make([]byte, 4)
	require.NoError(t, wr.Feed(last))
	assert.Equal(t, []byte("89"), last[:2])
	assert.Equal(t, 2, wr.Written())

	written, queued, err = wr.Reclaim(true)
	require.NoError(t, err)
	assert.Equal(t, 2, written)
	assert.Zero(t, queued)
}

func TestWriterCommitPartial(t *testing.T) {
	out := make([]byte, 10)
	wr := New(make([]byte, 8))
	require.NoError(t, wr.Feed(out))

	buf, err := wr.Get(6)
	require.NoError(t, err)
	copy(buf, "abcdef")
	require.NoError(t, wr.Commit())

	// 4 bytes of buffer remain, so the 8-byte request moves to the
	// queue with a 4-byte overlap.
	buf, err = wr.Get(8)
	require.NoError(t, err)
	copy(buf, "ghijklmn")

	require.NoError(t, wr.CommitPartial(3))

	written, queued, err := wr.Reclaim(false)
	require.NoError(t, err)
	assert.Equal(t, 10, written)
	assert.Equal(t, 1, queued)
	assert.Equal(t, []byte("abcdefghij"), out)

	next := make([]byte, 4)
	require.NoError(t, wr.Feed(next))
	assert.Equal(t, byte('k'), next[0])
	assert.Equal(t, 1, wr.Written())
}

func TestWriterRoundTrip(t *testing.T) {
	// The concatenation of reclaimed buffers equals the committed
	// byte stream.
	payload := []byte("the quick brown fox jumps over the lazy dog")
	wr := New(make([]byte, 64))

	out := make([]byte, 8)
	require.NoError(t, wr.Feed(out))

	buf, err := wr.GetUpTo(len(payload))
	require.NoError(t, err)
	copy(buf, payload)
	require.NoError(t, wr.Commit())

	written, queued, err := wr.Reclaim(true)
	require.NoError(t, err)
	got := append([]byte{}, out[:written]...)

	// Drain the queued remainder through further record buffers.
	for queued > 0 {
		out = make([]byte, 8)
		err = wr.Feed(out)
		if errors.Is(err, ErrNeedMore) {
			got = append(got, out...)

			continue
		}
		require.NoError(t, err)

		written, queued, err = wr.Reclaim(true)
		require.NoError(t, err)
		got = append(got, out[:written]...)
	}

	assert.Equal(t, payload, got)
}

func TestWriterUnexpectedOperations(t *testing.T) {
	wr := New(nil)

	_, err := wr.Get(1)
	assert.ErrorIs(t, err, ErrUnexpectedOperation)
	assert.ErrorIs(t, wr.Commit(), ErrUnexpectedOperation)
	_, _, err = wr.Reclaim(false)
	assert.ErrorIs(t, err, ErrUnexpectedOperation)

	require.NoError(t, wr.Feed(make([]byte, 1)))
	assert.ErrorIs(t, wr.Feed(make([]byte, 1)), ErrUnexpectedOperation)
	assert.ErrorIs(t, wr.CommitPartial(1), ErrInvalidArg)
}
