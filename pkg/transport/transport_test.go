// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package transport

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamFetchAndConsume(t *testing.T) {
	var wire bytes.Buffer
	st := NewStream(&wire)

	_, err := st.Fetch(3)
	assert.ErrorIs(t, err, ErrWantRead)

	wire.WriteString("he")
	_, err = st.Fetch(3)
	assert.ErrorIs(t, err, ErrWantRead)

	wire.WriteString("llo!")
	buf, err := st.Fetch(3)
	require.NoError(t, err)
	assert.Equal(t, []byte("hel"), buf)

	// A larger fetch extends the same span.
	buf, err = st.Fetch(5)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), buf)

	require.NoError(t, st.Consume())

	buf, err = st.Fetch(1)
	require.NoError(t, err)
	assert.Equal(t, []byte("!"), buf)
}

func TestStreamWriteDispatchFlush(t *testing.T) {
	var wire bytes.Buffer
	st := NewStreamSize(&wire, 16)

	buf, err := st.Write(4)
	require.NoError(t, err)
	copy(buf, "abcd")
	require.NoError(t, st.Dispatch(4))
	assert.Equal(t, 4, st.Pending())

	// A second record lands behind the first.
	buf, err = st.Write(2)
	require.NoError(t, err)
	copy(buf, "ef")
	require.NoError(t, st.Dispatch(2))

	_, err = st.Write(16)
	assert.ErrorIs(t, err, ErrWantWrite)

	require.NoError(t, st.Flush())
	assert.Equal(t, "abcdef", wire.String())
	assert.Zero(t, st.Pending())
}

// datagramPipe is a message-boundary io.ReadWriter: every Read pops one
// previously written datagram.
type datagramPipe struct {
	queue [][]byte
}

func (p *datagramPipe) Read(b []byte) (int, error) {
	if len(p.queue) == 0 {
		return 0, io.EOF
	}
	msg := p.queue[0]
	p.queue = p.queue[1:]

	return copy(b, msg), nil
}

func (p *datagramPipe) Write(b []byte) (int, error) {
	p.queue = append(p.queue, append([]byte{}, b...))

	return len(b), nil
}

func TestDatagramBoundaries(t *testing.T) {
	pipe := &datagramPipe{}
	dg := NewDatagram(pipe)

	_, err := dg.Fetch(1)
	assert.ErrorIs(t, err, ErrWantRead)

	_, werr := pipe.Write([]byte("abcdef"))
	require.NoError(t, werr)
	_, werr = pipe.Write([]byte("xyz"))
	require.NoError(t, werr)

	buf, err := dg.Fetch(3)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), buf)

	// Fetches never cross the datagram boundary.
	_, err = dg.Fetch(7)
	assert.ErrorIs(t, err, ErrOutOfBounds)

	require.NoError(t, dg.Consume())
	buf, err = dg.Fetch(3)
	require.NoError(t, err)
	assert.Equal(t, []byte("def"), buf)
	require.NoError(t, dg.Consume())

	// Next fetch moves on to the second datagram.
	buf, err = dg.Fetch(3)
	require.NoError(t, err)
	assert.Equal(t, []byte("xyz"), buf)
}

func TestDatagramSkip(t *testing.T) {
	pipe := &datagramPipe{}
	_, err := pipe.Write([]byte("garbage"))
	require.NoError(t, err)
	_, err = pipe.Write([]byte("good"))
	require.NoError(t, err)

	dg := NewDatagram(pipe)
	_, err = dg.Fetch(2)
	require.NoError(t, err)
	require.NoError(t, dg.Skip())

	buf, err := dg.Fetch(4)
	require.NoError(t, err)
	assert.Equal(t, []byte("good"), buf)
}

func TestDatagramFlushPacksRecords(t *testing.T) {
	pipe := &datagramPipe{}
	dg := NewDatagram(pipe)

	buf, err := dg.Write(4)
	require.NoError(t, err)
	copy(buf, "aaaa")
	require.NoError(t, dg.Dispatch(4))

	buf, err = dg.Write(2)
	require.NoError(t, err)
	copy(buf, "bb")
	require.NoError(t, dg.Dispatch(2))

	require.NoError(t, dg.Flush())
	require.Len(t, pipe.queue, 1)
	assert.Equal(t, []byte("aaaabb"), pipe.queue[0])
}
